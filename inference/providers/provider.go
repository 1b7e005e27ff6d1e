// Package providers - ONNX Runtime execution provider selection.
package providers

import (
	"fmt"
	"strings"

	ort "github.com/yalue/onnxruntime_go"
)

// ProviderBackend represents different ONNX Runtime execution providers
type ProviderBackend string

const (
	// CPUProviderBackend uses the default ONNX Runtime CPU kernels.
	CPUProviderBackend ProviderBackend = "cpu"
	// CUDAProviderBackend uses NVIDIA CUDA for GPU acceleration.
	CUDAProviderBackend ProviderBackend = "cuda"
	// CoreMLProviderBackend uses Apple CoreML for macOS/iOS acceleration.
	CoreMLProviderBackend ProviderBackend = "coreml"
	// OpenVINOProviderBackend uses Intel OpenVINO for inference optimization.
	OpenVINOProviderBackend ProviderBackend = "openvino"
)

// Backends lists every supported backend.
var Backends = []ProviderBackend{
	CPUProviderBackend,
	CUDAProviderBackend,
	CoreMLProviderBackend,
	OpenVINOProviderBackend,
}

// GraphOptimization names an ONNX Runtime graph optimization level.
type GraphOptimization string

// Graph optimization levels.
const (
	GraphOptimizationDisabled GraphOptimization = "disabled"
	GraphOptimizationBasic    GraphOptimization = "basic"
	GraphOptimizationExtended GraphOptimization = "extended"
	GraphOptimizationAll      GraphOptimization = "all"
)

var graphOptimizationLevels = map[GraphOptimization]ort.GraphOptimizationLevel{
	GraphOptimizationDisabled: ort.GraphOptimizationLevelDisableAll,
	GraphOptimizationBasic:    ort.GraphOptimizationLevelEnableBasic,
	GraphOptimizationExtended: ort.GraphOptimizationLevelEnableExtended,
	GraphOptimizationAll:      ort.GraphOptimizationLevelEnableAll,
}

// Config selects the execution provider and the session-wide threading options.
//
// The backend is treated as a black box: the detection pipeline produces identical tensors
// whatever is chosen here.
type Config struct {
	// Backend specifies the backend to use
	Backend ProviderBackend `json:"backend" yaml:"backend"`
	// IntraOpNumThreads sets threads for parallelizing ops. 0 lets the runtime decide.
	IntraOpNumThreads int `json:"intra_op_num_threads" yaml:"intra_op_num_threads"`
	// InterOpNumThreads sets threads for parallelizing independent ops. 0 lets the runtime decide.
	InterOpNumThreads int `json:"inter_op_num_threads" yaml:"inter_op_num_threads"`
	// ParallelExecution runs independent graph branches concurrently.
	ParallelExecution bool `json:"parallel_execution" yaml:"parallel_execution"`
	// GraphOptimization controls the level of graph optimization, "extended" when empty.
	GraphOptimization GraphOptimization `json:"graph_optimization" yaml:"graph_optimization"`

	CUDA     CUDAOptions     `json:"cuda" yaml:"cuda"`
	CoreML   CoreMLOptions   `json:"coreml" yaml:"coreml"`
	OpenVINO OpenVINOOptions `json:"openvino" yaml:"openvino"`
}

// ParseBackend normalizes a backend name.
func ParseBackend(s string) (ProviderBackend, error) {
	b := ProviderBackend(strings.ToLower(strings.TrimSpace(s)))
	if b == "" {
		return CPUProviderBackend, nil
	}
	for _, known := range Backends {
		if b == known {
			return b, nil
		}
	}
	return "", fmt.Errorf("no matching provider backend registered: %s", s)
}

// Validate checks the configuration without touching the native runtime.
func (c Config) Validate() error {
	if _, err := ParseBackend(string(c.Backend)); err != nil {
		return err
	}
	if c.IntraOpNumThreads < 0 || c.InterOpNumThreads < 0 {
		return fmt.Errorf("thread counts must not be negative, got intra=%d inter=%d",
			c.IntraOpNumThreads, c.InterOpNumThreads)
	}
	if c.GraphOptimization != "" {
		if _, ok := graphOptimizationLevels[c.GraphOptimization]; !ok {
			return fmt.Errorf("unknown graph optimization level %q", c.GraphOptimization)
		}
	}
	return nil
}

// Apply configures ONNX Runtime session options: threading, graph optimization and the
// execution provider for the selected backend.
//
// Arguments:
//   - options: Session options created by ort.NewSessionOptions.
//
// Returns:
//   - error: An error if any option is rejected by the runtime.
func (c Config) Apply(options *ort.SessionOptions) error {
	if err := c.Validate(); err != nil {
		return err
	}

	// Intra-op threads parallelize work inside a node, inter-op threads run independent nodes.
	if err := options.SetIntraOpNumThreads(c.IntraOpNumThreads); err != nil {
		return fmt.Errorf("error setting intra-op threads: %w", err)
	}
	if err := options.SetInterOpNumThreads(c.InterOpNumThreads); err != nil {
		return fmt.Errorf("error setting inter-op threads: %w", err)
	}

	var mode ort.ExecutionMode = ort.ExecutionModeSequential
	if c.ParallelExecution {
		mode = ort.ExecutionModeParallel
	}
	if err := options.SetExecutionMode(mode); err != nil {
		return fmt.Errorf("error setting execution mode: %w", err)
	}

	level, ok := graphOptimizationLevels[c.GraphOptimization]
	if !ok {
		level = ort.GraphOptimizationLevelEnableExtended
	}
	if err := options.SetGraphOptimizationLevel(level); err != nil {
		return fmt.Errorf("error setting graph optimization level: %w", err)
	}

	backend, _ := ParseBackend(string(c.Backend))
	switch backend {
	case CUDAProviderBackend:
		cuda, err := c.CUDA.ToNativeProviderOptions()
		if err != nil {
			return fmt.Errorf("error converting CUDA options: %w", err)
		}
		defer cuda.Destroy()
		if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
			return fmt.Errorf("error enabling CUDA: %w", err)
		}
	case CoreMLProviderBackend:
		if err := options.AppendExecutionProviderCoreML(c.CoreML.Flags()); err != nil {
			return fmt.Errorf("error enabling CoreML: %w", err)
		}
	case OpenVINOProviderBackend:
		if err := options.AppendExecutionProviderOpenVINO(c.OpenVINO.ProviderOptions()); err != nil {
			return fmt.Errorf("error enabling OpenVINO: %w", err)
		}
	}

	return nil
}
