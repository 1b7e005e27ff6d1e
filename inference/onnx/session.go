// Package onnx - ONNX Runtime inference engine.
package onnx

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/khactrung2406/Do-An-Tot-Nghiep/inference"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/inference/providers"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/models/model"
)

var (
	envMu   sync.Mutex
	envRefs int
)

// Options configures a Session.
type Options struct {
	// Model describes the network and its static shapes.
	Model model.Config
	// Provider selects the execution provider and threading.
	Provider providers.Config
	// LibraryPath overrides the onnxruntime shared library location.
	LibraryPath string
}

// Session is an inference.Engine backed by an ONNX Runtime session with preallocated tensors.
type Session struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	name    model.Name
}

var _ inference.Engine = (*Session)(nil)

// acquireEnvironment initializes the runtime on first use.
func acquireEnvironment(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if envRefs == 0 && !ort.IsInitialized() {
		path, err := providers.GetSharedLibPath(libPath)
		if err != nil {
			return err
		}
		ort.SetSharedLibraryPath(path)
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("error initializing ORT environment: %w", err)
		}
		log.WithField("library", path).Debug("onnxruntime environment initialized")
	}
	envRefs++
	return nil
}

// releaseEnvironment tears the runtime down once the last session is closed.
func releaseEnvironment() error {
	envMu.Lock()
	defer envMu.Unlock()

	if envRefs == 0 {
		return nil
	}
	envRefs--
	if envRefs == 0 && ort.IsInitialized() {
		return ort.DestroyEnvironment()
	}
	return nil
}

// NewSession loads the model, checks its declared shapes against the configuration and
// allocates the input and output tensors.
//
// Arguments:
//   - opts: The model, provider and library configuration.
//
// Returns:
//   - *Session: The ready session.
//   - error: model.ErrInvalidConfig on a shape mismatch, any runtime error otherwise.
func NewSession(opts Options) (*Session, error) {
	cfg := opts.Model
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Path == "" {
		return nil, errors.Wrap(model.ErrInvalidConfig, "model path is required for the onnx engine")
	}

	if err := acquireEnvironment(opts.LibraryPath); err != nil {
		return nil, err
	}

	s, err := newSession(opts)
	if err != nil {
		_ = releaseEnvironment()
		return nil, err
	}
	return s, nil
}

func newSession(opts Options) (*Session, error) {
	cfg := opts.Model

	inputs, outputs, err := ort.GetInputOutputInfo(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("error reading model io info: %w", err)
	}
	if err := validateIO(cfg, inputs, outputs); err != nil {
		return nil, err
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()

	if err := opts.Provider.Apply(options); err != nil {
		return nil, err
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(cfg.InputShape()...))
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(cfg.OutputShape()...))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("error creating output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		cfg.Path,
		cfg.Inputs,
		cfg.Outputs,
		[]ort.Value{input},
		[]ort.Value{output},
		options,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("error creating session: %w", err)
	}

	log.WithFields(log.Fields{
		"model":   cfg.Name,
		"path":    cfg.Path,
		"backend": opts.Provider.Backend,
		"input":   cfg.InputShape(),
		"output":  cfg.OutputShape(),
	}).Info("onnx session created")

	return &Session{session: session, input: input, output: output, name: cfg.Name}, nil
}

// Infer copies input into the session tensor, runs the network and returns a copy of the output.
func (s *Session) Infer(ctx context.Context, input []float32) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.session == nil {
		return nil, inference.Failure(nil, "session is closed")
	}

	dst := s.input.GetData()
	if len(input) != len(dst) {
		return nil, inference.Failure(nil, fmt.Sprintf("input has %d values, %s expects %d", len(input), s.name, len(dst)))
	}
	copy(dst, input)

	if err := s.session.Run(); err != nil {
		return nil, inference.Failure(err, "onnx run")
	}

	return append([]float32(nil), s.output.GetData()...), nil
}

// Close releases the resources associated with the Session.
func (s *Session) Close() error {
	if s.session == nil {
		return nil
	}

	var first error
	for _, destroy := range []func() error{s.session.Destroy, s.input.Destroy, s.output.Destroy} {
		if err := destroy(); err != nil && first == nil {
			first = err
		}
	}
	s.session, s.input, s.output = nil, nil, nil

	if err := releaseEnvironment(); err != nil && first == nil {
		first = err
	}
	return first
}

// validateIO checks the declared model inputs and outputs against the configuration. Dynamic
// dimensions (negative values) are accepted as they are.
func validateIO(cfg model.Config, inputs, outputs []ort.InputOutputInfo) error {
	if err := checkTensor("input", cfg.Inputs, cfg.InputShape(), inputs); err != nil {
		return err
	}
	return checkTensor("output", cfg.Outputs, cfg.OutputShape(), outputs)
}

func checkTensor(kind string, names []string, want []int64, infos []ort.InputOutputInfo) error {
	if len(names) != 1 {
		return errors.Wrapf(model.ErrInvalidConfig, "expected exactly one %s name, got %v", kind, names)
	}

	for _, info := range infos {
		if info.Name != names[0] {
			continue
		}
		if info.DataType != ort.TensorElementDataTypeFloat {
			return errors.Wrapf(model.ErrInvalidConfig, "%s %q is not float32", kind, info.Name)
		}
		if !shapeMatches(info.Dimensions, want) {
			return errors.Wrapf(model.ErrInvalidConfig, "%s %q has shape %v, configuration expects %v",
				kind, info.Name, info.Dimensions, want)
		}
		return nil
	}

	declared := make([]string, 0, len(infos))
	for _, info := range infos {
		declared = append(declared, info.Name)
	}
	return errors.Wrapf(model.ErrInvalidConfig, "model has no %s named %q (declared %v)", kind, names[0], declared)
}

func shapeMatches(got ort.Shape, want []int64) bool {
	if len(got) != len(want) {
		return false
	}
	for i, d := range got {
		if d >= 0 && d != want[i] {
			return false
		}
	}
	return true
}
