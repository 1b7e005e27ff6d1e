package providers

import (
	"strconv"

	ort "github.com/yalue/onnxruntime_go"
)

// CUDAOptions contains arguments for the CUDA provider.
// See:
// https://onnxruntime.ai/docs/execution-providers/CUDA-ExecutionProvider.html#configuration-options
type CUDAOptions struct {
	// The device ID.
	DeviceID int `json:"device_id" yaml:"device_id"`
	// The size limit of the device memory arena in bytes. 0 leaves the runtime default.
	GPUMemLimit int64 `json:"gpu_mem_limit" yaml:"gpu_mem_limit"`
	// The strategy for extending the device memory arena.
	// 0: kNextPowerOfTwo, 1: kSameAsRequested
	ArenaExtendStrategy int `json:"arena_extend_strategy" yaml:"arena_extend_strategy"`
	// The type of search done for cuDNN convolution algorithms.
	// 0: EXHAUSTIVE, 1: HEURISTIC, 2: DEFAULT
	CudnnConvAlgoSearch int `json:"cudnn_conv_algo_search" yaml:"cudnn_conv_algo_search"`
	// Whether to do copies in the default stream or use separate streams.
	DoCopyInDefaultStream bool `json:"do_copy_in_default_stream" yaml:"do_copy_in_default_stream"`
	// TF32 math mode on Ampere and later GPUs.
	UseTF32 bool `json:"use_tf32" yaml:"use_tf32"`
}

// ProviderOptions returns the options in the key/value form the runtime expects.
func (o CUDAOptions) ProviderOptions() map[string]string {
	opts := map[string]string{
		"device_id":                 strconv.Itoa(o.DeviceID),
		"arena_extend_strategy":     arenaStrategies[o.ArenaExtendStrategy],
		"cudnn_conv_algo_search":    convAlgoSearch[o.CudnnConvAlgoSearch],
		"do_copy_in_default_stream": boolFlag(o.DoCopyInDefaultStream),
		"use_tf32":                  boolFlag(o.UseTF32),
	}
	if o.GPUMemLimit > 0 {
		opts["gpu_mem_limit"] = strconv.FormatInt(o.GPUMemLimit, 10)
	}
	for k, v := range opts {
		if v == "" {
			delete(opts, k)
		}
	}
	return opts
}

// ToNativeProviderOptions converts the CUDA options to a CUDA provider options.
// The caller destroys the result once it has been appended to a session.
func (o CUDAOptions) ToNativeProviderOptions() (*ort.CUDAProviderOptions, error) {
	opts, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return nil, err
	}

	if err := opts.Update(o.ProviderOptions()); err != nil {
		opts.Destroy()
		return nil, err
	}
	return opts, nil
}

var arenaStrategies = map[int]string{
	0: "kNextPowerOfTwo",
	1: "kSameAsRequested",
}

var convAlgoSearch = map[int]string{
	0: "EXHAUSTIVE",
	1: "HEURISTIC",
	2: "DEFAULT",
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
