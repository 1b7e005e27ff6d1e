package providers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBackend(t *testing.T) {
	tests := []struct {
		in      string
		want    ProviderBackend
		wantErr bool
	}{
		{"", CPUProviderBackend, false},
		{"cpu", CPUProviderBackend, false},
		{" CUDA ", CUDAProviderBackend, false},
		{"CoreML", CoreMLProviderBackend, false},
		{"openvino", OpenVINOProviderBackend, false},
		{"tensorrt", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBackend(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, Config{}.Validate())
	assert.NoError(t, Config{Backend: CUDAProviderBackend, IntraOpNumThreads: 4, GraphOptimization: GraphOptimizationAll}.Validate())
	assert.Error(t, Config{Backend: "tpu"}.Validate())
	assert.Error(t, Config{IntraOpNumThreads: -1}.Validate())
	assert.Error(t, Config{GraphOptimization: "max"}.Validate())
}

func TestCoreMLOptions_Flags(t *testing.T) {
	assert.Equal(t, uint32(0), CoreMLOptions{}.Flags())
	assert.Equal(t, uint32(0x001), CoreMLOptions{CPUOnly: true}.Flags())
	assert.Equal(t, uint32(0x014), CoreMLOptions{RequireANE: true, MLProgram: true}.Flags())
	assert.Equal(t, uint32(0x01f), CoreMLOptions{
		CPUOnly: true, EnableOnSubgraphs: true, RequireANE: true, RequireStaticInputShapes: true, MLProgram: true,
	}.Flags())
}

func TestCUDAOptions_ProviderOptions(t *testing.T) {
	opts := CUDAOptions{DeviceID: 1, GPUMemLimit: 2 << 30, CudnnConvAlgoSearch: 1, UseTF32: true}.ProviderOptions()
	assert.Equal(t, "1", opts["device_id"])
	assert.Equal(t, "2147483648", opts["gpu_mem_limit"])
	assert.Equal(t, "kNextPowerOfTwo", opts["arena_extend_strategy"])
	assert.Equal(t, "HEURISTIC", opts["cudnn_conv_algo_search"])
	assert.Equal(t, "0", opts["do_copy_in_default_stream"])
	assert.Equal(t, "1", opts["use_tf32"])

	opts = CUDAOptions{ArenaExtendStrategy: 9}.ProviderOptions()
	assert.NotContains(t, opts, "arena_extend_strategy", "Unknown strategies are left to the runtime")
	assert.NotContains(t, opts, "gpu_mem_limit")
}

func TestOpenVINOOptions_ProviderOptions(t *testing.T) {
	assert.Empty(t, OpenVINOOptions{}.ProviderOptions())
	assert.Equal(t, map[string]string{
		"device_type":    "GPU",
		"precision":      "FP16",
		"num_of_threads": "8",
	}, OpenVINOOptions{DeviceType: "GPU", Precision: "FP16", NumOfThreads: 8}.ProviderOptions())
}

func TestGetSharedLibPath(t *testing.T) {
	lib := filepath.Join(t.TempDir(), "libonnxruntime.so")
	require.NoError(t, os.WriteFile(lib, []byte{0}, 0o644))

	path, err := GetSharedLibPath(lib)
	require.NoError(t, err)
	assert.Equal(t, lib, path)

	t.Setenv(SharedLibraryEnv, lib)
	path, err = GetSharedLibPath("")
	require.NoError(t, err)
	assert.Equal(t, lib, path, "Environment override is used when no path is configured")

	_, err = GetSharedLibPath(filepath.Join(t.TempDir(), "missing.so"))
	assert.Error(t, err)
}

func TestDefaultSharedLibPath(t *testing.T) {
	p, err := defaultSharedLibPath("linux", "amd64")
	require.NoError(t, err)
	assert.Equal(t, "./third_party/onnxruntime.so", p)

	p, err = defaultSharedLibPath("linux", "arm64")
	require.NoError(t, err)
	assert.Equal(t, "./third_party/onnxruntime_arm64.so", p)

	_, err = defaultSharedLibPath("plan9", "386")
	assert.Error(t, err)
}
