package providers

import (
	"fmt"
	"os"
	"runtime"
)

// SharedLibraryEnv names the environment variable that overrides the runtime library location.
const SharedLibraryEnv = "ONNXRUNTIME_SHARED_LIBRARY_PATH"

// GetSharedLibPath returns the path to the onnxruntime shared library for the current platform.
//
// An explicit path wins, then the ONNXRUNTIME_SHARED_LIBRARY_PATH variable, then the bundled
// third_party location for the platform.
//
// Arguments:
//   - explicit: A configured path, may be empty.
//
// Returns:
//   - string: The path to the shared library.
//   - error: An error if the platform is unsupported or the file does not exist.
func GetSharedLibPath(explicit string) (string, error) {
	path := explicit
	if path == "" {
		path = os.Getenv(SharedLibraryEnv)
	}
	if path == "" {
		var err error
		if path, err = defaultSharedLibPath(runtime.GOOS, runtime.GOARCH); err != nil {
			return "", err
		}
	}

	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("ONNX Runtime library not found at %s: %w", path, err)
	}
	return path, nil
}

func defaultSharedLibPath(goos, goarch string) (string, error) {
	switch {
	case goos == "windows" && goarch == "amd64":
		return "./third_party/onnxruntime.dll", nil
	case goos == "darwin" && goarch == "arm64":
		return "./third_party/onnxruntime_arm64.dylib", nil
	case goos == "darwin" && goarch == "amd64":
		return "./third_party/onnxruntime_amd64.dylib", nil
	case goos == "linux" && goarch == "arm64":
		return "./third_party/onnxruntime_arm64.so", nil
	case goos == "linux":
		return "./third_party/onnxruntime.so", nil
	}
	return "", fmt.Errorf("unable to find a version of the onnxruntime library supporting %s/%s", goos, goarch)
}
