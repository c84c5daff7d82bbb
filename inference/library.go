package inference

import (
	"path/filepath"
	"runtime"

	"github.com/pkg/errors"
)

// LibraryDir is where GetSharedLibPath looks for the onnxruntime library.
var LibraryDir = "third_party"

// GetSharedLibPath returns the onnxruntime shared library for this platform.
//
// Returns:
//   - string: The library path under LibraryDir.
//   - error: An error if no library ships for this GOOS and GOARCH.
func GetSharedLibPath() (string, error) {
	name, err := sharedLibName(runtime.GOOS, runtime.GOARCH)
	if err != nil {
		return "", err
	}
	return filepath.Join(LibraryDir, name), nil
}

func sharedLibName(goos, goarch string) (string, error) {
	switch goos {
	case "windows":
		if goarch == "amd64" {
			return "onnxruntime.dll", nil
		}
	case "darwin":
		if goarch == "arm64" {
			return "onnxruntime_arm64.dylib", nil
		}
		if goarch == "amd64" {
			return "onnxruntime_amd64.dylib", nil
		}
	case "linux":
		if goarch == "arm64" {
			return "onnxruntime_arm64.so", nil
		}
		return "onnxruntime.so", nil
	}
	return "", errors.Errorf("no onnxruntime library for %s/%s", goos, goarch)
}
