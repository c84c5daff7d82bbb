package inference

import (
	"image"
	"path/filepath"
	"testing"

	"github.com/nvr-ai/go-palm/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSharedLibName(t *testing.T) {
	tests := []struct {
		goos, goarch string
		want         string
		wantErr      bool
	}{
		{"linux", "amd64", "onnxruntime.so", false},
		{"linux", "arm64", "onnxruntime_arm64.so", false},
		{"darwin", "arm64", "onnxruntime_arm64.dylib", false},
		{"darwin", "amd64", "onnxruntime_amd64.dylib", false},
		{"windows", "amd64", "onnxruntime.dll", false},
		{"windows", "386", "", true},
		{"plan9", "amd64", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.goos+"/"+tt.goarch, func(t *testing.T) {
			got, err := sharedLibName(tt.goos, tt.goarch)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewSession_MissingLibrary(t *testing.T) {
	cfg := config.Default()
	cfg.Model.SharedLibraryPath = filepath.Join(t.TempDir(), "missing.so")

	_, err := NewSession(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.so")
}

func TestNewSession_BadChannelOrder(t *testing.T) {
	cfg := config.Default()
	cfg.Model.ChannelOrder = "planar"

	_, err := NewSession(cfg)
	assert.ErrorIs(t, err, ErrInput)
}

func TestSession_ClosedAndZero(t *testing.T) {
	s := &Session{}
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Infer(image.NewRGBA(image.Rect(0, 0, 1, 1)))
	assert.Error(t, err)
}
