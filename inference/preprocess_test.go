package inference

import (
	"image"
	"image/color"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// quad returns a 2x2 image with red, green, blue and white pixels in reading order.
func quad() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	img.Set(1, 0, color.RGBA{G: 255, A: 255})
	img.Set(0, 1, color.RGBA{B: 255, A: 255})
	img.Set(1, 1, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	return img
}

func TestPrepareInput_CHW(t *testing.T) {
	dst := make([]float32, 12)
	require.NoError(t, PrepareInput(quad(), 2, 2, CHW, dst))

	assert.Equal(t, []float32{
		1, 0, 0, 1, // red plane
		0, 1, 0, 1, // green plane
		0, 0, 1, 1, // blue plane
	}, dst)
}

func TestPrepareInput_HWC(t *testing.T) {
	dst := make([]float32, 12)
	require.NoError(t, PrepareInput(quad(), 2, 2, HWC, dst))

	assert.Equal(t, []float32{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
		1, 1, 1,
	}, dst)
}

func TestPrepareInput_SubImageOrigin(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	sub := img.SubImage(image.Rect(2, 2, 4, 4)).(*image.RGBA)
	sub.Set(2, 2, color.RGBA{R: 255, A: 255})

	dst := make([]float32, 12)
	require.NoError(t, PrepareInput(sub, 2, 2, CHW, dst))
	assert.Equal(t, float32(1), dst[0])
	assert.Equal(t, float32(0), dst[1])
}

func TestPrepareInput_Resize(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 16, 8))
	gray := color.RGBA{R: 102, G: 102, B: 102, A: 255}
	for y := 0; y < 8; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, gray)
		}
	}

	dst := make([]float32, 4*4*3)
	require.NoError(t, PrepareInput(img, 4, 4, CHW, dst))
	for i, v := range dst {
		assert.InDelta(t, 0.4, v, 2.0/255, "value %d", i)
	}
}

func TestPrepareInput_Errors(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		dst           int
	}{
		{"destination too small", 2, 2, 11},
		{"zero width", 0, 2, 12},
		{"negative height", 2, -1, 12},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := PrepareInput(quad(), tt.width, tt.height, CHW, make([]float32, tt.dst))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInput))
		})
	}
}

func TestParseChannelOrder(t *testing.T) {
	tests := []struct {
		in      string
		want    ChannelOrder
		wantErr bool
	}{
		{"", CHW, false},
		{"chw", CHW, false},
		{"HWC", HWC, false},
		{"nchw", CHW, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseChannelOrder(tt.in)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInput))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, mustParse(t, got.String()))
		})
	}
}

func mustParse(t *testing.T, s string) ChannelOrder {
	t.Helper()
	o, err := ParseChannelOrder(s)
	require.NoError(t, err)
	return o
}

func BenchmarkPrepareInput(b *testing.B) {
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	dst := make([]float32, 128*128*3)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := PrepareInput(img, 128, 128, CHW, dst); err != nil {
			b.Fatal(err)
		}
	}
}
