package inference

import (
	"image"
	"strings"

	"github.com/nfnt/resize"
	"github.com/nvr-ai/go-palm/config"
	"github.com/pkg/errors"
)

// ErrInput is returned when an image cannot be written into the input tensor.
var ErrInput = errors.New("invalid model input")

// ChannelOrder is the memory layout of the model input tensor.
type ChannelOrder int

const (
	// CHW stores one plane per channel: [1, 3, H, W].
	CHW ChannelOrder = iota
	// HWC interleaves channels per pixel: [1, H, W, 3].
	HWC
)

func (o ChannelOrder) String() string {
	if o == HWC {
		return config.ChannelOrderHWC
	}
	return config.ChannelOrderCHW
}

// ParseChannelOrder maps a config value to a ChannelOrder. Empty means CHW.
func ParseChannelOrder(s string) (ChannelOrder, error) {
	switch strings.ToLower(s) {
	case "", config.ChannelOrderCHW:
		return CHW, nil
	case config.ChannelOrderHWC:
		return HWC, nil
	}
	return CHW, errors.Wrapf(ErrInput, "unknown channel order %q", s)
}

// PrepareInput resizes img and writes its RGB values scaled to [0, 1] into dst.
//
// Arguments:
//   - img: The frame to prepare, of any size.
//   - width: The model input width.
//   - height: The model input height.
//   - order: The layout of dst.
//   - dst: The input tensor data, at least width*height*3 values long.
//
// Returns:
//   - error: An error if the size is not positive or dst is too small.
func PrepareInput(img image.Image, width, height int, order ChannelOrder, dst []float32) error {
	if width <= 0 || height <= 0 {
		return errors.Wrapf(ErrInput, "input size must be positive, got %dx%d", width, height)
	}
	channelSize := width * height
	if len(dst) < channelSize*3 {
		return errors.Wrapf(ErrInput, "destination tensor only holds %d floats, needs %d",
			len(dst), channelSize*3)
	}

	b := img.Bounds()
	if b.Dx() != width || b.Dy() != height {
		img = resize.Resize(uint(width), uint(height), img, resize.Bilinear)
		b = img.Bounds()
	}

	i := 0
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			rf := float32(r>>8) / 255.0
			gf := float32(g>>8) / 255.0
			bf := float32(bl>>8) / 255.0

			if order == HWC {
				dst[i*3] = rf
				dst[i*3+1] = gf
				dst[i*3+2] = bf
			} else {
				dst[i] = rf
				dst[channelSize+i] = gf
				dst[channelSize*2+i] = bf
			}
			i++
		}
	}
	return nil
}
