package anchors

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
)

// Anchor is a reference box in normalized [0,1] coordinates.
type Anchor struct {
	XCenter float32 `json:"x_center" yaml:"x_center"`
	YCenter float32 `json:"y_center" yaml:"y_center"`
	W       float32 `json:"w" yaml:"w"`
	H       float32 `json:"h" yaml:"h"`
}

// size is the width and height of one anchor slot in a grid cell.
type size struct {
	w, h float32
}

// layer is one logical layer: a run of equal strides sharing a feature map.
type layer struct {
	stride int
	rows   int
	cols   int
	sizes  []size
}

// Generate builds the anchor list for cfg.
//
// Anchors are emitted per logical layer, then grid row, then grid column, then
// anchor slot within the cell. Row i of the network's regression output refers to
// anchor i of this list.
//
// Arguments:
//   - cfg: The anchor grid configuration.
//
// Returns:
//   - The ordered anchor list.
//   - An error wrapping ErrInvalidConfig if cfg is malformed.
func Generate(cfg Config) ([]Anchor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	layers := cfg.layers()
	out := make([]Anchor, 0, countLayers(layers))

	for _, l := range layers {
		for y := 0; y < l.rows; y++ {
			yCenter := (float32(y) + cfg.AnchorOffsetY) / float32(l.rows)
			for x := 0; x < l.cols; x++ {
				xCenter := (float32(x) + cfg.AnchorOffsetX) / float32(l.cols)
				for _, s := range l.sizes {
					a := Anchor{XCenter: xCenter, YCenter: yCenter, W: s.w, H: s.h}
					if cfg.FixedAnchorSize {
						a.W, a.H = 1, 1
					}
					out = append(out, a)
				}
			}
		}
	}

	return out, nil
}

// MustGenerate is like Generate but panics if cfg is invalid.
func MustGenerate(cfg Config) []Anchor {
	out, err := Generate(cfg)
	if err != nil {
		panic(err)
	}
	return out
}

// Count returns the number of anchors Generate would produce for cfg.
func Count(cfg Config) (int, error) {
	if err := cfg.Validate(); err != nil {
		return 0, err
	}
	return countLayers(cfg.layers()), nil
}

// Expect checks that list holds exactly n anchors.
func Expect(list []Anchor, n int) error {
	if len(list) != n {
		return errors.Wrapf(ErrCountMismatch, "generated %d anchors, network emits %d rows", len(list), n)
	}
	return nil
}

func countLayers(layers []layer) int {
	n := 0
	for _, l := range layers {
		n += l.rows * l.cols * len(l.sizes)
	}
	return n
}

// layers groups the strides into logical layers and computes the anchor sizes of
// each one. cfg must already be validated.
func (c Config) layers() []layer {
	numStrides := len(c.Strides)
	var layers []layer

	for first := 0; first < numStrides; {
		stride := c.Strides[first]
		var ratios, scales []float32

		last := first
		for ; last < numStrides && c.Strides[last] == stride; last++ {
			scale := calculateScale(c.MinScale, c.MaxScale, last, numStrides)
			if last == 0 && c.ReduceBoxesInLowestLayer {
				ratios = append(ratios, 1.0, 2.0, 0.5)
				scales = append(scales, 0.1, scale, scale)
				continue
			}

			for _, r := range c.AspectRatios {
				ratios = append(ratios, r)
				scales = append(scales, scale)
			}
			if c.InterpolatedScaleAspectRatio > 0 {
				next := float32(1.0)
				if last < numStrides-1 {
					next = calculateScale(c.MinScale, c.MaxScale, last+1, numStrides)
				}
				ratios = append(ratios, c.InterpolatedScaleAspectRatio)
				scales = append(scales, math32.Sqrt(scale*next))
			}
		}

		sizes := make([]size, len(ratios))
		for i, r := range ratios {
			sq := math32.Sqrt(r)
			sizes[i] = size{w: scales[i] * sq, h: scales[i] / sq}
		}

		layers = append(layers, layer{
			stride: stride,
			rows:   ceilDiv(c.InputHeight, stride),
			cols:   ceilDiv(c.InputWidth, stride),
			sizes:  sizes,
		})
		first = last
	}

	return layers
}

// calculateScale linearly interpolates the scale of stride index i.
func calculateScale(minScale, maxScale float32, i, numStrides int) float32 {
	if numStrides == 1 {
		return (minScale + maxScale) / 2
	}
	return minScale + (maxScale-minScale)*float32(i)/float32(numStrides-1)
}

func ceilDiv(n, d int) int {
	return (n + d - 1) / d
}
