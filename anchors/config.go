// Package anchors - SSD anchor grid generation for single-shot detectors.
package anchors

import (
	"github.com/pkg/errors"
)

var (
	// ErrInvalidConfig is returned when a Config cannot produce a valid anchor grid.
	ErrInvalidConfig = errors.New("invalid anchor config")
	// ErrCountMismatch is returned when the anchor count differs from the number of
	// rows the network emits.
	ErrCountMismatch = errors.New("anchor count mismatch")
)

// Config describes a multi-scale SSD anchor grid.
//
// Consecutive equal entries in Strides are merged into one logical layer whose
// anchors share a single feature map.
type Config struct {
	// NumLayers is the number of feature map layers. When set it must match len(Strides).
	NumLayers int `json:"num_layers" yaml:"num_layers"`
	// MinScale and MaxScale bound the per-layer scale interpolation.
	MinScale float32 `json:"min_scale" yaml:"min_scale"`
	MaxScale float32 `json:"max_scale" yaml:"max_scale"`
	// InputHeight and InputWidth are the network input resolution in pixels.
	InputHeight int `json:"input_height" yaml:"input_height"`
	InputWidth  int `json:"input_width" yaml:"input_width"`
	// AnchorOffsetX and AnchorOffsetY place the anchor center inside its grid cell.
	AnchorOffsetX float32 `json:"anchor_offset_x" yaml:"anchor_offset_x"`
	AnchorOffsetY float32 `json:"anchor_offset_y" yaml:"anchor_offset_y"`
	// Strides is the downsampling stride of each layer, in layer order.
	Strides []int `json:"strides" yaml:"strides"`
	// AspectRatios are applied to every layer except a reduced lowest layer.
	AspectRatios []float32 `json:"aspect_ratios" yaml:"aspect_ratios"`
	// ReduceBoxesInLowestLayer replaces the first layer's ratios with a fixed
	// three anchor set.
	ReduceBoxesInLowestLayer bool `json:"reduce_boxes_in_lowest_layer" yaml:"reduce_boxes_in_lowest_layer"`
	// InterpolatedScaleAspectRatio adds one anchor per layer at the geometric mean
	// of the current and next scale when greater than zero.
	InterpolatedScaleAspectRatio float32 `json:"interpolated_scale_aspect_ratio" yaml:"interpolated_scale_aspect_ratio"`
	// FixedAnchorSize forces every anchor to w=h=1.
	FixedAnchorSize bool `json:"fixed_anchor_size" yaml:"fixed_anchor_size"`
}

// PalmConfig returns the anchor configuration of the palm detection model
// (128x128 input, 896 anchors).
func PalmConfig() Config {
	return Config{
		NumLayers:                    4,
		MinScale:                     0.1484375,
		MaxScale:                     0.75,
		InputHeight:                  128,
		InputWidth:                   128,
		AnchorOffsetX:                0.5,
		AnchorOffsetY:                0.5,
		Strides:                      []int{8, 16, 16, 16},
		AspectRatios:                 []float32{1.0},
		ReduceBoxesInLowestLayer:     false,
		InterpolatedScaleAspectRatio: 1.0,
		FixedAnchorSize:              true,
	}
}

// Validate reports whether the config can produce an anchor grid.
//
// Returns:
//   - An error wrapping ErrInvalidConfig describing the first problem found.
func (c Config) Validate() error {
	if len(c.Strides) == 0 {
		return errors.Wrap(ErrInvalidConfig, "strides must not be empty")
	}
	for i, s := range c.Strides {
		if s <= 0 {
			return errors.Wrapf(ErrInvalidConfig, "stride %d must be positive, got %d", i, s)
		}
	}
	if c.NumLayers != 0 && c.NumLayers != len(c.Strides) {
		return errors.Wrapf(ErrInvalidConfig, "num_layers %d does not match %d strides", c.NumLayers, len(c.Strides))
	}
	if c.InputWidth <= 0 || c.InputHeight <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "input size must be positive, got %dx%d", c.InputWidth, c.InputHeight)
	}
	if c.MinScale <= 0 || c.MaxScale > 1 || c.MinScale > c.MaxScale {
		return errors.Wrapf(ErrInvalidConfig, "scales must satisfy 0 < min <= max <= 1, got [%g, %g]", c.MinScale, c.MaxScale)
	}
	for i, r := range c.AspectRatios {
		if r <= 0 {
			return errors.Wrapf(ErrInvalidConfig, "aspect ratio %d must be positive, got %g", i, r)
		}
	}

	onlyReduced := c.ReduceBoxesInLowestLayer && len(c.Strides) == 1
	if len(c.AspectRatios) == 0 && c.InterpolatedScaleAspectRatio <= 0 && !onlyReduced {
		return errors.Wrap(ErrInvalidConfig, "aspect_ratios must not be empty")
	}

	return nil
}
