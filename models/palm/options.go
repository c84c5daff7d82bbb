// Package palm - decodes palm detector tensors into hand regions.
package palm

import (
	"github.com/pkg/errors"
)

var (
	// ErrConfig is returned for decoder settings that can never decode correctly.
	ErrConfig = errors.New("invalid decoder config")
	// ErrShapeMismatch is returned when raw tensors do not match the anchor list.
	// It is distinct from an empty result, which means no palm was found.
	ErrShapeMismatch = errors.New("tensor shape mismatch")
)

const (
	// DefaultNumBoxes is the number of anchors of the palm model.
	DefaultNumBoxes = 896
	// DefaultNumKeypoints is the number of palm keypoints (wrist, four finger
	// joints, a point between them and the thumb joint).
	DefaultNumKeypoints = 7
	// DefaultInputSize is the palm model input width and height in pixels.
	DefaultInputSize = 128
)

// Options mirrors the tensors-to-detections settings of the palm model graph.
type Options struct {
	// NumBoxes is the number of regression rows, one per anchor.
	NumBoxes int `json:"num_boxes" yaml:"num_boxes"`
	// NumCoords is the width of each regression row.
	NumCoords int `json:"num_coords" yaml:"num_coords"`
	// BoxCoordOffset is the slot of the first box value in a row.
	BoxCoordOffset int `json:"box_coord_offset" yaml:"box_coord_offset"`
	// KeypointCoordOffset is the slot of the first keypoint value in a row.
	KeypointCoordOffset int `json:"keypoint_coord_offset" yaml:"keypoint_coord_offset"`
	// NumKeypoints is the number of keypoints per row.
	NumKeypoints int `json:"num_keypoints" yaml:"num_keypoints"`
	// NumValuesPerKeypoint is the stride between keypoints; the first two are x and y.
	NumValuesPerKeypoint int `json:"num_values_per_keypoint" yaml:"num_values_per_keypoint"`
	// SigmoidScore applies a sigmoid to the raw classification value.
	SigmoidScore bool `json:"sigmoid_score" yaml:"sigmoid_score"`
	// ScoreClippingThresh clips raw logits to [-t, t] before the sigmoid when > 0.
	ScoreClippingThresh float32 `json:"score_clipping_thresh" yaml:"score_clipping_thresh"`
	// ReverseOutputOrder reads boxes as (x, y, w, h) and keypoints as (x, y).
	// When false they are read as (y, x, h, w) and (y, x).
	ReverseOutputOrder bool `json:"reverse_output_order" yaml:"reverse_output_order"`
	// XScale, YScale, WScale, HScale divide the raw offsets; normally the input size.
	XScale float32 `json:"x_scale" yaml:"x_scale"`
	YScale float32 `json:"y_scale" yaml:"y_scale"`
	WScale float32 `json:"w_scale" yaml:"w_scale"`
	HScale float32 `json:"h_scale" yaml:"h_scale"`
	// MinScoreThresh drops regions whose score is not strictly greater.
	MinScoreThresh float32 `json:"min_score_thresh" yaml:"min_score_thresh"`
}

// DefaultOptions returns the palm model settings: 896 boxes of 18 coordinates,
// 7 keypoints, sigmoid scores clipped at 100, scales of 128 and a 0.5 threshold.
func DefaultOptions() Options {
	return Options{
		NumBoxes:             DefaultNumBoxes,
		NumCoords:            4 + 2*DefaultNumKeypoints,
		BoxCoordOffset:       0,
		KeypointCoordOffset:  4,
		NumKeypoints:         DefaultNumKeypoints,
		NumValuesPerKeypoint: 2,
		SigmoidScore:         true,
		ScoreClippingThresh:  100,
		ReverseOutputOrder:   true,
		XScale:               DefaultInputSize,
		YScale:               DefaultInputSize,
		WScale:               DefaultInputSize,
		HScale:               DefaultInputSize,
		MinScoreThresh:       0.5,
	}
}

// Validate checks that the options describe a decodable row layout.
func (o Options) Validate() error {
	if o.NumBoxes <= 0 {
		return errors.Wrapf(ErrConfig, "num_boxes must be positive, got %d", o.NumBoxes)
	}
	if o.BoxCoordOffset < 0 || o.BoxCoordOffset+4 > o.NumCoords {
		return errors.Wrapf(ErrConfig, "box coords [%d, %d) do not fit in %d coords",
			o.BoxCoordOffset, o.BoxCoordOffset+4, o.NumCoords)
	}
	if o.NumKeypoints < 0 {
		return errors.Wrapf(ErrConfig, "num_keypoints must not be negative, got %d", o.NumKeypoints)
	}
	if o.NumKeypoints > 0 {
		if o.NumValuesPerKeypoint < 2 {
			return errors.Wrapf(ErrConfig, "num_values_per_keypoint must be at least 2, got %d", o.NumValuesPerKeypoint)
		}
		end := o.KeypointCoordOffset + o.NumKeypoints*o.NumValuesPerKeypoint
		if o.KeypointCoordOffset < 0 || end > o.NumCoords {
			return errors.Wrapf(ErrConfig, "keypoint coords [%d, %d) do not fit in %d coords",
				o.KeypointCoordOffset, end, o.NumCoords)
		}
	}
	if o.XScale <= 0 || o.YScale <= 0 || o.WScale <= 0 || o.HScale <= 0 {
		return errors.Wrapf(ErrConfig, "scales must be positive, got x=%g y=%g w=%g h=%g",
			o.XScale, o.YScale, o.WScale, o.HScale)
	}
	if o.ScoreClippingThresh < 0 {
		return errors.Wrapf(ErrConfig, "score_clipping_thresh must not be negative, got %g", o.ScoreClippingThresh)
	}
	if err := checkThreshold(o.MinScoreThresh); err != nil {
		return err
	}
	return nil
}

func checkThreshold(t float32) error {
	if t < 0 || t > 1 {
		return errors.Wrapf(ErrConfig, "score threshold must be within [0, 1], got %g", t)
	}
	return nil
}
