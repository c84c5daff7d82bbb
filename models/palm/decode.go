package palm

import (
	"math"

	"github.com/chewxy/math32"
	"github.com/nvr-ai/go-palm/anchors"
	"github.com/nvr-ai/go-palm/models/postprocess"
	"github.com/pkg/errors"
)

// maxScore is the largest float32 below 1. Sigmoid saturates to exactly 1 in
// float32 for logits above ~17, and scores must stay inside (0,1).
var maxScore = math.Nextafter32(1, 0)

// Sigmoid maps a logit to (0,1).
func Sigmoid(x float32) float32 {
	return 1 / (1 + math32.Exp(-x))
}

// Decoder turns raw tensors into candidate regions against a fixed anchor list.
// It is safe for concurrent use.
type Decoder struct {
	opts    Options
	anchors []anchors.Anchor
}

// NewDecoder creates a decoder for list.
//
// Arguments:
//   - opts: Row layout and score settings.
//   - list: Anchors from anchors.Generate. The decoder keeps the slice; it must
//     not be modified afterwards.
//
// Returns:
//   - The decoder.
//   - An error wrapping ErrConfig for bad options, or anchors.ErrCountMismatch
//     when len(list) differs from opts.NumBoxes.
func NewDecoder(opts Options, list []anchors.Anchor) (*Decoder, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := anchors.Expect(list, opts.NumBoxes); err != nil {
		return nil, errors.Wrap(err, "decoder")
	}
	return &Decoder{opts: opts, anchors: list}, nil
}

// Options returns the decoder settings.
func (d *Decoder) Options() Options {
	return d.opts
}

// Decode returns every anchor whose score is strictly above MinScoreThresh, in
// anchor order.
func (d *Decoder) Decode(t *Tensors) ([]postprocess.Region, error) {
	if t == nil {
		return nil, errors.Wrap(ErrShapeMismatch, "nil tensors")
	}
	n := len(d.anchors)
	if len(t.Scores) != n {
		return nil, errors.Wrapf(ErrShapeMismatch, "%d scores for %d anchors", len(t.Scores), n)
	}
	if t.Rows() != n || t.Cols() != d.opts.NumCoords {
		return nil, errors.Wrapf(ErrShapeMismatch, "regressors %v, want [%d %d]",
			shapeOf(t), n, d.opts.NumCoords)
	}

	return decode(d.opts, d.anchors, t.Scores, t.row), nil
}

// Decode decodes palm tensors with the reference row layout: box offsets
// (sx, sy, w, h) in slots 0..3 followed by (x, y) pairs, one per keypoint.
//
// Arguments:
//   - scoreThreshold: Regions need a score strictly greater than this.
//   - inputWidth, inputHeight: Network input size used to normalize offsets.
//   - rawScores: Classification logits, one per anchor.
//   - rawBoxOffsets: Regression rows, one per anchor, all of width 4 + 2k.
//   - list: The anchors the network was trained with.
//
// Returns:
//   - The regions in anchor order. An empty slice means nothing was found.
//   - An error wrapping ErrShapeMismatch when the inputs disagree with list, or
//     ErrConfig for a bad threshold or input size.
func Decode(
	scoreThreshold float32,
	inputWidth, inputHeight int,
	rawScores []float32,
	rawBoxOffsets [][]float32,
	list []anchors.Anchor,
) ([]postprocess.Region, error) {
	if err := checkThreshold(scoreThreshold); err != nil {
		return nil, err
	}
	if inputWidth <= 0 || inputHeight <= 0 {
		return nil, errors.Wrapf(ErrConfig, "input size must be positive, got %dx%d", inputWidth, inputHeight)
	}
	if len(rawScores) != len(list) {
		return nil, errors.Wrapf(ErrShapeMismatch, "%d scores for %d anchors", len(rawScores), len(list))
	}
	if len(rawBoxOffsets) != len(list) {
		return nil, errors.Wrapf(ErrShapeMismatch, "%d regression rows for %d anchors", len(rawBoxOffsets), len(list))
	}

	cols := 4
	if len(rawBoxOffsets) > 0 {
		cols = len(rawBoxOffsets[0])
	}
	if cols < 4 || (cols-4)%2 != 0 {
		return nil, errors.Wrapf(ErrShapeMismatch, "row width %d is not 4 + 2 * keypoints", cols)
	}
	for i, row := range rawBoxOffsets {
		if len(row) != cols {
			return nil, errors.Wrapf(ErrShapeMismatch, "row %d has %d values, want %d", i, len(row), cols)
		}
	}

	opts := Options{
		NumBoxes:             len(list),
		NumCoords:            cols,
		KeypointCoordOffset:  4,
		NumKeypoints:         (cols - 4) / 2,
		NumValuesPerKeypoint: 2,
		SigmoidScore:         true,
		ReverseOutputOrder:   true,
		XScale:               float32(inputWidth),
		YScale:               float32(inputHeight),
		WScale:               float32(inputWidth),
		HScale:               float32(inputHeight),
		MinScoreThresh:       scoreThreshold,
	}

	return decode(opts, list, rawScores, func(i int) []float32 { return rawBoxOffsets[i] }), nil
}

// decode assumes the inputs were validated against opts.
func decode(opts Options, list []anchors.Anchor, scores []float32, row func(int) []float32) []postprocess.Region {
	regions := make([]postprocess.Region, 0)

	for i, anchor := range list {
		score := opts.score(scores[i])
		// Written as a negation so NaN scores are dropped too.
		if !(score > opts.MinScoreThresh) {
			continue
		}

		raw := row(i)
		b := raw[opts.BoxCoordOffset : opts.BoxCoordOffset+4]
		x, y, w, h := b[0], b[1], b[2], b[3]
		if !opts.ReverseOutputOrder {
			x, y, w, h = b[1], b[0], b[3], b[2]
		}

		cx := x/opts.XScale*anchor.W + anchor.XCenter
		cy := y/opts.YScale*anchor.H + anchor.YCenter
		w = w / opts.WScale * anchor.W
		h = h / opts.HScale * anchor.H

		keypoints := make([]postprocess.Keypoint, opts.NumKeypoints)
		for k := range keypoints {
			off := opts.KeypointCoordOffset + k*opts.NumValuesPerKeypoint
			kx, ky := raw[off], raw[off+1]
			if !opts.ReverseOutputOrder {
				kx, ky = ky, kx
			}
			keypoints[k] = postprocess.Keypoint{
				X: kx/opts.XScale*anchor.W + anchor.XCenter,
				Y: ky/opts.YScale*anchor.H + anchor.YCenter,
			}
		}

		regions = append(regions, postprocess.Region{
			Score:     score,
			Box:       postprocess.Box{X: cx - w/2, Y: cy - h/2, W: w, H: h},
			Keypoints: keypoints,
		})
	}

	return regions
}

// score converts a raw classification value according to the options.
func (o Options) score(raw float32) float32 {
	if t := o.ScoreClippingThresh; t > 0 {
		raw = max(-t, min(raw, t))
	}
	if !o.SigmoidScore {
		return raw
	}
	return min(Sigmoid(raw), maxScore)
}

func shapeOf(t *Tensors) []int {
	if t.Regressors == nil {
		return nil
	}
	return t.Regressors.Shape()
}
