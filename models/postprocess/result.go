// Package postprocess - Detection region types and overlap suppression.
package postprocess

import (
	"fmt"
	"image"

	"github.com/nvr-ai/go-palm/images"
)

// Box is an axis-aligned box in normalized coordinates: top-left corner plus size.
//
// Values may fall slightly outside [0,1] when the detector overshoots the frame;
// nothing in this package clamps them.
type Box struct {
	X float32 `json:"x" yaml:"x"`
	Y float32 `json:"y" yaml:"y"`
	W float32 `json:"w" yaml:"w"`
	H float32 `json:"h" yaml:"h"`
}

// X2 returns the right edge of the box.
func (b Box) X2() float32 { return b.X + b.W }

// Y2 returns the bottom edge of the box.
func (b Box) Y2() float32 { return b.Y + b.H }

// Area returns the area of the box, or 0 when either side is not positive.
// It is measured between the edges so that it matches IoU's intersection of b
// with itself.
func (b Box) Area() float32 {
	if b.W <= 0 || b.H <= 0 {
		return 0
	}
	return (b.X2() - b.X) * (b.Y2() - b.Y)
}

// IoU returns the Intersection over Union of b and o computed in floating point.
func (b Box) IoU(o Box) float32 {
	ix1 := max(b.X, o.X)
	iy1 := max(b.Y, o.Y)
	ix2 := min(b.X2(), o.X2())
	iy2 := min(b.Y2(), o.Y2())

	interW := ix2 - ix1
	interH := iy2 - iy1
	if interW <= 0 || interH <= 0 {
		return 0
	}
	inter := interW * interH

	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return min(inter/union, 1)
}

// Quantize scales the box by factor and truncates every component to an int.
//
// With factor 1000 this yields the integer boxes passed to OpenCV's NMSBoxes.
func (b Box) Quantize(factor int) images.Rect {
	f := float32(factor)
	return images.RectFromXYWH(int(b.X*f), int(b.Y*f), int(b.W*f), int(b.H*f))
}

// Pixels converts the box to pixel coordinates of a width x height frame.
func (b Box) Pixels(width, height int) image.Rectangle {
	x := int(b.X * float32(width))
	y := int(b.Y * float32(height))
	w := int(b.W * float32(width))
	h := int(b.H * float32(height))
	return image.Rect(x, y, x+w, y+h)
}

// Keypoint is a normalized (x, y) landmark.
type Keypoint struct {
	X float32 `json:"x" yaml:"x"`
	Y float32 `json:"y" yaml:"y"`
}

// Pixels converts the keypoint to pixel coordinates of a width x height frame.
func (k Keypoint) Pixels(width, height int) image.Point {
	return image.Pt(int(k.X*float32(width)), int(k.Y*float32(height)))
}

// Region is a single palm detection.
type Region struct {
	// Score is the sigmoid of the classification logit, in (0,1).
	Score float32 `json:"score" yaml:"score"`
	// Box is the normalized detection box.
	Box Box `json:"box" yaml:"box"`
	// Keypoints are indexed by keypoint number.
	Keypoints []Keypoint `json:"keypoints" yaml:"keypoints"`
}

// Keypoint returns keypoint i and whether the region has it.
func (r Region) Keypoint(i int) (Keypoint, bool) {
	if i < 0 || i >= len(r.Keypoints) {
		return Keypoint{}, false
	}
	return r.Keypoints[i], true
}

func (r Region) String() string {
	return fmt.Sprintf("Palm (score %f): (%.4f, %.4f) %.4fx%.4f, %d keypoints",
		r.Score, r.Box.X, r.Box.Y, r.Box.W, r.Box.H, len(r.Keypoints))
}
