// Package render - draws palm regions on frames for the command line tool.
package render

import (
	"fmt"
	"image"
	"image/color"

	"github.com/nvr-ai/go-palm/models/postprocess"
	"gocv.io/x/gocv"
)

// Style configures Overlay.
type Style struct {
	BoxColor       color.RGBA
	KeypointColor  color.RGBA
	Thickness      int
	KeypointRadius int
	// ShowScore writes the region score above its box.
	ShowScore bool
}

// DefaultStyle draws green boxes and red keypoints, in BGR channel order.
func DefaultStyle() Style {
	return Style{
		BoxColor:       color.RGBA{0, 255, 0, 0},
		KeypointColor:  color.RGBA{0, 0, 255, 0},
		Thickness:      1,
		KeypointRadius: 2,
	}
}

// Mark is a region mapped to pixel coordinates.
type Mark struct {
	Box       image.Rectangle
	Keypoints []image.Point
	Score     float32
}

// Layout maps normalized regions onto a width x height frame.
func Layout(regions []postprocess.Region, width, height int) []Mark {
	marks := make([]Mark, len(regions))
	for i, r := range regions {
		m := Mark{
			Box:       r.Box.Pixels(width, height),
			Keypoints: make([]image.Point, len(r.Keypoints)),
			Score:     r.Score,
		}
		for j, kp := range r.Keypoints {
			m.Keypoints[j] = kp.Pixels(width, height)
		}
		marks[i] = m
	}
	return marks
}

// Overlay draws every region's box and keypoints on img.
//
// Arguments:
//   - img: The BGR frame the regions were detected on.
//   - regions: Regions in normalized coordinates.
//   - style: Colors and sizes.
func Overlay(img *gocv.Mat, regions []postprocess.Region, style Style) {
	for _, m := range Layout(regions, img.Cols(), img.Rows()) {
		gocv.Rectangle(img, m.Box, style.BoxColor, style.Thickness)
		for _, p := range m.Keypoints {
			gocv.Circle(img, p, style.KeypointRadius, style.KeypointColor, -1)
		}
		if style.ShowScore {
			label := fmt.Sprintf("%.2f", m.Score)
			gocv.PutText(img, label, m.Box.Min.Add(image.Pt(0, -4)), gocv.FontHersheySimplex, 0.4, style.BoxColor, 1)
		}
	}
}

// DrawFPS writes the frame rate in the top left corner.
func DrawFPS(img *gocv.Mat, fps float64) {
	gocv.PutText(img, fmt.Sprintf("FPS: %.2f", fps), image.Pt(10, 20), gocv.FontHersheySimplex, 0.5, color.RGBA{0, 0, 255, 0}, 1)
}
