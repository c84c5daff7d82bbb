// Package postprocess - provides Non-Maximum Suppression for detection results.
package postprocess

import (
	"sort"

	"github.com/nvr-ai/go-palm/images"
)

// DefaultQuantizeFactor is the scale applied to normalized boxes before the
// integer overlap test.
const DefaultQuantizeFactor = 1000

// NMSConfig defines parameters for Non-Maximum Suppression.
type NMSConfig struct {
	// IoUThreshold is the overlap above which the lower scoring region is dropped.
	IoUThreshold float32 `json:"iou_threshold" yaml:"iou_threshold"`
	// Quantized computes overlap on boxes scaled by QuantizeFactor and truncated to
	// integers, matching OpenCV's integer NMSBoxes. Returned regions keep their
	// unquantized float boxes either way.
	Quantized bool `json:"quantized" yaml:"quantized"`
	// QuantizeFactor defaults to DefaultQuantizeFactor when zero.
	QuantizeFactor int `json:"quantize_factor" yaml:"quantize_factor"`
}

// DefaultNMSConfig returns the palm pipeline defaults: IoU 0.3, float overlap.
func DefaultNMSConfig() NMSConfig {
	return NMSConfig{
		IoUThreshold:   0.3,
		QuantizeFactor: DefaultQuantizeFactor,
	}
}

// Suppress performs greedy Non-Maximum Suppression with floating point IoU.
//
// Arguments:
//   - regions: Candidate regions in any order. The slice is not modified.
//   - iouThreshold: Regions overlapping a kept region by strictly more than this
//     are dropped.
//
// Returns:
//   - The kept regions in descending score order. Equal scores keep their input
//     order.
func Suppress(regions []Region, iouThreshold float32) []Region {
	return greedy(regions, iouThreshold, func(a, b int) float32 {
		return regions[a].Box.IoU(regions[b].Box)
	})
}

// ApplyNMS filters overlapping regions according to config.
func ApplyNMS(regions []Region, config NMSConfig) []Region {
	if !config.Quantized {
		return Suppress(regions, config.IoUThreshold)
	}

	factor := config.QuantizeFactor
	if factor <= 0 {
		factor = DefaultQuantizeFactor
	}
	// Quantize once up front; the overlap loop is quadratic.
	quantized := make([]images.Rect, len(regions))
	for i, r := range regions {
		quantized[i] = r.Box.Quantize(factor)
	}

	return greedy(regions, config.IoUThreshold, func(a, b int) float32 {
		return images.CalculateIoU(quantized[a], quantized[b])
	})
}

// greedy runs the pick-and-suppress loop. iou is called with input indices.
func greedy(regions []Region, iouThreshold float32, iou func(a, b int) float32) []Region {
	n := len(regions)
	filtered := make([]Region, 0, n)
	if n == 0 {
		return filtered
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return regions[order[i]].Score > regions[order[j]].Score
	})

	used := make([]bool, n)
	for i, picked := range order {
		if used[i] {
			continue
		}
		filtered = append(filtered, regions[picked])
		used[i] = true

		for j := i + 1; j < n; j++ {
			if used[j] {
				continue
			}
			if iou(picked, order[j]) > iouThreshold {
				used[j] = true
			}
		}
	}

	return filtered
}
