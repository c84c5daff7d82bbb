package palm

import (
	"sync"
	"testing"

	"github.com/nvr-ai/go-palm/anchors"
	"github.com/nvr-ai/go-palm/models/postprocess"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// palmTensors builds 896-anchor tensors where every anchor is background except
// the given logits. Each listed anchor predicts a 32x32 pixel box.
func palmTensors(t testing.TB, logits map[int]float32) *Tensors {
	scores := make([]float32, DefaultNumBoxes)
	rows := make([]float32, DefaultNumBoxes*numCoords)
	for i := range scores {
		scores[i] = -8
	}
	for i, logit := range logits {
		scores[i] = logit
		rows[i*numCoords+2] = 32
		rows[i*numCoords+3] = 32
	}

	tensors, err := NewTensors(scores, rows, numCoords)
	require.NoError(t, err)
	return tensors
}

func TestDetector_Process(t *testing.T) {
	det, err := NewDetector(anchors.PalmConfig(), DefaultOptions(), postprocess.DefaultNMSConfig())
	require.NoError(t, err)
	require.Len(t, det.Anchors(), DefaultNumBoxes)

	// Anchors 0 and 1 share a cell in the stride 8 layer, so their boxes coincide.
	regions, err := det.Process(palmTensors(t, map[int]float32{0: 3, 1: 5, 895: 2}))
	require.NoError(t, err)
	require.Len(t, regions, 2)

	assert.Equal(t, Sigmoid(5), regions[0].Score)
	assert.InDelta(t, 0.5/16-0.125, regions[0].Box.X, 1e-6)
	assert.InDelta(t, 0.25, regions[0].Box.W, 1e-6)

	assert.Equal(t, Sigmoid(2), regions[1].Score)
	assert.InDelta(t, 7.5/8-0.125, regions[1].Box.X, 1e-6)
	assert.Len(t, regions[1].Keypoints, DefaultNumKeypoints)
}

func TestDetector_QuantizedMatchesFloat(t *testing.T) {
	tensors := palmTensors(t, map[int]float32{0: 3, 1: 5, 2: 4, 600: 1, 895: 2})

	exact, err := NewDetector(anchors.PalmConfig(), DefaultOptions(), postprocess.DefaultNMSConfig())
	require.NoError(t, err)

	nms := postprocess.DefaultNMSConfig()
	nms.Quantized = true
	quantized, err := NewDetector(anchors.PalmConfig(), DefaultOptions(), nms)
	require.NoError(t, err)

	want, err := exact.Process(tensors)
	require.NoError(t, err)
	got, err := quantized.Process(tensors)
	require.NoError(t, err)

	assert.Equal(t, want, got)
}

func TestDetector_EmptyFrame(t *testing.T) {
	det, err := NewDetector(anchors.PalmConfig(), DefaultOptions(), postprocess.DefaultNMSConfig())
	require.NoError(t, err)

	regions, err := det.Process(palmTensors(t, nil))
	require.NoError(t, err)
	assert.NotNil(t, regions)
	assert.Empty(t, regions)
}

func TestDetector_ShapeMismatch(t *testing.T) {
	det, err := NewDetector(anchors.PalmConfig(), DefaultOptions(), postprocess.DefaultNMSConfig())
	require.NoError(t, err)

	_, err = det.Process(mustTensors(t, 100, numCoords))
	assert.True(t, errors.Is(err, ErrShapeMismatch), "got %v", err)
}

func TestNewDetector_ConfigErrors(t *testing.T) {
	t.Run("invalid anchors", func(t *testing.T) {
		cfg := anchors.PalmConfig()
		cfg.Strides = nil

		_, err := NewDetector(cfg, DefaultOptions(), postprocess.DefaultNMSConfig())
		assert.True(t, errors.Is(err, anchors.ErrInvalidConfig), "got %v", err)
	})

	t.Run("anchor count differs from the model rows", func(t *testing.T) {
		cfg := anchors.PalmConfig()
		cfg.InputWidth, cfg.InputHeight = 256, 256

		_, err := NewDetector(cfg, DefaultOptions(), postprocess.DefaultNMSConfig())
		assert.True(t, errors.Is(err, anchors.ErrCountMismatch), "got %v", err)
	})

	t.Run("iou threshold out of range", func(t *testing.T) {
		_, err := NewDetector(anchors.PalmConfig(), DefaultOptions(), postprocess.NMSConfig{IoUThreshold: 2})
		assert.True(t, errors.Is(err, ErrConfig), "got %v", err)
	})
}

func TestDetector_ConcurrentProcess(t *testing.T) {
	det, err := NewDetector(anchors.PalmConfig(), DefaultOptions(), postprocess.DefaultNMSConfig())
	require.NoError(t, err)

	want, err := det.Process(palmTensors(t, map[int]float32{10: 4, 300: 3}))
	require.NoError(t, err)

	// Every call gets its own buffers.
	inputs := make([]*Tensors, 8)
	for i := range inputs {
		inputs[i] = palmTensors(t, map[int]float32{10: 4, 300: 3})
	}

	var wg sync.WaitGroup
	results := make([][]postprocess.Region, len(inputs))
	for i := range inputs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			regions, err := det.Process(inputs[i])
			if err == nil {
				results[i] = regions
			}
		}(i)
	}
	wg.Wait()

	for _, got := range results {
		assert.Equal(t, want, got)
	}
}

func TestDetector_AnchorsAreCopied(t *testing.T) {
	det, err := NewDetector(anchors.PalmConfig(), DefaultOptions(), postprocess.DefaultNMSConfig())
	require.NoError(t, err)

	list := det.Anchors()
	list[0].XCenter = 42

	assert.NotEqual(t, float32(42), det.Anchors()[0].XCenter)
}
