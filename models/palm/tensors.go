package palm

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Tensors holds the raw outputs of one inference: a classification logit per
// anchor and a [NumBoxes, NumCoords] regression matrix.
//
// Each call to the detector must receive its own Tensors; decoding only reads them.
type Tensors struct {
	Scores     []float32
	Regressors *tensor.Dense
}

// NewTensors wraps flat output buffers without copying them.
//
// Arguments:
//   - scores: One classification value per anchor.
//   - regressors: Row-major regression values, numCoords per anchor.
//   - numCoords: Width of one regression row.
//
// Returns:
//   - The wrapped tensors.
//   - An error wrapping ErrShapeMismatch if the buffers cannot be reshaped.
func NewTensors(scores, regressors []float32, numCoords int) (*Tensors, error) {
	if numCoords <= 0 {
		return nil, errors.Wrapf(ErrShapeMismatch, "row width must be positive, got %d", numCoords)
	}
	if len(regressors)%numCoords != 0 {
		return nil, errors.Wrapf(ErrShapeMismatch, "%d regression values are not a multiple of %d",
			len(regressors), numCoords)
	}
	rows := len(regressors) / numCoords
	if rows != len(scores) {
		return nil, errors.Wrapf(ErrShapeMismatch, "%d regression rows for %d scores", rows, len(scores))
	}

	return &Tensors{
		Scores: scores,
		Regressors: tensor.New(
			tensor.Of(tensor.Float32),
			tensor.WithShape(rows, numCoords),
			tensor.WithBacking(regressors),
		),
	}, nil
}

// Rows returns the number of regression rows, or 0 if the matrix is missing or
// not two dimensional.
func (t *Tensors) Rows() int {
	if t.Regressors == nil || t.Regressors.Dims() != 2 {
		return 0
	}
	return t.Regressors.Shape()[0]
}

// Cols returns the width of a regression row.
func (t *Tensors) Cols() int {
	if t.Regressors == nil || t.Regressors.Dims() != 2 {
		return 0
	}
	return t.Regressors.Shape()[1]
}

// row returns regression row i as a view of the backing buffer.
func (t *Tensors) row(i int) []float32 {
	cols := t.Cols()
	data := t.Regressors.Float32s()
	return data[i*cols : (i+1)*cols]
}
