// Package inference - ONNX Runtime sessions producing palm detector tensors.
package inference

import (
	"image"
	"os"
	"sync"

	"github.com/nvr-ai/go-palm/config"
	"github.com/nvr-ai/go-palm/models/palm"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/multierr"
)

var envMu sync.Mutex

// Session represents a palm model session from the onnxruntime.
type Session struct {
	mu         sync.Mutex
	session    *ort.AdvancedSession
	input      *ort.Tensor[float32]
	scores     *ort.Tensor[float32]
	regressors *ort.Tensor[float32]

	width     int
	height    int
	order     ChannelOrder
	numCoords int
}

// NewSession loads the palm model named by cfg.Model.
//
// Arguments:
//   - cfg: The pipeline configuration. The anchor input size sizes the input
//     tensor and the decoder options size the outputs.
//
// Returns:
//   - *Session: The session, owning its tensors until Close.
//   - error: An error if the runtime or the model cannot be loaded.
func NewSession(cfg config.Config) (*Session, error) {
	order, err := ParseChannelOrder(cfg.Model.ChannelOrder)
	if err != nil {
		return nil, err
	}

	libPath := cfg.Model.SharedLibraryPath
	if libPath == "" {
		if libPath, err = GetSharedLibPath(); err != nil {
			return nil, err
		}
	}
	if err := initEnvironment(libPath); err != nil {
		return nil, err
	}

	s := &Session{
		width:     cfg.Anchors.InputWidth,
		height:    cfg.Anchors.InputHeight,
		order:     order,
		numCoords: cfg.Decoder.NumCoords,
	}

	inputShape := ort.NewShape(1, 3, int64(s.height), int64(s.width))
	if order == HWC {
		inputShape = ort.NewShape(1, int64(s.height), int64(s.width), 3)
	}
	n := int64(cfg.Decoder.NumBoxes)

	if s.input, err = ort.NewEmptyTensor[float32](inputShape); err != nil {
		return nil, errors.Wrap(err, "create input tensor")
	}
	if s.regressors, err = ort.NewEmptyTensor[float32](ort.NewShape(1, n, int64(s.numCoords))); err != nil {
		return nil, multierr.Append(errors.Wrap(err, "create regressors tensor"), s.Close())
	}
	if s.scores, err = ort.NewEmptyTensor[float32](ort.NewShape(1, n, 1)); err != nil {
		return nil, multierr.Append(errors.Wrap(err, "create scores tensor"), s.Close())
	}

	options, err := sessionOptions(cfg.Model)
	if err != nil {
		return nil, multierr.Append(err, s.Close())
	}
	defer options.Destroy()

	s.session, err = ort.NewAdvancedSession(
		cfg.Model.Path,
		[]string{cfg.Model.InputName},
		[]string{cfg.Model.RegressorsName, cfg.Model.ScoresName},
		[]ort.ArbitraryTensor{s.input},
		[]ort.ArbitraryTensor{s.regressors, s.scores},
		options,
	)
	if err != nil {
		return nil, multierr.Append(errors.Wrapf(err, "load model %s", cfg.Model.Path), s.Close())
	}
	return s, nil
}

func initEnvironment(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	if _, err := os.Stat(libPath); err != nil {
		return errors.Wrapf(err, "onnxruntime library %s", libPath)
	}
	ort.SetSharedLibraryPath(libPath)
	return errors.Wrap(ort.InitializeEnvironment(), "initialize onnxruntime")
}

// Infer runs the model on img and returns a copy of its outputs. It is safe
// for concurrent use; runs are serialized.
func (s *Session) Infer(img image.Image) (*palm.Tensors, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil, errors.New("session is closed")
	}
	if err := PrepareInput(img, s.width, s.height, s.order, s.input.GetData()); err != nil {
		return nil, err
	}
	if err := s.session.Run(); err != nil {
		return nil, errors.Wrap(err, "run palm model")
	}

	scores := append([]float32(nil), s.scores.GetData()...)
	regressors := append([]float32(nil), s.regressors.GetData()...)
	return palm.NewTensors(scores, regressors, s.numCoords)
}

// Close releases the tensors and the session. It may be called more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.session != nil {
		err = multierr.Append(err, s.session.Destroy())
		s.session = nil
	}
	for _, t := range []**ort.Tensor[float32]{&s.input, &s.regressors, &s.scores} {
		if *t != nil {
			err = multierr.Append(err, (*t).Destroy())
			*t = nil
		}
	}
	return err
}
