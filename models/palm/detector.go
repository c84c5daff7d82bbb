package palm

import (
	"github.com/nvr-ai/go-palm/anchors"
	"github.com/nvr-ai/go-palm/models/postprocess"
	"github.com/pkg/errors"
)

// Detector bundles the anchor list, the decoder and the suppression settings of
// one palm model. Anchors are generated once in NewDetector and only read after
// that, so Process may be called from several goroutines at once.
type Detector struct {
	anchors []anchors.Anchor
	decoder *Decoder
	nms     postprocess.NMSConfig
}

// NewDetector generates the anchors for cfg and prepares a decoder.
//
// Arguments:
//   - cfg: The anchor grid the model was trained with.
//   - opts: Decoder settings. opts.NumBoxes must equal the anchor count.
//   - nms: Suppression settings.
//
// Returns:
//   - *Detector: Ready to process tensors.
//   - error: A configuration error. These are fatal at startup.
//
// Example:
//
// ```go
//
//	det, err := palm.NewDetector(anchors.PalmConfig(), palm.DefaultOptions(), postprocess.DefaultNMSConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	regions, err := det.Process(tensors)
//
// ```
func NewDetector(cfg anchors.Config, opts Options, nms postprocess.NMSConfig) (*Detector, error) {
	list, err := anchors.Generate(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "generate anchors")
	}

	decoder, err := NewDecoder(opts, list)
	if err != nil {
		return nil, err
	}

	if nms.IoUThreshold < 0 || nms.IoUThreshold > 1 {
		return nil, errors.Wrapf(ErrConfig, "iou threshold must be within [0, 1], got %g", nms.IoUThreshold)
	}

	return &Detector{
		anchors: list,
		decoder: decoder,
		nms:     nms,
	}, nil
}

// Anchors returns a copy of the anchor list.
func (d *Detector) Anchors() []anchors.Anchor {
	return append([]anchors.Anchor(nil), d.anchors...)
}

// Options returns the decoder settings.
func (d *Detector) Options() Options {
	return d.decoder.Options()
}

// Process decodes t and suppresses duplicate regions.
//
// Returns:
//   - The final regions in descending score order. Empty when no palm was found.
//   - An error wrapping ErrShapeMismatch when t does not match the anchors.
func (d *Detector) Process(t *Tensors) ([]postprocess.Region, error) {
	candidates, err := d.decoder.Decode(t)
	if err != nil {
		return nil, err
	}
	return postprocess.ApplyNMS(candidates, d.nms), nil
}
