// Package controller - routes camera frames through palm inference one at a time.
package controller

import (
	"context"
	"image"
	"sync/atomic"
	"time"

	"github.com/nvr-ai/go-palm/models/palm"
	"github.com/nvr-ai/go-palm/models/postprocess"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Frame is a single frame of video.
type Frame struct {
	ID        int
	Image     image.Image
	Timestamp time.Time
}

// Result is the outcome of processing one frame.
type Result struct {
	Frame   Frame
	Regions []postprocess.Region
	// Err is set when inference or decoding failed. Regions is nil then.
	Err     error
	Latency time.Duration
}

// Inferencer runs the palm model on an image.
type Inferencer interface {
	Infer(img image.Image) (*palm.Tensors, error)
}

// Processor turns model tensors into suppressed regions.
type Processor interface {
	Process(t *palm.Tensors) ([]postprocess.Region, error)
}

// Stats counts frames seen by a Controller.
type Stats struct {
	Processed int64
	Dropped   int64
	Failed    int64
}

// Controller processes frames sequentially and drops frames that arrive faster
// than they can be processed. Only the newest waiting frame is kept.
type Controller struct {
	inf    Inferencer
	proc   Processor
	logger *zap.Logger
	now    func() time.Time

	processed atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64
}

// New creates a Controller. A nil logger discards log output.
func New(inf Inferencer, proc Processor, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		inf:    inf,
		proc:   proc,
		logger: logger,
		now:    time.Now,
	}
}

// Stats returns a snapshot of the frame counters.
func (c *Controller) Stats() Stats {
	return Stats{
		Processed: c.processed.Load(),
		Dropped:   c.dropped.Load(),
		Failed:    c.failed.Load(),
	}
}

// ProcessFrame runs inference and post-processing on a single frame.
func (c *Controller) ProcessFrame(f Frame) Result {
	start := c.now()
	res := Result{Frame: f}

	t, err := c.inf.Infer(f.Image)
	if err != nil {
		res.Err = errors.Wrapf(err, "infer frame %d", f.ID)
	} else if res.Regions, err = c.proc.Process(t); err != nil {
		res.Err = errors.Wrapf(err, "process frame %d", f.ID)
	}
	res.Latency = c.now().Sub(start)

	if res.Err != nil {
		c.failed.Add(1)
		c.logger.Warn("frame failed", zap.Int("frame", f.ID), zap.Error(res.Err))
		return res
	}
	c.processed.Add(1)
	c.logger.Debug("frame processed",
		zap.Int("frame", f.ID),
		zap.Int("regions", len(res.Regions)),
		zap.Duration("latency", res.Latency))
	return res
}

// Run processes frames until ctx is done or frames is closed, then closes the
// returned channel. The caller must drain the returned channel.
//
// Arguments:
//   - ctx: Stops the loop when done. Frames still waiting are discarded.
//   - frames: The frame source. Frames that arrive while another frame is
//     processed replace any frame already waiting.
//
// Returns:
//   - <-chan Result: One result per processed frame, in arrival order.
func (c *Controller) Run(ctx context.Context, frames <-chan Frame) <-chan Result {
	out := make(chan Result)
	pending := make(chan Frame, 1)

	go c.receive(ctx, frames, pending)
	go c.work(ctx, pending, out)

	return out
}

// receive is the only writer of pending, so a send after draining never blocks.
func (c *Controller) receive(ctx context.Context, frames <-chan Frame, pending chan Frame) {
	defer close(pending)

	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			select {
			case pending <- f:
				continue
			default:
			}
			select {
			case stale := <-pending:
				c.dropped.Add(1)
				c.logger.Debug("frame dropped", zap.Int("frame", stale.ID), zap.Int("replaced_by", f.ID))
			default:
			}
			pending <- f
		}
	}
}

func (c *Controller) work(ctx context.Context, pending <-chan Frame, out chan<- Result) {
	defer close(out)

	for f := range pending {
		if ctx.Err() != nil {
			return
		}
		res := c.ProcessFrame(f)
		select {
		case out <- res:
		case <-ctx.Done():
			return
		}
	}
}
