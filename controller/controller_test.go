package controller

import (
	"context"
	"image"
	"testing"
	"time"

	"github.com/nvr-ai/go-palm/anchors"
	"github.com/nvr-ai/go-palm/models/palm"
	"github.com/nvr-ai/go-palm/models/postprocess"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// gatedInferencer blocks every Infer call until the test releases it.
type gatedInferencer struct {
	started chan int
	release chan struct{}
	fail    map[int]error
}

func newGatedInferencer() *gatedInferencer {
	return &gatedInferencer{
		started: make(chan int, 16),
		release: make(chan struct{}),
		fail:    map[int]error{},
	}
}

func (g *gatedInferencer) Infer(img image.Image) (*palm.Tensors, error) {
	id := img.Bounds().Dx()
	g.started <- id
	<-g.release
	if err := g.fail[id]; err != nil {
		return nil, err
	}
	return &palm.Tensors{}, nil
}

type stubProcessor struct {
	regions []postprocess.Region
	err     error
}

func (p stubProcessor) Process(*palm.Tensors) ([]postprocess.Region, error) {
	return p.regions, p.err
}

// frame encodes its ID in the image width so the inferencer can see it.
func frame(id int) Frame {
	return Frame{ID: id, Image: image.NewGray(image.Rect(0, 0, id, 1)), Timestamp: time.Unix(int64(id), 0)}
}

func collect(out <-chan Result) []Result {
	var results []Result
	for r := range out {
		results = append(results, r)
	}
	return results
}

func ids(results []Result) []int {
	out := make([]int, len(results))
	for i, r := range results {
		out[i] = r.Frame.ID
	}
	return out
}

func TestController_LatestWins(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	inf := newGatedInferencer()
	c := New(inf, stubProcessor{}, zap.New(core))

	frames := make(chan Frame)
	out := c.Run(context.Background(), frames)

	frames <- frame(1)
	require.Equal(t, 1, <-inf.started)

	// Frame 1 is in flight: 2 waits, then 3 replaces it.
	frames <- frame(2)
	frames <- frame(3)
	close(frames)
	close(inf.release)

	results := collect(out)
	assert.Equal(t, []int{1, 3}, ids(results))
	assert.Equal(t, Stats{Processed: 2, Dropped: 1}, c.Stats())

	dropped := logs.FilterMessage("frame dropped").All()
	require.Len(t, dropped, 1)
	assert.Equal(t, zapcore.DebugLevel, dropped[0].Level)
	assert.Equal(t, int64(2), dropped[0].ContextMap()["frame"])
}

func TestController_FailureDoesNotStopLoop(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	inf := newGatedInferencer()
	inf.fail[1] = palm.ErrShapeMismatch
	close(inf.release)

	regions := []postprocess.Region{{Score: 0.9}}
	c := New(inf, stubProcessor{regions: regions}, zap.New(core))

	frames := make(chan Frame)
	out := c.Run(context.Background(), frames)

	go func() {
		defer close(frames)
		frames <- frame(1)
		<-inf.started
		frames <- frame(2)
	}()

	results := collect(out)
	require.Len(t, results, 2)

	assert.True(t, errors.Is(results[0].Err, palm.ErrShapeMismatch))
	assert.Nil(t, results[0].Regions)
	assert.NoError(t, results[1].Err)
	assert.Equal(t, regions, results[1].Regions)

	assert.Equal(t, int64(1), c.Stats().Failed)
	assert.Equal(t, 1, logs.FilterMessage("frame failed").Len())
}

func TestController_ProcessorError(t *testing.T) {
	inf := newGatedInferencer()
	close(inf.release)
	c := New(inf, stubProcessor{err: palm.ErrShapeMismatch}, zaptest.NewLogger(t))

	res := c.ProcessFrame(frame(4))
	<-inf.started
	assert.True(t, errors.Is(res.Err, palm.ErrShapeMismatch))
	assert.Contains(t, res.Err.Error(), "process frame 4")
	assert.Equal(t, Stats{Failed: 1}, c.Stats())
}

func TestController_Cancel(t *testing.T) {
	inf := newGatedInferencer()
	c := New(inf, stubProcessor{}, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	frames := make(chan Frame)
	out := c.Run(ctx, frames)

	frames <- frame(1)
	<-inf.started
	cancel()
	close(inf.release)

	// The in-flight result is discarded or delivered; either way the channel closes.
	results := collect(out)
	assert.LessOrEqual(t, len(results), 1)
}

func TestController_Latency(t *testing.T) {
	inf := newGatedInferencer()
	close(inf.release)
	c := New(inf, stubProcessor{}, nil)

	base := time.Unix(100, 0)
	calls := 0
	c.now = func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * 5 * time.Millisecond)
	}

	res := c.ProcessFrame(frame(1))
	<-inf.started
	require.NoError(t, res.Err)
	assert.Equal(t, 5*time.Millisecond, res.Latency)
}

// tensorSource returns fixed palm tensors for every frame.
type tensorSource struct {
	t *palm.Tensors
}

func (s tensorSource) Infer(image.Image) (*palm.Tensors, error) { return s.t, nil }

func TestController_WithDetector(t *testing.T) {
	opts := palm.DefaultOptions()
	det, err := palm.NewDetector(anchors.PalmConfig(), opts, postprocess.DefaultNMSConfig())
	require.NoError(t, err)

	scores := make([]float32, opts.NumBoxes)
	for i := range scores {
		scores[i] = -8
	}
	scores[0] = 8
	tensors, err := palm.NewTensors(scores, make([]float32, opts.NumBoxes*opts.NumCoords), opts.NumCoords)
	require.NoError(t, err)

	c := New(tensorSource{tensors}, det, zaptest.NewLogger(t))
	res := c.ProcessFrame(frame(1))
	require.NoError(t, res.Err)
	require.Len(t, res.Regions, 1)

	a := det.Anchors()[0]
	assert.Equal(t, postprocess.Box{X: a.XCenter, Y: a.YCenter}, res.Regions[0].Box)
}
