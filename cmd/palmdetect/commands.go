package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nvr-ai/go-palm/anchors"
	"github.com/nvr-ai/go-palm/config"
	"github.com/nvr-ai/go-palm/controller"
	"github.com/nvr-ai/go-palm/inference"
	"github.com/nvr-ai/go-palm/models/palm"
	"github.com/nvr-ai/go-palm/profiler"
	"github.com/nvr-ai/go-palm/render"
	"github.com/nvr-ai/go-palm/util"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

func anchorsAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	list, err := anchors.Generate(cfg.Anchors)
	if err != nil {
		return err
	}

	w := c.App.Writer
	fmt.Fprintf(w, "%d anchors\n", len(list))
	if c.Bool(flagList) {
		for i, a := range list {
			fmt.Fprintf(w, "%4d x=%.6f y=%.6f w=%.6f h=%.6f\n", i, a.XCenter, a.YCenter, a.W, a.H)
		}
	}
	return nil
}

func configAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	return cfg.Encode(c.App.Writer)
}

// pipeline is the model session and post-processing shared by detect and run.
type pipeline struct {
	session  *inference.Session
	detector *palm.Detector
}

func newPipeline(cfg config.Config) (*pipeline, error) {
	det, err := palm.NewDetector(cfg.Anchors, cfg.Decoder, cfg.NMS)
	if err != nil {
		return nil, err
	}
	session, err := inference.NewSession(cfg)
	if err != nil {
		return nil, err
	}
	logger.Debug("model loaded",
		zap.String("path", cfg.Model.Path),
		zap.String("provider", cfg.Model.Provider),
		zap.Int("anchors", len(det.Anchors())))
	return &pipeline{session: session, detector: det}, nil
}

func (p *pipeline) close() {
	if err := p.session.Close(); err != nil {
		logger.Warn("close session", zap.Error(err))
	}
}

func detectAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	p, err := newPipeline(cfg)
	if err != nil {
		return err
	}
	defer p.close()

	path := c.String(flagImage)
	mat := gocv.IMRead(path, gocv.IMReadColor)
	if mat.Empty() {
		return errors.Errorf("read image %s", path)
	}
	defer mat.Close()

	img, err := mat.ToImage()
	if err != nil {
		return errors.Wrapf(err, "convert image %s", path)
	}

	ctl := controller.New(p.session, p.detector, logger)
	res := ctl.ProcessFrame(controller.Frame{Image: img, Timestamp: time.Now()})
	if res.Err != nil {
		return res.Err
	}

	logger.Info("detected", zap.String("image", path), zap.Int("palms", len(res.Regions)), zap.Duration("latency", res.Latency))
	for _, r := range res.Regions {
		fmt.Fprintln(c.App.Writer, r)
	}

	if out := c.String(flagOutput); out != "" {
		render.Overlay(&mat, res.Regions, render.DefaultStyle())
		if !gocv.IMWrite(out, mat) {
			return errors.Errorf("write image %s", out)
		}
		logger.Info("annotated image saved", zap.String("path", out))
	}
	return nil
}

func runAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	p, err := newPipeline(cfg)
	if err != nil {
		return err
	}
	defer p.close()

	ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	frames := make(chan controller.Frame)
	captured := make(chan struct{})

	if dir := c.String(flagFrames); dir != "" {
		files, err := util.LoadDirectoryImageFiles(dir)
		if err != nil {
			return err
		}
		go func() {
			defer close(captured)
			readFiles(ctx, files, frames)
		}()
	} else {
		var source interface{} = c.Int(flagDevice)
		if video := c.String(flagVideo); video != "" {
			source = video
		}
		capture, err := gocv.OpenVideoCapture(source)
		if err != nil {
			return errors.Wrapf(err, "open capture %v", source)
		}
		defer capture.Close()

		go func() {
			defer close(captured)
			readFrames(ctx, capture, frames)
		}()
	}

	var window *gocv.Window
	if c.Bool(flagShow) {
		window = gocv.NewWindow("palm detection")
		defer window.Close()
	}

	ctl := controller.New(p.session, p.detector, logger)
	fps := profiler.NewFPS()
	latency := profiler.NewTimeTracker("frame", 0)
	style := render.DefaultStyle()

	for res := range ctl.Run(ctx, frames) {
		fps.Update()
		latency.Record(res.Latency)
		if window == nil {
			for _, r := range res.Regions {
				logger.Info("palm", zap.Int("frame", res.Frame.ID), zap.Stringer("region", r))
			}
			continue
		}
		if res.Err == nil {
			if err := show(window, res, fps.Get(), style); err != nil {
				logger.Warn("show frame", zap.Error(err))
			}
		}
		pollQuit(window, cancel)
	}
	cancel()
	<-captured

	stats := ctl.Stats()
	logger.Info("stopped",
		zap.Int64("processed", stats.Processed),
		zap.Int64("dropped", stats.Dropped),
		zap.Int64("failed", stats.Failed),
		zap.Float64("fps", fps.Get()),
		zap.Stringer("latency", latency.Stats()))
	return nil
}

// readFrames feeds capture into frames until the stream ends or ctx is done.
func readFrames(ctx context.Context, capture *gocv.VideoCapture, frames chan<- controller.Frame) {
	defer close(frames)

	mat := gocv.NewMat()
	defer mat.Close()

	for id := 0; ctx.Err() == nil; id++ {
		if ok := capture.Read(&mat); !ok {
			logger.Info("capture ended")
			return
		}
		if mat.Empty() {
			continue
		}
		img, err := mat.ToImage()
		if err != nil {
			logger.Warn("convert frame", zap.Int("frame", id), zap.Error(err))
			continue
		}
		select {
		case frames <- controller.Frame{ID: id, Image: img, Timestamp: time.Now()}:
		case <-ctx.Done():
			return
		}
	}
}

// readFiles decodes recorded frames into frames until they run out or ctx is done.
func readFiles(ctx context.Context, files []util.ImageFile, frames chan<- controller.Frame) {
	defer close(frames)

	for _, f := range files {
		mat, err := gocv.IMDecode(f.Data, gocv.IMReadColor)
		if err != nil || mat.Empty() {
			logger.Warn("decode frame", zap.String("path", f.Path), zap.Error(err))
			mat.Close()
			continue
		}
		img, err := mat.ToImage()
		mat.Close()
		if err != nil {
			logger.Warn("convert frame", zap.String("path", f.Path), zap.Error(err))
			continue
		}
		select {
		case frames <- controller.Frame{ID: f.Frame, Image: img, Timestamp: time.Now()}:
		case <-ctx.Done():
			return
		}
	}
}

// keyWaiter is the part of a display window that delivers key presses.
type keyWaiter interface {
	WaitKey(delay int) int
}

// pollQuit services the window's event loop once and calls cancel when 'q'
// was pressed. It runs for every result, failed ones included, so the window
// stays responsive while inference errors.
func pollQuit(w keyWaiter, cancel context.CancelFunc) bool {
	if w.WaitKey(1) != 'q' {
		return false
	}
	cancel()
	return true
}

func show(window *gocv.Window, res controller.Result, fps float64, style render.Style) error {
	mat, err := gocv.ImageToMatRGB(res.Frame.Image)
	if err != nil {
		return errors.Wrap(err, "convert frame")
	}
	defer mat.Close()

	render.Overlay(&mat, res.Regions, style)
	render.DrawFPS(&mat, fps)
	window.IMShow(mat)
	return nil
}
