// Package main is the palm detection command line tool.
package main

import (
	"os"

	"github.com/nvr-ai/go-palm/config"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

const (
	// Flags.
	flagConfig = "config"
	flagDebug  = "debug"
	flagModel  = "model"
	flagList   = "list"
	flagImage  = "image"
	flagOutput = "output"
	flagDevice = "device"
	flagVideo  = "video"
	flagFrames = "frames"
	flagShow   = "show"
)

var logger = zap.NewNop()

func main() {
	if err := newApp().Run(os.Args); err != nil {
		logger.Fatal("palmdetect", zap.Error(err))
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "palmdetect",
		Usage: "detect palms with the single-shot palm detection model",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
			},
			&cli.StringFlag{
				Name:  flagModel,
				Usage: "override the ONNX model `FILE` of the configuration",
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			cfg := zap.NewDevelopmentConfig()
			if !c.Bool(flagDebug) {
				cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
			}
			l, err := cfg.Build()
			if err != nil {
				return errors.Wrap(err, "build logger")
			}
			logger = l
			return nil
		},
		After: func(c *cli.Context) error {
			_ = logger.Sync()
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "anchors",
				Usage: "generate the anchor grid and print its size",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: flagList, Usage: "print every anchor"},
				},
				Action: anchorsAction,
			},
			{
				Name:   "config",
				Usage:  "print the effective configuration as YAML",
				Action: configAction,
			},
			{
				Name:  "detect",
				Usage: "detect palms in a single image",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagImage, Required: true, Usage: "input image `FILE`"},
					&cli.StringFlag{Name: flagOutput, Usage: "write an annotated copy to `FILE`"},
				},
				Action: detectAction,
			},
			{
				Name:  "run",
				Usage: "detect palms in a camera or video stream",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: flagDevice, Usage: "capture device `ID`"},
					&cli.StringFlag{Name: flagVideo, Usage: "read frames from video `FILE` instead of a device"},
					&cli.StringFlag{Name: flagFrames, Usage: "read numbered frame images from `DIR` instead of a device"},
					&cli.BoolFlag{Name: flagShow, Usage: "show annotated frames in a window, 'q' quits"},
				},
				Action: runAction,
			},
		},
	}
}

// loadConfig reads the --config file, or returns the defaults.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg := config.Default()
	if path := c.String(flagConfig); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return config.Config{}, err
		}
	}
	if model := c.String(flagModel); model != "" {
		cfg.Model.Path = model
	}
	return cfg, nil
}
