// Package config - YAML configuration of the palm detection pipeline.
package config

import (
	"bytes"
	"io"
	"os"

	"github.com/nvr-ai/go-palm/anchors"
	"github.com/nvr-ai/go-palm/models/palm"
	"github.com/nvr-ai/go-palm/models/postprocess"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned for configuration values that no component accepts.
var ErrInvalid = errors.New("invalid config")

// Channel orders of the model input tensor.
const (
	ChannelOrderCHW = "chw"
	ChannelOrderHWC = "hwc"
)

// Execution providers understood by the inference session.
const (
	ProviderCPU      = "cpu"
	ProviderCUDA     = "cuda"
	ProviderCoreML   = "coreml"
	ProviderOpenVINO = "openvino"
)

// Model locates the ONNX model and names its tensors.
type Model struct {
	// Path is the ONNX model file.
	Path string `json:"path" yaml:"path"`
	// SharedLibraryPath overrides the onnxruntime library location.
	SharedLibraryPath string `json:"shared_library_path" yaml:"shared_library_path"`
	// InputName is the name of the image input tensor.
	InputName string `json:"input_name" yaml:"input_name"`
	// ScoresName is the name of the classification output.
	ScoresName string `json:"scores_name" yaml:"scores_name"`
	// RegressorsName is the name of the box regression output.
	RegressorsName string `json:"regressors_name" yaml:"regressors_name"`
	// ChannelOrder is "chw" (planar) or "hwc" (interleaved).
	ChannelOrder string `json:"channel_order" yaml:"channel_order"`
	// Provider selects the onnxruntime execution provider; empty means cpu.
	Provider string `json:"provider" yaml:"provider"`
	// DeviceID is the accelerator index for cuda and openvino.
	DeviceID int `json:"device_id" yaml:"device_id"`
	// IntraOpThreads and InterOpThreads size the onnxruntime thread pools; 0 keeps
	// the runtime default.
	IntraOpThreads int `json:"intra_op_threads" yaml:"intra_op_threads"`
	InterOpThreads int `json:"inter_op_threads" yaml:"inter_op_threads"`
}

// Config is the complete pipeline configuration. It is read once at startup.
type Config struct {
	Anchors anchors.Config        `json:"anchors" yaml:"anchors"`
	Decoder palm.Options          `json:"decoder" yaml:"decoder"`
	NMS     postprocess.NMSConfig `json:"nms" yaml:"nms"`
	Model   Model                 `json:"model" yaml:"model"`
}

// Default returns the palm detection configuration: 896 anchors, a 0.5 score
// threshold and a 0.3 IoU threshold.
func Default() Config {
	return Config{
		Anchors: anchors.PalmConfig(),
		Decoder: palm.DefaultOptions(),
		NMS:     postprocess.DefaultNMSConfig(),
		Model: Model{
			Path:           "palm_detection.onnx",
			InputName:      "input",
			ScoresName:     "classificators",
			RegressorsName: "regressors",
			ChannelOrder:   ChannelOrderCHW,
			Provider:       ProviderCPU,
		},
	}
}

// Load reads a YAML file over the defaults and validates the result.
//
// Arguments:
//   - path: Path to the YAML file.
//
// Returns:
//   - Config: The merged configuration.
//   - error: An error if the file cannot be read, holds unknown fields, or
//     fails validation.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, errors.Wrap(err, "decode yaml")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every problem found in the configuration.
func (c Config) Validate() error {
	var err error

	anchorErr := c.Anchors.Validate()
	err = multierr.Append(err, anchorErr)
	err = multierr.Append(err, c.Decoder.Validate())

	if anchorErr == nil {
		n, _ := anchors.Count(c.Anchors)
		if n != c.Decoder.NumBoxes {
			err = multierr.Append(err, errors.Wrapf(anchors.ErrCountMismatch,
				"anchors produce %d boxes, decoder expects %d", n, c.Decoder.NumBoxes))
		}
	}

	if c.NMS.IoUThreshold < 0 || c.NMS.IoUThreshold > 1 {
		err = multierr.Append(err, errors.Wrapf(ErrInvalid, "nms iou_threshold must be within [0, 1], got %g", c.NMS.IoUThreshold))
	}
	if c.NMS.QuantizeFactor < 0 {
		err = multierr.Append(err, errors.Wrapf(ErrInvalid, "nms quantize_factor must not be negative, got %d", c.NMS.QuantizeFactor))
	}

	switch c.Model.ChannelOrder {
	case "", ChannelOrderCHW, ChannelOrderHWC:
	default:
		err = multierr.Append(err, errors.Wrapf(ErrInvalid, "unknown channel_order %q", c.Model.ChannelOrder))
	}

	switch c.Model.Provider {
	case "", ProviderCPU, ProviderCUDA, ProviderCoreML, ProviderOpenVINO:
	default:
		err = multierr.Append(err, errors.Wrapf(ErrInvalid, "unknown provider %q", c.Model.Provider))
	}
	if c.Model.DeviceID < 0 || c.Model.IntraOpThreads < 0 || c.Model.InterOpThreads < 0 {
		err = multierr.Append(err, errors.Wrap(ErrInvalid, "device_id and thread counts must not be negative"))
	}

	return err
}

// Encode writes c as YAML.
func (c Config) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return errors.Wrap(err, "encode yaml")
	}
	return enc.Close()
}
