package inference

import (
	"strconv"

	"github.com/nvr-ai/go-palm/config"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// sessionOptions builds onnxruntime options for the configured provider. The
// caller destroys the result.
func sessionOptions(m config.Model) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "create session options")
	}

	if err := configureOptions(options, m); err != nil {
		options.Destroy()
		return nil, err
	}
	return options, nil
}

func configureOptions(options *ort.SessionOptions, m config.Model) error {
	if m.IntraOpThreads > 0 {
		if err := options.SetIntraOpNumThreads(m.IntraOpThreads); err != nil {
			return errors.Wrap(err, "set intra op threads")
		}
	}
	if m.InterOpThreads > 0 {
		if err := options.SetInterOpNumThreads(m.InterOpThreads); err != nil {
			return errors.Wrap(err, "set inter op threads")
		}
	}
	if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended); err != nil {
		return errors.Wrap(err, "set graph optimization level")
	}

	switch m.Provider {
	case "", config.ProviderCPU:
		return nil
	case config.ProviderCoreML:
		return errors.Wrap(options.AppendExecutionProviderCoreML(0), "enable coreml")
	case config.ProviderOpenVINO:
		return errors.Wrap(options.AppendExecutionProviderOpenVINO(map[string]string{
			"device_type": "CPU",
			"device_id":   strconv.Itoa(m.DeviceID),
			"precision":   "FP32",
		}), "enable openvino")
	case config.ProviderCUDA:
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return errors.Wrap(err, "create cuda options")
		}
		defer cuda.Destroy()
		if err := cuda.Update(map[string]string{"device_id": strconv.Itoa(m.DeviceID)}); err != nil {
			return errors.Wrap(err, "update cuda options")
		}
		return errors.Wrap(options.AppendExecutionProviderCUDA(cuda), "enable cuda")
	}
	return errors.Wrapf(config.ErrInvalid, "unknown provider %q", m.Provider)
}
