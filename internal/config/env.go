package config

import (
	"github.com/spf13/cast"
)

// EnvPrefix prefixes every environment override except PORT.
const EnvPrefix = "PLANT_"

// ApplyEnv overrides settings from the environment. PORT is honoured as is,
// the rest use the PLANT_ prefix, e.g. PLANT_EPOCHS=3.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"PORT":                      &c.Server.Port,
		EnvPrefix + "DATASET":       &c.Paths.Dataset,
		EnvPrefix + "MODEL":         &c.Paths.Model,
		EnvPrefix + "LABELS":        &c.Paths.Labels,
		EnvPrefix + "REPORT":        &c.Paths.Report,
		EnvPrefix + "UPLOAD_DIR":    &c.Server.UploadDir,
		EnvPrefix + "LOG_LEVEL":     &c.Log.Level,
		EnvPrefix + "LOG_FORMAT":    &c.Log.Format,
		EnvPrefix + "ONNX_MODEL":    &c.Model.OnnxModel,
		EnvPrefix + "ONNX_METADATA": &c.Model.OnnxMetadata,
		EnvPrefix + "ONNX_LIB":      &c.Model.OnnxLibrary,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	if v, ok := lookup(EnvPrefix + "BACKEND"); ok {
		c.Model.Backend = Backend(v)
	}
	if v, ok := lookup(EnvPrefix + "DEVICE"); ok {
		c.Model.Device = Device(v)
	}

	ints := map[string]*int{
		EnvPrefix + "EPOCHS":      &c.Training.Epochs,
		EnvPrefix + "BATCH_SIZE":  &c.Training.BatchSize,
		EnvPrefix + "MAX_SAMPLES": &c.Training.MaxSamplesPerClass,
		EnvPrefix + "LOG_EVERY":   &c.Training.LogEvery,
	}
	for key, dst := range ints {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		n, err := cast.ToIntE(v)
		if err != nil {
			return &ConfigurationError{Field: key, Reason: "invalid integer", Err: err}
		}
		*dst = n
	}

	floats := map[string]*float64{
		EnvPrefix + "LEARNING_RATE":  &c.Training.LearningRate,
		EnvPrefix + "TRAIN_FRACTION": &c.Training.TrainFraction,
	}
	for key, dst := range floats {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		f, err := cast.ToFloat64E(v)
		if err != nil {
			return &ConfigurationError{Field: key, Reason: "invalid number", Err: err}
		}
		*dst = f
	}

	if v, ok := lookup(EnvPrefix + "SEED"); ok {
		seed, err := cast.ToInt64E(v)
		if err != nil {
			return &ConfigurationError{Field: EnvPrefix + "SEED", Reason: "invalid integer", Err: err}
		}
		c.Training.Seed = seed
	}
	if v, ok := lookup(EnvPrefix + "VALIDATE"); ok {
		b, err := cast.ToBoolE(v)
		if err != nil {
			return &ConfigurationError{Field: EnvPrefix + "VALIDATE", Reason: "invalid boolean", Err: err}
		}
		c.Training.Validate = b
	}
	return nil
}
