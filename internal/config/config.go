package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Device string

const (
	DeviceAuto Device = "auto"
	DeviceCPU  Device = "cpu"
	DeviceCUDA Device = "cuda"
)

type Backend string

const (
	BackendNative Backend = "native"
	BackendONNX   Backend = "onnx"
)

const DefaultConfigPath = "config.yaml"

// Config contains the settings shared by training, the CLI and the server
type Config struct {
	Paths    PathsConfig    `yaml:"paths"`
	Training TrainingConfig `yaml:"training"`
	Model    ModelConfig    `yaml:"model"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

// PathsConfig locates the dataset and the artifacts produced from it
type PathsConfig struct {
	Dataset string `yaml:"dataset"` // root whose subdirectories are class names
	Model   string `yaml:"model"`   // safetensors weights written after training
	Labels  string `yaml:"labels"`  // one class name per line
	Report  string `yaml:"report"`  // optional json training report, empty to skip
}

// TrainingConfig contains the fixed hyperparameters of a training run
type TrainingConfig struct {
	MaxSamplesPerClass int     `yaml:"maxSamplesPerClass"` // 0 keeps every image
	Epochs             int     `yaml:"epochs"`
	BatchSize          int     `yaml:"batchSize"`
	LearningRate       float64 `yaml:"learningRate"`
	TrainFraction      float64 `yaml:"trainFraction"`
	Seed               int64   `yaml:"seed"`     // 0 seeds from the clock
	LogEvery           int     `yaml:"logEvery"` // batches between progress lines
	Validate           bool    `yaml:"validate"` // report validation metrics after each epoch
}

// ModelConfig selects the inference backend and where it runs
type ModelConfig struct {
	Backend      Backend `yaml:"backend"`
	Device       Device  `yaml:"device"`
	OnnxModel    string  `yaml:"onnxModel"`
	OnnxMetadata string  `yaml:"onnxMetadata"`
	OnnxLibrary  string  `yaml:"onnxLibrary"` // path of the onnxruntime shared library
}

// ServerConfig contains the HTTP settings
type ServerConfig struct {
	Port        string `yaml:"port"`
	UploadDir   string `yaml:"uploadDir"` // uploads are archived here when set
	MaxUploadMB int64  `yaml:"maxUploadMB"`
}

// LogConfig contains the logger settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

func NewDefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			Dataset: "dataset",
			Model:   "model/plant_disease_cnn.safetensors",
			Labels:  "class_names.txt",
		},
		Training: TrainingConfig{
			MaxSamplesPerClass: 30,
			Epochs:             10,
			BatchSize:          16,
			LearningRate:       0.001,
			TrainFraction:      0.8,
			LogEvery:           10,
			Validate:           true,
		},
		Model: ModelConfig{
			Backend: BackendNative,
			Device:  DeviceAuto,
		},
		Server: ServerConfig{
			Port:        "8080",
			MaxUploadMB: 10,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfigFile reads a yaml config on top of the defaults. A missing file
// yields the defaults.
func LoadConfigFile(path string) (*Config, error) {
	cfg := NewDefaultConfig()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Load reads the config file, applies environment overrides and validates
// the result.
func Load(path string) (*Config, error) {
	cfg, err := LoadConfigFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Paths.Dataset == "":
		return &ConfigurationError{Field: "paths.dataset", Reason: "must not be empty"}
	case c.Paths.Model == "":
		return &ConfigurationError{Field: "paths.model", Reason: "must not be empty"}
	case c.Paths.Labels == "":
		return &ConfigurationError{Field: "paths.labels", Reason: "must not be empty"}
	case c.Training.Epochs <= 0:
		return &ConfigurationError{Field: "training.epochs", Reason: "must be positive"}
	case c.Training.BatchSize <= 0:
		return &ConfigurationError{Field: "training.batchSize", Reason: "must be positive"}
	case c.Training.LearningRate <= 0:
		return &ConfigurationError{Field: "training.learningRate", Reason: "must be positive"}
	case c.Training.TrainFraction <= 0 || c.Training.TrainFraction > 1:
		return &ConfigurationError{Field: "training.trainFraction", Reason: "must be in (0, 1]"}
	case c.Training.MaxSamplesPerClass < 0:
		return &ConfigurationError{Field: "training.maxSamplesPerClass", Reason: "must not be negative"}
	}

	switch c.Model.Backend {
	case BackendNative:
	case BackendONNX:
		if c.Model.OnnxModel == "" {
			return &ConfigurationError{Field: "model.onnxModel", Reason: "required by the onnx backend"}
		}
	default:
		return &ConfigurationError{Field: "model.backend", Reason: fmt.Sprintf("unknown backend %q", c.Model.Backend)}
	}

	switch c.Model.Device {
	case DeviceAuto, DeviceCPU, DeviceCUDA:
	default:
		return &ConfigurationError{Field: "model.device", Reason: fmt.Sprintf("unknown device %q", c.Model.Device)}
	}
	return nil
}
