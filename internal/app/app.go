// Package app builds the runtime context shared by the training CLI, the
// prediction CLI and the HTTP server.
package app

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/plant-disease-api/internal/config"
	"github.com/Brownie44l1/plant-disease-api/internal/dataset"
	"github.com/Brownie44l1/plant-disease-api/internal/model"
)

// Env is the resolved configuration together with the logger and the
// compute device. It is built once per process and passed down explicitly.
type Env struct {
	Config *config.Config
	Log    *logrus.Logger
	Device config.Device
}

func New(cfg *config.Config) (*Env, error) {
	log, err := NewLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	env := &Env{
		Config: cfg,
		Log:    log,
		Device: ResolveDevice(cfg.Model.Backend, cfg.Model.Device),
	}
	if cfg.Model.Device == config.DeviceCUDA && env.Device != config.DeviceCUDA {
		log.Warnf("device %s is not supported by the %s backend, using %s", cfg.Model.Device, cfg.Model.Backend, env.Device)
	}
	return env, nil
}

// Load reads the config at path and builds an Env from it.
func Load(path string) (*Env, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return New(cfg)
}

func NewLogger(cfg config.LogConfig) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(os.Stderr)

	level := cfg.Level
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, &config.ConfigurationError{Field: "log.level", Reason: fmt.Sprintf("unknown level %q", cfg.Level)}
	}
	log.SetLevel(lvl)

	switch cfg.Format {
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, &config.ConfigurationError{Field: "log.format", Reason: fmt.Sprintf("unknown format %q", cfg.Format)}
	}
	return log, nil
}

// ResolveDevice decides where the model runs. The native network only runs
// on the CPU; onnxruntime tries CUDA for auto and cuda and falls back for
// auto.
func ResolveDevice(backend config.Backend, device config.Device) config.Device {
	if backend != config.BackendONNX {
		return config.DeviceCPU
	}
	if device == "" {
		return config.DeviceAuto
	}
	return device
}

// NewPredictor loads the taxonomy and the configured backend. The caller
// owns the predictor and must Close it.
func (e *Env) NewPredictor() (*model.Predictor, error) {
	paths := e.Config.Paths
	classes, err := dataset.ReadLabels(paths.Labels)
	if err != nil {
		return nil, err
	}

	var backend model.Backend
	switch e.Config.Model.Backend {
	case config.BackendONNX:
		onnx, err := e.newOnnxBackend(classes)
		if err != nil {
			return nil, err
		}
		backend = onnx
	default:
		net, err := model.LoadNetwork(paths.Model, len(classes))
		if err != nil {
			return nil, err
		}
		e.Log.WithFields(logrus.Fields{"path": paths.Model, "classes": len(classes), "device": e.Device}).Info("Loaded model")
		backend = net
	}
	return model.NewPredictor(backend, classes)
}

func (e *Env) newOnnxBackend(classes []string) (*model.OnnxBackend, error) {
	m := e.Config.Model
	metadata, err := model.LoadMetadata(m.OnnxMetadata)
	if err != nil {
		return nil, err
	}
	backend, err := model.NewOnnxBackend(m.OnnxModel, metadata, classes, model.OnnxOptions{
		LibraryPath: m.OnnxLibrary,
		UseCUDA:     e.Device != config.DeviceCPU,
		RequireCUDA: e.Device == config.DeviceCUDA,
	})
	if err != nil {
		return nil, err
	}
	if backend.CUDAFallback != nil {
		e.Log.WithError(backend.CUDAFallback).Warn("CUDA unavailable, running ONNX model on CPU")
	}
	e.Log.WithFields(logrus.Fields{"path": m.OnnxModel, "classes": len(classes), "device": backend.Device}).Info("Loaded ONNX model")
	return backend, nil
}
