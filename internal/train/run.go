package train

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/plant-disease-api/internal/app"
	"github.com/Brownie44l1/plant-disease-api/internal/config"
	"github.com/Brownie44l1/plant-disease-api/internal/dataset"
	"github.com/Brownie44l1/plant-disease-api/internal/model"
)

// Report describes a finished training run. It is written as JSON when a
// report path is configured.
type Report struct {
	RunID             string       `json:"run_id"`
	StartedAt         time.Time    `json:"started_at"`
	FinishedAt        time.Time    `json:"finished_at"`
	Seed              int64        `json:"seed"`
	Device            string       `json:"device"`
	Classes           []string     `json:"classes"`
	ImagesPerClass    []int        `json:"images_per_class"`
	Samples           int          `json:"samples"`
	TrainSamples      int          `json:"train_samples"`
	ValidationSamples int          `json:"validation_samples"`
	Epochs            []EpochStats `json:"epochs"`
	ModelPath         string       `json:"model_path"`
	LabelsPath        string       `json:"labels_path"`
}

// Run executes the whole training pipeline described by env: scan the
// dataset, persist the taxonomy, cap and split the samples, fit a fresh
// network and save it.
func Run(ctx context.Context, env *app.Env) (*Report, error) {
	cfg := env.Config
	runID := uuid.NewString()
	log := env.Log.WithField("run", runID)

	seed := cfg.Training.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	report := &Report{
		RunID:      runID,
		StartedAt:  time.Now().UTC(),
		Seed:       seed,
		Device:     string(env.Device),
		ModelPath:  cfg.Paths.Model,
		LabelsPath: cfg.Paths.Labels,
	}
	log.WithField("device", env.Device).Info("Using device")

	log.WithField("path", cfg.Paths.Dataset).Info("Loading dataset")
	scan, err := dataset.ScanDir(cfg.Paths.Dataset)
	if err != nil {
		return nil, err
	}
	for _, name := range scan.EmptyClasses() {
		log.WithField("class", name).Warn("Class directory has no images")
	}
	report.Classes = scan.Classes
	report.ImagesPerClass = scan.Counts
	log.Infof("Total images: %d | Classes: %d", len(scan.Samples), len(scan.Classes))

	if err := dataset.WriteLabels(cfg.Paths.Labels, scan.Classes); err != nil {
		return nil, err
	}
	log.WithField("path", cfg.Paths.Labels).Info("Saved class names")

	limit := cfg.Training.MaxSamplesPerClass
	samples := dataset.CapPerClass(scan.Samples, len(scan.Classes), limit)
	if len(samples) == 0 {
		return nil, &config.ConfigurationError{Path: cfg.Paths.Dataset, Reason: "dataset has no images to train on"}
	}
	report.Samples = len(samples)
	log.Infof("Limited dataset size: %d (at most %d per class)", len(samples), limit)

	split := dataset.RandomSplit(len(samples), cfg.Training.TrainFraction, rng)
	if len(split.Train) == 0 {
		return nil, &config.ConfigurationError{
			Field:  "training.trainFraction",
			Reason: fmt.Sprintf("training subset of %d samples is empty", len(samples)),
		}
	}
	report.TrainSamples = len(split.Train)
	report.ValidationSamples = len(split.Validation)
	log.Infof("Train size: %d | Validation size: %d", len(split.Train), len(split.Validation))

	net, err := model.NewNetwork(len(scan.Classes), rng)
	if err != nil {
		return nil, err
	}

	log.Info("Starting training")
	trainer := NewTrainer(OptionsFrom(cfg.Training), log, rng)
	report.Epochs, err = trainer.Fit(ctx, net, dataset.New(samples, model.ImageSize), split)
	if err != nil {
		return nil, err
	}

	if err := model.SaveNetwork(cfg.Paths.Model, net, runID); err != nil {
		return nil, fmt.Errorf("failed to save model: %w", err)
	}
	log.WithField("path", cfg.Paths.Model).Info("Model saved")

	report.FinishedAt = time.Now().UTC()
	if cfg.Paths.Report != "" {
		if err := writeReport(cfg.Paths.Report, report); err != nil {
			return nil, err
		}
		log.WithFields(logrus.Fields{"path": cfg.Paths.Report}).Info("Report saved")
	}
	return report, nil
}

func writeReport(path string, report *Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
