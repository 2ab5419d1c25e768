// Package train fits the classifier on an image-folder dataset and writes
// the artifacts the inference path consumes.
package train

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/plant-disease-api/internal/config"
	"github.com/Brownie44l1/plant-disease-api/internal/dataset"
	"github.com/Brownie44l1/plant-disease-api/internal/model"
	"github.com/Brownie44l1/plant-disease-api/internal/nn"
)

// Options are the hyperparameters of one training run.
type Options struct {
	Epochs       int
	BatchSize    int
	LearningRate float64
	LogEvery     int
	Validate     bool
}

func OptionsFrom(cfg config.TrainingConfig) Options {
	return Options{
		Epochs:       cfg.Epochs,
		BatchSize:    cfg.BatchSize,
		LearningRate: cfg.LearningRate,
		LogEvery:     cfg.LogEvery,
		Validate:     cfg.Validate,
	}
}

// StepError wraps a failure inside the training loop. Batch is 1-based; 0
// means the failure happened while evaluating the validation subset.
type StepError struct {
	Epoch int
	Batch int
	Err   error
}

func (e *StepError) Error() string {
	if e.Batch == 0 {
		return fmt.Sprintf("epoch %d validation: %v", e.Epoch, e.Err)
	}
	return fmt.Sprintf("epoch %d batch %d: %v", e.Epoch, e.Batch, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Metrics summarises a pass over a subset.
type Metrics struct {
	Loss     float64 `json:"loss"`
	Accuracy float64 `json:"accuracy"`
	Samples  int     `json:"samples"`
	Batches  int     `json:"batches"`
}

// EpochStats are the training metrics of one epoch plus, when enabled, the
// validation metrics measured after it.
type EpochStats struct {
	Epoch      int      `json:"epoch"`
	Steps      int      `json:"steps"` // optimizer updates applied so far
	Train      Metrics  `json:"train"`
	Validation *Metrics `json:"validation,omitempty"`
}

type Trainer struct {
	Options
	Log *logrus.Entry
	rng *rand.Rand
}

func NewTrainer(opts Options, log *logrus.Entry, rng *rand.Rand) *Trainer {
	return &Trainer{Options: opts, Log: log, rng: rng}
}

// Fit trains net on the training positions of split. ctx is checked before
// every batch; on cancellation the stats of the completed epochs are
// returned with ctx's error.
func (t *Trainer) Fit(ctx context.Context, net *model.Network, ds *dataset.Dataset, split dataset.Split) ([]EpochStats, error) {
	if len(split.Train) == 0 {
		return nil, &config.ConfigurationError{Reason: "training subset is empty"}
	}
	if t.BatchSize <= 0 {
		return nil, &config.ConfigurationError{Field: "training.batchSize", Reason: "must be positive"}
	}

	opt := nn.NewAdam(net.Params(), t.LearningRate)
	var history []EpochStats
	for epoch := 1; epoch <= t.Epochs; epoch++ {
		log := t.Log.WithField("epoch", epoch)
		log.Infof("Epoch %d/%d", epoch, t.Epochs)

		order := append([]int(nil), split.Train...)
		t.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		var lossSum float64
		correct, total := 0, 0
		batches := dataset.Batches(order, t.BatchSize)
		for i, positions := range batches {
			if err := ctx.Err(); err != nil {
				return history, err
			}
			loss, hits, err := t.step(net, opt, ds, positions)
			if err != nil {
				return history, &StepError{Epoch: epoch, Batch: i + 1, Err: err}
			}
			lossSum += loss
			correct += hits
			total += len(positions)
			if t.LogEvery > 0 && i%t.LogEvery == 0 {
				log.WithField("batch", i).Infof("loss=%.4f", loss)
			}
		}

		stats := EpochStats{Epoch: epoch, Steps: opt.Steps(), Train: Metrics{
			Loss:     lossSum / float64(len(batches)),
			Accuracy: 100 * float64(correct) / float64(total),
			Samples:  total,
			Batches:  len(batches),
		}}
		log.WithFields(logrus.Fields{"loss": stats.Train.Loss, "accuracy": stats.Train.Accuracy}).
			Infof("Epoch %d completed, loss %.4f, accuracy %.2f%%", epoch, stats.Train.Loss, stats.Train.Accuracy)

		if t.Validate && len(split.Validation) > 0 {
			m, err := t.Evaluate(ctx, net, ds, split.Validation)
			if err != nil {
				if ctx.Err() != nil {
					return history, err
				}
				return history, &StepError{Epoch: epoch, Err: err}
			}
			stats.Validation = m
			log.WithFields(logrus.Fields{"val_loss": m.Loss, "val_accuracy": m.Accuracy}).
				Infof("Validation loss %.4f, accuracy %.2f%%", m.Loss, m.Accuracy)
		}
		history = append(history, stats)
	}
	return history, nil
}

func (t *Trainer) step(net *model.Network, opt *nn.Adam, ds *dataset.Dataset, positions []int) (float64, int, error) {
	x, labels, err := ds.Batch(positions)
	if err != nil {
		return 0, 0, err
	}
	opt.ZeroGrad()
	logits, err := net.Forward(x, true)
	if err != nil {
		return 0, 0, err
	}
	loss, grad, err := nn.SoftmaxCrossEntropy(logits, labels)
	if err != nil {
		return 0, 0, err
	}
	if err := net.Backward(grad); err != nil {
		return 0, 0, err
	}
	opt.Step()
	return loss, countCorrect(logits, labels), nil
}

// Evaluate measures loss and accuracy over positions without touching the
// parameters.
func (t *Trainer) Evaluate(ctx context.Context, net *model.Network, ds *dataset.Dataset, positions []int) (*Metrics, error) {
	m := &Metrics{}
	var lossSum float64
	correct := 0
	for _, chunk := range dataset.Batches(positions, t.BatchSize) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		x, labels, err := ds.Batch(chunk)
		if err != nil {
			return nil, err
		}
		logits, err := net.Forward(x, false)
		if err != nil {
			return nil, err
		}
		loss, _, err := nn.SoftmaxCrossEntropy(logits, labels)
		if err != nil {
			return nil, err
		}
		lossSum += loss
		correct += countCorrect(logits, labels)
		m.Samples += len(chunk)
		m.Batches++
	}
	if m.Batches > 0 {
		m.Loss = lossSum / float64(m.Batches)
		m.Accuracy = 100 * float64(correct) / float64(m.Samples)
	}
	return m, nil
}

func countCorrect(logits *nn.Batch, labels []int) int {
	correct := 0
	for i, label := range labels {
		if idx, _ := nn.Argmax(logits.Sample(i)); idx == label {
			correct++
		}
	}
	return correct
}
