package model

import (
	"fmt"
	"image"
	"io"

	"github.com/Brownie44l1/plant-disease-api/internal/imaging"
	"github.com/Brownie44l1/plant-disease-api/internal/nn"
)

// Backend computes class logits for one preprocessed CHW image of
// InputSize×InputSize pixels.
type Backend interface {
	Logits(input []float32) ([]float32, error)
	InputSize() int
	Close() error
}

// Predictor turns images into decoded predictions. It holds no mutable
// state of its own; concurrency safety is that of the backend.
type Predictor struct {
	backend Backend
	Classes []string
}

func NewPredictor(backend Backend, classes []string) (*Predictor, error) {
	if len(classes) == 0 {
		return nil, fmt.Errorf("predictor needs a non-empty taxonomy")
	}
	return &Predictor{backend: backend, Classes: classes}, nil
}

// InputSize is the square resolution images are resized to.
func (p *Predictor) InputSize() int {
	return p.backend.InputSize()
}

// PredictTensor classifies an already preprocessed image.
func (p *Predictor) PredictTensor(input []float32) (*PredictionResult, error) {
	size := p.backend.InputSize()
	if want := imaging.Channels * size * size; len(input) != want {
		return nil, fmt.Errorf("expected %d values, got %d", want, len(input))
	}

	logits, err := p.backend.Logits(input)
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	if len(logits) != len(p.Classes) {
		return nil, &ArtifactMismatchError{Key: "logits", Expected: []int{len(p.Classes)}, Actual: []int{len(logits)}}
	}

	idx, prob := nn.Argmax(nn.Softmax(logits))
	label := p.Classes[idx]
	crop, disease := DecodeLabel(label)
	return &PredictionResult{
		Crop:       crop,
		Disease:    disease,
		Label:      label,
		Confidence: prob,
	}, nil
}

func (p *Predictor) PredictImage(img image.Image) (*PredictionResult, error) {
	return p.PredictTensor(imaging.Preprocess(img, p.backend.InputSize()))
}

// Predict decodes and classifies an encoded image.
func (p *Predictor) Predict(r io.Reader) (*PredictionResult, error) {
	img, err := imaging.Decode(r, "<stream>")
	if err != nil {
		return nil, err
	}
	return p.PredictImage(img)
}

func (p *Predictor) PredictFile(path string) (*PredictionResult, error) {
	input, err := imaging.LoadFile(path, p.backend.InputSize())
	if err != nil {
		return nil, err
	}
	return p.PredictTensor(input)
}

// PredictLabel returns only the raw class name and its probability.
func (p *Predictor) PredictLabel(r io.Reader) (string, float32, error) {
	res, err := p.Predict(r)
	if err != nil {
		return "", 0, err
	}
	return res.Label, res.Confidence, nil
}

func (p *Predictor) Close() error {
	return p.backend.Close()
}
