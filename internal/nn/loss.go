package nn

import (
	"fmt"
	"math"
)

// Softmax turns a logit vector into a probability distribution.
func Softmax(logits []float32) []float32 {
	probs := make([]float32, len(logits))
	if len(logits) == 0 {
		return probs
	}
	peak := logits[0]
	for _, v := range logits[1:] {
		if v > peak {
			peak = v
		}
	}
	var sum float64
	exps := make([]float64, len(logits))
	for i, v := range logits {
		exps[i] = math.Exp(float64(v - peak))
		sum += exps[i]
	}
	for i, e := range exps {
		probs[i] = float32(e / sum)
	}
	return probs
}

// Argmax returns the index and value of the largest element. The first
// maximum wins on ties.
func Argmax(values []float32) (int, float32) {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best, values[best]
}

// SoftmaxCrossEntropy returns the batch-mean cross-entropy between logits and
// integer labels together with the gradient with respect to the logits.
func SoftmaxCrossEntropy(logits *Batch, labels []int) (float64, *Batch, error) {
	if err := logits.validate(); err != nil {
		return 0, nil, fmt.Errorf("cross entropy: %w", err)
	}
	if len(labels) != logits.N {
		return 0, nil, fmt.Errorf("cross entropy: %d labels for %d samples", len(labels), logits.N)
	}
	if logits.N == 0 {
		return 0, nil, fmt.Errorf("cross entropy: empty batch")
	}

	classes := logits.Features()
	grad := NewBatch(logits.N, classes, 1, 1)
	scale := 1 / float32(logits.N)
	var loss float64
	for n, label := range labels {
		if label < 0 || label >= classes {
			return 0, nil, fmt.Errorf("cross entropy: label %d out of range [0, %d)", label, classes)
		}
		probs := Softmax(logits.Sample(n))
		loss -= math.Log(math.Max(float64(probs[label]), 1e-12))
		g := grad.Sample(n)
		for c, p := range probs {
			g[c] = p * scale
		}
		g[label] -= scale
	}
	return loss / float64(logits.N), grad, nil
}
