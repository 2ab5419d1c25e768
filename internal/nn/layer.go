package nn

import (
	"errors"
	"fmt"
)

// ErrNoForward is returned by Backward when no training-mode Forward
// preceded it.
var ErrNoForward = errors.New("backward called without a training forward pass")

// Layer is one differentiable stage of a network.
//
// Forward with train=false must not retain any state, so several goroutines
// may run inference through the same layer at once. Backward consumes the
// activations cached by the last training Forward, accumulates parameter
// gradients and returns the gradient with respect to the layer input.
type Layer interface {
	Forward(x *Batch, train bool) (*Batch, error)
	Backward(dy *Batch) (*Batch, error)
	Params() []*Param
}

func shapeError(layer string, want, got *Batch) error {
	return fmt.Errorf("%s: expected gradient %s, got %s", layer, want.shape(), got.shape())
}
