package nn

import (
	"fmt"
	"math/rand"
)

// Linear is a fully connected layer, y = x·Wᵀ + b, with W stored (out, in).
type Linear struct {
	In, Out int

	Weight *Param
	Bias   *Param

	x *Batch
}

func NewLinear(in, out int, rng *rand.Rand) *Linear {
	l := &Linear{
		In:     in,
		Out:    out,
		Weight: newParam("weight", out, in),
		Bias:   newParam("bias", out),
	}
	bound := fanInBound(in)
	l.Weight.uniform(rng, bound)
	l.Bias.uniform(rng, bound)
	return l
}

func (l *Linear) Params() []*Param {
	return []*Param{l.Weight, l.Bias}
}

func (l *Linear) Forward(x *Batch, train bool) (*Batch, error) {
	if err := x.validate(); err != nil {
		return nil, fmt.Errorf("linear: %w", err)
	}
	if x.Features() != l.In {
		return nil, fmt.Errorf("linear: expected %d input features, got %d", l.In, x.Features())
	}

	y := NewBatch(x.N, l.Out, 1, 1)
	bias := l.Bias.Data()
	for n := 0; n < x.N; n++ {
		copy(y.Sample(n), bias)
	}
	gemm(false, true, matrix(x.N, l.In, x.Data), matrix(l.Out, l.In, l.Weight.Data()), 1, matrix(x.N, l.Out, y.Data))

	if train {
		l.x = x.Flat()
	}
	return y, nil
}

func (l *Linear) Backward(dy *Batch) (*Batch, error) {
	if l.x == nil {
		return nil, fmt.Errorf("linear: %w", ErrNoForward)
	}
	if dy.N != l.x.N || dy.Features() != l.Out {
		return nil, shapeError("linear", &Batch{N: l.x.N, C: l.Out, H: 1, W: 1}, dy)
	}

	g := matrix(dy.N, l.Out, dy.Data)
	gemm(true, false, g, matrix(l.x.N, l.In, l.x.Data), 1, matrix(l.Out, l.In, l.Weight.Grad))
	for n := 0; n < dy.N; n++ {
		for o, v := range dy.Sample(n) {
			l.Bias.Grad[o] += v
		}
	}

	dx := NewBatch(dy.N, l.In, 1, 1)
	gemm(false, false, g, matrix(l.Out, l.In, l.Weight.Data()), 0, matrix(dy.N, l.In, dx.Data))

	l.x = nil
	return dx, nil
}
