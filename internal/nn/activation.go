package nn

import "fmt"

// ReLU clamps negative activations to zero.
type ReLU struct {
	out *Batch
}

func (r *ReLU) Params() []*Param { return nil }

func (r *ReLU) Forward(x *Batch, train bool) (*Batch, error) {
	if err := x.validate(); err != nil {
		return nil, fmt.Errorf("relu: %w", err)
	}
	y := NewBatch(x.N, x.C, x.H, x.W)
	for i, v := range x.Data {
		if v > 0 {
			y.Data[i] = v
		}
	}
	if train {
		r.out = y
	}
	return y, nil
}

func (r *ReLU) Backward(dy *Batch) (*Batch, error) {
	if r.out == nil {
		return nil, fmt.Errorf("relu: %w", ErrNoForward)
	}
	if len(dy.Data) != len(r.out.Data) {
		return nil, shapeError("relu", r.out, dy)
	}
	dx := NewBatch(dy.N, dy.C, dy.H, dy.W)
	for i, v := range r.out.Data {
		if v > 0 {
			dx.Data[i] = dy.Data[i]
		}
	}
	r.out = nil
	return dx, nil
}

// Flatten turns an NCHW batch into N×(C·H·W) features.
type Flatten struct {
	c, h, w int
	seen    bool
}

func (f *Flatten) Params() []*Param { return nil }

func (f *Flatten) Forward(x *Batch, train bool) (*Batch, error) {
	if err := x.validate(); err != nil {
		return nil, fmt.Errorf("flatten: %w", err)
	}
	if train {
		f.c, f.h, f.w, f.seen = x.C, x.H, x.W, true
	}
	return x.Flat(), nil
}

func (f *Flatten) Backward(dy *Batch) (*Batch, error) {
	if !f.seen {
		return nil, fmt.Errorf("flatten: %w", ErrNoForward)
	}
	f.seen = false
	dx, err := dy.Reshape(f.c, f.h, f.w)
	if err != nil {
		return nil, fmt.Errorf("flatten: %w", err)
	}
	return dx, nil
}
