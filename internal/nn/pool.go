package nn

import "fmt"

// MaxPool2D takes the maximum over non-overlapping Size×Size windows.
// Trailing rows and columns that do not fill a window are dropped.
type MaxPool2D struct {
	Size int

	in     *Batch
	argmax []int32
}

func NewMaxPool2D(size int) *MaxPool2D {
	return &MaxPool2D{Size: size}
}

func (p *MaxPool2D) Params() []*Param { return nil }

func (p *MaxPool2D) Forward(x *Batch, train bool) (*Batch, error) {
	if err := x.validate(); err != nil {
		return nil, fmt.Errorf("maxpool2d: %w", err)
	}
	s := p.Size
	oh, ow := x.H/s, x.W/s
	if oh == 0 || ow == 0 {
		return nil, fmt.Errorf("maxpool2d: input %dx%d smaller than window %d", x.H, x.W, s)
	}

	y := NewBatch(x.N, x.C, oh, ow)
	var argmax []int32
	if train {
		argmax = make([]int32, len(y.Data))
	}

	for n := 0; n < x.N; n++ {
		for ch := 0; ch < x.C; ch++ {
			base := (n*x.C + ch) * x.H * x.W
			obase := (n*x.C + ch) * oh * ow
			for oy := 0; oy < oh; oy++ {
				for ox := 0; ox < ow; ox++ {
					best := base + (oy*s)*x.W + ox*s
					for ky := 0; ky < s; ky++ {
						for kx := 0; kx < s; kx++ {
							idx := base + (oy*s+ky)*x.W + ox*s + kx
							if x.Data[idx] > x.Data[best] {
								best = idx
							}
						}
					}
					o := obase + oy*ow + ox
					y.Data[o] = x.Data[best]
					if train {
						argmax[o] = int32(best)
					}
				}
			}
		}
	}

	if train {
		p.in = &Batch{N: x.N, C: x.C, H: x.H, W: x.W}
		p.argmax = argmax
	}
	return y, nil
}

func (p *MaxPool2D) Backward(dy *Batch) (*Batch, error) {
	if p.argmax == nil {
		return nil, fmt.Errorf("maxpool2d: %w", ErrNoForward)
	}
	if len(dy.Data) != len(p.argmax) {
		want := &Batch{N: p.in.N, C: p.in.C, H: p.in.H / p.Size, W: p.in.W / p.Size}
		return nil, shapeError("maxpool2d", want, dy)
	}
	dx := NewBatch(p.in.N, p.in.C, p.in.H, p.in.W)
	for o, idx := range p.argmax {
		dx.Data[idx] += dy.Data[o]
	}
	p.argmax = nil
	return dx, nil
}
