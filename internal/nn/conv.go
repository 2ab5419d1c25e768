package nn

import (
	"fmt"
	"math/rand"
)

// Conv2D is a stride-1 2D convolution over NCHW input. Weights use the
// (out, in, kernel, kernel) layout.
type Conv2D struct {
	InChannels  int
	OutChannels int
	Kernel      int
	Padding     int

	Weight *Param
	Bias   *Param

	inH, inW int
	cols     [][]float32
}

// NewConv2D builds a convolution with uniform fan-in initialisation.
func NewConv2D(in, out, kernel, padding int, rng *rand.Rand) *Conv2D {
	c := &Conv2D{
		InChannels:  in,
		OutChannels: out,
		Kernel:      kernel,
		Padding:     padding,
		Weight:      newParam("weight", out, in, kernel, kernel),
		Bias:        newParam("bias", out),
	}
	bound := fanInBound(in * kernel * kernel)
	c.Weight.uniform(rng, bound)
	c.Bias.uniform(rng, bound)
	return c
}

func (c *Conv2D) Params() []*Param {
	return []*Param{c.Weight, c.Bias}
}

func (c *Conv2D) outSize(h, w int) (int, int) {
	return h + 2*c.Padding - c.Kernel + 1, w + 2*c.Padding - c.Kernel + 1
}

func (c *Conv2D) Forward(x *Batch, train bool) (*Batch, error) {
	if err := x.validate(); err != nil {
		return nil, fmt.Errorf("conv2d: %w", err)
	}
	if x.C != c.InChannels {
		return nil, fmt.Errorf("conv2d: expected %d input channels, got %d", c.InChannels, x.C)
	}
	oh, ow := c.outSize(x.H, x.W)
	if oh <= 0 || ow <= 0 {
		return nil, fmt.Errorf("conv2d: input %dx%d smaller than kernel %d", x.H, x.W, c.Kernel)
	}

	rows := c.InChannels * c.Kernel * c.Kernel
	spatial := oh * ow
	y := NewBatch(x.N, c.OutChannels, oh, ow)
	weight := matrix(c.OutChannels, rows, c.Weight.Data())
	bias := c.Bias.Data()

	var cached [][]float32
	if train {
		cached = make([][]float32, x.N)
	}
	cols := make([]float32, rows*spatial)
	for n := 0; n < x.N; n++ {
		if train {
			cols = make([]float32, rows*spatial)
			cached[n] = cols
		}
		c.im2col(x.Sample(n), x.H, x.W, oh, ow, cols)

		out := y.Sample(n)
		for o := 0; o < c.OutChannels; o++ {
			row := out[o*spatial : (o+1)*spatial]
			for i := range row {
				row[i] = bias[o]
			}
		}
		gemm(false, false, weight, matrix(rows, spatial, cols), 1, matrix(c.OutChannels, spatial, out))
	}

	if train {
		c.inH, c.inW = x.H, x.W
		c.cols = cached
	}
	return y, nil
}

func (c *Conv2D) Backward(dy *Batch) (*Batch, error) {
	if c.cols == nil {
		return nil, fmt.Errorf("conv2d: %w", ErrNoForward)
	}
	oh, ow := c.outSize(c.inH, c.inW)
	want := &Batch{N: len(c.cols), C: c.OutChannels, H: oh, W: ow}
	if dy.N != want.N || dy.C != want.C || dy.H != want.H || dy.W != want.W {
		return nil, shapeError("conv2d", want, dy)
	}

	rows := c.InChannels * c.Kernel * c.Kernel
	spatial := oh * ow
	weight := matrix(c.OutChannels, rows, c.Weight.Data())
	dWeight := matrix(c.OutChannels, rows, c.Weight.Grad)
	dBias := c.Bias.Grad

	dx := NewBatch(dy.N, c.InChannels, c.inH, c.inW)
	dcols := make([]float32, rows*spatial)
	for n := 0; n < dy.N; n++ {
		g := dy.Sample(n)
		gm := matrix(c.OutChannels, spatial, g)

		gemm(false, true, gm, matrix(rows, spatial, c.cols[n]), 1, dWeight)
		for o := 0; o < c.OutChannels; o++ {
			var sum float32
			for _, v := range g[o*spatial : (o+1)*spatial] {
				sum += v
			}
			dBias[o] += sum
		}

		gemm(true, false, weight, gm, 0, matrix(rows, spatial, dcols))
		c.col2im(dcols, c.inH, c.inW, oh, ow, dx.Sample(n))
	}

	c.cols = nil
	return dx, nil
}

// im2col unfolds one CHW sample into a (C·K·K)×(oh·ow) matrix, one row per
// weight position, so the convolution becomes a single matrix product.
func (c *Conv2D) im2col(x []float32, h, w, oh, ow int, cols []float32) {
	k, pad := c.Kernel, c.Padding
	spatial := oh * ow
	for ch := 0; ch < c.InChannels; ch++ {
		plane := x[ch*h*w : (ch+1)*h*w]
		for ky := 0; ky < k; ky++ {
			for kx := 0; kx < k; kx++ {
				row := ((ch*k+ky)*k + kx) * spatial
				dst := cols[row : row+spatial]
				for oy := 0; oy < oh; oy++ {
					iy := oy + ky - pad
					line := dst[oy*ow : (oy+1)*ow]
					if iy < 0 || iy >= h {
						for i := range line {
							line[i] = 0
						}
						continue
					}
					for ox := 0; ox < ow; ox++ {
						ix := ox + kx - pad
						if ix < 0 || ix >= w {
							line[ox] = 0
						} else {
							line[ox] = plane[iy*w+ix]
						}
					}
				}
			}
		}
	}
}

// col2im is the adjoint of im2col: it adds every column entry back onto the
// input pixel it was copied from.
func (c *Conv2D) col2im(cols []float32, h, w, oh, ow int, dx []float32) {
	k, pad := c.Kernel, c.Padding
	spatial := oh * ow
	for ch := 0; ch < c.InChannels; ch++ {
		plane := dx[ch*h*w : (ch+1)*h*w]
		for ky := 0; ky < k; ky++ {
			for kx := 0; kx < k; kx++ {
				row := ((ch*k+ky)*k + kx) * spatial
				src := cols[row : row+spatial]
				for oy := 0; oy < oh; oy++ {
					iy := oy + ky - pad
					if iy < 0 || iy >= h {
						continue
					}
					for ox := 0; ox < ow; ox++ {
						ix := ox + kx - pad
						if ix >= 0 && ix < w {
							plane[iy*w+ix] += src[oy*ow+ox]
						}
					}
				}
			}
		}
	}
}
