// Package nn implements the small set of layers, the loss and the optimizer
// needed to train a convolutional image classifier on the CPU.
//
// Activations travel between layers as NCHW batches of float32. Learnable
// parameters are gorgonia dense tensors so they can be handed around as a
// named dictionary and persisted by shape.
package nn

import "fmt"

// Batch is a dense NCHW block of activations. Fully connected layers use
// H = W = 1 and C as the feature count.
type Batch struct {
	N, C, H, W int
	Data       []float32
}

// NewBatch allocates a zeroed batch.
func NewBatch(n, c, h, w int) *Batch {
	return &Batch{N: n, C: c, H: h, W: w, Data: make([]float32, n*c*h*w)}
}

// Features is the size of one sample.
func (b *Batch) Features() int {
	return b.C * b.H * b.W
}

// Sample returns the slice backing sample i.
func (b *Batch) Sample(i int) []float32 {
	f := b.Features()
	return b.Data[i*f : (i+1)*f]
}

// Flat views the batch as N×Features without copying.
func (b *Batch) Flat() *Batch {
	return &Batch{N: b.N, C: b.Features(), H: 1, W: 1, Data: b.Data}
}

// Reshape views the batch with a new per-sample shape without copying.
func (b *Batch) Reshape(c, h, w int) (*Batch, error) {
	if c*h*w != b.Features() {
		return nil, fmt.Errorf("cannot reshape %s to %dx%dx%d", b.shape(), c, h, w)
	}
	return &Batch{N: b.N, C: c, H: h, W: w, Data: b.Data}, nil
}

func (b *Batch) validate() error {
	if b == nil {
		return fmt.Errorf("nil batch")
	}
	if len(b.Data) != b.N*b.C*b.H*b.W {
		return fmt.Errorf("batch %s backed by %d values", b.shape(), len(b.Data))
	}
	return nil
}

func (b *Batch) shape() string {
	return fmt.Sprintf("(%d, %d, %d, %d)", b.N, b.C, b.H, b.W)
}
