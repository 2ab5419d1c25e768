package dataset

import (
	"github.com/Brownie44l1/plant-disease-api/internal/imaging"
	"github.com/Brownie44l1/plant-disease-api/internal/nn"
)

// Dataset is the working set of samples. Images are decoded lazily, one
// batch at a time.
type Dataset struct {
	Samples   []Sample
	ImageSize int
}

func New(samples []Sample, imageSize int) *Dataset {
	return &Dataset{Samples: samples, ImageSize: imageSize}
}

func (d *Dataset) Len() int {
	return len(d.Samples)
}

// Batch decodes the samples at the given working-set positions into one NCHW
// batch and returns their class labels in the same order.
func (d *Dataset) Batch(positions []int) (*nn.Batch, []int, error) {
	size := d.ImageSize
	batch := nn.NewBatch(len(positions), imaging.Channels, size, size)
	labels := make([]int, len(positions))
	for i, pos := range positions {
		s := d.Samples[pos]
		data, err := imaging.LoadFile(s.Path, size)
		if err != nil {
			return nil, nil, err
		}
		copy(batch.Sample(i), data)
		labels[i] = s.Class
	}
	return batch, labels, nil
}

// Batches cuts positions into consecutive chunks of at most size. The last
// chunk may be shorter.
func Batches(positions []int, size int) [][]int {
	var out [][]int
	for start := 0; start < len(positions); start += size {
		end := start + size
		if end > len(positions) {
			end = len(positions)
		}
		out = append(out, positions[start:end])
	}
	return out
}
