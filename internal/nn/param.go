package nn

import (
	"math"
	"math/rand"

	"gorgonia.org/tensor"
)

// Param is a learnable tensor together with its accumulated gradient.
type Param struct {
	Name  string
	Value *tensor.Dense
	Grad  []float32

	data []float32
}

// Parameters is a flat tensor dictionary keyed by layer name.
type Parameters map[string]*tensor.Dense

func newParam(name string, dims ...int) *Param {
	size := 1
	for _, d := range dims {
		size *= d
	}
	data := make([]float32, size)
	return &Param{
		Name:  name,
		Value: tensor.New(tensor.WithShape(dims...), tensor.WithBacking(data)),
		Grad:  make([]float32, size),
		data:  data,
	}
}

// Data returns the float32 backing of the parameter value.
func (p *Param) Data() []float32 {
	return p.data
}

// Shape returns the parameter dimensions.
func (p *Param) Shape() []int {
	return []int(p.Value.Shape())
}

// ZeroGrad clears the accumulated gradient.
func (p *Param) ZeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

// uniform fills the parameter with U(-bound, bound).
func (p *Param) uniform(rng *rand.Rand, bound float64) {
	data := p.Data()
	for i := range data {
		data[i] = float32((rng.Float64()*2 - 1) * bound)
	}
}

// fanInBound is the init range PyTorch uses for conv and linear layers.
func fanInBound(fanIn int) float64 {
	return 1 / math.Sqrt(float64(fanIn))
}

// Float32s returns the values of a float32 tensor. A single element tensor
// may report its value as a scalar, so both forms are accepted.
func Float32s(t *tensor.Dense) ([]float32, bool) {
	switch v := t.Data().(type) {
	case []float32:
		return v, true
	case float32:
		return []float32{v}, true
	}
	return nil, false
}

// ZeroGrad clears the gradients of every parameter.
func ZeroGrad(params []*Param) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

// SameShape reports whether two dimension lists are identical. Unlike
// tensor.Shape.Eq it does not treat row and column vectors as equal.
func SameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
