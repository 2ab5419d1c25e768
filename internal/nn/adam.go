package nn

import "math"

// Adam is the adaptive moment estimation optimizer with bias correction,
// following the update rule used by torch.optim.Adam without weight decay.
type Adam struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64

	params []*Param
	m, v   [][]float32
	step   int
}

func NewAdam(params []*Param, learningRate float64) *Adam {
	a := &Adam{
		LearningRate: learningRate,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		params:       params,
		m:            make([][]float32, len(params)),
		v:            make([][]float32, len(params)),
	}
	for i, p := range params {
		a.m[i] = make([]float32, len(p.Grad))
		a.v[i] = make([]float32, len(p.Grad))
	}
	return a
}

// Steps returns how many updates have been applied.
func (a *Adam) Steps() int { return a.step }

// Step applies one update from the accumulated gradients.
func (a *Adam) Step() {
	a.step++
	b1, b2 := a.Beta1, a.Beta2
	correction1 := 1 - math.Pow(b1, float64(a.step))
	correction2 := math.Sqrt(1 - math.Pow(b2, float64(a.step)))
	stepSize := a.LearningRate / correction1

	for i, p := range a.params {
		data := p.Data()
		m, v := a.m[i], a.v[i]
		for j, g := range p.Grad {
			gf := float64(g)
			mj := b1*float64(m[j]) + (1-b1)*gf
			vj := b2*float64(v[j]) + (1-b2)*gf*gf
			m[j], v[j] = float32(mj), float32(vj)
			denom := math.Sqrt(vj)/correction2 + a.Epsilon
			data[j] -= float32(stepSize * mj / denom)
		}
	}
}

// ZeroGrad clears the gradients of every optimised parameter.
func (a *Adam) ZeroGrad() {
	ZeroGrad(a.params)
}
