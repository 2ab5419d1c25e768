package nn

import "fmt"

// Sequential chains layers and names their parameters
// "<name>.<index>.<weight|bias>".
type Sequential struct {
	Name   string
	Layers []Layer
}

func NewSequential(name string, layers ...Layer) *Sequential {
	for i, l := range layers {
		for _, p := range l.Params() {
			p.Name = fmt.Sprintf("%s.%d.%s", name, i, p.Name)
		}
	}
	return &Sequential{Name: name, Layers: layers}
}

func (s *Sequential) Params() []*Param {
	var params []*Param
	for _, l := range s.Layers {
		params = append(params, l.Params()...)
	}
	return params
}

func (s *Sequential) Forward(x *Batch, train bool) (*Batch, error) {
	var err error
	for i, l := range s.Layers {
		if x, err = l.Forward(x, train); err != nil {
			return nil, fmt.Errorf("%s.%d: %w", s.Name, i, err)
		}
	}
	return x, nil
}

func (s *Sequential) Backward(dy *Batch) (*Batch, error) {
	var err error
	for i := len(s.Layers) - 1; i >= 0; i-- {
		if dy, err = s.Layers[i].Backward(dy); err != nil {
			return nil, fmt.Errorf("%s.%d: %w", s.Name, i, err)
		}
	}
	return dy, nil
}
