package model

import (
	"fmt"
	"math/rand"

	"github.com/Brownie44l1/plant-disease-api/internal/imaging"
	"github.com/Brownie44l1/plant-disease-api/internal/nn"
)

const (
	// ImageSize is the square input resolution of the network.
	ImageSize = 64

	Architecture = "plant-cnn-v1"

	hiddenUnits = 256
	featureMaps = 64
)

// Network is the plant disease classifier:
//
//	conv(3→32) relu pool2 → conv(32→64) relu pool2 → fc(64·16·16→256) relu → fc(256→classes)
//
// Training and inference both build it through NewNetwork, so saved and
// loaded parameters always agree on shape.
type Network struct {
	NumClasses int

	conv    *nn.Sequential
	flatten *nn.Flatten
	fc      *nn.Sequential
}

func NewNetwork(numClasses int, rng *rand.Rand) (*Network, error) {
	if numClasses <= 0 {
		return nil, fmt.Errorf("network needs at least one class, got %d", numClasses)
	}
	pooled := ImageSize / 4
	return &Network{
		NumClasses: numClasses,
		conv: nn.NewSequential("conv",
			nn.NewConv2D(imaging.Channels, 32, 3, 1, rng), &nn.ReLU{}, nn.NewMaxPool2D(2),
			nn.NewConv2D(32, featureMaps, 3, 1, rng), &nn.ReLU{}, nn.NewMaxPool2D(2),
		),
		flatten: &nn.Flatten{},
		fc: nn.NewSequential("fc",
			nn.NewLinear(featureMaps*pooled*pooled, hiddenUnits, rng), &nn.ReLU{},
			nn.NewLinear(hiddenUnits, numClasses, rng),
		),
	}, nil
}

// Forward maps a batch of preprocessed images to N×NumClasses logits. With
// train=false nothing is cached and the call is safe for concurrent use.
func (n *Network) Forward(x *nn.Batch, train bool) (*nn.Batch, error) {
	if x.C != imaging.Channels || x.H != ImageSize || x.W != ImageSize {
		return nil, fmt.Errorf("network expects %dx%dx%d input, got %dx%dx%d",
			imaging.Channels, ImageSize, ImageSize, x.C, x.H, x.W)
	}
	maps, err := n.conv.Forward(x, train)
	if err != nil {
		return nil, err
	}
	features, err := n.flatten.Forward(maps, train)
	if err != nil {
		return nil, err
	}
	return n.fc.Forward(features, train)
}

// Backward propagates the logits gradient through the whole network,
// accumulating parameter gradients.
func (n *Network) Backward(dlogits *nn.Batch) error {
	dfeatures, err := n.fc.Backward(dlogits)
	if err != nil {
		return err
	}
	dmaps, err := n.flatten.Backward(dfeatures)
	if err != nil {
		return err
	}
	_, err = n.conv.Backward(dmaps)
	return err
}

// Logits runs a single CHW image through the network in inference mode.
func (n *Network) Logits(input []float32) ([]float32, error) {
	x := &nn.Batch{N: 1, C: imaging.Channels, H: ImageSize, W: ImageSize, Data: input}
	out, err := n.Forward(x, false)
	if err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (n *Network) InputSize() int { return ImageSize }

func (n *Network) Close() error { return nil }

// Params lists the learnable parameters in layer order.
func (n *Network) Params() []*nn.Param {
	return append(n.conv.Params(), n.fc.Params()...)
}

// Parameters returns the state dictionary keyed by layer name. The tensors
// are shared with the network, not copied.
func (n *Network) Parameters() nn.Parameters {
	params := make(nn.Parameters)
	for _, p := range n.Params() {
		params[p.Name] = p.Value
	}
	return params
}

// Load copies a state dictionary into the network. Every key must be
// present with the exact shape; extra keys are rejected too. On error the
// network is left untouched.
func (n *Network) Load(params nn.Parameters) error {
	own := n.Params()
	values := make([][]float32, len(own))
	for i, p := range own {
		src, ok := params[p.Name]
		if !ok {
			return &ArtifactMismatchError{Key: p.Name, Expected: p.Shape(), Reason: "missing"}
		}
		if !nn.SameShape(src.Shape(), p.Shape()) {
			return &ArtifactMismatchError{Key: p.Name, Expected: p.Shape(), Actual: src.Shape()}
		}
		data, ok := nn.Float32s(src)
		if !ok {
			return &ArtifactMismatchError{Key: p.Name, Expected: p.Shape(), Actual: src.Shape(), Reason: fmt.Sprintf("dtype %v", src.Dtype())}
		}
		values[i] = data
	}
	if len(params) != len(own) {
		known := n.Parameters()
		for key, t := range params {
			if _, ok := known[key]; !ok {
				return &ArtifactMismatchError{Key: key, Actual: t.Shape(), Reason: "unexpected"}
			}
		}
	}
	for i, p := range own {
		copy(p.Data(), values[i])
	}
	return nil
}
