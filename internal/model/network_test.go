package model

import (
	"encoding/binary"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/Brownie44l1/plant-disease-api/internal/nn"
)

func randomImages(rng *rand.Rand, n int) *nn.Batch {
	b := nn.NewBatch(n, 3, ImageSize, ImageSize)
	for i := range b.Data {
		b.Data[i] = rng.Float32()
	}
	return b
}

func TestNetworkForwardShape(t *testing.T) {
	net, err := NewNetwork(5, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	out, err := net.Forward(randomImages(rand.New(rand.NewSource(2)), 2), false)
	require.NoError(t, err)
	assert.Equal(t, 2, out.N)
	assert.Equal(t, 5, out.Features())

	_, err = net.Forward(nn.NewBatch(1, 3, 32, 32), false)
	assert.Error(t, err)

	_, err = NewNetwork(0, rand.New(rand.NewSource(1)))
	assert.Error(t, err)
}

func TestNetworkParameterNames(t *testing.T) {
	net, err := NewNetwork(4, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	shapes := map[string][]int{}
	for name, p := range net.Parameters() {
		shapes[name] = []int(p.Shape())
	}
	assert.Equal(t, map[string][]int{
		"conv.0.weight": {32, 3, 3, 3},
		"conv.0.bias":   {32},
		"conv.3.weight": {64, 32, 3, 3},
		"conv.3.bias":   {64},
		"fc.0.weight":   {256, 64 * 16 * 16},
		"fc.0.bias":     {256},
		"fc.2.weight":   {4, 256},
		"fc.2.bias":     {4},
	}, shapes)
}

func TestNetworkLearnsTinyBatch(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	net, err := NewNetwork(2, rng)
	require.NoError(t, err)
	opt := nn.NewAdam(net.Params(), 1e-3)

	x := randomImages(rng, 2)
	labels := []int{0, 1}

	var first, last float64
	for step := 0; step < 10; step++ {
		opt.ZeroGrad()
		logits, err := net.Forward(x, true)
		require.NoError(t, err)
		loss, grad, err := nn.SoftmaxCrossEntropy(logits, labels)
		require.NoError(t, err)
		require.NoError(t, net.Backward(grad))
		opt.Step()
		if step == 0 {
			first = loss
		}
		last = loss
	}
	assert.Less(t, last, first)
}

func TestSaveLoadNetworkRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	net, err := NewNetwork(3, rng)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "model", "weights.safetensors")
	require.NoError(t, SaveNetwork(path, net, "run-1"))

	loaded, err := LoadNetwork(path, 3)
	require.NoError(t, err)

	input := randomImages(rng, 1).Data
	want, err := net.Logits(input)
	require.NoError(t, err)
	got, err := loaded.Logits(input)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	weights, err := LoadWeights(path)
	require.NoError(t, err)
	assert.Equal(t, "run-1", weights.Metadata["run_id"])
	assert.Equal(t, "3", weights.Metadata["num_classes"])
	assert.Equal(t, Architecture, weights.Metadata["architecture"])
}

func TestLoadNetworkClassCountMismatch(t *testing.T) {
	net, err := NewNetwork(3, rand.New(rand.NewSource(5)))
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "weights.safetensors")
	require.NoError(t, SaveNetwork(path, net, "run"))

	_, err = LoadNetwork(path, 4)
	var mismatch *ArtifactMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, "fc.2.weight", mismatch.Key)
	assert.Equal(t, []int{4, 256}, mismatch.Expected)
	assert.Equal(t, []int{3, 256}, mismatch.Actual)
	assert.Equal(t, path, mismatch.Path)
}

func TestLoadMissingAndUnexpectedKeys(t *testing.T) {
	net, err := NewNetwork(2, rand.New(rand.NewSource(6)))
	require.NoError(t, err)
	var mismatch *ArtifactMismatchError

	params := net.Parameters()
	delete(params, "conv.0.bias")
	require.True(t, errors.As(net.Load(params), &mismatch))
	assert.Equal(t, "conv.0.bias", mismatch.Key)

	params = net.Parameters()
	params["fc.4.weight"] = tensor.New(tensor.WithShape(2, 2), tensor.WithBacking(make([]float32, 4)))
	require.True(t, errors.As(net.Load(params), &mismatch))
	assert.Equal(t, "fc.4.weight", mismatch.Key)
}

func TestLoadFailureLeavesNetworkUntouched(t *testing.T) {
	net, err := NewNetwork(2, rand.New(rand.NewSource(7)))
	require.NoError(t, err)
	other, err := NewNetwork(2, rand.New(rand.NewSource(8)))
	require.NoError(t, err)
	before := append([]float32(nil), net.Params()[0].Data()...)

	params := other.Parameters()
	params["fc.2.bias"] = tensor.New(tensor.WithShape(3), tensor.WithBacking(make([]float32, 3)))
	var mismatch *ArtifactMismatchError
	require.True(t, errors.As(net.Load(params), &mismatch))
	assert.Equal(t, "fc.2.bias", mismatch.Key)
	assert.Equal(t, before, net.Params()[0].Data())

	params = other.Parameters()
	params["extra"] = tensor.New(tensor.WithShape(2), tensor.WithBacking(make([]float32, 2)))
	require.Error(t, net.Load(params))
	assert.Equal(t, before, net.Params()[0].Data())

	require.NoError(t, net.Load(other.Parameters()))
	assert.Equal(t, other.Params()[0].Data(), net.Params()[0].Data())
}

func TestNetworkBackwardNeedsTrainingForward(t *testing.T) {
	net, err := NewNetwork(2, rand.New(rand.NewSource(9)))
	require.NoError(t, err)
	x := randomImages(rand.New(rand.NewSource(10)), 1)

	logits, err := net.Forward(x, false)
	require.NoError(t, err)
	assert.ErrorIs(t, net.Backward(logits), nn.ErrNoForward)

	logits, err = net.Forward(x, true)
	require.NoError(t, err)
	require.NoError(t, net.Backward(logits))
	assert.ErrorIs(t, net.Backward(logits), nn.ErrNoForward)
}

func TestWeightsRoundTrip(t *testing.T) {
	params := nn.Parameters{
		"a": tensor.New(tensor.WithShape(2, 3), tensor.WithBacking([]float32{1, 2, 3, 4, 5, 6})),
		"b": tensor.New(tensor.WithShape(2), tensor.WithBacking([]float32{-0.5, 0.25})),
	}
	path := filepath.Join(t.TempDir(), "w.safetensors")
	require.NoError(t, SaveWeights(path, params, nil))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	headerLen := binary.LittleEndian.Uint64(raw[:8])
	assert.Zero(t, headerLen%8)
	assert.Equal(t, uint64(len(raw)), 8+headerLen+8*4)

	got, err := LoadWeights(path)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, got.Params["a"].Data())
	assert.Equal(t, []int{2, 3}, []int(got.Params["a"].Shape()))
	assert.Equal(t, []float32{-0.5, 0.25}, got.Params["b"].Data())
	assert.Nil(t, got.Metadata)
}

func TestLoadWeightsCorrupt(t *testing.T) {
	dir := t.TempDir()

	short := filepath.Join(dir, "short")
	require.NoError(t, os.WriteFile(short, []byte{1, 2}, 0644))
	_, err := LoadWeights(short)
	assert.Error(t, err)

	huge := filepath.Join(dir, "huge")
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf, 1<<40)
	require.NoError(t, os.WriteFile(huge, buf, 0644))
	_, err = LoadWeights(huge)
	assert.Error(t, err)

	header := []byte(`{"a":{"dtype":"F32","shape":[4],"data_offsets":[0,16]}}`)
	bad := make([]byte, 8, 8+len(header)+8)
	binary.LittleEndian.PutUint64(bad, uint64(len(header)))
	bad = append(bad, header...)
	bad = append(bad, make([]byte, 8)...)
	truncated := filepath.Join(dir, "truncated")
	require.NoError(t, os.WriteFile(truncated, bad, 0644))
	_, err = LoadWeights(truncated)
	assert.Error(t, err)

	f16 := []byte(`{"a":{"dtype":"F16","shape":[4],"data_offsets":[0,8]}}`)
	half := make([]byte, 8, 8+len(f16)+8)
	binary.LittleEndian.PutUint64(half, uint64(len(f16)))
	half = append(half, f16...)
	half = append(half, make([]byte, 8)...)
	halfPath := filepath.Join(dir, "half")
	require.NoError(t, os.WriteFile(halfPath, half, 0644))
	_, err = LoadWeights(halfPath)
	var mismatch *ArtifactMismatchError
	assert.True(t, errors.As(err, &mismatch))
}
