package model

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"gorgonia.org/tensor"

	"github.com/Brownie44l1/plant-disease-api/internal/nn"
)

// Weights files use the safetensors layout: a little-endian uint64 header
// length, a JSON header describing every tensor, then the raw tensor bytes.

const (
	metadataKey   = "__metadata__"
	dtypeFloat32  = "F32"
	maxHeaderSize = 100 << 20
)

type tensorHeader struct {
	Dtype       string   `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// Weights is a decoded weights file.
type Weights struct {
	Params   nn.Parameters
	Metadata map[string]string
}

// SaveWeights writes params to path atomically, creating the directory.
func SaveWeights(path string, params nn.Parameters, metadata map[string]string) error {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]any, len(params)+1)
	blobs := make([][]float32, len(names))
	var offset int64
	for i, name := range names {
		t := params[name]
		data, ok := nn.Float32s(t)
		if !ok {
			return fmt.Errorf("tensor %s has dtype %v, only float32 is supported", name, t.Dtype())
		}
		size := int64(len(data)) * 4
		header[name] = tensorHeader{Dtype: dtypeFloat32, Shape: []int(t.Shape()), DataOffsets: [2]int64{offset, offset + size}}
		blobs[i] = data
		offset += size
	}
	if len(metadata) > 0 {
		header[metadataKey] = metadata
	}

	encoded, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to encode weights header: %w", err)
	}
	for len(encoded)%8 != 0 {
		encoded = append(encoded, ' ')
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}
	f, err := os.CreateTemp(dir, ".weights-*")
	if err != nil {
		return fmt.Errorf("failed to create weights file: %w", err)
	}
	defer os.Remove(f.Name())

	w := bufio.NewWriter(f)
	if err := binary.Write(w, binary.LittleEndian, uint64(len(encoded))); err != nil {
		f.Close()
		return err
	}
	if _, err := w.Write(encoded); err != nil {
		f.Close()
		return err
	}
	for _, data := range blobs {
		if err := binary.Write(w, binary.LittleEndian, data); err != nil {
			f.Close()
			return fmt.Errorf("failed to write weights: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write weights: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write weights: %w", err)
	}
	if err := os.Chmod(f.Name(), 0644); err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}

// LoadWeights reads a weights file written by SaveWeights or any other
// float32 safetensors writer.
func LoadWeights(path string) (*Weights, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read weights: %w", err)
	}
	if len(raw) < 8 {
		return nil, fmt.Errorf("weights %s: truncated header", path)
	}
	headerLen := binary.LittleEndian.Uint64(raw[:8])
	if headerLen > maxHeaderSize || headerLen > uint64(len(raw)-8) {
		return nil, fmt.Errorf("weights %s: invalid header length %d", path, headerLen)
	}
	body := raw[8+headerLen:]

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw[8:8+headerLen], &entries); err != nil {
		return nil, fmt.Errorf("weights %s: failed to parse header: %w", path, err)
	}

	weights := &Weights{Params: make(nn.Parameters, len(entries))}
	for key, entry := range entries {
		if key == metadataKey {
			if err := json.Unmarshal(entry, &weights.Metadata); err != nil {
				return nil, fmt.Errorf("weights %s: failed to parse metadata: %w", path, err)
			}
			continue
		}

		var h tensorHeader
		if err := json.Unmarshal(entry, &h); err != nil {
			return nil, fmt.Errorf("weights %s: tensor %s: %w", path, key, err)
		}
		if h.Dtype != dtypeFloat32 {
			return nil, &ArtifactMismatchError{Path: path, Key: key, Actual: h.Shape, Reason: "has dtype " + h.Dtype}
		}

		elems := 1
		for _, d := range h.Shape {
			elems *= d
		}
		begin, end := h.DataOffsets[0], h.DataOffsets[1]
		if begin < 0 || end > int64(len(body)) || end-begin != int64(elems)*4 {
			return nil, fmt.Errorf("weights %s: tensor %s: offsets %v do not fit shape %v", path, key, h.DataOffsets, h.Shape)
		}

		values := make([]float32, elems)
		chunk := body[begin:end]
		for i := range values {
			values[i] = math.Float32frombits(binary.LittleEndian.Uint32(chunk[i*4:]))
		}
		weights.Params[key] = tensor.New(tensor.WithShape(h.Shape...), tensor.WithBacking(values))
	}
	return weights, nil
}

// SaveNetwork persists a trained network with its provenance metadata.
func SaveNetwork(path string, net *Network, runID string) error {
	return SaveWeights(path, net.Parameters(), map[string]string{
		"format":       "pt",
		"architecture": Architecture,
		"num_classes":  strconv.Itoa(net.NumClasses),
		"image_size":   strconv.Itoa(ImageSize),
		"run_id":       runID,
	})
}

// LoadNetwork builds a fresh network for numClasses and fills it from path.
func LoadNetwork(path string, numClasses int) (*Network, error) {
	weights, err := LoadWeights(path)
	if err != nil {
		return nil, err
	}
	net, err := NewNetwork(numClasses, rand.New(rand.NewSource(1)))
	if err != nil {
		return nil, err
	}
	if err := net.Load(weights.Params); err != nil {
		var mismatch *ArtifactMismatchError
		if errors.As(err, &mismatch) {
			mismatch.Path = path
		}
		return nil, err
	}
	return net, nil
}
