package model

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/Brownie44l1/plant-disease-api/internal/imaging"
)

// OnnxOptions configures the onnxruntime session.
type OnnxOptions struct {
	LibraryPath string // onnxruntime shared library, empty for the default lookup
	UseCUDA     bool   // try the CUDA execution provider
	RequireCUDA bool   // fail instead of falling back to the CPU provider
}

// OnnxBackend runs an exported classifier through onnxruntime. The session
// shares one input and one output tensor, so Logits calls are serialised.
type OnnxBackend struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	Metadata     Metadata
	Device       string
	// CUDAFallback holds why CUDA was requested but the CPU provider runs.
	CUDAFallback error
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

// LoadMetadata reads the metadata JSON describing an exported model and
// fills in the defaults for a 64×64 single-image export.
func LoadMetadata(path string) (Metadata, error) {
	var metadata Metadata
	if path != "" {
		metaFile, err := os.ReadFile(path)
		if err != nil {
			return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
		}
		if err := json.Unmarshal(metaFile, &metadata); err != nil {
			return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
		}
	}

	if metadata.InputName == "" {
		metadata.InputName = "input"
	}
	if metadata.OutputName == "" {
		metadata.OutputName = "output"
	}
	if metadata.ImageSize == 0 {
		if len(metadata.InputShape) == 4 {
			metadata.ImageSize = int(metadata.InputShape[2])
		} else {
			metadata.ImageSize = ImageSize
		}
	}
	if len(metadata.InputShape) == 0 {
		size := int64(metadata.ImageSize)
		metadata.InputShape = []int64{1, imaging.Channels, size, size}
	}
	return metadata, nil
}

// Validate checks the exported shapes against the taxonomy the predictor
// will decode with.
func (m Metadata) Validate(classes []string) error {
	size := int64(m.ImageSize)
	want := []int64{1, imaging.Channels, size, size}
	if len(m.InputShape) != 4 || m.InputShape[0] != 1 || m.InputShape[1] != want[1] ||
		m.InputShape[2] != size || m.InputShape[3] != size {
		return &ArtifactMismatchError{Key: m.InputName, Expected: toInts(want), Actual: toInts(m.InputShape)}
	}
	if len(m.OutputShape) == 0 {
		m.OutputShape = []int64{1, int64(len(classes))}
	}
	if n := m.OutputShape[len(m.OutputShape)-1]; n != int64(len(classes)) || len(m.OutputShape) != 2 || m.OutputShape[0] != 1 {
		return &ArtifactMismatchError{Key: m.OutputName, Expected: []int{1, len(classes)}, Actual: toInts(m.OutputShape)}
	}
	if len(m.Classes) > 0 {
		if len(m.Classes) != len(classes) {
			return &ArtifactMismatchError{Key: "classes", Expected: []int{len(classes)}, Actual: []int{len(m.Classes)}}
		}
		for i, c := range m.Classes {
			if classes[i] != c {
				return &ArtifactMismatchError{Key: "classes", Reason: fmt.Sprintf("differ from the taxonomy at index %d", i)}
			}
		}
	}
	return nil
}

func NewOnnxBackend(modelPath string, metadata Metadata, classes []string, opts OnnxOptions) (*OnnxBackend, error) {
	if err := metadata.Validate(classes); err != nil {
		return nil, err
	}
	if len(metadata.OutputShape) == 0 {
		metadata.OutputShape = []int64{1, int64(len(classes))}
	}

	if opts.LibraryPath != "" {
		ort.SetSharedLibraryPath(opts.LibraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(metadata.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(metadata.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	options, device, fallback, err := sessionOptions(opts)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, err
	}
	defer options.Destroy()

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{metadata.InputName}, []string{metadata.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		options)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &OnnxBackend{
		session:      session,
		Metadata:     metadata,
		Device:       device,
		CUDAFallback: fallback,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

func sessionOptions(opts OnnxOptions) (*ort.SessionOptions, string, error, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to create session options: %w", err)
	}
	device, fallback, err := selectProvider(opts, func() error {
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return err
		}
		defer cudaOptions.Destroy()
		return options.AppendExecutionProviderCUDA(cudaOptions)
	})
	if err != nil {
		options.Destroy()
		return nil, "", nil, err
	}
	return options, device, fallback, nil
}

// selectProvider picks the execution device. When CUDA was wanted but
// appendCUDA failed and CUDA is optional, the cause comes back as fallback.
func selectProvider(opts OnnxOptions, appendCUDA func() error) (device string, fallback, err error) {
	if !opts.UseCUDA {
		return "cpu", nil, nil
	}
	if cause := appendCUDA(); cause != nil {
		if opts.RequireCUDA {
			return "", nil, fmt.Errorf("CUDA execution provider unavailable: %w", cause)
		}
		return "cpu", cause, nil
	}
	return "cuda", nil, nil
}

func (b *OnnxBackend) InputSize() int {
	return b.Metadata.ImageSize
}

func (b *OnnxBackend) Logits(input []float32) ([]float32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	copy(b.inputTensor.GetData(), input)
	if err := b.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	out := b.outputTensor.GetData()
	logits := make([]float32, len(out))
	copy(logits, out)
	return logits, nil
}

func (b *OnnxBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inputTensor != nil {
		b.inputTensor.Destroy()
	}
	if b.outputTensor != nil {
		b.outputTensor.Destroy()
	}
	if b.session != nil {
		b.session.Destroy()
	}
	return ort.DestroyEnvironment()
}

func toInts(dims []int64) []int {
	out := make([]int, len(dims))
	for i, d := range dims {
		out[i] = int(d)
	}
	return out
}
