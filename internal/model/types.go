package model

// Metadata describes an exported ONNX classifier.
type Metadata struct {
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	ImageSize   int      `json:"image_size"`
	InputName   string   `json:"input_name"`
	OutputName  string   `json:"output_name"`
}

type TensorRequest struct {
	Image []float32 `json:"image"`
}

// PredictionResult is the decoded top class of one image.
type PredictionResult struct {
	Crop       string  `json:"crop"`
	Disease    string  `json:"disease"`
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
}
