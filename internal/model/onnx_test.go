package model

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMetadataDefaults(t *testing.T) {
	m, err := LoadMetadata("")
	require.NoError(t, err)
	assert.Equal(t, "input", m.InputName)
	assert.Equal(t, "output", m.OutputName)
	assert.Equal(t, ImageSize, m.ImageSize)
	assert.Equal(t, []int64{1, 3, 64, 64}, m.InputShape)
	assert.NoError(t, m.Validate([]string{"a", "b"}))
}

func TestLoadMetadataFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"input_shape": [1, 3, 32, 32],
		"output_shape": [1, 2],
		"classes": ["Apple___healthy", "Apple___scab"],
		"input_name": "pixel_values"
	}`), 0644))

	m, err := LoadMetadata(path)
	require.NoError(t, err)
	assert.Equal(t, 32, m.ImageSize)
	assert.Equal(t, "pixel_values", m.InputName)
	assert.Equal(t, "output", m.OutputName)
	assert.NoError(t, m.Validate([]string{"Apple___healthy", "Apple___scab"}))

	var mismatch *ArtifactMismatchError
	err = m.Validate([]string{"Apple___healthy", "Apple___scab", "Tomato___healthy"})
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, "output", mismatch.Key)

	err = m.Validate([]string{"Apple___scab", "Apple___healthy"})
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, "classes", mismatch.Key)
}

func TestMetadataValidateInputShape(t *testing.T) {
	m := Metadata{InputShape: []int64{4, 3, 64, 64}, ImageSize: 64, InputName: "input"}
	var mismatch *ArtifactMismatchError
	require.True(t, errors.As(m.Validate([]string{"a"}), &mismatch))
	assert.Equal(t, "input", mismatch.Key)
	assert.Equal(t, []int{1, 3, 64, 64}, mismatch.Expected)
}

func TestMetadataValidateShortClassList(t *testing.T) {
	m, err := LoadMetadata("")
	require.NoError(t, err)
	m.OutputShape = []int64{1, 2}
	m.Classes = []string{"a"}

	var mismatch *ArtifactMismatchError
	require.True(t, errors.As(m.Validate([]string{"a", "b"}), &mismatch))
	assert.Equal(t, "classes", mismatch.Key)
	assert.Equal(t, []int{2}, mismatch.Expected)
	assert.Equal(t, []int{1}, mismatch.Actual)
}

func TestSelectProvider(t *testing.T) {
	cause := errors.New("libcudart.so: not found")
	calls := 0
	failing := func() error { calls++; return cause }

	device, fallback, err := selectProvider(OnnxOptions{}, failing)
	require.NoError(t, err)
	assert.Equal(t, "cpu", device)
	assert.NoError(t, fallback)
	assert.Zero(t, calls)

	device, fallback, err = selectProvider(OnnxOptions{UseCUDA: true}, failing)
	require.NoError(t, err)
	assert.Equal(t, "cpu", device)
	assert.ErrorIs(t, fallback, cause)

	_, _, err = selectProvider(OnnxOptions{UseCUDA: true, RequireCUDA: true}, failing)
	assert.ErrorIs(t, err, cause)

	device, fallback, err = selectProvider(OnnxOptions{UseCUDA: true}, func() error { return nil })
	require.NoError(t, err)
	assert.Equal(t, "cuda", device)
	assert.NoError(t, fallback)
}

func TestLoadMetadataErrors(t *testing.T) {
	_, err := LoadMetadata(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0644))
	_, err = LoadMetadata(path)
	assert.Error(t, err)
}
