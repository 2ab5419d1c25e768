// Package imaging turns encoded photographs into the normalized CHW float32
// tensors the classifier consumes.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const Channels = 3

// Extensions lists the file suffixes treated as images when scanning a
// dataset. Every entry has a registered decoder.
var Extensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
	".webp": true,
}

// IsImage reports whether the file name carries an image extension.
func IsImage(name string) bool {
	return Extensions[strings.ToLower(filepath.Ext(name))]
}

// DecodeError means the input could not be opened or decoded as an image.
type DecodeError struct {
	Source string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cannot decode image %s: %v", e.Source, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decode reads an encoded image. source only labels errors.
func Decode(r io.Reader, source string) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, &DecodeError{Source: source, Err: err}
	}
	return img, nil
}

// DecodeBytes decodes an in-memory image.
func DecodeBytes(data []byte) (image.Image, error) {
	return Decode(bytes.NewReader(data), "<bytes>")
}

// ToRGB forces a three channel opaque image. Alpha is discarded rather than
// composited, so a transparent pixel keeps its color.
func ToRGB(img image.Image) *image.RGBA {
	bounds := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			i := out.PixOffset(x-bounds.Min.X, y-bounds.Min.Y)
			out.Pix[i+0] = c.R
			out.Pix[i+1] = c.G
			out.Pix[i+2] = c.B
			out.Pix[i+3] = 0xff
		}
	}
	return out
}

// Preprocess resizes to size×size with bilinear interpolation and lays the
// pixels out channel-major, scaled into [0, 1].
func Preprocess(img image.Image, size int) []float32 {
	rgb := ToRGB(img)
	resized := resize.Resize(uint(size), uint(size), rgb, resize.Bilinear)
	return Tensor(ToRGB(resized))
}

// Tensor flattens an RGBA image into CHW float32 values in [0, 1].
func Tensor(img *image.RGBA) []float32 {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	plane := width * height
	data := make([]float32, Channels*plane)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := img.PixOffset(bounds.Min.X+x, bounds.Min.Y+y)
			p := y*width + x
			data[p] = float32(img.Pix[i]) / 255
			data[plane+p] = float32(img.Pix[i+1]) / 255
			data[2*plane+p] = float32(img.Pix[i+2]) / 255
		}
	}
	return data
}

// Load decodes r and preprocesses it in one go.
func Load(r io.Reader, source string, size int) ([]float32, error) {
	img, err := Decode(r, source)
	if err != nil {
		return nil, err
	}
	return Preprocess(img, size), nil
}

// LoadFile opens, decodes and preprocesses an image file.
func LoadFile(path string, size int) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &DecodeError{Source: path, Err: err}
	}
	defer f.Close()
	return Load(f, path, size)
}
