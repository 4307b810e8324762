// Package imaging turns raw image uploads into model input tensors.
//
// Tensors are laid out channel-first (R plane, G plane, B plane), each plane
// row-major, with pixel intensities scaled to [0,1]. The same conversion is
// used for inference and for training so both see identical inputs.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
)

const (
	// InputSize is the side length of the square model input.
	InputSize = 28
	// Channels is the number of color channels fed to the model.
	Channels = 3
)

// ErrEmptyImage is wrapped by InvalidImageError when the payload is empty
// or decodes to a zero-sized image.
var ErrEmptyImage = errors.New("empty image")

// InvalidImageError reports input that cannot be turned into a model tensor.
type InvalidImageError struct {
	Reason string
	Err    error
}

func (e *InvalidImageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid image: %s: %v", e.Reason, e.Err)
	}
	return "invalid image: " + e.Reason
}

func (e *InvalidImageError) Unwrap() error {
	return e.Err
}

// Decode decodes JPEG, PNG or GIF bytes. The returned format is the name
// registered by the decoder ("jpeg", "png", "gif").
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", &InvalidImageError{Reason: "no data", Err: ErrEmptyImage}
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", &InvalidImageError{Reason: "decode failed", Err: err}
	}

	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, "", &InvalidImageError{Reason: "zero-sized image", Err: ErrEmptyImage}
	}

	return img, format, nil
}

// Preprocess resizes img to size x size and returns a normalised
// channel-first tensor of length Channels*size*size. Alpha is dropped.
func Preprocess(img image.Image, size int) ([]float64, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid target size %d", size)
	}

	resized := resize.Resize(uint(size), uint(size), img, resize.Lanczos3)
	b := resized.Bounds()
	w, h := b.Dx(), b.Dy()
	if w != size || h != size {
		return nil, &InvalidImageError{Reason: fmt.Sprintf("resize produced %dx%d, expected %dx%d", w, h, size, size)}
	}

	plane := w * h
	out := make([]float64, Channels*plane)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := resized.At(b.Min.X+x, b.Min.Y+y).RGBA()
			i := y*w + x
			out[i] = scale(r)
			out[plane+i] = scale(g)
			out[2*plane+i] = scale(bl)
		}
	}

	if len(out) != Channels*size*size {
		return nil, &InvalidImageError{Reason: fmt.Sprintf("unexpected tensor length %d", len(out))}
	}

	return out, nil
}

// Load decodes data and preprocesses it to the model's input shape.
func Load(data []byte) ([]float64, string, error) {
	img, format, err := Decode(data)
	if err != nil {
		return nil, "", err
	}
	tensor, err := Preprocess(img, InputSize)
	if err != nil {
		return nil, "", err
	}
	return tensor, format, nil
}

// Extension maps a decoder format name to a file extension.
func Extension(format string) string {
	switch format {
	case "jpeg":
		return "jpg"
	case "":
		return "img"
	default:
		return format
	}
}

// scale maps a 16-bit color component to [0,1].
func scale(v uint32) float64 {
	f := float64(v) / 0xffff
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
