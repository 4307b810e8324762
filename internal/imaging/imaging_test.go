package imaging

import (
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/haskel/dermfox/internal/imaging/imagingtest"
)

func TestDecode_Formats(t *testing.T) {
	src := imagingtest.Gradient(40, 30)

	tests := []struct {
		name   string
		data   []byte
		format string
	}{
		{name: "png", data: imagingtest.PNG(t, src), format: "png"},
		{name: "jpeg", data: imagingtest.JPEG(t, src), format: "jpeg"},
		{name: "gif", data: imagingtest.GIF(t, src), format: "gif"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, format, err := Decode(tt.data)
			if err != nil {
				t.Fatalf("Decode error: %v", err)
			}
			if format != tt.format {
				t.Errorf("expected format %s, got %s", tt.format, format)
			}
			if img.Bounds().Dx() != 40 || img.Bounds().Dy() != 30 {
				t.Errorf("unexpected bounds %v", img.Bounds())
			}
		})
	}
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "garbage", data: []byte("definitely not an image")},
		{name: "truncated png", data: imagingtest.SolidPNG(t, 10, 10, color.White)[:20]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode(tt.data)
			var imgErr *InvalidImageError
			if !errors.As(err, &imgErr) {
				t.Fatalf("expected InvalidImageError, got %v", err)
			}
		})
	}
}

func TestDecode_EmptyWrapsSentinel(t *testing.T) {
	_, _, err := Decode(nil)
	if !errors.Is(err, ErrEmptyImage) {
		t.Errorf("expected ErrEmptyImage, got %v", err)
	}
}

func TestPreprocess_ShapeAndRange(t *testing.T) {
	sizes := []image.Rectangle{
		image.Rect(0, 0, 28, 28),
		image.Rect(0, 0, 600, 450),
		image.Rect(0, 0, 5, 90),
	}

	for _, r := range sizes {
		img := imagingtest.Gradient(r.Dx(), r.Dy())
		tensor, err := Preprocess(img, InputSize)
		if err != nil {
			t.Fatalf("Preprocess(%v) error: %v", r, err)
		}
		if len(tensor) != Channels*InputSize*InputSize {
			t.Fatalf("expected %d values, got %d", Channels*InputSize*InputSize, len(tensor))
		}
		for i, v := range tensor {
			if v < 0 || v > 1 || math.IsNaN(v) {
				t.Fatalf("value %d out of range: %f", i, v)
			}
		}
	}
}

// Pixel intensities must be scaled to [0,1] at inference exactly as in
// training; an unscaled 0..255 input would put white at 255.
func TestPreprocess_NormalisesToUnitRange(t *testing.T) {
	white, err := Preprocess(imagingtest.Solid(28, 28, color.White), InputSize)
	if err != nil {
		t.Fatalf("Preprocess error: %v", err)
	}
	black, err := Preprocess(imagingtest.Solid(28, 28, color.Black), InputSize)
	if err != nil {
		t.Fatalf("Preprocess error: %v", err)
	}

	for i := range white {
		if math.Abs(white[i]-1) > 1e-3 {
			t.Fatalf("white pixel %d: expected 1, got %f", i, white[i])
		}
		if black[i] > 1e-3 {
			t.Fatalf("black pixel %d: expected 0, got %f", i, black[i])
		}
	}
}

func TestPreprocess_ChannelFirstLayout(t *testing.T) {
	red := color.RGBA{R: 255, A: 255}
	tensor, err := Preprocess(imagingtest.Solid(28, 28, red), InputSize)
	if err != nil {
		t.Fatalf("Preprocess error: %v", err)
	}

	plane := InputSize * InputSize
	if tensor[0] < 0.99 {
		t.Errorf("expected red plane first, got %f", tensor[0])
	}
	if tensor[plane] > 0.01 || tensor[2*plane] > 0.01 {
		t.Errorf("expected green and blue planes to be zero, got %f %f", tensor[plane], tensor[2*plane])
	}
}

func TestPreprocess_GrayscaleExpandsToThreeChannels(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 10, 10))
	for i := range gray.Pix {
		gray.Pix[i] = 128
	}

	tensor, err := Preprocess(gray, InputSize)
	if err != nil {
		t.Fatalf("Preprocess error: %v", err)
	}
	plane := InputSize * InputSize
	if math.Abs(tensor[0]-tensor[plane]) > 1e-9 || math.Abs(tensor[0]-tensor[2*plane]) > 1e-9 {
		t.Errorf("expected equal channels for gray input, got %f %f %f", tensor[0], tensor[plane], tensor[2*plane])
	}
}

func TestPreprocess_InvalidSize(t *testing.T) {
	if _, err := Preprocess(imagingtest.Solid(4, 4, color.White), 0); err == nil {
		t.Error("expected error for zero target size")
	}
}

func TestLoad(t *testing.T) {
	tensor, format, err := Load(imagingtest.JPEG(t, imagingtest.Gradient(64, 64)))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if format != "jpeg" {
		t.Errorf("expected jpeg, got %s", format)
	}
	if len(tensor) != Channels*InputSize*InputSize {
		t.Errorf("unexpected tensor length %d", len(tensor))
	}
}

func TestExtension(t *testing.T) {
	tests := map[string]string{
		"jpeg": "jpg",
		"png":  "png",
		"gif":  "gif",
		"":     "img",
	}
	for format, want := range tests {
		if got := Extension(format); got != want {
			t.Errorf("Extension(%q) = %q, want %q", format, got, want)
		}
	}
}
