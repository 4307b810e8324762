package inference

import (
	"context"
	"errors"
	"image/color"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"sync"
	"testing"

	"github.com/haskel/dermfox/internal/imaging"
	"github.com/haskel/dermfox/internal/imaging/imagingtest"
	"github.com/haskel/dermfox/internal/lesion"
	"github.com/haskel/dermfox/internal/model"
	"github.com/haskel/dermfox/internal/nn"
	"github.com/haskel/dermfox/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHolder(t *testing.T, load bool) *model.Holder {
	t.Helper()
	arch := nn.Architecture{
		InputChannels: imaging.Channels,
		InputSize:     imaging.InputSize,
		Conv1Filters:  2,
		Conv2Filters:  2,
		Hidden:        4,
		Classes:       lesion.NumClasses,
	}
	store := storage.NewModelStorage(filepath.Join(t.TempDir(), "model.json"), testLogger())
	h := model.New(store, model.Options{Architecture: arch, Seed: 3}, testLogger())
	if load {
		if err := h.Load(); err != nil {
			t.Fatalf("Load error: %v", err)
		}
	}
	return h
}

func isKnownClass(name string) bool {
	for _, info := range lesion.All() {
		if info.Name == name {
			return true
		}
	}
	return false
}

func TestPredict_AnyDecodableImage(t *testing.T) {
	svc, err := New(newHolder(t, true), 16, nil, testLogger())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	inputs := map[string][]byte{
		"png large":  imagingtest.PNG(t, imagingtest.Gradient(640, 480)),
		"jpeg small": imagingtest.JPEG(t, imagingtest.Gradient(9, 13)),
		"gif":        imagingtest.GIF(t, imagingtest.Gradient(28, 28)),
		"png solid":  imagingtest.SolidPNG(t, 1, 1, color.Black),
	}

	for name, data := range inputs {
		t.Run(name, func(t *testing.T) {
			resp, err := svc.Predict(data)
			if err != nil {
				t.Fatalf("Predict error: %v", err)
			}
			if !isKnownClass(resp.PredictedClass) {
				t.Errorf("unknown class %q", resp.PredictedClass)
			}
			if resp.Probability < 0 || resp.Probability > 1 {
				t.Errorf("probability out of range: %f", resp.Probability)
			}
			if len(resp.Probabilities) != lesion.NumClasses {
				t.Fatalf("expected %d probabilities, got %d", lesion.NumClasses, len(resp.Probabilities))
			}
			var sum float64
			for _, p := range resp.Probabilities {
				sum += p.Probability
			}
			if math.Abs(sum-1) > 1e-9 {
				t.Errorf("expected probabilities to sum to 1, got %f", sum)
			}
		})
	}
}

func TestPredict_InvalidImage(t *testing.T) {
	svc, _ := New(newHolder(t, true), 16, nil, testLogger())

	for _, data := range [][]byte{nil, []byte("GIF89a broken"), []byte("plain text")} {
		_, err := svc.Predict(data)
		var imgErr *imaging.InvalidImageError
		if !errors.As(err, &imgErr) {
			t.Errorf("expected InvalidImageError, got %v", err)
		}
	}
	if svc.CacheLen() != 0 {
		t.Errorf("errors must not be cached, got %d entries", svc.CacheLen())
	}
}

func TestPredict_NotLoaded(t *testing.T) {
	svc, _ := New(newHolder(t, false), 16, nil, testLogger())

	if _, err := svc.Predict(imagingtest.SolidPNG(t, 4, 4, color.White)); !errors.Is(err, model.ErrNotLoaded) {
		t.Errorf("expected ErrNotLoaded, got %v", err)
	}
}

func TestPredict_CacheKeyedByModelVersion(t *testing.T) {
	h := newHolder(t, true)
	svc, _ := New(h, 16, nil, testLogger())
	data := imagingtest.PNG(t, imagingtest.Gradient(32, 32))

	first, err := svc.Predict(data)
	if err != nil {
		t.Fatal(err)
	}
	if first.Cached {
		t.Error("first prediction should not be cached")
	}

	second, err := svc.Predict(data)
	if err != nil {
		t.Fatal(err)
	}
	if !second.Cached {
		t.Error("expected second prediction to hit the cache")
	}
	if second.PredictedClass != first.PredictedClass || second.Probability != first.Probability {
		t.Error("cached prediction differs")
	}

	tensor, _, err := imaging.Load(data)
	if err != nil {
		t.Fatal(err)
	}
	cfg := nn.TrainConfig{MaxEpochs: 1, BatchSize: 1, LearningRate: 0.01, Seed: 1}
	if _, err := h.Fit(context.Background(), [][]float64{tensor}, [][]float64{lesion.OneHot(lesion.Melanoma)}, cfg); err != nil {
		t.Fatalf("Fit error: %v", err)
	}

	third, err := svc.Predict(data)
	if err != nil {
		t.Fatal(err)
	}
	if third.Cached {
		t.Error("expected a new model version to bypass the cache")
	}
	if third.ModelVersion != first.ModelVersion+1 {
		t.Errorf("expected model version %d, got %d", first.ModelVersion+1, third.ModelVersion)
	}
}

func TestPredict_NoCache(t *testing.T) {
	svc, err := New(newHolder(t, true), 0, nil, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	data := imagingtest.SolidPNG(t, 4, 4, color.White)

	for i := 0; i < 2; i++ {
		resp, err := svc.Predict(data)
		if err != nil {
			t.Fatal(err)
		}
		if resp.Cached {
			t.Error("expected no caching with size 0")
		}
	}
}

func TestPredict_Concurrent(t *testing.T) {
	svc, _ := New(newHolder(t, true), 16, nil, testLogger())
	data := imagingtest.PNG(t, imagingtest.Gradient(64, 64))

	want, err := svc.Predict(data)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := svc.Predict(data)
			if err != nil {
				t.Errorf("Predict error: %v", err)
				return
			}
			if got.PredictedClass != want.PredictedClass {
				t.Errorf("expected %s, got %s", want.PredictedClass, got.PredictedClass)
			}
		}()
	}
	wg.Wait()
}
