package retrain

import (
	"context"
	"errors"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/haskel/dermfox/internal/imaging"
	"github.com/haskel/dermfox/internal/imaging/imagingtest"
	"github.com/haskel/dermfox/internal/lesion"
	"github.com/haskel/dermfox/internal/model"
	"github.com/haskel/dermfox/internal/nn"
	"github.com/haskel/dermfox/internal/staging"
	"github.com/haskel/dermfox/internal/storage"
)

func smallArchitecture() nn.Architecture {
	return nn.Architecture{
		InputChannels: imaging.Channels,
		InputSize:     imaging.InputSize,
		Conv1Filters:  2,
		Conv2Filters:  2,
		Hidden:        4,
		Classes:       lesion.NumClasses,
	}
}

func quickTrain() nn.TrainConfig {
	return nn.TrainConfig{MaxEpochs: 1, BatchSize: 4, LearningRate: 0.01, Seed: 1}
}

type fixture struct {
	area   *staging.Area
	holder *model.Holder
	store  *storage.ModelStorage
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	area, err := staging.Open(filepath.Join(dir, "staging"), testLogger())
	if err != nil {
		t.Fatalf("staging.Open error: %v", err)
	}

	store := storage.NewModelStorage(filepath.Join(dir, "model.json"), testLogger())
	holder := model.New(store, model.Options{Architecture: smallArchitecture(), Seed: 1}, testLogger())
	if err := holder.Load(); err != nil {
		t.Fatalf("holder.Load error: %v", err)
	}
	return &fixture{area: area, holder: holder, store: store}
}

func (f *fixture) stageValid(t *testing.T, n int) []staging.Sample {
	t.Helper()
	var out []staging.Sample
	for i := 0; i < n; i++ {
		c := color.Gray{Y: uint8(30 * i)}
		s, err := f.area.Save(lesion.Class(i%lesion.NumClasses), imagingtest.SolidPNG(t, 40, 30, c), "png")
		if err != nil {
			t.Fatalf("Save error: %v", err)
		}
		out = append(out, s)
	}
	return out
}

// stageCorrupt writes a well-named file that does not decode.
func (f *fixture) stageCorrupt(t *testing.T) string {
	t.Helper()
	s, err := f.area.Save(lesion.Melanoma, []byte("not an image"), "jpg")
	if err != nil {
		t.Fatalf("Save error: %v", err)
	}
	return s.Path
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestTrainer_SuccessfulPass(t *testing.T) {
	f := newFixture(t)

	if err := f.holder.Save(); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(f.store.Path(), past, past); err != nil {
		t.Fatal(err)
	}
	before := f.store.GetModelInfo().UpdatedAt

	f.stageValid(t, 6)
	f.stageCorrupt(t)
	foreign := filepath.Join(f.area.Dir(), "notes.txt")
	if err := os.WriteFile(foreign, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	tr := NewTrainer(f.area, f.holder, TrainerConfig{Train: quickTrain(), Workers: 2, Logger: testLogger()})
	res, err := tr.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if res.Snapshot != 7 || res.Samples != 6 || res.Skipped != 1 || res.Removed != 7 {
		t.Errorf("unexpected result %+v", res)
	}
	if res.Version != 1 || f.holder.Version() != 1 {
		t.Errorf("expected version 1, got result %d holder %d", res.Version, f.holder.Version())
	}
	if res.Summary == nil || res.Summary.Epochs != 1 {
		t.Errorf("expected a one-epoch summary, got %+v", res.Summary)
	}

	if f.area.Count() != 0 {
		t.Errorf("expected empty staging count, got %d", f.area.Count())
	}
	names := listDir(t, f.area.Dir())
	if len(names) != 1 || names[0] != "notes.txt" {
		t.Errorf("expected only the foreign file to remain, got %v", names)
	}

	after := f.store.GetModelInfo().UpdatedAt
	if !after.After(before) {
		t.Errorf("expected weights mtime to advance: before %v after %v", before, after)
	}
}

func TestTrainer_NoValidSamplesChangesNothing(t *testing.T) {
	f := newFixture(t)
	corrupt := f.stageCorrupt(t)

	tr := NewTrainer(f.area, f.holder, TrainerConfig{Train: quickTrain(), Logger: testLogger()})
	_, err := tr.Run(context.Background())
	if !errors.Is(err, ErrNoTrainingData) {
		t.Fatalf("expected ErrNoTrainingData, got %v", err)
	}

	if _, err := os.Stat(corrupt); err != nil {
		t.Errorf("expected staged file to remain: %v", err)
	}
	if f.area.Count() != 1 {
		t.Errorf("expected count 1, got %d", f.area.Count())
	}
	if f.holder.Version() != 0 {
		t.Errorf("expected version 0, got %d", f.holder.Version())
	}
	if f.store.ModelExists() {
		t.Error("expected no weights file to be written")
	}
}

func TestTrainer_EmptyStaging(t *testing.T) {
	f := newFixture(t)

	tr := NewTrainer(f.area, f.holder, TrainerConfig{Train: quickTrain(), Logger: testLogger()})
	if _, err := tr.Run(context.Background()); !errors.Is(err, ErrNoTrainingData) {
		t.Errorf("expected ErrNoTrainingData, got %v", err)
	}
}

// stagingHolder stages one more sample while fitting, as an upload
// arriving mid-pass would.
type stagingHolder struct {
	*model.Holder
	area *staging.Area
	late staging.Sample
	t    *testing.T
}

func (h *stagingHolder) Fit(ctx context.Context, xs, ys [][]float64, cfg nn.TrainConfig) (*nn.Summary, error) {
	s, err := h.area.Save(lesion.Dermatofibroma, imagingtest.SolidPNG(h.t, 8, 8, color.White), "png")
	if err != nil {
		return nil, err
	}
	h.late = s
	return h.Holder.Fit(ctx, xs, ys, cfg)
}

func TestTrainer_KeepsSamplesStagedDuringPass(t *testing.T) {
	f := newFixture(t)
	f.stageValid(t, 3)

	h := &stagingHolder{Holder: f.holder, area: f.area, t: t}
	tr := NewTrainer(f.area, h, TrainerConfig{Train: quickTrain(), Logger: testLogger()})

	res, err := tr.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if res.Removed != 3 {
		t.Errorf("expected 3 removed, got %d", res.Removed)
	}
	if _, err := os.Stat(h.late.Path); err != nil {
		t.Errorf("sample staged during the pass was deleted: %v", err)
	}
	if f.area.Count() != 1 {
		t.Errorf("expected count 1, got %d", f.area.Count())
	}
}

type refusingGuard struct{}

func (refusingGuard) CheckMemory() error {
	return errors.New("memory usage 97% above limit 90%")
}

func TestTrainer_MemoryGuard(t *testing.T) {
	f := newFixture(t)
	f.stageValid(t, 2)

	tr := NewTrainer(f.area, f.holder, TrainerConfig{Train: quickTrain(), Guard: refusingGuard{}, Logger: testLogger()})
	if _, err := tr.Run(context.Background()); !errors.Is(err, ErrResourcesExhausted) {
		t.Fatalf("expected ErrResourcesExhausted, got %v", err)
	}
	if f.area.Count() != 2 {
		t.Errorf("expected staging untouched, got count %d", f.area.Count())
	}
}

func TestTrainer_CancelledLeavesStaging(t *testing.T) {
	f := newFixture(t)
	f.stageValid(t, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr := NewTrainer(f.area, f.holder, TrainerConfig{Train: quickTrain(), Logger: testLogger()})
	if _, err := tr.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if f.area.Count() != 2 {
		t.Errorf("expected staging untouched, got count %d", f.area.Count())
	}
	if f.holder.Version() != 0 {
		t.Errorf("expected version 0, got %d", f.holder.Version())
	}
}

func TestTrainer_ClassCounts(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		if _, err := f.area.Save(lesion.Melanoma, imagingtest.SolidPNG(t, 10, 10, color.Black), "png"); err != nil {
			t.Fatal(err)
		}
	}
	name := staging.FormatName(lesion.MelanocyticNevi, uuid.NewString(), "png")
	if err := os.WriteFile(filepath.Join(f.area.Dir(), name), imagingtest.SolidPNG(t, 10, 10, color.White), 0644); err != nil {
		t.Fatal(err)
	}

	tr := NewTrainer(f.area, f.holder, TrainerConfig{Train: quickTrain(), Logger: testLogger()})
	res, err := tr.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if res.ClassCounts[lesion.Melanoma.String()] != 3 || res.ClassCounts[lesion.MelanocyticNevi.String()] != 1 {
		t.Errorf("unexpected class counts %v", res.ClassCounts)
	}
	// The copied-in sample was never counted by Save.
	if f.area.Count() != 0 {
		t.Errorf("expected count 0 after the pass, got %d", f.area.Count())
	}
}
