package storage

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

// mockModel for testing
type mockModel struct {
	Data  string `json:"data"`
	Value int    `json:"value"`
}

func (m *mockModel) Save(w io.Writer) error {
	return json.NewEncoder(w).Encode(m)
}

func (m *mockModel) Load(r io.Reader) error {
	return json.NewDecoder(r).Decode(m)
}

type failingModel struct{}

func (failingModel) Save(w io.Writer) error {
	return errors.New("boom")
}

func newTestModelStorage(t *testing.T) *ModelStorage {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewModelStorage(filepath.Join(t.TempDir(), "weights", "model.json"), logger)
}

func TestModelStorage_SaveLoad(t *testing.T) {
	ms := newTestModelStorage(t)

	if ms.ModelExists() {
		t.Error("expected model to not exist initially")
	}

	original := &mockModel{Data: "test data", Value: 42}
	if err := ms.SaveModel(original); err != nil {
		t.Fatalf("SaveModel error: %v", err)
	}

	if !ms.ModelExists() {
		t.Error("expected model to exist after save")
	}

	loaded := &mockModel{}
	ok, err := ms.LoadModel(loaded)
	if err != nil {
		t.Fatalf("LoadModel error: %v", err)
	}
	if !ok {
		t.Fatal("expected model to load")
	}

	if loaded.Data != original.Data {
		t.Errorf("expected Data '%s', got '%s'", original.Data, loaded.Data)
	}
	if loaded.Value != original.Value {
		t.Errorf("expected Value %d, got %d", original.Value, loaded.Value)
	}
}

func TestModelStorage_LoadNonExistent(t *testing.T) {
	ms := newTestModelStorage(t)

	model := &mockModel{}
	ok, err := ms.LoadModel(model)
	if err != nil {
		t.Errorf("expected no error loading non-existent model, got: %v", err)
	}
	if ok {
		t.Error("expected load to report missing model")
	}

	if model.Data != "" || model.Value != 0 {
		t.Error("expected model to have default values")
	}
}

func TestModelStorage_LoadCorrupted(t *testing.T) {
	ms := newTestModelStorage(t)
	if err := os.MkdirAll(filepath.Dir(ms.Path()), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(ms.Path(), []byte("{broken"), 0644); err != nil {
		t.Fatal(err)
	}

	ok, err := ms.LoadModel(&mockModel{})
	if !errors.Is(err, ErrCorruptModel) {
		t.Errorf("expected ErrCorruptModel, got: %v", err)
	}
	if ok {
		t.Error("expected corrupted model to report not loaded")
	}

	// The file is left for the operator to inspect.
	if data, _ := os.ReadFile(ms.Path()); string(data) != "{broken" {
		t.Errorf("corrupt file was modified: %q", data)
	}
}

func TestModelStorage_FailedSaveKeepsPrevious(t *testing.T) {
	ms := newTestModelStorage(t)

	if err := ms.SaveModel(&mockModel{Data: "v1", Value: 1}); err != nil {
		t.Fatalf("SaveModel error: %v", err)
	}
	if err := ms.SaveModel(failingModel{}); err == nil {
		t.Fatal("expected save error")
	}

	loaded := &mockModel{}
	if _, err := ms.LoadModel(loaded); err != nil {
		t.Fatalf("LoadModel error: %v", err)
	}
	if loaded.Value != 1 {
		t.Errorf("expected previous model to survive, got %+v", loaded)
	}

	entries, err := os.ReadDir(filepath.Dir(ms.Path()))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the weights file, found %d entries", len(entries))
	}
}

func TestModelStorage_GetModelInfo(t *testing.T) {
	ms := newTestModelStorage(t)

	info := ms.GetModelInfo()
	if info.Exists {
		t.Error("expected model to not exist")
	}

	model := &mockModel{Data: "test", Value: 123}
	if err := ms.SaveModel(model); err != nil {
		t.Fatalf("failed to save model: %v", err)
	}

	info = ms.GetModelInfo()
	if !info.Exists {
		t.Error("expected model to exist")
	}
	if info.Size == 0 {
		t.Error("expected non-zero size")
	}
	if info.UpdatedAt.IsZero() {
		t.Error("expected non-zero UpdatedAt")
	}
	if info.Path != ms.Path() {
		t.Errorf("expected path %s, got %s", ms.Path(), info.Path)
	}
}

func TestModelStorage_AtomicWrite(t *testing.T) {
	ms := newTestModelStorage(t)

	for i := 0; i < 5; i++ {
		model := &mockModel{Data: "test", Value: i}
		if err := ms.SaveModel(model); err != nil {
			t.Fatalf("SaveModel iteration %d error: %v", i, err)
		}
	}

	model := &mockModel{}
	if _, err := ms.LoadModel(model); err != nil {
		t.Fatalf("LoadModel error: %v", err)
	}

	if model.Value != 4 {
		t.Errorf("expected Value 4, got %d", model.Value)
	}
}
