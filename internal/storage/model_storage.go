package storage

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrCorruptModel is returned by LoadModel when the weights file exists
// but cannot be decoded.
var ErrCorruptModel = errors.New("weights file is corrupt")

// ModelStorage handles persistence of model weights at a fixed path.
type ModelStorage struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewModelStorage creates a ModelStorage for the weights file at path.
func NewModelStorage(path string, logger *slog.Logger) *ModelStorage {
	return &ModelStorage{path: path, logger: logger}
}

// Saveable is an interface for objects that can be saved.
type Saveable interface {
	Save(w io.Writer) error
}

// Loadable is an interface for objects that can be loaded.
type Loadable interface {
	Load(r io.Reader) error
}

// Path returns the weights file path.
func (ms *ModelStorage) Path() string {
	return ms.path
}

// SaveModel writes model to a temp file beside the weights file and renames
// it into place, so readers never observe a partial file.
func (ms *ModelStorage) SaveModel(model Saveable) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	dir := filepath.Dir(ms.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	file, err := os.CreateTemp(dir, "."+filepath.Base(ms.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := file.Name()

	if err := model.Save(file); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to save model: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tempPath, ms.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	ms.logger.Debug("saved model to disk", "path", ms.path)
	return nil
}

// LoadModel loads the weights file into model. It reports false without an
// error when the file is missing. A file that exists but does not decode
// is an ErrCorruptModel; the caller decides whether to start over.
func (ms *ModelStorage) LoadModel(model Loadable) (bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	file, err := os.Open(ms.path)
	if err != nil {
		if os.IsNotExist(err) {
			ms.logger.Warn("no existing model file, using fresh model", "path", ms.path)
			return false, nil
		}
		return false, fmt.Errorf("failed to open model file: %w", err)
	}
	defer file.Close()

	if err := model.Load(file); err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrCorruptModel, ms.path, err)
	}

	ms.logger.Info("loaded model from disk", "path", ms.path)
	return true, nil
}

// ModelExists returns whether a saved model exists.
func (ms *ModelStorage) ModelExists() bool {
	_, err := os.Stat(ms.path)
	return err == nil
}

// ModelInfo returns information about the saved model.
type ModelInfo struct {
	Exists    bool      `json:"exists"`
	Path      string    `json:"path"`
	Size      int64     `json:"size,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// GetModelInfo returns information about the saved model.
func (ms *ModelStorage) GetModelInfo() ModelInfo {
	info := ModelInfo{
		Path: ms.path,
	}

	stat, err := os.Stat(ms.path)
	if err != nil {
		info.Exists = false
		return info
	}

	info.Exists = true
	info.Size = stat.Size()
	info.UpdatedAt = stat.ModTime()
	return info
}
