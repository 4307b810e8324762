package storage

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Data represents the persisted service state.
type Data struct {
	Version      int                   `json:"version"`
	UpdatedAt    time.Time             `json:"updated_at"`
	ModelVersion int64                 `json:"model_version"`
	Retrains     int64                 `json:"retrains"`
	ClassStats   map[string]*ClassData `json:"class_stats"`
}

// ClassData represents persisted counters for one lesion class.
type ClassData struct {
	Class    string `json:"class"`
	Uploaded int64  `json:"uploaded"`
	Trained  int64  `json:"trained"`
}

const (
	currentVersion = 1
	dataFileName   = "dermfox_state.json"
)

// Storage handles persistence of service counters. Writes are batched and
// flushed periodically while started.
type Storage struct {
	dataDir       string
	flushInterval time.Duration
	logger        *slog.Logger

	mu     sync.RWMutex
	data   *Data
	dirty  bool
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a new Storage instance.
func New(dataDir string, flushInterval time.Duration, logger *slog.Logger) *Storage {
	return &Storage{
		dataDir:       dataDir,
		flushInterval: flushInterval,
		logger:        logger,
		data:          newEmptyData(),
		done:          make(chan struct{}),
	}
}

func newEmptyData() *Data {
	return &Data{
		Version:    currentVersion,
		UpdatedAt:  time.Now(),
		ClassStats: make(map[string]*ClassData),
	}
}

// Load loads data from disk. If file doesn't exist, returns empty data.
func (s *Storage) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	filePath := filepath.Join(s.dataDir, dataFileName)

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Info("no existing state file, starting fresh", "path", filePath)
			s.data = newEmptyData()
			return nil
		}
		return err
	}
	defer file.Close()

	var data Data
	if err := json.NewDecoder(file).Decode(&data); err != nil {
		s.logger.Warn("failed to decode state file, starting fresh", "error", err)
		s.data = newEmptyData()
		return nil
	}

	if data.Version > currentVersion {
		s.logger.Warn("state file version is newer than supported, starting fresh",
			"file_version", data.Version,
			"supported_version", currentVersion,
		)
		s.data = newEmptyData()
		return nil
	}

	if data.ClassStats == nil {
		data.ClassStats = make(map[string]*ClassData)
	}

	s.data = &data
	s.logger.Info("loaded state from disk",
		"path", filePath,
		"model_version", data.ModelVersion,
		"retrains", data.Retrains,
	)

	return nil
}

// Save saves data to disk.
func (s *Storage) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.saveLocked()
}

func (s *Storage) saveLocked() error {
	if err := os.MkdirAll(s.dataDir, 0755); err != nil {
		return err
	}

	filePath := filepath.Join(s.dataDir, dataFileName)
	tempPath := filePath + ".tmp"

	s.data.UpdatedAt = time.Now()

	file, err := os.Create(tempPath)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(s.data); err != nil {
		file.Close()
		os.Remove(tempPath)
		return err
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return err
	}

	// Atomic rename
	if err := os.Rename(tempPath, filePath); err != nil {
		os.Remove(tempPath)
		return err
	}

	s.dirty = false
	s.logger.Debug("saved state to disk", "path", filePath)

	return nil
}

// Start starts the periodic flush goroutine.
func (s *Storage) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	go s.flushLoop(ctx)
}

// Stop stops the periodic flush and saves final state.
func (s *Storage) Stop() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}

	return s.Save()
}

func (s *Storage) flushLoop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.IsDirty() {
				if err := s.Save(); err != nil {
					s.logger.Error("failed to save state", "error", err)
				}
			}
		}
	}
}

func (s *Storage) classLocked(class string) *ClassData {
	cd, ok := s.data.ClassStats[class]
	if !ok {
		cd = &ClassData{Class: class}
		s.data.ClassStats[class] = cd
	}
	return cd
}

// RecordUpload counts one accepted training upload for class.
func (s *Storage) RecordUpload(class string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.classLocked(class).Uploaded++
	s.dirty = true
}

// RecordRetrain counts a successful retrain that consumed the given number
// of samples per class and produced model version.
func (s *Storage) RecordRetrain(version int64, trained map[string]int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for class, n := range trained {
		s.classLocked(class).Trained += int64(n)
	}
	s.data.Retrains++
	if version > s.data.ModelVersion {
		s.data.ModelVersion = version
	}
	s.dirty = true
}

// ModelVersion returns the last recorded model version.
func (s *Storage) ModelVersion() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.ModelVersion
}

// Retrains returns the number of recorded successful retrains.
func (s *Storage) Retrains() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Retrains
}

// GetClassStats returns counters for a specific class.
func (s *Storage) GetClassStats(class string) *ClassData {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cd, ok := s.data.ClassStats[class]
	if !ok {
		return nil
	}
	copied := *cd
	return &copied
}

// GetAllClassStats returns counters for all classes.
func (s *Storage) GetAllClassStats() map[string]*ClassData {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]*ClassData, len(s.data.ClassStats))
	for k, v := range s.data.ClassStats {
		copied := *v
		result[k] = &copied
	}
	return result
}

// MarkDirty marks data as needing to be saved.
func (s *Storage) MarkDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = true
}

// IsDirty returns whether data has unsaved changes.
func (s *Storage) IsDirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}
