// Package staging stores labeled training images until the next retrain.
//
// Samples are plain files named {class}_{uuid}.{ext}. Writes go through a
// dot-prefixed temp file and a rename, so a partially written sample is
// never listed or counted.
package staging

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/haskel/dermfox/internal/lesion"
)

// ErrBadName is returned by ParseName for files outside the naming convention.
var ErrBadName = errors.New("not a staged sample name")

// Sample is one staged file.
type Sample struct {
	Name  string
	Path  string
	Class lesion.Class
}

// FormatName builds the file name for a sample.
func FormatName(class lesion.Class, id, ext string) string {
	return fmt.Sprintf("%d_%s.%s", int(class), id, ext)
}

// ParseName recovers the class from a staged file name.
func ParseName(name string) (lesion.Class, error) {
	ext := filepath.Ext(name)
	if len(ext) < 2 {
		return 0, fmt.Errorf("%w: %q has no extension", ErrBadName, name)
	}

	classPart, id, ok := strings.Cut(strings.TrimSuffix(name, ext), "_")
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrBadName, name)
	}

	n, err := strconv.Atoi(classPart)
	if err != nil || strconv.Itoa(n) != classPart {
		return 0, fmt.Errorf("%w: %q has invalid class %q", ErrBadName, name, classPart)
	}
	class, err := lesion.FromInt(n)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadName, err)
	}

	if _, err := uuid.Parse(id); err != nil {
		return 0, fmt.Errorf("%w: %q has invalid id", ErrBadName, name)
	}

	return class, nil
}

const (
	tempPrefix = ".upload-"
	tempSuffix = ".tmp"
)

// Area is a staging directory with an in-memory sample count.
type Area struct {
	dir    string
	logger *slog.Logger
	count  atomic.Int64

	// Saves hold the read side while they publish a sample; a recount
	// holds the write side so the scan and the counter agree.
	scanMu sync.RWMutex
}

// Open creates dir if needed, removes temp files left by an interrupted
// Save and seeds the sample count with one directory scan.
func Open(dir string, logger *slog.Logger) (*Area, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	a := &Area{dir: dir, logger: logger}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read staging directory: %w", err)
	}
	for _, e := range entries {
		if name := e.Name(); e.Type().IsRegular() && isTemp(name) {
			if err := os.Remove(filepath.Join(dir, name)); err == nil {
				logger.Debug("removed stale temp file", "name", name)
			}
		}
	}

	count, ignored, err := a.recount()
	if err != nil {
		return nil, err
	}

	logger.Info("opened staging area",
		"dir", dir,
		"samples", count,
		"ignored", ignored,
	)
	return a, nil
}

// isTemp matches only the temp files Save creates.
func isTemp(name string) bool {
	return strings.HasPrefix(name, tempPrefix) && strings.HasSuffix(name, tempSuffix)
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// recount rescans the directory and resets the sample count to the number
// of well-named files, including ones copied in from outside.
func (a *Area) recount() (count, ignored int, err error) {
	a.scanMu.Lock()
	defer a.scanMu.Unlock()

	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read staging directory: %w", err)
	}
	for _, e := range entries {
		if !e.Type().IsRegular() || isHidden(e.Name()) {
			continue
		}
		if _, err := ParseName(e.Name()); err != nil {
			ignored++
			continue
		}
		count++
	}
	a.count.Store(int64(count))
	return count, ignored, nil
}

// Dir returns the staging directory.
func (a *Area) Dir() string {
	return a.dir
}

// Count returns the number of staged samples.
func (a *Area) Count() int {
	return int(a.count.Load())
}

// Save writes data verbatim as a new sample of class and returns it.
func (a *Area) Save(class lesion.Class, data []byte, ext string) (Sample, error) {
	if !class.Valid() {
		return Sample{}, &lesion.InvalidLabelError{Value: strconv.Itoa(int(class))}
	}

	name := FormatName(class, uuid.NewString(), ext)
	path := filepath.Join(a.dir, name)

	file, err := os.CreateTemp(a.dir, tempPrefix+"*"+tempSuffix)
	if err != nil {
		return Sample{}, fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := file.Name()

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tempPath)
		return Sample{}, fmt.Errorf("failed to write sample: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return Sample{}, fmt.Errorf("failed to close temp file: %w", err)
	}

	a.scanMu.RLock()
	defer a.scanMu.RUnlock()

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return Sample{}, fmt.Errorf("failed to rename temp file: %w", err)
	}

	a.count.Add(1)
	return Sample{Name: name, Path: path, Class: class}, nil
}

// Snapshot lists the staged samples. Hidden files are skipped; other files
// outside the naming convention are logged and left alone.
func (a *Area) Snapshot() ([]Sample, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read staging directory: %w", err)
	}

	samples := make([]Sample, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || isHidden(e.Name()) {
			continue
		}
		class, err := ParseName(e.Name())
		if err != nil {
			a.logger.Warn("skipping unrecognised staging file", "name", e.Name(), "error", err)
			continue
		}
		samples = append(samples, Sample{
			Name:  e.Name(),
			Path:  filepath.Join(a.dir, e.Name()),
			Class: class,
		})
	}
	return samples, nil
}

// Remove deletes exactly the given samples and returns how many were
// removed. Samples that are already gone are not an error. The count is
// then rebuilt from the directory, since a snapshot may hold files that
// were never counted.
func (a *Area) Remove(samples []Sample) (int, error) {
	var errs []error
	removed := 0
	for _, s := range samples {
		if err := os.Remove(s.Path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			errs = append(errs, err)
			continue
		}
		removed++
	}
	if _, _, err := a.recount(); err != nil {
		errs = append(errs, err)
	}
	return removed, errors.Join(errs...)
}
