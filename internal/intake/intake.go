// Package intake accepts labeled training images and requests a retrain
// once enough have been staged.
package intake

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/haskel/dermfox/internal/imaging"
	"github.com/haskel/dermfox/internal/lesion"
	"github.com/haskel/dermfox/internal/metrics"
	"github.com/haskel/dermfox/internal/monitor"
	"github.com/haskel/dermfox/internal/retrain"
	"github.com/haskel/dermfox/internal/staging"
)

// ErrInsufficientStorage is returned when the staging volume is below its
// free space floor.
var ErrInsufficientStorage = errors.New("insufficient storage for training image")

// Area stores samples.
type Area interface {
	Save(class lesion.Class, data []byte, ext string) (staging.Sample, error)
	Count() int
	Dir() string
}

// Trigger requests a retraining pass.
type Trigger interface {
	Threshold() int
	Trigger() error
}

// DiskGuard reports free space on the volume holding path.
type DiskGuard interface {
	CheckDisk(path string) error
}

// UploadRecorder counts accepted uploads.
type UploadRecorder interface {
	RecordUpload(class string)
}

// Result is returned for an accepted upload.
type Result struct {
	Message   string       `json:"message"`
	Filename  string       `json:"filename"`
	Class     lesion.Class `json:"-"`
	Staged    int          `json:"-"`
	Triggered bool         `json:"-"`
}

// Options holds optional collaborators.
type Options struct {
	Guard    DiskGuard
	Recorder UploadRecorder
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Service validates, stores and counts training uploads.
type Service struct {
	area    Area
	trigger Trigger
	opts    Options
	logger  *slog.Logger
}

// New creates a Service.
func New(area Area, trigger Trigger, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{area: area, trigger: trigger, opts: opts, logger: logger}
}

// Submit stores data as a sample of the class named by classIdx. Nothing
// is written unless the label and the image are both valid.
func (s *Service) Submit(classIdx string, data []byte) (*Result, error) {
	class, err := lesion.Parse(classIdx)
	if err != nil {
		return nil, err
	}

	_, format, err := imaging.Decode(data)
	if err != nil {
		s.opts.Metrics.ObserveInvalidImage("upload")
		return nil, err
	}

	if s.opts.Guard != nil {
		switch err := s.opts.Guard.CheckDisk(s.area.Dir()); {
		case errors.Is(err, monitor.ErrLowDisk):
			return nil, fmt.Errorf("%w: %v", ErrInsufficientStorage, err)
		case err != nil:
			return nil, fmt.Errorf("failed to check staging disk: %w", err)
		}
	}

	sample, err := s.area.Save(class, data, imaging.Extension(format))
	if err != nil {
		return nil, fmt.Errorf("failed to stage image: %w", err)
	}

	s.opts.Metrics.ObserveUpload(class.String())
	if s.opts.Recorder != nil {
		s.opts.Recorder.RecordUpload(class.String())
	}

	res := &Result{
		Message:  "Image uploaded successfully",
		Filename: sample.Name,
		Class:    class,
		Staged:   s.area.Count(),
	}

	s.logger.Debug("staged training image",
		"filename", sample.Name,
		"class", class.String(),
		"staged", res.Staged,
	)

	if threshold := s.trigger.Threshold(); res.Staged >= threshold {
		switch err := s.trigger.Trigger(); {
		case err == nil:
			res.Triggered = true
			s.logger.Info("retrain threshold reached", "staged", res.Staged, "threshold", threshold)
		case errors.Is(err, retrain.ErrRetrainInProgress):
			s.logger.Debug("retrain already running", "staged", res.Staged)
		default:
			s.logger.Warn("failed to trigger retrain", "error", err)
		}
	}

	return res, nil
}
