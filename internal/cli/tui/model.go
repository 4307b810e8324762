package tui

import (
	"time"
)

// Config holds TUI configuration
type Config struct {
	ServerURL       string
	RefreshInterval time.Duration
	User            string
	Password        string
}

// Model represents the TUI state
type Model struct {
	config Config

	// Data from API
	status  *StatusData
	retrain *RetrainData
	model   *ModelData
	history *HistoryData

	// UI state
	width       int
	height      int
	loading     bool
	err         error
	notice      string
	lastUpdated time.Time

	// Table scroll position
	tableOffset int
}

// StatusData mirrors the /status endpoint
type StatusData struct {
	Resources        *ResourceStatus `json:"resources"`
	Staged           int             `json:"staged"`
	MinFreeDiskBytes uint64          `json:"min_free_disk_bytes"`
	MaxMemoryPercent float64         `json:"max_memory_percent"`
	Uptime           string          `json:"uptime"`
}

type ResourceStatus struct {
	CPU     CPUStatus     `json:"cpu"`
	Memory  MemoryStatus  `json:"memory"`
	Storage StorageStatus `json:"storage"`
	Process ProcessStatus `json:"process"`
}

type CPUStatus struct {
	UsagePercent float64 `json:"usage_percent"`
}

type MemoryStatus struct {
	UsagePercent float64 `json:"usage_percent"`
	TotalBytes   uint64  `json:"total_bytes"`
	UsedBytes    uint64  `json:"used_bytes"`
}

type StorageStatus map[string]DiskStatus

type DiskStatus struct {
	Path       string  `json:"path"`
	TotalBytes uint64  `json:"total_bytes"`
	FreeBytes  uint64  `json:"free_bytes"`
	UsedBytes  uint64  `json:"used_bytes"`
	UsedPct    float64 `json:"usage_percent"`
}

type ProcessStatus struct {
	PID        int32   `json:"pid"`
	RSSBytes   uint64  `json:"rss_bytes"`
	Threads    int32   `json:"threads"`
	Goroutines int     `json:"goroutines"`
	CPUPercent float64 `json:"cpu_percent"`
}

// RetrainData mirrors /retrain/status
type RetrainData struct {
	State        string    `json:"state"`
	Staged       int       `json:"staged"`
	Threshold    int       `json:"threshold"`
	RunStarted   time.Time `json:"run_started"`
	RunTrigger   string    `json:"run_trigger"`
	Runs         int64     `json:"runs"`
	Successes    int64     `json:"successes"`
	Failures     int64     `json:"failures"`
	LastStatus   string    `json:"last_status"`
	LastError    string    `json:"last_error"`
	ModelVersion int64     `json:"model_version"`
}

// ModelData mirrors /model
type ModelData struct {
	Version       int64     `json:"version"`
	Source        string    `json:"source"`
	PublishedAt   time.Time `json:"published_at"`
	Params        int       `json:"params"`
	ServerVersion string    `json:"server_version"`
}

// HistoryData mirrors /retrain/history
type HistoryData struct {
	Runs   []RunData      `json:"runs"`
	Counts map[string]int `json:"counts"`
}

type RunData struct {
	ID           int64     `json:"id"`
	Trigger      string    `json:"trigger"`
	Status       string    `json:"status"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Samples      int       `json:"samples"`
	Epochs       int       `json:"epochs"`
	ValAccuracy  float64   `json:"val_accuracy"`
	ModelVersion int64     `json:"model_version"`
}

// NewModel creates a new TUI model
func NewModel(cfg Config) Model {
	return Model{
		config:  cfg,
		loading: true,
	}
}
