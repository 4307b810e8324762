// Package history keeps a log of retraining runs in SQLite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Run statuses.
const (
	StatusSuccess   = "success"
	StatusNoData    = "no_data"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
	StatusTimeout   = "timeout"
)

// Run is one recorded retraining pass.
type Run struct {
	ID           int64     `json:"id"`
	Trigger      string    `json:"trigger"`
	Status       string    `json:"status"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Samples      int       `json:"samples"`
	Skipped      int       `json:"skipped"`
	Removed      int       `json:"removed"`
	Epochs       int       `json:"epochs"`
	BestEpoch    int       `json:"best_epoch"`
	ValLoss      float64   `json:"val_loss"`
	ValAccuracy  float64   `json:"val_accuracy"`
	ModelVersion int64     `json:"model_version"`
	Error        string    `json:"error,omitempty"`
}

// Duration returns how long the run took.
func (r Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

const schema = `
CREATE TABLE IF NOT EXISTS retrain_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    trigger TEXT NOT NULL,
    status TEXT NOT NULL,
    started_at DATETIME NOT NULL,
    finished_at DATETIME NOT NULL,
    samples INTEGER DEFAULT 0,
    skipped INTEGER DEFAULT 0,
    removed INTEGER DEFAULT 0,
    epochs INTEGER DEFAULT 0,
    best_epoch INTEGER DEFAULT 0,
    val_loss REAL DEFAULT 0,
    val_accuracy REAL DEFAULT 0,
    model_version INTEGER DEFAULT 0,
    error TEXT DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_retrain_runs_started ON retrain_runs(started_at);
`

// Store is a SQLite-backed run log.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	// SQLite allows one writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create history schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts a run and returns its ID.
func (s *Store) Record(ctx context.Context, r Run) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
        INSERT INTO retrain_runs (trigger, status, started_at, finished_at, samples, skipped, removed,
            epochs, best_epoch, val_loss, val_accuracy, model_version, error)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Trigger, r.Status, r.StartedAt.UTC(), r.FinishedAt.UTC(), r.Samples, r.Skipped, r.Removed,
		r.Epochs, r.BestEpoch, r.ValLoss, r.ValAccuracy, r.ModelVersion, r.Error)
	if err != nil {
		return 0, fmt.Errorf("failed to record run: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
        SELECT id, trigger, status, started_at, finished_at, samples, skipped, removed,
               epochs, best_epoch, val_loss, val_accuracy, model_version, error
        FROM retrain_runs
        ORDER BY id DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Trigger, &r.Status, &r.StartedAt, &r.FinishedAt,
			&r.Samples, &r.Skipped, &r.Removed, &r.Epochs, &r.BestEpoch,
			&r.ValLoss, &r.ValAccuracy, &r.ModelVersion, &r.Error); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Counts returns the number of runs per status.
func (s *Store) Counts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM retrain_runs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count runs: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// Prune deletes runs that started before cutoff and returns how many were
// removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM retrain_runs WHERE started_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	return res.RowsAffected()
}
