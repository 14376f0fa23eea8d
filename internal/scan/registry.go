package scan

import (
	"context"
	"fmt"
	"time"

	"stockscout/internal/model"
)

// MatchRecord is a persisted pattern match. Matches are written
// incrementally during a run so a killed process still leaves partial
// results behind.
type MatchRecord struct {
	model.ScoreResult
	RunID      int64
	DetectedAt time.Time
}

// Registry is the persistence boundary for scan runs and their
// matches. The UI polls it; the orchestrator writes through it.
type Registry interface {
	// CreateRun persists a new run record and returns its id.
	CreateRun(ctx context.Context, run *model.ScanRun) (int64, error)

	// UpdateProgress flushes the run's current counters and errors so
	// pollers observe live progress.
	UpdateProgress(ctx context.Context, run *model.ScanRun) error

	// FinalizeRun writes the terminal status. Must be the last write
	// for the run.
	FinalizeRun(ctx context.Context, run *model.ScanRun) error

	// InsertMatch upserts a match row keyed by scanner+ticker and
	// reports whether the ticker was newly inserted.
	InsertMatch(ctx context.Context, runID int64, res model.ScoreResult) (bool, error)

	// LatestRun returns the most recent run for a scanner, applying
	// the staleness repair, or nil when the scanner never ran.
	LatestRun(ctx context.Context, scanner model.ScannerID) (*model.ScanRun, error)

	// Matches lists persisted matches for a scanner, newest first.
	Matches(ctx context.Context, scanner model.ScannerID, limit int) ([]MatchRecord, error)

	Close() error
}

// repairIfStale flags an abandoned run. A record still marked running
// long after its start means the host killed the process mid-run; any
// reader that trips over it rewrites it to failed so the UI never shows
// a zombie as live. Returns true when the run was repaired.
func repairIfStale(run *model.ScanRun, staleAfter time.Duration, now time.Time) bool {
	if run == nil || run.Status != model.RunRunning {
		return false
	}
	age := now.Sub(run.StartedAt)
	if age < staleAfter {
		return false
	}
	run.Status = model.RunFailed
	run.Errors = append(run.Errors,
		fmt.Sprintf("run abandoned: still running after %s, marked failed at read time", age.Round(time.Second)))
	finished := now
	run.FinishedAt = &finished
	return true
}
