package model

import "time"

// ScannerID identifies one of the two pattern detectors.
type ScannerID string

const (
	ScannerKuifje     ScannerID = "kuifje"
	ScannerZonnebloem ScannerID = "zonnebloem"
)

// Valid reports whether id names a known scanner.
func (id ScannerID) Valid() bool {
	return id == ScannerKuifje || id == ScannerZonnebloem
}

// RunStatus is the lifecycle state of a scan run.
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunPartial   RunStatus = "partial"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether the status is a final state.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunPartial || s == RunFailed
}

// ScanRun is the persisted record of one scanner execution across all
// configured markets. Counters only ever increase within a run.
type ScanRun struct {
	ID              int64
	Scanner         ScannerID
	Status          RunStatus
	Markets         []string
	StartedAt       time.Time
	FinishedAt      *time.Time
	CandidatesFound int
	Enriched        int
	Matched         int
	Inserted        int
	PrimaryCalls    int
	SecondaryCalls  int
	Errors          []string
}

// ScoreResult is the output of one classifier for one enriched candidate.
type ScoreResult struct {
	Ticker  string
	Scanner ScannerID
	Match   bool
	Score   float64

	// Kuifje metrics.
	DeclinePct   float64
	GrowthEvents int

	// Zonnebloem metrics.
	BaseStability  float64
	SpikeMagnitude float64
}
