package scan

import (
	"context"
	"sync"
	"time"

	"stockscout/internal/model"
)

// MemoryRegistry keeps runs and matches in memory. Used by tests and
// as the fallback when no database path is configured.
type MemoryRegistry struct {
	staleAfter time.Duration
	now        func() time.Time

	mu      sync.Mutex
	nextID  int64
	runs    map[int64]*model.ScanRun
	matches []MatchRecord
}

// NewMemoryRegistry creates an empty in-memory registry with the given
// staleness threshold.
func NewMemoryRegistry(staleAfter time.Duration) *MemoryRegistry {
	return &MemoryRegistry{
		staleAfter: staleAfter,
		now:        time.Now,
		nextID:     1,
		runs:       make(map[int64]*model.ScanRun),
	}
}

func (m *MemoryRegistry) CreateRun(_ context.Context, run *model.ScanRun) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	run.ID = id
	m.runs[id] = cloneRun(run)
	return id, nil
}

func (m *MemoryRegistry) UpdateProgress(_ context.Context, run *model.ScanRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = cloneRun(run)
	return nil
}

func (m *MemoryRegistry) FinalizeRun(ctx context.Context, run *model.ScanRun) error {
	return m.UpdateProgress(ctx, run)
}

func (m *MemoryRegistry) InsertMatch(_ context.Context, runID int64, res model.ScoreResult) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, rec := range m.matches {
		if rec.Scanner == res.Scanner && rec.Ticker == res.Ticker {
			m.matches[i] = MatchRecord{ScoreResult: res, RunID: runID, DetectedAt: m.now()}
			return false, nil
		}
	}
	m.matches = append(m.matches, MatchRecord{ScoreResult: res, RunID: runID, DetectedAt: m.now()})
	return true, nil
}

func (m *MemoryRegistry) LatestRun(_ context.Context, scanner model.ScannerID) (*model.ScanRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var latest *model.ScanRun
	for _, run := range m.runs {
		if run.Scanner != scanner {
			continue
		}
		if latest == nil || run.ID > latest.ID {
			latest = run
		}
	}
	if latest == nil {
		return nil, nil
	}
	if repairIfStale(latest, m.staleAfter, m.now()) {
		m.runs[latest.ID] = latest
	}
	return cloneRun(latest), nil
}

func (m *MemoryRegistry) Matches(_ context.Context, scanner model.ScannerID, limit int) ([]MatchRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]MatchRecord, 0, limit)
	for i := len(m.matches) - 1; i >= 0; i-- {
		if m.matches[i].Scanner != scanner {
			continue
		}
		out = append(out, m.matches[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryRegistry) Close() error { return nil }

func cloneRun(run *model.ScanRun) *model.ScanRun {
	c := *run
	c.Markets = append([]string(nil), run.Markets...)
	c.Errors = append([]string(nil), run.Errors...)
	if run.FinishedAt != nil {
		t := *run.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}
