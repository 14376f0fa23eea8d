package scan

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"stockscout/internal/model"
)

// SQLiteRegistry persists runs and matches to a SQLite database. A
// single mutex serializes writes; WAL mode keeps the polling reads
// cheap while a run is writing.
type SQLiteRegistry struct {
	db         *sql.DB
	staleAfter time.Duration
	now        func() time.Time
	mu         sync.Mutex
}

// NewSQLiteRegistry opens (or creates) the database and runs
// migrations.
func NewSQLiteRegistry(dbPath string, staleAfter time.Duration) (*SQLiteRegistry, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRegistry{db: db, staleAfter: staleAfter, now: time.Now}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Info().Str("path", dbPath).Msg("sqlite registry opened")
	return r, nil
}

func (r *SQLiteRegistry) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS scan_runs (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			scanner          TEXT NOT NULL,
			status           TEXT NOT NULL,
			markets          TEXT,
			started_at       INTEGER NOT NULL,
			finished_at      INTEGER,
			candidates_found INTEGER DEFAULT 0,
			enriched         INTEGER DEFAULT 0,
			matched          INTEGER DEFAULT 0,
			inserted         INTEGER DEFAULT 0,
			primary_calls    INTEGER DEFAULT 0,
			secondary_calls  INTEGER DEFAULT 0,
			errors           TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_scanner ON scan_runs(scanner, id)`,

		`CREATE TABLE IF NOT EXISTS scan_matches (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			scanner         TEXT NOT NULL,
			ticker          TEXT NOT NULL,
			run_id          INTEGER NOT NULL,
			score           REAL,
			decline_pct     REAL,
			growth_events   INTEGER,
			base_stability  REAL,
			spike_magnitude REAL,
			detected_at     INTEGER NOT NULL,
			UNIQUE(scanner, ticker)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_matches_scanner ON scan_matches(scanner, detected_at)`,
	}
	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (r *SQLiteRegistry) CreateRun(ctx context.Context, run *model.ScanRun) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	markets, _ := json.Marshal(run.Markets)
	errs, _ := json.Marshal(run.Errors)
	res, err := r.db.ExecContext(ctx, `INSERT INTO scan_runs
		(scanner, status, markets, started_at, errors)
		VALUES (?,?,?,?,?)`,
		string(run.Scanner), string(run.Status), string(markets),
		run.StartedAt.Unix(), string(errs),
	)
	if err != nil {
		return 0, fmt.Errorf("create run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create run id: %w", err)
	}
	run.ID = id
	return id, nil
}

func (r *SQLiteRegistry) UpdateProgress(ctx context.Context, run *model.ScanRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writeRun(ctx, run)
}

func (r *SQLiteRegistry) FinalizeRun(ctx context.Context, run *model.ScanRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writeRun(ctx, run)
}

func (r *SQLiteRegistry) writeRun(ctx context.Context, run *model.ScanRun) error {
	markets, _ := json.Marshal(run.Markets)
	errs, _ := json.Marshal(run.Errors)
	var finished interface{}
	if run.FinishedAt != nil {
		finished = run.FinishedAt.Unix()
	}
	_, err := r.db.ExecContext(ctx, `UPDATE scan_runs SET
		status=?, markets=?, finished_at=?,
		candidates_found=?, enriched=?, matched=?, inserted=?,
		primary_calls=?, secondary_calls=?, errors=?
		WHERE id=?`,
		string(run.Status), string(markets), finished,
		run.CandidatesFound, run.Enriched, run.Matched, run.Inserted,
		run.PrimaryCalls, run.SecondaryCalls, string(errs),
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("write run %d: %w", run.ID, err)
	}
	return nil
}

func (r *SQLiteRegistry) InsertMatch(ctx context.Context, runID int64, res model.ScoreResult) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var existing int64
	err := r.db.QueryRowContext(ctx,
		`SELECT id FROM scan_matches WHERE scanner=? AND ticker=?`,
		string(res.Scanner), res.Ticker).Scan(&existing)
	switch {
	case err == sql.ErrNoRows:
		_, err = r.db.ExecContext(ctx, `INSERT INTO scan_matches
			(scanner, ticker, run_id, score, decline_pct, growth_events,
			 base_stability, spike_magnitude, detected_at)
			VALUES (?,?,?,?,?,?,?,?,?)`,
			string(res.Scanner), res.Ticker, runID, res.Score,
			res.DeclinePct, res.GrowthEvents, res.BaseStability,
			res.SpikeMagnitude, r.now().Unix(),
		)
		if err != nil {
			return false, fmt.Errorf("insert match %s: %w", res.Ticker, err)
		}
		return true, nil
	case err != nil:
		return false, fmt.Errorf("lookup match %s: %w", res.Ticker, err)
	default:
		_, err = r.db.ExecContext(ctx, `UPDATE scan_matches SET
			run_id=?, score=?, decline_pct=?, growth_events=?,
			base_stability=?, spike_magnitude=?, detected_at=?
			WHERE id=?`,
			runID, res.Score, res.DeclinePct, res.GrowthEvents,
			res.BaseStability, res.SpikeMagnitude, r.now().Unix(),
			existing,
		)
		if err != nil {
			return false, fmt.Errorf("update match %s: %w", res.Ticker, err)
		}
		return false, nil
	}
}

func (r *SQLiteRegistry) LatestRun(ctx context.Context, scanner model.ScannerID) (*model.ScanRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	row := r.db.QueryRowContext(ctx, `SELECT
		id, scanner, status, markets, started_at, finished_at,
		candidates_found, enriched, matched, inserted,
		primary_calls, secondary_calls, errors
		FROM scan_runs WHERE scanner=? ORDER BY id DESC LIMIT 1`,
		string(scanner))

	var (
		run      model.ScanRun
		sc       string
		status   string
		markets  sql.NullString
		started  int64
		finished sql.NullInt64
		errsBlob sql.NullString
	)
	err := row.Scan(&run.ID, &sc, &status, &markets, &started, &finished,
		&run.CandidatesFound, &run.Enriched, &run.Matched, &run.Inserted,
		&run.PrimaryCalls, &run.SecondaryCalls, &errsBlob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest run for %s: %w", scanner, err)
	}

	run.Scanner = model.ScannerID(sc)
	run.Status = model.RunStatus(status)
	run.StartedAt = time.Unix(started, 0).UTC()
	if finished.Valid {
		t := time.Unix(finished.Int64, 0).UTC()
		run.FinishedAt = &t
	}
	if markets.Valid && markets.String != "" {
		json.Unmarshal([]byte(markets.String), &run.Markets)
	}
	if errsBlob.Valid && errsBlob.String != "" {
		json.Unmarshal([]byte(errsBlob.String), &run.Errors)
	}

	if repairIfStale(&run, r.staleAfter, r.now()) {
		if err := r.writeRun(ctx, &run); err != nil {
			log.Error().Err(err).Int64("run", run.ID).Msg("persist staleness repair")
		} else {
			log.Warn().Int64("run", run.ID).Str("scanner", sc).Msg("stale running record repaired to failed")
		}
	}
	return &run, nil
}

func (r *SQLiteRegistry) Matches(ctx context.Context, scanner model.ScannerID, limit int) ([]MatchRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `SELECT
		ticker, run_id, score, decline_pct, growth_events,
		base_stability, spike_magnitude, detected_at
		FROM scan_matches WHERE scanner=?
		ORDER BY detected_at DESC, id DESC LIMIT ?`,
		string(scanner), limit)
	if err != nil {
		return nil, fmt.Errorf("list matches for %s: %w", scanner, err)
	}
	defer rows.Close()

	var out []MatchRecord
	for rows.Next() {
		var (
			rec      MatchRecord
			detected int64
		)
		if err := rows.Scan(&rec.Ticker, &rec.RunID, &rec.Score,
			&rec.DeclinePct, &rec.GrowthEvents, &rec.BaseStability,
			&rec.SpikeMagnitude, &detected); err != nil {
			return nil, fmt.Errorf("scan match row: %w", err)
		}
		rec.Scanner = scanner
		rec.Match = true
		rec.DetectedAt = time.Unix(detected, 0).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *SQLiteRegistry) Close() error {
	log.Info().Msg("closing sqlite registry")
	return r.db.Close()
}
