// Package scan drives one scanner's run across all configured markets:
// discovery, enrichment, classification, and incremental persistence.
package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"stockscout/internal/discovery"
	"stockscout/internal/model"
	"stockscout/internal/pattern"
	"stockscout/internal/quote"
	"stockscout/internal/ratelimit"
	"stockscout/internal/symbols"
)

// ErrRunInProgress is returned when a start request overlaps a live run
// of the same scanner.
var ErrRunInProgress = errors.New("scan: a run for this scanner is already in progress")

// Options tunes one orchestrator.
type Options struct {
	Markets    []string
	Range      string
	Interval   string
	Deadline   time.Duration
	MaxWorkers int
	MaxErrors  int
}

func (o *Options) defaults() {
	if o.Range == "" {
		o.Range = "5y"
	}
	if o.Interval == "" {
		o.Interval = "1d"
	}
	if o.Deadline <= 0 {
		o.Deadline = 4*time.Minute + 30*time.Second
	}
	if o.MaxWorkers <= 0 {
		o.MaxWorkers = 8
	}
	if o.MaxErrors <= 0 {
		o.MaxErrors = 25
	}
}

// Orchestrator sequences one scanner's runs. Safe to share between the
// HTTP layer and the cron scheduler; overlapping starts for the same
// scanner are rejected via the registry's latest-run record.
type Orchestrator struct {
	discoverer discovery.Discoverer
	quotes     quote.SeriesFetcher
	registry   Registry
	classifier pattern.Classifier
	gov        *ratelimit.Governor
	opts       Options
	logger     zerolog.Logger
}

// NewOrchestrator wires an orchestrator for one classifier.
func NewOrchestrator(d discovery.Discoverer, q quote.SeriesFetcher, reg Registry,
	cls pattern.Classifier, gov *ratelimit.Governor, opts Options) *Orchestrator {
	opts.defaults()
	return &Orchestrator{
		discoverer: d,
		quotes:     q,
		registry:   reg,
		classifier: cls,
		gov:        gov,
		opts:       opts,
		logger:     log.With().Str("scanner", string(cls.ID())).Logger(),
	}
}

// Begin rejects overlapping runs and persists the initial queued
// record. The caller hands the returned run to Execute.
func (o *Orchestrator) Begin(ctx context.Context) (*model.ScanRun, error) {
	latest, err := o.registry.LatestRun(ctx, o.classifier.ID())
	if err != nil {
		return nil, fmt.Errorf("check latest run: %w", err)
	}
	if latest != nil && !latest.Status.Terminal() {
		return nil, ErrRunInProgress
	}

	run := &model.ScanRun{
		Scanner:   o.classifier.ID(),
		Status:    model.RunQueued,
		Markets:   o.opts.Markets,
		StartedAt: time.Now().UTC(),
	}
	if _, err := o.registry.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return run, nil
}

// Run is the convenience path for the scheduler: Begin plus Execute.
func (o *Orchestrator) Run(ctx context.Context) (*model.ScanRun, error) {
	run, err := o.Begin(ctx)
	if err != nil {
		return nil, err
	}
	o.Execute(ctx, run)
	return run, nil
}

// Execute drives the run to a terminal state. Candidate and market
// failures are absorbed into the run's error list; only the inability
// to persist the run itself is fatal.
func (o *Orchestrator) Execute(ctx context.Context, run *model.ScanRun) {
	o.logger.Info().Int64("run", run.ID).Strs("markets", o.opts.Markets).Msg("scan run starting")

	var mu sync.Mutex
	run.Status = model.RunRunning
	o.flush(ctx, run, &mu)

	ctx, cancel := context.WithTimeout(ctx, o.opts.Deadline)
	defer cancel()

	primaryBefore := o.gov.Consumed(ratelimit.Primary)
	secondaryBefore := o.gov.Consumed(ratelimit.Secondary)

	candidates := o.discoverAll(ctx, run, &mu)
	deadlineCut := o.enrichAll(ctx, run, &mu, candidates)

	run.PrimaryCalls = o.gov.Consumed(ratelimit.Primary) - primaryBefore
	run.SecondaryCalls = o.gov.Consumed(ratelimit.Secondary) - secondaryBefore

	switch {
	case deadlineCut || len(run.Errors) > 0:
		run.Status = model.RunPartial
	default:
		run.Status = model.RunCompleted
	}
	now := time.Now().UTC()
	run.FinishedAt = &now

	if err := o.registry.FinalizeRun(context.WithoutCancel(ctx), run); err != nil {
		o.logger.Error().Err(err).Int64("run", run.ID).Msg("finalize run")
	}
	o.logger.Info().
		Int64("run", run.ID).
		Str("status", string(run.Status)).
		Int("candidates", run.CandidatesFound).
		Int("enriched", run.Enriched).
		Int("matched", run.Matched).
		Int("inserted", run.Inserted).
		Int("errors", len(run.Errors)).
		Msg("scan run finished")
}

// discoverAll walks the configured markets sequentially, normalizing
// and deduplicating symbols as it goes. A market failure costs that
// market its candidates and nothing more.
func (o *Orchestrator) discoverAll(ctx context.Context, run *model.ScanRun, mu *sync.Mutex) []model.Candidate {
	var out []model.Candidate
	seen := make(map[string]bool)

	for _, market := range o.opts.Markets {
		if ctx.Err() != nil {
			break
		}
		list, err := o.discoverer.Discover(ctx, market)
		if err != nil {
			o.logger.Warn().Err(err).Str("market", market).Msg("market discovery failed")
			mu.Lock()
			o.addError(run, fmt.Sprintf("discovery %s: %v", market, err))
			mu.Unlock()
			continue
		}
		for _, cand := range list {
			cand.Ticker = symbols.Normalize(cand.Ticker)
			if cand.Ticker == "" || seen[cand.Ticker] {
				continue
			}
			seen[cand.Ticker] = true
			out = append(out, cand)
		}
		mu.Lock()
		run.CandidatesFound = len(out)
		mu.Unlock()
		o.flush(ctx, run, mu)
	}
	return out
}

// enrichAll fans candidates out over a worker pool bounded by the
// remaining primary budget. Returns true when the soft deadline stopped
// the feed before all candidates were dispatched.
func (o *Orchestrator) enrichAll(ctx context.Context, run *model.ScanRun, mu *sync.Mutex, candidates []model.Candidate) bool {
	if len(candidates) == 0 {
		return false
	}

	workers := o.gov.Remaining(ratelimit.Primary)
	if workers > o.opts.MaxWorkers {
		workers = o.opts.MaxWorkers
	}
	if workers > len(candidates) {
		workers = len(candidates)
	}
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan model.Candidate)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for cand := range jobs {
				o.processCandidate(ctx, run, mu, cand)
			}
		}()
	}

	deadlineCut := false
feed:
	for _, cand := range candidates {
		select {
		case <-ctx.Done():
			deadlineCut = true
			break feed
		case jobs <- cand:
		}
	}
	close(jobs)
	wg.Wait()

	if deadlineCut {
		mu.Lock()
		o.addError(run, "deadline reached before all candidates were enriched")
		mu.Unlock()
	}
	return deadlineCut
}

func (o *Orchestrator) processCandidate(ctx context.Context, run *model.ScanRun, mu *sync.Mutex, cand model.Candidate) {
	series, err := o.quotes.FetchSeries(ctx, cand.Ticker, o.opts.Range, o.opts.Interval)
	if err != nil {
		o.logger.Debug().Err(err).Str("ticker", cand.Ticker).Msg("enrichment failed")
		mu.Lock()
		o.addError(run, fmt.Sprintf("enrich %s: %v", cand.Ticker, err))
		mu.Unlock()
		o.flush(ctx, run, mu)
		return
	}

	res := o.classifier.Classify(series)

	mu.Lock()
	run.Enriched++
	if res.Match {
		run.Matched++
		inserted, err := o.registry.InsertMatch(ctx, run.ID, res)
		if err != nil {
			o.addError(run, fmt.Sprintf("persist match %s: %v", cand.Ticker, err))
		} else if inserted {
			run.Inserted++
		}
		o.logger.Info().
			Str("ticker", cand.Ticker).
			Float64("score", res.Score).
			Bool("new", inserted).
			Msg("pattern match")
	}
	mu.Unlock()
	o.flush(ctx, run, mu)
}

// addError appends to the run's error list, capped so a pathological
// run cannot bloat the record. Caller holds the run mutex.
func (o *Orchestrator) addError(run *model.ScanRun, msg string) {
	if len(run.Errors) < o.opts.MaxErrors {
		run.Errors = append(run.Errors, msg)
	} else if len(run.Errors) == o.opts.MaxErrors {
		run.Errors = append(run.Errors, "further errors truncated")
	}
}

// flush pushes current progress so pollers see counters move while the
// run is live. The run mutex is held across the write so the registry
// never observes a half-updated record. Uses a detached context:
// progress writes should survive the soft deadline firing.
func (o *Orchestrator) flush(ctx context.Context, run *model.ScanRun, mu *sync.Mutex) {
	mu.Lock()
	defer mu.Unlock()
	if err := o.registry.UpdateProgress(context.WithoutCancel(ctx), run); err != nil {
		o.logger.Error().Err(err).Int64("run", run.ID).Msg("flush progress")
	}
}
