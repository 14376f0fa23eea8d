// Package scheduler triggers periodic scan runs via cron.
package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"stockscout/internal/model"
	"stockscout/internal/scan"
)

// Scheduler owns the cron instance and fires orchestrator runs.
type Scheduler struct {
	cron          *cron.Cron
	orchestrators map[model.ScannerID]*scan.Orchestrator
	ctx           context.Context
}

// NewScheduler creates a scheduler over the given orchestrators.
func NewScheduler(ctx context.Context, orchestrators map[model.ScannerID]*scan.Orchestrator) *Scheduler {
	return &Scheduler{
		cron:          cron.New(cron.WithSeconds()),
		orchestrators: orchestrators,
		ctx:           ctx,
	}
}

// Register adds one cron entry per scanner. An empty spec disables that
// scanner's schedule.
func (s *Scheduler) Register(specs map[model.ScannerID]string) error {
	for id, spec := range specs {
		if spec == "" {
			continue
		}
		o, ok := s.orchestrators[id]
		if !ok {
			return fmt.Errorf("no orchestrator for scanner %q", id)
		}
		scanner := id
		if _, err := s.cron.AddFunc(spec, func() { s.trigger(scanner, o) }); err != nil {
			return fmt.Errorf("register %s schedule: %w", scanner, err)
		}
	}
	return nil
}

func (s *Scheduler) trigger(id model.ScannerID, o *scan.Orchestrator) {
	log.Info().Str("scanner", string(id)).Msg("scheduled scan firing")
	run, err := o.Run(s.ctx)
	switch {
	case errors.Is(err, scan.ErrRunInProgress):
		log.Warn().Str("scanner", string(id)).Msg("scheduled scan skipped, run already live")
	case err != nil:
		log.Error().Err(err).Str("scanner", string(id)).Msg("scheduled scan failed to start")
	default:
		log.Info().Str("scanner", string(id)).Int64("run", run.ID).
			Str("status", string(run.Status)).Msg("scheduled scan finished")
	}
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	log.Info().Msg("scheduler started")
}

// Stop stops the cron scheduler gracefully.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Info().Msg("scheduler stopped")
}
