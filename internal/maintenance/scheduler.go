// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

// Package maintenance runs background upkeep over the temporal ledger,
// currently the periodic confidence-decay sweep.
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	engramerr "github.com/engramdb/engram/pkg/errors"
)

// sweepTimeout bounds one decay sweep.
const sweepTimeout = 5 * time.Minute

// DecayRunner is the slice of the temporal store the scheduler needs.
type DecayRunner interface {
	ApplyConfidenceDecay(ctx context.Context, rate float64) (int64, error)
}

// Scheduler triggers confidence-decay sweeps on a cron schedule.
type Scheduler struct {
	cron     *cron.Cron
	runner   DecayRunner
	schedule string
	rate     float64
	logger   *slog.Logger
}

// NewScheduler validates the cron expression up front so a bad schedule
// fails at startup, not at the first missed tick.
func NewScheduler(runner DecayRunner, schedule string, rate float64, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, engramerr.Wrap(err, engramerr.CodeMaintenanceScheduleInvalid,
			"invalid decay schedule", engramerr.Field("schedule", schedule))
	}
	if rate <= 0 || rate >= 1 {
		return nil, engramerr.New(engramerr.CodeMaintenanceScheduleInvalid,
			"decay rate outside (0, 1)", engramerr.Field("rate", rate))
	}

	return &Scheduler{
		cron:     cron.New(),
		runner:   runner,
		schedule: schedule,
		rate:     rate,
		logger:   logger.With("component", "maintenance"),
	}, nil
}

// Start registers the sweep job and starts the cron loop.
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()

		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error("scheduled decay sweep failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return engramerr.Wrapf(err, engramerr.CodeMaintenanceScheduleInvalid, "registering decay job")
	}

	s.cron.Start()
	s.logger.Info("decay scheduler started",
		slog.String("schedule", s.schedule), slog.Float64("rate", s.rate))
	return nil
}

// Stop halts the cron loop and waits for a running sweep to finish, or
// for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
		s.logger.Info("decay scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep runs one decay pass immediately.
func (s *Scheduler) Sweep(ctx context.Context) (int64, error) {
	started := time.Now()
	affected, err := s.runner.ApplyConfidenceDecay(ctx, s.rate)
	if err != nil {
		return 0, engramerr.Wrapf(err, engramerr.CodeMaintenanceSweepFailure, "applying confidence decay")
	}

	s.logger.Info("decay sweep complete",
		slog.Int64("facts_affected", affected),
		slog.Duration("took", time.Since(started)))
	return affected, nil
}
