// Package worker runs the periodic reconciliation sweep.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/LinSwanSaung/clinicinformationsystem-sub006/internal/clock"
	"github.com/LinSwanSaung/clinicinformationsystem-sub006/internal/queue"
)

type Reconciler interface {
	Reconcile(ctx context.Context, asOf *clock.ClinicDay) (queue.Report, error)
}

// Scheduler triggers Reconcile on a cron schedule. Specs accept an optional
// leading seconds field and descriptors such as "@every 5m". A run still in
// progress causes the next tick to be skipped.
type Scheduler struct {
	cron       *cron.Cron
	reconciler Reconciler
	logger     zerolog.Logger
	timeout    time.Duration
}

func NewScheduler(spec string, reconciler Reconciler, logger zerolog.Logger, timeout time.Duration) (*Scheduler, error) {
	logger = logger.With().Str("component", "reconcile-scheduler").Logger()
	cronLogger := cronLog{logger: logger}
	s := &Scheduler{
		cron: cron.New(
			cron.WithParser(cron.NewParser(cron.SecondOptional|cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
			cron.WithLogger(cronLogger),
		),
		reconciler: reconciler,
		logger:     logger,
		timeout:    timeout,
	}
	if _, err := s.cron.AddFunc(spec, func() { _, _ = s.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("schedule reconcile %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Msg("scheduler started")
}

// Stop halts the schedule and waits for a running sweep, or ctx, to finish.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn().Msg("scheduler stop timed out with a sweep in flight")
	}
}

func (s *Scheduler) RunOnce(ctx context.Context) (queue.Report, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	started := time.Now()
	report, err := s.reconciler.Reconcile(ctx, nil)
	if err != nil {
		s.logger.Error().Err(err).Str("as_of", report.AsOf).Msg("reconcile failed")
		return report, err
	}
	s.logger.Info().
		Str("as_of", report.AsOf).
		Int("orphans_fixed", report.OrphansFixed).
		Int("stale_closed", report.StaleClosed).
		Int("tokens_expired", report.TokensExpired).
		Int("visits_abandoned", report.VisitsAbandoned).
		Dur("took", time.Since(started)).
		Msg("reconcile finished")
	return report, nil
}

type cronLog struct {
	logger zerolog.Logger
}

func (l cronLog) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLog) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
