package reminder

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs resolver passes on a cron schedule inside the process.
// External triggers keep working alongside it; the ledger resolves races.
type Scheduler struct {
	resolver *Resolver
	cron     *cron.Cron
	spec     string
	timeout  time.Duration
	logger   *slog.Logger
}

// NewScheduler creates a scheduler evaluating spec in loc. Each pass is bounded by timeout.
func NewScheduler(resolver *Resolver, spec string, loc *time.Location, timeout time.Duration, logger *slog.Logger) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	return &Scheduler{
		resolver: resolver,
		cron:     c,
		spec:     spec,
		timeout:  timeout,
		logger:   logger,
	}
}

// Start registers the reminder job and starts the scheduler loop.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.RunOnce); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("reminder scheduler started", "spec", s.spec)
	return nil
}

// Stop waits for a running pass to finish and stops the scheduler.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// RunOnce performs one unrestricted pass bounded by the configured timeout.
func (s *Scheduler) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	result, err := s.resolver.ResolveDue(ctx, time.Now(), nil)
	if err != nil {
		s.logger.Error("scheduled reminder pass failed", "error", err, "processed", result.Processed)
		return
	}
	if result.Due > 0 || result.FailureCount > 0 {
		s.logger.Info("scheduled reminder pass", "summary", result.Summary())
	}
}
