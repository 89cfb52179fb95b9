package reconciliation

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/stars-service/stars_service/internal/infrastructure/config"
	"github.com/stars-service/stars_service/pkg/logger"
)

const jobTimeout = 10 * time.Minute

// Scheduler runs the reconciliation jobs on their cron expressions
type Scheduler struct {
	cron    *cron.Cron
	service *Service
	logger  *logger.Logger
}

// NewScheduler wires the three jobs onto a cron runner
func NewScheduler(service *Service, cfg config.ReconciliationConfig, logger *logger.Logger) (*Scheduler, error) {
	c := cron.New()
	s := &Scheduler{cron: c, service: service, logger: logger}

	jobs := []struct {
		name string
		spec string
		run  func(ctx context.Context) error
	}{
		{"balance_audit", cfg.BalanceAuditCron, func(ctx context.Context) error {
			_, err := service.AuditBalances(ctx)
			return err
		}},
		{"stale_submitted_sweep", cfg.StaleSweepCron, func(ctx context.Context) error {
			_, err := service.SweepStaleSubmitted(ctx)
			return err
		}},
		{"matured_hold_sweep", cfg.HoldSweepCron, func(ctx context.Context) error {
			_, err := service.SweepMaturedHolds(ctx)
			return err
		}},
	}

	for _, job := range jobs {
		job := job
		if _, err := c.AddFunc(job.spec, func() { s.runJob(job.name, job.run) }); err != nil {
			return nil, fmt.Errorf("schedule %s: %w", job.name, err)
		}
	}

	return s, nil
}

func (s *Scheduler) runJob(name string, run func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	start := time.Now()
	if err := run(ctx); err != nil {
		s.logger.Error("reconciliation job failed", "job", name, "error", err)
		return
	}
	s.logger.Info("reconciliation job finished", "job", name, "duration", time.Since(start))
}

// Start begins running the scheduled jobs
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("reconciliation scheduler started")
}

// Stop halts scheduling and waits for running jobs
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("reconciliation scheduler stopped")
}
