// services/scheduler.go
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"

	"staking-reward-ledger/logging"
	"staking-reward-ledger/metrics"
)

// Scheduler runs the ledger's periodic jobs in UTC.
type Scheduler struct {
	sched    gocron.Scheduler
	claims   *ClaimService
	accrual  *AccrualService
	exporter *LedgerExporter // nil when exports are disabled
	metrics  *metrics.Metrics
}

func NewScheduler(claims *ClaimService, accrual *AccrualService, exporter *LedgerExporter, m *metrics.Metrics) (*Scheduler, error) {
	sched, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Scheduler{sched: sched, claims: claims, accrual: accrual, exporter: exporter, metrics: m}, nil
}

// Start registers the jobs and starts the scheduler. Jobs stop picking up
// work once ctx is cancelled; call Shutdown to wait for them.
func (s *Scheduler) Start(ctx context.Context) error {
	// Every minute: re-drive pending claims past their grace period
	if _, err := s.sched.NewJob(
		gocron.DurationJob(time.Minute),
		gocron.NewTask(func() { s.run(ctx, "reconcile_claims", s.reconcile) }),
		gocron.WithName("reconcile_claims"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return fmt.Errorf("schedule reconcile: %w", err)
	}

	// Daily 00:05 and once at boot: accrue today's staking rewards
	if _, err := s.sched.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(0, 5, 0))),
		gocron.NewTask(func() { s.run(ctx, "staking_accrual", s.accrue) }),
		gocron.WithName("staking_accrual"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	); err != nil {
		return fmt.Errorf("schedule accrual: %w", err)
	}

	if s.exporter != nil {
		// Daily 00:30: export yesterday's settled claims
		if _, err := s.sched.NewJob(
			gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(0, 30, 0))),
			gocron.NewTask(func() { s.run(ctx, "ledger_export", s.export) }),
			gocron.WithName("ledger_export"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		); err != nil {
			return fmt.Errorf("schedule export: %w", err)
		}
	}

	s.sched.Start()
	return nil
}

func (s *Scheduler) Shutdown() error {
	return s.sched.Shutdown()
}

func (s *Scheduler) run(ctx context.Context, job string, fn func(context.Context) error) {
	if ctx.Err() != nil {
		return
	}
	err := fn(ctx)
	s.metrics.JobRun(job, err)
	if err != nil {
		logging.Error("scheduled job failed", logging.Component("scheduler"), "job", job, logging.Err(err))
	}
}

func (s *Scheduler) reconcile(ctx context.Context) error {
	report, err := s.claims.Reconcile(ctx)
	if report.Checked > 0 {
		logging.Info("claims reconciled",
			logging.Component("scheduler"),
			"checked", report.Checked,
			"settled", report.Settled,
			"failed", report.Failed,
			"pending", report.Pending,
		)
	}
	return err
}

func (s *Scheduler) accrue(ctx context.Context) error {
	_, err := s.accrual.AccrueDay(ctx, time.Now().UTC())
	return err
}

func (s *Scheduler) export(ctx context.Context) error {
	_, _, err := s.exporter.ExportDay(ctx, time.Now().UTC().Add(-24*time.Hour))
	return err
}
