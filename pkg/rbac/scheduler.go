package rbac

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/datawave/pkg/observability"
)

// Scheduled job names, used as the metrics label
const (
	JobExpireRequests = "expire_access_requests"
	JobAccessReview   = "access_review"
)

// SchedulerConfig configures the workflow scheduler
type SchedulerConfig struct {
	ExpirySpec string // default "@every 1m"
	ReviewSpec string // default "@daily"
	JobTimeout time.Duration
	Logger     *logrus.Logger
	Metrics    *observability.Metrics
}

// Scheduler drives the time-triggered workflow transitions
type Scheduler struct {
	cron    *cron.Cron
	manager *Manager
	log     *logrus.Logger
	metrics *observability.Metrics
	timeout time.Duration
}

// NewScheduler registers the expiry and access review jobs. Nothing runs
// until Start.
func NewScheduler(manager *Manager, cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.ExpirySpec == "" {
		cfg.ExpirySpec = "@every 1m"
	}
	if cfg.ReviewSpec == "" {
		cfg.ReviewSpec = "@daily"
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	s := &Scheduler{
		cron:    cron.New(cron.WithLocation(time.UTC)),
		manager: manager,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
		timeout: cfg.JobTimeout,
	}

	if _, err := s.cron.AddFunc(cfg.ExpirySpec, s.job(JobExpireRequests, s.RunExpiry)); err != nil {
		return nil, fmt.Errorf("failed to schedule access request expiry: %w", err)
	}
	if _, err := s.cron.AddFunc(cfg.ReviewSpec, s.job(JobAccessReview, s.RunReview)); err != nil {
		return nil, fmt.Errorf("failed to schedule access review: %w", err)
	}
	return s, nil
}

// Start runs the scheduler in its own goroutine
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.WithField("jobs", len(s.cron.Entries())).Info("workflow scheduler started")
}

// Stop stops scheduling and waits for running jobs until ctx is done
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler jobs still running: %w", ctx.Err())
	}
}

// job wraps run with a timeout, panic recovery and metrics
func (s *Scheduler) job(name string, run func(context.Context) error) func() {
	return func() {
		defer observability.RecoverPanicWithCallback(s.log, "scheduler."+name, func() {
			s.metrics.RecordSchedulerRun(name, false)
		})

		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		start := time.Now()
		err := run(ctx)
		s.metrics.RecordSchedulerRun(name, err == nil)
		entry := s.log.WithFields(logrus.Fields{
			"job":      name,
			"duration": time.Since(start).String(),
		})
		if err != nil {
			entry.WithError(err).Error("scheduled job failed")
			return
		}
		entry.Debug("scheduled job finished")
	}
}

// RunExpiry expires overdue pending access requests
func (s *Scheduler) RunExpiry(ctx context.Context) error {
	expired, err := s.manager.ExpireAccessRequests(ctx, s.manager.now())
	if err != nil {
		return err
	}
	if len(expired) > 0 {
		s.log.WithField("count", len(expired)).Info("expired pending access requests")
	}
	return nil
}

// RunReview runs an access review
func (s *Scheduler) RunReview(ctx context.Context) error {
	report, err := s.manager.RunAccessReview(ctx, s.manager.now())
	if err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{
		"revoked":          len(report.RevokedAssignments),
		"expired_requests": len(report.ExpiredRequests),
		"stale":            len(report.StaleAssignments),
	}).Info("access review completed")
	return nil
}
