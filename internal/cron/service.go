package cron

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/angelmondragon/paysaga-backend/pkg/logger"
	"github.com/angelmondragon/paysaga-backend/pkg/metrics"
)

const (
	defaultInterval   = 5 * time.Minute
	defaultJobTimeout = time.Minute
)

type ServiceParams struct {
	Logger     *logger.Logger
	Registry   *Registry
	Lock       Lock
	Metrics    *metrics.CronJobMetrics
	Interval   time.Duration
	JobTimeout time.Duration
}

// Service runs the registered monitoring jobs on a fixed cadence. Only the
// instance holding the lock runs a cycle; each job gets its own deadline and
// a failing or panicking job never stops the ones after it.
type Service struct {
	logg       *logger.Logger
	registry   *Registry
	lock       Lock
	metrics    *metrics.CronJobMetrics
	interval   time.Duration
	jobTimeout time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	s := &Service{
		logg:       params.Logger,
		registry:   registry,
		lock:       params.Lock,
		metrics:    params.Metrics,
		interval:   params.Interval,
		jobTimeout: params.JobTimeout,
	}
	if s.interval <= 0 {
		s.interval = defaultInterval
	}
	if s.jobTimeout <= 0 {
		s.jobTimeout = defaultJobTimeout
	}
	return s, nil
}

// Run executes a cycle immediately and then once per interval until ctx is
// canceled.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logg.Error(ctx, "cron cycle failed", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce runs a single cycle. It reports false when another instance held
// the lock and nothing ran.
func (s *Service) RunOnce(ctx context.Context) (bool, error) {
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		s.metrics.IncSkipped()
		s.logg.Info(ctx, "cron lock held elsewhere; skipping cycle")
		return false, nil
	}
	defer func() {
		if relErr := s.lock.Release(context.WithoutCancel(ctx)); relErr != nil {
			s.logg.Error(ctx, "failed to release cron lock", relErr)
		}
	}()

	for _, job := range s.registry.Jobs() {
		if ctx.Err() != nil {
			return true, ctx.Err()
		}
		s.runJob(ctx, job)
	}
	return true, nil
}

func (s *Service) runJob(ctx context.Context, job Job) {
	name := job.Name()
	jobCtx := s.logg.WithFields(ctx, map[string]any{"job": name, "event": "cron.job"})
	jobCtx, cancel := context.WithTimeout(jobCtx, s.jobTimeout)
	defer cancel()

	start := time.Now()
	result := "ok"
	defer func() {
		if r := recover(); r != nil {
			result = "panic"
			s.logg.Error(jobCtx, "cron job panicked", fmt.Errorf("panic: %v\n%s", r, debug.Stack()))
		}
		took := time.Since(start)
		s.metrics.ObserveRun(name, result, took)
		if result == "ok" {
			s.logg.Info(s.logg.WithField(jobCtx, "duration_ms", took.Milliseconds()), "cron job completed")
		}
	}()

	if err := job.Run(jobCtx); err != nil {
		result = "error"
		s.logg.Error(jobCtx, "cron job failed", err)
	}
}
