package usecase

import (
	"context"
	"log/slog"
	"time"

	"AdRelister/internal/ports"
)

// Scheduler wires the cron driver with the scheduled-batch runner.
type Scheduler struct {
	driver  ports.Scheduler
	service *BatchService
	logger  *slog.Logger
}

// NewScheduler returns a helper to start/stop recurring due-batch checks.
func NewScheduler(driver ports.Scheduler, service *BatchService, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{driver: driver, service: service, logger: logger}
}

// Start registers the due-batch check with the provided scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.service == nil {
		return nil
	}

	job := func(trigger time.Time) {
		if err := s.service.RunDue(ctx, trigger.UTC()); err != nil {
			s.logger.Error("scheduled run", "error", err)
		}
	}

	return s.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
