package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"AdRelister/internal/ports"
)

// CronScheduler fires the registered job on a cron expression.
type CronScheduler struct {
	spec     string
	location *time.Location
	logger   *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	entryID cron.EntryID
}

var _ ports.Scheduler = (*CronScheduler)(nil)

// NewCronScheduler builds a scheduler configured via cron expression string.
func NewCronScheduler(spec string, location *time.Location, logger *slog.Logger) *CronScheduler {
	if location == nil {
		location = time.UTC
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &CronScheduler{spec: spec, location: location, logger: logger}
}

// Start registers job and begins firing it. A run still in progress when the next tick arrives
// is not overlapped; that tick is skipped.
func (c *CronScheduler) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron != nil {
		return nil
	}

	cr := cron.New(
		cron.WithLocation(c.location),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	id, err := cr.AddFunc(c.spec, func() {
		if ctx.Err() != nil {
			return
		}
		job(time.Now().In(c.location))
	})
	if err != nil {
		return fmt.Errorf("add cron job %q: %w", c.spec, err)
	}

	c.cron = cr
	c.entryID = id
	cr.Start()
	c.logger.Info("cron scheduler started", "spec", c.spec, "location", c.location.String())

	go func() {
		<-ctx.Done()
		_ = c.Stop(context.Background())
	}()
	return nil
}

// Next reports the next planned fire time, or zero when stopped.
func (c *CronScheduler) Next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron == nil {
		return time.Time{}
	}
	entry := c.cron.Entry(c.entryID)
	if entry.Schedule == nil {
		return time.Time{}
	}
	return entry.Schedule.Next(time.Now().In(c.location))
}

// Stop halts the cron loop and waits for a running job until ctx is done.
func (c *CronScheduler) Stop(ctx context.Context) error {
	c.mu.Lock()
	cr := c.cron
	c.cron = nil
	c.mu.Unlock()
	if cr == nil {
		return nil
	}

	done := cr.Stop()
	select {
	case <-done.Done():
		c.logger.Info("cron scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
