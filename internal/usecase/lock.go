package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"AdRelister/internal/ports"
)

const defaultLockRenewInterval = 30 * time.Second

var errLeaseLost = errors.New("session lock lost")

// localSessionLock allows one scraper session per process.
type localSessionLock struct {
	mu    sync.Mutex
	owner string
}

var _ ports.SessionLock = (*localSessionLock)(nil)

func (l *localSessionLock) TryAcquire(_ context.Context, owner string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owner != "" {
		return false, nil
	}
	l.owner = owner
	return true, nil
}

func (l *localSessionLock) Renew(_ context.Context, owner string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owner == owner, nil
}

func (l *localSessionLock) Release(_ context.Context, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owner == owner {
		l.owner = ""
	}
	return nil
}

// sessionLease is one acquisition of the session lock, renewed in the background until
// released. Once a renewal fails the lease stays lost.
type sessionLease struct {
	lock   ports.SessionLock
	owner  string
	logger *slog.Logger

	mu   sync.Mutex
	lost error

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func newSessionLease(lock ports.SessionLock, owner string, logger *slog.Logger) *sessionLease {
	return &sessionLease{
		lock:   lock,
		owner:  owner,
		logger: logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (l *sessionLease) keepAlive(ctx context.Context, every time.Duration) {
	defer close(l.done)

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			ok, err := l.lock.Renew(ctx, l.owner)
			if err == nil && !ok {
				err = errLeaseLost
			}
			if err != nil {
				l.mu.Lock()
				l.lost = fmt.Errorf("renew session lock: %w", err)
				l.mu.Unlock()
				l.logger.Error("session lock renewal failed", "owner", l.owner, "error", err)
				return
			}
		}
	}
}

// Err reports why the lease was lost, or nil while it is held.
func (l *sessionLease) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lost
}

func (l *sessionLease) release(ctx context.Context) {
	l.once.Do(func() {
		close(l.stop)
		<-l.done
		if err := l.lock.Release(context.WithoutCancel(ctx), l.owner); err != nil {
			l.logger.Warn("release session lock", "owner", l.owner, "error", err)
		}
	})
}
