// Package sweeper runs the expiration sweep on a fixed interval.
package sweeper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/erazemk/razvoz/internal/dispatch"
)

// DefaultInterval is how often Run sweeps.
const DefaultInterval = time.Minute

// Service is the part of dispatch.Service the sweeper needs.
type Service interface {
	Sweep(ctx context.Context, now time.Time) (dispatch.Report, error)
}

// Sweeper calls Service.Sweep on a ticker, holding a Locker for each pass.
type Sweeper struct {
	svc      Service
	locker   Locker
	interval time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithLocker replaces the in-process lock.
func WithLocker(l Locker) Option {
	return func(s *Sweeper) { s.locker = l }
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Sweeper) { s.logger = l }
}

// New creates a Sweeper. A non-positive interval means DefaultInterval.
func New(svc Service, interval time.Duration, opts ...Option) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	s := &Sweeper{
		svc:      svc,
		locker:   &LocalLocker{},
		interval: interval,
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunOnce performs a single sweep if the lock is free. It reports whether
// the sweep ran.
func (s *Sweeper) RunOnce(ctx context.Context) (dispatch.Report, bool, error) {
	unlock, ok, err := s.locker.TryLock(ctx)
	if err != nil || !ok {
		return dispatch.Report{}, false, err
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("sweep lock release failed", zap.Error(err))
		}
	}()

	rep, err := s.svc.Sweep(ctx, s.now())
	return rep, true, err
}

// Run sweeps once immediately and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("sweeper started", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.tick(ctx)

		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	_, ran, err := s.RunOnce(ctx)
	switch {
	case err != nil && ctx.Err() == nil:
		s.logger.Error("sweep failed", zap.Error(err))
	case !ran && err == nil:
		s.logger.Debug("sweep skipped, lock held elsewhere")
	}
}
