// Package dispatch is the allocation and hand-off engine. It reserves batch
// and request quantities through the ledger, drives deliveries and
// reservations through their code-confirmed lifecycles, keeps parent
// statuses derived, and expires whatever has gone stale.
//
// Every exported operation is a single transaction. Lifecycle events are
// published only after the transaction commits.
package dispatch

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/erazemk/razvoz/internal/events"
	"github.com/erazemk/razvoz/internal/model"
	"github.com/erazemk/razvoz/internal/store"
)

// Config holds the service's policy knobs.
type Config struct {
	// OperationTimeLimit is how long a delivery or reservation may stay open.
	OperationTimeLimit time.Duration
	// BatchTTL is how long a batch stays on offer after it is created.
	BatchTTL time.Duration
	// PartialGrants lets a reserve succeed with less than asked for.
	PartialGrants bool
}

// DefaultConfig returns the standard limits with all-or-nothing grants.
func DefaultConfig() Config {
	return Config{
		OperationTimeLimit: model.DefaultOperationTimeLimit,
		BatchTTL:           model.DefaultBatchTTL,
	}
}

// Service runs dispatch operations against the database.
type Service struct {
	db        *sql.DB
	cfg       Config
	now       func() time.Time
	publisher events.Publisher
	logger    *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithPublisher sets where lifecycle events go.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New creates a Service. Zero durations in cfg fall back to the defaults.
func New(db *sql.DB, cfg Config, opts ...Option) *Service {
	if cfg.OperationTimeLimit <= 0 {
		cfg.OperationTimeLimit = model.DefaultOperationTimeLimit
	}
	if cfg.BatchTTL <= 0 {
		cfg.BatchTTL = model.DefaultBatchTTL
	}

	s := &Service{
		db:        db,
		cfg:       cfg,
		now:       time.Now,
		publisher: events.Noop{},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the active configuration.
func (s *Service) Config() Config {
	return s.cfg
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// unit is one transaction plus the events it will publish on commit.
type unit struct {
	ctx     context.Context
	tx      *sql.Tx
	now     time.Time
	pending []events.Event
}

func (u *unit) emit(e events.Event) {
	e.OccurredAt = u.now
	u.pending = append(u.pending, e)
}

// run executes fn in a transaction at now, then publishes its events.
func (s *Service) run(ctx context.Context, op string, now time.Time, fn func(u *unit) error) ([]events.Event, error) {
	u := &unit{ctx: ctx, now: now}
	err := store.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		u.tx = tx
		u.pending = u.pending[:0]
		return fn(u)
	})
	if err != nil {
		s.logFailure(op, err)
		return nil, err
	}

	for _, e := range u.pending {
		s.logger.Info("transition",
			zap.String("event", e.Type),
			zap.String("entity", e.EntityID),
			zap.String("parent", e.ParentID),
		)
		if err := s.publisher.Publish(ctx, e); err != nil {
			s.logger.Warn("event not published",
				zap.String("event", e.Type),
				zap.String("entity", e.EntityID),
				zap.Error(err),
			)
		}
	}
	return u.pending, nil
}

// logFailure logs routine failures quietly and integrity failures loudly.
func (s *Service) logFailure(op string, err error) {
	switch {
	case model.IsExpected(err):
		s.logger.Info("operation rejected", zap.String("op", op), zap.Error(err))
	case errors.Is(err, model.ErrNotFound), errors.Is(err, model.ErrInvalidTransition):
		s.logger.Warn("operation refused", zap.String("op", op), zap.Error(err))
	case errors.Is(err, context.Canceled):
		s.logger.Debug("operation cancelled", zap.String("op", op))
	default:
		s.logger.Error("operation failed", zap.String("op", op), zap.Error(err))
	}
}
