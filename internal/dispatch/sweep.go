package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erazemk/razvoz/internal/events"
	"github.com/erazemk/razvoz/internal/model"
	"github.com/erazemk/razvoz/internal/store"
)

// Report counts what one sweep expired, cascades included.
type Report struct {
	Batches      int `json:"batches"`
	Requests     int `json:"requests"`
	Deliveries   int `json:"deliveries"`
	Reservations int `json:"reservations"`
}

// Total is the number of entities expired.
func (r Report) Total() int {
	return r.Batches + r.Requests + r.Deliveries + r.Reservations
}

func (r *Report) count(evts []events.Event) {
	if r == nil {
		return
	}
	for _, e := range evts {
		switch e.Type {
		case events.BatchExpired:
			r.Batches++
		case events.RequestExpired:
			r.Requests++
		case events.DeliveryExpired:
			r.Deliveries++
		case events.ReservationExpired:
			r.Reservations++
		}
	}
}

// Sweep expires everything that is stale at now: batches past their offer
// window, requests past their receiving window, and deliveries and
// reservations open longer than the operation time limit.
//
// Each entity is expired in its own transaction. Entities that reached a
// terminal state in the meantime are skipped silently; other failures are
// collected and the sweep carries on.
func (s *Service) Sweep(ctx context.Context, now time.Time) (Report, error) {
	now = now.UTC()
	var (
		rep  Report
		errs []error
	)

	batches, err := store.ListActiveBatches(ctx, s.db, "")
	if err != nil {
		return rep, err
	}
	for _, b := range batches {
		if now.Before(b.ExpiresAt) {
			continue
		}
		evts, err := s.expireBatch(ctx, b.ID, now)
		rep.count(evts)
		errs = appendSweepErr(errs, err)
	}

	requests, err := store.ListOpenRequests(ctx, s.db, "")
	if err != nil {
		return rep, errors.Join(append(errs, err)...)
	}
	for _, r := range requests {
		if r.WindowEnd == nil || now.Before(*r.WindowEnd) {
			continue
		}
		evts, err := s.expireRequest(ctx, r.ID, now)
		rep.count(evts)
		errs = appendSweepErr(errs, err)
	}

	if err := s.expireOverdueDeliveries(ctx, store.DeliveryFilter{LiveOnly: true}, now, &rep); err != nil {
		errs = append(errs, err)
	}
	if err := s.expireOverdueReservations(ctx, store.ReservationFilter{LiveOnly: true}, now, &rep); err != nil {
		errs = append(errs, err)
	}

	if rep.Total() > 0 {
		s.logger.Sugar().Infow("sweep expired stale entities",
			"batches", rep.Batches,
			"requests", rep.Requests,
			"deliveries", rep.Deliveries,
			"reservations", rep.Reservations,
		)
	}
	return rep, errors.Join(errs...)
}

// appendSweepErr drops errors that only mean another caller got there first.
func appendSweepErr(errs []error, err error) []error {
	if err == nil || errors.Is(err, model.ErrInvalidTransition) || errors.Is(err, model.ErrNotFound) {
		return errs
	}
	return append(errs, err)
}

// expireBatch expires a batch that is past its offer window and has no
// confirmed pickups, cascading its open deliveries.
func (s *Service) expireBatch(ctx context.Context, batchID string, now time.Time) ([]events.Event, error) {
	return s.run(ctx, "expire batch", now, func(u *unit) error {
		b, err := loadBatch(u, batchID)
		if err != nil {
			return err
		}
		if b.Status.IsTerminal() || now.Before(b.ExpiresAt) {
			return nil
		}

		confirmed, err := store.CountConfirmedDeliveries(u.ctx, u.tx, batchID)
		if err != nil {
			return err
		}
		if confirmed > 0 {
			return nil
		}

		live, err := store.ListDeliveries(u.ctx, u.tx, store.DeliveryFilter{BatchID: batchID, LiveOnly: true})
		if err != nil {
			return err
		}
		for i := range live {
			if _, err := closeDelivery(u, &live[i], model.DeliveryExpired, "batch expired"); err != nil {
				return err
			}
		}

		if err := store.SetBatchStatus(u.ctx, u.tx, batchID, model.BatchExpired, &u.now); err != nil {
			return err
		}
		u.emit(events.Event{
			Type:     events.BatchExpired,
			EntityID: batchID,
			ParentID: batchID,
			Status:   string(model.BatchExpired),
		})
		return nil
	})
}

// expireRequest expires a request whose receiving window has closed.
func (s *Service) expireRequest(ctx context.Context, requestID string, now time.Time) ([]events.Event, error) {
	return s.run(ctx, "expire request", now, func(u *unit) error {
		r, err := loadRequest(u, requestID)
		if err != nil {
			return err
		}
		if r.Status.IsTerminal() || r.WindowEnd == nil || now.Before(*r.WindowEnd) {
			return nil
		}
		return closeRequest(u, r, model.RequestExpired, model.ReservationExpired, "receiving window closed")
	})
}

// expireOverdueDeliveries expires every delivery matching f that has been
// open longer than the operation time limit.
func (s *Service) expireOverdueDeliveries(ctx context.Context, f store.DeliveryFilter, now time.Time, rep *Report) error {
	deliveries, err := store.ListDeliveries(ctx, s.db, f)
	if err != nil {
		return err
	}

	var errs []error
	for _, d := range deliveries {
		if !d.Overdue(now, s.cfg.OperationTimeLimit) {
			continue
		}
		evts, err := s.run(ctx, "expire delivery", now, func(u *unit) error {
			cur, err := loadDelivery(u, d.ID)
			if err != nil {
				return err
			}
			if !cur.Overdue(now, s.cfg.OperationTimeLimit) {
				return nil
			}
			_, err = closeDelivery(u, cur, model.DeliveryExpired, fmt.Sprintf("open longer than %s", s.cfg.OperationTimeLimit))
			return err
		})
		rep.count(evts)
		errs = appendSweepErr(errs, err)
	}
	return errors.Join(errs...)
}

// expireOverdueReservations is expireOverdueDeliveries for reservations.
func (s *Service) expireOverdueReservations(ctx context.Context, f store.ReservationFilter, now time.Time, rep *Report) error {
	reservations, err := store.ListReservations(ctx, s.db, f)
	if err != nil {
		return err
	}

	var errs []error
	for _, res := range reservations {
		if !res.Overdue(now, s.cfg.OperationTimeLimit) {
			continue
		}
		evts, err := s.run(ctx, "expire reservation", now, func(u *unit) error {
			cur, err := loadReservation(u, res.ID)
			if err != nil {
				return err
			}
			if !cur.Overdue(now, s.cfg.OperationTimeLimit) {
				return nil
			}
			_, err = closeReservation(u, cur, model.ReservationExpired, fmt.Sprintf("open longer than %s", s.cfg.OperationTimeLimit))
			return err
		})
		rep.count(evts)
		errs = appendSweepErr(errs, err)
	}
	return errors.Join(errs...)
}
