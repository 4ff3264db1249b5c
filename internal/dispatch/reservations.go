package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/erazemk/razvoz/internal/code"
	"github.com/erazemk/razvoz/internal/events"
	"github.com/erazemk/razvoz/internal/fulfillment"
	"github.com/erazemk/razvoz/internal/ledger"
	"github.com/erazemk/razvoz/internal/model"
	"github.com/erazemk/razvoz/internal/store"
)

// ItemsReservation asks for quantities of a request's items. On a request
// with a single line, an empty item id refers to that line.
type ItemsReservation struct {
	RequestID   string               `json:"-"`
	VolunteerID string               `json:"-"`
	Items       []model.ItemQuantity `json:"items"`
}

// ReserveRequestItems commits a volunteer to part of a request. All lines are
// granted or none are; with partial grants enabled, lines are trimmed to what
// is still open and exhausted lines are skipped.
func (s *Service) ReserveRequestItems(ctx context.Context, in ItemsReservation) (*model.ResourceReservation, error) {
	if len(in.Items) == 0 {
		err := fmt.Errorf("%w: no items to reserve", model.ErrValidation)
		s.logFailure("reserve request", err)
		return nil, err
	}

	var res *model.ResourceReservation
	_, err := s.run(ctx, "reserve request", s.clock(), func(u *unit) error {
		r, err := loadRequest(u, in.RequestID)
		if err != nil {
			return err
		}
		if !r.Reservable(u.now) {
			return &model.TransitionError{
				Entity: "request", ID: r.ID, From: string(r.Status), Op: "reserve",
				Reason: "no longer accepting reservations",
			}
		}

		wanted, err := resolveItems(r, in.Items)
		if err != nil {
			return err
		}

		deliveryCode, err := code.Generate()
		if err != nil {
			return err
		}
		res = &model.ResourceReservation{
			ID:           uuid.NewString(),
			RequestID:    r.ID,
			VolunteerID:  in.VolunteerID,
			Status:       model.ReservationReserved,
			DeliveryCode: deliveryCode,
			ReservedAt:   u.now,
		}

		var firstShort error
		for _, w := range wanted {
			hold, err := ledger.ReserveItem(u.ctx, u.tx, w.ItemID, w.Quantity, s.cfg.PartialGrants, u.now)
			if s.cfg.PartialGrants && errors.Is(err, model.ErrInsufficientQuantity) {
				if firstShort == nil {
					firstShort = err
				}
				continue
			}
			if err != nil {
				return err
			}
			res.Lines = append(res.Lines, model.ReservationLine{
				ReservationID: res.ID,
				ItemID:        w.ItemID,
				HoldID:        hold.ID,
				Quantity:      hold.Quantity,
				Status:        res.Status,
			})
		}
		if len(res.Lines) == 0 {
			return firstShort
		}

		if err := store.InsertReservation(u.ctx, u.tx, res); err != nil {
			return err
		}
		if _, err := fulfillment.RecomputeRequest(u.ctx, u.tx, r.ID, u.now); err != nil {
			return err
		}

		u.emit(reservationEvent(events.ReservationReserved, res, ""))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// resolveItems checks the wanted lines against the request's items.
func resolveItems(r *model.ResourceRequest, items []model.ItemQuantity) ([]model.ItemQuantity, error) {
	known := make(map[string]bool, len(r.Items))
	for _, it := range r.Items {
		known[it.ID] = true
	}

	seen := make(map[string]bool, len(items))
	out := make([]model.ItemQuantity, 0, len(items))
	for _, w := range items {
		if w.ItemID == "" && len(r.Items) == 1 {
			w.ItemID = r.Items[0].ID
		}
		if !known[w.ItemID] {
			return nil, &model.NotFoundError{Entity: "request item", ID: w.ItemID}
		}
		if seen[w.ItemID] {
			return nil, fmt.Errorf("%w: item %s listed twice", model.ErrValidation, w.ItemID)
		}
		if !w.Quantity.IsPositive() {
			return nil, fmt.Errorf("%w: quantity must be positive", model.ErrValidation)
		}
		seen[w.ItemID] = true
		out = append(out, w)
	}
	return out, nil
}

// StartReservationTransit marks a reservation's goods as on their way.
func (s *Service) StartReservationTransit(ctx context.Context, reservationID string) (*model.ResourceReservation, error) {
	return s.advanceReservation(ctx, "start reservation transit", reservationID, model.ReservationInTransit, "", nil)
}

// ConfirmReservationDelivery closes a reservation when code matches its
// delivery code, depleting every line.
func (s *Service) ConfirmReservationDelivery(ctx context.Context, reservationID, supplied string) (*model.ResourceReservation, error) {
	return s.advanceReservation(ctx, "confirm reservation delivery", reservationID, model.ReservationDelivered, "",
		func(res *model.ResourceReservation) error {
			if !code.Verify(res.DeliveryCode, supplied) {
				return fmt.Errorf("reservation %s handoff: %w", res.ID, model.ErrInvalidCode)
			}
			return nil
		})
}

// CancelReservation cancels an open reservation and returns its quantities to the request.
func (s *Service) CancelReservation(ctx context.Context, reservationID, reason string) (*model.ResourceReservation, error) {
	return s.advanceReservation(ctx, "cancel reservation", reservationID, model.ReservationCancelled, reason, nil)
}

func (s *Service) advanceReservation(ctx context.Context, op, reservationID string, to model.ReservationStatus, reason string, check func(*model.ResourceReservation) error) (*model.ResourceReservation, error) {
	var res *model.ResourceReservation
	_, err := s.run(ctx, op, s.clock(), func(u *unit) error {
		var err error
		res, err = loadReservation(u, reservationID)
		if err != nil {
			return err
		}
		if !res.Status.CanTransition(to) {
			return &model.TransitionError{Entity: "reservation", ID: res.ID, From: string(res.Status), Op: op}
		}
		if check != nil {
			if err := check(res); err != nil {
				return err
			}
		}

		switch to {
		case model.ReservationCancelled, model.ReservationExpired:
			if _, err := closeReservation(u, res, to, reason); err != nil {
				return err
			}
		default:
			ok, err := store.TransitionReservation(u.ctx, u.tx, res.ID, res.Status, to, u.now, "")
			if err != nil {
				return err
			}
			if !ok {
				return &model.TransitionError{Entity: "reservation", ID: res.ID, From: string(res.Status), Op: op, Reason: "changed concurrently"}
			}
			res.Status = to
			u.emit(reservationEvent(reservationEventType(to), res, ""))

			if to == model.ReservationDelivered {
				for _, l := range res.Lines {
					if _, err := ledger.Deplete(u.ctx, u.tx, l.HoldID, u.now); err != nil {
						return err
					}
				}
				status, err := fulfillment.RecomputeRequest(u.ctx, u.tx, res.RequestID, u.now)
				if err != nil {
					return err
				}
				if status == model.RequestCompleted {
					u.emit(events.Event{
						Type:     events.RequestCompleted,
						EntityID: res.RequestID,
						ParentID: res.RequestID,
						Status:   string(status),
					})
				}
			}
		}

		res, err = loadReservation(u, reservationID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// closeReservation cancels or expires res, releasing every line and
// re-deriving the request status. It reports false if res was already closed.
func closeReservation(u *unit, res *model.ResourceReservation, to model.ReservationStatus, reason string) (bool, error) {
	if !res.Status.CanTransition(to) {
		return false, nil
	}
	ok, err := store.TransitionReservation(u.ctx, u.tx, res.ID, res.Status, to, u.now, reason)
	if err != nil || !ok {
		return false, err
	}
	for _, l := range res.Lines {
		if _, err := ledger.Release(u.ctx, u.tx, l.HoldID, u.now); err != nil {
			return false, err
		}
	}
	if _, err := fulfillment.RecomputeRequest(u.ctx, u.tx, res.RequestID, u.now); err != nil {
		return false, err
	}

	res.Status = to
	u.emit(reservationEvent(reservationEventType(to), res, reason))
	return true, nil
}

// GetReservation returns a reservation with its lines and delivery code.
func (s *Service) GetReservation(ctx context.Context, reservationID string) (*model.ResourceReservation, error) {
	res, err := store.GetReservation(ctx, s.db, reservationID)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, &model.NotFoundError{Entity: "reservation", ID: reservationID}
	}
	return res, nil
}

// ListReservations returns reservations matching f, without lines.
func (s *Service) ListReservations(ctx context.Context, f store.ReservationFilter) ([]model.ResourceReservation, error) {
	return store.ListReservations(ctx, s.db, f)
}

func loadReservation(u *unit, id string) (*model.ResourceReservation, error) {
	res, err := store.GetReservation(u.ctx, u.tx, id)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, &model.NotFoundError{Entity: "reservation", ID: id}
	}
	return res, nil
}

func reservationEventType(s model.ReservationStatus) string {
	switch s {
	case model.ReservationInTransit:
		return events.ReservationInTransit
	case model.ReservationDelivered:
		return events.ReservationDelivered
	case model.ReservationCancelled:
		return events.ReservationCancelled
	case model.ReservationExpired:
		return events.ReservationExpired
	default:
		return events.ReservationReserved
	}
}

func reservationEvent(typ string, res *model.ResourceReservation, reason string) events.Event {
	total := decimal.Zero
	for _, l := range res.Lines {
		total = total.Add(l.Quantity)
	}
	return events.Event{
		Type:     typ,
		EntityID: res.ID,
		ParentID: res.RequestID,
		Status:   string(res.Status),
		Quantity: total.String(),
		Reason:   reason,
	}
}
