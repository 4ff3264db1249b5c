package dispatch

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/erazemk/razvoz/internal/code"
	"github.com/erazemk/razvoz/internal/events"
	"github.com/erazemk/razvoz/internal/fulfillment"
	"github.com/erazemk/razvoz/internal/ledger"
	"github.com/erazemk/razvoz/internal/model"
	"github.com/erazemk/razvoz/internal/store"
)

// BatchReservation asks for part of a batch to be taken to a location.
type BatchReservation struct {
	BatchID     string `json:"-"`
	LocationID  string `json:"location_id"`
	VolunteerID string `json:"-"`
	Quantity    int    `json:"quantity"`
}

// ReserveBatchQuantity takes quantity from a batch and opens a delivery for
// it. The returned delivery carries both codes; callers decide who sees which.
// With partial grants enabled the delivery may be for less than asked.
func (s *Service) ReserveBatchQuantity(ctx context.Context, in BatchReservation) (*model.Delivery, error) {
	if in.LocationID == "" {
		err := fmt.Errorf("%w: destination location is required", model.ErrValidation)
		s.logFailure("reserve batch", err)
		return nil, err
	}

	var d *model.Delivery
	_, err := s.run(ctx, "reserve batch", s.clock(), func(u *unit) error {
		b, err := loadBatch(u, in.BatchID)
		if err != nil {
			return err
		}
		if !b.Reservable(u.now) {
			return &model.TransitionError{
				Entity: "batch", ID: b.ID, From: string(b.Status), Op: "reserve",
				Reason: "no longer on offer",
			}
		}

		hold, err := ledger.ReserveBatch(u.ctx, u.tx, b.ID, in.Quantity, s.cfg.PartialGrants, u.now)
		if err != nil {
			return err
		}

		pickup, delivery, err := code.GeneratePair()
		if err != nil {
			return err
		}
		d = &model.Delivery{
			ID:           uuid.NewString(),
			BatchID:      b.ID,
			HoldID:       hold.ID,
			LocationID:   in.LocationID,
			VolunteerID:  in.VolunteerID,
			Quantity:     int(hold.Quantity.IntPart()),
			Status:       model.DeliveryReserved,
			PickupCode:   pickup,
			DeliveryCode: delivery,
			ReservedAt:   u.now,
		}
		if err := store.InsertDelivery(u.ctx, u.tx, d); err != nil {
			return err
		}
		if _, err := fulfillment.RecomputeBatch(u.ctx, u.tx, b.ID); err != nil {
			return err
		}

		u.emit(deliveryEvent(events.DeliveryReserved, d, ""))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// ConfirmPickup moves a reserved delivery to PICKED_UP when code matches its
// pickup code. A wrong code leaves the delivery unchanged.
func (s *Service) ConfirmPickup(ctx context.Context, deliveryID, supplied string) (*model.Delivery, error) {
	return s.advanceDelivery(ctx, "confirm pickup", deliveryID, model.DeliveryPickedUp, "", func(d *model.Delivery) error {
		if !code.Verify(d.PickupCode, supplied) {
			return fmt.Errorf("delivery %s pickup: %w", d.ID, model.ErrInvalidCode)
		}
		return nil
	})
}

// StartTransit marks a picked-up delivery as on its way.
func (s *Service) StartTransit(ctx context.Context, deliveryID string) (*model.Delivery, error) {
	return s.advanceDelivery(ctx, "start transit", deliveryID, model.DeliveryInTransit, "", nil)
}

// ConfirmDelivery closes a delivery when code matches its delivery code.
// The held quantity is depleted and can no longer be released.
func (s *Service) ConfirmDelivery(ctx context.Context, deliveryID, supplied string) (*model.Delivery, error) {
	return s.advanceDelivery(ctx, "confirm delivery", deliveryID, model.DeliveryDelivered, "", func(d *model.Delivery) error {
		if !code.Verify(d.DeliveryCode, supplied) {
			return fmt.Errorf("delivery %s handoff: %w", d.ID, model.ErrInvalidCode)
		}
		return nil
	})
}

// CancelDelivery cancels an open delivery and returns its quantity to the batch.
func (s *Service) CancelDelivery(ctx context.Context, deliveryID, reason string) (*model.Delivery, error) {
	return s.advanceDelivery(ctx, "cancel delivery", deliveryID, model.DeliveryCancelled, reason, nil)
}

// advanceDelivery applies one lifecycle step. check runs after the state is
// known to permit the step.
func (s *Service) advanceDelivery(ctx context.Context, op, deliveryID string, to model.DeliveryStatus, reason string, check func(*model.Delivery) error) (*model.Delivery, error) {
	var d *model.Delivery
	_, err := s.run(ctx, op, s.clock(), func(u *unit) error {
		var err error
		d, err = loadDelivery(u, deliveryID)
		if err != nil {
			return err
		}
		if !d.Status.CanTransition(to) {
			return &model.TransitionError{Entity: "delivery", ID: d.ID, From: string(d.Status), Op: op}
		}
		if check != nil {
			if err := check(d); err != nil {
				return err
			}
		}

		switch to {
		case model.DeliveryCancelled, model.DeliveryExpired:
			if _, err := closeDelivery(u, d, to, reason); err != nil {
				return err
			}
		default:
			ok, err := store.TransitionDelivery(u.ctx, u.tx, d.ID, d.Status, to, u.now, "")
			if err != nil {
				return err
			}
			if !ok {
				return &model.TransitionError{Entity: "delivery", ID: d.ID, From: string(d.Status), Op: op, Reason: "changed concurrently"}
			}
			if to == model.DeliveryDelivered {
				if _, err := ledger.Deplete(u.ctx, u.tx, d.HoldID, u.now); err != nil {
					return err
				}
				if _, err := fulfillment.RecomputeBatch(u.ctx, u.tx, d.BatchID); err != nil {
					return err
				}
			}
			d.Status = to
			u.emit(deliveryEvent(deliveryEventType(to), d, ""))
		}

		d, err = loadDelivery(u, deliveryID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// closeDelivery cancels or expires d, releasing its hold and re-deriving the
// batch status. It reports false, without error, if d was already closed.
func closeDelivery(u *unit, d *model.Delivery, to model.DeliveryStatus, reason string) (bool, error) {
	if !d.Status.CanTransition(to) {
		return false, nil
	}
	ok, err := store.TransitionDelivery(u.ctx, u.tx, d.ID, d.Status, to, u.now, reason)
	if err != nil || !ok {
		return false, err
	}
	if _, err := ledger.Release(u.ctx, u.tx, d.HoldID, u.now); err != nil {
		return false, err
	}
	if _, err := fulfillment.RecomputeBatch(u.ctx, u.tx, d.BatchID); err != nil {
		return false, err
	}

	d.Status = to
	u.emit(deliveryEvent(deliveryEventType(to), d, reason))
	return true, nil
}

// GetDelivery returns a delivery with its codes.
func (s *Service) GetDelivery(ctx context.Context, deliveryID string) (*model.Delivery, error) {
	d, err := store.GetDelivery(ctx, s.db, deliveryID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, &model.NotFoundError{Entity: "delivery", ID: deliveryID}
	}
	return d, nil
}

// ListDeliveries returns deliveries matching f.
func (s *Service) ListDeliveries(ctx context.Context, f store.DeliveryFilter) ([]model.Delivery, error) {
	return store.ListDeliveries(ctx, s.db, f)
}

func loadDelivery(u *unit, id string) (*model.Delivery, error) {
	d, err := store.GetDelivery(u.ctx, u.tx, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, &model.NotFoundError{Entity: "delivery", ID: id}
	}
	return d, nil
}

func deliveryEventType(s model.DeliveryStatus) string {
	switch s {
	case model.DeliveryPickedUp:
		return events.DeliveryPickedUp
	case model.DeliveryInTransit:
		return events.DeliveryInTransit
	case model.DeliveryDelivered:
		return events.DeliveryDelivered
	case model.DeliveryCancelled:
		return events.DeliveryCancelled
	case model.DeliveryExpired:
		return events.DeliveryExpired
	default:
		return events.DeliveryReserved
	}
}

func deliveryEvent(typ string, d *model.Delivery, reason string) events.Event {
	return events.Event{
		Type:     typ,
		EntityID: d.ID,
		ParentID: d.BatchID,
		Status:   string(d.Status),
		Quantity: strconv.Itoa(d.Quantity),
		Reason:   reason,
	}
}
