package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/erazemk/razvoz/internal/events"
	"github.com/erazemk/razvoz/internal/fulfillment"
	"github.com/erazemk/razvoz/internal/model"
	"github.com/erazemk/razvoz/internal/store"
)

// NewBatch describes a batch a provider publishes.
type NewBatch struct {
	ProviderID     string            `json:"-"`
	ProductKind    model.ProductKind `json:"product_kind"`
	Description    string            `json:"description"`
	Quantity       int               `json:"quantity"`
	PickupDeadline *time.Time        `json:"pickup_deadline"`
	// Ready marks the goods as already produced.
	Ready bool `json:"ready"`
}

// BatchView is a dashboard projection of a batch.
type BatchView struct {
	Batch      *model.Batch     `json:"batch"`
	Reserved   int              `json:"reserved"`
	Delivered  int              `json:"delivered"`
	Deliveries []model.Delivery `json:"deliveries"`
}

// CreateBatch publishes a batch with its whole quantity available.
func (s *Service) CreateBatch(ctx context.Context, in NewBatch) (*model.Batch, error) {
	now := s.clock()
	if err := validateBatch(in, now); err != nil {
		s.logFailure("create batch", err)
		return nil, err
	}

	b := &model.Batch{
		ID:             uuid.NewString(),
		ProviderID:     in.ProviderID,
		ProductKind:    in.ProductKind,
		Description:    strings.TrimSpace(in.Description),
		QuantityTotal:  in.Quantity,
		Status:         model.BatchProducing,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.cfg.BatchTTL),
		PickupDeadline: in.PickupDeadline,
	}
	if in.Ready {
		b.ReadyAt = &now
		b.Status = model.BatchReady
	}

	_, err := s.run(ctx, "create batch", now, func(u *unit) error {
		return store.InsertBatch(u.ctx, u.tx, b)
	})
	if err != nil {
		return nil, err
	}
	b.QuantityAvailable = b.QuantityTotal
	return b, nil
}

func validateBatch(in NewBatch, now time.Time) error {
	switch {
	case in.ProviderID == "":
		return fmt.Errorf("%w: provider is required", model.ErrValidation)
	case !in.ProductKind.Valid():
		return fmt.Errorf("%w: unknown product kind %q", model.ErrValidation, in.ProductKind)
	case in.Quantity <= 0:
		return fmt.Errorf("%w: quantity must be positive", model.ErrValidation)
	case in.PickupDeadline != nil && !in.PickupDeadline.After(now):
		return fmt.Errorf("%w: pickup deadline is in the past", model.ErrValidation)
	}
	return nil
}

// MarkBatchReady records that a producing batch is ready for pickup.
func (s *Service) MarkBatchReady(ctx context.Context, batchID string) (*model.Batch, error) {
	var b *model.Batch
	_, err := s.run(ctx, "mark batch ready", s.clock(), func(u *unit) error {
		var err error
		b, err = loadBatch(u, batchID)
		if err != nil {
			return err
		}
		if b.Status.IsTerminal() || b.ReadyAt != nil {
			return &model.TransitionError{Entity: "batch", ID: batchID, From: string(b.Status), Op: "mark ready"}
		}

		if err := store.MarkBatchReady(u.ctx, u.tx, batchID, u.now); err != nil {
			return err
		}
		if _, err := fulfillment.RecomputeBatch(u.ctx, u.tx, batchID); err != nil {
			return err
		}
		b, err = loadBatch(u, batchID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// CancelBatch withdraws a batch. Every open delivery against it is cancelled
// and its quantity released.
func (s *Service) CancelBatch(ctx context.Context, batchID, reason string) (*model.Batch, error) {
	var b *model.Batch
	_, err := s.run(ctx, "cancel batch", s.clock(), func(u *unit) error {
		var err error
		b, err = loadBatch(u, batchID)
		if err != nil {
			return err
		}
		if b.Status.IsTerminal() {
			return &model.TransitionError{Entity: "batch", ID: batchID, From: string(b.Status), Op: "cancel"}
		}

		if reason == "" {
			reason = "batch withdrawn"
		}
		live, err := store.ListDeliveries(u.ctx, u.tx, store.DeliveryFilter{BatchID: batchID, LiveOnly: true})
		if err != nil {
			return err
		}
		for i := range live {
			if _, err := closeDelivery(u, &live[i], model.DeliveryCancelled, reason); err != nil {
				return err
			}
		}

		if err := store.SetBatchStatus(u.ctx, u.tx, batchID, model.BatchCancelled, &u.now); err != nil {
			return err
		}
		u.emit(events.Event{
			Type:     events.BatchCancelled,
			EntityID: batchID,
			ParentID: batchID,
			Status:   string(model.BatchCancelled),
			Reason:   reason,
		})
		b, err = loadBatch(u, batchID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// GetBatch returns a batch without touching its expiry.
func (s *Service) GetBatch(ctx context.Context, batchID string) (*model.Batch, error) {
	b, err := store.GetBatch(ctx, s.db, batchID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, &model.NotFoundError{Entity: "batch", ID: batchID}
	}
	return b, nil
}

// GetBatchStatus returns a batch with its deliveries. A batch or delivery
// that is due to expire is expired first.
func (s *Service) GetBatchStatus(ctx context.Context, batchID string) (*BatchView, error) {
	if _, err := s.GetBatch(ctx, batchID); err != nil {
		return nil, err
	}

	now := s.clock()
	if _, err := s.expireBatch(ctx, batchID, now); err != nil {
		return nil, err
	}
	if err := s.expireOverdueDeliveries(ctx, store.DeliveryFilter{BatchID: batchID, LiveOnly: true}, now, nil); err != nil {
		return nil, err
	}

	b, err := s.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	deliveries, err := store.ListDeliveries(ctx, s.db, store.DeliveryFilter{BatchID: batchID})
	if err != nil {
		return nil, err
	}

	v := &BatchView{Batch: b, Deliveries: deliveries}
	for _, d := range deliveries {
		switch d.Status {
		case model.DeliveryReserved, model.DeliveryPickedUp, model.DeliveryInTransit:
			v.Reserved += d.Quantity
		case model.DeliveryDelivered:
			v.Delivered += d.Quantity
		}
	}
	return v, nil
}

// ListActiveBatches returns batches still on offer, optionally for one provider.
func (s *Service) ListActiveBatches(ctx context.Context, providerID string) ([]model.Batch, error) {
	return store.ListActiveBatches(ctx, s.db, providerID)
}

func loadBatch(u *unit, id string) (*model.Batch, error) {
	b, err := store.GetBatch(u.ctx, u.tx, id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, &model.NotFoundError{Entity: "batch", ID: id}
	}
	return b, nil
}
