// Package ledger guards the shared, depletable counters: a batch's available
// quantity and each request item's reserved quantity. Nothing else writes
// those columns.
//
// Every grant is recorded as a hold. Releasing or depleting a hold is a state
// change on the hold row itself, so a second release of the same hold finds it
// already settled and does nothing.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/erazemk/razvoz/internal/model"
	"github.com/erazemk/razvoz/internal/store"
)

// maxCASAttempts bounds the optimistic retry loop on request item counters.
const maxCASAttempts = 8

// errConflict signals a lost compare-and-swap race.
var errConflict = errors.New("ledger: concurrent update")

// ReserveBatch takes qty units from a batch's available quantity.
// With partial set, it grants min(qty, available) instead of failing,
// but still fails when nothing is available.
func ReserveBatch(ctx context.Context, q store.Querier, batchID string, qty int, partial bool, now time.Time) (*model.Hold, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", model.ErrValidation)
	}

	var available int
	err := q.QueryRowContext(ctx,
		`SELECT quantity_available FROM batches WHERE id = ?`, batchID,
	).Scan(&available)
	if err == sql.ErrNoRows {
		return nil, &model.NotFoundError{Entity: "batch", ID: batchID}
	}
	if err != nil {
		return nil, fmt.Errorf("reading batch availability: %w", err)
	}

	grant := qty
	if available < qty {
		if !partial || available == 0 {
			return nil, &model.InsufficientQuantityError{
				ParentID:  batchID,
				Requested: decimal.NewFromInt(int64(qty)),
				Available: decimal.NewFromInt(int64(available)),
			}
		}
		grant = available
	}

	// Compare-and-decrement: the guard makes the write itself refuse to
	// overdraw even if the value changed since the read above.
	result, err := q.ExecContext(ctx,
		`UPDATE batches SET quantity_available = quantity_available - ?
		 WHERE id = ? AND quantity_available >= ?`,
		grant, batchID, grant,
	)
	if err != nil {
		return nil, fmt.Errorf("decrementing batch availability: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return nil, fmt.Errorf("decrementing batch availability: %w", err)
	} else if n == 0 {
		return nil, &model.InsufficientQuantityError{
			ParentID:  batchID,
			Requested: decimal.NewFromInt(int64(grant)),
			Available: decimal.NewFromInt(int64(available)),
		}
	}

	return insertHold(ctx, q, model.HoldBatch, batchID, decimal.NewFromInt(int64(grant)), now)
}

// ReserveItem commits qty of a request item. Partial behaves as in ReserveBatch.
func ReserveItem(ctx context.Context, q store.Querier, itemID string, qty decimal.Decimal, partial bool, now time.Time) (*model.Hold, error) {
	if !qty.IsPositive() {
		return nil, fmt.Errorf("%w: quantity must be positive", model.ErrValidation)
	}

	var grant decimal.Decimal
	err := casItem(ctx, q, itemID, func(it *model.RequestItem) (decimal.Decimal, error) {
		available := it.Available()
		grant = qty
		if available.LessThan(qty) {
			if !partial || !available.IsPositive() {
				return decimal.Zero, &model.InsufficientQuantityError{
					ParentID:  itemID,
					Requested: qty,
					Available: available,
				}
			}
			grant = available
		}
		return it.QuantityReserved.Add(grant), nil
	})
	if err != nil {
		return nil, err
	}

	return insertHold(ctx, q, model.HoldRequestItem, itemID, grant, now)
}

// Release returns a held quantity to its parent. It reports whether anything
// was released; a hold that is already released or depleted is left alone.
func Release(ctx context.Context, q store.Querier, holdID string, now time.Time) (bool, error) {
	h, ok, err := settle(ctx, q, holdID, model.HoldReleased, now)
	if err != nil || !ok {
		return false, err
	}

	switch h.ParentKind {
	case model.HoldBatch:
		result, err := q.ExecContext(ctx,
			`UPDATE batches SET quantity_available = quantity_available + ?
			 WHERE id = ? AND quantity_available + ? <= quantity_total`,
			h.Quantity.IntPart(), h.ParentID, h.Quantity.IntPart(),
		)
		if err != nil {
			return false, fmt.Errorf("incrementing batch availability: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return false, fmt.Errorf("releasing hold %s: batch %s would exceed its total", holdID, h.ParentID)
		}
	case model.HoldRequestItem:
		err := casItem(ctx, q, h.ParentID, func(it *model.RequestItem) (decimal.Decimal, error) {
			next := it.QuantityReserved.Sub(h.Quantity)
			if next.IsNegative() {
				return decimal.Zero, fmt.Errorf("releasing hold %s: item %s would go negative", holdID, h.ParentID)
			}
			return next, nil
		})
		if err != nil {
			return false, err
		}
	default:
		return false, fmt.Errorf("hold %s has unknown parent kind %q", holdID, h.ParentKind)
	}
	return true, nil
}

// Deplete finalises a hold on delivery. The counter was already decremented
// when the hold was granted, so only the hold changes; afterwards it can no
// longer be released. It reports whether the hold was still outstanding.
func Deplete(ctx context.Context, q store.Querier, holdID string, now time.Time) (bool, error) {
	_, ok, err := settle(ctx, q, holdID, model.HoldDepleted, now)
	return ok, err
}

// GetHold returns a hold by ID.
func GetHold(ctx context.Context, q store.Querier, id string) (*model.Hold, error) {
	h := &model.Hold{}
	err := q.QueryRowContext(ctx,
		`SELECT id, parent_kind, parent_id, quantity, state, created_at, settled_at
		 FROM holds WHERE id = ?`, id,
	).Scan(&h.ID, &h.ParentKind, &h.ParentID, &h.Quantity, &h.State, &h.CreatedAt, &h.SettledAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting hold: %w", err)
	}
	return h, nil
}

func insertHold(ctx context.Context, q store.Querier, kind model.HoldParent, parentID string, qty decimal.Decimal, now time.Time) (*model.Hold, error) {
	h := &model.Hold{
		ID:         uuid.NewString(),
		ParentKind: kind,
		ParentID:   parentID,
		Quantity:   qty,
		State:      model.HoldHeld,
		CreatedAt:  now,
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO holds (id, parent_kind, parent_id, quantity, state, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		h.ID, h.ParentKind, h.ParentID, h.Quantity.String(), h.State, h.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("recording hold: %w", err)
	}
	return h, nil
}

// settle moves a held hold to state. It reports false if the hold was already settled.
func settle(ctx context.Context, q store.Querier, holdID string, state model.HoldState, now time.Time) (*model.Hold, bool, error) {
	result, err := q.ExecContext(ctx,
		`UPDATE holds SET state = ?, settled_at = ? WHERE id = ? AND state = 'held'`,
		state, now, holdID,
	)
	if err != nil {
		return nil, false, fmt.Errorf("settling hold: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("settling hold: %w", err)
	}
	if n == 0 {
		h, err := GetHold(ctx, q, holdID)
		if err != nil {
			return nil, false, err
		}
		if h == nil {
			return nil, false, &model.NotFoundError{Entity: "hold", ID: holdID}
		}
		return h, false, nil
	}

	h, err := GetHold(ctx, q, holdID)
	if err != nil {
		return nil, false, err
	}
	return h, true, nil
}

// casItem applies next to a request item's reserved quantity with an
// optimistic version check, retrying if another writer got there first.
func casItem(ctx context.Context, q store.Querier, itemID string, next func(it *model.RequestItem) (decimal.Decimal, error)) error {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		it, err := store.GetRequestItem(ctx, q, itemID)
		if err != nil {
			return err
		}
		if it == nil {
			return &model.NotFoundError{Entity: "request item", ID: itemID}
		}

		reserved, err := next(it)
		if err != nil {
			return err
		}

		result, err := q.ExecContext(ctx,
			`UPDATE request_items SET quantity_reserved = ?, version = version + 1
			 WHERE id = ? AND version = ?`,
			reserved.String(), itemID, it.Version,
		)
		if err != nil {
			return fmt.Errorf("updating item reservation: %w", err)
		}
		if n, err := result.RowsAffected(); err != nil {
			return fmt.Errorf("updating item reservation: %w", err)
		} else if n == 1 {
			return nil
		}
	}
	return fmt.Errorf("item %s: %w after %d attempts", itemID, errConflict, maxCASAttempts)
}
