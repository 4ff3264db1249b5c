// Package fulfillment derives batch and request statuses from their children.
// Status is never set directly: callers recompute it inside the same
// transaction as the ledger mutation that changed the inputs.
package fulfillment

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/erazemk/razvoz/internal/model"
	"github.com/erazemk/razvoz/internal/store"
)

// BatchStatus derives a batch's status from its counters. Terminal statuses stick.
func BatchStatus(b *model.Batch) model.BatchStatus {
	switch {
	case b.Status.IsTerminal():
		return b.Status
	case b.QuantityAvailable == 0:
		return model.BatchFullyReserved
	case b.QuantityAvailable < b.QuantityTotal:
		return model.BatchPartiallyReserved
	case b.ReadyAt == nil:
		return model.BatchProducing
	default:
		return model.BatchReady
	}
}

// Coverage is how much of one item is committed and how much has arrived.
type Coverage struct {
	ItemID    string          `json:"item_id"`
	Name      string          `json:"name"`
	Unit      string          `json:"unit"`
	Requested decimal.Decimal `json:"requested"`
	Committed decimal.Decimal `json:"committed"`
	Delivered decimal.Decimal `json:"delivered"`
}

// Covered reports whether delivered goods meet the requested quantity.
func (c Coverage) Covered() bool {
	return c.Delivered.GreaterThanOrEqual(c.Requested)
}

// Summarize sums the reservation lines of a request per item. Committed
// counts open and delivered lines; cancelled and expired lines are ignored.
func Summarize(items []model.RequestItem, lines []model.ReservationLine) []Coverage {
	idx := make(map[string]int, len(items))
	out := make([]Coverage, len(items))
	for i, it := range items {
		idx[it.ID] = i
		out[i] = Coverage{
			ItemID:    it.ID,
			Name:      it.Name,
			Unit:      it.Unit,
			Requested: it.Quantity,
			Committed: decimal.Zero,
			Delivered: decimal.Zero,
		}
	}

	for _, l := range lines {
		i, ok := idx[l.ItemID]
		if !ok {
			continue
		}
		switch l.Status {
		case model.ReservationReserved, model.ReservationInTransit:
			out[i].Committed = out[i].Committed.Add(l.Quantity)
		case model.ReservationDelivered:
			out[i].Committed = out[i].Committed.Add(l.Quantity)
			out[i].Delivered = out[i].Delivered.Add(l.Quantity)
		}
	}
	return out
}

// RequestStatus derives a request's status. Cancelled and expired requests
// keep their status; COMPLETED holds iff every item's delivered quantity
// meets the requested quantity.
func RequestStatus(current model.RequestStatus, coverage []Coverage) model.RequestStatus {
	if current == model.RequestCancelled || current == model.RequestExpired {
		return current
	}

	allCovered := len(coverage) > 0
	anyCommitted := false
	for _, c := range coverage {
		if !c.Covered() {
			allCovered = false
		}
		if c.Committed.IsPositive() {
			anyCommitted = true
		}
	}

	switch {
	case allCovered:
		return model.RequestCompleted
	case anyCommitted:
		return model.RequestPartiallyFulfilled
	default:
		return model.RequestRequesting
	}
}

// RecomputeBatch re-derives and persists a batch's status.
func RecomputeBatch(ctx context.Context, q store.Querier, batchID string) (model.BatchStatus, error) {
	b, err := store.GetBatch(ctx, q, batchID)
	if err != nil {
		return "", err
	}
	if b == nil {
		return "", &model.NotFoundError{Entity: "batch", ID: batchID}
	}

	status := BatchStatus(b)
	if status != b.Status {
		if err := store.SetBatchStatus(ctx, q, batchID, status, nil); err != nil {
			return "", err
		}
	}
	return status, nil
}

// RecomputeRequest re-derives and persists a request's status, stamping
// closed_at at now when it completes.
func RecomputeRequest(ctx context.Context, q store.Querier, requestID string, now time.Time) (model.RequestStatus, error) {
	r, err := store.GetRequest(ctx, q, requestID)
	if err != nil {
		return "", err
	}
	if r == nil {
		return "", &model.NotFoundError{Entity: "request", ID: requestID}
	}

	lines, err := store.ListRequestLines(ctx, q, requestID)
	if err != nil {
		return "", err
	}

	status := RequestStatus(r.Status, Summarize(r.Items, lines))
	if status != r.Status {
		var closedAt *time.Time
		if status.IsTerminal() {
			closedAt = &now
		}
		if err := store.SetRequestStatus(ctx, q, requestID, status, closedAt); err != nil {
			return "", fmt.Errorf("recomputing request %s: %w", requestID, err)
		}
	}
	return status, nil
}
