package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ResourceRequest is a shelter's request for goods, decomposed into line items.
// Meal requests have exactly one line.
type ResourceRequest struct {
	ID          string        `json:"id"`
	RequesterID string        `json:"requester_id"`
	Kind        RequestKind   `json:"kind"`
	Notes       string        `json:"notes,omitempty"`
	Status      RequestStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	WindowStart *time.Time    `json:"window_start,omitempty"`
	WindowEnd   *time.Time    `json:"window_end,omitempty"`
	ClosedAt    *time.Time    `json:"closed_at,omitempty"`
	Items       []RequestItem `json:"items"`
}

// QuantityRequested is the sum of all line quantities.
func (r *ResourceRequest) QuantityRequested() decimal.Decimal {
	total := decimal.Zero
	for _, it := range r.Items {
		total = total.Add(it.Quantity)
	}
	return total
}

// RequestItem is one named line of a request.
type RequestItem struct {
	ID               string          `json:"id"`
	RequestID        string          `json:"request_id"`
	Name             string          `json:"name"`
	Unit             string          `json:"unit"`
	Quantity         decimal.Decimal `json:"quantity"`
	QuantityReserved decimal.Decimal `json:"quantity_reserved"`
	Version          int64           `json:"-"`
}

// Available is the quantity still open for reservation.
func (it *RequestItem) Available() decimal.Decimal {
	return it.Quantity.Sub(it.QuantityReserved)
}

// RequestStatus is the derived status of a request.
type RequestStatus string

// Request statuses.
const (
	RequestRequesting         RequestStatus = "REQUESTING"
	RequestPartiallyFulfilled RequestStatus = "PARTIALLY_FULFILLED"
	RequestCompleted          RequestStatus = "COMPLETED"
	RequestCancelled          RequestStatus = "CANCELLED"
	RequestExpired            RequestStatus = "EXPIRED"
)

// IsTerminal reports whether the request is closed.
func (s RequestStatus) IsTerminal() bool {
	return s == RequestCompleted || s == RequestCancelled || s == RequestExpired
}

// Reservable reports whether new reservations may be placed at now.
func (r *ResourceRequest) Reservable(now time.Time) bool {
	if r.Status.IsTerminal() {
		return false
	}
	return r.WindowEnd == nil || now.Before(*r.WindowEnd)
}
