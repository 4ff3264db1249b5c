package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ResourceReservation is a volunteer's commitment to deliver part of a request.
type ResourceReservation struct {
	ID           string            `json:"id"`
	RequestID    string            `json:"request_id"`
	VolunteerID  string            `json:"volunteer_id,omitempty"`
	Status       ReservationStatus `json:"status"`
	DeliveryCode string            `json:"-"`
	ReservedAt   time.Time         `json:"reserved_at"`
	InTransitAt  *time.Time        `json:"in_transit_at,omitempty"`
	DeliveredAt  *time.Time        `json:"delivered_at,omitempty"`
	ClosedAt     *time.Time        `json:"closed_at,omitempty"`
	CancelReason string            `json:"cancel_reason,omitempty"`
	Lines        []ReservationLine `json:"lines"`
}

// ReservationLine is the committed quantity of one request item.
type ReservationLine struct {
	ReservationID string          `json:"reservation_id"`
	ItemID        string          `json:"item_id"`
	HoldID        string          `json:"-"`
	Quantity      decimal.Decimal `json:"quantity"`

	// Status of the owning reservation (populated by request-wide queries).
	Status ReservationStatus `json:"-"`
}

// ItemQuantity asks for a quantity of one request item.
type ItemQuantity struct {
	ItemID   string          `json:"item_id"`
	Quantity decimal.Decimal `json:"quantity"`
}

// ReservationStatus is a state of the reservation lifecycle.
type ReservationStatus string

// Reservation statuses.
const (
	ReservationReserved  ReservationStatus = "RESERVED"
	ReservationInTransit ReservationStatus = "IN_TRANSIT"
	ReservationDelivered ReservationStatus = "DELIVERED"
	ReservationCancelled ReservationStatus = "CANCELLED"
	ReservationExpired   ReservationStatus = "EXPIRED"
)

var reservationTransitions = map[ReservationStatus][]ReservationStatus{
	ReservationReserved:  {ReservationInTransit, ReservationDelivered, ReservationCancelled, ReservationExpired},
	ReservationInTransit: {ReservationDelivered, ReservationCancelled, ReservationExpired},
}

// IsTerminal reports whether the reservation is closed.
func (s ReservationStatus) IsTerminal() bool {
	return s == ReservationDelivered || s == ReservationCancelled || s == ReservationExpired
}

// CanTransition reports whether the lifecycle permits s → to.
func (s ReservationStatus) CanTransition(to ReservationStatus) bool {
	for _, next := range reservationTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Overdue reports whether an open reservation has exceeded limit at now.
func (r *ResourceReservation) Overdue(now time.Time, limit time.Duration) bool {
	return !r.Status.IsTerminal() && now.Sub(r.ReservedAt) > limit
}
