package model

import "time"

// Delivery is one physical hand-off of a reserved slice of a batch.
// Codes are never serialised; callers project them per role.
type Delivery struct {
	ID                string         `json:"id"`
	BatchID           string         `json:"batch_id"`
	HoldID            string         `json:"-"`
	LocationID        string         `json:"location_id"`
	VolunteerID       string         `json:"volunteer_id,omitempty"`
	Quantity          int            `json:"quantity"`
	Status            DeliveryStatus `json:"status"`
	PickupCode        string         `json:"-"`
	DeliveryCode      string         `json:"-"`
	ReservedAt        time.Time      `json:"reserved_at"`
	PickupConfirmedAt *time.Time     `json:"pickup_confirmed_at,omitempty"`
	InTransitAt       *time.Time     `json:"in_transit_at,omitempty"`
	DeliveredAt       *time.Time     `json:"delivered_at,omitempty"`
	ClosedAt          *time.Time     `json:"closed_at,omitempty"`
	CancelReason      string         `json:"cancel_reason,omitempty"`
}

// DeliveryStatus is a state of the delivery lifecycle.
type DeliveryStatus string

// Delivery statuses.
const (
	DeliveryReserved  DeliveryStatus = "RESERVED"
	DeliveryPickedUp  DeliveryStatus = "PICKED_UP"
	DeliveryInTransit DeliveryStatus = "IN_TRANSIT"
	DeliveryDelivered DeliveryStatus = "DELIVERED"
	DeliveryCancelled DeliveryStatus = "CANCELLED"
	DeliveryExpired   DeliveryStatus = "EXPIRED"
)

var deliveryTransitions = map[DeliveryStatus][]DeliveryStatus{
	DeliveryReserved:  {DeliveryPickedUp, DeliveryCancelled, DeliveryExpired},
	DeliveryPickedUp:  {DeliveryInTransit, DeliveryDelivered, DeliveryCancelled, DeliveryExpired},
	DeliveryInTransit: {DeliveryDelivered, DeliveryCancelled, DeliveryExpired},
}

// IsTerminal reports whether the delivery is closed.
func (s DeliveryStatus) IsTerminal() bool {
	return s == DeliveryDelivered || s == DeliveryCancelled || s == DeliveryExpired
}

// CanTransition reports whether the lifecycle permits s → to.
func (s DeliveryStatus) CanTransition(to DeliveryStatus) bool {
	for _, next := range deliveryTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// DefaultOperationTimeLimit is how long a reservation may stay open before it expires.
const DefaultOperationTimeLimit = 24 * time.Hour

// Overdue reports whether an open delivery has exceeded limit at now.
func (d *Delivery) Overdue(now time.Time, limit time.Duration) bool {
	return !d.Status.IsTerminal() && now.Sub(d.ReservedAt) > limit
}
