// Package events publishes lifecycle transitions of deliveries and
// reservations after they commit.
package events

import (
	"context"
	"sync"
	"time"
)

// Event types.
const (
	DeliveryReserved  = "delivery.reserved"
	DeliveryPickedUp  = "delivery.picked_up"
	DeliveryInTransit = "delivery.in_transit"
	DeliveryDelivered = "delivery.delivered"
	DeliveryCancelled = "delivery.cancelled"
	DeliveryExpired   = "delivery.expired"

	ReservationReserved  = "reservation.reserved"
	ReservationInTransit = "reservation.in_transit"
	ReservationDelivered = "reservation.delivered"
	ReservationCancelled = "reservation.cancelled"
	ReservationExpired   = "reservation.expired"

	BatchExpired   = "batch.expired"
	BatchCancelled = "batch.cancelled"

	RequestCompleted = "request.completed"
	RequestExpired   = "request.expired"
	RequestCancelled = "request.cancelled"
)

// Event describes one committed transition. ParentID is the batch or request
// the entity belongs to and is used as the partition key.
type Event struct {
	Type       string    `json:"type"`
	EntityID   string    `json:"entity_id"`
	ParentID   string    `json:"parent_id"`
	Status     string    `json:"status"`
	Quantity   string    `json:"quantity,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher delivers events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Noop discards events.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, len(r.events))
	for i, e := range r.events {
		types[i] = e.Type
	}
	return types
}
