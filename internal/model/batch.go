package model

import "time"

// Batch is a provider's published, depletable offer of one product kind.
type Batch struct {
	ID                string      `json:"id"`
	ProviderID        string      `json:"provider_id"`
	ProductKind       ProductKind `json:"product_kind"`
	Description       string      `json:"description,omitempty"`
	QuantityTotal     int         `json:"quantity_total"`
	QuantityAvailable int         `json:"quantity_available"`
	Status            BatchStatus `json:"status"`
	CreatedAt         time.Time   `json:"created_at"`
	ReadyAt           *time.Time  `json:"ready_at,omitempty"`
	ExpiresAt         time.Time   `json:"expires_at"`
	PickupDeadline    *time.Time  `json:"pickup_deadline,omitempty"`
	ClosedAt          *time.Time  `json:"closed_at,omitempty"`
}

// BatchStatus is the derived status of a batch.
type BatchStatus string

// Batch statuses.
const (
	BatchProducing         BatchStatus = "PRODUCING"
	BatchReady             BatchStatus = "READY"
	BatchPartiallyReserved BatchStatus = "PARTIALLY_RESERVED"
	BatchFullyReserved     BatchStatus = "FULLY_RESERVED"
	BatchExpired           BatchStatus = "EXPIRED"
	BatchCancelled         BatchStatus = "CANCELLED"
)

// IsTerminal reports whether no further reservation or status change is possible.
func (s BatchStatus) IsTerminal() bool {
	return s == BatchExpired || s == BatchCancelled
}

// DefaultBatchTTL is how long a batch stays on offer after publication.
const DefaultBatchTTL = 4 * time.Hour

// Reservable reports whether new quantity may be reserved at now.
func (b *Batch) Reservable(now time.Time) bool {
	if b.Status.IsTerminal() || !now.Before(b.ExpiresAt) {
		return false
	}
	if b.PickupDeadline != nil && !now.Before(*b.PickupDeadline) {
		return false
	}
	return true
}
