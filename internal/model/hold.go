package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Hold is a ledger handle: exactly how much was granted against one parent counter.
type Hold struct {
	ID         string          `json:"id"`
	ParentKind HoldParent      `json:"parent_kind"`
	ParentID   string          `json:"parent_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	State      HoldState       `json:"state"`
	CreatedAt  time.Time       `json:"created_at"`
	SettledAt  *time.Time      `json:"settled_at,omitempty"`
}

// HoldParent names the kind of counter a hold was taken against.
type HoldParent string

// Hold parents.
const (
	HoldBatch       HoldParent = "batch"
	HoldRequestItem HoldParent = "request_item"
)

// HoldState tracks whether the held quantity is still outstanding.
type HoldState string

// Hold states.
const (
	HoldHeld     HoldState = "held"
	HoldReleased HoldState = "released"
	HoldDepleted HoldState = "depleted"
)
