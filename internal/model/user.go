package model

import (
	"fmt"
	"time"
)

// User represents an authenticated account acting in one of the platform roles.
type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	Role         Role       `json:"role"`
	CreatedAt    time.Time  `json:"created_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

// Role is one of the closed set of platform roles.
type Role string

// Roles.
const (
	RoleAdmin     Role = "admin"
	RoleProvider  Role = "provider"
	RoleVolunteer Role = "volunteer"
	RoleShelter   Role = "shelter"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := capabilities[r]
	return ok
}

// Capability names one operation a role may invoke.
type Capability string

// Capabilities.
const (
	CapManageUsers     Capability = "users:manage"
	CapPublishBatch    Capability = "batch:publish"
	CapReserveBatch    Capability = "batch:reserve"
	CapCreateRequest   Capability = "request:create"
	CapReserveRequest  Capability = "request:reserve"
	CapDriveHandoff    Capability = "handoff:drive"
	CapCancelHandoff   Capability = "handoff:cancel"
	CapViewDispatch    Capability = "dispatch:view"
	CapOverrideHandoff Capability = "handoff:override"
)

// capabilities is the role → capability table. Unknown roles have none.
var capabilities = map[Role][]Capability{
	RoleAdmin: {
		CapManageUsers, CapPublishBatch, CapReserveBatch, CapCreateRequest,
		CapReserveRequest, CapDriveHandoff, CapCancelHandoff, CapViewDispatch,
		CapOverrideHandoff,
	},
	RoleProvider:  {CapPublishBatch, CapViewDispatch},
	RoleVolunteer: {CapReserveBatch, CapReserveRequest, CapDriveHandoff, CapCancelHandoff, CapViewDispatch},
	RoleShelter:   {CapCreateRequest, CapViewDispatch},
}

// Can reports whether role grants the capability.
func Can(role Role, c Capability) bool {
	for _, have := range capabilities[role] {
		if have == c {
			return true
		}
	}
	return false
}

// MinPasswordLength is the shortest password accepted for an account.
const MinPasswordLength = 8

// ValidatePassword checks a new password against the account rules.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrValidation, MinPasswordLength)
	}
	return nil
}
