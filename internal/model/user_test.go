package model

import "testing"

func TestCan(t *testing.T) {
	tests := []struct {
		role       Role
		capability Capability
		expected   bool
	}{
		{RoleAdmin, CapManageUsers, true},
		{RoleAdmin, CapOverrideHandoff, true},
		{RoleProvider, CapPublishBatch, true},
		{RoleProvider, CapReserveBatch, false},
		{RoleVolunteer, CapReserveBatch, true},
		{RoleVolunteer, CapDriveHandoff, true},
		{RoleVolunteer, CapPublishBatch, false},
		{RoleShelter, CapCreateRequest, true},
		{RoleShelter, CapCancelHandoff, false},
		// Unknown roles fail-closed.
		{"unknown", CapViewDispatch, false},
		{"", CapViewDispatch, false},
	}

	for _, tt := range tests {
		got := Can(tt.role, tt.capability)
		if got != tt.expected {
			t.Errorf("Can(%q, %q) = %v, want %v", tt.role, tt.capability, got, tt.expected)
		}
	}
}

func TestRoleValid(t *testing.T) {
	for _, r := range []Role{RoleAdmin, RoleProvider, RoleVolunteer, RoleShelter} {
		if !r.Valid() {
			t.Errorf("expected %q to be valid", r)
		}
	}
	if Role("manager").Valid() {
		t.Error("expected manager to be invalid")
	}
}

func TestDeliveryTransitions(t *testing.T) {
	tests := []struct {
		from, to DeliveryStatus
		expected bool
	}{
		{DeliveryReserved, DeliveryPickedUp, true},
		{DeliveryReserved, DeliveryDelivered, false},
		{DeliveryReserved, DeliveryCancelled, true},
		{DeliveryPickedUp, DeliveryDelivered, true},
		{DeliveryPickedUp, DeliveryCancelled, true},
		{DeliveryInTransit, DeliveryExpired, true},
		{DeliveryDelivered, DeliveryCancelled, false},
		{DeliveryCancelled, DeliveryExpired, false},
		{DeliveryExpired, DeliveryReserved, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.expected {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.expected)
		}
	}
}

func TestReservationTransitions(t *testing.T) {
	if !ReservationReserved.CanTransition(ReservationDelivered) {
		t.Error("expected RESERVED -> DELIVERED to be allowed")
	}
	if ReservationDelivered.CanTransition(ReservationCancelled) {
		t.Error("expected DELIVERED to be terminal")
	}
	if !ReservationExpired.IsTerminal() {
		t.Error("expected EXPIRED to be terminal")
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		password string
		wantErr  bool
	}{
		{"", true},
		{"short", true},
		{"1234567", true},
		{"12345678", false},
		{"a-valid-password", false},
	}

	for _, tt := range tests {
		err := ValidatePassword(tt.password)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidatePassword(%q) error = %v, wantErr %v", tt.password, err, tt.wantErr)
		}
	}
}
