package api

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"

	"github.com/erazemk/razvoz/internal/auth"
	"github.com/erazemk/razvoz/internal/model"
	"github.com/erazemk/razvoz/internal/store"
)

type codeRequest struct {
	Code string `json:"code"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// decodeOptionalJSON is decodeJSON for bodies that may be empty.
func decodeOptionalJSON(r *http.Request, target any) error {
	if err := decodeJSON(r, target); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func isAdmin(c *auth.Claims) bool {
	return c.Role == model.RoleAdmin
}

// deliveryView is a delivery with the codes its caller may see. The batch's
// provider holds the pickup code and the receiving shelter the delivery code.
type deliveryView struct {
	model.Delivery
	PickupCode   string `json:"pickup_code,omitempty"`
	DeliveryCode string `json:"delivery_code,omitempty"`
}

func projectDelivery(d model.Delivery, providerID string, c *auth.Claims) deliveryView {
	v := deliveryView{Delivery: d}
	if isAdmin(c) || c.UserID == providerID {
		v.PickupCode = d.PickupCode
	}
	if isAdmin(c) || c.UserID == d.LocationID {
		v.DeliveryCode = d.DeliveryCode
	}
	return v
}

// reservationView is a reservation with its delivery code when the caller is
// the requesting shelter.
type reservationView struct {
	model.ResourceReservation
	DeliveryCode string `json:"delivery_code,omitempty"`
}

func projectReservation(res model.ResourceReservation, requesterID string, c *auth.Claims) reservationView {
	v := reservationView{ResourceReservation: res}
	if isAdmin(c) || c.UserID == requesterID {
		v.DeliveryCode = res.DeliveryCode
	}
	if v.Lines == nil {
		v.Lines = []model.ReservationLine{}
	}
	return v
}

// activeUserWithRole reports whether id is a live account holding role.
func activeUserWithRole(ctx context.Context, db *sql.DB, id string, role model.Role) (bool, error) {
	u, err := store.GetUser(ctx, db, id)
	if err != nil {
		return false, err
	}
	return u != nil && u.DeletedAt == nil && u.Role == role, nil
}
