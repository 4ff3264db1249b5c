package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/erazemk/razvoz/internal/model"
)

const deliveryColumns = `id, batch_id, hold_id, location_id, volunteer_id, quantity, status,
	pickup_code, delivery_code, reserved_at, pickup_confirmed_at, in_transit_at, delivered_at,
	closed_at, cancel_reason`

// InsertDelivery stores a new delivery.
func InsertDelivery(ctx context.Context, q Querier, d *model.Delivery) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO deliveries (id, batch_id, hold_id, location_id, volunteer_id, quantity, status,
		                         pickup_code, delivery_code, reserved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.BatchID, d.HoldID, d.LocationID, nullString(d.VolunteerID), d.Quantity, d.Status,
		d.PickupCode, d.DeliveryCode, d.ReservedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting delivery: %w", err)
	}
	return nil
}

// GetDelivery returns a delivery by ID.
func GetDelivery(ctx context.Context, q Querier, id string) (*model.Delivery, error) {
	row := q.QueryRowContext(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE id = ?`, id)
	d, err := scanDelivery(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting delivery: %w", err)
	}
	return d, nil
}

// DeliveryFilter narrows ListDeliveries. Zero fields are ignored.
type DeliveryFilter struct {
	BatchID     string
	VolunteerID string
	LocationID  string
	LiveOnly    bool
}

// ListDeliveries returns deliveries matching the filter, oldest reservation first.
func ListDeliveries(ctx context.Context, q Querier, f DeliveryFilter) ([]model.Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM deliveries WHERE 1=1`
	var args []any

	if f.BatchID != "" {
		query += ` AND batch_id = ?`
		args = append(args, f.BatchID)
	}
	if f.VolunteerID != "" {
		query += ` AND volunteer_id = ?`
		args = append(args, f.VolunteerID)
	}
	if f.LocationID != "" {
		query += ` AND location_id = ?`
		args = append(args, f.LocationID)
	}
	if f.LiveOnly {
		query += ` AND status IN ('RESERVED', 'PICKED_UP', 'IN_TRANSIT')`
	}
	query += ` ORDER BY reserved_at`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []model.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning delivery: %w", err)
		}
		deliveries = append(deliveries, *d)
	}
	return deliveries, rows.Err()
}

// TransitionDelivery moves a delivery from → to, stamping the matching timestamp.
// It reports false if the delivery was no longer in from.
func TransitionDelivery(ctx context.Context, q Querier, id string, from, to model.DeliveryStatus, at time.Time, reason string) (bool, error) {
	var set string
	args := []any{to, at}
	switch to {
	case model.DeliveryPickedUp:
		set = `pickup_confirmed_at = ?`
	case model.DeliveryInTransit:
		set = `in_transit_at = ?`
	case model.DeliveryDelivered:
		set = `delivered_at = ?, closed_at = ?`
		args = append(args, at)
	case model.DeliveryCancelled, model.DeliveryExpired:
		set = `closed_at = ?`
	default:
		return false, fmt.Errorf("unsupported delivery status %q", to)
	}
	args = append(args, nullString(reason), id, from)

	result, err := q.ExecContext(ctx,
		`UPDATE deliveries SET status = ?, `+set+`, cancel_reason = COALESCE(?, cancel_reason)
		 WHERE id = ? AND status = ?`,
		args...,
	)
	if err != nil {
		return false, fmt.Errorf("updating delivery status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("updating delivery status: %w", err)
	}
	return n == 1, nil
}

func scanDelivery(row rowScanner) (*model.Delivery, error) {
	d := &model.Delivery{}
	var volunteerID, reason sql.NullString
	err := row.Scan(&d.ID, &d.BatchID, &d.HoldID, &d.LocationID, &volunteerID, &d.Quantity, &d.Status,
		&d.PickupCode, &d.DeliveryCode, &d.ReservedAt, &d.PickupConfirmedAt, &d.InTransitAt, &d.DeliveredAt,
		&d.ClosedAt, &reason)
	if err != nil {
		return nil, err
	}
	d.VolunteerID = volunteerID.String
	d.CancelReason = reason.String
	return d, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
