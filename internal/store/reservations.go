package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/erazemk/razvoz/internal/model"
)

const reservationColumns = `id, request_id, volunteer_id, status, delivery_code, reserved_at,
	in_transit_at, delivered_at, closed_at, cancel_reason`

// InsertReservation stores a reservation and its lines.
func InsertReservation(ctx context.Context, q Querier, r *model.ResourceReservation) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO resource_reservations (id, request_id, volunteer_id, status, delivery_code, reserved_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.RequestID, nullString(r.VolunteerID), r.Status, r.DeliveryCode, r.ReservedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting reservation: %w", err)
	}

	for _, l := range r.Lines {
		_, err := q.ExecContext(ctx,
			`INSERT INTO reservation_items (reservation_id, item_id, hold_id, quantity) VALUES (?, ?, ?, ?)`,
			r.ID, l.ItemID, l.HoldID, l.Quantity.String(),
		)
		if err != nil {
			return fmt.Errorf("inserting reservation line: %w", err)
		}
	}
	return nil
}

// GetReservation returns a reservation with its lines.
func GetReservation(ctx context.Context, q Querier, id string) (*model.ResourceReservation, error) {
	row := q.QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM resource_reservations WHERE id = ?`, id)
	r, err := scanReservation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting reservation: %w", err)
	}

	rows, err := q.QueryContext(ctx,
		`SELECT reservation_id, item_id, hold_id, quantity FROM reservation_items
		 WHERE reservation_id = ? ORDER BY item_id`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("listing reservation lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		l := model.ReservationLine{Status: r.Status}
		if err := rows.Scan(&l.ReservationID, &l.ItemID, &l.HoldID, &l.Quantity); err != nil {
			return nil, fmt.Errorf("scanning reservation line: %w", err)
		}
		r.Lines = append(r.Lines, l)
	}
	return r, rows.Err()
}

// ReservationFilter narrows ListReservations. Zero fields are ignored.
type ReservationFilter struct {
	RequestID   string
	VolunteerID string
	LiveOnly    bool
}

// ListReservations returns reservations matching the filter, without lines.
func ListReservations(ctx context.Context, q Querier, f ReservationFilter) ([]model.ResourceReservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM resource_reservations WHERE 1=1`
	var args []any

	if f.RequestID != "" {
		query += ` AND request_id = ?`
		args = append(args, f.RequestID)
	}
	if f.VolunteerID != "" {
		query += ` AND volunteer_id = ?`
		args = append(args, f.VolunteerID)
	}
	if f.LiveOnly {
		query += ` AND status IN ('RESERVED', 'IN_TRANSIT')`
	}
	query += ` ORDER BY reserved_at`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing reservations: %w", err)
	}
	defer rows.Close()

	var reservations []model.ResourceReservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning reservation: %w", err)
		}
		reservations = append(reservations, *r)
	}
	return reservations, rows.Err()
}

// ListRequestLines returns every reservation line against a request, each
// carrying the status of its reservation.
func ListRequestLines(ctx context.Context, q Querier, requestID string) ([]model.ReservationLine, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT ri.reservation_id, ri.item_id, ri.hold_id, ri.quantity, rr.status
		 FROM reservation_items ri
		 JOIN resource_reservations rr ON rr.id = ri.reservation_id
		 WHERE rr.request_id = ?`, requestID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing request lines: %w", err)
	}
	defer rows.Close()

	var lines []model.ReservationLine
	for rows.Next() {
		var l model.ReservationLine
		if err := rows.Scan(&l.ReservationID, &l.ItemID, &l.HoldID, &l.Quantity, &l.Status); err != nil {
			return nil, fmt.Errorf("scanning request line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// TransitionReservation moves a reservation from → to, stamping the matching timestamp.
// It reports false if the reservation was no longer in from.
func TransitionReservation(ctx context.Context, q Querier, id string, from, to model.ReservationStatus, at time.Time, reason string) (bool, error) {
	var set string
	args := []any{to, at}
	switch to {
	case model.ReservationInTransit:
		set = `in_transit_at = ?`
	case model.ReservationDelivered:
		set = `delivered_at = ?, closed_at = ?`
		args = append(args, at)
	case model.ReservationCancelled, model.ReservationExpired:
		set = `closed_at = ?`
	default:
		return false, fmt.Errorf("unsupported reservation status %q", to)
	}
	args = append(args, nullString(reason), id, from)

	result, err := q.ExecContext(ctx,
		`UPDATE resource_reservations SET status = ?, `+set+`, cancel_reason = COALESCE(?, cancel_reason)
		 WHERE id = ? AND status = ?`,
		args...,
	)
	if err != nil {
		return false, fmt.Errorf("updating reservation status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("updating reservation status: %w", err)
	}
	return n == 1, nil
}

func scanReservation(row rowScanner) (*model.ResourceReservation, error) {
	r := &model.ResourceReservation{}
	var volunteerID, reason sql.NullString
	err := row.Scan(&r.ID, &r.RequestID, &volunteerID, &r.Status, &r.DeliveryCode, &r.ReservedAt,
		&r.InTransitAt, &r.DeliveredAt, &r.ClosedAt, &reason)
	if err != nil {
		return nil, err
	}
	r.VolunteerID = volunteerID.String
	r.CancelReason = reason.String
	return r, nil
}
