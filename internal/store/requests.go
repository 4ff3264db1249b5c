package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/erazemk/razvoz/internal/model"
)

const requestColumns = `id, requester_id, kind, notes, status, created_at, window_start, window_end, closed_at`

// InsertRequest stores a request and its line items.
func InsertRequest(ctx context.Context, q Querier, r *model.ResourceRequest) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO resource_requests (id, requester_id, kind, notes, status, created_at, window_start, window_end)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.RequesterID, r.Kind, r.Notes, r.Status, r.CreatedAt, r.WindowStart, r.WindowEnd,
	)
	if err != nil {
		return fmt.Errorf("inserting request: %w", err)
	}

	for i, it := range r.Items {
		_, err := q.ExecContext(ctx,
			`INSERT INTO request_items (id, request_id, position, name, unit, quantity, quantity_reserved)
			 VALUES (?, ?, ?, ?, ?, ?, '0')`,
			it.ID, r.ID, i, it.Name, it.Unit, it.Quantity.String(),
		)
		if err != nil {
			return fmt.Errorf("inserting request item %q: %w", it.Name, err)
		}
	}
	return nil
}

// GetRequest returns a request with its items.
func GetRequest(ctx context.Context, q Querier, id string) (*model.ResourceRequest, error) {
	row := q.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM resource_requests WHERE id = ?`, id)
	r, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting request: %w", err)
	}

	r.Items, err = ListRequestItems(ctx, q, id)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ListOpenRequests returns requests that are not yet closed, oldest first.
// Items are not loaded.
func ListOpenRequests(ctx context.Context, q Querier, requesterID string) ([]model.ResourceRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM resource_requests
	          WHERE status IN ('REQUESTING', 'PARTIALLY_FULFILLED')`
	var args []any
	if requesterID != "" {
		query += ` AND requester_id = ?`
		args = append(args, requesterID)
	}
	query += ` ORDER BY created_at`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing requests: %w", err)
	}
	defer rows.Close()

	var requests []model.ResourceRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning request: %w", err)
		}
		requests = append(requests, *r)
	}
	return requests, rows.Err()
}

// ListRequestItems returns a request's items in their original order.
func ListRequestItems(ctx context.Context, q Querier, requestID string) ([]model.RequestItem, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, request_id, name, unit, quantity, quantity_reserved, version
		 FROM request_items WHERE request_id = ? ORDER BY position`, requestID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing request items: %w", err)
	}
	defer rows.Close()

	var items []model.RequestItem
	for rows.Next() {
		var it model.RequestItem
		if err := rows.Scan(&it.ID, &it.RequestID, &it.Name, &it.Unit, &it.Quantity, &it.QuantityReserved, &it.Version); err != nil {
			return nil, fmt.Errorf("scanning request item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// GetRequestItem returns a single item.
func GetRequestItem(ctx context.Context, q Querier, id string) (*model.RequestItem, error) {
	it := &model.RequestItem{}
	err := q.QueryRowContext(ctx,
		`SELECT id, request_id, name, unit, quantity, quantity_reserved, version
		 FROM request_items WHERE id = ?`, id,
	).Scan(&it.ID, &it.RequestID, &it.Name, &it.Unit, &it.Quantity, &it.QuantityReserved, &it.Version)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting request item: %w", err)
	}
	return it, nil
}

// SetRequestStatus persists a derived status. closedAt is set for terminal statuses.
func SetRequestStatus(ctx context.Context, q Querier, id string, status model.RequestStatus, closedAt *time.Time) error {
	_, err := q.ExecContext(ctx,
		`UPDATE resource_requests SET status = ?, closed_at = COALESCE(?, closed_at) WHERE id = ?`,
		status, closedAt, id,
	)
	if err != nil {
		return fmt.Errorf("setting request status: %w", err)
	}
	return nil
}

func scanRequest(row rowScanner) (*model.ResourceRequest, error) {
	r := &model.ResourceRequest{}
	var notes sql.NullString
	err := row.Scan(&r.ID, &r.RequesterID, &r.Kind, &notes, &r.Status, &r.CreatedAt,
		&r.WindowStart, &r.WindowEnd, &r.ClosedAt)
	if err != nil {
		return nil, err
	}
	r.Notes = notes.String
	return r, nil
}
