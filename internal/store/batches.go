package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/erazemk/razvoz/internal/model"
)

const batchColumns = `id, provider_id, product_kind, description, quantity_total, quantity_available,
	status, created_at, ready_at, expires_at, pickup_deadline, closed_at`

// InsertBatch stores a new batch with its full quantity available.
func InsertBatch(ctx context.Context, q Querier, b *model.Batch) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO batches (id, provider_id, product_kind, description, quantity_total, quantity_available,
		                      status, created_at, ready_at, expires_at, pickup_deadline)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.ProviderID, b.ProductKind, b.Description, b.QuantityTotal, b.QuantityTotal,
		b.Status, b.CreatedAt, b.ReadyAt, b.ExpiresAt, b.PickupDeadline,
	)
	if err != nil {
		return fmt.Errorf("inserting batch: %w", err)
	}
	return nil
}

// GetBatch returns a batch by ID.
func GetBatch(ctx context.Context, q Querier, id string) (*model.Batch, error) {
	row := q.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = ?`, id)
	b, err := scanBatch(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting batch: %w", err)
	}
	return b, nil
}

// ListActiveBatches returns batches that are not expired or cancelled,
// optionally filtered by provider, oldest first.
func ListActiveBatches(ctx context.Context, q Querier, providerID string) ([]model.Batch, error) {
	query := `SELECT ` + batchColumns + ` FROM batches
	          WHERE status NOT IN ('EXPIRED', 'CANCELLED')`
	var args []any
	if providerID != "" {
		query += ` AND provider_id = ?`
		args = append(args, providerID)
	}
	query += ` ORDER BY created_at`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing batches: %w", err)
	}
	defer rows.Close()

	var batches []model.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning batch: %w", err)
		}
		batches = append(batches, *b)
	}
	return batches, rows.Err()
}

// SetBatchStatus persists a derived status. closedAt is set for terminal statuses.
func SetBatchStatus(ctx context.Context, q Querier, id string, status model.BatchStatus, closedAt *time.Time) error {
	_, err := q.ExecContext(ctx,
		`UPDATE batches SET status = ?, closed_at = COALESCE(?, closed_at) WHERE id = ?`,
		status, closedAt, id,
	)
	if err != nil {
		return fmt.Errorf("setting batch status: %w", err)
	}
	return nil
}

// MarkBatchReady records when production finished.
func MarkBatchReady(ctx context.Context, q Querier, id string, readyAt time.Time) error {
	_, err := q.ExecContext(ctx,
		`UPDATE batches SET ready_at = ? WHERE id = ? AND ready_at IS NULL`,
		readyAt, id,
	)
	if err != nil {
		return fmt.Errorf("marking batch ready: %w", err)
	}
	return nil
}

// CountConfirmedDeliveries counts deliveries of a batch whose pickup was confirmed.
func CountConfirmedDeliveries(ctx context.Context, q Querier, batchID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM deliveries
		 WHERE batch_id = ? AND status IN ('PICKED_UP', 'IN_TRANSIT', 'DELIVERED')`, batchID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting confirmed deliveries: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (*model.Batch, error) {
	b := &model.Batch{}
	var description sql.NullString
	err := row.Scan(&b.ID, &b.ProviderID, &b.ProductKind, &description, &b.QuantityTotal, &b.QuantityAvailable,
		&b.Status, &b.CreatedAt, &b.ReadyAt, &b.ExpiresAt, &b.PickupDeadline, &b.ClosedAt)
	if err != nil {
		return nil, err
	}
	b.Description = description.String
	return b, nil
}
