package ledger

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/razvoz/internal/db"
	"github.com/erazemk/razvoz/internal/model"
	"github.com/erazemk/razvoz/internal/store"
)

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func newBatch(t *testing.T, database *sql.DB, total int) *model.Batch {
	t.Helper()
	b := &model.Batch{
		ID:            uuid.NewString(),
		ProviderID:    "provider",
		ProductKind:   model.ProductBread,
		QuantityTotal: total,
		Status:        model.BatchReady,
		CreatedAt:     t0,
		ReadyAt:       &t0,
		ExpiresAt:     t0.Add(model.DefaultBatchTTL),
	}
	require.NoError(t, store.InsertBatch(context.Background(), database, b))
	return b
}

func newItem(t *testing.T, database *sql.DB, qty string) *model.RequestItem {
	t.Helper()
	r := &model.ResourceRequest{
		ID:          uuid.NewString(),
		RequesterID: "shelter",
		Kind:        model.RequestIngredient,
		Status:      model.RequestRequesting,
		CreatedAt:   t0,
		Items: []model.RequestItem{{
			ID:       uuid.NewString(),
			Name:     "rice",
			Unit:     "kg",
			Quantity: decimal.RequireFromString(qty),
		}},
	}
	require.NoError(t, store.InsertRequest(context.Background(), database, r))
	return &r.Items[0]
}

func available(t *testing.T, database *sql.DB, batchID string) int {
	t.Helper()
	b, err := store.GetBatch(context.Background(), database, batchID)
	require.NoError(t, err)
	return b.QuantityAvailable
}

func TestReserveBatchAllOrNothing(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	b := newBatch(t, database, 50)

	h, err := ReserveBatch(ctx, database, b.ID, 30, false, t0)
	require.NoError(t, err)
	assert.Equal(t, int64(30), h.Quantity.IntPart())
	assert.Equal(t, model.HoldHeld, h.State)
	assert.Equal(t, 20, available(t, database, b.ID))

	_, err = ReserveBatch(ctx, database, b.ID, 30, false, t0)
	var insufficient *model.InsufficientQuantityError
	require.ErrorAs(t, err, &insufficient)
	assert.True(t, errors.Is(err, model.ErrInsufficientQuantity))
	assert.Equal(t, "20", insufficient.Available.String())
	assert.Equal(t, 20, available(t, database, b.ID))
}

func TestReserveBatchPartialGrant(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	b := newBatch(t, database, 50)

	_, err := ReserveBatch(ctx, database, b.ID, 30, true, t0)
	require.NoError(t, err)

	h, err := ReserveBatch(ctx, database, b.ID, 30, true, t0)
	require.NoError(t, err)
	assert.Equal(t, int64(20), h.Quantity.IntPart())
	assert.Equal(t, 0, available(t, database, b.ID))

	_, err = ReserveBatch(ctx, database, b.ID, 1, true, t0)
	assert.ErrorIs(t, err, model.ErrInsufficientQuantity)
}

func TestReserveBatchRejectsBadInput(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	b := newBatch(t, database, 5)

	_, err := ReserveBatch(ctx, database, b.ID, 0, false, t0)
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = ReserveBatch(ctx, database, "missing", 1, false, t0)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestConcurrentReservesNeverOverbook(t *testing.T) {
	database := db.NewTestFileDB(t)
	ctx := context.Background()
	b := newBatch(t, database, 50)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.WithTx(ctx, database, func(tx *sql.Tx) error {
				h, err := ReserveBatch(ctx, tx, b.ID, 7, false, t0)
				if err != nil {
					return err
				}
				mu.Lock()
				granted += int(h.Quantity.IntPart())
				mu.Unlock()
				return nil
			})
			if err != nil && !errors.Is(err, model.ErrInsufficientQuantity) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 49, granted)
	assert.Equal(t, 1, available(t, database, b.ID))
}

func TestTwoConcurrentThirtiesOnFifty(t *testing.T) {
	for _, partial := range []bool{false, true} {
		database := db.NewTestDB(t)
		ctx := context.Background()
		b := newBatch(t, database, 50)

		var wg sync.WaitGroup
		grants := make([]int, 2)
		for i := range grants {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_ = store.WithTx(ctx, database, func(tx *sql.Tx) error {
					h, err := ReserveBatch(ctx, tx, b.ID, 30, partial, t0)
					if err != nil {
						return err
					}
					grants[i] = int(h.Quantity.IntPart())
					return nil
				})
			}(i)
		}
		wg.Wait()

		total := grants[0] + grants[1]
		left := available(t, database, b.ID)
		if partial {
			assert.Equal(t, 50, total)
			assert.Equal(t, 0, left)
		} else {
			assert.Equal(t, 30, total)
			assert.Equal(t, 20, left)
		}
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	b := newBatch(t, database, 10)

	h, err := ReserveBatch(ctx, database, b.ID, 4, false, t0)
	require.NoError(t, err)

	released, err := Release(ctx, database, h.ID, t0)
	require.NoError(t, err)
	assert.True(t, released)
	assert.Equal(t, 10, available(t, database, b.ID))

	released, err = Release(ctx, database, h.ID, t0)
	require.NoError(t, err)
	assert.False(t, released)
	assert.Equal(t, 10, available(t, database, b.ID))

	got, err := GetHold(ctx, database, h.ID)
	require.NoError(t, err)
	assert.Equal(t, model.HoldReleased, got.State)
}

func TestDepletedHoldCannotBeReleased(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	b := newBatch(t, database, 10)

	h, err := ReserveBatch(ctx, database, b.ID, 4, false, t0)
	require.NoError(t, err)

	depleted, err := Deplete(ctx, database, h.ID, t0)
	require.NoError(t, err)
	assert.True(t, depleted)
	assert.Equal(t, 6, available(t, database, b.ID))

	released, err := Release(ctx, database, h.ID, t0)
	require.NoError(t, err)
	assert.False(t, released)
	assert.Equal(t, 6, available(t, database, b.ID))
}

func TestReleaseUnknownHold(t *testing.T) {
	database := db.NewTestDB(t)

	_, err := Release(context.Background(), database, "missing", t0)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestReserveAndReleaseItem(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	it := newItem(t, database, "10")

	h1, err := ReserveItem(ctx, database, it.ID, decimal.RequireFromString("2.5"), false, t0)
	require.NoError(t, err)
	_, err = ReserveItem(ctx, database, it.ID, decimal.RequireFromString("5"), false, t0)
	require.NoError(t, err)

	_, err = ReserveItem(ctx, database, it.ID, decimal.RequireFromString("3"), false, t0)
	assert.ErrorIs(t, err, model.ErrInsufficientQuantity)

	partial, err := ReserveItem(ctx, database, it.ID, decimal.RequireFromString("3"), true, t0)
	require.NoError(t, err)
	assert.Equal(t, "2.5", partial.Quantity.String())

	got, err := store.GetRequestItem(ctx, database, it.ID)
	require.NoError(t, err)
	assert.True(t, got.QuantityReserved.Equal(decimal.NewFromInt(10)))

	released, err := Release(ctx, database, h1.ID, t0)
	require.NoError(t, err)
	assert.True(t, released)

	got, err = store.GetRequestItem(ctx, database, it.ID)
	require.NoError(t, err)
	assert.Equal(t, "7.5", got.QuantityReserved.String())
	assert.Equal(t, "2.5", got.Available().String())
}
