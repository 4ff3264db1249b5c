package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/razvoz/internal/db"
	"github.com/erazemk/razvoz/internal/events"
	"github.com/erazemk/razvoz/internal/ledger"
	"github.com/erazemk/razvoz/internal/model"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	svc    *Service
	clock  *fakeClock
	events *events.Recorder
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		clock:  &fakeClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)},
		events: &events.Recorder{},
	}
	h.svc = New(db.NewTestDB(t), cfg, WithClock(h.clock.Now), WithPublisher(h.events))
	return h
}

func (h *harness) batch(t *testing.T, qty int) *model.Batch {
	t.Helper()
	b, err := h.svc.CreateBatch(context.Background(), NewBatch{
		ProviderID:  "provider-1",
		ProductKind: model.ProductBread,
		Quantity:    qty,
		Ready:       true,
	})
	require.NoError(t, err)
	return b
}

func (h *harness) reserve(t *testing.T, batchID string, qty int) *model.Delivery {
	t.Helper()
	d, err := h.svc.ReserveBatchQuantity(context.Background(), BatchReservation{
		BatchID:     batchID,
		LocationID:  "shelter-1",
		VolunteerID: "volunteer-1",
		Quantity:    qty,
	})
	require.NoError(t, err)
	return d
}

func (h *harness) batchState(t *testing.T, id string) *model.Batch {
	t.Helper()
	b, err := h.svc.GetBatch(context.Background(), id)
	require.NoError(t, err)
	return b
}

func wrongCode(right string) string {
	if right == "000000" {
		return "999999"
	}
	return "000000"
}

func TestReserveBatchQuantity(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()
	b := h.batch(t, 50)

	d := h.reserve(t, b.ID, 30)
	assert.Equal(t, model.DeliveryReserved, d.Status)
	assert.Equal(t, 30, d.Quantity)
	assert.Len(t, d.PickupCode, 6)
	assert.Len(t, d.DeliveryCode, 6)
	assert.NotEqual(t, d.PickupCode, d.DeliveryCode)

	got := h.batchState(t, b.ID)
	assert.Equal(t, 20, got.QuantityAvailable)
	assert.Equal(t, model.BatchPartiallyReserved, got.Status)

	_, err := h.svc.ReserveBatchQuantity(ctx, BatchReservation{BatchID: b.ID, LocationID: "shelter-1", Quantity: 30})
	assert.ErrorIs(t, err, model.ErrInsufficientQuantity)

	h.reserve(t, b.ID, 20)
	got = h.batchState(t, b.ID)
	assert.Equal(t, 0, got.QuantityAvailable)
	assert.Equal(t, model.BatchFullyReserved, got.Status)

	_, err = h.svc.ReserveBatchQuantity(ctx, BatchReservation{BatchID: "missing", LocationID: "shelter-1", Quantity: 1})
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = h.svc.ReserveBatchQuantity(ctx, BatchReservation{BatchID: b.ID, Quantity: 1})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestTwoConcurrentReservesOnFifty(t *testing.T) {
	for _, partial := range []bool{false, true} {
		cfg := DefaultConfig()
		cfg.PartialGrants = partial
		h := newHarness(t, cfg)
		b := h.batch(t, 50)

		var wg sync.WaitGroup
		granted := make([]int, 2)
		for i := range granted {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				d, err := h.svc.ReserveBatchQuantity(context.Background(), BatchReservation{
					BatchID: b.ID, LocationID: "shelter-1", Quantity: 30,
				})
				if err == nil {
					granted[i] = d.Quantity
				} else {
					assert.ErrorIs(t, err, model.ErrInsufficientQuantity)
				}
			}(i)
		}
		wg.Wait()

		left := h.batchState(t, b.ID).QuantityAvailable
		assert.Equal(t, 50, granted[0]+granted[1]+left)
		if partial {
			assert.ElementsMatch(t, []int{30, 20}, granted)
			assert.Equal(t, 0, left)
		} else {
			assert.ElementsMatch(t, []int{30, 0}, granted)
			assert.Equal(t, 20, left)
		}
	}
}

func TestConfirmPickupWithWrongCode(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()
	d := h.reserve(t, h.batch(t, 10).ID, 5)

	_, err := h.svc.ConfirmPickup(ctx, d.ID, wrongCode(d.PickupCode))
	assert.ErrorIs(t, err, model.ErrInvalidCode)

	got, err := h.svc.GetDelivery(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryReserved, got.Status)
	assert.Equal(t, d.PickupCode, got.PickupCode, "a failed attempt must not rotate the code")

	_, err = h.svc.ConfirmPickup(ctx, d.ID, d.DeliveryCode)
	assert.ErrorIs(t, err, model.ErrInvalidCode, "delivery code must not unlock pickup")

	got, err = h.svc.ConfirmPickup(ctx, d.ID, d.PickupCode[:3]+"-"+d.PickupCode[3:])
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryPickedUp, got.Status)
	assert.NotNil(t, got.PickupConfirmedAt)
}

func TestDeliveryLifecycle(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()
	b := h.batch(t, 10)
	d := h.reserve(t, b.ID, 4)

	_, err := h.svc.ConfirmDelivery(ctx, d.ID, d.DeliveryCode)
	assert.ErrorIs(t, err, model.ErrInvalidTransition, "delivery before pickup")

	_, err = h.svc.ConfirmPickup(ctx, d.ID, d.PickupCode)
	require.NoError(t, err)

	got, err := h.svc.StartTransit(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryInTransit, got.Status)

	_, err = h.svc.ConfirmDelivery(ctx, d.ID, wrongCode(d.DeliveryCode))
	assert.ErrorIs(t, err, model.ErrInvalidCode)

	got, err = h.svc.ConfirmDelivery(ctx, d.ID, d.DeliveryCode)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryDelivered, got.Status)
	assert.NotNil(t, got.DeliveredAt)
	assert.NotNil(t, got.ClosedAt)

	hold, err := ledger.GetHold(ctx, h.svc.db, d.HoldID)
	require.NoError(t, err)
	assert.Equal(t, model.HoldDepleted, hold.State)
	assert.Equal(t, 6, h.batchState(t, b.ID).QuantityAvailable)

	for _, op := range []func() error{
		func() error { _, err := h.svc.CancelDelivery(ctx, d.ID, ""); return err },
		func() error { _, err := h.svc.ConfirmPickup(ctx, d.ID, d.PickupCode); return err },
		func() error { _, err := h.svc.ConfirmDelivery(ctx, d.ID, d.DeliveryCode); return err },
		func() error { _, err := h.svc.StartTransit(ctx, d.ID); return err },
	} {
		assert.ErrorIs(t, op(), model.ErrInvalidTransition)
	}

	assert.Equal(t, []string{
		events.DeliveryReserved,
		events.DeliveryPickedUp,
		events.DeliveryInTransit,
		events.DeliveryDelivered,
	}, h.events.Types())
}

func TestCancelAfterPickupReleases(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()
	b := h.batch(t, 10)
	d := h.reserve(t, b.ID, 10)
	assert.Equal(t, model.BatchFullyReserved, h.batchState(t, b.ID).Status)

	_, err := h.svc.ConfirmPickup(ctx, d.ID, d.PickupCode)
	require.NoError(t, err)

	got, err := h.svc.CancelDelivery(ctx, d.ID, "van broke down")
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryCancelled, got.Status)
	assert.Equal(t, "van broke down", got.CancelReason)

	state := h.batchState(t, b.ID)
	assert.Equal(t, 10, state.QuantityAvailable)
	assert.Equal(t, model.BatchReady, state.Status)

	_, err = h.svc.CancelDelivery(ctx, d.ID, "")
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
	assert.Equal(t, 10, h.batchState(t, b.ID).QuantityAvailable)
}

func TestPickupRacingCancel(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()
	b := h.batch(t, 10)
	d := h.reserve(t, b.ID, 3)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = h.svc.ConfirmPickup(ctx, d.ID, d.PickupCode)
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = h.svc.CancelDelivery(ctx, d.ID, "")
	}()
	wg.Wait()

	// Cancel is allowed from PICKED_UP, so whichever runs first the
	// delivery ends cancelled with its quantity back on the batch.
	require.NoError(t, errs[1])
	if errs[0] != nil {
		assert.ErrorIs(t, errs[0], model.ErrInvalidTransition)
	}

	got, err := h.svc.GetDelivery(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryCancelled, got.Status)
	assert.Equal(t, 10, h.batchState(t, b.ID).QuantityAvailable)
}

func TestSweepExpiresOverdueDelivery(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BatchTTL = 72 * time.Hour
	h := newHarness(t, cfg)
	ctx := context.Background()
	b := h.batch(t, 50)
	d := h.reserve(t, b.ID, 12)

	h.clock.Advance(23 * time.Hour)
	rep, err := h.svc.Sweep(ctx, h.clock.Now())
	require.NoError(t, err)
	assert.Zero(t, rep.Total())

	h.clock.Advance(2 * time.Hour)
	rep, err = h.svc.Sweep(ctx, h.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, Report{Deliveries: 1}, rep)

	got, err := h.svc.GetDelivery(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryExpired, got.Status)
	assert.Equal(t, 50, h.batchState(t, b.ID).QuantityAvailable)

	rep, err = h.svc.Sweep(ctx, h.clock.Now())
	require.NoError(t, err)
	assert.Zero(t, rep.Total())
	assert.Equal(t, 50, h.batchState(t, b.ID).QuantityAvailable)
}

func TestSweepNeverOverwritesDelivered(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BatchTTL = 72 * time.Hour
	h := newHarness(t, cfg)
	ctx := context.Background()
	d := h.reserve(t, h.batch(t, 5).ID, 5)

	_, err := h.svc.ConfirmPickup(ctx, d.ID, d.PickupCode)
	require.NoError(t, err)
	_, err = h.svc.ConfirmDelivery(ctx, d.ID, d.DeliveryCode)
	require.NoError(t, err)

	h.clock.Advance(30 * time.Hour)
	rep, err := h.svc.Sweep(ctx, h.clock.Now())
	require.NoError(t, err)
	assert.Zero(t, rep.Deliveries)

	got, err := h.svc.GetDelivery(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryDelivered, got.Status)
}

func TestSweepExpiresBatchWithoutConfirmedPickups(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()

	idle := h.batch(t, 10)
	idleDelivery := h.reserve(t, idle.ID, 4)

	busy := h.batch(t, 10)
	busyDelivery := h.reserve(t, busy.ID, 4)
	_, err := h.svc.ConfirmPickup(ctx, busyDelivery.ID, busyDelivery.PickupCode)
	require.NoError(t, err)

	h.clock.Advance(model.DefaultBatchTTL + time.Minute)

	_, err = h.svc.ReserveBatchQuantity(ctx, BatchReservation{BatchID: busy.ID, LocationID: "shelter-1", Quantity: 1})
	assert.ErrorIs(t, err, model.ErrInvalidTransition, "offer window closed")

	rep, err := h.svc.Sweep(ctx, h.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, Report{Batches: 1, Deliveries: 1}, rep)

	assert.Equal(t, model.BatchExpired, h.batchState(t, idle.ID).Status)
	got, err := h.svc.GetDelivery(ctx, idleDelivery.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryExpired, got.Status)

	assert.NotEqual(t, model.BatchExpired, h.batchState(t, busy.ID).Status)
	got, err = h.svc.GetDelivery(ctx, busyDelivery.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryPickedUp, got.Status)
}

func TestGetBatchStatusExpiresLazily(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()
	b := h.batch(t, 8)
	h.reserve(t, b.ID, 3)

	v, err := h.svc.GetBatchStatus(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchPartiallyReserved, v.Batch.Status)
	assert.Equal(t, 3, v.Reserved)
	assert.Len(t, v.Deliveries, 1)

	h.clock.Advance(5 * time.Hour)
	v, err = h.svc.GetBatchStatus(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchExpired, v.Batch.Status)
	assert.Zero(t, v.Reserved)
	assert.Equal(t, model.DeliveryExpired, v.Deliveries[0].Status)
}

func TestCancelBatchCascades(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()
	b := h.batch(t, 10)
	d1 := h.reserve(t, b.ID, 3)
	d2 := h.reserve(t, b.ID, 3)
	_, err := h.svc.CancelDelivery(ctx, d2.ID, "")
	require.NoError(t, err)

	got, err := h.svc.CancelBatch(ctx, b.ID, "oven failed")
	require.NoError(t, err)
	assert.Equal(t, model.BatchCancelled, got.Status)
	assert.Equal(t, 10, got.QuantityAvailable)
	assert.NotNil(t, got.ClosedAt)

	d, err := h.svc.GetDelivery(ctx, d1.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryCancelled, d.Status)
	assert.Equal(t, "oven failed", d.CancelReason)

	_, err = h.svc.CancelBatch(ctx, b.ID, "")
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
	_, err = h.svc.ReserveBatchQuantity(ctx, BatchReservation{BatchID: b.ID, LocationID: "shelter-1", Quantity: 1})
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
}

func TestMarkBatchReady(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()

	b, err := h.svc.CreateBatch(ctx, NewBatch{ProviderID: "p", ProductKind: model.ProductMeal, Quantity: 20})
	require.NoError(t, err)
	assert.Equal(t, model.BatchProducing, b.Status)

	b, err = h.svc.MarkBatchReady(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchReady, b.Status)
	assert.NotNil(t, b.ReadyAt)

	_, err = h.svc.MarkBatchReady(ctx, b.ID)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
}

func TestCreateBatchValidation(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()
	past := h.clock.Now().Add(-time.Hour)

	for _, in := range []NewBatch{
		{ProductKind: model.ProductBread, Quantity: 1},
		{ProviderID: "p", ProductKind: "caviar", Quantity: 1},
		{ProviderID: "p", ProductKind: model.ProductBread, Quantity: 0},
		{ProviderID: "p", ProductKind: model.ProductBread, Quantity: 1, PickupDeadline: &past},
	} {
		_, err := h.svc.CreateBatch(ctx, in)
		assert.ErrorIs(t, err, model.ErrValidation)
	}
}

func kg(s string) decimal.Decimal { return decimal.RequireFromString(s) }
