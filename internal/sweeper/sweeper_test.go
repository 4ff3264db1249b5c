package sweeper

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/razvoz/internal/db"
	"github.com/erazemk/razvoz/internal/dispatch"
	"github.com/erazemk/razvoz/internal/model"
)

type countingService struct {
	calls atomic.Int32
	err   error
	hold  chan struct{}
}

func (c *countingService) Sweep(ctx context.Context, now time.Time) (dispatch.Report, error) {
	c.calls.Add(1)
	if c.hold != nil {
		<-c.hold
	}
	return dispatch.Report{Deliveries: 1}, c.err
}

func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRunOnce(t *testing.T) {
	svc := &countingService{}
	s := New(svc, time.Minute)

	rep, ran, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 1, rep.Deliveries)
	assert.EqualValues(t, 1, svc.calls.Load())
}

func TestRunOncePropagatesSweepError(t *testing.T) {
	svc := &countingService{err: errors.New("disk full")}
	_, ran, err := New(svc, time.Minute).RunOnce(context.Background())
	assert.True(t, ran)
	assert.EqualError(t, err, "disk full")
}

func TestLocalLockerSkipsOverlappingSweeps(t *testing.T) {
	svc := &countingService{hold: make(chan struct{})}
	s := New(svc, time.Minute)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _, _ = s.RunOnce(context.Background())
	}()

	require.Eventually(t, func() bool { return svc.calls.Load() == 1 }, time.Second, time.Millisecond)

	_, ran, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)

	close(svc.hold)
	wg.Wait()
	assert.EqualValues(t, 1, svc.calls.Load())
}

func TestRedisLocker(t *testing.T) {
	client := newRedisClient(t)
	ctx := context.Background()

	a := NewRedisLocker(client, "", 10*time.Second)
	b := NewRedisLocker(client, "", 10*time.Second)

	unlock, ok, err := a.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second process must not get the lock")

	require.NoError(t, unlock(ctx))

	unlock, ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, unlock(ctx))
}

func TestRedisLockerAcrossSweepers(t *testing.T) {
	client := newRedisClient(t)
	ctx := context.Background()

	svc := &countingService{hold: make(chan struct{})}
	first := New(svc, time.Minute, WithLocker(NewRedisLocker(client, "", 10*time.Second)))
	second := New(svc, time.Minute, WithLocker(NewRedisLocker(client, "", 10*time.Second)))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, _ = first.RunOnce(ctx)
	}()
	require.Eventually(t, func() bool { return svc.calls.Load() == 1 }, time.Second, time.Millisecond)

	_, ran, err := second.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, ran)

	close(svc.hold)
	<-done
}

func TestRunStopsOnCancel(t *testing.T) {
	svc := &countingService{}
	s := New(svc, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(stopped)
	}()

	require.Eventually(t, func() bool { return svc.calls.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSweeperExpiresThroughService(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	svc := dispatch.New(db.NewTestDB(t), dispatch.DefaultConfig(), dispatch.WithClock(clock))
	ctx := context.Background()

	b, err := svc.CreateBatch(ctx, dispatch.NewBatch{ProviderID: "p", ProductKind: model.ProductDairy, Quantity: 6, Ready: true})
	require.NoError(t, err)
	d, err := svc.ReserveBatchQuantity(ctx, dispatch.BatchReservation{BatchID: b.ID, LocationID: "s", Quantity: 6})
	require.NoError(t, err)

	later := func() time.Time { return now.Add(5 * time.Hour) }
	rep, ran, err := New(svc, time.Minute, WithClock(later)).RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, ran)
	assert.Equal(t, dispatch.Report{Batches: 1, Deliveries: 1}, rep)

	got, err := svc.GetDelivery(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryExpired, got.Status)
}
