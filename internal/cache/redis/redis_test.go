package redis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/betcoon/internal/domain"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return Wrap(rdb, "betcoon"), mr
}

func TestLockManagerExclusive(t *testing.T) {
	c, mr := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "bet:1", time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists("betcoon:lock:bet:1"))

	t.Run("second holder times out", func(t *testing.T) {
		wctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		_, err := lm.Acquire(wctx, "bet:1", time.Minute)
		assert.ErrorIs(t, err, domain.ErrLockHeld)
	})

	t.Run("other keys are independent", func(t *testing.T) {
		other, err := lm.Acquire(ctx, "bet:2", time.Minute)
		require.NoError(t, err)
		other()
	})

	unlock()
	unlock()
	assert.False(t, mr.Exists("betcoon:lock:bet:1"))

	again, err := lm.Acquire(ctx, "bet:1", time.Minute)
	require.NoError(t, err)
	again()
}

func TestLockManagerWaitsForRelease(t *testing.T) {
	c, _ := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := lm.Acquire(ctx, "bet:7", time.Minute)
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside.Load())
}

func TestLockManagerStaleTokenCannotUnlock(t *testing.T) {
	c, mr := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "bet:3", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	successor, err := lm.Acquire(ctx, "bet:3", time.Minute)
	require.NoError(t, err)

	unlock()
	assert.True(t, mr.Exists("betcoon:lock:bet:3"), "expired holder must not release the successor")
	successor()
}

func TestPriceHistory(t *testing.T) {
	c, _ := newTestClient(t)
	h := NewPriceHistory(c, time.Hour)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	for i, v := range []string{"100", "101.5", "99"} {
		require.NoError(t, h.Record(ctx, domain.Observation{
			Subject:    "BTC-USD",
			Value:      decimal.RequireFromString(v),
			ObservedAt: base.Add(time.Duration(i) * 10 * time.Second),
		}))
	}

	t.Run("first at or after", func(t *testing.T) {
		obs, err := h.FirstAtOrAfter(ctx, "BTC-USD", base.Add(5*time.Second))
		require.NoError(t, err)
		assert.True(t, obs.Value.Equal(decimal.RequireFromString("101.5")))
		assert.True(t, obs.ObservedAt.Equal(base.Add(10*time.Second)))
	})

	t.Run("exact instant", func(t *testing.T) {
		obs, err := h.FirstAtOrAfter(ctx, "BTC-USD", base)
		require.NoError(t, err)
		assert.True(t, obs.Value.Equal(decimal.NewFromInt(100)))
	})

	t.Run("sub millisecond rounds up", func(t *testing.T) {
		obs, err := h.FirstAtOrAfter(ctx, "BTC-USD", base.Add(time.Microsecond))
		require.NoError(t, err)
		assert.True(t, obs.ObservedAt.Equal(base.Add(10*time.Second)))
	})

	t.Run("none after", func(t *testing.T) {
		_, err := h.FirstAtOrAfter(ctx, "BTC-USD", base.Add(time.Minute))
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("same instant replaces", func(t *testing.T) {
		require.NoError(t, h.Record(ctx, domain.Observation{Subject: "BTC-USD", Value: decimal.NewFromInt(98), ObservedAt: base.Add(20 * time.Second)}))
		latest, err := h.Latest(ctx, "BTC-USD")
		require.NoError(t, err)
		assert.True(t, latest.Value.Equal(decimal.NewFromInt(98)))
	})

	t.Run("retention trims", func(t *testing.T) {
		require.NoError(t, h.Record(ctx, domain.Observation{Subject: "BTC-USD", Value: decimal.NewFromInt(1), ObservedAt: base.Add(2 * time.Hour)}))
		obs, err := h.FirstAtOrAfter(ctx, "BTC-USD", base)
		require.NoError(t, err)
		assert.True(t, obs.ObservedAt.Equal(base.Add(2*time.Hour)))
	})

	_, err := h.Latest(ctx, "ETH-USD")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSignalBus(t *testing.T) {
	c, _ := newTestClient(t)
	bus := NewSignalBus(c, 100)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx, "bets")
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, "bets", []byte(`{"type":"bet_created"}`)))

	select {
	case msg := <-ch:
		assert.JSONEq(t, `{"type":"bet_created"}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	require.NoError(t, bus.StreamAppend(ctx, "bets", []byte("one")))
	require.NoError(t, bus.StreamAppend(ctx, "bets", []byte("two")))
	msgs, err := bus.StreamRead(ctx, "bets", "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", string(msgs[0].Payload))

	rest, err := bus.StreamRead(ctx, "bets", msgs[1].ID, 10)
	require.NoError(t, err)
	assert.Empty(t, rest)
}

func TestRateLimiter(t *testing.T) {
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c)
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	for i := range 3 {
		ok, err := rl.Allow(ctx, "caller", 3, time.Second)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
		now = now.Add(time.Millisecond)
	}
	ok, err := rl.Allow(ctx, "caller", 3, time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	now = now.Add(2 * time.Second)
	ok, err = rl.Allow(ctx, "caller", 3, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}
