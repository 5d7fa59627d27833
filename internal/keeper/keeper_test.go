package keeper

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/betcoon/internal/clock"
	"github.com/alanyoungcy/betcoon/internal/domain"
)

var start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeBook serves as both lister and resolver over an in-memory set.
type fakeBook struct {
	mu      sync.Mutex
	bets    map[uint64]domain.Bet
	fail    map[uint64]error
	cancel  map[uint64]bool
	calls   map[uint64]int
	retried []time.Duration
	lists   int
	// onList runs before each listing with the lock held.
	onList func(n int)
}

func newFakeBook() *fakeBook {
	return &fakeBook{
		bets:   make(map[uint64]domain.Bet),
		fail:   make(map[uint64]error),
		cancel: make(map[uint64]bool),
		calls:  make(map[uint64]int),
	}
}

func (f *fakeBook) add(id uint64, cutoff time.Time) {
	f.bets[id] = domain.Bet{ID: id, CutoffAt: cutoff, State: domain.BetOpen}
}

func (f *fakeBook) ListBets(_ context.Context, filter domain.BetFilter) ([]domain.Bet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.lists++
	if f.onList != nil {
		f.onList(f.lists)
	}
	var out []domain.Bet
	for _, b := range f.bets {
		if filter.State != nil && b.State != *filter.State {
			continue
		}
		if filter.CutoffBefore != nil && !b.CutoffAt.Before(*filter.CutoffBefore) {
			continue
		}
		if filter.AfterID != nil && b.ID <= *filter.AfterID {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Offset >= len(out) {
		return nil, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (f *fakeBook) Resolve(_ context.Context, id uint64) (domain.Bet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[id]++
	if err := f.fail[id]; err != nil {
		return domain.Bet{}, err
	}
	b := f.bets[id]
	b.State = domain.BetResolved
	if f.cancel[id] {
		b.State = domain.BetCancelled
	}
	f.bets[id] = b
	return b, nil
}

func (f *fakeBook) RetryPending(_ context.Context, olderThan time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retried = append(f.retried, olderThan)
	return 2, nil
}

func newKeeper(book *fakeBook, cfg Config) *Keeper {
	return New(book, book, book, clock.NewManual(start), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestTickResolvesDueBets(t *testing.T) {
	book := newFakeBook()
	for id := uint64(0); id < 5; id++ {
		book.add(id, start.Add(-time.Minute))
	}
	book.add(5, start.Add(time.Hour))
	book.fail[1] = domain.ErrOracleUnavailable
	book.cancel[3] = true

	k := newKeeper(book, Config{BatchSize: 2, PendingAfter: time.Minute})
	res, err := k.Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Result{Resolved: 3, Cancelled: 1, Deferred: 1, Retried: 2}, res)
	for id := uint64(0); id < 5; id++ {
		assert.Equal(t, 1, book.calls[id], "bet %d", id)
	}
	assert.Zero(t, book.calls[5], "bet before cutoff must not be resolved")
	assert.Equal(t, []time.Duration{time.Minute}, book.retried)
}

func TestTickSurvivesOutsideSettlement(t *testing.T) {
	book := newFakeBook()
	for id := uint64(0); id < 6; id++ {
		book.add(id, start.Add(-time.Minute))
	}
	book.fail[0] = domain.ErrOracleUnavailable
	// Another caller settles the deferred bet 0 between the first and
	// second page, shrinking the open listing ahead of the cursor.
	book.onList = func(n int) {
		if n == 2 {
			b := book.bets[0]
			b.State = domain.BetResolved
			book.bets[0] = b
		}
	}

	k := newKeeper(book, Config{BatchSize: 2, PendingAfter: time.Minute})
	res, err := k.Tick(context.Background())
	require.NoError(t, err)

	for id := uint64(1); id < 6; id++ {
		assert.Equal(t, 1, book.calls[id], "bet %d", id)
	}
	assert.Equal(t, 5, res.Resolved)
	assert.Equal(t, 1, res.Deferred)
}

func TestTickWithoutClaims(t *testing.T) {
	book := newFakeBook()
	book.add(0, start)
	book.fail[0] = domain.ErrTooEarly

	k := New(book, book, nil, clock.NewManual(start.Add(time.Second)), Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	res, err := k.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Deferred: 1}, res)
	assert.Empty(t, book.retried)
}

func TestRunStopsOnCancel(t *testing.T) {
	book := newFakeBook()
	book.add(0, start.Add(-time.Minute))
	k := newKeeper(book, Config{Interval: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- k.Run(ctx) }()

	require.Eventually(t, func() bool {
		book.mu.Lock()
		defer book.mu.Unlock()
		return len(book.retried) >= 2
	}, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("keeper did not stop")
	}
	assert.Equal(t, 1, book.calls[0])
}
