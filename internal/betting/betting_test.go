package betting

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/betcoon/internal/clock"
	"github.com/alanyoungcy/betcoon/internal/domain"
	"github.com/alanyoungcy/betcoon/internal/lock"
	"github.com/alanyoungcy/betcoon/internal/store/memory"
)

var start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

// stubOracle answers from a fixed value or fails.
type stubOracle struct {
	mu    sync.Mutex
	value *decimal.Decimal
	delay time.Duration
	err   error
	calls int
}

func (o *stubOracle) set(v int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	d := dec(v)
	o.value, o.err = &d, nil
}

func (o *stubOracle) fail(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.value, o.err = nil, err
}

func (o *stubOracle) Value(ctx context.Context, subject string, at time.Time) (domain.Observation, error) {
	o.mu.Lock()
	o.calls++
	value, delay, err := o.value, o.delay, o.err
	o.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return domain.Observation{}, ctx.Err()
		}
	}
	if err != nil {
		return domain.Observation{}, err
	}
	if value == nil {
		return domain.Observation{}, domain.ErrOracleUnavailable
	}
	return domain.Observation{Subject: subject, Value: *value, ObservedAt: at}, nil
}

// stubTransfer records transfers by idempotency key and can fail or call
// back into the processor.
type stubTransfer struct {
	mu      sync.Mutex
	paid    map[string]domain.TransferRequest
	err     error
	onCall  func(req domain.TransferRequest)
	attempt int
}

func (s *stubTransfer) Transfer(_ context.Context, req domain.TransferRequest) error {
	s.mu.Lock()
	s.attempt++
	err, hook := s.err, s.onCall
	s.mu.Unlock()

	if hook != nil {
		hook(req)
	}
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paid == nil {
		s.paid = make(map[string]domain.TransferRequest)
	}
	s.paid[req.ID] = req
	return nil
}

func (s *stubTransfer) total(to string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := decimal.Zero
	for _, req := range s.paid {
		if req.To == to {
			sum = sum.Add(req.Amount)
		}
	}
	return sum
}

type env struct {
	clock    *clock.Manual
	store    *memory.Store
	audit    *memory.AuditStore
	oracle   *stubOracle
	transfer *stubTransfer
	svc      *Service
}

func newEnv(t *testing.T, opts ...func(*Config)) *env {
	t.Helper()
	cfg := DefaultConfig()
	cfg.LockTimeout = time.Second
	for _, opt := range opts {
		opt(&cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := &env{
		clock:    clock.NewManual(start),
		store:    memory.NewStore(),
		audit:    memory.NewAuditStore(),
		oracle:   &stubOracle{},
		transfer: &stubTransfer{},
	}
	e.svc = New(Deps{
		Bets:     e.store,
		Ledger:   e.store,
		Locks:    lock.NewKeyedMutex(),
		Oracle:   e.oracle,
		Transfer: e.transfer,
		Clock:    e.clock,
		Events:   NewEvents(nil, e.audit, nil, logger),
	}, cfg, logger)
	return e
}

func (e *env) createBet(t *testing.T, target int64, d time.Duration) domain.Bet {
	t.Helper()
	bet, err := e.svc.Registry.CreateBet(context.Background(), CreateBetInput{
		Subject:     "BTC-USD",
		TargetValue: dec(target),
		Duration:    d,
	})
	require.NoError(t, err)
	return bet
}

func (e *env) join(t *testing.T, betID uint64, who string, side domain.Side, amount int64) {
	t.Helper()
	_, err := e.svc.Registry.JoinBet(context.Background(), betID, who, side, dec(amount))
	require.NoError(t, err)
}

func (e *env) auditEvents(t *testing.T) []string {
	t.Helper()
	entries, err := e.audit.List(context.Background(), domain.ListOpts{})
	require.NoError(t, err)
	out := make([]string, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		out = append(out, entries[i].Event)
	}
	return out
}

var errBoom = errors.New("boom")
