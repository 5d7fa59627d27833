package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/betcoon/internal/betting"
	"github.com/alanyoungcy/betcoon/internal/clock"
	"github.com/alanyoungcy/betcoon/internal/crypto"
	"github.com/alanyoungcy/betcoon/internal/domain"
	"github.com/alanyoungcy/betcoon/internal/lock"
	"github.com/alanyoungcy/betcoon/internal/server/handler"
	"github.com/alanyoungcy/betcoon/internal/server/middleware"
	"github.com/alanyoungcy/betcoon/internal/store/memory"
	"github.com/alanyoungcy/betcoon/internal/transfer"
)

var start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixedOracle struct {
	mu    sync.Mutex
	value decimal.Decimal
}

func (o *fixedOracle) Value(_ context.Context, subject string, at time.Time) (domain.Observation, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return domain.Observation{Subject: subject, Value: o.value, ObservedAt: at}, nil
}

type env struct {
	clock    *clock.Manual
	oracle   *fixedOracle
	balances *memory.BalanceStore
	handler  http.Handler
}

func newEnv(t *testing.T, cfg Config, limiter domain.RateLimiter, checks map[string]handler.Check) *env {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewStore()
	bus := memory.NewSignalBus(100)
	audit := memory.NewAuditStore()
	balances := memory.NewBalanceStore()
	clk := clock.NewManual(start)
	orc := &fixedOracle{value: decimal.NewFromInt(50001)}

	svc := betting.New(betting.Deps{
		Bets:     store,
		Ledger:   store,
		Locks:    lock.NewKeyedMutex(),
		Oracle:   orc,
		Transfer: transfer.NewBook(balances),
		Clock:    clk,
		Events:   betting.NewEvents(bus, audit, nil, logger),
	}, betting.DefaultConfig(), logger)

	h := Handlers{
		Health:   handler.NewHealthHandler(checks, logger),
		Bets:     handler.NewBetHandler(svc.Registry, svc.Engine, logger),
		Claims:   handler.NewClaimHandler(svc.Claims, svc.Ledger, logger),
		Accounts: handler.NewAccountHandler(balances, logger),
		Events:   handler.NewEventHandler(bus, betting.EventsStream, audit, logger),
	}
	return &env{clock: clk, oracle: orc, balances: balances, handler: Routes(cfg, h, nil, limiter, logger)}
}

func (e *env) do(t *testing.T, method, path, caller string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if caller != "" {
		req.Header.Set(middleware.HeaderCaller, caller)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestBetLifecycle(t *testing.T) {
	e := newEnv(t, Config{}, nil, nil)

	rec := e.do(t, http.MethodPost, "/api/bets", "", map[string]any{"target_value": "50000", "duration_seconds": 3600})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/bets", "alice", map[string]any{"target_value": "50000", "duration_seconds": 3600})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	bet := decode[domain.Bet](t, rec)
	assert.Equal(t, uint64(0), bet.ID)
	assert.Equal(t, "alice", bet.Creator)
	assert.Equal(t, "BTC-USD", bet.Subject)
	assert.Equal(t, start.Add(time.Hour), bet.CutoffAt)

	rec = e.do(t, http.MethodPost, "/api/bets", "alice", map[string]any{"target_value": "50000", "duration_seconds": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/bets/0/join", "bob", map[string]any{"side": "above", "amount": "100"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = e.do(t, http.MethodPost, "/api/bets/0/join", "carol", map[string]any{"side": "false", "amount": 50})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.do(t, http.MethodPost, "/api/bets/0/join", "dave", map[string]any{"side": "above", "amount": "-1"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	rec = e.do(t, http.MethodPost, "/api/bets/0/join", "dave", map[string]any{"side": "sideways", "amount": "1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/bets/0/resolve", "", nil)
	assert.Equal(t, http.StatusTooEarly, rec.Code)

	e.clock.Advance(time.Hour)
	rec = e.do(t, http.MethodPost, "/api/bets/0/join", "dave", map[string]any{"side": "above", "amount": "1"})
	assert.Equal(t, http.StatusConflict, rec.Code, "join at cutoff")

	rec = e.do(t, http.MethodPost, "/api/bets/0/resolve", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resolved := decode[domain.Bet](t, rec)
	assert.Equal(t, domain.BetResolved, resolved.State)
	require.NotNil(t, resolved.Outcome)
	assert.Equal(t, domain.SideAbove, *resolved.Outcome)

	rec = e.do(t, http.MethodGet, "/api/bets/0/payouts/bob", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"bet_id":0,"participant":"bob","payout":"150"}`, rec.Body.String())

	rec = e.do(t, http.MethodPost, "/api/bets/0/claim", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	receipt := decode[domain.ClaimReceipt](t, rec)
	assert.True(t, receipt.Amount.Equal(decimal.NewFromInt(150)))

	rec = e.do(t, http.MethodPost, "/api/bets/0/claim", "bob", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = e.do(t, http.MethodPost, "/api/bets/0/claim", "carol", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/accounts/bob/balance", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"account":"bob","balance":"150"}`, rec.Body.String())

	rec = e.do(t, http.MethodGet, "/api/bets/0/participations/bob", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	p := decode[domain.Participation](t, rec)
	assert.True(t, p.Claimed)
	assert.Equal(t, domain.ClaimPaid, p.ClaimStatus)

	rec = e.do(t, http.MethodGet, "/api/bets/0/participations", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	parts := decode[struct {
		Participations []domain.Participation `json:"participations"`
	}](t, rec)
	assert.Len(t, parts.Participations, 2)

	rec = e.do(t, http.MethodGet, "/api/events?after=0&limit=3", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	events := decode[struct {
		Events []struct {
			ID    string          `json:"id"`
			Event json.RawMessage `json:"event"`
		} `json:"events"`
		Next string `json:"next"`
	}](t, rec)
	require.Len(t, events.Events, 3)
	assert.Contains(t, string(events.Events[0].Event), `"bet_created"`)
	assert.Equal(t, events.Events[2].ID, events.Next)

	rec = e.do(t, http.MethodGet, "/api/audit?limit=1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"claim_paid"`)
}

func TestQueriesAndErrors(t *testing.T) {
	e := newEnv(t, Config{}, nil, nil)
	for range 3 {
		rec := e.do(t, http.MethodPost, "/api/bets", "alice", map[string]any{"target_value": 10, "duration_seconds": 60})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := e.do(t, http.MethodGet, "/api/bets?state=open&limit=2&offset=1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Bets []domain.Bet `json:"bets"`
	}](t, rec)
	require.Len(t, list.Bets, 2)
	assert.Equal(t, uint64(1), list.Bets[0].ID)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"bad state", http.MethodGet, "/api/bets?state=bogus", nil, http.StatusBadRequest},
		{"bad id", http.MethodGet, "/api/bets/abc", nil, http.StatusBadRequest},
		{"missing bet", http.MethodGet, "/api/bets/9", nil, http.StatusNotFound},
		{"missing participation", http.MethodGet, "/api/bets/0/participations/zed", nil, http.StatusNotFound},
		{"payout on open bet", http.MethodGet, "/api/bets/0/payouts/zed", nil, http.StatusConflict},
		{"unknown field", http.MethodPost, "/api/bets", map[string]any{"target": 1}, http.StatusBadRequest},
		{"claim on open bet", http.MethodPost, "/api/bets/0/claim", nil, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, tt.method, tt.path, "alice", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestAPIKeyAndHealth(t *testing.T) {
	failing := map[string]handler.Check{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	}
	e := newEnv(t, Config{APIKey: "secret"}, nil, failing)

	rec := e.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")

	rec = e.do(t, http.MethodGet, "/api/bets", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/bets", nil)
	req.Header.Set("Authorization", "Bearer secret")
	out := httptest.NewRecorder()
	e.handler.ServeHTTP(out, req)
	assert.Equal(t, http.StatusOK, out.Code)
}

func TestSignedCaller(t *testing.T) {
	auth := &crypto.CallerAuth{Secret: []byte("k"), MaxSkew: time.Minute}
	e := newEnv(t, Config{CallerAuth: auth}, nil, nil)
	body := `{"target_value":"5","duration_seconds":60}`

	send := func(sig map[string]string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/bets", bytes.NewBufferString(body))
		for k, v := range sig {
			req.Header.Set(k, v)
		}
		rec := httptest.NewRecorder()
		e.handler.ServeHTTP(rec, req)
		return rec.Code
	}

	now := time.Now().Unix()
	good := auth.Headers("alice", http.MethodPost, "/api/bets", body, now)
	assert.Equal(t, http.StatusCreated, send(good))

	forged := auth.Headers("alice", http.MethodPost, "/api/bets", `{"other":1}`, now)
	assert.Equal(t, http.StatusUnauthorized, send(forged))

	stale := auth.Headers("alice", http.MethodPost, "/api/bets", body, now-3600)
	assert.Equal(t, http.StatusUnauthorized, send(stale))
}

// countingLimiter allows the first n calls per key.
type countingLimiter struct {
	mu   sync.Mutex
	n    int
	seen map[string]int
	err  error
}

func (l *countingLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	l.seen[key]++
	return l.seen[key] <= l.n, nil
}

func TestRateLimit(t *testing.T) {
	limiter := &countingLimiter{n: 2, seen: map[string]int{}}
	e := newEnv(t, Config{RateLimit: 2, RateWindow: 10 * time.Second}, limiter, nil)

	for i := range 2 {
		rec := e.do(t, http.MethodGet, "/api/bets", "alice", nil)
		assert.Equal(t, http.StatusOK, rec.Code, "request %d", i)
	}
	rec := e.do(t, http.MethodGet, "/api/bets", "alice", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, strconv.Itoa(10), rec.Header().Get("Retry-After"))

	rec = e.do(t, http.MethodGet, "/api/bets", "bob", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, limiter.seen["api:caller:alice"])

	limiter.err = errors.New("redis down")
	rec = e.do(t, http.MethodGet, "/api/bets", "alice", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "limiter errors fail open")
}

func TestCORSPreflight(t *testing.T) {
	e := newEnv(t, Config{CORSOrigins: []string{"https://app.example"}}, nil, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/bets", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-Caller-ID")
}
