package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/betcoon/internal/betting"
	"github.com/alanyoungcy/betcoon/internal/config"
	"github.com/alanyoungcy/betcoon/internal/domain"
	"github.com/alanyoungcy/betcoon/internal/lock"
	"github.com/alanyoungcy/betcoon/internal/store/memory"
	"github.com/alanyoungcy/betcoon/internal/transfer"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWireMemoryDefaults(t *testing.T) {
	cfg := config.Defaults()
	deps, cleanup, err := Wire(context.Background(), &cfg, discardLogger())
	require.NoError(t, err)
	defer cleanup()

	assert.IsType(t, &memory.Store{}, deps.Bets)
	assert.Same(t, deps.Bets, deps.Ledger)
	assert.IsType(t, &lock.KeyedMutex{}, deps.Locks)
	assert.IsType(t, &transfer.Book{}, deps.Transfer)
	assert.Nil(t, deps.RateLimiter)
	assert.Nil(t, deps.BlobWriter)
	assert.Empty(t, deps.Checks)
	assert.False(t, deps.Notifier.Enabled())
}

func TestBettingConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Settlement.TieSide = "above"
	cfg.Settlement.MinOracleFailures = 5
	a := New(&cfg, discardLogger())

	bc, err := a.bettingConfig()
	require.NoError(t, err)
	assert.Equal(t, domain.SideAbove, bc.TieSide)
	assert.Equal(t, 5, bc.MinOracleFailures)
	assert.Equal(t, cfg.Oracle.Tolerance.Duration, bc.OracleTolerance)

	cfg.Settlement.TieSide = "sideways"
	_, err = a.bettingConfig()
	require.Error(t, err)
}

// The wired service settles against prices recorded in the shared history.
func TestServiceOverWiredDeps(t *testing.T) {
	cfg := config.Defaults()
	logger := discardLogger()
	deps, cleanup, err := Wire(context.Background(), &cfg, logger)
	require.NoError(t, err)
	defer cleanup()

	a := New(&cfg, logger)
	svc, err := a.newService(deps)
	require.NoError(t, err)

	ctx := context.Background()
	bet, err := svc.Registry.CreateBet(ctx, betting.CreateBetInput{
		Creator:     "alice",
		TargetValue: decimal.NewFromInt(50000),
		Duration:    time.Hour,
	})
	require.NoError(t, err)
	assert.Equal(t, cfg.Settlement.DefaultSubject, bet.Subject)

	_, err = svc.Registry.JoinBet(ctx, bet.ID, "bob", domain.SideAbove, decimal.NewFromInt(10))
	require.NoError(t, err)

	// Cutoff has not passed on the wall clock yet.
	_, err = svc.Engine.Resolve(ctx, bet.ID)
	require.ErrorIs(t, err, domain.ErrTooEarly)
}

func TestRunArchiveRequiresBlobStorage(t *testing.T) {
	cfg := config.Defaults()
	a := New(&cfg, discardLogger())
	err := a.runArchive(context.Background(), &Dependencies{})
	require.Error(t, err)
}
