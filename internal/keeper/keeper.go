// Package keeper periodically drives bets whose cutoff has passed through
// settlement and re-drives claims stuck between their two phases. It is an
// ordinary caller of the betting service; nothing in the core depends on
// it running.
package keeper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alanyoungcy/betcoon/internal/domain"
)

// BetLister lists bets.
type BetLister interface {
	ListBets(ctx context.Context, filter domain.BetFilter) ([]domain.Bet, error)
}

// Resolver settles one bet.
type Resolver interface {
	Resolve(ctx context.Context, betID uint64) (domain.Bet, error)
}

// ClaimRetrier re-drives pending claims older than the given age.
type ClaimRetrier interface {
	RetryPending(ctx context.Context, olderThan time.Duration) (int, error)
}

// Config controls the keeper loop.
type Config struct {
	Interval     time.Duration
	BatchSize    int
	PendingAfter time.Duration
}

// Keeper polls for due bets and stale claims.
type Keeper struct {
	bets     BetLister
	resolver Resolver
	claims   ClaimRetrier
	clock    domain.Clock
	cfg      Config
	logger   *slog.Logger
}

// New creates a Keeper. claims may be nil to skip claim recovery.
func New(bets BetLister, resolver Resolver, claims ClaimRetrier, clock domain.Clock, cfg Config, logger *slog.Logger) *Keeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.PendingAfter <= 0 {
		cfg.PendingAfter = 5 * time.Minute
	}
	return &Keeper{
		bets:     bets,
		resolver: resolver,
		claims:   claims,
		clock:    clock,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "keeper")),
	}
}

// Run ticks until ctx is cancelled. A failing pass is logged and the loop
// continues.
func (k *Keeper) Run(ctx context.Context) error {
	k.logger.InfoContext(ctx, "keeper started", slog.Duration("interval", k.cfg.Interval))

	ticker := time.NewTicker(k.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := k.Tick(ctx); err != nil && ctx.Err() == nil {
			k.logger.ErrorContext(ctx, "keeper pass failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Result summarises one pass.
type Result struct {
	Resolved  int
	Cancelled int
	Deferred  int
	Retried   int
}

// Tick runs a single pass: resolve every due open bet, then retry stale
// pending claims.
func (k *Keeper) Tick(ctx context.Context) (Result, error) {
	var res Result
	now := k.clock.Now()
	open := domain.BetOpen

	// Page by id so bets settled elsewhere during the pass cannot shift
	// the listing.
	var after *uint64
	for {
		due, err := k.bets.ListBets(ctx, domain.BetFilter{
			State:        &open,
			CutoffBefore: &now,
			AfterID:      after,
			Limit:        k.cfg.BatchSize,
		})
		if err != nil {
			return res, err
		}
		for _, bet := range due {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			k.resolve(ctx, bet.ID, &res)
		}
		if len(due) < k.cfg.BatchSize {
			break
		}
		last := due[len(due)-1].ID
		after = &last
	}

	if k.claims != nil {
		n, err := k.claims.RetryPending(ctx, k.cfg.PendingAfter)
		res.Retried = n
		if err != nil {
			return res, err
		}
	}

	if res != (Result{}) {
		k.logger.InfoContext(ctx, "keeper pass",
			slog.Int("resolved", res.Resolved),
			slog.Int("cancelled", res.Cancelled),
			slog.Int("deferred", res.Deferred),
			slog.Int("claims_retried", res.Retried),
		)
	}
	return res, nil
}

func (k *Keeper) resolve(ctx context.Context, betID uint64, res *Result) {
	bet, err := k.resolver.Resolve(ctx, betID)
	switch {
	case err == nil && bet.State == domain.BetResolved:
		res.Resolved++
	case err == nil && bet.State == domain.BetCancelled:
		res.Cancelled++
	case err == nil:
		res.Deferred++
	case domain.IsRetryable(err) || errors.Is(err, domain.ErrTooEarly):
		res.Deferred++
		k.logger.DebugContext(ctx, "resolve deferred",
			slog.Uint64("bet_id", betID),
			slog.String("error", err.Error()),
		)
	default:
		res.Deferred++
		k.logger.WarnContext(ctx, "resolve failed",
			slog.Uint64("bet_id", betID),
			slog.String("error", err.Error()),
		)
	}
}
