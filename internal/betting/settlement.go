package betting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/betcoon/internal/domain"
)

// Engine resolves bets once their cutoff has passed. Resolution is caller
// driven and idempotent: any caller may invoke Resolve any number of times
// and the first successful transition wins.
type Engine struct {
	bets   domain.BetStore
	oracle domain.Oracle
	guard  guard
	clock  domain.Clock
	events *Events
	cfg    Config
	logger *slog.Logger
}

// NewEngine creates a settlement Engine.
func NewEngine(
	bets domain.BetStore,
	oracle domain.Oracle,
	locks domain.LockManager,
	clock domain.Clock,
	events *Events,
	cfg Config,
	logger *slog.Logger,
) *Engine {
	if !cfg.TieSide.Valid() {
		cfg.TieSide = domain.SideBelow
	}
	return &Engine{
		bets:   bets,
		oracle: oracle,
		guard:  guard{locks: locks, ttl: cfg.LockTTL, timeout: cfg.LockTimeout},
		clock:  clock,
		events: events,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "settlement")),
	}
}

// Resolve settles the bet against the oracle observation at its cutoff.
//
// A bet that is already resolved or cancelled is returned unchanged. When the
// oracle cannot supply a value the call fails with ErrOracleUnavailable,
// unless the grace period has elapsed with enough recorded failures, in which
// case the bet is cancelled and returned without error.
func (e *Engine) Resolve(ctx context.Context, betID uint64) (domain.Bet, error) {
	unlock, err := e.guard.lock(ctx, betID)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("settlement: resolve bet %d: %w", betID, err)
	}
	defer unlock()

	bet, err := e.bets.Get(ctx, betID)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("settlement: resolve: %w", err)
	}
	if bet.State.Terminal() {
		return bet, nil
	}

	now := e.clock.Now()
	if now.Before(bet.CutoffAt) {
		return domain.Bet{}, fmt.Errorf("settlement: resolve bet %d before cutoff %s: %w",
			betID, bet.CutoffAt.Format(time.RFC3339), domain.ErrTooEarly)
	}

	obs, err := e.observe(ctx, bet)
	if err != nil {
		if ctx.Err() != nil {
			return domain.Bet{}, fmt.Errorf("settlement: resolve bet %d: %w", betID, ctx.Err())
		}
		return e.oracleFailed(ctx, bet, now, err)
	}

	outcome := Decide(obs.Value, bet.TargetValue, e.cfg.TieSide)
	value, observedAt := obs.Value, obs.ObservedAt
	settled, err := e.bets.Settle(ctx, domain.Settlement{
		BetID:         betID,
		State:         domain.BetResolved,
		Outcome:       &outcome,
		ObservedValue: &value,
		ObservedAt:    &observedAt,
		SettledAt:     now,
	})
	if err != nil {
		return domain.Bet{}, fmt.Errorf("settlement: resolve bet %d: %w", betID, err)
	}

	e.logger.InfoContext(ctx, "bet resolved",
		slog.Uint64("bet_id", betID),
		slog.String("observed", value.String()),
		slog.String("target", bet.TargetValue.String()),
		slog.String("outcome", string(outcome)),
	)
	e.events.emit(ctx, Event{Type: EventBetResolved, BetID: betID, Bet: &settled, At: now})
	return settled, nil
}

// observe queries the oracle with a deadline and rejects observations that
// fall outside [cutoff, cutoff+tolerance].
func (e *Engine) observe(ctx context.Context, bet domain.Bet) (domain.Observation, error) {
	octx := ctx
	if e.cfg.OracleTimeout > 0 {
		var cancel context.CancelFunc
		octx, cancel = context.WithTimeout(ctx, e.cfg.OracleTimeout)
		defer cancel()
	}

	obs, err := e.oracle.Value(octx, bet.Subject, bet.CutoffAt)
	if err != nil {
		if errors.Is(err, domain.ErrOracleUnavailable) {
			return domain.Observation{}, err
		}
		return domain.Observation{}, fmt.Errorf("%w: %w", domain.ErrOracleUnavailable, err)
	}
	if obs.ObservedAt.Before(bet.CutoffAt) {
		return domain.Observation{}, fmt.Errorf("observation at %s precedes cutoff: %w",
			obs.ObservedAt.Format(time.RFC3339), domain.ErrOracleUnavailable)
	}
	if e.cfg.OracleTolerance > 0 && obs.ObservedAt.Sub(bet.CutoffAt) > e.cfg.OracleTolerance {
		return domain.Observation{}, fmt.Errorf("observation at %s stale by %s: %w",
			obs.ObservedAt.Format(time.RFC3339), obs.ObservedAt.Sub(bet.CutoffAt), domain.ErrOracleUnavailable)
	}
	return obs, nil
}

func (e *Engine) oracleFailed(ctx context.Context, bet domain.Bet, now time.Time, cause error) (domain.Bet, error) {
	failed, err := e.bets.RecordOracleFailure(ctx, bet.ID, now)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("settlement: record oracle failure bet %d: %w", bet.ID, err)
	}

	if !e.cancellable(failed, now) {
		e.logger.WarnContext(ctx, "oracle unavailable",
			slog.Uint64("bet_id", bet.ID),
			slog.Int("failures", failed.OracleFailures),
			slog.String("error", cause.Error()),
		)
		e.events.emit(ctx, Event{Type: EventOracleUnavailable, BetID: bet.ID, Error: cause.Error(), At: now})
		return domain.Bet{}, fmt.Errorf("settlement: resolve bet %d: %w", bet.ID, cause)
	}

	cancelled, err := e.bets.Settle(ctx, domain.Settlement{
		BetID:     bet.ID,
		State:     domain.BetCancelled,
		SettledAt: now,
	})
	if err != nil {
		return domain.Bet{}, fmt.Errorf("settlement: cancel bet %d: %w", bet.ID, err)
	}
	e.logger.WarnContext(ctx, "bet cancelled after oracle outage",
		slog.Uint64("bet_id", bet.ID),
		slog.Int("failures", cancelled.OracleFailures),
		slog.String("error", cause.Error()),
	)
	e.events.emit(ctx, Event{Type: EventBetCancelled, BetID: bet.ID, Bet: &cancelled, Error: cause.Error(), At: now})
	return cancelled, nil
}

// cancellable reports whether the grace period after cutoff has elapsed
// and enough oracle failures were recorded.
func (e *Engine) cancellable(bet domain.Bet, now time.Time) bool {
	if now.Before(bet.CutoffAt.Add(e.cfg.GracePeriod)) {
		return false
	}
	return bet.OracleFailures >= max(e.cfg.MinOracleFailures, 1)
}
