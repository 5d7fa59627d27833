package betting

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/betcoon/internal/domain"
)

// CreateBetInput describes a new bet.
type CreateBetInput struct {
	Subject     string
	Creator     string
	TargetValue decimal.Decimal
	Duration    time.Duration
}

// Registry opens bets and gates joins.
type Registry struct {
	bets   domain.BetStore
	ledger *Ledger
	guard  guard
	clock  domain.Clock
	events *Events
	cfg    Config
	logger *slog.Logger
}

// NewRegistry creates a Registry. Stakes accepted by JoinBet are recorded
// through ledger.
func NewRegistry(
	bets domain.BetStore,
	ledger *Ledger,
	locks domain.LockManager,
	clock domain.Clock,
	events *Events,
	cfg Config,
	logger *slog.Logger,
) *Registry {
	return &Registry{
		bets:   bets,
		ledger: ledger,
		guard:  guard{locks: locks, ttl: cfg.LockTTL, timeout: cfg.LockTimeout},
		clock:  clock,
		events: events,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "registry")),
	}
}

// CreateBet opens a bet that accepts stakes until now + in.Duration.
func (r *Registry) CreateBet(ctx context.Context, in CreateBetInput) (domain.Bet, error) {
	if in.Duration <= 0 {
		return domain.Bet{}, fmt.Errorf("registry: create bet: duration %s: %w", in.Duration, domain.ErrInvalidParameters)
	}
	if !in.TargetValue.IsPositive() {
		return domain.Bet{}, fmt.Errorf("registry: create bet: target %s: %w", in.TargetValue, domain.ErrInvalidParameters)
	}
	subject := strings.TrimSpace(in.Subject)
	if subject == "" {
		subject = r.cfg.DefaultSubject
	}

	now := r.clock.Now()
	bet, err := r.bets.Create(ctx, domain.Bet{
		Subject:         subject,
		Creator:         in.Creator,
		TargetValue:     in.TargetValue,
		CreatedAt:       now,
		CutoffAt:        now.Add(in.Duration),
		State:           domain.BetOpen,
		TotalStakeAbove: decimal.Zero,
		TotalStakeBelow: decimal.Zero,
	})
	if err != nil {
		return domain.Bet{}, fmt.Errorf("registry: create bet: %w", err)
	}

	r.logger.InfoContext(ctx, "bet created",
		slog.Uint64("bet_id", bet.ID),
		slog.String("subject", bet.Subject),
		slog.String("target", bet.TargetValue.String()),
		slog.Time("cutoff_at", bet.CutoffAt),
	)
	r.events.emit(ctx, Event{Type: EventBetCreated, BetID: bet.ID, Bet: &bet, At: now})
	return bet, nil
}

// GetBet returns the bet with the given id.
func (r *Registry) GetBet(ctx context.Context, id uint64) (domain.Bet, error) {
	bet, err := r.bets.Get(ctx, id)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("registry: get bet: %w", err)
	}
	return bet, nil
}

// ListBets returns bets matching filter ordered by id.
func (r *Registry) ListBets(ctx context.Context, filter domain.BetFilter) ([]domain.Bet, error) {
	bets, err := r.bets.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("registry: list bets: %w", err)
	}
	return bets, nil
}

// JoinBet stakes amount on side for participant. The bet must be open and
// now must be strictly before the cutoff.
func (r *Registry) JoinBet(ctx context.Context, betID uint64, participant string, side domain.Side, amount decimal.Decimal) (domain.Participation, error) {
	if !validAmount(amount) {
		return domain.Participation{}, fmt.Errorf("registry: join bet %d: amount %s: %w", betID, amount, domain.ErrInvalidAmount)
	}
	if !side.Valid() {
		return domain.Participation{}, fmt.Errorf("registry: join bet %d: side %q: %w", betID, side, domain.ErrInvalidParameters)
	}
	if strings.TrimSpace(participant) == "" {
		return domain.Participation{}, fmt.Errorf("registry: join bet %d: empty participant: %w", betID, domain.ErrInvalidParameters)
	}

	unlock, err := r.guard.lock(ctx, betID)
	if err != nil {
		return domain.Participation{}, fmt.Errorf("registry: join bet %d: %w", betID, err)
	}
	defer unlock()

	bet, err := r.bets.Get(ctx, betID)
	if err != nil {
		return domain.Participation{}, fmt.Errorf("registry: join bet: %w", err)
	}
	if bet.State != domain.BetOpen {
		return domain.Participation{}, fmt.Errorf("registry: join bet %d: state %s: %w", betID, bet.State, domain.ErrBetClosed)
	}
	if now := r.clock.Now(); !now.Before(bet.CutoffAt) {
		return domain.Participation{}, fmt.Errorf("registry: join bet %d at %s: %w", betID, now.Format(time.RFC3339Nano), domain.ErrPastCutoff)
	}

	p, err := r.ledger.RecordStake(ctx, betID, participant, side, amount)
	if err != nil {
		return domain.Participation{}, fmt.Errorf("registry: join bet %d: %w", betID, err)
	}
	return p, nil
}
