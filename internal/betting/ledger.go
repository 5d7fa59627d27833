package betting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/betcoon/internal/domain"
)

// Ledger owns participations and the stake totals on each bet. It does not
// lock; callers that need ordering against other operations on the same bet
// go through the Registry.
type Ledger struct {
	bets   domain.BetStore
	store  domain.LedgerStore
	clock  domain.Clock
	events *Events
	logger *slog.Logger
}

// NewLedger creates a Ledger.
func NewLedger(bets domain.BetStore, store domain.LedgerStore, clock domain.Clock, events *Events, logger *slog.Logger) *Ledger {
	return &Ledger{
		bets:   bets,
		store:  store,
		clock:  clock,
		events: events,
		logger: logger.With(slog.String("component", "ledger")),
	}
}

// RecordStake adds amount to the participant's side and the bet total. It
// never decrements.
func (l *Ledger) RecordStake(ctx context.Context, betID uint64, participant string, side domain.Side, amount decimal.Decimal) (domain.Participation, error) {
	if !validAmount(amount) {
		return domain.Participation{}, fmt.Errorf("ledger: record stake %s: %w", amount, domain.ErrInvalidAmount)
	}
	if !side.Valid() || participant == "" {
		return domain.Participation{}, fmt.Errorf("ledger: record stake side=%q participant=%q: %w", side, participant, domain.ErrInvalidParameters)
	}

	p, err := l.store.RecordStake(ctx, betID, participant, side, amount, l.clock.Now())
	if err != nil {
		return domain.Participation{}, fmt.Errorf("ledger: record stake bet %d: %w", betID, err)
	}

	l.logger.InfoContext(ctx, "stake recorded",
		slog.Uint64("bet_id", betID),
		slog.String("participant", participant),
		slog.String("side", string(side)),
		slog.String("amount", amount.String()),
	)
	l.events.emit(ctx, Event{
		Type:        EventStakeRecorded,
		BetID:       betID,
		Participant: participant,
		Side:        side,
		Amount:      &amount,
		At:          p.UpdatedAt,
	})
	return p, nil
}

// GetParticipation returns the participant's aggregate record.
func (l *Ledger) GetParticipation(ctx context.Context, betID uint64, participant string) (domain.Participation, error) {
	p, err := l.store.GetParticipation(ctx, betID, participant)
	if err != nil {
		return domain.Participation{}, fmt.Errorf("ledger: get participation: %w", err)
	}
	return p, nil
}

// ListParticipations returns every participation of betID.
func (l *Ledger) ListParticipations(ctx context.Context, betID uint64) ([]domain.Participation, error) {
	if _, err := l.bets.Get(ctx, betID); err != nil {
		return nil, fmt.Errorf("ledger: list participations: %w", err)
	}
	ps, err := l.store.ListParticipations(ctx, betID)
	if err != nil {
		return nil, fmt.Errorf("ledger: list participations bet %d: %w", betID, err)
	}
	return ps, nil
}

// PayoutFor computes what participant is owed from a settled bet. A
// non-participant is owed zero.
func (l *Ledger) PayoutFor(ctx context.Context, betID uint64, participant string) (decimal.Decimal, error) {
	bet, err := l.bets.Get(ctx, betID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger: payout: %w", err)
	}
	p, err := l.store.GetParticipation(ctx, betID, participant)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		p = domain.Participation{BetID: betID, Participant: participant}
	case err != nil:
		return decimal.Zero, fmt.Errorf("ledger: payout: %w", err)
	}
	amount, err := ComputePayout(bet, p)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger: %w", err)
	}
	return amount, nil
}
