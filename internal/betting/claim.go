package betting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/betcoon/internal/domain"
)

// ClaimProcessor pays each participant of a settled bet at most once.
//
// A claim runs in two phases. Under the bet lock the participation is marked
// claimed with a pending status and a fresh claim id, then the lock is
// released and the transfer runs with the claim id as its idempotency key.
// A successful transfer marks the claim paid; a failed one clears the flag
// again so the participant can retry. A transfer whose outcome is unknown
// leaves the claim pending for RetryPending, which repeats it under the same
// claim id.
type ClaimProcessor struct {
	bets     domain.BetStore
	ledger   domain.LedgerStore
	transfer domain.Transferer
	guard    guard
	clock    domain.Clock
	events   *Events
	logger   *slog.Logger
}

// NewClaimProcessor creates a ClaimProcessor.
func NewClaimProcessor(
	bets domain.BetStore,
	ledger domain.LedgerStore,
	transfer domain.Transferer,
	locks domain.LockManager,
	clock domain.Clock,
	events *Events,
	cfg Config,
	logger *slog.Logger,
) *ClaimProcessor {
	return &ClaimProcessor{
		bets:     bets,
		ledger:   ledger,
		transfer: transfer,
		guard:    guard{locks: locks, ttl: cfg.LockTTL, timeout: cfg.LockTimeout},
		clock:    clock,
		events:   events,
		logger:   logger.With(slog.String("component", "claims")),
	}
}

// Claim transfers the participant's payout and returns the receipt.
func (c *ClaimProcessor) Claim(ctx context.Context, betID uint64, participant string) (domain.ClaimReceipt, error) {
	claimID, payout, err := c.begin(ctx, betID, participant)
	if err != nil {
		return domain.ClaimReceipt{}, err
	}
	receipt, err := c.settle(ctx, betID, participant, claimID, payout)
	if err != nil {
		return domain.ClaimReceipt{}, fmt.Errorf("claims: claim bet %d for %s: %w", betID, participant, err)
	}
	return receipt, nil
}

// begin is the first phase: verify, compute and mark the claim pending.
func (c *ClaimProcessor) begin(ctx context.Context, betID uint64, participant string) (string, decimal.Decimal, error) {
	unlock, err := c.guard.lock(ctx, betID)
	if err != nil {
		return "", decimal.Zero, fmt.Errorf("claims: claim bet %d: %w", betID, err)
	}
	defer unlock()

	bet, err := c.bets.Get(ctx, betID)
	if err != nil {
		return "", decimal.Zero, fmt.Errorf("claims: claim: %w", err)
	}
	if !bet.State.Terminal() {
		return "", decimal.Zero, fmt.Errorf("claims: claim bet %d: %w", betID, domain.ErrNotSettled)
	}

	p, err := c.ledger.GetParticipation(ctx, betID, participant)
	if errors.Is(err, domain.ErrNotFound) {
		return "", decimal.Zero, fmt.Errorf("claims: claim bet %d for %s: no stake: %w", betID, participant, domain.ErrNothingToClaim)
	}
	if err != nil {
		return "", decimal.Zero, fmt.Errorf("claims: claim: %w", err)
	}
	if p.Claimed {
		return "", decimal.Zero, fmt.Errorf("claims: claim bet %d for %s: %w", betID, participant, domain.ErrAlreadyClaimed)
	}

	payout, err := ComputePayout(bet, p)
	if err != nil {
		return "", decimal.Zero, fmt.Errorf("claims: %w", err)
	}
	if !payout.IsPositive() {
		return "", decimal.Zero, fmt.Errorf("claims: claim bet %d for %s: %w", betID, participant, domain.ErrNothingToClaim)
	}

	claimID := uuid.NewString()
	if err := c.ledger.BeginClaim(ctx, betID, participant, claimID, payout, c.clock.Now()); err != nil {
		return "", decimal.Zero, fmt.Errorf("claims: claim bet %d for %s: %w", betID, participant, err)
	}
	return claimID, payout, nil
}

// settle is the second phase. It runs without the bet lock so the transfer
// can never observe the claim as still open.
func (c *ClaimProcessor) settle(ctx context.Context, betID uint64, participant, claimID string, payout decimal.Decimal) (domain.ClaimReceipt, error) {
	req := domain.TransferRequest{ID: claimID, BetID: betID, To: participant, Amount: payout}
	if err := c.transfer.Transfer(ctx, req); err != nil {
		if errors.Is(err, domain.ErrTransferUnknown) {
			c.logger.WarnContext(ctx, "claim outcome unknown, left pending",
				slog.Uint64("bet_id", betID),
				slog.String("participant", participant),
				slog.String("claim_id", claimID),
				slog.String("error", err.Error()),
			)
			return domain.ClaimReceipt{}, err
		}
		c.revert(ctx, betID, participant, claimID, err)
		return domain.ClaimReceipt{}, fmt.Errorf("%w: %w", domain.ErrTransferFailed, err)
	}

	now := c.clock.Now()
	if err := c.ledger.CompleteClaim(ctx, betID, participant, claimID); err != nil {
		// Funds have moved. The claim stays pending and RetryPending will
		// complete it with the same transfer id.
		c.logger.ErrorContext(ctx, "complete claim failed",
			slog.Uint64("bet_id", betID),
			slog.String("participant", participant),
			slog.String("claim_id", claimID),
			slog.String("error", err.Error()),
		)
	}

	c.logger.InfoContext(ctx, "claim paid",
		slog.Uint64("bet_id", betID),
		slog.String("participant", participant),
		slog.String("claim_id", claimID),
		slog.String("amount", payout.String()),
	)
	c.events.emit(ctx, Event{
		Type:        EventClaimPaid,
		BetID:       betID,
		Participant: participant,
		Amount:      &payout,
		ClaimID:     claimID,
		At:          now,
	})
	return domain.ClaimReceipt{
		BetID:       betID,
		Participant: participant,
		ClaimID:     claimID,
		Amount:      payout,
		PaidAt:      now,
	}, nil
}

// revert clears a pending claim after a failed transfer. It detaches from
// the caller's context so a cancelled request still rolls back.
func (c *ClaimProcessor) revert(ctx context.Context, betID uint64, participant, claimID string, cause error) {
	rctx := context.WithoutCancel(ctx)
	log := c.logger.With(
		slog.Uint64("bet_id", betID),
		slog.String("participant", participant),
		slog.String("claim_id", claimID),
	)

	unlock, err := c.guard.lock(rctx, betID)
	if err != nil {
		log.ErrorContext(ctx, "revert claim: lock failed, claim left pending", slog.String("error", err.Error()))
		return
	}
	defer unlock()

	if err := c.ledger.AbortClaim(rctx, betID, participant, claimID); err != nil {
		log.ErrorContext(ctx, "revert claim failed, claim left pending", slog.String("error", err.Error()))
		return
	}
	log.WarnContext(ctx, "claim reverted after transfer failure", slog.String("error", cause.Error()))
	c.events.emit(rctx, Event{
		Type:        EventClaimReverted,
		BetID:       betID,
		Participant: participant,
		ClaimID:     claimID,
		Error:       cause.Error(),
		At:          c.clock.Now(),
	})
}

// RetryPending re-drives claims left pending for longer than olderThan, for
// example after a crash between the two phases. It returns how many were
// paid.
func (c *ClaimProcessor) RetryPending(ctx context.Context, olderThan time.Duration) (int, error) {
	pending, err := c.ledger.ListPendingClaims(ctx, c.clock.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("claims: list pending: %w", err)
	}

	paid := 0
	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return paid, err
		}
		if _, err := c.settle(ctx, p.BetID, p.Participant, p.ClaimID, p.Payout); err != nil {
			c.logger.WarnContext(ctx, "retry pending claim failed",
				slog.Uint64("bet_id", p.BetID),
				slog.String("participant", p.Participant),
				slog.String("claim_id", p.ClaimID),
				slog.String("error", err.Error()),
			)
			continue
		}
		paid++
	}
	return paid, nil
}
