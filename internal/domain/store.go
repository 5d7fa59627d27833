package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// BetFilter narrows BetStore.List results.
type BetFilter struct {
	State         *BetState
	CutoffBefore  *time.Time
	SettledBefore *time.Time
	// AfterID keeps only bets with a larger id.
	AfterID *uint64
	Limit   int
	Offset  int
}

// BetStore persists bets. It is the single owner of bet identifiers.
type BetStore interface {
	// Create allocates the next sequential id and stores bet. The returned
	// bet carries the assigned id.
	Create(ctx context.Context, bet Bet) (Bet, error)
	Get(ctx context.Context, id uint64) (Bet, error)
	List(ctx context.Context, filter BetFilter) ([]Bet, error)
	// RecordOracleFailure increments the failure counter of an open bet and
	// stamps the first failure time.
	RecordOracleFailure(ctx context.Context, id uint64, at time.Time) (Bet, error)
	// Settle moves an open bet into a terminal state. It returns
	// ErrBetClosed if the bet is no longer open.
	Settle(ctx context.Context, s Settlement) (Bet, error)
}

// LedgerStore persists participations and is the sole writer of a bet's
// stake totals.
type LedgerStore interface {
	// RecordStake adds amount to the participant's side aggregate and to the
	// bet's side total in one atomic step. It returns ErrBetClosed if the
	// bet is not open.
	RecordStake(ctx context.Context, betID uint64, participant string, side Side, amount decimal.Decimal, at time.Time) (Participation, error)
	GetParticipation(ctx context.Context, betID uint64, participant string) (Participation, error)
	ListParticipations(ctx context.Context, betID uint64) ([]Participation, error)

	// BeginClaim sets claimed=true with status pending. It returns
	// ErrAlreadyClaimed if the flag is already set.
	BeginClaim(ctx context.Context, betID uint64, participant, claimID string, payout decimal.Decimal, at time.Time) error
	// CompleteClaim marks a pending claim paid.
	CompleteClaim(ctx context.Context, betID uint64, participant, claimID string) error
	// AbortClaim clears a pending claim so it can be attempted again.
	AbortClaim(ctx context.Context, betID uint64, participant, claimID string) error
	// ListPendingClaims returns claims left pending since before.
	ListPendingClaims(ctx context.Context, before time.Time) ([]Participation, error)
}

// TransferJournal keeps the prepared form of an outgoing transfer per
// transfer id. Entries are written before the transfer is sent, so a retry
// after a crash resends the same transfer instead of preparing a new one.
type TransferJournal interface {
	// Save stores payload for transferID. An existing entry is kept.
	Save(ctx context.Context, transferID string, payload []byte) error
	// Load returns the payload saved for transferID, or ErrNotFound.
	Load(ctx context.Context, transferID string) ([]byte, error)
}

// BalanceStore holds internal account balances credited by payouts.
type BalanceStore interface {
	// Credit adds amount to account once per transferID. Repeated calls with
	// the same transferID are no-ops.
	Credit(ctx context.Context, transferID, account string, amount decimal.Decimal) error
	Balance(ctx context.Context, account string) (decimal.Decimal, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
