package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Clock supplies the current time. Tests substitute a manual clock.
type Clock interface {
	Now() time.Time
}

// Observation is a single value reported by an oracle.
type Observation struct {
	Subject    string          `json:"subject"`
	Value      decimal.Decimal `json:"value"`
	ObservedAt time.Time       `json:"observed_at"`
}

// Oracle reports the observed value of subject at or after at. Any failure
// (no data, stale data, transport error, timeout) is reported as an error
// wrapping ErrOracleUnavailable.
type Oracle interface {
	Value(ctx context.Context, subject string, at time.Time) (Observation, error)
}

// PriceHistory stores time-ordered observations per subject.
type PriceHistory interface {
	Record(ctx context.Context, obs Observation) error
	// FirstAtOrAfter returns the earliest observation with ObservedAt >= at,
	// or ErrNotFound.
	FirstAtOrAfter(ctx context.Context, subject string, at time.Time) (Observation, error)
	Latest(ctx context.Context, subject string) (Observation, error)
}

// TransferRequest moves Amount to To. ID is an idempotency key: repeating a
// request with the same ID must not move funds twice.
type TransferRequest struct {
	ID     string
	BetID  uint64
	To     string
	Amount decimal.Decimal
}

// Transferer performs the external value transfer for a claim.
type Transferer interface {
	Transfer(ctx context.Context, req TransferRequest) error
}

// Notifier delivers human-facing alerts for an event type.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}
