package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// BetState is the lifecycle state of a bet. Resolved and Cancelled are
// terminal.
type BetState string

const (
	BetOpen      BetState = "open"
	BetResolved  BetState = "resolved"
	BetCancelled BetState = "cancelled"
)

// Terminal reports whether no further transition is possible from s.
func (s BetState) Terminal() bool {
	return s == BetResolved || s == BetCancelled
}

// Valid reports whether s is a known state.
func (s BetState) Valid() bool {
	return s == BetOpen || s.Terminal()
}

// Side is the binary prediction a participant takes.
type Side string

const (
	SideAbove Side = "above"
	SideBelow Side = "below"
)

// Valid reports whether s is Above or Below.
func (s Side) Valid() bool {
	return s == SideAbove || s == SideBelow
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideAbove {
		return SideBelow
	}
	return SideAbove
}

// ParseSide accepts "above"/"below" in any case, plus the boolean-style
// "true"/"false" used by clients that model the side as "is above".
func ParseSide(v string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "above", "true":
		return SideAbove, nil
	case "below", "false":
		return SideBelow, nil
	default:
		return "", fmt.Errorf("side %q: %w", v, ErrInvalidParameters)
	}
}

// Bet is one prediction market instance.
type Bet struct {
	ID              uint64           `json:"id"`
	Subject         string           `json:"subject"`
	Creator         string           `json:"creator,omitempty"`
	TargetValue     decimal.Decimal  `json:"target_value"`
	CreatedAt       time.Time        `json:"created_at"`
	CutoffAt        time.Time        `json:"cutoff_at"`
	State           BetState         `json:"state"`
	TotalStakeAbove decimal.Decimal  `json:"total_stake_above"`
	TotalStakeBelow decimal.Decimal  `json:"total_stake_below"`
	Outcome         *Side            `json:"outcome,omitempty"`
	ObservedValue   *decimal.Decimal `json:"observed_value,omitempty"`
	ObservedAt      *time.Time       `json:"observed_at,omitempty"`
	SettledAt       *time.Time       `json:"settled_at,omitempty"`

	// Oracle failure bookkeeping drives the cancellation grace policy.
	OracleFailures       int        `json:"oracle_failures"`
	FirstOracleFailureAt *time.Time `json:"first_oracle_failure_at,omitempty"`
}

// Pool is the combined stake across both sides.
func (b Bet) Pool() decimal.Decimal {
	return b.TotalStakeAbove.Add(b.TotalStakeBelow)
}

// TotalOn returns the side total for side.
func (b Bet) TotalOn(side Side) decimal.Decimal {
	if side == SideAbove {
		return b.TotalStakeAbove
	}
	return b.TotalStakeBelow
}

// Settlement is the terminal transition written to a BetStore.
type Settlement struct {
	BetID         uint64
	State         BetState
	Outcome       *Side
	ObservedValue *decimal.Decimal
	ObservedAt    *time.Time
	SettledAt     time.Time
}

// ClaimStatus tracks the two phases of a claim.
type ClaimStatus string

const (
	ClaimNone    ClaimStatus = ""
	ClaimPending ClaimStatus = "pending"
	ClaimPaid    ClaimStatus = "paid"
)

// Participation is one participant's aggregate stake in one bet. Stakes on
// each side accumulate; the record is never deleted.
type Participation struct {
	BetID       uint64          `json:"bet_id"`
	Participant string          `json:"participant"`
	StakeAbove  decimal.Decimal `json:"stake_above"`
	StakeBelow  decimal.Decimal `json:"stake_below"`
	Claimed     bool            `json:"claimed"`
	ClaimStatus ClaimStatus     `json:"claim_status,omitempty"`
	ClaimID     string          `json:"claim_id,omitempty"`
	Payout      decimal.Decimal `json:"payout"`
	ClaimedAt   *time.Time      `json:"claimed_at,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// StakeOn returns the participant's stake on side.
func (p Participation) StakeOn(side Side) decimal.Decimal {
	if side == SideAbove {
		return p.StakeAbove
	}
	return p.StakeBelow
}

// Total returns the participant's stake across both sides.
func (p Participation) Total() decimal.Decimal {
	return p.StakeAbove.Add(p.StakeBelow)
}

// ClaimReceipt is returned by a successful claim.
type ClaimReceipt struct {
	BetID       uint64          `json:"bet_id"`
	Participant string          `json:"participant"`
	ClaimID     string          `json:"claim_id"`
	Amount      decimal.Decimal `json:"amount"`
	PaidAt      time.Time       `json:"paid_at"`
}
