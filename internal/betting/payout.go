package betting

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/betcoon/internal/domain"
)

// ComputePayout returns what p is owed from bet.
//
// A winner with stake s on the winning side receives s + floor(L*s/W), where
// W and L are the winning and losing side totals. If nobody backed the winning
// side, or the bet was cancelled, every staker gets their own total back.
// Floor division keeps the sum of payouts at or below the pool.
func ComputePayout(bet domain.Bet, p domain.Participation) (decimal.Decimal, error) {
	switch bet.State {
	case domain.BetCancelled:
		return p.Total(), nil
	case domain.BetResolved:
	default:
		return decimal.Zero, fmt.Errorf("payout bet %d: %w", bet.ID, domain.ErrNotSettled)
	}
	if bet.Outcome == nil {
		return decimal.Zero, fmt.Errorf("payout bet %d: resolved without outcome: %w", bet.ID, domain.ErrNotSettled)
	}

	win := *bet.Outcome
	w := bet.TotalOn(win)
	if w.IsZero() {
		return p.Total(), nil
	}
	s := p.StakeOn(win)
	if s.IsZero() {
		return decimal.Zero, nil
	}
	l := bet.TotalOn(win.Opposite())
	share, _ := l.Mul(s).QuoRem(w, 0)
	return s.Add(share), nil
}

// validAmount reports whether amount is a positive whole number of units.
func validAmount(amount decimal.Decimal) bool {
	return amount.IsPositive() && amount.IsInteger()
}

// Decide maps an observed value to the winning side. Above wins only when
// observed strictly exceeds the target and Below only when it is strictly
// lower; equality goes to tie.
func Decide(observed, target decimal.Decimal, tie domain.Side) domain.Side {
	switch observed.Cmp(target) {
	case 1:
		return domain.SideAbove
	case -1:
		return domain.SideBelow
	default:
		return tie
	}
}
