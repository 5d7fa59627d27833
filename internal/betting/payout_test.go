package betting

import (
	"math/rand/v2"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/betcoon/internal/domain"
)

func decimalFrom(t *testing.T, v string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(v)
	require.NoError(t, err)
	return d
}

func resolvedBet(outcome domain.Side, above, below int64) domain.Bet {
	return domain.Bet{
		State:           domain.BetResolved,
		Outcome:         &outcome,
		TotalStakeAbove: dec(above),
		TotalStakeBelow: dec(below),
	}
}

func TestComputePayout(t *testing.T) {
	tests := []struct {
		name string
		bet  domain.Bet
		p    domain.Participation
		want int64
	}{
		{
			name: "winner takes own stake plus share",
			bet:  resolvedBet(domain.SideAbove, 1, 1),
			p:    domain.Participation{StakeAbove: dec(1)},
			want: 2,
		},
		{
			name: "loser gets nothing",
			bet:  resolvedBet(domain.SideAbove, 1, 1),
			p:    domain.Participation{StakeBelow: dec(1)},
			want: 0,
		},
		{
			name: "share is floored",
			bet:  resolvedBet(domain.SideBelow, 10, 3),
			p:    domain.Participation{StakeBelow: dec(1)},
			want: 1 + 3, // 1 + floor(10*1/3)
		},
		{
			name: "hedged participant paid on winning side only",
			bet:  resolvedBet(domain.SideAbove, 4, 6),
			p:    domain.Participation{StakeAbove: dec(2), StakeBelow: dec(3)},
			want: 2 + 3, // 2 + floor(6*2/4)
		},
		{
			name: "nobody on winning side refunds everyone",
			bet:  resolvedBet(domain.SideAbove, 0, 9),
			p:    domain.Participation{StakeBelow: dec(4)},
			want: 4,
		},
		{
			name: "non participant",
			bet:  resolvedBet(domain.SideAbove, 5, 5),
			p:    domain.Participation{},
			want: 0,
		},
		{
			name: "cancelled refunds total stake",
			bet:  domain.Bet{State: domain.BetCancelled, TotalStakeAbove: dec(3), TotalStakeBelow: dec(8)},
			p:    domain.Participation{StakeAbove: dec(3), StakeBelow: dec(2)},
			want: 5,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ComputePayout(tt.bet, tt.p)
			require.NoError(t, err)
			assert.True(t, got.Equal(dec(tt.want)), "got %s want %d", got, tt.want)
		})
	}

	t.Run("open bet", func(t *testing.T) {
		_, err := ComputePayout(domain.Bet{State: domain.BetOpen}, domain.Participation{StakeAbove: dec(1)})
		assert.ErrorIs(t, err, domain.ErrNotSettled)
	})
}

func TestPayoutConservation(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))

	for round := range 200 {
		n := 1 + rng.IntN(12)
		parts := make([]domain.Participation, n)
		above, below := dec(0), dec(0)
		for i := range parts {
			if rng.IntN(2) == 0 {
				parts[i].StakeAbove = dec(int64(rng.IntN(1_000_000)))
			}
			if rng.IntN(3) == 0 {
				parts[i].StakeBelow = dec(int64(rng.IntN(1_000_000)))
			}
			above = above.Add(parts[i].StakeAbove)
			below = below.Add(parts[i].StakeBelow)
		}

		outcome := domain.SideAbove
		if round%2 == 1 {
			outcome = domain.SideBelow
		}
		bet := domain.Bet{State: domain.BetResolved, Outcome: &outcome, TotalStakeAbove: above, TotalStakeBelow: below}

		sum := dec(0)
		winners := 0
		for _, p := range parts {
			amount, err := ComputePayout(bet, p)
			require.NoError(t, err)
			require.False(t, amount.IsNegative())
			sum = sum.Add(amount)
			if p.StakeOn(outcome).IsPositive() {
				winners++
			}
		}

		pool := bet.Pool()
		require.True(t, sum.LessThanOrEqual(pool), "round %d: paid %s > pool %s", round, sum, pool)
		if bet.TotalOn(outcome).IsZero() {
			require.True(t, sum.Equal(pool), "round %d: refund %s != pool %s", round, sum, pool)
			continue
		}
		shortfall := pool.Sub(sum)
		if winners > 0 {
			require.True(t, shortfall.LessThan(dec(int64(winners))), "round %d: dust %s with %d winners", round, shortfall, winners)
		}
	}
}

func TestDecide(t *testing.T) {
	target := dec(50000)
	assert.Equal(t, domain.SideAbove, Decide(dec(50001), target, domain.SideBelow))
	assert.Equal(t, domain.SideBelow, Decide(dec(49999), target, domain.SideAbove))
	assert.Equal(t, domain.SideBelow, Decide(dec(50000), target, domain.SideBelow))
	assert.Equal(t, domain.SideAbove, Decide(dec(50000), target, domain.SideAbove))
}
