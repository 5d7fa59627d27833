package betting

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/betcoon/internal/domain"
)

func TestClaimScenarioAboveWins(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	bet := e.createBet(t, 50000, 3600*time.Second)

	e.clock.Advance(10 * time.Minute)
	e.join(t, bet.ID, "A", domain.SideAbove, 1)
	e.join(t, bet.ID, "B", domain.SideBelow, 1)

	e.oracle.set(60000)
	e.clock.Set(bet.CutoffAt)
	resolved, err := e.svc.Engine.Resolve(ctx, bet.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SideAbove, *resolved.Outcome)

	payoutA, err := e.svc.Ledger.PayoutFor(ctx, bet.ID, "A")
	require.NoError(t, err)
	assert.True(t, payoutA.Equal(dec(2)))
	payoutB, err := e.svc.Ledger.PayoutFor(ctx, bet.ID, "B")
	require.NoError(t, err)
	assert.True(t, payoutB.IsZero())

	receipt, err := e.svc.Claims.Claim(ctx, bet.ID, "A")
	require.NoError(t, err)
	assert.True(t, receipt.Amount.Equal(dec(2)))
	assert.NotEmpty(t, receipt.ClaimID)
	assert.True(t, e.transfer.total("A").Equal(dec(2)))

	_, err = e.svc.Claims.Claim(ctx, bet.ID, "B")
	assert.ErrorIs(t, err, domain.ErrNothingToClaim)

	_, err = e.svc.Claims.Claim(ctx, bet.ID, "A")
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)
	assert.True(t, e.transfer.total("A").Equal(dec(2)))

	p, err := e.svc.Ledger.GetParticipation(ctx, bet.ID, "A")
	require.NoError(t, err)
	assert.True(t, p.Claimed)
	assert.Equal(t, domain.ClaimPaid, p.ClaimStatus)
	assert.Equal(t, receipt.ClaimID, p.ClaimID)
}

func TestClaimEmptyBet(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	bet := e.createBet(t, 50000, time.Hour)
	e.oracle.set(1)
	e.clock.Set(bet.CutoffAt)

	_, err := e.svc.Engine.Resolve(ctx, bet.ID)
	require.NoError(t, err)

	_, err = e.svc.Claims.Claim(ctx, bet.ID, "anyone")
	assert.ErrorIs(t, err, domain.ErrNothingToClaim)

	payout, err := e.svc.Ledger.PayoutFor(ctx, bet.ID, "anyone")
	require.NoError(t, err)
	assert.True(t, payout.IsZero())
}

func TestClaimRefundsAfterOracleOutage(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, func(c *Config) {
		c.GracePeriod = time.Hour
		c.MinOracleFailures = 1
	})
	bet := e.createBet(t, 50000, time.Hour)
	e.join(t, bet.ID, "A", domain.SideAbove, 7)
	e.join(t, bet.ID, "B", domain.SideBelow, 3)
	e.join(t, bet.ID, "B", domain.SideAbove, 2)

	e.oracle.fail(errBoom)
	e.clock.Set(bet.CutoffAt)
	_, err := e.svc.Engine.Resolve(ctx, bet.ID)
	require.ErrorIs(t, err, domain.ErrOracleUnavailable)

	e.clock.Set(bet.CutoffAt.Add(time.Hour))
	cancelled, err := e.svc.Engine.Resolve(ctx, bet.ID)
	require.NoError(t, err)
	require.Equal(t, domain.BetCancelled, cancelled.State)

	for who, want := range map[string]int64{"A": 7, "B": 5} {
		receipt, err := e.svc.Claims.Claim(ctx, bet.ID, who)
		require.NoError(t, err, who)
		assert.True(t, receipt.Amount.Equal(dec(want)), "%s got %s", who, receipt.Amount)
	}
	assert.True(t, e.transfer.total("A").Add(e.transfer.total("B")).Equal(cancelled.Pool()))
}

func TestClaimOpenBet(t *testing.T) {
	e := newEnv(t)
	bet := e.createBet(t, 10, time.Hour)
	e.join(t, bet.ID, "A", domain.SideAbove, 1)

	_, err := e.svc.Claims.Claim(context.Background(), bet.ID, "A")
	assert.ErrorIs(t, err, domain.ErrNotSettled)

	_, err = e.svc.Claims.Claim(context.Background(), 99, "A")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClaimTransferFailureRevertsFlag(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	bet := e.createBet(t, 10, time.Hour)
	e.join(t, bet.ID, "A", domain.SideAbove, 4)
	e.join(t, bet.ID, "B", domain.SideBelow, 6)
	e.oracle.set(11)
	e.clock.Set(bet.CutoffAt)
	_, err := e.svc.Engine.Resolve(ctx, bet.ID)
	require.NoError(t, err)

	e.transfer.err = errBoom
	_, err = e.svc.Claims.Claim(ctx, bet.ID, "A")
	require.ErrorIs(t, err, domain.ErrTransferFailed)
	assert.ErrorIs(t, err, errBoom)

	p, err := e.svc.Ledger.GetParticipation(ctx, bet.ID, "A")
	require.NoError(t, err)
	assert.False(t, p.Claimed)
	assert.Equal(t, domain.ClaimNone, p.ClaimStatus)
	assert.Contains(t, e.auditEvents(t), EventClaimReverted)

	e.transfer.err = nil
	receipt, err := e.svc.Claims.Claim(ctx, bet.ID, "A")
	require.NoError(t, err)
	assert.True(t, receipt.Amount.Equal(dec(10)))
}

func TestClaimUnknownTransferStaysPending(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	bet := e.createBet(t, 10, time.Hour)
	e.join(t, bet.ID, "A", domain.SideAbove, 4)
	e.oracle.set(11)
	e.clock.Set(bet.CutoffAt)
	_, err := e.svc.Engine.Resolve(ctx, bet.ID)
	require.NoError(t, err)

	e.transfer.err = fmt.Errorf("rpc timeout: %w", domain.ErrTransferUnknown)
	_, err = e.svc.Claims.Claim(ctx, bet.ID, "A")
	require.ErrorIs(t, err, domain.ErrTransferUnknown)

	p, err := e.svc.Ledger.GetParticipation(ctx, bet.ID, "A")
	require.NoError(t, err)
	assert.True(t, p.Claimed)
	assert.Equal(t, domain.ClaimPending, p.ClaimStatus)
	assert.NotContains(t, e.auditEvents(t), EventClaimReverted)

	_, err = e.svc.Claims.Claim(ctx, bet.ID, "A")
	require.ErrorIs(t, err, domain.ErrAlreadyClaimed)

	// Still unknown on the first retry; settled on the next.
	e.clock.Advance(10 * time.Minute)
	paid, err := e.svc.Claims.RetryPending(ctx, time.Minute)
	require.NoError(t, err)
	assert.Zero(t, paid)

	e.transfer.err = nil
	paid, err = e.svc.Claims.RetryPending(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, paid)
	assert.Len(t, e.transfer.paid, 1)
	assert.Contains(t, e.transfer.paid, p.ClaimID)
}

func TestClaimReentrantTransferSeesClaimed(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	bet := e.createBet(t, 10, time.Hour)
	e.join(t, bet.ID, "A", domain.SideAbove, 5)
	e.oracle.set(20)
	e.clock.Set(bet.CutoffAt)
	_, err := e.svc.Engine.Resolve(ctx, bet.ID)
	require.NoError(t, err)

	var reentrant error
	e.transfer.onCall = func(req domain.TransferRequest) {
		_, reentrant = e.svc.Claims.Claim(ctx, req.BetID, req.To)
	}

	_, err = e.svc.Claims.Claim(ctx, bet.ID, "A")
	require.NoError(t, err)
	assert.ErrorIs(t, reentrant, domain.ErrAlreadyClaimed)
	assert.True(t, e.transfer.total("A").Equal(dec(5)))
}

func TestClaimConcurrentOnlyOnce(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	bet := e.createBet(t, 10, time.Hour)
	e.join(t, bet.ID, "A", domain.SideAbove, 3)
	e.join(t, bet.ID, "B", domain.SideBelow, 3)
	e.oracle.set(20)
	e.clock.Set(bet.CutoffAt)
	_, err := e.svc.Engine.Resolve(ctx, bet.ID)
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		already   int
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.svc.Claims.Claim(ctx, bet.ID, "A")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case assert.ErrorIs(t, err, domain.ErrAlreadyClaimed):
				already++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 19, already)
	assert.True(t, e.transfer.total("A").Equal(dec(6)))
}

func TestRetryPendingCompletesStaleClaims(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	bet := e.createBet(t, 10, time.Hour)
	e.join(t, bet.ID, "A", domain.SideAbove, 2)
	e.oracle.set(20)
	e.clock.Set(bet.CutoffAt)
	_, err := e.svc.Engine.Resolve(ctx, bet.ID)
	require.NoError(t, err)

	// Phase one committed, then the process died before the transfer.
	require.NoError(t, e.store.BeginClaim(ctx, bet.ID, "A", "claim-1", dec(2), e.clock.Now()))

	paid, err := e.svc.Claims.RetryPending(ctx, time.Minute)
	require.NoError(t, err)
	assert.Zero(t, paid, "fresh claims are left alone")

	e.clock.Advance(2 * time.Minute)
	paid, err = e.svc.Claims.RetryPending(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, paid)

	p, err := e.svc.Ledger.GetParticipation(ctx, bet.ID, "A")
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimPaid, p.ClaimStatus)
	assert.Contains(t, e.transfer.paid, "claim-1")

	_, err = e.svc.Claims.Claim(ctx, bet.ID, "A")
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)
}
