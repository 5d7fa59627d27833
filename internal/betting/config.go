// Package betting implements the bet lifecycle: the registry that opens bets
// and gates joins, the stake ledger, the settlement engine and the claim
// processor. Every mutating operation on a bet runs under that bet's lock.
package betting

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/betcoon/internal/domain"
)

// Config holds the settlement and locking policy.
type Config struct {
	// DefaultSubject is used when a bet is created without a subject.
	DefaultSubject string
	// TieSide wins when the observed value equals the target.
	TieSide domain.Side
	// GracePeriod after cutoff during which oracle failures only fail the
	// resolve call. Past it, MinOracleFailures failures cancel the bet.
	GracePeriod       time.Duration
	MinOracleFailures int
	OracleTimeout     time.Duration
	// OracleTolerance bounds how far after the cutoff an observation may lie.
	OracleTolerance time.Duration
	LockTTL         time.Duration
	LockTimeout     time.Duration
}

// DefaultConfig returns the policy used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		DefaultSubject:    "BTC-USD",
		TieSide:           domain.SideBelow,
		GracePeriod:       time.Hour,
		MinOracleFailures: 3,
		OracleTimeout:     5 * time.Second,
		OracleTolerance:   5 * time.Minute,
		LockTTL:           30 * time.Second,
		LockTimeout:       10 * time.Second,
	}
}

// guard serializes work on a single bet through a domain.LockManager.
type guard struct {
	locks   domain.LockManager
	ttl     time.Duration
	timeout time.Duration
}

func lockKey(betID uint64) string {
	return "bet:" + strconv.FormatUint(betID, 10)
}

// lock acquires the bet lock, waiting at most g.timeout.
func (g guard) lock(ctx context.Context, betID uint64) (func(), error) {
	wait := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		wait, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	unlock, err := g.locks.Acquire(wait, lockKey(betID), g.ttl)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("lock bet %d: %w", betID, err)
	}
	return unlock, nil
}
