// Package oracle supplies observed values to the settlement engine. The
// HistoryOracle answers from a price history that the websocket Feed keeps
// filled.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/betcoon/internal/domain"
)

// HistoryOracle answers Value from the first recorded observation at or after
// the requested time.
type HistoryOracle struct {
	history   domain.PriceHistory
	timeout   time.Duration
	tolerance time.Duration
}

// NewHistoryOracle creates a HistoryOracle. A zero timeout or tolerance
// disables that bound.
func NewHistoryOracle(history domain.PriceHistory, timeout, tolerance time.Duration) *HistoryOracle {
	return &HistoryOracle{history: history, timeout: timeout, tolerance: tolerance}
}

// Value returns the observation of subject at or after at. Missing, stale and
// failed lookups all wrap domain.ErrOracleUnavailable.
func (o *HistoryOracle) Value(ctx context.Context, subject string, at time.Time) (domain.Observation, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	obs, err := o.history.FirstAtOrAfter(ctx, subject, at)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Observation{}, fmt.Errorf("oracle: no observation of %s since %s: %w",
			subject, at.Format(time.RFC3339), domain.ErrOracleUnavailable)
	}
	if err != nil {
		return domain.Observation{}, fmt.Errorf("oracle: %s: %w: %w", subject, domain.ErrOracleUnavailable, err)
	}
	if o.tolerance > 0 && obs.ObservedAt.Sub(at) > o.tolerance {
		return domain.Observation{}, fmt.Errorf("oracle: %s observed %s after %s: %w",
			subject, obs.ObservedAt.Sub(at), at.Format(time.RFC3339), domain.ErrOracleUnavailable)
	}
	return obs, nil
}

var _ domain.Oracle = (*HistoryOracle)(nil)
