package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/betcoon/internal/domain"
)

// PriceHistory keeps observations per subject sorted by time.
type PriceHistory struct {
	mu     sync.RWMutex
	series map[string][]domain.Observation
}

func NewPriceHistory() *PriceHistory {
	return &PriceHistory{series: make(map[string][]domain.Observation)}
}

// Record inserts obs keeping the series ordered. An observation with the
// same timestamp replaces the earlier one.
func (h *PriceHistory) Record(_ context.Context, obs domain.Observation) error {
	if obs.Subject == "" {
		return fmt.Errorf("memory: record observation: empty subject: %w", domain.ErrInvalidParameters)
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.series[obs.Subject]
	i := sort.Search(len(s), func(i int) bool { return !s[i].ObservedAt.Before(obs.ObservedAt) })
	if i < len(s) && s[i].ObservedAt.Equal(obs.ObservedAt) {
		s[i] = obs
		return nil
	}
	s = append(s, domain.Observation{})
	copy(s[i+1:], s[i:])
	s[i] = obs
	h.series[obs.Subject] = s
	return nil
}

// FirstAtOrAfter returns the earliest observation at or after at.
func (h *PriceHistory) FirstAtOrAfter(_ context.Context, subject string, at time.Time) (domain.Observation, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s := h.series[subject]
	i := sort.Search(len(s), func(i int) bool { return !s[i].ObservedAt.Before(at) })
	if i == len(s) {
		return domain.Observation{}, fmt.Errorf("memory: observation %s at %s: %w", subject, at.Format(time.RFC3339), domain.ErrNotFound)
	}
	return s[i], nil
}

// Latest returns the most recent observation for subject.
func (h *PriceHistory) Latest(_ context.Context, subject string) (domain.Observation, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s := h.series[subject]
	if len(s) == 0 {
		return domain.Observation{}, fmt.Errorf("memory: latest %s: %w", subject, domain.ErrNotFound)
	}
	return s[len(s)-1], nil
}

var _ domain.PriceHistory = (*PriceHistory)(nil)
