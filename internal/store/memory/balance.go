package memory

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/betcoon/internal/domain"
)

// BalanceStore keeps internal account balances and the set of applied
// transfer ids.
type BalanceStore struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	applied  map[string]struct{}
}

// NewBalanceStore creates an empty BalanceStore.
func NewBalanceStore() *BalanceStore {
	return &BalanceStore{
		balances: make(map[string]decimal.Decimal),
		applied:  make(map[string]struct{}),
	}
}

// Credit adds amount to account unless transferID was already applied.
func (s *BalanceStore) Credit(_ context.Context, transferID, account string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.applied[transferID]; ok {
		return nil
	}
	s.applied[transferID] = struct{}{}
	s.balances[account] = s.balances[account].Add(amount)
	return nil
}

// Balance returns the account balance. Unknown accounts hold zero.
func (s *BalanceStore) Balance(_ context.Context, account string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[account], nil
}

var _ domain.BalanceStore = (*BalanceStore)(nil)
