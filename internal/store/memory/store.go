// Package memory implements the domain store interfaces in process memory.
// It backs the "memory" storage driver and the test suites.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/betcoon/internal/domain"
)

// Store holds bets and participations behind a single mutex so that stake
// recording updates the participation and the bet totals together.
type Store struct {
	mu     sync.RWMutex
	nextID uint64
	bets   map[uint64]domain.Bet
	parts  map[uint64]map[string]domain.Participation
}

// NewStore returns an empty Store. The first bet gets id 0.
func NewStore() *Store {
	return &Store{
		bets:  make(map[uint64]domain.Bet),
		parts: make(map[uint64]map[string]domain.Participation),
	}
}

// Create stores bet under the next sequential id.
func (s *Store) Create(_ context.Context, bet domain.Bet) (domain.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bet.ID = s.nextID
	s.nextID++
	s.bets[bet.ID] = bet
	return bet, nil
}

// Get returns the bet with the given id.
func (s *Store) Get(_ context.Context, id uint64) (domain.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bet, ok := s.bets[id]
	if !ok {
		return domain.Bet{}, fmt.Errorf("memory: get bet %d: %w", id, domain.ErrNotFound)
	}
	return bet, nil
}

// List returns bets ordered by id that match filter.
func (s *Store) List(_ context.Context, filter domain.BetFilter) ([]domain.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Bet, 0, len(s.bets))
	for _, b := range s.bets {
		if filter.State != nil && b.State != *filter.State {
			continue
		}
		if filter.CutoffBefore != nil && !b.CutoffAt.Before(*filter.CutoffBefore) {
			continue
		}
		if filter.SettledBefore != nil && (b.SettledAt == nil || !b.SettledAt.Before(*filter.SettledBefore)) {
			continue
		}
		if filter.AfterID != nil && b.ID <= *filter.AfterID {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []domain.Bet{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// RecordOracleFailure bumps the failure counter of an open bet.
func (s *Store) RecordOracleFailure(_ context.Context, id uint64, at time.Time) (domain.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bet, ok := s.bets[id]
	if !ok {
		return domain.Bet{}, fmt.Errorf("memory: oracle failure bet %d: %w", id, domain.ErrNotFound)
	}
	if bet.State != domain.BetOpen {
		return bet, fmt.Errorf("memory: oracle failure bet %d: %w", id, domain.ErrBetClosed)
	}
	bet.OracleFailures++
	if bet.FirstOracleFailureAt == nil {
		first := at
		bet.FirstOracleFailureAt = &first
	}
	s.bets[id] = bet
	return bet, nil
}

// Settle moves an open bet into its terminal state.
func (s *Store) Settle(_ context.Context, st domain.Settlement) (domain.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bet, ok := s.bets[st.BetID]
	if !ok {
		return domain.Bet{}, fmt.Errorf("memory: settle bet %d: %w", st.BetID, domain.ErrNotFound)
	}
	if bet.State != domain.BetOpen {
		return bet, fmt.Errorf("memory: settle bet %d: %w", st.BetID, domain.ErrBetClosed)
	}
	settledAt := st.SettledAt
	bet.State = st.State
	bet.Outcome = st.Outcome
	bet.ObservedValue = st.ObservedValue
	bet.ObservedAt = st.ObservedAt
	bet.SettledAt = &settledAt
	s.bets[st.BetID] = bet
	return bet, nil
}

// RecordStake adds amount to the participant's side and the bet total.
func (s *Store) RecordStake(_ context.Context, betID uint64, participant string, side domain.Side, amount decimal.Decimal, at time.Time) (domain.Participation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bet, ok := s.bets[betID]
	if !ok {
		return domain.Participation{}, fmt.Errorf("memory: record stake bet %d: %w", betID, domain.ErrNotFound)
	}
	if bet.State != domain.BetOpen {
		return domain.Participation{}, fmt.Errorf("memory: record stake bet %d: %w", betID, domain.ErrBetClosed)
	}

	byBet := s.parts[betID]
	if byBet == nil {
		byBet = make(map[string]domain.Participation)
		s.parts[betID] = byBet
	}
	p, ok := byBet[participant]
	if !ok {
		p = domain.Participation{BetID: betID, Participant: participant}
	}

	switch side {
	case domain.SideAbove:
		p.StakeAbove = p.StakeAbove.Add(amount)
		bet.TotalStakeAbove = bet.TotalStakeAbove.Add(amount)
	case domain.SideBelow:
		p.StakeBelow = p.StakeBelow.Add(amount)
		bet.TotalStakeBelow = bet.TotalStakeBelow.Add(amount)
	default:
		return domain.Participation{}, fmt.Errorf("memory: record stake side %q: %w", side, domain.ErrInvalidParameters)
	}
	p.UpdatedAt = at

	byBet[participant] = p
	s.bets[betID] = bet
	return p, nil
}

// GetParticipation returns the aggregate record for participant in bet.
func (s *Store) GetParticipation(_ context.Context, betID uint64, participant string) (domain.Participation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.parts[betID][participant]
	if !ok {
		return domain.Participation{}, fmt.Errorf("memory: participation %d/%s: %w", betID, participant, domain.ErrNotFound)
	}
	return p, nil
}

// ListParticipations returns every participation of a bet, ordered by
// participant.
func (s *Store) ListParticipations(_ context.Context, betID uint64) ([]domain.Participation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Participation, 0, len(s.parts[betID]))
	for _, p := range s.parts[betID] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Participant < out[j].Participant })
	return out, nil
}

// BeginClaim flags the participation as claimed with a pending transfer.
func (s *Store) BeginClaim(_ context.Context, betID uint64, participant, claimID string, payout decimal.Decimal, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.parts[betID][participant]
	if !ok {
		return fmt.Errorf("memory: begin claim %d/%s: %w", betID, participant, domain.ErrNotFound)
	}
	if p.Claimed {
		return fmt.Errorf("memory: begin claim %d/%s: %w", betID, participant, domain.ErrAlreadyClaimed)
	}
	claimedAt := at
	p.Claimed = true
	p.ClaimStatus = domain.ClaimPending
	p.ClaimID = claimID
	p.Payout = payout
	p.ClaimedAt = &claimedAt
	p.UpdatedAt = at
	s.parts[betID][participant] = p
	return nil
}

// CompleteClaim marks the pending claim identified by claimID as paid.
func (s *Store) CompleteClaim(_ context.Context, betID uint64, participant, claimID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.pendingLocked(betID, participant, claimID)
	if err != nil {
		return fmt.Errorf("memory: complete claim: %w", err)
	}
	p.ClaimStatus = domain.ClaimPaid
	s.parts[betID][participant] = p
	return nil
}

// AbortClaim clears the pending claim identified by claimID.
func (s *Store) AbortClaim(_ context.Context, betID uint64, participant, claimID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.pendingLocked(betID, participant, claimID)
	if err != nil {
		return fmt.Errorf("memory: abort claim: %w", err)
	}
	p.Claimed = false
	p.ClaimStatus = domain.ClaimNone
	p.ClaimID = ""
	p.Payout = decimal.Zero
	p.ClaimedAt = nil
	s.parts[betID][participant] = p
	return nil
}

// ListPendingClaims returns pending claims started before the given time.
func (s *Store) ListPendingClaims(_ context.Context, before time.Time) ([]domain.Participation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Participation
	for _, byBet := range s.parts {
		for _, p := range byBet {
			if p.ClaimStatus == domain.ClaimPending && p.ClaimedAt != nil && p.ClaimedAt.Before(before) {
				out = append(out, p)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BetID != out[j].BetID {
			return out[i].BetID < out[j].BetID
		}
		return out[i].Participant < out[j].Participant
	})
	return out, nil
}

func (s *Store) pendingLocked(betID uint64, participant, claimID string) (domain.Participation, error) {
	p, ok := s.parts[betID][participant]
	if !ok || p.ClaimStatus != domain.ClaimPending || p.ClaimID != claimID {
		return domain.Participation{}, fmt.Errorf("pending claim %s on %d/%s: %w", claimID, betID, participant, domain.ErrNotFound)
	}
	return p, nil
}

// Compile-time interface checks.
var (
	_ domain.BetStore    = (*Store)(nil)
	_ domain.LedgerStore = (*Store)(nil)
)
