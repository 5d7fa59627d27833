package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/betcoon/internal/domain"
)

// Claimer pays out a participant.
type Claimer interface {
	Claim(ctx context.Context, betID uint64, participant string) (domain.ClaimReceipt, error)
}

// LedgerReader exposes participation queries.
type LedgerReader interface {
	GetParticipation(ctx context.Context, betID uint64, participant string) (domain.Participation, error)
	ListParticipations(ctx context.Context, betID uint64) ([]domain.Participation, error)
	PayoutFor(ctx context.Context, betID uint64, participant string) (decimal.Decimal, error)
}

// ClaimHandler serves claims and ledger projections.
type ClaimHandler struct {
	claims Claimer
	ledger LedgerReader
	logger *slog.Logger
}

func NewClaimHandler(claims Claimer, ledger LedgerReader, logger *slog.Logger) *ClaimHandler {
	return &ClaimHandler{claims: claims, ledger: ledger, logger: logger}
}

// Claim pays the caller's payout once.
// POST /api/bets/{id}/claim
func (h *ClaimHandler) Claim(w http.ResponseWriter, r *http.Request) {
	id, ok := betID(w, r)
	if !ok {
		return
	}
	participant, ok := caller(w, r)
	if !ok {
		return
	}
	receipt, err := h.claims.Claim(r.Context(), id, participant)
	if err != nil {
		writeDomainError(w, r, h.logger, "claim", err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// GetParticipation returns one participant's aggregate stake.
// GET /api/bets/{id}/participations/{participant}
func (h *ClaimHandler) GetParticipation(w http.ResponseWriter, r *http.Request) {
	id, ok := betID(w, r)
	if !ok {
		return
	}
	p, err := h.ledger.GetParticipation(r.Context(), id, r.PathValue("participant"))
	if err != nil {
		writeDomainError(w, r, h.logger, "get participation", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ListParticipations returns every participant of a bet.
// GET /api/bets/{id}/participations
func (h *ClaimHandler) ListParticipations(w http.ResponseWriter, r *http.Request) {
	id, ok := betID(w, r)
	if !ok {
		return
	}
	parts, err := h.ledger.ListParticipations(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, "list participations", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"participations": parts})
}

// GetPayout returns what a claim would pay, without claiming.
// GET /api/bets/{id}/payouts/{participant}
func (h *ClaimHandler) GetPayout(w http.ResponseWriter, r *http.Request) {
	id, ok := betID(w, r)
	if !ok {
		return
	}
	participant := r.PathValue("participant")
	amount, err := h.ledger.PayoutFor(r.Context(), id, participant)
	if err != nil {
		writeDomainError(w, r, h.logger, "payout", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"bet_id":      id,
		"participant": participant,
		"payout":      amount,
	})
}
