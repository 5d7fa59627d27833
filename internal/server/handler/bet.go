package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/betcoon/internal/betting"
	"github.com/alanyoungcy/betcoon/internal/domain"
)

// BetRegistry is the part of the registry the handler calls.
type BetRegistry interface {
	CreateBet(ctx context.Context, in betting.CreateBetInput) (domain.Bet, error)
	GetBet(ctx context.Context, id uint64) (domain.Bet, error)
	ListBets(ctx context.Context, filter domain.BetFilter) ([]domain.Bet, error)
	JoinBet(ctx context.Context, betID uint64, participant string, side domain.Side, amount decimal.Decimal) (domain.Participation, error)
}

// Resolver settles a bet.
type Resolver interface {
	Resolve(ctx context.Context, betID uint64) (domain.Bet, error)
}

// BetHandler serves bet lifecycle endpoints.
type BetHandler struct {
	bets     BetRegistry
	resolver Resolver
	logger   *slog.Logger
}

func NewBetHandler(bets BetRegistry, resolver Resolver, logger *slog.Logger) *BetHandler {
	return &BetHandler{bets: bets, resolver: resolver, logger: logger}
}

type createBetRequest struct {
	Subject         string          `json:"subject"`
	TargetValue     decimal.Decimal `json:"target_value"`
	DurationSeconds int64           `json:"duration_seconds"`
}

// CreateBet opens a new bet owned by the caller.
// POST /api/bets
func (h *BetHandler) CreateBet(w http.ResponseWriter, r *http.Request) {
	creator, ok := caller(w, r)
	if !ok {
		return
	}
	var req createBetRequest
	if !decodeBody(w, r, &req) {
		return
	}

	bet, err := h.bets.CreateBet(r.Context(), betting.CreateBetInput{
		Subject:     req.Subject,
		Creator:     creator,
		TargetValue: req.TargetValue,
		Duration:    time.Duration(req.DurationSeconds) * time.Second,
	})
	if err != nil {
		writeDomainError(w, r, h.logger, "create bet", err)
		return
	}
	writeJSON(w, http.StatusCreated, bet)
}

// GetBet returns one bet.
// GET /api/bets/{id}
func (h *BetHandler) GetBet(w http.ResponseWriter, r *http.Request) {
	id, ok := betID(w, r)
	if !ok {
		return
	}
	bet, err := h.bets.GetBet(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, "get bet", err)
		return
	}
	writeJSON(w, http.StatusOK, bet)
}

type listBetsResponse struct {
	Bets []domain.Bet `json:"bets"`
}

// ListBets lists bets, optionally by state.
// GET /api/bets?state=open&limit=50&offset=0
func (h *BetHandler) ListBets(w http.ResponseWriter, r *http.Request) {
	var filter domain.BetFilter
	filter.Limit, filter.Offset = page(r)
	if v := r.URL.Query().Get("state"); v != "" {
		state := domain.BetState(v)
		if !state.Valid() {
			writeError(w, http.StatusBadRequest, "invalid state "+v)
			return
		}
		filter.State = &state
	}

	bets, err := h.bets.ListBets(r.Context(), filter)
	if err != nil {
		writeDomainError(w, r, h.logger, "list bets", err)
		return
	}
	if bets == nil {
		bets = []domain.Bet{}
	}
	writeJSON(w, http.StatusOK, listBetsResponse{Bets: bets})
}

type joinBetRequest struct {
	Side   string          `json:"side"`
	Amount decimal.Decimal `json:"amount"`
}

// JoinBet stakes the caller's amount on a side.
// POST /api/bets/{id}/join
func (h *BetHandler) JoinBet(w http.ResponseWriter, r *http.Request) {
	id, ok := betID(w, r)
	if !ok {
		return
	}
	participant, ok := caller(w, r)
	if !ok {
		return
	}
	var req joinBetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	side, err := domain.ParseSide(req.Side)
	if err != nil {
		writeDomainError(w, r, h.logger, "join bet", err)
		return
	}

	p, err := h.bets.JoinBet(r.Context(), id, participant, side, req.Amount)
	if err != nil {
		writeDomainError(w, r, h.logger, "join bet", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Resolve settles the bet if its cutoff has passed. Anyone may call it.
// POST /api/bets/{id}/resolve
func (h *BetHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, ok := betID(w, r)
	if !ok {
		return
	}
	bet, err := h.resolver.Resolve(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, "resolve bet", err)
		return
	}
	writeJSON(w, http.StatusOK, bet)
}
