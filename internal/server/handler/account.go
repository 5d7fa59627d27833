package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/betcoon/internal/domain"
)

// AccountHandler serves internal balances credited by book transfers.
type AccountHandler struct {
	balances domain.BalanceStore
	logger   *slog.Logger
}

func NewAccountHandler(balances domain.BalanceStore, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{balances: balances, logger: logger}
}

// GetBalance returns an account balance.
// GET /api/accounts/{account}/balance
func (h *AccountHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	account := r.PathValue("account")
	amount, err := h.balances.Balance(r.Context(), account)
	if err != nil {
		writeDomainError(w, r, h.logger, "balance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": account, "balance": amount})
}
