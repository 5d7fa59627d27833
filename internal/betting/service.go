package betting

import (
	"log/slog"

	"github.com/alanyoungcy/betcoon/internal/domain"
)

// Deps are the collaborators shared by the betting components.
type Deps struct {
	Bets     domain.BetStore
	Ledger   domain.LedgerStore
	Locks    domain.LockManager
	Oracle   domain.Oracle
	Transfer domain.Transferer
	Clock    domain.Clock
	Events   *Events
}

// Service bundles the registry, ledger, settlement engine and claim
// processor over one set of stores and one lock manager.
type Service struct {
	Registry *Registry
	Ledger   *Ledger
	Engine   *Engine
	Claims   *ClaimProcessor
}

// New wires a Service from deps.
func New(deps Deps, cfg Config, logger *slog.Logger) *Service {
	ledger := NewLedger(deps.Bets, deps.Ledger, deps.Clock, deps.Events, logger)
	return &Service{
		Registry: NewRegistry(deps.Bets, ledger, deps.Locks, deps.Clock, deps.Events, cfg, logger),
		Ledger:   ledger,
		Engine:   NewEngine(deps.Bets, deps.Oracle, deps.Locks, deps.Clock, deps.Events, cfg, logger),
		Claims:   NewClaimProcessor(deps.Bets, deps.Ledger, deps.Transfer, deps.Locks, deps.Clock, deps.Events, cfg, logger),
	}
}
