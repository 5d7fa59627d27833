package betting

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/betcoon/internal/domain"
)

// EventsChannel is the bus channel live bet events are published on. The
// same payloads are appended to the EventsStream for replay.
const (
	EventsChannel = "bets"
	EventsStream  = "bet_events"
)

// Event types.
const (
	EventBetCreated        = "bet_created"
	EventStakeRecorded     = "stake_recorded"
	EventBetResolved       = "bet_resolved"
	EventBetCancelled      = "bet_cancelled"
	EventOracleUnavailable = "oracle_unavailable"
	EventClaimPaid         = "claim_paid"
	EventClaimReverted     = "claim_reverted"
)

// Event is the JSON payload published for every state change.
type Event struct {
	Type        string           `json:"type"`
	BetID       uint64           `json:"bet_id"`
	Participant string           `json:"participant,omitempty"`
	Side        domain.Side      `json:"side,omitempty"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	ClaimID     string           `json:"claim_id,omitempty"`
	Bet         *domain.Bet      `json:"bet,omitempty"`
	Error       string           `json:"error,omitempty"`
	At          time.Time        `json:"at"`
}

// Events fans bet events out to the signal bus, the audit log and the
// notifier. Any of them may be nil, as may the Events itself. Delivery
// failures are logged and never fail the operation that raised the event.
type Events struct {
	bus      domain.SignalBus
	audit    domain.AuditStore
	notifier domain.Notifier
	logger   *slog.Logger
}

// NewEvents creates an Events dispatcher.
func NewEvents(bus domain.SignalBus, audit domain.AuditStore, notifier domain.Notifier, logger *slog.Logger) *Events {
	return &Events{
		bus:      bus,
		audit:    audit,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "bet_events")),
	}
}

func (e *Events) emit(ctx context.Context, ev Event) {
	if e == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		e.logger.ErrorContext(ctx, "marshal event failed",
			slog.String("type", ev.Type),
			slog.String("error", err.Error()),
		)
		return
	}

	if e.bus != nil {
		if err := e.bus.Publish(ctx, EventsChannel, payload); err != nil {
			e.logger.WarnContext(ctx, "publish event failed",
				slog.String("type", ev.Type),
				slog.Uint64("bet_id", ev.BetID),
				slog.String("error", err.Error()),
			)
		}
		if err := e.bus.StreamAppend(ctx, EventsStream, payload); err != nil {
			e.logger.WarnContext(ctx, "append event failed",
				slog.String("type", ev.Type),
				slog.Uint64("bet_id", ev.BetID),
				slog.String("error", err.Error()),
			)
		}
	}

	if e.audit != nil {
		var detail map[string]any
		_ = json.Unmarshal(payload, &detail)
		if err := e.audit.Log(ctx, ev.Type, detail); err != nil {
			e.logger.WarnContext(ctx, "audit event failed",
				slog.String("type", ev.Type),
				slog.Uint64("bet_id", ev.BetID),
				slog.String("error", err.Error()),
			)
		}
	}

	if e.notifier != nil {
		title, message := describe(ev)
		if err := e.notifier.Notify(ctx, ev.Type, title, message); err != nil {
			e.logger.WarnContext(ctx, "notify event failed",
				slog.String("type", ev.Type),
				slog.String("error", err.Error()),
			)
		}
	}
}

func describe(ev Event) (string, string) {
	amount := ""
	if ev.Amount != nil {
		amount = ev.Amount.String()
	}
	switch ev.Type {
	case EventBetCreated:
		if ev.Bet != nil {
			return fmt.Sprintf("Bet %d opened", ev.BetID),
				fmt.Sprintf("%s vs target %s, cutoff %s", ev.Bet.Subject, ev.Bet.TargetValue, ev.Bet.CutoffAt.Format(time.RFC3339))
		}
	case EventStakeRecorded:
		return fmt.Sprintf("Bet %d stake", ev.BetID),
			fmt.Sprintf("%s staked %s on %s", ev.Participant, amount, ev.Side)
	case EventBetResolved:
		if ev.Bet != nil && ev.Bet.Outcome != nil {
			observed := ""
			if ev.Bet.ObservedValue != nil {
				observed = ev.Bet.ObservedValue.String()
			}
			return fmt.Sprintf("Bet %d resolved", ev.BetID),
				fmt.Sprintf("%s observed %s against %s: %s wins", ev.Bet.Subject, observed, ev.Bet.TargetValue, *ev.Bet.Outcome)
		}
	case EventBetCancelled:
		return fmt.Sprintf("Bet %d cancelled", ev.BetID), "oracle unavailable past the grace period, stakes are refundable"
	case EventOracleUnavailable:
		return fmt.Sprintf("Bet %d oracle unavailable", ev.BetID), ev.Error
	case EventClaimPaid:
		return fmt.Sprintf("Bet %d claim paid", ev.BetID),
			fmt.Sprintf("%s received %s (claim %s)", ev.Participant, amount, ev.ClaimID)
	case EventClaimReverted:
		return fmt.Sprintf("Bet %d claim reverted", ev.BetID),
			fmt.Sprintf("%s claim %s: %s", ev.Participant, ev.ClaimID, ev.Error)
	}
	return fmt.Sprintf("Bet %d %s", ev.BetID, ev.Type), ""
}
