package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/betcoon/internal/domain"
)

// LedgerStore implements domain.LedgerStore using PostgreSQL. Stake totals
// on the bets row and the participation aggregate are written in one
// transaction.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a LedgerStore backed by pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

const participationSelectCols = `bet_id, participant, stake_above::text, stake_below::text,
	claimed, claim_status, claim_id, payout::text, claimed_at, updated_at`

func scanParticipation(row pgx.Row) (domain.Participation, error) {
	var (
		p                    domain.Participation
		betID                int64
		above, below, payout string
		status               string
	)
	if err := row.Scan(
		&betID, &p.Participant, &above, &below,
		&p.Claimed, &status, &p.ClaimID, &payout, &p.ClaimedAt, &p.UpdatedAt,
	); err != nil {
		return domain.Participation{}, err
	}
	p.BetID = uint64(betID)
	p.ClaimStatus = domain.ClaimStatus(status)

	var err error
	if p.StakeAbove, err = parseDecimal(above); err != nil {
		return domain.Participation{}, err
	}
	if p.StakeBelow, err = parseDecimal(below); err != nil {
		return domain.Participation{}, err
	}
	if p.Payout, err = parseDecimal(payout); err != nil {
		return domain.Participation{}, err
	}
	return p, nil
}

// RecordStake adds amount to both the bet's side total and the
// participant's aggregate.
func (s *LedgerStore) RecordStake(ctx context.Context, betID uint64, participant string, side domain.Side, amount decimal.Decimal, at time.Time) (domain.Participation, error) {
	var totalCol, stakeCol string
	switch side {
	case domain.SideAbove:
		totalCol, stakeCol = "total_stake_above", "stake_above"
	case domain.SideBelow:
		totalCol, stakeCol = "total_stake_below", "stake_below"
	default:
		return domain.Participation{}, fmt.Errorf("postgres: record stake side %q: %w", side, domain.ErrInvalidParameters)
	}

	var p domain.Participation
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE bets SET `+totalCol+` = `+totalCol+` + $2::numeric WHERE id = $1 AND state = 'open'`,
			int64(betID), amount.String(),
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM bets WHERE id = $1)`, int64(betID)).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return domain.ErrNotFound
			}
			return domain.ErrBetClosed
		}

		q := `
			INSERT INTO participations (bet_id, participant, ` + stakeCol + `, updated_at)
			VALUES ($1, $2, $3::numeric, $4)
			ON CONFLICT (bet_id, participant) DO UPDATE SET
				` + stakeCol + ` = participations.` + stakeCol + ` + EXCLUDED.` + stakeCol + `,
				updated_at = EXCLUDED.updated_at
			RETURNING ` + participationSelectCols
		p, err = scanParticipation(tx.QueryRow(ctx, q, int64(betID), participant, amount.String(), at))
		return err
	})
	if err != nil {
		return domain.Participation{}, fmt.Errorf("postgres: record stake bet %d: %w", betID, err)
	}
	return p, nil
}

// GetParticipation returns the aggregate record for participant in bet.
func (s *LedgerStore) GetParticipation(ctx context.Context, betID uint64, participant string) (domain.Participation, error) {
	const q = `SELECT ` + participationSelectCols + ` FROM participations WHERE bet_id = $1 AND participant = $2`

	p, err := scanParticipation(s.pool.QueryRow(ctx, q, int64(betID), participant))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Participation{}, fmt.Errorf("postgres: participation %d/%s: %w", betID, participant, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Participation{}, fmt.Errorf("postgres: participation %d/%s: %w", betID, participant, err)
	}
	return p, nil
}

// ListParticipations returns every participation of a bet ordered by
// participant.
func (s *LedgerStore) ListParticipations(ctx context.Context, betID uint64) ([]domain.Participation, error) {
	const q = `SELECT ` + participationSelectCols + ` FROM participations WHERE bet_id = $1 ORDER BY participant`

	rows, err := s.pool.Query(ctx, q, int64(betID))
	if err != nil {
		return nil, fmt.Errorf("postgres: list participations %d: %w", betID, err)
	}
	parts, err := collect(rows, scanParticipation)
	if err != nil {
		return nil, fmt.Errorf("postgres: list participations %d: %w", betID, err)
	}
	if parts == nil {
		parts = []domain.Participation{}
	}
	return parts, nil
}

// BeginClaim flags the participation as claimed with a pending transfer.
func (s *LedgerStore) BeginClaim(ctx context.Context, betID uint64, participant, claimID string, payout decimal.Decimal, at time.Time) error {
	const q = `
		UPDATE participations SET
			claimed      = TRUE,
			claim_status = 'pending',
			claim_id     = $3,
			payout       = $4::numeric,
			claimed_at   = $5,
			updated_at   = $5
		WHERE bet_id = $1 AND participant = $2 AND NOT claimed`

	tag, err := s.pool.Exec(ctx, q, int64(betID), participant, claimID, payout.String(), at)
	if err != nil {
		return fmt.Errorf("postgres: begin claim %d/%s: %w", betID, participant, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.GetParticipation(ctx, betID, participant); err != nil {
		return fmt.Errorf("postgres: begin claim: %w", err)
	}
	return fmt.Errorf("postgres: begin claim %d/%s: %w", betID, participant, domain.ErrAlreadyClaimed)
}

// CompleteClaim marks the pending claim identified by claimID as paid.
func (s *LedgerStore) CompleteClaim(ctx context.Context, betID uint64, participant, claimID string) error {
	const q = `
		UPDATE participations SET claim_status = 'paid'
		WHERE bet_id = $1 AND participant = $2 AND claim_id = $3 AND claim_status = 'pending'`

	return s.updatePending(ctx, "complete claim", q, betID, participant, claimID)
}

// AbortClaim clears the pending claim identified by claimID.
func (s *LedgerStore) AbortClaim(ctx context.Context, betID uint64, participant, claimID string) error {
	const q = `
		UPDATE participations SET
			claimed      = FALSE,
			claim_status = '',
			claim_id     = '',
			payout       = 0,
			claimed_at   = NULL
		WHERE bet_id = $1 AND participant = $2 AND claim_id = $3 AND claim_status = 'pending'`

	return s.updatePending(ctx, "abort claim", q, betID, participant, claimID)
}

func (s *LedgerStore) updatePending(ctx context.Context, op, q string, betID uint64, participant, claimID string) error {
	tag, err := s.pool.Exec(ctx, q, int64(betID), participant, claimID)
	if err != nil {
		return fmt.Errorf("postgres: %s %d/%s: %w", op, betID, participant, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: %s: pending claim %s on %d/%s: %w", op, claimID, betID, participant, domain.ErrNotFound)
	}
	return nil
}

// ListPendingClaims returns pending claims started before the given time.
func (s *LedgerStore) ListPendingClaims(ctx context.Context, before time.Time) ([]domain.Participation, error) {
	const q = `
		SELECT ` + participationSelectCols + ` FROM participations
		WHERE claim_status = 'pending' AND claimed_at < $1
		ORDER BY bet_id, participant`

	rows, err := s.pool.Query(ctx, q, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending claims: %w", err)
	}
	parts, err := collect(rows, scanParticipation)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending claims: %w", err)
	}
	return parts, nil
}

var _ domain.LedgerStore = (*LedgerStore)(nil)
