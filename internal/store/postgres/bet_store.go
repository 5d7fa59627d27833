package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/betcoon/internal/domain"
)

// BetStore implements domain.BetStore using PostgreSQL.
type BetStore struct {
	pool *pgxpool.Pool
}

// NewBetStore creates a BetStore backed by pool.
func NewBetStore(pool *pgxpool.Pool) *BetStore {
	return &BetStore{pool: pool}
}

const betSelectCols = `id, subject, creator, target_value::text, created_at, cutoff_at, state,
	total_stake_above::text, total_stake_below::text, outcome, observed_value::text,
	observed_at, settled_at, oracle_failures, first_oracle_failure_at`

func scanBet(row pgx.Row) (domain.Bet, error) {
	var (
		b                   domain.Bet
		id                  int64
		target, above, below string
		state               string
		outcome, observed   *string
	)
	if err := row.Scan(
		&id, &b.Subject, &b.Creator, &target, &b.CreatedAt, &b.CutoffAt, &state,
		&above, &below, &outcome, &observed,
		&b.ObservedAt, &b.SettledAt, &b.OracleFailures, &b.FirstOracleFailureAt,
	); err != nil {
		return domain.Bet{}, err
	}
	b.ID = uint64(id)
	b.State = domain.BetState(state)
	if outcome != nil {
		side := domain.Side(*outcome)
		b.Outcome = &side
	}

	var err error
	if b.TargetValue, err = parseDecimal(target); err != nil {
		return domain.Bet{}, err
	}
	if b.TotalStakeAbove, err = parseDecimal(above); err != nil {
		return domain.Bet{}, err
	}
	if b.TotalStakeBelow, err = parseDecimal(below); err != nil {
		return domain.Bet{}, err
	}
	if b.ObservedValue, err = parseDecimalPtr(observed); err != nil {
		return domain.Bet{}, err
	}
	return b, nil
}

// Create inserts bet and returns it with its assigned id.
func (s *BetStore) Create(ctx context.Context, bet domain.Bet) (domain.Bet, error) {
	const q = `
		INSERT INTO bets (subject, creator, target_value, created_at, cutoff_at, state)
		VALUES ($1, $2, $3::numeric, $4, $5, $6)
		RETURNING ` + betSelectCols

	created, err := scanBet(s.pool.QueryRow(ctx, q,
		bet.Subject, bet.Creator, bet.TargetValue.String(), bet.CreatedAt, bet.CutoffAt, string(bet.State),
	))
	if err != nil {
		return domain.Bet{}, fmt.Errorf("postgres: create bet: %w", err)
	}
	return created, nil
}

// Get returns a bet by id.
func (s *BetStore) Get(ctx context.Context, id uint64) (domain.Bet, error) {
	bet, err := scanBet(s.pool.QueryRow(ctx, `SELECT `+betSelectCols+` FROM bets WHERE id = $1`, int64(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Bet{}, fmt.Errorf("postgres: get bet %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Bet{}, fmt.Errorf("postgres: get bet %d: %w", id, err)
	}
	return bet, nil
}

// List returns bets matching filter ordered by id.
func (s *BetStore) List(ctx context.Context, filter domain.BetFilter) ([]domain.Bet, error) {
	q := newQuery(`SELECT ` + betSelectCols + ` FROM bets`)
	if filter.State != nil {
		q.and("state = " + q.arg(string(*filter.State)))
	}
	if filter.CutoffBefore != nil {
		q.and("cutoff_at < " + q.arg(*filter.CutoffBefore))
	}
	if filter.SettledBefore != nil {
		q.and("settled_at < " + q.arg(*filter.SettledBefore))
	}
	if filter.AfterID != nil {
		q.and("id > " + q.arg(int64(*filter.AfterID)))
	}
	q.sb.WriteString(" ORDER BY id")
	q.page(filter.Limit, filter.Offset)

	rows, err := s.pool.Query(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets: %w", err)
	}
	bets, err := collect(rows, scanBet)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets: %w", err)
	}
	if bets == nil {
		bets = []domain.Bet{}
	}
	return bets, nil
}

// RecordOracleFailure bumps the failure counter of an open bet.
func (s *BetStore) RecordOracleFailure(ctx context.Context, id uint64, at time.Time) (domain.Bet, error) {
	const q = `
		UPDATE bets SET
			oracle_failures         = oracle_failures + 1,
			first_oracle_failure_at = COALESCE(first_oracle_failure_at, $2)
		WHERE id = $1 AND state = 'open'
		RETURNING ` + betSelectCols

	bet, err := scanBet(s.pool.QueryRow(ctx, q, int64(id), at))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Bet{}, s.notOpen(ctx, "oracle failure", id)
	}
	if err != nil {
		return domain.Bet{}, fmt.Errorf("postgres: oracle failure bet %d: %w", id, err)
	}
	return bet, nil
}

// Settle moves an open bet into its terminal state.
func (s *BetStore) Settle(ctx context.Context, st domain.Settlement) (domain.Bet, error) {
	const q = `
		UPDATE bets SET
			state          = $2,
			outcome        = $3,
			observed_value = $4::numeric,
			observed_at    = $5,
			settled_at     = $6
		WHERE id = $1 AND state = 'open'
		RETURNING ` + betSelectCols

	var outcome, observed *string
	if st.Outcome != nil {
		o := string(*st.Outcome)
		outcome = &o
	}
	if st.ObservedValue != nil {
		v := st.ObservedValue.String()
		observed = &v
	}

	bet, err := scanBet(s.pool.QueryRow(ctx, q,
		int64(st.BetID), string(st.State), outcome, observed, st.ObservedAt, st.SettledAt,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Bet{}, s.notOpen(ctx, "settle", st.BetID)
	}
	if err != nil {
		return domain.Bet{}, fmt.Errorf("postgres: settle bet %d: %w", st.BetID, err)
	}
	return bet, nil
}

// notOpen tells a missing bet apart from one that is no longer open after
// a conditional update matched nothing.
func (s *BetStore) notOpen(ctx context.Context, op string, id uint64) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM bets WHERE id = $1)`, int64(id)).Scan(&exists); err != nil {
		return fmt.Errorf("postgres: %s bet %d: %w", op, id, err)
	}
	if !exists {
		return fmt.Errorf("postgres: %s bet %d: %w", op, id, domain.ErrNotFound)
	}
	return fmt.Errorf("postgres: %s bet %d: %w", op, id, domain.ErrBetClosed)
}

var _ domain.BetStore = (*BetStore)(nil)
