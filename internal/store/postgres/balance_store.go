package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/betcoon/internal/domain"
)

// BalanceStore implements domain.BalanceStore using PostgreSQL. Every
// credit is keyed by its transfer id in balance_credits.
type BalanceStore struct {
	pool *pgxpool.Pool
}

// NewBalanceStore creates a BalanceStore backed by pool.
func NewBalanceStore(pool *pgxpool.Pool) *BalanceStore {
	return &BalanceStore{pool: pool}
}

// Credit adds amount to account unless transferID was already applied.
func (s *BalanceStore) Credit(ctx context.Context, transferID, account string, amount decimal.Decimal) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO balances (account) VALUES ($1) ON CONFLICT (account) DO NOTHING`,
			account,
		); err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `
			INSERT INTO balance_credits (transfer_id, account, amount)
			VALUES ($1, $2, $3::numeric)
			ON CONFLICT (transfer_id) DO NOTHING`,
			transferID, account, amount.String(),
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		_, err = tx.Exec(ctx,
			`UPDATE balances SET amount = amount + $2::numeric, updated_at = NOW() WHERE account = $1`,
			account, amount.String(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("postgres: credit %s (%s): %w", account, transferID, err)
	}
	return nil
}

// Balance returns the account balance. Unknown accounts hold zero.
func (s *BalanceStore) Balance(ctx context.Context, account string) (decimal.Decimal, error) {
	var raw string
	err := s.pool.QueryRow(ctx, `SELECT amount::text FROM balances WHERE account = $1`, account).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("postgres: balance %s: %w", account, err)
	}
	return parseDecimal(raw)
}

var _ domain.BalanceStore = (*BalanceStore)(nil)
