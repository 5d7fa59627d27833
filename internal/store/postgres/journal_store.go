package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/betcoon/internal/domain"
)

// TransferJournalStore implements domain.TransferJournal over the
// transfer_journal table.
type TransferJournalStore struct {
	pool *pgxpool.Pool
}

// NewTransferJournalStore creates a TransferJournalStore backed by pool.
func NewTransferJournalStore(pool *pgxpool.Pool) *TransferJournalStore {
	return &TransferJournalStore{pool: pool}
}

// Save inserts payload for transferID. An existing row is left untouched.
func (s *TransferJournalStore) Save(ctx context.Context, transferID string, payload []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO transfer_journal (transfer_id, payload)
		VALUES ($1, $2)
		ON CONFLICT (transfer_id) DO NOTHING`,
		transferID, payload,
	)
	if err != nil {
		return fmt.Errorf("postgres: save transfer %s: %w", transferID, err)
	}
	return nil
}

// Load returns the payload saved for transferID.
func (s *TransferJournalStore) Load(ctx context.Context, transferID string) ([]byte, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM transfer_journal WHERE transfer_id = $1`, transferID,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: transfer %s: %w", transferID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: load transfer %s: %w", transferID, err)
	}
	return payload, nil
}

var _ domain.TransferJournal = (*TransferJournalStore)(nil)
