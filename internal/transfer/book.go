// Package transfer moves claim payouts to participants, either into internal
// balances or as native-value transactions on an EVM chain.
package transfer

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/betcoon/internal/domain"
)

// Book credits payouts to internal account balances. The request id is the
// idempotency key, so a retried claim never credits twice.
//
// Book is a payout sink: stakes are taken on trust when a participant joins
// and are never debited from these balances, so a balance is the sum of
// gross payouts received, not a net position.
type Book struct {
	balances domain.BalanceStore
}

// NewBook creates a Book over balances.
func NewBook(balances domain.BalanceStore) *Book {
	return &Book{balances: balances}
}

// Transfer credits req.Amount to req.To.
func (b *Book) Transfer(ctx context.Context, req domain.TransferRequest) error {
	if req.ID == "" || req.To == "" || !req.Amount.IsPositive() {
		return fmt.Errorf("transfer/book: %+v: %w", req, domain.ErrInvalidParameters)
	}
	if err := b.balances.Credit(ctx, req.ID, req.To, req.Amount); err != nil {
		// The credit may have committed. Credits are idempotent per id, so
		// the pending claim is retried rather than reverted.
		return fmt.Errorf("transfer/book: credit %s: %w: %w", req.To, domain.ErrTransferUnknown, err)
	}
	return nil
}

var _ domain.Transferer = (*Book)(nil)
