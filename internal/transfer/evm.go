package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/betcoon/internal/crypto"
	"github.com/alanyoungcy/betcoon/internal/domain"
)

// ChainClient is the subset of ethclient.Client used to send payouts.
type ChainClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// EVMConfig configures on-chain payouts.
type EVMConfig struct {
	RPCURL   string
	ChainID  int64
	GasLimit uint64
	// Decimals converts one stake unit into base units (wei = unit * 10^Decimals).
	Decimals int32
}

// EVM pays out in the chain's native currency from the payout wallet.
//
// Each request id maps to exactly one signed transaction. The signed bytes
// are journaled before the broadcast, and a repeated request re-checks or
// re-sends that transaction, so one claim can never spend two nonces.
// Failures after the journal write return domain.ErrTransferUnknown.
type EVM struct {
	client  ChainClient
	wallet  *crypto.Wallet
	journal domain.TransferJournal
	chainID *big.Int
	cfg     EVMConfig
	logger  *slog.Logger

	mu sync.Mutex
	// next is the lowest nonce not yet signed by this process.
	next uint64
}

// DialEVM connects to cfg.RPCURL.
func DialEVM(ctx context.Context, cfg EVMConfig, wallet *crypto.Wallet, journal domain.TransferJournal, logger *slog.Logger) (*EVM, func(), error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("transfer/evm: dial %s: %w", cfg.RPCURL, err)
	}
	return NewEVM(client, wallet, journal, cfg, logger), client.Close, nil
}

// NewEVM creates an EVM transferer over client.
func NewEVM(client ChainClient, wallet *crypto.Wallet, journal domain.TransferJournal, cfg EVMConfig, logger *slog.Logger) *EVM {
	if cfg.GasLimit == 0 {
		cfg.GasLimit = 21_000
	}
	return &EVM{
		client:  client,
		wallet:  wallet,
		journal: journal,
		chainID: big.NewInt(cfg.ChainID),
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "evm_transfer")),
	}
}

// Transfer signs and broadcasts a value transfer to req.To, which must be a
// hex account address.
func (e *EVM) Transfer(ctx context.Context, req domain.TransferRequest) error {
	if !common.IsHexAddress(req.To) {
		return fmt.Errorf("transfer/evm: recipient %q is not an address: %w", req.To, domain.ErrInvalidParameters)
	}
	if !req.Amount.IsPositive() {
		return fmt.Errorf("transfer/evm: amount %s: %w", req.Amount, domain.ErrInvalidParameters)
	}

	// Serialize sends so nonces are assigned in order.
	e.mu.Lock()
	defer e.mu.Unlock()

	raw, err := e.journal.Load(ctx, req.ID)
	switch {
	case err == nil:
		return e.resume(ctx, req, raw)
	case !errors.Is(err, domain.ErrNotFound):
		// An earlier attempt may have been journaled and sent.
		return fmt.Errorf("transfer/evm: journal %s: %w: %w", req.ID, domain.ErrTransferUnknown, err)
	}

	signed, err := e.sign(ctx, req)
	if err != nil {
		return err
	}
	raw, err = signed.MarshalBinary()
	if err != nil {
		return fmt.Errorf("transfer/evm: encode: %w", err)
	}
	if err := e.journal.Save(ctx, req.ID, raw); err != nil {
		return fmt.Errorf("transfer/evm: journal %s: %w", req.ID, err)
	}
	e.next = signed.Nonce() + 1

	if err := e.send(ctx, signed); err != nil {
		return fmt.Errorf("transfer/evm: send %s: %w: %w", signed.Hash().Hex(), domain.ErrTransferUnknown, err)
	}
	e.logger.InfoContext(ctx, "payout broadcast",
		slog.String("transfer_id", req.ID),
		slog.Uint64("bet_id", req.BetID),
		slog.String("to", signed.To().Hex()),
		slog.String("value", signed.Value().String()),
		slog.Uint64("nonce", signed.Nonce()),
		slog.String("tx", signed.Hash().Hex()),
	)
	return nil
}

// sign builds the payout transaction for req. Nothing has left the process
// when it returns an error.
func (e *EVM) sign(ctx context.Context, req domain.TransferRequest) (*types.Transaction, error) {
	nonce, err := e.client.PendingNonceAt(ctx, e.wallet.Address())
	if err != nil {
		return nil, fmt.Errorf("transfer/evm: nonce: %w", err)
	}
	// A journaled transaction the node has not seen still owns its nonce.
	nonce = max(nonce, e.next)

	gasPrice, err := e.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("transfer/evm: gas price: %w", err)
	}

	to := common.HexToAddress(req.To)
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    req.Amount.Shift(e.cfg.Decimals).BigInt(),
		Gas:      e.cfg.GasLimit,
		GasPrice: gasPrice,
	})
	signed, err := e.wallet.SignTx(tx, e.chainID)
	if err != nil {
		return nil, fmt.Errorf("transfer/evm: %w", err)
	}
	return signed, nil
}

// resume settles a request whose transaction was journaled by an earlier
// attempt: a mined transaction is final, anything else is sent again.
func (e *EVM) resume(ctx context.Context, req domain.TransferRequest, raw []byte) error {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return fmt.Errorf("transfer/evm: decode journaled %s: %w: %w", req.ID, domain.ErrTransferUnknown, err)
	}
	log := e.logger.With(
		slog.String("transfer_id", req.ID),
		slog.String("tx", tx.Hash().Hex()),
	)

	receipt, err := e.client.TransactionReceipt(ctx, tx.Hash())
	switch {
	case err == nil && receipt.Status == types.ReceiptStatusSuccessful:
		log.InfoContext(ctx, "payout already mined", slog.Uint64("block", receipt.BlockNumber.Uint64()))
		return nil
	case err == nil:
		// Mined but failed: the value stayed with the payout wallet.
		return fmt.Errorf("transfer/evm: tx %s failed on chain", tx.Hash().Hex())
	case !errors.Is(err, ethereum.NotFound):
		return fmt.Errorf("transfer/evm: receipt %s: %w: %w", tx.Hash().Hex(), domain.ErrTransferUnknown, err)
	}

	if err := e.send(ctx, tx); err != nil {
		return fmt.Errorf("transfer/evm: resend %s: %w: %w", tx.Hash().Hex(), domain.ErrTransferUnknown, err)
	}
	log.InfoContext(ctx, "payout rebroadcast", slog.Uint64("nonce", tx.Nonce()))
	return nil
}

// send broadcasts tx. A node that already holds it counts as success.
func (e *EVM) send(ctx context.Context, tx *types.Transaction) error {
	err := e.client.SendTransaction(ctx, tx)
	if err != nil && strings.Contains(err.Error(), "already known") {
		return nil
	}
	return err
}

var _ domain.Transferer = (*EVM)(nil)
