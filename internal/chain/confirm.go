package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// DefaultPollInterval is how often Confirmer asks for a pending receipt.
const DefaultPollInterval = 2 * time.Second

// ErrZeroHash is returned when awaiting the zero transaction hash.
var ErrZeroHash = errors.New("chain: tx hash required")

// ReceiptClient is the subset of the Ethereum RPC used by the confirmer.
type ReceiptClient interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// TransactionFailedError is returned for a mined transaction whose
// execution failed. The receipt is attached for inspection.
type TransactionFailedError struct {
	Receipt *types.Receipt
}

func (e *TransactionFailedError) Error() string {
	return fmt.Sprintf("chain: transaction %s failed in block %s", e.Receipt.TxHash.Hex(), e.Receipt.BlockNumber)
}

// Confirmer waits for transactions to be mined.
type Confirmer struct {
	client   ReceiptClient
	interval time.Duration
	logger   *slog.Logger
}

// NewConfirmer creates a confirmer. A non-positive interval selects
// DefaultPollInterval.
func NewConfirmer(client ReceiptClient, interval time.Duration, logger *slog.Logger) *Confirmer {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Confirmer{client: client, interval: interval, logger: logger}
}

// Await polls until txHash is mined or ctx is done. A mined transaction
// that reverted yields its receipt and a *TransactionFailedError.
func (c *Confirmer) Await(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if txHash == (common.Hash{}) {
		return nil, ErrZeroHash
	}
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		receipt, err := c.client.TransactionReceipt(ctx, txHash)
		switch {
		case errors.Is(err, ethereum.NotFound), err == nil && receipt == nil:
			c.logger.Debug("transaction pending", "tx", txHash.Hex())
		case err != nil:
			return nil, fmt.Errorf("chain: fetch receipt %s: %w", txHash.Hex(), err)
		case receipt.Status != types.ReceiptStatusSuccessful:
			c.logger.Warn("transaction failed", "tx", txHash.Hex(), "block", receipt.BlockNumber)
			return receipt, &TransactionFailedError{Receipt: receipt}
		default:
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
