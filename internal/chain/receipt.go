package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// AwaitConfirmation polls for the receipt of hash until it is mined or the
// confirm timeout passes. A mined transaction with status 0 is returned
// together with an error matching ErrReverted.
func (c *Client) AwaitConfirmation(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		if err := c.wait(ctx); err != nil {
			return nil, c.timeoutErr(hash, err, lastErr)
		}
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, &RPCError{
					Method: "eth_getTransactionReceipt",
					Class:  ClassReverted,
					Err:    fmt.Errorf("%w: tx %s in block %v", ErrReverted, hash.Hex(), receipt.BlockNumber),
				}
			}
			return receipt, nil
		case err == nil, errors.Is(err, ethereum.NotFound):
			c.opts.Logger.Debug("receipt pending", zap.String("tx", hash.Hex()))
		default:
			lastErr = wrapRPC("eth_getTransactionReceipt", err)
			c.opts.Logger.Debug("receipt lookup failed", zap.String("tx", hash.Hex()), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil, c.timeoutErr(hash, ctx.Err(), lastErr)
		case <-ticker.C:
		}
	}
}

func (c *Client) timeoutErr(hash common.Hash, cause, last error) error {
	err := fmt.Errorf("%w: tx %s not mined within %s: %w", ErrConfirmTimeout, hash.Hex(), c.opts.ConfirmTimeout, cause)
	if last != nil {
		return errors.Join(err, last)
	}
	return err
}
