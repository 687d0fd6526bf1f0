package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/ligun0805/batch-distributor/internal/distribution"
)

var _ distribution.ChainClient = (*Client)(nil)

// defaultTip is used when the node cannot suggest a priority fee.
var defaultTip = big.NewInt(2_000_000_000)

// Simulate packs the call, dry-runs it from the sender against the latest
// state and prices it. Nothing is signed or sent.
func (c *Client) Simulate(ctx context.Context, spec distribution.CallSpec) (distribution.PreparedCall, error) {
	data, err := c.abi.Pack(spec.Method, spec.Args...)
	if err != nil {
		return distribution.PreparedCall{}, fmt.Errorf("pack %s: %w", spec.Method, err)
	}
	msg := ethereum.CallMsg{From: c.sender, To: &spec.Contract, Data: data}

	if err := c.wait(ctx); err != nil {
		return distribution.PreparedCall{}, err
	}
	if _, err := c.backend.CallContract(ctx, msg, nil); err != nil {
		return distribution.PreparedCall{}, wrapRPC("eth_call", err)
	}

	if err := c.wait(ctx); err != nil {
		return distribution.PreparedCall{}, err
	}
	gas, err := c.backend.EstimateGas(ctx, msg)
	if err != nil {
		return distribution.PreparedCall{}, wrapRPC("eth_estimateGas", err)
	}
	gas += gas * c.opts.GasBufferPct / 100

	tip, feeCap, err := c.prepareFees(ctx)
	if err != nil {
		return distribution.PreparedCall{}, err
	}

	c.opts.Logger.Debug("call simulated",
		zap.String("method", spec.Method),
		zap.Uint64("nonce", spec.Nonce),
		zap.Uint64("gas", gas),
		zap.String("tip", tip.String()),
		zap.String("fee_cap", feeCap.String()),
	)
	return distribution.PreparedCall{Spec: spec, Data: data, Gas: gas, TipCap: tip, FeeCap: feeCap}, nil
}

// Submit signs the prepared call with its pre-assigned nonce and broadcasts
// it once.
func (c *Client) Submit(ctx context.Context, call distribution.PreparedCall) (common.Hash, error) {
	to := call.Spec.Contract
	tx := buildDynamicTx(c.chainID, call.Spec.Nonce, &to, call.Gas, call.TipCap, call.FeeCap, call.Data)
	signed, err := signTx(tx, c.chainID, c.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign tx: %w", err)
	}

	if err := c.wait(ctx); err != nil {
		return common.Hash{}, err
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, wrapRPC("eth_sendRawTransaction", err)
	}
	return signed.Hash(), nil
}

// prepareFees returns (tip, feeCap) with feeCap = 2*baseFee + tip, never
// below 2*tip.
func (c *Client) prepareFees(ctx context.Context) (*big.Int, *big.Int, error) {
	if err := c.wait(ctx); err != nil {
		return nil, nil, err
	}
	h, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, wrapRPC("eth_getBlockByNumber", err)
	}
	if h.BaseFee == nil {
		return nil, nil, fmt.Errorf("block %v has no base fee (pre-1559 chain?)", h.Number)
	}

	tip := c.opts.Tip
	if tip == nil || tip.Sign() == 0 {
		tip = c.suggestTip(ctx)
	}

	feeCap := new(big.Int).Add(new(big.Int).Mul(h.BaseFee, big.NewInt(2)), tip)
	if t2 := new(big.Int).Mul(tip, big.NewInt(2)); t2.Cmp(feeCap) > 0 {
		feeCap = t2
	}
	return new(big.Int).Set(tip), feeCap, nil
}

func (c *Client) suggestTip(ctx context.Context) *big.Int {
	if err := c.wait(ctx); err != nil {
		return defaultTip
	}
	tip, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil || tip == nil || tip.Sign() == 0 {
		c.opts.Logger.Debug("tip suggestion unavailable, using default", zap.Error(err))
		return defaultTip
	}
	return tip
}

func buildDynamicTx(chainID *big.Int, nonce uint64, to *common.Address, gas uint64, tip, feeCap *big.Int, data []byte) *types.Transaction {
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		Gas:       gas,
		GasTipCap: new(big.Int).Set(tip),
		GasFeeCap: new(big.Int).Set(feeCap),
		To:        to,
		Value:     new(big.Int),
		Data:      data,
	})
}

func signTx(tx *types.Transaction, chainID *big.Int, key *ecdsa.PrivateKey) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), key)
}

// ParsePrivateKey accepts a hex key with or without the 0x prefix.
func ParsePrivateKey(s string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}
