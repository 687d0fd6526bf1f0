package distribution

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

//go:generate mockgen -destination=mocks/chain_client.go -package=mocks . ChainClient

// CallSpec describes one contract call before simulation.
type CallSpec struct {
	Contract common.Address
	Method   string
	Args     []any
	Nonce    uint64
}

// PreparedCall is a simulated call ready to be signed and broadcast.
type PreparedCall struct {
	Spec   CallSpec
	Data   []byte
	Gas    uint64
	TipCap *big.Int
	FeeCap *big.Int
}

// ChainClient is the narrow view of the chain the submitter needs.
type ChainClient interface {
	Simulate(ctx context.Context, spec CallSpec) (PreparedCall, error)
	Submit(ctx context.Context, call PreparedCall) (common.Hash, error)
	AwaitConfirmation(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// CallBuilder maps a batch to the contract method and arguments it is sent as.
type CallBuilder func(b Batch) (method string, args []any)

// DistributionCall sends the batch as method(address[] wallets, uint256[] amounts).
func DistributionCall(method string) CallBuilder {
	return func(b Batch) (string, []any) {
		return method, []any{b.Wallets(), b.Amounts()}
	}
}

// TriggerCall sends every batch as a no-argument call.
func TriggerCall(method string) CallBuilder {
	return func(Batch) (string, []any) { return method, nil }
}

// Stage names the submission step that failed.
type Stage string

const (
	StageSimulate Stage = "simulate"
	StageSubmit   Stage = "submit"
	StageConfirm  Stage = "confirm"
)

var (
	ErrSimulationFailed   = errors.New("simulation failed")
	ErrSubmissionFailed   = errors.New("submission failed")
	ErrConfirmationFailed = errors.New("confirmation failed")
)

func (s Stage) sentinel() error {
	switch s {
	case StageSimulate:
		return ErrSimulationFailed
	case StageSubmit:
		return ErrSubmissionFailed
	default:
		return ErrConfirmationFailed
	}
}

// BatchError is a chain failure scoped to one batch. errors.Is matches both
// the stage sentinel and the underlying cause.
type BatchError struct {
	Stage  Stage
	Index  int
	Nonce  uint64
	TxHash common.Hash
	Err    error
}

func (e *BatchError) Error() string {
	msg := fmt.Sprintf("batch %d (nonce %d): %s", e.Index, e.Nonce, e.Stage.sentinel())
	if e.TxHash != (common.Hash{}) {
		msg += " tx=" + e.TxHash.Hex()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BatchError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Stage.sentinel()}
	}
	return []error{e.Stage.sentinel(), e.Err}
}

// Submitter pushes one batch through simulate, broadcast and confirmation.
type Submitter struct {
	client   ChainClient
	contract common.Address
	build    CallBuilder
	logger   *zap.Logger
}

func NewSubmitter(client ChainClient, contract common.Address, build CallBuilder, logger *zap.Logger) *Submitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Submitter{client: client, contract: contract, build: build, logger: logger}
}

// Submit runs the three steps strictly in order. A failed step ends the
// attempt: simulation failures never broadcast and confirmation is only
// awaited for a broadcast transaction.
func (s *Submitter) Submit(ctx context.Context, b Batch) SubmissionResult {
	res := SubmissionResult{Batch: b}
	log := s.logger.With(zap.Int("batch", b.Index), zap.Uint64("nonce", b.Nonce))
	fail := func(stage Stage, err error) SubmissionResult {
		res.Err = &BatchError{Stage: stage, Index: b.Index, Nonce: b.Nonce, TxHash: res.TxHash, Err: err}
		log.Error("batch failed", zap.String("stage", string(stage)), zap.Error(err))
		return res
	}

	method, args := s.build(b)
	spec := CallSpec{Contract: s.contract, Method: method, Args: args, Nonce: b.Nonce}

	call, err := s.client.Simulate(ctx, spec)
	if err != nil {
		return fail(StageSimulate, err)
	}
	log.Debug("simulation ok", zap.String("method", method), zap.Uint64("gas", call.Gas))

	hash, err := s.client.Submit(ctx, call)
	if err != nil {
		return fail(StageSubmit, err)
	}
	res.TxHash = hash
	log.Info("transaction sent", zap.String("tx", hash.Hex()))

	receipt, err := s.client.AwaitConfirmation(ctx, hash)
	if err != nil {
		return fail(StageConfirm, err)
	}
	if receipt != nil {
		if receipt.BlockNumber != nil {
			res.BlockNumber = receipt.BlockNumber.Uint64()
		}
		res.GasUsed = receipt.GasUsed
	}
	res.Confirmed = true
	log.Info("transaction confirmed", zap.String("tx", hash.Hex()), zap.Uint64("block", res.BlockNumber))
	return res
}
