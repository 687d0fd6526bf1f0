package distribution_test

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ligun0805/batch-distributor/internal/distribution"
	"github.com/ligun0805/batch-distributor/internal/distribution/mocks"
)

func entries(n int) []distribution.Entry {
	out := make([]distribution.Entry, n)
	for i := range out {
		out[i] = distribution.Entry{
			Address: common.BigToAddress(big.NewInt(int64(i + 1))),
			Amount:  big.NewInt(1),
		}
	}
	return out
}

// expectBatch wires one successful simulate/submit/confirm round and records
// the nonce and size the chain saw.
func expectBatch(client *mocks.MockChainClient, seen *[]distribution.CallSpec, confirmErr error) {
	var hash common.Hash
	client.EXPECT().Simulate(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, spec distribution.CallSpec) (distribution.PreparedCall, error) {
			*seen = append(*seen, spec)
			hash = common.BigToHash(new(big.Int).SetUint64(spec.Nonce + 1))
			return distribution.PreparedCall{Spec: spec}, nil
		})
	client.EXPECT().Submit(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, distribution.PreparedCall) (common.Hash, error) { return hash, nil })
	call := client.EXPECT().AwaitConfirmation(gomock.Any(), gomock.Any())
	if confirmErr != nil {
		call.Return(nil, confirmErr)
		return
	}
	call.Return(&types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(1)}, nil)
}

func TestDistributeCompletes(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockChainClient(ctrl)
	var seen []distribution.CallSpec
	for i := 0; i < 3; i++ {
		expectBatch(client, &seen, nil)
	}

	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)
	sub := distribution.NewSubmitter(client, contract, distribution.DistributionCall("setDistribution"), logger)
	runner := distribution.NewRunner(sub, logger)

	out, err := runner.Distribute(context.Background(), entries(1200),
		distribution.Plan{BatchSize: 500, StartOffset: 0, BaseNonce: 10})
	require.NoError(t, err)

	assert.Equal(t, distribution.StateCompleted, out.State)
	assert.NoError(t, out.Err)
	assert.Equal(t, 3, out.Confirmed())
	assert.Zero(t, out.Remaining)

	require.Len(t, seen, 3)
	for i, spec := range seen {
		assert.Equal(t, uint64(10+i), spec.Nonce)
	}
	assert.Len(t, seen[2].Args[0], 200)
	assert.Len(t, logs.FilterMessage("processing batch").All(), 3)
	assert.Equal(t, 1, logs.FilterMessage("run completed").Len())

	_, _, ok := out.Resume()
	assert.False(t, ok)
}

func TestDistributeHaltsOnFirstFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockChainClient(ctrl)
	var seen []distribution.CallSpec
	timeout := errors.New("receipt not found before timeout")
	expectBatch(client, &seen, nil)
	expectBatch(client, &seen, timeout)

	runner := distribution.NewRunner(
		distribution.NewSubmitter(client, contract, distribution.DistributionCall("setDistribution"), nil), nil)

	out, err := runner.Distribute(context.Background(), entries(1200),
		distribution.Plan{BatchSize: 500, BaseNonce: 10})
	require.NoError(t, err)

	assert.Equal(t, distribution.StateHalted, out.State)
	require.Len(t, out.Results, 2)
	assert.True(t, out.Results[0].Confirmed)
	assert.False(t, out.Results[1].Confirmed)
	assert.Equal(t, 1, out.Confirmed())
	assert.Equal(t, 1, out.Remaining)
	assert.ErrorIs(t, out.Err, distribution.ErrConfirmationFailed)
	assert.ErrorIs(t, out.Err, timeout)

	for _, spec := range seen {
		assert.NotEqual(t, uint64(12), spec.Nonce)
	}

	offset, nonce, ok := out.Resume()
	require.True(t, ok)
	assert.Equal(t, 500, offset)
	assert.Equal(t, uint64(11), nonce)
}

func TestDistributeWithOffset(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockChainClient(ctrl)
	var seen []distribution.CallSpec
	expectBatch(client, &seen, nil)

	runner := distribution.NewRunner(
		distribution.NewSubmitter(client, contract, distribution.DistributionCall("setDistribution"), nil), nil)

	out, err := runner.Distribute(context.Background(), entries(1200),
		distribution.Plan{BatchSize: 500, StartOffset: 700, BaseNonce: 4})
	require.NoError(t, err)
	assert.Equal(t, distribution.StateCompleted, out.State)
	require.Len(t, out.Results, 1)
	assert.Equal(t, 700, out.Results[0].Batch.Start)
	assert.Equal(t, uint64(4), seen[0].Nonce)
}

func TestDistributePlanningError(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := distribution.NewRunner(
		distribution.NewSubmitter(mocks.NewMockChainClient(ctrl), contract, distribution.DistributionCall("x"), nil), nil)

	out, err := runner.Distribute(context.Background(), entries(3), distribution.Plan{BatchSize: 0})
	assert.ErrorIs(t, err, distribution.ErrInvalidBatchSize)
	assert.Equal(t, distribution.StatePending, out.State)
	assert.Empty(t, out.Results)
}

func TestRunZeroBatches(t *testing.T) {
	runner := distribution.NewRunner(stubSubmitter(nil), nil)
	out := runner.Run(context.Background(), nil)
	assert.Equal(t, distribution.StateCompleted, out.State)
	assert.Empty(t, out.Results)
}

func TestRunCancelledBetweenBatches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	runner := distribution.NewRunner(stubSubmitter(func(b distribution.Batch) distribution.SubmissionResult {
		calls++
		cancel()
		return distribution.SubmissionResult{Batch: b, Confirmed: true}
	}), nil)

	out := runner.Run(ctx, distribution.AssignNonces(distribution.CallBatches(3), 0))
	assert.Equal(t, 1, calls)
	assert.Equal(t, distribution.StateHalted, out.State)
	assert.ErrorIs(t, out.Err, context.Canceled)
	assert.Equal(t, 2, out.Remaining)
	_, _, ok := out.Resume()
	assert.False(t, ok)
}

func TestRunUnconfirmedResultHalts(t *testing.T) {
	runner := distribution.NewRunner(stubSubmitter(func(b distribution.Batch) distribution.SubmissionResult {
		return distribution.SubmissionResult{Batch: b}
	}), nil)

	out := runner.Run(context.Background(), distribution.CallBatches(2))
	assert.Equal(t, distribution.StateHalted, out.State)
	assert.ErrorIs(t, out.Err, distribution.ErrConfirmationFailed)
	assert.Len(t, out.Results, 1)
}

type stubSubmitter func(distribution.Batch) distribution.SubmissionResult

func (f stubSubmitter) Submit(_ context.Context, b distribution.Batch) distribution.SubmissionResult {
	return f(b)
}
