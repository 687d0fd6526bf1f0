package distribution

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// RunState is the lifecycle of one run.
type RunState string

const (
	StatePending    RunState = "Pending"
	StateProcessing RunState = "Processing"
	StateHalted     RunState = "Halted"
	StateCompleted  RunState = "Completed"
)

// BatchSubmitter submits a single batch. *Submitter implements it.
type BatchSubmitter interface {
	Submit(ctx context.Context, b Batch) SubmissionResult
}

// Plan holds the partitioning parameters of a run.
type Plan struct {
	BatchSize   int
	StartOffset int
	BaseNonce   uint64
}

// Outcome is what a run produced. Results holds every attempted batch in
// order, including the one that halted the run.
type Outcome struct {
	State     RunState
	Results   []SubmissionResult
	Err       error
	Remaining int // batches never attempted
}

// Confirmed counts results that reached confirmation.
func (o Outcome) Confirmed() int {
	n := 0
	for _, r := range o.Results {
		if r.Confirmed {
			n++
		}
	}
	return n
}

// Resume returns the start offset and nonce an operator reruns with after a
// halt. ok is false when the run did not halt on a batch.
func (o Outcome) Resume() (offset int, nonce uint64, ok bool) {
	if o.State != StateHalted {
		return 0, 0, false
	}
	for _, r := range o.Results {
		if !r.Confirmed {
			return r.Batch.Start, r.Batch.Nonce, true
		}
	}
	return 0, 0, false
}

// Runner drives batches through a submitter one at a time.
type Runner struct {
	submitter BatchSubmitter
	logger    *zap.Logger
}

func NewRunner(submitter BatchSubmitter, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{submitter: submitter, logger: logger}
}

// Build partitions entries and assigns nonces according to plan.
func Build(entries []Entry, plan Plan) ([]Batch, error) {
	batches, err := Partition(entries, plan.BatchSize, plan.StartOffset)
	if err != nil {
		return nil, err
	}
	return AssignNonces(batches, plan.BaseNonce), nil
}

// Distribute plans and runs entries. The error is reserved for planning
// failures, which happen before any batch is attempted; chain failures are
// reported through Outcome.
func (r *Runner) Distribute(ctx context.Context, entries []Entry, plan Plan) (Outcome, error) {
	batches, err := Build(entries, plan)
	if err != nil {
		return Outcome{State: StatePending}, err
	}
	return r.Run(ctx, batches), nil
}

// Run submits batches strictly in index order and stops at the first
// failure. Batches after a failure are never attempted: the chain would
// reject or stall their nonces.
func (r *Runner) Run(ctx context.Context, batches []Batch) Outcome {
	out := Outcome{State: StatePending}
	r.logger.Info("run starting", zap.Int("batches", len(batches)))

	for i, b := range batches {
		if err := ctx.Err(); err != nil {
			return r.halt(out, err, len(batches)-i)
		}
		out.State = StateProcessing
		r.logger.Info("processing batch",
			zap.Int("batch", b.Index+1),
			zap.Int("of", len(batches)),
			zap.Int("first_entry", b.Start+1),
			zap.Int("last_entry", b.End()),
			zap.Uint64("nonce", b.Nonce),
		)

		res := r.submitter.Submit(ctx, b)
		if res.Err == nil && !res.Confirmed {
			res.Err = &BatchError{Stage: StageConfirm, Index: b.Index, Nonce: b.Nonce, TxHash: res.TxHash,
				Err: errors.New("transaction not confirmed")}
		}
		out.Results = append(out.Results, res)
		if res.Err != nil {
			return r.halt(out, res.Err, len(batches)-i-1)
		}
		r.logger.Info("batch processed", zap.Int("batch", b.Index+1), zap.String("tx", res.TxHash.Hex()))
	}

	out.State = StateCompleted
	r.logger.Info("run completed", zap.Int("confirmed", out.Confirmed()))
	return out
}

func (r *Runner) halt(out Outcome, err error, remaining int) Outcome {
	out.State = StateHalted
	out.Err = err
	out.Remaining = remaining
	r.logger.Error("run halted",
		zap.Int("confirmed", out.Confirmed()),
		zap.Int("remaining", remaining),
		zap.Error(err),
	)
	return out
}
