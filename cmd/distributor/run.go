package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ligun0805/batch-distributor/internal/chain"
	"github.com/ligun0805/batch-distributor/internal/config"
	"github.com/ligun0805/batch-distributor/internal/csvsource"
	"github.com/ligun0805/batch-distributor/internal/distribution"
	"github.com/ligun0805/batch-distributor/internal/logging"
	"github.com/ligun0805/batch-distributor/internal/report"
)

// session is the per-invocation state shared by the commands.
type session struct {
	st     config.Settings
	log    *zap.Logger
	runID  string
	report *report.Report
}

func (a *app) newSession(cmd *cobra.Command, which config.Command) (*session, error) {
	st, err := a.settings(cmd, which)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(st.LogLevel, st.LogFormat)
	if err != nil {
		return nil, configError(err)
	}
	runID := uuid.NewString()
	logger = logger.With(zap.String("run_id", runID), zap.String("command", string(which)))
	return &session{
		st:     st,
		log:    logger,
		runID:  runID,
		report: report.New(runID, string(which), st.Contract().Hex()),
	}, nil
}

func (a *app) distributeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "distribute",
		Short: "Validate the CSV and submit every batch, halting at the first failure",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.newSession(cmd, config.CommandDistribute)
			if err != nil {
				return err
			}
			defer s.log.Sync() //nolint:errcheck
			return s.distribute(cmd.Context())
		},
	}
	addCSVFlags(cmd)
	return cmd
}

func (a *app) planCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Validate the CSV and print the batches and nonces without sending anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.newSession(cmd, config.CommandPlan)
			if err != nil {
				return err
			}
			defer s.log.Sync() //nolint:errcheck
			return s.plan(cmd.Context())
		},
	}
	addCSVFlags(cmd)
	return cmd
}

func (a *app) triggerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Send TRIGGER_CALLS sequential no-argument calls (default distribute())",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.newSession(cmd, config.CommandTrigger)
			if err != nil {
				return err
			}
			defer s.log.Sync() //nolint:errcheck
			return s.trigger(cmd.Context())
		},
	}
	cmd.Flags().Int("calls", 0, "number of calls (TRIGGER_CALLS, default 1)")
	cmd.Flags().String("trigger-method", "", "no-argument contract method (TRIGGER_METHOD)")
	return cmd
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func (s *session) distribute(parent context.Context) error {
	ctx, stop := signalContext(parent)
	defer stop()

	contractABI, err := s.loadABI(s.st.DistributeMethod)
	if err != nil {
		return err
	}
	col, err := s.collect(ctx)
	if err != nil {
		return err
	}

	client, err := s.dial(ctx, contractABI)
	if err != nil {
		return err
	}
	defer client.Close()

	base, err := s.baseNonce(ctx, client)
	if err != nil {
		return err
	}
	plan := distribution.Plan{BatchSize: s.st.BatchSize, StartOffset: s.st.StartOffset, BaseNonce: base}
	batches, err := distribution.Build(col.Entries, plan)
	if err != nil {
		return configError(err)
	}
	s.report.AddPlan(batches, plan.BatchSize, plan.StartOffset)
	s.log.Info("distribution planned",
		zap.Int("entries", len(col.Entries)-min(plan.StartOffset, len(col.Entries))),
		zap.Int("batches", len(batches)),
		zap.Uint64("base_nonce", base),
		zap.String("total_amount", s.report.TotalAmount),
	)

	submitter := distribution.NewSubmitter(client, s.st.Contract(), distribution.DistributionCall(s.st.DistributeMethod), s.log)
	outcome := distribution.NewRunner(submitter, s.log).Run(ctx, batches)
	return s.finish(outcome)
}

func (s *session) plan(parent context.Context) error {
	ctx, stop := signalContext(parent)
	defer stop()

	col, err := s.collect(ctx)
	if err != nil {
		return err
	}

	var base uint64
	if s.st.PendingNonce() {
		client, err := s.dial(ctx, nil)
		if err != nil {
			return err
		}
		defer client.Close()
		if base, err = s.baseNonce(ctx, client); err != nil {
			return err
		}
	} else {
		base = s.st.FixedNonce()
	}

	batches, err := distribution.Build(col.Entries, distribution.Plan{
		BatchSize:   s.st.BatchSize,
		StartOffset: s.st.StartOffset,
		BaseNonce:   base,
	})
	if err != nil {
		return configError(err)
	}
	s.report.AddPlan(batches, s.st.BatchSize, s.st.StartOffset)
	s.report.Finish(distribution.StatePending)
	s.report.Log(s.log)
	return s.writeReport()
}

func (s *session) trigger(parent context.Context) error {
	ctx, stop := signalContext(parent)
	defer stop()

	contractABI, err := s.loadABI(s.st.TriggerMethod)
	if err != nil {
		return err
	}
	client, err := s.dial(ctx, contractABI)
	if err != nil {
		return err
	}
	defer client.Close()

	base, err := s.baseNonce(ctx, client)
	if err != nil {
		return err
	}
	batches := distribution.AssignNonces(distribution.CallBatches(s.st.TriggerCalls), base)
	s.report.AddPlan(batches, 0, 0)

	submitter := distribution.NewSubmitter(client, s.st.Contract(), distribution.TriggerCall(s.st.TriggerMethod), s.log)
	outcome := distribution.NewRunner(submitter, s.log).Run(ctx, batches)
	return s.finish(outcome)
}

// collect reads and validates the CSV and writes the invalid-row ledger.
func (s *session) collect(ctx context.Context) (distribution.Collection, error) {
	src, err := csvsource.Open(s.st.CSVFilePath)
	if err != nil {
		return distribution.Collection{}, runtimeError(err)
	}
	defer src.Close()

	col, err := distribution.Collect(ctx, src, s.log)
	if err != nil {
		return distribution.Collection{}, runtimeError(fmt.Errorf("%s: %w", s.st.CSVFilePath, err))
	}
	s.report.AddCollection(col)

	if err := report.WriteInvalidRows(s.st.ErrorsPath, col.Errors); err != nil {
		return col, runtimeError(err)
	}
	if len(col.Errors) > 0 {
		s.log.Warn("invalid rows written", zap.String("path", s.st.ErrorsPath), zap.Int("count", len(col.Errors)))
	}
	return col, nil
}

func (s *session) loadABI(method string) (*abi.ABI, error) {
	if s.st.ABIPath == "" {
		parsed := chain.DistributorABI()
		if err := chain.RequireMethods(&parsed, method); err != nil {
			return nil, configError(fmt.Errorf("%w (set ABI_PATH for custom contracts)", err))
		}
		return nil, nil
	}
	parsed, err := chain.LoadABI(s.st.ABIPath)
	if err != nil {
		return nil, configError(err)
	}
	if err := chain.RequireMethods(parsed, method); err != nil {
		return nil, configError(err)
	}
	return parsed, nil
}

func (s *session) dial(ctx context.Context, contractABI *abi.ABI) (*chain.Client, error) {
	keyHex := s.st.PrivateKeyHex
	if s.st.AskKey {
		var err error
		if keyHex, err = readPassword("Private key: "); err != nil {
			return nil, configError(err)
		}
	}
	key, err := chain.ParsePrivateKey(keyHex)
	if err != nil {
		return nil, configError(err)
	}
	tip, err := s.st.TipWei()
	if err != nil {
		return nil, configError(err)
	}

	client, err := chain.Dial(ctx, s.st.RPCURL, key, chain.Options{
		ChainID:        s.st.ChainIDValue(),
		RateLimit:      s.st.RPCRateLimit,
		ConfirmTimeout: s.st.ConfirmTimeout(),
		PollInterval:   s.st.ConfirmPoll(),
		Tip:            tip,
		GasBufferPct:   uint64(s.st.GasBufferPct),
		ABI:            contractABI,
		Logger:         s.log,
	})
	if err != nil {
		return nil, runtimeError(err)
	}

	s.report.Sender = client.Sender().Hex()
	s.report.ChainID = client.ChainID().String()
	s.log.Info("connected",
		zap.String("rpc", s.st.RPCURL),
		zap.String("chain_id", s.report.ChainID),
		zap.String("sender", s.report.Sender),
		zap.String("key", logging.MaskHex(keyHex)),
		zap.String("contract", s.report.Contract),
	)
	return client, nil
}

func (s *session) baseNonce(ctx context.Context, client *chain.Client) (uint64, error) {
	if !s.st.PendingNonce() {
		return s.st.FixedNonce(), nil
	}
	n, err := client.PendingNonce(ctx)
	if err != nil {
		return 0, runtimeError(fmt.Errorf("resolve pending nonce: %w", err))
	}
	s.log.Info("base nonce resolved from node", zap.Uint64("nonce", n))
	return n, nil
}

// finish records the outcome, writes the report and maps a halt to exit 1.
func (s *session) finish(outcome distribution.Outcome) error {
	s.report.AddOutcome(outcome)
	s.report.Finish(outcome.State)
	s.report.Log(s.log)
	if err := s.writeReport(); err != nil {
		return err
	}
	if outcome.State != distribution.StateCompleted {
		return runtimeError(fmt.Errorf("run halted: %w", outcome.Err))
	}
	return nil
}

func (s *session) writeReport() error {
	if err := s.report.WriteJSON(s.st.ReportPath); err != nil {
		return runtimeError(err)
	}
	s.log.Info("report written", zap.String("path", s.st.ReportPath))
	return nil
}
