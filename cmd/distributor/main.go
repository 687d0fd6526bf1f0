package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ligun0805/batch-distributor/internal/config"
)

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1 // run halted or failed at runtime
	exitConfig  = 2
)

// exitError carries the process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func configError(err error) error { return &exitError{code: exitConfig, err: err} }
func runtimeError(err error) error { return &exitError{code: exitFailure, err: err} }

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	if errors.Is(err, config.ErrInvalidConfig) {
		return exitConfig
	}
	return exitFailure
}

// flagKeys maps CLI flags to config keys. Flags override environment and
// config file values only when set explicitly.
var flagKeys = map[string]string{
	"rpc-url":           config.KeyRPCURL,
	"chain-id":          config.KeyChainID,
	"contract":          config.KeyContractAddress,
	"base-nonce":        config.KeyBaseNonce,
	"abi":               config.KeyABIPath,
	"rate-limit":        config.KeyRPCRateLimit,
	"confirm-timeout":   config.KeyConfirmTimeout,
	"confirm-poll":      config.KeyConfirmPoll,
	"tip-gwei":          config.KeyTipGwei,
	"gas-buffer":        config.KeyGasBufferPct,
	"report":            config.KeyReportPath,
	"log-level":         config.KeyLogLevel,
	"log-format":        config.KeyLogFormat,
	"ask-key":           config.KeyAskKey,
	"csv":               config.KeyCSVFilePath,
	"batch-size":        config.KeyBatchSize,
	"start-offset":      config.KeyStartOffset,
	"errors":            config.KeyErrorsPath,
	"distribute-method": config.KeyDistributeMethod,
	"calls":             config.KeyTriggerCalls,
	"trigger-method":    config.KeyTriggerMethod,
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok && err == nil {
			err = v.BindPFlag(key, f)
		}
	})
	return err
}

type app struct {
	v          *viper.Viper
	configFile string
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.NewViper()}

	root := &cobra.Command{
		Use:   "distributor",
		Short: "Batch token distribution to a contract from a CSV of (address, amount) rows",
		Long: `Reads recipients and amounts from a CSV file, validates every row, and submits
them to the distribution contract in fixed-size batches with sequential nonces.

Settings come from .env / .env.local, the environment (UPPER_CASE or lower_case),
an optional --config file, and the flags below, in increasing priority.

Example:
  distributor plan --csv recipients.csv --base-nonce 10
  distributor distribute --csv recipients.csv --base-nonce pending
  distributor trigger --calls 3 --base-nonce 14`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configFile, "config", "", "optional config file (yaml, json or toml)")
	pf.String("rpc-url", "", "JSON-RPC endpoint (RPC_URL)")
	pf.String("chain-id", "", "chain ID, fetched from the node when empty (CHAIN_ID)")
	pf.String("contract", "", "distribution contract address (CONTRACT_ADDRESS)")
	pf.String("base-nonce", "", `nonce of the first transaction, or "pending" (BASE_NONCE)`)
	pf.String("abi", "", "contract ABI JSON file, built-in ABI when empty (ABI_PATH)")
	pf.Float64("rate-limit", 0, "RPC requests per second, 0 = unlimited (RPC_RATE_LIMIT)")
	pf.Int("confirm-timeout", 0, "seconds to wait for each receipt (CONFIRM_TIMEOUT_SEC)")
	pf.Int("confirm-poll", 0, "receipt poll interval in ms (CONFIRM_POLL_MS)")
	pf.String("tip-gwei", "", "priority fee in gwei, 0 = node suggestion (TIP_GWEI)")
	pf.Int("gas-buffer", 0, "percent added to the gas estimate (GAS_BUFFER_PCT)")
	pf.String("report", "", "JSON report path (REPORT_PATH)")
	pf.String("log-level", "", "debug, info, warn or error (LOG_LEVEL)")
	pf.String("log-format", "", "console or json (LOG_FORMAT)")
	pf.Bool("ask-key", false, "prompt for the private key instead of reading PRIVATE_KEY")

	root.AddCommand(
		a.distributeCmd(),
		a.planCmd(),
		a.triggerCmd(),
	)
	return root
}

func addCSVFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("csv", "", "input CSV with address and amount columns (CSV_FILE_PATH)")
	f.Int("batch-size", 0, "entries per transaction (BATCH_SIZE, default 500)")
	f.Int("start-offset", 0, "skip this many valid entries (START_OFFSET)")
	f.String("errors", "", "invalid-row ledger CSV path (ERRORS_PATH)")
	f.String("distribute-method", "", "contract method taking (address[], uint256[]) (DISTRIBUTE_METHOD)")
}

// settings loads and validates configuration for cmd.
func (a *app) settings(cmd *cobra.Command, which config.Command) (config.Settings, error) {
	if err := bindFlags(a.v, cmd.Flags()); err != nil {
		return config.Settings{}, configError(err)
	}
	st, err := config.Load(a.v, a.configFile)
	if err != nil {
		return st, configError(err)
	}
	if err := st.Validate(which); err != nil {
		return st, configError(err)
	}
	return st, nil
}

func main() {
	if err := config.LoadDotEnv("."); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfig)
	}
	err := newRootCmd().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(exitCode(err))
}
