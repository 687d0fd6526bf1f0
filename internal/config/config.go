package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Command selects which keys are required.
type Command string

const (
	CommandDistribute Command = "distribute"
	CommandPlan       Command = "plan"
	CommandTrigger    Command = "trigger"
)

// Keys as seen by viper. Each is also read from the environment under its
// UPPER_CASE and lower_case names.
const (
	KeyRPCURL           = "rpc_url"
	KeyChainID          = "chain_id"
	KeyPrivateKey       = "private_key"
	KeyContractAddress  = "contract_address"
	KeyCSVFilePath      = "csv_file_path"
	KeyBatchSize        = "batch_size"
	KeyBaseNonce        = "base_nonce"
	KeyStartOffset      = "start_offset"
	KeyTriggerCalls     = "trigger_calls"
	KeyDistributeMethod = "distribute_method"
	KeyTriggerMethod    = "trigger_method"
	KeyABIPath          = "abi_path"
	KeyRPCRateLimit     = "rpc_rate_limit"
	KeyConfirmTimeout   = "confirm_timeout_sec"
	KeyConfirmPoll      = "confirm_poll_ms"
	KeyTipGwei          = "tip_gwei"
	KeyGasBufferPct     = "gas_buffer_pct"
	KeyReportPath       = "report_path"
	KeyErrorsPath       = "errors_path"
	KeyLogLevel         = "log_level"
	KeyLogFormat        = "log_format"

	// KeyAskKey is flag-only.
	KeyAskKey = "ask_key"
)

// NoncePending asks the node for the sender's pending nonce.
const NoncePending = "pending"

var defaults = map[string]any{
	KeyBatchSize:        500,
	KeyStartOffset:      0,
	KeyTriggerCalls:     1,
	KeyDistributeMethod: "setDistribution",
	KeyTriggerMethod:    "distribute",
	KeyRPCRateLimit:     5,
	KeyConfirmTimeout:   120,
	KeyConfirmPoll:      1500,
	KeyTipGwei:          "0",
	KeyGasBufferPct:     20,
	KeyReportPath:       "distribution_report.json",
	KeyErrorsPath:       "invalid_rows.csv",
	KeyLogLevel:         "info",
	KeyLogFormat:        "console",
}

var allKeys = []string{
	KeyRPCURL, KeyChainID, KeyPrivateKey, KeyContractAddress, KeyCSVFilePath,
	KeyBatchSize, KeyBaseNonce, KeyStartOffset, KeyTriggerCalls,
	KeyDistributeMethod, KeyTriggerMethod, KeyABIPath, KeyRPCRateLimit,
	KeyConfirmTimeout, KeyConfirmPoll, KeyTipGwei, KeyGasBufferPct,
	KeyReportPath, KeyErrorsPath, KeyLogLevel, KeyLogFormat,
}

// Settings keeps all configuration options of one invocation.
type Settings struct {
	RPCURL           string
	ChainID          string
	PrivateKeyHex    string
	AskKey           bool
	ContractAddress  string
	CSVFilePath      string
	BatchSize        int
	BaseNonce        string
	StartOffset      int
	TriggerCalls     int
	DistributeMethod string
	TriggerMethod    string
	ABIPath          string
	RPCRateLimit     float64
	ConfirmTimeoutS  int
	ConfirmPollMS    int
	TipGwei          string
	GasBufferPct     int
	ReportPath       string
	ErrorsPath       string
	LogLevel         string
	LogFormat        string
}

// LoadDotEnv loads dir/.env and then dir/.env.local, the latter overriding.
// Variables already set in the process environment win over .env. Missing
// files are ignored.
func LoadDotEnv(dir string) error {
	base := filepath.Join(dir, ".env")
	if _, err := os.Stat(base); err == nil {
		if err := godotenv.Load(base); err != nil {
			return fmt.Errorf("load %s: %w", base, err)
		}
	}
	local := filepath.Join(dir, ".env.local")
	if _, err := os.Stat(local); err == nil {
		if err := godotenv.Overload(local); err != nil {
			return fmt.Errorf("load %s: %w", local, err)
		}
	}
	return nil
}

// NewViper returns a viper instance with defaults and environment bindings.
// Flags are bound on top by the caller.
func NewViper() *viper.Viper {
	v := viper.New()
	for k, def := range defaults {
		v.SetDefault(k, def)
	}
	for _, k := range allKeys {
		_ = v.BindEnv(k, strings.ToUpper(k), k)
	}
	return v
}

// Load reads the optional config file into v and decodes Settings. Numeric
// keys that do not parse are reported together.
func Load(v *viper.Viper, configFile string) (Settings, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, fmt.Errorf("%w: read %s: %w", ErrInvalidConfig, configFile, err)
		}
	}

	var problems []error
	getInt := func(key string) int {
		s := strings.TrimSpace(v.GetString(key))
		n, err := strconv.Atoi(s)
		if err != nil {
			problems = append(problems, fmt.Errorf("%s: %q is not an integer", strings.ToUpper(key), s))
		}
		return n
	}
	getFloat := func(key string) float64 {
		s := strings.TrimSpace(v.GetString(key))
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			problems = append(problems, fmt.Errorf("%s: %q is not a number", strings.ToUpper(key), s))
		}
		return f
	}
	get := func(key string) string { return strings.TrimSpace(v.GetString(key)) }

	st := Settings{
		RPCURL:           get(KeyRPCURL),
		ChainID:          get(KeyChainID),
		PrivateKeyHex:    get(KeyPrivateKey),
		AskKey:           v.GetBool(KeyAskKey),
		ContractAddress:  get(KeyContractAddress),
		CSVFilePath:      get(KeyCSVFilePath),
		BatchSize:        getInt(KeyBatchSize),
		BaseNonce:        strings.ToLower(get(KeyBaseNonce)),
		StartOffset:      getInt(KeyStartOffset),
		TriggerCalls:     getInt(KeyTriggerCalls),
		DistributeMethod: get(KeyDistributeMethod),
		TriggerMethod:    get(KeyTriggerMethod),
		ABIPath:          get(KeyABIPath),
		RPCRateLimit:     getFloat(KeyRPCRateLimit),
		ConfirmTimeoutS:  getInt(KeyConfirmTimeout),
		ConfirmPollMS:    getInt(KeyConfirmPoll),
		TipGwei:          get(KeyTipGwei),
		GasBufferPct:     getInt(KeyGasBufferPct),
		ReportPath:       get(KeyReportPath),
		ErrorsPath:       get(KeyErrorsPath),
		LogLevel:         strings.ToLower(get(KeyLogLevel)),
		LogFormat:        strings.ToLower(get(KeyLogFormat)),
	}
	if len(problems) > 0 {
		return st, fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(problems...))
	}
	return st, nil
}

// Validate checks that every key cmd needs is present and well formed. All
// problems are reported at once.
func (s Settings) Validate(cmd Command) error {
	var problems []error
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	pendingNonce := s.BaseNonce == NoncePending
	needsChain := cmd != CommandPlan || pendingNonce

	if needsChain && s.RPCURL == "" {
		add("RPC_URL is required")
	}
	if needsChain && s.PrivateKeyHex == "" && !s.AskKey {
		add("PRIVATE_KEY is required (or use --ask-key)")
	}
	if s.ChainID != "" {
		if id, ok := new(big.Int).SetString(s.ChainID, 10); !ok || id.Sign() <= 0 {
			add("CHAIN_ID: %q is not a positive integer", s.ChainID)
		}
	}

	switch {
	case s.ContractAddress == "":
		add("CONTRACT_ADDRESS is required")
	case !strings.HasPrefix(s.ContractAddress, "0x") || !common.IsHexAddress(s.ContractAddress):
		add("CONTRACT_ADDRESS: %q is not a 0x-prefixed hex address", s.ContractAddress)
	}

	switch {
	case s.BaseNonce == "":
		add("BASE_NONCE is required (integer or %q)", NoncePending)
	case !pendingNonce:
		if _, err := strconv.ParseUint(s.BaseNonce, 10, 64); err != nil {
			add("BASE_NONCE: %q is not a non-negative integer or %q", s.BaseNonce, NoncePending)
		}
	}

	if cmd == CommandTrigger {
		if s.TriggerCalls <= 0 {
			add("TRIGGER_CALLS must be positive, got %d", s.TriggerCalls)
		}
		if s.TriggerMethod == "" {
			add("TRIGGER_METHOD is required")
		}
	} else {
		if s.CSVFilePath == "" {
			add("CSV_FILE_PATH is required")
		}
		if s.BatchSize <= 0 {
			add("BATCH_SIZE must be positive, got %d", s.BatchSize)
		}
		if s.StartOffset < 0 {
			add("START_OFFSET must not be negative, got %d", s.StartOffset)
		}
		if s.DistributeMethod == "" {
			add("DISTRIBUTE_METHOD is required")
		}
	}

	if s.RPCRateLimit < 0 {
		add("RPC_RATE_LIMIT must not be negative")
	}
	if s.ConfirmTimeoutS <= 0 {
		add("CONFIRM_TIMEOUT_SEC must be positive, got %d", s.ConfirmTimeoutS)
	}
	if s.ConfirmPollMS <= 0 {
		add("CONFIRM_POLL_MS must be positive, got %d", s.ConfirmPollMS)
	}
	if s.GasBufferPct < 0 {
		add("GAS_BUFFER_PCT must not be negative, got %d", s.GasBufferPct)
	}
	if _, err := s.TipWei(); err != nil {
		add("TIP_GWEI: %v", err)
	}

	switch s.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		add("LOG_LEVEL: unknown level %q", s.LogLevel)
	}
	switch s.LogFormat {
	case "console", "json":
	default:
		add("LOG_FORMAT: unknown format %q", s.LogFormat)
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(problems...))
}

// Contract returns the parsed contract address. Call after Validate.
func (s Settings) Contract() common.Address { return common.HexToAddress(s.ContractAddress) }

// PendingNonce reports whether BASE_NONCE defers to the node.
func (s Settings) PendingNonce() bool { return s.BaseNonce == NoncePending }

// FixedNonce returns the numeric BASE_NONCE. Call after Validate.
func (s Settings) FixedNonce() uint64 {
	n, _ := strconv.ParseUint(s.BaseNonce, 10, 64)
	return n
}

// ChainIDValue returns the configured chain ID, or nil to ask the node.
func (s Settings) ChainIDValue() *big.Int {
	if s.ChainID == "" {
		return nil
	}
	id, ok := new(big.Int).SetString(s.ChainID, 10)
	if !ok {
		return nil
	}
	return id
}

// TipWei converts TIP_GWEI to wei. Zero means "use the node suggestion".
func (s Settings) TipWei() (*big.Int, error) {
	raw := s.TipGwei
	if raw == "" {
		raw = "0"
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("%q is not a number", raw)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%q is negative", raw)
	}
	wei := d.Shift(9)
	if !wei.IsInteger() {
		return nil, fmt.Errorf("%q has more than 9 decimal places", raw)
	}
	return wei.BigInt(), nil
}

func (s Settings) ConfirmTimeout() time.Duration {
	return time.Duration(s.ConfirmTimeoutS) * time.Second
}

func (s Settings) ConfirmPoll() time.Duration {
	return time.Duration(s.ConfirmPollMS) * time.Millisecond
}
