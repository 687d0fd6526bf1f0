// Package chain submits distribution calls to an EVM node over JSON-RPC.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Backend is the subset of *ethclient.Client the client relies on.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

var _ Backend = (*ethclient.Client)(nil)

// Options tunes the client. Zero values fall back to the defaults below.
type Options struct {
	ChainID        *big.Int // nil: ask the node
	RateLimit      float64  // requests per second, 0 disables the limiter
	HTTPTimeout    time.Duration
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	Tip            *big.Int // nil or zero: node suggestion
	GasBufferPct   uint64
	ABI            *abi.ABI // nil: DistributorABI
	Logger         *zap.Logger
}

const (
	defaultHTTPTimeout    = 30 * time.Second
	defaultConfirmTimeout = 120 * time.Second
	defaultPollInterval   = 1500 * time.Millisecond
)

func (o *Options) setDefaults() {
	if o.HTTPTimeout <= 0 {
		o.HTTPTimeout = defaultHTTPTimeout
	}
	if o.ConfirmTimeout <= 0 {
		o.ConfirmTimeout = defaultConfirmTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Client implements distribution.ChainClient for a single sender key.
type Client struct {
	backend Backend
	key     *ecdsa.PrivateKey
	sender  common.Address
	chainID *big.Int
	abi     abi.ABI
	limiter *rate.Limiter
	opts    Options
}

// Dial connects to rawURL with a keep-alive HTTP transport and wraps the
// connection with New.
func Dial(ctx context.Context, rawURL string, key *ecdsa.PrivateKey, opts Options) (*Client, error) {
	opts.setDefaults()
	httpClient := &http.Client{
		Timeout: opts.HTTPTimeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	rc, err := rpc.DialOptions(ctx, rawURL, rpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rawURL, err)
	}
	c, err := New(ctx, ethclient.NewClient(rc), key, opts)
	if err != nil {
		rc.Close()
		return nil, err
	}
	return c, nil
}

// New builds a client over an existing backend. When opts.ChainID is nil
// the chain ID is fetched once here.
func New(ctx context.Context, backend Backend, key *ecdsa.PrivateKey, opts Options) (*Client, error) {
	if key == nil {
		return nil, errors.New("chain: signing key is required")
	}
	opts.setDefaults()

	parsed := DistributorABI()
	if opts.ABI != nil {
		parsed = *opts.ABI
	}

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}

	c := &Client{
		backend: backend,
		key:     key,
		sender:  crypto.PubkeyToAddress(key.PublicKey),
		abi:     parsed,
		limiter: rate.NewLimiter(limit, 1),
		opts:    opts,
	}

	if opts.ChainID != nil {
		c.chainID = new(big.Int).Set(opts.ChainID)
		return c, nil
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	id, err := backend.ChainID(ctx)
	if err != nil {
		return nil, wrapRPC("eth_chainId", err)
	}
	c.chainID = id
	return c, nil
}

// Sender is the address derived from the signing key.
func (c *Client) Sender() common.Address { return c.sender }

func (c *Client) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

// PendingNonce returns the next nonce of the sender including pooled
// transactions.
func (c *Client) PendingNonce(ctx context.Context) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	n, err := c.backend.PendingNonceAt(ctx, c.sender)
	if err != nil {
		return 0, wrapRPC("eth_getTransactionCount", err)
	}
	return n, nil
}

func (c *Client) Close() { c.backend.Close() }

// wait blocks on the shared RPC limiter.
func (c *Client) wait(ctx context.Context) error {
	return c.limiter.Wait(ctx)
}
