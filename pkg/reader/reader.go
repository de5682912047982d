// Package reader provides chain access over an ordered list of JSON-RPC
// endpoints: the configured primary first, then public fallbacks. Every call
// walks the list until one endpoint serves it.
package reader

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"

	"github.com/openbridge-labs/cctp-recovery/internal/metrics"
	"github.com/openbridge-labs/cctp-recovery/internal/retry"
)

const (
	// DefaultAttemptTimeout bounds a single RPC call to one endpoint.
	DefaultAttemptTimeout = 30 * time.Second
	// DefaultAttemptsPerEndpoint is how many times an endpoint is retried
	// (with backoff) before rotating to the next one.
	DefaultAttemptsPerEndpoint = 2
)

// ErrAllEndpointsFailed reports that every configured endpoint was exhausted.
// Callers doing log/balance scans may degrade on it instead of aborting.
var ErrAllEndpointsFailed = errors.New("all rpc endpoints failed")

// EndpointClient is the slice of ethclient.Client the reader needs. Tests
// substitute fakes through the Dialer.
type EndpointClient interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
	Close()
}

// Dialer opens a client for one endpoint URL.
type Dialer func(ctx context.Context, url string) (EndpointClient, error)

// DialEthclient is the production Dialer.
func DialEthclient(ctx context.Context, url string) (EndpointClient, error) {
	return ethclient.DialContext(ctx, url)
}

// Client reads receipts, logs, and block heights from one chain with
// endpoint failover. Connections are cached per endpoint and re-dialed after
// a failed call.
type Client struct {
	lggr                logger.Logger
	chain               string
	endpoints           []string
	dial                Dialer
	attemptTimeout      time.Duration
	attemptsPerEndpoint uint64

	mu           sync.Mutex
	conns        map[string]EndpointClient
	lastEndpoint string
}

// Option tweaks a Client.
type Option func(*Client)

// WithDialer substitutes the connection factory.
func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dial = d }
}

// WithAttemptTimeout bounds each individual RPC call.
func WithAttemptTimeout(d time.Duration) Option {
	return func(c *Client) { c.attemptTimeout = d }
}

// WithAttemptsPerEndpoint sets the per-endpoint retry budget.
func WithAttemptsPerEndpoint(n uint64) Option {
	return func(c *Client) { c.attemptsPerEndpoint = n }
}

// New builds a failover Client for the named chain. The endpoint order is
// the failover priority order.
func New(lggr logger.Logger, chain string, endpoints []string, opts ...Option) (*Client, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("chain %s: at least one rpc endpoint is required", chain)
	}
	c := &Client{
		lggr:                logger.With(lggr, "component", "ChainLogReader", "chain", chain),
		chain:               chain,
		endpoints:           endpoints,
		dial:                DialEthclient,
		attemptTimeout:      DefaultAttemptTimeout,
		attemptsPerEndpoint: DefaultAttemptsPerEndpoint,
		conns:               make(map[string]EndpointClient),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// TransactionReceipt fetches a receipt, rotating endpoints on failure.
func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	var receipt *types.Receipt
	err := c.withFailover(ctx, "eth_getTransactionReceipt", func(ctx context.Context, ec EndpointClient) error {
		r, err := ec.TransactionReceipt(ctx, txHash)
		if err != nil {
			return err
		}
		receipt = r
		return nil
	})
	return receipt, err
}

// FilterLogs queries historical logs, rotating endpoints on failure.
func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	var logs []types.Log
	err := c.withFailover(ctx, "eth_getLogs", func(ctx context.Context, ec EndpointClient) error {
		l, err := ec.FilterLogs(ctx, q)
		if err != nil {
			return err
		}
		logs = l
		return nil
	})
	return logs, err
}

// BlockNumber returns the chain's current block height.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var height uint64
	err := c.withFailover(ctx, "eth_blockNumber", func(ctx context.Context, ec EndpointClient) error {
		h, err := ec.BlockNumber(ctx)
		if err != nil {
			return err
		}
		height = h
		return nil
	})
	return height, err
}

// Endpoint reports the URL that served the most recent successful call.
func (c *Client) Endpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastEndpoint
}

// Chain returns the chain name this reader was built for.
func (c *Client) Chain() string {
	return c.chain
}

// Close releases all cached endpoint connections.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for url, conn := range c.conns {
		conn.Close()
		delete(c.conns, url)
	}
}

func (c *Client) withFailover(ctx context.Context, method string, call func(context.Context, EndpointClient) error) error {
	var errs []error
	for _, url := range c.endpoints {
		err := retry.Exponential(ctx, c.attemptsPerEndpoint, 500*time.Millisecond, func() error {
			conn, err := c.conn(ctx, url)
			if err != nil {
				return err
			}
			callCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
			defer cancel()
			return call(callCtx, conn)
		})
		if err == nil {
			c.mu.Lock()
			c.lastEndpoint = url
			c.mu.Unlock()
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		metrics.RPCEndpointFailuresTotal.WithLabelValues(c.chain, url).Inc()
		c.lggr.Warnw("RPC endpoint failed, rotating to next",
			"method", method,
			"endpoint", url,
			"error", err)
		c.dropConn(url)
		errs = append(errs, fmt.Errorf("%s: %w", url, err))
	}
	return fmt.Errorf("%w: %s on %s: %w", ErrAllEndpointsFailed, method, c.chain, errors.Join(errs...))
}

func (c *Client) conn(ctx context.Context, url string) (EndpointClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.conns[url]; ok {
		return conn, nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()
	conn, err := c.dial(dialCtx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c.conns[url] = conn
	return conn, nil
}

func (c *Client) dropConn(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.conns[url]; ok {
		conn.Close()
		delete(c.conns, url)
	}
}

// BlockNumberBig is a convenience wrapper for callers working in *big.Int.
func (c *Client) BlockNumberBig(ctx context.Context) (*big.Int, error) {
	h, err := c.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetUint64(h), nil
}
