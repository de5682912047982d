// Package attest polls the circle attestation API until the attestation for
// a burn message is signed, or the polling budget runs out.
package attest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"

	"github.com/openbridge-labs/cctp-recovery/internal/metrics"
	"github.com/openbridge-labs/cctp-recovery/internal/retry"
	"github.com/openbridge-labs/cctp-recovery/pkg/message"
)

const (
	apiVersionV1 = "v1"
	apiVersionV2 = "v2"

	messagesPath     = "messages"
	attestationsPath = "attestations"
)

// ErrAttestationFailed reports that the attestation service marked the
// message failed. Retrying within the same invocation is pointless.
var ErrAttestationFailed = errors.New("attestation marked failed by the attestation service")

// Client resolves attestations for burn messages. It prefers the v2 bulk
// endpoint keyed by burn transaction hash, falling back to the per-hash v1
// endpoint when the bulk lookup errors.
type Client struct {
	lggr         logger.Logger
	httpClient   HTTPClient
	sourceDomain uint32
	maxAttempts  int
	pollInterval time.Duration
}

// Config holds the attestation API knobs.
type Config struct {
	APIURL string
	// APIInterval spaces consecutive requests (self rate limit).
	APIInterval time.Duration
	// APITimeout bounds a single request.
	APITimeout time.Duration
	// CoolDownDuration applies after a 429 without Retry-After.
	CoolDownDuration time.Duration
	// MaxAttempts is the polling budget per invocation.
	MaxAttempts int
	// PollInterval is the pause between polling attempts.
	PollInterval time.Duration
}

// NewClient builds an attestation Client for the given source domain.
func NewClient(lggr logger.Logger, cfg Config, sourceDomain uint32) (*Client, error) {
	if cfg.MaxAttempts <= 0 {
		return nil, fmt.Errorf("attestation max attempts must be positive, got %d", cfg.MaxAttempts)
	}
	httpClient, err := GetHTTPClient(lggr, cfg.APIURL, cfg.APIInterval, cfg.APITimeout, cfg.CoolDownDuration)
	if err != nil {
		return nil, fmt.Errorf("attestation api url %q: %w", cfg.APIURL, err)
	}
	return &Client{
		lggr:         logger.With(lggr, "component", "AttestationClient", "sourceDomain", sourceDomain),
		httpClient:   httpClient,
		sourceDomain: sourceDomain,
		maxAttempts:  cfg.MaxAttempts,
		pollInterval: cfg.PollInterval,
	}, nil
}

// errStillPending drives the retry loop while the service has not decided.
var errStillPending = errors.New("attestation still pending")

// FetchAttestation polls until the attestation for messageHash is complete,
// the service marks it failed, or the attempt budget is spent. A spent
// budget returns a pending Result with a nil error so the caller can park
// the bridge and retry in a later invocation.
func (c *Client) FetchAttestation(ctx context.Context, messageHash common.Hash, burnTxHash common.Hash) (*Result, error) {
	lggr := logger.With(c.lggr, "messageHash", messageHash.Hex(), "burnTxHash", burnTxHash.Hex())

	var resolved *Result
	attempts := 0
	err := retry.Fixed(ctx, c.maxAttempts, c.pollInterval, func() error {
		attempts++
		metrics.AttestationPollsTotal.Inc()

		result, lookupErr := c.lookup(ctx, lggr, messageHash, burnTxHash)
		if lookupErr != nil {
			if !errors.Is(lookupErr, ErrNotReady) {
				lggr.Warnw("Attestation lookup errored, will retry", "attempt", attempts, "error", lookupErr)
			}
			return lookupErr
		}
		if result.State == StatePending {
			return errStillPending
		}
		resolved = result
		return nil
	})
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		lggr.Infow("Attestation still pending after polling budget",
			"attempts", attempts,
			"pollInterval", c.pollInterval)
		return &Result{State: StatePending, Attempts: attempts}, nil
	}

	resolved.Attempts = attempts
	if resolved.State == StateFailed {
		return resolved, fmt.Errorf("%w: message %s", ErrAttestationFailed, messageHash.Hex())
	}
	lggr.Infow("Attestation complete", "attempts", attempts)
	return resolved, nil
}

// lookup performs a single resolution attempt: v2 bulk first, v1 on error.
func (c *Client) lookup(ctx context.Context, lggr logger.Logger, messageHash common.Hash, burnTxHash common.Hash) (*Result, error) {
	result, v2Err := c.lookupV2(ctx, messageHash, burnTxHash)
	if v2Err == nil {
		return result, nil
	}

	lggr.Debugw("v2 messages lookup failed, falling back to v1", "error", v2Err)
	result, v1Err := c.lookupV1(ctx, messageHash)
	if v1Err != nil {
		return nil, errors.Join(v2Err, v1Err)
	}
	return result, nil
}

func (c *Client) lookupV2(ctx context.Context, messageHash common.Hash, burnTxHash common.Hash) (*Result, error) {
	requestPath := fmt.Sprintf("%s/%s/%d?transactionHash=%s",
		apiVersionV2, messagesPath, c.sourceDomain, url.QueryEscape(burnTxHash.Hex()))

	body, _, err := c.httpClient.Get(ctx, requestPath)
	if err != nil {
		return nil, err
	}

	var response messagesResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("decode v2 messages response: %w", err)
	}
	if response.Error != "" {
		return nil, fmt.Errorf("v2 messages response: %s", response.Error)
	}

	// The transaction may have produced several messages; pick ours by
	// hashing each returned message.
	for _, msg := range response.Messages {
		msgBytes, decodeErr := hexutil.Decode(msg.Message)
		if decodeErr != nil || message.Hash(msgBytes) != messageHash {
			continue
		}
		return resultFromStatus(msg.Status, msg.Attestation)
	}
	return nil, fmt.Errorf("no message matching hash %s in v2 response (%d messages)",
		messageHash.Hex(), len(response.Messages))
}

func (c *Client) lookupV1(ctx context.Context, messageHash common.Hash) (*Result, error) {
	requestPath := fmt.Sprintf("%s/%s/%s", apiVersionV1, attestationsPath, messageHash.Hex())

	body, _, err := c.httpClient.Get(ctx, requestPath)
	if err != nil {
		return nil, err
	}

	var response attestationResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("decode v1 attestation response: %w", err)
	}
	if response.Error != "" {
		return nil, fmt.Errorf("v1 attestation response: %s", response.Error)
	}
	return resultFromStatus(response.Status, response.Attestation)
}

func resultFromStatus(status, attestation string) (*Result, error) {
	switch status {
	case statusComplete:
		if attestation == "" || strings.EqualFold(attestation, attestationPendingSentinel) {
			return nil, fmt.Errorf("status complete but attestation is %q", attestation)
		}
		sig, err := hexutil.Decode(attestation)
		if err != nil {
			return nil, fmt.Errorf("decode attestation hex: %w", err)
		}
		return &Result{State: StateComplete, Attestation: sig}, nil
	case statusFailed:
		return &Result{State: StateFailed}, nil
	case statusPendingConfirmations, "":
		return &Result{State: StatePending}, nil
	default:
		// Unknown statuses are treated as pending rather than failing the
		// invocation.
		return &Result{State: StatePending}, nil
	}
}
