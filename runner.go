package recovery

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// Recoverer runs one recovery invocation. *Orchestrator is the production
// implementation.
type Recoverer interface {
	Recover(ctx context.Context, burnTxHash common.Hash, recipient common.Address, expectedAmount *big.Int, signingKey *ecdsa.PrivateKey) *RecoveryResult
}

// Runner periodically retries every non-terminal bridge in the registry.
// Recoveries for distinct bridges run in parallel up to the configured
// limit; the registry's in-progress guard prevents duplicate work for the
// same bridge.
type Runner struct {
	lggr          logger.Logger
	registry      *Registry
	orchestrator  Recoverer
	signingKey    *ecdsa.PrivateKey
	interval      time.Duration
	maxConcurrent int
}

// NewRunner builds a Runner over the shared registry and orchestrator.
func NewRunner(lggr logger.Logger, registry *Registry, orchestrator Recoverer, signingKey *ecdsa.PrivateKey, interval time.Duration, maxConcurrent int) *Runner {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Runner{
		lggr:          logger.With(lggr, "component", "RecoveryRunner"),
		registry:      registry,
		orchestrator:  orchestrator,
		signingKey:    signingKey,
		interval:      interval,
		maxConcurrent: maxConcurrent,
	}
}

// Start blocks, running a recheck sweep every interval, until ctx is done.
func (r *Runner) Start(ctx context.Context) error {
	r.lggr.Infow("Recovery runner started",
		"interval", r.interval,
		"maxConcurrent", r.maxConcurrent)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.lggr.Infow("Recovery runner stopped")
			return ctx.Err()
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// sweep retries every pending bridge once.
func (r *Runner) sweep(ctx context.Context) {
	bridges := r.registry.List()

	var due []*PendingBridge
	for _, bridge := range bridges {
		if !bridge.Status.Terminal() {
			due = append(due, bridge)
		}
	}
	if len(due) == 0 {
		return
	}
	r.lggr.Infow("Rechecking pending bridges", "count", len(due))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxConcurrent)
	for _, bridge := range due {
		g.Go(func() error {
			result := r.orchestrator.Recover(gctx, bridge.BurnTxHash, bridge.Recipient, amountOrZero(bridge.Amount), r.signingKey)
			if result.Pending {
				r.lggr.Debugw("Bridge still pending", "burnTxHash", bridge.BurnTxHash.Hex(), "message", result.Message)
			}
			return nil
		})
	}
	//nolint:errcheck // workers never return errors, outcomes go through the notifier
	g.Wait()
}

func amountOrZero(amount *big.Int) *big.Int {
	if amount == nil {
		return new(big.Int)
	}
	return amount
}
