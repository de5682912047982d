package recovery

import (
	"context"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"
)

// Notifier receives terminal recovery outcomes so operators can be alerted.
// Implementations must not block the orchestrator.
type Notifier interface {
	RecoverySucceeded(ctx context.Context, result *RecoveryResult)
	RecoveryFailed(ctx context.Context, result *RecoveryResult)
	// BridgeExpired fires for expired burns, which need manual follow-up
	// with the bridge operator since no on-chain refund path exists.
	BridgeExpired(ctx context.Context, result *RecoveryResult)
}

// LogNotifier is the default Notifier, writing structured log lines.
type LogNotifier struct {
	lggr logger.Logger
}

// NewLogNotifier builds a LogNotifier.
func NewLogNotifier(lggr logger.Logger) *LogNotifier {
	return &LogNotifier{lggr: logger.With(lggr, "component", "RecoveryNotifier")}
}

func (n *LogNotifier) RecoverySucceeded(ctx context.Context, result *RecoveryResult) {
	n.lggr.Infow("Bridge recovery succeeded",
		"burnTxHash", result.BurnTxHash.Hex(),
		"mintTxHash", result.MintTxHash.Hex(),
		"messageHash", result.MessageHash.Hex())
}

func (n *LogNotifier) RecoveryFailed(ctx context.Context, result *RecoveryResult) {
	n.lggr.Errorw("Bridge recovery failed",
		"burnTxHash", result.BurnTxHash.Hex(),
		"messageHash", result.MessageHash.Hex(),
		"message", result.Message,
		"error", result.Err)
}

func (n *LogNotifier) BridgeExpired(ctx context.Context, result *RecoveryResult) {
	n.lggr.Errorw("Bridge expired, manual recovery through the bridge operator is required",
		"burnTxHash", result.BurnTxHash.Hex(),
		"expirationBlock", result.Expiration.ExpirationBlock,
		"currentBlock", result.Expiration.CurrentBlock)
}
