package detect

import (
	"context"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"

	"github.com/openbridge-labs/cctp-recovery/pkg/message"
)

// SourceHeightReader reads the source chain's current block height.
// Expiration blocks in burn messages are source-chain heights.
type SourceHeightReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// ExpirationStatus is the guard's verdict for one burn message.
type ExpirationStatus struct {
	Expired         bool
	ExpirationBlock uint64
	CurrentBlock    uint64
	// CanRefund stays false: an expired burn has no on-chain refund path,
	// recovery requires contacting the bridge operator.
	CanRefund bool
}

// ExpirationGuard decides whether a burn message can still be minted. The
// guard errs on the side of allowing the attempt: a message that cannot be
// decoded, or carries no expiration block, is treated as not expired.
type ExpirationGuard struct {
	lggr   logger.Logger
	source SourceHeightReader
}

// NewExpirationGuard builds a guard over the source-chain reader.
func NewExpirationGuard(lggr logger.Logger, source SourceHeightReader) *ExpirationGuard {
	return &ExpirationGuard{
		lggr:   logger.With(lggr, "component", "ExpirationGuard"),
		source: source,
	}
}

// Check decodes the message and compares its expiration block against the
// source chain head. A zero expiration block means the message never expires.
func (g *ExpirationGuard) Check(ctx context.Context, messageBytes []byte) ExpirationStatus {
	decoded, err := message.DecodeBurnMessage(messageBytes)
	if err != nil {
		g.lggr.Warnw("Could not decode burn message for expiration check, allowing mint attempt",
			"messageLength", len(messageBytes),
			"error", err)
		return ExpirationStatus{}
	}
	if !decoded.HasExpirationBlock || decoded.ExpirationBlock == nil || decoded.ExpirationBlock.Sign() == 0 {
		return ExpirationStatus{}
	}

	head, err := g.source.BlockNumber(ctx)
	if err != nil {
		g.lggr.Warnw("Could not read source chain head for expiration check, allowing mint attempt",
			"error", err)
		return ExpirationStatus{ExpirationBlock: decoded.ExpirationBlock.Uint64()}
	}

	status := ExpirationStatus{
		ExpirationBlock: decoded.ExpirationBlock.Uint64(),
		CurrentBlock:    head,
		Expired:         head > decoded.ExpirationBlock.Uint64(),
	}
	if status.Expired {
		g.lggr.Errorw("Burn message has expired, attestation can no longer be executed",
			"expirationBlock", status.ExpirationBlock,
			"currentBlock", status.CurrentBlock)
	}
	return status
}
