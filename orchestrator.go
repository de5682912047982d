package recovery

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"

	"github.com/openbridge-labs/cctp-recovery/internal/metrics"
	"github.com/openbridge-labs/cctp-recovery/pkg/attest"
	"github.com/openbridge-labs/cctp-recovery/pkg/detect"
	"github.com/openbridge-labs/cctp-recovery/pkg/extract"
	"github.com/openbridge-labs/cctp-recovery/pkg/message"
	"github.com/openbridge-labs/cctp-recovery/pkg/mint"
)

// Recovery outcome labels for metrics.
const (
	outcomeSuccess            = "success"
	outcomeAlreadyReceived    = "already_received"
	outcomeExpired            = "expired"
	outcomeAttestationPending = "attestation_pending"
	outcomeAttestationFailed  = "attestation_failed"
	outcomeExtractFailed      = "extract_failed"
	outcomeMintFailed         = "mint_failed"
)

// MessageExtractor recovers the burn message from the source chain.
type MessageExtractor interface {
	ExtractMessage(ctx context.Context, burnTxHash common.Hash) (*extract.Extracted, error)
}

// AttestationFetcher resolves the attestation for a message hash.
type AttestationFetcher interface {
	FetchAttestation(ctx context.Context, messageHash, burnTxHash common.Hash) (*attest.Result, error)
}

// MintDetector checks the destination chain for an existing mint.
type MintDetector interface {
	AlreadyReceived(ctx context.Context, messageHash common.Hash, recipient common.Address, expectedAmount *big.Int) bool
}

// ExpirationChecker decides whether a message can still be minted.
type ExpirationChecker interface {
	Check(ctx context.Context, messageBytes []byte) detect.ExpirationStatus
}

// Minter completes the message on the destination chain.
type Minter interface {
	Mint(ctx context.Context, signingKey *ecdsa.PrivateKey, messageBytes, attestation []byte) (*mint.Outcome, error)
}

// Orchestrator drives one bridge recovery end to end. Every step is
// idempotent: re-running a recovery for a completed bridge returns the
// recorded mint transaction without touching any chain.
type Orchestrator struct {
	lggr      logger.Logger
	registry  *Registry
	extractor MessageExtractor
	attester  AttestationFetcher
	detector  MintDetector
	guard     ExpirationChecker
	minter    Minter
	notifier  Notifier
}

// NewOrchestrator wires the recovery pipeline. notifier may be nil, in which
// case outcomes are only logged.
func NewOrchestrator(
	lggr logger.Logger,
	registry *Registry,
	extractor MessageExtractor,
	attester AttestationFetcher,
	detector MintDetector,
	guard ExpirationChecker,
	minter Minter,
	notifier Notifier,
) *Orchestrator {
	if notifier == nil {
		notifier = NewLogNotifier(lggr)
	}
	return &Orchestrator{
		lggr:      logger.With(lggr, "component", "RecoveryOrchestrator"),
		registry:  registry,
		extractor: extractor,
		attester:  attester,
		detector:  detector,
		guard:     guard,
		minter:    minter,
		notifier:  notifier,
	}
}

// Recover attempts to complete the bridge identified by its burn transaction.
// recipient and expectedAmount are operator-supplied hints used for transfer
// correlation; the decoded burn message overrides them when available.
//
// Recover never returns a nil result. A Pending result means the attestation
// was not ready and the bridge stays registered for a later invocation.
func (o *Orchestrator) Recover(ctx context.Context, burnTxHash common.Hash, recipient common.Address, expectedAmount *big.Int, signingKey *ecdsa.PrivateKey) *RecoveryResult {
	started := time.Now()
	defer func() { metrics.RecoveryDuration.Observe(time.Since(started).Seconds()) }()

	lggr := logger.With(o.lggr, "burnTxHash", burnTxHash.Hex())
	bridge := o.registry.Add(burnTxHash, recipient, expectedAmount)

	// Fast path: a completed bridge needs no chain access at all.
	if bridge.Status == StatusMintCompleted {
		lggr.Infow("Bridge already completed, returning recorded mint", "mintTxHash", bridge.MintTxHash.Hex())
		return &RecoveryResult{
			Success:     true,
			BurnTxHash:  burnTxHash,
			MessageHash: bridge.MessageHash,
			MintTxHash:  bridge.MintTxHash,
			Message:     "bridge already completed",
		}
	}

	if !o.registry.TryBegin(burnTxHash) {
		lggr.Infow("Recovery already in progress, skipping")
		return &RecoveryResult{
			Pending:    true,
			BurnTxHash: burnTxHash,
			Message:    "recovery already in progress",
		}
	}
	defer o.registry.End(burnTxHash)
	defer o.registry.Touch(burnTxHash)

	extracted, err := o.extractor.ExtractMessage(ctx, burnTxHash)
	if err != nil {
		return o.failed(ctx, outcomeExtractFailed, &RecoveryResult{
			BurnTxHash: burnTxHash,
			Message:    "could not extract burn message from source chain",
			Err:        err,
		})
	}
	o.registry.SetMessageHash(burnTxHash, extracted.MessageHash)
	lggr = logger.With(lggr, "messageHash", extracted.MessageHash.Hex())

	// The decoded message is authoritative for recipient and amount.
	if decoded, decodeErr := message.DecodeBurnMessage(extracted.MessageBytes); decodeErr == nil {
		recipient = decoded.MintRecipient
		expectedAmount = decoded.Amount
	} else {
		lggr.Warnw("Burn message did not decode, using caller-supplied recipient and amount", "error", decodeErr)
	}

	if result := o.checkExpiration(ctx, burnTxHash, extracted); result != nil {
		return result
	}

	if o.detector.AlreadyReceived(ctx, extracted.MessageHash, recipient, expectedAmount) {
		o.registry.MarkMintCompleted(burnTxHash, common.Hash{})
		metrics.RecoveriesTotal.WithLabelValues(outcomeAlreadyReceived).Inc()
		lggr.Infow("Message already received on destination, nothing to do")
		result := &RecoveryResult{
			Success:      true,
			BurnTxHash:   burnTxHash,
			MessageHash:  extracted.MessageHash,
			MessageBytes: extracted.MessageBytes,
			Message:      "message already received on destination chain",
		}
		o.notifier.RecoverySucceeded(ctx, result)
		return result
	}

	attResult, err := o.attester.FetchAttestation(ctx, extracted.MessageHash, burnTxHash)
	if err != nil {
		if errors.Is(err, attest.ErrAttestationFailed) {
			return o.failed(ctx, outcomeAttestationFailed, &RecoveryResult{
				BurnTxHash:   burnTxHash,
				MessageHash:  extracted.MessageHash,
				MessageBytes: extracted.MessageBytes,
				Message:      "attestation service marked the message failed",
				Err:          err,
			})
		}
		return o.failed(ctx, outcomeAttestationFailed, &RecoveryResult{
			BurnTxHash:   burnTxHash,
			MessageHash:  extracted.MessageHash,
			MessageBytes: extracted.MessageBytes,
			Message:      "attestation lookup aborted",
			Err:          err,
		})
	}
	if attResult.State != attest.StateComplete {
		metrics.RecoveriesTotal.WithLabelValues(outcomeAttestationPending).Inc()
		lggr.Infow("Attestation still pending, bridge stays registered", "attempts", attResult.Attempts)
		return &RecoveryResult{
			Pending:      true,
			BurnTxHash:   burnTxHash,
			MessageHash:  extracted.MessageHash,
			MessageBytes: extracted.MessageBytes,
			Message:      fmt.Sprintf("attestation pending after %d attempts", attResult.Attempts),
		}
	}
	o.registry.MarkAttestationReady(burnTxHash)

	// The attestation wait can outlast the expiration window.
	if result := o.checkExpiration(ctx, burnTxHash, extracted); result != nil {
		return result
	}

	outcome, err := o.minter.Mint(ctx, signingKey, extracted.MessageBytes, attResult.Attestation)
	if err != nil {
		// A revert usually means someone else completed the message while
		// we were polling.
		if errors.Is(err, mint.ErrMintReverted) &&
			o.detector.AlreadyReceived(ctx, extracted.MessageHash, recipient, expectedAmount) {
			o.registry.MarkMintCompleted(burnTxHash, common.Hash{})
			metrics.RecoveriesTotal.WithLabelValues(outcomeAlreadyReceived).Inc()
			lggr.Infow("Mint reverted because the message was already received")
			result := &RecoveryResult{
				Success:      true,
				BurnTxHash:   burnTxHash,
				MessageHash:  extracted.MessageHash,
				MessageBytes: extracted.MessageBytes,
				Attestation:  attResult.Attestation,
				Message:      "message was received on destination chain by another party",
			}
			o.notifier.RecoverySucceeded(ctx, result)
			return result
		}
		return o.failed(ctx, outcomeMintFailed, &RecoveryResult{
			BurnTxHash:   burnTxHash,
			MessageHash:  extracted.MessageHash,
			MessageBytes: extracted.MessageBytes,
			Attestation:  attResult.Attestation,
			Message:      "receiveMessage submission failed",
			Err:          err,
		})
	}

	o.registry.MarkMintCompleted(burnTxHash, outcome.TxHash)
	metrics.RecoveriesTotal.WithLabelValues(outcomeSuccess).Inc()
	lggr.Infow("Bridge recovery completed",
		"mintTxHash", outcome.TxHash.Hex(),
		"block", outcome.BlockNumber,
		"duration", time.Since(started))

	result := &RecoveryResult{
		Success:      true,
		BurnTxHash:   burnTxHash,
		MessageHash:  extracted.MessageHash,
		MessageBytes: extracted.MessageBytes,
		Attestation:  attResult.Attestation,
		MintTxHash:   outcome.TxHash,
		Message:      "mint completed",
	}
	o.notifier.RecoverySucceeded(ctx, result)
	return result
}

// checkExpiration returns a terminal result when the message has expired,
// nil otherwise.
func (o *Orchestrator) checkExpiration(ctx context.Context, burnTxHash common.Hash, extracted *extract.Extracted) *RecoveryResult {
	status := o.guard.Check(ctx, extracted.MessageBytes)
	if !status.Expired {
		return nil
	}

	o.registry.MarkExpired(burnTxHash)
	metrics.RecoveriesTotal.WithLabelValues(outcomeExpired).Inc()
	result := &RecoveryResult{
		BurnTxHash:   burnTxHash,
		MessageHash:  extracted.MessageHash,
		MessageBytes: extracted.MessageBytes,
		Expiration: &ExpirationDetail{
			Expired:         true,
			ExpirationBlock: status.ExpirationBlock,
			CurrentBlock:    status.CurrentBlock,
			CanRefund:       status.CanRefund,
		},
		Message: "burn message expired, contact the bridge operator for recovery",
		Err:     fmt.Errorf("message expired at block %d, source chain is at %d", status.ExpirationBlock, status.CurrentBlock),
	}
	o.notifier.BridgeExpired(ctx, result)
	return result
}

func (o *Orchestrator) failed(ctx context.Context, outcome string, result *RecoveryResult) *RecoveryResult {
	metrics.RecoveriesTotal.WithLabelValues(outcome).Inc()
	o.notifier.RecoveryFailed(ctx, result)
	return result
}
