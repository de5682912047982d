// Package mint submits receiveMessage transactions to the destination
// chain's MessageTransmitter, completing the burn-and-mint flow.
package mint

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"
)

const messageTransmitterABI = `[
	{
		"type": "function",
		"name": "receiveMessage",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "message", "type": "bytes"},
			{"name": "attestation", "type": "bytes"}
		],
		"outputs": [{"name": "success", "type": "bool"}]
	}
]`

// defaultWaitTimeout bounds waiting for the mint transaction to be mined.
const defaultWaitTimeout = 3 * time.Minute

var (
	// ErrMintReverted reports a mined receiveMessage transaction with a
	// failed status. The usual cause is a nonce already consumed by someone
	// else completing the same message.
	ErrMintReverted = errors.New("receiveMessage transaction reverted")
	// ErrMintTimeout reports a submitted transaction that was not mined
	// within the wait budget.
	ErrMintTimeout = errors.New("timed out waiting for receiveMessage to be mined")
)

// Backend is the destination-chain write access the executor needs. A bound
// *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Executor signs and submits receiveMessage calls.
type Executor struct {
	lggr        logger.Logger
	backend     Backend
	transmitter common.Address
	chainID     *big.Int
	abi         abi.ABI
	waitTimeout time.Duration
}

// New builds an Executor bound to the destination chain's transmitter.
func New(lggr logger.Logger, backend Backend, transmitter common.Address, chainID *big.Int) (*Executor, error) {
	parsed, err := abi.JSON(strings.NewReader(messageTransmitterABI))
	if err != nil {
		return nil, fmt.Errorf("parse message transmitter abi: %w", err)
	}
	return &Executor{
		lggr:        logger.With(lggr, "component", "MintExecutor", "transmitter", transmitter.Hex()),
		backend:     backend,
		transmitter: transmitter,
		chainID:     chainID,
		abi:         parsed,
		waitTimeout: defaultWaitTimeout,
	}, nil
}

// Outcome describes a completed mint attempt.
type Outcome struct {
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
}

// Mint submits receiveMessage(messageBytes, attestation) signed with the
// given key and waits for it to be mined. A reverted primary attempt is
// followed by one best-effort retry with an empty attestation, which some
// transmitter deployments accept for already-attested messages; its failure
// never masks the primary error.
func (e *Executor) Mint(ctx context.Context, signingKey *ecdsa.PrivateKey, messageBytes, attestation []byte) (*Outcome, error) {
	outcome, primaryErr := e.submit(ctx, signingKey, messageBytes, attestation)
	if primaryErr == nil {
		return outcome, nil
	}
	if !errors.Is(primaryErr, ErrMintReverted) || len(attestation) == 0 {
		return nil, primaryErr
	}

	e.lggr.Warnw("Mint reverted, retrying once with empty attestation", "error", primaryErr)
	if retryOutcome, retryErr := e.submit(ctx, signingKey, messageBytes, nil); retryErr == nil {
		return retryOutcome, nil
	} else {
		e.lggr.Debugw("Empty-attestation retry also failed", "error", retryErr)
	}
	return nil, primaryErr
}

func (e *Executor) submit(ctx context.Context, signingKey *ecdsa.PrivateKey, messageBytes, attestation []byte) (*Outcome, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(signingKey, e.chainID)
	if err != nil {
		return nil, fmt.Errorf("build transactor: %w", err)
	}
	opts.Context = ctx

	contract := bind.NewBoundContract(e.transmitter, e.abi, e.backend, e.backend, e.backend)
	tx, err := contract.Transact(opts, "receiveMessage", messageBytes, attestation)
	if err != nil {
		return nil, fmt.Errorf("submit receiveMessage: %w", err)
	}

	e.lggr.Infow("Submitted receiveMessage",
		"txHash", tx.Hash().Hex(),
		"from", crypto.PubkeyToAddress(signingKey.PublicKey).Hex(),
		"attestationLength", len(attestation))

	receipt, err := e.waitMined(ctx, tx)
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: tx %s in block %d", ErrMintReverted, tx.Hash().Hex(), receipt.BlockNumber.Uint64())
	}

	outcome := &Outcome{
		TxHash:      tx.Hash(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
	}
	e.lggr.Infow("Mint confirmed",
		"txHash", outcome.TxHash.Hex(),
		"block", outcome.BlockNumber,
		"gasUsed", outcome.GasUsed)
	return outcome, nil
}

func (e *Executor) waitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, e.waitTimeout)
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, e.backend, tx)
	if err != nil {
		if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: tx %s", ErrMintTimeout, tx.Hash().Hex())
		}
		return nil, fmt.Errorf("wait for tx %s: %w", tx.Hash().Hex(), err)
	}
	return receipt, nil
}
