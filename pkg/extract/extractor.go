// Package extract recovers the raw burn-message bytes and message hash from
// a burn transaction's receipt.
package extract

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"

	"github.com/openbridge-labs/cctp-recovery/pkg/message"
)

// ErrEventNotFound reports a receipt with no MessageSent(bytes) log: wrong
// transaction, or a burn that never emitted the expected event. This is a
// terminal condition for the invocation, not something to retry.
var ErrEventNotFound = errors.New("no MessageSent event in transaction receipt")

// MessageSentTopic is the topic0 of the transmitter's MessageSent(bytes)
// event.
var MessageSentTopic = crypto.Keccak256Hash([]byte("MessageSent(bytes)"))

var messageSentArgs = abi.Arguments{
	{Name: "message", Type: mustNewType("bytes")},
}

func mustNewType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(fmt.Sprintf("abi type %s: %v", t, err))
	}
	return typ
}

// ReceiptReader is the chain access the extractor needs.
type ReceiptReader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Extracted is the result of a successful extraction.
type Extracted struct {
	MessageBytes []byte
	MessageHash  common.Hash
	// Emitter and LogIndex identify the log the message came from, for
	// operator diagnostics.
	Emitter  common.Address
	LogIndex uint
}

// Extractor locates the burn message inside a burn transaction.
type Extractor struct {
	lggr   logger.Logger
	reader ReceiptReader
}

// New builds an Extractor over the given source-chain reader.
func New(lggr logger.Logger, reader ReceiptReader) *Extractor {
	return &Extractor{
		lggr:   logger.With(lggr, "component", "MessageExtractor"),
		reader: reader,
	}
}

// ExtractMessage fetches the burn transaction's receipt, finds the
// MessageSent(bytes) log, ABI-decodes its bytes payload, and hashes it.
func (e *Extractor) ExtractMessage(ctx context.Context, burnTxHash common.Hash) (*Extracted, error) {
	receipt, err := e.reader.TransactionReceipt(ctx, burnTxHash)
	if err != nil {
		return nil, fmt.Errorf("fetch receipt for %s: %w", burnTxHash.Hex(), err)
	}

	for _, lg := range receipt.Logs {
		if lg == nil || len(lg.Topics) == 0 || lg.Topics[0] != MessageSentTopic {
			continue
		}
		msgBytes, err := decodeMessageSentData(lg.Data)
		if err != nil {
			return nil, fmt.Errorf("decode MessageSent data in log %d of %s: %w", lg.Index, burnTxHash.Hex(), err)
		}
		out := &Extracted{
			MessageBytes: msgBytes,
			MessageHash:  message.Hash(msgBytes),
			Emitter:      lg.Address,
			LogIndex:     lg.Index,
		}
		e.lggr.Debugw("Extracted burn message",
			"burnTxHash", burnTxHash.Hex(),
			"messageHash", out.MessageHash.Hex(),
			"messageLength", len(msgBytes),
			"emitter", lg.Address.Hex())
		return out, nil
	}

	return nil, fmt.Errorf("%w: tx %s has %d logs", ErrEventNotFound, burnTxHash.Hex(), len(receipt.Logs))
}

func decodeMessageSentData(data []byte) ([]byte, error) {
	values, err := messageSentArgs.Unpack(data)
	if err != nil {
		return nil, err
	}
	msgBytes, ok := values[0].([]byte)
	if !ok || len(msgBytes) == 0 {
		return nil, fmt.Errorf("MessageSent payload is empty")
	}
	return msgBytes, nil
}
