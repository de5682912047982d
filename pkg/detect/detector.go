// Package detect answers two questions before a mint is attempted: has this
// message already been received on the destination chain, and has the
// message expired on the source chain.
package detect

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"
)

var (
	// TransferTopic is the topic0 of ERC-20 Transfer(address,address,uint256).
	TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

	// MessageReceivedTopic is the topic0 of the transmitter's
	// MessageReceived(address,uint32,bytes32,bytes32,uint32,bytes) event. Its
	// nonce topic carries the message hash.
	MessageReceivedTopic = crypto.Keccak256Hash([]byte("MessageReceived(address,uint32,bytes32,bytes32,uint32,bytes)"))
)

const (
	// confirmedCacheSize bounds the received-message cache.
	confirmedCacheSize = 4096
	// confirmedCacheTTL keeps confirmed receptions long enough to cover
	// repeated invocations for the same bridge.
	confirmedCacheTTL = 24 * time.Hour
)

// Reader is the destination-chain access the detector needs.
type Reader interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
	Endpoint() string
}

// Detector checks the destination chain for evidence that a burn message was
// already minted. It is deliberately conservative: on reader errors it
// reports not-received, letting the mint attempt itself be the arbiter (the
// transmitter rejects replayed nonces).
type Detector struct {
	lggr               logger.Logger
	reader             Reader
	usdcToken          common.Address
	messageTransmitter common.Address
	scanBlocks         uint64

	// confirmed caches message hashes positively seen as received, keyed by
	// hash. Only positive results are cached.
	confirmed *expirable.LRU[common.Hash, struct{}]
}

// New builds a Detector over the destination-chain reader. scanBlocks is how
// far back log scans reach from the current head.
func New(lggr logger.Logger, reader Reader, usdcToken, messageTransmitter common.Address, scanBlocks uint64) *Detector {
	return &Detector{
		lggr:               logger.With(lggr, "component", "MintDetector"),
		reader:             reader,
		usdcToken:          usdcToken,
		messageTransmitter: messageTransmitter,
		scanBlocks:         scanBlocks,
		confirmed:          expirable.NewLRU[common.Hash, struct{}](confirmedCacheSize, nil, confirmedCacheTTL),
	}
}

// AlreadyReceived reports whether the message was already consumed on the
// destination chain. Transfer correlation runs first because it catches
// silent mints whose receipt event fell outside the scanned range; the
// transmitter's MessageReceived scan backs it up with an exact match on the
// message hash.
func (d *Detector) AlreadyReceived(ctx context.Context, messageHash common.Hash, recipient common.Address, expectedAmount *big.Int) bool {
	if _, ok := d.confirmed.Get(messageHash); ok {
		return true
	}

	from, to, err := d.scanRange(ctx)
	if err != nil {
		d.lggr.Warnw("Could not determine destination head, assuming not received",
			"messageHash", messageHash.Hex(),
			"error", err)
		return false
	}

	if expectedAmount != nil && expectedAmount.Sign() > 0 &&
		d.transferSeen(ctx, recipient, expectedAmount, from, to) {
		d.confirmed.Add(messageHash, struct{}{})
		return true
	}
	if d.receivedEventSeen(ctx, messageHash, from, to) {
		d.confirmed.Add(messageHash, struct{}{})
		return true
	}
	return false
}

func (d *Detector) scanRange(ctx context.Context) (*big.Int, *big.Int, error) {
	head, err := d.reader.BlockNumber(ctx)
	if err != nil {
		return nil, nil, err
	}
	from := uint64(0)
	if head > d.scanBlocks {
		from = head - d.scanBlocks
	}
	return new(big.Int).SetUint64(from), new(big.Int).SetUint64(head), nil
}

// receivedEventSeen scans transmitter MessageReceived logs whose indexed
// nonce topic equals the message hash.
func (d *Detector) receivedEventSeen(ctx context.Context, messageHash common.Hash, from, to *big.Int) bool {
	logs, err := d.reader.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: from,
		ToBlock:   to,
		Addresses: []common.Address{d.messageTransmitter},
		Topics: [][]common.Hash{
			{MessageReceivedTopic},
		},
	})
	if err != nil {
		d.lggr.Warnw("MessageReceived scan failed, assuming not received",
			"messageHash", messageHash.Hex(),
			"endpoint", d.reader.Endpoint(),
			"error", err)
		return false
	}
	for _, lg := range logs {
		if len(lg.Topics) >= 3 && lg.Topics[2] == messageHash {
			d.lggr.Infow("Message already received on destination",
				"messageHash", messageHash.Hex(),
				"receiveTxHash", lg.TxHash.Hex(),
				"block", lg.BlockNumber)
			return true
		}
	}
	return false
}

// transferSeen correlates recent USDC mints to the recipient against the
// expected amount with a 10% tolerance. A match is conclusive even without
// the transmitter's own receipt event.
func (d *Detector) transferSeen(ctx context.Context, recipient common.Address, expectedAmount *big.Int, from, to *big.Int) bool {
	logs, err := d.reader.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: from,
		ToBlock:   to,
		Addresses: []common.Address{d.usdcToken},
		Topics: [][]common.Hash{
			{TransferTopic},
			nil,
			{common.BytesToHash(recipient.Bytes())},
		},
	})
	if err != nil {
		d.lggr.Warnw("Transfer scan failed, assuming not received",
			"recipient", recipient.Hex(),
			"endpoint", d.reader.Endpoint(),
			"error", err)
		return false
	}
	for _, lg := range logs {
		if len(lg.Data) != 32 {
			continue
		}
		amount := new(big.Int).SetBytes(lg.Data)
		if amountWithinTolerance(amount, expectedAmount) {
			d.lggr.Infow("Found transfer matching expected bridge amount",
				"recipient", recipient.Hex(),
				"amount", amount.String(),
				"expected", expectedAmount.String(),
				"transferTxHash", lg.TxHash.Hex())
			return true
		}
	}
	return false
}

// amountWithinTolerance reports whether got is within 10% of expected. The
// received amount can be below the burned amount when a fee was executed.
func amountWithinTolerance(got, expected *big.Int) bool {
	diff := new(big.Int).Sub(got, expected)
	diff.Abs(diff)
	// diff*10 <= expected  <=>  diff <= expected/10, without truncation.
	return diff.Mul(diff, big.NewInt(10)).Cmp(expected) <= 0
}
