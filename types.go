// Package recovery orchestrates stuck cross-chain USDC bridge recoveries:
// it re-derives the burn message from the source chain, obtains the circle
// attestation, and completes the mint on the destination chain.
package recovery

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// BridgeStatus tracks a bridge through the recovery lifecycle. Transitions
// only move forward; a later invocation never demotes a bridge.
type BridgeStatus string

const (
	StatusPendingAttestation BridgeStatus = "pending_attestation"
	StatusAttestationReady   BridgeStatus = "attestation_ready"
	StatusMintCompleted      BridgeStatus = "mint_completed"
	StatusExpired            BridgeStatus = "expired"
)

// statusRank orders statuses for monotonic advancement.
var statusRank = map[BridgeStatus]int{
	StatusPendingAttestation: 0,
	StatusAttestationReady:   1,
	StatusMintCompleted:      2,
	StatusExpired:            2,
}

// Valid reports whether s is a known status.
func (s BridgeStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Terminal reports whether no further recovery work applies.
func (s BridgeStatus) Terminal() bool {
	return s == StatusMintCompleted || s == StatusExpired
}

// PendingBridge is one tracked bridge recovery.
type PendingBridge struct {
	BurnTxHash  common.Hash
	Recipient   common.Address
	Amount      *big.Int
	Status      BridgeStatus
	MessageHash common.Hash
	MintTxHash  common.Hash
	CreatedAt   time.Time
	LastChecked time.Time
}

// Clone returns a deep copy so registry callers never share the internal
// entry.
func (b *PendingBridge) Clone() *PendingBridge {
	cp := *b
	if b.Amount != nil {
		cp.Amount = new(big.Int).Set(b.Amount)
	}
	return &cp
}

// Persistence stores registry entries across process restarts. The registry
// works without one; persistence failures are logged and swallowed.
type Persistence interface {
	SaveBridge(bridge *PendingBridge) error
	DeleteBridge(burnTxHash common.Hash) error
	LoadBridges() ([]*PendingBridge, error)
}

// ExpirationDetail reports the expiration guard's verdict to callers.
type ExpirationDetail struct {
	Expired         bool
	ExpirationBlock uint64
	CurrentBlock    uint64
	// CanRefund is always false today: expired burns have no on-chain
	// refund path.
	CanRefund bool
}

// RecoveryResult is the outcome of one recovery invocation.
type RecoveryResult struct {
	Success bool
	// Pending is set when the attestation was not ready within the polling
	// budget; the bridge stays registered for a later invocation.
	Pending      bool
	BurnTxHash   common.Hash
	MessageHash  common.Hash
	MessageBytes []byte
	Attestation  []byte
	MintTxHash   common.Hash
	Expiration   *ExpirationDetail
	// Message is an operator-facing summary of what happened.
	Message string
	Err     error
}
