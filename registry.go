package recovery

import (
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"

	"github.com/openbridge-labs/cctp-recovery/internal/metrics"
)

// completedRetention is how long completed bridges stay listed before being
// pruned. Keeping them around makes repeated invocations for the same burn
// cheap and idempotent.
const completedRetention = 24 * time.Hour

// Registry tracks every bridge under recovery, keyed by burn transaction
// hash. It is safe for concurrent use and enforces monotonic status
// transitions. An optional Persistence mirrors every change; persistence
// errors are logged and never fail the caller.
type Registry struct {
	lggr    logger.Logger
	persist Persistence

	mu         sync.Mutex
	bridges    map[common.Hash]*PendingBridge
	inProgress map[common.Hash]struct{}
	now        func() time.Time
}

// NewRegistry builds a Registry. persist may be nil for in-memory-only
// operation; when set, previously persisted bridges are loaded.
func NewRegistry(lggr logger.Logger, persist Persistence) *Registry {
	r := &Registry{
		lggr:       logger.With(lggr, "component", "BridgeRegistry"),
		persist:    persist,
		bridges:    make(map[common.Hash]*PendingBridge),
		inProgress: make(map[common.Hash]struct{}),
		now:        time.Now,
	}
	if persist != nil {
		loaded, err := persist.LoadBridges()
		if err != nil {
			r.lggr.Errorw("Could not load persisted bridges, starting empty", "error", err)
		}
		for _, b := range loaded {
			r.bridges[b.BurnTxHash] = b
		}
		if len(loaded) > 0 {
			r.lggr.Infow("Restored bridges from persistence", "count", len(loaded))
		}
	}
	r.updateGauge()
	return r
}

// TryBegin claims exclusive recovery rights for the burn hash. It returns
// false when another goroutine is already recovering it.
func (r *Registry) TryBegin(burnTxHash common.Hash) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inProgress[burnTxHash]; busy {
		return false
	}
	r.inProgress[burnTxHash] = struct{}{}
	return true
}

// End releases the claim taken by TryBegin.
func (r *Registry) End(burnTxHash common.Hash) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inProgress, burnTxHash)
}

// Add registers a bridge if absent and returns a copy of the tracked entry.
// An existing entry is left untouched so repeated invocations see the
// accumulated state.
func (r *Registry) Add(burnTxHash common.Hash, recipient common.Address, amount *big.Int) *PendingBridge {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.bridges[burnTxHash]; ok {
		return existing.Clone()
	}

	now := r.now().UTC()
	bridge := &PendingBridge{
		BurnTxHash:  burnTxHash,
		Recipient:   recipient,
		Amount:      amount,
		Status:      StatusPendingAttestation,
		CreatedAt:   now,
		LastChecked: now,
	}
	r.bridges[burnTxHash] = bridge
	r.save(bridge)
	r.updateGaugeLocked()
	return bridge.Clone()
}

// Get returns a copy of the tracked bridge, or nil when unknown.
func (r *Registry) Get(burnTxHash common.Hash) *PendingBridge {
	r.mu.Lock()
	defer r.mu.Unlock()
	if bridge, ok := r.bridges[burnTxHash]; ok {
		return bridge.Clone()
	}
	return nil
}

// Remove drops the bridge from tracking and persistence.
func (r *Registry) Remove(burnTxHash common.Hash) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bridges[burnTxHash]; !ok {
		return
	}
	delete(r.bridges, burnTxHash)
	if r.persist != nil {
		if err := r.persist.DeleteBridge(burnTxHash); err != nil {
			r.lggr.Warnw("Could not delete persisted bridge", "burnTxHash", burnTxHash.Hex(), "error", err)
		}
	}
	r.updateGaugeLocked()
}

// List returns copies of every tracked bridge, pruning completed entries
// past their retention first.
func (r *Registry) List() []*PendingBridge {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().UTC().Add(-completedRetention)
	out := make([]*PendingBridge, 0, len(r.bridges))
	for hash, bridge := range r.bridges {
		if bridge.Status == StatusMintCompleted && bridge.LastChecked.Before(cutoff) {
			delete(r.bridges, hash)
			if r.persist != nil {
				if err := r.persist.DeleteBridge(hash); err != nil {
					r.lggr.Warnw("Could not delete persisted bridge", "burnTxHash", hash.Hex(), "error", err)
				}
			}
			continue
		}
		out = append(out, bridge.Clone())
	}
	r.updateGaugeLocked()
	return out
}

// Touch records that the bridge was just worked on.
func (r *Registry) Touch(burnTxHash common.Hash) {
	r.withBridge(burnTxHash, func(bridge *PendingBridge) {})
}

// SetMessageHash records the message hash derived from the burn receipt.
func (r *Registry) SetMessageHash(burnTxHash, messageHash common.Hash) {
	r.withBridge(burnTxHash, func(bridge *PendingBridge) {
		bridge.MessageHash = messageHash
	})
}

// MarkAttestationReady advances the bridge to attestation_ready.
func (r *Registry) MarkAttestationReady(burnTxHash common.Hash) {
	r.advance(burnTxHash, StatusAttestationReady, func(bridge *PendingBridge) {})
}

// MarkMintCompleted advances the bridge to mint_completed, recording the
// mint transaction.
func (r *Registry) MarkMintCompleted(burnTxHash, mintTxHash common.Hash) {
	r.advance(burnTxHash, StatusMintCompleted, func(bridge *PendingBridge) {
		bridge.MintTxHash = mintTxHash
	})
}

// MarkExpired advances the bridge to expired.
func (r *Registry) MarkExpired(burnTxHash common.Hash) {
	r.advance(burnTxHash, StatusExpired, func(bridge *PendingBridge) {})
}

// advance moves the bridge to the target status if that is a forward
// transition. Demotions are logged and ignored.
func (r *Registry) advance(burnTxHash common.Hash, target BridgeStatus, mutate func(*PendingBridge)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bridge, ok := r.bridges[burnTxHash]
	if !ok {
		return
	}
	if statusRank[target] < statusRank[bridge.Status] {
		r.lggr.Warnw("Ignoring backward status transition",
			"burnTxHash", burnTxHash.Hex(),
			"from", bridge.Status,
			"to", target)
		return
	}
	bridge.Status = target
	bridge.LastChecked = r.now().UTC()
	mutate(bridge)
	r.save(bridge)
}

func (r *Registry) withBridge(burnTxHash common.Hash, mutate func(*PendingBridge)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bridge, ok := r.bridges[burnTxHash]
	if !ok {
		return
	}
	mutate(bridge)
	bridge.LastChecked = r.now().UTC()
	r.save(bridge)
}

// save mirrors the bridge to persistence. Callers hold r.mu.
func (r *Registry) save(bridge *PendingBridge) {
	if r.persist == nil {
		return
	}
	if err := r.persist.SaveBridge(bridge.Clone()); err != nil {
		r.lggr.Warnw("Could not persist bridge", "burnTxHash", bridge.BurnTxHash.Hex(), "error", err)
	}
}

func (r *Registry) updateGauge() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateGaugeLocked()
}

func (r *Registry) updateGaugeLocked() {
	pending := 0
	for _, bridge := range r.bridges {
		if !bridge.Status.Terminal() {
			pending++
		}
	}
	metrics.PendingBridges.Set(float64(pending))
}
