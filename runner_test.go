package recovery

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRecoverer struct {
	mu        sync.Mutex
	recovered []common.Hash
	result    func(burnTxHash common.Hash) *RecoveryResult
}

func (c *countingRecoverer) Recover(ctx context.Context, burnTxHash common.Hash, recipient common.Address, expectedAmount *big.Int, signingKey *ecdsa.PrivateKey) *RecoveryResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recovered = append(c.recovered, burnTxHash)
	if c.result != nil {
		return c.result(burnTxHash)
	}
	return &RecoveryResult{Pending: true, BurnTxHash: burnTxHash}
}

func TestRunner_SweepRetriesOnlyPendingBridges(t *testing.T) {
	registry := NewRegistry(logger.Test(t), nil)
	registry.Add(burnA, common.HexToAddress("0x1"), big.NewInt(1))
	registry.Add(burnB, common.HexToAddress("0x2"), big.NewInt(2))
	registry.MarkMintCompleted(burnB, common.HexToHash("0x77ee"))

	rec := &countingRecoverer{}
	runner := NewRunner(logger.Test(t), registry, rec, nil, time.Hour, 2)
	runner.sweep(context.Background())

	require.Len(t, rec.recovered, 1)
	assert.Equal(t, burnA, rec.recovered[0])
}

func TestRunner_SweepWithEmptyRegistryIsNoop(t *testing.T) {
	rec := &countingRecoverer{}
	runner := NewRunner(logger.Test(t), NewRegistry(logger.Test(t), nil), rec, nil, time.Hour, 2)
	runner.sweep(context.Background())
	assert.Empty(t, rec.recovered)
}

func TestRunner_StartStopsOnContextCancel(t *testing.T) {
	registry := NewRegistry(logger.Test(t), nil)
	runner := NewRunner(logger.Test(t), registry, &countingRecoverer{}, nil, 10*time.Millisecond, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Start(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("runner did not stop after context cancellation")
	}
}

func TestRunner_TicksSweep(t *testing.T) {
	registry := NewRegistry(logger.Test(t), nil)
	registry.Add(burnA, common.HexToAddress("0x1"), big.NewInt(1))

	rec := &countingRecoverer{}
	runner := NewRunner(logger.Test(t), registry, rec, nil, 5*time.Millisecond, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_ = runner.Start(ctx)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.NotEmpty(t, rec.recovered)
}
