package store

import (
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	recovery "github.com/openbridge-labs/cctp-recovery"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(logger.Test(t), filepath.Join(t.TempDir(), "bridges.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func testBridge(burnTxHash string) *recovery.PendingBridge {
	now := time.Now().Truncate(time.Second).UTC()
	return &recovery.PendingBridge{
		BurnTxHash:  common.HexToHash(burnTxHash),
		Recipient:   common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Amount:      big.NewInt(1_000_000),
		Status:      recovery.StatusPendingAttestation,
		CreatedAt:   now,
		LastChecked: now,
	}
}

func TestSaveAndLoadBridge(t *testing.T) {
	s := newTestStore(t)
	bridge := testBridge("0xaa")
	require.NoError(t, s.SaveBridge(bridge))

	loaded, err := s.LoadBridges()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, bridge.BurnTxHash, loaded[0].BurnTxHash)
	assert.Equal(t, bridge.Recipient, loaded[0].Recipient)
	assert.Zero(t, bridge.Amount.Cmp(loaded[0].Amount))
	assert.Equal(t, bridge.Status, loaded[0].Status)
	assert.Equal(t, bridge.CreatedAt, loaded[0].CreatedAt)
}

func TestSaveBridge_UpsertAdvancesStatus(t *testing.T) {
	s := newTestStore(t)
	bridge := testBridge("0xaa")
	require.NoError(t, s.SaveBridge(bridge))

	bridge.Status = recovery.StatusMintCompleted
	bridge.MintTxHash = common.HexToHash("0xbb")
	bridge.MessageHash = common.HexToHash("0xcc")
	require.NoError(t, s.SaveBridge(bridge))

	loaded, err := s.LoadBridges()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, recovery.StatusMintCompleted, loaded[0].Status)
	assert.Equal(t, common.HexToHash("0xbb"), loaded[0].MintTxHash)
	assert.Equal(t, common.HexToHash("0xcc"), loaded[0].MessageHash)
}

func TestDeleteBridge(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveBridge(testBridge("0xaa")))
	require.NoError(t, s.SaveBridge(testBridge("0xbb")))

	require.NoError(t, s.DeleteBridge(common.HexToHash("0xaa")))
	// Deleting an unknown hash is a no-op.
	require.NoError(t, s.DeleteBridge(common.HexToHash("0x404404")))

	loaded, err := s.LoadBridges()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, common.HexToHash("0xbb"), loaded[0].BurnTxHash)
}

func TestLoadBridges_OrderedByCreation(t *testing.T) {
	s := newTestStore(t)
	older := testBridge("0xaa")
	older.CreatedAt = time.Unix(1000, 0).UTC()
	newer := testBridge("0xbb")
	newer.CreatedAt = time.Unix(2000, 0).UTC()

	require.NoError(t, s.SaveBridge(newer))
	require.NoError(t, s.SaveBridge(older))

	loaded, err := s.LoadBridges()
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, older.BurnTxHash, loaded[0].BurnTxHash)
	assert.Equal(t, newer.BurnTxHash, loaded[1].BurnTxHash)
}

func TestLoadBridges_SkipsCorruptRows(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveBridge(testBridge("0xaa")))

	_, err := s.db.Exec(`
		INSERT INTO pending_bridges
			(burn_tx_hash, recipient, amount, status, message_hash, mint_tx_hash, created_at, last_checked)
		VALUES ('0xbad', '0x0', 'not-a-number', 'pending_attestation', '', '', 0, 0)`)
	require.NoError(t, err)

	loaded, err := s.LoadBridges()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
}

func TestSaveBridge_NilRejected(t *testing.T) {
	s := newTestStore(t)
	require.Error(t, s.SaveBridge(nil))
}
