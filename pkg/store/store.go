// Package store persists the bridge registry in SQLite so tracked
// recoveries survive process restarts.
package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pressly/goose/v3"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"
	_ "modernc.org/sqlite"

	recovery "github.com/openbridge-labs/cctp-recovery"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// SQLiteStore implements recovery.Persistence on a single SQLite file.
type SQLiteStore struct {
	lggr logger.Logger
	db   *sql.DB
}

var _ recovery.Persistence = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at dbPath and runs pending
// migrations.
func NewSQLiteStore(lggr logger.Logger, dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database at %s: %w", dbPath, err)
	}

	// SQLite allows one writer; funneling everything through a single
	// connection avoids SQLITE_BUSY under concurrent recoveries.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{
		lggr: logger.With(lggr, "component", "SQLiteStore", "path", dbPath),
		db:   db,
	}, nil
}

// SaveBridge inserts or updates the bridge keyed by its burn transaction
// hash.
func (s *SQLiteStore) SaveBridge(bridge *recovery.PendingBridge) error {
	if bridge == nil {
		return errors.New("nil bridge")
	}
	amount := "0"
	if bridge.Amount != nil {
		amount = bridge.Amount.String()
	}
	_, err := s.db.Exec(`
		INSERT INTO pending_bridges
			(burn_tx_hash, recipient, amount, status, message_hash, mint_tx_hash, created_at, last_checked)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(burn_tx_hash) DO UPDATE SET
			recipient    = excluded.recipient,
			amount       = excluded.amount,
			status       = excluded.status,
			message_hash = excluded.message_hash,
			mint_tx_hash = excluded.mint_tx_hash,
			last_checked = excluded.last_checked`,
		bridge.BurnTxHash.Hex(),
		bridge.Recipient.Hex(),
		amount,
		string(bridge.Status),
		bridge.MessageHash.Hex(),
		bridge.MintTxHash.Hex(),
		bridge.CreatedAt.Unix(),
		bridge.LastChecked.Unix(),
	)
	if err != nil {
		return fmt.Errorf("save bridge %s: %w", bridge.BurnTxHash.Hex(), err)
	}
	return nil
}

// DeleteBridge removes the bridge; deleting an unknown hash is a no-op.
func (s *SQLiteStore) DeleteBridge(burnTxHash common.Hash) error {
	_, err := s.db.Exec(`DELETE FROM pending_bridges WHERE burn_tx_hash = ?`, burnTxHash.Hex())
	if err != nil {
		return fmt.Errorf("delete bridge %s: %w", burnTxHash.Hex(), err)
	}
	return nil
}

// LoadBridges returns every persisted bridge. Rows with corrupt fields are
// skipped with a warning rather than failing the whole load.
func (s *SQLiteStore) LoadBridges() ([]*recovery.PendingBridge, error) {
	rows, err := s.db.Query(`
		SELECT burn_tx_hash, recipient, amount, status, message_hash, mint_tx_hash, created_at, last_checked
		FROM pending_bridges
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("load bridges: %w", err)
	}
	defer rows.Close()

	var bridges []*recovery.PendingBridge
	for rows.Next() {
		var (
			burnTxHash, recipient, amount, status, messageHash, mintTxHash string
			createdAt, lastChecked                                         int64
		)
		if err := rows.Scan(&burnTxHash, &recipient, &amount, &status, &messageHash, &mintTxHash, &createdAt, &lastChecked); err != nil {
			return nil, fmt.Errorf("scan bridge row: %w", err)
		}

		parsedAmount, ok := new(big.Int).SetString(amount, 10)
		if !ok || !recovery.BridgeStatus(status).Valid() {
			s.lggr.Warnw("Skipping corrupt bridge row",
				"burnTxHash", burnTxHash,
				"amount", amount,
				"status", status)
			continue
		}

		bridges = append(bridges, &recovery.PendingBridge{
			BurnTxHash:  common.HexToHash(burnTxHash),
			Recipient:   common.HexToAddress(recipient),
			Amount:      parsedAmount,
			Status:      recovery.BridgeStatus(status),
			MessageHash: common.HexToHash(messageHash),
			MintTxHash:  common.HexToHash(mintTxHash),
			CreatedAt:   time.Unix(createdAt, 0).UTC(),
			LastChecked: time.Unix(lastChecked, 0).UTC(),
		})
	}
	return bridges, rows.Err()
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
