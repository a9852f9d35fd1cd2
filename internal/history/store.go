// Package history persists the append-only transaction log and the
// per-wallet portfolio value point used for profit/loss deltas. Missing keys
// read as empty; there are no schema migrations beyond CREATE IF NOT EXISTS.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"github.com/ggonzalez94/chainpilot/internal/model"
)

type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

func Open(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}
	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			wallet TEXT NOT NULL,
			status TEXT NOT NULL,
			submitted_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_tx_wallet_submitted ON transactions(wallet, submitted_at DESC);",
		`CREATE TABLE IF NOT EXISTS portfolio_values (
			wallet TEXT PRIMARY KEY,
			value_usd REAL NOT NULL,
			taken_at INTEGER NOT NULL
		);`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init history schema: %w", err)
		}
	}
	return &Store{db: db, lock: flock.New(lockPath)}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) withLock(fn func() error) error {
	locked, err := s.lock.TryLockContext(context.Background(), 5*time.Second)
	if err != nil {
		return fmt.Errorf("lock history store: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock history store: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()
	return fn()
}

// Append records a new transaction entry.
func (s *Store) Append(record model.TransactionRecord) error {
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("append transaction: missing id")
	}
	return s.withLock(func() error {
		payload, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("encode transaction: %w", err)
		}
		_, err = s.db.Exec(
			"INSERT INTO transactions (id, wallet, status, submitted_at, payload) VALUES (?, ?, ?, ?, ?)",
			record.ID, strings.ToLower(record.Wallet), record.Status, record.SubmittedAt.UTC().Unix(), payload,
		)
		if err != nil {
			return fmt.Errorf("append transaction: %w", err)
		}
		return nil
	})
}

// UpdateStatus moves a record forward. Terminal records accept only
// cost/profit annotations; everything else about them is immutable.
func (s *Store) UpdateStatus(id string, status model.ExecutionStatus, txHash, failedReason string) error {
	return s.withLock(func() error {
		record, err := s.get(id)
		if err != nil {
			return err
		}
		if record.Status == model.StatusCompleted || record.Status == model.StatusFailed {
			return fmt.Errorf("transaction %s is terminal (%s)", id, record.Status)
		}
		record.Status = status
		if txHash != "" {
			record.TxHash = txHash
		}
		if failedReason != "" {
			record.FailedReason = failedReason
		}
		record.LastUpdated = time.Now().UTC()
		return s.save(record)
	})
}

// Annotate attaches later-arriving cost/profit figures to a terminal record.
func (s *Store) Annotate(id string, costUSD, profitUSD *float64) error {
	return s.withLock(func() error {
		record, err := s.get(id)
		if err != nil {
			return err
		}
		if costUSD != nil {
			record.CostUSD = costUSD
		}
		if profitUSD != nil {
			record.ProfitUSD = profitUSD
		}
		record.LastUpdated = time.Now().UTC()
		return s.save(record)
	})
}

func (s *Store) get(id string) (model.TransactionRecord, error) {
	var payload []byte
	err := s.db.QueryRow("SELECT payload FROM transactions WHERE id = ?", id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.TransactionRecord{}, fmt.Errorf("transaction not found: %s", id)
		}
		return model.TransactionRecord{}, fmt.Errorf("read transaction: %w", err)
	}
	var record model.TransactionRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return model.TransactionRecord{}, fmt.Errorf("decode transaction: %w", err)
	}
	return record, nil
}

func (s *Store) save(record model.TransactionRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode transaction: %w", err)
	}
	_, err = s.db.Exec(
		"UPDATE transactions SET status = ?, payload = ? WHERE id = ?",
		record.Status, payload, record.ID,
	)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	return nil
}

// List returns a wallet's records, newest first.
func (s *Store) List(wallet string, limit int) ([]model.TransactionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		"SELECT payload FROM transactions WHERE wallet = ? ORDER BY submitted_at DESC LIMIT ?",
		strings.ToLower(wallet), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	records := make([]model.TransactionRecord, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan transaction row: %w", err)
		}
		var record model.TransactionRecord
		if err := json.Unmarshal(payload, &record); err != nil {
			return nil, fmt.Errorf("decode transaction row: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// SetPortfolioValue overwrites the wallet's point-in-time value. One row per
// wallet; snapshots replace, never accumulate.
func (s *Store) SetPortfolioValue(wallet string, valueUSD float64, takenAt time.Time) error {
	return s.withLock(func() error {
		_, err := s.db.Exec(`
			INSERT INTO portfolio_values (wallet, value_usd, taken_at)
			VALUES (?, ?, ?)
			ON CONFLICT(wallet) DO UPDATE SET
				value_usd=excluded.value_usd,
				taken_at=excluded.taken_at
		`, strings.ToLower(wallet), valueUSD, takenAt.UTC().Unix())
		if err != nil {
			return fmt.Errorf("save portfolio value: %w", err)
		}
		return nil
	})
}

// PortfolioValue returns the last stored value point for a wallet. A missing
// wallet reads as ok=false.
func (s *Store) PortfolioValue(wallet string) (valueUSD float64, takenAt time.Time, ok bool, err error) {
	var takenUnix int64
	err = s.db.QueryRow(
		"SELECT value_usd, taken_at FROM portfolio_values WHERE wallet = ?",
		strings.ToLower(wallet),
	).Scan(&valueUSD, &takenUnix)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, time.Time{}, false, nil
		}
		return 0, time.Time{}, false, fmt.Errorf("read portfolio value: %w", err)
	}
	return valueUSD, time.Unix(takenUnix, 0).UTC(), true, nil
}
