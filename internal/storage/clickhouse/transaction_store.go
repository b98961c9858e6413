package clickhouse

import (
	"context"
	"fmt"
	"time"

	"solana-pda-mint/internal/domain"
	"solana-pda-mint/internal/observability"
	"solana-pda-mint/internal/storage"
)

// TransactionStore implements storage.TransactionStore using ClickHouse.
// MergeTree does not enforce uniqueness, so Insert checks for the signature
// first.
type TransactionStore struct {
	conn *Conn
}

// NewTransactionStore creates a new TransactionStore.
func NewTransactionStore(conn *Conn) *TransactionStore {
	return &TransactionStore{conn: conn}
}

// Compile-time interface check.
var _ storage.TransactionStore = (*TransactionStore)(nil)

// Insert adds a record. Returns ErrDuplicateKey if signature exists.
func (s *TransactionStore) Insert(ctx context.Context, t *domain.TransactionRecord) (err error) {
	if t == nil || t.Signature == "" {
		return storage.ErrInvalidInput
	}

	start := time.Now()
	defer func() {
		observability.RecordDBQuery("clickhouse", "insert_transaction", time.Since(start).Seconds(), err)
	}()

	exists, err := s.exists(ctx, t.Signature)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO transactions (
			signature, slot, block_time, account_keys, log_messages, err
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	err = batch.Append(
		t.Signature,
		t.Slot,
		t.BlockTime,
		nonNil(t.AccountKeys),
		nonNil(t.LogMessages),
		t.Err,
	)
	if err != nil {
		return fmt.Errorf("append to batch: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetBySignature retrieves a record. Returns ErrNotFound if not exists.
func (s *TransactionStore) GetBySignature(ctx context.Context, signature string) (*domain.TransactionRecord, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT signature, slot, block_time, account_keys, log_messages, err
		FROM transactions
		WHERE signature = ?
		LIMIT 1
	`, signature)
	if err != nil {
		return nil, fmt.Errorf("query transaction: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("iterate transaction: %w", err)
		}
		return nil, storage.ErrNotFound
	}

	t, err := scanTransaction(rows)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// GetByAddress retrieves records mentioning addr, newest slot first.
func (s *TransactionStore) GetByAddress(ctx context.Context, addr string, limit int) ([]*domain.TransactionRecord, error) {
	query := `
		SELECT signature, slot, block_time, account_keys, log_messages, err
		FROM transactions
		WHERE has(account_keys, ?)
		ORDER BY slot DESC, signature ASC
	`
	args := []any{addr}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions by address: %w", err)
	}
	defer rows.Close()

	var result []*domain.TransactionRecord
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return result, nil
}

// LatestSlot returns the highest recorded slot, 0 when empty.
func (s *TransactionStore) LatestSlot(ctx context.Context) (int64, error) {
	var slot int64
	// max over an empty table yields the type default, 0.
	if err := s.conn.QueryRow(ctx, `SELECT max(slot) FROM transactions`).Scan(&slot); err != nil {
		return 0, fmt.Errorf("query latest slot: %w", err)
	}
	return slot, nil
}

func (s *TransactionStore) exists(ctx context.Context, signature string) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx, `
		SELECT count() FROM transactions WHERE signature = ?
	`, signature).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row scanner) (*domain.TransactionRecord, error) {
	var t domain.TransactionRecord
	if err := row.Scan(&t.Signature, &t.Slot, &t.BlockTime, &t.AccountKeys, &t.LogMessages, &t.Err); err != nil {
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	return &t, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
