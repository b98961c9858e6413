package postgres

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"

	"solana-pda-mint/internal/domain"
	"solana-pda-mint/internal/observability"
	"solana-pda-mint/internal/storage"
)

// TransactionStore implements storage.TransactionStore using PostgreSQL.
type TransactionStore struct {
	pool *Pool
}

// NewTransactionStore creates a new TransactionStore.
func NewTransactionStore(pool *Pool) *TransactionStore {
	return &TransactionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TransactionStore = (*TransactionStore)(nil)

// Insert adds a transaction record. Returns ErrDuplicateKey if signature exists.
func (s *TransactionStore) Insert(ctx context.Context, t *domain.TransactionRecord) error {
	if t == nil || t.Signature == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO transactions (
			signature, slot, block_time, account_keys, log_messages, err
		) VALUES ($1, $2, $3, $4, $5, $6)
	`

	start := time.Now()
	_, err := s.pool.Exec(ctx, query,
		t.Signature,
		t.Slot,
		t.BlockTime,
		nonNilStrings(t.AccountKeys),
		nonNilStrings(t.LogMessages),
		t.Err,
	)
	observability.RecordDBQuery("postgres", "insert_transaction", time.Since(start).Seconds(), err)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// GetBySignature retrieves a transaction. Returns ErrNotFound if not exists.
func (s *TransactionStore) GetBySignature(ctx context.Context, signature string) (*domain.TransactionRecord, error) {
	query := `
		SELECT signature, slot, block_time, account_keys, log_messages, err
		FROM transactions
		WHERE signature = $1
	`

	t, err := scanTransaction(s.pool.QueryRow(ctx, query, signature))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get transaction by signature: %w", err)
	}
	return t, nil
}

// GetByAddress returns transactions mentioning addr, newest slot first.
func (s *TransactionStore) GetByAddress(ctx context.Context, addr string, limit int) ([]*domain.TransactionRecord, error) {
	if limit <= 0 {
		limit = math.MaxInt32
	}

	query := `
		SELECT signature, slot, block_time, account_keys, log_messages, err
		FROM transactions
		WHERE account_keys @> ARRAY[$1]::TEXT[]
		ORDER BY slot DESC, signature ASC
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, query, addr, limit)
	if err != nil {
		return nil, fmt.Errorf("query transactions by address: %w", err)
	}
	defer rows.Close()

	var result []*domain.TransactionRecord
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
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
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(slot), 0) FROM transactions`).Scan(&slot)
	if err != nil {
		return 0, fmt.Errorf("query latest slot: %w", err)
	}
	return slot, nil
}

func scanTransaction(row pgx.Row) (*domain.TransactionRecord, error) {
	var t domain.TransactionRecord
	err := row.Scan(
		&t.Signature,
		&t.Slot,
		&t.BlockTime,
		&t.AccountKeys,
		&t.LogMessages,
		&t.Err,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
