package postgres

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"solana-pda-mint/internal/domain"
	"solana-pda-mint/internal/observability"
	"solana-pda-mint/internal/pda"
	"solana-pda-mint/internal/storage"
)

// defaultMaxAttempts bounds how often Update re-runs fn after a conflict.
const defaultMaxAttempts = 10

// AccountStore implements storage.AccountStore using PostgreSQL.
//
// Update runs fn inside a SERIALIZABLE transaction. Rows read through the
// transaction are locked with SELECT ... FOR UPDATE; writes are buffered and
// flushed in address order at the end. On a serialization failure, deadlock
// or unique violation the whole attempt is rolled back and fn runs again.
type AccountStore struct {
	pool        *Pool
	maxAttempts int
}

// NewAccountStore creates a new AccountStore.
func NewAccountStore(pool *Pool) *AccountStore {
	return &AccountStore{pool: pool, maxAttempts: defaultMaxAttempts}
}

// Compile-time interface check.
var _ storage.AccountStore = (*AccountStore)(nil)

const selectAccount = `
	SELECT address, owner, lamports, data, executable
	FROM accounts
	WHERE address = $1
`

// Get returns the account at addr. Returns ErrNotFound if absent.
func (s *AccountStore) Get(ctx context.Context, addr pda.Address) (*domain.Account, error) {
	start := time.Now()
	a, err := scanAccount(s.pool.QueryRow(ctx, selectAccount, addr.String()))
	observability.RecordDBQuery("postgres", "get_account", time.Since(start).Seconds(), ignoreNotFound(err))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

// Exists reports whether an account is stored at addr.
func (s *AccountStore) Exists(ctx context.Context, addr pda.Address) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM accounts WHERE address = $1)`,
		addr.String(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check account exists: %w", err)
	}
	return exists, nil
}

// Update runs fn atomically. Returns ErrConflict if every attempt conflicted.
func (s *AccountStore) Update(ctx context.Context, fn func(tx storage.AccountTx) error) error {
	var lastErr error
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		start := time.Now()
		err := s.updateOnce(ctx, fn)
		observability.RecordDBQuery("postgres", "update", time.Since(start).Seconds(), err)
		if !isRetryableError(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%w: %v", storage.ErrConflict, lastErr)
}

func (s *AccountStore) updateOnce(ctx context.Context, fn func(tx storage.AccountTx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	atx := &accountTx{
		tx:     tx,
		read:   make(map[pda.Address]*domain.Account),
		absent: make(map[pda.Address]bool),
		staged: make(map[pda.Address]*domain.Account),
	}
	if err := fn(atx); err != nil {
		return err
	}
	if err := atx.flush(ctx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// accountTx buffers writes of one Update attempt.
type accountTx struct {
	tx     pgx.Tx
	read   map[pda.Address]*domain.Account // rows as locked from the database
	absent map[pda.Address]bool            // addresses read as missing
	staged map[pda.Address]*domain.Account
}

func (t *accountTx) load(ctx context.Context, addr pda.Address) (*domain.Account, error) {
	if a, ok := t.staged[addr]; ok {
		return a, nil
	}
	if a, ok := t.read[addr]; ok {
		return a, nil
	}
	if t.absent[addr] {
		return nil, storage.ErrNotFound
	}

	a, err := scanAccount(t.tx.QueryRow(ctx, selectAccount+" FOR UPDATE", addr.String()))
	if err != nil {
		if isNotFoundError(err) {
			t.absent[addr] = true
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("lock account: %w", err)
	}
	t.read[addr] = a
	return a, nil
}

func (t *accountTx) Get(ctx context.Context, addr pda.Address) (*domain.Account, error) {
	a, err := t.load(ctx, addr)
	if err != nil {
		return nil, err
	}
	return a.Clone(), nil
}

func (t *accountTx) Exists(ctx context.Context, addr pda.Address) (bool, error) {
	_, err := t.load(ctx, addr)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (t *accountTx) Put(_ context.Context, a *domain.Account) error {
	if a == nil || a.Address.IsZero() {
		return storage.ErrInvalidInput
	}
	if a.Lamports > math.MaxInt64 {
		return fmt.Errorf("%w: lamports %d out of range", storage.ErrInvalidInput, a.Lamports)
	}
	t.staged[a.Address] = a.Clone()
	return nil
}

// MarkProcessed inserts the signature inside the open transaction, so it
// commits only with the account writes.
func (t *accountTx) MarkProcessed(ctx context.Context, signature string) error {
	if signature == "" {
		return storage.ErrInvalidInput
	}
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO processed_signatures (signature)
		VALUES ($1)
		ON CONFLICT (signature) DO NOTHING
	`, signature)
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrDuplicateKey
	}
	return nil
}

// flush writes staged records in address order so concurrent transactions
// take row locks in the same order.
func (t *accountTx) flush(ctx context.Context) error {
	addrs := make([]pda.Address, 0, len(t.staged))
	for addr := range t.staged {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool {
		return bytes.Compare(addrs[i][:], addrs[j][:]) < 0
	})

	for _, addr := range addrs {
		a := t.staged[addr]
		if prior, ok := t.read[addr]; ok && prior.Equal(a) {
			continue
		}

		var err error
		if t.absent[addr] {
			_, err = t.tx.Exec(ctx, `
				INSERT INTO accounts (address, owner, lamports, data, executable)
				VALUES ($1, $2, $3, $4, $5)
			`, a.Address.String(), a.Owner.String(), int64(a.Lamports), nonNil(a.Data), a.Executable)
		} else {
			_, err = t.tx.Exec(ctx, `
				INSERT INTO accounts (address, owner, lamports, data, executable)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (address) DO UPDATE SET
					owner = EXCLUDED.owner,
					lamports = EXCLUDED.lamports,
					data = EXCLUDED.data,
					executable = EXCLUDED.executable,
					updated_at = now()
			`, a.Address.String(), a.Owner.String(), int64(a.Lamports), nonNil(a.Data), a.Executable)
		}
		if err != nil {
			return fmt.Errorf("write account %s: %w", addr, err)
		}
	}
	return nil
}

// scanAccount scans a single row into domain.Account.
func scanAccount(row pgx.Row) (*domain.Account, error) {
	var (
		address, owner string
		lamports       int64
		a              domain.Account
	)
	if err := row.Scan(&address, &owner, &lamports, &a.Data, &a.Executable); err != nil {
		return nil, err
	}

	var err error
	if a.Address, err = pda.ParseAddress(address); err != nil {
		return nil, fmt.Errorf("scan account address: %w", err)
	}
	if a.Owner, err = pda.ParseAddress(owner); err != nil {
		return nil, fmt.Errorf("scan account owner: %w", err)
	}
	a.Lamports = uint64(lamports)
	return &a, nil
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

func ignoreNotFound(err error) error {
	if isNotFoundError(err) {
		return nil
	}
	return err
}
