package storage

import (
	"context"

	"solana-pda-mint/internal/domain"
	"solana-pda-mint/internal/pda"
)

// AccountStore provides access to ledger accounts.
type AccountStore interface {
	// Get retrieves an account by address. Returns ErrNotFound if not exists.
	Get(ctx context.Context, addr pda.Address) (*domain.Account, error)

	// Exists reports whether an account is stored at addr.
	Exists(ctx context.Context, addr pda.Address) (bool, error)

	// Update runs fn as one atomic unit. Writes made through tx become visible
	// only if fn returns nil; any error discards all of them. Concurrent Update
	// calls are serialized, so fn always observes a consistent snapshot.
	// fn may be re-run after a serialization conflict and must not keep state
	// between attempts.
	Update(ctx context.Context, fn func(tx AccountTx) error) error
}

// AccountTx is the view of the store inside a single Update.
type AccountTx interface {
	// Get retrieves an account. Returns ErrNotFound if not exists.
	Get(ctx context.Context, addr pda.Address) (*domain.Account, error)

	// Exists reports whether an account is stored at addr.
	Exists(ctx context.Context, addr pda.Address) (bool, error)

	// Put creates or replaces the account at a.Address.
	Put(ctx context.Context, a *domain.Account) error

	// MarkProcessed records a transaction signature. It commits or rolls
	// back together with the account writes. Returns ErrDuplicateKey if the
	// signature was already recorded.
	MarkProcessed(ctx context.Context, signature string) error
}

// TransactionStore provides access to the executed-transaction audit log.
type TransactionStore interface {
	// Insert adds a record. Returns ErrDuplicateKey if signature exists.
	Insert(ctx context.Context, t *domain.TransactionRecord) error

	// GetBySignature retrieves a record. Returns ErrNotFound if not exists.
	GetBySignature(ctx context.Context, signature string) (*domain.TransactionRecord, error)

	// GetByAddress retrieves records mentioning addr, newest slot first.
	// limit <= 0 means no limit.
	GetByAddress(ctx context.Context, addr string, limit int) ([]*domain.TransactionRecord, error)

	// LatestSlot returns the highest recorded slot, 0 when empty.
	LatestSlot(ctx context.Context) (int64, error)
}
