package memory

import (
	"context"
	"sync"

	"solana-pda-mint/internal/domain"
	"solana-pda-mint/internal/pda"
	"solana-pda-mint/internal/storage"
)

// AccountStore is an in-memory implementation of storage.AccountStore.
// Update holds the write lock for its whole duration, which gives the same
// per-record mutual exclusion a ledger scheduler would.
type AccountStore struct {
	mu         sync.RWMutex
	accounts   map[pda.Address]*domain.Account
	signatures map[string]struct{}
}

// NewAccountStore creates a new in-memory account store.
func NewAccountStore() *AccountStore {
	return &AccountStore{
		accounts:   make(map[pda.Address]*domain.Account),
		signatures: make(map[string]struct{}),
	}
}

// Get retrieves an account by address. Returns ErrNotFound if not exists.
func (s *AccountStore) Get(_ context.Context, addr pda.Address) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, exists := s.accounts[addr]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return a.Clone(), nil
}

// Exists reports whether an account is stored at addr.
func (s *AccountStore) Exists(_ context.Context, addr pda.Address) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.accounts[addr]
	return exists, nil
}

// Update runs fn atomically. Writes are staged and applied only on success.
func (s *AccountStore) Update(ctx context.Context, fn func(tx storage.AccountTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &accountTx{
		base:       s.accounts,
		signatures: s.signatures,
		staged:     make(map[pda.Address]*domain.Account),
		marked:     make(map[string]struct{}),
	}
	if err := fn(tx); err != nil {
		return err
	}

	for addr, a := range tx.staged {
		s.accounts[addr] = a
	}
	for sig := range tx.marked {
		s.signatures[sig] = struct{}{}
	}
	return nil
}

// Len returns the number of stored accounts.
func (s *AccountStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts)
}

// accountTx stages writes over read-only base maps.
type accountTx struct {
	base       map[pda.Address]*domain.Account
	signatures map[string]struct{}
	staged     map[pda.Address]*domain.Account
	marked     map[string]struct{}
}

func (t *accountTx) lookup(addr pda.Address) (*domain.Account, bool) {
	if a, ok := t.staged[addr]; ok {
		return a, true
	}
	a, ok := t.base[addr]
	return a, ok
}

func (t *accountTx) Get(_ context.Context, addr pda.Address) (*domain.Account, error) {
	a, ok := t.lookup(addr)
	if !ok {
		return nil, storage.ErrNotFound
	}
	return a.Clone(), nil
}

func (t *accountTx) Exists(_ context.Context, addr pda.Address) (bool, error) {
	_, ok := t.lookup(addr)
	return ok, nil
}

func (t *accountTx) Put(_ context.Context, a *domain.Account) error {
	if a == nil || a.Address.IsZero() {
		return storage.ErrInvalidInput
	}
	t.staged[a.Address] = a.Clone()
	return nil
}

func (t *accountTx) MarkProcessed(_ context.Context, signature string) error {
	if signature == "" {
		return storage.ErrInvalidInput
	}
	_, committed := t.signatures[signature]
	_, staged := t.marked[signature]
	if committed || staged {
		return storage.ErrDuplicateKey
	}
	t.marked[signature] = struct{}{}
	return nil
}

var _ storage.AccountStore = (*AccountStore)(nil)
