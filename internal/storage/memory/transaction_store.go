package memory

import (
	"context"
	"sort"
	"sync"

	"solana-pda-mint/internal/domain"
	"solana-pda-mint/internal/storage"
)

// TransactionStore is an in-memory implementation of storage.TransactionStore.
type TransactionStore struct {
	mu    sync.RWMutex
	data  map[string]*domain.TransactionRecord // keyed by signature
	order []string                             // insertion order
}

// NewTransactionStore creates a new in-memory transaction store.
func NewTransactionStore() *TransactionStore {
	return &TransactionStore{
		data: make(map[string]*domain.TransactionRecord),
	}
}

// Insert adds a record. Returns ErrDuplicateKey if signature exists.
func (s *TransactionStore) Insert(_ context.Context, t *domain.TransactionRecord) error {
	if t == nil || t.Signature == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[t.Signature]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[t.Signature] = copyRecord(t)
	s.order = append(s.order, t.Signature)
	return nil
}

// GetBySignature retrieves a record. Returns ErrNotFound if not exists.
func (s *TransactionStore) GetBySignature(_ context.Context, signature string) (*domain.TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, exists := s.data[signature]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return copyRecord(t), nil
}

// GetByAddress retrieves records mentioning addr, newest slot first.
func (s *TransactionStore) GetByAddress(_ context.Context, addr string, limit int) ([]*domain.TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TransactionRecord
	for _, sig := range s.order {
		t := s.data[sig]
		if t.Mentions(addr) {
			result = append(result, copyRecord(t))
		}
	}

	// Stable sort keeps insertion order within a slot, then reverse for newest first.
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Slot < result[j].Slot
	})
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// LatestSlot returns the highest recorded slot, 0 when empty.
func (s *TransactionStore) LatestSlot(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest int64
	for _, t := range s.data {
		if t.Slot > latest {
			latest = t.Slot
		}
	}
	return latest, nil
}

func copyRecord(t *domain.TransactionRecord) *domain.TransactionRecord {
	cp := *t
	cp.AccountKeys = append([]string(nil), t.AccountKeys...)
	cp.LogMessages = append([]string(nil), t.LogMessages...)
	if t.Err != nil {
		e := *t.Err
		cp.Err = &e
	}
	return &cp
}

var _ storage.TransactionStore = (*TransactionStore)(nil)
