package postgres

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-pda-mint/internal/domain"
	"solana-pda-mint/internal/pda"
	"solana-pda-mint/internal/storage"
)

func testAddr(b byte) pda.Address {
	var a pda.Address
	a[0] = b
	a[31] = 0x7c
	return a
}

func TestAccountStore_UpdateAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewAccountStore(pool)

	acct := &domain.Account{
		Address:  testAddr(1),
		Owner:    testAddr(2),
		Lamports: 2039280,
		Data:     []byte{1, 2, 3, 4},
	}

	err := store.Update(ctx, func(tx storage.AccountTx) error {
		return tx.Put(ctx, acct)
	})
	require.NoError(t, err)

	retrieved, err := store.Get(ctx, acct.Address)
	require.NoError(t, err)
	assert.True(t, acct.Equal(retrieved), "got %+v", retrieved)

	exists, err := store.Exists(ctx, acct.Address)
	require.NoError(t, err)
	assert.True(t, exists)

	// Overwrite through a second transaction.
	err = store.Update(ctx, func(tx storage.AccountTx) error {
		a, err := tx.Get(ctx, acct.Address)
		if err != nil {
			return err
		}
		a.Lamports -= 80
		a.Data[0] = 9
		return tx.Put(ctx, a)
	})
	require.NoError(t, err)

	retrieved, err = store.Get(ctx, acct.Address)
	require.NoError(t, err)
	assert.Equal(t, uint64(2039200), retrieved.Lamports)
	assert.Equal(t, []byte{9, 2, 3, 4}, retrieved.Data)
}

func TestAccountStore_NotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewAccountStore(pool)

	_, err := store.Get(ctx, testAddr(9))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	exists, err := store.Exists(ctx, testAddr(9))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestAccountStore_Rollback(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewAccountStore(pool)
	boom := errors.New("boom")

	err := store.Update(ctx, func(tx storage.AccountTx) error {
		if err := tx.Put(ctx, &domain.Account{Address: testAddr(1), Owner: testAddr(2), Lamports: 5}); err != nil {
			return err
		}
		exists, err := tx.Exists(ctx, testAddr(1))
		if err != nil {
			return err
		}
		if !exists {
			return errors.New("staged write not visible inside transaction")
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	exists, err := store.Exists(ctx, testAddr(1))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestAccountStore_MarkProcessed(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewAccountStore(pool)
	boom := errors.New("boom")

	err := store.Update(ctx, func(tx storage.AccountTx) error {
		if err := tx.MarkProcessed(ctx, "sig-1"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = store.Update(ctx, func(tx storage.AccountTx) error {
		if err := tx.MarkProcessed(ctx, "sig-1"); err != nil {
			return err
		}
		return tx.Put(ctx, &domain.Account{Address: testAddr(1), Owner: testAddr(2), Lamports: 5})
	})
	require.NoError(t, err, "rolled back signature must not block a later commit")

	err = store.Update(ctx, func(tx storage.AccountTx) error {
		return tx.MarkProcessed(ctx, "sig-1")
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	a, err := store.Get(ctx, testAddr(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(5), a.Lamports)
}

func TestAccountStore_InvalidInput(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewAccountStore(pool)

	err := store.Update(ctx, func(tx storage.AccountTx) error {
		return tx.Put(ctx, &domain.Account{Address: testAddr(1), Lamports: math.MaxUint64})
	})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	err = store.Update(ctx, func(tx storage.AccountTx) error {
		return tx.Put(ctx, &domain.Account{})
	})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

// Concurrent create-if-missing: every caller succeeds and exactly one insert
// happens. Losers see the row on retry and leave it alone.
func TestAccountStore_ConcurrentCreateIfMissing(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewAccountStore(pool)
	addr := testAddr(3)

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		errs    = make([]error, workers)
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.Update(ctx, func(tx storage.AccountTx) error {
				exists, err := tx.Exists(ctx, addr)
				if err != nil || exists {
					return err
				}
				if err := tx.Put(ctx, &domain.Account{Address: addr, Owner: testAddr(4), Lamports: uint64(100 + i)}); err != nil {
					return err
				}
				mu.Lock()
				created++
				mu.Unlock()
				return nil
			})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "worker %d", i)
	}
	assert.GreaterOrEqual(t, created, 1)

	a, err := store.Get(ctx, addr)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, a.Lamports, uint64(100))
	assert.Less(t, a.Lamports, uint64(100+workers))
}

func TestAccountStore_ConcurrentIncrements(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewAccountStore(pool)
	addr := testAddr(5)

	require.NoError(t, store.Update(ctx, func(tx storage.AccountTx) error {
		return tx.Put(ctx, &domain.Account{Address: addr, Owner: testAddr(4)})
	}))

	const workers = 4
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.Update(ctx, func(tx storage.AccountTx) error {
				a, err := tx.Get(ctx, addr)
				if err != nil {
					return err
				}
				a.Lamports++
				return tx.Put(ctx, a)
			})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "worker %d", i)
	}

	a, err := store.Get(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(workers), a.Lamports)
}
