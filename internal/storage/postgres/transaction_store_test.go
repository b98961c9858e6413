package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-pda-mint/internal/domain"
	"solana-pda-mint/internal/storage"
)

func TestTransactionStore_InsertAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTransactionStore(pool)

	msg := "instruction 0: boom"
	rec := &domain.TransactionRecord{
		Signature:   "sig-1",
		Slot:        7,
		BlockTime:   1700000000,
		AccountKeys: []string{"payer", "mint"},
		LogMessages: []string{"Program X invoke [1]", "Program X failed: boom"},
		Err:         &msg,
	}
	require.NoError(t, store.Insert(ctx, rec))

	got, err := store.GetBySignature(ctx, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	err = store.Insert(ctx, rec)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	_, err = store.GetBySignature(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestTransactionStore_GetByAddress(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTransactionStore(pool)

	slot, err := store.LatestSlot(ctx)
	require.NoError(t, err)
	assert.Zero(t, slot)

	for _, rec := range []*domain.TransactionRecord{
		{Signature: "a", Slot: 1, AccountKeys: []string{"payer", "holder"}},
		{Signature: "b", Slot: 2, AccountKeys: []string{"payer"}},
		{Signature: "c", Slot: 3, AccountKeys: []string{"holder"}},
	} {
		require.NoError(t, store.Insert(ctx, rec))
	}

	got, err := store.GetByAddress(ctx, "holder", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].Signature)
	assert.Equal(t, "a", got[1].Signature)
	assert.Empty(t, got[1].LogMessages)

	got, err = store.GetByAddress(ctx, "payer", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].Signature)

	slot, err = store.LatestSlot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), slot)
}
