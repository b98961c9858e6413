package system_test

import (
	"context"
	"crypto/ed25519"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-pda-mint/internal/pda"
	"solana-pda-mint/internal/runtime"
	"solana-pda-mint/internal/storage"
	"solana-pda-mint/internal/storage/memory"
	"solana-pda-mint/internal/system"
)

type keypair struct {
	addr pda.Address
	key  ed25519.PrivateKey
}

func newKeypair(t *testing.T) keypair {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	addr, err := pda.AddressFromBytes(pub)
	require.NoError(t, err)
	return keypair{addr: addr, key: priv}
}

func setup(t *testing.T) (*runtime.Runtime, *memory.AccountStore) {
	t.Helper()
	store := memory.NewAccountStore()
	rt := runtime.New(store)
	rt.Register("system", system.NewProgram(nil))
	return rt, store
}

func execute(t *testing.T, rt *runtime.Runtime, nonce uint64, ix runtime.Instruction, signers ...keypair) error {
	t.Helper()
	tx := runtime.NewTransaction(nonce, ix)
	keys := make([]ed25519.PrivateKey, len(signers))
	for i, s := range signers {
		keys[i] = s.key
	}
	require.NoError(t, tx.Sign(keys...))
	_, err := rt.Execute(context.Background(), tx)
	return err
}

func TestCreateAccount(t *testing.T) {
	rt, store := setup(t)
	ctx := context.Background()
	payer := newKeypair(t)
	target := newKeypair(t)
	owner := pda.MustParseAddress("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")

	require.NoError(t, system.Airdrop(ctx, store, payer.addr, 10_000_000))

	rent := system.MinimumBalance(82)
	ix := system.NewCreateAccountInstruction(payer.addr, target.addr, system.CreateAccountArgs{
		Lamports: rent,
		Space:    82,
		Owner:    owner,
	})
	require.NoError(t, execute(t, rt, 1, ix, payer, target))

	created, err := store.Get(ctx, target.addr)
	require.NoError(t, err)
	assert.Equal(t, owner, created.Owner)
	assert.Equal(t, rent, created.Lamports)
	assert.Equal(t, make([]byte, 82), created.Data)

	funder, err := store.Get(ctx, payer.addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000_000)-rent, funder.Lamports)
}

func TestCreateAccount_AlreadyInUse(t *testing.T) {
	rt, store := setup(t)
	ctx := context.Background()
	payer := newKeypair(t)
	target := newKeypair(t)

	require.NoError(t, system.Airdrop(ctx, store, payer.addr, 10_000_000))

	args := system.CreateAccountArgs{Lamports: 1000, Space: 8, Owner: system.ProgramID}
	require.NoError(t, execute(t, rt, 1, system.NewCreateAccountInstruction(payer.addr, target.addr, args), payer, target))

	err := execute(t, rt, 2, system.NewCreateAccountInstruction(payer.addr, target.addr, args), payer, target)
	assert.True(t, errors.Is(err, system.ErrAccountAlreadyInitialized), "got %v", err)

	funder, err := store.Get(ctx, payer.addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000_000-1000), funder.Lamports, "failed create must not debit")
}

func TestCreateAccount_PrefundedTarget(t *testing.T) {
	rt, store := setup(t)
	ctx := context.Background()
	payer := newKeypair(t)
	owner := pda.MustParseAddress("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	rent := system.MinimumBalance(82)

	tests := []struct {
		name      string
		prefund   uint64
		wantDebit uint64
		wantFinal uint64
	}{
		{name: "below rent", prefund: 500, wantDebit: rent - 500, wantFinal: rent},
		{name: "above rent", prefund: rent + 10, wantDebit: 0, wantFinal: rent + 10},
	}

	require.NoError(t, system.Airdrop(ctx, store, payer.addr, 10_000_000))

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := newKeypair(t)
			require.NoError(t, system.Airdrop(ctx, store, target.addr, tt.prefund))

			before, err := store.Get(ctx, payer.addr)
			require.NoError(t, err)

			ix := system.NewCreateAccountInstruction(payer.addr, target.addr, system.CreateAccountArgs{
				Lamports: rent,
				Space:    82,
				Owner:    owner,
			})
			require.NoError(t, execute(t, rt, uint64(i+1), ix, payer, target))

			created, err := store.Get(ctx, target.addr)
			require.NoError(t, err)
			assert.Equal(t, owner, created.Owner)
			assert.Equal(t, tt.wantFinal, created.Lamports)
			assert.Equal(t, make([]byte, 82), created.Data)

			after, err := store.Get(ctx, payer.addr)
			require.NoError(t, err)
			assert.Equal(t, tt.wantDebit, before.Lamports-after.Lamports)
		})
	}
}

func TestCreateAccount_InsufficientFunds(t *testing.T) {
	rt, store := setup(t)
	ctx := context.Background()
	payer := newKeypair(t)
	target := newKeypair(t)

	require.NoError(t, system.Airdrop(ctx, store, payer.addr, 100))

	ix := system.NewCreateAccountInstruction(payer.addr, target.addr, system.CreateAccountArgs{
		Lamports: system.MinimumBalance(165),
		Space:    165,
		Owner:    system.ProgramID,
	})
	err := execute(t, rt, 1, ix, payer, target)
	assert.True(t, errors.Is(err, system.ErrInsufficientFunds), "got %v", err)

	exists, err := store.Exists(ctx, target.addr)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCreateAccount_UnfundedPayer(t *testing.T) {
	rt, _ := setup(t)
	payer := newKeypair(t)
	target := newKeypair(t)

	ix := system.NewCreateAccountInstruction(payer.addr, target.addr, system.CreateAccountArgs{
		Lamports: 1,
		Space:    0,
		Owner:    system.ProgramID,
	})
	err := execute(t, rt, 1, ix, payer, target)
	assert.True(t, errors.Is(err, system.ErrInsufficientFunds), "got %v", err)
}

func TestCreateAccount_TooLarge(t *testing.T) {
	rt, store := setup(t)
	payer := newKeypair(t)
	target := newKeypair(t)
	require.NoError(t, system.Airdrop(context.Background(), store, payer.addr, 10_000_000))

	ix := system.NewCreateAccountInstruction(payer.addr, target.addr, system.CreateAccountArgs{
		Lamports: 1,
		Space:    system.MaxPermittedDataLength + 1,
		Owner:    system.ProgramID,
	})
	err := execute(t, rt, 1, ix, payer, target)
	assert.True(t, errors.Is(err, system.ErrInvalidAccountDataLength), "got %v", err)
}

func TestTransfer(t *testing.T) {
	rt, store := setup(t)
	ctx := context.Background()
	from := newKeypair(t)
	to := newKeypair(t)

	require.NoError(t, system.Airdrop(ctx, store, from.addr, 5000))
	require.NoError(t, execute(t, rt, 1, system.NewTransferInstruction(from.addr, to.addr, 1200), from))

	a, err := store.Get(ctx, from.addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(3800), a.Lamports)

	b, err := store.Get(ctx, to.addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(1200), b.Lamports)
	assert.Equal(t, system.ProgramID, b.Owner)

	err = execute(t, rt, 2, system.NewTransferInstruction(from.addr, to.addr, 9999), from)
	assert.True(t, errors.Is(err, system.ErrInsufficientFunds), "got %v", err)
}

func TestInvalidInstruction(t *testing.T) {
	rt, _ := setup(t)
	payer := newKeypair(t)

	ix := runtime.Instruction{
		ProgramID: system.ProgramID,
		Accounts:  []runtime.AccountMeta{runtime.WritableSigner(payer.addr)},
		Data:      []byte{9, 0, 0, 0},
	}
	err := execute(t, rt, 1, ix, payer)
	assert.True(t, errors.Is(err, system.ErrInvalidInstruction), "got %v", err)
}

func TestAirdrop(t *testing.T) {
	store := memory.NewAccountStore()
	ctx := context.Background()
	addr := newKeypair(t).addr

	require.NoError(t, system.Airdrop(ctx, store, addr, 10))
	require.NoError(t, system.Airdrop(ctx, store, addr, 15))

	a, err := store.Get(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(25), a.Lamports)

	err = system.Airdrop(ctx, store, addr, ^uint64(0))
	assert.ErrorIs(t, err, system.ErrArithmeticOverflow)

	err = system.Airdrop(ctx, store, pda.Zero, 10)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestMinimumBalance(t *testing.T) {
	assert.Equal(t, uint64(1461600), system.MinimumBalance(82))
	assert.Equal(t, uint64(2039280), system.MinimumBalance(165))
	assert.Equal(t, uint64(890880), system.MinimumBalance(0))
}
