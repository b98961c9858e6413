package token_test

import (
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-pda-mint/internal/pda"
	"solana-pda-mint/internal/runtime"
	"solana-pda-mint/internal/storage/memory"
	"solana-pda-mint/internal/system"
	"solana-pda-mint/internal/token"
)

type keypair struct {
	addr pda.Address
	key  ed25519.PrivateKey
}

func newKeypair(t *testing.T) keypair {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return keypair{addr: pda.Address(pub), key: priv}
}

// proxyProgram signs MintTo for a PDA derived from its own ID.
// Data: bump u8, amount u64, seed bytes. Accounts: [mint, dest, authority, token].
type proxyProgram struct {
	id pda.Address
}

func (p *proxyProgram) ID() pda.Address { return p.id }

func (p *proxyProgram) Process(ic *runtime.InvokeContext) error {
	data := ic.Data()
	accts := ic.Accounts()
	bump := data[0]
	amount := binary.LittleEndian.Uint64(data[1:9])
	seed := data[9:]

	ix := token.NewMintToInstruction(accts[0].Address, accts[1].Address, accts[2].Address, amount)
	return ic.InvokeSigned(ix, pda.NewProof(p.id, bump, seed))
}

type fixture struct {
	rt     *runtime.Runtime
	store  *memory.AccountStore
	payer  keypair
	nonce  uint64
	proxyA *proxyProgram
	proxyB *proxyProgram
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewAccountStore()
	rt := runtime.New(store)
	rt.Register("system", system.NewProgram(nil))
	rt.Register("token", token.NewProgram())

	f := &fixture{
		rt:     rt,
		store:  store,
		payer:  newKeypair(t),
		proxyA: &proxyProgram{id: newKeypair(t).addr},
		proxyB: &proxyProgram{id: newKeypair(t).addr},
	}
	rt.Register("proxy-a", f.proxyA)
	rt.Register("proxy-b", f.proxyB)
	require.NoError(t, system.Airdrop(context.Background(), store, f.payer.addr, 1_000_000_000))
	return f
}

func (f *fixture) execute(t *testing.T, ixs []runtime.Instruction, signers ...keypair) error {
	t.Helper()
	f.nonce++
	tx := runtime.NewTransaction(f.nonce, ixs...)
	keys := []ed25519.PrivateKey{f.payer.key}
	for _, s := range signers {
		keys = append(keys, s.key)
	}
	require.NoError(t, tx.Sign(keys...))
	_, err := f.rt.Execute(context.Background(), tx)
	return err
}

func (f *fixture) createMint(t *testing.T, authority pda.Address) pda.Address {
	t.Helper()
	mint := newKeypair(t)
	err := f.execute(t, []runtime.Instruction{
		system.NewCreateAccountInstruction(f.payer.addr, mint.addr, system.CreateAccountArgs{
			Lamports: system.MinimumBalance(token.MintSize),
			Space:    token.MintSize,
			Owner:    token.ProgramID,
		}),
		token.NewInitializeMintInstruction(mint.addr, 6, authority, token.Some(authority)),
	}, mint)
	require.NoError(t, err)
	return mint.addr
}

func (f *fixture) createAccount(t *testing.T, mint, owner pda.Address) pda.Address {
	t.Helper()
	acct := newKeypair(t)
	err := f.execute(t, []runtime.Instruction{
		system.NewCreateAccountInstruction(f.payer.addr, acct.addr, system.CreateAccountArgs{
			Lamports: system.MinimumBalance(token.AccountSize),
			Space:    token.AccountSize,
			Owner:    token.ProgramID,
		}),
		token.NewInitializeAccountInstruction(acct.addr, mint, owner),
	}, acct)
	require.NoError(t, err)
	return acct.addr
}

func proxyMintTo(proxy *proxyProgram, mint, dest, authority pda.Address, bump uint8, amount uint64, seed []byte) runtime.Instruction {
	data := []byte{bump}
	data = binary.LittleEndian.AppendUint64(data, amount)
	data = append(data, seed...)
	return runtime.Instruction{
		ProgramID: proxy.id,
		Accounts: []runtime.AccountMeta{
			runtime.Writable(mint),
			runtime.Writable(dest),
			runtime.ReadOnly(authority),
			runtime.ReadOnly(token.ProgramID),
		},
		Data: data,
	}
}

func TestInitializeMint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	authority := newKeypair(t)

	mintAddr := f.createMint(t, authority.addr)

	mint, err := token.GetMint(ctx, f.store, mintAddr)
	require.NoError(t, err)
	assert.True(t, mint.IsInitialized)
	assert.Equal(t, uint8(6), mint.Decimals)
	assert.Equal(t, uint64(0), mint.Supply)
	assert.Equal(t, token.Some(authority.addr), mint.MintAuthority)
	assert.Equal(t, token.Some(authority.addr), mint.FreezeAuthority)

	err = f.execute(t, []runtime.Instruction{
		token.NewInitializeMintInstruction(mintAddr, 9, f.payer.addr, token.OptionalAddress{}),
	})
	assert.True(t, errors.Is(err, token.ErrAlreadyInUse), "got %v", err)
}

func TestInitializeMint_NotRentExempt(t *testing.T) {
	f := newFixture(t)
	mint := newKeypair(t)

	err := f.execute(t, []runtime.Instruction{
		system.NewCreateAccountInstruction(f.payer.addr, mint.addr, system.CreateAccountArgs{
			Lamports: 1000,
			Space:    token.MintSize,
			Owner:    token.ProgramID,
		}),
		token.NewInitializeMintInstruction(mint.addr, 6, f.payer.addr, token.OptionalAddress{}),
	}, mint)
	assert.True(t, errors.Is(err, token.ErrNotRentExempt), "got %v", err)
}

func TestMintTo_KeyAuthority(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	authority := newKeypair(t)
	holder := newKeypair(t)

	mintAddr := f.createMint(t, authority.addr)
	dest := f.createAccount(t, mintAddr, holder.addr)

	err := f.execute(t, []runtime.Instruction{
		token.NewMintToInstruction(mintAddr, dest, authority.addr, 1_000_000),
	}, authority)
	require.NoError(t, err)

	acct, err := token.GetAccount(ctx, f.store, dest)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), acct.Amount)
	assert.Equal(t, holder.addr, acct.Owner)
	assert.Equal(t, mintAddr, acct.Mint)

	mint, err := token.GetMint(ctx, f.store, mintAddr)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), mint.Supply)
}

func TestMintTo_WrongAuthority(t *testing.T) {
	f := newFixture(t)
	authority := newKeypair(t)
	impostor := newKeypair(t)

	mintAddr := f.createMint(t, authority.addr)
	dest := f.createAccount(t, mintAddr, f.payer.addr)

	err := f.execute(t, []runtime.Instruction{
		token.NewMintToInstruction(mintAddr, dest, impostor.addr, 5),
	}, impostor)
	assert.True(t, errors.Is(err, token.ErrAuthorityMismatch), "got %v", err)
}

func TestMintTo_MintMismatch(t *testing.T) {
	f := newFixture(t)
	authority := newKeypair(t)

	mintA := f.createMint(t, authority.addr)
	mintB := f.createMint(t, authority.addr)
	destB := f.createAccount(t, mintB, f.payer.addr)

	err := f.execute(t, []runtime.Instruction{
		token.NewMintToInstruction(mintA, destB, authority.addr, 5),
	}, authority)
	assert.True(t, errors.Is(err, token.ErrMintMismatch), "got %v", err)
}

func TestMintTo_Overflow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	authority := newKeypair(t)

	mintAddr := f.createMint(t, authority.addr)
	dest := f.createAccount(t, mintAddr, f.payer.addr)

	require.NoError(t, f.execute(t, []runtime.Instruction{
		token.NewMintToInstruction(mintAddr, dest, authority.addr, ^uint64(0)),
	}, authority))

	err := f.execute(t, []runtime.Instruction{
		token.NewMintToInstruction(mintAddr, dest, authority.addr, 1),
	}, authority)
	assert.True(t, errors.Is(err, token.ErrOverflow), "got %v", err)

	mint, err := token.GetMint(ctx, f.store, mintAddr)
	require.NoError(t, err)
	assert.Equal(t, ^uint64(0), mint.Supply)
}

func TestMintTo_ZeroAmount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	authority := newKeypair(t)

	mintAddr := f.createMint(t, authority.addr)
	dest := f.createAccount(t, mintAddr, f.payer.addr)

	before, err := f.store.Get(ctx, mintAddr)
	require.NoError(t, err)

	require.NoError(t, f.execute(t, []runtime.Instruction{
		token.NewMintToInstruction(mintAddr, dest, authority.addr, 0),
	}, authority))

	after, err := f.store.Get(ctx, mintAddr)
	require.NoError(t, err)
	assert.True(t, before.Equal(after))
}

func TestMintTo_DerivedAuthority(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seed := []byte("authority")

	authority, bump, err := pda.FindProgramAddress([][]byte{seed}, f.proxyA.id)
	require.NoError(t, err)

	mintAddr := f.createMint(t, authority)
	dest := f.createAccount(t, mintAddr, f.payer.addr)

	require.NoError(t, f.execute(t, []runtime.Instruction{
		proxyMintTo(f.proxyA, mintAddr, dest, authority, bump, 700, seed),
	}))

	acct, err := token.GetAccount(ctx, f.store, dest)
	require.NoError(t, err)
	assert.Equal(t, uint64(700), acct.Amount)
}

func TestMintTo_ForgedDerivedAuthority(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seed := []byte("authority")

	authority, bump, err := pda.FindProgramAddress([][]byte{seed}, f.proxyA.id)
	require.NoError(t, err)

	mintAddr := f.createMint(t, authority)
	dest := f.createAccount(t, mintAddr, f.payer.addr)

	tests := []struct {
		name string
		ix   runtime.Instruction
	}{
		{
			name: "wrong bump",
			ix:   proxyMintTo(f.proxyA, mintAddr, dest, authority, bump-1, 1, seed),
		},
		{
			name: "wrong seed",
			ix:   proxyMintTo(f.proxyA, mintAddr, dest, authority, bump, 1, []byte("other")),
		},
		{
			name: "other program",
			ix:   proxyMintTo(f.proxyB, mintAddr, dest, authority, bump, 1, seed),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.execute(t, []runtime.Instruction{tt.ix})
			assert.True(t, errors.Is(err, token.ErrAuthorityMismatch), "got %v", err)
		})
	}

	acct, err := token.GetAccount(ctx, f.store, dest)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), acct.Amount)

	mint, err := token.GetMint(ctx, f.store, mintAddr)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), mint.Supply)
}

func TestInitializeAccount_InvalidMint(t *testing.T) {
	f := newFixture(t)
	acct := newKeypair(t)
	bogus := newKeypair(t)

	err := f.execute(t, []runtime.Instruction{
		system.NewCreateAccountInstruction(f.payer.addr, acct.addr, system.CreateAccountArgs{
			Lamports: system.MinimumBalance(token.AccountSize),
			Space:    token.AccountSize,
			Owner:    token.ProgramID,
		}),
		token.NewInitializeAccountInstruction(acct.addr, bogus.addr, f.payer.addr),
	}, acct)
	assert.True(t, errors.Is(err, token.ErrInvalidMint), "got %v", err)
}
