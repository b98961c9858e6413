package mintprogram_test

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-pda-mint/internal/associated"
	"solana-pda-mint/internal/domain"
	"solana-pda-mint/internal/mintprogram"
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

// attacker tries to sign MintTo for the mint with a proof built from the mint
// program's seeds and bump, but under its own program ID.
type attacker struct {
	id  pda.Address
	cfg mintprogram.Config
}

func (a *attacker) ID() pda.Address { return a.id }

func (a *attacker) Process(ic *runtime.InvokeContext) error {
	accts := ic.Accounts()
	mint, holder := accts[0].Address, accts[1].Address
	forged := pda.NewProof(a.cfg.ProgramID(), a.cfg.MintBump(), []byte(mintprogram.MintSeed))
	return ic.InvokeSigned(token.NewMintToInstruction(mint, holder, mint, 1_000), forged)
}

type fixture struct {
	rt       *runtime.Runtime
	store    *memory.AccountStore
	cfg      mintprogram.Config
	payer    keypair
	attacker *attacker

	mu    sync.Mutex
	nonce uint64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg, err := mintprogram.NewConfig(mintprogram.DefaultProgramID)
	require.NoError(t, err)

	store := memory.NewAccountStore()
	rt := runtime.New(store)
	rt.Register("system", system.NewProgram(nil))
	rt.Register("token", token.NewProgram())
	rt.Register("associated", associated.NewProgram())
	rt.Register("mint", mintprogram.NewProgram(cfg))

	f := &fixture{
		rt:       rt,
		store:    store,
		cfg:      cfg,
		payer:    newKeypair(t),
		attacker: &attacker{id: newKeypair(t).addr, cfg: cfg},
	}
	rt.Register("attacker", f.attacker)
	require.NoError(t, system.Airdrop(context.Background(), store, f.payer.addr, 10_000_000_000))
	return f
}

func (f *fixture) tx(t *testing.T, ixs ...runtime.Instruction) *runtime.Transaction {
	t.Helper()
	f.mu.Lock()
	f.nonce++
	nonce := f.nonce
	f.mu.Unlock()

	tx := runtime.NewTransaction(nonce, ixs...)
	require.NoError(t, tx.Sign(f.payer.key))
	return tx
}

func (f *fixture) execute(t *testing.T, ixs ...runtime.Instruction) (*domain.TransactionRecord, error) {
	t.Helper()
	return f.rt.Execute(context.Background(), f.tx(t, ixs...))
}

func (f *fixture) createMint(t *testing.T) {
	t.Helper()
	_, err := f.execute(t, mintprogram.NewCreateMintInstruction(f.cfg, f.payer.addr))
	require.NoError(t, err)
}

func (f *fixture) mintTokens(t *testing.T, owner pda.Address, amount uint64) (*domain.TransactionRecord, error) {
	t.Helper()
	ix, err := mintprogram.NewMintTokensInstruction(f.cfg, f.payer.addr, owner, amount)
	require.NoError(t, err)
	return f.execute(t, ix)
}

func (f *fixture) supply(t *testing.T) uint64 {
	t.Helper()
	mint, err := token.GetMint(context.Background(), f.store, f.cfg.MintAddress())
	require.NoError(t, err)
	return mint.Supply
}

func (f *fixture) balance(t *testing.T, owner pda.Address) uint64 {
	t.Helper()
	holder, _, err := associated.DeriveAddress(owner, f.cfg.MintAddress())
	require.NoError(t, err)
	acct, err := token.GetAccount(context.Background(), f.store, holder)
	require.NoError(t, err)
	return acct.Amount
}

func TestNewConfig_Deterministic(t *testing.T) {
	a, err := mintprogram.NewConfig(mintprogram.DefaultProgramID)
	require.NoError(t, err)
	b, err := mintprogram.NewConfig(mintprogram.DefaultProgramID)
	require.NoError(t, err)

	assert.Equal(t, a.MintAddress(), b.MintAddress())
	assert.Equal(t, a.MintBump(), b.MintBump())
	assert.True(t, pda.Verify(a.ProgramID(), [][]byte{[]byte("mint")}, a.MintBump(), a.MintAddress()))
	assert.True(t, a.MintProof().Verify(a.MintAddress()))

	other, err := mintprogram.NewConfig(newKeypair(t).addr)
	require.NoError(t, err)
	assert.NotEqual(t, a.MintAddress(), other.MintAddress())

	_, err = mintprogram.NewConfig(pda.Zero)
	assert.Error(t, err)
}

func TestDiscriminator(t *testing.T) {
	a := mintprogram.Discriminator(mintprogram.InstructionCreateMint)
	b := mintprogram.Discriminator(mintprogram.InstructionMintTokens)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, mintprogram.Discriminator("create_mint"))
}

func TestCreateMint_SingleAuthority(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	state, err := mintprogram.State(ctx, f.store, f.cfg)
	require.NoError(t, err)
	assert.Equal(t, domain.MintStateUninitialized, state)

	rec, err := f.execute(t, mintprogram.NewCreateMintInstruction(f.cfg, f.payer.addr))
	require.NoError(t, err)
	assert.Contains(t, rec.LogMessages, "Program log: Created Mint Account: "+f.cfg.MintAddress().String())

	mint, err := token.GetMint(ctx, f.store, f.cfg.MintAddress())
	require.NoError(t, err)
	assert.True(t, mint.IsInitialized)
	assert.Equal(t, uint8(6), mint.Decimals)
	assert.Equal(t, uint64(0), mint.Supply)
	assert.Equal(t, token.Some(f.cfg.MintAddress()), mint.MintAuthority)
	assert.Equal(t, token.Some(f.cfg.MintAddress()), mint.FreezeAuthority)

	acct, err := f.store.Get(ctx, f.cfg.MintAddress())
	require.NoError(t, err)
	assert.Equal(t, token.ProgramID, acct.Owner)
	assert.Equal(t, system.MinimumBalance(token.MintSize), acct.Lamports)

	state, err = mintprogram.State(ctx, f.store, f.cfg)
	require.NoError(t, err)
	assert.Equal(t, domain.MintStateActive, state)
}

func TestCreateMint_Reinitialization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.createMint(t)
	_, err := f.mintTokens(t, f.payer.addr, 42)
	require.NoError(t, err)

	before, err := f.store.Get(ctx, f.cfg.MintAddress())
	require.NoError(t, err)

	_, err = f.execute(t, mintprogram.NewCreateMintInstruction(f.cfg, f.payer.addr))
	assert.True(t, errors.Is(err, system.ErrAccountAlreadyInitialized), "got %v", err)

	after, err := f.store.Get(ctx, f.cfg.MintAddress())
	require.NoError(t, err)
	assert.True(t, before.Equal(after), "mint record changed on re-initialization")
}

func TestCreateMint_PrefundedAddress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.execute(t, system.NewTransferInstruction(f.payer.addr, f.cfg.MintAddress(), 1))
	require.NoError(t, err)

	state, err := mintprogram.State(ctx, f.store, f.cfg)
	require.NoError(t, err)
	assert.Equal(t, domain.MintStateUninitialized, state)

	payerBefore, err := f.store.Get(ctx, f.payer.addr)
	require.NoError(t, err)

	f.createMint(t)

	acct, err := f.store.Get(ctx, f.cfg.MintAddress())
	require.NoError(t, err)
	assert.Equal(t, token.ProgramID, acct.Owner)
	assert.Equal(t, system.MinimumBalance(token.MintSize), acct.Lamports)

	payerAfter, err := f.store.Get(ctx, f.payer.addr)
	require.NoError(t, err)
	assert.Equal(t, system.MinimumBalance(token.MintSize)-1, payerBefore.Lamports-payerAfter.Lamports,
		"payer covers only the shortfall")

	state, err = mintprogram.State(ctx, f.store, f.cfg)
	require.NoError(t, err)
	assert.Equal(t, domain.MintStateActive, state)

	_, err = f.mintTokens(t, f.payer.addr, 7)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), f.supply(t))
}

func TestCreateMint_WrongMintAccount(t *testing.T) {
	f := newFixture(t)
	bogus := newKeypair(t).addr

	ix := mintprogram.NewCreateMintInstruction(f.cfg, f.payer.addr)
	ix.Accounts[1] = runtime.Writable(bogus)

	_, err := f.execute(t, ix)
	assert.True(t, errors.Is(err, mintprogram.ErrConstraintSeeds), "got %v", err)
}

func TestCreateMint_InsufficientFunds(t *testing.T) {
	f := newFixture(t)
	poor := newKeypair(t)
	require.NoError(t, system.Airdrop(context.Background(), f.store, poor.addr, 1000))

	tx := runtime.NewTransaction(1, mintprogram.NewCreateMintInstruction(f.cfg, poor.addr))
	require.NoError(t, tx.Sign(poor.key))
	_, err := f.rt.Execute(context.Background(), tx)
	assert.True(t, errors.Is(err, system.ErrInsufficientFunds), "got %v", err)

	exists, err := f.store.Exists(context.Background(), f.cfg.MintAddress())
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMintTokens_EndToEnd(t *testing.T) {
	f := newFixture(t)
	owner := newKeypair(t).addr

	f.createMint(t)

	rec, err := f.mintTokens(t, owner, 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), f.balance(t, owner))
	assert.Equal(t, uint64(1_000_000), f.supply(t))

	holder, _, err := associated.DeriveAddress(owner, f.cfg.MintAddress())
	require.NoError(t, err)
	assert.Contains(t, rec.LogMessages, fmt.Sprintf("Program log: Minted 1000000 to %s", holder))

	_, err = f.mintTokens(t, owner, 500_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_500_000), f.balance(t, owner))
	assert.Equal(t, uint64(1_500_000), f.supply(t))
}

func TestMintTokens_PrefundedHolder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := newKeypair(t).addr

	f.createMint(t)

	holder, _, err := associated.DeriveAddress(owner, f.cfg.MintAddress())
	require.NoError(t, err)
	_, err = f.execute(t, system.NewTransferInstruction(f.payer.addr, holder, 1))
	require.NoError(t, err)

	_, err = f.mintTokens(t, owner, 250)
	require.NoError(t, err)
	assert.Equal(t, uint64(250), f.balance(t, owner))
	assert.Equal(t, uint64(250), f.supply(t))

	acct, err := f.store.Get(ctx, holder)
	require.NoError(t, err)
	assert.Equal(t, token.ProgramID, acct.Owner)
	assert.Equal(t, system.MinimumBalance(token.AccountSize), acct.Lamports)
}

func TestMintTokens_Conservation(t *testing.T) {
	f := newFixture(t)
	owners := []pda.Address{newKeypair(t).addr, newKeypair(t).addr, newKeypair(t).addr}
	f.createMint(t)

	var total uint64
	for i, amount := range []uint64{7, 1_000, 123_456, 1, 99} {
		owner := owners[i%len(owners)]
		beforeSupply := f.supply(t)

		_, err := f.mintTokens(t, owner, amount)
		require.NoError(t, err)
		total += amount

		assert.Equal(t, beforeSupply+amount, f.supply(t))
	}

	var sum uint64
	for _, owner := range owners {
		sum += f.balance(t, owner)
	}
	assert.Equal(t, total, sum)
	assert.Equal(t, total, f.supply(t))
}

func TestMintTokens_ZeroAmount(t *testing.T) {
	f := newFixture(t)
	owner := newKeypair(t).addr
	f.createMint(t)

	_, err := f.mintTokens(t, owner, 0)
	assert.True(t, errors.Is(err, mintprogram.ErrInvalidAmount), "got %v", err)

	holder, _, err := associated.DeriveAddress(owner, f.cfg.MintAddress())
	require.NoError(t, err)
	exists, err := f.store.Exists(context.Background(), holder)
	require.NoError(t, err)
	assert.False(t, exists, "holder must not be created for a rejected request")
}

func TestMintTokens_BeforeCreateMint(t *testing.T) {
	f := newFixture(t)
	_, err := f.mintTokens(t, newKeypair(t).addr, 10)
	assert.True(t, errors.Is(err, token.ErrInvalidMint), "got %v", err)
}

func TestMintTokens_WrongMintAccount(t *testing.T) {
	f := newFixture(t)
	f.createMint(t)

	ix, err := mintprogram.NewMintTokensInstruction(f.cfg, f.payer.addr, f.payer.addr, 10)
	require.NoError(t, err)
	ix.Accounts[2] = runtime.Writable(newKeypair(t).addr)

	_, err = f.execute(t, ix)
	assert.True(t, errors.Is(err, mintprogram.ErrConstraintSeeds), "got %v", err)
}

func TestMintTokens_WrongHolder(t *testing.T) {
	f := newFixture(t)
	f.createMint(t)
	owner := newKeypair(t).addr
	other := newKeypair(t).addr

	otherHolder, _, err := associated.DeriveAddress(other, f.cfg.MintAddress())
	require.NoError(t, err)

	ix, err := mintprogram.NewMintTokensInstruction(f.cfg, f.payer.addr, owner, 10)
	require.NoError(t, err)
	ix.Accounts[3] = runtime.Writable(otherHolder)

	_, err = f.execute(t, ix)
	assert.True(t, errors.Is(err, associated.ErrInvalidSeeds), "got %v", err)
}

func TestMintTokens_ForgedAuthority(t *testing.T) {
	f := newFixture(t)
	owner := newKeypair(t).addr
	f.createMint(t)

	_, err := f.mintTokens(t, owner, 10)
	require.NoError(t, err)

	holder, _, err := associated.DeriveAddress(owner, f.cfg.MintAddress())
	require.NoError(t, err)

	ix := runtime.Instruction{
		ProgramID: f.attacker.id,
		Accounts: []runtime.AccountMeta{
			runtime.Writable(f.cfg.MintAddress()),
			runtime.Writable(holder),
			runtime.ReadOnly(token.ProgramID),
		},
	}
	_, err = f.execute(t, ix)
	assert.True(t, errors.Is(err, token.ErrAuthorityMismatch), "got %v", err)

	assert.Equal(t, uint64(10), f.balance(t, owner))
	assert.Equal(t, uint64(10), f.supply(t))
}

func TestMintTokens_DirectMintToNeedsKey(t *testing.T) {
	f := newFixture(t)
	owner := newKeypair(t).addr
	f.createMint(t)
	_, err := f.mintTokens(t, owner, 10)
	require.NoError(t, err)

	holder, _, err := associated.DeriveAddress(owner, f.cfg.MintAddress())
	require.NoError(t, err)

	// The mint address has no private key, so no transaction can carry its signature.
	ix := token.NewMintToInstruction(f.cfg.MintAddress(), holder, f.cfg.MintAddress(), 1)
	_, err = f.execute(t, ix)
	assert.True(t, errors.Is(err, runtime.ErrMissingSignature), "got %v", err)
}

func TestMintTokens_ConcurrentFirstMint(t *testing.T) {
	f := newFixture(t)
	owner := newKeypair(t).addr
	f.createMint(t)

	const racers = 8
	txs := make([]*runtime.Transaction, racers)
	for i := range txs {
		ix, err := mintprogram.NewMintTokensInstruction(f.cfg, f.payer.addr, owner, 100)
		require.NoError(t, err)
		txs[i] = f.tx(t, ix)
	}

	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := range txs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.rt.Execute(context.Background(), txs[i])
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "racer %d", i)
	}
	assert.Equal(t, uint64(racers*100), f.balance(t, owner))
	assert.Equal(t, uint64(racers*100), f.supply(t))
}

func TestMintTokens_LogsOrder(t *testing.T) {
	f := newFixture(t)
	f.createMint(t)

	rec, err := f.mintTokens(t, newKeypair(t).addr, 5)
	require.NoError(t, err)

	var invokes []string
	for _, line := range rec.LogMessages {
		if strings.HasSuffix(line, "]") && strings.Contains(line, " invoke [") {
			invokes = append(invokes, line)
		}
	}
	require.Len(t, invokes, 5)
	assert.Equal(t, fmt.Sprintf("Program %s invoke [1]", f.cfg.ProgramID()), invokes[0])
	assert.Equal(t, fmt.Sprintf("Program %s invoke [2]", associated.ProgramID), invokes[1])
	assert.Equal(t, fmt.Sprintf("Program %s invoke [3]", system.ProgramID), invokes[2])
	assert.Equal(t, fmt.Sprintf("Program %s invoke [3]", token.ProgramID), invokes[3])
	assert.Equal(t, fmt.Sprintf("Program %s invoke [2]", token.ProgramID), invokes[4])
}
