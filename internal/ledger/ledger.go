// Package ledger assembles the runtime with the system, token, associated
// token and mint programs, and offers typed helpers over it.
package ledger

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"solana-pda-mint/internal/associated"
	"solana-pda-mint/internal/domain"
	"solana-pda-mint/internal/mintprogram"
	"solana-pda-mint/internal/pda"
	"solana-pda-mint/internal/runtime"
	"solana-pda-mint/internal/storage"
	"solana-pda-mint/internal/system"
	"solana-pda-mint/internal/token"
)

// Options configures a Ledger.
type Options struct {
	ProgramID    pda.Address // mint program ID, defaults to mintprogram.DefaultProgramID
	Transactions storage.TransactionStore
	Logger       *log.Logger
	StartSlot    int64
}

// Ledger is a runtime with every program registered.
type Ledger struct {
	rt    *runtime.Runtime
	cfg   mintprogram.Config
	nonce atomic.Uint64
}

// New creates a ledger over accounts.
func New(accounts storage.AccountStore, opts Options) (*Ledger, error) {
	programID := opts.ProgramID
	if programID.IsZero() {
		programID = mintprogram.DefaultProgramID
	}
	cfg, err := mintprogram.NewConfig(programID)
	if err != nil {
		return nil, err
	}

	var rtOpts []runtime.Option
	if opts.Transactions != nil {
		rtOpts = append(rtOpts, runtime.WithTransactionStore(opts.Transactions))
	}
	if opts.Logger != nil {
		rtOpts = append(rtOpts, runtime.WithLogger(opts.Logger))
	}
	if opts.StartSlot > 0 {
		rtOpts = append(rtOpts, runtime.WithStartSlot(opts.StartSlot))
	}

	rt := runtime.New(accounts, rtOpts...)
	rt.Register("system", system.NewProgram(map[pda.Address]string{
		token.ProgramID:  "token",
		system.ProgramID: "system",
		cfg.ProgramID():  "mint",
	}))
	rt.Register("token", token.NewProgram())
	rt.Register("associated", associated.NewProgram())
	rt.Register("mint", mintprogram.NewProgram(cfg))

	l := &Ledger{rt: rt, cfg: cfg}
	l.nonce.Store(uint64(time.Now().UnixNano()))
	return l, nil
}

// Runtime returns the underlying runtime.
func (l *Ledger) Runtime() *runtime.Runtime { return l.rt }

// Config returns the mint program configuration.
func (l *Ledger) Config() mintprogram.Config { return l.cfg }

// Submit executes a signed transaction.
func (l *Ledger) Submit(ctx context.Context, tx *runtime.Transaction) (*domain.TransactionRecord, error) {
	return l.rt.Execute(ctx, tx)
}

// NextNonce returns a nonce not used by this ledger before.
func (l *Ledger) NextNonce() uint64 {
	return l.nonce.Add(1)
}

// CreateMint runs create_mint paid by payer.
func (l *Ledger) CreateMint(ctx context.Context, payer ed25519.PrivateKey) (*domain.TransactionRecord, error) {
	payerAddr, err := addressOf(payer)
	if err != nil {
		return nil, err
	}
	return l.sign(ctx, []runtime.Instruction{mintprogram.NewCreateMintInstruction(l.cfg, payerAddr)}, payer)
}

// MintTokens runs mint_tokens for owner paid by payer.
func (l *Ledger) MintTokens(ctx context.Context, payer ed25519.PrivateKey, owner pda.Address, amount uint64) (*domain.TransactionRecord, error) {
	payerAddr, err := addressOf(payer)
	if err != nil {
		return nil, err
	}
	ix, err := mintprogram.NewMintTokensInstruction(l.cfg, payerAddr, owner, amount)
	if err != nil {
		return nil, err
	}
	return l.sign(ctx, []runtime.Instruction{ix}, payer)
}

// ResolveHolder creates owner's holder account for the mint if it does not
// exist and returns its address.
func (l *Ledger) ResolveHolder(ctx context.Context, payer ed25519.PrivateKey, owner pda.Address) (pda.Address, error) {
	payerAddr, err := addressOf(payer)
	if err != nil {
		return pda.Zero, err
	}
	ix, err := associated.NewCreateIdempotentInstruction(payerAddr, owner, l.cfg.MintAddress())
	if err != nil {
		return pda.Zero, err
	}
	if _, err := l.sign(ctx, []runtime.Instruction{ix}, payer); err != nil {
		return pda.Zero, err
	}
	return ix.Accounts[1].Address, nil
}

// Airdrop credits lamports to addr.
func (l *Ledger) Airdrop(ctx context.Context, addr pda.Address, lamports uint64) error {
	return system.Airdrop(ctx, l.rt.Accounts(), addr, lamports)
}

// Balance returns the lamports held at addr, zero if absent.
func (l *Ledger) Balance(ctx context.Context, addr pda.Address) (uint64, error) {
	a, err := l.rt.Accounts().Get(ctx, addr)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return a.Lamports, nil
}

// Mint returns the decoded mint record.
func (l *Ledger) Mint(ctx context.Context) (*token.Mint, error) {
	return token.GetMint(ctx, l.rt.Accounts(), l.cfg.MintAddress())
}

// MintState returns the mint lifecycle state.
func (l *Ledger) MintState(ctx context.Context) (domain.MintState, error) {
	return mintprogram.State(ctx, l.rt.Accounts(), l.cfg)
}

// HolderAddress returns owner's holder account address.
func (l *Ledger) HolderAddress(owner pda.Address) (pda.Address, error) {
	addr, _, err := associated.DeriveAddress(owner, l.cfg.MintAddress())
	return addr, err
}

// Holder returns owner's decoded holder account.
func (l *Ledger) Holder(ctx context.Context, owner pda.Address) (*token.Account, error) {
	addr, err := l.HolderAddress(owner)
	if err != nil {
		return nil, err
	}
	return token.GetAccount(ctx, l.rt.Accounts(), addr)
}

func (l *Ledger) sign(ctx context.Context, ixs []runtime.Instruction, keys ...ed25519.PrivateKey) (*domain.TransactionRecord, error) {
	tx := runtime.NewTransaction(l.NextNonce(), ixs...)
	if err := tx.Sign(keys...); err != nil {
		return nil, err
	}
	return l.rt.Execute(ctx, tx)
}

func addressOf(key ed25519.PrivateKey) (pda.Address, error) {
	if len(key) != ed25519.PrivateKeySize {
		return pda.Zero, fmt.Errorf("invalid private key length %d", len(key))
	}
	return pda.AddressFromBytes(key.Public().(ed25519.PublicKey))
}
