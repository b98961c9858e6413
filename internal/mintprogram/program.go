// Package mintprogram is the on-ledger program that owns a token mint through
// a program-derived authority.
//
// create_mint allocates the mint at the address derived from ["mint"] and
// makes that same address its mint and freeze authority. No key exists for
// it, so tokens can only be minted through mint_tokens, which signs the token
// program's MintTo with a proof rebuilt from the deployment Config.
package mintprogram

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"solana-pda-mint/internal/associated"
	"solana-pda-mint/internal/pda"
	"solana-pda-mint/internal/runtime"
	"solana-pda-mint/internal/system"
	"solana-pda-mint/internal/token"
)

// Program implements runtime.Program.
type Program struct {
	cfg Config
}

// NewProgram creates the mint program for cfg.
func NewProgram(cfg Config) *Program {
	return &Program{cfg: cfg}
}

// ID returns the program address.
func (p *Program) ID() pda.Address { return p.cfg.ProgramID() }

// Config returns the deployment configuration.
func (p *Program) Config() Config { return p.cfg }

// Process dispatches on the 8-byte discriminator.
func (p *Program) Process(ic *runtime.InvokeContext) error {
	data := ic.Data()
	if len(data) < 8 {
		return fmt.Errorf("%w: %d bytes", ErrInstructionDidNotDeserialize, len(data))
	}

	switch disc := data[:8]; {
	case bytes.Equal(disc, createMintDiscriminator[:]):
		ic.Log("Instruction: CreateMint")
		if len(data) != 8 {
			return ErrInstructionDidNotDeserialize
		}
		return p.createMint(ic)
	case bytes.Equal(disc, mintTokensDiscriminator[:]):
		ic.Log("Instruction: MintTokens")
		if len(data) != 16 {
			return ErrInstructionDidNotDeserialize
		}
		return p.mintTokens(ic, binary.LittleEndian.Uint64(data[8:16]))
	default:
		return ErrInstructionFallbackNotFound
	}
}

// createMint accounts: [payer (w,s), mint (w), token program, system program].
func (p *Program) createMint(ic *runtime.InvokeContext) error {
	metas := ic.Accounts()
	if len(metas) < 4 {
		return fmt.Errorf("%w: need 4 accounts, have %d", runtime.ErrNotEnoughAccountKeys, len(metas))
	}
	payer, mint := metas[0].Address, metas[1].Address
	if mint != p.cfg.MintAddress() {
		return fmt.Errorf("%w: mint %s, expected %s", ErrConstraintSeeds, mint, p.cfg.MintAddress())
	}
	if metas[2].Address != token.ProgramID || metas[3].Address != system.ProgramID {
		return ErrInvalidProgramID
	}

	create := system.NewCreateAccountInstruction(payer, mint, system.CreateAccountArgs{
		Lamports: system.MinimumBalance(token.MintSize),
		Space:    token.MintSize,
		Owner:    token.ProgramID,
	})
	if err := ic.InvokeSigned(create, p.cfg.MintProof()); err != nil {
		return err
	}

	initialize := token.NewInitializeMintInstruction(mint, Decimals, mint, token.Some(mint))
	if err := ic.Invoke(initialize); err != nil {
		return err
	}

	ic.Log("Created Mint Account: %s", mint)
	return nil
}

// mintTokens accounts: [payer (w,s), owner, mint (w), holder (w),
// token program, associated token program, system program].
func (p *Program) mintTokens(ic *runtime.InvokeContext, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}

	metas := ic.Accounts()
	if len(metas) < 7 {
		return fmt.Errorf("%w: need 7 accounts, have %d", runtime.ErrNotEnoughAccountKeys, len(metas))
	}
	payer, owner, mint, holder := metas[0].Address, metas[1].Address, metas[2].Address, metas[3].Address
	if mint != p.cfg.MintAddress() {
		return fmt.Errorf("%w: mint %s, expected %s", ErrConstraintSeeds, mint, p.cfg.MintAddress())
	}
	if metas[4].Address != token.ProgramID ||
		metas[5].Address != associated.ProgramID ||
		metas[6].Address != system.ProgramID {
		return ErrInvalidProgramID
	}

	resolve := runtime.Instruction{
		ProgramID: associated.ProgramID,
		Accounts:  associated.Accounts(payer, holder, owner, mint),
		Data:      []byte{associated.TagCreateIdempotent},
	}
	if err := ic.Invoke(resolve); err != nil {
		return err
	}

	mintTo := token.NewMintToInstruction(mint, holder, mint, amount)
	if err := ic.InvokeSigned(mintTo, p.cfg.MintProof()); err != nil {
		return err
	}

	ic.Log("Minted %d to %s", amount, holder)
	return nil
}

var _ runtime.Program = (*Program)(nil)
