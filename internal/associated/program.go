// Package associated resolves the canonical token account of an owner for a
// mint, creating it on first use.
//
// The account lives at a program-derived address computed from
// (owner, token program, mint), so every caller finds the same one and at most
// one exists per pair.
package associated

import (
	"errors"
	"fmt"

	"solana-pda-mint/internal/pda"
	"solana-pda-mint/internal/runtime"
	"solana-pda-mint/internal/storage"
	"solana-pda-mint/internal/system"
	"solana-pda-mint/internal/token"
)

// Instruction tags.
const (
	TagCreate           uint8 = 0
	TagCreateIdempotent uint8 = 1
)

// ProgramID is the associated token account program address.
var ProgramID = pda.MustParseAddress("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")

// DeriveAddress returns the associated token account of owner for mint and
// its bump.
func DeriveAddress(owner, mint pda.Address) (pda.Address, uint8, error) {
	return pda.FindProgramAddress(seeds(owner, mint), ProgramID)
}

func seeds(owner, mint pda.Address) [][]byte {
	return [][]byte{owner.Bytes(), token.ProgramID.Bytes(), mint.Bytes()}
}

// NewCreateInstruction creates the associated account and fails if it exists.
func NewCreateInstruction(payer, owner, mint pda.Address) (runtime.Instruction, error) {
	return newInstruction(TagCreate, payer, owner, mint)
}

// NewCreateIdempotentInstruction creates the associated account unless a
// matching one already exists.
func NewCreateIdempotentInstruction(payer, owner, mint pda.Address) (runtime.Instruction, error) {
	return newInstruction(TagCreateIdempotent, payer, owner, mint)
}

func newInstruction(tag uint8, payer, owner, mint pda.Address) (runtime.Instruction, error) {
	holder, _, err := DeriveAddress(owner, mint)
	if err != nil {
		return runtime.Instruction{}, fmt.Errorf("derive associated account: %w", err)
	}
	return runtime.Instruction{
		ProgramID: ProgramID,
		Accounts:  Accounts(payer, holder, owner, mint),
		Data:      []byte{tag},
	}, nil
}

// Accounts returns the account list of a create instruction.
func Accounts(payer, holder, owner, mint pda.Address) []runtime.AccountMeta {
	return []runtime.AccountMeta{
		runtime.WritableSigner(payer),
		runtime.Writable(holder),
		runtime.ReadOnly(owner),
		runtime.ReadOnly(mint),
		runtime.ReadOnly(system.ProgramID),
		runtime.ReadOnly(token.ProgramID),
	}
}

// Program implements runtime.Program.
type Program struct{}

// NewProgram creates the associated token account program.
func NewProgram() *Program {
	return &Program{}
}

// ID returns the program address.
func (p *Program) ID() pda.Address { return ProgramID }

// Process handles Create and CreateIdempotent. An empty payload is Create.
func (p *Program) Process(ic *runtime.InvokeContext) error {
	data := ic.Data()
	tag := TagCreate
	if len(data) > 0 {
		tag = data[0]
	}
	switch tag {
	case TagCreate:
		ic.Log("Create")
		return p.create(ic, false)
	case TagCreateIdempotent:
		ic.Log("CreateIdempotent")
		return p.create(ic, true)
	default:
		return fmt.Errorf("%w: tag %d", ErrInvalidInstruction, tag)
	}
}

func (p *Program) create(ic *runtime.InvokeContext, idempotent bool) error {
	metas := ic.Accounts()
	if len(metas) < 6 {
		return fmt.Errorf("%w: need 6 accounts, have %d", runtime.ErrNotEnoughAccountKeys, len(metas))
	}
	payer, holder, owner, mint := metas[0].Address, metas[1].Address, metas[2].Address, metas[3].Address
	if metas[4].Address != system.ProgramID || metas[5].Address != token.ProgramID {
		return ErrIncorrectProgramID
	}

	derived, bump, err := DeriveAddress(owner, mint)
	if err != nil {
		return err
	}
	if derived != holder {
		ic.Log("Error: Associated address does not match seed derivation")
		return fmt.Errorf("%w: holder %s, derived %s", ErrInvalidSeeds, holder, derived)
	}

	if idempotent {
		existing, err := ic.Load(holder)
		switch {
		case err == nil && !unallocated(existing.Owner, existing.Data):
			return checkExisting(existing.Owner, existing.Data, owner, mint)
		case !errors.Is(err, storage.ErrNotFound):
			return err
		}
	}

	create := system.NewCreateAccountInstruction(payer, holder, system.CreateAccountArgs{
		Lamports: system.MinimumBalance(token.AccountSize),
		Space:    token.AccountSize,
		Owner:    token.ProgramID,
	})
	proof := pda.NewProof(ProgramID, bump, seeds(owner, mint)...)
	if err := ic.InvokeSigned(create, proof); err != nil {
		return err
	}

	ic.Log("Initialize the associated token account")
	return ic.Invoke(token.NewInitializeAccountInstruction(holder, mint, owner))
}

// unallocated reports whether a record at the holder address has only been
// funded. The system program allocates it in place.
func unallocated(programOwner pda.Address, data []byte) bool {
	return programOwner == system.ProgramID && len(data) == 0
}

// checkExisting accepts an existing record only if it is the token account of
// owner for mint.
func checkExisting(programOwner pda.Address, data []byte, owner, mint pda.Address) error {
	if programOwner != token.ProgramID {
		return fmt.Errorf("%w: record owned by %s", ErrOwnerMismatch, programOwner)
	}
	acct, err := token.UnpackAccount(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOwnerMismatch, err)
	}
	if acct.Owner != owner || acct.Mint != mint {
		return fmt.Errorf("%w: holds owner %s mint %s", ErrOwnerMismatch, acct.Owner, acct.Mint)
	}
	return nil
}

var _ runtime.Program = (*Program)(nil)
