// Package system is the native program that creates and funds accounts.
// It is the only program allowed to bring a new record into existence.
package system

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"

	"solana-pda-mint/internal/domain"
	"solana-pda-mint/internal/observability"
	"solana-pda-mint/internal/pda"
	"solana-pda-mint/internal/runtime"
	"solana-pda-mint/internal/storage"
)

// Program implements runtime.Program.
type Program struct {
	ownerNames map[pda.Address]string
}

// NewProgram creates the system program. ownerNames labels created accounts
// by owner program in metrics.
func NewProgram(ownerNames map[pda.Address]string) *Program {
	names := make(map[pda.Address]string, len(ownerNames))
	for k, v := range ownerNames {
		names[k] = v
	}
	return &Program{ownerNames: names}
}

// ID returns the system program address.
func (p *Program) ID() pda.Address { return ProgramID }

// Process dispatches on the u32 instruction tag.
func (p *Program) Process(ic *runtime.InvokeContext) error {
	data := ic.Data()
	if len(data) < 4 {
		return ErrInvalidInstruction
	}

	switch tag := binary.LittleEndian.Uint32(data[:4]); tag {
	case TagCreateAccount:
		args, err := decodeCreateAccount(data)
		if err != nil {
			return err
		}
		return p.createAccount(ic, args)
	case TagTransfer:
		lamports, err := decodeTransfer(data)
		if err != nil {
			return err
		}
		return p.transfer(ic, lamports)
	default:
		return fmt.Errorf("%w: tag %d", ErrInvalidInstruction, tag)
	}
}

// createAccount accounts: [funder (w,s), new account (w,s)].
func (p *Program) createAccount(ic *runtime.InvokeContext, args CreateAccountArgs) error {
	funderMeta, err := ic.Account(0)
	if err != nil {
		return err
	}
	newMeta, err := ic.Account(1)
	if err != nil {
		return err
	}

	if !ic.IsSigner(funderMeta.Address) {
		return fmt.Errorf("%w: funder %s", ErrMissingRequiredSignature, funderMeta.Address)
	}
	if !ic.IsSigner(newMeta.Address) {
		return fmt.Errorf("%w: new account %s", ErrMissingRequiredSignature, newMeta.Address)
	}
	if args.Space > MaxPermittedDataLength {
		return fmt.Errorf("%w: %d", ErrInvalidAccountDataLength, args.Space)
	}

	if funderMeta.Address == newMeta.Address {
		return fmt.Errorf("%w: funder is the new account", ErrInvalidInstruction)
	}

	// A record that only ever received lamports is still unallocated: it is
	// topped up and assigned in place instead of rejected.
	created, err := ic.Load(newMeta.Address)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		created = &domain.Account{Address: newMeta.Address}
	case err != nil:
		return err
	case created.Owner != ProgramID || len(created.Data) > 0:
		ic.Log("Create Account: account Address { address: %s, base: None } already in use", newMeta.Address)
		return fmt.Errorf("%w: %s", ErrAccountAlreadyInitialized, newMeta.Address)
	}

	var shortfall uint64
	if created.Lamports < args.Lamports {
		shortfall = args.Lamports - created.Lamports
	}

	funder, err := p.loadSystemAccount(ic, funderMeta.Address)
	if err != nil {
		return err
	}
	if funder.Lamports < shortfall {
		ic.Log("Transfer: insufficient lamports %d, need %d", funder.Lamports, shortfall)
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, funder.Lamports, shortfall)
	}

	funder.Lamports -= shortfall
	if err := ic.Store(funder); err != nil {
		return err
	}

	created.Owner = args.Owner
	created.Lamports += shortfall
	created.Data = make([]byte, args.Space)
	if err := ic.Store(created); err != nil {
		return err
	}

	observability.RecordAccountCreated(p.ownerName(args.Owner))
	return nil
}

// transfer accounts: [from (w,s), to (w)]. A missing destination is created as
// an empty system account.
func (p *Program) transfer(ic *runtime.InvokeContext, lamports uint64) error {
	fromMeta, err := ic.Account(0)
	if err != nil {
		return err
	}
	toMeta, err := ic.Account(1)
	if err != nil {
		return err
	}
	if !ic.IsSigner(fromMeta.Address) {
		return fmt.Errorf("%w: from %s", ErrMissingRequiredSignature, fromMeta.Address)
	}

	from, err := p.loadSystemAccount(ic, fromMeta.Address)
	if err != nil {
		return err
	}
	if from.Lamports < lamports {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, from.Lamports, lamports)
	}
	if fromMeta.Address == toMeta.Address {
		return nil
	}

	to, err := ic.Load(toMeta.Address)
	if errors.Is(err, storage.ErrNotFound) {
		to = &domain.Account{Address: toMeta.Address, Owner: ProgramID}
	} else if err != nil {
		return err
	}

	sum, carry := bits.Add64(to.Lamports, lamports, 0)
	if carry != 0 {
		return ErrArithmeticOverflow
	}

	from.Lamports -= lamports
	to.Lamports = sum
	if err := ic.Store(from); err != nil {
		return err
	}
	return ic.Store(to)
}

// loadSystemAccount loads a paying account. A missing account has no funds.
func (p *Program) loadSystemAccount(ic *runtime.InvokeContext, addr pda.Address) (*domain.Account, error) {
	a, err := ic.Load(addr)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s has no balance", ErrInsufficientFunds, addr)
	}
	if err != nil {
		return nil, err
	}
	if a.Owner != ProgramID {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAccountOwner, addr)
	}
	return a, nil
}

func (p *Program) ownerName(owner pda.Address) string {
	if name, ok := p.ownerNames[owner]; ok {
		return name
	}
	return owner.String()
}

var _ runtime.Program = (*Program)(nil)
