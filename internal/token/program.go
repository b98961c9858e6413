// Package token is the token accounting module: it owns mint supply and
// holder balances and is the only code that writes them.
//
// Records use the SPL token layouts. MintTo re-checks authority on every call
// and never trusts the caller's claim: the authority must either sign the
// transaction or be a program-derived address reconstructed by a proof the
// runtime delivered with the invocation.
package token

import (
	"errors"
	"fmt"
	"math/bits"

	"solana-pda-mint/internal/domain"
	"solana-pda-mint/internal/observability"
	"solana-pda-mint/internal/pda"
	"solana-pda-mint/internal/runtime"
	"solana-pda-mint/internal/storage"
	"solana-pda-mint/internal/system"
)

// Program implements runtime.Program.
type Program struct{}

// NewProgram creates the token program.
func NewProgram() *Program {
	return &Program{}
}

// ID returns the token program address.
func (p *Program) ID() pda.Address { return ProgramID }

// Process dispatches on the instruction tag.
func (p *Program) Process(ic *runtime.InvokeContext) error {
	data := ic.Data()
	if len(data) == 0 {
		return ErrInvalidInstruction
	}

	switch data[0] {
	case TagInitializeMint2:
		ic.Log("Instruction: InitializeMint2")
		args, err := decodeInitializeMint(data)
		if err != nil {
			return err
		}
		return p.initializeMint(ic, args)
	case TagInitializeAccount3:
		ic.Log("Instruction: InitializeAccount3")
		owner, err := decodeInitializeAccount(data)
		if err != nil {
			return err
		}
		return p.initializeAccount(ic, owner)
	case TagMintTo:
		ic.Log("Instruction: MintTo")
		amount, err := decodeMintTo(data)
		if err != nil {
			return err
		}
		return p.mintTo(ic, amount)
	default:
		return fmt.Errorf("%w: tag %d", ErrInvalidInstruction, data[0])
	}
}

func (p *Program) initializeMint(ic *runtime.InvokeContext, args initializeMintArgs) error {
	meta, err := ic.Account(0)
	if err != nil {
		return err
	}
	acct, err := loadOwned(ic, meta.Address)
	if err != nil {
		return err
	}
	if len(acct.Data) != MintSize {
		return fmt.Errorf("%w: mint length %d", ErrInvalidAccountData, len(acct.Data))
	}

	mint, err := UnpackMint(acct.Data)
	if err != nil {
		return err
	}
	if mint.IsInitialized {
		return fmt.Errorf("%w: mint %s", ErrAlreadyInUse, meta.Address)
	}
	if !system.IsExempt(acct.Lamports, len(acct.Data)) {
		return fmt.Errorf("%w: mint %s", ErrNotRentExempt, meta.Address)
	}

	mint.MintAuthority = Some(args.mintAuthority)
	mint.Decimals = args.decimals
	mint.IsInitialized = true
	mint.FreezeAuthority = args.freezeAuthority

	acct.Data = mint.Pack()
	if err := ic.Store(acct); err != nil {
		return err
	}
	observability.RecordMintCreated()
	return nil
}

func (p *Program) initializeAccount(ic *runtime.InvokeContext, owner pda.Address) error {
	accountMeta, err := ic.Account(0)
	if err != nil {
		return err
	}
	mintMeta, err := ic.Account(1)
	if err != nil {
		return err
	}

	acct, err := loadOwned(ic, accountMeta.Address)
	if err != nil {
		return err
	}
	holder, err := UnpackAccount(acct.Data)
	if err != nil {
		return err
	}
	if holder.IsInitialized() {
		return fmt.Errorf("%w: account %s", ErrAlreadyInUse, accountMeta.Address)
	}
	if !system.IsExempt(acct.Lamports, len(acct.Data)) {
		return fmt.Errorf("%w: account %s", ErrNotRentExempt, accountMeta.Address)
	}

	if _, err := loadMint(ic, mintMeta.Address); err != nil {
		return err
	}

	holder.Mint = mintMeta.Address
	holder.Owner = owner
	holder.State = AccountInitialized

	acct.Data = holder.Pack()
	return ic.Store(acct)
}

func (p *Program) mintTo(ic *runtime.InvokeContext, amount uint64) error {
	mintMeta, err := ic.Account(0)
	if err != nil {
		return err
	}
	destMeta, err := ic.Account(1)
	if err != nil {
		return err
	}
	authMeta, err := ic.Account(2)
	if err != nil {
		return err
	}

	destAcct, err := loadOwned(ic, destMeta.Address)
	if err != nil {
		return err
	}
	dest, err := UnpackAccount(destAcct.Data)
	if err != nil {
		return err
	}
	if !dest.IsInitialized() {
		return fmt.Errorf("%w: account %s", ErrUninitializedState, destMeta.Address)
	}
	if dest.State == AccountFrozen {
		return fmt.Errorf("%w: account %s", ErrAccountFrozen, destMeta.Address)
	}
	if dest.Mint != mintMeta.Address {
		return fmt.Errorf("%w: account %s holds %s", ErrMintMismatch, destMeta.Address, dest.Mint)
	}

	mintAcct, err := loadOwned(ic, mintMeta.Address)
	if err != nil {
		return err
	}
	mint, err := UnpackMint(mintAcct.Data)
	if err != nil {
		return err
	}
	if !mint.IsInitialized {
		return fmt.Errorf("%w: mint %s", ErrUninitializedState, mintMeta.Address)
	}
	if !mint.MintAuthority.Valid {
		return ErrFixedSupply
	}
	if err := verifyAuthority(ic, authMeta.Address, mint.MintAuthority.Address); err != nil {
		return err
	}

	supply, carry := bits.Add64(mint.Supply, amount, 0)
	if carry != 0 {
		return fmt.Errorf("%w: supply", ErrOverflow)
	}
	balance, carry := bits.Add64(dest.Amount, amount, 0)
	if carry != 0 {
		return fmt.Errorf("%w: balance", ErrOverflow)
	}
	if amount == 0 {
		return nil
	}

	dest.Amount = balance
	destAcct.Data = dest.Pack()
	if err := ic.Store(destAcct); err != nil {
		return err
	}

	mint.Supply = supply
	mintAcct.Data = mint.Pack()
	if err := ic.Store(mintAcct); err != nil {
		return err
	}

	observability.RecordTokensMinted(amount)
	return nil
}

// verifyAuthority checks that authority is the expected authority and holds a
// signature for this instruction: a transaction signature for key-backed
// authorities, or a delivered proof that reconstructs it for derived ones.
func verifyAuthority(ic *runtime.InvokeContext, authority, expected pda.Address) error {
	if authority != expected {
		return fmt.Errorf("%w: authority %s, expected %s", ErrAuthorityMismatch, authority, expected)
	}
	if !ic.IsSigner(authority) {
		return fmt.Errorf("%w: authority %s did not sign", ErrAuthorityMismatch, authority)
	}
	if ic.IsTransactionSigner(authority) {
		return nil
	}
	for _, proof := range ic.Proofs() {
		if proof.Verify(expected) {
			return nil
		}
	}
	return fmt.Errorf("%w: no proof reconstructs %s", ErrAuthorityMismatch, authority)
}

// loadOwned loads a record that must exist and belong to the token program.
func loadOwned(ic *runtime.InvokeContext, addr pda.Address) (*domain.Account, error) {
	acct, err := ic.Load(addr)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUninitializedState, addr)
	}
	if err != nil {
		return nil, err
	}
	if acct.Owner != ProgramID {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAccountOwner, addr)
	}
	return acct, nil
}

func loadMint(ic *runtime.InvokeContext, addr pda.Address) (*Mint, error) {
	acct, err := loadOwned(ic, addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMint, err)
	}
	mint, err := UnpackMint(acct.Data)
	if err != nil || !mint.IsInitialized {
		return nil, fmt.Errorf("%w: %s", ErrInvalidMint, addr)
	}
	return mint, nil
}

var _ runtime.Program = (*Program)(nil)
