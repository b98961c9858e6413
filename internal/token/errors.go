package token

import "errors"

// Token program errors.
var (
	ErrNotRentExempt       = errors.New("lamport balance below rent-exempt threshold")
	ErrMintMismatch        = errors.New("account not associated with this mint")
	ErrAuthorityMismatch   = errors.New("owner does not match")
	ErrFixedSupply         = errors.New("fixed supply")
	ErrAlreadyInUse        = errors.New("account or token already in use")
	ErrUninitializedState  = errors.New("state is uninitialized")
	ErrOverflow            = errors.New("operation overflowed")
	ErrAccountFrozen       = errors.New("account is frozen")
	ErrInvalidMint         = errors.New("invalid mint")
	ErrInvalidAccountOwner = errors.New("account not owned by the token program")
	ErrInvalidAccountData  = errors.New("invalid account data")
	ErrInvalidInstruction  = errors.New("invalid instruction")
)
