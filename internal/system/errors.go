package system

import "errors"

// System program errors.
var (
	// ErrAccountAlreadyInitialized is returned when creating a record at an
	// address that already holds one.
	ErrAccountAlreadyInitialized = errors.New("account already in use")

	// ErrInsufficientFunds is returned when the funding account cannot pay.
	ErrInsufficientFunds = errors.New("insufficient funds for instruction")

	ErrMissingRequiredSignature = errors.New("missing required signature for instruction")
	ErrInvalidAccountDataLength = errors.New("invalid account data length")
	ErrInvalidAccountOwner      = errors.New("account is not owned by the system program")
	ErrInvalidInstruction       = errors.New("invalid system instruction")
	ErrArithmeticOverflow       = errors.New("arithmetic overflow")
)
