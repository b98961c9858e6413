package runtime

import "errors"

// Execution errors raised by the runtime itself, as opposed to a program.
var (
	ErrUnknownProgram        = errors.New("unknown program")
	ErrMissingAccount        = errors.New("instruction references an account not passed to the caller")
	ErrNotEnoughAccountKeys  = errors.New("insufficient account keys for instruction")
	ErrReadonlyModified      = errors.New("instruction modified a read-only account")
	ErrExternalDataModified  = errors.New("instruction modified data of an account it does not own")
	ErrExternalLamportSpend  = errors.New("instruction spent from the balance of an account it does not own")
	ErrAccountCreation       = errors.New("only the system program can create accounts")
	ErrPrivilegeEscalation   = errors.New("cross-program invocation with unauthorized writable privilege")
	ErrCallDepthExceeded     = errors.New("cross-program invocation call depth too deep")
	ErrMissingSignature      = errors.New("missing required signature")
	ErrSignatureVerification = errors.New("transaction signature verification failure")
	ErrInvalidTransaction    = errors.New("invalid transaction encoding")
	ErrEmptyTransaction      = errors.New("transaction has no instructions")
	ErrAlreadyProcessed      = errors.New("transaction already processed")
	ErrUnbalancedInstruction = errors.New("sum of account balances before and after instruction do not match")
)
