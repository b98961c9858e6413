package associated

import "errors"

var (
	// ErrInvalidSeeds is returned when the supplied holder account is not the
	// address derived for (owner, mint).
	ErrInvalidSeeds = errors.New("provided seeds do not result in a valid address")

	// ErrOwnerMismatch is returned when the record at the derived address
	// belongs to a different owner or mint.
	ErrOwnerMismatch = errors.New("associated token account owner does not match")

	ErrIncorrectProgramID = errors.New("incorrect program id")
	ErrInvalidInstruction = errors.New("invalid instruction")
)
