package mintprogram

import "errors"

var (
	// ErrInvalidAmount rejects a mint request for zero units.
	ErrInvalidAmount = errors.New("invalid amount: must be greater than zero")

	// ErrConstraintSeeds is returned when the supplied mint account is not the
	// program's derived mint address.
	ErrConstraintSeeds = errors.New("a seeds constraint was violated")

	ErrInstructionFallbackNotFound  = errors.New("fallback functions are not supported")
	ErrInstructionDidNotDeserialize = errors.New("the program could not deserialize the given instruction")
	ErrInvalidProgramID             = errors.New("program id was not as expected")
)
