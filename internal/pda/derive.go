package pda

import (
	"crypto/sha256"
	"errors"

	"filippo.io/edwards25519"
)

// Derivation limits enforced by the runtime.
const (
	MaxSeeds      = 16
	MaxSeedLength = 32
)

// pdaMarker is appended to every derivation so a PDA can never collide with
// a hash computed for another purpose.
const pdaMarker = "ProgramDerivedAddress"

var (
	// ErrInvalidSeeds is returned when the seeds hash to a point on the ed25519
	// curve, i.e. an address that could have a private key.
	ErrInvalidSeeds = errors.New("provided seeds do not result in a valid address")

	// ErrMaxSeedLengthExceeded is returned for too many seeds or a seed longer than 32 bytes.
	ErrMaxSeedLengthExceeded = errors.New("length of the seed is too long for address generation")

	// ErrDerivationExhausted is returned when no bump in [0, 255] yields an off-curve address.
	ErrDerivationExhausted = errors.New("unable to find a viable program address bump seed")
)

// CreateProgramAddress hashes seeds and programID into an address and rejects
// results that lie on the ed25519 curve. The bump, if any, must already be the
// last seed.
func CreateProgramAddress(seeds [][]byte, programID Address) (Address, error) {
	if len(seeds) > MaxSeeds {
		return Zero, ErrMaxSeedLengthExceeded
	}
	for _, seed := range seeds {
		if len(seed) > MaxSeedLength {
			return Zero, ErrMaxSeedLengthExceeded
		}
	}

	h := sha256.New()
	for _, seed := range seeds {
		h.Write(seed)
	}
	h.Write(programID[:])
	h.Write([]byte(pdaMarker))

	var addr Address
	copy(addr[:], h.Sum(nil))

	if IsOnCurve(addr[:]) {
		return Zero, ErrInvalidSeeds
	}
	return addr, nil
}

// FindProgramAddress searches bumps from 255 down to 0 and returns the first
// off-curve address together with its (canonical) bump.
func FindProgramAddress(seeds [][]byte, programID Address) (Address, uint8, error) {
	// One extra slot for the bump.
	if len(seeds) >= MaxSeeds {
		return Zero, 0, ErrMaxSeedLengthExceeded
	}

	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)

	for bump := 255; bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{byte(bump)}
		addr, err := CreateProgramAddress(withBump, programID)
		if err == nil {
			return addr, uint8(bump), nil
		}
		if !errors.Is(err, ErrInvalidSeeds) {
			return Zero, 0, err
		}
	}

	return Zero, 0, ErrDerivationExhausted
}

// Verify recomputes the address for seeds+bump under programID and compares it
// with claimed.
func Verify(programID Address, seeds [][]byte, bump uint8, claimed Address) bool {
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	withBump[len(seeds)] = []byte{bump}

	addr, err := CreateProgramAddress(withBump, programID)
	if err != nil {
		return false
	}
	return addr == claimed
}

// IsOnCurve reports whether b is a valid compressed ed25519 point.
func IsOnCurve(b []byte) bool {
	if len(b) != AddressLength {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}
