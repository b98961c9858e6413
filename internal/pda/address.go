// Package pda implements Solana-style addresses and program-derived addresses.
//
// A program-derived address is sha256(seeds || programID || "ProgramDerivedAddress")
// for which no ed25519 private key exists: the hash must not decode to a point on
// the curve. Only the program whose ID went into the hash can sign for it, by
// presenting the seeds and bump that reconstruct it.
package pda

import (
	"bytes"
	"fmt"

	"github.com/mr-tron/base58"
)

// AddressLength is the size of an address in bytes.
const AddressLength = 32

// Address is a 32-byte account address (an ed25519 public key or a PDA).
type Address [AddressLength]byte

// Zero is the all-zero address.
var Zero Address

// ParseAddress decodes a base58 address.
func ParseAddress(s string) (Address, error) {
	var a Address
	b, err := base58.Decode(s)
	if err != nil {
		return a, fmt.Errorf("decode address %q: %w", s, err)
	}
	if len(b) != AddressLength {
		return a, fmt.Errorf("decode address %q: invalid length %d", s, len(b))
	}
	copy(a[:], b)
	return a, nil
}

// MustParseAddress is ParseAddress for constants. Panics on error.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// AddressFromBytes copies b into an Address. b must be 32 bytes long.
func AddressFromBytes(b []byte) (Address, error) {
	var a Address
	if len(b) != AddressLength {
		return a, fmt.Errorf("invalid address length %d", len(b))
	}
	copy(a[:], b)
	return a, nil
}

// String returns the base58 form.
func (a Address) String() string {
	return base58.Encode(a[:])
}

// Bytes returns a copy of the raw address bytes.
func (a Address) Bytes() []byte {
	b := make([]byte, AddressLength)
	copy(b, a[:])
	return b
}

// IsZero reports whether a is the zero address.
func (a Address) IsZero() bool {
	return a == Zero
}

// Equal reports whether a and b are the same address.
func (a Address) Equal(b Address) bool {
	return bytes.Equal(a[:], b[:])
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
