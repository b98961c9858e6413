package token

import (
	"encoding/binary"
	"fmt"

	"solana-pda-mint/internal/pda"
)

// Packed sizes of the token records.
const (
	MintSize    = 82
	AccountSize = 165
)

// OptionalAddress is a COption<Pubkey>: a u32 tag followed by 32 bytes.
type OptionalAddress struct {
	Address pda.Address
	Valid   bool
}

// Some wraps addr as a present option.
func Some(addr pda.Address) OptionalAddress {
	return OptionalAddress{Address: addr, Valid: true}
}

// OptionalAmount is a COption<u64>.
type OptionalAmount struct {
	Amount uint64
	Valid  bool
}

// Mint is the 82-byte mint record.
type Mint struct {
	MintAuthority   OptionalAddress
	Supply          uint64
	Decimals        uint8
	IsInitialized   bool
	FreezeAuthority OptionalAddress
}

// AccountState is the lifecycle state of a token account.
type AccountState uint8

const (
	AccountUninitialized AccountState = iota
	AccountInitialized
	AccountFrozen
)

func (s AccountState) String() string {
	switch s {
	case AccountUninitialized:
		return "uninitialized"
	case AccountInitialized:
		return "initialized"
	case AccountFrozen:
		return "frozen"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Account is the 165-byte token account record.
type Account struct {
	Mint            pda.Address
	Owner           pda.Address
	Amount          uint64
	Delegate        OptionalAddress
	State           AccountState
	IsNative        OptionalAmount
	DelegatedAmount uint64
	CloseAuthority  OptionalAddress
}

// IsInitialized reports whether the account was initialized.
func (a *Account) IsInitialized() bool {
	return a.State != AccountUninitialized
}

// Pack encodes the mint into its 82-byte layout.
func (m *Mint) Pack() []byte {
	b := make([]byte, 0, MintSize)
	b = appendOptionalAddress(b, m.MintAuthority)
	b = binary.LittleEndian.AppendUint64(b, m.Supply)
	b = append(b, m.Decimals)
	b = appendBool(b, m.IsInitialized)
	return appendOptionalAddress(b, m.FreezeAuthority)
}

// UnpackMint decodes an 82-byte mint record.
func UnpackMint(data []byte) (*Mint, error) {
	if len(data) != MintSize {
		return nil, fmt.Errorf("%w: mint length %d", ErrInvalidAccountData, len(data))
	}
	var (
		m   Mint
		err error
	)
	if m.MintAuthority, err = readOptionalAddress(data[0:36]); err != nil {
		return nil, err
	}
	m.Supply = binary.LittleEndian.Uint64(data[36:44])
	m.Decimals = data[44]
	if m.IsInitialized, err = readBool(data[45]); err != nil {
		return nil, err
	}
	if m.FreezeAuthority, err = readOptionalAddress(data[46:82]); err != nil {
		return nil, err
	}
	return &m, nil
}

// Pack encodes the account into its 165-byte layout.
func (a *Account) Pack() []byte {
	b := make([]byte, 0, AccountSize)
	b = append(b, a.Mint[:]...)
	b = append(b, a.Owner[:]...)
	b = binary.LittleEndian.AppendUint64(b, a.Amount)
	b = appendOptionalAddress(b, a.Delegate)
	b = append(b, byte(a.State))
	b = appendOptionalAmount(b, a.IsNative)
	b = binary.LittleEndian.AppendUint64(b, a.DelegatedAmount)
	return appendOptionalAddress(b, a.CloseAuthority)
}

// UnpackAccount decodes a 165-byte token account record.
func UnpackAccount(data []byte) (*Account, error) {
	if len(data) != AccountSize {
		return nil, fmt.Errorf("%w: account length %d", ErrInvalidAccountData, len(data))
	}
	var (
		a   Account
		err error
	)
	copy(a.Mint[:], data[0:32])
	copy(a.Owner[:], data[32:64])
	a.Amount = binary.LittleEndian.Uint64(data[64:72])
	if a.Delegate, err = readOptionalAddress(data[72:108]); err != nil {
		return nil, err
	}
	a.State = AccountState(data[108])
	if a.State > AccountFrozen {
		return nil, fmt.Errorf("%w: account state %d", ErrInvalidAccountData, data[108])
	}
	if a.IsNative, err = readOptionalAmount(data[109:121]); err != nil {
		return nil, err
	}
	a.DelegatedAmount = binary.LittleEndian.Uint64(data[121:129])
	if a.CloseAuthority, err = readOptionalAddress(data[129:165]); err != nil {
		return nil, err
	}
	return &a, nil
}

func appendOptionalAddress(b []byte, o OptionalAddress) []byte {
	if !o.Valid {
		return append(b, make([]byte, 36)...)
	}
	b = binary.LittleEndian.AppendUint32(b, 1)
	return append(b, o.Address[:]...)
}

func appendOptionalAmount(b []byte, o OptionalAmount) []byte {
	if !o.Valid {
		return append(b, make([]byte, 12)...)
	}
	b = binary.LittleEndian.AppendUint32(b, 1)
	return binary.LittleEndian.AppendUint64(b, o.Amount)
}

func appendBool(b []byte, v bool) []byte {
	if v {
		return append(b, 1)
	}
	return append(b, 0)
}

func readOptionalAddress(b []byte) (OptionalAddress, error) {
	var o OptionalAddress
	switch binary.LittleEndian.Uint32(b[:4]) {
	case 0:
		return o, nil
	case 1:
		o.Valid = true
		copy(o.Address[:], b[4:36])
		return o, nil
	default:
		return o, fmt.Errorf("%w: bad option tag", ErrInvalidAccountData)
	}
}

func readOptionalAmount(b []byte) (OptionalAmount, error) {
	var o OptionalAmount
	switch binary.LittleEndian.Uint32(b[:4]) {
	case 0:
		return o, nil
	case 1:
		o.Valid = true
		o.Amount = binary.LittleEndian.Uint64(b[4:12])
		return o, nil
	default:
		return o, fmt.Errorf("%w: bad option tag", ErrInvalidAccountData)
	}
}

func readBool(b byte) (bool, error) {
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("%w: bad bool %d", ErrInvalidAccountData, b)
	}
}
