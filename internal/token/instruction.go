package token

import (
	"encoding/binary"
	"fmt"

	"solana-pda-mint/internal/pda"
	"solana-pda-mint/internal/runtime"
)

// Instruction tags, matching the SPL token program.
const (
	TagMintTo             uint8 = 7
	TagInitializeAccount3 uint8 = 18
	TagInitializeMint2    uint8 = 20
)

// ProgramID is the token program address.
var ProgramID = pda.MustParseAddress("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")

// NewInitializeMintInstruction initializes a mint record already allocated
// and owned by the token program. Accounts: [mint (w)].
func NewInitializeMintInstruction(mint pda.Address, decimals uint8, mintAuthority pda.Address, freezeAuthority OptionalAddress) runtime.Instruction {
	data := make([]byte, 0, 67)
	data = append(data, TagInitializeMint2, decimals)
	data = append(data, mintAuthority[:]...)
	if freezeAuthority.Valid {
		data = append(data, 1)
		data = append(data, freezeAuthority.Address[:]...)
	} else {
		data = append(data, 0)
	}

	return runtime.Instruction{
		ProgramID: ProgramID,
		Accounts:  []runtime.AccountMeta{runtime.Writable(mint)},
		Data:      data,
	}
}

// NewInitializeAccountInstruction initializes a token account for owner.
// Accounts: [account (w), mint].
func NewInitializeAccountInstruction(account, mint, owner pda.Address) runtime.Instruction {
	data := make([]byte, 0, 33)
	data = append(data, TagInitializeAccount3)
	data = append(data, owner[:]...)

	return runtime.Instruction{
		ProgramID: ProgramID,
		Accounts: []runtime.AccountMeta{
			runtime.Writable(account),
			runtime.ReadOnly(mint),
		},
		Data: data,
	}
}

// NewMintToInstruction mints amount into destination.
// Accounts: [mint (w), destination (w), authority (s)].
func NewMintToInstruction(mint, destination, authority pda.Address, amount uint64) runtime.Instruction {
	data := make([]byte, 0, 9)
	data = append(data, TagMintTo)
	data = binary.LittleEndian.AppendUint64(data, amount)

	return runtime.Instruction{
		ProgramID: ProgramID,
		Accounts: []runtime.AccountMeta{
			runtime.Writable(mint),
			runtime.Writable(destination),
			runtime.ReadOnlySigner(authority),
		},
		Data: data,
	}
}

type initializeMintArgs struct {
	decimals        uint8
	mintAuthority   pda.Address
	freezeAuthority OptionalAddress
}

func decodeInitializeMint(data []byte) (initializeMintArgs, error) {
	var args initializeMintArgs
	if len(data) < 35 {
		return args, fmt.Errorf("%w: initialize mint data length %d", ErrInvalidInstruction, len(data))
	}
	args.decimals = data[1]
	copy(args.mintAuthority[:], data[2:34])

	switch data[34] {
	case 0:
		if len(data) != 35 {
			return args, fmt.Errorf("%w: initialize mint data length %d", ErrInvalidInstruction, len(data))
		}
	case 1:
		if len(data) != 67 {
			return args, fmt.Errorf("%w: initialize mint data length %d", ErrInvalidInstruction, len(data))
		}
		args.freezeAuthority = Some(pda.Address(data[35:67]))
	default:
		return args, fmt.Errorf("%w: freeze authority option %d", ErrInvalidInstruction, data[34])
	}
	return args, nil
}

func decodeInitializeAccount(data []byte) (pda.Address, error) {
	if len(data) != 33 {
		return pda.Zero, fmt.Errorf("%w: initialize account data length %d", ErrInvalidInstruction, len(data))
	}
	return pda.Address(data[1:33]), nil
}

func decodeMintTo(data []byte) (uint64, error) {
	if len(data) != 9 {
		return 0, fmt.Errorf("%w: mint to data length %d", ErrInvalidInstruction, len(data))
	}
	return binary.LittleEndian.Uint64(data[1:9]), nil
}
