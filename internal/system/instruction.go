package system

import (
	"encoding/binary"
	"fmt"

	"solana-pda-mint/internal/pda"
	"solana-pda-mint/internal/runtime"
)

// Instruction tags, little-endian u32 like the native system program.
const (
	TagCreateAccount uint32 = 0
	TagTransfer      uint32 = 2
)

// MaxPermittedDataLength caps the size of a created account.
const MaxPermittedDataLength = 10 * 1024 * 1024

// ProgramID is the system program address.
var ProgramID = runtime.SystemProgramID

// CreateAccountArgs are the parameters of CreateAccount.
type CreateAccountArgs struct {
	Lamports uint64
	Space    uint64
	Owner    pda.Address
}

// NewCreateAccountInstruction funds a new record of space bytes at newAccount,
// owned by owner. Both funder and newAccount must sign; a program-derived
// newAccount signs through a proof.
func NewCreateAccountInstruction(funder, newAccount pda.Address, args CreateAccountArgs) runtime.Instruction {
	data := make([]byte, 0, 52)
	data = binary.LittleEndian.AppendUint32(data, TagCreateAccount)
	data = binary.LittleEndian.AppendUint64(data, args.Lamports)
	data = binary.LittleEndian.AppendUint64(data, args.Space)
	data = append(data, args.Owner[:]...)

	return runtime.Instruction{
		ProgramID: ProgramID,
		Accounts: []runtime.AccountMeta{
			runtime.WritableSigner(funder),
			runtime.WritableSigner(newAccount),
		},
		Data: data,
	}
}

// NewTransferInstruction moves lamports between system-owned accounts.
func NewTransferInstruction(from, to pda.Address, lamports uint64) runtime.Instruction {
	data := make([]byte, 0, 12)
	data = binary.LittleEndian.AppendUint32(data, TagTransfer)
	data = binary.LittleEndian.AppendUint64(data, lamports)

	return runtime.Instruction{
		ProgramID: ProgramID,
		Accounts: []runtime.AccountMeta{
			runtime.WritableSigner(from),
			runtime.Writable(to),
		},
		Data: data,
	}
}

func decodeCreateAccount(data []byte) (CreateAccountArgs, error) {
	var args CreateAccountArgs
	if len(data) != 4+8+8+32 {
		return args, fmt.Errorf("%w: create account data length %d", ErrInvalidInstruction, len(data))
	}
	args.Lamports = binary.LittleEndian.Uint64(data[4:12])
	args.Space = binary.LittleEndian.Uint64(data[12:20])
	copy(args.Owner[:], data[20:52])
	return args, nil
}

func decodeTransfer(data []byte) (uint64, error) {
	if len(data) != 4+8 {
		return 0, fmt.Errorf("%w: transfer data length %d", ErrInvalidInstruction, len(data))
	}
	return binary.LittleEndian.Uint64(data[4:12]), nil
}
