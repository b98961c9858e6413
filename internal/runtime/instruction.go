package runtime

import "solana-pda-mint/internal/pda"

// Well-known native program IDs.
var (
	SystemProgramID = pda.MustParseAddress("11111111111111111111111111111111")
)

// AccountMeta declares how an instruction uses an account. The declarations are
// what the scheduler locks on and what the runtime enforces on writes.
type AccountMeta struct {
	Address    pda.Address
	IsSigner   bool
	IsWritable bool
}

// Writable returns a writable, non-signer account meta.
func Writable(addr pda.Address) AccountMeta {
	return AccountMeta{Address: addr, IsWritable: true}
}

// ReadOnly returns a read-only, non-signer account meta.
func ReadOnly(addr pda.Address) AccountMeta {
	return AccountMeta{Address: addr}
}

// WritableSigner returns a writable signer account meta.
func WritableSigner(addr pda.Address) AccountMeta {
	return AccountMeta{Address: addr, IsSigner: true, IsWritable: true}
}

// ReadOnlySigner returns a read-only signer account meta.
func ReadOnlySigner(addr pda.Address) AccountMeta {
	return AccountMeta{Address: addr, IsSigner: true}
}

// Instruction is a message addressed to one program.
type Instruction struct {
	ProgramID pda.Address
	Accounts  []AccountMeta
	Data      []byte
}

// Program is an on-ledger program the runtime can dispatch to.
type Program interface {
	// ID returns the program address.
	ID() pda.Address

	// Process executes one instruction addressed to the program.
	Process(ic *InvokeContext) error
}
