package mintprogram

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"solana-pda-mint/internal/associated"
	"solana-pda-mint/internal/pda"
	"solana-pda-mint/internal/runtime"
	"solana-pda-mint/internal/system"
	"solana-pda-mint/internal/token"
)

// Instruction names.
const (
	InstructionCreateMint = "create_mint"
	InstructionMintTokens = "mint_tokens"
)

// Discriminator returns the 8-byte instruction selector:
// sha256("global:<name>")[:8].
func Discriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("global:" + name))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

var (
	createMintDiscriminator = Discriminator(InstructionCreateMint)
	mintTokensDiscriminator = Discriminator(InstructionMintTokens)
)

// NewCreateMintInstruction creates and initializes the program's mint,
// funded by payer.
func NewCreateMintInstruction(cfg Config, payer pda.Address) runtime.Instruction {
	return runtime.Instruction{
		ProgramID: cfg.ProgramID(),
		Accounts: []runtime.AccountMeta{
			runtime.WritableSigner(payer),
			runtime.Writable(cfg.MintAddress()),
			runtime.ReadOnly(token.ProgramID),
			runtime.ReadOnly(system.ProgramID),
		},
		Data: createMintDiscriminator[:],
	}
}

// NewMintTokensInstruction mints amount units to owner's associated account,
// creating it if needed.
func NewMintTokensInstruction(cfg Config, payer, owner pda.Address, amount uint64) (runtime.Instruction, error) {
	holder, _, err := associated.DeriveAddress(owner, cfg.MintAddress())
	if err != nil {
		return runtime.Instruction{}, fmt.Errorf("derive holder account: %w", err)
	}

	data := make([]byte, 0, 16)
	data = append(data, mintTokensDiscriminator[:]...)
	data = binary.LittleEndian.AppendUint64(data, amount)

	return runtime.Instruction{
		ProgramID: cfg.ProgramID(),
		Accounts: []runtime.AccountMeta{
			runtime.WritableSigner(payer),
			runtime.ReadOnly(owner),
			runtime.Writable(cfg.MintAddress()),
			runtime.Writable(holder),
			runtime.ReadOnly(token.ProgramID),
			runtime.ReadOnly(associated.ProgramID),
			runtime.ReadOnly(system.ProgramID),
		},
		Data: data,
	}, nil
}
