package mintprogram

import (
	"fmt"

	"solana-pda-mint/internal/pda"
)

// DefaultProgramID is the deployed address of the mint program.
var DefaultProgramID = pda.MustParseAddress("4bBvnqzTnXMuD2nLNT2WMRCgtZcB39KGofmSwGGDCCk1")

// Fixed deployment parameters.
const (
	MintSeed = "mint"
	Decimals = 6
)

// Config is the immutable deployment configuration of one mint program
// instance. The mint address and bump are derived once at construction.
type Config struct {
	programID   pda.Address
	mintAddress pda.Address
	mintBump    uint8
}

// NewConfig derives the mint address for programID.
func NewConfig(programID pda.Address) (Config, error) {
	if programID.IsZero() {
		return Config{}, fmt.Errorf("new config: zero program id")
	}
	addr, bump, err := pda.FindProgramAddress(mintSeeds(), programID)
	if err != nil {
		return Config{}, fmt.Errorf("derive mint address: %w", err)
	}
	return Config{programID: programID, mintAddress: addr, mintBump: bump}, nil
}

// ProgramID returns the program address.
func (c Config) ProgramID() pda.Address { return c.programID }

// MintAddress returns the derived mint address, which is also the mint's
// authority.
func (c Config) MintAddress() pda.Address { return c.mintAddress }

// MintBump returns the canonical bump of the mint address.
func (c Config) MintBump() uint8 { return c.mintBump }

// MintProof returns a fresh proof that the program controls the mint address.
func (c Config) MintProof() pda.Proof {
	return pda.NewProof(c.programID, c.mintBump, mintSeeds()...)
}

func mintSeeds() [][]byte {
	return [][]byte{[]byte(MintSeed)}
}
