package pda

import "fmt"

// Proof is the authority evidence for a program-derived address: the seeds and
// bump that, hashed under ProgramID, reconstruct the address. It carries no
// secret. Build one per call and never persist it.
type Proof struct {
	ProgramID Address
	Seeds     [][]byte
	Bump      uint8
}

// NewProof copies seeds so later mutation by the caller cannot change the proof.
func NewProof(programID Address, bump uint8, seeds ...[]byte) Proof {
	cp := make([][]byte, len(seeds))
	for i, s := range seeds {
		cp[i] = append([]byte(nil), s...)
	}
	return Proof{ProgramID: programID, Seeds: cp, Bump: bump}
}

// SignerSeeds returns the seeds with the bump appended, the form used when a
// program signs a cross-program call.
func (p Proof) SignerSeeds() [][]byte {
	out := make([][]byte, 0, len(p.Seeds)+1)
	out = append(out, p.Seeds...)
	return append(out, []byte{p.Bump})
}

// Address reconstructs the address this proof stands for.
func (p Proof) Address() (Address, error) {
	return CreateProgramAddress(p.SignerSeeds(), p.ProgramID)
}

// Verify reports whether the proof reconstructs claimed.
func (p Proof) Verify(claimed Address) bool {
	return Verify(p.ProgramID, p.Seeds, p.Bump, claimed)
}

// WithProgram returns a copy of the proof bound to programID.
func (p Proof) WithProgram(programID Address) Proof {
	return NewProof(programID, p.Bump, p.Seeds...)
}

func (p Proof) String() string {
	return fmt.Sprintf("proof{program=%s seeds=%d bump=%d}", p.ProgramID, len(p.Seeds), p.Bump)
}
