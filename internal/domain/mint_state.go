package domain

// MintState is the lifecycle state of a mint.
type MintState string

const (
	MintStateUninitialized MintState = "UNINITIALIZED"
	MintStateActive        MintState = "ACTIVE"
)

// String returns the string representation of MintState.
func (s MintState) String() string {
	return string(s)
}

// IsValid checks if the state is a valid value.
func (s MintState) IsValid() bool {
	return s == MintStateUninitialized || s == MintStateActive
}
