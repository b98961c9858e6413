package system

// Rent parameters. Storage is paid up front: an account is rent-exempt when it
// holds two years of rent for its size plus a fixed per-account overhead.
const (
	AccountStorageOverhead = 128
	LamportsPerByteYear    = 3480
	ExemptionThreshold     = 2
)

// MinimumBalance returns the lamports needed for a rent-exempt account with
// dataLen bytes of data.
func MinimumBalance(dataLen int) uint64 {
	return uint64(AccountStorageOverhead+dataLen) * LamportsPerByteYear * ExemptionThreshold
}

// IsExempt reports whether lamports cover rent for dataLen bytes.
func IsExempt(lamports uint64, dataLen int) bool {
	return lamports >= MinimumBalance(dataLen)
}
