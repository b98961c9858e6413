package domain

import (
	"bytes"

	"solana-pda-mint/internal/pda"
)

// Account is a fixed-layout ledger record.
// Corresponds to accounts table in PostgreSQL.
type Account struct {
	Address    pda.Address // record address (PK)
	Owner      pda.Address // program allowed to modify Data and debit Lamports
	Lamports   uint64      // balance; funds rent exemption
	Data       []byte      // layout defined by the owning program
	Executable bool        // true for program accounts
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	cp := *a
	if a.Data != nil {
		cp.Data = append([]byte(nil), a.Data...)
	}
	return &cp
}

// Equal reports whether a and b hold identical state.
func (a *Account) Equal(b *Account) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Address != b.Address || a.Owner != b.Owner || a.Lamports != b.Lamports || a.Executable != b.Executable {
		return false
	}
	return bytes.Equal(a.Data, b.Data)
}
