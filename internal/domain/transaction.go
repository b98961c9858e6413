package domain

// TransactionRecord is the audit entry for one executed transaction.
// Corresponds to transactions table in ClickHouse.
type TransactionRecord struct {
	Signature   string   // base58 fee-payer signature (PK)
	Slot        int64    // slot the transaction executed in
	BlockTime   int64    // unix timestamp (seconds)
	AccountKeys []string // every address referenced, fee payer first
	LogMessages []string // program logs in invocation order
	Err         *string  // nil on success
}

// Succeeded reports whether the transaction committed.
func (t *TransactionRecord) Succeeded() bool {
	return t.Err == nil
}

// Mentions reports whether addr appears in the account keys.
func (t *TransactionRecord) Mentions(addr string) bool {
	for _, k := range t.AccountKeys {
		if k == addr {
			return true
		}
	}
	return false
}
