package solana

import "context"

// RPCClient defines the JSON-RPC HTTP interface of a pda-mint node.
type RPCClient interface {
	// GetAccountInfo retrieves an account. Returns nil if the account does not exist.
	GetAccountInfo(ctx context.Context, pubkey string) (*AccountInfo, error)

	// GetBalance retrieves the lamports held at pubkey, zero if absent.
	GetBalance(ctx context.Context, pubkey string) (uint64, error)

	// GetTransaction retrieves a transaction by signature. Returns nil if unknown.
	GetTransaction(ctx context.Context, signature string) (*Transaction, error)

	// GetSignaturesForAddress retrieves signatures mentioning an address, newest first.
	GetSignaturesForAddress(ctx context.Context, address string, opts *SignaturesOpts) ([]SignatureInfo, error)

	// GetSlot retrieves the slot of the last executed transaction.
	GetSlot(ctx context.Context) (int64, error)

	// GetMinimumBalanceForRentExemption returns the rent-exempt balance for size bytes.
	GetMinimumBalanceForRentExemption(ctx context.Context, size int) (uint64, error)

	// GetTokenSupply returns the supply of a mint.
	GetTokenSupply(ctx context.Context, mint string) (*TokenAmount, error)

	// GetTokenAccountBalance returns the balance of a token account.
	GetTokenAccountBalance(ctx context.Context, account string) (*TokenAmount, error)

	// SendTransaction submits an encoded signed transaction and returns its signature.
	SendTransaction(ctx context.Context, encoded []byte) (string, error)

	// RequestAirdrop credits lamports to pubkey and returns the airdrop signature.
	RequestAirdrop(ctx context.Context, pubkey string, lamports uint64) (string, error)
}

// Transaction represents an executed transaction.
type Transaction struct {
	Slot      int64
	Signature string
	BlockTime int64 // Unix timestamp (seconds)
	Meta      *TransactionMeta
	Message   *TransactionMessage
}

// TransactionMeta contains transaction metadata.
type TransactionMeta struct {
	Err         *string
	LogMessages []string
}

// TransactionMessage contains parsed transaction message.
type TransactionMessage struct {
	AccountKeys []string
}
