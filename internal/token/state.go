package token

import (
	"context"
	"fmt"

	"solana-pda-mint/internal/pda"
	"solana-pda-mint/internal/storage"
)

// GetMint reads and decodes the mint record at addr.
func GetMint(ctx context.Context, store storage.AccountStore, addr pda.Address) (*Mint, error) {
	acct, err := store.Get(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("get mint %s: %w", addr, err)
	}
	if acct.Owner != ProgramID {
		return nil, fmt.Errorf("get mint %s: %w", addr, ErrInvalidAccountOwner)
	}
	return UnpackMint(acct.Data)
}

// GetAccount reads and decodes the token account at addr.
func GetAccount(ctx context.Context, store storage.AccountStore, addr pda.Address) (*Account, error) {
	acct, err := store.Get(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("get token account %s: %w", addr, err)
	}
	if acct.Owner != ProgramID {
		return nil, fmt.Errorf("get token account %s: %w", addr, ErrInvalidAccountOwner)
	}
	return UnpackAccount(acct.Data)
}
