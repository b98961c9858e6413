package mintprogram

import (
	"context"
	"errors"
	"fmt"

	"solana-pda-mint/internal/domain"
	"solana-pda-mint/internal/storage"
	"solana-pda-mint/internal/system"
	"solana-pda-mint/internal/token"
)

// State reports the lifecycle state of the program's mint.
func State(ctx context.Context, store storage.AccountStore, cfg Config) (domain.MintState, error) {
	acct, err := store.Get(ctx, cfg.MintAddress())
	if errors.Is(err, storage.ErrNotFound) {
		return domain.MintStateUninitialized, nil
	}
	if err != nil {
		return "", err
	}
	// Lamports sent to the address ahead of creation do not make a mint.
	if acct.Owner == system.ProgramID && len(acct.Data) == 0 {
		return domain.MintStateUninitialized, nil
	}

	if acct.Owner != token.ProgramID {
		return "", fmt.Errorf("mint %s: %w", acct.Address, token.ErrInvalidAccountOwner)
	}
	mint, err := token.UnpackMint(acct.Data)
	if err != nil {
		return "", err
	}
	if !mint.IsInitialized {
		return domain.MintStateUninitialized, nil
	}
	return domain.MintStateActive, nil
}
