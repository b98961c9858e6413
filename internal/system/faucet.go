package system

import (
	"context"
	"errors"
	"fmt"
	"math/bits"

	"solana-pda-mint/internal/domain"
	"solana-pda-mint/internal/pda"
	"solana-pda-mint/internal/storage"
)

// Airdrop credits lamports to a system-owned account outside of any
// transaction, creating it if needed. It stands in for genesis funding on a
// development ledger.
func Airdrop(ctx context.Context, store storage.AccountStore, to pda.Address, lamports uint64) error {
	if to.IsZero() || lamports == 0 {
		return storage.ErrInvalidInput
	}

	return store.Update(ctx, func(tx storage.AccountTx) error {
		a, err := tx.Get(ctx, to)
		if errors.Is(err, storage.ErrNotFound) {
			a = &domain.Account{Address: to, Owner: ProgramID}
		} else if err != nil {
			return err
		}
		if a.Owner != ProgramID {
			return fmt.Errorf("%w: %s", ErrInvalidAccountOwner, to)
		}

		sum, carry := bits.Add64(a.Lamports, lamports, 0)
		if carry != 0 {
			return ErrArithmeticOverflow
		}
		a.Lamports = sum
		return tx.Put(ctx, a)
	})
}
