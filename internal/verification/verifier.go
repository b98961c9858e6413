// Package verification replays the mint program's transaction history and
// checks it against the stored token accounts.
//
// Every unit in circulation is created by a "Minted N to <holder>" log of the
// mint program, so summing those events per holder must reproduce each
// holder balance and the mint supply exactly.
package verification

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"solana-pda-mint/internal/events"
	"solana-pda-mint/internal/mintprogram"
	"solana-pda-mint/internal/pda"
	"solana-pda-mint/internal/storage"
	"solana-pda-mint/internal/token"
)

// FieldDivergence represents a mismatch between stored and replayed values.
type FieldDivergence struct {
	Field    string // e.g. "Supply" or "Holder <address>"
	Expected any    // replayed value
	Actual   any    // stored value
}

// HolderResult compares one holder account.
type HolderResult struct {
	Holder   string
	Replayed uint64
	Stored   uint64
	Match    bool
}

// Report is the outcome of one verification run.
type Report struct {
	Transactions   int // committed transactions replayed
	Events         int
	MintCreated    bool
	ReplayedSupply uint64
	StoredSupply   uint64
	Holders        []HolderResult
	Divergences    []FieldDivergence
}

// Match reports whether replay and store agree everywhere.
func (r *Report) Match() bool {
	return len(r.Divergences) == 0
}

// SupplyVerifier compares event replay against the account store.
type SupplyVerifier struct {
	accounts     storage.AccountStore
	transactions storage.TransactionStore
	cfg          mintprogram.Config
}

// NewSupplyVerifier creates a verifier for the mint deployed under cfg.
func NewSupplyVerifier(accounts storage.AccountStore, transactions storage.TransactionStore, cfg mintprogram.Config) *SupplyVerifier {
	return &SupplyVerifier{
		accounts:     accounts,
		transactions: transactions,
		cfg:          cfg,
	}
}

// Verify replays every recorded mint program transaction.
func (v *SupplyVerifier) Verify(ctx context.Context) (*Report, error) {
	programID := v.cfg.ProgramID().String()
	records, err := v.transactions.GetByAddress(ctx, programID, 0)
	if err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}

	parser := events.NewParser(programID)
	var evs []*events.Event
	report := &Report{}
	for _, rec := range records {
		if !rec.Succeeded() {
			continue
		}
		report.Transactions++
		evs = append(evs, parser.ParseRecord(rec)...)
	}
	events.SortEvents(evs)
	report.Events = len(evs)

	balances := make(map[string]uint64)
	for _, ev := range evs {
		switch ev.Kind {
		case events.KindMintCreated:
			if report.MintCreated {
				report.diverge("MintCreated", "once", "twice in "+ev.TxSignature)
			}
			report.MintCreated = true
		case events.KindTokensMinted:
			balances[ev.Address] += ev.Amount
			report.ReplayedSupply += ev.Amount
		}
	}

	mint, err := token.GetMint(ctx, v.accounts, v.cfg.MintAddress())
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if report.MintCreated {
			report.diverge("Mint", "created", "missing")
		}
	case err != nil:
		return nil, fmt.Errorf("load mint: %w", err)
	default:
		report.StoredSupply = mint.Supply
		if !report.MintCreated {
			report.diverge("Mint", "missing", "created")
		}
	}
	if report.ReplayedSupply != report.StoredSupply {
		report.diverge("Supply", report.ReplayedSupply, report.StoredSupply)
	}

	holders := make([]string, 0, len(balances))
	for h := range balances {
		holders = append(holders, h)
	}
	sort.Strings(holders)

	for _, h := range holders {
		res, err := v.verifyHolder(ctx, h, balances[h])
		if err != nil {
			return nil, err
		}
		if !res.Match {
			report.diverge("Holder "+h, res.Replayed, res.Stored)
		}
		report.Holders = append(report.Holders, res)
	}

	return report, nil
}

func (v *SupplyVerifier) verifyHolder(ctx context.Context, holder string, replayed uint64) (HolderResult, error) {
	res := HolderResult{Holder: holder, Replayed: replayed}

	addr, err := pda.ParseAddress(holder)
	if err != nil {
		return res, nil
	}
	acc, err := token.GetAccount(ctx, v.accounts, addr)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return res, nil
	case err != nil:
		return res, fmt.Errorf("load holder %s: %w", holder, err)
	}
	if acc.Mint != v.cfg.MintAddress() {
		return res, nil
	}

	res.Stored = acc.Amount
	res.Match = res.Stored == res.Replayed
	return res, nil
}

func (r *Report) diverge(field string, expected, actual any) {
	r.Divergences = append(r.Divergences, FieldDivergence{
		Field:    field,
		Expected: expected,
		Actual:   actual,
	})
}
