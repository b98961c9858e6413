// Package runtime executes signed transactions against the account store.
//
// Each transaction runs as one atomic unit inside storage.AccountStore.Update:
// either every instruction succeeds and all writes commit, or nothing changes.
// Programs talk to each other only through Instruction messages dispatched by
// the runtime, which enforces account privileges and carries derivation proofs
// for program-derived signers.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"solana-pda-mint/internal/domain"
	"solana-pda-mint/internal/observability"
	"solana-pda-mint/internal/pda"
	"solana-pda-mint/internal/storage"
)

// Listener receives every executed transaction, committed or not.
type Listener func(rec *domain.TransactionRecord)

// Runtime dispatches instructions to registered programs.
type Runtime struct {
	accounts     storage.AccountStore
	transactions storage.TransactionStore // optional audit log
	programs     map[pda.Address]Program
	names        map[pda.Address]string
	tracer       trace.Tracer
	logger       *log.Logger
	now          func() time.Time

	slot atomic.Int64

	// processed short-circuits signatures seen by this process. The account
	// store records every executed signature durably.
	processed sync.Map

	listenersMu sync.RWMutex
	listeners   []Listener
}

// Option configures Runtime.
type Option func(*Runtime)

// WithTransactionStore records every executed transaction.
func WithTransactionStore(s storage.TransactionStore) Option {
	return func(rt *Runtime) {
		rt.transactions = s
	}
}

// WithLogger sets the runtime logger.
func WithLogger(l *log.Logger) Option {
	return func(rt *Runtime) {
		rt.logger = l
	}
}

// WithClock sets the block time source.
func WithClock(now func() time.Time) Option {
	return func(rt *Runtime) {
		rt.now = now
	}
}

// WithStartSlot sets the slot of the first executed transaction minus one.
func WithStartSlot(slot int64) Option {
	return func(rt *Runtime) {
		rt.slot.Store(slot)
	}
}

// New creates a runtime over accounts.
func New(accounts storage.AccountStore, opts ...Option) *Runtime {
	rt := &Runtime{
		accounts: accounts,
		programs: make(map[pda.Address]Program),
		names:    make(map[pda.Address]string),
		tracer:   otel.Tracer("solana-pda-mint/runtime"),
		logger:   log.New(os.Stdout, "[runtime] ", log.LstdFlags),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// Register adds a program under a human-readable name used in metrics.
func (rt *Runtime) Register(name string, p Program) {
	rt.programs[p.ID()] = p
	rt.names[p.ID()] = name
}

// Accounts returns the underlying account store.
func (rt *Runtime) Accounts() storage.AccountStore {
	return rt.accounts
}

// Slot returns the slot of the last executed transaction.
func (rt *Runtime) Slot() int64 {
	return rt.slot.Load()
}

// Now returns the current block time.
func (rt *Runtime) Now() time.Time {
	return rt.now()
}

// Subscribe registers l for every executed transaction.
func (rt *Runtime) Subscribe(l Listener) {
	rt.listenersMu.Lock()
	defer rt.listenersMu.Unlock()
	rt.listeners = append(rt.listeners, l)
}

func (rt *Runtime) programName(id pda.Address) string {
	if name, ok := rt.names[id]; ok {
		return name
	}
	return id.String()
}

// Execute verifies signatures and runs every instruction of tx atomically.
// The returned record is non-nil whenever the transaction got as far as
// execution, including when an instruction failed; its logs show how far it
// got. Signature failures return a nil record.
func (rt *Runtime) Execute(ctx context.Context, tx *Transaction) (*domain.TransactionRecord, error) {
	signers, err := tx.verifySignatures()
	if err != nil {
		observability.RecordTransaction("rejected", 0)
		return nil, err
	}
	signature := tx.ID()
	if _, dup := rt.processed.LoadOrStore(signature, struct{}{}); dup {
		observability.RecordTransaction("rejected", 0)
		return nil, fmt.Errorf("%w: %s", ErrAlreadyProcessed, signature)
	}

	ctx, span := rt.tracer.Start(ctx, "runtime.execute",
		trace.WithAttributes(
			attribute.String("tx.signature", signature),
			attribute.Int("tx.instructions", len(tx.Instructions)),
		),
	)
	defer span.End()

	start := time.Now()

	var (
		exec          *execution
		replayed      bool
		programFailed bool
	)
	execErr := rt.accounts.Update(ctx, func(atx storage.AccountTx) error {
		// Fresh state per attempt: the store may re-run this after a conflict.
		exec = &execution{rt: rt, tx: atx, signers: signers}
		replayed, programFailed = false, false

		if err := markProcessed(ctx, atx, signature); err != nil {
			replayed = errors.Is(err, ErrAlreadyProcessed)
			return err
		}
		for i, ix := range tx.Instructions {
			ic := &InvokeContext{
				ctx:       ctx,
				exec:      exec,
				programID: ix.ProgramID,
				accounts:  rt.topLevelMetas(ix.Accounts, signers),
				data:      append([]byte(nil), ix.Data...),
				depth:     1,
			}
			if err := rt.dispatch(ic); err != nil {
				programFailed = true
				return fmt.Errorf("instruction %d: %w", i, err)
			}
		}
		return nil
	})

	switch {
	case replayed:
		observability.RecordTransaction("rejected", 0)
		return nil, execErr
	case programFailed:
		// The writes were discarded; the signature is still spent.
		if err := rt.accounts.Update(ctx, func(atx storage.AccountTx) error {
			return markProcessed(ctx, atx, signature)
		}); err != nil && !errors.Is(err, ErrAlreadyProcessed) {
			rt.logger.Printf("record failed transaction %s: %v", signature, err)
		}
	case execErr != nil:
		// Nothing committed, so the same transaction may be retried.
		rt.processed.Delete(signature)
	}

	rec := &domain.TransactionRecord{
		Signature:   signature,
		Slot:        rt.slot.Add(1),
		BlockTime:   rt.now().Unix(),
		AccountKeys: tx.AccountKeys(),
	}
	if exec != nil {
		rec.LogMessages = exec.logs
	}

	status := "success"
	if execErr != nil {
		status = "failed"
		msg := execErr.Error()
		rec.Err = &msg
		span.RecordError(execErr)
		span.SetStatus(codes.Error, msg)
	}
	observability.RecordTransaction(status, time.Since(start).Seconds())

	if rt.transactions != nil {
		if err := rt.transactions.Insert(ctx, rec); err != nil {
			rt.logger.Printf("record transaction %s: %v", rec.Signature, err)
		}
	}

	rt.notify(rec)
	return rec, execErr
}

// markProcessed records signature in the account store transaction.
func markProcessed(ctx context.Context, atx storage.AccountTx, signature string) error {
	err := atx.MarkProcessed(ctx, signature)
	if errors.Is(err, storage.ErrDuplicateKey) {
		return fmt.Errorf("%w: %s", ErrAlreadyProcessed, signature)
	}
	if err != nil {
		return fmt.Errorf("record signature: %w", err)
	}
	return nil
}

// topLevelMetas limits signer privilege to accounts that actually signed.
func (rt *Runtime) topLevelMetas(metas []AccountMeta, signers map[pda.Address]bool) []AccountMeta {
	out := make([]AccountMeta, len(metas))
	for i, m := range metas {
		m.IsSigner = m.IsSigner && signers[m.Address]
		out[i] = m
	}
	return out
}

func (rt *Runtime) notify(rec *domain.TransactionRecord) {
	rt.listenersMu.RLock()
	listeners := append([]Listener(nil), rt.listeners...)
	rt.listenersMu.RUnlock()

	for _, l := range listeners {
		l(rec)
	}
}
