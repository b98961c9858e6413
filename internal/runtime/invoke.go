package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/bits"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"solana-pda-mint/internal/domain"
	"solana-pda-mint/internal/observability"
	"solana-pda-mint/internal/pda"
	"solana-pda-mint/internal/storage"
)

// MaxInvokeDepth is the deepest instruction stack allowed: the top-level
// instruction plus four nested cross-program invocations.
const MaxInvokeDepth = 5

// execution is the state of one transaction attempt.
type execution struct {
	rt      *Runtime
	tx      storage.AccountTx
	signers map[pda.Address]bool
	logs    []string
}

func (e *execution) log(format string, args ...any) {
	e.logs = append(e.logs, fmt.Sprintf(format, args...))
}

// InvokeContext is what a program sees while processing one instruction.
type InvokeContext struct {
	ctx       context.Context
	exec      *execution
	programID pda.Address
	accounts  []AccountMeta
	data      []byte
	proofs    []pda.Proof
	depth     int
}

// Context returns the request context.
func (ic *InvokeContext) Context() context.Context { return ic.ctx }

// ProgramID returns the program being executed.
func (ic *InvokeContext) ProgramID() pda.Address { return ic.programID }

// Data returns the instruction data.
func (ic *InvokeContext) Data() []byte { return ic.data }

// Depth returns the instruction stack height, 1 for top-level.
func (ic *InvokeContext) Depth() int { return ic.depth }

// Accounts returns the account metas passed to the instruction.
func (ic *InvokeContext) Accounts() []AccountMeta {
	return append([]AccountMeta(nil), ic.accounts...)
}

// Account returns the i-th account meta.
func (ic *InvokeContext) Account(i int) (AccountMeta, error) {
	if i < 0 || i >= len(ic.accounts) {
		return AccountMeta{}, fmt.Errorf("%w: need index %d, have %d", ErrNotEnoughAccountKeys, i, len(ic.accounts))
	}
	return ic.accounts[i], nil
}

// Proofs returns the derivation proofs the caller signed this instruction
// with. Each proof's ProgramID is the calling program, set by the runtime.
func (ic *InvokeContext) Proofs() []pda.Proof {
	out := make([]pda.Proof, len(ic.proofs))
	copy(out, ic.proofs)
	return out
}

// IsSigner reports whether addr carries signer privilege in this instruction.
func (ic *InvokeContext) IsSigner(addr pda.Address) bool {
	for _, m := range ic.accounts {
		if m.Address == addr && m.IsSigner {
			return true
		}
	}
	return false
}

// IsWritable reports whether addr was passed writable.
func (ic *InvokeContext) IsWritable(addr pda.Address) bool {
	for _, m := range ic.accounts {
		if m.Address == addr && m.IsWritable {
			return true
		}
	}
	return false
}

// IsTransactionSigner reports whether addr signed the transaction with a key.
// Program-derived addresses can never be transaction signers.
func (ic *InvokeContext) IsTransactionSigner(addr pda.Address) bool {
	return ic.exec.signers[addr]
}

func (ic *InvokeContext) listed(addr pda.Address) bool {
	for _, m := range ic.accounts {
		if m.Address == addr {
			return true
		}
	}
	return false
}

// Exists reports whether a record is stored at addr. addr must be passed to
// the instruction.
func (ic *InvokeContext) Exists(addr pda.Address) (bool, error) {
	if !ic.listed(addr) {
		return false, fmt.Errorf("%w: %s", ErrMissingAccount, addr)
	}
	return ic.exec.tx.Exists(ic.ctx, addr)
}

// Load returns a copy of the record at addr, or storage.ErrNotFound.
func (ic *InvokeContext) Load(addr pda.Address) (*domain.Account, error) {
	if !ic.listed(addr) {
		return nil, fmt.Errorf("%w: %s", ErrMissingAccount, addr)
	}
	return ic.exec.tx.Get(ic.ctx, addr)
}

// Store writes a record. The account must be passed writable, and only the
// owning program may change its data or owner or reduce its balance. Only the
// system program may create records.
func (ic *InvokeContext) Store(a *domain.Account) error {
	if a == nil {
		return storage.ErrInvalidInput
	}
	if !ic.listed(a.Address) {
		return fmt.Errorf("%w: %s", ErrMissingAccount, a.Address)
	}
	if !ic.IsWritable(a.Address) {
		return fmt.Errorf("%w: %s", ErrReadonlyModified, a.Address)
	}

	prior, err := ic.exec.tx.Get(ic.ctx, a.Address)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if ic.programID != SystemProgramID {
			return fmt.Errorf("%w: %s", ErrAccountCreation, a.Address)
		}
	case err != nil:
		return err
	default:
		if prior.Owner != ic.programID {
			if a.Owner != prior.Owner || !bytes.Equal(a.Data, prior.Data) {
				return fmt.Errorf("%w: %s", ErrExternalDataModified, a.Address)
			}
			if a.Lamports < prior.Lamports {
				return fmt.Errorf("%w: %s", ErrExternalLamportSpend, a.Address)
			}
		}
	}

	return ic.exec.tx.Put(ic.ctx, a)
}

// Log appends a "Program log:" line to the transaction logs.
func (ic *InvokeContext) Log(format string, args ...any) {
	ic.exec.log("Program log: "+format, args...)
}

// Invoke calls another program with the caller's privileges.
func (ic *InvokeContext) Invoke(ix Instruction) error {
	return ic.InvokeSigned(ix)
}

// InvokeSigned calls another program, additionally granting signer privilege
// to every program-derived address reconstructed by proofs under the calling
// program's ID. The proofs travel with the call so the callee can re-verify
// them itself.
func (ic *InvokeContext) InvokeSigned(ix Instruction, proofs ...pda.Proof) error {
	if ic.depth+1 > MaxInvokeDepth {
		return ErrCallDepthExceeded
	}
	if !ic.listed(ix.ProgramID) {
		return fmt.Errorf("%w: program %s", ErrMissingAccount, ix.ProgramID)
	}

	// The caller cannot choose which program a proof is bound to.
	stamped := make([]pda.Proof, len(proofs))
	pdaSigners := make(map[pda.Address]bool, len(proofs))
	for i, p := range proofs {
		stamped[i] = p.WithProgram(ic.programID)
		if addr, err := stamped[i].Address(); err == nil {
			pdaSigners[addr] = true
		}
	}

	metas := make([]AccountMeta, len(ix.Accounts))
	for i, m := range ix.Accounts {
		if !ic.listed(m.Address) {
			return fmt.Errorf("%w: %s", ErrMissingAccount, m.Address)
		}
		if m.IsWritable && !ic.IsWritable(m.Address) {
			return fmt.Errorf("%w: %s", ErrPrivilegeEscalation, m.Address)
		}
		// Signer privilege is granted, never escalated: an unbacked request is
		// downgraded and left for the callee to reject.
		m.IsSigner = m.IsSigner && (ic.IsSigner(m.Address) || pdaSigners[m.Address])
		metas[i] = m
	}

	child := &InvokeContext{
		ctx:       ic.ctx,
		exec:      ic.exec,
		programID: ix.ProgramID,
		accounts:  metas,
		data:      append([]byte(nil), ix.Data...),
		proofs:    stamped,
		depth:     ic.depth + 1,
	}
	return ic.exec.rt.dispatch(child)
}

// dispatch runs one instruction with invoke/success/failed log framing.
func (rt *Runtime) dispatch(ic *InvokeContext) error {
	program, ok := rt.programs[ic.programID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProgram, ic.programID)
	}

	ctx, span := rt.tracer.Start(ic.ctx, "runtime.instruction",
		trace.WithAttributes(
			attribute.String("program.id", ic.programID.String()),
			attribute.Int("invoke.depth", ic.depth),
		),
	)
	defer span.End()
	ic.ctx = ctx

	start := time.Now()
	ic.exec.log("Program %s invoke [%d]", ic.programID, ic.depth)

	before, err := ic.lamportTotal()
	if err == nil {
		err = program.Process(ic)
	}
	if err == nil {
		var after lamports128
		if after, err = ic.lamportTotal(); err == nil && after != before {
			err = fmt.Errorf("%w: %s", ErrUnbalancedInstruction, ic.programID)
		}
	}

	status := "success"
	if err != nil {
		status = "failed"
		ic.exec.log("Program %s failed: %v", ic.programID, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		ic.exec.log("Program %s success", ic.programID)
	}
	observability.RecordInstruction(rt.programName(ic.programID), status, time.Since(start).Seconds())
	return err
}

// lamports128 is a lamport sum that cannot overflow.
type lamports128 struct{ hi, lo uint64 }

// lamportTotal sums the balances of the distinct accounts passed to the
// instruction. Missing records count as zero.
func (ic *InvokeContext) lamportTotal() (lamports128, error) {
	var total lamports128
	seen := make(map[pda.Address]bool, len(ic.accounts))
	for _, m := range ic.accounts {
		if seen[m.Address] {
			continue
		}
		seen[m.Address] = true

		a, err := ic.exec.tx.Get(ic.ctx, m.Address)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return lamports128{}, err
		}
		var carry uint64
		total.lo, carry = bits.Add64(total.lo, a.Lamports, 0)
		total.hi += carry
	}
	return total, nil
}
