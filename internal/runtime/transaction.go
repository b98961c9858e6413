package runtime

import (
	"crypto/ed25519"
	"encoding/binary"
	"fmt"

	"github.com/mr-tron/base58"

	"solana-pda-mint/internal/pda"
)

// Wire limits. Message and Encode write counts as u8 and lengths as u16,
// so anything larger would not survive the round trip.
const (
	maxSignatures   = 64
	maxInstructions = 64
	maxAccounts     = 64
	maxDataLen      = 1232
)

const (
	flagSigner   byte = 1 << 0
	flagWritable byte = 1 << 1
)

// Signature is an ed25519 signature over the transaction message.
type Signature struct {
	PublicKey pda.Address
	Bytes     [ed25519.SignatureSize]byte
}

// Transaction is a signed batch of instructions executed atomically.
// The first signature belongs to the fee payer and identifies the transaction.
type Transaction struct {
	// Nonce distinguishes otherwise identical messages, like a recent blockhash.
	Nonce        uint64
	Instructions []Instruction
	Signatures   []Signature
}

// NewTransaction creates an unsigned transaction.
func NewTransaction(nonce uint64, ixs ...Instruction) *Transaction {
	return &Transaction{Nonce: nonce, Instructions: ixs}
}

// Message returns the bytes covered by signatures.
func (t *Transaction) Message() []byte {
	buf := make([]byte, 0, 256)
	buf = binary.LittleEndian.AppendUint64(buf, t.Nonce)
	buf = append(buf, byte(len(t.Instructions)))
	for _, ix := range t.Instructions {
		buf = append(buf, ix.ProgramID[:]...)
		buf = append(buf, byte(len(ix.Accounts)))
		for _, m := range ix.Accounts {
			buf = append(buf, m.Address[:]...)
			var flags byte
			if m.IsSigner {
				flags |= flagSigner
			}
			if m.IsWritable {
				flags |= flagWritable
			}
			buf = append(buf, flags)
		}
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(ix.Data)))
		buf = append(buf, ix.Data...)
	}
	return buf
}

// checkLimits rejects a transaction whose message would be truncated.
func (t *Transaction) checkLimits() error {
	if len(t.Signatures) > maxSignatures {
		return fmt.Errorf("%w: %d signatures", ErrInvalidTransaction, len(t.Signatures))
	}
	if len(t.Instructions) > maxInstructions {
		return fmt.Errorf("%w: %d instructions", ErrInvalidTransaction, len(t.Instructions))
	}
	for i, ix := range t.Instructions {
		if len(ix.Accounts) > maxAccounts {
			return fmt.Errorf("%w: instruction %d has %d accounts", ErrInvalidTransaction, i, len(ix.Accounts))
		}
		if len(ix.Data) > maxDataLen {
			return fmt.Errorf("%w: instruction %d data length %d", ErrInvalidTransaction, i, len(ix.Data))
		}
	}
	return nil
}

// Sign signs the message with each key. The first key to ever sign becomes
// the fee payer.
func (t *Transaction) Sign(keys ...ed25519.PrivateKey) error {
	if err := t.checkLimits(); err != nil {
		return fmt.Errorf("sign: %w", err)
	}
	msg := t.Message()
	for _, key := range keys {
		if len(key) != ed25519.PrivateKeySize {
			return fmt.Errorf("sign: invalid private key length %d", len(key))
		}
		pub, err := pda.AddressFromBytes(key.Public().(ed25519.PublicKey))
		if err != nil {
			return fmt.Errorf("sign: %w", err)
		}
		var sig Signature
		sig.PublicKey = pub
		copy(sig.Bytes[:], ed25519.Sign(key, msg))
		t.Signatures = append(t.Signatures, sig)
	}
	return nil
}

// FeePayer returns the first signer.
func (t *Transaction) FeePayer() (pda.Address, bool) {
	if len(t.Signatures) == 0 {
		return pda.Zero, false
	}
	return t.Signatures[0].PublicKey, true
}

// ID returns the base58 fee-payer signature, or "" when unsigned.
func (t *Transaction) ID() string {
	if len(t.Signatures) == 0 {
		return ""
	}
	return base58.Encode(t.Signatures[0].Bytes[:])
}

// RequiredSigners returns every address declared as signer by a top-level
// instruction, in order of first appearance.
func (t *Transaction) RequiredSigners() []pda.Address {
	seen := make(map[pda.Address]bool)
	var out []pda.Address
	for _, ix := range t.Instructions {
		for _, m := range ix.Accounts {
			if m.IsSigner && !seen[m.Address] {
				seen[m.Address] = true
				out = append(out, m.Address)
			}
		}
	}
	return out
}

// AccountKeys returns every referenced address (signers first, then accounts
// and programs in order of appearance) in base58.
func (t *Transaction) AccountKeys() []string {
	seen := make(map[pda.Address]bool)
	var out []string
	add := func(a pda.Address) {
		if !seen[a] {
			seen[a] = true
			out = append(out, a.String())
		}
	}
	for _, s := range t.Signatures {
		add(s.PublicKey)
	}
	for _, ix := range t.Instructions {
		for _, m := range ix.Accounts {
			add(m.Address)
		}
		add(ix.ProgramID)
	}
	return out
}

// verifySignatures checks every signature against the message and that every
// required signer signed. Returns the set of verified signers.
func (t *Transaction) verifySignatures() (map[pda.Address]bool, error) {
	if len(t.Instructions) == 0 {
		return nil, ErrEmptyTransaction
	}
	if len(t.Signatures) == 0 {
		return nil, ErrMissingSignature
	}
	if err := t.checkLimits(); err != nil {
		return nil, err
	}

	msg := t.Message()
	signed := make(map[pda.Address]bool, len(t.Signatures))
	for _, s := range t.Signatures {
		if !ed25519.Verify(ed25519.PublicKey(s.PublicKey[:]), msg, s.Bytes[:]) {
			return nil, fmt.Errorf("%w: %s", ErrSignatureVerification, s.PublicKey)
		}
		signed[s.PublicKey] = true
	}

	for _, addr := range t.RequiredSigners() {
		if !signed[addr] {
			return nil, fmt.Errorf("%w: %s", ErrMissingSignature, addr)
		}
	}
	return signed, nil
}

// Encode serializes the signed transaction: signatures followed by the message.
func (t *Transaction) Encode() []byte {
	buf := make([]byte, 0, 1+len(t.Signatures)*96+256)
	buf = append(buf, byte(len(t.Signatures)))
	for _, s := range t.Signatures {
		buf = append(buf, s.PublicKey[:]...)
		buf = append(buf, s.Bytes[:]...)
	}
	return append(buf, t.Message()...)
}

// DecodeTransaction parses the Encode format.
func DecodeTransaction(b []byte) (*Transaction, error) {
	r := &reader{buf: b}
	t := &Transaction{}

	numSigs := int(r.u8())
	if numSigs > maxSignatures {
		return nil, fmt.Errorf("%w: %d signatures", ErrInvalidTransaction, numSigs)
	}
	for i := 0; i < numSigs && r.err == nil; i++ {
		var s Signature
		s.PublicKey = r.address()
		copy(s.Bytes[:], r.bytes(ed25519.SignatureSize))
		t.Signatures = append(t.Signatures, s)
	}

	t.Nonce = r.u64()
	numIx := int(r.u8())
	if numIx > maxInstructions {
		return nil, fmt.Errorf("%w: %d instructions", ErrInvalidTransaction, numIx)
	}
	for i := 0; i < numIx && r.err == nil; i++ {
		var ix Instruction
		ix.ProgramID = r.address()
		numAccts := int(r.u8())
		if numAccts > maxAccounts {
			return nil, fmt.Errorf("%w: %d accounts", ErrInvalidTransaction, numAccts)
		}
		for j := 0; j < numAccts && r.err == nil; j++ {
			addr := r.address()
			flags := r.u8()
			ix.Accounts = append(ix.Accounts, AccountMeta{
				Address:    addr,
				IsSigner:   flags&flagSigner != 0,
				IsWritable: flags&flagWritable != 0,
			})
		}
		dataLen := int(r.u16())
		if dataLen > maxDataLen {
			return nil, fmt.Errorf("%w: data length %d", ErrInvalidTransaction, dataLen)
		}
		ix.Data = append([]byte(nil), r.bytes(dataLen)...)
		t.Instructions = append(t.Instructions, ix)
	}

	if r.err != nil {
		return nil, r.err
	}
	if r.off != len(b) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrInvalidTransaction, len(b)-r.off)
	}
	return t, nil
}

// reader is a bounds-checked little-endian cursor. The first short read sets
// err and every later call returns zero values.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.buf) {
		r.err = fmt.Errorf("%w: unexpected end at offset %d", ErrInvalidTransaction, r.off)
		return nil
	}
	out := r.buf[r.off : r.off+n]
	r.off += n
	return out
}

func (r *reader) u8() byte {
	b := r.bytes(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u16() uint16 {
	b := r.bytes(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *reader) u64() uint64 {
	b := r.bytes(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *reader) address() pda.Address {
	var a pda.Address
	copy(a[:], r.bytes(pda.AddressLength))
	return a
}
