// Package wallet reads and writes signer keypair files in the Solana CLI
// format: a JSON array of the 64 private key bytes.
package wallet

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/blocto/solana-go-sdk/types"

	"solana-pda-mint/internal/pda"
)

// ErrInvalidKeypair is returned for a file that does not hold a valid keypair.
var ErrInvalidKeypair = errors.New("invalid keypair")

// Generate creates a new random keypair.
func Generate() ed25519.PrivateKey {
	return types.NewAccount().PrivateKey
}

// Address returns the public address of key.
func Address(key ed25519.PrivateKey) pda.Address {
	var a pda.Address
	copy(a[:], key.Public().(ed25519.PublicKey))
	return a
}

// Decode parses the JSON array form and checks that the embedded public key
// matches the seed.
func Decode(data []byte) (ed25519.PrivateKey, error) {
	var raw []byte
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeypair, err)
	}
	if len(ints) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: %d bytes, want %d", ErrInvalidKeypair, len(ints), ed25519.PrivateKeySize)
	}
	raw = make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("%w: byte %d out of range", ErrInvalidKeypair, i)
		}
		raw[i] = byte(v)
	}

	acc, err := types.AccountFromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeypair, err)
	}
	// AccountFromBytes trusts the trailing public key half.
	if !ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize]).Equal(acc.PrivateKey) {
		return nil, fmt.Errorf("%w: public key does not match seed", ErrInvalidKeypair)
	}
	return acc.PrivateKey, nil
}

// Encode renders key in the JSON array form.
func Encode(key ed25519.PrivateKey) ([]byte, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidKeypair, len(key))
	}
	// []byte would marshal as base64.
	ints := make([]int, len(key))
	for i, b := range key {
		ints[i] = int(b)
	}
	return json.Marshal(ints)
}

// Load reads a keypair file.
func Load(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keypair: %w", err)
	}
	key, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return key, nil
}

// Save writes key to path, readable only by the owner. It refuses to
// overwrite an existing file.
func Save(path string, key ed25519.PrivateKey) error {
	data, err := Encode(key)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create keypair dir: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create keypair: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write keypair: %w", err)
	}
	return f.Close()
}
