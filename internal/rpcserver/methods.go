package rpcserver

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mr-tron/base58"

	"solana-pda-mint/internal/domain"
	"solana-pda-mint/internal/pda"
	"solana-pda-mint/internal/runtime"
	"solana-pda-mint/internal/storage"
	"solana-pda-mint/internal/system"
	"solana-pda-mint/internal/token"
)

// Signature listing bounds, as on Solana.
const (
	defaultSignaturesLimit = 1000
	maxSignaturesLimit     = 1000
)

type methodFunc func(ctx context.Context, params json.RawMessage) (interface{}, error)

func (s *Server) methodTable() map[string]methodFunc {
	return map[string]methodFunc{
		"getAccountInfo":                    s.getAccountInfo,
		"getBalance":                        s.getBalance,
		"getTransaction":                    s.getTransaction,
		"getSignaturesForAddress":           s.getSignaturesForAddress,
		"getSlot":                           s.getSlot,
		"getMinimumBalanceForRentExemption": s.getMinimumBalanceForRentExemption,
		"getTokenSupply":                    s.getTokenSupply,
		"getTokenAccountBalance":            s.getTokenAccountBalance,
		"sendTransaction":                   s.sendTransaction,
		"requestAirdrop":                    s.requestAirdrop,
	}
}

type contextValue struct {
	Context rpcContext  `json:"context"`
	Value   interface{} `json:"value"`
}

type rpcContext struct {
	Slot int64 `json:"slot"`
}

func (s *Server) withContext(v interface{}) contextValue {
	return contextValue{Context: rpcContext{Slot: s.ledger.Runtime().Slot()}, Value: v}
}

type encodingConfig struct {
	Encoding string `json:"encoding"`
}

func parseAddress(s string) (pda.Address, error) {
	addr, err := pda.ParseAddress(s)
	if err != nil {
		return pda.Zero, invalidParams("%v", err)
	}
	return addr, nil
}

type accountValue struct {
	Lamports   uint64    `json:"lamports"`
	Owner      string    `json:"owner"`
	Data       [2]string `json:"data"`
	Executable bool      `json:"executable"`
	RentEpoch  uint64    `json:"rentEpoch"`
	Space      int       `json:"space"`
}

func (s *Server) getAccountInfo(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var pubkey string
	var cfg encodingConfig
	if err := decodeParams(params, 1, &pubkey, &cfg); err != nil {
		return nil, err
	}
	addr, err := parseAddress(pubkey)
	if err != nil {
		return nil, err
	}

	var encode func([]byte) string
	switch cfg.Encoding {
	case "", "base64":
		cfg.Encoding = "base64"
		encode = base64.StdEncoding.EncodeToString
	case "base58":
		encode = base58.Encode
	default:
		return nil, invalidParams("unsupported encoding %q", cfg.Encoding)
	}

	acct, err := s.ledger.Runtime().Accounts().Get(ctx, addr)
	if errors.Is(err, storage.ErrNotFound) {
		return s.withContext(nil), nil
	}
	if err != nil {
		return nil, err
	}

	return s.withContext(accountValue{
		Lamports:   acct.Lamports,
		Owner:      acct.Owner.String(),
		Data:       [2]string{encode(acct.Data), cfg.Encoding},
		Executable: acct.Executable,
		Space:      len(acct.Data),
	}), nil
}

func (s *Server) getBalance(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var pubkey string
	if err := decodeParams(params, 1, &pubkey); err != nil {
		return nil, err
	}
	addr, err := parseAddress(pubkey)
	if err != nil {
		return nil, err
	}

	balance, err := s.ledger.Balance(ctx, addr)
	if err != nil {
		return nil, err
	}
	return s.withContext(balance), nil
}

type transactionResult struct {
	Slot        int64           `json:"slot"`
	BlockTime   int64           `json:"blockTime"`
	Meta        transactionMeta `json:"meta"`
	Transaction transactionBody `json:"transaction"`
}

type transactionMeta struct {
	Err         *string  `json:"err"`
	LogMessages []string `json:"logMessages"`
}

type transactionBody struct {
	Signatures []string           `json:"signatures"`
	Message    transactionMessage `json:"message"`
}

type transactionMessage struct {
	AccountKeys []string `json:"accountKeys"`
}

func (s *Server) history() (storage.TransactionStore, error) {
	if s.txs == nil {
		return nil, &rpcError{Code: CodeInternalError, Message: "transaction history is not enabled"}
	}
	return s.txs, nil
}

func (s *Server) getTransaction(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var signature string
	if err := decodeParams(params, 1, &signature); err != nil {
		return nil, err
	}
	txs, err := s.history()
	if err != nil {
		return nil, err
	}

	rec, err := txs.GetBySignature(ctx, signature)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return transactionResult{
		Slot:      rec.Slot,
		BlockTime: rec.BlockTime,
		Meta: transactionMeta{
			Err:         rec.Err,
			LogMessages: nonNil(rec.LogMessages),
		},
		Transaction: transactionBody{
			Signatures: []string{rec.Signature},
			Message:    transactionMessage{AccountKeys: nonNil(rec.AccountKeys)},
		},
	}, nil
}

type signatureResult struct {
	Signature string  `json:"signature"`
	Slot      int64   `json:"slot"`
	BlockTime int64   `json:"blockTime"`
	Err       *string `json:"err"`
}

type signaturesConfig struct {
	Limit int `json:"limit"`
}

func (s *Server) getSignaturesForAddress(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var address string
	var cfg signaturesConfig
	if err := decodeParams(params, 1, &address, &cfg); err != nil {
		return nil, err
	}
	if _, err := parseAddress(address); err != nil {
		return nil, err
	}
	switch {
	case cfg.Limit == 0:
		cfg.Limit = defaultSignaturesLimit
	case cfg.Limit < 0 || cfg.Limit > maxSignaturesLimit:
		return nil, invalidParams("limit must be between 1 and %d", maxSignaturesLimit)
	}

	txs, err := s.history()
	if err != nil {
		return nil, err
	}
	recs, err := txs.GetByAddress(ctx, address, cfg.Limit)
	if err != nil {
		return nil, err
	}

	out := make([]signatureResult, len(recs))
	for i, rec := range recs {
		out[i] = signatureResult{
			Signature: rec.Signature,
			Slot:      rec.Slot,
			BlockTime: rec.BlockTime,
			Err:       rec.Err,
		}
	}
	return out, nil
}

func (s *Server) getSlot(context.Context, json.RawMessage) (interface{}, error) {
	return s.ledger.Runtime().Slot(), nil
}

func (s *Server) getMinimumBalanceForRentExemption(_ context.Context, params json.RawMessage) (interface{}, error) {
	var size int
	if err := decodeParams(params, 1, &size); err != nil {
		return nil, err
	}
	if size < 0 || size > system.MaxPermittedDataLength {
		return nil, invalidParams("size must be between 0 and %d", system.MaxPermittedDataLength)
	}
	return system.MinimumBalance(size), nil
}

type tokenAmount struct {
	Amount         string `json:"amount"`
	Decimals       uint8  `json:"decimals"`
	UIAmountString string `json:"uiAmountString"`
}

func newTokenAmount(amount uint64, decimals uint8) tokenAmount {
	return tokenAmount{
		Amount:         strconv.FormatUint(amount, 10),
		Decimals:       decimals,
		UIAmountString: uiAmountString(amount, decimals),
	}
}

// uiAmountString renders amount base units with decimals places, trailing
// zeros trimmed.
func uiAmountString(amount uint64, decimals uint8) string {
	digits := strconv.FormatUint(amount, 10)
	d := int(decimals)
	if d == 0 {
		return digits
	}
	if len(digits) <= d {
		digits = strings.Repeat("0", d-len(digits)+1) + digits
	}
	whole, frac := digits[:len(digits)-d], strings.TrimRight(digits[len(digits)-d:], "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}

func (s *Server) getTokenSupply(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var address string
	if err := decodeParams(params, 1, &address); err != nil {
		return nil, err
	}
	addr, err := parseAddress(address)
	if err != nil {
		return nil, err
	}

	mint, err := token.GetMint(ctx, s.ledger.Runtime().Accounts(), addr)
	if err != nil {
		return nil, tokenLookupError(err, "mint")
	}
	return s.withContext(newTokenAmount(mint.Supply, mint.Decimals)), nil
}

func (s *Server) getTokenAccountBalance(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var address string
	if err := decodeParams(params, 1, &address); err != nil {
		return nil, err
	}
	addr, err := parseAddress(address)
	if err != nil {
		return nil, err
	}

	store := s.ledger.Runtime().Accounts()
	acct, err := token.GetAccount(ctx, store, addr)
	if err != nil {
		return nil, tokenLookupError(err, "token account")
	}
	mint, err := token.GetMint(ctx, store, acct.Mint)
	if err != nil {
		return nil, tokenLookupError(err, "mint")
	}
	return s.withContext(newTokenAmount(acct.Amount, mint.Decimals)), nil
}

// tokenLookupError reports a missing or foreign record as bad params.
func tokenLookupError(err error, what string) error {
	switch {
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, token.ErrInvalidAccountOwner),
		errors.Is(err, token.ErrInvalidAccountData):
		return invalidParams("not a valid %s: %v", what, err)
	default:
		return err
	}
}

type sendConfig struct {
	Encoding string `json:"encoding"`
}

func (s *Server) sendTransaction(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var encoded string
	var cfg sendConfig
	if err := decodeParams(params, 1, &encoded, &cfg); err != nil {
		return nil, err
	}

	var raw []byte
	var err error
	switch cfg.Encoding {
	case "", "base64":
		raw, err = base64.StdEncoding.DecodeString(encoded)
	case "base58":
		raw, err = base58.Decode(encoded)
	default:
		return nil, invalidParams("unsupported encoding %q", cfg.Encoding)
	}
	if err != nil {
		return nil, invalidParams("decode transaction: %v", err)
	}

	tx, err := runtime.DecodeTransaction(raw)
	if err != nil {
		return nil, err
	}

	rec, err := s.ledger.Submit(ctx, tx)
	if err != nil {
		if rec == nil {
			return nil, err
		}
		return nil, &rpcError{
			Code:    CodeTransactionFailed,
			Message: "Transaction failed: " + err.Error(),
			Data:    txErrorData{Err: err.Error(), Logs: nonNil(rec.LogMessages)},
		}
	}
	return rec.Signature, nil
}

func (s *Server) requestAirdrop(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var pubkey string
	var lamports uint64
	if err := decodeParams(params, 2, &pubkey, &lamports); err != nil {
		return nil, err
	}
	addr, err := parseAddress(pubkey)
	if err != nil {
		return nil, err
	}
	if lamports == 0 || lamports > s.maxAirdrop {
		return nil, invalidParams("airdrop must be between 1 and %d lamports", s.maxAirdrop)
	}

	if err := s.ledger.Airdrop(ctx, addr, lamports); err != nil {
		if errors.Is(err, system.ErrInvalidAccountOwner) || errors.Is(err, system.ErrArithmeticOverflow) {
			return nil, invalidParams("%v", err)
		}
		return nil, err
	}

	signature, err := airdropSignature()
	if err != nil {
		return nil, err
	}
	if s.txs != nil {
		rec := &domain.TransactionRecord{
			Signature:   signature,
			Slot:        s.ledger.Runtime().Slot(),
			BlockTime:   s.ledger.Runtime().Now().Unix(),
			AccountKeys: []string{addr.String(), system.ProgramID.String()},
			LogMessages: []string{fmt.Sprintf("Program log: Airdrop %d lamports to %s", lamports, addr)},
		}
		if err := s.txs.Insert(ctx, rec); err != nil {
			s.logger.Printf("record airdrop %s: %v", signature, err)
		}
	}
	return signature, nil
}

// airdropSignature returns a random identifier shaped like a signature.
func airdropSignature() (string, error) {
	var b [64]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("airdrop signature: %w", err)
	}
	return base58.Encode(b[:]), nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
