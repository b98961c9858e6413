package rpcserver

import (
	"encoding/json"
	"errors"
	"fmt"

	"solana-pda-mint/internal/runtime"
	"solana-pda-mint/internal/storage"
)

// JSON-RPC error codes.
const (
	CodeParseError        = -32700
	CodeInvalidRequest    = -32600
	CodeMethodNotFound    = -32601
	CodeInvalidParams     = -32602
	CodeInternalError     = -32603
	CodeTransactionFailed = -32002
	CodeSignatureFailure  = -32003
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// rpcResponse always serializes result, null included.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result"`
}

type errorResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// txErrorData accompanies CodeTransactionFailed.
type txErrorData struct {
	Err  string   `json:"err"`
	Logs []string `json:"logs"`
}

func invalidParams(format string, args ...interface{}) *rpcError {
	return &rpcError{Code: CodeInvalidParams, Message: "Invalid params: " + fmt.Sprintf(format, args...)}
}

// toRPCError maps a handler error onto a JSON-RPC error.
func toRPCError(err error) *rpcError {
	var rpcErr *rpcError
	switch {
	case errors.As(err, &rpcErr):
		return rpcErr
	case errors.Is(err, storage.ErrInvalidInput),
		errors.Is(err, runtime.ErrInvalidTransaction),
		errors.Is(err, runtime.ErrEmptyTransaction):
		return &rpcError{Code: CodeInvalidParams, Message: err.Error()}
	case errors.Is(err, runtime.ErrSignatureVerification),
		errors.Is(err, runtime.ErrMissingSignature):
		return &rpcError{Code: CodeSignatureFailure, Message: err.Error()}
	case errors.Is(err, runtime.ErrAlreadyProcessed):
		return &rpcError{Code: CodeTransactionFailed, Message: err.Error()}
	default:
		return &rpcError{Code: CodeInternalError, Message: err.Error()}
	}
}

// decodeParams unmarshals positional params into targets. The first required
// params must be present; later targets keep their zero value when omitted.
func decodeParams(raw json.RawMessage, required int, targets ...interface{}) error {
	var items []json.RawMessage
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &items); err != nil {
			return invalidParams("params must be an array")
		}
	}
	if len(items) < required {
		return invalidParams("expected at least %d params, got %d", required, len(items))
	}
	for i, item := range items {
		if i >= len(targets) {
			break
		}
		if err := json.Unmarshal(item, targets[i]); err != nil {
			return invalidParams("param %d: %v", i, err)
		}
	}
	return nil
}
