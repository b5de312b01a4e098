package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Provider error kinds. Wallet errors arrive as *RPCError and match these
// through errors.Is.
var (
	ErrNotFound          = errors.New("wallet provider not found")
	ErrTimeout           = errors.New("wallet request timed out")
	ErrRateLimited       = errors.New("wallet request rate limited")
	ErrUserRejected      = errors.New("user rejected the request")
	ErrUnauthorized      = errors.New("wallet has not authorized this account or method")
	ErrUnrecognizedChain = errors.New("chain not added to wallet")
	ErrDisconnected      = errors.New("wallet disconnected")
)

// EIP-1193 and JSON-RPC error codes the wallet is known to return.
const (
	CodeUserRejected      = 4001
	CodeUnauthorized      = 4100
	CodeUnsupportedMethod = 4200
	CodeDisconnected      = 4900
	CodeChainDisconnected = 4901
	CodeUnrecognizedChain = 4902
	CodeTooManyRequests   = 429
	CodeResourceBusy      = -32002
	CodeLimitExceeded     = -32005
	CodeMethodNotFound    = -32601
	CodeInternal          = -32603
)

// RPCError is an error object returned by the wallet.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("wallet error %d: %s", e.Code, e.Message)
}

// Is maps wallet error codes onto the package sentinels.
func (e *RPCError) Is(target error) bool {
	switch target {
	case ErrUserRejected:
		return e.Code == CodeUserRejected
	case ErrUnauthorized:
		return e.Code == CodeUnauthorized
	case ErrUnrecognizedChain:
		return e.Code == CodeUnrecognizedChain
	case ErrDisconnected:
		return e.Code == CodeDisconnected || e.Code == CodeChainDisconnected
	case ErrRateLimited:
		switch e.Code {
		case CodeTooManyRequests, CodeResourceBusy, CodeLimitExceeded:
			return true
		}
		// MetaMask reports its circuit breaker as a generic internal error.
		msg := strings.ToLower(e.Message)
		return strings.Contains(msg, "circuit breaker") || strings.Contains(msg, "rate limit")
	}
	return false
}

// IsTransient reports whether err is worth retrying: the wallet timed out or
// pushed back because it was asked too often.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimited)
}
