package rpc

import (
	"errors"
	"fmt"

	"github.com/onchain-portfolio/walletlink/internal/wallet"
)

// API errors that do not come from the connection machine.
var (
	ErrNoContract = errors.New("no portfolio contract bound for the current network")
	ErrNoStorage  = errors.New("session storage is not enabled")
)

// Kinds for the API errors above.
const (
	KindNoContract  = "no_contract"
	KindUnavailable = "unavailable"
)

// paramsError marks malformed request parameters.
type paramsError struct {
	msg string
}

func (e *paramsError) Error() string { return "invalid params: " + e.msg }

func invalidParams(format string, args ...interface{}) error {
	return &paramsError{msg: fmt.Sprintf(format, args...)}
}

// stateError carries the machine state observed when a call failed.
type stateError struct {
	err   error
	state wallet.Snapshot
}

func (e *stateError) Error() string { return e.err.Error() }
func (e *stateError) Unwrap() error { return e.err }

func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrNoContract):
		return KindNoContract
	case errors.Is(err, ErrNoStorage):
		return KindUnavailable
	default:
		return wallet.ErrorKind(err)
	}
}
