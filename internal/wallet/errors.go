package wallet

import (
	"context"
	"errors"

	"github.com/onchain-portfolio/walletlink/internal/provider"
)

// Connection errors. Wallet-side failures keep the provider sentinels
// (provider.ErrUserRejected and friends) so callers can match either.
var (
	ErrProviderNotFound   = provider.ErrNotFound
	ErrUserRejected       = provider.ErrUserRejected
	ErrAccountUnavailable = errors.New("wallet returned no accounts")
	ErrCooldown           = errors.New("connect attempted too soon after the previous attempt")
	ErrSuperseded         = errors.New("connection attempt superseded by a newer transition")
	ErrUnknownNetwork     = errors.New("network not in registry")
	ErrClosed             = errors.New("connection machine closed")
)

// Stable error kinds reported to API clients.
const (
	KindProviderNotFound   = "provider_not_found"
	KindUserRejected       = "user_rejected"
	KindAccountUnavailable = "account_unavailable"
	KindCooldown           = "cooldown"
	KindSuperseded         = "superseded"
	KindUnknownNetwork     = "unknown_network"
	KindUnrecognizedChain  = "unrecognized_chain"
	KindUnauthorized       = "unauthorized"
	KindTransient          = "transient"
	KindDisconnected       = "disconnected"
	KindCancelled          = "cancelled"
	KindClosed             = "closed"
	KindProvider           = "provider_error"
)

// ErrorKind classifies err for display. It returns "" for nil.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCooldown):
		return KindCooldown
	case errors.Is(err, ErrSuperseded):
		return KindSuperseded
	case errors.Is(err, ErrClosed):
		return KindClosed
	case errors.Is(err, ErrProviderNotFound):
		return KindProviderNotFound
	case errors.Is(err, ErrUserRejected):
		return KindUserRejected
	case errors.Is(err, ErrAccountUnavailable):
		return KindAccountUnavailable
	case errors.Is(err, ErrUnknownNetwork):
		return KindUnknownNetwork
	case errors.Is(err, provider.ErrUnrecognizedChain):
		return KindUnrecognizedChain
	case errors.Is(err, provider.ErrUnauthorized):
		return KindUnauthorized
	case provider.IsTransient(err):
		return KindTransient
	case errors.Is(err, provider.ErrDisconnected):
		return KindDisconnected
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	default:
		return KindProvider
	}
}
