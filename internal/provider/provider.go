// Package provider talks to the user's wallet: an external, untrusted,
// asynchronous agent that answers EIP-1193 requests and pushes account and
// chain notifications whenever it likes.
package provider

import (
	"context"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
)

// Wallet methods used by the connection layer.
const (
	MethodRequestAccounts = "eth_requestAccounts"
	MethodAccounts        = "eth_accounts"
	MethodChainID         = "eth_chainId"
	MethodSwitchChain     = "wallet_switchEthereumChain"
	MethodAddChain        = "wallet_addEthereumChain"
)

// Provider is the single asynchronous request primitive a wallet exposes.
// Implementations are not trusted to honor ctx; callers that need a bound
// must go through Gateway.
type Provider interface {
	Request(ctx context.Context, method string, params []interface{}) (json.RawMessage, error)
}

// EventSource delivers wallet notifications as typed events.
type EventSource interface {
	Events() <-chan Event
}

// EventKind identifies a wallet notification.
type EventKind int

const (
	// AccountsChanged carries the wallet's new account list (possibly empty).
	AccountsChanged EventKind = iota
	// ChainChanged carries the raw chain id reported by the wallet.
	ChainChanged
	// Disconnected means the wallet can no longer serve requests.
	Disconnected
)

// String returns the notification name as the wallet spells it.
func (k EventKind) String() string {
	switch k {
	case AccountsChanged:
		return "accountsChanged"
	case ChainChanged:
		return "chainChanged"
	case Disconnected:
		return "disconnect"
	default:
		return "unknown"
	}
}

// Event is one wallet notification.
type Event struct {
	Kind     EventKind
	Accounts []common.Address // AccountsChanged
	ChainID  string           // ChainChanged, unparsed
	Err      error            // Disconnected, may be nil
}
