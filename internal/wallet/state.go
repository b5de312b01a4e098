package wallet

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/onchain-portfolio/walletlink/internal/config"
	"github.com/onchain-portfolio/walletlink/internal/contracts/portfolio"
	"github.com/onchain-portfolio/walletlink/internal/provider"
	"github.com/onchain-portfolio/walletlink/pkg/helpers"
)

// Status is the connection status.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// State is the canonical connection state. The zero value is the initial
// disconnected shape: no account, no chain, no network, no contract.
//
// A zero Account or ChainID means "none". Network is nil for an
// unrecognized chain. Network and Contract point at immutable values, so a
// State can be copied and compared freely.
type State struct {
	Status   Status
	Account  common.Address
	ChainID  uint64
	Network  *config.NetworkProfile
	Contract *portfolio.Handle
}

// normalize enforces the state invariants:
// an account exists only while connected, and a contract handle exists only
// for a known network that has a contract on the committed chain.
func (s State) normalize() State {
	if s.Status != StatusConnected {
		s.Account = common.Address{}
	}
	if s.Network != nil && s.Network.ChainID != s.ChainID {
		s.Network = nil
	}
	if s.Contract != nil {
		if !s.Network.HasContract() || s.Contract.ChainID() != s.ChainID || s.Contract.Address() != s.Network.ContractAddress {
			s.Contract = nil
		}
	}
	if s.Status == StatusDisconnected {
		s.Contract = nil
	}
	return s
}

// Snapshot is the immutable view emitted after every settled transition.
// Snapshots are comparable with ==; two snapshots of an unchanged session
// are identical.
type Snapshot struct {
	State

	Provider         provider.Provider
	IsConnected      bool
	IsCorrectNetwork bool // chain recognized by the registry
	HasContract      bool // portfolio contract bound for this chain
}

func newSnapshot(s State, p provider.Provider) Snapshot {
	return Snapshot{
		State:            s,
		Provider:         p,
		IsConnected:      s.Status == StatusConnected,
		IsCorrectNetwork: s.Network != nil,
		HasContract:      s.Contract != nil,
	}
}

// MarshalJSON renders "none" values as null for API clients.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	type network struct {
		ChainID  uint64 `json:"chainId"`
		Name     string `json:"name"`
		Symbol   string `json:"currencySymbol"`
		Explorer string `json:"blockExplorerUrl,omitempty"`
	}
	out := struct {
		Status           Status            `json:"status"`
		Account          *string           `json:"account"`
		ChainID          *uint64           `json:"chainId"`
		ChainIDHex       *string           `json:"chainIdHex"`
		Network          *network          `json:"network"`
		Contract         *portfolio.Handle `json:"contract"`
		ProviderPresent  bool              `json:"providerPresent"`
		IsConnected      bool              `json:"isConnected"`
		IsCorrectNetwork bool              `json:"isCorrectNetwork"`
		HasContract      bool              `json:"hasContract"`
	}{
		Status:           s.Status,
		Contract:         s.Contract,
		ProviderPresent:  s.Provider != nil,
		IsConnected:      s.IsConnected,
		IsCorrectNetwork: s.IsCorrectNetwork,
		HasContract:      s.HasContract,
	}
	if !helpers.IsZeroAddress(s.Account) {
		acct := s.Account.Hex()
		out.Account = &acct
	}
	if s.ChainID != 0 {
		id, hex := s.ChainID, helpers.ChainIDHex(s.ChainID)
		out.ChainID, out.ChainIDHex = &id, &hex
	}
	if s.Network != nil {
		out.Network = &network{
			ChainID:  s.Network.ChainID,
			Name:     s.Network.Name,
			Symbol:   s.Network.CurrencySymbol,
			Explorer: s.Network.BlockExplorerURL,
		}
	}
	return json.Marshal(out)
}

// Trigger says who asked for a connection attempt.
type Trigger int

const (
	// TriggerUser is an explicit connect request; subject to the cooldown.
	TriggerUser Trigger = iota
	// TriggerAuto is a silent session restore; subject to the cooldown.
	TriggerAuto
	// TriggerEvent is a reconnect driven by a wallet notification.
	TriggerEvent
)

func (t Trigger) String() string {
	switch t {
	case TriggerUser:
		return "user"
	case TriggerAuto:
		return "auto"
	case TriggerEvent:
		return "event"
	default:
		return "unknown"
	}
}

// PendingOperation describes the connection attempt in flight.
type PendingOperation struct {
	ID              uuid.UUID `json:"id"`
	Trigger         string    `json:"trigger"`
	Attempt         int       `json:"attempt"`
	StartedAt       time.Time `json:"startedAt"`
	CapturedChainID uint64    `json:"capturedChainId"`

	chainSeq uint64
}
