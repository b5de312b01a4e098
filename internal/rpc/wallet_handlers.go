package rpc

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/onchain-portfolio/walletlink/internal/wallet"
	"github.com/onchain-portfolio/walletlink/pkg/helpers"
)

// ========================================
// Connection handlers
// ========================================

// StateResult is the response for the wallet_* methods.
type StateResult struct {
	State   wallet.Snapshot          `json:"state"`
	Pending *wallet.PendingOperation `json:"pending,omitempty"`
}

// ConnectParams is the request for wallet_connect.
type ConnectParams struct {
	// Auto restores an authorized session without prompting.
	Auto bool `json:"auto,omitempty"`
}

func (s *Server) walletConnect(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p ConnectParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	connect := s.machine.Connect
	if p.Auto {
		connect = s.machine.AutoConnect
	}

	snap, err := connect(ctx)
	if err != nil {
		return nil, &stateError{err: err, state: snap}
	}
	return &StateResult{State: snap}, nil
}

func (s *Server) walletDisconnect(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return &StateResult{State: s.machine.Disconnect()}, nil
}

func (s *Server) walletState(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return &StateResult{State: s.machine.Snapshot(), Pending: s.machine.Pending()}, nil
}

func (s *Server) walletResync(ctx context.Context, params json.RawMessage) (interface{}, error) {
	snap, err := s.machine.Resync(ctx)
	if err != nil {
		return nil, &stateError{err: err, state: snap}
	}
	return &StateResult{State: snap}, nil
}

// ChainParams identifies a network by chain id, given as a hex string,
// a decimal string or a JSON number.
type ChainParams struct {
	ChainID json.RawMessage `json:"chainId"`
}

func (p *ChainParams) parse() (uint64, error) {
	raw := strings.TrimSpace(string(p.ChainID))
	if raw == "" || raw == "null" {
		return 0, invalidParams("chainId is required")
	}

	var str string
	if err := json.Unmarshal(p.ChainID, &str); err == nil {
		id, err := helpers.ParseChainID(str)
		if err != nil {
			return 0, invalidParams("chainId: %v", err)
		}
		return id, nil
	}

	var num uint64
	if err := json.Unmarshal(p.ChainID, &num); err != nil || num == 0 {
		return 0, invalidParams("chainId must be a positive integer or hex string")
	}
	return num, nil
}

func parseChainParams(params json.RawMessage) (uint64, error) {
	var p ChainParams
	if len(params) == 0 {
		return 0, invalidParams("chainId is required")
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return 0, invalidParams("%v", err)
	}
	return p.parse()
}

// SwitchNetworkResult is the response for wallet_switchNetwork.
type SwitchNetworkResult struct {
	Requested  uint64 `json:"requested"`
	ChainIDHex string `json:"chainIdHex"`
	Network    string `json:"network"`
}

func (s *Server) walletSwitchNetwork(ctx context.Context, params json.RawMessage) (interface{}, error) {
	chainID, err := parseChainParams(params)
	if err != nil {
		return nil, err
	}

	if err := s.machine.AddOrSwitchNetwork(ctx, chainID); err != nil {
		return nil, err
	}

	result := &SwitchNetworkResult{
		Requested:  chainID,
		ChainIDHex: helpers.ChainIDHex(chainID),
		Network:    s.machine.Registry().Lookup(chainID).Name,
	}
	if s.wsHub != nil {
		s.wsHub.Broadcast(EventNetworkRequested, result)
	}
	return result, nil
}
