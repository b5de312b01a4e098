package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/onchain-portfolio/walletlink/internal/config"
	"github.com/onchain-portfolio/walletlink/internal/wallet"
	"github.com/onchain-portfolio/walletlink/pkg/helpers"
)

// ========================================
// Network registry handlers
// ========================================

// NetworkInfo describes one registry entry.
type NetworkInfo struct {
	ChainID          uint64  `json:"chainId"`
	ChainIDHex       string  `json:"chainIdHex"`
	Name             string  `json:"name"`
	CurrencyName     string  `json:"currencyName"`
	CurrencySymbol   string  `json:"currencySymbol"`
	CurrencyDecimals uint8   `json:"currencyDecimals"`
	RPCURL           string  `json:"rpcUrl"`
	BlockExplorerURL string  `json:"blockExplorerUrl,omitempty"`
	ContractAddress  *string `json:"contractAddress"`
	HasContract      bool    `json:"hasContract"`
	Current          bool    `json:"current"`
}

func networkToInfo(p *config.NetworkProfile, current uint64) *NetworkInfo {
	info := &NetworkInfo{
		ChainID:          p.ChainID,
		ChainIDHex:       helpers.ChainIDHex(p.ChainID),
		Name:             p.Name,
		CurrencyName:     p.CurrencyName,
		CurrencySymbol:   p.CurrencySymbol,
		CurrencyDecimals: p.CurrencyDecimals,
		RPCURL:           p.RPCURL,
		BlockExplorerURL: p.BlockExplorerURL,
		HasContract:      p.HasContract(),
		Current:          p.ChainID == current,
	}
	if info.HasContract {
		addr := p.ContractAddress.Hex()
		info.ContractAddress = &addr
	}
	return info
}

func (s *Server) networksList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	current := s.machine.Snapshot().ChainID
	profiles := s.machine.Registry().All()

	out := make([]*NetworkInfo, 0, len(profiles))
	for i := range profiles {
		out = append(out, networkToInfo(&profiles[i], current))
	}
	return out, nil
}

func (s *Server) networksGet(ctx context.Context, params json.RawMessage) (interface{}, error) {
	chainID, err := parseChainParams(params)
	if err != nil {
		return nil, err
	}

	profile := s.machine.Registry().Lookup(chainID)
	if profile == nil {
		return nil, fmt.Errorf("%w: chain %d", wallet.ErrUnknownNetwork, chainID)
	}
	return networkToInfo(profile, s.machine.Snapshot().ChainID), nil
}
