package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/onchain-portfolio/walletlink/internal/config"
	"github.com/onchain-portfolio/walletlink/internal/provider"
	"github.com/onchain-portfolio/walletlink/pkg/helpers"
)

// AddOrSwitchNetwork asks the wallet to select chainID. If the wallet does
// not know the chain, it is asked to add it from the registry profile and
// the choice of switching is left to the wallet and the user. The machine's
// state is not touched here; the wallet's chainChanged notification drives
// that.
func (m *Machine) AddOrSwitchNetwork(ctx context.Context, chainID uint64) error {
	profile := m.registry.Lookup(chainID)
	if profile == nil {
		return fmt.Errorf("%w: chain %d", ErrUnknownNetwork, chainID)
	}
	if !m.gateway.Present() {
		return ErrProviderNotFound
	}

	err := m.gateway.SwitchChain(ctx, chainID, m.cfg.ChainTimeout)
	if err == nil {
		m.log.Info("Requested network switch", "chain_id", chainID, "network", profile.Name)
		return nil
	}
	if !errors.Is(err, provider.ErrUnrecognizedChain) {
		return fmt.Errorf("switch network: %w", err)
	}

	m.log.Info("Wallet does not know network, asking to add it", "chain_id", chainID, "network", profile.Name)
	// Adding a chain shows a prompt, so it gets the longer timeout.
	if err := m.gateway.AddChain(ctx, addChainParams(profile), m.cfg.AccountsTimeout); err != nil {
		return fmt.Errorf("add network: %w", err)
	}
	return nil
}

func addChainParams(p *config.NetworkProfile) provider.AddChainParams {
	params := provider.AddChainParams{
		ChainID:   helpers.ChainIDHex(p.ChainID),
		ChainName: p.Name,
		NativeCurrency: provider.NativeCurrency{
			Name:     p.CurrencyName,
			Symbol:   p.CurrencySymbol,
			Decimals: p.CurrencyDecimals,
		},
		RPCURLs: []string{p.RPCURL},
	}
	if p.BlockExplorerURL != "" {
		params.BlockExplorerURLs = []string{p.BlockExplorerURL}
	}
	return params
}
