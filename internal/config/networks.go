package config

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// ErrDuplicateNetwork is returned when two profiles share a chain id.
var ErrDuplicateNetwork = errors.New("duplicate network profile")

// NetworkProfile is the static description of one chain the portfolio
// frontend knows about.
type NetworkProfile struct {
	ChainID          uint64         `json:"chainId"`
	Name             string         `json:"name"`
	CurrencyName     string         `json:"currencyName"`
	CurrencySymbol   string         `json:"currencySymbol"`
	CurrencyDecimals uint8          `json:"currencyDecimals"`
	RPCURL           string         `json:"rpcUrl"`
	ContractAddress  common.Address `json:"contractAddress"` // zero address = no contract
	BlockExplorerURL string         `json:"blockExplorerUrl"`
}

// HasContract returns true if the portfolio contract is deployed on this network.
func (p *NetworkProfile) HasContract() bool {
	return p != nil && p.ContractAddress != (common.Address{})
}

// Registry maps chain ids to network profiles. It is built once at startup
// and never modified afterwards, so it is safe to share between goroutines.
// Profiles returned by Lookup must not be modified by callers.
type Registry struct {
	profiles []NetworkProfile
	byID     map[uint64]*NetworkProfile
}

// NewRegistry builds a registry from the given profiles.
func NewRegistry(profiles ...NetworkProfile) (*Registry, error) {
	r := &Registry{
		profiles: make([]NetworkProfile, len(profiles)),
		byID:     make(map[uint64]*NetworkProfile, len(profiles)),
	}
	copy(r.profiles, profiles)
	sort.Slice(r.profiles, func(i, j int) bool { return r.profiles[i].ChainID < r.profiles[j].ChainID })

	for i := range r.profiles {
		p := &r.profiles[i]
		if p.ChainID == 0 {
			return nil, fmt.Errorf("network %q: chain id is required", p.Name)
		}
		if _, exists := r.byID[p.ChainID]; exists {
			return nil, fmt.Errorf("%w: chain %d", ErrDuplicateNetwork, p.ChainID)
		}
		r.byID[p.ChainID] = p
	}
	return r, nil
}

// DefaultRegistry returns a registry holding the built-in networks.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultNetworks()...)
	if err != nil {
		// The built-in table is static; a failure here is a programming error.
		panic(err)
	}
	return r
}

// Lookup returns the profile for chainID, or nil if the chain is not
// recognized. An unknown chain is a valid state, not an error.
func (r *Registry) Lookup(chainID uint64) *NetworkProfile {
	if r == nil {
		return nil
	}
	return r.byID[chainID]
}

// All returns a copy of every profile, ordered by chain id.
func (r *Registry) All() []NetworkProfile {
	out := make([]NetworkProfile, len(r.profiles))
	copy(out, r.profiles)
	return out
}

// Len returns the number of known networks.
func (r *Registry) Len() int {
	return len(r.profiles)
}

// DefaultNetworks returns the built-in network table. Contract addresses come
// from PortfolioContract.
func DefaultNetworks() []NetworkProfile {
	networks := []NetworkProfile{
		// ==========================================================================
		// Ethereum
		// ==========================================================================
		{
			ChainID:          1,
			Name:             "Ethereum Mainnet",
			CurrencyName:     "Ether",
			CurrencySymbol:   "ETH",
			CurrencyDecimals: 18,
			RPCURL:           "https://eth.llamarpc.com",
			BlockExplorerURL: "https://etherscan.io",
		},
		{
			ChainID:          11155111,
			Name:             "Sepolia Testnet",
			CurrencyName:     "Sepolia Ether",
			CurrencySymbol:   "ETH",
			CurrencyDecimals: 18,
			RPCURL:           "https://rpc.sepolia.org",
			BlockExplorerURL: "https://sepolia.etherscan.io",
		},

		// ==========================================================================
		// Polygon
		// ==========================================================================
		{
			ChainID:          137,
			Name:             "Polygon Mainnet",
			CurrencyName:     "MATIC",
			CurrencySymbol:   "MATIC",
			CurrencyDecimals: 18,
			RPCURL:           "https://polygon-rpc.com",
			BlockExplorerURL: "https://polygonscan.com",
		},
		{
			ChainID:          80001,
			Name:             "Mumbai Testnet",
			CurrencyName:     "MATIC",
			CurrencySymbol:   "MATIC",
			CurrencyDecimals: 18,
			RPCURL:           "https://rpc-mumbai.maticvigil.com",
			BlockExplorerURL: "https://mumbai.polygonscan.com",
		},

		// ==========================================================================
		// BNB Smart Chain
		// ==========================================================================
		{
			ChainID:          56,
			Name:             "BSC Mainnet",
			CurrencyName:     "BNB",
			CurrencySymbol:   "BNB",
			CurrencyDecimals: 18,
			RPCURL:           "https://bsc-dataseed.binance.org",
			BlockExplorerURL: "https://bscscan.com",
		},
		{
			ChainID:          97,
			Name:             "BSC Testnet",
			CurrencyName:     "BNB",
			CurrencySymbol:   "tBNB",
			CurrencyDecimals: 18,
			RPCURL:           "https://data-seed-prebsc-1-s1.binance.org:8545",
			BlockExplorerURL: "https://testnet.bscscan.com",
		},

		// ==========================================================================
		// Local development (hardhat / anvil)
		// ==========================================================================
		{
			ChainID:          31337,
			Name:             "Localhost",
			CurrencyName:     "Ether",
			CurrencySymbol:   "ETH",
			CurrencyDecimals: 18,
			RPCURL:           "http://127.0.0.1:8545",
			BlockExplorerURL: "",
		},
	}

	for i := range networks {
		networks[i].ContractAddress = PortfolioContract(networks[i].ChainID)
	}
	return networks
}
