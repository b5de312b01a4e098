package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/onchain-portfolio/walletlink/pkg/helpers"
)

// portfolioContracts maps chainID -> deployed Portfolio contract.
// Chains listed with the zero address are recognized but have no deployment.
var portfolioContracts = map[uint64]common.Address{
	// ==========================================================================
	// Testnets
	// ==========================================================================

	// Ethereum Sepolia (chainID 11155111)
	11155111: common.HexToAddress("0x2d2dCd6f411c5b9e048aa8D1a0144d084010db11"),

	// Polygon Mumbai (chainID 80001)
	80001: common.HexToAddress("0x00e8B97dc085F826DE00509c3B98D4c03241C55b"),

	// BSC Testnet (chainID 97)
	97: {},

	// Hardhat / anvil (chainID 31337), first deployment from the default account
	31337: common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),

	// ==========================================================================
	// Mainnets
	// ==========================================================================

	1:   {},
	56:  {},
	137: {},
}

// PortfolioContract returns the Portfolio contract address for a chain.
// Returns the zero address if the chain is unknown or nothing is deployed.
func PortfolioContract(chainID uint64) common.Address {
	return portfolioContracts[chainID]
}

// Deployment is the record written by the contract deploy script to
// deployments/<network>-<chainId>.json.
type Deployment struct {
	Network         string `json:"network"`
	ChainID         string `json:"chainId"`
	ContractAddress string `json:"contractAddress"`
	DeployerAddress string `json:"deployerAddress,omitempty"`
	DeploymentTime  string `json:"deploymentTime,omitempty"`
	TransactionHash string `json:"transactionHash,omitempty"`
}

// LoadDeployments reads every *.json deployment record in dir.
// A missing directory is not an error; there is simply nothing to load.
func LoadDeployments(dir string) ([]Deployment, error) {
	if dir == "" {
		return nil, nil
	}
	dir = expandPath(dir)

	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	sort.Strings(files)

	var deployments []Deployment
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read deployment %s: %w", filepath.Base(path), err)
		}
		var d Deployment
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, fmt.Errorf("failed to parse deployment %s: %w", filepath.Base(path), err)
		}
		deployments = append(deployments, d)
	}
	return deployments, nil
}

// NetworkOverride replaces parts of a built-in profile from the config file.
type NetworkOverride struct {
	RPCURL          string `yaml:"rpc_url,omitempty"`
	ContractAddress string `yaml:"contract_address,omitempty"`
}

// ApplyOverrides returns a copy of profiles with deployment records applied
// first and config overrides on top. Overrides for chains not in profiles
// are ignored: the registry only describes networks it has full metadata for.
func ApplyOverrides(profiles []NetworkProfile, overrides map[uint64]NetworkOverride, deployments []Deployment) ([]NetworkProfile, error) {
	out := make([]NetworkProfile, len(profiles))
	copy(out, profiles)

	index := make(map[uint64]int, len(out))
	for i := range out {
		index[out[i].ChainID] = i
	}

	for _, d := range deployments {
		chainID, err := helpers.ParseChainID(d.ChainID)
		if err != nil {
			return nil, fmt.Errorf("deployment %q: %w", d.Network, err)
		}
		i, ok := index[chainID]
		if !ok {
			continue
		}
		addr, err := parseContractAddress(d.ContractAddress)
		if err != nil {
			return nil, fmt.Errorf("deployment %q: %w", d.Network, err)
		}
		out[i].ContractAddress = addr
	}

	for chainID, o := range overrides {
		i, ok := index[chainID]
		if !ok {
			continue
		}
		if o.RPCURL != "" {
			out[i].RPCURL = strings.TrimSpace(o.RPCURL)
		}
		if o.ContractAddress != "" {
			addr, err := parseContractAddress(o.ContractAddress)
			if err != nil {
				return nil, fmt.Errorf("network %d: %w", chainID, err)
			}
			out[i].ContractAddress = addr
		}
	}

	return out, nil
}

func parseContractAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid contract address %q", s)
	}
	return common.HexToAddress(s), nil
}
