// Package portfolio binds the on-chain Portfolio contract for a connected
// account and exposes its read-only views.
package portfolio

import (
	"context"
	_ "embed"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/patrickmn/go-cache"

	"github.com/onchain-portfolio/walletlink/internal/config"
	"github.com/onchain-portfolio/walletlink/pkg/helpers"
	"github.com/onchain-portfolio/walletlink/pkg/logging"
)

//go:embed portfolio.abi.json
var portfolioABI string

// MetaData holds the Portfolio contract interface.
var MetaData = &bind.MetaData{ABI: portfolioABI}

// Dialer opens a read backend for a network's RPC endpoint.
type Dialer func(ctx context.Context, rpcURL string) (bind.ContractCaller, error)

// DialEthclient is the default Dialer. Plain HTTP endpoints are dialed
// lazily by ethclient, so this does not touch the network.
func DialEthclient(ctx context.Context, rpcURL string) (bind.ContractCaller, error) {
	return ethclient.DialContext(ctx, rpcURL)
}

// Binder turns (network, signer) into contract handles. Handles and
// backends are cached, so binding the same triple twice yields the same
// *Handle.
type Binder struct {
	dial Dialer
	log  *logging.Logger

	handles *cache.Cache

	mu       sync.Mutex
	abi      *abi.ABI
	backends map[string]bind.ContractCaller
}

// NewBinder creates a binder. A nil dial uses DialEthclient.
func NewBinder(dial Dialer, log *logging.Logger) *Binder {
	if dial == nil {
		dial = DialEthclient
	}
	if log == nil {
		log = logging.GetDefault().Component("portfolio")
	}
	return &Binder{
		dial:     dial,
		log:      log,
		handles:  cache.New(30*time.Minute, 10*time.Minute),
		backends: make(map[string]bind.ContractCaller),
	}
}

// Bind returns a handle for the network's Portfolio contract acting as
// signer, or nil when the network has no contract or binding fails. A
// binding failure never fails the caller's connection.
func (b *Binder) Bind(ctx context.Context, profile *config.NetworkProfile, signer common.Address) *Handle {
	if !profile.HasContract() {
		return nil
	}
	if helpers.IsZeroAddress(signer) {
		b.log.Warn("Not binding contract without a signer", "chain_id", profile.ChainID)
		return nil
	}

	key := fmt.Sprintf("%d:%s:%s", profile.ChainID, profile.ContractAddress.Hex(), signer.Hex())
	if h, ok := b.handles.Get(key); ok {
		return h.(*Handle)
	}

	h, err := b.bind(ctx, profile, signer)
	if err != nil {
		b.log.Warn("Contract binding failed, continuing without contract",
			"chain_id", profile.ChainID,
			"contract", profile.ContractAddress.Hex(),
			"error", err,
		)
		return nil
	}

	b.handles.Set(key, h, cache.DefaultExpiration)
	b.log.Debug("Bound portfolio contract",
		"chain_id", profile.ChainID,
		"contract", helpers.ShortAddress(profile.ContractAddress),
		"signer", helpers.ShortAddress(signer),
	)
	return h
}

func (b *Binder) bind(ctx context.Context, profile *config.NetworkProfile, signer common.Address) (*Handle, error) {
	parsed, err := b.parsedABI()
	if err != nil {
		return nil, err
	}
	backend, err := b.backend(ctx, profile.RPCURL)
	if err != nil {
		return nil, err
	}

	return &Handle{
		chainID:  profile.ChainID,
		address:  profile.ContractAddress,
		signer:   signer,
		contract: bind.NewBoundContract(profile.ContractAddress, *parsed, backend, nil, nil),
	}, nil
}

func (b *Binder) parsedABI() (*abi.ABI, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.abi != nil {
		return b.abi, nil
	}
	parsed, err := MetaData.GetAbi()
	if err != nil {
		return nil, fmt.Errorf("failed to parse portfolio ABI: %w", err)
	}
	b.abi = parsed
	return parsed, nil
}

func (b *Binder) backend(ctx context.Context, rpcURL string) (bind.ContractCaller, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("network has no RPC endpoint")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.backends[rpcURL]; ok {
		return c, nil
	}
	c, err := b.dial(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}
	b.backends[rpcURL] = c
	return c, nil
}

// Close releases dialed backends that hold connections.
func (b *Binder) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for url, c := range b.backends {
		if closer, ok := c.(interface{ Close() }); ok {
			closer.Close()
		}
		delete(b.backends, url)
	}
	b.handles.Flush()
}
