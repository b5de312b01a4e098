package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/time/rate"

	"github.com/onchain-portfolio/walletlink/pkg/helpers"
	"github.com/onchain-portfolio/walletlink/pkg/logging"
)

// Gateway bounds every wallet request with a timeout and keeps the request
// rate below the wallet's own throttling. It never retries.
type Gateway struct {
	provider Provider
	limiter  *rate.Limiter
	log      *logging.Logger
}

// NewGateway wraps p. A nil p means no wallet is present. A non-positive
// limit disables client-side rate limiting.
func NewGateway(p Provider, limit float64, burst int, log *logging.Logger) *Gateway {
	if log == nil {
		log = logging.GetDefault().Component("gateway")
	}
	var limiter *rate.Limiter
	if limit > 0 {
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(limit), burst)
	}
	return &Gateway{provider: p, limiter: limiter, log: log}
}

// Present returns true if a wallet provider is available.
func (g *Gateway) Present() bool {
	return g != nil && g.provider != nil
}

// Provider returns the wrapped provider, or nil.
func (g *Gateway) Provider() Provider {
	if g == nil {
		return nil
	}
	return g.provider
}

// Call issues method and waits at most timeout for the answer. The wallet
// is raced against a timer, so a provider that ignores ctx cannot hold the
// caller past the deadline. If out is non-nil the result is decoded into it.
func (g *Gateway) Call(ctx context.Context, method string, params []interface{}, timeout time.Duration, out interface{}) error {
	if !g.Present() {
		return ErrNotFound
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if g.limiter != nil {
		if err := g.limiter.Wait(callCtx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %s throttled locally", ErrRateLimited, method)
		}
	}

	type result struct {
		raw json.RawMessage
		err error
	}
	done := make(chan result, 1)
	start := time.Now()
	go func() {
		raw, err := g.provider.Request(callCtx, method, params)
		done <- result{raw: raw, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		g.log.Debug("Wallet request timed out", "method", method, "timeout", timeout)
		return fmt.Errorf("%w: %s after %s", ErrTimeout, method, timeout)
	}

	if res.err != nil {
		// A provider that honored callCtx reports the expiry as its own error.
		if errors.Is(res.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w: %s after %s", ErrTimeout, method, timeout)
		}
		g.log.Debug("Wallet request failed", "method", method, "error", res.err, "elapsed", time.Since(start))
		return fmt.Errorf("%s: %w", method, res.err)
	}

	if out != nil {
		if err := json.Unmarshal(res.raw, out); err != nil {
			return fmt.Errorf("%s: failed to decode result: %w", method, err)
		}
	}
	return nil
}

// RequestAccounts asks the wallet for account access. This may prompt the user.
func (g *Gateway) RequestAccounts(ctx context.Context, timeout time.Duration) ([]common.Address, error) {
	return g.accounts(ctx, MethodRequestAccounts, timeout)
}

// Accounts returns the accounts already authorized, without prompting.
func (g *Gateway) Accounts(ctx context.Context, timeout time.Duration) ([]common.Address, error) {
	return g.accounts(ctx, MethodAccounts, timeout)
}

func (g *Gateway) accounts(ctx context.Context, method string, timeout time.Duration) ([]common.Address, error) {
	var raw []string
	if err := g.Call(ctx, method, nil, timeout, &raw); err != nil {
		return nil, err
	}
	accounts := make([]common.Address, 0, len(raw))
	for _, s := range raw {
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("%s: invalid account %q", method, s)
		}
		accounts = append(accounts, common.HexToAddress(s))
	}
	return accounts, nil
}

// ChainID returns the chain the wallet is currently pointed at.
func (g *Gateway) ChainID(ctx context.Context, timeout time.Duration) (uint64, error) {
	var raw string
	if err := g.Call(ctx, MethodChainID, nil, timeout, &raw); err != nil {
		return 0, err
	}
	id, err := helpers.ParseChainID(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", MethodChainID, err)
	}
	return id, nil
}

// SwitchChain asks the wallet to select chainID.
func (g *Gateway) SwitchChain(ctx context.Context, chainID uint64, timeout time.Duration) error {
	params := []interface{}{map[string]string{"chainId": helpers.ChainIDHex(chainID)}}
	return g.Call(ctx, MethodSwitchChain, params, timeout, nil)
}

// AddChainParams is the wallet_addEthereumChain payload.
type AddChainParams struct {
	ChainID           string         `json:"chainId"`
	ChainName         string         `json:"chainName"`
	NativeCurrency    NativeCurrency `json:"nativeCurrency"`
	RPCURLs           []string       `json:"rpcUrls"`
	BlockExplorerURLs []string       `json:"blockExplorerUrls,omitempty"`
}

// NativeCurrency describes a chain's gas token.
type NativeCurrency struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// AddChain asks the wallet to register a chain it does not know yet.
func (g *Gateway) AddChain(ctx context.Context, p AddChainParams, timeout time.Duration) error {
	return g.Call(ctx, MethodAddChain, []interface{}{p}, timeout, nil)
}
