// Package providertest provides an in-memory wallet for tests.
package providertest

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/onchain-portfolio/walletlink/internal/provider"
	"github.com/onchain-portfolio/walletlink/pkg/helpers"
)

// Handler answers one wallet method. Returning a nil result encodes as null.
type Handler func(ctx context.Context, params []interface{}) (interface{}, error)

// Call records one request made to the fake.
type Call struct {
	Method string
	Params []interface{}
	At     time.Time
}

// Wallet is a scriptable in-memory provider. By default it authorizes its
// accounts, reports its chain, switches to chains it knows and learns chains
// it is asked to add. Any method can be overridden with Handle.
type Wallet struct {
	mu       sync.Mutex
	accounts []common.Address
	chainID  uint64
	known    map[uint64]bool
	handlers map[string]Handler
	calls    []Call
	events   chan provider.Event
}

// NewWallet returns a fake wallet pointed at chainID with the given accounts.
func NewWallet(chainID uint64, accounts ...common.Address) *Wallet {
	w := &Wallet{
		accounts: accounts,
		chainID:  chainID,
		known:    map[uint64]bool{chainID: true},
		handlers: make(map[string]Handler),
		events:   make(chan provider.Event, 64),
	}
	return w
}

// Request implements provider.Provider.
func (w *Wallet) Request(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	w.mu.Lock()
	w.calls = append(w.calls, Call{Method: method, Params: params, At: time.Now()})
	h, ok := w.handlers[method]
	w.mu.Unlock()

	if !ok {
		h = w.defaultHandler(method)
	}
	if h == nil {
		return nil, &provider.RPCError{Code: provider.CodeMethodNotFound, Message: "method not found: " + method}
	}

	result, err := h(ctx, params)
	if err != nil {
		return nil, err
	}
	return json.Marshal(result)
}

func (w *Wallet) defaultHandler(method string) Handler {
	switch method {
	case provider.MethodRequestAccounts, provider.MethodAccounts:
		return func(context.Context, []interface{}) (interface{}, error) {
			w.mu.Lock()
			defer w.mu.Unlock()
			out := make([]string, len(w.accounts))
			for i, a := range w.accounts {
				out[i] = a.Hex()
			}
			return out, nil
		}
	case provider.MethodChainID:
		return func(context.Context, []interface{}) (interface{}, error) {
			w.mu.Lock()
			defer w.mu.Unlock()
			return helpers.ChainIDHex(w.chainID), nil
		}
	case provider.MethodSwitchChain:
		return func(_ context.Context, params []interface{}) (interface{}, error) {
			id, err := chainParam(params)
			if err != nil {
				return nil, err
			}
			w.mu.Lock()
			defer w.mu.Unlock()
			if !w.known[id] {
				return nil, &provider.RPCError{Code: provider.CodeUnrecognizedChain, Message: "Unrecognized chain ID"}
			}
			w.chainID = id
			return nil, nil
		}
	case provider.MethodAddChain:
		return func(_ context.Context, params []interface{}) (interface{}, error) {
			id, err := chainParam(params)
			if err != nil {
				return nil, err
			}
			w.mu.Lock()
			defer w.mu.Unlock()
			w.known[id] = true
			return nil, nil
		}
	}
	return nil
}

// chainParam extracts the chainId field from a switch or add payload.
func chainParam(params []interface{}) (uint64, error) {
	bad := &provider.RPCError{Code: -32602, Message: "invalid params"}
	if len(params) != 1 {
		return 0, bad
	}
	raw, err := json.Marshal(params[0])
	if err != nil {
		return 0, bad
	}
	var p struct {
		ChainID string `json:"chainId"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return 0, bad
	}
	id, err := helpers.ParseChainID(p.ChainID)
	if err != nil {
		return 0, bad
	}
	return id, nil
}

// Events implements provider.EventSource.
func (w *Wallet) Events() <-chan provider.Event {
	return w.events
}

// Handle overrides the answer for method.
func (w *Wallet) Handle(method string, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[method] = h
}

// SetAccounts changes what the wallet reports without notifying.
func (w *Wallet) SetAccounts(accounts ...common.Address) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.accounts = accounts
}

// SetChain changes the selected chain without notifying.
func (w *Wallet) SetChain(chainID uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.chainID = chainID
	w.known[chainID] = true
}

// Know adds chains the wallet can switch to without adding them first.
func (w *Wallet) Know(chainIDs ...uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, id := range chainIDs {
		w.known[id] = true
	}
}

// Forget makes the wallet answer 4902 when asked to switch to chainID.
func (w *Wallet) Forget(chainID uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.known, chainID)
}

// ChainID returns the selected chain.
func (w *Wallet) ChainID() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.chainID
}

// Emit pushes a notification to the event channel.
func (w *Wallet) Emit(ev provider.Event) {
	w.events <- ev
}

// Calls returns the requests made for method, or all requests if method is empty.
func (w *Wallet) Calls(method string) []Call {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []Call
	for _, c := range w.calls {
		if method == "" || c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// CallCount returns how many times method was requested.
func (w *Wallet) CallCount(method string) int {
	return len(w.Calls(method))
}

// Fail returns a handler that always fails with err.
func Fail(err error) Handler {
	return func(context.Context, []interface{}) (interface{}, error) {
		return nil, err
	}
}

// Block returns a handler that waits until release is closed or ctx ends,
// then answers result.
func Block(release <-chan struct{}, result interface{}) Handler {
	return func(ctx context.Context, _ []interface{}) (interface{}, error) {
		select {
		case <-release:
			return result, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Sequence returns a handler that answers with each handler in turn and
// repeats the last one once the list is exhausted.
func Sequence(handlers ...Handler) Handler {
	var mu sync.Mutex
	n := 0
	return func(ctx context.Context, params []interface{}) (interface{}, error) {
		mu.Lock()
		h := handlers[n]
		if n < len(handlers)-1 {
			n++
		}
		mu.Unlock()
		return h(ctx, params)
	}
}
