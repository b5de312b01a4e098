// Package wallet owns the connection to the user's wallet: one canonical
// state (disconnected, connecting, connected) reconciled against an
// untrusted provider whose notifications arrive in any order.
//
// All state changes go through Machine. Slow work (provider calls, contract
// binding) runs without the lock; results are committed only if the world
// they were computed for is still current. Stale results are dropped, never
// merged, so observers never see one chain's contract next to another
// chain's id.
package wallet

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/onchain-portfolio/walletlink/internal/config"
	"github.com/onchain-portfolio/walletlink/internal/contracts/portfolio"
	"github.com/onchain-portfolio/walletlink/internal/debounce"
	"github.com/onchain-portfolio/walletlink/internal/provider"
	"github.com/onchain-portfolio/walletlink/internal/retry"
	"github.com/onchain-portfolio/walletlink/pkg/logging"
)

// ContractBinder produces a bound contract handle for a network and signer,
// or nil when none is available.
type ContractBinder interface {
	Bind(ctx context.Context, profile *config.NetworkProfile, signer common.Address) *portfolio.Handle
}

// Config tunes the machine's timers.
type Config struct {
	AccountsTimeout time.Duration // eth_requestAccounts
	ChainTimeout    time.Duration // eth_chainId, eth_accounts, network switches
	Cooldown        time.Duration // spacing between user or auto connects
	Debounce        time.Duration // chainChanged quiet window
	Retry           retry.Policy
}

// DefaultConfig returns the standard timings.
func DefaultConfig() Config {
	return Config{
		AccountsTimeout: 10 * time.Second,
		ChainTimeout:    5 * time.Second,
		Cooldown:        3 * time.Second,
		Debounce:        300 * time.Millisecond,
		Retry:           retry.DefaultPolicy(),
	}
}

// ConnectBudget is the longest a connect can run before it settles: every
// attempt timing out on both reads, plus every backoff between attempts.
func (c Config) ConnectBudget() time.Duration {
	attempts := c.Retry.Attempts
	if attempts < 1 {
		attempts = 1
	}
	d := time.Duration(attempts) * (c.AccountsTimeout + c.ChainTimeout)
	for n := uint(0); n+1 < attempts; n++ {
		d += c.Retry.Backoff(n)
	}
	return d
}

// ConfigFrom builds a Config from the daemon configuration.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		AccountsTimeout: cfg.Provider.AccountsTimeout,
		ChainTimeout:    cfg.Provider.ChainTimeout,
		Cooldown:        cfg.Connection.Cooldown,
		Debounce:        cfg.Connection.Debounce,
		Retry: retry.Policy{
			Attempts:  cfg.Connection.RetryAttempts,
			BaseDelay: cfg.Connection.RetryBaseDelay,
			MaxDelay:  cfg.Connection.RetryMaxDelay,
		},
	}
}

// Options holds the machine's collaborators.
type Options struct {
	Registry *config.Registry
	Gateway  *provider.Gateway
	Binder   ContractBinder
	Sink     Sink
	Config   Config
	Logger   *logging.Logger
}

// Machine is the connection state machine.
type Machine struct {
	cfg      Config
	registry *config.Registry
	gateway  *provider.Gateway
	binder   ContractBinder
	sched    *retry.Scheduler
	sink     Sink
	log      *logging.Logger
	chains   *debounce.Debouncer[string]

	// Background tasks (chain refreshes, deferred reconnects) run under ctx.
	ctx    context.Context
	cancel context.CancelFunc
	tasks  sync.WaitGroup

	mu          sync.Mutex
	state       State
	pending     *PendingOperation
	lastAttempt time.Time
	chainSeq    uint64 // bumped by every chainChanged commit
	sessionSeq  uint64 // bumped when a session is reset or restarted
	closed      bool

	emitMu   sync.Mutex
	queue    []Snapshot
	draining bool
}

// New creates a machine in the initial disconnected state.
func New(opts Options) *Machine {
	if opts.Registry == nil {
		opts.Registry = config.DefaultRegistry()
	}
	if opts.Gateway == nil {
		opts.Gateway = provider.NewGateway(nil, 0, 0, nil)
	}
	if opts.Binder == nil {
		opts.Binder = portfolio.NewBinder(nil, nil)
	}
	if opts.Sink == nil {
		opts.Sink = MultiSink()
	}
	if opts.Config == (Config{}) {
		opts.Config = DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = logging.GetDefault().Component("wallet")
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Machine{
		cfg:      opts.Config,
		registry: opts.Registry,
		gateway:  opts.Gateway,
		binder:   opts.Binder,
		sched:    retry.New(opts.Config.Retry, opts.Logger.Component("retry")),
		sink:     opts.Sink,
		log:      opts.Logger,
		ctx:      ctx,
		cancel:   cancel,
	}
	m.chains = debounce.New(opts.Config.Debounce, m.reconcileChain)
	return m
}

// Snapshot returns the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return newSnapshot(m.state, m.gateway.Provider())
}

// Pending returns a copy of the connection attempt in flight, or nil.
func (m *Machine) Pending() *PendingOperation {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return nil
	}
	op := *m.pending
	return &op
}

// Config returns the timings the machine runs with.
func (m *Machine) Config() Config {
	return m.cfg
}

// Registry returns the network registry the machine resolves chains against.
func (m *Machine) Registry() *config.Registry {
	return m.registry
}

// Disconnect clears the local session. It cannot revoke the wallet's
// authorization; it only forgets it. Safe to call at any time.
func (m *Machine) Disconnect() Snapshot {
	m.mu.Lock()
	m.pending = nil
	m.sessionSeq++
	snap := m.commitLocked(State{}, "disconnect")
	m.mu.Unlock()

	m.flush()
	return snap
}

// Close stops background work. Pending debounced notifications are dropped.
func (m *Machine) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.chains.Stop()
	m.cancel()
	m.tasks.Wait()
}

// commitLocked installs next as the canonical state and queues it for
// emission. The caller holds m.mu and must call flush after unlocking.
func (m *Machine) commitLocked(next State, reason string) Snapshot {
	next = next.normalize()
	prev := m.state
	m.state = next

	snap := newSnapshot(next, m.gateway.Provider())
	m.emitMu.Lock()
	m.queue = append(m.queue, snap)
	m.emitMu.Unlock()

	if prev != next {
		m.log.Debug("State committed",
			"reason", reason,
			"status", next.Status,
			"account", next.Account.Hex(),
			"chain_id", next.ChainID,
			"known_network", next.Network != nil,
			"contract", next.Contract != nil,
		)
	}
	return snap
}

// flush delivers queued snapshots in commit order. Only one goroutine
// drains at a time; others leave their snapshots to it.
func (m *Machine) flush() {
	m.emitMu.Lock()
	if m.draining {
		m.emitMu.Unlock()
		return
	}
	m.draining = true
	for len(m.queue) > 0 {
		snap := m.queue[0]
		m.queue = m.queue[1:]
		m.emitMu.Unlock()
		m.sink.Emit(snap)
		m.emitMu.Lock()
	}
	m.draining = false
	m.emitMu.Unlock()
}

// spawn runs fn in the background unless the machine is closed.
func (m *Machine) spawn(fn func(ctx context.Context)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.tasks.Add(1)
	go func() {
		defer m.tasks.Done()
		fn(m.ctx)
	}()
	return true
}
