package wallet

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/onchain-portfolio/walletlink/internal/provider"
	"github.com/onchain-portfolio/walletlink/pkg/helpers"
)

// Run feeds wallet notifications into the machine until ctx is done.
func (m *Machine) Run(ctx context.Context, events <-chan provider.Event) error {
	m.log.Debug("Listening for wallet notifications")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				m.log.Warn("Wallet notification stream closed")
				events = nil
				continue
			}
			m.HandleEvent(ev)
		}
	}
}

// HandleEvent dispatches one wallet notification.
func (m *Machine) HandleEvent(ev provider.Event) {
	switch ev.Kind {
	case provider.AccountsChanged:
		m.HandleAccountsChanged(ev.Accounts)
	case provider.ChainChanged:
		m.HandleChainChanged(ev.ChainID)
	case provider.Disconnected:
		m.log.Info("Wallet reported disconnect", "error", ev.Err)
		m.Disconnect()
	}
}

// HandleAccountsChanged reacts to the wallet's account list. An empty list
// ends the session. A different first account while connected schedules a
// fresh connect; it runs in the background so it reads the state as it is
// then, not as it was when the notification arrived.
func (m *Machine) HandleAccountsChanged(accounts []common.Address) {
	if len(accounts) == 0 {
		m.log.Info("Wallet revoked account access")
		m.Disconnect()
		return
	}

	m.mu.Lock()
	status, current := m.state.Status, m.state.Account
	m.mu.Unlock()

	if status != StatusConnected || accounts[0] == current {
		return
	}

	m.log.Info("Wallet account changed, reconnecting",
		"from", helpers.ShortAddress(current),
		"to", helpers.ShortAddress(accounts[0]),
	)
	m.spawn(func(ctx context.Context) {
		if _, err := m.connect(ctx, TriggerEvent); err != nil && !errors.Is(err, ErrSuperseded) {
			m.log.Warn("Reconnect after account change failed", "kind", ErrorKind(err), "error", err)
		}
	})
}

// HandleChainChanged records a raw chainChanged notification. Bursts are
// coalesced: only the last value seen within the debounce window is
// reconciled.
func (m *Machine) HandleChainChanged(rawChainID string) {
	m.chains.Trigger(rawChainID)
}

// reconcileChain commits the new chain and network immediately, then, if
// connected, refreshes the account and contract in the background.
func (m *Machine) reconcileChain(raw string) {
	chainID, err := helpers.ParseChainID(raw)
	if err != nil {
		m.log.Warn("Ignoring malformed chainChanged", "chain_id", raw, "error", err)
		return
	}
	profile := m.registry.Lookup(chainID)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	next := m.state
	if next.ChainID != chainID {
		next.Contract = nil
	}
	next.ChainID = chainID
	next.Network = profile
	m.chainSeq++
	m.commitLocked(next, "chain changed")
	connected := next.Status == StatusConnected
	chainSeq, sessionSeq := m.chainSeq, m.sessionSeq
	m.mu.Unlock()
	m.flush()

	if profile == nil {
		m.log.Warn("Wallet switched to an unrecognized network", "chain_id", chainID)
	} else {
		m.log.Info("Wallet switched network", "chain_id", chainID, "network", profile.Name)
	}

	if connected {
		m.startRefresh(chainID, chainSeq, sessionSeq)
	}
}

// startRefresh re-resolves the account and contract for chainID. The result
// is committed only if no chainChanged was committed after this one and the
// session has not been reset or restarted meanwhile; otherwise a newer transition
// owns the state and the result is dropped. Failures are logged, never
// surfaced: they must not undo the chain commit that preceded them.
func (m *Machine) startRefresh(chainID, chainSeq, sessionSeq uint64) {
	m.spawn(func(ctx context.Context) {
		accounts, err := m.gateway.Accounts(ctx, m.cfg.ChainTimeout)
		if err != nil {
			m.log.Warn("Account refresh after chain change failed", "chain_id", chainID, "error", err)
			return
		}
		if len(accounts) == 0 {
			m.log.Warn("Wallet reported no accounts after chain change", "chain_id", chainID)
			return
		}

		profile := m.registry.Lookup(chainID)
		handle := m.binder.Bind(ctx, profile, accounts[0])

		m.mu.Lock()
		if m.chainSeq != chainSeq || m.sessionSeq != sessionSeq || m.state.Status != StatusConnected {
			m.mu.Unlock()
			m.log.Debug("Dropping stale account refresh", "chain_id", chainID)
			return
		}
		m.commitLocked(State{
			Status:   StatusConnected,
			Account:  accounts[0],
			ChainID:  chainID,
			Network:  m.state.Network,
			Contract: handle,
		}, "account refreshed")
		m.mu.Unlock()
		m.flush()
	})
}
