package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/onchain-portfolio/walletlink/internal/contracts/portfolio"
	"github.com/onchain-portfolio/walletlink/internal/provider"
	"github.com/onchain-portfolio/walletlink/pkg/helpers"
)

// Connect asks the wallet for account access and binds the session to the
// wallet's current chain. Calls within the cooldown of the previous user or
// auto attempt are rejected with ErrCooldown before anything is sent.
//
// Connect always settles: on return the machine is connected, or it has
// been reset to disconnected and the error says why.
func (m *Machine) Connect(ctx context.Context) (Snapshot, error) {
	return m.connect(ctx, TriggerUser)
}

// AutoConnect restores a previously authorized session without prompting
// the user. It is cooldown-limited like Connect.
func (m *Machine) AutoConnect(ctx context.Context) (Snapshot, error) {
	return m.connect(ctx, TriggerAuto)
}

type session struct {
	account common.Address
	chainID uint64
}

func (m *Machine) connect(ctx context.Context, trigger Trigger) (Snapshot, error) {
	now := time.Now()

	m.mu.Lock()
	if m.closed {
		snap := newSnapshot(m.state, m.gateway.Provider())
		m.mu.Unlock()
		return snap, ErrClosed
	}
	// Without a wallet there is no attempt, so the cooldown is not stamped.
	if !m.gateway.Present() {
		snap := newSnapshot(m.state, nil)
		m.mu.Unlock()
		return snap, ErrProviderNotFound
	}
	if trigger != TriggerEvent {
		if !m.lastAttempt.IsZero() && now.Sub(m.lastAttempt) < m.cfg.Cooldown {
			snap := newSnapshot(m.state, m.gateway.Provider())
			wait := m.cfg.Cooldown - now.Sub(m.lastAttempt)
			m.mu.Unlock()
			m.log.Debug("Connect rejected by cooldown", "trigger", trigger, "retry_in", wait)
			return snap, fmt.Errorf("%w (retry in %s)", ErrCooldown, wait.Round(time.Millisecond))
		}
		m.lastAttempt = now
	}

	op := &PendingOperation{
		ID:              uuid.New(),
		Trigger:         trigger.String(),
		StartedAt:       now,
		CapturedChainID: m.state.ChainID,
		chainSeq:        m.chainSeq,
	}
	m.pending = op
	m.sessionSeq++
	m.commitLocked(State{
		Status:  StatusConnecting,
		ChainID: m.state.ChainID,
		Network: m.state.Network,
	}, "connect started")
	m.mu.Unlock()
	m.flush()

	m.log.Debug("Connecting", "op", op.ID, "trigger", trigger)

	requestAccounts := m.gateway.RequestAccounts
	if trigger == TriggerAuto {
		requestAccounts = m.gateway.Accounts
	}

	var sess session
	err := m.sched.Do(ctx, func(ctx context.Context) error {
		m.mu.Lock()
		op.Attempt++
		m.mu.Unlock()

		accounts, err := requestAccounts(ctx, m.cfg.AccountsTimeout)
		if err != nil {
			return err
		}
		if len(accounts) == 0 {
			return ErrAccountUnavailable
		}
		chainID, err := m.gateway.ChainID(ctx, m.cfg.ChainTimeout)
		if err != nil {
			return err
		}
		sess = session{account: accounts[0], chainID: chainID}
		return nil
	}, provider.IsTransient)

	if err != nil {
		return m.failConnect(op, err)
	}

	profile := m.registry.Lookup(sess.chainID)
	handle := m.binder.Bind(ctx, profile, sess.account)

	m.mu.Lock()
	if m.pending != op {
		snap := newSnapshot(m.state, m.gateway.Provider())
		m.mu.Unlock()
		m.log.Debug("Discarding superseded connect", "op", op.ID)
		return snap, ErrSuperseded
	}
	m.pending = nil

	var snap Snapshot
	refresh := false
	if m.chainSeq != op.chainSeq {
		// A chainChanged was committed while we waited; it is newer than
		// our eth_chainId read. Keep its chain and rebind for it.
		snap = m.commitLocked(State{
			Status:  StatusConnected,
			Account: sess.account,
			ChainID: m.state.ChainID,
			Network: m.state.Network,
		}, "connected, chain moved")
		refresh = m.state.Network.HasContract()
	} else {
		snap = m.commitLocked(State{
			Status:   StatusConnected,
			Account:  sess.account,
			ChainID:  sess.chainID,
			Network:  profile,
			Contract: handle,
		}, "connected")
	}
	chainID, chainSeq, sessionSeq := m.state.ChainID, m.chainSeq, m.sessionSeq
	m.mu.Unlock()
	m.flush()

	if refresh {
		m.startRefresh(chainID, chainSeq, sessionSeq)
	}

	m.log.Info("Wallet connected",
		"account", helpers.ShortAddress(snap.Account),
		"chain_id", snap.ChainID,
		"network", networkName(snap),
		"contract", snap.HasContract,
		"attempts", op.Attempt,
	)
	return snap, nil
}

func (m *Machine) failConnect(op *PendingOperation, err error) (Snapshot, error) {
	m.mu.Lock()
	if m.pending != op {
		snap := newSnapshot(m.state, m.gateway.Provider())
		m.mu.Unlock()
		return snap, ErrSuperseded
	}
	m.pending = nil
	m.sessionSeq++
	snap := m.commitLocked(State{}, "connect failed")
	m.mu.Unlock()
	m.flush()

	if errors.Is(err, ErrUserRejected) {
		m.log.Info("User rejected the connection request")
	} else {
		m.log.Warn("Connect failed", "op", op.ID, "attempts", op.Attempt, "kind", ErrorKind(err), "error", err)
	}
	return snap, fmt.Errorf("connect: %w", err)
}

// Resync re-reads the wallet's accounts and chain without prompting and
// commits the result in place. It is not cooldown-limited. With nothing
// changed in the wallet, two Resyncs emit identical snapshots.
func (m *Machine) Resync(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	if m.closed {
		snap := newSnapshot(m.state, m.gateway.Provider())
		m.mu.Unlock()
		return snap, ErrClosed
	}
	if !m.gateway.Present() {
		snap := newSnapshot(m.state, nil)
		m.mu.Unlock()
		return snap, ErrProviderNotFound
	}
	seq, chainSeq := m.sessionSeq, m.chainSeq
	m.mu.Unlock()

	var accounts []common.Address
	var chainID uint64
	err := m.sched.Do(ctx, func(ctx context.Context) error {
		var err error
		if accounts, err = m.gateway.Accounts(ctx, m.cfg.ChainTimeout); err != nil {
			return err
		}
		chainID, err = m.gateway.ChainID(ctx, m.cfg.ChainTimeout)
		return err
	}, provider.IsTransient)
	if err != nil {
		m.log.Warn("Resync failed", "kind", ErrorKind(err), "error", err)
		return m.Snapshot(), fmt.Errorf("resync: %w", err)
	}

	profile := m.registry.Lookup(chainID)
	var handle *portfolio.Handle
	if len(accounts) > 0 {
		handle = m.binder.Bind(ctx, profile, accounts[0])
	}

	m.mu.Lock()
	if m.sessionSeq != seq || m.chainSeq != chainSeq || m.pending != nil {
		snap := newSnapshot(m.state, m.gateway.Provider())
		m.mu.Unlock()
		return snap, ErrSuperseded
	}

	next := State{ChainID: chainID, Network: profile}
	if len(accounts) > 0 {
		next.Status = StatusConnected
		next.Account = accounts[0]
		next.Contract = handle
	} else if m.state.Status == StatusConnected {
		m.sessionSeq++
	}
	if next.ChainID != m.state.ChainID {
		m.chainSeq++
	}
	snap := m.commitLocked(next, "resync")
	m.mu.Unlock()
	m.flush()

	return snap, nil
}

func networkName(s Snapshot) string {
	if s.Network == nil {
		return "unrecognized"
	}
	return s.Network.Name
}
