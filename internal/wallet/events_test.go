package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/onchain-portfolio/walletlink/internal/provider"
	"github.com/onchain-portfolio/walletlink/internal/provider/providertest"
	"github.com/onchain-portfolio/walletlink/pkg/helpers"
)

func TestChainChangedBurstReconcilesOnce(t *testing.T) {
	f := newFixture(t, providertest.NewWallet(chainSepolia, alice))

	// Three notifications within 100ms, well inside the 300ms window.
	f.machine.HandleChainChanged("0x1")
	time.Sleep(30 * time.Millisecond)
	f.machine.HandleChainChanged("0x89")
	time.Sleep(30 * time.Millisecond)
	f.machine.HandleChainChanged("0x13881")

	waitFor(t, f.machine, "chain reconciliation", func(s Snapshot) bool { return s.ChainID != 0 })
	// Leave time for a stray second pass to show up.
	time.Sleep(400 * time.Millisecond)

	snaps := f.sink.all()
	if len(snaps) != 1 {
		t.Fatalf("emitted %d snapshots, want exactly 1 reconciliation pass", len(snaps))
	}
	if snaps[0].ChainID != chainMumbai || snaps[0].Network == nil || snaps[0].Network.ChainID != chainMumbai {
		t.Errorf("reconciled chain = %d, want the last notification's %d", snaps[0].ChainID, chainMumbai)
	}
	if snaps[0].Status != StatusDisconnected {
		t.Errorf("Status = %s, a chain change must not connect", snaps[0].Status)
	}
}

func TestChainChangedWhileConnected(t *testing.T) {
	f := newFixture(t, providertest.NewWallet(chainSepolia, alice))
	f.connect(t)
	before := f.sink.count()

	f.wallet.SetChain(chainMumbai)
	f.machine.HandleChainChanged(helpers.ChainIDHex(chainMumbai))

	s := waitFor(t, f.machine, "mumbai contract", func(s Snapshot) bool {
		return s.ChainID == chainMumbai && s.Contract != nil
	})
	if s.Status != StatusConnected || s.Account != alice || s.Network.ChainID != chainMumbai {
		t.Errorf("state = %+v, want alice connected on mumbai", s.State)
	}

	snaps := f.sink.all()[before:]
	if len(snaps) != 2 {
		t.Fatalf("emitted %d snapshots after the change, want 2 (network, then contract)", len(snaps))
	}
	// The display fields land first, before the slower rebind.
	if snaps[0].ChainID != chainMumbai || snaps[0].Network == nil || snaps[0].Contract != nil {
		t.Errorf("first snapshot = %+v, want mumbai without a contract", snaps[0].State)
	}
	if snaps[0].Status != StatusConnected {
		t.Errorf("chain change must not leave connected, got %s", snaps[0].Status)
	}
}

func TestChainChangedToUnknownChain(t *testing.T) {
	f := newFixture(t, providertest.NewWallet(chainSepolia, alice))
	f.connect(t)

	f.wallet.SetChain(chainUnknown)
	f.machine.HandleChainChanged(helpers.ChainIDHex(chainUnknown))

	s := waitFor(t, f.machine, "unknown chain", func(s Snapshot) bool { return s.ChainID == chainUnknown })
	waitCalls(t, f.wallet, provider.MethodAccounts, 1)
	time.Sleep(50 * time.Millisecond)
	s = f.machine.Snapshot()

	if s.IsCorrectNetwork || s.Network != nil || s.Contract != nil {
		t.Errorf("state = %+v, want no network and no contract", s.State)
	}
	if s.Status != StatusConnected || s.Account != alice {
		t.Errorf("state = %+v, want still connected as alice", s.State)
	}
}

func TestChainChangedMalformedIsIgnored(t *testing.T) {
	f := newFixture(t, providertest.NewWallet(chainSepolia, alice))
	f.connect(t)
	before := f.machine.Snapshot()

	f.machine.HandleChainChanged("not-a-chain")
	time.Sleep(400 * time.Millisecond)

	if after := f.machine.Snapshot(); after != before {
		t.Errorf("state changed on a malformed notification: %+v", after.State)
	}
}

func TestChainRefreshFailureKeepsNetworkCommit(t *testing.T) {
	w := providertest.NewWallet(chainSepolia, alice)
	f := newFixture(t, w)
	f.connect(t)

	w.Handle(provider.MethodAccounts, providertest.Fail(&provider.RPCError{Code: provider.CodeInternal, Message: "boom"}))
	f.machine.HandleChainChanged(helpers.ChainIDHex(chainMumbai))

	waitFor(t, f.machine, "mumbai", func(s Snapshot) bool { return s.ChainID == chainMumbai })
	waitCalls(t, w, provider.MethodAccounts, 1)
	time.Sleep(50 * time.Millisecond)

	s := f.machine.Snapshot()
	if s.ChainID != chainMumbai || s.Network == nil || s.Status != StatusConnected {
		t.Errorf("state = %+v, a failed refresh must not undo the network commit", s.State)
	}
	if s.Contract != nil {
		t.Error("no contract should be bound when the refresh failed")
	}
}

func TestStaleRefreshIsDiscarded(t *testing.T) {
	w := providertest.NewWallet(chainMainnet, alice)
	f := newFixture(t, w)
	f.connect(t)

	// The refresh for chain A (sepolia) hangs; the one for chain B (mumbai)
	// answers at once.
	releaseA := make(chan struct{})
	w.Handle(provider.MethodAccounts, providertest.Sequence(
		providertest.Block(releaseA, []string{alice.Hex()}),
		func(context.Context, []interface{}) (interface{}, error) { return []string{alice.Hex()}, nil },
	))

	f.machine.HandleChainChanged(helpers.ChainIDHex(chainSepolia))
	waitCalls(t, w, provider.MethodAccounts, 1)

	f.machine.HandleChainChanged(helpers.ChainIDHex(chainMumbai))
	waitFor(t, f.machine, "mumbai contract", func(s Snapshot) bool {
		return s.ChainID == chainMumbai && s.Contract != nil
	})

	// A's refresh completes late.
	close(releaseA)
	time.Sleep(100 * time.Millisecond)

	s := f.machine.Snapshot()
	if s.ChainID != chainMumbai || s.Network == nil || s.Network.ChainID != chainMumbai {
		t.Fatalf("state = %+v, want mumbai", s.State)
	}
	if s.Contract == nil || s.Contract.ChainID() != chainMumbai {
		t.Errorf("contract = %v, want mumbai's handle", s.Contract)
	}
	for i, snap := range f.sink.all() {
		if snap.Contract != nil && snap.Contract.ChainID() == chainSepolia && snap.ChainID != chainSepolia {
			t.Errorf("snapshot %d mixes sepolia's contract with chain %d", i, snap.ChainID)
		}
	}
}

func TestChainChangedDuringConnect(t *testing.T) {
	w := providertest.NewWallet(chainSepolia, alice)
	release := make(chan struct{})
	w.Handle(provider.MethodRequestAccounts, providertest.Block(release, []string{alice.Hex()}))
	f := newFixture(t, w)

	done := make(chan Snapshot, 1)
	go func() {
		s, _ := f.machine.Connect(context.Background())
		done <- s
	}()
	waitCalls(t, w, provider.MethodRequestAccounts, 1)

	// The wallet moves to mumbai after eth_requestAccounts was sent but
	// before eth_chainId is read; the fake still reports sepolia.
	f.machine.HandleChainChanged(helpers.ChainIDHex(chainMumbai))
	waitFor(t, f.machine, "mumbai while connecting", func(s Snapshot) bool { return s.ChainID == chainMumbai })
	if s := f.machine.Snapshot(); s.Status != StatusConnecting {
		t.Errorf("Status = %s, want connecting", s.Status)
	}

	close(release)
	s := <-done
	if s.ChainID != chainMumbai {
		t.Errorf("connected on chain %d, want %d: the newer notification wins", s.ChainID, chainMumbai)
	}

	waitFor(t, f.machine, "mumbai contract", func(s Snapshot) bool {
		return s.Contract != nil && s.Contract.ChainID() == chainMumbai
	})
}

func TestAccountsChangedEmptyDisconnects(t *testing.T) {
	f := newFixture(t, providertest.NewWallet(chainSepolia, alice))
	f.connect(t)

	f.machine.HandleAccountsChanged([]common.Address{})

	s := f.machine.Snapshot()
	if s.Status != StatusDisconnected {
		t.Errorf("Status = %s, want disconnected", s.Status)
	}
	if s.Account != (common.Address{}) {
		t.Errorf("Account = %s, want none", s.Account.Hex())
	}
	if s.Contract != nil {
		t.Error("Contract should be nil after disconnect")
	}
}

func TestAccountsChangedReconnects(t *testing.T) {
	f := newFixture(t, providertest.NewWallet(chainSepolia, alice))
	f.connect(t)

	// Inside the user cooldown: event-driven reconnects are not limited.
	f.wallet.SetAccounts(bob)
	f.machine.HandleAccountsChanged([]common.Address{bob})

	s := waitFor(t, f.machine, "bob connected", func(s Snapshot) bool {
		return s.Status == StatusConnected && s.Account == bob
	})
	if s.Contract == nil || s.Contract.Signer() != bob {
		t.Errorf("contract signer = %v, want bob", s.Contract)
	}
	if got := f.wallet.CallCount(provider.MethodRequestAccounts); got != 2 {
		t.Errorf("eth_requestAccounts called %d times, want 2", got)
	}
}

func TestAccountsChangedSameAccountIsNoop(t *testing.T) {
	f := newFixture(t, providertest.NewWallet(chainSepolia, alice))
	f.connect(t)
	before := f.sink.count()

	f.machine.HandleAccountsChanged([]common.Address{alice})
	time.Sleep(50 * time.Millisecond)

	if f.sink.count() != before {
		t.Error("the same account must not trigger a transition")
	}
}

func TestAccountsChangedWhileDisconnectedIsIgnored(t *testing.T) {
	f := newFixture(t, providertest.NewWallet(chainSepolia, alice))

	f.machine.HandleAccountsChanged([]common.Address{bob})
	time.Sleep(50 * time.Millisecond)

	if f.machine.Snapshot().Status != StatusDisconnected {
		t.Error("a notification alone must not connect")
	}
	if f.wallet.CallCount(provider.MethodRequestAccounts) != 0 {
		t.Error("no connect should be attempted while disconnected")
	}
}

func TestDisconnectDropsInFlightRefresh(t *testing.T) {
	w := providertest.NewWallet(chainSepolia, alice)
	f := newFixture(t, w)
	f.connect(t)

	release := make(chan struct{})
	w.Handle(provider.MethodAccounts, providertest.Block(release, []string{alice.Hex()}))
	f.machine.HandleChainChanged(helpers.ChainIDHex(chainMumbai))
	waitCalls(t, w, provider.MethodAccounts, 1)

	f.machine.Disconnect()
	close(release)
	time.Sleep(50 * time.Millisecond)

	if s := f.machine.Snapshot(); s.Status != StatusDisconnected || s.Contract != nil {
		t.Errorf("state = %+v, a refresh must not revive a disconnected session", s.State)
	}
}

func TestRunDispatchesEvents(t *testing.T) {
	w := providertest.NewWallet(chainSepolia, alice)
	f := newFixture(t, w)
	f.connect(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.machine.Run(ctx, w.Events()) }()

	w.SetChain(chainMumbai)
	w.Emit(provider.Event{Kind: provider.ChainChanged, ChainID: "0x13881"})
	waitFor(t, f.machine, "mumbai", func(s Snapshot) bool { return s.ChainID == chainMumbai && s.Contract != nil })

	w.Emit(provider.Event{Kind: provider.AccountsChanged, Accounts: nil})
	waitFor(t, f.machine, "disconnect", func(s Snapshot) bool { return s.Status == StatusDisconnected })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not stop")
	}
}

func TestProviderDisconnectEvent(t *testing.T) {
	f := newFixture(t, providertest.NewWallet(chainSepolia, alice))
	f.connect(t)

	f.machine.HandleEvent(provider.Event{Kind: provider.Disconnected, Err: provider.ErrDisconnected})
	if s := f.machine.Snapshot(); s.State != (State{}) {
		t.Errorf("state = %+v, want the initial shape", s.State)
	}
}

func TestAddOrSwitchNetwork(t *testing.T) {
	w := providertest.NewWallet(chainSepolia, alice)
	w.Know(chainMumbai)
	f := newFixture(t, w)

	if err := f.machine.AddOrSwitchNetwork(context.Background(), chainMumbai); err != nil {
		t.Fatalf("AddOrSwitchNetwork(mumbai) error = %v", err)
	}
	if w.ChainID() != chainMumbai {
		t.Errorf("wallet chain = %d, want %d", w.ChainID(), chainMumbai)
	}
	if w.CallCount(provider.MethodAddChain) != 0 {
		t.Error("a known chain should not be added")
	}
	if f.machine.Snapshot().ChainID != 0 {
		t.Error("switching must leave state to the chainChanged notification")
	}
}

func TestAddOrSwitchNetworkAddsUnknownChain(t *testing.T) {
	w := providertest.NewWallet(chainSepolia, alice)
	w.Forget(137)
	f := newFixture(t, w)

	if err := f.machine.AddOrSwitchNetwork(context.Background(), 137); err != nil {
		t.Fatalf("AddOrSwitchNetwork(polygon) error = %v", err)
	}

	adds := w.Calls(provider.MethodAddChain)
	if len(adds) != 1 {
		t.Fatalf("wallet_addEthereumChain called %d times, want 1", len(adds))
	}
	raw, _ := json.Marshal(adds[0].Params)
	var params []provider.AddChainParams
	if err := json.Unmarshal(raw, &params); err != nil || len(params) != 1 {
		t.Fatalf("add params = %s", raw)
	}
	p := params[0]
	if p.ChainID != "0x89" || p.ChainName != "Polygon Mainnet" || p.NativeCurrency.Symbol != "MATIC" || p.NativeCurrency.Decimals != 18 {
		t.Errorf("add params = %+v", p)
	}
	if len(p.RPCURLs) != 1 || len(p.BlockExplorerURLs) != 1 {
		t.Errorf("add params urls = %v / %v", p.RPCURLs, p.BlockExplorerURLs)
	}
	// Selection is left to the wallet after adding.
	if got := w.CallCount(provider.MethodSwitchChain); got != 1 {
		t.Errorf("wallet_switchEthereumChain called %d times, want 1", got)
	}
}

func TestAddOrSwitchNetworkErrors(t *testing.T) {
	w := providertest.NewWallet(chainSepolia, alice)
	w.Handle(provider.MethodSwitchChain, providertest.Fail(&provider.RPCError{Code: provider.CodeUserRejected}))
	f := newFixture(t, w)

	err := f.machine.AddOrSwitchNetwork(context.Background(), chainMumbai)
	if !errors.Is(err, ErrUserRejected) {
		t.Errorf("AddOrSwitchNetwork() error = %v, want ErrUserRejected", err)
	}
	if w.CallCount(provider.MethodAddChain) != 0 {
		t.Error("only an unrecognized chain falls back to adding")
	}

	err = f.machine.AddOrSwitchNetwork(context.Background(), chainUnknown)
	if !errors.Is(err, ErrUnknownNetwork) {
		t.Errorf("AddOrSwitchNetwork(unknown) error = %v, want ErrUnknownNetwork", err)
	}

	g := newFixture(t, nil)
	if err := g.machine.AddOrSwitchNetwork(context.Background(), chainMumbai); !errors.Is(err, ErrProviderNotFound) {
		t.Errorf("AddOrSwitchNetwork() without provider error = %v, want ErrProviderNotFound", err)
	}
}
