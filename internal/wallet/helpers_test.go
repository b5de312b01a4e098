package wallet

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/onchain-portfolio/walletlink/internal/config"
	"github.com/onchain-portfolio/walletlink/internal/contracts/portfolio"
	"github.com/onchain-portfolio/walletlink/internal/provider"
	"github.com/onchain-portfolio/walletlink/internal/provider/providertest"
	"github.com/onchain-portfolio/walletlink/internal/retry"
	"github.com/onchain-portfolio/walletlink/pkg/logging"
)

var (
	alice = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	bob   = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
)

const (
	chainMainnet uint64 = 1
	chainSepolia uint64 = 11155111
	chainMumbai  uint64 = 80001
	chainUnknown uint64 = 999999
)

// nopCaller satisfies bind.ContractCaller; the machine never reads the contract.
type nopCaller struct{}

func (nopCaller) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) { return nil, nil }
func (nopCaller) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return nil, nil
}

func testBinder() *portfolio.Binder {
	return portfolio.NewBinder(func(context.Context, string) (bind.ContractCaller, error) {
		return nopCaller{}, nil
	}, logging.Discard())
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Retry = retry.Policy{Attempts: 3, BaseDelay: 20 * time.Millisecond, MaxDelay: 100 * time.Millisecond}
	return cfg
}

// recorder is a Sink that keeps every snapshot.
type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recorder) Emit(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) all() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Snapshot(nil), r.snaps...)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

// waitFor polls the machine until pred holds.
func waitFor(t *testing.T, m *Machine, what string, pred func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if s := m.Snapshot(); pred(s) {
			return s
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s; state = %+v", what, m.Snapshot().State)
	return Snapshot{}
}

// waitCalls polls until the wallet has seen n calls of method.
func waitCalls(t *testing.T, w *providertest.Wallet, method string, n int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if w.CallCount(method) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d %s calls, saw %d", n, method, w.CallCount(method))
}

type fixture struct {
	machine *Machine
	wallet  *providertest.Wallet
	sink    *recorder
}

func newFixture(t *testing.T, w *providertest.Wallet) *fixture {
	t.Helper()
	return newFixtureWithConfig(t, w, testConfig())
}

func newFixtureWithConfig(t *testing.T, w *providertest.Wallet, cfg Config) *fixture {
	t.Helper()
	var p provider.Provider
	if w != nil {
		p = w
	}
	sink := &recorder{}
	m := New(Options{
		Registry: config.DefaultRegistry(),
		Gateway:  provider.NewGateway(p, 0, 0, logging.Discard()),
		Binder:   testBinder(),
		Sink:     sink,
		Config:   cfg,
		Logger:   logging.Discard(),
	})
	t.Cleanup(m.Close)
	t.Cleanup(func() { checkInvariants(t, sink.all()) })
	return &fixture{machine: m, wallet: w, sink: sink}
}

func (f *fixture) connect(t *testing.T) Snapshot {
	t.Helper()
	s, err := f.machine.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return s
}

// checkInvariants verifies every emitted snapshot is self-consistent.
func checkInvariants(t *testing.T, snaps []Snapshot) {
	t.Helper()
	for i, s := range snaps {
		if s.Account != (common.Address{}) && s.Status != StatusConnected {
			t.Errorf("snapshot %d: account %s while %s", i, s.Account.Hex(), s.Status)
		}
		if s.Contract != nil {
			if s.Network == nil || !s.Network.HasContract() {
				t.Errorf("snapshot %d: contract without a contract-bearing network", i)
			} else if s.Contract.ChainID() != s.ChainID || s.Contract.Address() != s.Network.ContractAddress {
				t.Errorf("snapshot %d: contract for chain %d next to chain %d", i, s.Contract.ChainID(), s.ChainID)
			}
		}
		if s.Network != nil && s.Network.ChainID != s.ChainID {
			t.Errorf("snapshot %d: network %d next to chain %d", i, s.Network.ChainID, s.ChainID)
		}
		if s.IsConnected != (s.Status == StatusConnected) || s.IsCorrectNetwork != (s.Network != nil) || s.HasContract != (s.Contract != nil) {
			t.Errorf("snapshot %d: derived flags disagree with state: %+v", i, s)
		}
	}
}
