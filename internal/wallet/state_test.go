package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/onchain-portfolio/walletlink/internal/config"
	"github.com/onchain-portfolio/walletlink/internal/provider"
	"github.com/onchain-portfolio/walletlink/internal/provider/providertest"
	"github.com/onchain-portfolio/walletlink/internal/retry"
)

func TestNormalize(t *testing.T) {
	reg := config.DefaultRegistry()
	sepolia := reg.Lookup(chainSepolia)
	mumbai := reg.Lookup(chainMumbai)

	tests := []struct {
		name         string
		in           State
		wantAccount  bool
		wantNetwork  bool
		wantContract bool
	}{
		{
			name:        "account dropped unless connected",
			in:          State{Status: StatusConnecting, Account: alice, ChainID: chainSepolia, Network: sepolia},
			wantNetwork: true,
		},
		{
			name:        "mismatched network dropped",
			in:          State{Status: StatusConnected, Account: alice, ChainID: chainSepolia, Network: mumbai},
			wantAccount: true,
		},
		{
			name: "disconnected keeps chain and network",
			in:   State{Status: StatusDisconnected, ChainID: chainSepolia, Network: sepolia},
			wantNetwork: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.normalize()
			if (got.Account != common.Address{}) != tt.wantAccount {
				t.Errorf("Account = %s, want present=%v", got.Account.Hex(), tt.wantAccount)
			}
			if (got.Network != nil) != tt.wantNetwork {
				t.Errorf("Network = %v, want present=%v", got.Network, tt.wantNetwork)
			}
			if (got.Contract != nil) != tt.wantContract {
				t.Errorf("Contract = %v, want present=%v", got.Contract, tt.wantContract)
			}
			if got.ChainID != tt.in.ChainID {
				t.Errorf("ChainID = %d, normalize must not touch the chain", got.ChainID)
			}
		})
	}
}

func TestNormalizeDropsForeignContract(t *testing.T) {
	reg := config.DefaultRegistry()
	handle := testBinder().Bind(context.Background(), reg.Lookup(chainSepolia), alice)
	if handle == nil {
		t.Fatal("Bind(sepolia) returned nil")
	}

	s := State{Status: StatusConnected, Account: alice, ChainID: chainMumbai, Network: reg.Lookup(chainMumbai), Contract: handle}.normalize()
	if s.Contract != nil {
		t.Error("a sepolia handle must not survive on mumbai")
	}

	s = State{Status: StatusConnected, Account: alice, ChainID: chainSepolia, Network: reg.Lookup(chainSepolia), Contract: handle}.normalize()
	if s.Contract != handle {
		t.Error("a matching handle should be kept")
	}
}

func TestSnapshotJSONInitial(t *testing.T) {
	data, err := json.Marshal(newSnapshot(State{}, nil))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var got map[string]interface{}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	for _, key := range []string{"account", "chainId", "chainIdHex", "network", "contract"} {
		v, ok := got[key]
		if !ok {
			t.Errorf("key %q missing", key)
		} else if v != nil {
			t.Errorf("%s = %v, want null", key, v)
		}
	}
	if got["status"] != "disconnected" {
		t.Errorf("status = %v, want disconnected", got["status"])
	}
	if got["providerPresent"] != false || got["isConnected"] != false {
		t.Errorf("flags = %v / %v, want false", got["providerPresent"], got["isConnected"])
	}
}

func TestSnapshotJSONConnected(t *testing.T) {
	f := newFixture(t, providertest.NewWallet(chainSepolia, alice))
	s := f.connect(t)

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var got struct {
		Status     string  `json:"status"`
		Account    *string `json:"account"`
		ChainID    *uint64 `json:"chainId"`
		ChainIDHex *string `json:"chainIdHex"`
		Network    *struct {
			Name string `json:"name"`
		} `json:"network"`
		Contract *struct {
			ChainID uint64 `json:"chainId"`
			Address string `json:"address"`
			Signer  string `json:"signer"`
		} `json:"contract"`
		ProviderPresent bool `json:"providerPresent"`
		HasContract     bool `json:"hasContract"`
	}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if got.Status != "connected" || got.Account == nil || *got.Account != alice.Hex() {
		t.Errorf("status/account = %s/%v", got.Status, got.Account)
	}
	if got.ChainID == nil || *got.ChainID != chainSepolia || got.ChainIDHex == nil || *got.ChainIDHex != "0xaa36a7" {
		t.Errorf("chain = %v/%v", got.ChainID, got.ChainIDHex)
	}
	if got.Network == nil || got.Network.Name != "Sepolia Testnet" {
		t.Errorf("network = %+v", got.Network)
	}
	if got.Contract == nil || got.Contract.ChainID != chainSepolia || !got.HasContract {
		t.Fatalf("contract = %+v", got.Contract)
	}
	// One address, one spelling across the whole state.
	if got.Account != nil && got.Contract.Signer != *got.Account {
		t.Errorf("contract signer = %s, want %s as in account", got.Contract.Signer, *got.Account)
	}
	if got.Contract.Address != s.Contract.Address().Hex() {
		t.Errorf("contract address = %s, want checksummed %s", got.Contract.Address, s.Contract.Address().Hex())
	}
	if !got.ProviderPresent {
		t.Error("providerPresent = false, want true")
	}
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("connect: %w", ErrCooldown), KindCooldown},
		{ErrSuperseded, KindSuperseded},
		{ErrClosed, KindClosed},
		{ErrProviderNotFound, KindProviderNotFound},
		{fmt.Errorf("connect: %w", &provider.RPCError{Code: provider.CodeUserRejected}), KindUserRejected},
		{ErrAccountUnavailable, KindAccountUnavailable},
		{fmt.Errorf("%w: chain 5", ErrUnknownNetwork), KindUnknownNetwork},
		{&provider.RPCError{Code: provider.CodeUnrecognizedChain}, KindUnrecognizedChain},
		{&provider.RPCError{Code: provider.CodeUnauthorized}, KindUnauthorized},
		{provider.ErrTimeout, KindTransient},
		{&provider.RPCError{Code: provider.CodeResourceBusy}, KindTransient},
		{provider.ErrDisconnected, KindDisconnected},
		{context.Canceled, KindCancelled},
		{errors.New("boom"), KindProvider},
	}
	for _, tt := range tests {
		if got := ErrorKind(tt.err); got != tt.want {
			t.Errorf("ErrorKind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestMultiSink(t *testing.T) {
	var order []string
	a := SinkFunc(func(Snapshot) { order = append(order, "a") })
	b := SinkFunc(func(Snapshot) { order = append(order, "b") })

	MultiSink(a, nil, b).Emit(Snapshot{})

	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Errorf("order = %v, want [a b]", order)
	}
}

func TestStatusText(t *testing.T) {
	for s, want := range map[Status]string{
		StatusDisconnected: "disconnected",
		StatusConnecting:   "connecting",
		StatusConnected:    "connected",
		Status(9):          "status(9)",
	} {
		if got := s.String(); got != want {
			t.Errorf("Status(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}

func TestConnectBudget(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want time.Duration
	}{
		{"defaults", DefaultConfig(), 3*15*time.Second + time.Second + 2*time.Second},
		{"single attempt", Config{AccountsTimeout: time.Second, ChainTimeout: time.Second, Retry: retry.Policy{Attempts: 1, BaseDelay: time.Second}}, 2 * time.Second},
		{"zero attempts counts as one", Config{AccountsTimeout: time.Second, ChainTimeout: time.Second}, 2 * time.Second},
		{"capped backoff", Config{
			AccountsTimeout: time.Second,
			ChainTimeout:    time.Second,
			Retry:           retry.Policy{Attempts: 4, BaseDelay: time.Second, MaxDelay: 2 * time.Second},
		}, 4*2*time.Second + time.Second + 2*time.Second + 2*time.Second},
	}

	for _, tt := range tests {
		if got := tt.cfg.ConnectBudget(); got != tt.want {
			t.Errorf("%s: ConnectBudget() = %s, want %s", tt.name, got, tt.want)
		}
	}
}
