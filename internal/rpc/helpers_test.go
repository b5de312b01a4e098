package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
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
	"github.com/onchain-portfolio/walletlink/internal/storage"
	"github.com/onchain-portfolio/walletlink/internal/wallet"
	"github.com/onchain-portfolio/walletlink/pkg/logging"
)

var (
	alice = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	owner = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
)

const (
	chainSepolia uint64 = 11155111
	chainMumbai  uint64 = 80001
)

// contractCaller answers Portfolio views with canned values.
type contractCaller struct{}

func (contractCaller) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return []byte{0x60, 0x80}, nil
}

func (contractCaller) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	parsed, err := portfolio.MetaData.GetAbi()
	if err != nil {
		return nil, err
	}
	outputs := map[string][]interface{}{
		"owner": {owner},
		"personalInfo": {
			"Ada", "Builder of things", "ipfs://avatar", "https://example.com/cv.pdf",
			"London", "ada@example.com", big.NewInt(1500), big.NewInt(42),
		},
		"getPortfolioStats": {
			big.NewInt(3), big.NewInt(2), big.NewInt(4), big.NewInt(10),
			big.NewInt(1), big.NewInt(25), big.NewInt(42),
		},
	}
	for name, method := range parsed.Methods {
		if bytes.HasPrefix(call.Data, method.ID) {
			return method.Outputs.Pack(outputs[name]...)
		}
	}
	return nil, errors.New("execution reverted")
}

type testEnv struct {
	server  *Server
	machine *wallet.Machine
	wallet  *providertest.Wallet
	store   *storage.Storage
	hub     *WSHub
	http    *httptest.Server
}

type envOptions struct {
	noProvider bool
	noStore    bool
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	env := &testEnv{}

	var p provider.Provider
	if !opts.noProvider {
		env.wallet = providertest.NewWallet(chainSepolia, alice)
		p = env.wallet
	}

	ctx, cancel := context.WithCancel(context.Background())
	env.hub = NewWSHub(logging.Discard())
	hubDone := make(chan struct{})
	go func() {
		env.hub.Run(ctx)
		close(hubDone)
	}()

	sinks := []wallet.Sink{env.hub}
	if !opts.noStore {
		store, err := storage.New(&storage.Config{DataDir: t.TempDir()})
		if err != nil {
			t.Fatalf("storage.New() error = %v", err)
		}
		env.store = store
		rec, err := storage.NewRecorder(store, 100, logging.Discard())
		if err != nil {
			t.Fatalf("NewRecorder() error = %v", err)
		}
		sinks = append(sinks, rec)
	}

	cfg := wallet.DefaultConfig()
	cfg.Debounce = 20 * time.Millisecond
	cfg.Retry = retry.Policy{Attempts: 2, BaseDelay: 10 * time.Millisecond, MaxDelay: 20 * time.Millisecond}

	env.machine = wallet.New(wallet.Options{
		Registry: config.DefaultRegistry(),
		Gateway:  provider.NewGateway(p, 0, 0, logging.Discard()),
		Binder: portfolio.NewBinder(func(context.Context, string) (bind.ContractCaller, error) {
			return contractCaller{}, nil
		}, logging.Discard()),
		Sink:   wallet.MultiSink(sinks...),
		Config: cfg,
		Logger: logging.Discard(),
	})

	env.server = NewServer(Options{Machine: env.machine, Store: env.store, Hub: env.hub, Logger: logging.Discard()})
	env.http = httptest.NewServer(env.server.Handler())

	t.Cleanup(func() {
		env.http.Close()
		env.machine.Close()
		cancel()
		<-hubDone
		if env.store != nil {
			env.store.Close()
		}
	})
	return env
}

// rawResponse keeps the result undecoded.
type rawResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *Error          `json:"error"`
	ID      interface{}     `json:"id"`
}

func (env *testEnv) post(t *testing.T, body string) *rawResponse {
	t.Helper()
	resp, err := http.Post(env.http.URL, "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	defer resp.Body.Close()

	var out rawResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return &out
}

func (env *testEnv) call(t *testing.T, method string, params interface{}) *rawResponse {
	t.Helper()
	req := map[string]interface{}{"jsonrpc": "2.0", "method": method, "id": 1}
	if params != nil {
		req["params"] = params
	}
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return env.post(t, string(body))
}

// result calls method and decodes a successful result into v.
func (env *testEnv) result(t *testing.T, method string, params interface{}, v interface{}) {
	t.Helper()
	resp := env.call(t, method, params)
	if resp.Error != nil {
		t.Fatalf("%s error = %+v", method, resp.Error)
	}
	if v != nil {
		if err := json.Unmarshal(resp.Result, v); err != nil {
			t.Fatalf("%s result %s: %v", method, resp.Result, err)
		}
	}
}

// respKind extracts data.kind from a WalletError response.
func respKind(t *testing.T, resp *rawResponse) string {
	t.Helper()
	if resp.Error == nil {
		t.Fatalf("expected an error, got result %s", resp.Result)
	}
	if resp.Error.Code != WalletError {
		t.Fatalf("Error.Code = %d, want %d", resp.Error.Code, WalletError)
	}
	data, ok := resp.Error.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("Error.Data = %#v, want an object", resp.Error.Data)
	}
	kind, _ := data["kind"].(string)
	return kind
}

// stateJSON mirrors the snapshot wire format.
type stateJSON struct {
	Status     string  `json:"status"`
	Account    *string `json:"account"`
	ChainID    *uint64 `json:"chainId"`
	ChainIDHex *string `json:"chainIdHex"`
	Network    *struct {
		ChainID uint64 `json:"chainId"`
		Name    string `json:"name"`
	} `json:"network"`
	Contract *struct {
		ChainID uint64 `json:"chainId"`
		Address string `json:"address"`
		Signer  string `json:"signer"`
	} `json:"contract"`
	ProviderPresent  bool `json:"providerPresent"`
	IsConnected      bool `json:"isConnected"`
	IsCorrectNetwork bool `json:"isCorrectNetwork"`
	HasContract      bool `json:"hasContract"`
}

type stateResultJSON struct {
	State   stateJSON `json:"state"`
	Pending *struct {
		ID string `json:"id"`
	} `json:"pending"`
}

func newRequest(method, url string) (*http.Request, error) {
	return http.NewRequest(method, url, nil)
}
