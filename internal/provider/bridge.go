package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"github.com/onchain-portfolio/walletlink/pkg/logging"
)

// ErrBridgeClosed is returned by requests issued after Close.
var ErrBridgeClosed = errors.New("wallet bridge closed")

// BridgeConfig configures the websocket wallet bridge client.
type BridgeConfig struct {
	URL          string
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	RedialDelay  time.Duration
	EventBuffer  int
}

// DefaultBridgeConfig returns bridge settings for url.
func DefaultBridgeConfig(url string) BridgeConfig {
	return BridgeConfig{
		URL:          url,
		DialTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Second,
		RedialDelay:  5 * time.Second,
		EventBuffer:  64,
	}
}

// bridgeMessage is the JSON-RPC envelope used in both directions. Responses
// carry an id; wallet notifications carry a method and no id.
type bridgeMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type bridgeReply struct {
	result json.RawMessage
	err    error
}

// BridgeClient is a Provider backed by a websocket relay to the user's
// wallet. Requests are correlated to responses by id. Notifications
// (accountsChanged, chainChanged, disconnect) are delivered on Events.
// The connection is dialed lazily and redialed by Run after a drop.
type BridgeClient struct {
	cfg BridgeConfig
	log *logging.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	lost    chan struct{} // closed when conn drops
	pending map[uint64]chan bridgeReply
	closed  bool

	writeMu sync.Mutex
	nextID  atomic.Uint64
	events  chan Event
	done    chan struct{}
}

// NewBridgeClient creates a bridge client. Nothing is dialed yet.
func NewBridgeClient(cfg BridgeConfig, log *logging.Logger) *BridgeClient {
	if log == nil {
		log = logging.GetDefault().Component("bridge")
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	return &BridgeClient{
		cfg:     cfg,
		log:     log,
		pending: make(map[uint64]chan bridgeReply),
		events:  make(chan Event, cfg.EventBuffer),
		done:    make(chan struct{}),
	}
}

// Events returns the notification channel. It is never closed.
func (b *BridgeClient) Events() <-chan Event {
	return b.events
}

// Connected returns true if the websocket is up.
func (b *BridgeClient) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

// Run keeps the bridge connected until ctx is done, redialing after drops.
func (b *BridgeClient) Run(ctx context.Context) error {
	for {
		lost, err := b.ensureConn(ctx)
		if err != nil {
			if errors.Is(err, ErrBridgeClosed) {
				return nil
			}
			b.log.Warn("Wallet bridge unavailable", "url", b.cfg.URL, "error", err)
		} else {
			select {
			case <-lost:
			case <-ctx.Done():
				return b.Close()
			case <-b.done:
				return nil
			}
		}

		select {
		case <-time.After(b.cfg.RedialDelay):
		case <-ctx.Done():
			return b.Close()
		case <-b.done:
			return nil
		}
	}
}

// Request sends method to the wallet and waits for its response.
func (b *BridgeClient) Request(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	if _, err := b.ensureConn(ctx); err != nil {
		return nil, err
	}
	if params == nil {
		params = []interface{}{}
	}
	rawParams, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode params: %w", err)
	}

	id := b.nextID.Add(1)
	reply := make(chan bridgeReply, 1)

	b.mu.Lock()
	conn := b.conn
	if conn == nil {
		b.mu.Unlock()
		return nil, ErrDisconnected
	}
	b.pending[id] = reply
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
	}()

	msg := bridgeMessage{JSONRPC: "2.0", ID: &id, Method: method, Params: rawParams}
	if err := b.write(conn, msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDisconnected, err)
	}

	select {
	case r := <-reply:
		return r.result, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.done:
		return nil, ErrBridgeClosed
	}
}

// Close shuts the bridge down. Pending requests fail with ErrBridgeClosed.
func (b *BridgeClient) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	conn := b.conn
	b.conn = nil
	b.mu.Unlock()

	close(b.done)

	if conn != nil {
		b.writeMu.Lock()
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		b.writeMu.Unlock()
		return conn.Close()
	}
	return nil
}

func (b *BridgeClient) ensureConn(ctx context.Context) (<-chan struct{}, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBridgeClosed
	}
	if b.conn != nil {
		return b.lost, nil
	}
	if b.cfg.URL == "" {
		return nil, ErrNotFound
	}

	dialer := websocket.Dialer{HandshakeTimeout: b.cfg.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, b.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrDisconnected, b.cfg.URL, err)
	}

	b.conn = conn
	b.lost = make(chan struct{})
	go b.readLoop(conn, b.lost)

	b.log.Info("Connected to wallet bridge", "url", b.cfg.URL)
	return b.lost, nil
}

func (b *BridgeClient) write(conn *websocket.Conn, msg bridgeMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if b.cfg.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(b.cfg.WriteTimeout))
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (b *BridgeClient) readLoop(conn *websocket.Conn, lost chan struct{}) {
	defer b.dropConn(conn, lost)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-b.done:
			default:
				b.log.Warn("Wallet bridge connection lost", "error", err)
			}
			return
		}

		var msg bridgeMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			b.log.Debug("Ignoring malformed bridge message", "error", err)
			continue
		}

		if msg.ID != nil && msg.Method == "" {
			b.deliver(*msg.ID, msg)
			continue
		}
		if msg.Method != "" {
			b.notify(msg)
		}
	}
}

func (b *BridgeClient) deliver(id uint64, msg bridgeMessage) {
	b.mu.Lock()
	reply, ok := b.pending[id]
	b.mu.Unlock()
	if !ok {
		return
	}

	r := bridgeReply{result: msg.Result}
	if msg.Error != nil {
		r.err = msg.Error
	}
	select {
	case reply <- r:
	default:
	}
}

// notify decodes a wallet notification. Params follow the EIP-1193 event
// payload wrapped in a single-element array, e.g. ["0x1"] for chainChanged.
func (b *BridgeClient) notify(msg bridgeMessage) {
	var ev Event
	switch msg.Method {
	case AccountsChanged.String():
		var params [][]string
		if err := json.Unmarshal(msg.Params, &params); err != nil || len(params) != 1 {
			b.log.Debug("Ignoring malformed accountsChanged", "params", string(msg.Params))
			return
		}
		ev = Event{Kind: AccountsChanged, Accounts: make([]common.Address, 0, len(params[0]))}
		for _, s := range params[0] {
			if !common.IsHexAddress(s) {
				b.log.Debug("Ignoring malformed accountsChanged", "account", s)
				return
			}
			ev.Accounts = append(ev.Accounts, common.HexToAddress(s))
		}
	case ChainChanged.String():
		var params []string
		if err := json.Unmarshal(msg.Params, &params); err != nil || len(params) != 1 {
			b.log.Debug("Ignoring malformed chainChanged", "params", string(msg.Params))
			return
		}
		ev = Event{Kind: ChainChanged, ChainID: params[0]}
	case Disconnected.String():
		ev = Event{Kind: Disconnected, Err: ErrDisconnected}
		var params []RPCError
		if err := json.Unmarshal(msg.Params, &params); err == nil && len(params) == 1 {
			ev.Err = &params[0]
		}
	default:
		b.log.Debug("Ignoring unknown wallet notification", "method", msg.Method)
		return
	}
	b.emit(ev)
}

func (b *BridgeClient) emit(ev Event) {
	select {
	case b.events <- ev:
	case <-b.done:
	default:
		b.log.Warn("Event buffer full, dropping wallet notification", "kind", ev.Kind)
	}
}

// dropConn fails every request waiting on conn and reports the drop.
func (b *BridgeClient) dropConn(conn *websocket.Conn, lost chan struct{}) {
	b.mu.Lock()
	if b.conn == conn {
		b.conn = nil
	}
	waiting := b.pending
	b.pending = make(map[uint64]chan bridgeReply)
	closed := b.closed
	b.mu.Unlock()

	conn.Close()
	close(lost)

	for _, reply := range waiting {
		select {
		case reply <- bridgeReply{err: ErrDisconnected}:
		default:
		}
	}

	if !closed {
		b.emit(Event{Kind: Disconnected, Err: ErrDisconnected})
	}
}
