package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pquerna/otp/totp"

	"tradegate/internal/model"
)

// DefaultKindCodes is the bridge's order-type wire vocabulary.
func DefaultKindCodes() KindMap {
	return KindMap{
		model.KindMarket:    "MKT",
		model.KindLimit:     "LMT",
		model.KindStop:      "STP",
		model.KindStopLimit: "STP_LMT",
	}
}

// DefaultSideCodes is the bridge's side wire vocabulary.
func DefaultSideCodes() SideMap {
	return SideMap{
		model.SideBuy:  "B",
		model.SideSell: "S",
	}
}

// BridgeConfig configures the broker bridge adapter.
type BridgeConfig struct {
	BaseURL    string // REST endpoint, e.g. "https://bridge:8443"
	StreamURL  string // WebSocket push endpoint, e.g. "wss://bridge:8443/stream"
	ClientID   string
	APIKey     string
	TOTPSecret string // base32 secret for session login codes

	Timeout    time.Duration
	KindCodes  KindMap // nil = DefaultKindCodes
	SideCodes  SideMap // nil = DefaultSideCodes
	PushBuffer int
}

// Bridge reaches the execution venue through a broker-bridge service:
// REST for session/commands/queries, a WebSocket stream for market data
// and fill pushes. Sessions authenticate with client ID, API key, and a
// TOTP code generated from the configured secret.
type Bridge struct {
	cfg    BridgeConfig
	client *http.Client
	kinds  KindMap
	sides  SideMap

	mu        sync.Mutex
	token     string
	conn      *websocket.Conn
	pushCh    chan Push
	readStop  context.CancelFunc
	connected bool
}

var errBridgeDisconnected = errors.New("bridge: not connected")

// NewBridge creates a bridge adapter. The kind and side mapping tables are
// validated here; an incomplete table is a construction failure.
func NewBridge(cfg BridgeConfig) (*Bridge, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 7 * time.Second
	}
	if cfg.PushBuffer <= 0 {
		cfg.PushBuffer = 4096
	}
	kinds := cfg.KindCodes
	if kinds == nil {
		kinds = DefaultKindCodes()
	}
	sides := cfg.SideCodes
	if sides == nil {
		sides = DefaultSideCodes()
	}
	if err := ValidateKindMap(kinds); err != nil {
		return nil, err
	}
	if err := ValidateSideMap(sides); err != nil {
		return nil, err
	}
	return &Bridge{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		kinds:  kinds,
		sides:  sides,
	}, nil
}

// Connect logs into the bridge and opens the push stream. The engine
// serializes connect and disconnect; the lock here only guards field
// access, not the whole handshake.
func (b *Bridge) Connect(ctx context.Context) error {
	if b.isConnected() {
		return nil
	}

	code, err := totp.GenerateCode(b.cfg.TOTPSecret, time.Now())
	if err != nil {
		return fmt.Errorf("bridge: totp: %w", err)
	}

	var resp struct {
		Token string `json:"token"`
	}
	err = b.doJSON(ctx, "POST", "/session", map[string]string{
		"client_id": b.cfg.ClientID,
		"api_key":   b.cfg.APIKey,
		"totp":      code,
	}, &resp)
	if err != nil {
		return fmt.Errorf("bridge: login: %w", err)
	}
	b.mu.Lock()
	b.token = resp.Token
	b.mu.Unlock()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+resp.Token)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, b.cfg.StreamURL, header)
	if err != nil {
		b.mu.Lock()
		b.token = ""
		b.mu.Unlock()
		return fmt.Errorf("bridge: stream dial: %w", err)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	pushCh := make(chan Push, b.cfg.PushBuffer)

	b.mu.Lock()
	b.conn = conn
	b.pushCh = pushCh
	b.readStop = cancel
	b.connected = true
	b.mu.Unlock()

	go b.readLoop(readCtx, conn, pushCh)

	log.Printf("[bridge] connected to %s as %s", b.cfg.BaseURL, b.cfg.ClientID)
	return nil
}

// Disconnect tears down the push stream and the session.
func (b *Bridge) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return nil
	}
	b.connected = false
	b.readStop()
	conn := b.conn
	b.conn = nil
	b.mu.Unlock()

	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	if err := b.doJSON(ctx, "DELETE", "/session", nil, nil); err != nil {
		log.Printf("[bridge] logout: %v", err)
	}
	b.mu.Lock()
	b.token = ""
	b.mu.Unlock()
	return nil
}

func (b *Bridge) Subscribe(ctx context.Context, symbol string) error {
	if !b.isConnected() {
		return errBridgeDisconnected
	}
	return b.doJSON(ctx, "POST", "/subscribe/"+symbol, nil, nil)
}

func (b *Bridge) SubmitOrder(ctx context.Context, spec OrderSpec) (Ack, error) {
	if !b.isConnected() {
		return Ack{}, errBridgeDisconnected
	}
	req := map[string]interface{}{
		"symbol":     spec.Symbol,
		"side":       b.sides[spec.Side],
		"quantity":   spec.Quantity,
		"order_type": b.kinds[spec.Kind],
	}
	if spec.Price > 0 {
		req["price"] = spec.Price
	}
	if spec.StopPrice > 0 {
		req["stop_price"] = spec.StopPrice
	}
	var resp struct {
		OrderID string `json:"order_id"`
		Status  string `json:"status"`
	}
	if err := b.doJSON(ctx, "POST", "/orders", req, &resp); err != nil {
		return Ack{}, err
	}
	status := AckAccepted
	switch resp.Status {
	case "QUEUED":
		status = AckQueued
	case "REJECTED":
		status = AckRejected
	}
	return Ack{OrderID: resp.OrderID, Status: status}, nil
}

func (b *Bridge) CancelOrder(ctx context.Context, orderID string) error {
	if !b.isConnected() {
		return errBridgeDisconnected
	}
	return b.doJSON(ctx, "DELETE", "/orders/"+orderID, nil, nil)
}

func (b *Bridge) CancelAllOrders(ctx context.Context) error {
	if !b.isConnected() {
		return errBridgeDisconnected
	}
	return b.doJSON(ctx, "DELETE", "/orders", nil, nil)
}

func (b *Bridge) Positions(ctx context.Context) ([]model.Position, error) {
	if !b.isConnected() {
		return nil, errBridgeDisconnected
	}
	var resp struct {
		Positions []model.Position `json:"positions"`
	}
	if err := b.doJSON(ctx, "GET", "/positions", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Positions, nil
}

func (b *Bridge) AccountInfo(ctx context.Context) (AccountReport, error) {
	if !b.isConnected() {
		return AccountReport{}, errBridgeDisconnected
	}
	var resp AccountReport
	if err := b.doJSON(ctx, "GET", "/account", nil, &resp); err != nil {
		return AccountReport{}, err
	}
	return resp, nil
}

func (b *Bridge) Pushes() <-chan Push {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pushCh
}

func (b *Bridge) isConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// readLoop decodes stream frames into pushes until the connection drops or
// Disconnect cancels it. The push channel is closed on exit.
func (b *Bridge) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- Push) {
	defer close(out)
	for {
		if ctx.Err() != nil {
			return
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("[bridge] stream read: %v", err)
			}
			return
		}
		var frame struct {
			Type       string          `json:"type"`
			MarketData *MarketDataPush `json:"market_data,omitempty"`
			Fill       *FillPush       `json:"fill,omitempty"`
		}
		if err := json.Unmarshal(msg, &frame); err != nil {
			log.Printf("[bridge] bad stream frame: %v", err)
			continue
		}
		switch frame.Type {
		case "market_data":
			if frame.MarketData != nil {
				out <- Push{MarketData: frame.MarketData}
			}
		case "fill":
			if frame.Fill != nil {
				out <- Push{Fill: frame.Fill}
			}
		}
	}
}

func (b *Bridge) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.cfg.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", b.cfg.APIKey)
	b.mu.Lock()
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}
	b.mu.Unlock()

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("bridge: %s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(data))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
