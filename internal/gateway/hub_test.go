package gateway

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"tradegate/internal/event"
	"tradegate/internal/model"
)

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func dialWS(t *testing.T, f *fixture) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws?api_key=" + testKey
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	waitFor(t, func() bool { return f.hub.ClientCount() == 1 })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ws read: %v", err)
	}
	// Frames may carry several newline-separated envelopes; the first is
	// enough here.
	if i := strings.IndexByte(string(msg), '\n'); i >= 0 {
		msg = msg[:i]
	}
	var env envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		t.Fatalf("unmarshal envelope %q: %v", msg, err)
	}
	return env
}

func TestWSRejectsBadKey(t *testing.T) {
	f := newFixture(t)
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected handshake failure without key")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 handshake response, got %+v", resp)
	}
}

func TestWSReceivesBusEvents(t *testing.T) {
	f := newFixture(t)
	conn := dialWS(t, f)

	f.bus.Publish(event.OrderUpdate{Order: model.Order{
		OrderID: "ORD-1",
		Symbol:  "MNQ",
		Status:  model.StatusSubmitted,
	}})

	env := readEnvelope(t, conn)
	if env.Type != event.TypeOrderUpdate {
		t.Fatalf("expected order update envelope, got %s", env.Type)
	}
	data, err := json.Marshal(env.Data)
	if err != nil {
		t.Fatal(err)
	}
	var o model.Order
	if err := json.Unmarshal(data, &o); err != nil {
		t.Fatal(err)
	}
	if o.OrderID != "ORD-1" || o.Status != model.StatusSubmitted {
		t.Errorf("unexpected order payload: %+v", o)
	}
}

func TestWSSubscribeFiltersBySymbol(t *testing.T) {
	f := newFixture(t)
	conn := dialWS(t, f)

	sub := subscribeMsg{Type: "SUBSCRIBE", Events: []string{"market_data"}, Symbols: []string{"MNQ"}}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	waitFor(t, func() bool {
		f.hub.mu.RLock()
		defer f.hub.mu.RUnlock()
		for c := range f.hub.clients {
			if c.filters.types != nil {
				return true
			}
		}
		return false
	})

	// Filtered out: wrong type, then wrong symbol.
	f.bus.Publish(event.OrderUpdate{Order: model.Order{OrderID: "ORD-2"}})
	f.bus.Publish(event.MarketData{Snapshot: model.MarketDataSnapshot{Symbol: "MES", LastPrice: 5000}})
	// Admitted.
	f.bus.Publish(event.MarketData{Snapshot: model.MarketDataSnapshot{Symbol: "MNQ", LastPrice: 18000}})

	env := readEnvelope(t, conn)
	if env.Type != event.TypeMarketData {
		t.Fatalf("expected market data envelope, got %s", env.Type)
	}
	data, _ := json.Marshal(env.Data)
	var snap model.MarketDataSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Symbol != "MNQ" {
		t.Errorf("filter admitted symbol %s", snap.Symbol)
	}
}

func TestWSPingPong(t *testing.T) {
	f := newFixture(t)
	conn := dialWS(t, f)

	if err := conn.WriteJSON(map[string]int64{"ping": 42}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ws read: %v", err)
	}
	var pong struct {
		Type string `json:"type"`
		Ping int64  `json:"ping"`
	}
	if err := json.Unmarshal(msg, &pong); err != nil {
		t.Fatal(err)
	}
	if pong.Type != "pong" || pong.Ping != 42 {
		t.Errorf("unexpected pong: %+v", pong)
	}
}
