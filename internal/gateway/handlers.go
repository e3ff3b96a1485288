package gateway

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"tradegate/internal/book"
	"tradegate/internal/engine"
	"tradegate/internal/model"
	"tradegate/internal/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// Server serves the REST surface and the WebSocket endpoint.
type Server struct {
	eng    *engine.Engine
	hub    *Hub
	apiKey string
	start  time.Time
}

// NewServer builds the transport server. An empty apiKey disables
// authentication.
func NewServer(eng *engine.Engine, hub *Hub, apiKey string) *Server {
	return &Server{eng: eng, hub: hub, apiKey: apiKey, start: time.Now()}
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
}

// RegisterRoutes registers all HTTP routes on the provided mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWS)

	mux.HandleFunc("/status", s.auth(s.handleStatus))
	mux.HandleFunc("/market/", s.auth(s.handleMarket))
	mux.HandleFunc("/orders", s.auth(s.handleOrders))
	mux.HandleFunc("/orders/", s.auth(s.handleOrderByID))
	mux.HandleFunc("/positions", s.auth(s.handlePositions))
	mux.HandleFunc("/positions/", s.auth(s.handlePositionAction))
	mux.HandleFunc("/account", s.auth(s.handleAccount))
	mux.HandleFunc("/signals/execute", s.auth(s.handleSignal))
	mux.HandleFunc("/controls/", s.auth(s.handleControls))
}

// auth wraps a handler with X-API-Key verification.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		if s.apiKey != "" && r.Header.Get("X-API-Key") != s.apiKey {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	SetCORS(w)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "tradegate",
		"status":  "running",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	SetCORS(w)
	now := time.Now()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"connected":       s.eng.Connected(),
		"trading_enabled": s.eng.TradingEnabled(),
		"market_open":     session.IsOpen(now),
		"market_session":  session.StatusString(now),
		"ws_clients":      s.hub.ClientCount(),
		"uptime_sec":      int64(time.Since(s.start).Seconds()),
		"ts":              now.UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.apiKey != "" &&
		r.Header.Get("X-API-Key") != s.apiKey &&
		r.URL.Query().Get("api_key") != s.apiKey {
		writeError(w, http.StatusUnauthorized, "invalid API key")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] ws upgrade error: %v", err)
		return
	}
	NewClient(s.hub, conn)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.Status(r.Context()))
}

// handleMarket serves GET /market/{symbol}, GET /market/{symbol}/history
// and POST /market/subscribe/{symbol}.
func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/market/")

	if sym, ok := strings.CutPrefix(rest, "subscribe/"); ok {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if sym == "" {
			writeError(w, http.StatusBadRequest, "symbol is required")
			return
		}
		if err := s.eng.SubscribeMarketData(r.Context(), sym); err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "subscribed", "symbol": sym})
		return
	}

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if sym, ok := strings.CutSuffix(rest, "/history"); ok && sym != "" {
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}
		hist := s.eng.MarketDataHistory(sym, limit)
		if hist == nil {
			hist = []model.MarketDataSnapshot{}
		}
		writeJSON(w, http.StatusOK, hist)
		return
	}

	snap, ok := s.eng.MarketData(rest)
	if !ok {
		writeError(w, http.StatusNotFound, "no market data for "+rest)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.eng.OpenOrders())

	case http.MethodPost:
		var req placeOrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		order, err := s.eng.PlaceOrder(r.Context(), req.draft())
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, order)

	case http.MethodDelete:
		if err := s.eng.CancelAllOrders(r.Context()); err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleOrderByID serves GET and DELETE on /orders/{id}.
func (s *Server) handleOrderByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/orders/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "order id is required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		o, ok := s.eng.Order(id)
		if !ok {
			writeError(w, http.StatusNotFound, "order "+id+" not found")
			return
		}
		writeJSON(w, http.StatusOK, o)

	case http.MethodDelete:
		if err := s.eng.CancelOrder(r.Context(), id); err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled", "order_id": id})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.eng.Positions(r.Context()))
}

// handlePositionAction serves POST /positions/close-all and
// POST /positions/{symbol}/close.
func (s *Server) handlePositionAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/positions/")

	if rest == "close-all" {
		if err := s.eng.CloseAllPositions(r.Context()); err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
		return
	}

	sym, ok := strings.CutSuffix(rest, "/close")
	if !ok || sym == "" {
		writeError(w, http.StatusNotFound, "unknown position action")
		return
	}
	if err := s.eng.ClosePosition(r.Context(), sym); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed", "symbol": sym})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	acct, err := s.eng.AccountInfo(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var sig model.Signal
	if err := json.NewDecoder(r.Body).Decode(&sig); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := s.eng.ExecuteSignal(r.Context(), sig); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "executed",
		"signal": sig.Type,
		"symbol": sig.Symbol,
	})
}

// handleControls serves the trading control actions:
// POST /controls/{enable|disable|reset-daily|emergency-stop}.
func (s *Server) handleControls(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	action := strings.TrimPrefix(r.URL.Path, "/controls/")

	switch action {
	case "enable":
		s.eng.EnableTrading()
		writeJSON(w, http.StatusOK, map[string]string{"status": "trading enabled"})
	case "disable":
		s.eng.DisableTrading()
		writeJSON(w, http.StatusOK, map[string]string{"status": "trading disabled"})
	case "reset-daily":
		s.eng.ResetDaily()
		writeJSON(w, http.StatusOK, map[string]string{"status": "daily stats reset"})
	case "emergency-stop":
		err := s.eng.EmergencyStop(r.Context())
		resp := map[string]interface{}{"status": "emergency stop executed", "clean": err == nil}
		if err != nil {
			resp["detail"] = err.Error()
		}
		writeJSON(w, http.StatusOK, resp)
	default:
		writeError(w, http.StatusNotFound, "unknown control action")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeEngineError maps engine result contracts to HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrNotConnected):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, book.ErrUnknownOrder):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, book.ErrNotOpen):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrTradingDisabled):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, engine.ErrInvalidSignal),
		errors.Is(err, model.ErrBadQuantity),
		errors.Is(err, model.ErrNeedPrice),
		errors.Is(err, model.ErrNeedStop),
		errors.Is(err, model.ErrBadSide),
		errors.Is(err, model.ErrBadOrderKind):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrOrderRejected), errors.Is(err, engine.ErrVenue):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
