// Package metrics exposes Prometheus metrics and a health endpoint for
// the trading gateway.
package metrics

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	OrdersSubmitted *prometheus.CounterVec // labels: side
	OrdersRejected  *prometheus.CounterVec // labels: reason
	OrdersClamped   prometheus.Counter
	OrdersCancelled prometheus.Counter
	FillsTotal      prometheus.Counter
	VenueErrors     *prometheus.CounterVec // labels: op
	SignalsTotal    *prometheus.CounterVec // labels: type
	EmergencyStops  prometheus.Counter

	MarketDataUpdates prometheus.Counter
	EventsDropped     *prometheus.CounterVec // labels: subscriber
	SubmitDur         prometheus.Histogram

	Connected      prometheus.Gauge
	TradingEnabled prometheus.Gauge
	WSClients      prometheus.Gauge
}

// NewMetrics registers and returns all gateway metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		OrdersSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradegate_orders_submitted_total",
			Help: "Orders accepted by the venue",
		}, []string{"side"}),
		OrdersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradegate_orders_rejected_total",
			Help: "Orders rejected before or at the venue",
		}, []string{"reason"}),
		OrdersClamped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradegate_orders_clamped_total",
			Help: "Orders whose quantity was clamped to the risk cap",
		}),
		OrdersCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradegate_orders_cancelled_total",
			Help: "Orders marked cancelled in the book",
		}),
		FillsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradegate_fills_total",
			Help: "Fill events received from the venue",
		}),
		VenueErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradegate_venue_errors_total",
			Help: "Broker link call failures by operation",
		}, []string{"op"}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradegate_signals_total",
			Help: "Strategy signals executed by type",
		}, []string{"type"}),
		EmergencyStops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradegate_emergency_stops_total",
			Help: "Emergency stop invocations",
		}),
		MarketDataUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradegate_market_data_updates_total",
			Help: "Market data pushes ingested",
		}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradegate_events_dropped_total",
			Help: "Bus events dropped per slow subscriber",
		}, []string{"subscriber"}),
		SubmitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tradegate_submit_duration_seconds",
			Help:    "Venue order submission latency",
			Buckets: prometheus.DefBuckets,
		}),
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradegate_connected",
			Help: "Venue connection state (0=down, 1=up)",
		}),
		TradingEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradegate_trading_enabled",
			Help: "Risk gate enable flag (0=disabled, 1=enabled)",
		}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradegate_ws_clients",
			Help: "Connected WebSocket subscribers",
		}),
	}

	prometheus.MustRegister(
		m.OrdersSubmitted,
		m.OrdersRejected,
		m.OrdersClamped,
		m.OrdersCancelled,
		m.FillsTotal,
		m.VenueErrors,
		m.SignalsTotal,
		m.EmergencyStops,
		m.MarketDataUpdates,
		m.EventsDropped,
		m.SubmitDur,
		m.Connected,
		m.TradingEnabled,
		m.WSClients,
	)

	return m
}

// HealthStatus tracks gateway liveness for the /healthz endpoint.
type HealthStatus struct {
	mu sync.RWMutex

	Connected      bool      `json:"connected"`
	TradingEnabled bool      `json:"trading_enabled"`
	LastMarketData time.Time `json:"last_market_data"`
	LastHeartbeat  time.Time `json:"last_heartbeat"`
	StartedAt      time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now(), TradingEnabled: true}
}

func (h *HealthStatus) SetConnected(v bool) {
	h.mu.Lock()
	h.Connected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetTradingEnabled(v bool) {
	h.mu.Lock()
	h.TradingEnabled = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastMarketData(t time.Time) {
	h.mu.Lock()
	h.LastMarketData = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastHeartbeat(t time.Time) {
	h.mu.Lock()
	h.LastHeartbeat = t
	h.mu.Unlock()
}

// ServeHTTP handles the /healthz endpoint. Disconnected is reported as
// degraded, not down: the gateway still answers queries from cache.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	if !h.Connected {
		status = "degraded"
	}

	mdAge := ""
	if !h.LastMarketData.IsZero() {
		mdAge = time.Since(h.LastMarketData).Round(time.Millisecond).String()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		Status         string `json:"status"`
		Uptime         string `json:"uptime"`
		Connected      bool   `json:"connected"`
		TradingEnabled bool   `json:"trading_enabled"`
		LastMarketData string `json:"last_market_data"`
		MarketDataAge  string `json:"market_data_age"`
		LastHeartbeat  string `json:"last_heartbeat"`
	}{
		Status:         status,
		Uptime:         time.Since(h.StartedAt).Round(time.Second).String(),
		Connected:      h.Connected,
		TradingEnabled: h.TradingEnabled,
		LastMarketData: h.LastMarketData.Format(time.RFC3339),
		MarketDataAge:  mdAge,
		LastHeartbeat:  h.LastHeartbeat.Format(time.RFC3339),
	})
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		addr: addr,
		srv:  &http.Server{Addr: addr, Handler: mux},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
