// Command paper runs the gateway against the built-in simulated venue.
// No broker credentials are required: market data is a random walk and
// market orders fill instantly with configurable slippage. Intended for
// strategy integration testing against the real REST/WS surface.
package main

import (
	"context"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tradegate/internal/broker"
	"tradegate/internal/engine"
	"tradegate/internal/event"
	"tradegate/internal/gateway"
	"tradegate/internal/metrics"
	"tradegate/internal/notification"
	"tradegate/internal/risk"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[paper] starting paper trading gateway...")

	listenAddr := getEnv("LISTEN_ADDR", ":8000")
	metricsAddr := getEnv("METRICS_ADDR", ":9090")
	symbols := parseSymbols(getEnv("SYMBOLS", "MNQ"))
	startPrice := 18000.0

	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(metricsAddr, health)
	metricsSrv.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// In-memory risk state only; paper sessions reset on restart.
	gate := risk.NewGate(risk.DefaultLimits(), nil)

	bus := event.NewBus(256)
	bus.OnDrop = func(name string, t event.Type) {
		prom.EventsDropped.WithLabelValues(name).Inc()
	}

	sim := broker.NewSim(broker.SimConfig{
		Balance:     50000,
		SlippageBps: 1,
	})

	watcher := notification.NewWatcher(notification.NewLogNotifier())
	gate.OnTrip = watcher.DailyLossTrip
	go watcher.Run(ctx, bus.Subscribe("notify", event.TypeConnectionStatus))

	eng := engine.New(sim, gate, bus, engine.NewState(), engine.Config{
		Metrics:         prom,
		Health:          health,
		OnEmergencyStop: watcher.EmergencyStop,
	})

	hub := gateway.NewHub(bus, prom)
	go hub.Run(ctx)

	mux := http.NewServeMux()
	gateway.NewServer(eng, hub, getEnv("API_KEY", "")).RegisterRoutes(mux)
	httpSrv := &http.Server{Addr: listenAddr, Handler: mux}
	go func() {
		log.Printf("[paper] listening on %s", listenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[paper] http server: %v", err)
		}
	}()

	if err := eng.Connect(ctx); err != nil {
		log.Fatalf("[paper] sim connect failed: %v", err)
	}
	for _, sym := range symbols {
		eng.SubscribeMarketData(ctx, sym)
	}

	// Random-walk tick generator.
	go func() {
		prices := make(map[string]float64, len(symbols))
		for _, sym := range symbols {
			prices[sym] = startPrice
		}
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, sym := range symbols {
					prices[sym] += (rand.Float64() - 0.5) * 4
					sim.PushTick(sym, prices[sym], int64(rand.Intn(50)+1))
				}
			}
		}
	}()

	log.Printf("[paper] ready: api=%s metrics=%s symbols=%v", listenAddr, metricsAddr, symbols)

	<-sigCh
	log.Println("[paper] shutdown signal received, cleaning up...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	httpSrv.Shutdown(shutdownCtx)
	eng.Disconnect(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)

	log.Println("[paper] shutdown complete.")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseSymbols(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
