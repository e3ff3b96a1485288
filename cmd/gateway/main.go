package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"tradegate/config"
	"tradegate/internal/broker"
	"tradegate/internal/engine"
	"tradegate/internal/event"
	"tradegate/internal/gateway"
	"tradegate/internal/metrics"
	"tradegate/internal/notification"
	"tradegate/internal/risk"
	"tradegate/internal/session"
	redisstore "tradegate/internal/store/redis"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[gateway] starting...")

	cfg := config.Load()

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Risk gate with persisted state ----
	os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755)
	riskStore, err := risk.NewSQLiteStore(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("[gateway] risk store init failed: %v", err)
	}
	defer riskStore.Close()

	gate := risk.NewGate(risk.Limits{
		MaxContracts: cfg.MaxContracts,
		MaxDailyLoss: cfg.MaxDailyLoss,
	}, riskStore)

	// ---- Event bus ----
	bus := event.NewBus(256)
	bus.OnDrop = func(name string, t event.Type) {
		prom.EventsDropped.WithLabelValues(name).Inc()
	}

	// ---- Broker link ----
	link, err := broker.NewBridge(broker.BridgeConfig{
		BaseURL:    cfg.BridgeBaseURL,
		StreamURL:  cfg.BridgeStreamURL,
		ClientID:   cfg.BridgeClientID,
		APIKey:     cfg.BridgeAPIKey,
		TOTPSecret: cfg.BridgeTOTPSecret,
	})
	if err != nil {
		log.Fatalf("[gateway] bridge init failed: %v", err)
	}

	// ---- Notifications ----
	backends := []notification.Notifier{notification.NewLogNotifier()}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		backends = append(backends, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
		log.Println("[gateway] telegram notifier enabled")
	}
	if cfg.WebhookURL != "" {
		backends = append(backends, notification.NewWebhookNotifier(cfg.WebhookURL))
		log.Println("[gateway] webhook notifier enabled")
	}
	watcher := notification.NewWatcher(notification.NewMulti(backends...))
	gate.OnTrip = watcher.DailyLossTrip
	go watcher.Run(ctx, bus.Subscribe("notify", event.TypeConnectionStatus))

	// ---- Engine ----
	eng := engine.New(link, gate, bus, engine.NewState(), engine.Config{
		HeartbeatInterval: cfg.HeartbeatInterval,
		Metrics:           prom,
		Health:            health,
		OnEmergencyStop:   watcher.EmergencyStop,
	})

	// ---- Redis event mirror (optional) ----
	var publisher *redisstore.Publisher
	if cfg.RedisAddr != "" {
		publisher, err = redisstore.NewPublisher(redisstore.PublisherConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			log.Printf("[gateway] WARNING: redis init failed: %v (continuing without redis)", err)
		} else {
			go publisher.Run(ctx, bus.Subscribe("redis"))
		}
	}

	// ---- WS hub + REST server ----
	hub := gateway.NewHub(bus, prom)
	go hub.Run(ctx)

	mux := http.NewServeMux()
	gateway.NewServer(eng, hub, cfg.APIKey).RegisterRoutes(mux)
	httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		log.Printf("[gateway] listening on %s", cfg.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[gateway] http server: %v", err)
		}
	}()

	// ---- Venue session ----
	// A failed connect is not fatal: the API serves cached state and the
	// session can be re-established by restarting once the venue is back.
	if err := eng.Connect(ctx); err != nil {
		log.Printf("[gateway] WARNING: venue connect failed: %v (serving cached state)", err)
	} else {
		for _, sym := range cfg.ParseSymbols() {
			if err := eng.SubscribeMarketData(ctx, sym); err != nil {
				log.Printf("[gateway] WARNING: subscribe %s: %v", sym, err)
			}
		}
	}

	log.Printf("[gateway] market session: %s", session.StatusString(time.Now()))
	log.Printf("[gateway] ready: api=%s metrics=%s symbols=%v max_contracts=%d max_daily_loss=%.0f",
		cfg.ListenAddr, cfg.MetricsAddr, cfg.ParseSymbols(), cfg.MaxContracts, cfg.MaxDailyLoss)

	// ---- Wait for shutdown signal ----
	<-sigCh
	log.Println("[gateway] shutdown signal received, cleaning up...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	httpSrv.Shutdown(shutdownCtx)
	eng.Disconnect(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)
	if publisher != nil {
		publisher.Close()
	}

	log.Println("[gateway] shutdown complete.")
}
