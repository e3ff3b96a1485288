// Package notification delivers operational alerts (venue connection
// loss, daily-loss trips, emergency stops) to external channels such as
// Telegram and generic webhooks.
package notification

import (
	"context"
	"fmt"
	"log"
	"time"

	"tradegate/internal/event"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier is a simple notifier that logs alerts (useful for development).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// Multi fans one alert out to several backends. Delivery failures are
// logged per backend and do not stop the others.
type Multi struct {
	backends []Notifier
}

// NewMulti creates a fan-out notifier.
func NewMulti(backends ...Notifier) *Multi {
	return &Multi{backends: backends}
}

func (m *Multi) Send(ctx context.Context, alert Alert) error {
	for _, n := range m.backends {
		if err := n.Send(ctx, alert); err != nil {
			log.Printf("[notify] delivery failed: %v", err)
		}
	}
	return nil
}

// Watcher turns gateway events into alerts: connection loss and recovery
// are reported, market data and order traffic are not.
type Watcher struct {
	notifier Notifier
	timeout  time.Duration

	wasConnected bool
	seenStatus   bool
}

// NewWatcher creates a watcher delivering through the given notifier.
func NewWatcher(n Notifier) *Watcher {
	return &Watcher{notifier: n, timeout: 10 * time.Second}
}

// Run drains a bus subscription until ctx is cancelled or the channel is
// closed.
func (w *Watcher) Run(ctx context.Context, sub *event.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if cs, ok := ev.(event.ConnectionStatus); ok {
				w.onStatus(ctx, cs)
			}
		}
	}
}

func (w *Watcher) onStatus(ctx context.Context, cs event.ConnectionStatus) {
	// Only transitions are alert-worthy.
	if w.seenStatus && cs.Connected == w.wasConnected {
		return
	}
	w.seenStatus = true
	w.wasConnected = cs.Connected

	alert := Alert{
		Level:   AlertInfo,
		Title:   "Venue connected",
		Message: "Trading session established.",
	}
	if !cs.Connected {
		alert = Alert{
			Level:   AlertCritical,
			Title:   "Venue connection lost",
			Message: fmt.Sprintf("Session is down: %s", orUnknown(cs.Error)),
		}
	}
	w.deliver(ctx, alert)
}

// DailyLossTrip reports a daily-loss disable. Wired to the risk gate's
// trip hook.
func (w *Watcher) DailyLossTrip(dailyPnL float64) {
	w.deliver(context.Background(), Alert{
		Level:   AlertCritical,
		Title:   "Daily loss limit reached",
		Message: fmt.Sprintf("Trading disabled at daily PnL %.2f. Manual reset required.", dailyPnL),
	})
}

// EmergencyStop reports an emergency stop and whether cleanup was clean.
func (w *Watcher) EmergencyStop(err error) {
	msg := "All orders cancelled and positions closed."
	if err != nil {
		msg = fmt.Sprintf("Cleanup incomplete: %v", err)
	}
	w.deliver(context.Background(), Alert{
		Level:   AlertCritical,
		Title:   "Emergency stop executed",
		Message: msg,
	})
}

func (w *Watcher) deliver(ctx context.Context, alert Alert) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	if err := w.notifier.Send(ctx, alert); err != nil {
		log.Printf("[notify] %s: %v", alert.Title, err)
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown cause"
	}
	return s
}
