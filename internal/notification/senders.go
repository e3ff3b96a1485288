package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// outClient is shared by the outbound alert backends. The Watcher already
// bounds delivery with a context deadline; the client timeout is the
// backstop for callers without one.
var outClient = &http.Client{Timeout: 10 * time.Second}

func postJSON(ctx context.Context, url string, body interface{}) (*http.Response, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return outClient.Do(req)
}

// WebhookNotifier POSTs gateway alerts to an operator-configured HTTP
// endpoint as a flat JSON document, so they can land in Slack relays,
// PagerDuty bridges, or audit recorders without a bespoke integration.
type WebhookNotifier struct {
	url string
}

// webhookAlert is the wire form of one alert.
type webhookAlert struct {
	Service string `json:"service"`
	Level   string `json:"level"`
	Title   string `json:"title"`
	Message string `json:"message"`
	SentAt  string `json:"sent_at"`
}

// NewWebhookNotifier creates a webhook backend posting to url.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{url: url}
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	resp, err := postJSON(ctx, w.url, webhookAlert{
		Service: "tradegate",
		Level:   string(alert.Level),
		Title:   alert.Title,
		Message: alert.Message,
		SentAt:  time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: status %d from %s", resp.StatusCode, w.url)
	}
	return nil
}

// TelegramNotifier pushes gateway alerts to a Telegram chat through the
// Bot API. This is the operator's pager for connection loss, loss-limit
// trips, and emergency stops.
type TelegramNotifier struct {
	chatID  string
	sendURL string
}

// NewTelegramNotifier creates a Telegram backend for the given bot token
// and target chat.
func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		chatID:  chatID,
		sendURL: "https://api.telegram.org/bot" + botToken + "/sendMessage",
	}
}

var levelBadge = map[AlertLevel]string{
	AlertInfo:     "ℹ️",
	AlertWarning:  "⚠️",
	AlertCritical: "\U0001f6a8",
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	text := fmt.Sprintf("%s *%s*\n%s",
		levelBadge[alert.Level], mdEscape(alert.Title), mdEscape(alert.Message))

	resp, err := postJSON(ctx, t.sendURL, map[string]string{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "MarkdownV2",
	})
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram: status %d", resp.StatusCode)
	}
	return nil
}

// mdEscaper backslash-escapes every character MarkdownV2 reserves, so
// alert text with prices and symbols ("MNQ -1500.00") survives parse mode.
var mdEscaper = strings.NewReplacer(
	"_", "\\_", "*", "\\*", "[", "\\[", "]", "\\]", "(", "\\(", ")", "\\)",
	"~", "\\~", "`", "\\`", ">", "\\>", "#", "\\#", "+", "\\+", "-", "\\-",
	"=", "\\=", "|", "\\|", "{", "\\{", "}", "\\}", ".", "\\.", "!", "\\!",
)

func mdEscape(s string) string {
	return mdEscaper.Replace(s)
}
