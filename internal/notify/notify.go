// Package notify delivers triggered-alert notifications to alert owners.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"marketpulse/internal/config"
	apperrors "marketpulse/internal/errors"
	"marketpulse/internal/models"
	"marketpulse/pkg/utils"
)

// Notification describes one triggered alert.
type Notification struct {
	AlertID      string
	OwnerID      string
	Symbol       string
	Condition    models.Condition
	TargetPrice  float64
	CurrentPrice float64
	TriggeredAt  time.Time
}

// NewNotification builds a notification for alert fired at price.
func NewNotification(alert *models.Alert, price float64, at time.Time) Notification {
	return Notification{
		AlertID:      alert.ID,
		OwnerID:      alert.OwnerID,
		Symbol:       alert.Symbol,
		Condition:    alert.Condition,
		TargetPrice:  alert.TargetPrice,
		CurrentPrice: price,
		TriggeredAt:  at,
	}
}

// Title returns a one-line headline.
func (n Notification) Title() string {
	emoji := "📈"
	if n.Condition == models.ConditionBelow {
		emoji = "📉"
	}
	return fmt.Sprintf("%s Price Alert Triggered: %s", emoji, n.Symbol)
}

// Message returns the notification body.
func (n Notification) Message() string {
	return fmt.Sprintf(
		"Symbol: %s\nCondition: Price %s %s\nCurrent Price: %s\nTriggered at: %s",
		n.Symbol,
		n.Condition.Symbol(),
		utils.FormatUSD(n.TargetPrice),
		utils.FormatUSD(n.CurrentPrice),
		n.TriggeredAt.UTC().Format("2006-01-02 15:04:05 UTC"),
	)
}

// Channel is a single delivery channel.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, n Notification) error
}

// MultiDeliverer fans a notification out to every channel.
type MultiDeliverer struct {
	mu       sync.RWMutex
	channels []Channel
	logger   zerolog.Logger
}

// NewMultiDeliverer creates a deliverer over channels.
func NewMultiDeliverer(logger zerolog.Logger, channels ...Channel) *MultiDeliverer {
	return &MultiDeliverer{channels: channels, logger: logger}
}

// New builds the enabled channels from configuration.
func New(cfg config.NotificationConfig, logger zerolog.Logger) *MultiDeliverer {
	md := NewMultiDeliverer(logger)
	if cfg.Terminal {
		md.AddChannel(NewTerminalDeliverer(nil))
	}
	if cfg.Webhook.Enabled {
		md.AddChannel(NewWebhookDeliverer(cfg.Webhook, nil))
	}
	if cfg.Telegram.Enabled {
		md.AddChannel(NewTelegramDeliverer(cfg.Telegram, nil))
	}
	return md
}

// AddChannel adds a delivery channel.
func (md *MultiDeliverer) AddChannel(ch Channel) {
	md.mu.Lock()
	defer md.mu.Unlock()
	md.channels = append(md.channels, ch)
}

// Channels returns the configured channel names.
func (md *MultiDeliverer) Channels() []string {
	md.mu.RLock()
	defer md.mu.RUnlock()

	names := make([]string, 0, len(md.channels))
	for _, ch := range md.channels {
		names = append(names, ch.Name())
	}
	return names
}

// Deliver sends n to every channel. Every channel is attempted; the
// returned error lists the ones that failed.
func (md *MultiDeliverer) Deliver(ctx context.Context, n Notification) error {
	md.mu.RLock()
	channels := md.channels
	md.mu.RUnlock()

	var errs []string
	for _, ch := range channels {
		if err := ch.Deliver(ctx, n); err != nil {
			md.logger.Debug().Err(err).Str("channel", ch.Name()).Str("alert_id", n.AlertID).Msg("Channel delivery failed")
			errs = append(errs, fmt.Sprintf("%s: %v", ch.Name(), err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", apperrors.ErrDeliveryFailed, strings.Join(errs, "; "))
	}
	return nil
}

// ============================================================================
// Webhook
// ============================================================================

// WebhookDeliverer posts notifications as JSON to a URL.
type WebhookDeliverer struct {
	url    string
	client *http.Client
}

// NewWebhookDeliverer creates a webhook channel. A nil client gets a
// 10 second timeout.
func NewWebhookDeliverer(cfg config.WebhookConfig, client *http.Client) *WebhookDeliverer {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookDeliverer{url: cfg.URL, client: client}
}

// Name returns the channel name.
func (w *WebhookDeliverer) Name() string {
	return "webhook"
}

type webhookPayload struct {
	Type         string  `json:"type"`
	Title        string  `json:"title"`
	Message      string  `json:"message"`
	AlertID      string  `json:"alert_id"`
	OwnerID      string  `json:"owner_id"`
	Symbol       string  `json:"symbol"`
	Condition    string  `json:"condition"`
	TargetPrice  float64 `json:"target_price"`
	CurrentPrice float64 `json:"current_price"`
	Timestamp    string  `json:"timestamp"`
}

// Deliver posts the notification.
func (w *WebhookDeliverer) Deliver(ctx context.Context, n Notification) error {
	payload := webhookPayload{
		Type:         "price_alert",
		Title:        n.Title(),
		Message:      n.Message(),
		AlertID:      n.AlertID,
		OwnerID:      n.OwnerID,
		Symbol:       n.Symbol,
		Condition:    string(n.Condition),
		TargetPrice:  n.TargetPrice,
		CurrentPrice: n.CurrentPrice,
		Timestamp:    n.TriggeredAt.UTC().Format(time.RFC3339),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "MarketPulse/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// ============================================================================
// Telegram
// ============================================================================

// DefaultTelegramAPIURL is the Bot API base.
const DefaultTelegramAPIURL = "https://api.telegram.org"

// TelegramDeliverer sends a direct message to the alert owner. The owner id
// is used as the chat id.
type TelegramDeliverer struct {
	apiURL   string
	botToken string
	client   *http.Client
}

// NewTelegramDeliverer creates a Telegram channel.
func NewTelegramDeliverer(cfg config.TelegramConfig, client *http.Client) *TelegramDeliverer {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = DefaultTelegramAPIURL
	}
	return &TelegramDeliverer{
		apiURL:   strings.TrimRight(apiURL, "/"),
		botToken: cfg.BotToken,
		client:   client,
	}
}

// Name returns the channel name.
func (t *TelegramDeliverer) Name() string {
	return "telegram"
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Deliver sends the notification to the owner's chat.
func (t *TelegramDeliverer) Deliver(ctx context.Context, n Notification) error {
	if n.OwnerID == "" {
		return fmt.Errorf("telegram: alert %s has no owner", n.AlertID)
	}

	text := fmt.Sprintf("<b>%s</b>\n\n%s", escapeHTML(n.Title()), escapeHTML(n.Message()))
	body, err := json.Marshal(map[string]any{
		"chat_id":    n.OwnerID,
		"text":       text,
		"parse_mode": "HTML",
	})
	if err != nil {
		return fmt.Errorf("marshaling telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiURL, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		// The request URL carries the bot token.
		return fmt.Errorf("sending telegram message: %w", redactToken(err, t.botToken))
	}
	defer resp.Body.Close()

	var tr telegramResponse
	_ = json.NewDecoder(resp.Body).Decode(&tr)
	if resp.StatusCode != http.StatusOK || !tr.OK {
		if tr.Description != "" {
			return fmt.Errorf("telegram API returned status %d: %s", resp.StatusCode, tr.Description)
		}
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}
	return nil
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

func redactToken(err error, token string) error {
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return &redactedError{msg: strings.ReplaceAll(err.Error(), token, "***"), err: err}
}

// escapeHTML escapes HTML special characters for Telegram.
func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}
