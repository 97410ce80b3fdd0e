package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/STRATINT/feedwatch/internal/models"
)

// Notifier sends one notification per new item. Send makes a single attempt.
type Notifier interface {
	Send(ctx context.Context, item models.Item) error
}

// DeliveryError reports a webhook response outside 2xx.
type DeliveryError struct {
	StatusCode int
	Body       string
}

func (e *DeliveryError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("webhook returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("webhook returned status %d: %s", e.StatusCode, e.Body)
}

// WebhookConfig configures a Webhook.
type WebhookConfig struct {
	URL           string
	Source        string
	Secret        string
	Timeout       time.Duration
	RatePerSecond float64
	Client        *http.Client
	Logger        *slog.Logger
}

// Webhook posts JSON payloads to a fixed URL.
type Webhook struct {
	url     string
	source  string
	secret  string
	timeout time.Duration
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewWebhook creates a webhook notifier. A zero RatePerSecond disables
// throttling.
func NewWebhook(cfg WebhookConfig) *Webhook {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Source == "" {
		cfg.Source = "feedwatch"
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	w := &Webhook{
		url:     cfg.URL,
		source:  cfg.Source,
		secret:  cfg.Secret,
		timeout: cfg.Timeout,
		client:  cfg.Client,
		logger:  cfg.Logger,
	}
	if cfg.RatePerSecond > 0 {
		w.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	return w
}

// Send posts the item. Non-2xx responses return a *DeliveryError.
func (w *Webhook) Send(ctx context.Context, item models.Item) error {
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("webhook throttle: %w", err)
		}
	}

	body, err := json.Marshal(NewPayload(w.source, item))
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}

	deliveryID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "feedwatch/1.0")
	req.Header.Set("X-Delivery-ID", deliveryID)

	if w.secret != "" {
		token, err := SignDelivery(w.secret, deliveryID, item.ID, time.Now(), 5*time.Minute)
		if err != nil {
			return fmt.Errorf("sign delivery: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DeliveryError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	w.logger.Debug("webhook delivered", "item_id", item.ID, "delivery_id", deliveryID, "status", resp.StatusCode)
	return nil
}
