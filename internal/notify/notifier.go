package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/devrev/screenhub/internal/model"
)

// ErrRateLimited is returned when a notification is dropped by RateLimited
var ErrRateLimited = errors.New("notification rate limited")

// Notifier delivers an alert out of band
type Notifier interface {
	Notify(ctx context.Context, alert model.AlertRecord) error
}

// WebhookConfig holds webhook notifier configuration
type WebhookConfig struct {
	URL        string
	Timeout    time.Duration
	RetryCount int
	RetryWait  time.Duration
	Headers    map[string]string
}

// WebhookNotifier posts alerts as JSON to an HTTP endpoint
type WebhookNotifier struct {
	client *resty.Client
	url    string
	logger *zap.Logger
}

// webhookPayload is the body posted to the webhook
type webhookPayload struct {
	Service string            `json:"service"`
	Alert   model.AlertRecord `json:"alert"`
	SentAt  time.Time         `json:"sent_at"`
}

// NewWebhookNotifier creates a webhook notifier
func NewWebhookNotifier(cfg WebhookConfig, logger *zap.Logger) *WebhookNotifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = 500 * time.Millisecond
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(4 * cfg.RetryWait).
		SetHeader("Content-Type", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})
	for k, v := range cfg.Headers {
		client.SetHeader(k, v)
	}

	return &WebhookNotifier{client: client, url: cfg.URL, logger: logger}
}

// Notify posts the alert
func (n *WebhookNotifier) Notify(ctx context.Context, alert model.AlertRecord) error {
	resp, err := n.client.R().
		SetContext(ctx).
		SetBody(webhookPayload{Service: "screenhub", Alert: alert, SentAt: time.Now().UTC()}).
		Post(n.url)
	if err != nil {
		return fmt.Errorf("failed to post alert: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}

	n.logger.Debug("Alert notification delivered",
		zap.String("alert_id", alert.ID),
		zap.String("check", alert.CheckName),
		zap.Int("status", resp.StatusCode()))
	return nil
}

// LogNotifier writes alerts to the log; used when no webhook is configured
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log notifier
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the alert at error level
func (n *LogNotifier) Notify(ctx context.Context, alert model.AlertRecord) error {
	n.logger.Error("Critical alert raised",
		zap.String("alert_id", alert.ID),
		zap.String("check", alert.CheckName),
		zap.String("level", string(alert.Level)),
		zap.String("message", alert.Message),
		zap.Time("triggered_at", alert.TriggeredAt))
	return nil
}

// RateLimited drops notifications beyond a token-bucket rate
type RateLimited struct {
	next    Notifier
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewRateLimited wraps next with a limiter of perSecond events and burst
func NewRateLimited(next Notifier, perSecond float64, burst int, logger *zap.Logger) *RateLimited {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		logger:  logger,
	}
}

// Notify forwards the alert if a token is available
func (r *RateLimited) Notify(ctx context.Context, alert model.AlertRecord) error {
	if !r.limiter.Allow() {
		r.logger.Warn("Alert notification dropped by rate limit",
			zap.String("alert_id", alert.ID),
			zap.String("check", alert.CheckName))
		return ErrRateLimited
	}
	return r.next.Notify(ctx, alert)
}
