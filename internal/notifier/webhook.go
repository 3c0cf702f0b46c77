package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"twin-gateway/internal/models"
)

// AlertPayload is the JSON body posted to the webhook.
type AlertPayload struct {
	Source string            `json:"source"`
	Alert  models.AlertEvent `json:"alert"`
}

// WebhookNotifier posts alerts at or above a minimum severity to an HTTP
// endpoint.
type WebhookNotifier struct {
	httpClient  *resty.Client
	url         string
	minSeverity models.Severity
	logger      *zap.Logger
}

// NewWebhookNotifier creates a notifier that forwards critical alerts to url.
func NewWebhookNotifier(url string, timeout time.Duration, logger *zap.Logger) *WebhookNotifier {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &WebhookNotifier{
		httpClient:  client,
		url:         url,
		minSeverity: models.SeverityCritical,
		logger:      logger,
	}
}

// WithMinSeverity changes which alerts are forwarded.
func (n *WebhookNotifier) WithMinSeverity(s models.Severity) *WebhookNotifier {
	n.minSeverity = s
	return n
}

func rank(s models.Severity) int {
	if s == models.SeverityCritical {
		return 2
	}
	return 1
}

// Notify posts alert if it is severe enough. It returns (false, nil) for
// alerts that are filtered out.
func (n *WebhookNotifier) Notify(ctx context.Context, alert models.AlertEvent) (bool, error) {
	if rank(alert.Severity) < rank(n.minSeverity) {
		return false, nil
	}

	resp, err := n.httpClient.R().
		SetContext(ctx).
		SetBody(AlertPayload{Source: "twin-gateway", Alert: alert}).
		Post(n.url)
	if err != nil {
		return false, fmt.Errorf("alert webhook request failed: %w", err)
	}
	if resp.IsError() {
		return false, fmt.Errorf("alert webhook returned %d", resp.StatusCode())
	}

	n.logger.Info("Alert forwarded",
		zap.String("asset_id", alert.AssetID),
		zap.String("metric", string(alert.Metric)),
		zap.String("severity", string(alert.Severity)),
	)
	return true, nil
}
