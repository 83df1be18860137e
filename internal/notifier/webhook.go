package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// WebhookConfig configures a generic JSON webhook, for example a paging
// gateway or the clinical dashboard's intake endpoint.
type WebhookConfig struct {
	Name    string
	URL     string
	Headers map[string]string
}

// Validate validates the webhook configuration.
func (c *WebhookConfig) Validate() error {
	if c.URL == "" {
		return goerr.New("webhook URL is required")
	}
	if !strings.HasPrefix(c.URL, "https://") {
		return goerr.New("webhook URL must use HTTPS")
	}
	return nil
}

// WebhookNotifier posts each Message as JSON.
type WebhookNotifier struct {
	config     WebhookConfig
	httpClient *http.Client
}

// NewWebhookNotifier creates a webhook notifier. The name defaults to "webhook".
func NewWebhookNotifier(config WebhookConfig) (*WebhookNotifier, error) {
	if err := config.Validate(); err != nil {
		return nil, goerr.Wrap(err, "invalid webhook config")
	}
	if config.Name == "" {
		config.Name = "webhook"
	}
	return &WebhookNotifier{
		config: config,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// Name returns the configured notifier name.
func (w *WebhookNotifier) Name() string {
	return w.config.Name
}

// Send posts msg as JSON.
func (w *WebhookNotifier) Send(ctx context.Context, msg Message) error {
	if err := postJSON(ctx, w.httpClient, w.config.URL, w.config.Headers, msg); err != nil {
		return goerr.Wrap(err, "webhook failed", goerr.V("notifier", w.config.Name), goerr.V("alert_id", msg.AlertID))
	}
	return nil
}

// Close is a no-op for webhook notifier.
func (w *WebhookNotifier) Close() error {
	return nil
}

// postJSON posts payload and treats any non-2xx status as an error.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return goerr.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return goerr.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return goerr.New("unexpected response status",
			goerr.V("status", resp.StatusCode), goerr.V("body", string(body)))
	}
	return nil
}
