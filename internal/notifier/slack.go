package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/slack-go/slack"
)

// SlackConfig holds Slack webhook configuration.
type SlackConfig struct {
	WebhookURL string // Slack incoming webhook URL
	Channel    string // optional channel override
	Username   string // optional bot name override
}

// Validate validates the Slack configuration.
func (c *SlackConfig) Validate() error {
	if c.WebhookURL == "" {
		return goerr.New("webhook URL is required")
	}
	if !strings.HasPrefix(c.WebhookURL, "https://") {
		return goerr.New("webhook URL must use HTTPS")
	}
	return nil
}

// SlackNotifier posts notifications to a Slack incoming webhook.
type SlackNotifier struct {
	config     SlackConfig
	httpClient *http.Client
}

// NewSlackNotifier creates a new Slack notifier.
func NewSlackNotifier(config SlackConfig) (*SlackNotifier, error) {
	if err := config.Validate(); err != nil {
		return nil, goerr.Wrap(err, "invalid slack config")
	}

	return &SlackNotifier{
		config: config,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// Name returns "slack".
func (s *SlackNotifier) Name() string {
	return "slack"
}

// Send posts msg to Slack.
func (s *SlackNotifier) Send(ctx context.Context, msg Message) error {
	if err := slack.PostWebhookCustomHTTPContext(ctx, s.config.WebhookURL, s.httpClient, s.buildMessage(msg)); err != nil {
		return goerr.Wrap(err, "slack webhook failed", goerr.V("alert_id", msg.AlertID))
	}
	return nil
}

// Close is a no-op for Slack notifier.
func (s *SlackNotifier) Close() error {
	return nil
}

func (s *SlackNotifier) buildMessage(msg Message) *slack.WebhookMessage {
	fields := []slack.AttachmentField{
		{Title: "Symptom", Value: symptomLabel(msg.SymptomType), Short: true},
		{Title: "Severity", Value: strconv.Itoa(msg.Severity) + " / 5", Short: true},
		{Title: "Detected", Value: msg.DetectedAt.Format(timeLayout), Short: true},
		{Title: "Alert ID", Value: msg.AlertID, Short: true},
	}
	if msg.Rule != "" {
		fields = append(fields, slack.AttachmentField{Title: "Rule", Value: msg.Rule, Short: true})
	}
	if msg.Event == EventVisible && !msg.ExpiresAt.IsZero() {
		fields = append(fields, slack.AttachmentField{Title: "Expires", Value: msg.ExpiresAt.Format(timeLayout), Short: true})
	}

	color := severityColor(msg.Severity)
	if msg.Event == EventResolved {
		color = "good"
	}

	attachment := slack.Attachment{
		Color:  color,
		Title:  headline(msg),
		Fields: fields,
		Footer: "CareAlert",
		Ts:     json.Number(strconv.FormatInt(msg.At.Unix(), 10)),
	}
	if msg.SymptomText != "" {
		attachment.Text = "> " + truncate(msg.SymptomText, 500)
	}

	return &slack.WebhookMessage{
		Username:    s.config.Username,
		Channel:     s.config.Channel,
		Text:        headline(msg),
		Attachments: []slack.Attachment{attachment},
	}
}
