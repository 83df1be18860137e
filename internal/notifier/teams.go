package notifier

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// TeamsConfig holds Microsoft Teams webhook configuration.
type TeamsConfig struct {
	WebhookURL string // Teams incoming webhook URL
}

// Validate validates the Teams configuration.
func (c *TeamsConfig) Validate() error {
	if c.WebhookURL == "" {
		return goerr.New("webhook URL is required")
	}
	if !strings.HasPrefix(c.WebhookURL, "https://") {
		return goerr.New("webhook URL must use HTTPS")
	}
	return nil
}

// TeamsNotifier sends notifications to Microsoft Teams as Adaptive Cards.
type TeamsNotifier struct {
	config     TeamsConfig
	httpClient *http.Client
}

// NewTeamsNotifier creates a new Teams notifier.
func NewTeamsNotifier(config TeamsConfig) (*TeamsNotifier, error) {
	if err := config.Validate(); err != nil {
		return nil, goerr.Wrap(err, "invalid teams config")
	}

	return &TeamsNotifier{
		config: config,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// Name returns "teams".
func (t *TeamsNotifier) Name() string {
	return "teams"
}

// Send posts msg to Microsoft Teams.
func (t *TeamsNotifier) Send(ctx context.Context, msg Message) error {
	if err := postJSON(ctx, t.httpClient, t.config.WebhookURL, nil, t.buildPayload(msg)); err != nil {
		return goerr.Wrap(err, "teams webhook failed", goerr.V("alert_id", msg.AlertID))
	}
	return nil
}

// Close is a no-op for Teams notifier.
func (t *TeamsNotifier) Close() error {
	return nil
}

type teamsMessage struct {
	Type        string            `json:"type"`
	Attachments []teamsAttachment `json:"attachments"`
}

type teamsAttachment struct {
	ContentType string       `json:"contentType"`
	ContentURL  *string      `json:"contentUrl"`
	Content     adaptiveCard `json:"content"`
}

type adaptiveCard struct {
	Schema  string `json:"$schema"`
	Type    string `json:"type"`
	Version string `json:"version"`
	Body    []any  `json:"body"`
}

type textBlock struct {
	Type   string `json:"type"`
	Text   string `json:"text"`
	Size   string `json:"size,omitempty"`
	Weight string `json:"weight,omitempty"`
	Color  string `json:"color,omitempty"`
	Wrap   bool   `json:"wrap,omitempty"`
}

type factSet struct {
	Type  string `json:"type"`
	Facts []fact `json:"facts"`
}

type fact struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

type container struct {
	Type  string `json:"type"`
	Style string `json:"style,omitempty"`
	Items []any  `json:"items"`
}

func (t *TeamsNotifier) buildPayload(msg Message) teamsMessage {
	style := teamsSeverityStyle(msg.Severity)
	if msg.Event == EventResolved {
		style = "good"
	}

	body := []any{
		container{
			Type:  "Container",
			Style: style,
			Items: []any{
				textBlock{
					Type:   "TextBlock",
					Text:   headline(msg),
					Size:   "Large",
					Weight: "Bolder",
					Wrap:   true,
				},
			},
		},
	}

	facts := []fact{
		{Title: "Symptom", Value: symptomLabel(msg.SymptomType)},
		{Title: "Severity", Value: strconv.Itoa(msg.Severity) + " / 5"},
		{Title: "Detected", Value: msg.DetectedAt.Format(timeLayout)},
		{Title: "Alert ID", Value: msg.AlertID},
	}
	if msg.Rule != "" {
		facts = append(facts, fact{Title: "Rule", Value: msg.Rule})
	}
	if msg.Event == EventResolved {
		facts = append(facts, fact{Title: "Resolved", Value: msg.At.Format(timeLayout)})
	}
	body = append(body, factSet{Type: "FactSet", Facts: facts})

	if msg.SymptomText != "" {
		body = append(body, textBlock{
			Type: "TextBlock",
			Text: "**Report:** " + truncate(msg.SymptomText, 500),
			Wrap: true,
		})
	}

	return teamsMessage{
		Type: "message",
		Attachments: []teamsAttachment{
			{
				ContentType: "application/vnd.microsoft.card.adaptive",
				Content: adaptiveCard{
					Schema:  "http://adaptivecards.io/schemas/adaptive-card.json",
					Type:    "AdaptiveCard",
					Version: "1.4",
					Body:    body,
				},
			},
		},
	}
}

// teamsSeverityStyle returns an Adaptive Card container style for the severity score.
func teamsSeverityStyle(severity int) string {
	switch {
	case severity >= 5:
		return "attention"
	case severity == 4:
		return "warning"
	case severity == 3:
		return "accent"
	default:
		return "default"
	}
}
