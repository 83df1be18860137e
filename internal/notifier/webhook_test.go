package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/m-mizutani/goerr/v2"

	"github.com/good-yellow-bee/carealert/internal/models"
)

func TestWebhookNotifierSend(t *testing.T) {
	var received Message
	var auth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("failed to decode payload: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	notifier := &WebhookNotifier{
		config: WebhookConfig{
			Name:    "pager",
			URL:     server.URL,
			Headers: map[string]string{"Authorization": "Bearer test"},
		},
		httpClient: server.Client(),
	}

	msg := testMessage(EventResolved)
	msg.Reason = models.ReasonAcknowledged
	if err := notifier.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if auth != "Bearer test" {
		t.Errorf("authorization = %q", auth)
	}
	if received.AlertID != "a-1" || received.Event != EventResolved || received.Reason != models.ReasonAcknowledged {
		t.Errorf("received = %+v", received)
	}
	if notifier.Name() != "pager" {
		t.Errorf("name = %q, want pager", notifier.Name())
	}
}

func TestWebhookNotifierStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	notifier := &WebhookNotifier{
		config:     WebhookConfig{Name: "webhook", URL: server.URL},
		httpClient: server.Client(),
	}

	err := notifier.Send(context.Background(), testMessage(EventVisible))
	if err == nil {
		t.Fatal("expected error for HTTP 502")
	}
	if got := goerr.Values(err)["status"]; got != http.StatusBadGateway {
		t.Errorf("status value = %v, want 502", got)
	}
}

func TestNewWebhookNotifierDefaults(t *testing.T) {
	n, err := NewWebhookNotifier(WebhookConfig{URL: "https://pager.example.com/hook"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.Name() != "webhook" {
		t.Errorf("name = %q, want webhook", n.Name())
	}
	if _, err := NewWebhookNotifier(WebhookConfig{}); err == nil {
		t.Error("expected error for missing URL")
	}
}
