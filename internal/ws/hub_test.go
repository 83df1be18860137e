package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/good-yellow-bee/carealert/internal/dispatch"
	"github.com/good-yellow-bee/carealert/internal/models"
	"github.com/good-yellow-bee/carealert/internal/ws"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func notification(id string, severity int, at time.Time) dispatch.Notification {
	return dispatch.Notification{
		AlertID:   id,
		Alert:     models.Alert{ID: id, SymptomType: models.SymptomChestPain, SeverityScore: severity, DetectedAt: at},
		State:     dispatch.StateVisible,
		Critical:  severity == models.SeverityMax,
		VisibleAt: at,
	}
}

func startHub(t *testing.T, opts *ws.Options) (string, *ws.Hub, context.CancelFunc) {
	t.Helper()
	hub := ws.New(opts)
	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(hub)
	go func() { _ = hub.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http"), hub, cancel
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) ws.Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var m ws.Message
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return m
}

func waitCount(t *testing.T, hub *ws.Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Count() != want {
		if time.Now().After(deadline) {
			t.Fatalf("Count = %d, want %d", hub.Count(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_SnapshotOnConnect(t *testing.T) {
	url, hub, _ := startHub(t, nil)
	hub.OnVisible(notification("b", 4, t0.Add(time.Second)))
	hub.OnVisible(notification("a", 5, t0))
	hub.OnVisible(notification("c", 3, t0.Add(2*time.Second)))
	hub.OnResolved("c", models.ReasonExpired)

	conn := dial(t, url)
	m := readMessage(t, conn)
	if m.Event != ws.EventSnapshot {
		t.Fatalf("event = %q, want snapshot", m.Event)
	}
	if len(m.Notifications) != 2 {
		t.Fatalf("snapshot has %d notifications, want 2", len(m.Notifications))
	}
	if m.Notifications[0].AlertID != "a" || m.Notifications[1].AlertID != "b" {
		t.Errorf("snapshot order = %s, %s; want oldest first", m.Notifications[0].AlertID, m.Notifications[1].AlertID)
	}
}

func TestHub_StreamsEvents(t *testing.T) {
	url, hub, _ := startHub(t, nil)
	conn := dial(t, url)
	readMessage(t, conn)
	waitCount(t, hub, 1)

	hub.OnVisible(notification("a-1", 5, t0))
	m := readMessage(t, conn)
	if m.Event != ws.EventVisible || m.Notification == nil || m.Notification.AlertID != "a-1" {
		t.Fatalf("visible message = %+v", m)
	}
	if !m.Notification.Critical {
		t.Error("severity 5 notification should be critical")
	}

	hub.OnResolved("a-1", models.ReasonAcknowledged)
	m = readMessage(t, conn)
	if m.Event != ws.EventResolved || m.AlertID != "a-1" || m.Reason != models.ReasonAcknowledged {
		t.Fatalf("resolved message = %+v", m)
	}
}

func TestHub_ResolvedForUnknownAlertIsIgnored(t *testing.T) {
	url, hub, _ := startHub(t, nil)
	conn := dial(t, url)
	readMessage(t, conn)
	waitCount(t, hub, 1)

	hub.OnResolved("never-visible", models.ReasonExpired)
	hub.OnVisible(notification("a-2", 4, t0))

	if m := readMessage(t, conn); m.Event != ws.EventVisible {
		t.Errorf("event = %q, want visible", m.Event)
	}
}

func TestHub_CountDecreasesOnDisconnect(t *testing.T) {
	url, hub, _ := startHub(t, nil)

	conn := dial(t, url)
	readMessage(t, conn)
	waitCount(t, hub, 1)

	_ = conn.Close()
	waitCount(t, hub, 0)
}

func TestHub_CancelClosesConnections(t *testing.T) {
	url, hub, cancel := startHub(t, nil)

	conn := dial(t, url)
	readMessage(t, conn)
	waitCount(t, hub, 1)

	cancel()
	waitCount(t, hub, 0)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected connection to be closed")
	}
}

func TestHub_RejectsDisallowedOrigin(t *testing.T) {
	url, _, _ := startHub(t, &ws.Options{AllowedOrigins: []string{"https://console.example.com"}})

	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("response = %v, want 403", resp)
	}

	header.Set("Origin", "https://console.example.com")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("allowed origin dial: %v", err)
	}
	_ = conn.Close()
}
