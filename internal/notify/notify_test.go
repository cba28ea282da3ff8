package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"smilecam/internal/metrics"
	"smilecam/internal/types"
)

func newClient(url string, logs *bytes.Buffer, m *metrics.Counters) *Client {
	return NewClient(Config{
		URL:     url,
		Title:   "Smile Detection",
		UserID:  1,
		Timeout: time.Second,
	}, zerolog.New(logs), m)
}

func logLines(logs *bytes.Buffer) []string {
	text := strings.TrimSpace(logs.String())
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

func TestSendSuccessLogsOnce(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %q", ct)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("{\n  \"id\": 101\n}"))
	}))
	defer srv.Close()

	var logs bytes.Buffer
	m := &metrics.Counters{}
	if !newClient(srv.URL, &logs, m).Send(context.Background(), "Smile detected!") {
		t.Fatalf("send reported failure")
	}

	if got["title"] != "Smile Detection" || got["body"] != "Smile detected!" || got["userId"].(float64) != 1 {
		t.Fatalf("unexpected payload: %v", got)
	}
	lines := logLines(&logs)
	if len(lines) != 1 || !strings.Contains(lines[0], `API call successful: {\"id\":101}`) {
		t.Fatalf("unexpected logs: %q", logs.String())
	}
	if m.NotificationsOK.Load() != 1 || m.NotificationsFailed.Load() != 0 {
		t.Fatalf("unexpected counters: ok=%d failed=%d", m.NotificationsOK.Load(), m.NotificationsFailed.Load())
	}
}

func TestSendNon201LogsFailureOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var logs bytes.Buffer
	m := &metrics.Counters{}
	if newClient(srv.URL, &logs, m).Send(context.Background(), "Smile detected!") {
		t.Fatalf("200 treated as success")
	}
	lines := logLines(&logs)
	if len(lines) != 1 || !strings.Contains(lines[0], "API call failed: 200") || strings.Contains(lines[0], "successful") {
		t.Fatalf("unexpected logs: %q", logs.String())
	}
	if m.NotificationsFailed.Load() != 1 {
		t.Fatalf("failure not counted")
	}
}

func TestSendTransportErrorLogsFailureOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	var logs bytes.Buffer
	if newClient(url, &logs, nil).Send(context.Background(), "Smile detected!") {
		t.Fatalf("closed endpoint treated as success")
	}
	lines := logLines(&logs)
	if len(lines) != 1 || !strings.Contains(lines[0], "API call failed") {
		t.Fatalf("unexpected logs: %q", logs.String())
	}
}

func TestHandleOnlyNotifiesSmiles(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	var logs bytes.Buffer
	c := newClient(srv.URL, &logs, nil)
	ctx := context.Background()
	if err := c.Handle(ctx, types.Event{Kind: types.KindNoSmile, Message: "No smile detected."}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if err := c.Handle(ctx, types.Event{Kind: types.KindSmile, Message: "Smile detected!"}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected 1 notification, got %d", calls.Load())
	}
}
