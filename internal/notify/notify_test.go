package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type recordingChannel struct {
	mu     sync.Mutex
	events []string
	err    error
	closed bool
}

func (r *recordingChannel) Send(ctx context.Context, ruleID, event string, payload map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ruleID+":"+event)
	return r.err
}

func (r *recordingChannel) Close() error {
	r.closed = true
	return nil
}

func (r *recordingChannel) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestManagerDispatch(t *testing.T) {
	manager := NewManager(nil)
	a := &recordingChannel{}
	b := &recordingChannel{err: errors.New("down")}
	manager.Register("a", a)
	manager.Register("b", b)

	manager.Dispatch(context.Background(), []string{"a", "missing"}, "r1", "fired", nil)
	manager.Wait()
	if a.count() != 1 || b.count() != 0 {
		t.Fatalf("targeted dispatch: a=%d b=%d", a.count(), b.count())
	}

	// Empty list fans out to everyone and swallows errors
	manager.Dispatch(context.Background(), nil, "r1", "resolved", nil)
	manager.Wait()
	if a.count() != 2 || b.count() != 1 {
		t.Fatalf("broadcast dispatch: a=%d b=%d", a.count(), b.count())
	}

	if err := manager.Notify(context.Background(), []string{"b"}, "r1", "fired", nil); err == nil {
		t.Error("Notify should surface channel errors")
	}

	if err := manager.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !a.closed || !b.closed {
		t.Error("Close should close every channel")
	}
}

func TestManagerNames(t *testing.T) {
	manager := NewManager(nil)
	manager.Register("webhook", &recordingChannel{})
	manager.Register("inbox", &recordingChannel{})
	names := manager.Names()
	if len(names) != 2 || names[0] != "inbox" || names[1] != "webhook" {
		t.Errorf("unexpected names: %v", names)
	}
}

func TestBuild(t *testing.T) {
	n := Build("builtin:budget_usage:warning:u1", "fired", map[string]any{
		"rule_name": "budget warning", "metric": "budget_usage", "value": 87.0, "threshold": 80.0,
	})
	if n.Type != NotificationTypeAlertFired {
		t.Errorf("expected alert_fired, got %s", n.Type)
	}
	if n.Title != "Alert: budget warning" {
		t.Errorf("unexpected title %q", n.Title)
	}
	if !strings.Contains(n.Message, "87") {
		t.Errorf("message should carry the value: %q", n.Message)
	}

	n = Build("", "mission_failed", map[string]any{"goal": "ship", "reason": "quota"})
	if n.Type != NotificationTypeMissionFailed || n.Message != "ship: quota" {
		t.Errorf("unexpected mission notification: %+v", n)
	}
}

func TestTerminalChannel(t *testing.T) {
	ch := NewTerminalChannel()
	if err := ch.Send(context.Background(), "r1", "fired", nil); err != nil {
		// On non-macOS systems this is a no-op
		t.Logf("Terminal notification: %v", err)
	}
}

func TestWebhookChannelRetries(t *testing.T) {
	var calls atomic.Int32
	var got webhookBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(srv.URL, WithRetries(5, time.Millisecond))
	err := ch.Send(context.Background(), "r1", "fired", map[string]any{"metric": "error_rate"})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
	if got.RuleID != "r1" || got.Event != "fired" {
		t.Errorf("unexpected body: %+v", got)
	}
}

func TestWebhookChannelClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(srv.URL, WithRetries(5, time.Millisecond))
	if err := ch.Send(context.Background(), "r1", "fired", nil); err == nil {
		t.Fatal("expected error for 400")
	}
	if calls.Load() != 1 {
		t.Errorf("4xx should not be retried, got %d attempts", calls.Load())
	}
}

func TestInboxChannel(t *testing.T) {
	inbox, err := NewInboxChannel(t.TempDir())
	if err != nil {
		t.Fatalf("NewInboxChannel failed: %v", err)
	}

	ctx := context.Background()
	inbox.Send(ctx, "r1", "fired", map[string]any{"user_id": "u1", "severity": "warning"})
	inbox.Send(ctx, "r2", "fired", map[string]any{"user_id": "u2"})

	items, err := inbox.List("u1", false)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(items) != 1 || items[0].RuleID != "r1" || items[0].Severity != "warning" {
		t.Fatalf("unexpected items: %+v", items)
	}

	if err := inbox.MarkRead(items[0].ID); err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}
	unread, _ := inbox.List("u1", true)
	if len(unread) != 0 {
		t.Errorf("expected no unread items, got %d", len(unread))
	}
	if err := inbox.MarkRead("in-missing"); !errors.Is(err, ErrInboxItemNotFound) {
		t.Errorf("expected ErrInboxItemNotFound, got %v", err)
	}

	all, _ := inbox.List("", false)
	if len(all) != 2 {
		t.Errorf("expected 2 items overall, got %d", len(all))
	}
}

func TestLogChannel(t *testing.T) {
	var buf strings.Builder
	ch := NewLogChannel(slog.New(slog.NewTextHandler(&buf, nil)))
	ch.Send(context.Background(), "r1", "fired", map[string]any{"severity": "critical", "rule_name": "spend"})
	out := buf.String()
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "rule=r1") {
		t.Errorf("unexpected log output: %s", out)
	}
}

func TestSummaryReporter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.log")

	reporter := NewSummaryReporter(path, time.Hour)
	reporter.Start()

	for i := 0; i < 5; i++ {
		reporter.Send(context.Background(), "r1", "fired", nil)
	}
	reporter.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Summary file not found: %v", err)
	}
	if !strings.Contains(string(data), "Total notifications: 5") {
		t.Errorf("summary missing totals:\n%s", data)
	}
}
