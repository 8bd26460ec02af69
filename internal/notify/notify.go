// Package notify delivers alert and mission events to notification channels.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gabe/crew/internal/budget"
)

// NotificationType represents the type of notification
type NotificationType string

const (
	NotificationTypeAlertFired       NotificationType = "alert_fired"
	NotificationTypeAlertResolved    NotificationType = "alert_resolved"
	NotificationTypeMissionCompleted NotificationType = "mission_completed"
	NotificationTypeMissionFailed    NotificationType = "mission_failed"
	NotificationTypeInfo             NotificationType = "info"
)

// Notification represents a notification to be sent
type Notification struct {
	Type      NotificationType
	RuleID    string
	Event     string
	Title     string
	Message   string
	Timestamp time.Time
	Data      map[string]any
}

// Channel is a notification backend
type Channel interface {
	// Send delivers one event
	Send(ctx context.Context, ruleID, event string, payload map[string]any) error
	// Close cleans up resources
	Close() error
}

var _ budget.Dispatcher = (*Manager)(nil)

// Manager fans events out to named channels
type Manager struct {
	mu       sync.RWMutex
	channels map[string]Channel
	logger   *slog.Logger
	wg       sync.WaitGroup
	timeout  time.Duration
}

// NewManager creates a new notification manager
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		channels: make(map[string]Channel),
		logger:   logger,
		timeout:  30 * time.Second,
	}
}

// Register adds a channel under a name, replacing any previous one
func (m *Manager) Register(name string, ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[name] = ch
}

// Names returns the registered channel names
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) resolve(names []string) map[string]Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Channel)
	if len(names) == 0 {
		for name, ch := range m.channels {
			out[name] = ch
		}
		return out
	}
	for _, name := range names {
		ch, ok := m.channels[name]
		if !ok {
			m.logger.Warn("unknown notification channel", "channel", name)
			continue
		}
		out[name] = ch
	}
	return out
}

// Dispatch sends an event to the named channels in the background. An empty
// list means every channel. Failures are logged and never reach the caller.
func (m *Manager) Dispatch(ctx context.Context, channels []string, ruleID, event string, payload map[string]any) {
	for name, ch := range m.resolve(channels) {
		m.wg.Add(1)
		go func(name string, ch Channel) {
			defer m.wg.Done()
			sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
			defer cancel()
			if err := ch.Send(sendCtx, ruleID, event, payload); err != nil {
				m.logger.Warn("notification failed", "channel", name, "rule", ruleID, "event", event, "error", err)
			}
		}(name, ch)
	}
}

// Notify sends an event synchronously to the named channels
func (m *Manager) Notify(ctx context.Context, channels []string, ruleID, event string, payload map[string]any) error {
	var lastErr error
	for name, ch := range m.resolve(channels) {
		if err := ch.Send(ctx, ruleID, event, payload); err != nil {
			lastErr = fmt.Errorf("%s: %w", name, err)
			// Continue to other channels even if one fails
		}
	}
	return lastErr
}

// Wait blocks until background dispatches finish
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Close waits for pending dispatches and closes all channels
func (m *Manager) Close() error {
	m.wg.Wait()
	m.mu.Lock()
	defer m.mu.Unlock()
	var lastErr error
	for _, ch := range m.channels {
		if err := ch.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Build turns an event into a displayable notification
func Build(ruleID, event string, payload map[string]any) Notification {
	n := Notification{
		RuleID:    ruleID,
		Event:     event,
		Timestamp: time.Now(),
		Data:      payload,
	}
	switch event {
	case budget.EventFired:
		n.Type = NotificationTypeAlertFired
		n.Title = fmt.Sprintf("Alert: %s", ruleName(ruleID, payload))
		n.Message = fmt.Sprintf("%v is %v (threshold %v)", payload["metric"], payload["value"], payload["threshold"])
	case budget.EventResolved:
		n.Type = NotificationTypeAlertResolved
		n.Title = fmt.Sprintf("Resolved: %s", ruleName(ruleID, payload))
		n.Message = fmt.Sprintf("%v back to %v", payload["metric"], payload["value"])
	case string(NotificationTypeMissionCompleted):
		n.Type = NotificationTypeMissionCompleted
		n.Title = "Mission Completed"
		n.Message = fmt.Sprintf("%v", payload["goal"])
	case string(NotificationTypeMissionFailed):
		n.Type = NotificationTypeMissionFailed
		n.Title = "Mission Failed"
		n.Message = fmt.Sprintf("%v: %v", payload["goal"], payload["reason"])
	default:
		n.Type = NotificationTypeInfo
		n.Title = fmt.Sprintf("%v", payload["title"])
		n.Message = fmt.Sprintf("%v", payload["message"])
	}
	return n
}

func ruleName(ruleID string, payload map[string]any) string {
	if name, ok := payload["rule_name"].(string); ok && name != "" {
		return name
	}
	return ruleID
}
