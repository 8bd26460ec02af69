package notify

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/gabe/crew/internal/storage"
)

// ErrInboxItemNotFound is returned when marking an unknown inbox item
var ErrInboxItemNotFound = errors.New("inbox item not found")

// InboxItem is one in-app notification
type InboxItem struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	RuleID    string    `json:"rule_id,omitempty"`
	Event     string    `json:"event"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Severity  string    `json:"severity,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// InboxChannel stores events in a JSONL inbox for later reading
type InboxChannel struct {
	file *storage.JSONLFile[*InboxItem]
}

// NewInboxChannel creates an inbox at dir/inbox.jsonl
func NewInboxChannel(dir string) (*InboxChannel, error) {
	file, err := storage.NewJSONLFile[*InboxItem](filepath.Join(dir, "inbox.jsonl"))
	if err != nil {
		return nil, err
	}
	return &InboxChannel{file: file}, nil
}

// Send appends the event to the inbox
func (c *InboxChannel) Send(ctx context.Context, ruleID, event string, payload map[string]any) error {
	id, err := storage.GenerateID("in-")
	if err != nil {
		return err
	}
	n := Build(ruleID, event, payload)
	item := &InboxItem{
		ID:        id,
		RuleID:    ruleID,
		Event:     event,
		Title:     n.Title,
		Message:   n.Message,
		CreatedAt: n.Timestamp,
	}
	if v, ok := payload["user_id"].(string); ok {
		item.UserID = v
	}
	if v, ok := payload["severity"].(string); ok {
		item.Severity = v
	}
	return c.file.Append(item)
}

// List returns a user's items, newest first. An empty user lists everyone.
func (c *InboxChannel) List(userID string, unreadOnly bool) ([]*InboxItem, error) {
	items, err := c.file.ReadAll()
	if err != nil {
		return nil, err
	}
	var out []*InboxItem
	for _, item := range items {
		if userID != "" && item.UserID != userID {
			continue
		}
		if unreadOnly && item.Read {
			continue
		}
		out = append(out, item)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// MarkRead flags an item as read
func (c *InboxChannel) MarkRead(id string) error {
	return c.file.Update(func(items []*InboxItem) ([]*InboxItem, error) {
		for _, item := range items {
			if item.ID == id {
				item.Read = true
				return items, nil
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrInboxItemNotFound, id)
	})
}

// Close is a no-op for the inbox
func (c *InboxChannel) Close() error {
	return nil
}
