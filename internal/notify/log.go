package notify

import (
	"context"
	"log/slog"
)

// LogChannel writes events to a structured logger
type LogChannel struct {
	logger *slog.Logger
}

// NewLogChannel creates a log channel
func NewLogChannel(logger *slog.Logger) *LogChannel {
	return &LogChannel{logger: logger}
}

func (c *LogChannel) Send(ctx context.Context, ruleID, event string, payload map[string]any) error {
	n := Build(ruleID, event, payload)
	level := slog.LevelInfo
	if payload["severity"] == "critical" || n.Type == NotificationTypeMissionFailed {
		level = slog.LevelWarn
	}
	c.logger.Log(ctx, level, n.Title, "rule", ruleID, "event", event, "message", n.Message)
	return nil
}

func (c *LogChannel) Close() error {
	return nil
}
