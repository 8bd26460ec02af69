package notify

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// TerminalChannel sends notifications via macOS terminal notifications
type TerminalChannel struct {
	enabled bool
}

// NewTerminalChannel creates a new terminal channel
func NewTerminalChannel() *TerminalChannel {
	// Only enable on macOS
	return &TerminalChannel{enabled: runtime.GOOS == "darwin"}
}

// Send shows a terminal notification using osascript
func (t *TerminalChannel) Send(ctx context.Context, ruleID, event string, payload map[string]any) error {
	if !t.enabled {
		return nil
	}
	n := Build(ruleID, event, payload)

	// Escape quotes in title and message
	title := escapeAppleScript(n.Title)
	message := escapeAppleScript(n.Message)

	script := fmt.Sprintf(`display notification "%s" with title "%s"`, message, title)

	cmd := exec.CommandContext(ctx, "osascript", "-e", script)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to send terminal notification: %w", err)
	}
	return nil
}

// Close is a no-op for the terminal channel
func (t *TerminalChannel) Close() error {
	return nil
}

// escapeAppleScript escapes quotes and backslashes for AppleScript
func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	return s
}
