package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"testing"
)

// fakeClaude re-runs the test binary as the claude CLI
func fakeClaude(mode string) CommandCreator {
	return func(ctx context.Context, name string, args ...string) *exec.Cmd {
		cs := append([]string{"-test.run=TestHelperProcess", "--", name}, args...)
		cmd := exec.CommandContext(ctx, os.Args[0], cs...)
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "FAKE_CLAUDE_MODE="+mode)
		return cmd
	}
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	switch os.Getenv("FAKE_CLAUDE_MODE") {
	case "ok":
		fmt.Println(`{"type":"system","subtype":"init","session_id":"sess-1"}`)
		fmt.Println(`{"type":"assistant","message":{"model":"sonnet","content":[{"type":"text","text":"done {\"summary\":\"ok\"}"}]}}`)
		fmt.Println(`{"type":"result","subtype":"success","result":"done","duration_ms":1200,"total_cost_usd":0.01,"usage":{"input_tokens":1500,"output_tokens":700}}`)
		fmt.Fprintln(os.Stderr, "warming up")
		os.Exit(0)
	case "error":
		fmt.Println(`{"type":"result","subtype":"error","is_error":true,"result":"rate limited"}`)
		os.Exit(0)
	case "crash":
		fmt.Fprintln(os.Stderr, "segfault")
		os.Exit(2)
	}
	os.Exit(3)
}

func TestClient_RunParsesResult(t *testing.T) {
	c := NewClient()
	c.SetCommandCreator(fakeClaude("ok"))

	var mu sync.Mutex
	var lines []string
	resp, err := c.Run(context.Background(), "hi", func(stream, line string) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, stream+":"+line)
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if resp.SessionID != "sess-1" {
		t.Errorf("expected session sess-1, got %q", resp.SessionID)
	}
	if resp.InputTokens != 1500 || resp.OutputTokens != 700 {
		t.Errorf("unexpected usage: %d/%d", resp.InputTokens, resp.OutputTokens)
	}
	if resp.DurationMs != 1200 {
		t.Errorf("expected duration 1200, got %d", resp.DurationMs)
	}
	if !strings.HasPrefix(resp.GetText(), "done") {
		t.Errorf("unexpected text %q", resp.GetText())
	}

	foundStderr := false
	for _, l := range lines {
		if l == "stderr:warming up" {
			foundStderr = true
		}
	}
	if !foundStderr {
		t.Errorf("expected stderr line to be forwarded, got %v", lines)
	}
}

func TestClient_RunResultError(t *testing.T) {
	c := NewClient()
	c.SetCommandCreator(fakeClaude("error"))

	_, err := c.Run(context.Background(), "hi", nil)
	if !errors.Is(err, ErrClaudeError) {
		t.Fatalf("expected ErrClaudeError, got %v", err)
	}
}

func TestClient_RunCommandFailure(t *testing.T) {
	c := NewClient()
	c.SetCommandCreator(fakeClaude("crash"))

	_, err := c.Run(context.Background(), "hi", nil)
	if err == nil || !strings.Contains(err.Error(), "segfault") {
		t.Fatalf("expected failure with stderr, got %v", err)
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"plain", `{"a":1}`, `{"a":1}`, true},
		{"fenced", "here you go\n```json\n{\"a\":1}\n```", `{"a":1}`, true},
		{"none", "no json here", "", false},
		{"invalid", "{not json}", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractJSON(tt.in)
			if ok != tt.ok || got != tt.want {
				t.Errorf("ExtractJSON(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}
