package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// CommandCreator creates exec.Cmd instances. Tests inject a fake.
type CommandCreator func(ctx context.Context, name string, args ...string) *exec.Cmd

// DefaultCommandCreator uses exec.CommandContext
func DefaultCommandCreator(ctx context.Context, name string, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, name, args...)
}

// Client runs one-shot prompts through the claude CLI stream-json protocol
type Client struct {
	ClaudePath   string // path to claude binary (default: "claude")
	Model        string // passed as --model when set
	WorkDir      string
	SystemPrompt string
	MCPConfig    string

	commandCreator CommandCreator
}

// NewClient creates a client with the default binary and command creator
func NewClient() *Client {
	return &Client{
		ClaudePath:     "claude",
		commandCreator: DefaultCommandCreator,
	}
}

// SetCommandCreator sets a custom command creator (useful for testing)
func (c *Client) SetCommandCreator(cc CommandCreator) {
	c.commandCreator = cc
}

// ContentBlockType represents the type of content in a response
type ContentBlockType string

const (
	ContentTypeText       ContentBlockType = "text"
	ContentTypeThinking   ContentBlockType = "thinking"
	ContentTypeToolUse    ContentBlockType = "tool_use"
	ContentTypeToolResult ContentBlockType = "tool_result"
)

// ChatContentBlock represents a piece of content in a response
type ChatContentBlock struct {
	Type    ContentBlockType
	Text    string // For text and thinking
	Name    string // For tool_use (tool name)
	Input   string // For tool_use (tool input as string)
	ID      string // For tool_use (tool_use_id)
	Summary string // For thinking (summary header)
	Index   int    // Block index for streaming updates
}

// Response is the parsed outcome of one claude invocation
type Response struct {
	Blocks       []ChatContentBlock
	Result       string
	SessionID    string
	Model        string
	DurationMs   int64
	TotalCostUSD float64
	InputTokens  int
	OutputTokens int
}

// GetText returns all text content concatenated, falling back to the
// final result string.
func (r *Response) GetText() string {
	var parts []string
	for _, b := range r.Blocks {
		if b.Type == ContentTypeText {
			parts = append(parts, b.Text)
		}
	}
	if len(parts) == 0 {
		return r.Result
	}
	return strings.Join(parts, "")
}

// LineFunc receives raw output lines as they arrive
type LineFunc func(stream, line string)

// StreamMessage represents a message in Claude's stream-json output
type StreamMessage struct {
	Type         string         `json:"type"`
	Subtype      string         `json:"subtype,omitempty"`
	SessionID    string         `json:"session_id,omitempty"`
	Message      *ClaudeMessage `json:"message,omitempty"`
	Event        *StreamEvent   `json:"event,omitempty"`
	Result       string         `json:"result,omitempty"`
	IsError      bool           `json:"is_error,omitempty"`
	DurationMs   int64          `json:"duration_ms,omitempty"`
	TotalCostUSD float64        `json:"total_cost_usd,omitempty"`
	Usage        *UsageInfo     `json:"usage,omitempty"`
}

// StreamEvent represents streaming events
type StreamEvent struct {
	Type         string        `json:"type"`
	Index        int           `json:"index,omitempty"`
	ContentBlock *ContentBlock `json:"content_block,omitempty"`
	Delta        *ContentDelta `json:"delta,omitempty"`
}

// ContentDelta represents incremental content updates
type ContentDelta struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// ClaudeMessage represents the message field in assistant responses
type ClaudeMessage struct {
	Model   string         `json:"model,omitempty"`
	Content []ContentBlock `json:"content,omitempty"`
}

// ContentBlock represents a content block in Claude's response
type ContentBlock struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	Name      string         `json:"name,omitempty"`
	ID        string         `json:"id,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	Summary   string         `json:"summary,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
}

// UsageInfo represents token usage
type UsageInfo struct {
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

func (c *Client) args() []string {
	args := []string{
		"--dangerously-skip-permissions",
		"-p",
		"--verbose",
		"--output-format", "stream-json",
		"--input-format", "stream-json",
	}
	if c.SystemPrompt != "" {
		args = append(args, "--system-prompt", c.SystemPrompt)
	}
	if c.MCPConfig != "" {
		args = append(args, "--mcp-config", c.MCPConfig)
	}
	if c.Model != "" {
		args = append(args, "--model", c.Model)
	}
	return args
}

// Run sends a prompt and blocks until the CLI exits or ctx is done.
// Every raw output line is passed to onLine when it is non-nil; stdout and
// stderr lines arrive from different goroutines.
func (c *Client) Run(ctx context.Context, prompt string, onLine LineFunc) (*Response, error) {
	creator := c.commandCreator
	if creator == nil {
		creator = DefaultCommandCreator
	}
	path := c.ClaudePath
	if path == "" {
		path = "claude"
	}

	cmd := creator(ctx, path, c.args()...)
	cmd.Dir = c.WorkDir

	inputMsg := map[string]any{
		"type": "user",
		"message": map[string]any{
			"role":    "user",
			"content": prompt,
		},
	}
	inputBytes, err := json.Marshal(inputMsg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal input: %w", err)
	}
	cmd.Stdin = bytes.NewReader(append(inputBytes, '\n'))

	var stderrBuf bytes.Buffer
	cmd.Stderr = &lineWriter{buf: &stderrBuf, stream: "stderr", onLine: onLine}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start claude: %w", err)
	}

	response := &Response{}
	var streamLines []string
	var resultErr error

	scanner := bufio.NewScanner(stdout)
	// Increase buffer size for large responses
	scanner.Buffer(make([]byte, 1024*1024), 10*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if onLine != nil {
			onLine("stdout", line)
		}
		if line == "" {
			continue
		}
		streamLines = append(streamLines, line)

		var msg StreamMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			continue
		}
		if msg.SessionID != "" && response.SessionID == "" {
			response.SessionID = msg.SessionID
		}

		switch msg.Type {
		case "assistant":
			if msg.Message != nil {
				response.Model = msg.Message.Model
				response.Blocks = append(response.Blocks, blocksFromAssistantMessage(*msg.Message)...)
			}
		case "result":
			response.Result = msg.Result
			response.DurationMs = msg.DurationMs
			response.TotalCostUSD = msg.TotalCostUSD
			if msg.Usage != nil {
				response.InputTokens = msg.Usage.InputTokens
				response.OutputTokens = msg.Usage.OutputTokens
			}
			if msg.IsError {
				resultErr = fmt.Errorf("%w: %s", ErrClaudeError, msg.Result)
			}
		}
	}

	if len(response.Blocks) == 0 {
		response.Blocks = parseStreamBlocks(streamLines)
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return response, ctx.Err()
		}
		return response, fmt.Errorf("claude command failed: %w (stderr: %s)", err, strings.TrimSpace(stderrBuf.String()))
	}
	if resultErr != nil {
		return response, resultErr
	}
	if len(response.Blocks) == 0 && response.Result == "" {
		return response, fmt.Errorf("%w (stderr: %s)", ErrEmptyResponse, strings.TrimSpace(stderrBuf.String()))
	}

	return response, nil
}

// lineWriter captures stderr and forwards complete lines
type lineWriter struct {
	buf     *bytes.Buffer
	pending []byte
	stream  string
	onLine  LineFunc
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	if w.onLine == nil {
		return len(p), nil
	}
	w.pending = append(w.pending, p...)
	for {
		i := bytes.IndexByte(w.pending, '\n')
		if i < 0 {
			break
		}
		w.onLine(w.stream, string(w.pending[:i]))
		w.pending = w.pending[i+1:]
	}
	return len(p), nil
}

func blocksFromAssistantMessage(message ClaudeMessage) []ChatContentBlock {
	blocks := make([]ChatContentBlock, 0, len(message.Content))
	for _, cb := range message.Content {
		block := ChatContentBlock{}
		switch cb.Type {
		case "text":
			block.Type = ContentTypeText
			block.Text = cb.Text
		case "thinking":
			block.Type = ContentTypeThinking
			block.Text = cb.Text
			block.Summary = cb.Summary
		case "tool_use":
			block.Type = ContentTypeToolUse
			block.Name = cb.Name
			block.ID = cb.ID
			if cb.Input != nil {
				inputJSON, _ := json.Marshal(cb.Input)
				block.Input = string(inputJSON)
			}
		case "tool_result":
			block.Type = ContentTypeToolResult
			block.ID = cb.ToolUseID
			block.Text = cb.Content
		}
		blocks = append(blocks, block)
	}
	return blocks
}

// ExtractJSON returns the first JSON object or array embedded in text,
// tolerating markdown code fences around it.
func ExtractJSON(text string) (string, bool) {
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return "", false
	}
	open := text[start]
	closeCh := byte('}')
	if open == '[' {
		closeCh = ']'
	}
	end := strings.LastIndexByte(text, closeCh)
	if end <= start {
		return "", false
	}
	candidate := text[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return "", false
	}
	return candidate, true
}
