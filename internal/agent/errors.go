package agent

import "errors"

var (
	// ErrClaudeError is returned when the result message is flagged as an error
	ErrClaudeError = errors.New("claude error")

	// ErrEmptyResponse is returned when the CLI exits without content
	ErrEmptyResponse = errors.New("no response from claude")
)
