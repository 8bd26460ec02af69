package main

import (
	"fmt"
	"os"
	"os/exec"
)

// c is a short alias wrapper for the crew command
// Usage: c <command> <args>
// Examples:
//
//	c r "Fix bug" -w   -> crew run "Fix bug" -w
//	c s                -> crew status
//	c w ls             -> crew workers ls
func main() {
	args := os.Args[1:]
	if len(args) > 0 {
		args = append(expandAlias(args[0]), args[1:]...)
	}
	runCrew(args)
}

// aliases maps short names to full commands
var aliases = map[string][]string{
	"i":  {"init"},
	"r":  {"run"},
	"s":  {"status"},
	"m":  {"missions"},
	"t":  {"tasks"},
	"w":  {"workers"},
	"x":  {"abort"},
	"al": {"alerts"},
	"in": {"alerts", "inbox"},
	"sv": {"serve"},
	"v":  {"version"},
}

// expandAlias expands a short alias to the full command words
func expandAlias(alias string) []string {
	if expanded, ok := aliases[alias]; ok {
		return expanded
	}
	// If no alias match, return as-is (might be a full command name)
	return []string{alias}
}

// runCrew executes crew with the given arguments
func runCrew(args []string) {
	cmd := exec.Command("crew", args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			os.Exit(exitErr.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "Error running crew: %v\n", err)
		os.Exit(1)
	}
}
