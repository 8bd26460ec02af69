package worker

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/gabe/crew/internal/models"
)

// CommandCreator creates exec.Cmd instances. Tests inject a fake.
type CommandCreator func(ctx context.Context, name string, args ...string) *exec.Cmd

func defaultCommandCreator(ctx context.Context, name string, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, name, args...)
}

// tailLines is how much stdout a command result keeps as data
const tailLines = 20

// Command runs an external program per step. The step payload may override
// the program (command, args, dir) and declare outputs and criteria.
type Command struct {
	spec           models.WorkerSpec
	command        string
	args           []string
	dir            string
	commandCreator CommandCreator
}

// NewCommand creates a command worker with a default program
func NewCommand(spec models.WorkerSpec, command string, args ...string) *Command {
	return &Command{
		spec:           spec,
		command:        command,
		args:           args,
		commandCreator: defaultCommandCreator,
	}
}

// SetDir sets the default working directory
func (c *Command) SetDir(dir string) { c.dir = dir }

// SetCommandCreator sets a custom command creator (useful for testing)
func (c *Command) SetCommandCreator(cc CommandCreator) { c.commandCreator = cc }

func (c *Command) Spec() models.WorkerSpec { return c.spec }

func (c *Command) Plan(ctx context.Context, mc Context) (*models.Plan, models.Mode, error) {
	return nil, models.ModePlanning, ErrPlanningUnsupported
}

func (c *Command) Execute(ctx context.Context, step models.PlanStep, mc Context) (Execution, models.Mode) {
	start := time.Now()

	name, args := c.command, c.args
	if cmd := payloadString(step.Payload, PayloadCommand); cmd != "" {
		name, args = cmd, payloadStrings(step.Payload, PayloadArgs)
	}
	if name == "" {
		return Failed(models.ReasonError, "step %s: no command configured", step.ID), models.ModeExecution
	}

	output, err := DeclaredOutput(step)
	if err != nil {
		return Failed(models.ReasonError, "%v", err), models.ModeExecution
	}

	cmd := c.commandCreator(ctx, name, args...)
	cmd.Dir = c.dir
	if dir := payloadString(step.Payload, PayloadDir); dir != "" {
		cmd.Dir = dir
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Failed(models.ReasonError, "stdout pipe: %v", err), models.ModeExecution
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Failed(models.ReasonError, "stderr pipe: %v", err), models.ModeExecution
	}

	mc.Emit("$ %s %s", name, strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		return Failed(models.ReasonError, "start %s: %v", name, err), models.ModeExecution
	}

	// Both streams share one sink; the mutex keeps chunks whole and ordered.
	var mu sync.Mutex
	var tail, errTail []string
	var wg sync.WaitGroup
	pump := func(r io.Reader, keep *[]string, prefix string) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			mu.Lock()
			*keep = append(*keep, line)
			if len(*keep) > tailLines {
				*keep = (*keep)[1:]
			}
			mc.Emit("%s%s", prefix, line)
			mu.Unlock()
		}
	}
	wg.Add(2)
	go pump(stdout, &tail, "")
	go pump(stderr, &errTail, "stderr: ")
	wg.Wait()

	waitErr := cmd.Wait()
	result := models.AgentResult{
		Success:    waitErr == nil,
		Data:       strings.Join(tail, "\n"),
		Cost:       step.EstimatedCost,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if waitErr != nil {
		result.Reason = models.ReasonError
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			result.Reason = models.ReasonTimeout
		}
		result.Error = waitErr.Error()
		if len(errTail) > 0 {
			result.Error += ": " + errTail[len(errTail)-1]
		}
		return Execution{Result: result, Output: output}, models.ModeExecution
	}

	result.Artifacts = artifactsFor(output)
	return Execution{Result: result, Output: output}, models.ModeExecution
}

func (c *Command) Verify(ctx context.Context, res models.AgentResult, mc Context) (models.VerificationReport, models.Mode, error) {
	report := SelfVerify(res)
	report.Checks[0].Name = "exit_status"
	return report, models.ModeVerification, nil
}
