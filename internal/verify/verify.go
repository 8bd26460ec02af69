// Package verify checks a worker's declared completion criteria against
// external ground truth. It never looks at the worker's own success flag.
package verify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/gabe/crew/internal/models"
)

// ReducedConfidenceNote is added to reports that rest on self-attestation
const ReducedConfidenceNote = "no completion criteria declared; result relies on self-attestation only"

// Inspector evaluates one kind of completion criterion
type Inspector interface {
	Inspect(ctx context.Context, c models.CompletionCriterion) models.Check
}

// InspectorFunc adapts a function to an Inspector
type InspectorFunc func(ctx context.Context, c models.CompletionCriterion) models.Check

func (f InspectorFunc) Inspect(ctx context.Context, c models.CompletionCriterion) models.Check {
	return f(ctx, c)
}

// Checker runs criteria through the inspector registered for their type
type Checker struct {
	inspectors map[models.CriterionType]Inspector
	logger     *slog.Logger
}

// Options configures the built-in inspectors
type Options struct {
	BaseDir         string        // relative file targets resolve against this
	TestTimeout     time.Duration // per test_passes command
	HTTPClient      *http.Client
	EndpointTries   uint64
	EndpointBackoff time.Duration
	CommandCreator  func(ctx context.Context, name string, args ...string) *exec.Cmd
	Logger          *slog.Logger
}

// DefaultOptions returns inspector options suitable for local missions
func DefaultOptions() Options {
	return Options{
		TestTimeout:     5 * time.Minute,
		HTTPClient:      &http.Client{Timeout: 10 * time.Second},
		EndpointTries:   3,
		EndpointBackoff: 500 * time.Millisecond,
		CommandCreator:  exec.CommandContext,
	}
}

// NewChecker creates a checker with the four built-in inspectors
func NewChecker(opts Options) *Checker {
	def := DefaultOptions()
	if opts.TestTimeout <= 0 {
		opts.TestTimeout = def.TestTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = def.HTTPClient
	}
	if opts.EndpointBackoff <= 0 {
		opts.EndpointBackoff = def.EndpointBackoff
	}
	if opts.CommandCreator == nil {
		opts.CommandCreator = def.CommandCreator
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	files := fileInspector{baseDir: opts.BaseDir}
	return &Checker{
		logger: logger,
		inspectors: map[models.CriterionType]Inspector{
			models.CriterionFileExists:      InspectorFunc(files.exists),
			models.CriterionContentContains: InspectorFunc(files.contains),
			models.CriterionTestPasses: &testInspector{
				dir:     opts.BaseDir,
				timeout: opts.TestTimeout,
				create:  opts.CommandCreator,
			},
			models.CriterionEndpointHealthy: &endpointInspector{
				client:  opts.HTTPClient,
				tries:   opts.EndpointTries,
				backoff: opts.EndpointBackoff,
			},
		},
	}
}

// SetInspector replaces the inspector for a criterion type
func (c *Checker) SetInspector(t models.CriterionType, p Inspector) {
	c.inspectors[t] = p
}

// Check evaluates every declared criterion. With no criteria the report does
// not pass: an empty declaration proves nothing.
func (c *Checker) Check(ctx context.Context, out models.TaskOutput) models.VerificationReport {
	report := models.VerificationReport{Source: models.SourceIndependent}
	if len(out.Criteria) == 0 {
		report.Recommendations = []string{ReducedConfidenceNote}
		return report
	}

	passed := true
	for _, crit := range out.Criteria {
		var check models.Check
		inspector, ok := c.inspectors[crit.Type]
		if !ok {
			check = models.Check{
				Name:    checkName(crit),
				Message: fmt.Sprintf("no inspector for criterion type %q", crit.Type),
			}
		} else {
			check = inspector.Inspect(ctx, crit)
			if check.Name == "" {
				check.Name = checkName(crit)
			}
		}
		c.logger.Debug("criterion checked", "check", check.Name, "passed", check.Passed)
		if !check.Passed {
			passed = false
			report.Recommendations = append(report.Recommendations,
				fmt.Sprintf("%s failed: %s", check.Name, check.Message))
		}
		report.Checks = append(report.Checks, check)
	}
	report.Passed = passed
	return report
}

func checkName(c models.CompletionCriterion) string {
	return fmt.Sprintf("%s:%s", c.Type, c.Target)
}

func resolve(baseDir, target string) string {
	if baseDir == "" || filepath.IsAbs(target) {
		return target
	}
	return filepath.Join(baseDir, target)
}
