package setup

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabe/crew/internal/config"
	"github.com/gabe/crew/internal/profile"
)

// samplePlan is written to plans/hello.json so `crew run --plan` works
// right after init
const samplePlan = `{
  "reasoning": "Smoke test: write a file, then check it",
  "steps": [
    {
      "id": "write",
      "action": "write hello.txt",
      "worker": "shell",
      "payload": {
        "command": "sh",
        "args": ["-c", "echo hello from crew > hello.txt"],
        "criteria": [{"type": "file_exists", "target": "hello.txt"}]
      },
      "estimated_cost": 1
    },
    {
      "id": "check",
      "action": "confirm contents",
      "worker": "shell",
      "depends_on": ["write"],
      "payload": {
        "command": "grep",
        "args": ["-q", "crew", "hello.txt"],
        "criteria": [{"type": "content_contains", "target": "hello.txt", "expected": "crew"}]
      },
      "estimated_cost": 1
    }
  ]
}
`

// Wizard handles interactive first-run setup
type Wizard struct {
	reader *bufio.Reader
	out    io.Writer
	home   string
}

// NewWizard creates a setup wizard on stdin/stdout
func NewWizard() *Wizard {
	return NewWizardIO(os.Stdin, os.Stdout)
}

// NewWizardIO creates a setup wizard on the given streams
func NewWizardIO(in io.Reader, out io.Writer) *Wizard {
	return &Wizard{
		reader: bufio.NewReader(in),
		out:    out,
	}
}

// WithHome sets the home offered as the default answer
func (w *Wizard) WithHome(home string) *Wizard {
	w.home = home
	return w
}

// Run executes the setup wizard and returns the crew home it set up
func (w *Wizard) Run() (string, error) {
	fmt.Fprintln(w.out, "Welcome to crew - mission orchestration")
	fmt.Fprintln(w.out, "=======================================")
	fmt.Fprintln(w.out)

	defaultHome := w.home
	if defaultHome == "" {
		var err error
		if defaultHome, err = config.Home(); err != nil {
			return "", err
		}
	}
	home, err := w.prompt("Where should crew store its data?", defaultHome)
	if err != nil {
		return "", err
	}

	cfg := config.DefaultConfig()
	user, err := w.prompt("Default user id for missions", cfg.Coordinator.DefaultUser)
	if err != nil {
		return "", err
	}
	cfg.Coordinator.DefaultUser = user

	credits, err := w.prompt("Credits allocated per user", strconv.FormatInt(cfg.Budget.AllocatedCredits, 10))
	if err != nil {
		return "", err
	}
	n, err := strconv.ParseInt(credits, 10, 64)
	if err != nil || n <= 0 {
		return "", fmt.Errorf("credits must be a positive integer, got %q", credits)
	}
	cfg.Budget.AllocatedCredits = n
	cfg.Wallet.InitialCredits = n

	paths, err := Install(home, cfg)
	if err != nil {
		return "", err
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "Setup complete!")
	fmt.Fprintf(w.out, "  Crew home: %s\n", paths.Root)
	fmt.Fprintf(w.out, "  Config:    %s\n", paths.Config)
	fmt.Fprintf(w.out, "  Workers:   %s\n", paths.Workers)
	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "Next steps:")
	fmt.Fprintf(w.out, "  1. Try the sample plan: crew run \"hello\" --plan %s\n", filepath.Join(paths.Plans, "hello.json"))
	fmt.Fprintln(w.out, "  2. Add a worker:        crew workers add <name> --kind claude --capabilities code")
	fmt.Fprintln(w.out, "  3. Watch missions:      crew status")

	return paths.Root, nil
}

// Install creates the directory layout, config, sample workers and sample
// plan under home. Existing profiles and plans are left alone.
func Install(home string, cfg *config.Config) (config.Paths, error) {
	paths := config.Layout(home, cfg)
	for _, dir := range paths.Dirs() {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return paths, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	if err := config.Save(paths.Config, cfg); err != nil {
		return paths, fmt.Errorf("failed to save config: %w", err)
	}

	profiles, err := profile.NewManager(paths.Workers)
	if err != nil {
		return paths, err
	}
	for _, p := range defaultProfiles() {
		if _, err := profiles.Get(p.Name); err == nil {
			continue
		}
		if err := profiles.Create(p); err != nil {
			return paths, fmt.Errorf("failed to create worker %s: %w", p.Name, err)
		}
	}

	planPath := filepath.Join(paths.Plans, "hello.json")
	if _, err := os.Stat(planPath); os.IsNotExist(err) {
		if err := os.WriteFile(planPath, []byte(samplePlan), 0644); err != nil {
			return paths, fmt.Errorf("failed to write sample plan: %w", err)
		}
	}
	return paths, nil
}

func defaultProfiles() []*profile.Profile {
	return []*profile.Profile{
		{
			Name:         "shell",
			Description:  "Runs the command named in each step's payload",
			Kind:         profile.KindCommand,
			Capabilities: []string{"shell", "build", "test"},
			Timeout:      "10m",
			Command:      "sh",
			Args:         []string{"-c", "true"},
		},
		{
			Name:         "claude",
			Description:  "General coding worker backed by the claude CLI",
			Kind:         profile.KindClaude,
			Capabilities: []string{"code", "research", "write"},
			Timeout:      "30m",
		},
	}
}

func (w *Wizard) prompt(question, defaultVal string) (string, error) {
	fmt.Fprintf(w.out, "%s [%s]: ", question, defaultVal)
	input, err := w.reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}

	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal, nil
	}
	return input, nil
}
