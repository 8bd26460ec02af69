package profile

import (
	"fmt"
	"log/slog"

	"github.com/gabe/crew/internal/agent"
	"github.com/gabe/crew/internal/registry"
	"github.com/gabe/crew/internal/worker"
)

// BuildOptions carries process-wide settings shared by built workers
type BuildOptions struct {
	ClaudePath string
	WorkDir    string
	Cost       worker.CostFunc
	Logger     *slog.Logger
}

// Build constructs the worker a profile describes
func Build(p *Profile, opts BuildOptions) (worker.Worker, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	spec := p.Spec()

	switch p.Kind {
	case KindCommand:
		w := worker.NewCommand(spec, p.Command, p.Args...)
		dir := p.Dir
		if dir == "" {
			dir = opts.WorkDir
		}
		w.SetDir(dir)
		return w, nil

	case KindClaude:
		client := agent.NewClient()
		if opts.ClaudePath != "" {
			client.ClaudePath = opts.ClaudePath
		}
		client.Model = p.Model
		client.WorkDir = p.Dir
		if client.WorkDir == "" {
			client.WorkDir = opts.WorkDir
		}
		client.SystemPrompt = p.SystemPrompt
		if client.SystemPrompt == "" {
			client.SystemPrompt = agent.WorkerSystemPrompt
		}
		return worker.NewClaude(spec, client, opts.Cost), nil
	}
	return nil, fmt.Errorf("worker %q: unknown kind %q", p.Name, p.Kind)
}

// LoadInto builds every stored profile and registers it. A broken profile
// is logged and skipped so one bad file cannot take the rest down.
func (m *Manager) LoadInto(reg *registry.Registry, opts BuildOptions) (int, error) {
	profiles, err := m.List()
	if err != nil {
		return 0, err
	}
	loaded := 0
	for _, p := range profiles {
		w, err := Build(p, opts)
		if err != nil {
			if opts.Logger != nil {
				opts.Logger.Warn("skipping worker profile", "worker", p.Name, "error", err)
			}
			continue
		}
		reg.Register(w)
		loaded++
	}
	return loaded, nil
}
