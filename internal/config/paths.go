package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// HomeEnv overrides the crew home directory
const HomeEnv = "CREW_HOME"

// Home returns the crew home directory, ~/crew unless CREW_HOME is set
func Home() (string, error) {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, "crew"), nil
}

// Paths is the on-disk layout under a crew home
type Paths struct {
	Root     string
	Config   string
	Data     string
	Missions string
	Graphs   string
	Alerts   string
	Hooks    string
	Logs     string
	Workers  string
	Plans    string
}

// Layout derives the directory layout from a crew home and config
func Layout(root string, cfg *Config) Paths {
	dataDir := ".crew"
	if cfg != nil && cfg.Storage.Dir != "" {
		dataDir = cfg.Storage.Dir
	}
	data := dataDir
	if !filepath.IsAbs(data) {
		data = filepath.Join(root, data)
	}
	return Paths{
		Root:     root,
		Config:   filepath.Join(root, "config.toml"),
		Data:     data,
		Missions: data,
		Graphs:   filepath.Join(data, "graphs"),
		Alerts:   filepath.Join(data, "alerts"),
		Hooks:    filepath.Join(data, "hooks"),
		Logs:     filepath.Join(data, "logs"),
		Workers:  filepath.Join(root, "workers"),
		Plans:    filepath.Join(root, "plans"),
	}
}

// Dirs lists every directory that must exist
func (p Paths) Dirs() []string {
	return []string{p.Root, p.Data, p.Graphs, p.Alerts, p.Hooks, p.Logs, p.Workers, p.Plans}
}

// Resolve makes a config-relative path absolute under the crew home
func (p Paths) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(p.Root, path)
}
