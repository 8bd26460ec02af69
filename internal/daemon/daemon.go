// Package daemon runs the long-lived `crew serve` process: a PID file guards
// against a second instance and named services share one lifetime.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"golang.org/x/sync/errgroup"
)

// State represents the daemon's operational state
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
)

// ErrAlreadyRunning is returned when another daemon holds the PID file
var ErrAlreadyRunning = errors.New("daemon already running")

// Service is one long-running part of the daemon. Run blocks until ctx is
// cancelled or the service fails; a failure stops every other service.
type Service struct {
	Name string
	Run  func(ctx context.Context) error
}

// Daemon manages the crew background services
type Daemon struct {
	pidFile  string
	logger   *slog.Logger
	services []Service

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
}

// New creates a new daemon whose PID file lives in dataDir
func New(dataDir string, logger *slog.Logger) *Daemon {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Daemon{
		pidFile: filepath.Join(dataDir, "serve.pid"),
		logger:  logger,
		state:   StateIdle,
	}
}

// PIDFile returns the path of the daemon's PID file
func (d *Daemon) PIDFile() string {
	return d.pidFile
}

// Add registers a service. Services added after Start are ignored.
func (d *Daemon) Add(name string, run func(ctx context.Context) error) {
	d.services = append(d.services, Service{Name: name, Run: run})
}

// Start runs every service until ctx is cancelled, a signal arrives or a
// service fails. It returns the first service error, or nil on a clean stop.
func (d *Daemon) Start(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(d.pidFile), 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	// Check for existing daemon
	running, pid, err := CheckExistingDaemon(d.pidFile)
	if err != nil {
		return err
	}
	if running {
		return fmt.Errorf("%w (PID %d)", ErrAlreadyRunning, pid)
	}

	if err := WritePID(d.pidFile, os.Getpid()); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	defer d.shutdown()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.mu.Lock()
	d.state = StateRunning
	d.cancel = cancel
	d.mu.Unlock()

	d.logger.Info("crew daemon started", "pid", os.Getpid(), "services", len(d.services))

	g, gctx := errgroup.WithContext(ctx)
	for _, svc := range d.services {
		g.Go(func() error {
			d.logger.Debug("service starting", "service", svc.Name)
			err := svc.Run(gctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				d.logger.Error("service failed", "service", svc.Name, "error", err)
				return fmt.Errorf("%s: %w", svc.Name, err)
			}
			d.logger.Debug("service stopped", "service", svc.Name)
			return nil
		})
	}
	return g.Wait()
}

// Stop gracefully stops a daemon started in this process
func (d *Daemon) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
	}
	return nil
}

// Signal asks the daemon recorded in the PID file to shut down
func (d *Daemon) Signal() error {
	running, pid, err := CheckExistingDaemon(d.pidFile)
	if err != nil {
		return err
	}
	if !running {
		return fmt.Errorf("daemon not running")
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return process.Signal(syscall.SIGTERM)
}

// Status returns the current daemon status
func (d *Daemon) Status() (State, int, error) {
	running, pid, err := CheckExistingDaemon(d.pidFile)
	if err != nil {
		return "", 0, err
	}
	if !running {
		return StateIdle, 0, nil
	}
	return StateRunning, pid, nil
}

func (d *Daemon) shutdown() {
	d.mu.Lock()
	d.state = StateIdle
	d.cancel = nil
	d.mu.Unlock()

	if err := RemovePID(d.pidFile); err != nil && !os.IsNotExist(err) {
		d.logger.Warn("failed to remove PID file", "error", err)
	}
	d.logger.Info("crew daemon stopped")
}
