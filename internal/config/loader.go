package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Load reads config from path, applying defaults for missing values
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrCreate loads config or creates default if missing
func LoadOrCreate(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, err
		}
		return cfg, Save(path, cfg)
	}
	return Load(path)
}

// Save writes config to path
func Save(path string, cfg *Config) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// Validate checks values that cannot be defaulted
func (c *Config) Validate() error {
	switch c.Wallet.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown wallet backend %q", c.Wallet.Backend)
	}
	switch c.Storage.Backend {
	case "file":
	case "mysql":
		if c.Storage.MySQLDSN == "" {
			return fmt.Errorf("storage backend mysql requires mysql_dsn")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Budget.WarningPercent > c.Budget.CriticalPercent {
		return fmt.Errorf("warning_percent %.0f above critical_percent %.0f",
			c.Budget.WarningPercent, c.Budget.CriticalPercent)
	}
	for _, d := range []string{c.Coordinator.DefaultStepTimeout, c.Budget.ThroughputWindow, c.Notifications.SummaryInterval} {
		if d == "" {
			continue
		}
		if _, err := time.ParseDuration(d); err != nil {
			return err
		}
	}
	return nil
}

// Duration parses s, returning fallback when s is empty or malformed
func Duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// StepTimeout is the default per-step execute bound
func (c CoordinatorConfig) StepTimeout() time.Duration {
	return Duration(c.DefaultStepTimeout, 30*time.Minute)
}

// Window is the throughput and error-rate window
func (c BudgetConfig) Window() time.Duration {
	return Duration(c.ThroughputWindow, time.Hour)
}

// Interval is the summary digest period
func (c NotificationsConfig) Interval() time.Duration {
	return Duration(c.SummaryInterval, time.Hour)
}
