package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gabe/crew/internal/agent"
	"github.com/gabe/crew/internal/budget"
	"github.com/gabe/crew/internal/config"
	"github.com/gabe/crew/internal/logging"
	"github.com/gabe/crew/internal/mission"
	"github.com/gabe/crew/internal/models"
	"github.com/gabe/crew/internal/notify"
	"github.com/gabe/crew/internal/planner"
	"github.com/gabe/crew/internal/profile"
	"github.com/gabe/crew/internal/registry"
	"github.com/gabe/crew/internal/storage"
	"github.com/gabe/crew/internal/taskgraph"
	"github.com/gabe/crew/internal/verify"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const defaultWebhookBackoff = time.Second

// env is everything a command needs, opened from the crew home
type env struct {
	paths     config.Paths
	cfg       *config.Config
	logger    *slog.Logger
	logCloser io.Closer

	db        *gorm.DB
	redis     *redis.Client
	missions  storage.MissionStore
	rules     budget.RuleStore
	graphs    *taskgraph.FileStore
	roster    *registry.Roster
	profiles  *profile.Manager
	inbox     *notify.InboxChannel
	summary   *notify.SummaryReporter
	notifier  *notify.Manager
	metrics   *budget.Metrics
	tracker   *budget.Tracker
	evaluator *budget.Evaluator
	wallet    budget.Wallet
}

func crewHome() (string, error) {
	if flagHome != "" {
		return flagHome, nil
	}
	return config.Home()
}

// openEnv loads config and opens stores, channels and the wallet
func openEnv() (*env, error) {
	home, err := crewHome()
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadOrCreate(config.Layout(home, nil).Config)
	if err != nil {
		return nil, err
	}
	paths := config.Layout(home, cfg)
	for _, dir := range paths.Dirs() {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	e := &env{paths: paths, cfg: cfg}

	level := cfg.Logging.Level
	if flagDebug {
		level = "debug"
	}
	e.logger, e.logCloser, err = logging.New(logging.Options{
		Level:  level,
		Format: cfg.Logging.Format,
		File:   paths.Resolve(cfg.Logging.File),
		Stdout: flagDebug || cfg.Logging.Stdout,
	})
	if err != nil {
		return nil, err
	}

	if err := e.openStores(); err != nil {
		e.Close()
		return nil, err
	}
	if err := e.openNotifier(); err != nil {
		e.Close()
		return nil, err
	}
	e.openBudget()
	return e, nil
}

func (e *env) openStores() error {
	var err error
	switch e.cfg.Storage.Backend {
	case "mysql":
		e.db, err = storage.ConnectMySQL(e.cfg.Storage.MySQLDSN)
		if err != nil {
			return err
		}
		if err := storage.Migrate(e.db); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
		e.missions = storage.NewGormMissionStore(e.db)
		e.rules = storage.NewGormRuleStore(e.db)
	default:
		if e.missions, err = storage.NewFileMissionStore(e.paths.Missions); err != nil {
			return err
		}
		if e.rules, err = budget.NewFileRuleStore(e.paths.Alerts); err != nil {
			return err
		}
	}

	if e.graphs, err = taskgraph.NewFileStore(e.paths.Graphs); err != nil {
		return err
	}
	e.roster = registry.NewRoster(registry.DefaultRosterPath(e.paths.Data))
	if e.profiles, err = profile.NewManager(e.paths.Workers); err != nil {
		return err
	}
	return nil
}

func (e *env) openNotifier() error {
	n := e.cfg.Notifications
	e.notifier = notify.NewManager(e.logger)

	if n.Log {
		e.notifier.Register("log", notify.NewLogChannel(e.logger))
	}
	if n.Terminal {
		e.notifier.Register("terminal", notify.NewTerminalChannel())
	}
	if n.Inbox {
		inbox, err := notify.NewInboxChannel(e.paths.Alerts)
		if err != nil {
			return err
		}
		e.inbox = inbox
		e.notifier.Register("inbox", inbox)
	}
	if n.WebhookURL != "" {
		tries := uint64(max(n.WebhookRetries, 1))
		e.notifier.Register("webhook", notify.NewWebhookChannel(n.WebhookURL, notify.WithRetries(tries, defaultWebhookBackoff)))
	}
	return nil
}

func (e *env) openBudget() {
	b := e.cfg.Budget
	e.metrics = budget.DefaultMetrics()
	e.tracker = budget.NewTracker(
		budget.WithTokensPerCredit(b.TokensPerCredit),
		budget.WithMetrics(e.metrics),
	)
	e.evaluator = budget.NewEvaluator(e.rules,
		budget.WithDispatcher(e.notifier),
		budget.WithDefaultChannels(e.cfg.Notifications.DefaultChannels...),
		budget.WithTiers([]budget.Tier{
			{Severity: models.SeverityWarning, Percent: b.WarningPercent},
			{Severity: models.SeverityCritical, Percent: b.CriticalPercent},
		}),
		budget.WithWindow(b.Window()),
		budget.WithEvaluatorMetrics(e.metrics),
		budget.WithLogger(e.logger),
	)

	w := e.cfg.Wallet
	if w.Backend == "redis" {
		e.redis = redis.NewClient(&redis.Options{
			Addr:     w.RedisAddr,
			Password: w.RedisPassword,
			DB:       w.RedisDB,
		})
		e.wallet = budget.NewRedisWallet(e.redis, w.KeyPrefix, w.InitialCredits)
		return
	}
	e.wallet = budget.NewMemoryWallet(w.InitialCredits)
}

// startSummary adds the periodic digest channel; only long-lived
// processes call it
func (e *env) startSummary() {
	e.summary = notify.NewSummaryReporter(e.paths.Resolve(".crew/logs/summary.log"), e.cfg.Notifications.Interval())
	e.summary.Start()
	e.notifier.Register("summary", e.summary)
}

// Close flushes notifications and releases connections
func (e *env) Close() {
	if e.notifier != nil {
		if err := e.notifier.Close(); err != nil {
			e.logger.Warn("failed to close notification channels", "error", err)
		}
	}
	if e.redis != nil {
		e.redis.Close()
	}
	if e.db != nil {
		if sqlDB, err := e.db.DB(); err == nil {
			sqlDB.Close()
		}
	}
	if e.logCloser != nil {
		e.logCloser.Close()
	}
}

// user picks the mission owner: the flag, then the configured default
func (e *env) user(flag string) string {
	if flag != "" {
		return flag
	}
	return e.cfg.Coordinator.DefaultUser
}

// registry builds every stored worker profile into a capability registry
func (e *env) registry() (*registry.Registry, error) {
	reg := registry.New()
	_, err := e.profiles.LoadInto(reg, profile.BuildOptions{
		WorkDir: currentDir(),
		Cost:    e.tracker.Estimate,
		Logger:  e.logger,
	})
	if err != nil {
		return nil, err
	}
	for _, name := range reg.List() {
		if err := e.roster.Enroll(name, kindOf(name, e.profiles)); err != nil {
			e.logger.Warn("failed to enroll worker", "worker", name, "error", err)
		}
	}
	return reg, nil
}

func kindOf(name string, profiles *profile.Manager) string {
	p, err := profiles.Get(name)
	if err != nil {
		return ""
	}
	return string(p.Kind)
}

// coordinator wires a mission coordinator over the env's stores. reg may be
// nil for read-only commands.
func (e *env) coordinator(reg *registry.Registry) *mission.Coordinator {
	if reg == nil {
		reg = registry.New()
	}
	c := e.cfg.Coordinator

	opts := verify.DefaultOptions()
	opts.BaseDir = currentDir()
	opts.Logger = e.logger

	return mission.New(reg,
		mission.WithOracle(planner.NewClaudeOracle(agent.NewClient(), capabilities(reg))),
		mission.WithPlannerWorker(c.PlannerWorker),
		mission.WithTracker(e.tracker),
		mission.WithWallet(e.wallet),
		mission.WithEvaluator(e.evaluator),
		mission.WithChecker(verify.NewChecker(opts)),
		mission.WithMissionStore(e.missions),
		mission.WithGraphStore(e.graphs),
		mission.WithRoster(e.roster),
		mission.WithNotifier(e.notifier),
		mission.WithMetrics(e.metrics),
		mission.WithLogger(e.logger),
		mission.WithMaxConcurrentSteps(c.MaxConcurrentSteps),
		mission.WithStepTimeout(c.StepTimeout()),
		mission.WithBudget(e.cfg.Budget.AllocatedCredits),
		mission.WithSnapshotCache(c.SnapshotCacheSize),
	)
}

// capabilities lists every tag the registered workers offer
func capabilities(reg *registry.Registry) []string {
	seen := make(map[string]bool)
	var tags []string
	for _, name := range reg.List() {
		w, _ := reg.Get(name)
		for tag := range w.Spec().Tags() {
			if !seen[tag] {
				seen[tag] = true
				tags = append(tags, tag)
			}
		}
	}
	sort.Strings(tags)
	return tags
}

func currentDir() string {
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	return dir
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
