package config

// Config holds the main crew configuration
type Config struct {
	Coordinator   CoordinatorConfig   `toml:"coordinator"`
	Budget        BudgetConfig        `toml:"budget"`
	Wallet        WalletConfig        `toml:"wallet"`
	Storage       StorageConfig       `toml:"storage"`
	Notifications NotificationsConfig `toml:"notifications"`
	API           APIConfig           `toml:"api"`
	Logging       LoggingConfig       `toml:"logging"`
}

type CoordinatorConfig struct {
	MaxConcurrentSteps int    `toml:"max_concurrent_steps"`
	DefaultStepTimeout string `toml:"default_step_timeout"`
	PlannerWorker      string `toml:"planner_worker"`
	SnapshotCacheSize  int    `toml:"snapshot_cache_size"`
	DefaultUser        string `toml:"default_user"`
}

type BudgetConfig struct {
	TokensPerCredit  int     `toml:"tokens_per_credit"`
	AllocatedCredits int64   `toml:"allocated_credits"`
	WarningPercent   float64 `toml:"warning_percent"`
	CriticalPercent  float64 `toml:"critical_percent"`
	ThroughputWindow string  `toml:"throughput_window"`
}

type WalletConfig struct {
	Backend        string `toml:"backend"` // memory or redis
	RedisAddr      string `toml:"redis_addr"`
	RedisPassword  string `toml:"redis_password"`
	RedisDB        int    `toml:"redis_db"`
	KeyPrefix      string `toml:"key_prefix"`
	InitialCredits int64  `toml:"initial_credits"`
}

type StorageConfig struct {
	Backend  string `toml:"backend"` // file or mysql
	Dir      string `toml:"dir"`     // relative to the crew home
	MySQLDSN string `toml:"mysql_dsn"`
}

type NotificationsConfig struct {
	Terminal        bool     `toml:"terminal"`
	Inbox           bool     `toml:"inbox"`
	Log             bool     `toml:"log"`
	WebhookURL      string   `toml:"webhook_url"`
	WebhookRetries  int      `toml:"webhook_retries"`
	SummaryInterval string   `toml:"summary_interval"`
	DefaultChannels []string `toml:"default_channels"`
}

type APIConfig struct {
	Listen string `toml:"listen"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // text or json
	File   string `toml:"file"`
	Stdout bool   `toml:"stdout"`
}
