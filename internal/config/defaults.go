package config

// DefaultConfig returns configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Coordinator: CoordinatorConfig{
			MaxConcurrentSteps: 4,
			DefaultStepTimeout: "30m",
			PlannerWorker:      "planner",
			SnapshotCacheSize:  256,
			DefaultUser:        "local",
		},
		Budget: BudgetConfig{
			TokensPerCredit:  1000,
			AllocatedCredits: 1000,
			WarningPercent:   80,
			CriticalPercent:  90,
			ThroughputWindow: "1h",
		},
		Wallet: WalletConfig{
			Backend:        "memory",
			RedisAddr:      "localhost:6379",
			KeyPrefix:      "crew:wallet",
			InitialCredits: 1000,
		},
		Storage: StorageConfig{
			Backend: "file",
			Dir:     ".crew",
		},
		Notifications: NotificationsConfig{
			Terminal:        true,
			Inbox:           true,
			Log:             true,
			WebhookRetries:  3,
			SummaryInterval: "1h",
			DefaultChannels: []string{"inbox", "log"},
		},
		API: APIConfig{
			Listen: "127.0.0.1:7420",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			File:   ".crew/logs/crew.log",
		},
	}
}
