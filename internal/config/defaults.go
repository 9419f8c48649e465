package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			DataDir:  "~/.agentrelay",
			LogLevel: "info",
			Sender:   "operator",
		},
		Router: RouterConfig{
			AutoOrder:    []string{"GUI_AUTOMATION", "INBOX_FILE"},
			MaxRetries:   2,
			RetryDelayMs: 300,
			Workers:      4,
		},
		Automation: AutomationConfig{
			Enabled:              true,
			Backend:              "chrome",
			URL:                  "http://127.0.0.1:3000/",
			ProfileDir:           "~/.agentrelay/chrome-profile",
			Headless:             false,
			Width:                1920,
			Height:               1080,
			ActionTimeoutSeconds: 10,
			InputMode:            "paste",
			Burst:                5,
			SendsPerMinute:       60,
		},
		Coordinates: CoordinatesConfig{
			Path: "~/.agentrelay/coordinates.yaml",
		},
		Inbox: InboxConfig{
			Enabled:       true,
			Root:          "~/.agentrelay/workspaces",
			CreateMissing: false,
		},
		History: HistoryConfig{
			Enabled:       true,
			DBPath:        "~/.agentrelay/history.db",
			RetentionDays: 90,
		},
		Spool: SpoolConfig{
			Dir:                 "~/.agentrelay/spool",
			ScanIntervalSeconds: 30,
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Listen:   "127.0.0.1:9464",
			Endpoint: "/metrics",
		},
		Ingest: IngestConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9465",
			Path:    "/messages",
		},
	}
}
