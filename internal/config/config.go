package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for agentrelay.
type Config struct {
	General     GeneralConfig     `json:"general"`
	Router      RouterConfig      `json:"router"`
	Automation  AutomationConfig  `json:"automation"`
	Coordinates CoordinatesConfig `json:"coordinates"`
	Inbox       InboxConfig       `json:"inbox"`
	History     HistoryConfig     `json:"history"`
	Spool       SpoolConfig       `json:"spool"`
	Metrics     MetricsConfig     `json:"metrics"`
	Ingest      IngestConfig      `json:"ingest"`
}

type GeneralConfig struct {
	DataDir  string `json:"dataDir"`
	LogLevel string `json:"logLevel"`
	LogFile  string `json:"logFile"` // optional log file path
	Sender   string `json:"sender"`  // default --from for send/broadcast
}

// RouterConfig is handed to router.New once at startup.
type RouterConfig struct {
	AutoOrder    []string `json:"autoOrder"`
	MaxRetries   int      `json:"maxRetries"` // extra tries per strategy for transient errors
	RetryDelayMs int      `json:"retryDelayMs"`
	Workers      int      `json:"workers"` // broadcast pool size
}

// AutomationConfig configures GUI delivery.
type AutomationConfig struct {
	Enabled              bool    `json:"enabled"`
	Backend              string  `json:"backend"` // "chrome" | "dryrun"
	URL                  string  `json:"url"`     // agents' console page
	ProfileDir           string  `json:"profileDir"`
	Headless             bool    `json:"headless"`
	Width                int     `json:"width"`
	Height               int     `json:"height"`
	ActionTimeoutSeconds int     `json:"actionTimeoutSeconds"`
	InputMode            string  `json:"inputMode"` // "paste" | "type"
	Burst                int     `json:"burst"`
	SendsPerMinute       float64 `json:"sendsPerMinute"`
}

type CoordinatesConfig struct {
	Path string `json:"path"`
}

type InboxConfig struct {
	Enabled       bool   `json:"enabled"`
	Root          string `json:"root"`          // <root>/<recipient>/inbox
	CreateMissing bool   `json:"createMissing"` // accept recipients without a workspace dir
}

type HistoryConfig struct {
	Enabled       bool   `json:"enabled"`
	DBPath        string `json:"dbPath"`
	RetentionDays int    `json:"retentionDays"` // 0 keeps everything
}

type SpoolConfig struct {
	Dir                 string `json:"dir"`
	ScanIntervalSeconds int    `json:"scanIntervalSeconds"`
}

// MetricsConfig configures the Prometheus text endpoint served by `serve`.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Listen   string `json:"listen"`
	Endpoint string `json:"endpoint"`
}

// IngestConfig configures the HTTP endpoint that queues messages in the spool.
type IngestConfig struct {
	Enabled bool   `json:"enabled"`
	Listen  string `json:"listen"`
	Path    string `json:"path"`
	Secret  string `json:"secret"` // HMAC-SHA256 key; empty accepts unsigned requests
}

// DefaultConfigDir returns the default config directory (~/.agentrelay).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agentrelay"
	}
	return filepath.Join(home, ".agentrelay")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	cfg.ExpandPaths()

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// ExpandPaths resolves ~/ in every path field.
func (c *Config) ExpandPaths() {
	for _, p := range []*string{
		&c.General.DataDir,
		&c.General.LogFile,
		&c.Automation.ProfileDir,
		&c.Coordinates.Path,
		&c.Inbox.Root,
		&c.History.DBPath,
		&c.Spool.Dir,
	} {
		*p = ExpandPath(*p)
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty; an unset
// variable without a default is left as written.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""
		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// Strategy names accepted in router.autoOrder.
var knownStrategies = map[string]bool{"GUI_AUTOMATION": true, "INBOX_FILE": true}

// Validate checks that the config has valid values. All problems are
// reported together.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	seen := make(map[string]bool)
	for _, name := range cfg.Router.AutoOrder {
		if !knownStrategies[name] {
			errs = append(errs, fmt.Sprintf("router.autoOrder references unknown strategy: %s", name))
		}
		if seen[name] {
			errs = append(errs, fmt.Sprintf("router.autoOrder lists %s twice", name))
		}
		seen[name] = true
	}
	if cfg.Router.MaxRetries < 0 || cfg.Router.MaxRetries > 10 {
		errs = append(errs, "router.maxRetries must be between 0 and 10")
	}
	if cfg.Router.RetryDelayMs < 0 || cfg.Router.RetryDelayMs > 60000 {
		errs = append(errs, "router.retryDelayMs must be between 0 and 60000")
	}
	if cfg.Router.Workers < 1 || cfg.Router.Workers > 32 {
		errs = append(errs, "router.workers must be between 1 and 32")
	}

	if !cfg.Automation.Enabled && !cfg.Inbox.Enabled {
		errs = append(errs, "at least one of automation.enabled and inbox.enabled must be true")
	}
	if cfg.Automation.Enabled {
		switch cfg.Automation.Backend {
		case "chrome":
			if cfg.Automation.URL == "" {
				errs = append(errs, "automation.url is required for the chrome backend")
			}
		case "dryrun":
		default:
			errs = append(errs, "automation.backend must be one of: chrome, dryrun")
		}
		switch cfg.Automation.InputMode {
		case "paste", "type":
		default:
			errs = append(errs, "automation.inputMode must be one of: paste, type")
		}
		if cfg.Automation.Width < 1 || cfg.Automation.Height < 1 {
			errs = append(errs, "automation.width and automation.height must be >= 1")
		}
		if cfg.Automation.ActionTimeoutSeconds < 1 {
			errs = append(errs, "automation.actionTimeoutSeconds must be >= 1")
		}
		if cfg.Automation.Burst < 1 {
			errs = append(errs, "automation.burst must be >= 1")
		}
		if cfg.Automation.SendsPerMinute <= 0 {
			errs = append(errs, "automation.sendsPerMinute must be > 0")
		}
	}
	if cfg.Coordinates.Path == "" {
		errs = append(errs, "coordinates.path is required")
	}
	if cfg.Inbox.Enabled && cfg.Inbox.Root == "" {
		errs = append(errs, "inbox.root is required when the inbox is enabled")
	}

	if cfg.History.Enabled && cfg.History.DBPath == "" {
		errs = append(errs, "history.dbPath is required when history is enabled")
	}
	if cfg.History.RetentionDays < 0 {
		errs = append(errs, "history.retentionDays must be >= 0")
	}
	if cfg.Spool.Dir == "" {
		errs = append(errs, "spool.dir is required")
	}
	if cfg.Spool.ScanIntervalSeconds < 1 {
		errs = append(errs, "spool.scanIntervalSeconds must be >= 1")
	}

	if cfg.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(cfg.Metrics.Listen); err != nil {
			errs = append(errs, "metrics.listen must be host:port")
		}
		if !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
			errs = append(errs, "metrics.endpoint must start with /")
		}
	}

	if cfg.Ingest.Enabled {
		if _, _, err := net.SplitHostPort(cfg.Ingest.Listen); err != nil {
			errs = append(errs, "ingest.listen must be host:port")
		}
		if !strings.HasPrefix(cfg.Ingest.Path, "/") {
			errs = append(errs, "ingest.path must start with /")
		}
		if cfg.Metrics.Enabled && cfg.Metrics.Listen == cfg.Ingest.Listen {
			errs = append(errs, "ingest.listen and metrics.listen must differ")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory (used by wizard and Load).
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
