package config

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/cwygoda/songbridge/internal/domain"
)

// Store drivers.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// MCP transports.
const (
	MCPHTTP  = "http"
	MCPStdio = "stdio"
	MCPOff   = "off"
)

// Config holds application configuration.
type Config struct {
	Port   int    `toml:"port"`
	Store  string `toml:"store"`
	DBPath string `toml:"db_path"`

	ProviderBaseURL     string        `toml:"provider_base_url"`
	ProviderAPIKey      string        `toml:"provider_api_key"`
	Model               string        `toml:"model"`
	CallbackURL         string        `toml:"callback_url"`
	WebhookSecret       string        `toml:"webhook_secret"`
	RequestTimeout      time.Duration `toml:"request_timeout"`
	SubmitRatePerMinute float64       `toml:"submit_rate_per_minute"`

	PollAttempts int           `toml:"poll_attempts"`
	PollInterval time.Duration `toml:"poll_interval"`

	MaxJobs           int           `toml:"max_jobs"`
	JanitorInterval   time.Duration `toml:"janitor_interval"`
	TerminalRetention time.Duration `toml:"terminal_retention"`
	PendingRetention  time.Duration `toml:"pending_retention"`

	LogLevel     string `toml:"log_level"`
	LogFormat    string `toml:"log_format"`
	MCPTransport string `toml:"mcp_transport"`
}

// DefaultDBPath returns the default database path using XDG_CACHE_HOME.
func DefaultDBPath() string {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, _ := os.UserHomeDir()
		cacheDir = filepath.Join(home, ".cache")
	}
	return filepath.Join(cacheDir, "songbridge", "completions.db")
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:                3001,
		Store:               StoreMemory,
		DBPath:              DefaultDBPath(),
		ProviderBaseURL:     "https://apibox.erweima.ai",
		Model:               "V3_5",
		RequestTimeout:      30 * time.Second,
		SubmitRatePerMinute: 20,
		PollAttempts:        15,
		PollInterval:        20 * time.Second,
		MaxJobs:             10000,
		JanitorInterval:     time.Minute,
		TerminalRetention:   time.Hour,
		PendingRetention:    24 * time.Hour,
		LogLevel:            "info",
		LogFormat:           "json",
		MCPTransport:        MCPHTTP,
	}
}

// Load builds Config from defaults, an optional TOML file named by -config,
// command-line flags and environment overrides, in that order.
func Load(args []string) (*Config, error) {
	cfg := Default()

	if path := configPath(args); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	fs := flag.NewFlagSet("songbridge", flag.ContinueOnError)
	fs.String("config", "", "TOML config file")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port (webhook, API, MCP)")
	fs.StringVar(&cfg.Store, "store", cfg.Store, "Completion registry backend: memory or sqlite")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	fs.StringVar(&cfg.ProviderBaseURL, "provider-url", cfg.ProviderBaseURL, "Generation provider base URL")
	fs.StringVar(&cfg.Model, "model", cfg.Model, "Generation model identifier")
	fs.StringVar(&cfg.CallbackURL, "callback-url", cfg.CallbackURL, "Public URL of the webhook endpoint")
	fs.DurationVar(&cfg.RequestTimeout, "request-timeout", cfg.RequestTimeout, "Provider request timeout")
	fs.Float64Var(&cfg.SubmitRatePerMinute, "submit-rate", cfg.SubmitRatePerMinute, "Maximum submissions per minute (0 = unlimited)")
	fs.IntVar(&cfg.PollAttempts, "poll-attempts", cfg.PollAttempts, "Observations per poll")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Delay between poll observations")
	fs.IntVar(&cfg.MaxJobs, "max-jobs", cfg.MaxJobs, "Maximum tracked jobs (memory store)")
	fs.DurationVar(&cfg.JanitorInterval, "janitor-interval", cfg.JanitorInterval, "Registry prune interval")
	fs.DurationVar(&cfg.TerminalRetention, "terminal-retention", cfg.TerminalRetention, "How long finished jobs stay resolvable")
	fs.DurationVar(&cfg.PendingRetention, "pending-retention", cfg.PendingRetention, "How long unanswered jobs are kept")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: json or console")
	fs.StringVar(&cfg.MCPTransport, "mcp", cfg.MCPTransport, "MCP transport: http, stdio or off")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// configPath finds the -config flag value ahead of full flag parsing so the
// file can seed flag defaults.
func configPath(args []string) string {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return ""
		}
		name := strings.TrimLeft(arg, "-")
		if name == arg {
			continue
		}
		if v, ok := strings.CutPrefix(name, "config="); ok {
			return v
		}
		if name == "config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func applyEnv(cfg *Config) {
	if port := os.Getenv("SONGBRIDGE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if store := os.Getenv("SONGBRIDGE_STORE"); store != "" {
		cfg.Store = store
	}
	if db := os.Getenv("SONGBRIDGE_DB"); db != "" {
		cfg.DBPath = db
	}
	if u := os.Getenv("SONGBRIDGE_CALLBACK_URL"); u != "" {
		cfg.CallbackURL = u
	}
	if secret := os.Getenv("SONGBRIDGE_WEBHOOK_SECRET"); secret != "" {
		cfg.WebhookSecret = secret
	}
	if key := os.Getenv("SUNO_API_KEY"); key != "" {
		cfg.ProviderAPIKey = key
	}
	if lvl := os.Getenv("SONGBRIDGE_LOG_LEVEL"); lvl != "" {
		cfg.LogLevel = lvl
	}
	if t := os.Getenv("SONGBRIDGE_MCP"); t != "" {
		cfg.MCPTransport = t
	}
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Store != StoreMemory && c.Store != StoreSQLite {
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	if err := c.PollPolicy().Validate(); err != nil {
		errs = append(errs, err)
	}
	switch c.MCPTransport {
	case MCPHTTP, MCPStdio, MCPOff:
	default:
		errs = append(errs, fmt.Errorf("unknown mcp transport %q", c.MCPTransport))
	}
	if c.JanitorInterval <= 0 {
		errs = append(errs, errors.New("janitor interval must be positive"))
	}
	return errors.Join(errs...)
}

// PollPolicy returns the default bounded-poll policy.
func (c *Config) PollPolicy() domain.PollPolicy {
	return domain.PollPolicy{MaxAttempts: c.PollAttempts, Interval: c.PollInterval}
}

// PublicCallbackURL returns the webhook address handed to the provider, with
// the shared secret attached as the token query parameter when set.
func (c *Config) PublicCallbackURL() (string, error) {
	if c.CallbackURL == "" {
		return "", errors.New("callback url is required")
	}
	u, err := url.Parse(c.CallbackURL)
	if err != nil {
		return "", fmt.Errorf("parse callback url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("callback url %q must be http or https", c.CallbackURL)
	}
	if c.WebhookSecret != "" {
		q := u.Query()
		q.Set("token", c.WebhookSecret)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
