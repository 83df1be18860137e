// Package main provides the CareAlert server CLI.
package main

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"

	"github.com/good-yellow-bee/carealert/internal/dispatch"
	"github.com/good-yellow-bee/carealert/internal/logging"
	"github.com/good-yellow-bee/carealert/internal/models"
	"github.com/good-yellow-bee/carealert/internal/notifier"
)

// Config represents the server configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server" toml:"server"`
	Auth          AuthConfig          `yaml:"auth" toml:"auth"`
	Database      DatabaseConfig      `yaml:"database" toml:"database"`
	Classifier    ClassifierConfig    `yaml:"classifier" toml:"classifier"`
	Intake        IntakeConfig        `yaml:"intake" toml:"intake"`
	Dispatch      DispatchConfig      `yaml:"dispatch" toml:"dispatch"`
	Notifications NotificationsConfig `yaml:"notifications" toml:"notifications"`
	Logging       LoggingConfig       `yaml:"logging" toml:"logging"`
	Verbose       bool                `yaml:"-" toml:"-"` // set via CLI flag
}

// ServerConfig contains listener settings.
type ServerConfig struct {
	HTTPAddress    string    `yaml:"http_address" toml:"http_address"`       // default :8080
	MetricsAddress string    `yaml:"metrics_address" toml:"metrics_address"` // empty disables
	TLS            TLSConfig `yaml:"tls" toml:"tls"`
	RateLimitPerIP int       `yaml:"rate_limit_per_ip" toml:"rate_limit_per_ip"` // requests per minute
	RateLimitBurst int       `yaml:"rate_limit_burst" toml:"rate_limit_burst"`
	AllowedOrigins []string  `yaml:"allowed_origins" toml:"allowed_origins"` // WebSocket origins
}

// TLSConfig contains HTTPS settings for the API listener.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled"`
	CertFile string `yaml:"cert_file" toml:"cert_file"`
	KeyFile  string `yaml:"key_file" toml:"key_file"`
}

// AuthConfig controls operator token verification.
type AuthConfig struct {
	// Disabled must be set explicitly to run without token verification.
	Disabled bool `yaml:"disabled" toml:"disabled"`
	// SecretEnv names the environment variable holding the HMAC secret.
	SecretEnv string `yaml:"secret_env" toml:"secret_env"`
	Issuer    string `yaml:"issuer" toml:"issuer"`
}

// Secret returns the token secret resolved from the environment.
func (a AuthConfig) Secret() []byte {
	if a.SecretEnv == "" {
		return nil
	}
	return []byte(os.Getenv(a.SecretEnv))
}

// DatabaseConfig contains persistence settings.
type DatabaseConfig struct {
	// Path is the SQLite file. Empty keeps alerts in memory only.
	Path string `yaml:"path" toml:"path"`
	// HistoryRetention prunes resolved notification history. Zero keeps everything.
	HistoryRetention time.Duration `yaml:"history_retention" toml:"history_retention"`
}

// ClassifierConfig selects the rule table.
type ClassifierConfig struct {
	// RulesFile overrides the embedded rule table.
	RulesFile string `yaml:"rules_file" toml:"rules_file"`
	// Watch reloads RulesFile when it changes.
	Watch bool `yaml:"watch" toml:"watch"`
}

// IntakeConfig configures the transcript spool.
type IntakeConfig struct {
	// SpoolFile is appended to by the speech-to-text service. Empty disables intake.
	SpoolFile string `yaml:"spool_file" toml:"spool_file"`

	// FromStart also reports lines written before startup.
	FromStart    bool          `yaml:"from_start" toml:"from_start"`
	PollInterval time.Duration `yaml:"poll_interval" toml:"poll_interval"`
}

// DispatchConfig contains notification dispatcher settings.
type DispatchConfig struct {
	Threshold        int           `yaml:"threshold" toml:"threshold"`
	CriticalSeverity int           `yaml:"critical_severity" toml:"critical_severity"`
	AutoExpire       *bool         `yaml:"auto_expire" toml:"auto_expire"`
	Timeout          time.Duration `yaml:"timeout" toml:"timeout"`
}

// NotificationsConfig configures external delivery channels.
type NotificationsConfig struct {
	QueueSize      int                       `yaml:"queue_size" toml:"queue_size"`
	SendTimeout    time.Duration             `yaml:"send_timeout" toml:"send_timeout"`
	NotifyResolved *bool                     `yaml:"notify_resolved" toml:"notify_resolved"`
	IncludeText    bool                      `yaml:"include_text" toml:"include_text"`
	RateLimit      *notifier.RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
	Slack          *SlackConfig              `yaml:"slack" toml:"slack"`
	Teams          *TeamsConfig              `yaml:"teams" toml:"teams"`
	Webhooks       []WebhookConfig           `yaml:"webhooks" toml:"webhooks"`
}

// SlackConfig configures the Slack notifier. The webhook URL is a secret.
type SlackConfig struct {
	WebhookURLEnv string `yaml:"webhook_url_env" toml:"webhook_url_env"`
	Channel       string `yaml:"channel" toml:"channel"`
	Username      string `yaml:"username" toml:"username"`
}

// TeamsConfig configures the Microsoft Teams notifier.
type TeamsConfig struct {
	WebhookURLEnv string `yaml:"webhook_url_env" toml:"webhook_url_env"`
}

// WebhookConfig configures a generic JSON webhook.
type WebhookConfig struct {
	Name    string            `yaml:"name" toml:"name"`
	URLEnv  string            `yaml:"url_env" toml:"url_env"`
	Headers map[string]string `yaml:"headers" toml:"headers"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level      string `yaml:"level" toml:"level"`
	Format     string `yaml:"format" toml:"format"` // console or json
	Stacktrace bool   `yaml:"stacktrace" toml:"stacktrace"`
}

// LoadConfig loads configuration from a YAML or TOML file, chosen by extension.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "read config file", goerr.V("path", path))
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, goerr.Wrap(err, "parse toml config", goerr.V("path", path))
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, goerr.Wrap(err, "parse yaml config", goerr.V("path", path))
		}
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, goerr.Wrap(err, "validate config", goerr.V("path", path))
	}

	return &cfg, nil
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// setDefaults sets default values for missing config fields.
func (c *Config) setDefaults() {
	if c.Server.HTTPAddress == "" {
		c.Server.HTTPAddress = ":8080"
	}
	if c.Server.RateLimitPerIP == 0 {
		c.Server.RateLimitPerIP = 120
	}
	if c.Server.RateLimitBurst == 0 {
		c.Server.RateLimitBurst = 30
	}
	if c.Auth.SecretEnv == "" {
		c.Auth.SecretEnv = "CAREALERT_JWT_SECRET"
	}

	if c.Dispatch.Threshold == 0 {
		c.Dispatch.Threshold = dispatch.DefaultThreshold
	}
	if c.Dispatch.CriticalSeverity == 0 {
		c.Dispatch.CriticalSeverity = dispatch.DefaultCriticalSeverity
	}
	if c.Dispatch.AutoExpire == nil {
		enabled := true
		c.Dispatch.AutoExpire = &enabled
	}
	if c.Dispatch.Timeout == 0 {
		c.Dispatch.Timeout = dispatch.DefaultTimeout
	}

	defaults := notifier.DefaultFanoutOptions()
	if c.Notifications.QueueSize == 0 {
		c.Notifications.QueueSize = defaults.QueueSize
	}
	if c.Notifications.SendTimeout == 0 {
		c.Notifications.SendTimeout = defaults.SendTimeout
	}
	if c.Notifications.NotifyResolved == nil {
		c.Notifications.NotifyResolved = &defaults.NotifyResolved
	}
	if c.Notifications.RateLimit == nil {
		c.Notifications.RateLimit = &defaults.RateLimit
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.HTTPAddress == "" {
		return goerr.New("server.http_address is required")
	}
	if c.Server.MetricsAddress != "" && c.Server.MetricsAddress == c.Server.HTTPAddress {
		return goerr.New("server.metrics_address must differ from server.http_address")
	}
	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" {
			return goerr.New("server.tls.cert_file is required when TLS is enabled")
		}
		if c.Server.TLS.KeyFile == "" {
			return goerr.New("server.tls.key_file is required when TLS is enabled")
		}
	}
	if c.Server.RateLimitPerIP < 0 || c.Server.RateLimitBurst < 0 {
		return goerr.New("server rate limits must not be negative")
	}

	if c.Dispatch.Threshold < models.SeverityMin || c.Dispatch.Threshold > models.SeverityMax {
		return goerr.New("dispatch.threshold must be between 1 and 5", goerr.V("threshold", c.Dispatch.Threshold))
	}
	if c.Dispatch.CriticalSeverity < c.Dispatch.Threshold || c.Dispatch.CriticalSeverity > models.SeverityMax {
		return goerr.New("dispatch.critical_severity must be between threshold and 5",
			goerr.V("critical_severity", c.Dispatch.CriticalSeverity))
	}
	if c.Dispatch.Timeout < 0 {
		return goerr.New("dispatch.timeout must not be negative")
	}
	if c.Database.HistoryRetention < 0 {
		return goerr.New("database.history_retention must not be negative")
	}
	if c.Classifier.Watch && c.Classifier.RulesFile == "" {
		return goerr.New("classifier.watch requires classifier.rules_file")
	}
	if c.Intake.PollInterval < 0 {
		return goerr.New("intake.poll_interval must not be negative")
	}
	if c.Intake.SpoolFile != "" && c.Intake.SpoolFile == c.Database.Path {
		return goerr.New("intake.spool_file must differ from database.path")
	}

	if rl := c.Notifications.RateLimit; rl != nil && rl.Enabled {
		if rl.MaxPerWindow <= 0 || rl.Window <= 0 {
			return goerr.New("notifications.rate_limit needs a positive max_per_window and window")
		}
	}
	if s := c.Notifications.Slack; s != nil && s.WebhookURLEnv == "" {
		return goerr.New("notifications.slack.webhook_url_env is required")
	}
	if t := c.Notifications.Teams; t != nil && t.WebhookURLEnv == "" {
		return goerr.New("notifications.teams.webhook_url_env is required")
	}
	seen := make(map[string]struct{})
	for i, w := range c.Notifications.Webhooks {
		if w.URLEnv == "" {
			return goerr.New("notifications.webhooks url_env is required", goerr.V("index", i))
		}
		name := w.Name
		if name == "" {
			name = "webhook"
		}
		if _, dup := seen[name]; dup {
			return goerr.New("duplicate webhook name", goerr.V("name", name))
		}
		seen[name] = struct{}{}
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return goerr.Wrap(err, "invalid logging.level")
	}
	if _, err := logging.ParseFormat(c.Logging.Format); err != nil {
		return goerr.Wrap(err, "invalid logging.format")
	}
	return nil
}

// notifiers builds the configured delivery channels. Secrets missing from
// the environment are an error so a misconfigured deploy fails fast.
func (c *Config) notifiers() ([]notifier.Notifier, error) {
	var out []notifier.Notifier

	if s := c.Notifications.Slack; s != nil {
		url := os.Getenv(s.WebhookURLEnv)
		if url == "" {
			return nil, goerr.New("slack webhook URL not set", goerr.V("env", s.WebhookURLEnv))
		}
		n, err := notifier.NewSlackNotifier(notifier.SlackConfig{WebhookURL: url, Channel: s.Channel, Username: s.Username})
		if err != nil {
			return nil, goerr.Wrap(err, "create slack notifier")
		}
		out = append(out, n)
	}

	if t := c.Notifications.Teams; t != nil {
		url := os.Getenv(t.WebhookURLEnv)
		if url == "" {
			return nil, goerr.New("teams webhook URL not set", goerr.V("env", t.WebhookURLEnv))
		}
		n, err := notifier.NewTeamsNotifier(notifier.TeamsConfig{WebhookURL: url})
		if err != nil {
			return nil, goerr.Wrap(err, "create teams notifier")
		}
		out = append(out, n)
	}

	for _, w := range c.Notifications.Webhooks {
		url := os.Getenv(w.URLEnv)
		if url == "" {
			return nil, goerr.New("webhook URL not set", goerr.V("env", w.URLEnv), goerr.V("name", w.Name))
		}
		n, err := notifier.NewWebhookNotifier(notifier.WebhookConfig{Name: w.Name, URL: url, Headers: w.Headers})
		if err != nil {
			return nil, goerr.Wrap(err, "create webhook notifier", goerr.V("name", w.Name))
		}
		out = append(out, n)
	}

	return out, nil
}
