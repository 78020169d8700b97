// Package config handles loading and validating the application
// configuration from YAML files with environment variable substitution.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	OAuth         OAuthConfig         `yaml:"oauth"`
	API           APIConfig           `yaml:"api"`
	Searches      []SavedSearch       `yaml:"searches"`
	State         StateConfig         `yaml:"state"`
	Schedule      ScheduleConfig      `yaml:"schedule"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Server        ServerConfig        `yaml:"server"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// OAuthConfig defines the OAuth2 client and its endpoints.
type OAuthConfig struct {
	ClientID       string        `yaml:"client_id"`
	ClientSecret   string        `yaml:"client_secret"`
	URL            string        `yaml:"url"` // base; /authorize and /token appended
	RedirectURI    string        `yaml:"redirect_uri"`
	CaptureTimeout time.Duration `yaml:"capture_timeout"`
}

// APIConfig defines the search API settings.
type APIConfig struct {
	URL            string          `yaml:"url"`
	AcceptLanguage string          `yaml:"accept_language"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig defines API rate limiting settings.
type RateLimitConfig struct {
	PerSecond  float64 `yaml:"per_second"`
	Burst      int     `yaml:"burst"`
	DailyLimit int64   `yaml:"daily_limit"`
}

// SavedSearch defines one named query against the listing API. Name doubles
// as the seen-state storage key.
type SavedSearch struct {
	Name     string            `yaml:"name"`
	Path     string            `yaml:"path"`
	Params   map[string]string `yaml:"params"`
	Disabled bool              `yaml:"disabled"`
}

// StateConfig defines where runtime state (token, seen ids) is persisted.
type StateConfig struct {
	Dir string `yaml:"dir"`
}

// ScheduleConfig defines serve-mode polling intervals.
type ScheduleConfig struct {
	PollInterval  time.Duration `yaml:"poll_interval"`
	StaggerOffset time.Duration `yaml:"stagger_offset"`
}

// NotificationsConfig defines notification backends. All enabled backends
// receive every notification.
type NotificationsConfig struct {
	SMTP    SMTPConfig    `yaml:"smtp"`
	Discord DiscordConfig `yaml:"discord"`
}

// SMTPConfig defines email delivery settings.
type SMTPConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
}

// Addr returns the relay address as host:port.
func (s *SMTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DiscordConfig defines Discord webhook settings.
type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// ServerConfig defines the serve-mode health/metrics HTTP listener.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Load reads and parses a YAML config file, performing environment variable
// substitution and validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // config path from trusted CLI flag
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the YAML content.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// EnabledSearches returns the searches that are not disabled, in
// configuration order.
func (c *Config) EnabledSearches() []SavedSearch {
	var out []SavedSearch
	for _, s := range c.Searches {
		if !s.Disabled {
			out = append(out, s)
		}
	}
	return out
}

func applyDefaults(cfg *Config) {
	applyOAuthDefaults(&cfg.OAuth)
	applyAPIDefaults(&cfg.API)
	applyStateDefaults(&cfg.State)
	applyScheduleDefaults(&cfg.Schedule)
	applySMTPDefaults(&cfg.Notifications.SMTP)
	applyServerDefaults(&cfg.Server)
	applyLoggingDefaults(&cfg.Logging)
}

func applyOAuthDefaults(o *OAuthConfig) {
	if o.URL == "" {
		o.URL = "https://allegro.pl/auth/oauth"
	}
	if o.RedirectURI == "" {
		o.RedirectURI = "http://localhost:8000"
	}
	if o.CaptureTimeout == 0 {
		o.CaptureTimeout = 5 * time.Minute
	}
}

func applyAPIDefaults(a *APIConfig) {
	if a.URL == "" {
		a.URL = "https://api.allegro.pl"
	}
	if a.AcceptLanguage == "" {
		a.AcceptLanguage = "pl-PL"
	}
	if a.RateLimit.PerSecond == 0 {
		a.RateLimit.PerSecond = 2.0
	}
	if a.RateLimit.Burst == 0 {
		a.RateLimit.Burst = 5
	}
	if a.RateLimit.DailyLimit == 0 {
		a.RateLimit.DailyLimit = 1000
	}
}

func applyStateDefaults(s *StateConfig) {
	if s.Dir == "" {
		s.Dir = "state"
	}
}

func applyScheduleDefaults(s *ScheduleConfig) {
	if s.PollInterval == 0 {
		s.PollInterval = 15 * time.Minute
	}
	if s.StaggerOffset == 0 {
		s.StaggerOffset = 5 * time.Second
	}
}

func applySMTPDefaults(s *SMTPConfig) {
	if s.Port == 0 {
		s.Port = 587
	}
}

func applyServerDefaults(s *ServerConfig) {
	if s.Host == "" {
		s.Host = "0.0.0.0"
	}
	if s.Port == 0 {
		s.Port = 8080
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = 30 * time.Second
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = 30 * time.Second
	}
}

func applyLoggingDefaults(l *LoggingConfig) {
	if l.Level == "" {
		l.Level = "info"
	}
	if l.Format == "" {
		l.Format = "text"
	}
}

// Search names become file names under the state directory.
var searchNameRe = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

func validate(cfg *Config) error {
	var errs []error

	if cfg.OAuth.ClientID == "" {
		errs = append(errs, fmt.Errorf("oauth.client_id is required"))
	}
	if cfg.OAuth.ClientSecret == "" {
		errs = append(errs, fmt.Errorf("oauth.client_secret is required"))
	}
	if u, err := url.Parse(cfg.OAuth.RedirectURI); err != nil || u.Hostname() == "" || u.Port() == "" {
		errs = append(errs, fmt.Errorf(
			"oauth.redirect_uri must be a URL with explicit host and port (got %q)",
			cfg.OAuth.RedirectURI,
		))
	}

	if len(cfg.Searches) == 0 {
		errs = append(errs, fmt.Errorf("at least one search is required"))
	}
	names := make(map[string]bool, len(cfg.Searches))
	for i, s := range cfg.Searches {
		switch {
		case s.Name == "":
			errs = append(errs, fmt.Errorf("searches[%d].name is required", i))
		case !searchNameRe.MatchString(s.Name):
			errs = append(errs, fmt.Errorf(
				"searches[%d].name %q may only contain letters, digits, '.', '_' and '-'",
				i, s.Name,
			))
		case names[s.Name]:
			errs = append(errs, fmt.Errorf("duplicate search name %q", s.Name))
		}
		names[s.Name] = true

		if s.Path == "" {
			errs = append(errs, fmt.Errorf("searches[%d].path is required", i))
		}
	}

	if smtp := cfg.Notifications.SMTP; smtp.Enabled {
		if smtp.Host == "" {
			errs = append(errs, fmt.Errorf("notifications.smtp.host is required when smtp is enabled"))
		}
		if smtp.From == "" || smtp.To == "" {
			errs = append(errs, fmt.Errorf("notifications.smtp.from and .to are required when smtp is enabled"))
		}
	}
	if d := cfg.Notifications.Discord; d.Enabled && d.WebhookURL == "" {
		errs = append(errs, fmt.Errorf("notifications.discord.webhook_url is required when discord is enabled"))
	}

	return errors.Join(errs...)
}
