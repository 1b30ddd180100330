package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// PortalConfig holds everything the session layer needs to talk to the
// university identity provider and the systems behind it.
type PortalConfig struct {
	// BaseURL is the education-portal root behind the SSO gateway.
	BaseURL string `yaml:"base_url"`
	// LoginURL is the identity-provider login form endpoint.
	LoginURL string `yaml:"login_url"`
	// ISIMBaseURL is the dormitory electricity subsystem root.
	ISIMBaseURL string `yaml:"isim_base_url"`

	RequestTimeoutSeconds  int `yaml:"request_timeout_seconds"`
	MaxRetries             int `yaml:"max_retries"`
	MaxReconnectRetries    int `yaml:"max_reconnect_retries"`
	ActivityTimeoutSeconds int `yaml:"activity_timeout_seconds"`
	MonitorIntervalSeconds int `yaml:"monitor_interval_seconds"`

	RetryBaseDelayMillis int     `yaml:"retry_base_delay_ms"`
	RetryMaxDelayMillis  int     `yaml:"retry_max_delay_ms"`
	RetryExponentialBase float64 `yaml:"retry_exponential_base"`

	// DefaultHeaders are attached to every upstream request. The portal
	// rejects requests without a browser-looking User-Agent.
	DefaultHeaders map[string]string `yaml:"default_headers"`
}

// EvaluationConfig tunes the course-evaluation automation.
type EvaluationConfig struct {
	// CountdownSeconds is the server-side dwell time the evaluation page
	// enforces before a submission is accepted.
	CountdownSeconds int `yaml:"countdown_seconds"`
	// PageSize is the course-list page size requested from the portal.
	PageSize int `yaml:"page_size"`
}

// Config holds server configuration.
type Config struct {
	// Addr is the listen address for the HTTP server.
	Addr         string `yaml:"addr"`
	DatabasePath string `yaml:"database_path"`
	LogDir       string `yaml:"log_dir"`
	LogLevel     string `yaml:"log_level"`
	Debug        bool   `yaml:"debug"`

	// MasterSecret signs API tokens and seals stored portal credentials.
	// Environment only; never read from the config file.
	MasterSecret string `yaml:"-"`

	AllowedOrigins []string `yaml:"allowed_origins"`

	Portal     PortalConfig     `yaml:"portal"`
	Evaluation EvaluationConfig `yaml:"evaluation"`
}

func (p PortalConfig) RequestTimeout() time.Duration {
	return time.Duration(p.RequestTimeoutSeconds) * time.Second
}

func (p PortalConfig) ActivityTimeout() time.Duration {
	return time.Duration(p.ActivityTimeoutSeconds) * time.Second
}

func (p PortalConfig) MonitorInterval() time.Duration {
	return time.Duration(p.MonitorIntervalSeconds) * time.Second
}

func (p PortalConfig) RetryBaseDelay() time.Duration {
	return time.Duration(p.RetryBaseDelayMillis) * time.Millisecond
}

func (p PortalConfig) RetryMaxDelay() time.Duration {
	return time.Duration(p.RetryMaxDelayMillis) * time.Millisecond
}

func (e EvaluationConfig) Countdown() time.Duration {
	return time.Duration(e.CountdownSeconds) * time.Second
}

// Load reads the optional YAML config file at path and applies environment
// overrides on top. A missing file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if portStr := os.Getenv("PORT"); portStr != "" {
		if p, err := strconv.Atoi(portStr); err == nil {
			cfg.Addr = fmt.Sprintf(":%d", p)
		}
	}
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		cfg.DatabasePath = dbPath
	}
	if debugStr := os.Getenv("DEBUG"); debugStr == "true" || debugStr == "1" {
		cfg.Debug = true
	}

	cfg.MasterSecret = os.Getenv("LOVEACE_MASTER_SECRET")
	if cfg.MasterSecret == "" {
		return nil, fmt.Errorf("LOVEACE_MASTER_SECRET environment variable is required")
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Addr:           ":3005",
		DatabasePath:   "./loveace.db",
		LogDir:         "./logs",
		LogLevel:       "info",
		AllowedOrigins: []string{"*"},
		Portal: PortalConfig{
			BaseURL:                "http://jwcxk2-aufe-edu-cn.vpn2.aufe.edu.cn:8118",
			LoginURL:               "http://uaap.aufe.edu.cn/cas/login",
			ISIMBaseURL:            "http://hqkd-aufe-edu-cn.vpn2.aufe.edu.cn",
			RequestTimeoutSeconds:  30,
			MaxRetries:             3,
			MaxReconnectRetries:    3,
			ActivityTimeoutSeconds: 600,
			MonitorIntervalSeconds: 60,
			RetryBaseDelayMillis:   500,
			RetryMaxDelayMillis:    10000,
			RetryExponentialBase:   2.0,
			DefaultHeaders: map[string]string{
				"User-Agent": "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
				"Accept":     "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
			},
		},
		Evaluation: EvaluationConfig{
			CountdownSeconds: 140,
			PageSize:         50,
		},
	}
}

func validate(cfg *Config) error {
	if cfg.Portal.MaxRetries < 1 {
		return fmt.Errorf("portal.max_retries must be >= 1")
	}
	if cfg.Portal.MaxReconnectRetries < 1 {
		return fmt.Errorf("portal.max_reconnect_retries must be >= 1")
	}
	if cfg.Portal.RetryExponentialBase < 1 {
		return fmt.Errorf("portal.retry_exponential_base must be >= 1")
	}
	if cfg.Portal.LoginURL == "" {
		return fmt.Errorf("portal.login_url is required")
	}
	return nil
}
