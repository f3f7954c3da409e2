package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	BackendFile     = "file"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type Config struct {
	// BaseURL is the root of the REST surface, including the /api prefix.
	BaseURL string `yaml:"base_url"`

	// SessionBackend selects where the session record lives:
	// file (default), memory, redis or postgres.
	SessionBackend string `yaml:"session_backend"`
	SessionFile    string `yaml:"session_file"`
	RedisAddr      string `yaml:"redis_addr"`
	RedisPassword  string `yaml:"redis_password,omitempty"`
	RedisPrefix    string `yaml:"redis_prefix"`
	DatabaseURL    string `yaml:"database_url,omitempty"`

	// LoadTimeout bounds list calls of the appointment cache.
	LoadTimeout    time.Duration `yaml:"load_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// RenewalLead is how long before expiry the access token is renewed.
	RenewalLead time.Duration `yaml:"renewal_lead"`

	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`

	// Timezone is the IANA zone appointment dates and times are read in.
	Timezone string `yaml:"timezone"`
	LogLevel string `yaml:"log_level"`
	// StrictDecode keeps the mirror when a payload cannot be decoded
	// instead of degrading to empty.
	StrictDecode bool `yaml:"strict_decode"`

	WatchCron   string `yaml:"watch_cron"`
	MetricsAddr string `yaml:"metrics_addr"`
}

func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".terminctl-session.json"
	}
	return filepath.Join(dir, "terminctl", "session.json")
}

func Default() *Config {
	return &Config{
		BaseURL:        "http://localhost:8000/api",
		SessionBackend: BackendFile,
		SessionFile:    defaultSessionFile(),
		RedisAddr:      "127.0.0.1:6379",
		RedisPrefix:    "terminctl:",
		LoadTimeout:    10 * time.Second,
		RequestTimeout: 15 * time.Second,
		RenewalLead:    5 * time.Minute,
		RateLimit:      5,
		RateBurst:      10,
		Timezone:       "Europe/Berlin",
		LogLevel:       "info",
		WatchCron:      "*/5 * * * *",
		MetricsAddr:    "127.0.0.1:9464",
	}
}

// Normalize fills zero values with defaults.
func (c *Config) Normalize() {
	d := Default()
	if c.BaseURL == "" {
		c.BaseURL = d.BaseURL
	}
	if c.SessionBackend == "" {
		c.SessionBackend = d.SessionBackend
	}
	if c.SessionFile == "" {
		c.SessionFile = d.SessionFile
	}
	if c.RedisAddr == "" {
		c.RedisAddr = d.RedisAddr
	}
	if c.RedisPrefix == "" {
		c.RedisPrefix = d.RedisPrefix
	}
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = d.LoadTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.RenewalLead <= 0 {
		c.RenewalLead = d.RenewalLead
	}
	if c.RateLimit <= 0 {
		c.RateLimit = d.RateLimit
	}
	if c.RateBurst <= 0 {
		c.RateBurst = d.RateBurst
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.WatchCron == "" {
		c.WatchCron = d.WatchCron
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = d.MetricsAddr
	}
}

// Validate rejects settings no component can work with.
func (c *Config) Validate() error {
	switch c.SessionBackend {
	case BackendFile, BackendMemory, BackendRedis:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return errors.New("session backend postgres needs database_url")
		}
	default:
		return fmt.Errorf("unknown session backend %q", c.SessionBackend)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// Location resolves Timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Load reads .env if present, then the YAML file at path (missing is fine),
// then environment overrides, and fills defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	cfg.applyEnv()
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.BaseURL = getenv("SCHEDULE_BASE_URL", c.BaseURL)
	c.SessionBackend = getenv("SESSION_BACKEND", c.SessionBackend)
	c.SessionFile = getenv("SESSION_FILE", c.SessionFile)
	c.RedisAddr = getenv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getenv("REDIS_PASSWORD", c.RedisPassword)
	c.RedisPrefix = getenv("REDIS_PREFIX", c.RedisPrefix)
	c.DatabaseURL = getenv("DATABASE_URL", c.DatabaseURL)
	c.LoadTimeout = getenvDuration("LOAD_TIMEOUT", c.LoadTimeout)
	c.RequestTimeout = getenvDuration("REQUEST_TIMEOUT", c.RequestTimeout)
	c.RenewalLead = getenvDuration("RENEWAL_LEAD", c.RenewalLead)
	c.RateLimit = getenvFloat("RATE_LIMIT", c.RateLimit)
	c.RateBurst = getenvInt("RATE_BURST", c.RateBurst)
	c.Timezone = getenv("TIMEZONE", c.Timezone)
	c.LogLevel = getenv("LOG_LEVEL", c.LogLevel)
	c.StrictDecode = getenvBool("STRICT_DECODE", c.StrictDecode)
	c.WatchCron = getenv("WATCH_CRON", c.WatchCron)
	c.MetricsAddr = getenv("METRICS_ADDR", c.MetricsAddr)
}

// Save writes cfg to path atomically with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}
	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".terminctl-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	if val := os.Getenv(key + "_SECONDS"); val != "" {
		if seconds, err := strconv.Atoi(val); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}

func getenvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}
