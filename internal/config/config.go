// Package config loads the service configuration from YAML with
// environment overrides. Tenant-level settings (signing keys, provider
// credentials, redirect allow lists) live in the store, not here.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lockhaven/authcore/internal/email"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env string `yaml:"env"`
	} `yaml:"app"`

	Server struct {
		Addr string `yaml:"addr"`
		// PublicBaseURL is the externally visible base URL; token
		// issuers and provider callback URLs derive from it.
		PublicBaseURL   string `yaml:"public_base_url"`
		ShutdownTimeout string `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Storage struct {
		// DSN of the postgres credential store. Empty selects the
		// in-memory store, which only makes sense for dev.
		DSN      string `yaml:"dsn"`
		Postgres struct {
			MaxConns        int    `yaml:"max_conns"`
			MinConns        int    `yaml:"min_conns"`
			ConnMaxLifetime string `yaml:"conn_max_lifetime"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	Settings struct {
		CacheTTL string `yaml:"cache_ttl"`
	} `yaml:"settings"`

	Rate struct {
		Enabled bool `yaml:"enabled"`
		Redis   struct {
			Addr   string `yaml:"addr"`
			DB     int    `yaml:"db"`
			Prefix string `yaml:"prefix"`
		} `yaml:"redis"`
		Email struct {
			Limit  int    `yaml:"limit"`
			Window string `yaml:"window"`
		} `yaml:"email"`
	} `yaml:"rate"`

	SMTP email.SMTPConfig `yaml:"smtp"`

	Password struct {
		MemoryKiB   int `yaml:"memory_kib"`
		Time        int `yaml:"time"`
		Parallelism int `yaml:"parallelism"`
	} `yaml:"password"`
}

func (c *Config) Dev() bool {
	return !strings.EqualFold(c.App.Env, "prod")
}

// Load reads path, applies defaults and environment overrides, and
// validates duration strings up front so a typo fails at boot.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, err
		}
	}

	// sane defaults
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.PublicBaseURL == "" {
		c.Server.PublicBaseURL = "http://localhost:8080"
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "15s"
	}
	if c.Settings.CacheTTL == "" {
		c.Settings.CacheTTL = "30s"
	}
	if c.Rate.Email.Limit == 0 {
		c.Rate.Email.Limit = 5
	}
	if c.Rate.Email.Window == "" {
		c.Rate.Email.Window = "10m"
	}
	if c.Rate.Redis.Prefix == "" {
		c.Rate.Redis.Prefix = "authcore"
	}
	if c.SMTP.TLSMode == "" {
		c.SMTP.TLSMode = "auto"
	}
	if c.Password.MemoryKiB == 0 {
		c.Password.MemoryKiB = 64 * 1024
	}
	if c.Password.Time == 0 {
		c.Password.Time = 3
	}
	if c.Password.Parallelism == 0 {
		c.Password.Parallelism = 4
	}

	c.applyEnvOverrides()

	for _, d := range []string{
		c.Server.ShutdownTimeout,
		c.Settings.CacheTTL,
		c.Rate.Email.Window,
	} {
		if _, err := time.ParseDuration(d); err != nil {
			return nil, err
		}
	}
	if c.Storage.Postgres.ConnMaxLifetime != "" {
		if _, err := time.ParseDuration(c.Storage.Postgres.ConnMaxLifetime); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

// Duration returns an already-validated duration field.
func Duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

func (c *Config) applyEnvOverrides() {
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}

	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvStr("PUBLIC_BASE_URL"); ok {
		c.Server.PublicBaseURL = v
	}

	if v, ok := getEnvStr("STORAGE_DSN"); ok {
		c.Storage.DSN = v
	}
	if v, ok := getEnvInt("POSTGRES_MAX_CONNS"); ok {
		c.Storage.Postgres.MaxConns = v
	}
	if v, ok := getEnvInt("POSTGRES_MIN_CONNS"); ok {
		c.Storage.Postgres.MinConns = v
	}
	if v, ok := getEnvStr("POSTGRES_CONN_MAX_LIFETIME"); ok {
		c.Storage.Postgres.ConnMaxLifetime = v
	}

	if v, ok := getEnvStr("SETTINGS_CACHE_TTL"); ok {
		c.Settings.CacheTTL = v
	}

	if v, ok := getEnvBool("RATE_ENABLED"); ok {
		c.Rate.Enabled = v
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Rate.Redis.Addr = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Rate.Redis.DB = v
	}
	if v, ok := getEnvStr("REDIS_PREFIX"); ok {
		c.Rate.Redis.Prefix = v
	}
	if v, ok := getEnvInt("RATE_EMAIL_LIMIT"); ok {
		c.Rate.Email.Limit = v
	}
	if v, ok := getEnvStr("RATE_EMAIL_WINDOW"); ok {
		c.Rate.Email.Window = v
	}

	if v, ok := getEnvStr("SMTP_HOST"); ok {
		c.SMTP.Host = v
	}
	if v, ok := getEnvInt("SMTP_PORT"); ok {
		c.SMTP.Port = v
	}
	if v, ok := getEnvStr("SMTP_USERNAME"); ok {
		c.SMTP.Username = v
	}
	if v, ok := getEnvStr("SMTP_PASSWORD"); ok {
		c.SMTP.Password = v
	}
	if v, ok := getEnvStr("SMTP_FROM_EMAIL"); ok {
		c.SMTP.FromEmail = v
	}
	if v, ok := getEnvStr("SMTP_TLS_MODE"); ok {
		c.SMTP.TLSMode = strings.ToLower(v)
	}

	if v, ok := getEnvInt("PASSWORD_MEMORY_KIB"); ok {
		c.Password.MemoryKiB = v
	}
	if v, ok := getEnvInt("PASSWORD_TIME"); ok {
		c.Password.Time = v
	}
	if v, ok := getEnvInt("PASSWORD_PARALLELISM"); ok {
		c.Password.Parallelism = v
	}
}

// ---- env helpers ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}

func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}
