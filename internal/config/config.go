// Package config builds the immutable service configuration once at startup.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrMissingSecret marks a configuration that lacks a required secret. The
// service must refuse to start when Load returns it.
var ErrMissingSecret = errors.New("config: required secret is not configured")

// SessionConfig controls token issuance and validation.
type SessionConfig struct {
	Secret            string `yaml:"secret"`
	Issuer            string `yaml:"issuer"`
	Audience          string `yaml:"audience"`
	ExpirationMinutes int    `yaml:"expiration_minutes"`
}

// TTL returns the configured token lifetime.
func (s SessionConfig) TTL() time.Duration {
	return time.Duration(s.ExpirationMinutes) * time.Minute
}

// EncryptionConfig controls field-level encryption.
type EncryptionConfig struct {
	MasterKey string `yaml:"master_key"`
	// RandomIV switches to a per-record random IV. Off by default so
	// ciphertexts stay comparable with existing data.
	RandomIV bool `yaml:"random_iv"`
}

// LoginConfig controls the failed-login lockout.
type LoginConfig struct {
	RedisAddr   string        `yaml:"redis_addr"`
	MaxAttempts int           `yaml:"max_attempts"`
	Lockout     time.Duration `yaml:"lockout"`
}

// Config is the complete service configuration.
type Config struct {
	DatabaseDSN    string           `yaml:"database_dsn"`
	ListenAddr     string           `yaml:"listen_addr"`
	Encryption     EncryptionConfig `yaml:"encryption"`
	Session        SessionConfig    `yaml:"session"`
	Login          LoginConfig      `yaml:"login"`
	DefaultRole    string           `yaml:"default_role"`
	RateLimitRPS   int              `yaml:"rate_limit_rps"`
	RateLimitBurst int              `yaml:"rate_limit_burst"`
	MaxBodyBytes   int64            `yaml:"max_body_bytes"`
	AllowedOrigins []string         `yaml:"allowed_origins"`
	// TrustedProxies are CIDRs or addresses of reverse proxies whose
	// X-Forwarded-For header names the client. Empty trusts none.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// Load starts from Defaults, applies the optional YAML file named by
// CMS_CONFIG_FILE and then CMS_* environment overrides, then validates. A
// value set explicitly, zero included, is never replaced by a default.
func Load() (Config, error) {
	cfg := Defaults()
	if path := strings.TrimSpace(os.Getenv("CMS_CONFIG_FILE")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required secrets are present and values are sane.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Encryption.MasterKey) == "" {
		return fmt.Errorf("%w: CMS_ENCRYPTION_MASTER_KEY", ErrMissingSecret)
	}
	if strings.TrimSpace(c.Session.Secret) == "" {
		return fmt.Errorf("%w: CMS_JWT_SECRET", ErrMissingSecret)
	}
	if c.Session.ExpirationMinutes <= 0 {
		return fmt.Errorf("config: token expiration must be positive, got %d", c.Session.ExpirationMinutes)
	}
	if c.Login.MaxAttempts < 0 {
		return fmt.Errorf("config: login max attempts must not be negative")
	}
	if c.Login.Lockout <= 0 {
		return fmt.Errorf("config: login lockout must be positive, got %s", c.Login.Lockout)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.DatabaseDSN, "CMS_PG_DSN")
	setString(&cfg.ListenAddr, "CMS_LISTEN_ADDR")
	setString(&cfg.Encryption.MasterKey, "CMS_ENCRYPTION_MASTER_KEY")
	setString(&cfg.Session.Secret, "CMS_JWT_SECRET")
	setString(&cfg.Session.Issuer, "CMS_JWT_ISSUER")
	setString(&cfg.Session.Audience, "CMS_JWT_AUDIENCE")
	setString(&cfg.Login.RedisAddr, "CMS_REDIS_ADDR")
	setString(&cfg.DefaultRole, "CMS_DEFAULT_ROLE")

	if v := os.Getenv("CMS_ENCRYPTION_RANDOM_IV"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CMS_ENCRYPTION_RANDOM_IV: %w", err)
		}
		cfg.Encryption.RandomIV = b
	}
	ints := []struct {
		key string
		dst *int
	}{
		{"CMS_JWT_EXPIRATION_MINUTES", &cfg.Session.ExpirationMinutes},
		{"CMS_LOGIN_MAX_ATTEMPTS", &cfg.Login.MaxAttempts},
		{"CMS_RATE_LIMIT_RPS", &cfg.RateLimitRPS},
		{"CMS_RATE_LIMIT_BURST", &cfg.RateLimitBurst},
	}
	for _, item := range ints {
		v := os.Getenv(item.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", item.key, err)
		}
		*item.dst = n
	}
	if v := os.Getenv("CMS_MAX_BODY_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("CMS_MAX_BODY_BYTES: %w", err)
		}
		cfg.MaxBodyBytes = n
	}
	if v := os.Getenv("CMS_LOGIN_LOCKOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CMS_LOGIN_LOCKOUT: %w", err)
		}
		cfg.Login.Lockout = d
	}
	if v := os.Getenv("CMS_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("CMS_TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = splitList(v)
	}
	return nil
}

// Defaults returns the configuration used where neither the file nor the
// environment says otherwise.
func Defaults() Config {
	return Config{
		ListenAddr: ":8080",
		Session: SessionConfig{
			Issuer:            "securecms",
			Audience:          "securecms-clients",
			ExpirationMinutes: 60,
		},
		Login: LoginConfig{
			MaxAttempts: 5,
			Lockout:     15 * time.Minute,
		},
		DefaultRole:    "Author",
		RateLimitRPS:   20,
		RateLimitBurst: 40,
		MaxBodyBytes:   1 << 20,
	}
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
