package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CMS_CONFIG_FILE", "CMS_PG_DSN", "CMS_LISTEN_ADDR", "CMS_ENCRYPTION_MASTER_KEY",
		"CMS_ENCRYPTION_RANDOM_IV", "CMS_JWT_SECRET", "CMS_JWT_ISSUER", "CMS_JWT_AUDIENCE",
		"CMS_JWT_EXPIRATION_MINUTES", "CMS_REDIS_ADDR", "CMS_LOGIN_MAX_ATTEMPTS",
		"CMS_LOGIN_LOCKOUT", "CMS_RATE_LIMIT_RPS", "CMS_RATE_LIMIT_BURST",
		"CMS_MAX_BODY_BYTES", "CMS_ALLOWED_ORIGINS", "CMS_DEFAULT_ROLE", "CMS_TRUSTED_PROXIES",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("CMS_ENCRYPTION_MASTER_KEY", "master")
	t.Setenv("CMS_JWT_SECRET", "signing")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 60, cfg.Session.ExpirationMinutes)
	assert.Equal(t, time.Hour, cfg.Session.TTL())
	assert.Equal(t, "securecms", cfg.Session.Issuer)
	assert.Equal(t, "securecms-clients", cfg.Session.Audience)
	assert.Equal(t, "Author", cfg.DefaultRole)
	assert.False(t, cfg.Encryption.RandomIV)
	assert.Equal(t, 15*time.Minute, cfg.Login.Lockout)
	assert.Equal(t, 5, cfg.Login.MaxAttempts)
	assert.Empty(t, cfg.TrustedProxies)
}

func TestLoad_ExplicitZeroMaxAttemptsDisablesLockout(t *testing.T) {
	clearEnv(t)
	t.Setenv("CMS_ENCRYPTION_MASTER_KEY", "master")
	t.Setenv("CMS_JWT_SECRET", "signing")
	t.Setenv("CMS_LOGIN_MAX_ATTEMPTS", "0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Login.MaxAttempts)

	path := filepath.Join(t.TempDir(), "cms.yaml")
	require.NoError(t, os.WriteFile(path, []byte("login:\n  max_attempts: 0\n"), 0o600))
	t.Setenv("CMS_LOGIN_MAX_ATTEMPTS", "")
	t.Setenv("CMS_CONFIG_FILE", path)

	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Login.MaxAttempts)
	assert.Equal(t, 15*time.Minute, cfg.Login.Lockout, "unset keys keep their defaults")
}

func TestLoad_TrustedProxies(t *testing.T) {
	clearEnv(t)
	t.Setenv("CMS_ENCRYPTION_MASTER_KEY", "master")
	t.Setenv("CMS_JWT_SECRET", "signing")
	t.Setenv("CMS_TRUSTED_PROXIES", "10.0.0.0/8, 192.0.2.10")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.0/8", "192.0.2.10"}, cfg.TrustedProxies)
}

func TestLoad_MissingMasterKeyIsFatal(t *testing.T) {
	clearEnv(t)
	t.Setenv("CMS_JWT_SECRET", "signing")

	_, err := Load()
	require.ErrorIs(t, err, ErrMissingSecret)
}

func TestLoad_MissingSigningSecretIsFatal(t *testing.T) {
	clearEnv(t)
	t.Setenv("CMS_ENCRYPTION_MASTER_KEY", "master")

	_, err := Load()
	require.ErrorIs(t, err, ErrMissingSecret)
}

func TestLoad_FileThenEnvOverride(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "cms.yaml")
	body := `
listen_addr: ":9090"
encryption:
  master_key: from-file
  random_iv: true
session:
  secret: file-secret
  expiration_minutes: 30
login:
  lockout: 2m
allowed_origins: ["https://cms.example"]
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("CMS_CONFIG_FILE", path)
	t.Setenv("CMS_JWT_EXPIRATION_MINUTES", "45")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "from-file", cfg.Encryption.MasterKey)
	assert.True(t, cfg.Encryption.RandomIV)
	assert.Equal(t, 45, cfg.Session.ExpirationMinutes)
	assert.Equal(t, 2*time.Minute, cfg.Login.Lockout)
	assert.Equal(t, []string{"https://cms.example"}, cfg.AllowedOrigins)
}

func TestLoad_RejectsMalformedNumbers(t *testing.T) {
	clearEnv(t)
	t.Setenv("CMS_ENCRYPTION_MASTER_KEY", "master")
	t.Setenv("CMS_JWT_SECRET", "signing")
	t.Setenv("CMS_JWT_EXPIRATION_MINUTES", "sixty")

	_, err := Load()
	require.Error(t, err)
}
