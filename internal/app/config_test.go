package app

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// unsetEnv clears keys for the duration of the test so envconfig defaults apply.
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	unsetEnv(t, "APP_ENV", "LEDGER_BASE_CURRENCY", "LEDGER_LOCK_BACKEND", "SETTLEMENT_PROCEEDS_ACCOUNT",
		"SETTLEMENT_LOCK_WAIT", "SETTLEMENT_LOCK_TTL", "RATE_LIMIT_PER_MINUTE")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "IDR", cfg.BaseCurrency)
	require.Equal(t, LockBackendRedis, cfg.LockBackend)
	require.Equal(t, "2100", cfg.SettlementProceedsAccount)
	require.Equal(t, 2*time.Second, cfg.SettlementLockWait)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigNormalises(t *testing.T) {
	unsetEnv(t, "SETTLEMENT_PROCEEDS_ACCOUNT", "SETTLEMENT_LOCK_WAIT", "SETTLEMENT_LOCK_TTL", "RATE_LIMIT_PER_MINUTE")
	t.Setenv("LEDGER_BASE_CURRENCY", "usd")
	t.Setenv("LEDGER_LOCK_BACKEND", "LOCAL")
	t.Setenv("APP_ENV", "production")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "USD", cfg.BaseCurrency)
	require.Equal(t, LockBackendLocal, cfg.LockBackend)
	require.True(t, cfg.IsProduction())
}

func TestConfigValidateRejects(t *testing.T) {
	valid := func() Config {
		return Config{
			BaseCurrency:              "IDR",
			LockBackend:               LockBackendRedis,
			SettlementProceedsAccount: "2100",
			SettlementLockTTL:         30 * time.Second,
			SettlementLockWait:        2 * time.Second,
			RateLimitPerMinute:        60,
		}
	}
	cases := map[string]func(*Config){
		"unknown currency":    func(c *Config) { c.BaseCurrency = "ZZZ1" },
		"unknown lock":        func(c *Config) { c.LockBackend = "etcd" },
		"no proceeds account": func(c *Config) { c.SettlementProceedsAccount = " " },
		"zero wait":           func(c *Config) { c.SettlementLockWait = 0 },
		"ttl below wait":      func(c *Config) { c.SettlementLockTTL = time.Second },
		"no rate limit":       func(c *Config) { c.RateLimitPerMinute = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}

	cfg := valid()
	require.NoError(t, cfg.Validate())
}

func TestLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, &Config{LogFormat: "json", AppEnv: "test"}).Info("hello")
	require.Contains(t, buf.String(), `"service":"agriledger"`)
	require.Contains(t, buf.String(), `"env":"test"`)

	buf.Reset()
	newLogger(&buf, nil).Info("hello")
	require.Contains(t, buf.String(), "service=agriledger")
}

func TestTestModeFlag(t *testing.T) {
	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
	require.True(t, InTestMode())

	t.Setenv(testModeEnv, "0")
	RefreshTestMode()
	require.False(t, InTestMode())
}

func TestConnectionSettings(t *testing.T) {
	unsetEnv(t, "SETTLEMENT_PROCEEDS_ACCOUNT", "SETTLEMENT_LOCK_WAIT", "SETTLEMENT_LOCK_TTL", "RATE_LIMIT_PER_MINUTE",
		"LEDGER_BASE_CURRENCY", "LEDGER_LOCK_BACKEND")
	t.Setenv("PG_DSN", "postgres://ledger@db:5432/agri")
	t.Setenv("PG_MAX_CONNS", "25")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("REDIS_PASSWORD", "pw")
	t.Setenv("REDIS_DB", "4")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	pg := cfg.Postgres()
	require.Equal(t, "postgres://ledger@db:5432/agri", pg.DSN)
	require.Equal(t, int32(25), pg.MaxConns)
	require.Equal(t, "agriledger", pg.AppName)

	redisOpts := cfg.Redis()
	require.Equal(t, "redis:6379", redisOpts.Addr)
	require.Equal(t, 4, redisOpts.DB)
	require.Equal(t, "pw", redisOpts.Asynq().Password)
}
