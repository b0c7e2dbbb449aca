package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/serroba/online-diagrams/internal/config"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "collab.yaml"), []byte(body), 0o600))

	return dir
}

const multiProcess = `
auth:
  jwtSecret: s3cret
redis:
  addrs: ["redis-1:6379", "redis-2:6379"]
database:
  driver: postgres
  dsn: postgres://collab@db/collab
kafka:
  enabled: true
  brokers: ["kafka:9092"]
collab:
  snapshotInterval: 50
  presenceTTL: 20s
`

func TestLoad_FileAndDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load(writeConfig(t, multiProcess))
	require.NoError(t, err)

	require.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	require.Equal(t, []string{"redis-1:6379", "redis-2:6379"}, cfg.Redis.Addrs)
	require.Equal(t, "postgres", cfg.Database.Driver)
	require.Equal(t, int64(50), cfg.Collab.SnapshotInterval)
	require.Equal(t, 20*time.Second, cfg.Collab.PresenceTTL)
	require.True(t, cfg.Kafka.Enabled)

	// untouched keys keep their defaults
	require.Equal(t, ":8080", cfg.Server.Addr)
	require.Equal(t, 1000, cfg.Collab.CatchupLimit)
	require.Equal(t, time.Hour, cfg.Collab.IdempotencyTTL)
	require.Equal(t, 50*time.Millisecond, cfg.Collab.PresenceInterval)
	require.Equal(t, "diagram-changes", cfg.Kafka.Topic)
	require.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("COLLAB_AUTH_JWTSECRET", "from-env")
	t.Setenv("COLLAB_REDIS_ADDRS", "a:6379,b:6379")
	t.Setenv("COLLAB_COLLAB_CATCHUPLIMIT", "25")
	t.Setenv("COLLAB_LOG_FORMAT", "console")

	cfg, err := config.Load(writeConfig(t, multiProcess))
	require.NoError(t, err)

	require.Equal(t, "from-env", cfg.Auth.JWTSecret)
	require.Equal(t, []string{"a:6379", "b:6379"}, cfg.Redis.Addrs)
	require.Equal(t, 25, cfg.Collab.CatchupLimit)
	require.Equal(t, "console", cfg.Log.Format)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("COLLAB_AUTH_JWTSECRET", "dev")
	t.Setenv("COLLAB_COLLAB_SINGLEPROCESS", "true")

	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)
	require.True(t, cfg.Collab.SingleProcess)
	require.Empty(t, cfg.Database.Driver)
}

func TestLoad_MalformedFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load(writeConfig(t, "auth: [unterminated"))
	require.ErrorContains(t, err, "read config")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() config.Config {
		return config.Config{
			Auth:     config.AuthConfig{JWTSecret: "s"},
			Log:      config.LogConfig{Level: "info", Format: "json"},
			Redis:    config.RedisConfig{Addrs: []string{"r:6379"}},
			Database: config.DatabaseConfig{Driver: "mysql", DSN: "user@tcp(db)/collab"},
			Collab: config.CollabConfig{
				SnapshotInterval: 100,
				CatchupLimit:     1000,
				IdempotencyTTL:   time.Hour,
				LockTTL:          time.Second,
				PresenceTTL:      time.Minute,
				SweepInterval:    time.Second,
			},
		}
	}

	tests := []struct {
		name   string
		mutate func(*config.Config)
		errMsg string
	}{
		{name: "valid"},
		{name: "missing secret", mutate: func(c *config.Config) { c.Auth.JWTSecret = "" }, errMsg: "auth.jwtSecret"},
		{name: "unknown log format", mutate: func(c *config.Config) { c.Log.Format = "xml" }, errMsg: "log.format"},
		{name: "multi-process without redis", mutate: func(c *config.Config) { c.Redis.Addrs = nil }, errMsg: "redis.addrs"},
		{name: "multi-process without database", mutate: func(c *config.Config) { c.Database = config.DatabaseConfig{} }, errMsg: "database.driver"},
		{
			name: "single process needs neither",
			mutate: func(c *config.Config) {
				c.Collab.SingleProcess = true
				c.Redis.Addrs = nil
				c.Database = config.DatabaseConfig{}
			},
		},
		{name: "driver without dsn", mutate: func(c *config.Config) { c.Database.DSN = "" }, errMsg: "database.dsn"},
		{name: "zero snapshot interval", mutate: func(c *config.Config) { c.Collab.SnapshotInterval = 0 }, errMsg: "snapshotInterval"},
		{name: "zero presence ttl", mutate: func(c *config.Config) { c.Collab.PresenceTTL = 0 }, errMsg: "presenceTTL"},
		{name: "kafka without brokers", mutate: func(c *config.Config) { c.Kafka.Enabled = true }, errMsg: "kafka.brokers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := valid()
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}

			err := cfg.Validate()
			if tt.errMsg == "" {
				require.NoError(t, err)

				return
			}

			require.ErrorContains(t, err, tt.errMsg)
		})
	}
}
