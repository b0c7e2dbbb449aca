// Package config loads the server configuration from collab.yaml, the
// environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. COLLAB_REDIS_ADDRS.
const EnvPrefix = "COLLAB"

// Config is the complete server configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Log      LogConfig      `mapstructure:"log"`
	Collab   CollabConfig   `mapstructure:"collab"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Database DatabaseConfig `mapstructure:"database"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
}

type ServerConfig struct {
	Addr              string        `mapstructure:"addr"`
	AllowedOrigins    []string      `mapstructure:"allowedOrigins"`
	ReadHeaderTimeout time.Duration `mapstructure:"readHeaderTimeout"`
	WriteWait         time.Duration `mapstructure:"writeWait"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdownTimeout"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwtSecret"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// CollabConfig tunes the editing engine.
type CollabConfig struct {
	// SingleProcess keeps sequencing, dedup and presence in memory. Only
	// valid when exactly one server process serves every diagram.
	SingleProcess    bool          `mapstructure:"singleProcess"`
	SnapshotInterval int64         `mapstructure:"snapshotInterval"`
	CatchupLimit     int           `mapstructure:"catchupLimit"`
	IdempotencyTTL   time.Duration `mapstructure:"idempotencyTTL"`
	LockTTL          time.Duration `mapstructure:"lockTTL"`
	PresenceTTL      time.Duration `mapstructure:"presenceTTL"`
	PresenceInterval time.Duration `mapstructure:"presenceInterval"`
	SweepInterval    time.Duration `mapstructure:"sweepInterval"`
}

// RedisConfig selects a single node or, with several addresses, a cluster.
type RedisConfig struct {
	Addrs    []string `mapstructure:"addrs"`
	Password string   `mapstructure:"password"`
	DB       int      `mapstructure:"db"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"maxOpenConns"`
	MaxIdleConns    int           `mapstructure:"maxIdleConns"`
	ConnMaxLifetime time.Duration `mapstructure:"connMaxLifetime"`
	AutoMigrate     bool          `mapstructure:"autoMigrate"`
}

type KafkaConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Brokers   []string `mapstructure:"brokers"`
	Topic     string   `mapstructure:"topic"`
	ClientID  string   `mapstructure:"clientId"`
	QueueSize int      `mapstructure:"queueSize"`
	Workers   int      `mapstructure:"workers"`
	MaxRetry  int      `mapstructure:"maxRetry"`
}

var defaults = map[string]any{
	"server.addr":              ":8080",
	"server.allowedOrigins":    []string{"*"},
	"server.readHeaderTimeout": 10 * time.Second,
	"server.writeWait":         10 * time.Second,
	"server.shutdownTimeout":   15 * time.Second,

	"auth.jwtSecret": "",

	"log.level":  "info",
	"log.format": "json",

	"collab.singleProcess":    false,
	"collab.snapshotInterval": 100,
	"collab.catchupLimit":     1000,
	"collab.idempotencyTTL":   time.Hour,
	"collab.lockTTL":          5 * time.Second,
	"collab.presenceTTL":      30 * time.Second,
	"collab.presenceInterval": 50 * time.Millisecond,
	"collab.sweepInterval":    15 * time.Second,

	"redis.addrs":    []string{},
	"redis.password": "",
	"redis.db":       0,

	"database.driver":          "",
	"database.dsn":             "",
	"database.maxOpenConns":    20,
	"database.maxIdleConns":    5,
	"database.connMaxLifetime": 30 * time.Minute,
	"database.autoMigrate":     true,

	"kafka.enabled":   false,
	"kafka.brokers":   []string{},
	"kafka.topic":     "diagram-changes",
	"kafka.clientId":  "online-diagrams",
	"kafka.queueSize": 1024,
	"kafka.workers":   2,
	"kafka.maxRetry":  3,
}

// Load reads collab.yaml from the given directories (./config and . when
// none are given), applies COLLAB_* environment overrides and validates
// the result. A missing file is not an error; defaults apply.
func Load(paths ...string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("collab")
	v.SetConfigType("yaml")

	if len(paths) == 0 {
		paths = []string{"./config", "."}
	}

	for _, p := range paths {
		v.AddConfigPath(p)
	}

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwtSecret is required"))
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or console, got %q", c.Log.Format))
	}

	if !c.Collab.SingleProcess {
		if len(c.Redis.Addrs) == 0 {
			errs = append(errs, errors.New("redis.addrs is required unless collab.singleProcess is set"))
		}

		if c.Database.Driver == "" {
			errs = append(errs, errors.New("database.driver is required unless collab.singleProcess is set"))
		}
	}

	if c.Database.Driver != "" && c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required when database.driver is set"))
	}

	if c.Collab.SnapshotInterval <= 0 {
		errs = append(errs, errors.New("collab.snapshotInterval must be positive"))
	}

	if c.Collab.CatchupLimit <= 0 {
		errs = append(errs, errors.New("collab.catchupLimit must be positive"))
	}

	for name, d := range map[string]time.Duration{
		"collab.idempotencyTTL": c.Collab.IdempotencyTTL,
		"collab.lockTTL":        c.Collab.LockTTL,
		"collab.presenceTTL":    c.Collab.PresenceTTL,
		"collab.sweepInterval":  c.Collab.SweepInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}

	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		errs = append(errs, errors.New("kafka.brokers and kafka.topic are required when kafka is enabled"))
	}

	return errors.Join(errs...)
}
