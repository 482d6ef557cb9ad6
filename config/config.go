// Package config loads Spool process configuration from defaults, an
// optional YAML file and SPOOL_ environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/xraph/spool"
	"github.com/xraph/spool/queue"
)

// EnvPrefix is prepended to every environment override. The key
// store.postgres.dsn is read from SPOOL_STORE_POSTGRES_DSN.
const EnvPrefix = "SPOOL"

// Config is the full process configuration.
type Config struct {
	Engine    EngineConfig    `mapstructure:"engine"`
	Queues    []QueueConfig   `mapstructure:"queues"`
	Store     StoreConfig     `mapstructure:"store"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Log       LogConfig       `mapstructure:"log"`
	Audit     AuditConfig     `mapstructure:"audit"`
}

// EngineConfig mirrors spool.Config.
type EngineConfig struct {
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`
	HeartbeatInterval  time.Duration `mapstructure:"heartbeat_interval"`
	StaleJobThreshold  time.Duration `mapstructure:"stale_job_threshold"`
	DefaultMaxAttempts int           `mapstructure:"default_max_attempts"`
	BackoffBase        time.Duration `mapstructure:"backoff_base"`
	DefaultTimeout     time.Duration `mapstructure:"default_timeout"`
	ArtifactRetention  time.Duration `mapstructure:"artifact_retention"`
	SweepSchedule      string        `mapstructure:"sweep_schedule"`
	CompletedGrace     time.Duration `mapstructure:"completed_grace"`
	FailedGrace        time.Duration `mapstructure:"failed_grace"`
	ReconcileGrace     time.Duration `mapstructure:"reconcile_grace"`
}

// QueueConfig mirrors queue.Config.
type QueueConfig struct {
	Name        string        `mapstructure:"name"`
	Concurrency int           `mapstructure:"concurrency"`
	RateLimit   float64       `mapstructure:"rate_limit"`
	RateBurst   int           `mapstructure:"rate_burst"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// StoreConfig selects and configures the job/export store backend.
type StoreConfig struct {
	// Driver is one of memory, redis or postgres.
	Driver   string         `mapstructure:"driver"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig configures the redis store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// PostgresConfig configures the postgres store.
type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

// ArtifactsConfig selects and configures artifact storage.
type ArtifactsConfig struct {
	// Backend is filesystem or s3.
	Backend string   `mapstructure:"backend"`
	Dir     string   `mapstructure:"dir"`
	BaseURL string   `mapstructure:"base_url"`
	S3      S3Config `mapstructure:"s3"`
}

// S3Config configures S3-compatible artifact storage.
type S3Config struct {
	Endpoint        string        `mapstructure:"endpoint"`
	Region          string        `mapstructure:"region"`
	Bucket          string        `mapstructure:"bucket"`
	AccessKeyID     string        `mapstructure:"access_key_id"`
	SecretAccessKey string        `mapstructure:"secret_access_key"`
	Prefix          string        `mapstructure:"prefix"`
	PublicURL       string        `mapstructure:"public_url"`
	PresignExpiry   time.Duration `mapstructure:"presign_expiry"`
	UsePathStyle    bool          `mapstructure:"use_path_style"`
}

// RemoteConfig points at the project data store and the render service.
type RemoteConfig struct {
	DataSourceURL string        `mapstructure:"data_source_url"`
	RendererURL   string        `mapstructure:"renderer_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `mapstructure:"level"`
	// Format is text or json.
	Format string `mapstructure:"format"`
}

// AuditConfig enables the lifecycle audit trail written to the log.
type AuditConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Actions restricts the trail to the listed actions. Empty means all.
	Actions []string `mapstructure:"actions"`
}

// secrets lists keys that may be supplied through a <ENV>_FILE variable.
var secrets = []string{
	"store.postgres.dsn",
	"store.redis.password",
	"artifacts.s3.access_key_id",
	"artifacts.s3.secret_access_key",
}

func setDefaults(v *viper.Viper) {
	d := spool.DefaultConfig()
	v.SetDefault("engine.poll_interval", d.PollInterval)
	v.SetDefault("engine.shutdown_timeout", d.ShutdownTimeout)
	v.SetDefault("engine.heartbeat_interval", d.HeartbeatInterval)
	v.SetDefault("engine.stale_job_threshold", d.StaleJobThreshold)
	v.SetDefault("engine.default_max_attempts", d.DefaultMaxAttempts)
	v.SetDefault("engine.backoff_base", d.BackoffBase)
	v.SetDefault("engine.default_timeout", d.DefaultTimeout)
	v.SetDefault("engine.artifact_retention", d.ArtifactRetention)
	v.SetDefault("engine.sweep_schedule", d.SweepSchedule)
	v.SetDefault("engine.completed_grace", d.CompletedGrace)
	v.SetDefault("engine.failed_grace", d.FailedGrace)
	v.SetDefault("engine.reconcile_grace", d.ReconcileGrace)

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.postgres.dsn", "")

	v.SetDefault("artifacts.backend", "filesystem")
	v.SetDefault("artifacts.dir", "./exports")
	v.SetDefault("artifacts.base_url", "http://localhost:8080/files")
	v.SetDefault("artifacts.s3.endpoint", "")
	v.SetDefault("artifacts.s3.region", "auto")
	v.SetDefault("artifacts.s3.bucket", "")
	v.SetDefault("artifacts.s3.access_key_id", "")
	v.SetDefault("artifacts.s3.secret_access_key", "")
	v.SetDefault("artifacts.s3.prefix", "exports/")
	v.SetDefault("artifacts.s3.public_url", "")
	v.SetDefault("artifacts.s3.presign_expiry", time.Duration(0))
	v.SetDefault("artifacts.s3.use_path_style", false)

	v.SetDefault("remote.data_source_url", "")
	v.SetDefault("remote.renderer_url", "")
	v.SetDefault("remote.timeout", 30*time.Second)

	v.SetDefault("http.addr", ":8080")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("audit.enabled", false)
	v.SetDefault("audit.actions", []string{})
}

// Load reads configuration. path may be empty, in which case only defaults
// and environment variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	for _, key := range secrets {
		if err := readSecret(v, key); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// readSecret loads key from the file named by its <ENV>_FILE variable
// unless the plain variable is set.
func readSecret(v *viper.Viper, key string) error {
	env := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
	if os.Getenv(env) != "" {
		return nil
	}
	path := os.Getenv(env + "_FILE")
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read secret %s: %w", env+"_FILE", err)
	}
	v.Set(key, strings.TrimSpace(string(data)))
	return nil
}

// Validate reports configuration that cannot start a process.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory", "redis":
	case "postgres":
		if c.Store.Postgres.DSN == "" {
			return errors.New("config: store.postgres.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}

	switch c.Artifacts.Backend {
	case "filesystem":
		if c.Artifacts.Dir == "" {
			return errors.New("config: artifacts.dir is required for the filesystem backend")
		}
	case "s3":
		if c.Artifacts.S3.Bucket == "" {
			return errors.New("config: artifacts.s3.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("config: unknown artifacts backend %q", c.Artifacts.Backend)
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	return nil
}

// SpoolConfig returns the engine-wide configuration.
func (c *Config) SpoolConfig() spool.Config {
	e := c.Engine
	return spool.Config{
		PollInterval:       e.PollInterval,
		ShutdownTimeout:    e.ShutdownTimeout,
		HeartbeatInterval:  e.HeartbeatInterval,
		StaleJobThreshold:  e.StaleJobThreshold,
		DefaultMaxAttempts: e.DefaultMaxAttempts,
		BackoffBase:        e.BackoffBase,
		DefaultTimeout:     e.DefaultTimeout,
		ArtifactRetention:  e.ArtifactRetention,
		SweepSchedule:      e.SweepSchedule,
		CompletedGrace:     e.CompletedGrace,
		FailedGrace:        e.FailedGrace,
		ReconcileGrace:     e.ReconcileGrace,
	}
}

// QueueConfigs returns the static queue list, falling back to
// queue.DefaultConfigs when none is configured.
func (c *Config) QueueConfigs() []queue.Config {
	if len(c.Queues) == 0 {
		return queue.DefaultConfigs()
	}
	out := make([]queue.Config, len(c.Queues))
	for i, q := range c.Queues {
		out[i] = queue.Config{
			Name:        q.Name,
			Concurrency: q.Concurrency,
			RateLimit:   q.RateLimit,
			RateBurst:   q.RateBurst,
			MaxAttempts: q.MaxAttempts,
			BackoffBase: q.BackoffBase,
			Timeout:     q.Timeout,
		}
	}
	return out
}
