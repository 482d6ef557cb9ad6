package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xraph/spool"
	"github.com/xraph/spool/config"
	"github.com/xraph/spool/queue"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got, want := cfg.SpoolConfig(), spool.DefaultConfig(); got != want {
		t.Errorf("SpoolConfig = %+v, want %+v", got, want)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("store.driver = %q, want memory", cfg.Store.Driver)
	}
	if cfg.Artifacts.Backend != "filesystem" {
		t.Errorf("artifacts.backend = %q, want filesystem", cfg.Artifacts.Backend)
	}
	if got := cfg.QueueConfigs(); len(got) != len(queue.DefaultConfigs()) {
		t.Errorf("queues = %+v, want defaults", got)
	}
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, "spool.yaml", `
engine:
  poll_interval: 250ms
  default_max_attempts: 4
store:
  driver: redis
  redis:
    addr: redis:6379
queues:
  - name: exports
    concurrency: 3
    rate_limit: 2.5
  - name: notifications
    concurrency: 1
    backoff_base: 5s
log:
  format: json
`)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.PollInterval != 250*time.Millisecond {
		t.Errorf("poll_interval = %v", cfg.Engine.PollInterval)
	}
	if cfg.Engine.DefaultMaxAttempts != 4 {
		t.Errorf("default_max_attempts = %d", cfg.Engine.DefaultMaxAttempts)
	}
	if cfg.Engine.BackoffBase != 2*time.Second {
		t.Errorf("backoff_base default lost: %v", cfg.Engine.BackoffBase)
	}
	if cfg.Store.Driver != "redis" || cfg.Store.Redis.Addr != "redis:6379" {
		t.Errorf("store = %+v", cfg.Store)
	}
	qs := cfg.QueueConfigs()
	if len(qs) != 2 {
		t.Fatalf("queues = %+v, want 2", qs)
	}
	if qs[0].Name != "exports" || qs[0].Concurrency != 3 || qs[0].RateLimit != 2.5 {
		t.Errorf("queue[0] = %+v", qs[0])
	}
	if qs[1].BackoffBase != 5*time.Second {
		t.Errorf("queue[1].BackoffBase = %v", qs[1].BackoffBase)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("log.format = %q", cfg.Log.Format)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("SPOOL_HTTP_ADDR", ":9090")
	t.Setenv("SPOOL_ENGINE_BACKOFF_BASE", "3s")
	t.Setenv("SPOOL_STORE_REDIS_DB", "2")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Addr != ":9090" {
		t.Errorf("http.addr = %q", cfg.HTTP.Addr)
	}
	if cfg.Engine.BackoffBase != 3*time.Second {
		t.Errorf("backoff_base = %v", cfg.Engine.BackoffBase)
	}
	if cfg.Store.Redis.DB != 2 {
		t.Errorf("redis.db = %d", cfg.Store.Redis.DB)
	}
}

func TestLoad_SecretFile(t *testing.T) {
	secret := writeFile(t, "dsn", "postgres://spool:hunter2@db/spool\n")
	t.Setenv("SPOOL_STORE_DRIVER", "postgres")
	t.Setenv("SPOOL_STORE_POSTGRES_DSN_FILE", secret)

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Postgres.DSN != "postgres://spool:hunter2@db/spool" {
		t.Errorf("dsn = %q", cfg.Store.Postgres.DSN)
	}
}

func TestLoad_PlainEnvBeatsSecretFile(t *testing.T) {
	secret := writeFile(t, "pw", "from-file")
	t.Setenv("SPOOL_STORE_REDIS_PASSWORD", "from-env")
	t.Setenv("SPOOL_STORE_REDIS_PASSWORD_FILE", secret)

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Redis.Password != "from-env" {
		t.Errorf("password = %q, want from-env", cfg.Store.Redis.Password)
	}
}

func TestLoad_UnreadableSecret(t *testing.T) {
	t.Setenv("SPOOL_ARTIFACTS_S3_SECRET_ACCESS_KEY_FILE", filepath.Join(t.TempDir(), "missing"))
	if _, err := config.Load(""); err == nil {
		t.Fatal("expected error for unreadable secret file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown driver", map[string]string{"SPOOL_STORE_DRIVER": "sqlite"}},
		{"postgres without dsn", map[string]string{"SPOOL_STORE_DRIVER": "postgres"}},
		{"s3 without bucket", map[string]string{"SPOOL_ARTIFACTS_BACKEND": "s3"}},
		{"unknown backend", map[string]string{"SPOOL_ARTIFACTS_BACKEND": "ftp"}},
		{"unknown log format", map[string]string{"SPOOL_LOG_FORMAT": "xml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := config.Load(""); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoad_Audit(t *testing.T) {
	path := writeFile(t, "spool.yaml", `
audit:
  enabled: true
  actions: [job.failed, job.stalled]
`)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Audit.Enabled {
		t.Error("audit not enabled")
	}
	if len(cfg.Audit.Actions) != 2 || cfg.Audit.Actions[1] != "job.stalled" {
		t.Errorf("actions = %v", cfg.Audit.Actions)
	}
}
