package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != "3001" {
		t.Errorf("server.port = %q, want 3001", cfg.Server.Port)
	}
	if cfg.Store.Backend != "memory" || cfg.Dispatch.Backend != "local" || cfg.Storage.Backend != "local" {
		t.Errorf("unexpected backends: %+v %+v %+v", cfg.Store, cfg.Dispatch, cfg.Storage)
	}
	if cfg.Transcoder.Timeout != 5*time.Minute {
		t.Errorf("transcoder.timeout = %v, want 5m", cfg.Transcoder.Timeout)
	}
	if cfg.NeedsRedis() {
		t.Error("default config should not need redis")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	chdirTemp(t)
	t.Setenv("JOB_STORE", "redis")
	t.Setenv("FFMPEG_TIMEOUT", "90s")
	t.Setenv("RENDER_CONCURRENCY", "4")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Store.Backend != "redis" {
		t.Errorf("store.backend = %q, want redis", cfg.Store.Backend)
	}
	if cfg.Transcoder.Timeout != 90*time.Second {
		t.Errorf("transcoder.timeout = %v, want 90s", cfg.Transcoder.Timeout)
	}
	if cfg.Dispatch.Concurrency != 4 {
		t.Errorf("dispatch.concurrency = %d, want 4", cfg.Dispatch.Concurrency)
	}
	if !cfg.NeedsRedis() {
		t.Error("redis job store should need redis")
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	chdirTemp(t)
	t.Setenv("ARTIFACT_STORE", "ftp")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown artifact store")
	}
}

func TestLoadRequiresBucketForS3(t *testing.T) {
	chdirTemp(t)
	t.Setenv("ARTIFACT_STORE", "s3")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when s3 bucket is missing")
	}
}

func TestReadSecretFromFile(t *testing.T) {
	chdirTemp(t)
	path := filepath.Join(t.TempDir(), "secret")
	if err := os.WriteFile(path, []byte("s3cr3t\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("REDIS_PASSWORD", "")
	t.Setenv("REDIS_PASSWORD_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Redis.Password != "s3cr3t" {
		t.Errorf("redis.password = %q, want s3cr3t", cfg.Redis.Password)
	}
}

// chdirTemp moves into an empty directory so no config.yaml is picked up.
func chdirTemp(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoadMinioBackend(t *testing.T) {
	chdirTemp(t)
	t.Setenv("ARTIFACT_STORE", "minio")
	t.Setenv("MINIO_ENDPOINT", "minio:9000")
	t.Setenv("MINIO_BUCKET", "renders")
	t.Setenv("MINIO_USE_SSL", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Storage.Backend != "minio" {
		t.Errorf("storage.backend = %q, want minio", cfg.Storage.Backend)
	}
	if cfg.Minio.Endpoint != "minio:9000" || cfg.Minio.Bucket != "renders" || !cfg.Minio.UseSSL {
		t.Errorf("unexpected minio config: %+v", cfg.Minio)
	}
}
