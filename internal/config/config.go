package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}

type Config struct {
	Server     ServerConfig
	Redis      RedisConfig
	Store      StoreConfig
	Dispatch   DispatchConfig
	Storage    StorageConfig
	S3         S3Config
	Minio      MinioConfig
	Templates  TemplatesConfig
	Postgres   PostgresConfig
	Transcoder TranscoderConfig
	Render     RenderConfig
	RateLimit  RateLimitConfig
}

type ServerConfig struct {
	Port            string
	Env             string
	LogLevel        string
	BodyLimitMB     int
	ShutdownTimeout time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// StoreConfig selects the job table backend: "memory" or "redis".
type StoreConfig struct {
	Backend string
	JobTTL  time.Duration
}

// DispatchConfig selects how render tasks start: "local" runs a goroutine
// per job, "asynq" enqueues onto Redis.
type DispatchConfig struct {
	Backend     string
	Concurrency int
}

// StorageConfig holds working directories and the artifact backend
// ("local", "s3" or "minio").
type StorageConfig struct {
	Backend   string
	OutputDir string
	TempDir   string
	MediaDir  string
}

type S3Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

type MinioConfig struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// TemplatesConfig selects the template source: "memory", "redis" or
// "postgres".
type TemplatesConfig struct {
	Backend      string
	SeedBuiltins bool
}

type PostgresConfig struct {
	URL string
}

type TranscoderConfig struct {
	FFmpegPath   string
	Timeout      time.Duration
	Preset       string
	CRF          int
	AudioBitrate string
}

type RenderConfig struct {
	FetchTimeout time.Duration
	MaxMediaMB   int64
}

type RateLimitConfig struct {
	SubmitPerHour int
}

// NeedsRedis reports whether any configured backend talks to Redis.
func (c *Config) NeedsRedis() bool {
	return c.Store.Backend == "redis" ||
		c.Dispatch.Backend == "asynq" ||
		c.Templates.Backend == "redis" ||
		c.RateLimit.SubmitPerHour > 0
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("S3_ACCESS_KEY_ID")
	readSecret("S3_SECRET_ACCESS_KEY")
	readSecret("MINIO_SECRET_KEY")
	readSecret("DATABASE_URL")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables
	v.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = v.BindEnv("server.port", "SERVER_PORT", "PORT")
	_ = v.BindEnv("server.env", "SERVER_ENV")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("server.body_limit_mb", "BODY_LIMIT_MB")
	_ = v.BindEnv("server.shutdown_timeout", "SHUTDOWN_TIMEOUT")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("store.backend", "JOB_STORE")
	_ = v.BindEnv("store.job_ttl", "JOB_TTL")
	_ = v.BindEnv("dispatch.backend", "DISPATCHER")
	_ = v.BindEnv("dispatch.concurrency", "RENDER_CONCURRENCY")
	_ = v.BindEnv("storage.backend", "ARTIFACT_STORE")
	_ = v.BindEnv("storage.output_dir", "OUTPUT_DIR")
	_ = v.BindEnv("storage.temp_dir", "TEMP_DIR")
	_ = v.BindEnv("storage.media_dir", "MEDIA_DIR")
	_ = v.BindEnv("s3.endpoint", "S3_ENDPOINT")
	_ = v.BindEnv("s3.region", "S3_REGION")
	_ = v.BindEnv("s3.bucket", "S3_BUCKET")
	_ = v.BindEnv("s3.access_key_id", "S3_ACCESS_KEY_ID")
	_ = v.BindEnv("s3.secret_access_key", "S3_SECRET_ACCESS_KEY")
	_ = v.BindEnv("s3.use_path_style", "S3_USE_PATH_STYLE")
	_ = v.BindEnv("minio.endpoint", "MINIO_ENDPOINT")
	_ = v.BindEnv("minio.bucket", "MINIO_BUCKET")
	_ = v.BindEnv("minio.access_key", "MINIO_ACCESS_KEY")
	_ = v.BindEnv("minio.secret_key", "MINIO_SECRET_KEY")
	_ = v.BindEnv("minio.region", "MINIO_REGION")
	_ = v.BindEnv("minio.use_ssl", "MINIO_USE_SSL")
	_ = v.BindEnv("templates.backend", "TEMPLATE_STORE")
	_ = v.BindEnv("templates.seed_builtins", "TEMPLATES_SEED_BUILTINS")
	_ = v.BindEnv("postgres.url", "DATABASE_URL")
	_ = v.BindEnv("transcoder.ffmpeg_path", "FFMPEG_PATH")
	_ = v.BindEnv("transcoder.timeout", "FFMPEG_TIMEOUT")
	_ = v.BindEnv("transcoder.preset", "FFMPEG_PRESET")
	_ = v.BindEnv("transcoder.crf", "FFMPEG_CRF")
	_ = v.BindEnv("transcoder.audio_bitrate", "FFMPEG_AUDIO_BITRATE")
	_ = v.BindEnv("render.fetch_timeout", "MEDIA_FETCH_TIMEOUT")
	_ = v.BindEnv("render.max_media_mb", "MEDIA_MAX_MB")
	_ = v.BindEnv("ratelimit.submit_per_hour", "RATELIMIT_SUBMIT_PER_HOUR")

	// Defaults
	v.SetDefault("server.port", "3001")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.body_limit_mb", 10)
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.job_ttl", "24h")
	v.SetDefault("dispatch.backend", "local")
	v.SetDefault("dispatch.concurrency", 2)
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.output_dir", "./outputs")
	v.SetDefault("storage.temp_dir", "./temp")
	v.SetDefault("storage.media_dir", "./uploads")
	v.SetDefault("s3.region", "auto")
	v.SetDefault("s3.use_path_style", true)
	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.bucket", "clipcraft-outputs")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("templates.backend", "memory")
	v.SetDefault("templates.seed_builtins", true)
	v.SetDefault("transcoder.ffmpeg_path", "ffmpeg")
	v.SetDefault("transcoder.timeout", "5m")
	v.SetDefault("transcoder.preset", "veryfast")
	v.SetDefault("transcoder.crf", 23)
	v.SetDefault("transcoder.audio_bitrate", "192k")
	v.SetDefault("render.fetch_timeout", "60s")
	v.SetDefault("render.max_media_mb", 200)
	v.SetDefault("ratelimit.submit_per_hour", 0)

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:            v.GetString("server.port"),
			Env:             v.GetString("server.env"),
			LogLevel:        v.GetString("server.log_level"),
			BodyLimitMB:     v.GetInt("server.body_limit_mb"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Store: StoreConfig{
			Backend: strings.ToLower(v.GetString("store.backend")),
			JobTTL:  v.GetDuration("store.job_ttl"),
		},
		Dispatch: DispatchConfig{
			Backend:     strings.ToLower(v.GetString("dispatch.backend")),
			Concurrency: v.GetInt("dispatch.concurrency"),
		},
		Storage: StorageConfig{
			Backend:   strings.ToLower(v.GetString("storage.backend")),
			OutputDir: v.GetString("storage.output_dir"),
			TempDir:   v.GetString("storage.temp_dir"),
			MediaDir:  v.GetString("storage.media_dir"),
		},
		S3: S3Config{
			Endpoint:        v.GetString("s3.endpoint"),
			Region:          v.GetString("s3.region"),
			Bucket:          v.GetString("s3.bucket"),
			AccessKeyID:     v.GetString("s3.access_key_id"),
			SecretAccessKey: v.GetString("s3.secret_access_key"),
			UsePathStyle:    v.GetBool("s3.use_path_style"),
		},
		Minio: MinioConfig{
			Endpoint:  v.GetString("minio.endpoint"),
			Bucket:    v.GetString("minio.bucket"),
			AccessKey: v.GetString("minio.access_key"),
			SecretKey: v.GetString("minio.secret_key"),
			Region:    v.GetString("minio.region"),
			UseSSL:    v.GetBool("minio.use_ssl"),
		},
		Templates: TemplatesConfig{
			Backend:      strings.ToLower(v.GetString("templates.backend")),
			SeedBuiltins: v.GetBool("templates.seed_builtins"),
		},
		Postgres: PostgresConfig{
			URL: v.GetString("postgres.url"),
		},
		Transcoder: TranscoderConfig{
			FFmpegPath:   v.GetString("transcoder.ffmpeg_path"),
			Timeout:      v.GetDuration("transcoder.timeout"),
			Preset:       v.GetString("transcoder.preset"),
			CRF:          v.GetInt("transcoder.crf"),
			AudioBitrate: v.GetString("transcoder.audio_bitrate"),
		},
		Render: RenderConfig{
			FetchTimeout: v.GetDuration("render.fetch_timeout"),
			MaxMediaMB:   v.GetInt64("render.max_media_mb"),
		},
		RateLimit: RateLimitConfig{
			SubmitPerHour: v.GetInt("ratelimit.submit_per_hour"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	checks := []struct {
		key     string
		value   string
		allowed []string
	}{
		{"store.backend", c.Store.Backend, []string{"memory", "redis"}},
		{"dispatch.backend", c.Dispatch.Backend, []string{"local", "asynq"}},
		{"storage.backend", c.Storage.Backend, []string{"local", "s3", "minio"}},
		{"templates.backend", c.Templates.Backend, []string{"memory", "redis", "postgres"}},
	}

	for _, chk := range checks {
		if !contains(chk.allowed, chk.value) {
			return fmt.Errorf("config: %s must be one of %s, got %q", chk.key, strings.Join(chk.allowed, ", "), chk.value)
		}
	}

	if c.Storage.Backend == "s3" && c.S3.Bucket == "" {
		return fmt.Errorf("config: s3.bucket is required when storage.backend is s3")
	}
	if c.Storage.Backend == "minio" && (c.Minio.Endpoint == "" || c.Minio.Bucket == "") {
		return fmt.Errorf("config: minio.endpoint and minio.bucket are required when storage.backend is minio")
	}
	if c.Templates.Backend == "postgres" && c.Postgres.URL == "" {
		return fmt.Errorf("config: postgres.url is required when templates.backend is postgres")
	}
	if c.Dispatch.Concurrency < 1 {
		c.Dispatch.Concurrency = 1
	}

	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
