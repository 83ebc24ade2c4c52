package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/clipcraft/api/internal/client"
	"github.com/clipcraft/api/internal/config"
	"github.com/clipcraft/api/internal/handler"
	"github.com/clipcraft/api/internal/middleware"
	"github.com/clipcraft/api/internal/model"
	"github.com/clipcraft/api/internal/render"
	"github.com/clipcraft/api/internal/service"
	"github.com/clipcraft/api/internal/storage"
	"github.com/clipcraft/api/internal/store"
	"github.com/clipcraft/api/internal/template"
	ws "github.com/clipcraft/api/internal/websocket"
	"github.com/clipcraft/api/internal/worker"
	"github.com/clipcraft/api/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	lg, err := logger.New(cfg.Server.LogLevel, cfg.Server.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	if err := run(cfg, lg); err != nil {
		lg.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, lg *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for _, dir := range []string{cfg.Storage.OutputDir, cfg.Storage.TempDir, cfg.Storage.MediaDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	checks := map[string]handler.Check{}

	var redisClient *redis.Client
	if cfg.NeedsRedis() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			lg.Warn("redis not available", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		checks["redis"] = func(ctx context.Context) bool { return redisClient.Ping(ctx).Err() == nil }
	}

	var jobs store.JobStore = store.NewMemoryStore()
	if cfg.Store.Backend == "redis" {
		jobs = store.NewRedisStore(redisClient, cfg.Store.JobTTL)
	}

	templates, closeTemplates, err := newTemplateStore(ctx, cfg, redisClient, checks, lg)
	if err != nil {
		return err
	}
	defer closeTemplates()

	artifacts, err := newArtifactStore(ctx, cfg)
	if err != nil {
		return err
	}

	ffmpeg := client.NewFFmpeg(&cfg.Transcoder, lg)
	if !ffmpeg.Available() {
		lg.Warn("ffmpeg not found, renders will fail", zap.String("path", cfg.Transcoder.FFmpegPath))
	}
	checks["ffmpeg"] = func(context.Context) bool { return ffmpeg.Available() }

	compositor, err := render.NewCompositor(render.FileBackend{}, lg)
	if err != nil {
		return fmt.Errorf("init compositor: %w", err)
	}
	fetcher := render.NewMediaFetcher(cfg.Storage.MediaDir, cfg.Render.FetchTimeout, cfg.Render.MaxMediaMB*1024*1024)
	enc := render.Encoding{
		Preset:       cfg.Transcoder.Preset,
		CRF:          cfg.Transcoder.CRF,
		AudioBitrate: cfg.Transcoder.AudioBitrate,
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hub := ws.NewHub(lg)
	go hub.Run(hubCtx)

	renderWorker := worker.NewRenderWorker(worker.Deps{
		Jobs:      jobs,
		Segments:  render.NewSegmentRenderer(ffmpeg, compositor, fetcher, enc),
		Concat:    render.NewConcatenator(ffmpeg, enc),
		Fetcher:   fetcher,
		Artifacts: artifacts,
		Notifier:  hub,
		TempRoot:  cfg.Storage.TempDir,
		Log:       lg,
	})

	// Renders outlive the signal context so shutdown can drain them.
	renderCtx, cancelRenders := context.WithCancel(context.Background())
	defer cancelRenders()

	var (
		dispatcher  service.Dispatcher
		local       *worker.LocalDispatcher
		asynqServer *asynq.Server
	)
	switch cfg.Dispatch.Backend {
	case "asynq":
		redisOpt := asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}
		asynqClient := asynq.NewClient(redisOpt)
		defer asynqClient.Close()
		dispatcher = service.NewAsynqDispatcher(asynqClient, cfg.Store.JobTTL)

		asynqServer = asynq.NewServer(redisOpt, asynq.Config{
			Concurrency: cfg.Dispatch.Concurrency,
			Queues:      map[string]int{service.QueueRender: 1},
			Logger:      lg.Named("asynq").Sugar(),
		})
		mux := asynq.NewServeMux()
		mux.HandleFunc(service.TaskTypeRender, renderWorker.ProcessTask)
		if err := asynqServer.Start(mux); err != nil {
			return fmt.Errorf("start asynq server: %w", err)
		}
	default:
		local = worker.NewLocalDispatcher(renderCtx, renderWorker, lg)
		dispatcher = local
	}

	jobService := service.NewJobService(service.Deps{
		Jobs:       jobs,
		Templates:  templates,
		Artifacts:  artifacts,
		Dispatcher: dispatcher,
		Validator:  service.NewValidator(validator.New()),
		Log:        lg,
	})

	var limiter *middleware.RateLimiter
	if redisClient != nil {
		limiter = middleware.NewRateLimiter(redisClient, lg)
	}

	app := handler.NewApp(handler.AppDeps{
		Jobs:          jobService,
		Templates:     templates,
		Hub:           hub,
		Limiter:       limiter,
		SubmitPerHour: cfg.RateLimit.SubmitPerHour,
		Checks:        checks,
		BodyLimitMB:   cfg.Server.BodyLimitMB,
		AccessLog:     true,
		Log:           lg,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		addr := ":" + cfg.Server.Port
		lg.Info("server starting",
			zap.String("addr", addr),
			zap.String("job_store", cfg.Store.Backend),
			zap.String("dispatcher", cfg.Dispatch.Backend),
			zap.String("artifact_store", cfg.Storage.Backend),
			zap.String("template_store", cfg.Templates.Backend),
		)
		return app.Listen(addr)
	})

	g.Go(func() error {
		<-gctx.Done()
		lg.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if asynqServer != nil {
			asynqServer.Shutdown()
		}
		if local != nil {
			if err := local.Wait(shutdownCtx); err != nil {
				lg.Warn("canceling unfinished renders", zap.Int("active", local.Active()))
				cancelRenders()
				// Give canceled tasks a moment to record their error state.
				waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
				_ = local.Wait(waitCtx)
				waitCancel()
			}
		}
		stopHub()
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	lg.Info("server stopped")
	return nil
}

type templateSeeder interface {
	Put(ctx context.Context, t *model.Template) error
}

func newTemplateStore(ctx context.Context, cfg *config.Config, rdb *redis.Client, checks map[string]handler.Check, lg *zap.Logger) (template.Store, func(), error) {
	var (
		ts     template.Store
		seeder templateSeeder
		closer = func() {}
	)

	switch cfg.Templates.Backend {
	case "redis":
		rs := template.NewRedisStore(rdb)
		ts, seeder = rs, rs
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		closer = pool.Close
		ps := template.NewPostgresStore(pool)
		if err := ps.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate templates: %w", err)
		}
		checks["postgres"] = func(ctx context.Context) bool { return pool.Ping(ctx) == nil }
		ts, seeder = ps, ps
	default:
		return template.NewMemoryStore(template.Builtins()...), closer, nil
	}

	if cfg.Templates.SeedBuiltins {
		for _, t := range template.Builtins() {
			if err := seeder.Put(ctx, t); err != nil {
				lg.Warn("failed to seed template", zap.String("template_id", t.ID), zap.Error(err))
			}
		}
	}
	return ts, closer, nil
}

func newArtifactStore(ctx context.Context, cfg *config.Config) (storage.ArtifactStore, error) {
	switch cfg.Storage.Backend {
	case "s3":
		s3c, err := client.NewS3Client(ctx, &cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("init s3 client: %w", err)
		}
		return storage.NewS3Store(s3c), nil
	case "minio":
		ms, err := storage.NewMinioStore(&cfg.Minio)
		if err != nil {
			return nil, fmt.Errorf("init minio: %w", err)
		}
		if err := ms.EnsureBucket(ctx, cfg.Minio.Region); err != nil {
			return nil, err
		}
		return ms, nil
	default:
		return storage.NewLocalFS(cfg.Storage.OutputDir), nil
	}
}
