package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/makeasinger/genreswap/internal/archive"
	"github.com/makeasinger/genreswap/internal/artifact"
	"github.com/makeasinger/genreswap/internal/auth"
	"github.com/makeasinger/genreswap/internal/backend"
	"github.com/makeasinger/genreswap/internal/client"
	"github.com/makeasinger/genreswap/internal/config"
	"github.com/makeasinger/genreswap/internal/fanout"
	"github.com/makeasinger/genreswap/internal/handler"
	"github.com/makeasinger/genreswap/internal/logging"
	"github.com/makeasinger/genreswap/internal/middleware"
	"github.com/makeasinger/genreswap/internal/pipeline"
	"github.com/makeasinger/genreswap/internal/registry"
	"github.com/makeasinger/genreswap/internal/selector"
	"github.com/makeasinger/genreswap/internal/service"
	"github.com/makeasinger/genreswap/internal/stage"
	"github.com/makeasinger/genreswap/internal/worker"
	"github.com/makeasinger/genreswap/pkg/response"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	lg := logging.New(cfg.Server.Env, cfg.Server.LogLevel)
	slog.SetDefault(lg)

	// Cancelled on SIGINT/SIGTERM; running jobs observe it as interruption.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		lg.Warn("redis not available", "error", err)
	}

	// Status fan-out. Background publishers outlive ctx so that jobs
	// interrupted by shutdown are still archived; they stop after the
	// dispatcher has drained.
	hub := fanout.NewHub(cfg.Fanout.WriteTimeout, lg)
	go hub.Run(ctx)

	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()
	var background []*fanout.Async
	async := func(name string, p registry.Publisher) *fanout.Async {
		a := fanout.NewAsync(name, p, 1024, lg)
		go a.Run(bgCtx)
		background = append(background, a)
		return a
	}

	history, trimmer := openArchive(cfg, lg)
	publishers := fanout.Multi{fanout.TerminalOnly(async("archive", history))}

	if cfg.Fanout.RedisRelay {
		relay := fanout.NewRedisRelay(redisClient, "", lg)
		publishers = append(publishers, async("relay", relay))
		go func() {
			if err := relay.Subscribe(ctx, hub); err != nil {
				lg.Error("relay subscription ended", "error", err)
			}
		}()
	} else {
		publishers = append(publishers, hub)
	}

	if cfg.Fanout.AMQPURL != "" {
		sink, err := fanout.NewAMQPSink(cfg.Fanout.AMQPURL, cfg.Fanout.AMQPExchange, lg)
		if err != nil {
			lg.Warn("amqp sink disabled", "error", err)
		} else {
			defer sink.Close()
			publishers = append(publishers, fanout.TerminalOnly(async("amqp", sink)))
		}
	}

	// Job registry
	regOpts := registry.Options{Publisher: publishers, Logger: lg}
	var reg registry.Registry
	switch cfg.Registry.Driver {
	case "redis":
		reg = registry.NewRedisRegistry(redisClient, "genreswap", regOpts)
	default:
		reg = registry.NewMemoryRegistry(regOpts)
	}

	// Backends and selector
	sel := selector.New(stageOrder(cfg), stageTimeouts(cfg), backend.Catalog(buildDeps(ctx, cfg, lg)), lg)
	for name, names := range sel.Describe() {
		lg.Info("stage backends", "stage", name, "backends", names)
	}

	workspaces := artifact.NewManager(cfg.Pipeline.WorkDir, cfg.Server.PublicBaseURL+"/work")
	orch := pipeline.New(reg, sel, workspaces, lg)

	// Dispatch
	var dispatcher service.Dispatcher
	var inproc *service.InProcessDispatcher
	var asynqSrv *asynq.Server
	redisOpt := asynq.RedisClientOpt{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}

	switch cfg.Dispatch.Driver {
	case "asynq":
		if cfg.Registry.Driver != "redis" {
			lg.Warn("asynq dispatch with a memory registry only works when the worker runs in this process")
		}
		asynqClient := asynq.NewClient(redisOpt)
		defer asynqClient.Close()
		dispatcher = service.NewAsynqDispatcher(asynqClient, cfg.Registry.Retention)

		asynqSrv = asynq.NewServer(redisOpt, asynq.Config{
			Concurrency: cfg.Dispatch.Concurrency,
			Queues:      map[string]int{service.QueueJobs: 1},
			LogLevel:    logging.AsynqLevel(cfg.Server.LogLevel),
		})
		jobWorker := worker.NewJobWorker(orch, lg)
		go func() {
			if err := asynqSrv.Run(jobWorker.Mux()); err != nil {
				lg.Error("asynq worker error", "error", err)
			}
		}()
	default:
		inproc = service.NewInProcessDispatcher(ctx, orch, cfg.Dispatch.MaxConcurrentJobs, lg)
		dispatcher = inproc
	}

	jobs := service.NewJobService(reg, dispatcher, service.JobServiceOptions{
		History:     history,
		HistorySize: cfg.Archive.Size,
		Logger:      lg,
	})

	janitor := service.NewJanitor(reg, trimmer, cfg.Registry.Retention, cfg.Registry.JanitorInterval, lg)
	go janitor.Start(ctx)

	// HTTP
	verifier := buildVerifier(ctx, cfg, lg)
	var apiAuth fiber.Handler
	switch cfg.Auth.Mode {
	case "gateway":
		lg.Info("gateway auth enabled, reading X-User-* headers")
		apiAuth = middleware.GatewayAuth()
	case "jwt":
		apiAuth = middleware.Authenticate(verifier)
	}
	var submitLimit fiber.Handler
	if cfg.RateLimit.SubmitPerHour > 0 {
		submitLimit = middleware.NewRateLimiter(redisClient, lg).SubmitLimit(cfg.RateLimit.SubmitPerHour)
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    1 * 1024 * 1024,
	})
	app.Use(recover.New())
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body}\n"
	}
	app.Use(logger.New(logger.Config{Format: logFormat}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	handler.Mount(app, handler.Routes{
		Jobs: handler.NewJobHandler(jobs, handler.NewValidator()),
		Health: handler.NewHealthHandler(sel.Describe(), fiber.Map{
			"registry": cfg.Registry.Driver,
			"dispatch": cfg.Dispatch.Driver,
			"auth":     cfg.Auth.Mode,
		}),
		Auth:        handler.NewAuthHandler(verifier),
		Hub:         hub,
		Snapshot:    jobs.Snapshot,
		APIAuth:     apiAuth,
		SubmitLimit: submitLimit,
		MediaPath:   cfg.Storage.PublicPath,
		MediaDir:    cfg.Storage.PublicDir,
		WorkDir:     cfg.Pipeline.WorkDir,
	})

	go func() {
		<-ctx.Done()
		lg.Info("shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			lg.Error("server shutdown error", "error", err)
		}
	}()

	addr := ":" + cfg.Server.Port
	lg.Info("server starting", "addr", addr)
	if err := app.Listen(addr); err != nil {
		lg.Error("server error", "error", err)
	}

	// Running jobs were interrupted by ctx; wait for them to record it.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if inproc != nil {
		if err := inproc.Shutdown(shutdownCtx); err != nil {
			lg.Warn("jobs still running at shutdown", "error", err)
		}
	}
	if asynqSrv != nil {
		asynqSrv.Shutdown()
	}
	stopBackground()
	for _, a := range background {
		select {
		case <-a.Done():
		case <-shutdownCtx.Done():
		}
	}
}

func stageOrder(cfg *config.Config) map[stage.Name][]string {
	out := make(map[stage.Name][]string, len(stage.All))
	for _, name := range stage.All {
		out[name] = cfg.Pipeline.Backends[name.ConfigKey()]
	}
	return out
}

func stageTimeouts(cfg *config.Config) map[stage.Name]time.Duration {
	out := make(map[stage.Name]time.Duration, len(stage.All))
	for _, name := range stage.All {
		out[name] = cfg.Pipeline.Timeouts[name.ConfigKey()]
	}
	return out
}

// buildDeps constructs every external client. Unconfigured clients are
// still registered; the selector skips them.
func buildDeps(ctx context.Context, cfg *config.Config, lg *slog.Logger) backend.Deps {
	deps := backend.Deps{
		LocalML:   client.NewLocalMLClient(&cfg.LocalML, lg),
		Replicate: client.NewReplicateClient(&cfg.Replicate, lg),
		Suno:      client.NewSunoClient(&cfg.Suno, lg),
		Groq:      client.NewGroqClient(&cfg.Groq, lg),
		Audio:     client.NewAudioClient(&cfg.Audio, lg),
		Local:     backend.NewLocalPublisher(cfg.Storage.PublicDir, cfg.Server.PublicBaseURL+cfg.Storage.PublicPath),
		UploadDir: cfg.Storage.UploadDir,
		FFmpeg:    "ffmpeg",
		HTTP:      &http.Client{},
		Logger:    lg,
	}

	if r2, err := client.NewR2Client(ctx, &cfg.R2); err != nil {
		lg.Warn("r2 client not initialized", "error", err)
	} else {
		deps.R2 = r2
	}

	if mc, err := client.NewMinioClient(&cfg.Minio); err != nil {
		lg.Warn("minio client not initialized", "error", err)
	} else {
		if mc.IsConfigured() {
			if err := mc.EnsureBucket(ctx); err != nil {
				lg.Warn("minio bucket unavailable", "bucket", cfg.Minio.Bucket, "error", err)
			}
		}
		deps.Minio = mc
	}
	return deps
}

// openArchive returns the job history and, for postgres, its trimmer.
func openArchive(cfg *config.Config, lg *slog.Logger) (archive.Archive, service.Trimmer) {
	if cfg.Archive.Driver == "postgres" {
		pg, err := archive.OpenPostgres(cfg.Archive.DSN, cfg.Archive.Size, lg)
		if err == nil {
			return pg, pg
		}
		lg.Warn("postgres archive unavailable, keeping history in memory", "error", err)
	}
	return archive.NewMemory(cfg.Archive.Size), nil
}

func buildVerifier(ctx context.Context, cfg *config.Config, lg *slog.Logger) auth.Verifier {
	var chain auth.Chain
	if cfg.Zitadel.Issuer != "" {
		v, err := auth.NewJWKSVerifier(ctx, &cfg.Zitadel)
		if err != nil {
			lg.Warn("JWKS verifier not initialized", "error", err)
		} else {
			chain = append(chain, v)
		}
	}
	if cfg.JWT.Secret != "" {
		chain = append(chain, auth.NewHMACVerifier(cfg.JWT.Secret))
	}
	if cfg.Auth.Mode == "jwt" && len(chain) == 0 {
		lg.Warn("auth.mode=jwt but no verifier is configured; every request will be rejected")
	}
	return chain
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		message = fe.Message
	}
	return response.Error(c, code, response.CodeServiceError, message, nil)
}
