package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"hecticradio.app/live/common/id"
	"hecticradio.app/live/common/logger"
	"hecticradio.app/live/common/otel"
	"hecticradio.app/live/core/config"
	"hecticradio.app/live/core/db"
	"hecticradio.app/live/internal/metrics"
	"hecticradio.app/live/internal/musicsync"
	"hecticradio.app/live/internal/queue"
	"hecticradio.app/live/internal/scheduler"
	"hecticradio.app/live/internal/store"
	"hecticradio.app/live/internal/worker"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	fmt.Printf("%s\n", banner)

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	slog.InfoContext(ctx, "live worker starting",
		"env", cfg.Env,
		"queue", cfg.Pipeline.QueueName,
		"concurrency", cfg.Pipeline.WorkerConcurrency)

	// different node ID than the server
	if err := id.Init(id.NodeWorker); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	var content store.ContentStore
	if cfg.DBConfigured {
		database, err := db.New(ctx, cfg.DB)
		if err != nil {
			slog.ErrorContext(ctx, "failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer database.Close()
		slog.InfoContext(ctx, "database connected")

		pg := store.NewPostgres(database)
		if err := pg.Migrate(ctx); err != nil {
			slog.ErrorContext(ctx, "failed to migrate content tables", "error", err)
			os.Exit(1)
		}
		content = pg
	} else {
		slog.WarnContext(ctx, "no DATABASE_URL, synced content is kept in worker memory only")
		content = store.NewMemory()
	}

	redisOpts, err := redis.ParseURL(cfg.Pipeline.RedisURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.InfoContext(ctx, "redis connected", "queue", cfg.Pipeline.QueueName)

	jobs := queue.NewRedisStore(redisClient, cfg.Pipeline.QueueName)
	m := metrics.NewCollector()

	// the server registers the same schedule; whichever starts first wins
	sched := scheduler.New(jobs, scheduler.Config{
		Task:     musicsync.TaskName,
		Cron:     cfg.Pipeline.MusicSyncCron,
		Timezone: cfg.Pipeline.CronTimezone,
	})
	if err := sched.Init(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to register music sync schedule", "error", err)
		os.Exit(1)
	}

	w := worker.New(jobs, worker.Config{
		Concurrency: cfg.Pipeline.WorkerConcurrency,
		Lease:       time.Duration(cfg.Pipeline.LeaseSeconds) * time.Second,
	}, m)
	w.Register(musicsync.TaskName, musicsync.NewProcessor(
		musicsync.NewSpotify(cfg.Spotify, content),
		musicsync.NewYouTube(cfg.YouTube, content),
	))

	reclaimer := worker.NewReclaimer(jobs, worker.DefaultReclaimInterval, m)

	metricsServer := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "metrics server error", "error", err)
		}
	}()

	errCh := make(chan error, 2)
	go func() {
		errCh <- w.Run(ctx)
	}()
	go func() {
		reclaimer.Run(ctx)
		errCh <- nil
	}()

	slog.InfoContext(ctx, "worker initialized and running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop reclaimer first (quick)
	reclaimer.Stop()

	// Stop worker (may be processing)
	w.Stop()

	select {
	case <-shutdownCtx.Done():
		slog.WarnContext(ctx, "shutdown timeout exceeded")
	case err := <-errCh:
		if err != nil {
			slog.ErrorContext(ctx, "worker error during shutdown", "error", err)
		}
	}

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "metrics server shutdown error", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(ctx, "worker shutdown complete")
}

const banner = `
 _   _ _____ ____ _____ ___ ____  __        _____  ____  _  _______ ____
| | | | ____/ ___|_   _|_ _/ ___| \ \      / / _ \|  _ \| |/ / ____|  _ \
| |_| |  _|| |     | |  | | |      \ \ /\ / / | | | |_) | ' /|  _| | |_) |
|  _  | |__| |___  | |  | | |___    \ V  V /| |_| |  _ <| . \| |___|  _ <
|_| |_|_____\____| |_| |___\____|    \_/\_/  \___/|_| \_\_|\_\_____|_| \_\
`
