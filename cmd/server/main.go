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

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"hecticradio.app/live/common/id"
	"hecticradio.app/live/common/logger"
	"hecticradio.app/live/common/otel"
	"hecticradio.app/live/core/config"
	"hecticradio.app/live/core/db"
	"hecticradio.app/live/internal/broadcast"
	"hecticradio.app/live/internal/chat"
	"hecticradio.app/live/internal/eventbus"
	"hecticradio.app/live/internal/http/handler"
	"hecticradio.app/live/internal/http/middleware"
	httprouter "hecticradio.app/live/internal/http/router"
	"hecticradio.app/live/internal/hub"
	"hecticradio.app/live/internal/metrics"
	"hecticradio.app/live/internal/musicsync"
	"hecticradio.app/live/internal/presence"
	"hecticradio.app/live/internal/queue"
	"hecticradio.app/live/internal/scheduler"
	"hecticradio.app/live/internal/store"
	"hecticradio.app/live/internal/transport"
	"hecticradio.app/live/internal/worker"
)

const redisPingTimeout = 3 * time.Second

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeServer)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "live server starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)
	if err := id.Init(id.NodeServer); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()

	content, closeContent := openContentStore(ctx, cfg)
	defer closeContent()

	// redis carries the cross-instance bus and the durable queue; without it the
	// server keeps serving listeners as a single process
	var redisClient *redis.Client
	if cfg.Hub.Enabled() || cfg.Pipeline.Enabled() {
		redisClient, err = openRedis(ctx, cfg.Pipeline.RedisURL)
		if err != nil {
			slog.WarnContext(ctx, "redis unavailable, running single-process with an in-memory job queue", "error", err)
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	} else {
		slog.WarnContext(ctx, "no REDIS_URL, presence is local to this process and jobs are kept in memory")
	}

	m := metrics.NewCollector()

	sockets := transport.NewHub(transport.Config{AllowedOrigins: cfg.CORSOrigins}, m)
	registry := presence.NewRegistry(sockets, m)
	relay := chat.NewRelay(sockets, registry, chat.DefaultTypingWindow)
	live := hub.New(sockets, registry, relay)
	live.Bind(sockets)

	broadcast.Default.Bind(sockets, registry)
	registry.OnCountChanged(broadcast.Default.PublishCount)
	go broadcast.Default.RunHeartbeat(runCtx, time.Duration(cfg.Hub.HeartbeatSeconds)*time.Second)

	if redisClient != nil && cfg.Hub.Enabled() {
		bus := eventbus.NewRedisBus(redisClient, cfg.Hub.EventBusChannel, m)
		bus.Attach(sockets)
		go bus.Run(runCtx)
		slog.InfoContext(ctx, "event bus attached", "channel", cfg.Hub.EventBusChannel, "origin", bus.Origin())
	}

	var jobs queue.Store
	durable := redisClient != nil && cfg.Pipeline.Enabled()
	if durable {
		jobs = queue.NewRedisStore(redisClient, cfg.Pipeline.QueueName)
	} else {
		jobs = queue.NewMemoryStore()
	}

	sched := scheduler.New(jobs, scheduler.Config{
		Task:     musicsync.TaskName,
		Cron:     cfg.Pipeline.MusicSyncCron,
		Timezone: cfg.Pipeline.CronTimezone,
	})
	if err := sched.Init(ctx); err != nil {
		// the hub still serves listeners without a sync schedule
		slog.ErrorContext(ctx, "failed to register music sync schedule", "error", err)
	}

	var (
		w         *worker.Worker
		reclaimer *worker.Reclaimer
	)
	// a memory queue is invisible to cmd/worker, so it is drained here
	if cfg.Pipeline.WorkerInProcess || !durable {
		w = worker.New(jobs, worker.Config{
			Concurrency: cfg.Pipeline.WorkerConcurrency,
			Lease:       time.Duration(cfg.Pipeline.LeaseSeconds) * time.Second,
		}, m)
		w.Register(musicsync.TaskName, newSyncProcessor(cfg, content))
		reclaimer = worker.NewReclaimer(jobs, worker.DefaultReclaimInterval, m)

		go func() {
			if err := w.Run(runCtx); err != nil && runCtx.Err() == nil {
				slog.ErrorContext(ctx, "in-process worker stopped", "error", err)
			}
		}()
		go reclaimer.Run(runCtx)
		slog.InfoContext(ctx, "in-process worker started", "concurrency", cfg.Pipeline.WorkerConcurrency)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, httprouter.Handlers{
		Socket:    handler.NewSocketHandler(sockets, cfg.AdminAPIKey),
		Presence:  handler.NewPresenceHandler(live, registry),
		Broadcast: handler.NewBroadcastHandler(broadcast.Default),
		Jobs:      handler.NewJobsHandler(musicsync.NewProducer(jobs, m), jobs, content),
		Metrics:   m.Handler(),
	})
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	// upgraded sockets are hijacked, so server.Shutdown does not close them
	sockets.Shutdown(shutdownCtx)
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	if w != nil {
		reclaimer.Stop()
		w.Stop()
	}
	stopRun()
	relay.Close()

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func setupRouter(cfg config.Config, handlers httprouter.Handlers) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	httprouter.SetupRoutes(router, handlers, httprouter.RouterConfig{
		AdminAPIKey: cfg.AdminAPIKey,
		CORSOrigins: cfg.CORSOrigins,
	})

	return router
}

// openContentStore uses Postgres when DATABASE_URL is set and process memory
// otherwise.
func openContentStore(ctx context.Context, cfg config.Config) (store.ContentStore, func()) {
	if !cfg.DBConfigured {
		slog.WarnContext(ctx, "no DATABASE_URL, synced content is kept in memory")
		return store.NewMemory(), func() {}
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "database connected")

	pg := store.NewPostgres(database)
	if err := pg.Migrate(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to migrate content tables", "error", err)
		os.Exit(1)
	}
	return pg, database.Close
}

// openRedis parses url and pings the server. The client is closed on failure.
func openRedis(ctx context.Context, url string) (*redis.Client, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	redisClient := redis.NewClient(redisOpts)
	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		_ = redisClient.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	slog.InfoContext(ctx, "redis connected")
	return redisClient, nil
}

func newSyncProcessor(cfg config.Config, content store.ContentStore) *musicsync.Processor {
	return musicsync.NewProcessor(
		musicsync.NewSpotify(cfg.Spotify, content),
		musicsync.NewYouTube(cfg.YouTube, content),
	)
}

const banner = `
 _   _ _____ ____ _____ ___ ____   _     _____     _______
| | | | ____/ ___|_   _|_ _/ ___| | |   |_ _\ \   / / ____|
| |_| |  _|| |     | |  | | |     | |    | | \ \ / /|  _|
|  _  | |__| |___  | |  | | |___  | |___ | |  \ V / | |___
|_| |_|_____\____| |_| |___\____| |_____|___|  \_/  |_____|
`
