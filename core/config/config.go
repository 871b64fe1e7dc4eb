package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"hecticradio.app/live/core/db"
)

type Config struct {
	OTel         OTelConfig
	Hub          HubConfig
	Pipeline     PipelineConfig
	Spotify      SpotifyConfig
	YouTube      YouTubeConfig
	Env          string
	Port         string
	MetricsPort  string
	CORSOrigins  []string
	AdminAPIKey  string
	DB           db.Config
	DBConfigured bool
}

type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
}

type HubConfig struct {
	RedisURL         string
	EventBusChannel  string
	HeartbeatSeconds int
}

type PipelineConfig struct {
	RedisURL          string
	QueueName         string
	MusicSyncCron     string
	CronTimezone      string
	WorkerConcurrency int
	WorkerInProcess   bool
	LeaseSeconds      int
}

// SpotifyConfig is read only by the Spotify sync routine.
type SpotifyConfig struct {
	ClientID     string
	ClientSecret string
	PlaylistIDs  []string
	ShowID       string
}

type YouTubeConfig struct {
	APIKey    string
	ChannelID string
}

type ServiceType string

const (
	ServiceTypeServer ServiceType = "server"
	ServiceTypeWorker ServiceType = "worker"
)

// Load loads configuration from environment variables.
// In development, it loads from service-specific .env files:
//   - .env.server for the hub process
//   - .env.worker for the dedicated job worker
//
// Falls back to .env if service-specific file doesn't exist.
func Load(serviceType ServiceType) (Config, error) {
	if getEnv("LIVE_ENV", "development") == "development" {
		envFile := fmt.Sprintf(".env.%s", serviceType)
		if err := godotenv.Load(envFile); err != nil {
			_ = godotenv.Load(".env")
		}
	}

	redisURL := getEnv("REDIS_URL", "")
	dsn := getEnv("DATABASE_URL", "")

	cfg := Config{
		Env:         getEnv("LIVE_ENV", "development"),
		Port:        getEnv("PORT", "3001"),
		MetricsPort: getEnv("METRICS_PORT", "9091"),
		CORSOrigins: getEnvList("CORS_ORIGINS", []string{"http://localhost:3000"}),
		AdminAPIKey: getEnv("ADMIN_API_KEY", ""),
		DB: db.Config{
			DSN:      dsn,
			MaxConns: getEnvInt32("DB_MAX_CONNS", 10),
			MinConns: getEnvInt32("DB_MIN_CONNS", 2),
		},
		DBConfigured: dsn != "",
		OTel: OTelConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "live-"+string(serviceType)),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
		},
		Hub: HubConfig{
			RedisURL:         redisURL,
			EventBusChannel:  getEnv("EVENT_BUS_CHANNEL", "live:events"),
			HeartbeatSeconds: getEnvInt("LISTENER_HEARTBEAT_SECONDS", 5),
		},
		Pipeline: PipelineConfig{
			RedisURL:          redisURL,
			QueueName:         getEnv("JOB_QUEUE_NAME", "music-sync"),
			MusicSyncCron:     getEnv("MUSIC_SYNC_CRON", "0 * * * *"),
			CronTimezone:      getEnv("JOB_CRON_TZ", "UTC"),
			WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 2),
			WorkerInProcess:   getEnvBool("WORKER_INPROCESS", redisURL == ""),
			LeaseSeconds:      getEnvInt("JOB_LEASE_SECONDS", 300),
		},
		Spotify: SpotifyConfig{
			ClientID:     getEnv("SPOTIFY_CLIENT_ID", ""),
			ClientSecret: getEnv("SPOTIFY_CLIENT_SECRET", ""),
			PlaylistIDs:  getEnvList("SPOTIFY_PLAYLIST_IDS", nil),
			ShowID:       getEnv("SPOTIFY_SHOW_ID", ""),
		},
		YouTube: YouTubeConfig{
			APIKey:    getEnv("YOUTUBE_API_KEY", ""),
			ChannelID: getEnv("YOUTUBE_CHANNEL_ID", ""),
		},
	}

	if serviceType == ServiceTypeWorker && !cfg.Pipeline.Enabled() {
		return Config{}, fmt.Errorf("REDIS_URL is required for a dedicated worker")
	}

	if cfg.Pipeline.WorkerConcurrency <= 0 {
		return Config{}, fmt.Errorf("WORKER_CONCURRENCY must be positive, got %d", cfg.Pipeline.WorkerConcurrency)
	}

	return cfg, nil
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

// Enabled reports whether the cross-process event bus should be started.
func (c HubConfig) Enabled() bool {
	return c.RedisURL != ""
}

// Enabled reports whether jobs live in Redis. Without it the server keeps
// them in process memory.
func (c PipelineConfig) Enabled() bool {
	return c.RedisURL != ""
}

func (c SpotifyConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

func (c YouTubeConfig) Enabled() bool {
	return c.APIKey != "" && c.ChannelID != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt32(key string, fallback int32) int32 {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(i)
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvList splits a comma separated value, dropping blanks.
func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
