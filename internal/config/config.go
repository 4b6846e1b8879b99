package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the channelintel server and worker.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	YouTube   YouTubeConfig
	Discovery DiscoveryConfig
	Worker    WorkerConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type YouTubeConfig struct {
	BaseURL string
	Timeout time.Duration
}

type DiscoveryConfig struct {
	Timeout   time.Duration
	UserAgent string
}

type WorkerConfig struct {
	ChunkSize        int
	DefaultItemLimit int
	PollTimeout      time.Duration
	MinChunkDelay    time.Duration
	MaxChunkDelay    time.Duration
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// Load reads configuration from environment variables and returns a validated
// Config. Returns an error with a descriptive message if any required value
// is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("CHANNELINTEL_PORT", 8080),
			Env:  envString("CHANNELINTEL_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		YouTube: YouTubeConfig{
			BaseURL: envString("YOUTUBE_API_BASE_URL", "https://www.googleapis.com/youtube/v3"),
			Timeout: envDuration("YOUTUBE_API_TIMEOUT", 30*time.Second),
		},
		Discovery: DiscoveryConfig{
			Timeout:   envDuration("DISCOVERY_HTTP_TIMEOUT", 10*time.Second),
			UserAgent: envString("DISCOVERY_USER_AGENT", defaultUserAgent),
		},
		Worker: WorkerConfig{
			ChunkSize:        envInt("WORKER_CHUNK_SIZE", 100),
			DefaultItemLimit: envInt("WORKER_DEFAULT_ITEM_LIMIT", 100),
			PollTimeout:      envDuration("WORKER_POLL_TIMEOUT", 5*time.Second),
			MinChunkDelay:    envDuration("WORKER_MIN_CHUNK_DELAY", 500*time.Millisecond),
			MaxChunkDelay:    envDuration("WORKER_MAX_CHUNK_DELAY", 2*time.Second),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if !strings.HasPrefix(c.YouTube.BaseURL, "http://") && !strings.HasPrefix(c.YouTube.BaseURL, "https://") {
		return fmt.Errorf("YOUTUBE_API_BASE_URL must start with http:// or https://, got %q", c.YouTube.BaseURL)
	}

	if c.Worker.ChunkSize <= 0 {
		return fmt.Errorf("WORKER_CHUNK_SIZE must be positive, got %d", c.Worker.ChunkSize)
	}

	if c.Worker.MinChunkDelay > c.Worker.MaxChunkDelay {
		return fmt.Errorf("WORKER_MIN_CHUNK_DELAY must not exceed WORKER_MAX_CHUNK_DELAY")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
