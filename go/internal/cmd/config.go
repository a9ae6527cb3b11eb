package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mcdev12/festtrivia/go/clients/trivia_client"
	"gopkg.in/yaml.v3"
)

type Config struct {
	BackendURL string `yaml:"backend_url"`
	APIKey     string `yaml:"api_key"`
	PlayerName string `yaml:"player_name"`
	GameID     string `yaml:"game_id"`
	Locale     string `yaml:"locale"`
	LogLevel   string `yaml:"log_level"`

	// Data selects where rows are read from: "rpc" or "postgres".
	Data        string `yaml:"data"`
	DatabaseURL string `yaml:"database_url"`
	ContentFile string `yaml:"content_file"`

	Feeds struct {
		// Transport is one of "websocket", "nats" or "postgres".
		Transport    string `yaml:"transport"`
		WebSocketURL string `yaml:"websocket_url"`
		NATSURL      string `yaml:"nats_url"`
	} `yaml:"feeds"`

	TimeCache struct {
		// Store is one of "memory", "file" or "redis".
		Store     string `yaml:"store"`
		Dir       string `yaml:"dir"`
		RedisAddr string `yaml:"redis_addr"`
		RedisDB   int    `yaml:"redis_db"`
		TTLSec    int    `yaml:"ttl_sec"`
	} `yaml:"time_cache"`

	Probe struct {
		// Kind is one of "http" or "nats".
		Kind        string `yaml:"kind"`
		IntervalSec int    `yaml:"interval_sec"`
		TimeoutSec  int    `yaml:"timeout_sec"`
	} `yaml:"probe"`
}

func defaultConfig() *Config {
	cfg := &Config{
		BackendURL: trivia_client.DefaultBaseURL,
		Locale:     "en",
		LogLevel:   "info",
		Data:       "rpc",
	}
	cfg.Feeds.Transport = "websocket"
	cfg.Feeds.NATSURL = "nats://localhost:4222"
	cfg.TimeCache.Store = "file"
	cfg.TimeCache.Dir = ".trivia"
	cfg.TimeCache.RedisAddr = "localhost:6379"
	cfg.TimeCache.TTLSec = 300
	cfg.Probe.Kind = "http"
	cfg.Probe.IntervalSec = 30
	cfg.Probe.TimeoutSec = 5
	return cfg
}

// loadConfig reads path over the defaults; a missing file keeps the defaults. Environment
// variables override both.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.BackendURL = getEnv("TRIVIA_BACKEND_URL", cfg.BackendURL)
	cfg.APIKey = getEnv("TRIVIA_API_KEY", cfg.APIKey)
	cfg.PlayerName = getEnv("TRIVIA_PLAYER_NAME", cfg.PlayerName)
	cfg.GameID = getEnv("TRIVIA_GAME_ID", cfg.GameID)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.Feeds.Transport = getEnv("TRIVIA_FEED_TRANSPORT", cfg.Feeds.Transport)
	cfg.Feeds.NATSURL = getEnv("NATS_URL", cfg.Feeds.NATSURL)
	cfg.TimeCache.RedisAddr = getEnv("REDIS_ADDR", cfg.TimeCache.RedisAddr)
	cfg.Probe.IntervalSec = getEnvAsInt("TRIVIA_PROBE_INTERVAL_SEC", cfg.Probe.IntervalSec)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	if cfg.Feeds.WebSocketURL == "" {
		cfg.Feeds.WebSocketURL = websocketURL(cfg.BackendURL)
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	switch c.Feeds.Transport {
	case "websocket", "nats", "postgres":
	default:
		return fmt.Errorf("unknown feed transport %q", c.Feeds.Transport)
	}
	switch c.TimeCache.Store {
	case "memory", "file", "redis":
	default:
		return fmt.Errorf("unknown time cache store %q", c.TimeCache.Store)
	}
	switch c.Data {
	case "rpc", "postgres":
	default:
		return fmt.Errorf("unknown data source %q", c.Data)
	}
	if c.Probe.Kind == "nats" && c.Feeds.Transport != "nats" {
		return errors.New("nats probe requires the nats feed transport")
	}
	return nil
}

func (c *Config) timeCacheTTL() time.Duration {
	return time.Duration(c.TimeCache.TTLSec) * time.Second
}

func websocketURL(backendURL string) string {
	switch {
	case strings.HasPrefix(backendURL, "https://"):
		return "wss://" + strings.TrimPrefix(backendURL, "https://") + trivia_client.FeedsPath
	case strings.HasPrefix(backendURL, "http://"):
		return "ws://" + strings.TrimPrefix(backendURL, "http://") + trivia_client.FeedsPath
	default:
		return backendURL + trivia_client.FeedsPath
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
