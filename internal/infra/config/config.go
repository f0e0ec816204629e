package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Realtime transport selection.
const (
	RealtimeWebsocket = "websocket"
	RealtimeKafka     = "kafka"
)

// Config aggregates client and devserver configuration loaded from
// environment variables.
type Config struct {
	Env string

	// Client side.
	BaseURL        string
	WSURL          string
	Token          string
	SelfID         int64
	PollInterval   time.Duration
	HTTPTimeout    time.Duration
	MaxUploadBytes int64

	RealtimeMode     string
	KafkaBrokers     []string
	KafkaTopicPrefix string
	KafkaGroupID     string

	// Devserver side.
	HTTPAddr     string
	AssetBaseURL string
}

// Load parses configuration from the current environment.
func Load() (Config, error) {
	cfg := Config{
		Env:              getEnv("APP_ENV", "dev"),
		BaseURL:          getEnv("CHAT_BASE_URL", "http://localhost:8080"),
		WSURL:            getEnv("CHAT_WS_URL", "ws://localhost:8080/api/v1/ws"),
		Token:            os.Getenv("CHAT_TOKEN"),
		RealtimeMode:     strings.ToLower(getEnv("REALTIME_MODE", RealtimeWebsocket)),
		KafkaTopicPrefix: getEnv("KAFKA_TOPIC_PREFIX", "chat"),
		KafkaGroupID:     getEnv("KAFKA_GROUP_ID", "chatsync"),
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		AssetBaseURL:     getEnv("ASSET_BASE_URL", ""),
	}
	if cfg.AssetBaseURL == "" {
		cfg.AssetBaseURL = cfg.BaseURL
	}

	brokers := getEnv("KAFKA_BROKERS", "")
	if brokers != "" {
		for _, raw := range strings.Split(brokers, ",") {
			if b := strings.TrimSpace(raw); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}
	if cfg.RealtimeMode != RealtimeWebsocket && cfg.RealtimeMode != RealtimeKafka {
		return Config{}, fmt.Errorf("unsupported REALTIME_MODE %q", cfg.RealtimeMode)
	}
	if cfg.RealtimeMode == RealtimeKafka && len(cfg.KafkaBrokers) == 0 {
		return Config{}, fmt.Errorf("REALTIME_MODE=kafka requires KAFKA_BROKERS")
	}

	selfID, err := parseInt64Env("CHAT_SELF_ID", 0)
	if err != nil {
		return Config{}, err
	}
	cfg.SelfID = selfID

	poll, err := parseDurationEnv("POLL_INTERVAL", 20*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg.PollInterval = poll

	timeout, err := parseDurationEnv("HTTP_TIMEOUT", 15*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg.HTTPTimeout = timeout

	maxUpload, err := parseInt64Env("MAX_UPLOAD_BYTES", 10<<20)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxUploadBytes = maxUpload

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseDurationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func parseInt64Env(key string, def int64) (int64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
