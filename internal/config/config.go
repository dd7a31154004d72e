package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the group voice assistant.
type Config struct {
	BindAddr         string
	MetricsNamespace string
	ShutdownTimeout  time.Duration

	BotName string

	RoomURL      string
	RoomToken    string
	DailyAPIKey  string
	DailyAPIBase string

	OpenAIAPIKey        string
	OpenAIRealtimeURL   string
	OpenAIRealtimeModel string
	Instructions        string

	AudioInSampleRate  int
	AudioOutSampleRate int
	AllowInterruptions bool
	EnableMetrics      bool

	DatabaseURL string
}

const defaultInstructions = "You are a helpful voice assistant in a group call. " +
	"Anyone can speak to you, and your responses will be heard by everyone. " +
	"Keep your responses concise and clear."

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "chorus"),
		BotName:          envOrDefault("APP_BOT_NAME", "AI Voice Assistant"),
		RoomURL:          stringsTrimSpace("DAILY_ROOM_URL"),
		RoomToken:        stringsTrimSpace("DAILY_TOKEN"),
		DailyAPIKey:      stringsTrimSpace("DAILY_API_KEY"),
		DailyAPIBase:     envOrDefault("DAILY_API_BASE_URL", "https://api.daily.co/v1"),
		OpenAIAPIKey:     stringsTrimSpace("OPENAI_API_KEY"),
		// Realtime speech-to-speech endpoint; the model rides in the query string.
		OpenAIRealtimeURL:   envOrDefault("OPENAI_REALTIME_URL", "wss://api.openai.com/v1/realtime"),
		OpenAIRealtimeModel: envOrDefault("OPENAI_REALTIME_MODEL", "gpt-4o-realtime-preview-2024-12-17"),
		Instructions:        envOrDefault("APP_INSTRUCTIONS", defaultInstructions),
		// Match the realtime service's preferred sample rate on both legs.
		AudioInSampleRate:  24000,
		AudioOutSampleRate: 24000,
		AllowInterruptions: true,
		EnableMetrics:      true,
		ShutdownTimeout:    15 * time.Second,
		DatabaseURL:        stringsTrimSpace("DATABASE_URL"),
	}

	var err error
	cfg.AudioInSampleRate, err = intFromEnv("APP_AUDIO_IN_SAMPLE_RATE", cfg.AudioInSampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.AudioOutSampleRate, err = intFromEnv("APP_AUDIO_OUT_SAMPLE_RATE", cfg.AudioOutSampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowInterruptions, err = boolFromEnv("APP_ALLOW_INTERRUPTIONS", cfg.AllowInterruptions)
	if err != nil {
		return Config{}, err
	}
	cfg.EnableMetrics, err = boolFromEnv("APP_ENABLE_METRICS", cfg.EnableMetrics)
	if err != nil {
		return Config{}, err
	}
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}

	if cfg.AudioInSampleRate <= 0 {
		return Config{}, fmt.Errorf("APP_AUDIO_IN_SAMPLE_RATE must be positive")
	}
	if cfg.AudioOutSampleRate <= 0 {
		return Config{}, fmt.Errorf("APP_AUDIO_OUT_SAMPLE_RATE must be positive")
	}

	return cfg, nil
}

// ValidateSession checks the credentials the session process needs before any
// network activity. The room token is optional for open rooms.
func (c Config) ValidateSession() error {
	if c.RoomURL == "" {
		return fmt.Errorf("no Daily room URL provided: set DAILY_ROOM_URL")
	}
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("no OpenAI API key provided: set OPENAI_API_KEY")
	}
	return nil
}

// ValidateProvision checks the credentials the provisioning tool needs.
func (c Config) ValidateProvision() error {
	if c.DailyAPIKey == "" {
		return fmt.Errorf("DAILY_API_KEY environment variable is not set")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
