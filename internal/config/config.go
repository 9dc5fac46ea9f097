package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the voice bridge.
type Config struct {
	BindAddr         string
	MetricsNamespace string
	ShutdownTimeout  time.Duration

	// BackendBaseURL is the content-management backend issuing session
	// credentials, executing tools and synthesizing speech.
	BackendBaseURL string
	// RealtimeAPIURL is the voice API endpoint (SDP exchange for webrtc,
	// socket URL for websocket).
	RealtimeAPIURL string
	// TransportKind selects webrtc or websocket.
	TransportKind string
	// Model is the fallback realtime model when the backend grant omits one.
	Model string
	// DataChannelName names the control channel. The protocol expects
	// "oai-events".
	DataChannelName string

	NegotiationTimeout time.Duration
	GatewayTimeout     time.Duration
	StartAttempts      int

	// TTSOutputPath receives synthesized/native audio in headless runs.
	// Empty discards audio.
	TTSOutputPath string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:           envOrDefault("APP_BIND_ADDR", ":8090"),
		MetricsNamespace:   envOrDefault("APP_METRICS_NAMESPACE", "voxbridge"),
		BackendBaseURL:     envOrDefault("BACKEND_BASE_URL", "http://localhost:8080"),
		RealtimeAPIURL:     envOrDefault("REALTIME_API_URL", "https://api.openai.com/v1/realtime"),
		TransportKind:      envOrDefault("REALTIME_TRANSPORT", "webrtc"),
		Model:              envOrDefault("REALTIME_MODEL", "gpt-4o-realtime-preview"),
		DataChannelName:    envOrDefault("REALTIME_DATA_CHANNEL", "oai-events"),
		TTSOutputPath:      strings.TrimSpace(os.Getenv("TTS_OUTPUT_PATH")),
		ShutdownTimeout:    15 * time.Second,
		NegotiationTimeout: 30 * time.Second,
		GatewayTimeout:     30 * time.Second,
		StartAttempts:      3,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.NegotiationTimeout, err = durationFromEnv("REALTIME_NEGOTIATION_TIMEOUT", cfg.NegotiationTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.GatewayTimeout, err = durationFromEnv("BACKEND_GATEWAY_TIMEOUT", cfg.GatewayTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.StartAttempts, err = intFromEnv("SESSION_START_ATTEMPTS", cfg.StartAttempts)
	if err != nil {
		return Config{}, err
	}

	switch cfg.TransportKind {
	case "webrtc", "websocket":
	default:
		return Config{}, fmt.Errorf("REALTIME_TRANSPORT must be webrtc or websocket, got %q", cfg.TransportKind)
	}
	if cfg.NegotiationTimeout < time.Second {
		return Config{}, fmt.Errorf("REALTIME_NEGOTIATION_TIMEOUT must be at least 1s")
	}
	if cfg.GatewayTimeout < time.Second {
		return Config{}, fmt.Errorf("BACKEND_GATEWAY_TIMEOUT must be at least 1s")
	}
	if cfg.StartAttempts <= 0 {
		return Config{}, fmt.Errorf("SESSION_START_ATTEMPTS must be positive")
	}
	if strings.TrimSpace(cfg.BackendBaseURL) == "" {
		return Config{}, fmt.Errorf("BACKEND_BASE_URL must not be empty")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
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
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}
