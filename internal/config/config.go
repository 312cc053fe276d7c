package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultAPIURL             = "http://localhost:8080/api"
	DefaultSignalURL          = "ws://localhost:8080/ws"
	DefaultSTUNURL            = "stun:stun.l.google.com:19302"
	DefaultConnectTimeout     = 10 * time.Second
	DefaultSignalPingInterval = 20 * time.Second
	DefaultRelayListenAddr    = ":8080"
	DefaultRelayPublicURL     = "http://localhost:8080"
)

// Media source kinds accepted in CALL_MEDIA.
const (
	MediaMicrophone = "microphone"
	MediaSilence    = "silence"
)

// Config holds the call client configuration.
type Config struct {
	Email              string
	APIURL             string
	SignalURL          string
	STUNURL            string
	Media              string
	RecordPath         string
	ConnectTimeout     time.Duration
	SignalPingInterval time.Duration
	LogLevel           string
	PionLogLevel       string
	KeepLoopback       bool
}

// RelayConfig holds the development relay configuration.
type RelayConfig struct {
	ListenAddr string
	PublicURL  string
	LogLevel   string
}

// Load reads configuration from a .env file (if present) and environment variables.
// Environment variables take precedence over .env values.
func Load() (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()

	email := os.Getenv("CALL_EMAIL")
	if email == "" {
		return nil, fmt.Errorf("CALL_EMAIL environment variable is required")
	}

	cfg := &Config{
		Email:        email,
		APIURL:       strings.TrimRight(getenv("CALL_API_URL", DefaultAPIURL), "/"),
		SignalURL:    getenv("CALL_SIGNAL_URL", DefaultSignalURL),
		STUNURL:      getenv("CALL_STUN_URL", DefaultSTUNURL),
		Media:        getenv("CALL_MEDIA", MediaMicrophone),
		RecordPath:   os.Getenv("CALL_RECORD_PATH"),
		LogLevel:     getenv("CALL_LOG_LEVEL", "info"),
		PionLogLevel: getenv("CALL_PION_LOG_LEVEL", "warn"),
	}

	var err error
	if cfg.ConnectTimeout, err = duration("CALL_CONNECT_TIMEOUT", DefaultConnectTimeout); err != nil {
		return nil, err
	}
	if cfg.SignalPingInterval, err = duration("CALL_SIGNAL_PING_INTERVAL", DefaultSignalPingInterval); err != nil {
		return nil, err
	}

	if raw := os.Getenv("CALL_KEEP_LOOPBACK"); raw != "" {
		if cfg.KeepLoopback, err = strconv.ParseBool(raw); err != nil {
			return nil, fmt.Errorf("CALL_KEEP_LOOPBACK: %w", err)
		}
	}

	switch cfg.Media {
	case MediaMicrophone, MediaSilence:
	default:
		return nil, fmt.Errorf("CALL_MEDIA must be %q or %q, got %q", MediaMicrophone, MediaSilence, cfg.Media)
	}

	return cfg, nil
}

// LoadRelay reads the development relay configuration.
func LoadRelay() (*RelayConfig, error) {
	_ = godotenv.Load()

	cfg := &RelayConfig{
		ListenAddr: getenv("RELAY_LISTEN_ADDR", DefaultRelayListenAddr),
		PublicURL:  strings.TrimRight(getenv("RELAY_PUBLIC_URL", DefaultRelayPublicURL), "/"),
		LogLevel:   getenv("CALL_LOG_LEVEL", "info"),
	}
	if cfg.ListenAddr == "" {
		return nil, fmt.Errorf("RELAY_LISTEN_ADDR must not be empty")
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func duration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, raw)
	}
	return d, nil
}
