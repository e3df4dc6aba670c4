// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with minimal setup.
// For required credentials (the Twitch client id for VOD chat replay), use ValidateReplayReady.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Background is the terminal background mode used to shift chat colors for readability.
type Background string

const (
	BackgroundUnknown Background = "unknown"
	BackgroundLight   Background = "light"
	BackgroundDark    Background = "dark"
)

type Config struct {
	// Player
	MPVSocket string

	// Twitch
	TwitchClientID string

	// Rendering
	Background Background
	NerdFonts  bool

	// Chat buffer tuning (seconds / message counts)
	LoadMoreThreshold int
	KeepBehind        int
	LoadAhead         int

	// Printer tuning
	SyncInterval  time.Duration
	MaxCorrection time.Duration
}

// Load reads environment variables and applies defaults. It doesn't fail if the Twitch
// client id is missing; use ValidateReplayReady() when you require chat replay. The player
// socket always has a default so the binary can attach to a locally started mpv.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.MPVSocket = os.Getenv("MPV_SOCKET")
	if cfg.MPVSocket == "" {
		cfg.MPVSocket = "/tmp/mpvsocket"
	}

	cfg.TwitchClientID = os.Getenv("TWITCH_CLIENT_ID")

	switch Background(os.Getenv("BACKGROUND")) {
	case BackgroundLight:
		cfg.Background = BackgroundLight
	case BackgroundDark:
		cfg.Background = BackgroundDark
	case BackgroundUnknown, "":
		cfg.Background = BackgroundUnknown
	default:
		return nil, fmt.Errorf("invalid BACKGROUND %q: valid options are light, dark, unknown", os.Getenv("BACKGROUND"))
	}

	cfg.NerdFonts = os.Getenv("NERD_FONTS") == "1"

	var err error
	if cfg.LoadMoreThreshold, err = envInt("CHAT_LOAD_THRESHOLD", 30); err != nil {
		return nil, err
	}
	if cfg.KeepBehind, err = envInt("CHAT_KEEP_BEHIND", 500); err != nil {
		return nil, err
	}
	if cfg.LoadAhead, err = envInt("CHAT_LOAD_AHEAD", 1000); err != nil {
		return nil, err
	}

	if cfg.SyncInterval, err = envDuration("PRINTER_SYNC_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.MaxCorrection, err = envDuration("PRINTER_MAX_CORRECTION", 10*time.Second); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ValidateReplayReady checks required fields for the VOD chat replay path.
func (c *Config) ValidateReplayReady() error {
	if c.TwitchClientID == "" {
		return fmt.Errorf("missing twitch env: require TWITCH_CLIENT_ID")
	}
	return nil
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s (positive integer): %q", key, v)
	}
	return n, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s (positive duration): %q", key, v)
	}
	return d, nil
}
