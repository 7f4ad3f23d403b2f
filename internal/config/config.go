// Package config loads the client configuration from ~/.cargomart/config.toml
// with CARGOMART_* environment variables layered on top.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
)

// Config is the root configuration for the realtime client.
type Config struct {
	DefaultProfile string `toml:"default_profile" envconfig:"PROFILE"`

	// Collaborator endpoints. The API serves the REST surface; the gateway
	// serves the multiplexed realtime socket and per-session track sockets.
	APIBaseURL string `toml:"api_base_url" envconfig:"API_BASE_URL"`
	GatewayURL string `toml:"gateway_url" envconfig:"GATEWAY_URL"`

	Realtime RealtimeConfig `toml:"realtime"`
	Track    TrackConfig    `toml:"track"`
	Chat     ChatConfig     `toml:"chat"`
}

// RealtimeConfig tunes the persistent connection.
type RealtimeConfig struct {
	HeartbeatInterval time.Duration `toml:"heartbeat_interval" envconfig:"HEARTBEAT_INTERVAL"`
	BackoffInitial    time.Duration `toml:"backoff_initial" envconfig:"BACKOFF_INITIAL"`
	BackoffMax        time.Duration `toml:"backoff_max" envconfig:"BACKOFF_MAX"`
}

// TrackConfig tunes the live-tracking stream.
type TrackConfig struct {
	BufferCap       int     `toml:"buffer_cap" envconfig:"TRACK_BUFFER_CAP"`
	PanThresholdM   float64 `toml:"pan_threshold_m" envconfig:"TRACK_PAN_THRESHOLD_M"`
	HeaderPaddingPx int     `toml:"header_padding_px" envconfig:"TRACK_HEADER_PADDING_PX"`
}

// ChatConfig tunes the sync engine.
type ChatConfig struct {
	PageSize int `toml:"page_size" envconfig:"CHAT_PAGE_SIZE"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DefaultProfile: "main",
		APIBaseURL:     "https://api.cargomart.io",
		GatewayURL:     "wss://gw.cargomart.io/rt",
		Realtime: RealtimeConfig{
			HeartbeatInterval: 25 * time.Second,
			BackoffInitial:    time.Second,
			BackoffMax:        30 * time.Second,
		},
		Track: TrackConfig{
			BufferCap:       1000,
			PanThresholdM:   300,
			HeaderPaddingPx: 96,
		},
		Chat: ChatConfig{
			PageSize: 50,
		},
	}
}

// Load reads config from path (missing file is fine, defaults apply) and
// then applies CARGOMART_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	if err := envconfig.Process("cargomart", cfg); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Validate rejects configurations the client cannot run with.
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("api_base_url is required")
	}
	if c.GatewayURL == "" {
		return fmt.Errorf("gateway_url is required")
	}
	if c.Realtime.BackoffInitial <= 0 || c.Realtime.BackoffMax < c.Realtime.BackoffInitial {
		return fmt.Errorf("backoff bounds invalid: initial=%s max=%s",
			c.Realtime.BackoffInitial, c.Realtime.BackoffMax)
	}
	if c.Track.BufferCap <= 0 {
		return fmt.Errorf("track buffer_cap must be positive")
	}
	return nil
}
