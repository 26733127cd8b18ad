package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultConfigPath = "config.toml"
	DefaultHTTPAddr   = ":8080"
	DefaultService    = "gatehouse"

	DefaultReplayWindowMs    = 5 * 60 * 1000
	DefaultSweepIntervalMs   = 60 * 1000
	DefaultFlushDelayMs      = 1000
	DefaultSnapshotPath      = "data/replay.json"
	DefaultUserLimit         = 20
	DefaultUserWindowMs      = 60 * 1000
	DefaultChannelLimit      = 120
	DefaultChannelWindowMs   = 60 * 1000
	DefaultMaxTrackedKeys    = 10000
	DefaultAuditPath         = "data/audit/audit.log"
	DefaultAuditMaxBytes     = 50 * 1024 * 1024
	DefaultAuditRetention    = 5
	DefaultRuntimeTimeoutMs  = 15 * 1000
	DefaultRuntimeRetryMax   = 2
	DefaultRuntimeBackoffMs  = 150
	DefaultRuntimeBaseURL    = "http://127.0.0.1:8081"
)

type Config struct {
	Log       LogConfig         `toml:"log"`
	Server    ServerConfig      `toml:"server"`
	Auth      AuthConfig        `toml:"auth"`
	Channels  map[string]string `toml:"channels"`
	Replay    ReplayConfig      `toml:"replay"`
	RateLimit RateLimitConfig   `toml:"ratelimit"`
	Audit     AuditConfig       `toml:"audit"`
	Runtime   RuntimeConfig     `toml:"runtime"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr    string `toml:"addr"`
	Service string `toml:"service"`
}

type AuthConfig struct {
	// JWTSecret protects the /ops surface. Empty disables it.
	JWTSecret string `toml:"jwt_secret"`
}

type ReplayConfig struct {
	WindowMs        int    `toml:"window_ms"`
	SweepIntervalMs int    `toml:"sweep_interval_ms"`
	FlushDelayMs    int    `toml:"flush_delay_ms"`
	SnapshotPath    string `toml:"snapshot_path"`
}

func (c ReplayConfig) Window() time.Duration        { return time.Duration(c.WindowMs) * time.Millisecond }
func (c ReplayConfig) SweepInterval() time.Duration { return time.Duration(c.SweepIntervalMs) * time.Millisecond }
func (c ReplayConfig) FlushDelay() time.Duration    { return time.Duration(c.FlushDelayMs) * time.Millisecond }

type RateLimitConfig struct {
	UserLimit       int `toml:"user_limit"`
	UserWindowMs    int `toml:"user_window_ms"`
	ChannelLimit    int `toml:"channel_limit"`
	ChannelWindowMs int `toml:"channel_window_ms"`
	MaxTrackedKeys  int `toml:"max_tracked_keys"`
}

func (c RateLimitConfig) UserWindow() time.Duration    { return time.Duration(c.UserWindowMs) * time.Millisecond }
func (c RateLimitConfig) ChannelWindow() time.Duration { return time.Duration(c.ChannelWindowMs) * time.Millisecond }

type AuditConfig struct {
	Path      string `toml:"path"`
	MaxBytes  int64  `toml:"max_bytes"`
	Retention int    `toml:"retention"`
}

type RuntimeConfig struct {
	BaseURL   string `toml:"base_url"`
	TimeoutMs int    `toml:"timeout_ms"`
	RetryMax  int    `toml:"retry_max"`
	BackoffMs int    `toml:"backoff_ms"`
}

func (c RuntimeConfig) Timeout() time.Duration { return time.Duration(c.TimeoutMs) * time.Millisecond }
func (c RuntimeConfig) Backoff() time.Duration { return time.Duration(c.BackoffMs) * time.Millisecond }

// Load reads path (DefaultConfigPath when empty) over built-in defaults. A
// missing file yields the defaults; per-channel secrets usually arrive via
// the [channels] table rendered by the deployment environment.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr:    DefaultHTTPAddr,
			Service: DefaultService,
		},
		Channels: map[string]string{},
		Replay: ReplayConfig{
			WindowMs:        DefaultReplayWindowMs,
			SweepIntervalMs: DefaultSweepIntervalMs,
			FlushDelayMs:    DefaultFlushDelayMs,
			SnapshotPath:    DefaultSnapshotPath,
		},
		RateLimit: RateLimitConfig{
			UserLimit:       DefaultUserLimit,
			UserWindowMs:    DefaultUserWindowMs,
			ChannelLimit:    DefaultChannelLimit,
			ChannelWindowMs: DefaultChannelWindowMs,
			MaxTrackedKeys:  DefaultMaxTrackedKeys,
		},
		Audit: AuditConfig{
			Path:      DefaultAuditPath,
			MaxBytes:  DefaultAuditMaxBytes,
			Retention: DefaultAuditRetention,
		},
		Runtime: RuntimeConfig{
			BaseURL:   DefaultRuntimeBaseURL,
			TimeoutMs: DefaultRuntimeTimeoutMs,
			RetryMax:  DefaultRuntimeRetryMax,
			BackoffMs: DefaultRuntimeBackoffMs,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}
