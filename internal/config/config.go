package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix = "INSIGHT_"

	// DefaultPath is the config file read by Load.
	DefaultPath = "config.yaml"
)

// Start request shapes accepted by the platform.
const (
	StartModeBody  = "body"
	StartModeQuery = "query"
)

// Status endpoint shapes accepted by the platform.
const (
	StatusModeGetPlRun = "get_pl_run"
	StatusModeRuns     = "runs"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Log       LogConfig       `koanf:"log"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	Polling   PollingConfig   `koanf:"polling"`
	Storage   StorageConfig   `koanf:"storage"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type ServerConfig struct {
	Port           int           `koanf:"port"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
	CORSOrigins    []string      `koanf:"cors_origins"`
}

type LogConfig struct {
	Level string `koanf:"level"` // debug, info, warn, error
}

// PipelineConfig holds the platform endpoint, caller identity and the
// pipeline identifiers. All identifiers are opaque strings.
type PipelineConfig struct {
	BaseURL           string        `koanf:"base_url"`
	APIKey            string        `koanf:"api_key"`
	UserID            string        `koanf:"user_id"`
	VideoPipelineID   string        `koanf:"video_pipeline_id"`
	ChannelPipelineID string        `koanf:"channel_pipeline_id"`
	StartMode         string        `koanf:"start_mode"`  // body, query
	StatusMode        string        `koanf:"status_mode"` // get_pl_run, runs
	RequestTimeout    time.Duration `koanf:"request_timeout"`
	RateLimit         float64       `koanf:"rate_limit"` // outbound requests per second, 0 = unlimited
	RateBurst         int           `koanf:"rate_burst"`
	// DenyPrivateNetworks rejects connections to loopback/private addresses.
	DenyPrivateNetworks bool `koanf:"deny_private_networks"`

	// Per-pipeline start shapes; empty falls back to StartMode.
	VideoStartMode   string `koanf:"video_start_mode"`
	ChannelStartMode string `koanf:"channel_start_mode"`
}

// PollingConfig is the completion poller's backoff and time budget.
type PollingConfig struct {
	InitialInterval time.Duration `koanf:"initial_interval"`
	GrowthFactor    float64       `koanf:"growth_factor"`
	IntervalCap     time.Duration `koanf:"interval_cap"`
	MaxWait         time.Duration `koanf:"max_wait"`
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // none, memory, sqlite, redis
	Memory MemoryConfig `koanf:"memory"`
	SQLite SQLiteConfig `koanf:"sqlite"`
	Redis  RedisConfig  `koanf:"redis"`
}

type MemoryConfig struct {
	MaxRuns int `koanf:"max_runs"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type RedisConfig struct {
	Addr     string        `koanf:"addr"`
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	TTL      time.Duration `koanf:"ttl"`
}

type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

var defaults = map[string]any{
	"server.port":              8000,
	"server.request_timeout":   "11m",
	"server.cors_origins":      []string{"http://localhost:3000", "http://127.0.0.1:3000"},
	"log.level":                "info",
	"pipeline.base_url":        "https://api.gumloop.com",
	"pipeline.start_mode":      StartModeBody,
	"pipeline.status_mode":     StatusModeGetPlRun,
	"pipeline.request_timeout": "30s",
	"pipeline.rate_burst":      1,
	"polling.initial_interval": "2s",
	"polling.growth_factor":    1.5,
	"polling.interval_cap":     "10s",
	"polling.max_wait":         "10m",
	"storage.type":             "memory",
	"storage.memory.max_runs":  1000,
	"storage.sqlite.path":      "./data/insight.db",
	"storage.redis.addr":       "localhost:6379",
	"storage.redis.ttl":        "24h",
	"telemetry.service_name":   "insight-gateway",
}

// Environment variable names used by earlier deployments.
var legacyEnv = map[string]string{
	"GUMLOOP_API_KEY": "pipeline.api_key",
	"USER_ID":         "pipeline.user_id",
	"FLOW_VIDEO_ID":   "pipeline.video_pipeline_id",
	"FLOW_CHANNEL_ID": "pipeline.channel_pipeline_id",
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads DefaultPath (if present) and INSIGHT_* environment variables.
func Load() (*Config, error) {
	return LoadFrom(DefaultPath)
}

// LoadFrom reads the given YAML file (if present), then environment
// variables, then fills defaults for anything still unset.
func LoadFrom(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			// File not found is OK, we'll use env vars
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to load %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	for name, key := range legacyEnv {
		if v := os.Getenv(name); v != "" && !k.Exists(key) {
			k.Set(key, v)
		}
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.Pipeline.APIKey = substituteEnvVars(cfg.Pipeline.APIKey)
	cfg.Storage.Redis.Password = substituteEnvVars(cfg.Storage.Redis.Password)
	cfg.Server.CORSOrigins = splitList(cfg.Server.CORSOrigins)
	cfg.Pipeline.BaseURL = strings.TrimSuffix(cfg.Pipeline.BaseURL, "/")

	return &cfg, nil
}

// Validate reports configuration that would make every request fail.
func (c *Config) Validate() error {
	var errs []error
	if c.Pipeline.APIKey == "" {
		errs = append(errs, errors.New("pipeline.api_key is required"))
	}
	if c.Pipeline.UserID == "" {
		errs = append(errs, errors.New("pipeline.user_id is required"))
	}
	if c.Pipeline.VideoPipelineID == "" {
		errs = append(errs, errors.New("pipeline.video_pipeline_id is required"))
	}
	if c.Pipeline.ChannelPipelineID == "" {
		errs = append(errs, errors.New("pipeline.channel_pipeline_id is required"))
	}
	startModes := []struct {
		key      string
		mode     string
		optional bool
	}{
		{"start_mode", c.Pipeline.StartMode, false},
		{"video_start_mode", c.Pipeline.VideoStartMode, true},
		{"channel_start_mode", c.Pipeline.ChannelStartMode, true},
	}
	for _, sm := range startModes {
		if sm.mode == "" && sm.optional {
			continue
		}
		if sm.mode != StartModeBody && sm.mode != StartModeQuery {
			errs = append(errs, fmt.Errorf("pipeline.%s %q is not one of body, query", sm.key, sm.mode))
		}
	}
	if p := c.Pipeline; p.VideoPipelineID != "" && p.VideoPipelineID == p.ChannelPipelineID &&
		p.videoStartMode() != p.channelStartMode() {
		errs = append(errs, errors.New("pipeline.video_start_mode and channel_start_mode differ but both kinds share one pipeline id"))
	}
	switch c.Pipeline.StatusMode {
	case StatusModeGetPlRun, StatusModeRuns:
	default:
		errs = append(errs, fmt.Errorf("pipeline.status_mode %q is not one of get_pl_run, runs", c.Pipeline.StatusMode))
	}
	if c.Polling.MaxWait <= 0 {
		errs = append(errs, errors.New("polling.max_wait must be positive"))
	}
	if c.Polling.GrowthFactor < 1 {
		errs = append(errs, errors.New("polling.growth_factor must be >= 1"))
	}
	switch c.Storage.Type {
	case "", "none", "memory", "sqlite", "redis":
	default:
		errs = append(errs, fmt.Errorf("storage.type %q is not supported", c.Storage.Type))
	}
	return errors.Join(errs...)
}

// StartModeFor returns the start shape used for pipelineID: the per-kind
// override when set, StartMode otherwise.
func (p PipelineConfig) StartModeFor(pipelineID string) string {
	switch pipelineID {
	case p.VideoPipelineID:
		return p.videoStartMode()
	case p.ChannelPipelineID:
		return p.channelStartMode()
	}
	return p.StartMode
}

func (p PipelineConfig) videoStartMode() string {
	if p.VideoStartMode != "" {
		return p.VideoStartMode
	}
	return p.StartMode
}

func (p PipelineConfig) channelStartMode() string {
	if p.ChannelStartMode != "" {
		return p.ChannelStartMode
	}
	return p.StartMode
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// splitList expands comma separated entries, which is how lists arrive
// from environment variables.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
