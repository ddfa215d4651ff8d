package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned for configuration values out of range.
var ErrInvalid = errors.New("invalid config")

// Config is the top-level configuration structure.
type Config struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	Memory   MemoryConfig   `json:"memory" yaml:"memory"`
	Council  CouncilConfig  `json:"council" yaml:"council"`
	Fraud    FraudConfig    `json:"fraud" yaml:"fraud"`
	Database DatabaseConfig `json:"database" yaml:"database"`
	Ingest   IngestConfig   `json:"ingest" yaml:"ingest"`
	Gateway  GatewayConfig  `json:"gateway" yaml:"gateway"`
}

type ServerConfig struct {
	Port      int     `json:"port" yaml:"port"`
	LogLevel  string  `json:"log_level" yaml:"log_level"`
	Dev       bool    `json:"dev" yaml:"dev"`
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit"` // requests per second, 0 disables
	Burst     int     `json:"burst" yaml:"burst"`
}

type MemoryConfig struct {
	MaxEntries            int     `json:"max_entries" yaml:"max_entries"`
	BaseDecayDays         float64 `json:"base_decay_days" yaml:"base_decay_days"`
	VolatilityThreshold   float64 `json:"volatility_threshold" yaml:"volatility_threshold"`
	StabilityThreshold    float64 `json:"stability_threshold" yaml:"stability_threshold"`
	MinEntriesForSnapshot int     `json:"min_entries_for_snapshot" yaml:"min_entries_for_snapshot"`
	MaxSnapshots          int     `json:"max_snapshots" yaml:"max_snapshots"`
}

type CouncilConfig struct {
	PoolSize      int      `json:"pool_size" yaml:"pool_size"`
	AgentTimeout  Duration `json:"agent_timeout" yaml:"agent_timeout"`
	VirtueGate    float64  `json:"virtue_gate" yaml:"virtue_gate"`
	CycleInterval Duration `json:"cycle_interval" yaml:"cycle_interval"`
}

type FraudConfig struct {
	BlockThreshold float64 `json:"block_threshold" yaml:"block_threshold"`
	HistoryWindow  int     `json:"history_window" yaml:"history_window"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres" yaml:"postgres"`
	Redis    RedisConfig    `json:"redis" yaml:"redis"`
}

type PostgresConfig struct {
	DSN string `json:"dsn" yaml:"dsn"`
}

type RedisConfig struct {
	URL string `json:"url" yaml:"url"`
}

type IngestConfig struct {
	Enabled        bool     `json:"enabled" yaml:"enabled"`
	Streams        []string `json:"streams" yaml:"streams"`
	Workers        int      `json:"workers" yaml:"workers"`
	QueueSize      int      `json:"queue_size" yaml:"queue_size"`
	DecisionStream string   `json:"decision_stream" yaml:"decision_stream"`
}

type GatewayConfig struct {
	Slack   SlackGatewayConfig   `json:"slack" yaml:"slack"`
	Discord DiscordGatewayConfig `json:"discord" yaml:"discord"`
}

type SlackGatewayConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	BotToken  string `json:"bot_token" yaml:"bot_token"`
	ChannelID string `json:"channel_id" yaml:"channel_id"`
}

type DiscordGatewayConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	BotToken  string `json:"bot_token" yaml:"bot_token"`
	ChannelID string `json:"channel_id" yaml:"channel_id"`
}

// Duration is a time.Duration written as a Go duration string ("5s").
type Duration struct {
	time.Duration
}

func (d *Duration) parse(s string) error {
	v, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.parse(node.Value)
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 3210, LogLevel: "info", RateLimit: 50, Burst: 100},
		Memory: MemoryConfig{
			MaxEntries:            10000,
			BaseDecayDays:         30,
			VolatilityThreshold:   0.6,
			StabilityThreshold:    0.2,
			MinEntriesForSnapshot: 5,
			MaxSnapshots:          10,
		},
		Council: CouncilConfig{
			PoolSize:      8,
			AgentTimeout:  Duration{5 * time.Second},
			VirtueGate:    0.5,
			CycleInterval: Duration{time.Minute},
		},
		Fraud: FraudConfig{BlockThreshold: 0.85, HistoryWindow: 100},
		Ingest: IngestConfig{
			Streams:        []string{"aegis:transactions", "aegis:telemetry"},
			Workers:        4,
			QueueSize:      64,
			DecisionStream: "aegis:decisions",
		},
	}
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

func expandEnv(data string) string {
	return envVarRe.ReplaceAllStringFunc(data, func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		if v := os.Getenv(parts[1]); v != "" {
			return v
		}
		return parts[2]
	})
}

// Load reads a JSON or YAML config file over the defaults, substitutes
// environment variable references and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	resolved := []byte(expandEnv(string(data)))

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(resolved, cfg)
	default:
		err = json.Unmarshal(resolved, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks thresholds lie in [0, 1] and counts are positive. All
// problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	unit := func(name string, v float64) {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%w: %s must be within [0, 1], got %v", ErrInvalid, name, v))
		}
	}
	positive := func(name string, v int) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%w: %s must be positive, got %d", ErrInvalid, name, v))
		}
	}

	positive("server.port", c.Server.Port)
	if c.Server.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("%w: server.rate_limit must not be negative", ErrInvalid))
	}

	positive("memory.max_entries", c.Memory.MaxEntries)
	if c.Memory.BaseDecayDays <= 0 {
		errs = append(errs, fmt.Errorf("%w: memory.base_decay_days must be positive, got %v", ErrInvalid, c.Memory.BaseDecayDays))
	}
	unit("memory.volatility_threshold", c.Memory.VolatilityThreshold)
	unit("memory.stability_threshold", c.Memory.StabilityThreshold)
	if c.Memory.StabilityThreshold > c.Memory.VolatilityThreshold {
		errs = append(errs, fmt.Errorf("%w: memory.stability_threshold must not exceed volatility_threshold", ErrInvalid))
	}
	positive("memory.min_entries_for_snapshot", c.Memory.MinEntriesForSnapshot)
	positive("memory.max_snapshots", c.Memory.MaxSnapshots)

	positive("council.pool_size", c.Council.PoolSize)
	if c.Council.AgentTimeout.Duration <= 0 {
		errs = append(errs, fmt.Errorf("%w: council.agent_timeout must be positive", ErrInvalid))
	}
	if c.Council.CycleInterval.Duration <= 0 {
		errs = append(errs, fmt.Errorf("%w: council.cycle_interval must be positive", ErrInvalid))
	}
	unit("council.virtue_gate", c.Council.VirtueGate)

	unit("fraud.block_threshold", c.Fraud.BlockThreshold)
	positive("fraud.history_window", c.Fraud.HistoryWindow)

	if c.Ingest.Enabled {
		positive("ingest.workers", c.Ingest.Workers)
		positive("ingest.queue_size", c.Ingest.QueueSize)
		if len(c.Ingest.Streams) == 0 {
			errs = append(errs, fmt.Errorf("%w: ingest.streams must not be empty", ErrInvalid))
		}
	}
	return errors.Join(errs...)
}
