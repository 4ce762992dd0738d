package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultAddr            = ":8092"
	DefaultTickHz          = 30
	DefaultFlushIntervalMS = 100
	DefaultMaxConcurrent   = 12
	DefaultCostPerToken    = 0.000002
	DefaultSeed            = "auto"
	DefaultPlan            = "Rush"
	DefaultMonitorAPI      = "http://127.0.0.1:8092"
	DefaultMonitorRefresh  = 500

	envPrefix = "CONTROL_ROOM_"
)

type Config struct {
	Simulator SimulatorConfig `toml:"simulator"`
	Monitor   MonitorConfig   `toml:"monitor"`
	Raw       map[string]any  `toml:"-"`
	Path      string          `toml:"-"`
}

type SimulatorConfig struct {
	Addr                 string  `toml:"addr" json:"addr"`
	JournalPath          string  `toml:"journal_path" json:"journal_path"`
	PlansPath            string  `toml:"plans_path" json:"plans_path"`
	EngineTickHz         int     `toml:"engine_tick_hz" json:"engine_tick_hz"`
	StoreFlushIntervalMS int     `toml:"store_flush_interval_ms" json:"store_flush_interval_ms"`
	MaxConcurrent        int     `toml:"max_concurrent" json:"max_concurrent"`
	CostPerTokenUSD      float64 `toml:"cost_per_token_usd" json:"cost_per_token_usd"`
	DefaultSeed          string  `toml:"default_seed" json:"default_seed"`
	DefaultPlan          string  `toml:"default_plan" json:"default_plan"`
	RunningDefault       *bool   `toml:"running_default" json:"running_default"`
	DebugLogs            bool    `toml:"debug_logs" json:"debug_logs"`
}

type MonitorConfig struct {
	APIBase   string `toml:"api_base" json:"api_base"`
	RefreshMS int    `toml:"refresh_ms" json:"refresh_ms"`
}

// Default is the configuration used when no file and no environment
// overrides are present.
func Default() Config {
	return Config{}.WithDefaults()
}

// WithDefaults fills every unset or out-of-range value.
func (c Config) WithDefaults() Config {
	s := &c.Simulator
	if strings.TrimSpace(s.Addr) == "" {
		s.Addr = DefaultAddr
	}
	if s.EngineTickHz <= 0 {
		s.EngineTickHz = DefaultTickHz
	}
	if s.StoreFlushIntervalMS <= 0 {
		s.StoreFlushIntervalMS = DefaultFlushIntervalMS
	}
	if s.MaxConcurrent <= 0 {
		s.MaxConcurrent = DefaultMaxConcurrent
	}
	if s.CostPerTokenUSD <= 0 || math.IsNaN(s.CostPerTokenUSD) || math.IsInf(s.CostPerTokenUSD, 0) {
		s.CostPerTokenUSD = DefaultCostPerToken
	}
	if strings.TrimSpace(s.DefaultSeed) == "" {
		s.DefaultSeed = DefaultSeed
	}
	if strings.TrimSpace(s.DefaultPlan) == "" {
		s.DefaultPlan = DefaultPlan
	}
	if s.RunningDefault == nil {
		running := true
		s.RunningDefault = &running
	}
	if strings.TrimSpace(c.Monitor.APIBase) == "" {
		c.Monitor.APIBase = DefaultMonitorAPI
	}
	if c.Monitor.RefreshMS <= 0 {
		c.Monitor.RefreshMS = DefaultMonitorRefresh
	}
	return c
}

// ApplyEnv overlays CONTROL_ROOM_* variables. Numbers that do not parse or
// are not positive keep the current value.
func (c Config) ApplyEnv(lookup func(string) (string, bool)) Config {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(key string) (string, bool) {
		v, ok := lookup(envPrefix + key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	s := &c.Simulator
	if v, ok := get("ADDR"); ok {
		s.Addr = v
	}
	if v, ok := get("JOURNAL_PATH"); ok {
		s.JournalPath = v
	}
	if v, ok := get("PLANS_PATH"); ok {
		s.PlansPath = v
	}
	if v, ok := get("ENGINE_TICK_HZ"); ok {
		s.EngineTickHz = positiveInt(v, s.EngineTickHz)
	}
	if v, ok := get("STORE_FLUSH_INTERVAL_MS"); ok {
		s.StoreFlushIntervalMS = positiveInt(v, s.StoreFlushIntervalMS)
	}
	if v, ok := get("MAX_CONCURRENT"); ok {
		s.MaxConcurrent = positiveInt(v, s.MaxConcurrent)
	}
	if v, ok := get("COST_PER_TOKEN_USD"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 && !math.IsInf(f, 0) {
			s.CostPerTokenUSD = f
		}
	}
	if v, ok := get("DEFAULT_SEED"); ok {
		s.DefaultSeed = v
	}
	if v, ok := get("DEFAULT_PLAN"); ok {
		s.DefaultPlan = v
	}
	if v, ok := get("RUNNING_DEFAULT"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			s.RunningDefault = &b
		}
	}
	if v, ok := get("DEBUG_LOGS"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			s.DebugLogs = b
		}
	}
	if v, ok := get("MONITOR_API"); ok {
		c.Monitor.APIBase = v
	}
	return c
}

func (s SimulatorConfig) TickInterval() time.Duration {
	hz := s.EngineTickHz
	if hz <= 0 {
		hz = DefaultTickHz
	}
	return time.Second / time.Duration(hz)
}

func (s SimulatorConfig) FlushInterval() time.Duration {
	ms := s.StoreFlushIntervalMS
	if ms <= 0 {
		ms = DefaultFlushIntervalMS
	}
	return time.Duration(ms) * time.Millisecond
}

func (s SimulatorConfig) Running() bool {
	return s.RunningDefault == nil || *s.RunningDefault
}

// Load reads a TOML config file. With an empty path the default location is
// tried and a missing file there yields the defaults.
func Load(path string) (Config, error) {
	resolved := path
	if resolved == "" {
		resolved = defaultConfigPath()
	}
	if strings.HasPrefix(resolved, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("resolve home directory: %w", err)
		}
		trimmed := strings.TrimPrefix(resolved, "~")
		trimmed = strings.TrimPrefix(trimmed, "\\")
		trimmed = strings.TrimPrefix(trimmed, "/")
		resolved = filepath.Join(home, trimmed)
	}
	resolved = filepath.Clean(resolved)

	bytes, err := os.ReadFile(resolved)
	if err != nil {
		if path == "" && errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("read config file %s: %w", resolved, err)
	}

	var cfg Config
	if _, err := toml.Decode(string(bytes), &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config file: %w", err)
	}
	var raw map[string]any
	if _, err := toml.Decode(string(bytes), &raw); err != nil {
		return Config{}, fmt.Errorf("decode raw config: %w", err)
	}
	cfg = cfg.WithDefaults()
	cfg.Raw = raw
	cfg.Path = resolved
	return cfg, nil
}

func positiveInt(raw string, fallback int) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".control_room/config.toml"
	}
	return filepath.Join(home, ".control_room", "config.toml")
}
