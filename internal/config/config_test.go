package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	s := cfg.Simulator
	if s.Addr != ":8092" || s.EngineTickHz != 30 || s.StoreFlushIntervalMS != 100 || s.MaxConcurrent != 12 {
		t.Fatalf("unexpected defaults %+v", s)
	}
	if s.CostPerTokenUSD != 0.000002 || s.DefaultSeed != "auto" || s.DefaultPlan != "Rush" || !s.Running() || s.DebugLogs {
		t.Fatalf("unexpected defaults %+v", s)
	}
	if s.TickInterval() != time.Second/30 || s.FlushInterval() != 100*time.Millisecond {
		t.Fatalf("unexpected intervals tick=%s flush=%s", s.TickInterval(), s.FlushInterval())
	}
}

func TestLoadFileAndFillDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
[simulator]
addr = ":9000"
max_concurrent = 4
running_default = false
default_plan = "Calm"

[monitor]
refresh_ms = 250
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	s := cfg.Simulator
	if s.Addr != ":9000" || s.MaxConcurrent != 4 || s.Running() || s.DefaultPlan != "Calm" {
		t.Fatalf("file values not applied: %+v", s)
	}
	if s.EngineTickHz != 30 || cfg.Monitor.RefreshMS != 250 || cfg.Monitor.APIBase != DefaultMonitorAPI {
		t.Fatalf("defaults not filled: %+v %+v", s, cfg.Monitor)
	}
	if cfg.Path != path || cfg.Raw["simulator"] == nil {
		t.Fatalf("expected path and raw table, got %q %v", cfg.Path, cfg.Raw)
	}
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected an error for a missing explicit path")
	}
}

func TestApplyEnvOverridesAndIgnoresGarbage(t *testing.T) {
	env := map[string]string{
		"CONTROL_ROOM_ENGINE_TICK_HZ":          "60",
		"CONTROL_ROOM_STORE_FLUSH_INTERVAL_MS": "-5",
		"CONTROL_ROOM_MAX_CONCURRENT":          "many",
		"CONTROL_ROOM_COST_PER_TOKEN_USD":      "0.00001",
		"CONTROL_ROOM_DEFAULT_SEED":            "fixed",
		"CONTROL_ROOM_RUNNING_DEFAULT":         "false",
		"CONTROL_ROOM_DEBUG_LOGS":              "true",
		"CONTROL_ROOM_JOURNAL_PATH":            "data/journal.db",
		"CONTROL_ROOM_DEFAULT_PLAN":            "  ",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	s := Default().ApplyEnv(lookup).Simulator
	if s.EngineTickHz != 60 || s.StoreFlushIntervalMS != 100 || s.MaxConcurrent != 12 {
		t.Fatalf("numeric overrides wrong: %+v", s)
	}
	if s.CostPerTokenUSD != 0.00001 || s.DefaultSeed != "fixed" || s.Running() || !s.DebugLogs {
		t.Fatalf("overrides not applied: %+v", s)
	}
	if s.JournalPath != "data/journal.db" || s.DefaultPlan != "Rush" {
		t.Fatalf("unexpected paths/plan: %+v", s)
	}
}
