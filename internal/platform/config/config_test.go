package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("CFG_TEST_STR", "hello")
	if got := GetEnv("CFG_TEST_STR", "x"); got != "hello" {
		t.Errorf("expected hello, got %s", got)
	}
	if got := GetEnv("CFG_TEST_UNSET", "x"); got != "x" {
		t.Errorf("expected fallback, got %s", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("CFG_TEST_INT", "42")
	t.Setenv("CFG_TEST_BAD_INT", "forty")
	if got := GetEnvInt("CFG_TEST_INT", 1); got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
	if got := GetEnvInt("CFG_TEST_BAD_INT", 1); got != 1 {
		t.Errorf("expected fallback 1, got %d", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	cases := map[string]bool{"true": true, "1": true, "yes": true, "ON": true, "false": false, "0": false, "off": false}
	for in, want := range cases {
		t.Setenv("CFG_TEST_BOOL", in)
		if got := GetEnvBool("CFG_TEST_BOOL", !want); got != want {
			t.Errorf("%q: expected %v, got %v", in, want, got)
		}
	}
	t.Setenv("CFG_TEST_BOOL", "maybe")
	if got := GetEnvBool("CFG_TEST_BOOL", true); !got {
		t.Error("invalid bool should fall back")
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("CFG_TEST_DUR", "1m30s")
	if got := GetEnvDuration("CFG_TEST_DUR", time.Second); got != 90*time.Second {
		t.Errorf("expected 90s, got %v", got)
	}
	t.Setenv("CFG_TEST_DUR", "45")
	if got := GetEnvDuration("CFG_TEST_DUR", time.Second); got != 45*time.Second {
		t.Errorf("expected bare seconds, got %v", got)
	}
	t.Setenv("CFG_TEST_DUR", "soon")
	if got := GetEnvDuration("CFG_TEST_DUR", time.Second); got != time.Second {
		t.Errorf("expected fallback, got %v", got)
	}
}

func TestLoadOrchestrator_defaults(t *testing.T) {
	for _, k := range []string{"PORT", "TICK_INTERVAL_MS", "IDLE_GRACE", "MQTT_ENABLED", "MQTT_TOPIC_PREFIX", "COMMAND_BUFFER"} {
		t.Setenv(k, "")
	}
	cfg := LoadOrchestrator()
	if cfg.Port != "8080" || cfg.TickIntervalMS != 100 || cfg.IdleGrace != 60*time.Second || cfg.CommandBuffer != 64 {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.StaleAfter != 90*time.Second || cfg.SweepInterval != 30*time.Second || cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("unexpected supervisor defaults %+v", cfg)
	}
	if cfg.MQTT.Enabled || cfg.MQTT.TopicPrefix != "orchestrator" || cfg.MQTT.Port != 1883 {
		t.Errorf("unexpected mqtt defaults %+v", cfg.MQTT)
	}
}

func TestLoadOrchestrator_overrides(t *testing.T) {
	t.Setenv("LOOP_SCENES", "true")
	t.Setenv("STALE_AFTER", "2m")
	t.Setenv("MQTT_ENABLED", "1")
	t.Setenv("MQTT_QOS", "2")
	cfg := LoadOrchestrator()
	if !cfg.LoopScenes || cfg.StaleAfter != 2*time.Minute || !cfg.MQTT.Enabled || cfg.MQTT.QoS != 2 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
}

func TestLoad_env_file(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("CFG_TEST_FROM_FILE=loaded\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CFG_TEST_FROM_FILE", "")
	os.Unsetenv("CFG_TEST_FROM_FILE")
	if err := Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := GetEnv("CFG_TEST_FROM_FILE", ""); got != "loaded" {
		t.Errorf("expected value from file, got %q", got)
	}
	if err := Load(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Error("expected error for missing file")
	}
}
