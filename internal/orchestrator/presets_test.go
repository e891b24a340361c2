package orchestrator

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const presetsYAML = `
default:
  tick_interval_ms: 200
  scenes:
    - name: Intro
      duration_ms: 2000
    - name: Main
      duration_ms: 5000
streams:
  weekly-show:
    loop_scenes: true
    scenes:
      - name: Countdown
        duration_ms: 10000
`

func TestParsePresets(t *testing.T) {
	p, err := ParsePresets([]byte(presetsYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	def := p.ConfigFor("anything")
	if len(def.Scenes) != 2 || def.TickIntervalMS != 200 || def.LoopScenes {
		t.Errorf("unexpected default %+v", def)
	}

	weekly := p.ConfigFor("weekly-show")
	if len(weekly.Scenes) != 1 || weekly.Scenes[0].Name != "Countdown" || !weekly.LoopScenes {
		t.Errorf("unexpected weekly preset %+v", weekly)
	}
	if weekly.TickIntervalMS != DefaultTickIntervalMS {
		t.Errorf("expected default tick for weekly, got %d", weekly.TickIntervalMS)
	}
}

func TestParsePresets_ConfigFor_copies(t *testing.T) {
	p, _ := ParsePresets([]byte(presetsYAML))
	a := p.ConfigFor("x")
	a.Scenes[0].Name = "mutated"
	if p.ConfigFor("x").Scenes[0].Name != "Intro" {
		t.Error("ConfigFor leaked preset memory")
	}
}

func TestParsePresets_empty(t *testing.T) {
	p, err := ParsePresets(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg := p.ConfigFor("s1"); len(cfg.Scenes) != 0 || cfg.TickIntervalMS != DefaultTickIntervalMS {
		t.Errorf("expected default config, got %+v", cfg)
	}
}

func TestParsePresets_invalid(t *testing.T) {
	bad := `
streams:
  s1:
    scenes:
      - name: A
        duration_ms: 0
`
	if _, err := ParsePresets([]byte(bad)); !errors.Is(err, ErrInvalidSceneConfig) {
		t.Errorf("expected ErrInvalidSceneConfig, got %v", err)
	}
	if _, err := ParsePresets([]byte("default:\n  scenez: []\n")); err == nil {
		t.Error("expected unknown field to be rejected")
	}
}

func TestLoadPresets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenes.yaml")
	if err := os.WriteFile(path, []byte(presetsYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	p, err := LoadPresets(path)
	if err != nil {
		t.Fatalf("LoadPresets: %v", err)
	}
	if len(p.Streams) != 1 {
		t.Errorf("expected one stream preset, got %d", len(p.Streams))
	}

	if _, err := LoadPresets(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestPresets_nil(t *testing.T) {
	var p *Presets
	if cfg := p.ConfigFor("s"); cfg.TickIntervalMS != DefaultTickIntervalMS {
		t.Errorf("nil presets should yield DefaultConfig, got %+v", cfg)
	}
}
