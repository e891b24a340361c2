package orchestrator

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Presets holds the scene configs handed to newly created streams: a
// per-stream entry when one exists, otherwise Default.
type Presets struct {
	Default Config            `yaml:"default"`
	Streams map[string]Config `yaml:"streams"`
}

// DefaultPresets gives every stream DefaultConfig.
func DefaultPresets() *Presets {
	return &Presets{Default: DefaultConfig()}
}

// LoadPresets reads and validates a YAML presets file.
func LoadPresets(path string) (*Presets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read presets %s: %w", path, err)
	}
	p, err := ParsePresets(data)
	if err != nil {
		return nil, fmt.Errorf("load presets %s: %w", path, err)
	}
	return p, nil
}

// ParsePresets decodes YAML presets. Unknown keys are rejected so typos in
// scene fields surface at startup.
func ParsePresets(data []byte) (*Presets, error) {
	p := DefaultPresets()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(p); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse presets: %w", err)
	}
	if err := p.Default.Validate(); err != nil {
		return nil, fmt.Errorf("default preset: %w", err)
	}
	for id, cfg := range p.Streams {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("preset %q: %w", id, err)
		}
	}
	return p, nil
}

// ConfigFor returns the preset for id, falling back to Default.
func (p *Presets) ConfigFor(id StreamID) Config {
	if p == nil {
		return DefaultConfig()
	}
	if cfg, ok := p.Streams[string(id)]; ok {
		return cfg.clone()
	}
	return p.Default.clone()
}
