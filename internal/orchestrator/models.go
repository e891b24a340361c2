package orchestrator

import "time"

// StreamID uniquely identifies a live stream.
type StreamID string

// DefaultTickIntervalMS is the tick rate used when a config leaves it unset.
const DefaultTickIntervalMS = 100

// Scene is a named phase of the broadcast with a fixed duration.
type Scene struct {
	Name       string `json:"name" yaml:"name"`
	DurationMS int64  `json:"durationMs" yaml:"duration_ms"`
}

// Config is the immutable input to an engine: the ordered scene list plus
// timing options. A zero TickIntervalMS selects DefaultTickIntervalMS.
type Config struct {
	Scenes         []Scene `json:"scenes" yaml:"scenes"`
	TickIntervalMS int64   `json:"tickIntervalMs" yaml:"tick_interval_ms"`
	LoopScenes     bool    `json:"loopScenes" yaml:"loop_scenes"`
}

// DefaultConfig returns an unconfigured config: no scenes, default tick, no looping.
func DefaultConfig() Config {
	return Config{TickIntervalMS: DefaultTickIntervalMS}
}

// TickInterval returns the tick period as a duration.
func (c Config) TickInterval() time.Duration {
	if c.TickIntervalMS <= 0 {
		return DefaultTickIntervalMS * time.Millisecond
	}
	return time.Duration(c.TickIntervalMS) * time.Millisecond
}

// TotalDurationMS returns the sum of all scene durations.
func (c Config) TotalDurationMS() int64 {
	var total int64
	for _, s := range c.Scenes {
		total += s.DurationMS
	}
	return total
}

// Validate checks scene names and durations. An empty scene list is valid:
// it describes an engine that exists but cannot be started yet.
func (c Config) Validate() error {
	if c.TickIntervalMS < 0 {
		return invalidConfig("tick interval %dms must be positive", c.TickIntervalMS)
	}
	seen := make(map[string]struct{}, len(c.Scenes))
	for i, s := range c.Scenes {
		if s.Name == "" {
			return invalidConfig("scene %d has empty name", i)
		}
		if s.DurationMS <= 0 {
			return invalidConfig("scene %q has non-positive duration %dms", s.Name, s.DurationMS)
		}
		if _, dup := seen[s.Name]; dup {
			return invalidConfig("duplicate scene name %q", s.Name)
		}
		seen[s.Name] = struct{}{}
	}
	return nil
}

func (c Config) clone() Config {
	out := c
	out.Scenes = append([]Scene(nil), c.Scenes...)
	if out.TickIntervalMS == 0 {
		out.TickIntervalMS = DefaultTickIntervalMS
	}
	return out
}

// ScheduledElement is a scene placed on the absolute timeline.
// EndTimeMS is exclusive; nil means the element is open ended.
type ScheduledElement struct {
	ID          string `json:"id"`
	SceneName   string `json:"sceneName"`
	StartTimeMS int64  `json:"startTime"`
	EndTimeMS   *int64 `json:"endTime,omitempty"`
	DurationMS  int64  `json:"duration"`
	IsActive    bool   `json:"isActive"`
}

// Contains reports whether t falls inside the element's window.
func (e ScheduledElement) Contains(t int64) bool {
	if t < e.StartTimeMS {
		return false
	}
	return e.EndTimeMS == nil || t < *e.EndTimeMS
}

func (e ScheduledElement) clone() ScheduledElement {
	if e.EndTimeMS != nil {
		end := *e.EndTimeMS
		e.EndTimeMS = &end
	}
	return e
}

// StreamStatus is encoder-side information merged in by UpdateStreamStatus.
// It never influences the scheduling clock.
type StreamStatus struct {
	IsStreaming  bool   `json:"isStreaming"`
	StreamTimeMS int64  `json:"streamTime"`
	Timecode     string `json:"timecode"`
}

// State is the externally observable snapshot of one engine. It is replaced
// wholesale on every change and never patched by readers.
type State struct {
	IsRunning          bool               `json:"isRunning"`
	IsPaused           bool               `json:"isPaused"`
	CurrentActiveScene *string            `json:"currentActiveScene"`
	CurrentSceneIndex  int                `json:"currentSceneIndex"`
	Progress           float64            `json:"progress"`
	CurrentTimeMS      int64              `json:"currentTime"`
	TimeRemainingMS    int64              `json:"timeRemaining"`
	ActiveElementIDs   []string           `json:"activeElements"`
	ScheduledElements  []ScheduledElement `json:"scheduledElements"`
	Scenes             []Scene            `json:"scenes"`
	TotalDurationMS    int64              `json:"totalDuration"`
	StreamStatus       StreamStatus       `json:"streamStatus"`
}

// Clone returns a deep copy so the caller can hold it without sharing
// backing arrays with the engine.
func (s State) Clone() State {
	out := s
	if s.CurrentActiveScene != nil {
		name := *s.CurrentActiveScene
		out.CurrentActiveScene = &name
	}
	out.ActiveElementIDs = append(make([]string, 0, len(s.ActiveElementIDs)), s.ActiveElementIDs...)
	out.Scenes = append(make([]Scene, 0, len(s.Scenes)), s.Scenes...)
	out.ScheduledElements = make([]ScheduledElement, len(s.ScheduledElements))
	for i, e := range s.ScheduledElements {
		out.ScheduledElements[i] = e.clone()
	}
	return out
}

// SceneName returns the active scene name or "" when none is on air.
func (s State) SceneName() string {
	if s.CurrentActiveScene == nil {
		return ""
	}
	return *s.CurrentActiveScene
}

// IsComplete reports whether a non-looping timeline ran to its end.
func (s State) IsComplete() bool {
	return !s.IsRunning && s.TotalDurationMS > 0 && s.CurrentTimeMS >= s.TotalDurationMS
}

// ProgressPercentage returns Progress scaled to 0..100.
func (s State) ProgressPercentage() float64 {
	return s.Progress * 100
}
