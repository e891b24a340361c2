package orchestrator

import (
	"encoding/json"
	"fmt"
)

// Wire action names accepted in CommandRequest.Action.
const (
	ActionStart              = "start"
	ActionStop               = "stop"
	ActionPause              = "pause"
	ActionResume             = "resume"
	ActionReset              = "reset"
	ActionForceScene         = "force_scene"
	ActionSkipScene          = "skip_scene"
	ActionUpdateStreamStatus = "update_stream_status"
	ActionReconfigure        = "reconfigure"
)

// CommandRequest is the JSON body shared by the HTTP and MQTT transports.
type CommandRequest struct {
	Action      string         `json:"action"`
	SceneName   string         `json:"scene_name,omitempty"`
	IsStreaming bool           `json:"is_streaming,omitempty"`
	StreamTime  int64          `json:"stream_time,omitempty"`
	Timecode    string         `json:"timecode,omitempty"`
	Config      *ConfigRequest `json:"config,omitempty"`
}

// ConfigRequest is the wire form of Config. A nil TickIntervalMS keeps the
// default.
type ConfigRequest struct {
	Scenes         []SceneRequest `json:"scenes"`
	TickIntervalMS *int64         `json:"tick_interval_ms,omitempty"`
	LoopScenes     bool           `json:"loop_scenes"`
}

// SceneRequest is one scene on the wire.
type SceneRequest struct {
	Name       string `json:"name"`
	DurationMS int64  `json:"duration_ms"`
}

// ToConfig converts the request into a Config without validating it.
func (r ConfigRequest) ToConfig() Config {
	cfg := DefaultConfig()
	cfg.LoopScenes = r.LoopScenes
	if r.TickIntervalMS != nil {
		cfg.TickIntervalMS = *r.TickIntervalMS
	}
	cfg.Scenes = make([]Scene, 0, len(r.Scenes))
	for _, s := range r.Scenes {
		cfg.Scenes = append(cfg.Scenes, Scene{Name: s.Name, DurationMS: s.DurationMS})
	}
	return cfg
}

// ToCommand maps the request onto a Command variant.
func (r CommandRequest) ToCommand() (Command, error) {
	switch r.Action {
	case ActionStart:
		return Start{}, nil
	case ActionStop:
		return Stop{}, nil
	case ActionPause:
		return Pause{}, nil
	case ActionResume:
		return Resume{}, nil
	case ActionReset:
		return Reset{}, nil
	case ActionForceScene:
		if r.SceneName == "" {
			return nil, fmt.Errorf("%w: force_scene requires scene_name", ErrInvalidCommand)
		}
		return ForceScene{Name: r.SceneName}, nil
	case ActionSkipScene:
		return SkipCurrentScene{}, nil
	case ActionUpdateStreamStatus:
		if r.Timecode != "" {
			if _, err := ParseTimecode(r.Timecode); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
			}
		}
		return UpdateStreamStatus{
			IsStreaming:  r.IsStreaming,
			StreamTimeMS: r.StreamTime,
			Timecode:     r.Timecode,
		}, nil
	case ActionReconfigure:
		if r.Config == nil {
			return nil, invalidConfig("reconfigure without config")
		}
		return Reconfigure{Config: r.Config.ToConfig()}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, r.Action)
	}
}

// DecodeCommand parses a JSON CommandRequest and converts it.
func DecodeCommand(data []byte) (Command, error) {
	var req CommandRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode command: %w", err)
	}
	return req.ToCommand()
}

// StateUpdate is the compact snapshot pushed to external observers.
type StateUpdate struct {
	StreamID           StreamID `json:"stream_id"`
	CurrentScene       *string  `json:"current_scene"`
	CurrentTimeMS      int64    `json:"current_time_ms"`
	TimeRemainingMS    int64    `json:"time_remaining_ms"`
	ProgressPercentage float64  `json:"progress_percentage"`
	IsRunning          bool     `json:"is_running"`
	IsPaused           bool     `json:"is_paused"`
	IsComplete         bool     `json:"is_complete"`
	StreamTimecode     string   `json:"stream_timecode"`
	StreamIsStreaming  bool     `json:"stream_is_streaming"`
}

// NewStateUpdate flattens s for id.
func NewStateUpdate(id StreamID, s State) StateUpdate {
	var scene *string
	if s.CurrentActiveScene != nil {
		name := *s.CurrentActiveScene
		scene = &name
	}
	return StateUpdate{
		StreamID:           id,
		CurrentScene:       scene,
		CurrentTimeMS:      s.CurrentTimeMS,
		TimeRemainingMS:    s.TimeRemainingMS,
		ProgressPercentage: s.ProgressPercentage(),
		IsRunning:          s.IsRunning,
		IsPaused:           s.IsPaused,
		IsComplete:         s.IsComplete(),
		StreamTimecode:     s.StreamStatus.Timecode,
		StreamIsStreaming:  s.StreamStatus.IsStreaming,
	}
}
