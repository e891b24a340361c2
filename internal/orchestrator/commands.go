package orchestrator

// Command is one of the engine's closed set of operations. The variants are
// the types in this file; the engine switches over them in a single place.
type Command interface {
	commandName() string
}

// Start begins (or continues) the timeline.
type Start struct{}

// Stop halts the timeline, keeping the current position.
type Stop struct{}

// Pause freezes the logical clock.
type Pause struct{}

// Resume unfreezes the logical clock from where Pause left it.
type Resume struct{}

// Reset stops the timeline and rewinds it to zero.
type Reset struct{}

// ForceScene jumps to the start of the named scene.
type ForceScene struct {
	Name string
}

// SkipCurrentScene jumps to the start of the scene after the current one.
type SkipCurrentScene struct{}

// UpdateStreamStatus records encoder status. An empty Timecode is derived
// from StreamTimeMS.
type UpdateStreamStatus struct {
	IsStreaming  bool
	StreamTimeMS int64
	Timecode     string
}

// Reconfigure replaces the scene list and timing options.
type Reconfigure struct {
	Config Config
}

func (Start) commandName() string              { return "start" }
func (Stop) commandName() string               { return "stop" }
func (Pause) commandName() string              { return "pause" }
func (Resume) commandName() string             { return "resume" }
func (Reset) commandName() string              { return "reset" }
func (ForceScene) commandName() string         { return "force_scene" }
func (SkipCurrentScene) commandName() string   { return "skip_scene" }
func (UpdateStreamStatus) commandName() string { return "update_stream_status" }
func (Reconfigure) commandName() string        { return "reconfigure" }

// CommandName returns the wire action name of cmd, used in logs and metrics.
func CommandName(cmd Command) string {
	if cmd == nil {
		return "unknown"
	}
	return cmd.commandName()
}
