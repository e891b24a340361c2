package orchestrator

import (
	"errors"
	"fmt"
)

// Command failures. Check with errors.Is; none of them stop an engine.
var (
	// ErrNotConfigured is returned by Start when the engine has no scenes.
	ErrNotConfigured = errors.New("orchestrator: not configured")

	// ErrAlreadyRunning is returned by Start on a running engine.
	ErrAlreadyRunning = errors.New("orchestrator: already running")

	// ErrNotRunning is returned by commands that need a running timeline.
	ErrNotRunning = errors.New("orchestrator: not running")

	// ErrSceneNotFound is matched by *SceneNotFoundError.
	ErrSceneNotFound = errors.New("orchestrator: scene not found")

	// ErrInvalidSceneConfig is matched by *InvalidSceneConfigError.
	ErrInvalidSceneConfig = errors.New("orchestrator: invalid scene configuration")

	// ErrInternal is returned once the engine loop has exited.
	ErrInternal = errors.New("orchestrator: internal error")

	// ErrUnknownCommand is returned when a wire command names no known action.
	ErrUnknownCommand = errors.New("orchestrator: unknown command")

	// ErrInvalidCommand is returned for a known action with missing or
	// malformed fields.
	ErrInvalidCommand = errors.New("orchestrator: invalid command")
)

// SceneNotFoundError names the scene that ForceScene could not find.
type SceneNotFoundError struct {
	Name string
}

func (e *SceneNotFoundError) Error() string {
	return fmt.Sprintf("orchestrator: scene not found: %q", e.Name)
}

// Is makes errors.Is(err, ErrSceneNotFound) hold.
func (e *SceneNotFoundError) Is(target error) bool {
	return target == ErrSceneNotFound
}

// InvalidSceneConfigError carries the reason a config was rejected.
type InvalidSceneConfigError struct {
	Reason string
}

func (e *InvalidSceneConfigError) Error() string {
	return "orchestrator: invalid scene configuration: " + e.Reason
}

// Is makes errors.Is(err, ErrInvalidSceneConfig) hold.
func (e *InvalidSceneConfigError) Is(target error) bool {
	return target == ErrInvalidSceneConfig
}

func invalidConfig(format string, args ...any) error {
	return &InvalidSceneConfigError{Reason: fmt.Sprintf(format, args...)}
}

var errEngineStopped = fmt.Errorf("%w: engine stopped", ErrInternal)

// Code returns a short stable label for err, used in metrics and API bodies.
func Code(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotConfigured):
		return "not_configured"
	case errors.Is(err, ErrAlreadyRunning):
		return "already_running"
	case errors.Is(err, ErrNotRunning):
		return "not_running"
	case errors.Is(err, ErrSceneNotFound):
		return "scene_not_found"
	case errors.Is(err, ErrInvalidSceneConfig):
		return "invalid_config"
	case errors.Is(err, ErrUnknownCommand):
		return "unknown_command"
	case errors.Is(err, ErrInvalidCommand):
		return "invalid_command"
	case errors.Is(err, ErrInternal):
		return "internal"
	default:
		return "error"
	}
}
