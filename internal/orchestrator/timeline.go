package orchestrator

import (
	"log/slog"
	"time"
)

// timeline is the mutable state owned by exactly one engine goroutine.
// Nothing outside the engine reads or writes it; the only way out is the
// State snapshot returned by snapshot.
type timeline struct {
	cfg      Config
	schedule *Schedule
	state    State

	// Wall-clock anchors. elapsed = now - wallStart - accumulatedPause.
	wallStart        time.Time
	pausedAt         time.Time
	accumulatedPause time.Duration

	log *slog.Logger
}

func newTimeline(cfg Config, log *slog.Logger) (*timeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.clone()
	schedule := emptySchedule()
	if len(cfg.Scenes) > 0 {
		s, err := BuildSchedule(cfg.Scenes)
		if err != nil {
			return nil, err
		}
		schedule = s
	}

	tl := &timeline{
		cfg:      cfg,
		schedule: schedule,
		log:      log,
	}
	tl.state = State{
		Scenes:          append([]Scene(nil), cfg.Scenes...),
		TotalDurationMS: schedule.TotalDurationMS(),
		StreamStatus:    StreamStatus{Timecode: ZeroTimecode},
	}
	tl.derive(0)
	return tl, nil
}

// snapshot returns a copy safe to hand to readers.
func (tl *timeline) snapshot() State {
	return tl.state.Clone()
}

// apply runs one command to completion. changed is false when the command
// was accepted but left the state untouched; a non-nil error always means
// nothing was modified.
func (tl *timeline) apply(cmd Command, now time.Time) (changed bool, err error) {
	switch c := cmd.(type) {
	case Start:
		return tl.start(now)
	case Stop:
		if !tl.state.IsRunning {
			return false, ErrNotRunning
		}
		tl.halt()
		tl.log.Info("timeline stopped", slog.Int64("current_time_ms", tl.state.CurrentTimeMS))
		return true, nil
	case Pause:
		return tl.pause(now)
	case Resume:
		return tl.resume(now)
	case Reset:
		tl.halt()
		tl.seek(0)
		tl.log.Info("timeline reset")
		return true, nil
	case ForceScene:
		return tl.forceScene(c.Name, now)
	case SkipCurrentScene:
		return tl.skip(now)
	case UpdateStreamStatus:
		tc := c.Timecode
		if tc == "" {
			tc = FormatTimecode(c.StreamTimeMS)
		}
		tl.state.StreamStatus = StreamStatus{
			IsStreaming:  c.IsStreaming,
			StreamTimeMS: c.StreamTimeMS,
			Timecode:     tc,
		}
		return true, nil
	case Reconfigure:
		return tl.reconfigure(c.Config)
	default:
		return false, ErrUnknownCommand
	}
}

func (tl *timeline) start(now time.Time) (bool, error) {
	if len(tl.cfg.Scenes) == 0 {
		tl.log.Error("start rejected, no scenes configured")
		return false, ErrNotConfigured
	}
	if tl.state.IsRunning {
		return false, ErrAlreadyRunning
	}

	// A stopped timeline continues from where it stopped; a finished one
	// starts over.
	from := tl.state.CurrentTimeMS
	if tl.schedule.IsComplete(from) {
		from = 0
	}
	tl.state.IsRunning = true
	tl.state.IsPaused = false
	tl.rebase(now, from)
	tl.seek(from)
	tl.log.Info("timeline started", slog.Int64("from_ms", from))
	return true, nil
}

func (tl *timeline) pause(now time.Time) (bool, error) {
	if !tl.state.IsRunning {
		return false, ErrNotRunning
	}
	if tl.state.IsPaused {
		return false, nil
	}
	// Freeze at the exact logical time of the pause rather than the last tick.
	if t := tl.elapsedMS(now); !tl.schedule.IsComplete(t) {
		tl.seek(t)
	}
	tl.state.IsPaused = true
	tl.pausedAt = now
	tl.log.Info("timeline paused", slog.Int64("current_time_ms", tl.state.CurrentTimeMS))
	return true, nil
}

func (tl *timeline) resume(now time.Time) (bool, error) {
	if !tl.state.IsRunning {
		return false, ErrNotRunning
	}
	if !tl.state.IsPaused {
		return false, nil
	}
	// The pause length is measured on the wall clock. The logical clock is
	// frozen for the whole pause and cannot tell how long it lasted.
	if !tl.pausedAt.IsZero() {
		if d := now.Sub(tl.pausedAt); d > 0 {
			tl.accumulatedPause += d
		}
	}
	tl.pausedAt = time.Time{}
	tl.state.IsPaused = false
	tl.log.Info("timeline resumed",
		slog.Int64("current_time_ms", tl.state.CurrentTimeMS),
		slog.Duration("accumulated_pause", tl.accumulatedPause))
	return true, nil
}

func (tl *timeline) forceScene(name string, now time.Time) (bool, error) {
	el, ok := tl.schedule.SceneByName(name)
	if !ok {
		return false, &SceneNotFoundError{Name: name}
	}
	tl.seek(el.StartTimeMS)
	if tl.state.IsRunning {
		tl.rebase(now, el.StartTimeMS)
	}
	tl.log.Info("scene forced", slog.String("scene", name))
	return true, nil
}

func (tl *timeline) skip(now time.Time) (bool, error) {
	if !tl.state.IsRunning {
		return false, ErrNotRunning
	}
	next, ok := tl.schedule.NextScene(tl.state.CurrentTimeMS)
	if !ok {
		tl.log.Warn("skip ignored, already in last scene", slog.String("scene", tl.state.SceneName()))
		return false, nil
	}
	tl.seek(next.StartTimeMS)
	tl.rebase(now, next.StartTimeMS)
	tl.log.Info("scene skipped", slog.String("scene", next.SceneName))
	return true, nil
}

func (tl *timeline) reconfigure(cfg Config) (bool, error) {
	if err := cfg.Validate(); err != nil {
		return false, err
	}
	schedule, err := BuildSchedule(cfg.Scenes)
	if err != nil {
		return false, err
	}

	if tl.state.IsRunning {
		tl.halt()
	}
	tl.cfg = cfg.clone()
	tl.schedule = schedule
	status := tl.state.StreamStatus
	tl.state = State{
		Scenes:          append([]Scene(nil), tl.cfg.Scenes...),
		TotalDurationMS: schedule.TotalDurationMS(),
		StreamStatus:    status,
	}
	tl.derive(0)
	tl.log.Info("timeline reconfigured",
		slog.Int("scenes", schedule.Len()),
		slog.Int64("total_duration_ms", schedule.TotalDurationMS()),
		slog.Bool("loop", tl.cfg.LoopScenes))
	return true, nil
}

// tick advances the logical clock from the wall clock. It reports false when
// the timeline is idle and nothing was recomputed.
func (tl *timeline) tick(now time.Time) bool {
	if !tl.state.IsRunning || tl.state.IsPaused || len(tl.cfg.Scenes) == 0 {
		return false
	}

	t := tl.elapsedMS(now)
	if !tl.schedule.IsComplete(t) {
		tl.seek(t)
		return true
	}

	if tl.cfg.LoopScenes {
		tl.wallStart = now
		tl.accumulatedPause = 0
		tl.seek(0)
		tl.log.Debug("timeline looped")
		return true
	}
	tl.seek(tl.schedule.TotalDurationMS())
	tl.halt()
	tl.log.Info("timeline complete")
	return true
}

// halt clears the running flags and clock anchors but keeps the position.
func (tl *timeline) halt() {
	tl.state.IsRunning = false
	tl.state.IsPaused = false
	tl.wallStart = time.Time{}
	tl.pausedAt = time.Time{}
	tl.accumulatedPause = 0
}

// rebase moves the wall anchor so that elapsedMS(now) == t.
func (tl *timeline) rebase(now time.Time, t int64) {
	tl.wallStart = now.Add(-time.Duration(t) * time.Millisecond)
	tl.accumulatedPause = 0
	if tl.state.IsPaused {
		tl.pausedAt = now
	} else {
		tl.pausedAt = time.Time{}
	}
}

func (tl *timeline) elapsedMS(now time.Time) int64 {
	if tl.wallStart.IsZero() {
		return tl.state.CurrentTimeMS
	}
	d := now.Sub(tl.wallStart) - tl.accumulatedPause
	if d < 0 {
		return 0
	}
	return d.Milliseconds()
}

// seek sets the logical time and logs scene transitions.
func (tl *timeline) seek(t int64) {
	prev := tl.state.SceneName()
	tl.derive(t)
	if cur := tl.state.SceneName(); cur != prev {
		tl.log.Info("scene changed", slog.String("from", prev), slog.String("to", cur))
	}
}

// derive recomputes every time-dependent field of the state for t.
func (tl *timeline) derive(t int64) {
	total := tl.schedule.TotalDurationMS()
	st := &tl.state
	st.CurrentTimeMS = t
	st.TotalDurationMS = total

	st.CurrentActiveScene = nil
	st.CurrentSceneIndex = -1
	if cur, ok := tl.schedule.CurrentScene(t); ok {
		name := cur.SceneName
		st.CurrentActiveScene = &name
		if i, ok := tl.schedule.SceneIndex(name); ok {
			st.CurrentSceneIndex = i
		}
	}

	st.Progress = 0
	if total > 0 {
		st.Progress = float64(t) / float64(total)
		if st.Progress > 1 {
			st.Progress = 1
		} else if st.Progress < 0 {
			st.Progress = 0
		}
	}
	st.TimeRemainingMS = total - t
	if st.TimeRemainingMS < 0 {
		st.TimeRemainingMS = 0
	}

	st.ActiveElementIDs = make([]string, 0, 1)
	elements := tl.schedule.Elements()
	for i := range elements {
		if elements[i].Contains(t) {
			elements[i].IsActive = true
			st.ActiveElementIDs = append(st.ActiveElementIDs, elements[i].ID)
		}
	}
	st.ScheduledElements = elements
}
