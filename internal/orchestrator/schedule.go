package orchestrator

// Schedule maps scenes onto absolute time windows. It is built once per
// config and is read-only afterwards, so it is safe to share.
type Schedule struct {
	elements []ScheduledElement
	index    map[string]int
	total    int64
}

// BuildSchedule lays scenes end to end: each scene starts where the previous
// one ends and the total is the sum of durations.
func BuildSchedule(scenes []Scene) (*Schedule, error) {
	if len(scenes) == 0 {
		return nil, invalidConfig("no scenes")
	}
	if err := (Config{Scenes: scenes}).Validate(); err != nil {
		return nil, err
	}

	s := &Schedule{
		elements: make([]ScheduledElement, 0, len(scenes)),
		index:    make(map[string]int, len(scenes)),
	}
	var start int64
	for i, scene := range scenes {
		end := start + scene.DurationMS
		s.elements = append(s.elements, ScheduledElement{
			ID:          scene.Name,
			SceneName:   scene.Name,
			StartTimeMS: start,
			EndTimeMS:   &end,
			DurationMS:  scene.DurationMS,
		})
		s.index[scene.Name] = i
		start = end
	}
	s.total = start
	return s, nil
}

// emptySchedule backs an unconfigured engine; every lookup misses.
func emptySchedule() *Schedule {
	return &Schedule{index: map[string]int{}}
}

// CurrentScene returns the element on air at t. When windows touch, the
// element that begins at t wins over the one ending there. Nothing is on air
// once t reaches the total duration.
func (s *Schedule) CurrentScene(t int64) (ScheduledElement, bool) {
	if t < 0 || t >= s.total {
		return ScheduledElement{}, false
	}
	best := -1
	for i, e := range s.elements {
		if !e.Contains(t) {
			continue
		}
		if best < 0 || e.StartTimeMS > s.elements[best].StartTimeMS {
			best = i
		}
	}
	if best < 0 {
		return ScheduledElement{}, false
	}
	return s.elements[best].clone(), true
}

// NextScene returns the element that starts soonest after the current scene
// (or after t when nothing is on air). It misses in the last scene.
func (s *Schedule) NextScene(t int64) (ScheduledElement, bool) {
	pivot := t
	if cur, ok := s.CurrentScene(t); ok {
		pivot = cur.StartTimeMS
	}
	best := -1
	for i, e := range s.elements {
		if e.StartTimeMS <= pivot {
			continue
		}
		if best < 0 || e.StartTimeMS < s.elements[best].StartTimeMS {
			best = i
		}
	}
	if best < 0 {
		return ScheduledElement{}, false
	}
	return s.elements[best].clone(), true
}

// ActiveElements returns every element whose window contains t.
func (s *Schedule) ActiveElements(t int64) []ScheduledElement {
	var out []ScheduledElement
	for _, e := range s.elements {
		if e.Contains(t) {
			out = append(out, e.clone())
		}
	}
	return out
}

// SceneIndex returns the position of name in the original scene list.
func (s *Schedule) SceneIndex(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// SceneByName returns the element scheduled for name.
func (s *Schedule) SceneByName(name string) (ScheduledElement, bool) {
	i, ok := s.index[name]
	if !ok {
		return ScheduledElement{}, false
	}
	return s.elements[i].clone(), true
}

// IsComplete reports whether t is at or past the end of the schedule.
func (s *Schedule) IsComplete(t int64) bool {
	return t >= s.total
}

// Elements returns a copy of all scheduled elements in scene order.
func (s *Schedule) Elements() []ScheduledElement {
	out := make([]ScheduledElement, len(s.elements))
	for i, e := range s.elements {
		out[i] = e.clone()
	}
	return out
}

// TotalDurationMS is the sum of all scene durations.
func (s *Schedule) TotalDurationMS() int64 {
	return s.total
}

// Len returns the number of scheduled elements.
func (s *Schedule) Len() int {
	return len(s.elements)
}
