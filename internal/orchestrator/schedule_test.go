package orchestrator

import (
	"errors"
	"testing"
)

func TestBuildSchedule_windows(t *testing.T) {
	s, err := BuildSchedule(showConfig().Scenes)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.TotalDurationMS() != 9000 {
		t.Errorf("expected total 9000, got %d", s.TotalDurationMS())
	}
	if s.Len() != 3 {
		t.Fatalf("expected 3 elements, got %d", s.Len())
	}

	want := []struct {
		name       string
		start, end int64
	}{
		{"Intro", 0, 2000},
		{"Main", 2000, 7000},
		{"Outro", 7000, 9000},
	}
	for i, el := range s.Elements() {
		if el.SceneName != want[i].name || el.ID != want[i].name {
			t.Errorf("element %d: expected %s, got %s", i, want[i].name, el.SceneName)
		}
		if el.StartTimeMS != want[i].start || el.EndTimeMS == nil || *el.EndTimeMS != want[i].end {
			t.Errorf("element %d: unexpected window [%d, %v)", i, el.StartTimeMS, el.EndTimeMS)
		}
	}
}

func TestBuildSchedule_invalid(t *testing.T) {
	cases := map[string][]Scene{
		"empty":          nil,
		"zero duration":  {{Name: "A", DurationMS: 0}},
		"negative":       {{Name: "A", DurationMS: -5}},
		"empty name":     {{Name: "", DurationMS: 10}},
		"duplicate name": {{Name: "A", DurationMS: 10}, {Name: "A", DurationMS: 20}},
	}
	for name, scenes := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := BuildSchedule(scenes)
			if !errors.Is(err, ErrInvalidSceneConfig) {
				t.Fatalf("expected ErrInvalidSceneConfig, got %v", err)
			}
			var ice *InvalidSceneConfigError
			if !errors.As(err, &ice) || ice.Reason == "" {
				t.Errorf("expected a reason, got %v", err)
			}
		})
	}
}

func TestSchedule_CurrentScene_partition(t *testing.T) {
	s, _ := BuildSchedule(showConfig().Scenes)
	for ts := int64(0); ts < s.TotalDurationMS(); ts += 50 {
		active := s.ActiveElements(ts)
		if len(active) != 1 {
			t.Fatalf("t=%d: expected exactly one active element, got %d", ts, len(active))
		}
		cur, ok := s.CurrentScene(ts)
		if !ok || cur.SceneName != active[0].SceneName {
			t.Fatalf("t=%d: current scene %q disagrees with active %q", ts, cur.SceneName, active[0].SceneName)
		}
	}
}

func TestSchedule_CurrentScene_boundaries(t *testing.T) {
	s, _ := BuildSchedule(showConfig().Scenes)
	cases := []struct {
		t    int64
		want string
	}{
		{0, "Intro"},
		{1999, "Intro"},
		{2000, "Main"},
		{6999, "Main"},
		{7000, "Outro"},
		{8999, "Outro"},
	}
	for _, c := range cases {
		cur, ok := s.CurrentScene(c.t)
		if !ok || cur.SceneName != c.want {
			t.Errorf("t=%d: expected %s, got %q (ok=%v)", c.t, c.want, cur.SceneName, ok)
		}
	}
	for _, ts := range []int64{-1, 9000, 12000} {
		if cur, ok := s.CurrentScene(ts); ok {
			t.Errorf("t=%d: expected no scene, got %s", ts, cur.SceneName)
		}
	}
}

func TestSchedule_NextScene(t *testing.T) {
	s, _ := BuildSchedule(showConfig().Scenes)
	next, ok := s.NextScene(500)
	if !ok || next.SceneName != "Main" {
		t.Errorf("expected Main after Intro, got %q", next.SceneName)
	}
	next, ok = s.NextScene(2000)
	if !ok || next.SceneName != "Outro" {
		t.Errorf("expected Outro after Main, got %q", next.SceneName)
	}
	if next, ok := s.NextScene(8000); ok {
		t.Errorf("expected no scene after Outro, got %s", next.SceneName)
	}
}

func TestSchedule_lookups(t *testing.T) {
	s, _ := BuildSchedule(showConfig().Scenes)
	if i, ok := s.SceneIndex("Outro"); !ok || i != 2 {
		t.Errorf("expected index 2, got %d", i)
	}
	if _, ok := s.SceneIndex("Nope"); ok {
		t.Error("expected miss for unknown scene")
	}
	el, ok := s.SceneByName("Main")
	if !ok || el.StartTimeMS != 2000 {
		t.Errorf("expected Main at 2000, got %d", el.StartTimeMS)
	}
	if s.IsComplete(8999) || !s.IsComplete(9000) {
		t.Error("completion boundary should be the total duration")
	}
}

func TestSchedule_Elements_copy(t *testing.T) {
	s, _ := BuildSchedule(showConfig().Scenes)
	els := s.Elements()
	*els[0].EndTimeMS = 1
	els[0].SceneName = "mutated"
	if cur, _ := s.CurrentScene(1500); cur.SceneName != "Intro" {
		t.Errorf("schedule shares memory with Elements copy: %s", cur.SceneName)
	}
}
