package client

import (
	"testing"

	"github.com/biava/llmgate/internal/event"
	"github.com/biava/llmgate/internal/search"
)

func TestSection_StageFlagsMonotonic(t *testing.T) {
	s := NewSection("q")

	v := s.View()
	if !v.SourcesLoading || v.ThinkingLoading {
		t.Fatalf("fresh section: sourcesLoading=%v thinkingLoading=%v", v.SourcesLoading, v.ThinkingLoading)
	}

	s.SetSources([]search.Result{{Title: "t", URL: "u"}})
	v = s.View()
	if v.SourcesLoading {
		t.Error("sourcesLoading should clear after SetSources")
	}
	if !v.ThinkingLoading {
		t.Error("thinkingLoading should start after SetSources")
	}

	s.Apply(event.ReasoningDelta("hm"))
	v = s.View()
	if v.ThinkingLoading {
		t.Error("thinkingLoading should clear on the first reasoning delta")
	}

	// Later deltas never re-raise a cleared flag.
	s.Apply(event.ReasoningDelta(" more"))
	s.Apply(event.ContentDelta("answer"))
	v = s.View()
	if v.SourcesLoading || v.ThinkingLoading {
		t.Error("stage flags must not reverse")
	}
}

func TestSection_AccumulatorsAppendOnly(t *testing.T) {
	s := NewSection("q")

	s.Apply(event.ReasoningDelta("a"))
	s.Apply(event.ReasoningDelta("b"))
	s.Apply(event.ContentDelta("c"))
	s.Apply(event.ContentDelta("d"))
	s.Apply(event.End())

	v := s.View()
	if v.Reasoning != "ab" {
		t.Errorf("reasoning = %q, want %q", v.Reasoning, "ab")
	}
	if v.Content != "cd" {
		t.Errorf("content = %q, want %q", v.Content, "cd")
	}
	if v.Err != "" {
		t.Errorf("err = %q, want empty", v.Err)
	}
}

func TestSection_ErrorKeepsPartialResults(t *testing.T) {
	s := NewSection("q")
	s.SetSources(nil)

	s.Apply(event.ReasoningDelta("some thinking"))
	s.Apply(event.ContentDelta("partial answer"))
	s.Apply(event.Errorf("Chunk timeout"))

	v := s.View()
	if v.Err != "Chunk timeout" {
		t.Errorf("err = %q", v.Err)
	}
	if v.Reasoning != "some thinking" || v.Content != "partial answer" {
		t.Error("partial accumulations must remain visible after a terminal error")
	}
	if v.SourcesLoading || v.ThinkingLoading {
		t.Error("loading flags must clear on error")
	}
}

func TestSection_EndMutatesNothing(t *testing.T) {
	s := NewSection("q")
	s.Apply(event.ContentDelta("x"))
	before := s.View()
	s.Apply(event.End())
	after := s.View()

	if before.Content != after.Content || before.Reasoning != after.Reasoning || before.Err != after.Err {
		t.Error("End must not mutate the section")
	}
}

func TestSection_ToggleReasoning(t *testing.T) {
	s := NewSection("q")
	if s.View().ReasoningCollapsed {
		t.Fatal("reasoning starts expanded")
	}
	s.ToggleReasoning()
	if !s.View().ReasoningCollapsed {
		t.Error("toggle should collapse")
	}
	s.ToggleReasoning()
	if s.View().ReasoningCollapsed {
		t.Error("toggle should expand again")
	}
}
