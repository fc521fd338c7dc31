package client

import (
	"sync"

	"github.com/biava/llmgate/internal/event"
	"github.com/biava/llmgate/internal/search"
)

// Section is the evolving, re-renderable state for one user query: the
// accumulated reasoning and answer text, the sources backing them, and the
// stage flags the UI keys off. Reasoning and content only grow until a
// terminal event; stage flags move in one direction within a request.
type Section struct {
	mu sync.RWMutex

	query     string
	sources   []search.Result
	reasoning string
	content   string
	err       string

	sourcesLoading     bool
	thinkingLoading    bool
	reasoningCollapsed bool
}

// SectionView is an immutable snapshot of a Section for rendering.
type SectionView struct {
	Query              string
	Sources            []search.Result
	Reasoning          string
	Content            string
	Err                string
	SourcesLoading     bool
	ThinkingLoading    bool
	ReasoningCollapsed bool
}

// NewSection creates the section for a freshly submitted query, with the
// sources stage marked as loading.
func NewSection(query string) *Section {
	return &Section{
		query:          query,
		sourcesLoading: true,
	}
}

// SetSources records the retrieved sources, completes the sources stage and
// starts the thinking stage.
func (s *Section) SetSources(results []search.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources = results
	s.sourcesLoading = false
	s.thinkingLoading = true
}

// Apply folds one normalized event into the section's accumulators.
func (s *Section) Apply(e event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e.Kind {
	case event.KindReasoningDelta:
		s.reasoning += e.Text
		s.thinkingLoading = false
	case event.KindContentDelta:
		s.content += e.Text
	case event.KindError:
		// Partial reasoning/content stays visible alongside the error.
		s.err = e.Text
		s.sourcesLoading = false
		s.thinkingLoading = false
	case event.KindEnd:
		// Terminal, no further mutation.
	}
}

// Fail records a failure that happened outside the event stream (search or
// connection errors) and clears the loading stages.
func (s *Section) Fail(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = message
	s.sourcesLoading = false
	s.thinkingLoading = false
}

// ToggleReasoning flips the collapsed state of the reasoning panel.
func (s *Section) ToggleReasoning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reasoningCollapsed = !s.reasoningCollapsed
}

// View returns a consistent snapshot for rendering.
func (s *Section) View() SectionView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sources := make([]search.Result, len(s.sources))
	copy(sources, s.sources)

	return SectionView{
		Query:              s.query,
		Sources:            sources,
		Reasoning:          s.reasoning,
		Content:            s.content,
		Err:                s.err,
		SourcesLoading:     s.sourcesLoading,
		ThinkingLoading:    s.thinkingLoading,
		ReasoningCollapsed: s.reasoningCollapsed,
	}
}
