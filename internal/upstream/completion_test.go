package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/biava/llmgate/internal/event"
)

func completionServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req completionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": content}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func newTestCompletionClient(url string) *CompletionClient {
	return NewCompletionClient(
		WithCompletionBaseURL(url),
		WithPacer(NopPacer{}),
	)
}

func TestSplitReasoning(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		reasoning string
		answer    string
	}{
		{
			name:      "marker pair",
			content:   "<think>reasoning text.</think>Final answer.",
			reasoning: "reasoning text.",
			answer:    "Final answer.",
		},
		{
			name:      "no markers",
			content:   "Just an answer.",
			reasoning: "",
			answer:    "Just an answer.",
		},
		{
			name:      "unterminated marker left untouched",
			content:   "<think>never closed",
			reasoning: "",
			answer:    "<think>never closed",
		},
		{
			name:      "text before the marker is answer",
			content:   "Preamble. <think>thoughts</think> Conclusion.",
			reasoning: "thoughts",
			answer:    "Preamble.  Conclusion.",
		},
		{
			name:      "later literal marker passes through",
			content:   "<think>a</think>The token <think> is literal here.",
			reasoning: "a",
			answer:    "The token <think> is literal here.",
		},
		{
			name:      "empty reasoning segment",
			content:   "<think></think>Answer only.",
			reasoning: "",
			answer:    "Answer only.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reasoning, answer := splitReasoning(tt.content)
			if reasoning != tt.reasoning {
				t.Errorf("reasoning = %q, want %q", reasoning, tt.reasoning)
			}
			if answer != tt.answer {
				t.Errorf("answer = %q, want %q", answer, tt.answer)
			}
		})
	}
}

func TestCompletionClient_ReasoningThenAnswerThenEnd(t *testing.T) {
	srv := completionServer(t, "<think>First thought. Second thought.</think>The answer is here. It has two sentences.")
	defer srv.Close()

	c := newTestCompletionClient(srv.URL)
	events, err := c.Produce(context.Background(), []Message{{Role: "user", Content: "q"}}, Params{})
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}

	var reasoning, content strings.Builder
	var kinds []event.Kind
	for e := range events {
		kinds = append(kinds, e.Kind)
		switch e.Kind {
		case event.KindReasoningDelta:
			reasoning.WriteString(e.Text)
		case event.KindContentDelta:
			content.WriteString(e.Text)
		}
	}

	if got := reasoning.String(); got != "First thought. Second thought." {
		t.Errorf("reasoning = %q", got)
	}
	if got := content.String(); got != "The answer is here. It has two sentences." {
		t.Errorf("content = %q", got)
	}

	// Reasoning strictly precedes content; End is last and unique.
	sawContent := false
	for i, k := range kinds {
		switch k {
		case event.KindContentDelta:
			sawContent = true
		case event.KindReasoningDelta:
			if sawContent {
				t.Errorf("reasoning delta at %d after content began", i)
			}
		case event.KindEnd:
			if i != len(kinds)-1 {
				t.Errorf("End at %d is not the final event", i)
			}
		}
	}
	if kinds[len(kinds)-1] != event.KindEnd {
		t.Errorf("final event = %v, want End", kinds[len(kinds)-1])
	}
}

func TestCompletionClient_EmptySegmentsStillEnd(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty response", ""},
		{"reasoning only", "<think>only thoughts.</think>"},
		{"answer only", "plain answer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := completionServer(t, tt.content)
			defer srv.Close()

			c := newTestCompletionClient(srv.URL)
			events, err := c.Produce(context.Background(), nil, Params{})
			if err != nil {
				t.Fatalf("Produce: %v", err)
			}

			got := collect(t, events)
			if len(got) == 0 || got[len(got)-1].Kind != event.KindEnd {
				t.Errorf("stream must always end with End, got %v", got)
			}
		})
	}
}

func TestCompletionClient_UpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestCompletionClient(srv.URL)
	if _, err := c.Produce(context.Background(), nil, Params{}); err == nil {
		t.Fatal("expected an error for failing upstream")
	}
}

func TestCompletionClient_Cancellation(t *testing.T) {
	// A long answer so the producer is still emitting when we cancel.
	var sb strings.Builder
	for i := 0; i < 200; i++ {
		fmt.Fprintf(&sb, "Sentence number %d. ", i)
	}
	srv := completionServer(t, sb.String())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := newTestCompletionClient(srv.URL)
	events, err := c.Produce(ctx, nil, Params{})
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}

	<-events
	cancel()

	for range events {
		// Drain whatever raced in; the channel must close.
	}
}

func TestTypingPacer_Deterministic(t *testing.T) {
	a := NewTypingPacer(42)
	b := NewTypingPacer(42)

	for i := 0; i < 10; i++ {
		chunk := strings.Repeat("x", 10+i)
		if a.ReasoningPause(chunk) != b.ReasoningPause(chunk) {
			t.Fatal("same seed must produce the same pacing sequence")
		}
	}

	short := a.ContentPause("two words")
	long := a.ContentPause("this chunk has quite a few more words in it overall")
	if long <= short {
		t.Error("longer chunks should pause longer")
	}

	terminal := a.ContentPause("A sentence.")
	flat := a.ContentPause("no terminal")
	if terminal <= flat {
		t.Error("sentence-final chunks should get an extra pause")
	}
}
