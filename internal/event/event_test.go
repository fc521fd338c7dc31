package event

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestMarshalRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   Event
	}{
		{"content delta", ContentDelta("Hi there")},
		{"reasoning delta", ReasoningDelta("thinking about it")},
		{"error", Errorf("Chunk timeout")},
		{"end", End()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := Marshal(tt.in)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			if !bytes.HasSuffix(buf, []byte("\n")) {
				t.Error("record is not newline-terminated")
			}

			got, err := Unmarshal(bytes.TrimSpace(buf))
			if err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if got.Kind != tt.in.Kind {
				t.Errorf("kind = %v, want %v", got.Kind, tt.in.Kind)
			}
			if got.Kind != KindEnd && got.Text != tt.in.Text {
				t.Errorf("text = %q, want %q", got.Text, tt.in.Text)
			}
		})
	}
}

func TestMarshalContentShape(t *testing.T) {
	buf, err := Marshal(ContentDelta("hello"))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var rec map[string]any
	if err := json.Unmarshal(buf, &rec); err != nil {
		t.Fatalf("record is not valid JSON: %v", err)
	}

	choices, ok := rec["choices"].([]any)
	if !ok || len(choices) != 1 {
		t.Fatalf("expected one choice, got %v", rec["choices"])
	}
	delta := choices[0].(map[string]any)["delta"].(map[string]any)
	if delta["content"] != "hello" {
		t.Errorf("content = %v, want hello", delta["content"])
	}
	if delta["role"] != "assistant" {
		t.Errorf("role = %v, want assistant", delta["role"])
	}
}

func TestEndIsEmptyContentDelta(t *testing.T) {
	buf, err := Marshal(End())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(buf), `"content":""`) {
		t.Errorf("terminal record should carry an empty content delta, got %s", buf)
	}
}

func TestUnmarshalRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"not json", "this is not json"},
		{"no choices", `{"foo":"bar"}`},
		{"empty delta", `{"choices":[{"delta":{}}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Unmarshal([]byte(tt.line)); err == nil {
				t.Errorf("expected error for %q", tt.line)
			}
		})
	}
}

func TestTerminal(t *testing.T) {
	if ContentDelta("x").Terminal() || ReasoningDelta("x").Terminal() {
		t.Error("deltas must not be terminal")
	}
	if !End().Terminal() || !Errorf("boom").Terminal() {
		t.Error("End and Error must be terminal")
	}
}

type flushRecorder struct {
	bytes.Buffer
	flushes int
}

func (f *flushRecorder) Flush() { f.flushes++ }

func TestWriterFlushesPerRecord(t *testing.T) {
	var rec flushRecorder
	w := NewWriter(&rec)

	events := []Event{ContentDelta("a"), ContentDelta("b"), End()}
	for _, e := range events {
		if err := w.Write(e); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	if rec.flushes != len(events) {
		t.Errorf("flushes = %d, want %d", rec.flushes, len(events))
	}
	if got := strings.Count(rec.String(), "\n"); got != len(events) {
		t.Errorf("records written = %d, want %d", got, len(events))
	}
}
