// Package event defines the normalized stream event protocol shared by the
// gateway and its consumers, and the NDJSON framing used on the wire.
package event

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Kind identifies the variant of a normalized event.
type Kind int

const (
	// KindContentDelta carries an incremental fragment of the answer text.
	KindContentDelta Kind = iota

	// KindReasoningDelta carries an incremental fragment of the model's
	// reasoning text.
	KindReasoningDelta

	// KindError is terminal for the stream. Already-delivered deltas remain
	// valid; no End follows.
	KindError

	// KindEnd is terminal for the stream. No further events follow it.
	KindEnd
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindContentDelta:
		return "content_delta"
	case KindReasoningDelta:
		return "reasoning_delta"
	case KindError:
		return "error"
	case KindEnd:
		return "end"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is the wire-level unit produced by the upstream adapters and consumed
// by the stream consumer. Text holds the delta fragment for delta kinds and
// the human-readable message for KindError; it is empty for KindEnd.
type Event struct {
	Kind Kind
	Text string
}

// ContentDelta returns a content delta event.
func ContentDelta(text string) Event { return Event{Kind: KindContentDelta, Text: text} }

// ReasoningDelta returns a reasoning delta event.
func ReasoningDelta(text string) Event { return Event{Kind: KindReasoningDelta, Text: text} }

// Errorf returns a terminal error event with a formatted message.
func Errorf(format string, args ...any) Event {
	return Event{Kind: KindError, Text: fmt.Sprintf(format, args...)}
}

// End returns the terminal end-of-stream event.
func End() Event { return Event{Kind: KindEnd} }

// Terminal reports whether no further events may follow this one.
func (e Event) Terminal() bool {
	return e.Kind == KindError || e.Kind == KindEnd
}

// Wire record shapes. One JSON object per line. The terminal record is a
// content delta whose content is the empty string, so Content is a pointer to
// distinguish empty from absent.
type record struct {
	Choices []choice `json:"choices,omitempty"`
	Error   string   `json:"error,omitempty"`
}

type choice struct {
	Delta delta `json:"delta"`
}

type delta struct {
	Content          *string `json:"content,omitempty"`
	ReasoningContent *string `json:"reasoning_content,omitempty"`
	Role             string  `json:"role,omitempty"`
}

// Marshal frames a single event as one newline-terminated JSON record.
func Marshal(e Event) ([]byte, error) {
	var rec record
	switch e.Kind {
	case KindContentDelta:
		text := e.Text
		rec.Choices = []choice{{Delta: delta{Content: &text, Role: "assistant"}}}
	case KindReasoningDelta:
		text := e.Text
		rec.Choices = []choice{{Delta: delta{ReasoningContent: &text}}}
	case KindError:
		rec.Error = e.Text
	case KindEnd:
		empty := ""
		rec.Choices = []choice{{Delta: delta{Content: &empty}}}
	default:
		return nil, fmt.Errorf("unknown event kind %d", int(e.Kind))
	}

	buf, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshaling event record: %w", err)
	}
	return append(buf, '\n'), nil
}

// Unmarshal parses one framed record back into an event. It returns an error
// for records that are not valid JSON or carry none of the recognized fields.
func Unmarshal(line []byte) (Event, error) {
	var rec record
	if err := json.Unmarshal(line, &rec); err != nil {
		return Event{}, fmt.Errorf("parsing event record: %w", err)
	}

	if rec.Error != "" {
		return Event{Kind: KindError, Text: rec.Error}, nil
	}

	if len(rec.Choices) == 0 {
		return Event{}, fmt.Errorf("event record has no choices")
	}

	d := rec.Choices[0].Delta
	switch {
	case d.ReasoningContent != nil:
		return Event{Kind: KindReasoningDelta, Text: *d.ReasoningContent}, nil
	case d.Content != nil && *d.Content == "":
		return Event{Kind: KindEnd}, nil
	case d.Content != nil:
		return Event{Kind: KindContentDelta, Text: *d.Content}, nil
	default:
		return Event{}, fmt.Errorf("event record has an empty delta")
	}
}

// Writer frames events onto an output stream, flushing after every record so
// consumers observe each record without waiting for stream close.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

// NewWriter creates a Writer. If w also implements http.Flusher (as chi's
// wrapped response writers do), each record is flushed as it is written.
func NewWriter(w io.Writer) *Writer {
	fw := &Writer{w: w}
	if f, ok := w.(http.Flusher); ok {
		fw.flusher = f
	}
	return fw
}

// Write frames one event and flushes it to the transport.
func (w *Writer) Write(e Event) error {
	buf, err := Marshal(e)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(buf); err != nil {
		return fmt.Errorf("writing event record: %w", err)
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}
