package client

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/biava/llmgate/internal/event"
)

// readBufferSize is the size of each raw read from the transport.
const readBufferSize = 4 * 1024

// StreamReader turns a framed byte stream into a lazy, finite,
// non-restartable sequence of normalized events. Bytes are buffered and
// split on record boundaries; an incomplete trailing record is held until
// more bytes arrive. Records that fail to parse are dropped with a logged
// diagnostic and parsing continues.
type StreamReader struct {
	r       io.Reader
	pending []byte
	readErr error
	done    bool
	logger  *slog.Logger
}

// NewStreamReader creates a reader over a framed transport stream. A nil
// logger falls back to slog.Default().
func NewStreamReader(r io.Reader, logger *slog.Logger) *StreamReader {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamReader{r: r, logger: logger}
}

// Next returns the next event. After a terminal event, and on clean
// exhaustion or cancellation of the underlying transport, it returns io.EOF.
func (s *StreamReader) Next() (event.Event, error) {
	if s.done {
		return event.Event{}, io.EOF
	}

	for {
		// Drain complete records already buffered.
		for {
			idx := bytes.IndexByte(s.pending, '\n')
			if idx < 0 {
				break
			}
			line := bytes.TrimSpace(s.pending[:idx])
			s.pending = s.pending[idx+1:]
			if len(line) == 0 {
				continue
			}

			e, err := event.Unmarshal(line)
			if err != nil {
				s.logger.Warn("dropping malformed stream record", "error", err)
				continue
			}
			if e.Terminal() {
				s.done = true
			}
			return e, nil
		}

		if s.readErr != nil {
			s.done = true
			if flushed, ok := s.flushTrailing(); ok {
				return flushed, nil
			}
			if errors.Is(s.readErr, io.EOF) || errors.Is(s.readErr, context.Canceled) {
				// Clean end of input, or a caller-initiated abort. Either
				// way the sequence simply stops; accumulated state stays
				// with the caller.
				return event.Event{}, io.EOF
			}
			return event.Event{}, s.readErr
		}

		buf := make([]byte, readBufferSize)
		n, err := s.r.Read(buf)
		if n > 0 {
			s.pending = append(s.pending, buf[:n]...)
		}
		if err != nil {
			// Complete records already buffered are still drained before
			// the error is surfaced.
			s.readErr = err
		}
	}
}

// flushTrailing parses a final record that arrived without its newline.
func (s *StreamReader) flushTrailing() (event.Event, bool) {
	line := bytes.TrimSpace(s.pending)
	s.pending = nil
	if len(line) == 0 {
		return event.Event{}, false
	}
	e, err := event.Unmarshal(line)
	if err != nil {
		s.logger.Warn("dropping malformed trailing record", "error", err)
		return event.Event{}, false
	}
	return e, true
}
