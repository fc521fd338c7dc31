package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/biava/llmgate/internal/event"
)

const (
	// DefaultStreamBaseURL is the default streaming backend endpoint.
	DefaultStreamBaseURL = "http://localhost:11434"

	// DefaultStreamModel is the default model for the streaming backend.
	DefaultStreamModel = "deepseek-r1:1.5b"

	// DefaultChunkTimeout is the hard deadline for each upstream read,
	// measured from the last successful read. Exceeding it is fatal for
	// the stream.
	DefaultChunkTimeout = 10 * time.Second

	// readBufferSize is the size of each raw read from the upstream body.
	readBufferSize = 4 * 1024
)

// chunkTimeoutMessage is the error text surfaced when a read deadline
// expires. Consumers match on it, so it is part of the wire contract.
const chunkTimeoutMessage = "Chunk timeout"

// StreamClient is the streaming adapter variant. It opens one upstream
// connection, races every read against the chunk timeout, and re-frames the
// backend's newline-delimited JSON records as normalized events.
type StreamClient struct {
	baseURL      string
	httpClient   *http.Client
	model        string
	chunkTimeout time.Duration
	logger       *slog.Logger
}

// StreamOption is a functional option for configuring StreamClient.
type StreamOption func(*StreamClient)

// WithStreamBaseURL sets a custom base URL for the streaming backend.
func WithStreamBaseURL(url string) StreamOption {
	return func(c *StreamClient) {
		c.baseURL = strings.TrimSuffix(url, "/")
	}
}

// WithStreamModel sets the default model for the client.
func WithStreamModel(model string) StreamOption {
	return func(c *StreamClient) {
		c.model = model
	}
}

// WithChunkTimeout sets the per-read deadline.
func WithChunkTimeout(d time.Duration) StreamOption {
	return func(c *StreamClient) {
		if d > 0 {
			c.chunkTimeout = d
		}
	}
}

// WithStreamHTTPClient sets a custom HTTP client.
func WithStreamHTTPClient(client *http.Client) StreamOption {
	return func(c *StreamClient) {
		c.httpClient = client
	}
}

// WithStreamLogger sets the logger used for skipped-record diagnostics.
func WithStreamLogger(logger *slog.Logger) StreamOption {
	return func(c *StreamClient) {
		c.logger = logger
	}
}

// NewStreamClient creates a streaming adapter with the given options.
func NewStreamClient(opts ...StreamOption) *StreamClient {
	c := &StreamClient{
		baseURL: DefaultStreamBaseURL,
		// No client timeout: the chunk deadline and context govern the
		// stream's lifetime.
		httpClient:   &http.Client{},
		model:        DefaultStreamModel,
		chunkTimeout: DefaultChunkTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// chatRequest is the request body for the streaming chat API.
type chatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

// chatRecord is one newline-delimited record from the streaming backend.
type chatRecord struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

// Produce opens the upstream connection and streams normalized events.
// Connection failures before any data are returned directly; once streaming
// has started, failures arrive as terminal error events.
func (c *StreamClient) Produce(ctx context.Context, messages []Message, params Params) (<-chan event.Event, error) {
	model := params.Model
	if model == "" {
		model = c.model
	}

	body, err := json.Marshal(chatRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
		Options:  params.options(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling chat request: %w", err)
	}

	// The derived context aborts the upstream connection on chunk timeout
	// as well as on caller cancellation.
	reqCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("connecting to streaming backend: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("streaming backend error (status %d): %s", resp.StatusCode, bytes.TrimSpace(errBody))
	}

	events := make(chan event.Event)
	go c.pump(ctx, cancel, resp.Body, events)
	return events, nil
}

// pump reads raw chunks, races each read against the chunk deadline, and
// re-frames complete records as events.
func (c *StreamClient) pump(ctx context.Context, abort context.CancelFunc, body io.ReadCloser, events chan<- event.Event) {
	defer close(events)
	defer body.Close()
	defer abort()

	raw := make(chan []byte)
	readErr := make(chan error, 1)

	go func() {
		for {
			buf := make([]byte, readBufferSize)
			n, err := body.Read(buf)
			if n > 0 {
				select {
				case raw <- buf[:n]:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	timer := time.NewTimer(c.chunkTimeout)
	defer timer.Stop()

	var carry []byte
	for {
		select {
		case <-ctx.Done():
			// Consumer disconnect or external cancellation. Not an
			// upstream error, so no terminal event is owed.
			return

		case <-timer.C:
			// Hard deadline relative to the last successful read. Abort
			// the connection so the upstream does not leak.
			c.emit(ctx, events, event.Errorf(chunkTimeoutMessage))
			return

		case chunk := <-raw:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(c.chunkTimeout)

			carry = append(carry, chunk...)
			var done bool
			carry, done = c.emitLines(ctx, events, carry)
			if done {
				c.emit(ctx, events, event.End())
				return
			}

		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				// Flush a trailing record that arrived without a newline.
				c.emitLines(ctx, events, append(carry, '\n'))
				c.emit(ctx, events, event.End())
				return
			}
			c.emit(ctx, events, event.Errorf("%s", err.Error()))
			return
		}
	}
}

// emitLines splits buffered bytes into complete newline-delimited records,
// parses each independently, and emits content deltas. A record that fails
// to parse is logged and skipped; one malformed line must not poison the
// rest. It returns the unconsumed remainder and whether the backend signaled
// completion.
func (c *StreamClient) emitLines(ctx context.Context, events chan<- event.Event, buf []byte) ([]byte, bool) {
	for {
		idx := bytes.IndexByte(buf, '\n')
		if idx < 0 {
			return buf, false
		}
		line := bytes.TrimSpace(buf[:idx])
		buf = buf[idx+1:]
		if len(line) == 0 {
			continue
		}

		var rec chatRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			c.logger.Warn("skipping malformed upstream record", "error", err)
			continue
		}

		if rec.Message.Content != "" {
			if !c.emit(ctx, events, event.ContentDelta(rec.Message.Content)) {
				return nil, false
			}
		}
		if rec.Done {
			return buf, true
		}
	}
}

// emit delivers one event unless the caller has gone away.
func (c *StreamClient) emit(ctx context.Context, events chan<- event.Event, e event.Event) bool {
	select {
	case events <- e:
		return true
	case <-ctx.Done():
		return false
	}
}

// Ensure StreamClient implements the adapter interface.
var _ Adapter = (*StreamClient)(nil)
