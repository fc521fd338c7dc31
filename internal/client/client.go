// Package client consumes the gateway's framed event stream and maintains
// the per-query section state a UI renders from.
package client

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
	"sync"
	"time"

	"github.com/biava/llmgate/internal/search"
	"github.com/biava/llmgate/internal/upstream"
)

// DefaultGatewayURL is the default gateway endpoint.
const DefaultGatewayURL = "http://localhost:8080"

// Client drives one conversation against the gateway. It keeps every
// section for the session and enforces single-flight: a new Ask supersedes
// (cancels) the prior in-flight request rather than queuing behind it.
type Client struct {
	gatewayURL string
	httpClient *http.Client
	provider   search.Provider // optional; nil skips the research step
	params     upstream.Params
	logger     *slog.Logger

	mu       sync.Mutex
	active   *flight
	sections []*Section
}

// flight identifies one in-flight request so a superseded request finishing
// late cannot clear its successor's cancellation handle.
type flight struct {
	cancel context.CancelFunc
}

// ClientOption is a functional option for configuring Client.
type ClientOption func(*Client)

// WithGatewayURL sets the gateway base URL.
func WithGatewayURL(url string) ClientOption {
	return func(c *Client) {
		c.gatewayURL = strings.TrimSuffix(url, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithSearchProvider enables the research step: sources are fetched first
// and folded into the prompt sent through the gateway.
func WithSearchProvider(p search.Provider) ClientOption {
	return func(c *Client) {
		c.provider = p
	}
}

// WithParams sets the model parameters passed through on every request.
func WithParams(params upstream.Params) ClientOption {
	return func(c *Client) {
		c.params = params
	}
}

// WithLogger sets the logger for dropped-record diagnostics.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a gateway client with the given options.
func New(opts ...ClientOption) *Client {
	c := &Client{
		gatewayURL: DefaultGatewayURL,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// chatRequest is the gateway's inbound request shape.
type chatRequest struct {
	Messages    []upstream.Message `json:"messages"`
	ModelParams *upstream.Params   `json:"modelParams,omitempty"`
}

// errorResponse is the gateway's non-streaming rejection shape.
type errorResponse struct {
	Error  string `json:"error"`
	Advice string `json:"advice,omitempty"`
}

// Ask submits a query, supersedes any in-flight request, and blocks until
// the resulting stream terminates or ctx is cancelled. The returned section
// is updated live as events arrive and remains in the session history; on
// cancellation or error any accumulated partial text stays visible.
func (c *Client) Ask(ctx context.Context, query string) (*Section, error) {
	section := NewSection(query)

	reqCtx, f := c.beginFlight(section)
	defer c.endFlight(f)

	combined, stop := joinContexts(ctx, reqCtx)
	defer stop()

	messages, err := c.buildMessages(combined, query, section)
	if err != nil {
		section.Fail(err.Error())
		return section, err
	}

	if err := c.stream(combined, messages, section); err != nil {
		if errors.Is(err, context.Canceled) {
			// Superseded or aborted by the caller; partial results stand.
			return section, nil
		}
		section.Fail(err.Error())
		return section, err
	}
	return section, nil
}

// Abort cancels the in-flight request, if any. Accumulated partial
// reasoning and content remain on the section.
func (c *Client) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		c.active.cancel()
		c.active = nil
	}
}

// Sections returns the session history, oldest first.
func (c *Client) Sections() []*Section {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Section, len(c.sections))
	copy(out, c.sections)
	return out
}

// beginFlight registers the new section, cancels the previous in-flight
// request, and installs this one as the active flight.
func (c *Client) beginFlight(section *Section) (context.Context, *flight) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		c.active.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	f := &flight{cancel: cancel}
	c.active = f
	c.sections = append(c.sections, section)
	return ctx, f
}

// endFlight releases the flight and clears the active slot if it is still
// this flight's.
func (c *Client) endFlight(f *flight) {
	f.cancel()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == f {
		c.active = nil
	}
}

// buildMessages assembles the conversation: the bare query, or the research
// prompt when a search provider is configured.
func (c *Client) buildMessages(ctx context.Context, query string, section *Section) ([]upstream.Message, error) {
	userMessage := upstream.Message{Role: "user", Content: query}

	if c.provider == nil {
		section.SetSources(nil)
		return []upstream.Message{userMessage}, nil
	}

	resp, err := c.provider.Search(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("searching sources: %w", err)
	}
	if resp == nil || len(resp.Results) == 0 {
		return nil, fmt.Errorf("no relevant sources found, try a different query")
	}

	section.SetSources(resp.ResultsWithImages())

	return []upstream.Message{
		userMessage,
		{Role: "assistant", Content: "I found relevant sources. I will analyze them and write a full report."},
		{Role: "user", Content: search.BuildResearchPrompt(query, resp)},
	}, nil
}

// stream performs the gateway call and folds every event into the section.
func (c *Client) stream(ctx context.Context, messages []upstream.Message, section *Section) error {
	reqBody := chatRequest{Messages: messages}
	if c.params != (upstream.Params{}) {
		params := c.params
		reqBody.ModelParams = &params
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshaling chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.gatewayURL+"/v1/chat", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		return fmt.Errorf("calling gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var rejection errorResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&rejection); err == nil && rejection.Error != "" {
			return fmt.Errorf("gateway rejected request (status %d): %s", resp.StatusCode, rejection.Error)
		}
		return fmt.Errorf("gateway rejected request (status %d)", resp.StatusCode)
	}

	reader := NewStreamReader(resp.Body, c.logger)
	for {
		e, err := reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if ctx.Err() != nil {
					return context.Canceled
				}
				return nil
			}
			return fmt.Errorf("reading event stream: %w", err)
		}
		section.Apply(e)
		if e.Terminal() {
			return nil
		}
	}
}

// joinContexts returns a context cancelled when either input is. The stop
// function releases the watcher goroutine.
func joinContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := make(chan struct{})
	go func() {
		select {
		case <-b.Done():
			cancel()
		case <-ctx.Done():
		case <-stop:
		}
	}()
	return ctx, func() {
		close(stop)
		cancel()
	}
}
