package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/biava/llmgate/internal/event"
)

const (
	// DefaultCompletionBaseURL is the default completion backend endpoint.
	DefaultCompletionBaseURL = "http://localhost:8000"

	// DefaultCompletionModel is the default model for the batch backend.
	DefaultCompletionModel = "deepseek-reasoner"

	// reasoningStartMarker and reasoningEndMarker delimit the reasoning
	// segment embedded in a completion response. The pair is assumed never
	// to appear in ordinary answer prose.
	reasoningStartMarker = "<think>"
	reasoningEndMarker   = "</think>"
)

// Pacer computes the synthetic delay before each emitted chunk. Pacing is a
// presentation affordance: only chunk order and content are part of the
// adapter's contract.
type Pacer interface {
	// ReasoningPause returns the pause before a reasoning chunk.
	ReasoningPause(chunk string) time.Duration

	// ContentPause returns the pause after a content chunk. Sentence-final
	// chunks get an additional beat.
	ContentPause(chunk string) time.Duration
}

// typingPacer simulates a typing speed with a seedable random component.
type typingPacer struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewTypingPacer creates a pacer whose delays vary pseudo-randomly from the
// given seed, so tests can reproduce timing order.
func NewTypingPacer(seed int64) Pacer {
	return &typingPacer{rng: rand.New(rand.NewSource(seed))}
}

func (p *typingPacer) ReasoningPause(chunk string) time.Duration {
	p.mu.Lock()
	jitter := p.rng.Intn(40)
	p.mu.Unlock()

	// Roughly 150-190 characters per second of simulated thinking.
	cps := 150 + jitter
	return time.Duration(len(chunk)) * time.Second / time.Duration(cps)
}

func (p *typingPacer) ContentPause(chunk string) time.Duration {
	words := len(strings.Fields(chunk))
	pause := time.Duration(words) * 30 * time.Millisecond
	if trimmed := strings.TrimSpace(chunk); trimmed != "" {
		switch trimmed[len(trimmed)-1] {
		case '.', '!', '?':
			pause += 250 * time.Millisecond
		}
	}
	return pause
}

// NopPacer emits chunks with no delay. Intended for tests and environments
// where synthetic pacing is undesirable.
type NopPacer struct{}

func (NopPacer) ReasoningPause(string) time.Duration { return 0 }
func (NopPacer) ContentPause(string) time.Duration   { return 0 }

// CompletionClient is the batch adapter variant. It performs one single-shot
// completion call, splits the response into reasoning and answer segments,
// and replays both as a paced synthetic stream.
type CompletionClient struct {
	baseURL    string
	httpClient *http.Client
	model      string
	pacer      Pacer
	chunkCap   int
}

// CompletionOption is a functional option for configuring CompletionClient.
type CompletionOption func(*CompletionClient)

// WithCompletionBaseURL sets a custom base URL for the completion backend.
func WithCompletionBaseURL(url string) CompletionOption {
	return func(c *CompletionClient) {
		c.baseURL = strings.TrimSuffix(url, "/")
	}
}

// WithCompletionModel sets the default model for the client.
func WithCompletionModel(model string) CompletionOption {
	return func(c *CompletionClient) {
		c.model = model
	}
}

// WithCompletionHTTPClient sets a custom HTTP client.
func WithCompletionHTTPClient(client *http.Client) CompletionOption {
	return func(c *CompletionClient) {
		c.httpClient = client
	}
}

// WithPacer sets the inter-chunk pacing strategy.
func WithPacer(p Pacer) CompletionOption {
	return func(c *CompletionClient) {
		c.pacer = p
	}
}

// NewCompletionClient creates a batch adapter with the given options.
func NewCompletionClient(opts ...CompletionOption) *CompletionClient {
	c := &CompletionClient{
		baseURL: DefaultCompletionBaseURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute, // Long timeout for generation
		},
		model:    DefaultCompletionModel,
		pacer:    NewTypingPacer(time.Now().UnixNano()),
		chunkCap: defaultChunkCap,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// completionRequest is the request body for the single-shot chat API.
type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	TopP        float64   `json:"top_p,omitempty"`
}

// completionResponse is the single-shot chat API response.
type completionResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Produce performs the completion call and replays the response as a
// normalized stream: reasoning chunks first, then answer chunks, then End.
// End is always emitted even when either segment is empty.
func (c *CompletionClient) Produce(ctx context.Context, messages []Message, params Params) (<-chan event.Event, error) {
	content, err := c.complete(ctx, messages, params)
	if err != nil {
		return nil, err
	}

	reasoning, answer := splitReasoning(content)

	events := make(chan event.Event)
	go func() {
		defer close(events)

		for _, chunk := range naturalChunks(reasoning, c.chunkCap) {
			if !pause(ctx, c.pacer.ReasoningPause(chunk)) {
				return
			}
			select {
			case events <- event.ReasoningDelta(chunk):
			case <-ctx.Done():
				return
			}
		}

		for _, chunk := range naturalChunks(answer, c.chunkCap) {
			select {
			case events <- event.ContentDelta(chunk):
			case <-ctx.Done():
				return
			}
			if !pause(ctx, c.pacer.ContentPause(chunk)) {
				return
			}
		}

		select {
		case events <- event.End():
		case <-ctx.Done():
		}
	}()
	return events, nil
}

// complete performs the single-shot upstream call.
func (c *CompletionClient) complete(ctx context.Context, messages []Message, params Params) (string, error) {
	model := params.Model
	if model == "" {
		model = c.model
	}

	reqBody := completionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
		TopP:        params.TopP,
	}
	if reqBody.Temperature == 0 {
		reqBody.Temperature = DefaultTemperature
	}
	if reqBody.MaxTokens == 0 {
		reqBody.MaxTokens = DefaultMaxTokens
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("connecting to completion backend: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("completion backend error (status %d): %s", resp.StatusCode, bytes.TrimSpace(errBody))
	}

	var result completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding completion response: %w", err)
	}
	if result.Error != nil {
		return "", fmt.Errorf("completion backend error: %s", result.Error.Message)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("completion response has no choices")
	}

	return result.Choices[0].Message.Content, nil
}

// splitReasoning extracts the first reasoning segment delimited by the
// marker pair and returns it alongside the remaining answer text. Text with
// no complete marker pair is returned unchanged as the answer; a later
// literal marker inside the answer passes through untouched.
func splitReasoning(content string) (reasoning, answer string) {
	start := strings.Index(content, reasoningStartMarker)
	if start < 0 {
		return "", content
	}
	rest := content[start+len(reasoningStartMarker):]
	end := strings.Index(rest, reasoningEndMarker)
	if end < 0 {
		return "", content
	}

	reasoning = strings.TrimSpace(rest[:end])
	answer = content[:start] + rest[end+len(reasoningEndMarker):]
	return reasoning, strings.TrimSpace(answer)
}

// pause sleeps cooperatively, returning false if ctx is cancelled first.
func pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Ensure CompletionClient implements the adapter interface.
var _ Adapter = (*CompletionClient)(nil)
