// Package upstream provides adapters that turn two different LLM backend
// shapes (a line-delimited streaming API and a single-shot completion API)
// into one normalized event stream.
package upstream

import (
	"context"

	"github.com/biava/llmgate/internal/event"
)

const (
	// DefaultTemperature is applied when the request carries no temperature.
	DefaultTemperature = 0.7

	// DefaultMaxTokens bounds the generated response length.
	DefaultMaxTokens = 1000

	// DefaultContextWindow is the default context size passed upstream.
	DefaultContextWindow = 2048

	// DefaultTopK is the default top-k sampling parameter.
	DefaultTopK = 40

	// DefaultTopP is the default nucleus sampling parameter.
	DefaultTopP = 0.9

	// DefaultRepeatPenalty discourages repetition in generated text.
	DefaultRepeatPenalty = 1.1
)

// Message is one role/content pair in the conversation sent upstream.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Params carries pass-through model parameters. Zero values mean "use the
// default"; no semantic transformation is applied.
type Params struct {
	Model         string  `json:"model,omitempty"`
	Temperature   float64 `json:"temperature,omitempty"`
	MaxTokens     int     `json:"max_tokens,omitempty"`
	ContextWindow int     `json:"context_window,omitempty"`
	TopK          int     `json:"top_k,omitempty"`
	TopP          float64 `json:"top_p,omitempty"`
	RepeatPenalty float64 `json:"repeat_penalty,omitempty"`
}

// options builds the upstream options map from params, filling defaults.
func (p Params) options() map[string]any {
	opts := map[string]any{
		"temperature":    DefaultTemperature,
		"num_predict":    DefaultMaxTokens,
		"num_ctx":        DefaultContextWindow,
		"top_k":          DefaultTopK,
		"top_p":          DefaultTopP,
		"repeat_penalty": DefaultRepeatPenalty,
	}
	if p.Temperature > 0 {
		opts["temperature"] = p.Temperature
	}
	if p.MaxTokens > 0 {
		opts["num_predict"] = p.MaxTokens
	}
	if p.ContextWindow > 0 {
		opts["num_ctx"] = p.ContextWindow
	}
	if p.TopK > 0 {
		opts["top_k"] = p.TopK
	}
	if p.TopP > 0 {
		opts["top_p"] = p.TopP
	}
	if p.RepeatPenalty > 0 {
		opts["repeat_penalty"] = p.RepeatPenalty
	}
	return opts
}

// Adapter produces a normalized event stream for one upstream exchange.
//
// A failure before any data is available is reported as the returned error
// and no channel is created. Once a channel is returned, failures are
// delivered as terminal event.KindError events. The channel is closed after
// the terminal event, or without one when ctx is cancelled by the caller.
type Adapter interface {
	Produce(ctx context.Context, messages []Message, params Params) (<-chan event.Event, error)
}
