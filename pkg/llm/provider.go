package llm

import (
	"context"
	"iter"
)

// Message represents a chat message in a provider-agnostic format
type Message struct {
	Role    string // "user", "assistant", "system"
	Content string
}

// Option allows for optional parameters like Temperature, MaxTokens, etc.
type Option func(*Options)

type Options struct {
	Temperature float64
	MaxTokens   int
	Model       string // Override default model
}

func WithTemperature(temp float64) Option {
	return func(o *Options) {
		o.Temperature = temp
	}
}

func WithModel(model string) Option {
	return func(o *Options) {
		o.Model = model
	}
}

func WithMaxTokens(n int) Option {
	return func(o *Options) {
		o.MaxTokens = n
	}
}

// ApplyOptions resolves opts over the given default temperature.
func ApplyOptions(defaultTemperature float64, opts ...Option) *Options {
	options := &Options{Temperature: defaultTemperature}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// LLMProvider defines the contract for any LLM backend
type LLMProvider interface {
	// Chat sends a chat history to the model and returns the response
	Chat(ctx context.Context, history []Message, options ...Option) (string, error)

	// Generate sends a single prompt to the model (convenience method)
	Generate(ctx context.Context, prompt string, options ...Option) (string, error)

	// StreamChat yields response tokens as they are produced. The sequence is
	// finite and single-use; stopping the iteration releases the request.
	// A failure is yielded once as a non-nil error and ends the sequence.
	StreamChat(ctx context.Context, history []Message, options ...Option) iter.Seq2[string, error]
}

// StreamGenerate is StreamChat over a single user prompt.
func StreamGenerate(ctx context.Context, p LLMProvider, prompt string, options ...Option) iter.Seq2[string, error] {
	return p.StreamChat(ctx, []Message{{Role: "user", Content: prompt}}, options...)
}
