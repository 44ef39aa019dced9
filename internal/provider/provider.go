// Package provider implements the pluggable embedding provider interface
// (spec.md §4.4): a narrow {embed_text, embed_texts} capability set with a
// remote HTTP implementation and a deterministic mock used in tests.
package provider

import (
	"context"

	"github.com/trans/memo/internal/errs"
)

// Provider embeds text into dense vectors. Implementations must return
// vectors of exactly Dimensions() length, in input order, and report
// failures as errors rather than partial results.
type Provider interface {
	// EmbedText embeds a single string, returning its vector and an
	// estimated token count.
	EmbedText(ctx context.Context, text string) ([]float32, int, error)

	// EmbedTexts embeds a batch, returning per-text vectors and token
	// counts plus the summed token count across the batch.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, []int, int, error)

	// Dimensions is the fixed output vector length for this provider.
	Dimensions() int

	// ModelName identifies the backing model, used to namespace caches.
	ModelName() string
}

// Registry maps a format name ("openai", "mock", ...) to a constructor.
// New formats register themselves in an init() in their own file, keeping
// the registry open to extension without touching this package.
var registry = map[string]func(Config) (Provider, error){}

// Register adds a constructor for format to the registry. Called from
// package init; panics on duplicate registration, which is a programmer error.
func Register(format string, ctor func(Config) (Provider, error)) {
	if _, exists := registry[format]; exists {
		panic("provider: duplicate registration for format " + format)
	}
	registry[format] = ctor
}

// Config carries the construction parameters for any registered format.
// Fields not used by a given format are ignored.
type Config struct {
	Format     string
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	MaxTokens  int
}

// New constructs a Provider for cfg.Format. Unknown formats and missing
// API keys for openai-family formats are configuration errors raised at
// Service bind (spec.md §7).
func New(cfg Config) (Provider, error) {
	ctor, ok := registry[cfg.Format]
	if !ok {
		return nil, errs.New(errs.CodeUnknownFormat, "unknown provider format: "+cfg.Format, nil).
			WithDetail("format", cfg.Format)
	}
	return ctor(cfg)
}
