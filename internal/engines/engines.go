// Package engines holds the external stages of the PDF-to-audio pipeline: text extraction,
// punctuation improvement and speech synthesis. Each stage is an interface so the worker can
// be exercised with in-memory fakes.
package engines

import (
	"context"
	"errors"
)

// ErrEmptyText is returned by extractors when a document yields no text.
var ErrEmptyText = errors.New("no text extracted")

// Extractor returns the raw text of the document at path.
type Extractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

// Improver rewrites cleaned text for better reading. Failures are not fatal to the pipeline.
type Improver interface {
	Improve(ctx context.Context, text string) (string, error)
}

// Synthesizer renders one chunk of text as MP3 audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, chunk string) ([]byte, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, path string) (string, error)

func (f ExtractorFunc) Extract(ctx context.Context, path string) (string, error) { return f(ctx, path) }

// ImproverFunc adapts a function to Improver.
type ImproverFunc func(ctx context.Context, text string) (string, error)

func (f ImproverFunc) Improve(ctx context.Context, text string) (string, error) { return f(ctx, text) }

// SynthesizerFunc adapts a function to Synthesizer.
type SynthesizerFunc func(ctx context.Context, chunk string) ([]byte, error)

func (f SynthesizerFunc) Synthesize(ctx context.Context, chunk string) ([]byte, error) {
	return f(ctx, chunk)
}

// Passthrough is the Improver used when no generative model is configured.
var Passthrough = ImproverFunc(func(_ context.Context, text string) (string, error) {
	return text, nil
})
