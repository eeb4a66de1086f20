package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/aulavoz/backend/internal/engines"
)

// StageOptions selects the production engines.
type StageOptions struct {
	GeminiAPIKey string // empty disables improvement
	GeminiModel  string
	TTS          engines.TTSConfig
}

// NewStages builds the MuPDF extractor, the Cloud TTS synthesizer and, when a key is set, the
// Gemini improver. The returned close func releases the API clients.
func NewStages(ctx context.Context, opts StageOptions, logger *zap.Logger) (Stages, func(), error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	synth, err := engines.NewGoogleSynthesizer(ctx, opts.TTS)
	if err != nil {
		return Stages{}, nil, fmt.Errorf("synthesizer: %w", err)
	}
	closers := []func() error{synth.Close}
	stages := Stages{
		Extractor:   engines.NewFitzExtractor(),
		Improver:    engines.Passthrough,
		Synthesizer: synth,
	}

	if opts.GeminiAPIKey != "" {
		improver, err := engines.NewGeminiImprover(ctx, opts.GeminiAPIKey, opts.GeminiModel, logger)
		if err != nil {
			_ = synth.Close()
			return Stages{}, nil, fmt.Errorf("improver: %w", err)
		}
		stages.Improver = improver
		closers = append(closers, improver.Close)
	} else {
		logger.Warn("GEMINI_API_KEY not set, text improvement disabled")
	}

	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn("close engine client", zap.Error(err))
			}
		}
	}
	return stages, closeAll, nil
}
