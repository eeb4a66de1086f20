package engines

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// DefaultGeminiModel is used when no model name is configured.
const DefaultGeminiModel = "gemini-1.5-pro"

const improvePrompt = `Você recebe a transcrição bruta de uma aula extraída de um PDF.
Reorganize o conteúdo em parágrafos claros e corrija a pontuação.
Preserve todas as informações importantes e não invente nada.
Remova repetições e elementos irrelevantes como nomes de arquivos ou datas de postagem.
Responda apenas com o texto reorganizado.`

// GeminiImprover improves punctuation and structure with a Gemini model.
type GeminiImprover struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

// NewGeminiImprover creates a Gemini client authenticated with apiKey.
func NewGeminiImprover(ctx context.Context, apiKey, model string, logger *zap.Logger) (*GeminiImprover, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key not configured")
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &GeminiImprover{client: client, model: model, logger: logger}, nil
}

// Improve sends text to the model and returns the concatenated text parts of the first candidate.
func (g *GeminiImprover) Improve(ctx context.Context, text string) (string, error) {
	model := g.client.GenerativeModel(g.model)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(improvePrompt)}}

	resp, err := model.GenerateContent(ctx, genai.Text(text))
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("gemini returned no candidates")
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", fmt.Errorf("gemini returned empty text")
	}
	g.logger.Debug("text improved", zap.Int("in_bytes", len(text)), zap.Int("out_bytes", len(out)))
	return out, nil
}

// Close releases the underlying client.
func (g *GeminiImprover) Close() error {
	return g.client.Close()
}
