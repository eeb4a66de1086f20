package engines

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPassthrough(t *testing.T) {
	out, err := Passthrough.Improve(context.Background(), "texto original")
	require.NoError(t, err)
	assert.Equal(t, "texto original", out)
}

func TestFuncAdapters(t *testing.T) {
	var ex Extractor = ExtractorFunc(func(_ context.Context, path string) (string, error) {
		return "text of " + path, nil
	})
	var syn Synthesizer = SynthesizerFunc(func(_ context.Context, chunk string) ([]byte, error) {
		return []byte(chunk), nil
	})

	txt, err := ex.Extract(context.Background(), "a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "text of a.pdf", txt)

	audio, err := syn.Synthesize(context.Background(), "olá")
	require.NoError(t, err)
	assert.Equal(t, []byte("olá"), audio)
}

func TestFitzExtractorMissingFile(t *testing.T) {
	_, err := NewFitzExtractor().Extract(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrEmptyText)
}
