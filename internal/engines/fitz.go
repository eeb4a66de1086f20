package engines

import (
	"context"
	"fmt"
	"strings"

	"github.com/gen2brain/go-fitz"
)

// FitzExtractor extracts page text with MuPDF.
type FitzExtractor struct{}

// NewFitzExtractor creates a MuPDF-backed extractor.
func NewFitzExtractor() *FitzExtractor { return &FitzExtractor{} }

// Extract concatenates the text of every page, separated by blank lines.
func (e *FitzExtractor) Extract(ctx context.Context, path string) (string, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	pages := doc.NumPage()
	if pages == 0 {
		return "", ErrEmptyText
	}

	var b strings.Builder
	for n := 0; n < pages; n++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}
		page, err := doc.Text(n)
		if err != nil {
			return "", fmt.Errorf("extract page %d: %w", n+1, err)
		}
		page = strings.TrimSpace(page)
		if page == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(page)
	}
	if b.Len() == 0 {
		return "", ErrEmptyText
	}
	return b.String(), nil
}
