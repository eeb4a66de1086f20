// Package text normalises extracted lecture text and splits it into byte-bounded
// chunks for speech synthesis.
package text

import (
	"regexp"
	"strings"
)

var (
	trailingBlank = regexp.MustCompile(`[ \t]+\n`)
	manyBreaks    = regexp.MustCompile(`\n{2,}`)
	manySpaces    = regexp.MustCompile(` {2,}`)
)

// Clean normalises raw extracted text: trailing whitespace before line breaks is removed,
// runs of blank lines collapse to one blank line, single line breaks inside a paragraph
// become spaces, runs of spaces collapse and the result is trimmed.
// Clean(Clean(s)) == Clean(s) for every s.
func Clean(raw string) string {
	if raw == "" {
		return ""
	}
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = trailingBlank.ReplaceAllString(s, "\n")
	s = manyBreaks.ReplaceAllString(s, "\n\n")

	paragraphs := strings.Split(s, "\n\n")
	for i, p := range paragraphs {
		paragraphs[i] = strings.ReplaceAll(p, "\n", " ")
	}
	s = strings.Join(paragraphs, "\n\n")

	s = manySpaces.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
