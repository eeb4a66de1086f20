package text

import (
	"regexp"
	"strings"
)

var (
	headingMarker = regexp.MustCompile(`(?m)^[ \t]*#+[ \t]*`)
	boldMarker    = regexp.MustCompile(`\*\*(.*?)\*\*`)
	italicMarker  = regexp.MustCompile(`\*(.*?)\*`)
	bulletItem    = regexp.MustCompile(`(?m)^[ \t]*(?:[•▪◦●][ \t]*|\*[ \t]+)`)
	bulletGlyphs  = regexp.MustCompile(`[*#•▪◦●]`)
	dashListItem  = regexp.MustCompile(`(?m)^[ \t]*[-–][ \t]*`)
	dashSeparator = regexp.MustCompile(`[ \t]+[-–][ \t]+`)
	blankLines    = regexp.MustCompile(`\n{2,}`)
)

// CleanForSpeech strips markdown-like formatting that a speech engine would read aloud:
// heading markers, bold/italic markers, bullet glyphs and dash list markers. It runs right
// before chunking because the improvement stage may reintroduce such formatting.
// Hyphens inside words are kept.
func CleanForSpeech(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = headingMarker.ReplaceAllString(s, "")
	s = bulletItem.ReplaceAllString(s, "")
	s = boldMarker.ReplaceAllString(s, "$1")
	s = italicMarker.ReplaceAllString(s, "$1")
	s = bulletGlyphs.ReplaceAllString(s, "")
	s = dashListItem.ReplaceAllString(s, "")
	s = dashSeparator.ReplaceAllString(s, " ")
	s = blankLines.ReplaceAllString(s, "\n")
	return strings.TrimSpace(s)
}

const (
	sentenceBreak = `<break time="500ms"/>`
	lineBreak     = `<break time="700ms"/>`
)

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

const (
	speakOpen  = "<speak>"
	speakClose = "</speak>"
)

// SSML wraps s in the markup sent to the synthesizer: XML special characters are escaped,
// a short pause follows each period and each line break becomes a longer pause.
func SSML(s string) string {
	return speakOpen + ssmlBody(s) + speakClose
}

// ssmlBody renders s without the <speak> wrapper. Every substitution is per character, so
// ssmlBody(a+b) == ssmlBody(a)+ssmlBody(b).
func ssmlBody(s string) string {
	s = xmlEscaper.Replace(s)
	s = strings.ReplaceAll(s, ".", "."+sentenceBreak)
	return strings.ReplaceAll(s, "\n", lineBreak)
}
