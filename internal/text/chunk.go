package text

import "strings"

// DefaultByteLimit is the per-request input limit of the speech API, in bytes of SSML.
const DefaultByteLimit = 5000

// Chunk splits t into consecutive segments whose SSML rendering stays within byteLimit
// bytes. Segments are whole lines and keep their line terminators, so joining them
// reproduces t. A single line whose SSML exceeds the limit is returned as its own
// oversized segment rather than split mid-line; the engine decides whether to accept it.
func Chunk(t string, byteLimit int) []string {
	if byteLimit <= 0 {
		byteLimit = DefaultByteLimit
	}
	const wrapper = len(speakOpen) + len(speakClose)
	var (
		chunks []string
		buf    strings.Builder
		size   int // rendered body size of buf
	)
	for _, line := range splitLines(t) {
		n := len(ssmlBody(line))
		if buf.Len() > 0 && wrapper+size+n > byteLimit {
			chunks = append(chunks, buf.String())
			buf.Reset()
			size = 0
		}
		buf.WriteString(line)
		size += n
	}
	if buf.Len() > 0 {
		chunks = append(chunks, buf.String())
	}
	return chunks
}

// splitLines returns the lines of s, each including its trailing "\n" when present.
func splitLines(s string) []string {
	var lines []string
	for s != "" {
		i := strings.IndexByte(s, '\n')
		if i < 0 {
			lines = append(lines, s)
			break
		}
		lines = append(lines, s[:i+1])
		s = s[i+1:]
	}
	return lines
}
