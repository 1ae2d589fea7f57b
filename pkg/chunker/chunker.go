// Package chunker segments streamed model text into speakable units so that
// synthesis can start before the full reply has been generated.
package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMinLength is the buffered length at which text is flushed even
// without a sentence terminal.
const DefaultMinLength = 30

// Chunk splits accumulated text into chunks ready for synthesis and the
// remainder that should keep accumulating.
//
// A chunk ends at a sentence terminal (. ! ?) followed by whitespace. When no
// terminal is found and the buffer is longer than minLength, the buffer is
// flushed anyway: whole if it ends on a word end, otherwise up to the last
// whitespace so a partially streamed word stays in the remainder.
func Chunk(accumulated string, minLength int) ([]string, string) {
	if minLength <= 0 {
		minLength = DefaultMinLength
	}

	var chunks []string
	rest := accumulated

	for {
		cut := sentenceBoundary(rest)
		if cut > 0 {
			if c := strings.TrimSpace(rest[:cut]); c != "" {
				chunks = append(chunks, c)
			}
			rest = rest[cut:]
			continue
		}
		break
	}

	if utf8.RuneCountInString(strings.TrimSpace(rest)) > minLength {
		cut := lengthCut(rest)
		if cut > 0 {
			if c := strings.TrimSpace(rest[:cut]); c != "" {
				chunks = append(chunks, c)
			}
			rest = rest[cut:]
		}
	}

	if strings.TrimSpace(rest) == "" {
		rest = ""
	}
	return chunks, rest
}

// sentenceBoundary returns the byte offset just past the first terminal that
// is followed by whitespace, or 0 when there is none.
func sentenceBoundary(s string) int {
	for i := 0; i < len(s); i++ {
		if !isTerminal(s[i]) {
			continue
		}
		j := i + 1
		// Absorb runs like "?!" or "..." before checking for whitespace.
		for j < len(s) && isTerminal(s[j]) {
			j++
		}
		if j < len(s) {
			r, _ := utf8.DecodeRuneInString(s[j:])
			if unicode.IsSpace(r) {
				return j
			}
		}
		i = j - 1
	}
	return 0
}

func lengthCut(s string) int {
	trimmed := strings.TrimRightFunc(s, unicode.IsSpace)
	if len(trimmed) < len(s) {
		return len(s)
	}
	if trimmed != "" && isTerminal(trimmed[len(trimmed)-1]) {
		return len(s)
	}
	idx := strings.LastIndexFunc(s, unicode.IsSpace)
	if idx <= 0 {
		return 0
	}
	return idx
}

func isTerminal(b byte) bool {
	return b == '.' || b == '!' || b == '?'
}

// Accumulator applies Chunk incrementally to a token stream.
type Accumulator struct {
	minLength int
	buf       strings.Builder
}

func NewAccumulator(minLength int) *Accumulator {
	if minLength <= 0 {
		minLength = DefaultMinLength
	}
	return &Accumulator{minLength: minLength}
}

// Push appends a token and returns any chunks that became ready.
func (a *Accumulator) Push(token string) []string {
	a.buf.WriteString(token)
	chunks, rest := Chunk(a.buf.String(), a.minLength)
	a.buf.Reset()
	a.buf.WriteString(rest)
	return chunks
}

// Flush returns the trailing partial sentence, if any, and empties the buffer.
func (a *Accumulator) Flush() string {
	rest := strings.TrimSpace(a.buf.String())
	a.buf.Reset()
	return rest
}
