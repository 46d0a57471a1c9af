package pipeline

import (
	"regexp"
	"strings"
)

// SentenceBuffer accumulates streamed tokens and yields complete sentences.
// Feeding tokens incrementally produces the same sentence sequence as one
// final pass over the whole text; the trailing unterminated fragment stays
// buffered until more tokens arrive or Flush is called.
type SentenceBuffer struct {
	buf strings.Builder
}

// Feed appends a token and returns every sentence completed by it, in order.
// Returns nil when no new sentence boundary was reached.
func (s *SentenceBuffer) Feed(token string) []string {
	s.buf.WriteString(token)
	sentences, remainder := splitSentences(s.buf.String())
	if len(sentences) == 0 {
		return nil
	}
	s.buf.Reset()
	s.buf.WriteString(remainder)
	return sentences
}

// Flush returns the remaining buffered fragment, trimmed, and resets the buffer.
func (s *SentenceBuffer) Flush() string {
	text := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	return text
}

// Pending returns the current unterminated fragment without consuming it.
func (s *SentenceBuffer) Pending() string {
	return s.buf.String()
}

var sentenceEnders = map[byte]bool{'.': true, '!': true, '?': true}

// splitSentences splits text at every sentence ender (.!?) followed by
// whitespace. The trailing fragment is returned as remainder; a terminal
// ender with nothing after it stays in the remainder, since the next token
// could extend it (e.g. "3." followed by "5"). Whitespace-only sentences
// are dropped.
func splitSentences(text string) ([]string, string) {
	var sentences []string
	start := 0
	for i := 0; i+1 < len(text); i++ {
		if !sentenceEnders[text[i]] || !isWordBoundary(text[i+1]) {
			continue
		}
		if s := strings.TrimSpace(text[start : i+1]); s != "" {
			sentences = append(sentences, s)
		}
		start = i + 1
	}
	return sentences, text[start:]
}

func isWordBoundary(ch byte) bool {
	return ch == ' ' || ch == '\n' || ch == '\t' || ch == '\r'
}

var (
	markdownLink    = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	markdownMarkers = regexp.MustCompile("[*`#_]")
	whitespaceRuns  = regexp.MustCompile(`\s+`)
)

// CleanForSpeech strips markdown artifacts that read badly when spoken:
// links collapse to their display text, emphasis/code/heading markers are
// removed, and whitespace runs become single spaces.
func CleanForSpeech(text string) string {
	if text == "" {
		return ""
	}
	text = markdownLink.ReplaceAllString(text, "$1")
	text = markdownMarkers.ReplaceAllString(text, "")
	text = whitespaceRuns.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
