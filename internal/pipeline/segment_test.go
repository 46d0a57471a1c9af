package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestSentenceBufferFeed(t *testing.T) {
	var sb SentenceBuffer

	got := sb.Feed("Hello world. ")
	require.Equal(t, []string{"Hello world."}, got)

	got = sb.Feed("How are you? ")
	require.Equal(t, []string{"How are you?"}, got)

	got = sb.Feed("I")
	assert.Nil(t, got)
	assert.Equal(t, "I", sb.Pending())
}

func TestSentenceBufferMultipleSentencesInOneToken(t *testing.T) {
	var sb SentenceBuffer
	got := sb.Feed("First. Second! Third? trailing")
	require.Equal(t, []string{"First.", "Second!", "Third?"}, got)
	assert.Equal(t, "trailing", sb.Pending())
}

func TestSentenceBufferTerminalEnderStaysBuffered(t *testing.T) {
	// "3." could be the start of "3.5", so a trailing ender with nothing
	// after it must not complete a sentence yet.
	var sb SentenceBuffer
	assert.Nil(t, sb.Feed("pi is 3."))
	got := sb.Feed("5 roughly. ")
	require.Equal(t, []string{"pi is 3.5 roughly."}, got)
}

func TestSentenceBufferFlush(t *testing.T) {
	var sb SentenceBuffer
	sb.Feed("Done. And one more")
	assert.Equal(t, "And one more", sb.Flush())
	assert.Empty(t, sb.Pending())
	assert.Empty(t, sb.Flush())
}

func TestSentenceBufferWhitespaceOnlySegmentsDropped(t *testing.T) {
	var sb SentenceBuffer
	got := sb.Feed("Hi. . . Ok. ")
	assert.Equal(t, []string{"Hi.", ".", ".", "Ok."}, got)

	sb = SentenceBuffer{}
	got = sb.Feed("!  \n ")
	assert.Equal(t, []string{"!"}, got)
	assert.Empty(t, sb.Flush())
}

// Feeding text in arbitrary chunk splits must yield the same sentences,
// modulo surrounding whitespace, as feeding it in one piece.
func TestSentenceBufferSplitInvariance(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		text := rapid.StringMatching(`[a-zA-Z .!?\n]{0,80}`).Draw(t, "text")

		var whole SentenceBuffer
		expected := whole.Feed(text)
		if tail := whole.Flush(); tail != "" {
			expected = append(expected, tail)
		}

		var chunked SentenceBuffer
		var got []string
		rest := text
		for len(rest) > 0 {
			n := rapid.IntRange(1, len(rest)).Draw(t, "chunk")
			got = append(got, chunked.Feed(rest[:n])...)
			rest = rest[n:]
		}
		if tail := chunked.Flush(); tail != "" {
			got = append(got, tail)
		}

		if strings.Join(expected, " ") != strings.Join(got, " ") {
			t.Fatalf("split changed segmentation: %q vs %q", expected, got)
		}
	})
}

func TestCleanForSpeech(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Hello there.", "Hello there."},
		{"link", "See [the docs](https://example.com) here.", "See the docs here."},
		{"emphasis", "This is *very* **important**.", "This is very important."},
		{"code", "Run `go build` now.", "Run go build now."},
		{"heading", "## Setup\nFirst step.", "Setup First step."},
		{"whitespace", "a   b\n\nc\te", "a b c e"},
		{"empty", "", ""},
		{"only markers", "***", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanForSpeech(tt.in))
		})
	}
}
