package session

import (
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer counts tokens in a text string.
type Tokenizer interface {
	CountTokens(text string) int
}

// TiktokenCounter counts tokens with the cl100k_base encoding, falling back
// to a character-based estimate if the encoding cannot be initialized.
type TiktokenCounter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTokenizer returns the default tokenizer.
func NewTokenizer() *TiktokenCounter {
	return &TiktokenCounter{}
}

func (t *TiktokenCounter) init() {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			slog.Warn("tiktoken unavailable, using approximate token counting", "error", err)
			return
		}
		t.enc = enc
	})
}

// CountTokens counts tokens in text.
func (t *TiktokenCounter) CountTokens(text string) int {
	t.init()
	if t.enc == nil {
		return EstimateCounter{}.CountTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// EstimateCounter approximates token counts as len(text)/4, rounded down.
type EstimateCounter struct{}

func (EstimateCounter) CountTokens(text string) int {
	return len(text) / 4
}
