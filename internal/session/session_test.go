package session

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wordCounter counts whitespace-separated words, making token budgets easy
// to reason about in tests.
type wordCounter struct{}

func (wordCounter) CountTokens(text string) int { return len(strings.Fields(text)) }

func newTestSession(limits Limits) *Session {
	return New("s1", "default", limits, wordCounter{})
}

func TestNewSessionSeedsSystemPrompt(t *testing.T) {
	s := New("abc", "casual", DefaultLimits(), wordCounter{})
	history := s.History()
	require.Len(t, history, 1)
	assert.Equal(t, RoleSystem, history[0].Role)
	assert.Equal(t, PromptForMode("casual"), history[0].Content)
	assert.Equal(t, "casual", s.Mode())
	assert.Equal(t, "abc", s.ID())
}

func TestAddMessagesAppendInOrder(t *testing.T) {
	s := newTestSession(DefaultLimits())
	s.AddUserMessage("hello")
	s.AddAssistantMessage("hi there")
	s.AddUserMessage("how are you")

	history := s.History()
	require.Len(t, history, 4)
	assert.Equal(t, RoleUser, history[1].Role)
	assert.Equal(t, RoleAssistant, history[2].Role)
	assert.Equal(t, "how are you", history[3].Content)
}

func TestTrimByPairBudget(t *testing.T) {
	s := newTestSession(Limits{MaxHistoryTokens: 100000, MaxHistoryPairs: 2})
	for i := 1; i <= 4; i++ {
		s.AddUserMessage(fmt.Sprintf("question %d", i))
		s.AddAssistantMessage(fmt.Sprintf("answer %d", i))
	}

	history := s.History()
	// system + 2 pairs
	require.Len(t, history, 5)
	assert.Equal(t, RoleSystem, history[0].Role)
	assert.Equal(t, "question 3", history[1].Content)
	assert.Equal(t, "answer 3", history[2].Content)
	assert.Equal(t, "question 4", history[3].Content)
	assert.Equal(t, "answer 4", history[4].Content)
}

func TestTrimByTokenBudget(t *testing.T) {
	// Each message is 5 words; the budget forces old pairs out.
	s := newTestSession(Limits{MaxHistoryTokens: 40, MaxHistoryPairs: 100})
	for i := 0; i < 6; i++ {
		s.AddUserMessage("one two three four five")
		s.AddAssistantMessage("six seven eight nine ten")
	}

	assert.LessOrEqual(t, s.TotalTokens(), 40)
	history := s.History()
	assert.Equal(t, RoleSystem, history[0].Role)
	// Trimming drops whole user/assistant pairs from the front.
	assert.Equal(t, RoleUser, history[1].Role)
}

func TestTrimNeverDropsBelowFloor(t *testing.T) {
	// A single oversized exchange stays: the floor keeps the system prompt
	// plus the latest pair even over budget.
	s := newTestSession(Limits{MaxHistoryTokens: 1, MaxHistoryPairs: 5})
	s.AddUserMessage("this question alone blows the whole token budget")
	s.AddAssistantMessage("and this answer certainly does too")

	history := s.History()
	require.Len(t, history, 3)
	assert.Equal(t, RoleUser, history[1].Role)
	assert.Equal(t, RoleAssistant, history[2].Role)
}

func TestTrimIsIdempotent(t *testing.T) {
	s := newTestSession(Limits{MaxHistoryTokens: 30, MaxHistoryPairs: 2})
	for i := 0; i < 5; i++ {
		s.AddUserMessage("a b c d")
		s.AddAssistantMessage("e f g h")
	}
	before := s.History()
	s.Trim()
	assert.Equal(t, before, s.History())
}

func TestChangeModeSwapsPromptInPlace(t *testing.T) {
	s := newTestSession(DefaultLimits())
	s.AddUserMessage("hello")
	s.AddAssistantMessage("hi")

	s.ChangeMode("tech_support")
	history := s.History()
	require.Len(t, history, 3)
	assert.Equal(t, PromptForMode("tech_support"), history[0].Content)
	assert.Equal(t, "hello", history[1].Content, "conversation survives a mode change")
	assert.Equal(t, "tech_support", s.Mode())
}

func TestChangeModeIgnoresUnknownMode(t *testing.T) {
	s := newTestSession(DefaultLimits())
	s.ChangeMode("pirate")
	assert.Equal(t, "default", s.Mode())
	assert.Equal(t, PromptForMode("default"), s.History()[0].Content)
}

func TestSessionJSONRoundTrip(t *testing.T) {
	s := newTestSession(DefaultLimits())
	s.AddUserMessage("remember me")
	s.AddAssistantMessage("noted")

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var restored Session
	require.NoError(t, json.Unmarshal(data, &restored))
	restored.limits = DefaultLimits()
	restored.tokenizer = wordCounter{}

	assert.Equal(t, s.ID(), restored.ID())
	assert.Equal(t, s.Mode(), restored.Mode())
	assert.Equal(t, s.History(), restored.History())

	// The restored session keeps trimming correctly.
	restored.AddUserMessage("still works")
	assert.Equal(t, "still works", restored.History()[3].Content)
}

func TestIsInactive(t *testing.T) {
	s := newTestSession(DefaultLimits())
	assert.False(t, s.IsInactive(time.Minute))

	s.AddUserMessage("ping")
	assert.False(t, s.IsInactive(time.Minute))
	assert.True(t, s.IsInactive(0))
}

func TestPromptForModeFallsBackToDefault(t *testing.T) {
	assert.Equal(t, modePrompts["default"], PromptForMode("nope"))
	assert.True(t, KnownMode("concise"))
	assert.False(t, KnownMode("nope"))
}
