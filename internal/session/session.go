// Package session manages per-client conversation state: bounded message
// history with token-budget and pair-count eviction, and the registry that
// owns session lifecycle.
package session

import (
	"encoding/json"
	"sync"
	"time"
)

// Limits bounds the conversation history kept per session.
type Limits struct {
	// MaxHistoryTokens is the token budget for the whole history.
	MaxHistoryTokens int
	// MaxHistoryPairs is the maximum number of user/assistant pairs kept.
	MaxHistoryPairs int
}

// DefaultLimits mirror the service defaults.
func DefaultLimits() Limits {
	return Limits{MaxHistoryTokens: 2000, MaxHistoryPairs: 5}
}

// Session holds one conversation: the system prompt at index 0 followed by
// alternating user/assistant messages, oldest first. All mutation goes
// through the session's own mutex so registry sweeps cannot race appends.
type Session struct {
	mu sync.Mutex

	id           string
	mode         string
	systemPrompt string
	history      []Message
	lastActivity time.Time

	limits    Limits
	tokenizer Tokenizer
}

// New creates a session seeded with the system prompt for mode.
func New(id, mode string, limits Limits, tok Tokenizer) *Session {
	prompt := PromptForMode(mode)
	return &Session{
		id:           id,
		mode:         mode,
		systemPrompt: prompt,
		history:      []Message{{Role: RoleSystem, Content: prompt}},
		lastActivity: time.Now(),
		limits:       limits,
		tokenizer:    tok,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Mode returns the current conversation mode.
func (s *Session) Mode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// History returns a copy of the conversation history.
func (s *Session) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.history))
	copy(out, s.history)
	return out
}

// AddUserMessage appends a user message, bumps activity, and trims.
func (s *Session) AddUserMessage(text string) {
	s.add(Message{Role: RoleUser, Content: text})
}

// AddAssistantMessage appends an assistant message, bumps activity, and trims.
func (s *Session) AddAssistantMessage(text string) {
	s.add(Message{Role: RoleAssistant, Content: text})
}

func (s *Session) add(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, msg)
	s.lastActivity = time.Now()
	s.trimLocked()
}

// Trim re-applies the history bounds. A no-op on an already-trimmed session.
func (s *Session) Trim() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trimLocked()
}

// trimLocked enforces the token budget first, then the pair-count budget.
// The system prompt at index 0 is never removed; trimming always drops the
// oldest user message together with the assistant message that follows it.
func (s *Session) trimLocked() {
	if len(s.history) <= 1 {
		return
	}

	for s.totalTokensLocked() > s.limits.MaxHistoryTokens && len(s.history) > 3 {
		s.history = append(s.history[:1], s.history[2:]...)
		if len(s.history) > 1 && s.history[1].Role == RoleAssistant {
			s.history = append(s.history[:1], s.history[2:]...)
		}
	}

	for s.userMessagesLocked() > s.limits.MaxHistoryPairs {
		s.dropOldestPairLocked()
	}
}

func (s *Session) dropOldestPairLocked() {
	for i, msg := range s.history {
		if msg.Role != RoleUser {
			continue
		}
		s.history = append(s.history[:i], s.history[i+1:]...)
		if i < len(s.history) && s.history[i].Role == RoleAssistant {
			s.history = append(s.history[:i], s.history[i+1:]...)
		}
		return
	}
}

func (s *Session) userMessagesLocked() int {
	n := 0
	for _, msg := range s.history {
		if msg.Role == RoleUser {
			n++
		}
	}
	return n
}

// TotalTokens returns the token count of the full history.
func (s *Session) TotalTokens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalTokensLocked()
}

func (s *Session) totalTokensLocked() int {
	total := 0
	for _, msg := range s.history {
		total += s.tokenizer.CountTokens(msg.Content)
	}
	return total
}

// ChangeMode swaps the system prompt at index 0 in place, inserting it if
// absent. The rest of the history is untouched. Unknown modes are ignored.
func (s *Session) ChangeMode(mode string) {
	if !KnownMode(mode) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
	s.systemPrompt = PromptForMode(mode)
	if len(s.history) > 0 && s.history[0].Role == RoleSystem {
		s.history[0].Content = s.systemPrompt
		return
	}
	s.history = append([]Message{{Role: RoleSystem, Content: s.systemPrompt}}, s.history...)
}

// IsInactive reports whether the session has seen no activity for timeout.
func (s *Session) IsInactive(timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivity) > timeout
}

// touch updates the activity timestamp without mutating history.
func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// sessionState is the serialized form of a Session.
type sessionState struct {
	SessionID    string    `json:"session_id"`
	Mode         string    `json:"mode"`
	SystemPrompt string    `json:"system_prompt"`
	History      []Message `json:"history"`
	LastActivity time.Time `json:"last_activity"`
}

// MarshalJSON serializes the full session state.
func (s *Session) MarshalJSON() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.Marshal(sessionState{
		SessionID:    s.id,
		Mode:         s.mode,
		SystemPrompt: s.systemPrompt,
		History:      s.history,
		LastActivity: s.lastActivity,
	})
}

// UnmarshalJSON restores a session serialized by MarshalJSON. The limits and
// tokenizer are re-attached by the registry on load.
func (s *Session) UnmarshalJSON(data []byte) error {
	var st sessionState
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}
	s.id = st.SessionID
	s.mode = st.Mode
	s.systemPrompt = st.SystemPrompt
	s.history = st.History
	s.lastActivity = st.LastActivity
	return nil
}
