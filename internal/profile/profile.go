// Package profile persists per-user preferences and remembered conversation
// facts as JSON files on disk.
package profile

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Preferences are the stable per-user settings applied to every turn.
type Preferences struct {
	ResponseStyle string   `json:"response_style,omitempty"`
	TTSVoice      string   `json:"tts_voice,omitempty"`
	Topics        []string `json:"topics,omitempty"`
}

// Fact is a single remembered statement extracted from conversation.
type Fact struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Profile is everything the gateway knows about one user.
type Profile struct {
	UserID      string      `json:"user_id"`
	Preferences Preferences `json:"preferences"`
	Facts       []Fact      `json:"facts,omitempty"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

const maxFacts = 50

// Summary renders remembered facts as a prompt fragment, empty when there
// are none.
func (p *Profile) Summary() string {
	if len(p.Facts) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Conversation facts so far:")
	for _, f := range p.Facts {
		b.WriteString("\n- ")
		b.WriteString(f.Text)
	}
	return b.String()
}

// UserContext renders preferences plus facts for injection into a turn.
func (p *Profile) UserContext() string {
	var parts []string
	if p.Preferences.ResponseStyle != "" {
		parts = append(parts, "The user prefers "+p.Preferences.ResponseStyle+" responses.")
	}
	if len(p.Preferences.Topics) > 0 {
		parts = append(parts, "The user is interested in: "+strings.Join(p.Preferences.Topics, ", ")+".")
	}
	if s := p.Summary(); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, "\n")
}

// Store reads and writes profiles under a data directory, one JSON file per
// user.
type Store struct {
	dir string
	mu  sync.Mutex
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

func (s *Store) path(userID string) string {
	return filepath.Join(s.dir, unsafeChars.ReplaceAllString(userID, "_")+".json")
}

// Load returns the stored profile, or a fresh empty one when none exists.
func (s *Store) Load(userID string) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path(userID))
	if os.IsNotExist(err) {
		return &Profile{UserID: userID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read profile %s: %w", userID, err)
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", userID, err)
	}
	p.UserID = userID
	return &p, nil
}

// Save writes the profile atomically via a temp file rename.
func (s *Store) Save(p *Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encode profile %s: %w", p.UserID, err)
	}
	path := s.path(p.UserID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write profile %s: %w", p.UserID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename profile %s: %w", p.UserID, err)
	}
	return nil
}

// AddFact appends a remembered statement, evicting the oldest past the cap.
func (s *Store) AddFact(userID, text string) error {
	p, err := s.Load(userID)
	if err != nil {
		return err
	}
	p.Facts = append(p.Facts, Fact{Text: text, Timestamp: time.Now()})
	if len(p.Facts) > maxFacts {
		p.Facts = p.Facts[len(p.Facts)-maxFacts:]
	}
	return s.Save(p)
}

var rememberPattern = regexp.MustCompile(`(?i)^(?:please )?remember that (.+)$`)

// CommitAsync inspects a finished turn for "remember that ..." statements
// and persists them without blocking the caller.
func (s *Store) CommitAsync(userID, userText string) {
	m := rememberPattern.FindStringSubmatch(strings.TrimSpace(userText))
	if m == nil {
		return
	}
	fact := strings.TrimSuffix(strings.TrimSpace(m[1]), ".")
	go func() {
		if err := s.AddFact(userID, fact); err != nil {
			slog.Warn("profile fact write failed", "user_id", userID, "error", err)
		}
	}()
}
