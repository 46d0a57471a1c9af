package profile

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestLoadMissingProfileIsEmpty(t *testing.T) {
	s := newTestStore(t)
	p, err := s.Load("nobody")
	require.NoError(t, err)
	assert.Equal(t, "nobody", p.UserID)
	assert.Empty(t, p.Facts)
	assert.Empty(t, p.UserContext())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	p := &Profile{
		UserID: "alice",
		Preferences: Preferences{
			ResponseStyle: "concise",
			TTSVoice:      "en-GB-SoniaNeural",
			Topics:        []string{"astronomy", "cooking"},
		},
	}
	require.NoError(t, s.Save(p))

	got, err := s.Load("alice")
	require.NoError(t, err)
	assert.Equal(t, p.Preferences, got.Preferences)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestAddFactAndSummary(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddFact("bob", "my dog is called Rex"))
	require.NoError(t, s.AddFact("bob", "I live in Lisbon"))

	p, err := s.Load("bob")
	require.NoError(t, err)
	require.Len(t, p.Facts, 2)
	assert.Equal(t, "Conversation facts so far:\n- my dog is called Rex\n- I live in Lisbon", p.Summary())
}

func TestFactsCapEvictsOldest(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < maxFacts+5; i++ {
		require.NoError(t, s.AddFact("carol", fmt.Sprintf("fact %d", i)))
	}
	p, err := s.Load("carol")
	require.NoError(t, err)
	require.Len(t, p.Facts, maxFacts)
	assert.Equal(t, "fact 5", p.Facts[0].Text)
}

func TestUserContextCombinesPreferencesAndFacts(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(&Profile{
		UserID:      "dora",
		Preferences: Preferences{ResponseStyle: "casual", Topics: []string{"jazz"}},
	}))
	require.NoError(t, s.AddFact("dora", "allergic to peanuts"))

	p, err := s.Load("dora")
	require.NoError(t, err)
	ctx := p.UserContext()
	assert.Contains(t, ctx, "prefers casual responses")
	assert.Contains(t, ctx, "jazz")
	assert.Contains(t, ctx, "allergic to peanuts")
}

func TestCommitAsyncExtractsRememberStatements(t *testing.T) {
	s := newTestStore(t)

	s.CommitAsync("eve", "Remember that my birthday is in May.")
	require.Eventually(t, func() bool {
		p, err := s.Load("eve")
		return err == nil && len(p.Facts) == 1
	}, time.Second, 10*time.Millisecond)

	p, _ := s.Load("eve")
	assert.Equal(t, "my birthday is in May", p.Facts[0].Text)

	// Ordinary utterances are not stored.
	s.CommitAsync("eve", "what's the weather like")
	time.Sleep(50 * time.Millisecond)
	p, _ = s.Load("eve")
	assert.Len(t, p.Facts, 1)
}

func TestUnsafeUserIDsAreSanitized(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddFact("../escape/attempt", "contained"))
	p, err := s.Load("../escape/attempt")
	require.NoError(t, err)
	require.Len(t, p.Facts, 1)
}
