package session

// Message roles, matching the wire format of the generation service.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of a conversation history. Immutable once appended.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Mode system prompts. The default is used for unknown modes.
var modePrompts = map[string]string{
	"default":      "You are a helpful, conversational assistant. Speak clearly and naturally. Respond like you're having a friendly conversation, not reading from a script.",
	"casual":       "You're a friendly assistant chatting informally. Keep your responses brief and conversational.",
	"tech_support": "You are a calm technical assistant helping users with their devices. Provide clear step-by-step instructions.",
	"concise":      "You are a helpful assistant that provides brief, to-the-point responses.",
}

// PromptForMode returns the system prompt for a conversation mode.
func PromptForMode(mode string) string {
	if p, ok := modePrompts[mode]; ok {
		return p
	}
	return modePrompts["default"]
}

// KnownMode reports whether mode has a dedicated system prompt.
func KnownMode(mode string) bool {
	_, ok := modePrompts[mode]
	return ok
}
