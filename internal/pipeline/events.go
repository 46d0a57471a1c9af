package pipeline

// Client-facing event types sent over the duplex connection.
const (
	EventConnectionAck      = "connection_ack"
	EventPong               = "pong"
	EventStreamStart        = "stream_start"
	EventTextChunk          = "text_chunk"
	EventTTSAudio           = "tts_audio"
	EventTTSError           = "tts_error"
	EventStreamEnd          = "stream_end"
	EventError              = "error"
	EventTranscription      = "transcription_result"
	EventTranscriptionError = "transcription_error"
)

// Event is one message to the client. Timestamp is stamped by the transport
// at send time and is monotonically non-decreasing per connection.
type Event struct {
	Type         string  `json:"type"`
	Timestamp    float64 `json:"timestamp"`
	MessageID    string  `json:"message_id,omitempty"`
	Text         string  `json:"text,omitempty"`
	Message      string  `json:"message,omitempty"`
	FullResponse string  `json:"full_response,omitempty"`
	Audio        string  `json:"audio,omitempty"`
	Format       string  `json:"format,omitempty"`
	PartID       string  `json:"part_id,omitempty"`
	Status       string  `json:"status,omitempty"`
}

// EventFunc delivers one event to the client. It returns an error once the
// client connection is gone; all later calls keep failing.
type EventFunc func(Event) error
