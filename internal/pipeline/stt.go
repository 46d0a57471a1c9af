package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/voicebridge/gateway/internal/metrics"
)

// Transcription failure classes the client surfaces as user-facing messages
// rather than system errors.
var (
	ErrAudioTooShort   = errors.New("audio recording too short")
	ErrEmptyTranscript = errors.New("empty transcript")
)

// Transcriber converts recorded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// HTTPTranscriber sends audio as multipart form data to a transcription
// service and reads back {transcription}.
type HTTPTranscriber struct {
	url           string
	minAudioBytes int
	client        *http.Client
}

// NewHTTPTranscriber creates a transcription client. Payloads below
// minAudioBytes are rejected before any network call.
func NewHTTPTranscriber(url string, minAudioBytes int, client *http.Client) *HTTPTranscriber {
	return &HTTPTranscriber{url: url, minAudioBytes: minAudioBytes, client: client}
}

// Transcribe uploads one recording and returns its transcript.
func (t *HTTPTranscriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if len(audio) < t.minAudioBytes {
		return "", ErrAudioTooShort
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="audio.webm"`)
	header.Set("Content-Type", "audio/webm")
	part, err := w.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("create multipart: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("write audio part: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", t.url+"/transcribe/", &buf)
	if err != nil {
		return "", fmt.Errorf("create transcription request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		metrics.Errors.WithLabelValues("stt", "http").Inc()
		return "", fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.Errors.WithLabelValues("stt", "status").Inc()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("transcription status %d: %s", resp.StatusCode, body)
	}

	var out struct {
		Transcription string `json:"transcription"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode transcription response: %w", err)
	}

	metrics.StageDuration.WithLabelValues("stt").Observe(time.Since(start).Seconds())

	transcript := strings.TrimSpace(out.Transcription)
	if transcript == "" {
		return "", ErrEmptyTranscript
	}
	return transcript, nil
}
