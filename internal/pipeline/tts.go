package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/voicebridge/gateway/internal/metrics"
)

// SynthesisOptions holds per-call voice tuning. Speed and pitch are clamped
// to [0.5, 2.0] before they reach the synthesis service.
type SynthesisOptions struct {
	Voice string
	Speed float64
	Pitch float64
}

// SynthesisResult is decoded audio returned by the synthesis service.
type SynthesisResult struct {
	Audio  []byte
	Format string
}

// Synthesizer produces audio from a text segment.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, opts SynthesisOptions) (*SynthesisResult, error)
}

// TTSRouter dispatches to a named synthesis backend and records latency.
type TTSRouter struct {
	*Router[Synthesizer]
}

// NewTTSRouter creates a router with registered synthesis backends.
func NewTTSRouter(backends map[string]Synthesizer, fallback string) *TTSRouter {
	return &TTSRouter{Router: NewRouter(backends, fallback)}
}

// Synthesize routes to the backend for engine and synthesizes one segment.
func (r *TTSRouter) Synthesize(ctx context.Context, text, engine string, opts SynthesisOptions) (*SynthesisResult, error) {
	backend, err := r.Route(engine)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := backend.Synthesize(ctx, text, opts)
	if err != nil {
		metrics.Errors.WithLabelValues("tts", "synth").Inc()
		return nil, err
	}
	metrics.StageDuration.WithLabelValues("tts").Observe(time.Since(start).Seconds())
	return result, nil
}

// HTTPSynthesizer calls a synthesis service over plain HTTP: POST
// {text, voice, speed, pitch}, response {audio_data(base64), format}.
type HTTPSynthesizer struct {
	url           string
	defaultVoice  string
	minAudioBytes int
	client        *http.Client
}

// NewHTTPSynthesizer creates a synthesis client. minAudioBytes of 0 disables
// the small-output guard.
func NewHTTPSynthesizer(url, defaultVoice string, minAudioBytes int, client *http.Client) *HTTPSynthesizer {
	return &HTTPSynthesizer{
		url:           url,
		defaultVoice:  defaultVoice,
		minAudioBytes: minAudioBytes,
		client:        client,
	}
}

type synthesisRequest struct {
	Text  string  `json:"text"`
	Voice string  `json:"voice"`
	Speed float64 `json:"speed"`
	Pitch float64 `json:"pitch"`
}

type synthesisResponse struct {
	AudioData string `json:"audio_data"`
	Format    string `json:"format"`
}

// Synthesize sends one text segment to the synthesis service and decodes
// the returned audio. Empty or undersized audio is an error.
func (s *HTTPSynthesizer) Synthesize(ctx context.Context, text string, opts SynthesisOptions) (*SynthesisResult, error) {
	voice := opts.Voice
	if voice == "" {
		voice = s.defaultVoice
	}

	body, err := json.Marshal(synthesisRequest{
		Text:  text,
		Voice: voice,
		Speed: clamp(opts.Speed, 0.5, 2.0),
		Pitch: clamp(opts.Pitch, 0.5, 2.0),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal synthesis request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.url+"/synthesize", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create synthesis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("synthesis request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("synthesis status %d", resp.StatusCode)
	}

	var out synthesisResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode synthesis response: %w", err)
	}
	if out.AudioData == "" {
		return nil, fmt.Errorf("synthesis returned no audio")
	}

	audio, err := base64.StdEncoding.DecodeString(out.AudioData)
	if err != nil {
		return nil, fmt.Errorf("decode synthesis audio: %w", err)
	}
	if len(audio) < s.minAudioBytes {
		return nil, fmt.Errorf("synthesis audio too small: %d bytes", len(audio))
	}

	format := out.Format
	if format == "" {
		format = "wav"
	}
	return &SynthesisResult{Audio: audio, Format: format}, nil
}

func clamp(val, minVal, maxVal float64) float64 {
	if val < minVal {
		return minVal
	}
	if val > maxVal {
		return maxVal
	}
	return val
}
