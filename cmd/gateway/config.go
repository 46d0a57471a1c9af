package main

import (
	"time"

	"github.com/voicebridge/gateway/internal/env"
)

type config struct {
	Port string

	LLMBaseURL    string
	OllamaModel   string
	LLMMaxTokens  int
	LLMTimeout    time.Duration
	OpenAIBaseURL string
	OpenAIAPIKey  string

	TTSServiceURL    string
	DefaultVoice     string
	TTSSpeed         float64
	TTSPitch         float64
	TTSTimeout       time.Duration
	TTSMaxInflight   int
	TTSMinAudioBytes int

	STTServiceURL    string
	STTMinAudioBytes int
	STTTimeout       time.Duration

	MaxHistoryTokens     int
	MaxHistoryPairs      int
	SessionTimeout       time.Duration
	SessionSweepInterval time.Duration
	SessionsFile         string

	DataDir            string
	MaxConcurrentConns int
	HTTPPoolSize       int

	TimeAPIURL      string
	WikipediaAPIURL string

	TraceDBURL string
}

func loadConfig() config {
	return config{
		Port: env.Str("GATEWAY_PORT", "8000"),

		LLMBaseURL:    env.Str("LLM_BASE_URL", "http://localhost:11434"),
		OllamaModel:   env.Str("OLLAMA_MODEL", "llama3"),
		LLMMaxTokens:  env.Int("LLM_MAX_TOKENS", 512),
		LLMTimeout:    env.Seconds("LLM_TIMEOUT", 45*time.Second),
		OpenAIBaseURL: env.Str("OPENAI_BASE_URL", ""),
		OpenAIAPIKey:  env.Str("OPENAI_API_KEY", ""),

		TTSServiceURL:    env.Str("TTS_SERVICE_URL", "http://localhost:8003"),
		DefaultVoice:     env.Str("DEFAULT_VOICE", "en-US-JennyNeural"),
		TTSSpeed:         env.Float("TTS_SPEED", 1.0),
		TTSPitch:         env.Float("TTS_PITCH", 1.0),
		TTSTimeout:       env.Seconds("TTS_TIMEOUT", 20*time.Second),
		TTSMaxInflight:   env.Int("TTS_MAX_INFLIGHT", 0),
		TTSMinAudioBytes: env.Int("TTS_MIN_AUDIO_BYTES", 0),

		STTServiceURL:    env.Str("STT_SERVICE_URL", "http://localhost:8001"),
		STTMinAudioBytes: env.Int("STT_MIN_AUDIO_BYTES", 1000),
		STTTimeout:       env.Seconds("STT_TIMEOUT", 30*time.Second),

		MaxHistoryTokens:     env.Int("MAX_HISTORY_TOKENS", 2000),
		MaxHistoryPairs:      env.Int("MAX_HISTORY_PAIRS", 5),
		SessionTimeout:       env.Seconds("SESSION_TIMEOUT", 3600*time.Second),
		SessionSweepInterval: env.Seconds("SESSION_SWEEP_INTERVAL", 3600*time.Second),
		SessionsFile:         env.Str("SESSIONS_FILE", ""),

		DataDir:            env.Str("DATA_DIR", "./data"),
		MaxConcurrentConns: env.Int("MAX_CONCURRENT_CONNS", 100),
		HTTPPoolSize:       env.Int("HTTP_POOL_SIZE", 32),

		TimeAPIURL:      env.Str("TIME_API_URL", "http://worldtimeapi.org/api"),
		WikipediaAPIURL: env.Str("WIKIPEDIA_API_URL", "https://en.wikipedia.org/api/rest_v1"),

		TraceDBURL: env.Str("TRACE_DB_URL", ""),
	}
}
