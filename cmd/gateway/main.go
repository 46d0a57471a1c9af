package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/voicebridge/gateway/internal/pipeline"
	"github.com/voicebridge/gateway/internal/profile"
	"github.com/voicebridge/gateway/internal/providers"
	"github.com/voicebridge/gateway/internal/session"
	"github.com/voicebridge/gateway/internal/trace"
	"github.com/voicebridge/gateway/internal/ws"
)

func main() {
	_ = godotenv.Load()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg := loadConfig()

	registry := session.NewRegistry(
		session.Limits{MaxHistoryTokens: cfg.MaxHistoryTokens, MaxHistoryPairs: cfg.MaxHistoryPairs},
		session.NewTokenizer(),
		cfg.SessionSweepInterval,
	)
	if cfg.SessionsFile != "" {
		if err := registry.LoadFile(cfg.SessionsFile); err != nil {
			slog.Warn("session restore failed", "file", cfg.SessionsFile, "error", err)
		}
	}

	generator := buildGenerator(cfg)

	ttsClient := pipeline.NewPooledHTTPClient(cfg.HTTPPoolSize, cfg.TTSTimeout)
	synth := pipeline.NewHTTPSynthesizer(cfg.TTSServiceURL, cfg.DefaultVoice, cfg.TTSMinAudioBytes, ttsClient)
	ttsRouter := pipeline.NewTTSRouter(map[string]pipeline.Synthesizer{"edge": synth}, "edge")
	dispatcher := pipeline.NewDispatcher(ttsRouter, "edge",
		pipeline.SynthesisOptions{Voice: cfg.DefaultVoice, Speed: cfg.TTSSpeed, Pitch: cfg.TTSPitch},
		cfg.TTSTimeout, cfg.TTSMaxInflight)

	sttClient := pipeline.NewPooledHTTPClient(cfg.HTTPPoolSize, cfg.STTTimeout)
	transcriber := pipeline.NewHTTPTranscriber(cfg.STTServiceURL, cfg.STTMinAudioBytes, sttClient)

	providerClient := &http.Client{Timeout: 5 * time.Second}
	provs := providers.NewRegistry(
		providers.NewTimeProvider(cfg.TimeAPIURL, providerClient),
		providers.NewWikipediaProvider(cfg.WikipediaAPIURL, providerClient),
		providers.NewWeatherProvider(),
	)
	slog.Info("context providers registered", "providers", provs.Names())

	profiles, err := profile.NewStore(filepath.Join(cfg.DataDir, "profiles"))
	if err != nil {
		slog.Error("profile store init failed", "error", err)
		os.Exit(1)
	}

	var tracer *trace.Tracer
	var traceStore *trace.Store
	if cfg.TraceDBURL != "" {
		traceStore, err = trace.Open(cfg.TraceDBURL)
		if err != nil {
			slog.Error("trace store init failed", "error", err)
			os.Exit(1)
		}
		defer traceStore.Close()
		tracer = trace.NewTracer(traceStore)
		defer tracer.Close()
	}

	handler := ws.NewHandler(ws.Handler{
		Registry:    registry,
		Generator:   generator,
		Model:       cfg.OllamaModel,
		Dispatcher:  dispatcher,
		Transcriber: transcriber,
		Providers:   provs,
		Profiles:    profiles,
		Tracer:      tracer,
		GenTimeout:  cfg.LLMTimeout,
	}, int64(cfg.MaxConcurrentConns))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: routes(handler, traceStore),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go sweepLoop(ctx, registry, cfg.SessionTimeout, cfg.SessionSweepInterval)

	go func() {
		slog.Info("gateway listening", "port", cfg.Port, "model", cfg.OllamaModel)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("server shutdown", "error", err)
	}

	if cfg.SessionsFile != "" {
		if err := registry.SaveFile(cfg.SessionsFile); err != nil {
			slog.Warn("session save failed", "file", cfg.SessionsFile, "error", err)
		}
	}
}

// buildGenerator assembles the generation fallback chain: the chat endpoint
// first, the legacy generate endpoint second, and an OpenAI-compatible
// backend last when one is configured.
func buildGenerator(cfg config) pipeline.Generator {
	strategies := []pipeline.Generator{
		pipeline.NewOllamaChatClient(cfg.LLMBaseURL, cfg.LLMMaxTokens, cfg.HTTPPoolSize),
		pipeline.NewOllamaGenerateClient(cfg.LLMBaseURL, cfg.LLMMaxTokens, cfg.HTTPPoolSize),
	}
	if cfg.OpenAIBaseURL != "" {
		strategies = append(strategies, pipeline.NewOpenAICompatClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.LLMMaxTokens))
	}
	return pipeline.NewStrategyChain(cfg.LLMTimeout, strategies...)
}

func sweepLoop(ctx context.Context, registry *session.Registry, timeout, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			registry.Sweep(timeout)
		}
	}
}
