package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/voicebridge/gateway/internal/metrics"
	"github.com/voicebridge/gateway/internal/session"
)

// TokenCallback is invoked for every streamed content token.
type TokenCallback func(token string)

// GenResult holds the complete generation output with timing.
type GenResult struct {
	Text               string
	LatencyMs          float64
	TimeToFirstTokenMs float64
}

// Generator streams a completion for a role-tagged message list.
type Generator interface {
	Name() string
	Stream(ctx context.Context, model string, messages []session.Message, onToken TokenCallback) (*GenResult, error)
}

const scanBufSize = 1024 * 1024

// --- Ollama chat backend (/api/chat, NDJSON {message:{content}} chunks) ---

// OllamaChatClient streams chat completions from an Ollama-compatible
// /api/chat endpoint.
type OllamaChatClient struct {
	url       string
	maxTokens int
	client    *http.Client
}

// NewOllamaChatClient creates a chat streaming client. maxTokens of 0 leaves
// the generation length to the server.
func NewOllamaChatClient(url string, maxTokens, poolSize int) *OllamaChatClient {
	return &OllamaChatClient{
		url:       url,
		maxTokens: maxTokens,
		client:    NewPooledHTTPClient(poolSize, 0),
	}
}

func (c *OllamaChatClient) Name() string { return "ollama-chat" }

type ollamaChatRequest struct {
	Model    string            `json:"model"`
	Messages []session.Message `json:"messages"`
	Stream   bool              `json:"stream"`
	Options  *ollamaOptions    `json:"options,omitempty"`
}

type ollamaOptions struct {
	NumPredict int `json:"num_predict"`
}

type ollamaChatChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

// Stream posts the message list and relays content tokens as NDJSON lines
// arrive. Lines that fail to parse are counted and skipped; they never abort
// the stream.
func (c *OllamaChatClient) Stream(ctx context.Context, model string, messages []session.Message, onToken TokenCallback) (*GenResult, error) {
	req := ollamaChatRequest{Model: model, Messages: messages, Stream: true}
	if c.maxTokens > 0 {
		req.Options = &ollamaOptions{NumPredict: c.maxTokens}
	}

	resp, err := postJSON(ctx, c.client, c.url+"/api/chat", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return consumeNDJSON(resp.Body, onToken, func(line []byte) (string, bool, error) {
		var chunk ollamaChatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return "", false, err
		}
		return chunk.Message.Content, chunk.Done, nil
	})
}

// --- Ollama generate backend (/api/generate, NDJSON {response} chunks) ---

// OllamaGenerateClient streams from the legacy /api/generate endpoint for
// servers that lack chat support. The message list is flattened into a
// single prompt.
type OllamaGenerateClient struct {
	url       string
	maxTokens int
	client    *http.Client
}

// NewOllamaGenerateClient creates a generate streaming client.
func NewOllamaGenerateClient(url string, maxTokens, poolSize int) *OllamaGenerateClient {
	return &OllamaGenerateClient{
		url:       url,
		maxTokens: maxTokens,
		client:    NewPooledHTTPClient(poolSize, 0),
	}
}

func (c *OllamaGenerateClient) Name() string { return "ollama-generate" }

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options *ollamaOptions `json:"options,omitempty"`
}

type ollamaGenerateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (c *OllamaGenerateClient) Stream(ctx context.Context, model string, messages []session.Message, onToken TokenCallback) (*GenResult, error) {
	req := ollamaGenerateRequest{Model: model, Prompt: flattenMessages(messages), Stream: true}
	if c.maxTokens > 0 {
		req.Options = &ollamaOptions{NumPredict: c.maxTokens}
	}

	resp, err := postJSON(ctx, c.client, c.url+"/api/generate", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return consumeNDJSON(resp.Body, onToken, func(line []byte) (string, bool, error) {
		var chunk ollamaGenerateChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return "", false, err
		}
		return chunk.Response, chunk.Done, nil
	})
}

// flattenMessages renders a role-tagged history as a plain prompt for
// completion-only endpoints.
func flattenMessages(messages []session.Message) string {
	var b strings.Builder
	for _, m := range messages {
		switch m.Role {
		case session.RoleSystem:
			b.WriteString(m.Content)
			b.WriteString("\n")
		case session.RoleUser:
			fmt.Fprintf(&b, "User: %s\n", m.Content)
		case session.RoleAssistant:
			fmt.Fprintf(&b, "Assistant: %s\n", m.Content)
		}
	}
	b.WriteString("Assistant:")
	return b.String()
}

// --- shared streaming plumbing ---

func postJSON(ctx context.Context, client *http.Client, url string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal generation request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create generation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		metrics.Errors.WithLabelValues("llm", "http").Inc()
		return nil, fmt.Errorf("generation request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		metrics.Errors.WithLabelValues("llm", "status").Inc()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("generation status %d: %s", resp.StatusCode, errBody)
	}
	return resp, nil
}

// consumeNDJSON reads newline-delimited JSON chunks, relaying each content
// token. parse returns the token, the done flag, or a parse error for lines
// that are skipped.
func consumeNDJSON(body io.Reader, onToken TokenCallback, parse func([]byte) (string, bool, error)) (*GenResult, error) {
	start := time.Now()
	var text strings.Builder
	var ttft time.Time

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), scanBufSize)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		token, done, err := parse(line)
		if err != nil {
			metrics.MalformedChunks.Inc()
			slog.Warn("skipping malformed stream chunk", "error", err)
			continue
		}
		if done {
			break
		}
		if token == "" {
			continue
		}
		if ttft.IsZero() {
			ttft = time.Now()
		}
		if onToken != nil {
			onToken(token)
		}
		text.WriteString(token)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read generation stream: %w", err)
	}

	latency := time.Since(start)
	metrics.StageDuration.WithLabelValues("llm").Observe(latency.Seconds())

	ttftMs := float64(0)
	if !ttft.IsZero() {
		ttftMs = float64(ttft.Sub(start).Milliseconds())
	}
	return &GenResult{
		Text:               text.String(),
		LatencyMs:          float64(latency.Milliseconds()),
		TimeToFirstTokenMs: ttftMs,
	}, nil
}

// --- strategy chain ---

// StrategyChain tries generation strategies in order; the first success
// short-circuits. A later strategy is attempted only when the failed one
// produced no tokens yet, since relayed text cannot be retracted from the
// client.
type StrategyChain struct {
	strategies     []Generator
	attemptTimeout time.Duration
}

// NewStrategyChain builds a chain over the given strategies. Each attempt
// is independently bounded by attemptTimeout (0 = caller's deadline only).
func NewStrategyChain(attemptTimeout time.Duration, strategies ...Generator) *StrategyChain {
	return &StrategyChain{strategies: strategies, attemptTimeout: attemptTimeout}
}

func (c *StrategyChain) Name() string { return "chain" }

func (c *StrategyChain) Stream(ctx context.Context, model string, messages []session.Message, onToken TokenCallback) (*GenResult, error) {
	var errs []error
	for _, gen := range c.strategies {
		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if c.attemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, c.attemptTimeout)
		}

		emitted := false
		result, err := gen.Stream(attemptCtx, model, messages, func(token string) {
			emitted = true
			if onToken != nil {
				onToken(token)
			}
		})
		cancel()

		if err == nil {
			return result, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", gen.Name(), err))
		if emitted || ctx.Err() != nil {
			break
		}
		slog.Warn("generation strategy failed, trying next", "strategy", gen.Name(), "error", err)
	}
	return nil, fmt.Errorf("all generation strategies failed: %w", errors.Join(errs...))
}
