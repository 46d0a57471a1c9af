package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/voicebridge/gateway/internal/metrics"
	"github.com/voicebridge/gateway/internal/session"
)

// OpenAICompatClient streams chat completions from any server exposing the
// OpenAI /v1/chat/completions API, via the official SDK.
type OpenAICompatClient struct {
	client    openai.Client
	maxTokens int
}

// NewOpenAICompatClient creates a client for an OpenAI-compatible endpoint.
// apiKey may be empty for local servers.
func NewOpenAICompatClient(baseURL, apiKey string, maxTokens int) *OpenAICompatClient {
	opts := []option.RequestOption{option.WithBaseURL(baseURL)}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	return &OpenAICompatClient{client: openai.NewClient(opts...), maxTokens: maxTokens}
}

func (c *OpenAICompatClient) Name() string { return "openai" }

func (c *OpenAICompatClient) Stream(ctx context.Context, model string, messages []session.Message, onToken TokenCallback) (*GenResult, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: toOpenAIMessages(messages),
	}
	if c.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(c.maxTokens))
	}

	start := time.Now()
	var text strings.Builder
	var ttft time.Time

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		token := chunk.Choices[0].Delta.Content
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
	if err := stream.Err(); err != nil {
		metrics.Errors.WithLabelValues("llm", "stream").Inc()
		return nil, fmt.Errorf("openai stream: %w", err)
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

func toOpenAIMessages(messages []session.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case session.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case session.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
