package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/archflow/engine/pkg/logger"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Client is the transport behind every pipeline stage: one structured
// completion per call. Implementations may retry transient transport
// failures internally; stages themselves never retry.
type Client interface {
	Complete(ctx context.Context, system, user string) (json.RawMessage, error)
}

// OpenAIClient talks to any OpenAI-compatible chat completion endpoint and
// requests JSON-object responses. Calls run through a circuit breaker so a
// flapping provider fails fast instead of eating the per-stage call budget.
type OpenAIClient struct {
	client  *openai.Client
	model   string
	breaker *gobreaker.CircuitBreaker
}

// NewOpenAIClient builds a client for the given endpoint. baseURL may be
// empty for the default OpenAI endpoint.
func NewOpenAIClient(apiKey, baseURL, model string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm",
		MaxRequests: 2,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 3 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.L().Warn("llm circuit breaker state change",
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})

	return &OpenAIClient{client: openai.NewClientWithConfig(cfg), model: model, breaker: cb}
}

func (c *OpenAIClient) Complete(ctx context.Context, system, user string) (json.RawMessage, error) {
	out, err := c.breaker.Execute(func() (any, error) {
		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       c.model,
			Temperature: 0.2,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: user},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("chat completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("chat completion returned no choices")
		}
		return resp.Choices[0].Message.Content, nil
	})
	if err != nil {
		return nil, err
	}

	content := out.(string)
	raw, err := extractJSON(content)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// extractJSON returns the JSON payload of a model response, tolerating
// markdown code fences around the object.
func extractJSON(content string) (json.RawMessage, error) {
	s := strings.TrimSpace(content)
	if json.Valid([]byte(s)) {
		return json.RawMessage(s), nil
	}
	if idx := strings.Index(s, "```json"); idx >= 0 {
		s = s[idx+len("```json"):]
	} else if idx := strings.Index(s, "```"); idx >= 0 {
		s = s[idx+3:]
	}
	if end := strings.Index(s, "```"); end >= 0 {
		s = s[:end]
	}
	s = strings.TrimSpace(s)
	if !json.Valid([]byte(s)) {
		if len(content) > 200 {
			content = content[:200]
		}
		return nil, fmt.Errorf("response is not valid JSON: %s", content)
	}
	return json.RawMessage(s), nil
}
