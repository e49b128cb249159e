package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/safequery-inc/safequery-gateway/pkg/models"
)

// systemInstruction is sent with every planning prompt. It is deliberately
// strict: the planner only ever trusts the Validator, never the model's
// own claims, but a model that already returns clean JSON means fewer
// ErrorTypeSchema failures.
const systemInstruction = `You translate analytics questions into a single read-only SQL SELECT statement.
Respond with JSON only, matching exactly this shape and nothing else:
{"sql": "<SELECT statement>", "explanation": "<one sentence>", "confidence": <0.0-1.0>}
Do not include markdown fences, commentary, or multiple statements.`

// Config holds configuration for creating an LLM client.
type Config struct {
	Endpoint    string // Base URL, e.g. "https://api.openai.com/v1" or an OpenRouter-compatible endpoint.
	Model       string
	APIKey      string
	Temperature float64
}

// OpenAIProvider talks to any OpenAI-compatible chat completion endpoint —
// this covers both OpenAI proper and OpenRouter, which exposes the same
// wire format.
type OpenAIProvider struct {
	client      *openai.Client
	model       string
	temperature float64
	logger      *zap.Logger
}

// NewOpenAIProvider creates a provider for OpenAI or any OpenAI-compatible
// endpoint (OpenRouter included).
func NewOpenAIProvider(cfg Config, logger *zap.Logger) (*OpenAIProvider, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = strings.TrimSuffix(cfg.Endpoint, "/")

	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = 0.1
	}

	return &OpenAIProvider{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		temperature: temperature,
		logger:      logger.Named("llm.openai"),
	}, nil
}

// Model implements Provider.
func (p *OpenAIProvider) Model() string { return p.model }

// GenerateStructured implements Provider.
func (p *OpenAIProvider) GenerateStructured(ctx context.Context, prompt string) (models.Plan, models.Usage, error) {
	p.logger.Debug("planning request", zap.Int("prompt_len", len(prompt)))
	start := time.Now()

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemInstruction},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: float32(p.temperature),
	})
	if err != nil {
		p.logger.Error("planning request failed", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return models.Plan{}, models.Usage{}, ClassifyError(err)
	}

	if len(resp.Choices) == 0 {
		return models.Plan{}, models.Usage{}, NewError(ErrorTypeUnknown, "no choices in response", false, nil)
	}

	plan, err := parsePlanResponse(resp.Choices[0].Message.Content)
	if err != nil {
		return models.Plan{}, models.Usage{}, err
	}

	usage := models.Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}

	p.logger.Info("planning request completed",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("prompt_tokens", usage.PromptTokens),
		zap.Int("completion_tokens", usage.CompletionTokens))

	return plan, usage, nil
}

// parsePlanResponse extracts and validates the JSON plan a provider
// returned. Shared between OpenAI and Anthropic providers since both are
// asked for the same shape.
func parsePlanResponse(content string) (models.Plan, error) {
	var raw struct {
		SQL         string  `json:"sql"`
		Explanation string  `json:"explanation"`
		Confidence  float64 `json:"confidence"`
	}
	parsed, err := ParseJSONResponse[struct {
		SQL         string  `json:"sql"`
		Explanation string  `json:"explanation"`
		Confidence  float64 `json:"confidence"`
	}](content)
	if err != nil {
		return models.Plan{}, NewSchemaError("could not parse a JSON plan from the model response", err)
	}
	raw = parsed

	if strings.TrimSpace(raw.SQL) == "" {
		return models.Plan{}, NewSchemaError("model response had no sql field", nil)
	}

	return models.Plan{
		SQL:         raw.SQL,
		Explanation: raw.Explanation,
		Confidence:  raw.Confidence,
	}, nil
}
