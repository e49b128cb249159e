package llm

import (
	"context"
	"time"

	anthropic "github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"

	"github.com/safequery-inc/safequery-gateway/pkg/models"
)

// AnthropicProvider talks to the Anthropic Messages API.
type AnthropicProvider struct {
	client      *anthropic.Client
	model       string
	maxTokens   int
	temperature float32
	logger      *zap.Logger
}

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	APIKey      string
	Model       string // e.g. "claude-sonnet-4-5-20250929"
	MaxTokens   int
	Temperature float64
}

// NewAnthropicProvider creates a provider backed by the Anthropic SDK.
func NewAnthropicProvider(cfg AnthropicConfig, logger *zap.Logger) *AnthropicProvider {
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}
	return &AnthropicProvider{
		client:      anthropic.NewClient(cfg.APIKey),
		model:       cfg.Model,
		maxTokens:   maxTokens,
		temperature: float32(cfg.Temperature),
		logger:      logger.Named("llm.anthropic"),
	}
}

// Model implements Provider.
func (p *AnthropicProvider) Model() string { return p.model }

// GenerateStructured implements Provider.
func (p *AnthropicProvider) GenerateStructured(ctx context.Context, prompt string) (models.Plan, models.Usage, error) {
	start := time.Now()

	fullPrompt := systemInstruction + "\n\n" + prompt
	resp, err := p.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:     anthropic.Model(p.model),
		MaxTokens: p.maxTokens,
		Messages: []anthropic.Message{
			{Role: anthropic.RoleUser, Content: []anthropic.MessageContent{
				{Type: anthropic.MessagesContentTypeText, Text: &fullPrompt},
			}},
		},
	})
	if err != nil {
		p.logger.Error("planning request failed", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return models.Plan{}, models.Usage{}, ClassifyError(err)
	}

	content := extractAnthropicText(resp)
	plan, perr := parsePlanResponse(content)
	if perr != nil {
		return models.Plan{}, models.Usage{}, perr
	}

	usage := models.Usage{
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
		TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}

	p.logger.Info("planning request completed", zap.Duration("elapsed", time.Since(start)))
	return plan, usage, nil
}

func extractAnthropicText(resp anthropic.MessagesResponse) string {
	for _, block := range resp.Content {
		if block.Type == anthropic.MessagesContentTypeText && block.Text != nil {
			return *block.Text
		}
	}
	return ""
}
