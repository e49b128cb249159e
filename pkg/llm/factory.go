package llm

import (
	"fmt"

	"go.uber.org/zap"
)

// VendorConfig selects and configures a single LLM vendor at startup.
// Exactly one of the vendor-specific sections is used, chosen by Vendor.
type VendorConfig struct {
	Vendor      string // "openai", "openrouter", "anthropic", or "mock"
	Endpoint    string // used by openai/openrouter
	Model       string
	APIKey      string
	Temperature float64
	MaxTokens   int // used by anthropic
}

// NewProvider builds the Provider selected by cfg.Vendor. OpenAI and
// OpenRouter share a wire format and therefore a provider implementation;
// "mock" returns an always-empty MockProvider suitable for wiring before
// tests override it.
func NewProvider(cfg VendorConfig, logger *zap.Logger) (Provider, error) {
	switch cfg.Vendor {
	case "openai", "openrouter", "":
		endpoint := cfg.Endpoint
		if endpoint == "" && cfg.Vendor == "openai" {
			endpoint = "https://api.openai.com/v1"
		}
		if endpoint == "" && cfg.Vendor == "openrouter" {
			endpoint = "https://openrouter.ai/api/v1"
		}
		return NewOpenAIProvider(Config{
			Endpoint:    endpoint,
			Model:       cfg.Model,
			APIKey:      cfg.APIKey,
			Temperature: cfg.Temperature,
		}, logger)
	case "anthropic":
		return NewAnthropicProvider(AnthropicConfig{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		}, logger), nil
	case "mock":
		return &MockProvider{ModelName: cfg.Model}, nil
	default:
		return nil, fmt.Errorf("unknown llm vendor %q", cfg.Vendor)
	}
}
