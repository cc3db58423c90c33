package provider

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino/components/model"

	"github.com/pi-agent/pi/pkg/types"
)

// APIAnthropic is the wire API of Anthropic models.
const APIAnthropic = "anthropic-messages"

// thinkingBudgets maps thinking levels to Claude token budgets.
var thinkingBudgets = map[types.ThinkingLevel]int{
	types.ThinkingMinimal: 1024,
	types.ThinkingLow:     4096,
	types.ThinkingMedium:  10240,
	types.ThinkingHigh:    20480,
	types.ThinkingXHigh:   32000,
}

// AnthropicProvider implements Provider for Anthropic Claude models.
type AnthropicProvider struct {
	config *AnthropicConfig
	models []types.Model
	cache  *modelCache
}

// AnthropicConfig holds configuration for Anthropic provider.
type AnthropicConfig struct {
	// ID is the provider identifier. Defaults to "anthropic".
	ID        string
	APIKey    string
	BaseURL   string
	MaxTokens int

	// Bedrock configuration
	UseBedrock bool
	Region     string
	Profile    string
}

// NewAnthropicProvider creates a new Anthropic provider. Chat models are
// created on first use.
func NewAnthropicProvider(config *AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" && !config.UseBedrock {
		return nil, fmt.Errorf("anthropic: %w", ErrNoCredentials)
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 8192
	}
	p := &AnthropicProvider{
		config: config,
		models: anthropicModels(),
		cache:  newModelCache(),
	}
	if config.BaseURL != "" {
		for i := range p.models {
			p.models[i].BaseURL = config.BaseURL
		}
	}
	if config.ID != "" {
		for i := range p.models {
			p.models[i].Provider = config.ID
		}
	}
	return p, nil
}

// ID returns the provider identifier.
func (p *AnthropicProvider) ID() string {
	if p.config.ID != "" {
		return p.config.ID
	}
	return "anthropic"
}

// Name returns the human-readable provider name.
func (p *AnthropicProvider) Name() string { return "Anthropic" }

// API returns the wire API name.
func (p *AnthropicProvider) API() string { return APIAnthropic }

// Models returns the list of available models.
func (p *AnthropicProvider) Models() []types.Model {
	return p.models
}

// ChatModel returns a Claude chat model. Extended thinking is enabled for
// reasoning models when level is above off.
func (p *AnthropicProvider) ChatModel(ctx context.Context, modelID string, level types.ThinkingLevel) (model.ToolCallingChatModel, error) {
	budget := 0
	if m, ok := findModel(p.models, modelID); ok && m.Reasoning {
		budget = thinkingBudgets[level]
	}

	return p.cache.get(modelID, fmt.Sprint(budget), func() (model.ToolCallingChatModel, error) {
		maxTokens := p.config.MaxTokens
		var thinking *claude.Thinking
		if budget > 0 {
			thinking = &claude.Thinking{Enable: true, BudgetTokens: budget}
			if maxTokens <= budget {
				maxTokens = budget + p.config.MaxTokens
			}
		}

		var cfg *claude.Config
		if p.config.UseBedrock {
			cfg = &claude.Config{
				ByBedrock: true,
				Region:    p.config.Region,
				Profile:   p.config.Profile,
				Model:     "anthropic." + modelID + "-v1:0",
				MaxTokens: maxTokens,
				Thinking:  thinking,
			}
		} else {
			cfg = &claude.Config{
				APIKey:    p.config.APIKey,
				Model:     modelID,
				MaxTokens: maxTokens,
				Thinking:  thinking,
			}
			if p.config.BaseURL != "" {
				baseURL := p.config.BaseURL
				cfg.BaseURL = &baseURL
			}
		}

		cm, err := claude.NewChatModel(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create Claude model: %w", err)
		}
		return cm, nil
	})
}

// anthropicModels returns the list of Anthropic models.
func anthropicModels() []types.Model {
	return []types.Model{
		{
			ID:              "claude-sonnet-4-5",
			Name:            "Claude Sonnet 4.5",
			API:             APIAnthropic,
			Provider:        "anthropic",
			Reasoning:       true,
			ContextWindow:   200000,
			MaxOutputTokens: 64000,
			SupportsImages:  true,
			Cost:            types.Cost{Input: 3, Output: 15, CacheRead: 0.3, CacheWrite: 3.75},
		},
		{
			ID:              "claude-sonnet-4-20250514",
			Name:            "Claude Sonnet 4",
			API:             APIAnthropic,
			Provider:        "anthropic",
			Reasoning:       true,
			ContextWindow:   200000,
			MaxOutputTokens: 64000,
			SupportsImages:  true,
			Cost:            types.Cost{Input: 3, Output: 15, CacheRead: 0.3, CacheWrite: 3.75},
		},
		{
			ID:              "claude-opus-4-1",
			Name:            "Claude Opus 4.1",
			API:             APIAnthropic,
			Provider:        "anthropic",
			Reasoning:       true,
			ContextWindow:   200000,
			MaxOutputTokens: 32000,
			SupportsImages:  true,
			Cost:            types.Cost{Input: 15, Output: 75, CacheRead: 1.5, CacheWrite: 18.75},
		},
		{
			ID:              "claude-haiku-4-5",
			Name:            "Claude Haiku 4.5",
			API:             APIAnthropic,
			Provider:        "anthropic",
			Reasoning:       true,
			ContextWindow:   200000,
			MaxOutputTokens: 64000,
			SupportsImages:  true,
			Cost:            types.Cost{Input: 1, Output: 5, CacheRead: 0.1, CacheWrite: 1.25},
		},
		{
			ID:              "claude-3-5-haiku-20241022",
			Name:            "Claude 3.5 Haiku",
			API:             APIAnthropic,
			Provider:        "anthropic",
			ContextWindow:   200000,
			MaxOutputTokens: 8192,
			SupportsImages:  true,
			Cost:            types.Cost{Input: 0.8, Output: 4, CacheRead: 0.08, CacheWrite: 1},
		},
	}
}
