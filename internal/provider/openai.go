package provider

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"github.com/pi-agent/pi/pkg/types"
)

// APIOpenAI is the wire API of OpenAI-compatible chat completions.
const APIOpenAI = "openai-completions"

// OpenAIProvider implements Provider for OpenAI and OpenAI-compatible
// endpoints.
type OpenAIProvider struct {
	config *OpenAIConfig
	models []types.Model
	cache  *modelCache
}

// OpenAIConfig holds configuration for OpenAI provider.
type OpenAIConfig struct {
	// ID is the provider identifier (e.g., "openai", "ollama").
	// If empty, defaults to "openai".
	ID        string
	Name      string
	APIKey    string
	BaseURL   string
	MaxTokens int

	// Models replaces the built-in OpenAI catalog, for compatible servers.
	Models []types.Model

	// Azure configuration
	UseAzure   bool
	APIVersion string
}

// NewOpenAIProvider creates a new OpenAI provider.
func NewOpenAIProvider(config *OpenAIConfig) (*OpenAIProvider, error) {
	if config.APIKey == "" && config.BaseURL == "" {
		return nil, fmt.Errorf("openai: %w", ErrNoCredentials)
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 4096
	}

	p := &OpenAIProvider{config: config, cache: newModelCache()}
	if len(config.Models) > 0 {
		p.models = append([]types.Model(nil), config.Models...)
	} else {
		p.models = openAIModels()
	}
	for i := range p.models {
		p.models[i].Provider = p.ID()
		if p.models[i].API == "" {
			p.models[i].API = APIOpenAI
		}
		if config.BaseURL != "" && p.models[i].BaseURL == "" {
			p.models[i].BaseURL = config.BaseURL
		}
	}
	return p, nil
}

// ID returns the provider identifier.
func (p *OpenAIProvider) ID() string {
	if p.config.ID != "" {
		return p.config.ID
	}
	return "openai"
}

// Name returns the human-readable provider name.
func (p *OpenAIProvider) Name() string {
	if p.config.Name != "" {
		return p.config.Name
	}
	return "OpenAI"
}

// API returns the wire API name.
func (p *OpenAIProvider) API() string { return APIOpenAI }

// Models returns the list of available models.
func (p *OpenAIProvider) Models() []types.Model {
	return p.models
}

// ChatModel returns an OpenAI chat model. Reasoning models get a reasoning
// effort derived from level.
func (p *OpenAIProvider) ChatModel(ctx context.Context, modelID string, level types.ThinkingLevel) (model.ToolCallingChatModel, error) {
	var effort openai.ReasoningEffortLevel
	m, ok := findModel(p.models, modelID)
	if ok && m.Reasoning {
		effort = reasoningEffort(level)
	}

	return p.cache.get(modelID, string(effort), func() (model.ToolCallingChatModel, error) {
		maxTokens := p.config.MaxTokens
		if ok && m.MaxOutputTokens > 0 && int64(maxTokens) > m.MaxOutputTokens {
			maxTokens = int(m.MaxOutputTokens)
		}
		cfg := &openai.ChatModelConfig{
			APIKey: p.config.APIKey,
			Model:  modelID,
			// GPT-5 and o-series models reject max_tokens
			MaxCompletionTokens: &maxTokens,
			ReasoningEffort:     effort,
		}
		if ok && m.BaseURL != "" {
			cfg.BaseURL = m.BaseURL
		}
		if p.config.UseAzure {
			cfg.ByAzure = true
			cfg.APIVersion = p.config.APIVersion
			if cfg.APIVersion == "" {
				cfg.APIVersion = "2024-02-15-preview"
			}
		}

		cm, err := openai.NewChatModel(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create OpenAI model: %w", err)
		}
		return cm, nil
	})
}

func reasoningEffort(level types.ThinkingLevel) openai.ReasoningEffortLevel {
	switch level {
	case types.ThinkingMinimal, types.ThinkingLow:
		return openai.ReasoningEffortLevelLow
	case types.ThinkingMedium:
		return openai.ReasoningEffortLevelMedium
	case types.ThinkingHigh, types.ThinkingXHigh:
		return openai.ReasoningEffortLevelHigh
	}
	return ""
}

// openAIModels returns the list of OpenAI models.
func openAIModels() []types.Model {
	return []types.Model{
		{
			ID:              "gpt-5",
			Name:            "GPT-5",
			Reasoning:       true,
			ContextWindow:   400000,
			MaxOutputTokens: 128000,
			SupportsImages:  true,
			Cost:            types.Cost{Input: 1.25, Output: 10, CacheRead: 0.125},
		},
		{
			ID:              "gpt-5-mini",
			Name:            "GPT-5 Mini",
			Reasoning:       true,
			ContextWindow:   400000,
			MaxOutputTokens: 128000,
			SupportsImages:  true,
			Cost:            types.Cost{Input: 0.25, Output: 2, CacheRead: 0.025},
		},
		{
			ID:              "gpt-4.1",
			Name:            "GPT-4.1",
			ContextWindow:   1047576,
			MaxOutputTokens: 32768,
			SupportsImages:  true,
			Cost:            types.Cost{Input: 2, Output: 8, CacheRead: 0.5},
		},
		{
			ID:              "gpt-4o",
			Name:            "GPT-4o",
			ContextWindow:   128000,
			MaxOutputTokens: 16384,
			SupportsImages:  true,
			Cost:            types.Cost{Input: 2.5, Output: 10, CacheRead: 1.25},
		},
		{
			ID:              "o3",
			Name:            "o3",
			Reasoning:       true,
			ContextWindow:   200000,
			MaxOutputTokens: 100000,
			SupportsImages:  true,
			Cost:            types.Cost{Input: 2, Output: 8, CacheRead: 0.5},
		},
	}
}
