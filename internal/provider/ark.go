package provider

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/pi-agent/pi/pkg/types"
)

// APIArk is the wire API of Volcengine ARK endpoints.
const APIArk = "ark"

// ArkProvider implements Provider for Volcengine ARK models.
type ArkProvider struct {
	config *ArkConfig
	models []types.Model
	cache  *modelCache
}

// ArkConfig holds configuration for ARK provider.
type ArkConfig struct {
	APIKey    string
	BaseURL   string
	Model     string // Endpoint ID on ARK platform
	MaxTokens int
}

// NewArkProvider creates a new ARK provider serving one endpoint.
func NewArkProvider(config *ArkConfig) (*ArkProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("ark: %w", ErrNoCredentials)
	}
	if config.Model == "" {
		return nil, fmt.Errorf("ark: endpoint model id not set")
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 4096
	}
	return &ArkProvider{
		config: config,
		models: arkModels(config.Model, config.BaseURL),
		cache:  newModelCache(),
	}, nil
}

// ID returns the provider identifier.
func (p *ArkProvider) ID() string { return "ark" }

// Name returns the human-readable provider name.
func (p *ArkProvider) Name() string { return "ARK" }

// API returns the wire API name.
func (p *ArkProvider) API() string { return APIArk }

// Models returns the list of available models.
func (p *ArkProvider) Models() []types.Model {
	return p.models
}

// ChatModel returns the ARK chat model. Thinking levels are not mapped;
// reasoning is configured on the endpoint.
func (p *ArkProvider) ChatModel(ctx context.Context, modelID string, _ types.ThinkingLevel) (model.ToolCallingChatModel, error) {
	return p.cache.get(modelID, "", func() (model.ToolCallingChatModel, error) {
		maxTokens := p.config.MaxTokens
		cfg := &ark.ChatModelConfig{
			APIKey:    p.config.APIKey,
			Model:     modelID,
			MaxTokens: &maxTokens,
		}
		if p.config.BaseURL != "" {
			cfg.BaseURL = p.config.BaseURL
		}

		cm, err := ark.NewChatModel(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create ARK model: %w", err)
		}
		return cm, nil
	})
}

// arkModels returns the single ARK endpoint model.
func arkModels(endpointID, baseURL string) []types.Model {
	return []types.Model{
		{
			ID:              endpointID,
			Name:            "ARK Model",
			API:             APIArk,
			Provider:        "ark",
			BaseURL:         baseURL,
			ContextWindow:   128000,
			MaxOutputTokens: 4096,
			SupportsImages:  true,
			// Pricing varies by endpoint
		},
	}
}
