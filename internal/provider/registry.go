package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/tidwall/jsonc"

	"github.com/pi-agent/pi/internal/logging"
	"github.com/pi-agent/pi/pkg/types"
)

// ErrModelNotFound is returned when a model reference matches nothing.
var ErrModelNotFound = errors.New("model not found")

// Registry manages all available providers and their model catalogs.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	settings  *types.Settings
}

// NewRegistry creates a new provider registry.
func NewRegistry(settings *types.Settings) *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		settings:  settings,
	}
}

// Register adds a provider to the registry, replacing one with the same id.
func (r *Registry) Register(provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[provider.ID()] = provider
}

// Get retrieves a provider by ID.
func (r *Registry) Get(providerID string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, ok := r.providers[providerID]
	if !ok {
		return nil, fmt.Errorf("provider not found: %s", providerID)
	}
	return provider, nil
}

// List returns all providers sorted by id.
func (r *Registry) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	providers := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		providers = append(providers, p)
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i].ID() < providers[j].ID() })
	return providers
}

// GetModel retrieves a specific model from a provider.
func (r *Registry) GetModel(providerID, modelID string) (types.Model, error) {
	provider, err := r.Get(providerID)
	if err != nil {
		return types.Model{}, err
	}
	if m, ok := findModel(provider.Models(), modelID); ok {
		return m, nil
	}
	return types.Model{}, fmt.Errorf("%w: %s/%s", ErrModelNotFound, providerID, modelID)
}

// FindModel resolves "provider/model" or a bare model id. A bare id
// resolves to the first match in priority order.
func (r *Registry) FindModel(ref string) (types.Model, error) {
	providerID, modelID := ParseModelString(ref)
	if providerID != "" {
		return r.GetModel(providerID, modelID)
	}
	for _, m := range r.AllModels() {
		if m.ID == modelID {
			return m, nil
		}
	}
	return types.Model{}, fmt.Errorf("%w: %s", ErrModelNotFound, ref)
}

// AllModels returns all models from all providers, best first.
func (r *Registry) AllModels() []types.Model {
	var models []types.Model
	for _, p := range r.List() {
		models = append(models, p.Models()...)
	}

	sort.SliceStable(models, func(i, j int) bool {
		return modelPriority(models[i].ID) > modelPriority(models[j].ID)
	})
	return models
}

// DefaultModel returns the configured default model, or the best
// available one.
func (r *Registry) DefaultModel() (types.Model, error) {
	if s := r.settings; s != nil && s.DefaultModel != "" {
		ref := s.DefaultModel
		if s.DefaultProvider != "" && !strings.Contains(ref, "/") {
			ref = s.DefaultProvider + "/" + ref
		}
		return r.FindModel(ref)
	}

	models := r.AllModels()
	if len(models) == 0 {
		return types.Model{}, fmt.Errorf("no models available")
	}
	return models[0], nil
}

// ChatModel returns the Eino chat model serving m.
func (r *Registry) ChatModel(ctx context.Context, m types.Model, level types.ThinkingLevel) (model.ToolCallingChatModel, error) {
	p, err := r.Get(m.Provider)
	if err != nil {
		return nil, err
	}
	return p.ChatModel(ctx, m.ID, level)
}

// StreamFunc returns a StreamFunc that routes each call to the model's
// provider.
func (r *Registry) StreamFunc() StreamFunc {
	return func(ctx context.Context, m types.Model, c Context, opts Options, sink Sink) *types.AssistantMessage {
		cm, err := r.ChatModel(ctx, m, opts.ThinkingLevel)
		if err != nil {
			b := newBuilder(m, sink)
			b.emit(StreamEvent{Type: EventStart})
			return b.fail(err)
		}
		return Stream(ctx, cm, m, c, opts, sink)
	}
}

// ParseModelString parses "provider/model" format.
func ParseModelString(s string) (providerID, modelID string) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return "", s
}

// modelPriority returns sorting priority for models.
func modelPriority(modelID string) int {
	switch {
	case strings.Contains(modelID, "claude-sonnet-4"):
		return 100
	case strings.Contains(modelID, "gpt-5"):
		return 90
	case strings.Contains(modelID, "claude-opus"):
		return 85
	case strings.Contains(modelID, "gpt-4"):
		return 80
	case strings.Contains(modelID, "claude-haiku"), strings.Contains(modelID, "claude-3-5"):
		return 75
	default:
		return 50
	}
}

func findModel(models []types.Model, id string) (types.Model, bool) {
	for _, m := range models {
		if m.ID == id {
			return m, true
		}
	}
	return types.Model{}, false
}

// InitializeProviders creates and registers every provider with a usable
// credential. Providers disabled in settings are skipped. Custom
// OpenAI-compatible providers are read from modelsPath when it exists.
func InitializeProviders(ctx context.Context, settings *types.Settings, creds *Credentials, modelsPath string) (*Registry, error) {
	log := logging.Component("provider")
	registry := NewRegistry(settings)
	if creds == nil {
		creds = NewCredentials(nil, settings)
	}

	providerConfig := func(id string) types.ProviderConfig {
		if settings == nil {
			return types.ProviderConfig{}
		}
		return settings.Provider[id]
	}
	apiKey := func(id string) string {
		key, err := creds.GetAPIKey(ctx, id)
		if err != nil {
			log.Debug().Str("provider", id).Err(err).Msg("provider not configured")
		}
		return key
	}

	if cfg := providerConfig("anthropic"); !cfg.Disable {
		if key := apiKey("anthropic"); key != "" {
			p, err := NewAnthropicProvider(&AnthropicConfig{APIKey: key, BaseURL: cfg.BaseURL, MaxTokens: 8192})
			if err == nil {
				registry.Register(p)
			}
		}
	}

	if cfg := providerConfig("openai"); !cfg.Disable {
		if key := apiKey("openai"); key != "" {
			p, err := NewOpenAIProvider(&OpenAIConfig{APIKey: key, BaseURL: cfg.BaseURL, MaxTokens: 16384})
			if err == nil {
				registry.Register(p)
			}
		}
	}

	if cfg := providerConfig("ark"); !cfg.Disable {
		endpoint := cfg.Model
		if endpoint == "" {
			endpoint = os.Getenv("ARK_MODEL_ID")
		}
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = os.Getenv("ARK_BASE_URL")
		}
		if key := apiKey("ark"); key != "" && endpoint != "" {
			p, err := NewArkProvider(&ArkConfig{APIKey: key, BaseURL: baseURL, Model: endpoint})
			if err == nil {
				registry.Register(p)
			}
		}
	}

	if modelsPath != "" {
		if err := registry.LoadCustomModels(ctx, modelsPath, creds); err != nil {
			return registry, err
		}
	}
	return registry, nil
}

// customModelsFile is the shape of models.json.
type customModelsFile struct {
	Providers map[string]struct {
		Name    string        `json:"name"`
		BaseURL string        `json:"baseUrl"`
		APIKey  string        `json:"apiKey"`
		Models  []types.Model `json:"models"`
	} `json:"providers"`
}

// LoadCustomModels registers OpenAI-compatible providers declared in a
// models.json file (JSONC). A missing file is not an error.
func (r *Registry) LoadCustomModels(ctx context.Context, path string, creds *Credentials) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	var file customModelsFile
	if err := json.Unmarshal(jsonc.ToJSON(data), &file); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	ids := make([]string, 0, len(file.Providers))
	for id := range file.Providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		def := file.Providers[id]
		key := def.APIKey
		if key == "" && creds != nil {
			key, _ = creds.GetAPIKey(ctx, id)
		}
		p, err := NewOpenAIProvider(&OpenAIConfig{
			ID:      id,
			Name:    def.Name,
			APIKey:  key,
			BaseURL: def.BaseURL,
			Models:  def.Models,
		})
		if err != nil {
			return fmt.Errorf("provider %q in %s: %w", id, path, err)
		}
		r.Register(p)
	}
	return nil
}

// modelCache holds one chat model per model id and variant.
type modelCache struct {
	mu     sync.Mutex
	models map[string]model.ToolCallingChatModel
}

func newModelCache() *modelCache {
	return &modelCache{models: make(map[string]model.ToolCallingChatModel)}
}

func (c *modelCache) get(modelID, variant string, create func() (model.ToolCallingChatModel, error)) (model.ToolCallingChatModel, error) {
	key := modelID + "\x00" + variant

	c.mu.Lock()
	defer c.mu.Unlock()
	if cm, ok := c.models[key]; ok {
		return cm, nil
	}
	cm, err := create()
	if err != nil {
		return nil, err
	}
	c.models[key] = cm
	return cm, nil
}
