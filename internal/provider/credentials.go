package provider

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/pi-agent/pi/internal/storage"
	"github.com/pi-agent/pi/pkg/types"
)

// ErrNoCredentials is returned when no API key is known for a provider.
var ErrNoCredentials = errors.New("no API key")

// authKey is the storage path of auth.json inside the agent directory.
var authKey = []string{"auth"}

// envKeys maps provider ids to their API key environment variables.
var envKeys = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"ark":       "ARK_API_KEY",
	"azure":     "AZURE_OPENAI_API_KEY",
}

// Credential is one auth.json record.
type Credential struct {
	Type    string `json:"type"` // "api_key" | "oauth"
	Key     string `json:"key,omitempty"`
	Access  string `json:"access,omitempty"`
	Refresh string `json:"refresh,omitempty"`
	Expires int64  `json:"expires,omitempty"`
}

// EnvVar returns the API key environment variable of provider, or "".
func EnvVar(provider string) string { return envKeys[provider] }

// KnownProviders lists the providers with a known environment variable.
func KnownProviders() []string {
	ids := make([]string, 0, len(envKeys))
	for id := range envKeys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c Credential) apiKey() string {
	if c.Type == "oauth" {
		return c.Access
	}
	return c.Key
}

// Credentials resolves provider API keys. Lookup order: runtime override,
// auth.json, settings, environment.
type Credentials struct {
	mu       sync.RWMutex
	store    *storage.Storage
	runtime  map[string]string
	settings *types.Settings
	getenv   func(string) string
}

// NewCredentials reads and writes auth.json through store, which is rooted
// at the agent directory. store and settings may be nil.
func NewCredentials(store *storage.Storage, settings *types.Settings) *Credentials {
	return &Credentials{
		store:    store,
		runtime:  make(map[string]string),
		settings: settings,
		getenv:   os.Getenv,
	}
}

// SetRuntimeKey overrides the key for provider for this process only, for
// example from a --api-key flag.
func (c *Credentials) SetRuntimeKey(provider, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if key == "" {
		delete(c.runtime, provider)
		return
	}
	c.runtime[provider] = key
}

// GetAPIKey returns the API key for provider.
func (c *Credentials) GetAPIKey(ctx context.Context, provider string) (string, error) {
	c.mu.RLock()
	key := c.runtime[provider]
	c.mu.RUnlock()
	if key != "" {
		return key, nil
	}

	if c.store != nil {
		all, err := c.load(ctx)
		if err != nil {
			return "", err
		}
		if k := all[provider].apiKey(); k != "" {
			return k, nil
		}
	}

	if c.settings != nil {
		if pc, ok := c.settings.Provider[provider]; ok && pc.APIKey != "" {
			return pc.APIKey, nil
		}
	}

	if env, ok := envKeys[provider]; ok {
		if k := c.getenv(env); k != "" {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w for provider %q", ErrNoCredentials, provider)
}

func (c *Credentials) load(ctx context.Context) (map[string]Credential, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	all := map[string]Credential{}
	if err := c.store.Get(ctx, authKey, &all); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}
	return all, nil
}

// Set stores cred for provider in auth.json.
func (c *Credentials) Set(ctx context.Context, provider string, cred Credential) error {
	if c.store == nil {
		return errors.New("credential storage not configured")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	all := map[string]Credential{}
	return c.store.Update(ctx, authKey, &all, func() error {
		all[provider] = cred
		return nil
	})
}

// Remove deletes the stored credential for provider.
func (c *Credentials) Remove(ctx context.Context, provider string) error {
	if c.store == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	all := map[string]Credential{}
	return c.store.Update(ctx, authKey, &all, func() error {
		delete(all, provider)
		return nil
	})
}

// Stored lists the providers with a credential in auth.json.
func (c *Credentials) Stored(ctx context.Context) ([]string, error) {
	if c.store == nil {
		return nil, nil
	}
	all, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
