package types

// Settings is the merged agent configuration.
// Fields are layered global -> project -> environment.
type Settings struct {
	// Schema reference (for editor support)
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Model selection
	DefaultProvider      string `json:"defaultProvider,omitempty" yaml:"defaultProvider,omitempty"`
	DefaultModel         string `json:"defaultModel,omitempty" yaml:"defaultModel,omitempty"`
	DefaultThinkingLevel string `json:"defaultThinkingLevel,omitempty" yaml:"defaultThinkingLevel,omitempty"`

	// Queue delivery: "one-at-a-time" | "all"
	SteeringMode string `json:"steeringMode,omitempty" yaml:"steeringMode,omitempty"`
	FollowUpMode string `json:"followUpMode,omitempty" yaml:"followUpMode,omitempty"`

	Compaction *CompactionSettings `json:"compaction,omitempty" yaml:"compaction,omitempty"`
	Retry      *RetrySettings      `json:"retry,omitempty" yaml:"retry,omitempty"`

	// Shell used by the bash tool
	ShellPath string `json:"shellPath,omitempty" yaml:"shellPath,omitempty"`

	// Extension paths or glob patterns
	Extensions []string `json:"extensions,omitempty" yaml:"extensions,omitempty"`

	// Tool enable/disable by name
	Tools map[string]bool `json:"tools,omitempty" yaml:"tools,omitempty"`

	Provider map[string]ProviderConfig `json:"provider,omitempty" yaml:"provider,omitempty"`
	MCP      map[string]MCPConfig      `json:"mcp,omitempty" yaml:"mcp,omitempty"`
}

// CompactionSettings controls when and how much history is summarized.
type CompactionSettings struct {
	Enabled          *bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	ReserveTokens    int64 `json:"reserveTokens,omitempty" yaml:"reserveTokens,omitempty"`
	KeepRecentTokens int64 `json:"keepRecentTokens,omitempty" yaml:"keepRecentTokens,omitempty"`
}

// RetrySettings controls retries of transient model errors.
type RetrySettings struct {
	Enabled     *bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	MaxRetries  int   `json:"maxRetries,omitempty" yaml:"maxRetries,omitempty"`
	BaseDelayMs int   `json:"baseDelayMs,omitempty" yaml:"baseDelayMs,omitempty"`
}

// ProviderConfig holds configuration for a specific provider.
type ProviderConfig struct {
	APIKey  string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	BaseURL string `json:"baseURL,omitempty" yaml:"baseURL,omitempty"`

	// Model/Endpoint ID (for providers like ARK that require endpoint specification)
	Model string `json:"model,omitempty" yaml:"model,omitempty"`

	Disable bool `json:"disable,omitempty" yaml:"disable,omitempty"`
}

// MCPConfig holds MCP server configuration.
type MCPConfig struct {
	Type        string            `json:"type,omitempty" yaml:"type,omitempty"` // "local"|"remote"
	Command     []string          `json:"command,omitempty" yaml:"command,omitempty"`
	URL         string            `json:"url,omitempty" yaml:"url,omitempty"`
	Environment map[string]string `json:"environment,omitempty" yaml:"environment,omitempty"`
	Enabled     *bool             `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Timeout     int               `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Model describes an LLM available from a provider.
type Model struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	API             string `json:"api"`
	Provider        string `json:"provider"`
	BaseURL         string `json:"baseUrl,omitempty"`
	Reasoning       bool   `json:"reasoning,omitempty"`
	ContextWindow   int64  `json:"contextWindow"`
	MaxOutputTokens int64  `json:"maxTokens,omitempty"`
	SupportsImages  bool   `json:"supportsImages,omitempty"`
	Cost            Cost   `json:"cost"` // dollars per 1M tokens
}

// ThinkingLevel is the reasoning effort requested from the model.
type ThinkingLevel string

const (
	ThinkingOff     ThinkingLevel = "off"
	ThinkingMinimal ThinkingLevel = "minimal"
	ThinkingLow     ThinkingLevel = "low"
	ThinkingMedium  ThinkingLevel = "medium"
	ThinkingHigh    ThinkingLevel = "high"
	ThinkingXHigh   ThinkingLevel = "xhigh"
)

// ParseThinkingLevel returns the level for s, or ThinkingOff when unknown.
func ParseThinkingLevel(s string) ThinkingLevel {
	switch l := ThinkingLevel(s); l {
	case ThinkingOff, ThinkingMinimal, ThinkingLow, ThinkingMedium, ThinkingHigh, ThinkingXHigh:
		return l
	}
	return ThinkingOff
}
