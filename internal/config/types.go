package config

// Config is the root configuration for coursemate.
type Config struct {
	LLM       LLMConfig       `yaml:"llm,omitempty"`
	Generator GeneratorConfig `yaml:"generator,omitempty"`
	Store     StoreConfig     `yaml:"store,omitempty"`
	Session   SessionConfig   `yaml:"session,omitempty"`
	Gateway   GatewayConfig   `yaml:"gateway,omitempty"`
	Logging   LoggingConfig   `yaml:"logging,omitempty"`
}

// LLMConfig selects the model and the providers that can serve it.
type LLMConfig struct {
	Model             string          `yaml:"model,omitempty"`
	Fallbacks         []string        `yaml:"fallbacks,omitempty"`
	Providers         []ProviderEntry `yaml:"providers,omitempty"`
	RequestsPerMinute int             `yaml:"requestsPerMinute,omitempty"` // 0 disables limiting
	TimeoutSeconds    int             `yaml:"timeoutSeconds,omitempty"`
}

// ProviderEntry defines one LLM endpoint.
type ProviderEntry struct {
	Name    string            `yaml:"name"`
	API     string            `yaml:"api,omitempty"` // "openai" | "anthropic"
	BaseURL string            `yaml:"baseUrl,omitempty"`
	APIKey  string            `yaml:"apiKey,omitempty"`
	Models  []string          `yaml:"models,omitempty"` // model ids routed to this provider
	Headers map[string]string `yaml:"headers,omitempty"`
}

// GeneratorConfig tunes the tool-calling loop.
type GeneratorConfig struct {
	MaxRounds     int      `yaml:"maxRounds,omitempty"`
	MaxTokens     int      `yaml:"maxTokens,omitempty"`
	Temperature   *float64 `yaml:"temperature,omitempty"`
	ParallelTools bool     `yaml:"parallelTools,omitempty"`
}

// StoreConfig controls the course knowledge base.
type StoreConfig struct {
	Path         string `yaml:"path,omitempty"` // defaults to <base>/data/coursemate.db
	MaxResults   int    `yaml:"maxResults,omitempty"`
	ChunkSize    int    `yaml:"chunkSize,omitempty"`
	ChunkOverlap int    `yaml:"chunkOverlap,omitempty"`
}

// SessionConfig defines conversation history behavior.
type SessionConfig struct {
	Store      string `yaml:"store,omitempty"` // "memory" | "sqlite"
	MaxHistory int    `yaml:"maxHistory,omitempty"`
}

// GatewayConfig controls the HTTP/WebSocket server.
type GatewayConfig struct {
	Port           int         `yaml:"port,omitempty"`
	Bind           string      `yaml:"bind,omitempty"` // "loopback" | "lan" | "custom"
	CustomBindHost string      `yaml:"customBindHost,omitempty"`
	Auth           GatewayAuth `yaml:"auth,omitempty"`
	AllowedOrigins []string    `yaml:"allowedOrigins,omitempty"`
}

// GatewayAuth configures bearer-token authentication. An empty token
// leaves the API open.
type GatewayAuth struct {
	Token string `yaml:"token,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File         string `yaml:"file,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "compact" | "json"
}
