package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	temp := 0.0
	return Config{
		LLM: LLMConfig{
			TimeoutSeconds: 120,
		},
		Generator: GeneratorConfig{
			MaxRounds:   2,
			MaxTokens:   800,
			Temperature: &temp,
		},
		Store: StoreConfig{
			MaxResults:   5,
			ChunkSize:    800,
			ChunkOverlap: 100,
		},
		Session: SessionConfig{
			Store:      "memory",
			MaxHistory: 2,
		},
		Gateway: GatewayConfig{
			Port: 8000,
			Bind: "loopback",
		},
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleStyle: "pretty",
		},
	}
}
