package config

import (
	"fmt"
	"slices"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	// Gateway validation
	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.port",
			Message: fmt.Sprintf("port must be 0-65535, got %d", cfg.Gateway.Port),
		})
	}

	validBinds := []string{"loopback", "lan", "custom"}
	if cfg.Gateway.Bind != "" && !slices.Contains(validBinds, cfg.Gateway.Bind) {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.bind",
			Message: fmt.Sprintf("must be one of %v, got %q", validBinds, cfg.Gateway.Bind),
		})
	}
	if cfg.Gateway.Bind == "custom" && cfg.Gateway.CustomBindHost == "" {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.customBindHost",
			Message: "required when bind: custom",
		})
	}

	// Logging validation
	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.level",
			Message: fmt.Sprintf("must be one of %v, got %q", validLogLevels, cfg.Logging.Level),
		})
	}

	validConsoleStyles := []string{"pretty", "compact", "json"}
	if cfg.Logging.ConsoleStyle != "" && !slices.Contains(validConsoleStyles, cfg.Logging.ConsoleStyle) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.consoleStyle",
			Message: fmt.Sprintf("must be one of %v, got %q", validConsoleStyles, cfg.Logging.ConsoleStyle),
		})
	}

	// Session validation
	validStores := []string{"memory", "sqlite"}
	if cfg.Session.Store != "" && !slices.Contains(validStores, cfg.Session.Store) {
		issues = append(issues, ValidationIssue{
			Path:    "session.store",
			Message: fmt.Sprintf("must be one of %v, got %q", validStores, cfg.Session.Store),
		})
	}
	if cfg.Session.MaxHistory < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "session.maxHistory",
			Message: fmt.Sprintf("must be >= 0, got %d", cfg.Session.MaxHistory),
		})
	}

	// Generator validation
	if cfg.Generator.MaxRounds < 1 {
		issues = append(issues, ValidationIssue{
			Path:    "generator.maxRounds",
			Message: fmt.Sprintf("must be >= 1, got %d", cfg.Generator.MaxRounds),
		})
	}
	if cfg.Generator.MaxTokens < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "generator.maxTokens",
			Message: fmt.Sprintf("must be >= 0, got %d", cfg.Generator.MaxTokens),
		})
	}
	if t := cfg.Generator.Temperature; t != nil && (*t < 0 || *t > 2) {
		issues = append(issues, ValidationIssue{
			Path:    "generator.temperature",
			Message: fmt.Sprintf("must be 0-2, got %g", *t),
		})
	}

	// Store validation
	if cfg.Store.MaxResults < 1 {
		issues = append(issues, ValidationIssue{
			Path:    "store.maxResults",
			Message: fmt.Sprintf("must be >= 1, got %d", cfg.Store.MaxResults),
		})
	}
	if cfg.Store.ChunkSize < 1 {
		issues = append(issues, ValidationIssue{
			Path:    "store.chunkSize",
			Message: fmt.Sprintf("must be >= 1, got %d", cfg.Store.ChunkSize),
		})
	}
	if cfg.Store.ChunkOverlap < 0 || (cfg.Store.ChunkSize > 0 && cfg.Store.ChunkOverlap >= cfg.Store.ChunkSize) {
		issues = append(issues, ValidationIssue{
			Path:    "store.chunkOverlap",
			Message: fmt.Sprintf("must be >= 0 and smaller than chunkSize, got %d", cfg.Store.ChunkOverlap),
		})
	}

	// LLM validation
	if cfg.LLM.RequestsPerMinute < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "llm.requestsPerMinute",
			Message: fmt.Sprintf("must be >= 0, got %d", cfg.LLM.RequestsPerMinute),
		})
	}
	if len(cfg.LLM.Providers) > 0 && cfg.LLM.Model == "" {
		issues = append(issues, ValidationIssue{
			Path:    "llm.model",
			Message: "required when providers are configured",
		})
	}

	validAPIs := []string{"openai", "anthropic"}
	seen := make(map[string]bool)
	for i, p := range cfg.LLM.Providers {
		prefix := fmt.Sprintf("llm.providers[%d]", i)
		if p.Name == "" {
			issues = append(issues, ValidationIssue{
				Path:    prefix + ".name",
				Message: "name is required",
			})
		} else if seen[p.Name] {
			issues = append(issues, ValidationIssue{
				Path:    prefix + ".name",
				Message: fmt.Sprintf("duplicate provider name %q", p.Name),
			})
		}
		seen[p.Name] = true

		if p.API != "" && !slices.Contains(validAPIs, p.API) {
			issues = append(issues, ValidationIssue{
				Path:    prefix + ".api",
				Message: fmt.Sprintf("must be one of %v, got %q", validAPIs, p.API),
			})
		}
		if p.API == "anthropic" && p.APIKey == "" {
			issues = append(issues, ValidationIssue{
				Path:    prefix + ".apiKey",
				Message: "required for anthropic providers",
			})
		}
	}

	return issues
}
