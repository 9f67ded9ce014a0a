package llm

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/soyeahso/coursemate/internal/config"
	"github.com/soyeahso/coursemate/internal/logging"
)

// ErrNoProvider is wrapped by Resolve when nothing can serve a model.
var ErrNoProvider = errors.New("no LLM provider")

// Registry maps model ids to provider clients. A model resolves to the
// provider of the same name, then to the provider that lists it, then to
// the default provider.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Client
	models    map[string]string
	def       string
	log       *logging.Logger
}

func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		providers: make(map[string]Client),
		models:    make(map[string]string),
		log:       log.Sub("llm.registry"),
	}
}

// Register adds or replaces the client for a provider.
func (r *Registry) Register(name string, client Client) {
	r.mu.Lock()
	r.providers[name] = client
	r.mu.Unlock()
	r.log.Debug().Str("provider", name).Msg("registered LLM provider")
}

// Alias routes model to provider.
func (r *Registry) Alias(model, provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[model] = provider
}

// SetFallback names the provider used for models nobody lists.
func (r *Registry) SetFallback(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.def = provider
}

func (r *Registry) Resolve(model string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range []string{model, r.models[model], r.def} {
		if name == "" {
			continue
		}
		if c, ok := r.providers[name]; ok {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w for model %q", ErrNoProvider, model)
}

// List returns provider names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.providers))
}

// clientFactories build a provider client by wire API. Unknown APIs use
// the OpenAI-compatible client.
var clientFactories = map[string]func(ProviderOptions) Client{
	"anthropic": func(o ProviderOptions) Client { return NewAnthropicClient(o) },
	"openai":    func(o ProviderOptions) Client { return NewOpenAIClient(o) },
}

// NewRegistryFromConfig registers every configured provider and its
// models. The first provider is the default.
func NewRegistryFromConfig(cfg config.LLMConfig, log *logging.Logger) *Registry {
	reg := NewRegistry(log)
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second

	for _, p := range cfg.Providers {
		build, ok := clientFactories[p.API]
		if !ok {
			build = clientFactories["openai"]
		}
		reg.Register(p.Name, build(ProviderOptions{
			Name:    p.Name,
			BaseURL: p.BaseURL,
			APIKey:  p.APIKey,
			Headers: p.Headers,
			Timeout: timeout,
		}))
		for _, model := range p.Models {
			reg.Alias(model, p.Name)
		}
	}
	if len(cfg.Providers) > 0 {
		reg.SetFallback(cfg.Providers[0].Name)
	}
	return reg
}
