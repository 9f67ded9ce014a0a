// Package app wires coursemate services from configuration using
// go.uber.org/dig.
package app

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/dig"

	"github.com/soyeahso/coursemate/internal/config"
	"github.com/soyeahso/coursemate/internal/gateway"
	"github.com/soyeahso/coursemate/internal/generator"
	"github.com/soyeahso/coursemate/internal/hooks"
	"github.com/soyeahso/coursemate/internal/ingest"
	"github.com/soyeahso/coursemate/internal/llm"
	"github.com/soyeahso/coursemate/internal/logging"
	"github.com/soyeahso/coursemate/internal/rag"
	"github.com/soyeahso/coursemate/internal/store"
)

// ErrNoProviders is returned when a query path is built without any LLM
// provider configured.
var ErrNoProviders = errors.New("no LLM providers configured: set llm.providers or COURSEMATE_API_KEY")

// DatabasePath is the resolved SQLite location, typed so dig can tell it
// apart from other strings.
type DatabasePath string

// Container builds services on first use. Commands that only touch the
// course store never construct an LLM client.
// Callers use the typed getter methods; they never need to import dig directly.
type Container struct {
	d *dig.Container

	mu sync.Mutex
	db *store.DB
}

// Option customizes the container.
type Option func(*options)

type options struct {
	client llm.Client
}

// WithLLMClient replaces the configured provider chain.
func WithLLMClient(c llm.Client) Option {
	return func(o *options) { o.client = c }
}

// New registers all constructors. Nothing is built until a getter asks
// for it.
func New(cfg config.Config, paths config.Paths, log *logging.Logger, opts ...Option) (*Container, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	c := &Container{d: dig.New()}

	providers := []any{
		func() config.Config { return cfg },
		func() *logging.Logger { return log },
		func() DatabasePath { return DatabasePath(paths.DatabasePath(cfg.Store)) },
		c.openDB,
		newCourseStore,
		newSessionStore,
		newHooks,
		newGenerator,
		newService,
		newLoader,
		newGateway,
	}
	if o.client != nil {
		providers = append(providers, func() llm.Client { return o.client })
	} else {
		providers = append(providers, newLLMClient)
	}

	for _, p := range providers {
		if err := c.d.Provide(p); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Close releases the database if one was opened.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

// Courses returns the course knowledge base.
func (c *Container) Courses() (*store.CourseStore, error) {
	return resolve[*store.CourseStore](c)
}

// Service returns the question-answering service.
func (c *Container) Service() (*rag.Service, error) {
	return resolve[*rag.Service](c)
}

// Loader returns the course ingester.
func (c *Container) Loader() (*ingest.Loader, error) {
	return resolve[*ingest.Loader](c)
}

// Gateway returns the HTTP/WebSocket server.
func (c *Container) Gateway() (*gateway.Server, error) {
	return resolve[*gateway.Server](c)
}

// Hooks returns the lifecycle hook manager.
func (c *Container) Hooks() (*hooks.Manager, error) {
	return resolve[*hooks.Manager](c)
}

func resolve[T any](c *Container) (T, error) {
	var out T
	err := c.d.Invoke(func(v T) { out = v })
	if err != nil {
		return out, dig.RootCause(err)
	}
	return out, nil
}

func (c *Container) openDB(path DatabasePath, log *logging.Logger) (*store.DB, error) {
	db, err := store.Open(string(path), log)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	c.mu.Lock()
	c.db = db
	c.mu.Unlock()
	return db, nil
}

func newCourseStore(cfg config.Config, db *store.DB) *store.CourseStore {
	return store.NewCourseStore(db, cfg.Store.MaxResults)
}

func newSessionStore(cfg config.Config, db *store.DB, log *logging.Logger) rag.SessionStore {
	if cfg.Session.Store == "sqlite" {
		log.Debug().Msg("using SQLite session store")
		return store.NewSQLiteSessionStore(db)
	}
	log.Debug().Msg("using in-memory session store")
	return rag.NewMemorySessionStore()
}

func newHooks(log *logging.Logger) *hooks.Manager {
	hm := hooks.NewManager(log)
	hm.RegisterLogging(log)
	return hm
}

// newLLMClient builds registry → failover → rate limit.
func newLLMClient(cfg config.Config, log *logging.Logger) (llm.Client, error) {
	reg := llm.NewRegistryFromConfig(cfg.LLM, log)
	names := reg.List()
	if len(names) == 0 {
		return nil, ErrNoProviders
	}

	model := cfg.LLM.Model
	if model == "" {
		model = firstModel(cfg.LLM)
	}
	if model == "" {
		return nil, fmt.Errorf("llm.model is not set and no provider lists a model")
	}

	log.Info().Strs("providers", names).Str("model", model).Msg("LLM providers available")

	client := llm.NewFailoverClient(reg, model, cfg.LLM.Fallbacks, log)
	return llm.NewRateLimitedClient(client, cfg.LLM.RequestsPerMinute), nil
}

func firstModel(cfg config.LLMConfig) string {
	for _, p := range cfg.Providers {
		if len(p.Models) > 0 {
			return p.Models[0]
		}
	}
	return ""
}

func newGenerator(cfg config.Config, client llm.Client, log *logging.Logger) *generator.Generator {
	var temp float64
	if cfg.Generator.Temperature != nil {
		temp = *cfg.Generator.Temperature
	}
	model := cfg.LLM.Model
	if model == "" {
		model = firstModel(cfg.LLM)
	}
	return generator.New(client, generator.Options{
		Model:         model,
		MaxRounds:     cfg.Generator.MaxRounds,
		MaxTokens:     cfg.Generator.MaxTokens,
		Temperature:   temp,
		ParallelTools: cfg.Generator.ParallelTools,
	}, log)
}

func newService(
	cfg config.Config,
	gen *generator.Generator,
	courses *store.CourseStore,
	sessions rag.SessionStore,
	hm *hooks.Manager,
	log *logging.Logger,
) *rag.Service {
	return rag.NewService(gen, courses, sessions, hm, rag.Options{MaxHistory: cfg.Session.MaxHistory}, log)
}

func newLoader(cfg config.Config, courses *store.CourseStore, log *logging.Logger) *ingest.Loader {
	return ingest.NewLoader(courses, ingest.ChunkOptions{
		Size:    cfg.Store.ChunkSize,
		Overlap: cfg.Store.ChunkOverlap,
	}, log)
}

func newGateway(cfg config.Config, svc *rag.Service, hm *hooks.Manager, log *logging.Logger) *gateway.Server {
	return gateway.New(cfg.Gateway, svc, log, gateway.WithHooks(hm))
}
