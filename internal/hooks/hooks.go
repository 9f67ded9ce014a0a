// Package hooks runs in-process handlers on query, session, ingest and
// gateway lifecycle events.
package hooks

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/soyeahso/coursemate/internal/logging"
)

const (
	EventQueryReceived  = "query_received"
	EventQueryAnswered  = "query_answered"
	EventSessionStart   = "session_start"
	EventSessionCleared = "session_cleared"
	EventCoursesLoaded  = "courses_loaded"
	EventGatewayStart   = "gateway_start"
	EventGatewayStop    = "gateway_stop"
)

// AllEvents is every event the service emits.
var AllEvents = []string{
	EventQueryReceived,
	EventQueryAnswered,
	EventSessionStart,
	EventSessionCleared,
	EventCoursesLoaded,
	EventGatewayStart,
	EventGatewayStop,
}

// Payload is what a handler receives.
type Payload struct {
	Event string         `json:"event"`
	At    time.Time      `json:"at"`
	Data  map[string]any `json:"data,omitempty"`
}

// Handler reacts to one event. Errors and panics are logged and never
// reach the emitter.
type Handler func(ctx context.Context, p Payload) error

type registration struct {
	id      uint64
	name    string
	handler Handler
}

// Manager fans events out to registered handlers. A nil *Manager drops
// every emit.
type Manager struct {
	mu     sync.RWMutex
	byName map[string][]registration
	nextID uint64
	log    *logging.Logger
}

func NewManager(log *logging.Logger) *Manager {
	return &Manager{
		byName: make(map[string][]registration),
		log:    log.Sub("hooks"),
	}
}

// On adds handler for event and returns a func that removes it again.
func (m *Manager) On(event, name string, handler Handler) (remove func()) {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.byName[event] = append(m.byName[event], registration{id: id, name: name, handler: handler})
	m.mu.Unlock()

	m.log.Debug().Str("event", event).Str("handler", name).Msg("hook registered")
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.byName[event] = slices.DeleteFunc(m.byName[event], func(r registration) bool { return r.id == id })
	}
}

// Emit calls the handlers for event in registration order and returns once
// all of them have run.
func (m *Manager) Emit(ctx context.Context, event string, data map[string]any) {
	if m == nil {
		return
	}
	m.mu.RLock()
	regs := slices.Clone(m.byName[event])
	m.mu.RUnlock()

	p := Payload{Event: event, At: time.Now(), Data: data}
	for _, r := range regs {
		if err := m.call(ctx, r, p); err != nil {
			m.log.Warn().Err(err).Str("event", event).Str("handler", r.name).Msg("hook handler failed")
		}
	}
}

func (m *Manager) call(ctx context.Context, r registration, p Payload) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("panic: %v", v)
		}
	}()
	return r.handler(ctx, p)
}

// Count is the number of handlers on event.
func (m *Manager) Count(event string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byName[event])
}

// LogHandler logs each payload at info level with its data keys as fields,
// in key order.
func LogHandler(log *logging.Logger) Handler {
	log = log.Sub("hooks.log")
	return func(_ context.Context, p Payload) error {
		keys := make([]string, 0, len(p.Data))
		for k := range p.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		ev := log.Info().Str("event", p.Event)
		for _, k := range keys {
			ev = ev.Interface(k, p.Data[k])
		}
		ev.Msg("hook event")
		return nil
	}
}

// RegisterLogging attaches LogHandler to every event in AllEvents.
func (m *Manager) RegisterLogging(log *logging.Logger) {
	h := LogHandler(log)
	for _, event := range AllEvents {
		m.On(event, "log", h)
	}
}
