// Package registry maps action names to the handlers that execute them.
//
// Feature modules register their handlers on a Builder during startup;
// Build freezes the set into a Registry that is only read afterwards.
package registry

import (
	"context"
	"slices"

	"github.com/rs/zerolog/log"
)

// Invocation is what a handler receives for one task run.
type Invocation struct {
	ScheduleID string
	EntityID   string
	ActorID    string
	Data       map[string]any
	Attempt    int
}

type Handler interface {
	Handle(ctx context.Context, inv Invocation) error
}

type HandlerFunc func(ctx context.Context, inv Invocation) error

func (f HandlerFunc) Handle(ctx context.Context, inv Invocation) error { return f(ctx, inv) }

type Builder struct {
	handlers map[string]Handler
}

func NewBuilder() *Builder {
	return &Builder{handlers: make(map[string]Handler)}
}

// Register adds h under name. A second registration for the same name
// replaces the first and is logged as a configuration warning.
func (b *Builder) Register(name string, h Handler) *Builder {
	if _, exists := b.handlers[name]; exists {
		log.Warn().Str("action", name).Msg("action registered twice, last registration wins")
	}
	b.handlers[name] = h
	return b
}

func (b *Builder) RegisterFunc(name string, fn func(ctx context.Context, inv Invocation) error) *Builder {
	return b.Register(name, HandlerFunc(fn))
}

func (b *Builder) Build() *Registry {
	handlers := make(map[string]Handler, len(b.handlers))
	for name, h := range b.handlers {
		handlers[name] = h
	}
	return &Registry{handlers: handlers}
}

// Registry is immutable and safe for concurrent use.
type Registry struct {
	handlers map[string]Handler
}

func (r *Registry) Get(name string) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
