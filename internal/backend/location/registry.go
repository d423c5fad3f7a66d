package location

import (
	"context"
	"sort"

	"github.com/restic/snaprepo/internal/backend"
	"github.com/restic/snaprepo/internal/backend/limiter"
)

type Registry struct {
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

func (r *Registry) Register(factory Factory) {
	if r.factories[factory.Scheme()] != nil {
		panic("duplicate backend " + factory.Scheme())
	}
	r.factories[factory.Scheme()] = factory
}

func (r *Registry) Lookup(scheme string) Factory {
	return r.factories[scheme]
}

// Schemes returns the sorted list of registered schemes.
func (r *Registry) Schemes() []string {
	list := make([]string, 0, len(r.factories))
	for scheme := range r.factories {
		list = append(list, scheme)
	}
	sort.Strings(list)
	return list
}

// Factory parses the configuration for one scheme and opens backends for it.
type Factory interface {
	Scheme() string
	ParseConfig(s string) (interface{}, error)
	StripPassword(s string) string
	Open(ctx context.Context, cfg interface{}, lim limiter.Limiter) (backend.Backend, error)
}

type genericBackendFactory[C any, T backend.Backend] struct {
	scheme          string
	parseConfigFn   func(s string) (*C, error)
	stripPasswordFn func(s string) string
	openFn          func(ctx context.Context, cfg C, lim limiter.Limiter) (T, error)
}

func (f *genericBackendFactory[C, T]) Scheme() string {
	return f.scheme
}

func (f *genericBackendFactory[C, T]) ParseConfig(s string) (interface{}, error) {
	return f.parseConfigFn(s)
}

func (f *genericBackendFactory[C, T]) StripPassword(s string) string {
	if f.stripPasswordFn != nil {
		return f.stripPasswordFn(s)
	}
	return s
}

func (f *genericBackendFactory[C, T]) Open(ctx context.Context, cfg interface{}, lim limiter.Limiter) (backend.Backend, error) {
	return f.openFn(ctx, *cfg.(*C), lim)
}

// NewBackendFactory returns a factory for backends that do not need a
// limiter themselves. When lim is not nil, the returned backend is wrapped
// in a rate limited backend.
func NewBackendFactory[C any, T backend.Backend](
	scheme string,
	parseConfigFn func(s string) (*C, error),
	stripPasswordFn func(s string) string,
	openFn func(ctx context.Context, cfg C) (T, error)) Factory {

	return &genericBackendFactory[C, backend.Backend]{
		scheme:          scheme,
		parseConfigFn:   parseConfigFn,
		stripPasswordFn: stripPasswordFn,
		openFn:          limiter.WrapBackendConstructor(openFn),
	}
}

// NewLimitedBackendFactory returns a factory for backends that apply the
// limiter on their own, e.g. at the transport level.
func NewLimitedBackendFactory[C any, T backend.Backend](
	scheme string,
	parseConfigFn func(s string) (*C, error),
	stripPasswordFn func(s string) string,
	openFn func(ctx context.Context, cfg C, lim limiter.Limiter) (T, error)) Factory {

	return &genericBackendFactory[C, T]{
		scheme:          scheme,
		parseConfigFn:   parseConfigFn,
		stripPasswordFn: stripPasswordFn,
		openFn:          openFn,
	}
}
