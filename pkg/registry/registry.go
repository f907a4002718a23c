// Package registry resolves graph names to graphs across a set of weighted providers.
//
// The Registry owns no data. Every call checks permissions with the configured
// security.AccessController, then asks providers in a fixed order: descending weight, ties
// broken by provider name. A provider answering not-found, unsupported or invalid-argument
// passes the call on to the next one; any other answer, success or failure, is final.
//
// Features:
//   - Read-only downgrade: a caller with read but not write permission who asks for a
//     mutable graph gets a wrapper whose writes fail with a permission error
//   - Create/delete events for lifecycle listeners (publish/retract)
//   - SPARQL fastlane: queries whose graphs all live in one queryable provider bypass
//     the generic engine
//   - Prometheus metrics and OpenTelemetry spans on every operation
//
// Example:
//
//	reg := registry.New(
//		registry.WithAccessController(ac),
//		registry.WithLogger(logger),
//	)
//	defer reg.Close()
//
//	reg.AddProvider(memory.New())
//	reg.AddProvider(store)
//
//	g, err := reg.Create(ctx, "http://example.org/g")
//	if err != nil {
//		return err
//	}
//	g.Add(rdf.MustTriple(alice, knows, bob))
//
// ELI12:
//
// Imagine a row of librarians ordered by seniority. You ask for a book by name. The most
// senior librarian looks first and, without the book, passes you down the row.
// The first one who has it hands it over. Before anyone even looks, a guard checks your
// card to see if you may borrow that book, or only read it in the room.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/orneryd/graphfed/pkg/cache"
	"github.com/orneryd/graphfed/pkg/provider"
	"github.com/orneryd/graphfed/pkg/security"
)

// Defaults for the query pre-parse cache.
const (
	DefaultCacheSize = 1000
	DefaultCacheTTL  = 5 * time.Minute
)

// ErrDuplicateProvider is returned by AddProvider for a name already registered.
var ErrDuplicateProvider = errors.New("registry: duplicate provider name")

// Registry routes named-graph operations to providers. It is safe for concurrent use.
type Registry struct {
	logger *slog.Logger
	access security.AccessController
	engine QueryEngine
	now    func() time.Time

	mu        sync.RWMutex
	providers []provider.WeightedProvider // sorted with provider.Sort
	listeners []Listener

	// lifecycle serializes Create, CreateImmutable and Delete so that the
	// "no provider already serves the name" check and the creation are one step.
	lifecycle sync.Mutex

	refs   *cache.QueryCache[References]
	parses singleflight.Group
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithAccessController sets the permission checker. Defaults to security.AllowAll.
func WithAccessController(ac security.AccessController) Option {
	return func(r *Registry) {
		if ac != nil {
			r.access = ac
		}
	}
}

// WithQueryEngine sets the engine used for queries the fastlane cannot serve.
func WithQueryEngine(e QueryEngine) Option {
	return func(r *Registry) { r.engine = e }
}

// WithQueryCache sizes the cache of query pre-parse results. size <= 0 disables it.
func WithQueryCache(size int, ttl time.Duration) Option {
	return func(r *Registry) {
		r.refs = cache.NewQueryCache[References](size, ttl)
		if size <= 0 {
			r.refs.SetEnabled(false)
		}
	}
}

// WithListener registers a listener at construction time.
func WithListener(l Listener) Option {
	return func(r *Registry) { r.listeners = append(r.listeners, l) }
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		logger: slog.Default(),
		access: security.AllowAll{},
		now:    time.Now,
		refs:   cache.NewQueryCache[References](DefaultCacheSize, DefaultCacheTTL),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddProvider registers p. Names must be unique across the registry and weights positive.
func (r *Registry) AddProvider(p provider.WeightedProvider) error {
	if p.Weight() <= 0 {
		return fmt.Errorf("registry: provider %q has non-positive weight %d", p.Name(), p.Weight())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.providers {
		if existing.Name() == p.Name() {
			return fmt.Errorf("%w: %s", ErrDuplicateProvider, p.Name())
		}
	}
	providers := append(slices.Clone(r.providers), p)
	provider.Sort(providers)
	r.providers = providers

	r.logger.Info("provider registered", "provider", p.Name(), "weight", p.Weight())
	return nil
}

// RemoveProvider unregisters the provider called name. It does not close it.
func (r *Registry) RemoveProvider(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := slices.IndexFunc(r.providers, func(p provider.WeightedProvider) bool { return p.Name() == name })
	if i < 0 {
		return false
	}
	r.providers = slices.Delete(slices.Clone(r.providers), i, i+1)
	r.logger.Info("provider unregistered", "provider", name)
	return true
}

// Providers returns the registered providers in routing order.
func (r *Registry) Providers() []provider.WeightedProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.providers)
}

// AddListener registers l for create, delete and access-denied events.
func (r *Registry) AddListener(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// snapshot returns the current provider list. The slice is never mutated in place,
// so callers may iterate it without holding the lock.
func (r *Registry) snapshot() []provider.WeightedProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers
}

func (r *Registry) emit(ctx context.Context, e Event) {
	r.mu.RLock()
	listeners := r.listeners
	r.mu.RUnlock()

	e.Time = r.now()
	if e.Username == "" {
		e.Username = security.Username(ctx)
	}
	for _, l := range listeners {
		l.OnEvent(ctx, e)
	}
}

// Close unregisters every provider and closes those implementing io.Closer.
func (r *Registry) Close() error {
	r.mu.Lock()
	providers := r.providers
	r.providers = nil
	r.mu.Unlock()

	var errs []error
	for _, p := range providers {
		if c, ok := p.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing provider %s: %w", p.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}

var (
	defaultMu       sync.RWMutex
	defaultRegistry *Registry
)

// Default returns the process-wide registry, creating an empty one on first use.
// Library code should take a *Registry explicitly; the graphfed command publishes the
// registry it builds here for the duration of one invocation.
func Default() *Registry {
	defaultMu.RLock()
	r := defaultRegistry
	defaultMu.RUnlock()
	if r != nil {
		return r
	}

	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultRegistry == nil {
		defaultRegistry = New()
	}
	return defaultRegistry
}

// SetDefault replaces the process-wide registry.
func SetDefault(r *Registry) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultRegistry = r
}
