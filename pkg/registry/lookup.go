package registry

import (
	"context"
	"errors"

	"github.com/orneryd/graphfed/pkg/graph"
	"github.com/orneryd/graphfed/pkg/provider"
	"github.com/orneryd/graphfed/pkg/rdf"
)

// errExhausted means every provider passed.
var errExhausted = errors.New("registry: no provider accepted the call")

// fallback calls fn on each provider in order until one gives an answer that is not a
// fallthrough error. It returns that answer and the provider that gave it, or
// errExhausted when every provider passed.
func fallback[T any](r *Registry, name rdf.IRI, ps []provider.WeightedProvider, fn func(provider.WeightedProvider) (T, error)) (T, provider.WeightedProvider, error) {
	var zero T
	for _, p := range ps {
		v, err := fn(p)
		if err != nil && graph.IsFallthrough(err) {
			r.logger.Debug("provider passed", "provider", p.Name(), "graph", name.Value(), "error", err)
			continue
		}
		return v, p, err
	}
	return zero, nil, errExhausted
}

// checkRead asks the access controller and reports denials to listeners.
func (r *Registry) checkRead(ctx context.Context, op string, name rdf.IRI) error {
	return r.denied(ctx, op, name, r.access.CheckRead(ctx, name))
}

func (r *Registry) checkReadWrite(ctx context.Context, op string, name rdf.IRI) error {
	return r.denied(ctx, op, name, r.access.CheckReadWrite(ctx, name))
}

func (r *Registry) denied(ctx context.Context, op string, name rdf.IRI, err error) error {
	if err == nil {
		return nil
	}
	r.logger.Info("access denied", "op", op, "graph", name.Value(), "error", err)
	r.emit(ctx, Event{Kind: AccessDenied, Name: name, Operation: op, Err: err})
	return err
}

// writable reports whether the caller may write name. A permission error means read-only;
// any other error is returned.
func (r *Registry) writable(ctx context.Context, name rdf.IRI) (bool, error) {
	err := r.access.CheckReadWrite(ctx, name)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, graph.ErrPermissionDenied) {
		return false, nil
	}
	return false, err
}

// Get returns the immutable graph called name.
func (r *Registry) Get(ctx context.Context, name rdf.IRI) (g graph.ImmutableGraph, err error) {
	ctx, done := r.observe(ctx, "get", name)
	defer func() { done(err) }()

	if err := r.checkRead(ctx, "get", name); err != nil {
		return nil, err
	}
	g, _, err = fallback(r, name, r.snapshot(), func(p provider.WeightedProvider) (graph.ImmutableGraph, error) {
		return p.Immutable(name)
	})
	if errors.Is(err, errExhausted) {
		return nil, graph.NewEntityError("get", name, graph.ErrNotFound)
	}
	return g, err
}

// GetMutable returns the mutable graph called name. A caller with read but not write
// permission gets a *graph.ReadOnlyGraph whose writes fail with a permission error.
func (r *Registry) GetMutable(ctx context.Context, name rdf.IRI) (g graph.Graph, err error) {
	ctx, done := r.observe(ctx, "get_mutable", name)
	defer func() { done(err) }()

	if err := r.checkRead(ctx, "get_mutable", name); err != nil {
		return nil, err
	}
	canWrite, err := r.writable(ctx, name)
	if err != nil {
		return nil, err
	}

	g, _, err = fallback(r, name, r.snapshot(), func(p provider.WeightedProvider) (graph.Graph, error) {
		return p.Mutable(name)
	})
	if errors.Is(err, errExhausted) {
		return nil, graph.NewEntityError("get_mutable", name, graph.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if !canWrite {
		return graph.NewReadOnly(g, name), nil
	}
	return g, nil
}

// GetEither returns the graph called name whether it is mutable or not. A mutable result
// implements graph.Graph, wrapped read-only if the caller may not write it.
func (r *Registry) GetEither(ctx context.Context, name rdf.IRI) (g graph.ImmutableGraph, err error) {
	ctx, done := r.observe(ctx, "get_either", name)
	defer func() { done(err) }()

	if err := r.checkRead(ctx, "get_either", name); err != nil {
		return nil, err
	}
	g, _, err = fallback(r, name, r.snapshot(), func(p provider.WeightedProvider) (graph.ImmutableGraph, error) {
		return p.Either(name)
	})
	if errors.Is(err, errExhausted) {
		return nil, graph.NewEntityError("get_either", name, graph.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	mg, ok := g.(graph.Graph)
	if !ok {
		return g, nil
	}
	canWrite, err := r.writable(ctx, name)
	if err != nil {
		return nil, err
	}
	if !canWrite {
		return graph.NewReadOnly(mg, name), nil
	}
	return mg, nil
}

// Create makes an empty mutable graph in the first provider, in routing order, that
// supports creation.
func (r *Registry) Create(ctx context.Context, name rdf.IRI) (g graph.Graph, err error) {
	ctx, done := r.observe(ctx, "create", name)
	defer func() { done(err) }()

	g, p, err := create(ctx, r, "create", name, func(p provider.WeightedProvider) (graph.Graph, error) {
		return p.Create(name)
	})
	if err != nil {
		return nil, err
	}
	r.logger.Info("graph created", "graph", name.Value(), "provider", p.Name(), "mutable", true)
	r.emit(ctx, Event{Kind: GraphCreated, Name: name, Mutable: true, Provider: p.Name()})
	return g, nil
}

// CreateImmutable makes an immutable graph holding triples.
func (r *Registry) CreateImmutable(ctx context.Context, name rdf.IRI, triples []rdf.Triple) (g graph.ImmutableGraph, err error) {
	ctx, done := r.observe(ctx, "create_immutable", name)
	defer func() { done(err) }()

	g, p, err := create(ctx, r, "create_immutable", name, func(p provider.WeightedProvider) (graph.ImmutableGraph, error) {
		return p.CreateImmutable(name, triples)
	})
	if err != nil {
		return nil, err
	}
	r.logger.Info("graph created", "graph", name.Value(), "provider", p.Name(), "mutable", false, "triples", len(triples))
	r.emit(ctx, Event{Kind: GraphCreated, Name: name, Mutable: false, Provider: p.Name()})
	return g, nil
}

func create[T any](ctx context.Context, r *Registry, op string, name rdf.IRI, fn func(provider.WeightedProvider) (T, error)) (T, provider.WeightedProvider, error) {
	var zero T
	if err := r.checkReadWrite(ctx, op, name); err != nil {
		return zero, nil, err
	}

	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	ps := r.snapshot()
	for _, p := range ps {
		has, err := provider.Has(p, name)
		if err != nil && !graph.IsFallthrough(err) {
			return zero, nil, graph.NewEntityError(op, name, err)
		}
		if has {
			return zero, nil, graph.NewEntityError(op, name, graph.ErrAlreadyExists)
		}
	}

	v, p, err := fallback(r, name, ps, fn)
	if errors.Is(err, errExhausted) {
		return zero, nil, graph.NewEntityError(op, name, graph.ErrUnsupported)
	}
	return v, p, err
}

// Delete removes the graph called name from the provider serving it.
func (r *Registry) Delete(ctx context.Context, name rdf.IRI) (err error) {
	ctx, done := r.observe(ctx, "delete", name)
	defer func() { done(err) }()

	if err := r.checkReadWrite(ctx, "delete", name); err != nil {
		return err
	}

	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	served := false
	mutable, p, err := fallback(r, name, r.snapshot(), func(p provider.WeightedProvider) (bool, error) {
		g, err := p.Either(name)
		if err != nil {
			return false, err
		}
		served = true
		_, mutable := g.(graph.Graph)
		return mutable, p.Delete(name)
	})
	if errors.Is(err, errExhausted) {
		// Not found only when no provider serves the name; otherwise every owner refused.
		if served {
			return graph.NewEntityError("delete", name, graph.ErrUnsupported)
		}
		return graph.NewEntityError("delete", name, graph.ErrNotFound)
	}
	if err != nil {
		return err
	}

	r.logger.Info("graph deleted", "graph", name.Value(), "provider", p.Name())
	r.emit(ctx, Event{Kind: GraphDeleted, Name: name, Mutable: mutable, Provider: p.Name()})
	return nil
}

// List returns every graph name the caller may read, sorted.
func (r *Registry) List(ctx context.Context) ([]rdf.IRI, error) {
	return r.list(ctx, "list", provider.Provider.ListAll)
}

// ListMutable returns the readable mutable graph names, sorted.
func (r *Registry) ListMutable(ctx context.Context) ([]rdf.IRI, error) {
	return r.list(ctx, "list_mutable", provider.Provider.ListMutable)
}

// ListImmutable returns the readable immutable graph names, sorted.
func (r *Registry) ListImmutable(ctx context.Context) ([]rdf.IRI, error) {
	return r.list(ctx, "list_immutable", provider.Provider.ListImmutable)
}

func (r *Registry) list(ctx context.Context, op string, fn func(provider.Provider) ([]rdf.IRI, error)) (names []rdf.IRI, err error) {
	ctx, done := r.observe(ctx, op, "")
	defer func() { done(err) }()

	return r.union(ctx, func(p provider.WeightedProvider) ([]rdf.IRI, error) { return fn(p) })
}

// NamesOf returns every readable name under which some provider serves g.
func (r *Registry) NamesOf(ctx context.Context, g graph.ImmutableGraph) (names []rdf.IRI, err error) {
	ctx, done := r.observe(ctx, "names_of", "")
	defer func() { done(err) }()

	return r.union(ctx, func(p provider.WeightedProvider) ([]rdf.IRI, error) { return p.NamesOf(g) })
}

// union merges the names every provider returns, skipping providers that pass and names
// the caller may not read.
func (r *Registry) union(ctx context.Context, fn func(provider.WeightedProvider) ([]rdf.IRI, error)) ([]rdf.IRI, error) {
	seen := make(map[rdf.IRI]struct{})
	out := []rdf.IRI{}
	for _, p := range r.snapshot() {
		names, err := fn(p)
		if err != nil {
			if graph.IsFallthrough(err) {
				continue
			}
			return nil, err
		}
		for _, n := range names {
			if _, dup := seen[n]; dup {
				continue
			}
			seen[n] = struct{}{}
			if r.access.CheckRead(ctx, n) != nil {
				continue
			}
			out = append(out, n)
		}
	}
	return provider.SortNames(out), nil
}
