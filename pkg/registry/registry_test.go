package registry

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/graphfed/pkg/graph"
	"github.com/orneryd/graphfed/pkg/provider"
	"github.com/orneryd/graphfed/pkg/provider/memory"
	"github.com/orneryd/graphfed/pkg/rdf"
	"github.com/orneryd/graphfed/pkg/security"
)

const (
	g1 = rdf.IRI("http://example.org/g1")
	g2 = rdf.IRI("http://example.org/g2")
)

var tr = rdf.MustTriple(rdf.IRI("http://example.org/s"), rdf.IRI("http://example.org/p"), rdf.NewLiteral("o"))

// failing overrides the read path of a provider with a fixed error.
type failing struct {
	provider.WeightedProvider
	err error
}

func (f failing) Immutable(rdf.IRI) (graph.ImmutableGraph, error) { return nil, f.err }
func (f failing) Mutable(rdf.IRI) (graph.Graph, error)            { return nil, f.err }
func (f failing) Either(rdf.IRI) (graph.ImmutableGraph, error)    { return nil, f.err }

// readOnlyStore cannot create graphs.
type readOnlyStore struct{ *memory.Provider }

func (readOnlyStore) Create(rdf.IRI) (graph.Graph, error) { return nil, graph.ErrUnsupported }
func (readOnlyStore) CreateImmutable(rdf.IRI, []rdf.Triple) (graph.ImmutableGraph, error) {
	return nil, graph.ErrUnsupported
}

// fixedStore serves graphs but cannot delete them.
type fixedStore struct{ *memory.Provider }

func (fixedStore) Delete(rdf.IRI) error { return graph.ErrUnsupported }

// queryable answers every query with a boolean true and records the call.
type queryable struct {
	*memory.Provider
	calls int
}

func (q *queryable) Query(context.Context, string, rdf.IRI) (*provider.QueryResult, error) {
	q.calls++
	return &provider.QueryResult{Kind: provider.ResultBoolean, Boolean: true}, nil
}

// closer counts Close calls.
type closer struct {
	*memory.Provider
	closed int
}

func (c *closer) Close() error { c.closed++; return nil }

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) OnEvent(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

func mem(name string, weight int) *memory.Provider {
	return memory.New(memory.WithName(name), memory.WithWeight(weight))
}

func TestRegistry_AddProvider(t *testing.T) {
	r := New()
	require.NoError(t, r.AddProvider(mem("a", 1)))
	assert.ErrorIs(t, r.AddProvider(mem("a", 9)), ErrDuplicateProvider)
	assert.Error(t, r.AddProvider(zeroWeight{mem("z", 1)}), "weights must be positive")

	require.NoError(t, r.AddProvider(mem("b", 7)))
	names := []string{}
	for _, p := range r.Providers() {
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{"b", "a"}, names)

	assert.True(t, r.RemoveProvider("b"))
	assert.False(t, r.RemoveProvider("b"))
	assert.Len(t, r.Providers(), 1)
}

type zeroWeight struct{ *memory.Provider }

func (zeroWeight) Weight() int { return 0 }

func TestRegistry_FallbackDeterminism(t *testing.T) {
	ctx := context.Background()

	for _, order := range [][]string{{"a", "b"}, {"b", "a"}} {
		a, b := mem("a", 5), mem("b", 5)
		ga, err := a.Create(g1)
		require.NoError(t, err)
		_, err = b.Create(g1)
		require.NoError(t, err)

		r := New()
		byName := map[string]*memory.Provider{"a": a, "b": b}
		for _, n := range order {
			require.NoError(t, r.AddProvider(byName[n]))
		}

		got, err := r.GetMutable(ctx, g1)
		require.NoError(t, err)
		assert.Same(t, ga, got, "equal weights: lower name wins for order %v", order)
	}

	t.Run("higher weight first", func(t *testing.T) {
		low, high := mem("a", 1), mem("z", 10)
		_, _ = low.Create(g1)
		gh, _ := high.Create(g1)
		r := New()
		require.NoError(t, r.AddProvider(low))
		require.NoError(t, r.AddProvider(high))
		got, err := r.GetEither(ctx, g1)
		require.NoError(t, err)
		assert.Same(t, gh, got)
	})

	t.Run("fallthrough errors pass", func(t *testing.T) {
		for _, passErr := range []error{graph.ErrNotFound, graph.ErrUnsupported, graph.ErrInvalidArgument} {
			back := mem("back", 1)
			want, _ := back.CreateImmutable(g1, []rdf.Triple{tr})
			r := New()
			require.NoError(t, r.AddProvider(failing{mem("front", 9), passErr}))
			require.NoError(t, r.AddProvider(back))

			got, err := r.Get(ctx, g1)
			require.NoError(t, err, "error %v", passErr)
			assert.Same(t, want, got)
		}
	})

	t.Run("other errors decide", func(t *testing.T) {
		boom := errors.New("disk on fire")
		back := mem("back", 1)
		_, _ = back.CreateImmutable(g1, nil)
		r := New()
		require.NoError(t, r.AddProvider(failing{mem("front", 9), boom}))
		require.NoError(t, r.AddProvider(back))

		_, err := r.Get(ctx, g1)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("nobody serves it", func(t *testing.T) {
		r := New()
		require.NoError(t, r.AddProvider(mem("a", 1)))
		_, err := r.Get(ctx, g2)
		assert.ErrorIs(t, err, graph.ErrNotFound)
		_, err = r.GetMutable(ctx, g2)
		assert.ErrorIs(t, err, graph.ErrNotFound)
		_, err = r.GetEither(ctx, g2)
		assert.ErrorIs(t, err, graph.ErrNotFound)
	})
}

func TestRegistry_CreateDelete(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	archive := readOnlyStore{mem("archive", 10)}
	scratch := mem("scratch", 1)
	r := New(WithListener(rec))
	require.NoError(t, r.AddProvider(archive))
	require.NoError(t, r.AddProvider(scratch))

	g, err := r.Create(ctx, g1)
	require.NoError(t, err)
	got, err := scratch.Mutable(g1)
	require.NoError(t, err)
	assert.Same(t, g, got, "creation skips providers that cannot create")

	_, err = r.Create(ctx, g1)
	assert.ErrorIs(t, err, graph.ErrAlreadyExists)

	_, _ = archive.Provider.CreateImmutable(g2, []rdf.Triple{tr})
	_, err = r.CreateImmutable(ctx, g2, nil)
	assert.ErrorIs(t, err, graph.ErrAlreadyExists, "any provider serving the name blocks creation")

	f, err := r.CreateImmutable(ctx, "http://example.org/frozen", []rdf.Triple{tr})
	require.NoError(t, err)
	assert.Equal(t, 1, f.Size())

	require.NoError(t, r.Delete(ctx, g1))
	assert.ErrorIs(t, r.Delete(ctx, g1), graph.ErrNotFound)

	assert.Equal(t, []EventKind{GraphCreated, GraphCreated, GraphDeleted}, rec.kinds())
	assert.True(t, rec.events[0].Mutable)
	assert.Equal(t, "scratch", rec.events[0].Provider)
	assert.False(t, rec.events[1].Mutable)
	assert.True(t, rec.events[2].Mutable)
	assert.Equal(t, security.AnonymousUser, rec.events[2].Username)

	t.Run("undeletable", func(t *testing.T) {
		keep := memory.New(memory.WithName("keep"), memory.WithUndeletable(g1))
		_, _ = keep.Create(g1)
		r := New()
		require.NoError(t, r.AddProvider(keep))
		assert.ErrorIs(t, r.Delete(ctx, g1), graph.ErrUndeletable)
	})

	t.Run("owner refuses delete", func(t *testing.T) {
		fixed := fixedStore{mem("fixed", 5)}
		_, _ = fixed.Provider.Create(g1)
		r := New()
		require.NoError(t, r.AddProvider(fixed))

		err := r.Delete(ctx, g1)
		assert.ErrorIs(t, err, graph.ErrUnsupported)
		assert.NotErrorIs(t, err, graph.ErrNotFound)
		assert.ErrorIs(t, r.Delete(ctx, g2), graph.ErrNotFound)

		// A lower-weight provider serving the same name still gets the delete.
		backup := mem("backup", 1)
		_, _ = backup.Create(g1)
		require.NoError(t, r.AddProvider(backup))
		require.NoError(t, r.Delete(ctx, g1))
		_, err = backup.Either(g1)
		assert.ErrorIs(t, err, graph.ErrNotFound)
	})

	t.Run("no provider can create", func(t *testing.T) {
		r := New()
		require.NoError(t, r.AddProvider(readOnlyStore{mem("ro", 1)}))
		_, err := r.Create(ctx, g1)
		assert.ErrorIs(t, err, graph.ErrUnsupported)
	})
}

const policyYAML = `
anonymous_role: viewer
rules:
  - pattern: "http://example.org/secret/**"
    access: none
`

func TestRegistry_Security(t *testing.T) {
	p, err := security.LoadPolicy(strings.NewReader(policyYAML))
	require.NoError(t, err)
	ac, err := security.NewPolicyAccessController(p)
	require.NoError(t, err)

	secret := rdf.IRI("http://example.org/secret/g")
	m := mem("m", 1)
	_, _ = m.Create(g1)
	_, _ = m.Create(secret)

	rec := &recorder{}
	r := New(WithAccessController(ac), WithListener(rec))
	require.NoError(t, r.AddProvider(m))

	anon := context.Background()
	editor := security.WithPrincipal(anon, &security.Principal{Username: "ed", Roles: []security.Role{security.RoleEditor}})

	t.Run("viewer gets a read-only wrapper", func(t *testing.T) {
		g, err := r.GetMutable(anon, g1)
		require.NoError(t, err)
		require.IsType(t, &graph.ReadOnlyGraph{}, g)
		_, err = g.Add(tr)
		assert.ErrorIs(t, err, graph.ErrPermissionDenied)

		_, exposes := g.(interface{ Unwrap() graph.Graph })
		assert.False(t, exposes, "the writable graph is not reachable through the wrapper")
		raw, err := m.Mutable(g1)
		require.NoError(t, err)
		assert.Equal(t, 0, raw.Size())

		names, err := r.NamesOf(anon, g)
		require.NoError(t, err)
		assert.Equal(t, []rdf.IRI{g1}, names, "the wrapper is recognized as the graph it wraps")

		either, err := r.GetEither(anon, g1)
		require.NoError(t, err)
		assert.IsType(t, &graph.ReadOnlyGraph{}, either)
	})

	t.Run("editor gets the graph", func(t *testing.T) {
		g, err := r.GetMutable(editor, g1)
		require.NoError(t, err)
		ok, err := g.Add(tr)
		require.NoError(t, err)
		assert.True(t, ok)

		names, err := r.NamesOf(anon, g)
		require.NoError(t, err)
		assert.Equal(t, []rdf.IRI{g1}, names)
	})

	t.Run("denied reads and writes", func(t *testing.T) {
		_, err := r.GetEither(editor, secret)
		assert.ErrorIs(t, err, graph.ErrPermissionDenied)
		_, err = r.Create(anon, g2)
		assert.ErrorIs(t, err, graph.ErrPermissionDenied)
		assert.ErrorIs(t, r.Delete(anon, g1), graph.ErrPermissionDenied)
		assert.Equal(t, []EventKind{AccessDenied, AccessDenied, AccessDenied}, rec.kinds())
		assert.Equal(t, "ed", rec.events[0].Username)
		assert.Equal(t, "create", rec.events[1].Operation)
	})

	t.Run("listing hides unreadable names", func(t *testing.T) {
		names, err := r.List(anon)
		require.NoError(t, err)
		assert.Equal(t, []rdf.IRI{g1}, names)
		names, err = r.ListMutable(anon)
		require.NoError(t, err)
		assert.Equal(t, []rdf.IRI{g1}, names)
		names, err = r.ListImmutable(anon)
		require.NoError(t, err)
		assert.Empty(t, names)
	})
}

func TestRegistry_ListUnion(t *testing.T) {
	ctx := context.Background()
	a, b := mem("a", 2), mem("b", 1)
	_, _ = a.Create(g2)
	_, _ = b.Create(g1)
	_, _ = b.CreateImmutable(g2, nil)
	r := New()
	require.NoError(t, r.AddProvider(a))
	require.NoError(t, r.AddProvider(b))

	names, err := r.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []rdf.IRI{g1, g2}, names, "union is deduplicated and sorted")
}

func TestRegistry_QueryFastlane(t *testing.T) {
	ctx := context.Background()
	q := &queryable{Provider: mem("sparql", 5)}
	plain := mem("plain", 1)
	_, _ = q.Create(g1)
	_, _ = q.Create(g2)
	other := rdf.IRI("http://example.org/other")
	_, _ = plain.Create(other)

	engineCalls := 0
	engine := QueryEngineFunc(func(context.Context, *Registry, rdf.IRI, string) (*provider.QueryResult, error) {
		engineCalls++
		return &provider.QueryResult{Kind: provider.ResultBoolean}, nil
	})
	r := New(WithQueryEngine(engine))
	require.NoError(t, r.AddProvider(q))
	require.NoError(t, r.AddProvider(plain))

	tests := []struct {
		name     string
		query    string
		fastlane bool
	}{
		{"single provider", "ASK FROM <http://example.org/g2> { ?s ?p ?o }", true},
		{"named graph clause", "SELECT * FROM NAMED <http://example.org/g2> { GRAPH <http://example.org/g2> { ?s ?p ?o } }", true},
		{"two providers", "ASK FROM <http://example.org/other> { ?s ?p ?o }", false},
		{"graph variable", "SELECT ?g { GRAPH ?g { ?s ?p ?o } }", false},
		{"unknown graph", "ASK FROM <http://example.org/missing> {}", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			beforeQ, beforeE := q.calls, engineCalls
			res, err := r.Query(ctx, tt.query, g1)
			require.NoError(t, err)
			require.NotNil(t, res)
			if tt.fastlane {
				assert.Equal(t, beforeQ+1, q.calls)
				assert.Equal(t, beforeE, engineCalls)
				assert.True(t, res.Boolean)
			} else {
				assert.Equal(t, beforeQ, q.calls)
				assert.Equal(t, beforeE+1, engineCalls)
			}
		})
	}

	t.Run("no engine", func(t *testing.T) {
		r := New()
		require.NoError(t, r.AddProvider(plain))
		_, err := r.Query(ctx, "ASK {}", other)
		assert.ErrorIs(t, err, ErrNoQueryEngine)
	})

	t.Run("pre-parse is cached", func(t *testing.T) {
		query := "ASK FROM <http://example.org/g2> { }"
		r.References(query)
		before := r.refs.Stats().Hits
		r.References(query)
		assert.Equal(t, before+1, r.refs.Stats().Hits)
	})
}

func TestScanReferences(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		graphs  []rdf.IRI
		dynamic bool
	}{
		{"none", "SELECT * { ?s ?p ?o }", nil, false},
		{"from and named", "SELECT * FROM <http://a/g1> FROM NAMED <http://a/g2> { ?s ?p ?o }", []rdf.IRI{"http://a/g1", "http://a/g2"}, false},
		{"lower case keywords", "select * from <http://a/g1> where { graph <http://a/g2> { ?s ?p ?o } }", []rdf.IRI{"http://a/g1", "http://a/g2"}, false},
		{"prefixed names", "PREFIX ex: <http://a/>\nSELECT * FROM ex:g1 { GRAPH ex:g2 {} }", []rdf.IRI{"http://a/g1", "http://a/g2"}, false},
		{"unknown prefix", "SELECT * FROM ex:g1 {}", nil, true},
		{"base", "BASE <http://a/b/>\nSELECT * FROM <g1> {}", []rdf.IRI{"http://a/b/g1"}, false},
		{"graph variable", "SELECT * { GRAPH ?g { ?s ?p ?o } }", nil, true},
		{"keyword in string", `SELECT * { ?s ?p "FROM <http://a/x>" }`, nil, false},
		{"keyword in long string", `SELECT * { ?s ?p """GRAPH ?g""" }`, nil, false},
		{"keyword in comment", "SELECT * # FROM <http://a/x>\n{ ?s ?p ?o }", nil, false},
		{"less-than is not an IRI", "SELECT * FROM <http://a/g1> { ?s ?p ?o FILTER(?o < 3 && ?o > 1) }", []rdf.IRI{"http://a/g1"}, false},
		{"duplicates once", "SELECT * FROM <http://a/g1> { GRAPH <http://a/g1> {} }", []rdf.IRI{"http://a/g1"}, false},
		{"update with", "WITH <http://a/g1> DELETE { ?s ?p ?o } USING NAMED <http://a/g2> WHERE { ?s ?p ?o }", []rdf.IRI{"http://a/g1", "http://a/g2"}, false},
		{"insert data", "INSERT DATA { GRAPH <http://a/g1> { <http://a/s> <http://a/p> 1 } }", []rdf.IRI{"http://a/g1"}, false},
		{"drop graph", "DROP SILENT GRAPH <http://a/g1>", []rdf.IRI{"http://a/g1"}, false},
		{"clear all", "CLEAR ALL", nil, true},
		{"service", "SELECT * { SERVICE <http://remote/sparql> { ?s ?p ?o } }", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			refs := ScanReferences(tt.query)
			assert.Equal(t, tt.graphs, refs.Graphs)
			assert.Equal(t, tt.dynamic, refs.Dynamic)
		})
	}
}

func TestRegistry_Close(t *testing.T) {
	c := &closer{Provider: mem("c", 1)}
	r := New()
	require.NoError(t, r.AddProvider(c))
	require.NoError(t, r.AddProvider(mem("m", 2)))
	require.NoError(t, r.Close())
	assert.Equal(t, 1, c.closed)
	assert.Empty(t, r.Providers())
}

func TestDefault(t *testing.T) {
	prev := Default()
	t.Cleanup(func() { SetDefault(prev) })

	assert.Same(t, prev, Default())
	r := New()
	SetDefault(r)
	assert.Same(t, r, Default())
}
