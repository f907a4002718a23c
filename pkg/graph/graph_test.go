package graph

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/graphfed/pkg/lock"
	"github.com/orneryd/graphfed/pkg/rdf"
)

const ex = "http://example.org/"

var (
	alice = rdf.IRI(ex + "alice")
	bob   = rdf.IRI(ex + "bob")
	carol = rdf.IRI(ex + "carol")
	knows = rdf.IRI(ex + "knows")
	name  = rdf.IRI(ex + "name")
)

func TestMemoryGraph_AddFilterRemove(t *testing.T) {
	g := NewMemoryGraph()
	t1 := rdf.MustTriple(alice, knows, bob)
	t2 := rdf.MustTriple(alice, name, rdf.NewLiteral("Alice"))
	t3 := rdf.MustTriple(bob, knows, carol)

	changed, err := AddAll(g, t1, t2, t3)
	require.NoError(t, err)
	assert.True(t, changed)

	ok, err := g.Add(t1)
	require.NoError(t, err)
	assert.False(t, ok, "duplicate add is a no-op")
	assert.Equal(t, 3, g.Size())

	t.Run("filter by subject keeps insertion order", func(t *testing.T) {
		assert.Equal(t, []rdf.Triple{t1, t2}, Collect(g.Filter(alice, "", nil)))
	})
	t.Run("filter by predicate and object", func(t *testing.T) {
		assert.Equal(t, []rdf.Triple{t3}, Collect(g.Filter(nil, knows, carol)))
	})
	t.Run("wildcard returns everything", func(t *testing.T) {
		assert.Len(t, Triples(g), 3)
	})
	t.Run("no match", func(t *testing.T) {
		assert.Empty(t, Collect(g.Filter(carol, "", nil)))
	})

	it := g.Filter(nil, knows, nil)
	require.True(t, it.Next())
	require.NoError(t, it.Remove())
	assert.False(t, g.Contains(t1))
	assert.Equal(t, 2, g.Size())

	ok, err = g.Remove(t1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryGraph_RejectsInvalidTriple(t *testing.T) {
	g := NewMemoryGraph()
	_, err := g.Add(rdf.Triple{S: rdf.NewLiteral("x"), P: knows, O: bob})
	assert.ErrorIs(t, err, rdf.ErrInvalidSubject)
	assert.Equal(t, 0, g.Size())
}

func TestIterator_RemoveWithoutCurrent(t *testing.T) {
	g := NewMemoryGraph(rdf.MustTriple(alice, knows, bob))
	it := g.Filter(nil, "", nil)
	assert.Error(t, it.Remove())
	for it.Next() {
	}
	assert.Error(t, it.Remove())
	assert.Equal(t, 1, g.Size())
}

func TestFrozenGraph_ReadOnlyIterator(t *testing.T) {
	f := NewFrozenGraph(rdf.MustTriple(alice, knows, bob))
	it := f.Filter(nil, "", nil)
	require.True(t, it.Next())
	assert.ErrorIs(t, it.Remove(), ErrReadOnly)
	assert.Equal(t, 1, f.Size())
	assert.Same(t, f, Freeze(f))
}

func TestIsomorphic(t *testing.T) {
	b1, b2 := rdf.NewBlankNode(), rdf.NewBlankNode()
	c1, c2 := rdf.NewBlankNode(), rdf.NewBlankNode()

	tests := []struct {
		name string
		a, b []rdf.Triple
		want bool
	}{
		{
			name: "grounded equal",
			a:    []rdf.Triple{rdf.MustTriple(alice, knows, bob)},
			b:    []rdf.Triple{rdf.MustTriple(alice, knows, bob)},
			want: true,
		},
		{
			name: "grounded differ",
			a:    []rdf.Triple{rdf.MustTriple(alice, knows, bob)},
			b:    []rdf.Triple{rdf.MustTriple(alice, knows, carol)},
			want: false,
		},
		{
			name: "blank renamed",
			a: []rdf.Triple{
				rdf.MustTriple(alice, knows, b1),
				rdf.MustTriple(b1, name, rdf.NewLiteral("x")),
			},
			b: []rdf.Triple{
				rdf.MustTriple(alice, knows, c1),
				rdf.MustTriple(c1, name, rdf.NewLiteral("x")),
			},
			want: true,
		},
		{
			name: "blank chain crossed",
			a: []rdf.Triple{
				rdf.MustTriple(alice, knows, b1),
				rdf.MustTriple(b1, knows, b2),
				rdf.MustTriple(b2, name, rdf.NewLiteral("end")),
			},
			b: []rdf.Triple{
				rdf.MustTriple(alice, knows, c2),
				rdf.MustTriple(c2, knows, c1),
				rdf.MustTriple(c1, name, rdf.NewLiteral("end")),
			},
			want: true,
		},
		{
			name: "two blanks merged into one",
			a: []rdf.Triple{
				rdf.MustTriple(alice, knows, b1),
				rdf.MustTriple(bob, knows, b2),
			},
			b: []rdf.Triple{
				rdf.MustTriple(alice, knows, c1),
				rdf.MustTriple(bob, knows, c1),
			},
			want: false,
		},
		{
			name: "symmetric cycle",
			a: []rdf.Triple{
				rdf.MustTriple(b1, knows, b2),
				rdf.MustTriple(b2, knows, b1),
			},
			b: []rdf.Triple{
				rdf.MustTriple(c2, knows, c1),
				rdf.MustTriple(c1, knows, c2),
			},
			want: true,
		},
		{
			name: "literal differs behind blank",
			a:    []rdf.Triple{rdf.MustTriple(b1, name, rdf.NewLiteral("x"))},
			b:    []rdf.Triple{rdf.MustTriple(c1, name, rdf.NewLiteral("y"))},
			want: false,
		},
		{
			name: "both empty",
			want: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Isomorphic(tt.a, tt.b))
			assert.Equal(t, tt.want, Isomorphic(tt.b, tt.a))
		})
	}
}

func TestFrozenGraph_Equal(t *testing.T) {
	b1, b2 := rdf.NewBlankNode(), rdf.NewBlankNode()
	f1 := NewFrozenGraph(rdf.MustTriple(alice, knows, b1))
	f2 := NewFrozenGraph(rdf.MustTriple(alice, knows, b2))
	assert.True(t, f1.Equal(f2))
	assert.True(t, f1.Equal(NewMemoryGraph(rdf.MustTriple(alice, knows, b2))))
	assert.False(t, f1.Equal(NewFrozenGraph()))
	assert.False(t, f1.Equal(nil))
}

func TestUnionGraph_NoDeduplication(t *testing.T) {
	tr := rdf.MustTriple(alice, knows, bob)
	a := NewMemoryGraph(tr)
	b := NewMemoryGraph(tr)

	u := NewUnionGraph(a, b)
	assert.Equal(t, 2, u.Size())
	assert.Equal(t, []rdf.Triple{tr, tr}, Collect(u.Filter(nil, "", nil)))
	assert.True(t, u.Contains(tr))
	assert.Equal(t, 2, u.Layers())
}

func TestUnionGraph_LayerZeroOnlyMutation(t *testing.T) {
	fromA := rdf.MustTriple(alice, knows, bob)
	fromB := rdf.MustTriple(bob, knows, carol)
	a := NewMemoryGraph(fromA)
	b := NewMemoryGraph(fromB)
	u := NewUnionGraph(a, b)

	added := rdf.MustTriple(carol, knows, alice)
	ok, err := u.Add(added)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, a.Contains(added))
	assert.False(t, b.Contains(added))

	ok, err = u.Remove(fromB)
	require.NoError(t, err)
	assert.False(t, ok, "remove only looks at layer 0")
	assert.True(t, b.Contains(fromB))

	it := u.Filter(nil, "", nil)
	var removedA, deniedB int
	for it.Next() {
		err := it.Remove()
		if it.Triple() == fromB {
			assert.ErrorIs(t, err, ErrReadOnly)
			deniedB++
			continue
		}
		require.NoError(t, err)
		removedA++
	}
	assert.Equal(t, 2, removedA)
	assert.Equal(t, 1, deniedB)
	assert.Equal(t, 0, a.Size())
	assert.Equal(t, 1, b.Size())
}

func TestUnionGraph_Unsupported(t *testing.T) {
	tr := rdf.MustTriple(alice, knows, bob)

	_, err := NewUnionGraph().Add(tr)
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = NewUnionGraph(NewFrozenGraph(), NewMemoryGraph()).Remove(tr)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestUnionGraph_LockCoversLayers(t *testing.T) {
	a, b := NewMemoryGraph(), NewMemoryGraph()
	u := NewUnionGraph(a, b, NewFrozenGraph())

	w := u.Lock().WriteLock()
	require.True(t, w.LockTimeout(time.Second))
	assert.False(t, a.Lock().ReadLock().TryLock(), "layer 0 is written")
	assert.True(t, b.Lock().ReadLock().TryLock(), "other layers stay readable")
	b.Lock().ReadLock().Unlock()
	assert.False(t, b.Lock().WriteLock().TryLock(), "other layers cannot be written")
	w.Unlock()

	assert.NoError(t, lock.Acquire(a.Lock().WriteLock(), time.Second))
	a.Lock().WriteLock().Unlock()
}

func TestReadOnlyGraph(t *testing.T) {
	tr := rdf.MustTriple(alice, knows, bob)
	g := NewMemoryGraph(tr)
	ro := NewReadOnly(g, rdf.IRI(ex+"g"))

	_, err := ro.Add(rdf.MustTriple(bob, knows, alice))
	assert.ErrorIs(t, err, ErrPermissionDenied)
	_, err = ro.Remove(tr)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	it := ro.Filter(nil, "", nil)
	require.True(t, it.Next())
	assert.ErrorIs(t, it.Remove(), ErrPermissionDenied)

	assert.Equal(t, 1, g.Size())
	assert.True(t, ro.Contains(tr))
	assert.True(t, SameGraph(ro, g))
	assert.True(t, SameGraph(g, ro))
	assert.False(t, SameGraph(ro, NewMemoryGraph(tr)))
	_, exposes := any(ro).(interface{ Unwrap() Graph })
	assert.False(t, exposes, "the wrapped graph is not reachable through the wrapper")

	var ee *EntityError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, "remove", ee.Op)
}

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorCode
	}{
		{nil, ""},
		{ErrNotFound, CodeNotFound},
		{NewEntityError("get", alice, ErrNotFound), CodeNotFound},
		{fmt.Errorf("wrapped: %w", ErrUndeletable), CodeUndeletable},
		{&ResourceError{Resource: bob, Err: ErrCorruptStructure}, CodeCorruptStructure},
		{lock.ErrTimeout, CodeTimeout},
		{errors.New("other"), CodeInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Code(tt.err), "%v", tt.err)
	}

	assert.True(t, IsFallthrough(ErrUnsupported))
	assert.True(t, IsFallthrough(NewEntityError("get", alice, ErrInvalidArgument)))
	assert.False(t, IsFallthrough(ErrAlreadyExists))
}
