package subgraph

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/graphfed/pkg/graph"
	"github.com/orneryd/graphfed/pkg/rdf"
)

const ex = "http://example.org/"

var (
	alice   = rdf.IRI(ex + "alice")
	bob     = rdf.IRI(ex + "bob")
	knows   = rdf.IRI(ex + "knows")
	address = rdf.IRI(ex + "address")
	street  = rdf.IRI(ex + "street")
	city    = rdf.IRI(ex + "city")
)

func addressOf(owner rdf.IRI, b *rdf.BlankNode, st string) []rdf.Triple {
	return []rdf.Triple{
		rdf.MustTriple(owner, address, b),
		rdf.MustTriple(b, street, rdf.NewLiteral(st)),
		rdf.MustTriple(b, city, rdf.NewLiteral("Springfield")),
	}
}

func TestRemove_MatchesBlankNodesByContext(t *testing.T) {
	target := graph.NewMemoryGraph()
	_, err := graph.AddAll(target, addressOf(alice, rdf.NewBlankNode(), "Main St")...)
	require.NoError(t, err)
	_, err = graph.AddAll(target, addressOf(alice, rdf.NewBlankNode(), "Elm St")...)
	require.NoError(t, err)
	keep := rdf.MustTriple(alice, knows, bob)
	_, err = target.Add(keep)
	require.NoError(t, err)

	pattern := graph.NewFrozenGraph(append(
		addressOf(alice, rdf.NewBlankNode(), "Elm St"),
		keep,
	)...)

	require.NoError(t, Remove(context.Background(), target, pattern))

	assert.Equal(t, 3, target.Size())
	assert.False(t, target.Contains(keep))
	assert.Len(t, graph.Collect(target.Filter(nil, street, rdf.NewLiteral("Main St"))), 1)
	assert.Empty(t, graph.Collect(target.Filter(nil, street, rdf.NewLiteral("Elm St"))))
}

func TestRemove_BlankSubject(t *testing.T) {
	b := rdf.NewBlankNode()
	target := graph.NewMemoryGraph(
		rdf.MustTriple(b, knows, alice),
		rdf.MustTriple(b, knows, bob),
	)
	p := rdf.NewBlankNode()
	pattern := graph.NewFrozenGraph(
		rdf.MustTriple(p, knows, alice),
		rdf.MustTriple(p, knows, bob),
	)

	require.NoError(t, Remove(context.Background(), target, pattern))
	assert.Equal(t, 0, target.Size())
}

func TestRemove_AllOrNothing(t *testing.T) {
	target := graph.NewMemoryGraph(addressOf(alice, rdf.NewBlankNode(), "Main St")...)
	before := graph.NewFrozenGraph(graph.Triples(target)...)

	pattern := graph.NewFrozenGraph(append(
		addressOf(alice, rdf.NewBlankNode(), "Main St"),
		rdf.MustTriple(alice, knows, bob), // not in target
	)...)

	err := Remove(context.Background(), target, pattern)
	require.ErrorIs(t, err, graph.ErrNoSuchSubgraph)
	assert.True(t, before.Equal(target), "target must be unchanged")
	assert.Equal(t, 3, target.Size())
}

func TestRemove_BlankContextMismatch(t *testing.T) {
	target := graph.NewMemoryGraph(addressOf(alice, rdf.NewBlankNode(), "Main St")...)

	tests := []struct {
		name    string
		pattern []rdf.Triple
	}{
		{"different literal", addressOf(alice, rdf.NewBlankNode(), "Elm St")},
		{"partial context", addressOf(alice, rdf.NewBlankNode(), "Main St")[:2]},
		{
			"same structure twice",
			append(addressOf(alice, rdf.NewBlankNode(), "Main St"), addressOf(alice, rdf.NewBlankNode(), "Main St")...),
		},
		{"only blank nodes", []rdf.Triple{rdf.MustTriple(rdf.NewBlankNode(), knows, rdf.NewBlankNode())}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Remove(context.Background(), target, graph.NewFrozenGraph(tt.pattern...))
			assert.ErrorIs(t, err, graph.ErrNoSuchSubgraph)
			assert.Equal(t, 3, target.Size())
		})
	}
}

func TestRemove_LockTimeout(t *testing.T) {
	target := graph.NewMemoryGraph(rdf.MustTriple(alice, knows, bob))
	target.Lock().ReadLock().Lock()
	defer target.Lock().ReadLock().Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := Remove(ctx, target, graph.NewFrozenGraph(rdf.MustTriple(alice, knows, bob)))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, target.Size())
}
