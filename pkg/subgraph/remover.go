// Package subgraph removes a pattern graph, blank nodes included, from a target graph.
//
// The pattern's blank nodes need not be the target's blank nodes. A pattern blank node is
// matched to a target blank node when both hang off the same grounded subject and predicate
// (or predicate and grounded object) and their contexts are isomorphic. The first candidate
// that matches wins; symmetric duplicate structures are not disambiguated further.
//
// Removal is all or nothing: if any part of the pattern cannot be found, the target is left
// untouched and ErrNoSuchSubgraph is returned.
package subgraph

import (
	"context"
	"fmt"

	"github.com/orneryd/graphfed/pkg/graph"
	"github.com/orneryd/graphfed/pkg/lock"
	"github.com/orneryd/graphfed/pkg/node"
	"github.com/orneryd/graphfed/pkg/rdf"
)

// Remove deletes pattern from target while holding target's write lock for the whole
// operation. The caller must not already hold that lock.
func Remove(ctx context.Context, target graph.Graph, pattern graph.ImmutableGraph) error {
	return lock.WithWriteContext(ctx, target.Lock(), func() error {
		return RemoveLocked(target, pattern)
	})
}

// RemoveLocked is Remove for callers that already hold target's write lock.
func RemoveLocked(target graph.Graph, pattern graph.ImmutableGraph) error {
	removals, err := match(target, pattern)
	if err != nil {
		return err
	}
	_, err = graph.RemoveAll(target, removals...)
	return err
}

type matcher struct {
	target    graph.ImmutableGraph
	pattern   graph.ImmutableGraph
	remaining []rdf.Triple
	removals  []rdf.Triple
	marked    map[rdf.Triple]struct{}
}

// match returns the target triples that make up pattern, or ErrNoSuchSubgraph.
func match(target graph.ImmutableGraph, pattern graph.ImmutableGraph) ([]rdf.Triple, error) {
	m := &matcher{
		target:  target,
		pattern: pattern,
		marked:  make(map[rdf.Triple]struct{}),
	}

	for _, t := range graph.Triples(pattern) {
		if !t.IsGrounded() {
			m.remaining = append(m.remaining, t)
			continue
		}
		if !target.Contains(t) {
			return nil, fmt.Errorf("%w: missing %s", graph.ErrNoSuchSubgraph, t)
		}
		m.mark(t)
	}

	if err := m.pass(blankObject); err != nil {
		return nil, err
	}
	if err := m.pass(blankSubject); err != nil {
		return nil, err
	}
	if len(m.remaining) > 0 {
		// Components made only of blank nodes have no grounded anchor to search from.
		return nil, &graph.ResourceError{Resource: m.remaining[0].S, Err: graph.ErrNoSuchSubgraph}
	}
	return m.removals, nil
}

// side selects which end of a pattern triple is the blank node being matched.
type side struct {
	// anchored reports whether t has a blank node on this side and a grounded other end.
	anchored func(t rdf.Triple) bool
	blank    func(t rdf.Triple) rdf.Term
	// candidates lists target triples sharing t's grounded end and predicate.
	candidates func(g graph.ImmutableGraph, t rdf.Triple) graph.Iterator
}

var blankObject = side{
	anchored: func(t rdf.Triple) bool { return rdf.IsBlank(t.O) && !rdf.IsBlank(t.S) },
	blank:    func(t rdf.Triple) rdf.Term { return t.O },
	candidates: func(g graph.ImmutableGraph, t rdf.Triple) graph.Iterator {
		return g.Filter(t.S, t.P, nil)
	},
}

var blankSubject = side{
	anchored: func(t rdf.Triple) bool { return rdf.IsBlank(t.S) && !rdf.IsBlank(t.O) },
	blank:    func(t rdf.Triple) rdf.Term { return t.S },
	candidates: func(g graph.ImmutableGraph, t rdf.Triple) graph.Iterator {
		return g.Filter(nil, t.P, t.O)
	},
}

func (m *matcher) pass(s side) error {
	for {
		t, ok := m.next(s)
		if !ok {
			return nil
		}
		want := node.Context(m.pattern, s.blank(t), node.BlankNodes)

		found := false
		it := s.candidates(m.target, t)
		for it.Next() {
			c := it.Triple()
			if !rdf.IsBlank(s.blank(c)) {
				continue
			}
			if _, taken := m.marked[c]; taken {
				continue
			}
			got := node.Context(m.target, s.blank(c), node.BlankNodes)
			if !got.Equal(want) {
				continue
			}
			for _, r := range got.Triples() {
				m.mark(r)
			}
			m.drop(want)
			found = true
			break
		}
		if !found {
			return &graph.ResourceError{Resource: s.blank(t), Err: fmt.Errorf("%w: no match for %s", graph.ErrNoSuchSubgraph, t)}
		}
	}
}

// next returns the first remaining triple anchored on side s.
func (m *matcher) next(s side) (rdf.Triple, bool) {
	for _, t := range m.remaining {
		if s.anchored(t) {
			return t, true
		}
	}
	return rdf.Triple{}, false
}

func (m *matcher) mark(t rdf.Triple) {
	if _, ok := m.marked[t]; ok {
		return
	}
	m.marked[t] = struct{}{}
	m.removals = append(m.removals, t)
}

// drop removes the pattern triples of a matched context from the remaining work.
func (m *matcher) drop(matched *graph.FrozenGraph) {
	kept := m.remaining[:0]
	for _, t := range m.remaining {
		if !matched.Contains(t) {
			kept = append(kept, t)
		}
	}
	m.remaining = kept
}
