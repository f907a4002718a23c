// Package rdflist is a mutable sequence view over an rdf:first / rdf:rest chain.
//
// A list is addressed by its head resource, and the head keeps its identity across every
// mutation: inserting or removing at index 0 rewrites the head's edges instead of
// replacing the head. An empty list is the single triple
//
//	head owl:sameAs rdf:nil
//
// A non-empty list is
//
//	head  rdf:first v0 ; rdf:rest n1 .
//	n1    rdf:first v1 ; rdf:rest rdf:nil .
//
// The chain is walked lazily and cached. The cache assumes the list is only changed
// through this view; callers mutating the list hold the graph's write lock around each
// operation, and readers hold the read lock.
package rdflist

import (
	"fmt"

	"github.com/orneryd/graphfed/pkg/graph"
	"github.com/orneryd/graphfed/pkg/rdf"
)

// List is a view over the list starting at a head resource.
type List struct {
	head rdf.Term
	g    graph.Graph

	// nodes[i] holds values[i]; nodes[0] is the head.
	nodes    []rdf.Term
	values   []rdf.Term
	next     rdf.Term
	expanded bool
	seen     map[rdf.Term]struct{}
}

// New returns a view over the list headed by head. A head with no list edges reads as an
// empty list.
func New(head rdf.Term, g graph.Graph) *List {
	return &List{head: head, g: g, next: head}
}

// NewEmpty asserts that head is an empty list and returns the view.
func NewEmpty(g graph.Graph, head rdf.Term) (*List, error) {
	t, err := rdf.NewTriple(head, rdf.SameAs, rdf.Nil)
	if err != nil {
		return nil, err
	}
	if _, err := g.Add(t); err != nil {
		return nil, err
	}
	return &List{head: head, g: g, next: rdf.Nil, expanded: true}, nil
}

// Head returns the head resource.
func (l *List) Head() rdf.Term { return l.head }

// Get returns the element at index i.
func (l *List) Get(i int) (rdf.Term, error) {
	if err := l.expandTo(i + 1); err != nil {
		return nil, err
	}
	if i < 0 || i >= len(l.values) {
		return nil, l.outOfRange(i)
	}
	return l.values[i], nil
}

// Size walks the whole list and returns its length.
func (l *List) Size() (int, error) {
	if err := l.expandAll(); err != nil {
		return 0, err
	}
	return len(l.values), nil
}

// Values returns every element in order.
func (l *List) Values() ([]rdf.Term, error) {
	if err := l.expandAll(); err != nil {
		return nil, err
	}
	return append([]rdf.Term(nil), l.values...), nil
}

// Append adds v at the end.
func (l *List) Append(v rdf.Term) error {
	n, err := l.Size()
	if err != nil {
		return err
	}
	return l.Add(n, v)
}

// Add inserts v at index i, shifting later elements up.
func (l *List) Add(i int, v rdf.Term) error {
	if v == nil {
		return graph.ErrInvalidArgument
	}
	// One element past i tells whether nodes[i] has a successor.
	if err := l.expandTo(i + 2); err != nil {
		return err
	}
	if i < 0 || i > len(l.values) {
		return l.outOfRange(i)
	}

	if i == 0 {
		if len(l.values) == 0 {
			return l.fillEmpty(v)
		}
		return l.pushFront(v)
	}

	pred, succ := l.nodes[i-1], l.restOf(i-1)
	node := rdf.NewBlankNode()
	if err := l.apply(
		[]rdf.Triple{{S: pred, P: rdf.Rest, O: succ}},
		[]rdf.Triple{
			{S: pred, P: rdf.Rest, O: node},
			{S: node, P: rdf.First, O: v},
			{S: node, P: rdf.Rest, O: succ},
		},
	); err != nil {
		return err
	}
	l.nodes = insertAt(l.nodes, i, rdf.Term(node))
	l.values = insertAt(l.values, i, v)
	return nil
}

// fillEmpty turns "head sameAs nil" into the one-element list (v).
func (l *List) fillEmpty(v rdf.Term) error {
	if err := l.apply(
		[]rdf.Triple{{S: l.head, P: rdf.SameAs, O: rdf.Nil}},
		[]rdf.Triple{
			{S: l.head, P: rdf.First, O: v},
			{S: l.head, P: rdf.Rest, O: rdf.Nil},
		},
	); err != nil {
		return err
	}
	l.nodes = []rdf.Term{l.head}
	l.values = []rdf.Term{v}
	return nil
}

// pushFront keeps the head in place: the head takes v and the old first element moves to a
// new node right after it.
func (l *List) pushFront(v rdf.Term) error {
	old, oldRest := l.values[0], l.restOf(0)
	node := rdf.NewBlankNode()
	if err := l.apply(
		[]rdf.Triple{
			{S: l.head, P: rdf.First, O: old},
			{S: l.head, P: rdf.Rest, O: oldRest},
		},
		[]rdf.Triple{
			{S: l.head, P: rdf.First, O: v},
			{S: l.head, P: rdf.Rest, O: node},
			{S: node, P: rdf.First, O: old},
			{S: node, P: rdf.Rest, O: oldRest},
		},
	); err != nil {
		return err
	}
	l.nodes = insertAt(l.nodes, 1, rdf.Term(node))
	l.values = insertAt(l.values, 0, v)
	return nil
}

// Remove deletes the element at index i and returns it.
func (l *List) Remove(i int) (rdf.Term, error) {
	// The node after the successor must be known to unlink the successor at index 0.
	if err := l.expandTo(i + 3); err != nil {
		return nil, err
	}
	if i < 0 || i >= len(l.values) {
		return nil, l.outOfRange(i)
	}
	removed := l.values[i]

	switch {
	case i == 0 && len(l.values) == 1:
		if err := l.apply(
			[]rdf.Triple{
				{S: l.head, P: rdf.First, O: removed},
				{S: l.head, P: rdf.Rest, O: rdf.Nil},
			},
			[]rdf.Triple{{S: l.head, P: rdf.SameAs, O: rdf.Nil}},
		); err != nil {
			return nil, err
		}
		l.nodes, l.values = nil, nil

	case i == 0:
		second, secondValue, afterSecond := l.nodes[1], l.values[1], l.restOf(1)
		if err := l.apply(
			[]rdf.Triple{
				{S: l.head, P: rdf.First, O: removed},
				{S: l.head, P: rdf.Rest, O: second},
				{S: second, P: rdf.First, O: secondValue},
				{S: second, P: rdf.Rest, O: afterSecond},
			},
			[]rdf.Triple{
				{S: l.head, P: rdf.First, O: secondValue},
				{S: l.head, P: rdf.Rest, O: afterSecond},
			},
		); err != nil {
			return nil, err
		}
		l.nodes = removeAt(l.nodes, 1)
		l.values = removeAt(l.values, 0)

	default:
		pred, node, succ := l.nodes[i-1], l.nodes[i], l.restOf(i)
		if err := l.apply(
			[]rdf.Triple{
				{S: pred, P: rdf.Rest, O: node},
				{S: node, P: rdf.First, O: removed},
				{S: node, P: rdf.Rest, O: succ},
			},
			[]rdf.Triple{{S: pred, P: rdf.Rest, O: succ}},
		); err != nil {
			return nil, err
		}
		l.nodes = removeAt(l.nodes, i)
		l.values = removeAt(l.values, i)
	}
	return removed, nil
}

// restOf returns the rest edge of nodes[i]. The caller has expanded far enough that a
// missing nodes[i+1] means the list ends at i.
func (l *List) restOf(i int) rdf.Term {
	if i+1 < len(l.nodes) {
		return l.nodes[i+1]
	}
	return rdf.Nil
}

func (l *List) apply(remove, add []rdf.Triple) error {
	if _, err := graph.RemoveAll(l.g, remove...); err != nil {
		return err
	}
	_, err := graph.AddAll(l.g, add...)
	return err
}

func (l *List) expandAll() error {
	for !l.expanded {
		if err := l.step(); err != nil {
			return err
		}
	}
	return nil
}

// expandTo walks until at least n elements are cached or the end is reached.
func (l *List) expandTo(n int) error {
	for !l.expanded && len(l.values) < n {
		if err := l.step(); err != nil {
			return err
		}
	}
	return nil
}

// step reads one node of the chain.
func (l *List) step() error {
	node := l.next
	if node == rdf.Term(rdf.Nil) {
		l.expanded = true
		return nil
	}

	if _, loop := l.seen[node]; loop {
		return &graph.ResourceError{Resource: node, Err: fmt.Errorf("%w: list loops back to node", graph.ErrCorruptStructure)}
	}

	first, hasFirst := graph.First(l.g, node, rdf.First, nil)
	rest, hasRest := graph.First(l.g, node, rdf.Rest, nil)

	if !hasFirst {
		if node == l.head && !hasRest {
			// sameAs nil, or no list edges at all
			l.expanded = true
			return nil
		}
		return &graph.ResourceError{Resource: node, Err: fmt.Errorf("%w: list node has no rdf:first", graph.ErrCorruptStructure)}
	}
	if !hasRest {
		return &graph.ResourceError{Resource: node, Err: fmt.Errorf("%w: list node has no rdf:rest", graph.ErrCorruptStructure)}
	}

	if l.seen == nil {
		l.seen = make(map[rdf.Term]struct{})
	}
	l.seen[node] = struct{}{}
	l.nodes = append(l.nodes, node)
	l.values = append(l.values, first.O)
	l.next = rest.O
	return nil
}

func (l *List) outOfRange(i int) error {
	return fmt.Errorf("%w: index %d out of range [0,%d)", graph.ErrInvalidArgument, i, len(l.values))
}

func insertAt(s []rdf.Term, i int, v rdf.Term) []rdf.Term {
	s = append(s, nil)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

func removeAt(s []rdf.Term, i int) []rdf.Term {
	return append(s[:i], s[i+1:]...)
}
