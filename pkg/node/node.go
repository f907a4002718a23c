// Package node provides a resource-centric view over a graph.
//
// A Node pairs a resource (IRI, blank node or literal) with the graph it lives in and
// offers navigation, mutation, context extraction and replacement. Nodes are transient
// views: they own neither the graph nor its lock. Callers hold the graph's read lock for
// traversals and its write lock for mutations:
//
//	n := node.New(alice, g)
//	err := lock.WithWrite(n, func() error {
//		_, err := n.ReplaceWith(alice2, false)
//		return err
//	})
//
// ELI12:
//
// A graph is a big pile of "X has-property Y" sticky notes. A Node is you pointing at one
// thing in the pile and asking questions about it: what does it point to, what points to
// it. Its context is everything you can reach from it by following arrows into nameless
// things (blank nodes), because those nameless things only make sense together with it.
package node

import (
	"iter"

	"github.com/orneryd/graphfed/pkg/graph"
	"github.com/orneryd/graphfed/pkg/lock"
	"github.com/orneryd/graphfed/pkg/rdf"
)

// Node is a resource within a graph.
type Node struct {
	resource rdf.Term
	g        graph.ImmutableGraph
	rw       lock.ReadWriteLock
}

// New returns the node for resource in g. Mutating methods need g to be a graph.Graph.
func New(resource rdf.Term, g graph.ImmutableGraph) *Node {
	n := &Node{resource: resource, g: g}
	if l, ok := g.(graph.Lockable); ok {
		n.rw = l.Lock()
	} else {
		// Snapshots never change; a private lock keeps the API uniform.
		n.rw = lock.NewRWLock("")
	}
	return n
}

// Resource returns the addressed resource.
func (n *Node) Resource() rdf.Term { return n.resource }

// Graph returns the underlying graph.
func (n *Node) Graph() graph.ImmutableGraph { return n.g }

// Equal reports whether other addresses the same resource in the same graph.
func (n *Node) Equal(other *Node) bool {
	if other == nil {
		return false
	}
	return n.resource == other.resource && n.g == other.g
}

// ReadLock returns the read side of the graph's lock.
func (n *Node) ReadLock() lock.Locker { return n.rw.ReadLock() }

// WriteLock returns the write side of the graph's lock.
func (n *Node) WriteLock() lock.Locker { return n.rw.WriteLock() }

// Objects yields the objects of every (resource, p, ?) triple. The filter runs when the
// sequence is ranged over, so the result reflects the graph at that time.
func (n *Node) Objects(p rdf.IRI) iter.Seq[rdf.Term] {
	return func(yield func(rdf.Term) bool) {
		if !rdf.IsResource(n.resource) {
			return
		}
		it := n.g.Filter(n.resource, p, nil)
		for it.Next() {
			if !yield(it.Triple().O) {
				return
			}
		}
	}
}

// Subjects yields the subjects of every (?, p, resource) triple.
func (n *Node) Subjects(p rdf.IRI) iter.Seq[rdf.Term] {
	return func(yield func(rdf.Term) bool) {
		it := n.g.Filter(nil, p, n.resource)
		for it.Next() {
			if !yield(it.Triple().S) {
				return
			}
		}
	}
}

// ObjectNodes yields the objects of p as nodes in the same graph.
func (n *Node) ObjectNodes(p rdf.IRI) iter.Seq[*Node] {
	return func(yield func(*Node) bool) {
		for o := range n.Objects(p) {
			if !yield(New(o, n.g)) {
				return
			}
		}
	}
}

// Properties returns the distinct predicates of triples with the resource as subject, in
// first-seen order.
func (n *Node) Properties() []rdf.IRI {
	if !rdf.IsResource(n.resource) {
		return nil
	}
	return distinctPredicates(n.g.Filter(n.resource, "", nil))
}

// InverseProperties returns the distinct predicates of triples with the resource as object.
func (n *Node) InverseProperties() []rdf.IRI {
	return distinctPredicates(n.g.Filter(nil, "", n.resource))
}

func distinctPredicates(it graph.Iterator) []rdf.IRI {
	seen := make(map[rdf.IRI]struct{})
	var out []rdf.IRI
	for it.Next() {
		p := it.Triple().P
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// HasProperty reports whether the resource has p at all (value nil) or has p with exactly
// value.
func (n *Node) HasProperty(p rdf.IRI, value rdf.Term) bool {
	if !rdf.IsResource(n.resource) {
		return false
	}
	_, ok := graph.First(n.g, n.resource, p, value)
	return ok
}

// Literals returns the literal objects of p.
func (n *Node) Literals(p rdf.IRI) []rdf.Literal {
	var out []rdf.Literal
	for o := range n.Objects(p) {
		if l, ok := o.(rdf.Literal); ok {
			out = append(out, l)
		}
	}
	return out
}

// AddProperty adds (resource, p, value).
func (n *Node) AddProperty(p rdf.IRI, value rdf.Term) error {
	g, err := n.mutable()
	if err != nil {
		return err
	}
	t, err := n.asSubject(p, value)
	if err != nil {
		return err
	}
	_, err = g.Add(t)
	return err
}

// AddLiteral adds a plain literal value for p.
func (n *Node) AddLiteral(p rdf.IRI, lexical string) error {
	return n.AddProperty(p, rdf.NewLiteral(lexical))
}

// AddInverseProperty adds (subject, p, resource).
func (n *Node) AddInverseProperty(p rdf.IRI, subject rdf.Term) error {
	g, err := n.mutable()
	if err != nil {
		return err
	}
	if rdf.IsLiteral(subject) {
		return &graph.ResourceError{Resource: subject, Err: graph.ErrLiteralSubject}
	}
	t, err := rdf.NewTriple(subject, p, n.resource)
	if err != nil {
		return err
	}
	_, err = g.Add(t)
	return err
}

// DeleteProperty removes (resource, p, value).
func (n *Node) DeleteProperty(p rdf.IRI, value rdf.Term) error {
	g, err := n.mutable()
	if err != nil {
		return err
	}
	t, err := n.asSubject(p, value)
	if err != nil {
		return err
	}
	_, err = g.Remove(t)
	return err
}

// DeleteProperties removes every (resource, p, ?) triple.
func (n *Node) DeleteProperties(p rdf.IRI) error {
	g, err := n.mutable()
	if err != nil {
		return err
	}
	if rdf.IsLiteral(n.resource) {
		return n.literalSubject()
	}
	_, err = graph.RemoveAll(g, graph.Collect(g.Filter(n.resource, p, nil))...)
	return err
}

func (n *Node) asSubject(p rdf.IRI, value rdf.Term) (rdf.Triple, error) {
	if rdf.IsLiteral(n.resource) {
		return rdf.Triple{}, n.literalSubject()
	}
	return rdf.NewTriple(n.resource, p, value)
}

func (n *Node) literalSubject() error {
	return &graph.ResourceError{Resource: n.resource, Err: graph.ErrLiteralSubject}
}

func (n *Node) mutable() (graph.Graph, error) {
	g, ok := n.g.(graph.Graph)
	if !ok {
		return nil, graph.ErrUnsupported
	}
	return g, nil
}
