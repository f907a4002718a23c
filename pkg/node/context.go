package node

import (
	"strings"

	"github.com/orneryd/graphfed/pkg/graph"
	"github.com/orneryd/graphfed/pkg/rdf"
)

// Acceptor decides whether context extraction expands through a resource reached from the
// start node.
type Acceptor func(rdf.Term) bool

// BlankNodes is the default acceptor: only blank nodes are expanded.
func BlankNodes(t rdf.Term) bool { return rdf.IsBlank(t) }

// SameDocument returns an acceptor that expands blank nodes and every IRI in the document
// of doc, i.e. every IRI that starts with doc's fragment-less prefix followed by '#'.
func SameDocument(doc rdf.IRI) Acceptor {
	prefix := string(doc)
	if i := strings.IndexByte(prefix, '#'); i >= 0 {
		prefix = prefix[:i]
	}
	prefix += "#"
	return func(t rdf.Term) bool {
		if rdf.IsBlank(t) {
			return true
		}
		iri, ok := t.(rdf.IRI)
		return ok && strings.HasPrefix(string(iri), prefix)
	}
}

// Context returns the triples that belong to this node: every triple with the resource as
// subject or object, plus, transitively, the same for every blank node reached that way.
// The graph is not changed.
func (n *Node) Context() *graph.FrozenGraph {
	return Context(n.g, n.resource, BlankNodes)
}

// ContextWith is Context with a caller-chosen acceptor.
func (n *Node) ContextWith(accept Acceptor) *graph.FrozenGraph {
	return Context(n.g, n.resource, accept)
}

// DocumentContext is Context that also expands IRIs of the same document as the resource.
// For a resource that is not an IRI it equals Context.
func (n *Node) DocumentContext() *graph.FrozenGraph {
	iri, ok := n.resource.(rdf.IRI)
	if !ok {
		return n.Context()
	}
	return Context(n.g, n.resource, SameDocument(iri))
}

// DeleteContext removes every triple of Context from the graph.
func (n *Node) DeleteContext() error {
	g, err := n.mutable()
	if err != nil {
		return err
	}
	_, err = graph.RemoveAll(g, n.Context().Triples()...)
	return err
}

// Context computes the context of resource in g, expanding through every neighbour accept
// approves. Each resource is expanded at most once, so cycles terminate.
func Context(g graph.ImmutableGraph, resource rdf.Term, accept Acceptor) *graph.FrozenGraph {
	if accept == nil {
		accept = BlankNodes
	}

	visited := map[rdf.Term]struct{}{resource: {}}
	pending := []rdf.Term{resource}
	var triples []rdf.Triple

	enqueue := func(t rdf.Term) {
		if _, seen := visited[t]; seen || !accept(t) {
			return
		}
		visited[t] = struct{}{}
		pending = append(pending, t)
	}

	for len(pending) > 0 {
		r := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		if rdf.IsResource(r) {
			forward := graph.Collect(g.Filter(r, "", nil))
			triples = append(triples, forward...)
			for _, t := range forward {
				enqueue(t.O)
			}
		}
		backward := graph.Collect(g.Filter(nil, "", r))
		triples = append(triples, backward...)
		for _, t := range backward {
			enqueue(t.S)
		}
	}

	// NewFrozenGraph collapses triples found from both ends.
	return graph.NewFrozenGraph(triples...)
}
