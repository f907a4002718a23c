package rdflist

import (
	"github.com/orneryd/graphfed/pkg/graph"
	"github.com/orneryd/graphfed/pkg/rdf"
)

// FindContainingListNodes returns every list node from which a node holding v as its
// rdf:first can be reached along rdf:rest edges, including those nodes themselves. The walk
// follows rdf:first and rdf:rest edges backwards and stops at nodes it has already seen.
// The result is never nil.
func FindContainingListNodes(g graph.ImmutableGraph, v rdf.Term) []rdf.Term {
	out := []rdf.Term{}
	seen := make(map[rdf.Term]struct{})

	var pending []rdf.Term
	it := g.Filter(nil, rdf.First, v)
	for it.Next() {
		pending = append(pending, it.Triple().S)
	}

	for len(pending) > 0 {
		n := pending[0]
		pending = pending[1:]
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)

		preds := g.Filter(nil, rdf.Rest, n)
		for preds.Next() {
			pending = append(pending, preds.Triple().S)
		}
	}
	return out
}

// FindContainingLists returns a view of every list that contains v. A list head is a
// containing node that no rdf:rest edge points to.
func FindContainingLists(g graph.Graph, v rdf.Term) []*List {
	out := []*List{}
	for _, n := range FindContainingListNodes(g, v) {
		if _, hasPred := graph.First(g, nil, rdf.Rest, n); hasPred {
			continue
		}
		out = append(out, New(n, g))
	}
	return out
}
