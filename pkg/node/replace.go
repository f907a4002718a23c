package node

import (
	"github.com/orneryd/graphfed/pkg/graph"
	"github.com/orneryd/graphfed/pkg/rdf"
)

// ReplaceWith rewires every triple that uses the resource as subject or object to use
// replacement instead and returns the node for replacement.
//
// With rewritePredicates set, and when both the resource and replacement are IRIs, triples
// using the resource as predicate are rewired too. Each pass removes all affected triples
// before re-adding their rewritten form, so no intermediate state holds both versions.
//
// A literal replacement for a resource that is used as a subject fails with
// ErrLiteralSubject before anything changes.
func (n *Node) ReplaceWith(replacement rdf.Term, rewritePredicates bool) (*Node, error) {
	g, err := n.mutable()
	if err != nil {
		return nil, err
	}
	if replacement == nil {
		return nil, graph.ErrInvalidArgument
	}

	if rdf.IsResource(n.resource) {
		asSubject := graph.Collect(g.Filter(n.resource, "", nil))
		if len(asSubject) > 0 && !rdf.IsResource(replacement) {
			return nil, &graph.ResourceError{Resource: replacement, Err: graph.ErrLiteralSubject}
		}
		if err := rewire(g, asSubject, func(t rdf.Triple) rdf.Triple {
			return rdf.Triple{S: replacement, P: t.P, O: t.O}
		}); err != nil {
			return nil, err
		}
	}

	asObject := graph.Collect(g.Filter(nil, "", n.resource))
	if err := rewire(g, asObject, func(t rdf.Triple) rdf.Triple {
		return rdf.Triple{S: t.S, P: t.P, O: replacement}
	}); err != nil {
		return nil, err
	}

	if rewritePredicates {
		from, okFrom := n.resource.(rdf.IRI)
		to, okTo := replacement.(rdf.IRI)
		if okFrom && okTo {
			asPredicate := graph.Collect(g.Filter(nil, from, nil))
			if err := rewire(g, asPredicate, func(t rdf.Triple) rdf.Triple {
				return rdf.Triple{S: t.S, P: to, O: t.O}
			}); err != nil {
				return nil, err
			}
		}
	}

	return New(replacement, n.g), nil
}

func rewire(g graph.Graph, triples []rdf.Triple, rewrite func(rdf.Triple) rdf.Triple) error {
	if len(triples) == 0 {
		return nil
	}
	if _, err := graph.RemoveAll(g, triples...); err != nil {
		return err
	}
	rewritten := make([]rdf.Triple, len(triples))
	for i, t := range triples {
		rewritten[i] = rewrite(t)
	}
	_, err := graph.AddAll(g, rewritten...)
	return err
}
