// Package codec reads and writes graphs as N-Quads and JSON-LD.
//
// Parsing and serialization are done by github.com/piprate/json-gold; this package converts
// between its dataset model and graphfed triples.
//
// Blank nodes: every label in an input document maps to one fresh *rdf.BlankNode for the
// duration of that document, so "_:a" read twice from two files yields two different
// nodes. On output, labels are generated per write in order of first appearance
// ("_:b0", "_:b1", ...).
//
// Quads in named graphs are merged into the target graph: the target graph is the only
// graph a read knows about.
//
// Example:
//
//	g := graph.NewMemoryGraph()
//	n, err := codec.ReadNQuads(f, g)
//	if err != nil {
//		return err
//	}
//	fmt.Printf("loaded %d triples\n", n)
//
//	err = codec.WriteNQuads(os.Stdout, g)
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	ld "github.com/piprate/json-gold/ld"

	"github.com/orneryd/graphfed/pkg/graph"
	"github.com/orneryd/graphfed/pkg/lock"
	"github.com/orneryd/graphfed/pkg/rdf"
)

// Format names an RDF serialization.
type Format string

const (
	FormatNQuads Format = "nquads"
	FormatJSONLD Format = "jsonld"
)

// ParseFormat accepts the format names and the usual file extensions and media types.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "nquads", "nq", "ntriples", "nt", "application/n-quads", "application/n-triples":
		return FormatNQuads, nil
	case "jsonld", "json-ld", "json", "application/ld+json":
		return FormatJSONLD, nil
	}
	return "", fmt.Errorf("%w: unknown format %q", graph.ErrInvalidArgument, s)
}

// ErrSyntax wraps parse failures.
var ErrSyntax = errors.New("codec: syntax error")

// Read parses r in the given format and adds the triples to g.
func Read(r io.Reader, g graph.Graph, f Format) (int, error) {
	switch f {
	case FormatNQuads:
		return ReadNQuads(r, g)
	case FormatJSONLD:
		return ReadJSONLD(r, g)
	}
	return 0, fmt.Errorf("%w: unknown format %q", graph.ErrInvalidArgument, f)
}

// Write serializes g to w in the given format.
func Write(w io.Writer, g graph.ImmutableGraph, f Format) error {
	switch f {
	case FormatNQuads:
		return WriteNQuads(w, g)
	case FormatJSONLD:
		return WriteJSONLD(w, g)
	}
	return fmt.Errorf("%w: unknown format %q", graph.ErrInvalidArgument, f)
}

// DecodeNQuads parses an N-Quads (or N-Triples) document.
func DecodeNQuads(r io.Reader) ([]rdf.Triple, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading n-quads: %w", err)
	}
	serializer := &ld.NQuadRDFSerializer{}
	dataset, err := serializer.Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	return fromDataset(dataset)
}

// DecodeJSONLD parses a JSON-LD document. Remote contexts are fetched with json-gold's
// default document loader.
func DecodeJSONLD(r io.Reader) ([]rdf.Triple, error) {
	var doc any
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	proc := ld.NewJsonLdProcessor()
	opts := ld.NewJsonLdOptions("")
	result, err := proc.ToRDF(doc, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	dataset, ok := result.(*ld.RDFDataset)
	if !ok {
		return nil, fmt.Errorf("codec: unexpected ToRDF result %T", result)
	}
	return fromDataset(dataset)
}

// ReadNQuads parses r and adds its triples to g under g's write lock. It returns the
// number of triples that were new to g.
func ReadNQuads(r io.Reader, g graph.Graph) (int, error) {
	triples, err := DecodeNQuads(r)
	if err != nil {
		return 0, err
	}
	return addAll(g, triples)
}

// ReadJSONLD is ReadNQuads for JSON-LD input.
func ReadJSONLD(r io.Reader, g graph.Graph) (int, error) {
	triples, err := DecodeJSONLD(r)
	if err != nil {
		return 0, err
	}
	return addAll(g, triples)
}

func addAll(g graph.Graph, triples []rdf.Triple) (int, error) {
	added := 0
	err := lock.WithWrite(g.Lock(), func() error {
		for _, t := range triples {
			ok, err := g.Add(t)
			if err != nil {
				return err
			}
			if ok {
				added++
			}
		}
		return nil
	})
	return added, err
}

// WriteNQuads writes every triple of g as one N-Quads line in the default graph.
func WriteNQuads(w io.Writer, g graph.ImmutableGraph) error {
	dataset := toDataset(graph.Triples(g))
	serializer := &ld.NQuadRDFSerializer{}
	out, err := serializer.Serialize(dataset)
	if err != nil {
		return fmt.Errorf("serializing n-quads: %w", err)
	}
	s, ok := out.(string)
	if !ok {
		return fmt.Errorf("codec: unexpected n-quads result %T", out)
	}
	_, err = io.WriteString(w, s)
	return err
}

// WriteJSONLD writes g as an expanded JSON-LD document.
func WriteJSONLD(w io.Writer, g graph.ImmutableGraph) error {
	dataset := toDataset(graph.Triples(g))
	proc := ld.NewJsonLdProcessor()
	opts := ld.NewJsonLdOptions("")
	doc, err := proc.FromRDF(dataset, opts)
	if err != nil {
		return fmt.Errorf("serializing json-ld: %w", err)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// fromDataset converts every quad of every graph, sharing one blank-node table.
func fromDataset(dataset *ld.RDFDataset) ([]rdf.Triple, error) {
	blanks := map[string]*rdf.BlankNode{}
	var out []rdf.Triple
	for _, quads := range dataset.Graphs {
		for _, q := range quads {
			if q == nil {
				continue
			}
			t, err := fromQuad(q, blanks)
			if err != nil {
				return nil, err
			}
			out = append(out, t)
		}
	}
	return out, nil
}

func fromQuad(q *ld.Quad, blanks map[string]*rdf.BlankNode) (rdf.Triple, error) {
	s, err := fromNode(q.Subject, blanks)
	if err != nil {
		return rdf.Triple{}, err
	}
	p, err := fromNode(q.Predicate, blanks)
	if err != nil {
		return rdf.Triple{}, err
	}
	pred, ok := p.(rdf.IRI)
	if !ok {
		return rdf.Triple{}, fmt.Errorf("%w: predicate %v is not an IRI", ErrSyntax, p)
	}
	o, err := fromNode(q.Object, blanks)
	if err != nil {
		return rdf.Triple{}, err
	}
	t, err := rdf.NewTriple(s, pred, o)
	if err != nil {
		return rdf.Triple{}, fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	return t, nil
}

func fromNode(n ld.Node, blanks map[string]*rdf.BlankNode) (rdf.Term, error) {
	switch v := n.(type) {
	case ld.IRI:
		return rdf.IRI(v.Value), nil
	case ld.BlankNode:
		label := v.Attribute
		b, ok := blanks[label]
		if !ok {
			b = rdf.NewLabeledBlankNode(strings.TrimPrefix(label, "_:"))
			blanks[label] = b
		}
		return b, nil
	case ld.Literal:
		switch {
		case v.Language != "":
			return rdf.NewLangLiteral(v.Value, v.Language), nil
		case v.Datatype == "" || v.Datatype == ld.XSDString:
			return rdf.NewLiteral(v.Value), nil
		default:
			return rdf.NewTypedLiteral(v.Value, rdf.IRI(v.Datatype)), nil
		}
	case nil:
		return nil, fmt.Errorf("%w: missing term", ErrSyntax)
	}
	return nil, fmt.Errorf("codec: unsupported node %T", n)
}

func toDataset(triples []rdf.Triple) *ld.RDFDataset {
	labels := map[*rdf.BlankNode]string{}
	node := func(t rdf.Term) ld.Node {
		switch v := t.(type) {
		case rdf.IRI:
			return ld.NewIRI(v.Value())
		case *rdf.BlankNode:
			label, ok := labels[v]
			if !ok {
				label = "_:b" + strconv.Itoa(len(labels))
				labels[v] = label
			}
			return ld.NewBlankNode(label)
		case rdf.Literal:
			switch {
			case v.Lang != "":
				return ld.NewLiteral(v.Lexical, ld.RDFLangString, v.Lang)
			case v.Datatype == "":
				return ld.NewLiteral(v.Lexical, ld.XSDString, "")
			default:
				return ld.NewLiteral(v.Lexical, v.Datatype.Value(), "")
			}
		}
		return nil
	}

	quads := make([]*ld.Quad, 0, len(triples))
	for _, t := range triples {
		quads = append(quads, &ld.Quad{
			Subject:   node(t.S),
			Predicate: node(t.P),
			Object:    node(t.O),
		})
	}
	dataset := ld.NewRDFDataset()
	dataset.Graphs["@default"] = quads
	return dataset
}
