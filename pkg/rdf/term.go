// Package rdf defines the term and triple model shared by every graphfed package.
//
// Terms are IRIs, blank nodes and literals. IRIs and literals are plain comparable values.
// Blank nodes are pointers: two blank nodes are the same node only if they are the same
// *BlankNode. There is no global blank node namespace; a blank node belongs to whichever
// graph (or provider) minted it.
//
// Example:
//
//	alice := rdf.IRI("http://example.org/alice")
//	addr := rdf.NewBlankNode()
//	t := rdf.MustTriple(alice, rdf.IRI("http://example.org/address"), addr)
//	fmt.Println(t) // <http://example.org/alice> <http://example.org/address> _:b1 .
package rdf

import (
	"fmt"
	"strconv"
	"sync/atomic"
)

// TermKind identifies RDF term types.
type TermKind uint8

const (
	// TermIRI represents an IRI term.
	TermIRI TermKind = iota
	// TermBlankNode represents a blank node term.
	TermBlankNode
	// TermLiteral represents a literal term.
	TermLiteral
)

func (k TermKind) String() string {
	switch k {
	case TermIRI:
		return "iri"
	case TermBlankNode:
		return "blank"
	case TermLiteral:
		return "literal"
	default:
		return "unknown"
	}
}

// Term is a value that can appear in a triple.
//
// The concrete types are IRI, *BlankNode and Literal. All three are comparable, so a Term
// can be used as a map key and compared with ==.
type Term interface {
	Kind() TermKind
	String() string
}

// IRI is an internationalized resource identifier.
type IRI string

// Kind returns TermIRI.
func (i IRI) Kind() TermKind { return TermIRI }

// String returns the IRI in N-Triples form.
func (i IRI) String() string { return "<" + string(i) + ">" }

// Value returns the bare IRI string.
func (i IRI) Value() string { return string(i) }

// BlankNode is an anonymous node. Identity is the pointer; the label is only used when
// printing and never takes part in equality.
type BlankNode struct {
	label string
}

var blankCounter atomic.Uint64

// NewBlankNode mints a fresh blank node.
func NewBlankNode() *BlankNode {
	return &BlankNode{label: "b" + strconv.FormatUint(blankCounter.Add(1), 10)}
}

// NewLabeledBlankNode mints a fresh blank node that prints with the given label.
// Two calls with the same label still return two different nodes.
func NewLabeledBlankNode(label string) *BlankNode {
	if label == "" {
		return NewBlankNode()
	}
	return &BlankNode{label: label}
}

// Kind returns TermBlankNode.
func (b *BlankNode) Kind() TermKind { return TermBlankNode }

// String returns the label prefixed with "_:".
func (b *BlankNode) String() string { return "_:" + b.label }

// Label returns the diagnostic label of the node.
func (b *BlankNode) Label() string { return b.label }

// Literal is an RDF literal. A literal without datatype and language is a plain string.
type Literal struct {
	// Lexical is the lexical form of the literal.
	Lexical string
	// Datatype is the datatype IRI, if any.
	Datatype IRI
	// Lang is the language tag, if any.
	Lang string
}

// NewLiteral returns a plain literal.
func NewLiteral(lexical string) Literal {
	return Literal{Lexical: lexical}
}

// NewTypedLiteral returns a literal with a datatype.
func NewTypedLiteral(lexical string, datatype IRI) Literal {
	return Literal{Lexical: lexical, Datatype: datatype}
}

// NewLangLiteral returns a language-tagged literal.
func NewLangLiteral(lexical, lang string) Literal {
	return Literal{Lexical: lexical, Lang: lang}
}

// Kind returns TermLiteral.
func (l Literal) Kind() TermKind { return TermLiteral }

// String returns the literal in N-Triples form.
func (l Literal) String() string {
	if l.Lang != "" {
		return fmt.Sprintf("%q@%s", l.Lexical, l.Lang)
	}
	if l.Datatype != "" {
		return fmt.Sprintf("%q^^%s", l.Lexical, l.Datatype.String())
	}
	return fmt.Sprintf("%q", l.Lexical)
}

// IsBlank reports whether t is a blank node.
func IsBlank(t Term) bool {
	_, ok := t.(*BlankNode)
	return ok
}

// IsLiteral reports whether t is a literal.
func IsLiteral(t Term) bool {
	_, ok := t.(Literal)
	return ok
}

// IsResource reports whether t can be the subject of a triple (an IRI or a blank node).
func IsResource(t Term) bool {
	switch v := t.(type) {
	case IRI:
		return true
	case *BlankNode:
		return v != nil
	default:
		return false
	}
}
