package rdf

import (
	"errors"
	"fmt"
)

// Errors returned when building triples.
var (
	ErrInvalidSubject   = errors.New("rdf: subject must be an IRI or a blank node")
	ErrInvalidPredicate = errors.New("rdf: predicate must be a non-empty IRI")
	ErrInvalidObject    = errors.New("rdf: object must not be nil")
)

// Triple is an RDF statement. Triples are immutable values and compare structurally,
// so they work as map keys.
type Triple struct {
	// S is the subject (IRI or *BlankNode).
	S Term
	// P is the predicate.
	P IRI
	// O is the object.
	O Term
}

// NewTriple validates the components and returns the triple.
func NewTriple(s Term, p IRI, o Term) (Triple, error) {
	if !IsResource(s) {
		return Triple{}, fmt.Errorf("%w: %v", ErrInvalidSubject, s)
	}
	if p == "" {
		return Triple{}, ErrInvalidPredicate
	}
	if o == nil {
		return Triple{}, ErrInvalidObject
	}
	if b, ok := o.(*BlankNode); ok && b == nil {
		return Triple{}, ErrInvalidObject
	}
	return Triple{S: s, P: p, O: o}, nil
}

// MustTriple is like NewTriple but panics on invalid input. Meant for literals in code
// and tests.
func MustTriple(s Term, p IRI, o Term) Triple {
	t, err := NewTriple(s, p, o)
	if err != nil {
		panic(err)
	}
	return t
}

// String returns the triple as an N-Triples statement.
func (t Triple) String() string {
	return fmt.Sprintf("%s %s %s .", termString(t.S), t.P.String(), termString(t.O))
}

// IsGrounded reports whether neither subject nor object is a blank node.
func (t Triple) IsGrounded() bool {
	return !IsBlank(t.S) && !IsBlank(t.O)
}

// Matches reports whether t matches the pattern. A nil subject or object and an empty
// predicate are wildcards.
func (t Triple) Matches(s Term, p IRI, o Term) bool {
	if s != nil && t.S != s {
		return false
	}
	if p != "" && t.P != p {
		return false
	}
	if o != nil && t.O != o {
		return false
	}
	return true
}

func termString(t Term) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}
