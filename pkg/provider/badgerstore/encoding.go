package badgerstore

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/orneryd/graphfed/pkg/rdf"
)

// Key prefixes for BadgerDB storage organization.
// Using single-byte prefixes for efficiency.
const (
	prefixCatalog = byte(0x01) // catalog:name -> kind
	prefixSPO     = byte(0x02) // spo:name:s:p:o -> []byte{}
	prefixPOS     = byte(0x03) // pos:name:p:o:s -> []byte{}
	prefixOSP     = byte(0x04) // osp:name:o:s:p -> []byte{}
)

// Catalog values.
const (
	kindMutable   = byte('m')
	kindImmutable = byte('i')
)

// Term discriminators. Every encoded term starts with one of these.
const (
	tagIRI      = byte(0x01)
	tagBlank    = byte(0x02)
	tagLiteral  = byte(0x03)
	litPlain    = byte(0x00)
	litDatatype = byte(0x01)
	litLang     = byte(0x02)
)

var errCorruptKey = errors.New("badgerstore: corrupt key")

// skolemizer maps blank nodes to stable skolem ids and back. Within one provider lifetime
// an id always maps back to the same *rdf.BlankNode.
type skolemizer interface {
	skolemize(b *rdf.BlankNode) uuid.UUID
	resolve(id uuid.UUID) *rdf.BlankNode
	known(b *rdf.BlankNode) bool
}

// encodable reports whether appendTerm has a layout for t.
func encodable(t rdf.Term) bool {
	switch t.(type) {
	case rdf.IRI, *rdf.BlankNode, rdf.Literal:
		return true
	}
	return false
}

// storable reports whether terms can occur in the store: each is nil (a wildcard) or an
// encodable term, and every blank node already has a skolem id.
func storable(sk skolemizer, terms ...rdf.Term) bool {
	for _, t := range terms {
		switch v := t.(type) {
		case nil:
		case *rdf.BlankNode:
			if !sk.known(v) {
				return false
			}
		default:
			if !encodable(v) {
				return false
			}
		}
	}
	return true
}

// Term layout:
//
//	IRI:     0x01 uvarint(len) bytes
//	blank:   0x02 16-byte skolem id
//	literal: 0x03 uvarint(len) lexical, then 0x00 | 0x01 uvarint(len) datatype | 0x02 uvarint(len) lang
//
// Every field is self-delimiting, so a concatenation of complete terms is a valid key
// prefix for range scans.
func appendTerm(key []byte, t rdf.Term, sk skolemizer) []byte {
	switch v := t.(type) {
	case rdf.IRI:
		key = append(key, tagIRI)
		return appendString(key, string(v))
	case *rdf.BlankNode:
		id := sk.skolemize(v)
		key = append(key, tagBlank)
		return append(key, id[:]...)
	case rdf.Literal:
		key = append(key, tagLiteral)
		key = appendString(key, v.Lexical)
		switch {
		case v.Lang != "":
			key = append(key, litLang)
			return appendString(key, v.Lang)
		case v.Datatype != "":
			key = append(key, litDatatype)
			return appendString(key, string(v.Datatype))
		default:
			return append(key, litPlain)
		}
	default:
		// Callers check encodable or storable first.
		panic(fmt.Sprintf("badgerstore: unknown term type %T", t))
	}
}

func appendString(key []byte, s string) []byte {
	key = binary.AppendUvarint(key, uint64(len(s)))
	return append(key, s...)
}

func readString(buf []byte) (string, []byte, error) {
	n, w := binary.Uvarint(buf)
	if w <= 0 || uint64(len(buf)-w) < n {
		return "", nil, errCorruptKey
	}
	buf = buf[w:]
	return string(buf[:n]), buf[n:], nil
}

func readTerm(buf []byte, sk skolemizer) (rdf.Term, []byte, error) {
	if len(buf) == 0 {
		return nil, nil, errCorruptKey
	}
	tag, buf := buf[0], buf[1:]
	switch tag {
	case tagIRI:
		s, rest, err := readString(buf)
		return rdf.IRI(s), rest, err
	case tagBlank:
		if len(buf) < 16 {
			return nil, nil, errCorruptKey
		}
		id, err := uuid.FromBytes(buf[:16])
		if err != nil {
			return nil, nil, err
		}
		return sk.resolve(id), buf[16:], nil
	case tagLiteral:
		lexical, rest, err := readString(buf)
		if err != nil || len(rest) == 0 {
			return nil, nil, errCorruptKey
		}
		kind, rest := rest[0], rest[1:]
		switch kind {
		case litPlain:
			return rdf.NewLiteral(lexical), rest, nil
		case litDatatype:
			dt, rest, err := readString(rest)
			return rdf.NewTypedLiteral(lexical, rdf.IRI(dt)), rest, err
		case litLang:
			lang, rest, err := readString(rest)
			return rdf.NewLangLiteral(lexical, lang), rest, err
		}
	}
	return nil, nil, errCorruptKey
}

// graphPrefix returns prefix + name, the common prefix of every index key of one graph.
func graphPrefix(prefix byte, name rdf.IRI) []byte {
	key := make([]byte, 0, 2+len(name)+binary.MaxVarintLen64)
	key = append(key, prefix)
	return appendString(key, string(name))
}

func catalogKey(name rdf.IRI) []byte {
	return graphPrefix(prefixCatalog, name)
}

// indexKeys returns the SPO, POS and OSP keys of t in graph name.
func indexKeys(name rdf.IRI, t rdf.Triple, sk skolemizer) [3][]byte {
	return [3][]byte{
		appendTerms(graphPrefix(prefixSPO, name), sk, t.S, t.P, t.O),
		appendTerms(graphPrefix(prefixPOS, name), sk, t.P, t.O, t.S),
		appendTerms(graphPrefix(prefixOSP, name), sk, t.O, t.S, t.P),
	}
}

func appendTerms(key []byte, sk skolemizer, terms ...rdf.Term) []byte {
	for _, t := range terms {
		key = appendTerm(key, t, sk)
	}
	return key
}

// scanPlan picks the index whose key order puts the bound components first and returns
// the longest usable scan prefix.
func scanPlan(name rdf.IRI, s rdf.Term, p rdf.IRI, o rdf.Term, sk skolemizer) (byte, []byte) {
	var pred rdf.Term
	if p != "" {
		pred = p
	}
	switch {
	case s != nil:
		key := appendTerm(graphPrefix(prefixSPO, name), s, sk)
		if pred != nil {
			key = appendTerm(key, pred, sk)
			if o != nil {
				key = appendTerm(key, o, sk)
			}
			return prefixSPO, key
		}
		if o != nil {
			// o and s bound: OSP covers both.
			return prefixOSP, appendTerms(graphPrefix(prefixOSP, name), sk, o, s)
		}
		return prefixSPO, key
	case pred != nil:
		key := appendTerm(graphPrefix(prefixPOS, name), pred, sk)
		if o != nil {
			key = appendTerm(key, o, sk)
		}
		return prefixPOS, key
	case o != nil:
		return prefixOSP, appendTerm(graphPrefix(prefixOSP, name), o, sk)
	default:
		return prefixSPO, graphPrefix(prefixSPO, name)
	}
}

// decodeKey parses an index key of the given kind back into a triple.
func decodeKey(prefix byte, key []byte, sk skolemizer) (rdf.Triple, error) {
	if len(key) == 0 || key[0] != prefix {
		return rdf.Triple{}, errCorruptKey
	}
	_, rest, err := readString(key[1:])
	if err != nil {
		return rdf.Triple{}, err
	}

	var terms [3]rdf.Term
	for i := range terms {
		terms[i], rest, err = readTerm(rest, sk)
		if err != nil {
			return rdf.Triple{}, err
		}
	}
	if len(rest) != 0 {
		return rdf.Triple{}, errCorruptKey
	}

	var s, p, o rdf.Term
	switch prefix {
	case prefixSPO:
		s, p, o = terms[0], terms[1], terms[2]
	case prefixPOS:
		p, o, s = terms[0], terms[1], terms[2]
	case prefixOSP:
		o, s, p = terms[0], terms[1], terms[2]
	default:
		return rdf.Triple{}, errCorruptKey
	}
	pIRI, ok := p.(rdf.IRI)
	if !ok {
		return rdf.Triple{}, errCorruptKey
	}
	return rdf.NewTriple(s, pIRI, o)
}
