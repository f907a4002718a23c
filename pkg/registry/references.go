package registry

import (
	"net/url"
	"strings"
	"unicode"

	"github.com/orneryd/graphfed/pkg/rdf"
)

// References are the graphs a SPARQL query or update names explicitly.
type References struct {
	// Graphs lists the IRIs after FROM, FROM NAMED, GRAPH, WITH, USING and USING NAMED,
	// in order of first appearance.
	Graphs []rdf.IRI
	// Dynamic is set when the query can touch graphs that are not named in its text:
	// GRAPH ?var, SERVICE, or a reference that could not be resolved.
	Dynamic bool
}

// ScanReferences finds the graphs a query names without parsing it. It tokenizes just
// enough SPARQL (IRIs, prefixed names, strings, comments, variables) to find the dataset
// clauses reliably.
func ScanReferences(query string) References {
	s := &scanner{src: query, prefixes: map[string]string{}}
	var refs References
	seen := map[rdf.IRI]struct{}{}
	add := func(iri rdf.IRI) {
		if _, ok := seen[iri]; !ok {
			seen[iri] = struct{}{}
			refs.Graphs = append(refs.Graphs, iri)
		}
	}

	for {
		tok := s.next()
		if tok.kind == tokEOF {
			break
		}
		if tok.kind != tokWord {
			continue
		}
		switch strings.ToUpper(tok.text) {
		case "PREFIX":
			name := s.next()
			iri := s.next()
			if name.kind == tokPName && iri.kind == tokIRI {
				s.prefixes[strings.TrimSuffix(name.text, ":")] = s.resolve(iri.text)
			}
		case "BASE":
			if iri := s.next(); iri.kind == tokIRI {
				s.base = s.resolve(iri.text)
			}
		case "FROM", "USING":
			target := s.next()
			if target.kind == tokWord && strings.EqualFold(target.text, "NAMED") {
				target = s.next()
			}
			s.reference(target, add, &refs)
		case "GRAPH", "WITH":
			s.reference(s.next(), add, &refs)
		case "DROP", "CLEAR":
			target := s.next()
			if target.kind == tokWord && strings.EqualFold(target.text, "SILENT") {
				target = s.next()
			}
			if target.kind == tokWord && !strings.EqualFold(target.text, "GRAPH") && !strings.EqualFold(target.text, "DEFAULT") {
				refs.Dynamic = true // NAMED, ALL
			}
			if target.kind == tokWord && strings.EqualFold(target.text, "GRAPH") {
				s.reference(s.next(), add, &refs)
			}
		case "ADD", "MOVE", "COPY", "SERVICE":
			refs.Dynamic = true
		}
	}
	return refs
}

type tokKind int

const (
	tokEOF tokKind = iota
	tokIRI
	tokPName
	tokVar
	tokWord
	tokOther
)

type token struct {
	kind tokKind
	text string
}

type scanner struct {
	src      string
	pos      int
	base     string
	prefixes map[string]string
}

// reference records the graph named by tok, or marks the references dynamic.
func (s *scanner) reference(tok token, add func(rdf.IRI), refs *References) {
	switch tok.kind {
	case tokIRI:
		add(rdf.IRI(s.resolve(tok.text)))
	case tokPName:
		prefix, local, _ := strings.Cut(tok.text, ":")
		ns, ok := s.prefixes[prefix]
		if !ok {
			refs.Dynamic = true
			return
		}
		add(rdf.IRI(ns + local))
	case tokWord:
		if !strings.EqualFold(tok.text, "DEFAULT") {
			refs.Dynamic = true
		}
	default:
		refs.Dynamic = true
	}
}

func (s *scanner) resolve(iri string) string {
	if s.base == "" {
		return iri
	}
	u, err := url.Parse(iri)
	if err != nil || u.IsAbs() {
		return iri
	}
	b, err := url.Parse(s.base)
	if err != nil {
		return iri
	}
	return b.ResolveReference(u).String()
}

func (s *scanner) next() token {
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		switch {
		case c == '#':
			for s.pos < len(s.src) && s.src[s.pos] != '\n' {
				s.pos++
			}
		case unicode.IsSpace(rune(c)):
			s.pos++
		case c == '<':
			if end := s.iriEnd(); end > 0 {
				tok := token{kind: tokIRI, text: s.src[s.pos+1 : end]}
				s.pos = end + 1
				return tok
			}
			s.pos++
			return token{kind: tokOther, text: "<"}
		case c == '"' || c == '\'':
			s.skipString(c)
			return token{kind: tokOther}
		case c == '?' || c == '$':
			start := s.pos
			s.pos++
			s.pos += s.nameLen()
			return token{kind: tokVar, text: s.src[start:s.pos]}
		case isNameStart(c) || c == ':':
			start := s.pos
			s.pos += s.nameLen()
			if s.pos < len(s.src) && s.src[s.pos] == ':' {
				s.pos++
				s.pos += s.nameLen()
				return token{kind: tokPName, text: s.src[start:s.pos]}
			}
			return token{kind: tokWord, text: s.src[start:s.pos]}
		default:
			s.pos++
			return token{kind: tokOther, text: string(c)}
		}
	}
	return token{kind: tokEOF}
}

// iriEnd returns the index of the '>' closing an IRI starting at s.pos, or -1 if the
// '<' is a less-than operator.
func (s *scanner) iriEnd() int {
	for i := s.pos + 1; i < len(s.src); i++ {
		switch c := s.src[i]; {
		case c == '>':
			return i
		case c == '<' || c == '"' || c == '{' || c == '}' || c == '|' || c == '^' || c == '`' || c == '\\' || c <= ' ':
			return -1
		}
	}
	return -1
}

func (s *scanner) skipString(quote byte) {
	long := strings.HasPrefix(s.src[s.pos:], strings.Repeat(string(quote), 3))
	if long {
		s.pos += 3
		if end := strings.Index(s.src[s.pos:], strings.Repeat(string(quote), 3)); end >= 0 {
			s.pos += end + 3
		} else {
			s.pos = len(s.src)
		}
		return
	}
	s.pos++
	for s.pos < len(s.src) {
		switch s.src[s.pos] {
		case '\\':
			s.pos += 2
		case quote, '\n':
			s.pos++
			return
		default:
			s.pos++
		}
	}
}

func (s *scanner) nameLen() int {
	n := 0
	for s.pos+n < len(s.src) {
		c := s.src[s.pos+n]
		if !isNameStart(c) && !(c >= '0' && c <= '9') && c != '-' && c != '.' {
			break
		}
		n++
	}
	// A trailing dot ends the triple, not the name.
	for n > 0 && s.src[s.pos+n-1] == '.' {
		n--
	}
	return n
}

func isNameStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}
