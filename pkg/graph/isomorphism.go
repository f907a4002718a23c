package graph

import (
	"hash/fnv"
	"sort"
	"strconv"
	"strings"

	"github.com/orneryd/graphfed/pkg/rdf"
)

// Isomorphic reports whether a and b are the same set of triples up to a bijective renaming
// of blank nodes.
//
// Grounded triples must match exactly. Blank nodes are first partitioned by iterated
// neighbourhood hashing (colour refinement) computed over both graphs together, so only
// nodes with the same colour are ever paired. The remaining ambiguity is resolved by
// backtracking, checking each partial mapping against the triples it already determines.
//
// Duplicate triples in either input are ignored.
func Isomorphic(a, b []rdf.Triple) bool {
	setA, setB := toSet(a), toSet(b)
	if len(setA) != len(setB) {
		return false
	}

	var looseA, looseB []rdf.Triple
	for t := range setA {
		if t.IsGrounded() {
			if _, ok := setB[t]; !ok {
				return false
			}
			continue
		}
		looseA = append(looseA, t)
	}
	for t := range setB {
		if !t.IsGrounded() {
			looseB = append(looseB, t)
		}
	}
	if len(looseA) != len(looseB) {
		return false
	}
	if len(looseA) == 0 {
		return true
	}

	blanksA, blanksB := blankNodes(looseA), blankNodes(looseB)
	if len(blanksA) != len(blanksB) {
		return false
	}

	colors := refineColors(looseA, looseB, blanksA, blanksB)
	if !sameColorHistogram(colors, blanksA, blanksB) {
		return false
	}

	m := &matcher{
		colors:   colors,
		targets:  setB,
		incident: incidence(looseA),
		order:    orderByColorRarity(colors, blanksA),
		candidates: func() map[string][]*rdf.BlankNode {
			byColor := make(map[string][]*rdf.BlankNode)
			for _, n := range blanksB {
				byColor[colors[n]] = append(byColor[colors[n]], n)
			}
			return byColor
		}(),
		mapping: make(map[*rdf.BlankNode]*rdf.BlankNode, len(blanksA)),
		used:    make(map[*rdf.BlankNode]bool, len(blanksB)),
	}
	return m.solve(0)
}

func toSet(triples []rdf.Triple) map[rdf.Triple]struct{} {
	set := make(map[rdf.Triple]struct{}, len(triples))
	for _, t := range triples {
		set[t] = struct{}{}
	}
	return set
}

// blankNodes returns the distinct blank nodes of triples in first-seen order.
func blankNodes(triples []rdf.Triple) []*rdf.BlankNode {
	seen := make(map[*rdf.BlankNode]bool)
	var out []*rdf.BlankNode
	add := func(t rdf.Term) {
		if b, ok := t.(*rdf.BlankNode); ok && !seen[b] {
			seen[b] = true
			out = append(out, b)
		}
	}
	for _, t := range triples {
		add(t.S)
		add(t.O)
	}
	return out
}

func incidence(triples []rdf.Triple) map[*rdf.BlankNode][]rdf.Triple {
	out := make(map[*rdf.BlankNode][]rdf.Triple)
	for _, t := range triples {
		if b, ok := t.S.(*rdf.BlankNode); ok {
			out[b] = append(out[b], t)
		}
		if b, ok := t.O.(*rdf.BlankNode); ok && t.O != t.S {
			out[b] = append(out[b], t)
		}
	}
	return out
}

// refineColors assigns every blank node of both graphs a colour that summarises its
// neighbourhood. Rounds continue until the number of distinct colours stops growing.
func refineColors(a, b []rdf.Triple, blanksA, blanksB []*rdf.BlankNode) map[*rdf.BlankNode]string {
	colors := make(map[*rdf.BlankNode]string, len(blanksA)+len(blanksB))
	for _, n := range blanksA {
		colors[n] = ""
	}
	for _, n := range blanksB {
		colors[n] = ""
	}

	incA, incB := incidence(a), incidence(b)
	distinct := 1
	for round := 0; round <= len(colors); round++ {
		next := make(map[*rdf.BlankNode]string, len(colors))
		for n, inc := range incA {
			next[n] = signature(n, inc, colors)
		}
		for n, inc := range incB {
			next[n] = signature(n, inc, colors)
		}
		colors = next

		seen := make(map[string]struct{}, len(colors))
		for _, c := range colors {
			seen[c] = struct{}{}
		}
		if len(seen) <= distinct && round > 0 {
			break
		}
		distinct = len(seen)
	}
	return colors
}

func signature(n *rdf.BlankNode, incident []rdf.Triple, colors map[*rdf.BlankNode]string) string {
	parts := make([]string, 0, len(incident))
	for _, t := range incident {
		switch {
		case t.S == rdf.Term(n) && t.O == rdf.Term(n):
			parts = append(parts, "loop|"+string(t.P))
		case t.S == rdf.Term(n):
			parts = append(parts, "out|"+string(t.P)+"|"+termColor(t.O, colors))
		default:
			parts = append(parts, "in|"+string(t.P)+"|"+termColor(t.S, colors))
		}
	}
	sort.Strings(parts)

	h := fnv.New64a()
	h.Write([]byte(colors[n]))
	for _, p := range parts {
		h.Write([]byte{0})
		h.Write([]byte(p))
	}
	return strconv.FormatUint(h.Sum64(), 36)
}

func termColor(t rdf.Term, colors map[*rdf.BlankNode]string) string {
	if b, ok := t.(*rdf.BlankNode); ok {
		return "_:" + colors[b]
	}
	return t.String()
}

func sameColorHistogram(colors map[*rdf.BlankNode]string, a, b []*rdf.BlankNode) bool {
	hist := make(map[string]int)
	for _, n := range a {
		hist[colors[n]]++
	}
	for _, n := range b {
		hist[colors[n]]--
	}
	for _, v := range hist {
		if v != 0 {
			return false
		}
	}
	return true
}

// orderByColorRarity puts nodes with unique colours first so the search commits early.
func orderByColorRarity(colors map[*rdf.BlankNode]string, nodes []*rdf.BlankNode) []*rdf.BlankNode {
	count := make(map[string]int)
	for _, n := range nodes {
		count[colors[n]]++
	}
	out := append([]*rdf.BlankNode(nil), nodes...)
	sort.SliceStable(out, func(i, j int) bool {
		ci, cj := count[colors[out[i]]], count[colors[out[j]]]
		if ci != cj {
			return ci < cj
		}
		return strings.Compare(colors[out[i]], colors[out[j]]) < 0
	})
	return out
}

type matcher struct {
	colors     map[*rdf.BlankNode]string
	targets    map[rdf.Triple]struct{}
	incident   map[*rdf.BlankNode][]rdf.Triple
	order      []*rdf.BlankNode
	candidates map[string][]*rdf.BlankNode
	mapping    map[*rdf.BlankNode]*rdf.BlankNode
	used       map[*rdf.BlankNode]bool
}

func (m *matcher) solve(i int) bool {
	if i == len(m.order) {
		return true
	}
	n := m.order[i]
	for _, c := range m.candidates[m.colors[n]] {
		if m.used[c] {
			continue
		}
		m.mapping[n] = c
		m.used[c] = true
		if m.consistent(n) && m.solve(i+1) {
			return true
		}
		delete(m.mapping, n)
		m.used[c] = false
	}
	return false
}

// consistent checks every triple touching n whose blank nodes are all mapped.
func (m *matcher) consistent(n *rdf.BlankNode) bool {
	for _, t := range m.incident[n] {
		s, ok := m.translate(t.S)
		if !ok {
			continue
		}
		o, ok := m.translate(t.O)
		if !ok {
			continue
		}
		if _, found := m.targets[rdf.Triple{S: s, P: t.P, O: o}]; !found {
			return false
		}
	}
	return true
}

func (m *matcher) translate(t rdf.Term) (rdf.Term, bool) {
	b, ok := t.(*rdf.BlankNode)
	if !ok {
		return t, true
	}
	mapped, ok := m.mapping[b]
	if !ok {
		return nil, false
	}
	return mapped, true
}
