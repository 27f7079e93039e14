package planner

import (
	"relmap/internal/schema"
)

// OrderBy names a column member path and its direction.
type OrderBy struct {
	Path string
	Desc bool
}

type orderTerm struct {
	member *schema.Member
	desc   bool
}

// resolveOrder validates explicit ordering against the graph and appends the
// root primary key as a tie-breaker so the order is total. It returns nil
// when no explicit order was requested.
func (b *builder) resolveOrder(orders []OrderBy) ([]orderTerm, error) {
	if len(orders) == 0 {
		return nil, nil
	}
	terms := make([]orderTerm, 0, len(orders)+1)
	seen := make(map[int]bool, len(orders))
	for _, o := range orders {
		m, err := b.graph.Lookup(o.Path)
		if err != nil {
			return nil, err
		}
		if m.Kind != schema.KindColumn {
			return nil, &schema.ResolutionError{Type: b.typeName(), Path: o.Path, Reason: "order target is not a column"}
		}
		for _, a := range b.graph.Ancestors(m.Index) {
			if b.graph.Member(a).Kind == schema.KindCollection {
				return nil, &schema.ResolutionError{Type: b.typeName(), Path: o.Path, Reason: "cannot order by a collection member"}
			}
		}
		if seen[m.Index] {
			continue
		}
		seen[m.Index] = true
		terms = append(terms, orderTerm{member: m, desc: o.Desc})
	}
	for _, pk := range b.graph.PrimaryKey(0) {
		if !seen[pk] {
			terms = append(terms, orderTerm{member: b.graph.Member(pk)})
		}
	}
	return terms, nil
}

// keyOrder orders by the primary key of entity member e.
func (b *builder) keyOrder(e int) []orderTerm {
	pk := b.graph.PrimaryKey(e)
	terms := make([]orderTerm, len(pk))
	for i, c := range pk {
		terms[i] = orderTerm{member: b.graph.Member(c)}
	}
	return terms
}

// renderOrder renders terms with render producing each column expression.
func renderOrder(terms []orderTerm, render func(*schema.Member) string) []string {
	out := make([]string, len(terms))
	for i, t := range terms {
		out[i] = render(t.member)
		if t.desc {
			out[i] += " DESC"
		}
	}
	return out
}
