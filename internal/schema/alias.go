package schema

import "strconv"

// Aliases maps entity members to generated table aliases for one statement.
// The root is always "t0"; every non-terminal relationship gets the next
// "tN" in member order, shared by all columns beneath it.
type Aliases struct {
	byMember    map[int]string
	unqualified bool
}

// AssignAliases allocates aliases for every non-terminal entity member of g.
func AssignAliases(g *Graph) *Aliases {
	a := &Aliases{byMember: make(map[int]string)}
	next := 0
	for i := range g.members {
		m := &g.members[i]
		if !m.IsEntity() || m.Terminal {
			continue
		}
		a.byMember[i] = "t" + strconv.Itoa(next)
		next++
	}
	return a
}

// Unqualified returns an alias table that renders bare column names. Write
// statements use it because their WHERE clause addresses a single table.
func Unqualified() *Aliases {
	return &Aliases{unqualified: true}
}

// Of returns the alias of entity member i.
func (a *Aliases) Of(i int) (string, bool) {
	if a.unqualified {
		return "", true
	}
	alias, ok := a.byMember[i]
	return alias, ok
}

// Column renders a column member as alias.column using quote for the
// column identifier. It reports false when the owning entity has no alias.
func (a *Aliases) Column(g *Graph, m *Member, quote func(string) string) (string, bool) {
	if a.unqualified {
		return quote(m.Column.Name), true
	}
	owner := g.OwnerEntity(m.Index)
	alias, ok := a.byMember[owner.Index]
	if !ok {
		return "", false
	}
	return alias + "." + quote(m.Column.Name), true
}
