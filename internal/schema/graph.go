package schema

import (
	"reflect"
	"strings"
	"sync"
)

// MemberKind classifies a graph node.
type MemberKind int

const (
	KindRoot MemberKind = iota
	KindColumn
	KindReference
	KindCollection
)

func (k MemberKind) String() string {
	switch k {
	case KindRoot:
		return "root"
	case KindColumn:
		return "column"
	case KindReference:
		return "reference"
	case KindCollection:
		return "collection"
	default:
		return "unknown"
	}
}

// Member is one node of a schema graph. Members live in an arena and refer
// to their parent by index; index 0 is always the root.
type Member struct {
	Index  int
	Parent int
	Kind   MemberKind
	// Name is the struct field name (the type name for the root).
	Name string
	// Path is the fully-qualified dotted name; empty for the root.
	Path string
	// Type is the declared field type for columns and the related struct
	// type for the root and relationships.
	Type reflect.Type
	// Field is the index path of the struct field within the parent's struct.
	Field []int
	Depth int
	// Terminal marks a relationship pruned by the cycle guard.
	Terminal bool

	Column     Column
	Reference  Reference
	Collection Collection
	// Entity is the descriptor of Type for the root and relationships.
	Entity *Entity

	set setter
}

// IsRelationship reports whether the member is a reference or collection.
func (m *Member) IsRelationship() bool {
	return m.Kind == KindReference || m.Kind == KindCollection
}

// IsEntity reports whether the member owns columns (root or relationship).
func (m *Member) IsEntity() bool {
	return m.Kind != KindColumn
}

// IsBool reports whether a column member holds a boolean.
func (m *Member) IsBool() bool {
	return m.Kind == KindColumn && indirectType(m.Type).Kind() == reflect.Bool
}

// Set converts raw and stores it into this column's field of owner, which
// must be the addressable struct value of the member's parent.
func (m *Member) Set(owner reflect.Value, raw any) error {
	if m.set == nil {
		return &ResolutionError{Type: owner.Type().Name(), Path: m.Path, Reason: "member is not a column"}
	}
	return m.set(owner.FieldByIndex(m.Field), raw)
}

// Value reads this member's field from owner, dereferencing pointers. A nil
// pointer yields nil.
func (m *Member) Value(owner reflect.Value) any {
	v := owner.FieldByIndex(m.Field)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	return v.Interface()
}

// Graph is the immutable, flattened member tree of one modeled type.
type Graph struct {
	Type     reflect.Type
	members  []Member
	children [][]int
	byPath   map[string]int
}

// Root returns the root member.
func (g *Graph) Root() *Member {
	return &g.members[0]
}

// Len returns the number of members.
func (g *Graph) Len() int {
	return len(g.members)
}

// Member returns the member at index i.
func (g *Graph) Member(i int) *Member {
	return &g.members[i]
}

// Members returns all members in pre-order. Callers must not modify them.
func (g *Graph) Members() []Member {
	return g.members
}

// Children returns the direct children of member i in declaration order.
func (g *Graph) Children(i int) []int {
	return g.children[i]
}

// Columns returns the direct column children of entity member i.
func (g *Graph) Columns(i int) []int {
	var out []int
	for _, c := range g.children[i] {
		if g.members[c].Kind == KindColumn {
			out = append(out, c)
		}
	}
	return out
}

// PrimaryKey returns the primary-key column members of entity member i.
func (g *Graph) PrimaryKey(i int) []int {
	var out []int
	for _, c := range g.children[i] {
		if m := &g.members[c]; m.Kind == KindColumn && m.Column.PrimaryKey {
			out = append(out, c)
		}
	}
	return out
}

// ChildByName returns the direct child of member i named name.
func (g *Graph) ChildByName(i int, name string) (*Member, bool) {
	for _, c := range g.children[i] {
		if g.members[c].Name == name {
			return &g.members[c], true
		}
	}
	return nil, false
}

// ResolveMember looks up a fully-qualified dotted path. It reports false
// rather than failing so callers choose the error semantics.
func (g *Graph) ResolveMember(path string) (*Member, bool) {
	if path == "" {
		return g.Root(), true
	}
	idx, ok := g.byPath[path]
	if !ok {
		return nil, false
	}
	return &g.members[idx], true
}

// Resolve reconstructs a path from a chain of property accesses.
func (g *Graph) Resolve(chain ...string) (*Member, bool) {
	return g.ResolveMember(strings.Join(chain, "."))
}

// Lookup resolves path and converts a miss into a ResolutionError.
func (g *Graph) Lookup(path string) (*Member, error) {
	m, ok := g.ResolveMember(path)
	if !ok {
		return nil, &ResolutionError{Type: g.Type.Name(), Path: path}
	}
	return m, nil
}

// OwnerEntity returns the nearest entity member at or above i.
func (g *Graph) OwnerEntity(i int) *Member {
	m := &g.members[i]
	for !m.IsEntity() {
		m = &g.members[m.Parent]
	}
	return m
}

// Ancestors returns the indices from the root down to (excluding) i.
func (g *Graph) Ancestors(i int) []int {
	var chain []int
	for p := g.members[i].Parent; p >= 0; p = g.members[p].Parent {
		chain = append(chain, p)
	}
	for l, r := 0, len(chain)-1; l < r; l, r = l+1, r-1 {
		chain[l], chain[r] = chain[r], chain[l]
	}
	return chain
}

// BuildGraph builds the member graph of a modeled type without consulting
// the cache. Most callers want GraphFor.
func BuildGraph(t reflect.Type) (*Graph, error) {
	t = indirectType(t)
	entity, err := EntityOf(t)
	if err != nil {
		return nil, err
	}
	g := &Graph{
		Type:   t,
		byPath: make(map[string]int),
	}
	g.add(Member{
		Parent: -1,
		Kind:   KindRoot,
		Name:   t.Name(),
		Type:   t,
		Entity: entity,
	})
	if err := g.expand(0); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Graph) add(m Member) int {
	m.Index = len(g.members)
	if m.Parent >= 0 {
		parent := &g.members[m.Parent]
		m.Depth = parent.Depth + 1
		if parent.Path == "" {
			m.Path = m.Name
		} else {
			m.Path = parent.Path + "." + m.Name
		}
		g.children[m.Parent] = append(g.children[m.Parent], m.Index)
		g.byPath[m.Path] = m.Index
	}
	g.members = append(g.members, m)
	g.children = append(g.children, nil)
	return m.Index
}

// expand adds the columns and relationships of entity member i. Relationship
// targets already present among their own ancestors are added but left
// terminal, which bounds the recursion for self-referential schemas.
func (g *Graph) expand(i int) error {
	entity := g.members[i].Entity
	t := entity.Type
	desc := entity.Descriptor

	for _, col := range desc.Columns {
		sf, _ := t.FieldByName(col.Field)
		set, err := newSetter(sf.Type)
		if err != nil {
			return &DescriptorError{Type: t.Name(), Field: col.Field, Reason: err.Error()}
		}
		g.add(Member{
			Parent: i,
			Kind:   KindColumn,
			Name:   col.Field,
			Type:   sf.Type,
			Field:  sf.Index,
			Column: col,
			set:    set,
		})
	}

	for _, ref := range desc.References {
		sf, _ := t.FieldByName(ref.Field)
		target, err := EntityOf(ref.Target)
		if err != nil {
			return err
		}
		idx := g.add(Member{
			Parent:    i,
			Kind:      KindReference,
			Name:      ref.Field,
			Type:      target.Type,
			Field:     sf.Index,
			Reference: ref,
			Entity:    target,
		})
		if g.occursAbove(idx, target.Type) {
			g.members[idx].Terminal = true
			continue
		}
		if err := g.expand(idx); err != nil {
			return err
		}
	}

	for _, coll := range desc.Collections {
		sf, _ := t.FieldByName(coll.Field)
		elem, err := EntityOf(coll.Element)
		if err != nil {
			return err
		}
		if _, ok := elem.Column(coll.ForeignKey); !ok {
			return &DescriptorError{
				Type:   t.Name(),
				Field:  coll.Field,
				Reason: "foreign key " + coll.ForeignKey + " is not a declared column of " + elem.Name(),
			}
		}
		idx := g.add(Member{
			Parent:     i,
			Kind:       KindCollection,
			Name:       coll.Field,
			Type:       elem.Type,
			Field:      sf.Index,
			Collection: coll,
			Entity:     elem,
		})
		if g.occursAbove(idx, elem.Type) {
			g.members[idx].Terminal = true
			continue
		}
		if err := g.expand(idx); err != nil {
			return err
		}
	}
	return nil
}

// occursAbove reports whether t is the type of any ancestor of member i.
func (g *Graph) occursAbove(i int, t reflect.Type) bool {
	for p := g.members[i].Parent; p >= 0; p = g.members[p].Parent {
		if g.members[p].Type == t {
			return true
		}
	}
	return false
}

type graphEntry struct {
	once  sync.Once
	graph *Graph
	err   error
}

var graphCache sync.Map

// GraphFor returns the cached graph for t, building it on first use. Each
// type's graph is computed exactly once even under concurrent first use;
// distinct types never wait on each other.
func GraphFor(t reflect.Type) (*Graph, error) {
	t = indirectType(t)
	v, ok := graphCache.Load(t)
	if !ok {
		v, _ = graphCache.LoadOrStore(t, &graphEntry{})
	}
	entry := v.(*graphEntry)
	entry.once.Do(func() {
		entry.graph, entry.err = BuildGraph(t)
	})
	return entry.graph, entry.err
}

// GraphOf is GraphFor for a type parameter.
func GraphOf[T any]() (*Graph, error) {
	return GraphFor(reflect.TypeFor[T]())
}
