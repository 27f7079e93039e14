package materialize

import (
	"fmt"
	"reflect"

	"relmap/internal/planner"
	"relmap/internal/schema"
)

type slot struct {
	member *schema.Member
	pos    int
}

// shape maps the columns of one result set onto the entity read from it and
// the references joined into the same row.
type shape struct {
	graph   *schema.Graph
	columns map[int][]slot
	refs    map[int][]int
}

func newShape(g *schema.Graph, s planner.Stream) *shape {
	sh := &shape{
		graph:   g,
		columns: make(map[int][]slot),
		refs:    make(map[int][]int),
	}
	for pos, c := range s.Columns {
		owner := g.OwnerEntity(c)
		sh.columns[owner.Index] = append(sh.columns[owner.Index], slot{member: g.Member(c), pos: pos})
	}
	sh.walk(s.Member)
	return sh
}

func (sh *shape) walk(e int) {
	for _, c := range sh.graph.Children(e) {
		m := sh.graph.Member(c)
		if m.Kind != schema.KindReference || m.Terminal || len(sh.columns[c]) == 0 {
			continue
		}
		sh.refs[e] = append(sh.refs[e], c)
		sh.walk(c)
	}
}

// build creates a new instance of entity e from one row.
func (sh *shape) build(e int, vals []any) (reflect.Value, error) {
	ptr := reflect.New(sh.graph.Member(e).Type)
	owner := ptr.Elem()
	for _, s := range sh.columns[e] {
		if err := s.member.Set(owner, vals[s.pos]); err != nil {
			return reflect.Value{}, fmt.Errorf("materialize %s.%s: %w", owner.Type().Name(), s.member.Name, err)
		}
	}
	for _, r := range sh.refs[e] {
		if !sh.present(r, vals) {
			continue
		}
		child, err := sh.build(r, vals)
		if err != nil {
			return reflect.Value{}, err
		}
		field := owner.FieldByIndex(sh.graph.Member(r).Field)
		if field.Kind() == reflect.Pointer {
			field.Set(child)
		} else {
			field.Set(child.Elem())
		}
	}
	return ptr, nil
}

// present reports whether an outer-joined reference matched a row: its key
// columns are all non-null, or for keyless targets any column is.
func (sh *shape) present(r int, vals []any) bool {
	keyed := false
	for _, s := range sh.columns[r] {
		if !s.member.Column.PrimaryKey {
			continue
		}
		keyed = true
		if vals[s.pos] == nil {
			return false
		}
	}
	if keyed {
		return true
	}
	for _, s := range sh.columns[r] {
		if vals[s.pos] != nil {
			return true
		}
	}
	return false
}
