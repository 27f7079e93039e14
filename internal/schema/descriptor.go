// Package schema turns static per-type descriptors into flattened member
// graphs. A graph lists every column, one-to-one reference and one-to-many
// collection reachable from a modeled type, with cycles pruned, and is built
// once per type for the life of the process.
package schema

import (
	"fmt"
	"reflect"
	"sync"

	"relmap/internal/naming"
)

// Modeler is implemented by every modeled type. Model must be static: it is
// called once per type and its result is cached.
type Modeler interface {
	Model() Descriptor
}

// Descriptor is the static metadata of one modeled type.
type Descriptor struct {
	Table    string
	Schema   string
	Database string
	// Connection names the configured connection (and therefore the
	// dialect) the type lives on. Empty selects the default connection.
	Connection  string
	Columns     []Column
	References  []Reference
	Collections []Collection
}

// Column declares one persistent struct field.
type Column struct {
	// Field is the Go struct field name.
	Field string
	// Name is the column name; defaults to Field.
	Name          string
	Nullable      bool
	PrimaryKey    bool
	AutoGenerated bool
	MaxLength     int
}

// Reference declares a one-to-one relationship resolved through a local
// foreign key. Field must be a struct or pointer-to-struct field; Target is
// inferred from it when nil.
type Reference struct {
	Field      string
	Target     reflect.Type
	ForeignKey string
}

// Collection declares a one-to-many relationship resolved through a foreign
// key on the element type. Field must be a slice of structs or struct
// pointers; Element is inferred from it when nil.
type Collection struct {
	Field         string
	Element       reflect.Type
	ForeignKey    string
	AlwaysInclude bool
}

// TypeOf returns the reflect.Type for T, for use in descriptors.
func TypeOf[T any]() reflect.Type {
	return reflect.TypeFor[T]()
}

// Entity is a validated, defaulted descriptor bound to its Go type.
type Entity struct {
	Type       reflect.Type
	Descriptor Descriptor
	columns    map[string]int
	primaryKey []Column
}

// Column returns the declared column for a struct field name.
func (e *Entity) Column(field string) (Column, bool) {
	idx, ok := e.columns[field]
	if !ok {
		return Column{}, false
	}
	return e.Descriptor.Columns[idx], true
}

// PrimaryKey returns the primary-key columns in declaration order.
func (e *Entity) PrimaryKey() []Column {
	return e.primaryKey
}

// Name returns the Go type name.
func (e *Entity) Name() string {
	return e.Type.Name()
}

type entityEntry struct {
	once   sync.Once
	entity *Entity
	err    error
}

var entityCache sync.Map

var defaultNamer = naming.Default()

// EntityOf returns the validated descriptor of a modeled type. The result is
// computed once per type.
func EntityOf(t reflect.Type) (*Entity, error) {
	t = indirectType(t)
	v, ok := entityCache.Load(t)
	if !ok {
		v, _ = entityCache.LoadOrStore(t, &entityEntry{})
	}
	entry := v.(*entityEntry)
	entry.once.Do(func() {
		entry.entity, entry.err = newEntity(t)
	})
	return entry.entity, entry.err
}

func newEntity(t reflect.Type) (*Entity, error) {
	if t.Kind() != reflect.Struct {
		return nil, &DescriptorError{Type: t.String(), Reason: "modeled types must be structs"}
	}
	modeler, ok := reflect.New(t).Interface().(Modeler)
	if !ok {
		return nil, &DescriptorError{Type: t.String(), Reason: "type does not implement Model() Descriptor"}
	}
	desc := modeler.Model()
	if desc.Table == "" {
		desc.Table = defaultNamer.TableName(t.Name())
	}

	entity := &Entity{
		Type:    t,
		columns: make(map[string]int, len(desc.Columns)),
	}
	desc.Columns = append([]Column(nil), desc.Columns...)
	for i := range desc.Columns {
		col := &desc.Columns[i]
		if col.Name == "" {
			col.Name = col.Field
		}
		if _, ok := t.FieldByName(col.Field); !ok {
			return nil, &DescriptorError{Type: t.Name(), Field: col.Field, Reason: "column field not found on struct"}
		}
		if _, dup := entity.columns[col.Field]; dup {
			return nil, &DescriptorError{Type: t.Name(), Field: col.Field, Reason: "column declared twice"}
		}
		entity.columns[col.Field] = i
		if col.PrimaryKey {
			entity.primaryKey = append(entity.primaryKey, *col)
		}
	}

	desc.References = append([]Reference(nil), desc.References...)
	for i := range desc.References {
		ref := &desc.References[i]
		target, err := relationshipTarget(t, ref.Field, ref.Target, false)
		if err != nil {
			return nil, err
		}
		ref.Target = target
		if _, ok := entity.columns[ref.ForeignKey]; !ok {
			return nil, &DescriptorError{
				Type:   t.Name(),
				Field:  ref.Field,
				Reason: fmt.Sprintf("foreign key %q is not a declared column", ref.ForeignKey),
			}
		}
	}

	desc.Collections = append([]Collection(nil), desc.Collections...)
	for i := range desc.Collections {
		coll := &desc.Collections[i]
		elem, err := relationshipTarget(t, coll.Field, coll.Element, true)
		if err != nil {
			return nil, err
		}
		coll.Element = elem
		if coll.ForeignKey == "" {
			return nil, &DescriptorError{Type: t.Name(), Field: coll.Field, Reason: "collection requires a remote foreign key"}
		}
	}

	entity.Descriptor = desc
	return entity, nil
}

// relationshipTarget validates the struct field backing a relationship and
// returns the related struct type.
func relationshipTarget(owner reflect.Type, fieldName string, declared reflect.Type, collection bool) (reflect.Type, error) {
	sf, ok := owner.FieldByName(fieldName)
	if !ok {
		return nil, &DescriptorError{Type: owner.Name(), Field: fieldName, Reason: "relationship field not found on struct"}
	}
	ft := sf.Type
	if collection {
		if ft.Kind() != reflect.Slice {
			return nil, &DescriptorError{Type: owner.Name(), Field: fieldName, Reason: "collection field must be a slice"}
		}
		ft = ft.Elem()
	}
	target := indirectType(ft)
	if target.Kind() != reflect.Struct {
		return nil, &DescriptorError{Type: owner.Name(), Field: fieldName, Reason: "relationship must point at a struct type"}
	}
	if declared != nil && indirectType(declared) != target {
		return nil, &DescriptorError{
			Type:   owner.Name(),
			Field:  fieldName,
			Reason: fmt.Sprintf("declared target %s does not match field type %s", declared, target),
		}
	}
	return target, nil
}

func indirectType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}
