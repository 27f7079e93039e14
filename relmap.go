// Package relmap maps Go structs onto relational tables. A modeled type
// declares its table, columns and relationships through a static
// Descriptor; relmap turns predicates over that type into parameterized SQL
// for the connection's dialect and rebuilds typed object graphs, including
// one-to-one references and nested one-to-many collections, from the rows.
package relmap

import (
	"reflect"

	"relmap/internal/dialect"
	"relmap/internal/expr"
	"relmap/internal/materialize"
	"relmap/internal/planner"
	"relmap/internal/predicate"
	"relmap/internal/schema"
)

// Descriptor types.
type (
	Modeler    = schema.Modeler
	Descriptor = schema.Descriptor
	Column     = schema.Column
	Reference  = schema.Reference
	Collection = schema.Collection
)

// TypeOf returns the reflect.Type for T, for use in descriptors.
func TypeOf[T any]() reflect.Type {
	return schema.TypeOf[T]()
}

// Expr is a predicate expression node.
type Expr = expr.Node

// Predicate builders.
var (
	Param = expr.Param
	Value = expr.Value
	Var   = expr.Var
	Func  = expr.Func
	Raw   = expr.Raw
	And   = expr.And
	Or    = expr.Or
	Not   = expr.Not
)

// Dialect is the SQL formatting strategy of a connection.
type Dialect = dialect.Dialect

// PlanLimits bounds the size of planned batches.
type PlanLimits = planner.PlanLimits

// Errors returned by planning and materialization.
type (
	ResolutionError            = schema.ResolutionError
	DescriptorError            = schema.DescriptorError
	UnsupportedExpressionError = predicate.UnsupportedExpressionError
	MissingOrderingError       = planner.MissingOrderingError
	AmbiguousJoinError         = planner.AmbiguousJoinError
	ConsistencyWarning         = materialize.ConsistencyWarning
	InconsistentGraphError     = materialize.InconsistentGraphError
)

var (
	// ErrInconsistentGraph is matched by errors returned in strict
	// consistency mode.
	ErrInconsistentGraph = materialize.ErrInconsistentGraph
	// ErrNoPrimaryKey is returned by instance writes on keyless types.
	ErrNoPrimaryKey = planner.ErrNoPrimaryKey
)
