package materialize

import (
	"errors"
	"fmt"
)

// ErrInconsistentGraph is matched by the error returned in strict mode when
// a child row cannot be attached to a parent.
var ErrInconsistentGraph = errors.New("inconsistent object graph")

// ConsistencyWarning records a child row whose parent was not materialized.
// The row is dropped from the graph.
type ConsistencyWarning struct {
	Collection string
	ParentKey  string
	ChildKey   string
}

func (w ConsistencyWarning) String() string {
	if w.ParentKey == "" {
		return fmt.Sprintf("%s row %q has no parent key", w.Collection, w.ChildKey)
	}
	return fmt.Sprintf("%s row %q references missing parent %q", w.Collection, w.ChildKey, w.ParentKey)
}

// InconsistentGraphError is the strict-mode form of a ConsistencyWarning.
type InconsistentGraphError struct {
	Warning ConsistencyWarning
}

func (e *InconsistentGraphError) Error() string {
	return "inconsistent object graph: " + e.Warning.String()
}

func (e *InconsistentGraphError) Is(target error) bool {
	return target == ErrInconsistentGraph
}
