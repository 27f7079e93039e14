package planner

import (
	"errors"
	"fmt"
)

// ErrNoPrimaryKey indicates a required primary key is missing for an
// instance-level write.
var ErrNoPrimaryKey = errors.New("no primary key")

// MissingOrderingError reports offset paging with no explicit order and no
// primary key to default to.
type MissingOrderingError struct {
	Type string
}

func (e *MissingOrderingError) Error() string {
	return fmt.Sprintf("planner: offset paging over %s requires an explicit order or a primary key", e.Type)
}

// AmbiguousJoinError reports a relationship whose target has no single
// primary-key column to join on.
type AmbiguousJoinError struct {
	Type   string
	Member string
	Target string
	Keys   int
}

func (e *AmbiguousJoinError) Error() string {
	return fmt.Sprintf("planner: cannot join %s.%s: %s has %d primary-key columns, want exactly 1", e.Type, e.Member, e.Target, e.Keys)
}
