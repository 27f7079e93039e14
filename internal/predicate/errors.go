package predicate

import "fmt"

// UnsupportedExpressionError reports a predicate node outside the supported
// operator and method set. It is raised before any SQL executes.
type UnsupportedExpressionError struct {
	Node   string
	Reason string
}

func (e *UnsupportedExpressionError) Error() string {
	return fmt.Sprintf("predicate: unsupported expression %s: %s", e.Node, e.Reason)
}
