package planner

import "fmt"

// PlanLimits defines cost limits applied during planning. Zero disables a
// limit.
type PlanLimits struct {
	// MaxIncludeDepth bounds the nesting of included collections.
	MaxIncludeDepth int
	// MaxStatements bounds the number of statements in one batch.
	MaxStatements int
}

// PlanCost captures the size of a planned batch.
type PlanCost struct {
	Depth       int
	Collections int
	Statements  int
}

func validateLimits(cost PlanCost, limits PlanLimits) error {
	if limits.MaxIncludeDepth > 0 && cost.Depth > limits.MaxIncludeDepth {
		return fmt.Errorf("query exceeds maximum include depth of %d (depth: %d)", limits.MaxIncludeDepth, cost.Depth)
	}
	if limits.MaxStatements > 0 && cost.Statements > limits.MaxStatements {
		return fmt.Errorf("query exceeds maximum statement count of %d (statements: %d)", limits.MaxStatements, cost.Statements)
	}
	return nil
}
