// Package planner turns a schema graph, a predicate and ordering, paging and
// inclusion options into a dialect-correct SQL batch. One-to-one references
// are joined into the root select; each requested one-to-many collection
// becomes its own select against a staged copy of its parent's rows.
package planner
