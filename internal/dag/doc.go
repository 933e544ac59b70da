// Package dag provides the DAG utilities the task generator and the
// partial-run marker build on: deterministic topological layering,
// terminal-node detection, directed reachability traversal, and an
// order-preserving node map.
package dag
