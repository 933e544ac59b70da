package mlmd

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by lookups that find nothing, never wrapped with
// additional detail since the caller branches on it directly (a cache miss,
// a missing base run, a missing context).
var ErrNotFound = errors.New("mlmd: not found")

// StoreError wraps a store-layer failure that is not a plain not-found: a
// transaction failure, a schema mismatch, a malformed row.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("mlmd: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// Store is the generator's sole dependency on the metadata store: typed
// context/execution/artifact read-write, success/active predicates, and
// association queries.
type Store interface {
	// GetOrCreateContext returns the context of the given type and name,
	// creating it if it does not already exist.
	GetOrCreateContext(ctx context.Context, typ ContextType, name string) (Context, error)

	// MostRecentPipelineRunContext returns the most recently created
	// pipeline_run context for pipelineName other than excludeRunID, if any.
	// Returns ErrNotFound if none exists.
	MostRecentPipelineRunContext(ctx context.Context, pipelineName, excludeRunID string) (Context, error)

	// ExecutionsByNodeContexts returns every execution associated with all of
	// the given context ids, most-recent-first by registration order.
	ExecutionsByNodeContexts(ctx context.Context, contextIDs []string) ([]Execution, error)

	// RegisterExecution creates a new active execution and attaches it to
	// the given contexts and input artifacts.
	RegisterExecution(ctx context.Context, spec NewExecutionSpec) (Execution, error)

	// UpdateExecutionState transitions an execution's last_known_state and
	// optionally sets a custom property (e.g. the error message).
	UpdateExecutionState(ctx context.Context, executionID string, state ExecutionState, customProps map[string]string) error

	// AttachOutputArtifacts records an execution's output artifacts via
	// OUTPUT events.
	AttachOutputArtifacts(ctx context.Context, executionID string, outputs []ArtifactRef) error

	// OutputArtifactsForExecution returns the output artifacts previously
	// attached to an execution, used by the cache engine to recover the
	// reusable outputs of a cache-hit execution.
	OutputArtifactsForExecution(ctx context.Context, executionID string) ([]ArtifactRef, error)

	// AttachContext associates an existing execution with an additional
	// context (used to attach the cache context once computed).
	AttachContext(ctx context.Context, executionID, contextID string) error

	// PublishCachedExecution writes a new execution in state CACHED and
	// attaches the supplied output artifacts via OUTPUT events.
	PublishCachedExecution(ctx context.Context, spec CachedPublishSpec) (Execution, error)

	// ParentContextEdge records a parent-context edge (used for partial-run
	// lineage: base_run_ctx -> new_run_ctx).
	ParentContextEdge(ctx context.Context, parentContextID, childContextID string) error
}
