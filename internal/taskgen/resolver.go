package taskgen

import (
	"context"

	"orchestrator-core/internal/mlmd"
	"orchestrator-core/internal/pipelineir"
)

// ResolvedInputs is the result of resolving one node's input channels
// against the metadata store.
type ResolvedInputs struct {
	Artifacts []mlmd.ArtifactRef

	// ExecProperties are the node's resolved exec properties (parameters),
	// participating in both the registered execution's record and the cache
	// fingerprint — two invocations differing only by a parameter value must
	// not fingerprint identically.
	ExecProperties map[string]string
}

// InputResolver is the narrow external collaborator responsible for
// resolving a node's input channels into concrete artifacts. Pipeline-level
// input resolution depends on the compiler/channel model, which this core
// deliberately treats as out of scope.
//
// Contract: a nil *ResolvedInputs with a nil error means no valid input
// tuple exists (the node should be SKIPPED); a non-nil error means
// resolution failed (the node should FAIL).
type InputResolver interface {
	Resolve(ctx context.Context, pipeline *pipelineir.Pipeline, node *pipelineir.Node) (*ResolvedInputs, error)
}
