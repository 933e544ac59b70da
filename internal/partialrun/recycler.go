package partialrun

import (
	"context"
	"errors"
	"fmt"

	"orchestrator-core/internal/dag"
	"orchestrator-core/internal/mlmd"
	"orchestrator-core/internal/pipelineir"
)

// ErrConsistency is raised when the downstream-closure of `run` nodes is not
// disjoint from the upstream-closure of skipped-but-child-included nodes:
// the marker output was tampered with.
var ErrConsistency = errors.New("partialrun: marked pipeline is inconsistent")

// ErrNoBaseRun is raised when no base pipeline run can be found to reuse
// artifacts from.
var ErrNoBaseRun = errors.New("partialrun: no base pipeline run found")

// computeNodesToReuse returns all node ids minus the downstream-closure of
// `run`-marked nodes, after verifying that closure is disjoint from the
// upstream-closure of skip-marked nodes with child_in_partial_run=true.
func computeNodesToReuse(p *pipelineir.Pipeline) (map[string]bool, error) {
	nodes := dag.OrderedNodeMap(p)

	var nodesToRun, skippedWithIncludedChildren []string
	for _, n := range p.Nodes {
		switch n.ExecutionOptions.PartialRun.Kind {
		case pipelineir.PartialRunRun:
			nodesToRun = append(nodesToRun, n.NodeID)
		case pipelineir.PartialRunSkip:
			if n.ExecutionOptions.PartialRun.ChildInPartialRun {
				skippedWithIncludedChildren = append(skippedWithIncludedChildren, n.NodeID)
			}
		}
	}

	exclusionSet := closedSet(nodesToRun, dag.DownstreamReachable(nodes, nodesToRun))
	inclusionSet := closedSet(skippedWithIncludedChildren, dag.UpstreamReachable(nodes, skippedWithIncludedChildren))

	for id := range exclusionSet {
		if inclusionSet[id] {
			return nil, fmt.Errorf("%w: node %q is in both the run-closure and the reused-dependency closure", ErrConsistency, id)
		}
	}

	reuse := make(map[string]bool)
	for id := range nodes {
		if !exclusionSet[id] {
			reuse[id] = true
		}
	}
	return reuse, nil
}

// validatedNewRunID prefers the IR's runtime_spec.pipeline_run_id; falls
// back to newRunID; if both are present they must agree.
func validatedNewRunID(p *pipelineir.Pipeline, newRunID string) (string, error) {
	inferred := p.RuntimeSpec.PipelineRunID
	if inferred == "" && newRunID == "" {
		return "", errors.New("partialrun: unable to infer new pipeline run id: resolve runtime_spec.pipeline_run_id or provide new_run_id")
	}
	if inferred != "" && newRunID != "" && inferred != newRunID {
		return "", fmt.Errorf("partialrun: conflicting new pipeline run ids: IR has %q, caller provided %q", inferred, newRunID)
	}
	if inferred != "" {
		return inferred, nil
	}
	return newRunID, nil
}

// ArtifactRecycler re-publishes a node's prior successful executions as
// cached executions under a new pipeline run's contexts. Reduces the
// number of store round-trips when reusing outputs of multiple nodes in
// the same run, by caching the pipeline and run contexts it resolves.
type ArtifactRecycler struct {
	store        mlmd.Store
	pipelineName string
	newRunID     string
	pipelineCtx  mlmd.Context
	runContexts  map[string]mlmd.Context // run id -> context, memoized
}

// NewArtifactRecycler constructs a recycler scoped to one pipeline and the
// run id whose outputs it is preparing.
func NewArtifactRecycler(ctx context.Context, store mlmd.Store, pipelineName, newRunID string) (*ArtifactRecycler, error) {
	pipelineCtx, err := store.GetOrCreateContext(ctx, mlmd.ContextPipeline, mlmd.PipelineContextName(pipelineName))
	if err != nil {
		return nil, err
	}
	return &ArtifactRecycler{
		store:        store,
		pipelineName: pipelineName,
		newRunID:     newRunID,
		pipelineCtx:  pipelineCtx,
		runContexts:  make(map[string]mlmd.Context),
	}, nil
}

// runContext memoizes pipeline_run context lookups, since a recycler
// revisits the base and new run contexts once per reused node.
func (r *ArtifactRecycler) runContext(ctx context.Context, runID string) (mlmd.Context, error) {
	if c, ok := r.runContexts[runID]; ok {
		return c, nil
	}
	c, err := r.store.GetOrCreateContext(ctx, mlmd.ContextPipelineRun, mlmd.PipelineRunContextName(r.pipelineName, runID))
	if err != nil {
		return mlmd.Context{}, err
	}
	r.runContexts[runID] = c
	return c, nil
}

// GetLatestPipelineRunID returns the most recent previous pipeline run id
// other than the recycler's own new run id.
func (r *ArtifactRecycler) GetLatestPipelineRunID(ctx context.Context) (string, error) {
	c, err := r.store.MostRecentPipelineRunContext(ctx, r.pipelineName, r.newRunID)
	if errors.Is(err, mlmd.ErrNotFound) {
		return "", fmt.Errorf("%w: you need to have completed a pipeline run before performing a partial run with artifact reuse", ErrNoBaseRun)
	}
	if err != nil {
		return "", err
	}
	return runIDFromContextName(r.pipelineName, c.Name), nil
}

func runIDFromContextName(pipelineName, contextName string) string {
	prefix := mlmd.PipelineRunContextName(pipelineName, "")
	if len(contextName) > len(prefix) && contextName[:len(prefix)] == prefix {
		return contextName[len(prefix):]
	}
	return contextName
}

func (r *ArtifactRecycler) nodeContext(ctx context.Context, nodeID string) (mlmd.Context, error) {
	return r.store.GetOrCreateContext(ctx, mlmd.ContextNode, mlmd.NodeContextName(r.pipelineName, nodeID))
}

// getSuccessfulExecutions returns all successful executions of a node at a
// given base run, newest first.
func (r *ArtifactRecycler) getSuccessfulExecutions(ctx context.Context, nodeID, baseRunID string) ([]mlmd.Execution, error) {
	nodeCtx, err := r.nodeContext(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	baseRunCtx, err := r.runContext(ctx, baseRunID)
	if err != nil {
		return nil, err
	}

	all, err := r.store.ExecutionsByNodeContexts(ctx, []string{nodeCtx.ID, baseRunCtx.ID, r.pipelineCtx.ID})
	if err != nil {
		return nil, err
	}
	var successful []mlmd.Execution
	for _, e := range all {
		if e.LastKnownState.IsSuccessful() {
			successful = append(successful, e)
		}
	}
	if len(successful) == 0 {
		return nil, fmt.Errorf("partialrun: no previous successful executions found for node %q in run %q", nodeID, baseRunID)
	}
	return successful, nil
}

// cacheAndPublish re-publishes one existing execution as a cached execution
// under the new run's contexts. Idempotent: a prior cached execution for
// the same context set is reused rather than duplicated.
func (r *ArtifactRecycler) cacheAndPublish(ctx context.Context, existing mlmd.Execution) error {
	newContexts, err := r.cachedExecutionContexts(ctx, existing)
	if err != nil {
		return err
	}

	prevCacheExecutions, err := r.store.ExecutionsByNodeContexts(ctx, contextIDs(newContexts))
	if err != nil {
		return err
	}
	for _, prev := range prevCacheExecutions {
		if prev.LastKnownState == mlmd.ExecutionCached {
			return nil // already cached and published under these contexts.
		}
	}

	outputs, err := r.store.OutputArtifactsForExecution(ctx, existing.ID)
	if err != nil {
		return err
	}
	_, err = r.store.PublishCachedExecution(ctx, mlmd.CachedPublishSpec{
		ExecutionType:   existing.ExecutionType,
		ContextIDs:      contextIDs(newContexts),
		OutputArtifacts: outputs,
	})
	return err
}

// cachedExecutionContexts copies every context the existing execution is
// attached to, substituting the new pipeline-run context for whichever
// pipeline_run context it carried.
func (r *ArtifactRecycler) cachedExecutionContexts(ctx context.Context, existing mlmd.Execution) ([]mlmd.Context, error) {
	newRunCtx, err := r.runContext(ctx, r.newRunID)
	if err != nil {
		return nil, err
	}

	out := make([]mlmd.Context, 0, len(existing.ContextIDs))
	for _, cid := range existing.ContextIDs {
		isRunContext := false
		for _, rc := range r.runContexts {
			if rc.ID == cid {
				isRunContext = true
				break
			}
		}
		if isRunContext {
			out = append(out, newRunCtx)
			continue
		}
		out = append(out, mlmd.Context{ID: cid})
	}
	return out, nil
}

func contextIDs(ctxs []mlmd.Context) []string {
	out := make([]string, len(ctxs))
	for i, c := range ctxs {
		out[i] = c.ID
	}
	return out
}

// ReuseNodeOutputs makes the outputs of a single node available to the new
// pipeline run.
func (r *ArtifactRecycler) ReuseNodeOutputs(ctx context.Context, nodeID, baseRunID string) error {
	executions, err := r.getSuccessfulExecutions(ctx, nodeID, baseRunID)
	if err != nil {
		return err
	}
	for _, exec := range executions {
		if err := r.cacheAndPublish(ctx, exec); err != nil {
			return err
		}
	}
	return nil
}

// PutParentContext records the base_run_ctx -> new_run_ctx lineage edge.
func (r *ArtifactRecycler) PutParentContext(ctx context.Context, baseRunID string) error {
	baseRunCtx, err := r.runContext(ctx, baseRunID)
	if err != nil {
		return err
	}
	newRunCtx, err := r.runContext(ctx, r.newRunID)
	if err != nil {
		return err
	}
	return r.store.ParentContextEdge(ctx, baseRunCtx.ID, newRunCtx.ID)
}

// ReusePipelineRunArtifacts computes the maximal set of nodes whose outputs
// can be reused without creating inconsistencies, reuses their outputs
// under the new run, and records the parent-context edge.
func ReusePipelineRunArtifacts(ctx context.Context, store mlmd.Store, p *pipelineir.Pipeline, baseRunID, newRunID string) error {
	runID, err := validatedNewRunID(p, newRunID)
	if err != nil {
		return err
	}
	nodesToReuse, err := computeNodesToReuse(p)
	if err != nil {
		return err
	}

	recycler, err := NewArtifactRecycler(ctx, store, p.PipelineName, runID)
	if err != nil {
		return err
	}

	if baseRunID == "" {
		baseRunID, err = recycler.GetLatestPipelineRunID(ctx)
		if err != nil {
			return err
		}
	}

	for _, n := range p.Nodes {
		if !nodesToReuse[n.NodeID] {
			continue
		}
		if err := recycler.ReuseNodeOutputs(ctx, n.NodeID, baseRunID); err != nil {
			return err
		}
	}
	return recycler.PutParentContext(ctx, baseRunID)
}

// Snapshot is invoked at node runtime: if the node's run mark lacks chief
// settings, it is a no-op. Otherwise it calls ReusePipelineRunArtifacts.
// Exactly one node per partial run performs this.
func Snapshot(ctx context.Context, node *pipelineir.Node, store mlmd.Store, p *pipelineir.Pipeline) error {
	mark := node.ExecutionOptions.PartialRun
	if mark.Kind != pipelineir.PartialRunRun || mark.ChiefSettings == nil {
		return nil
	}

	var baseRunID string
	switch mark.ChiefSettings.Strategy {
	case pipelineir.ChiefStrategyBasePipelineRun:
		baseRunID = mark.ChiefSettings.BaseRunID
	case pipelineir.ChiefStrategyLatestPipelineRun:
		baseRunID = ""
	default:
		return fmt.Errorf("partialrun: chief_settings strategy not set on node %q", node.NodeID)
	}

	return ReusePipelineRunArtifacts(ctx, store, p, baseRunID, "")
}
