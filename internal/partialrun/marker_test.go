package partialrun

import (
	"context"
	"slices"
	"testing"

	"orchestrator-core/internal/mlmd"
	"orchestrator-core/internal/pipelineir"
)

// linearChain builds A -> B -> C -> D, all SYNC, all cache-enabled.
func linearChain() *pipelineir.Pipeline {
	mk := func(id string, up, down []string) *pipelineir.Node {
		return &pipelineir.Node{
			NodeID:            id,
			ExecutionType:     "example.Component",
			UpstreamNodeIDs:   up,
			DownstreamNodeIDs: down,
			ExecutionOptions: pipelineir.ExecutionOptions{
				CachingOptions: pipelineir.CachingOptions{EnableCache: true},
			},
		}
	}
	return &pipelineir.Pipeline{
		PipelineUID:   "uid-1",
		PipelineName:  "chain",
		PipelineRunID: "run-2",
		ExecutionMode: pipelineir.ExecutionModeSync,
		Nodes: []*pipelineir.Node{
			mk("A", nil, []string{"B"}),
			mk("B", []string{"A"}, []string{"C"}),
			mk("C", []string{"B"}, []string{"D"}),
			mk("D", []string{"C"}, nil),
		},
	}
}

func in(set []string, id string) bool {
	for _, s := range set {
		if s == id {
			return true
		}
	}
	return false
}

func TestMarkPipeline_FromBToC_KeepsOnlyBAndC(t *testing.T) {
	p := linearChain()
	err := MarkPipeline(p,
		func(id string) bool { return id == "B" },
		func(id string) bool { return id == "C" },
		pipelineir.DefaultChiefSettings(),
	)
	if err != nil {
		t.Fatalf("MarkPipeline: %v", err)
	}

	kept := KeptNodeIDs(p)
	if len(kept) != 2 || !in(kept, "B") || !in(kept, "C") {
		t.Fatalf("expected kept = [B C], got %v", kept)
	}

	a, _ := p.NodeByID("A")
	if a.ExecutionOptions.PartialRun.Kind != pipelineir.PartialRunSkip {
		t.Fatalf("A should be marked skip, got %v", a.ExecutionOptions.PartialRun.Kind)
	}
	if !a.ExecutionOptions.PartialRun.ChildInPartialRun {
		t.Fatalf("A is B's direct excluded upstream dependency; child_in_partial_run should be true")
	}
}

func TestMarkPipeline_ExcludedDirectDependencyFlaggedOnDirectUpstreamOnly(t *testing.T) {
	p := linearChain()
	if err := MarkPipeline(p,
		func(id string) bool { return id == "B" },
		func(id string) bool { return id == "C" },
		pipelineir.DefaultChiefSettings(),
	); err != nil {
		t.Fatalf("MarkPipeline: %v", err)
	}

	a, _ := p.NodeByID("A")
	if a.ExecutionOptions.PartialRun.Kind != pipelineir.PartialRunSkip {
		t.Fatalf("A should be skipped")
	}
	// A is upstream of B (a kept node) and a direct dependency excluded from
	// toKeep, so it must be flagged as a child-in-partial-run dependency.
	if !a.ExecutionOptions.PartialRun.ChildInPartialRun {
		t.Fatalf("A is B's direct excluded upstream dependency; child_in_partial_run should be true")
	}

	d, _ := p.NodeByID("D")
	if d.ExecutionOptions.PartialRun.ChildInPartialRun {
		t.Fatalf("D is downstream of C, not an excluded dependency of a kept node; child_in_partial_run should be false")
	}
}

func TestMarkPipeline_ExactlyOneChief(t *testing.T) {
	p := linearChain()
	if err := MarkPipeline(p,
		func(id string) bool { return id == "A" },
		func(id string) bool { return id == "D" },
		pipelineir.DefaultChiefSettings(),
	); err != nil {
		t.Fatalf("MarkPipeline: %v", err)
	}

	chiefCount := 0
	var chiefID string
	for _, n := range p.Nodes {
		if n.ExecutionOptions.PartialRun.Kind == pipelineir.PartialRunRun && n.ExecutionOptions.PartialRun.ChiefSettings != nil {
			chiefCount++
			chiefID = n.NodeID
		}
	}
	if chiefCount != 1 {
		t.Fatalf("expected exactly one chief node, got %d", chiefCount)
	}
	id, ok := ChiefNodeID(p)
	if !ok || id != chiefID {
		t.Fatalf("ChiefNodeID() = %q, %v; want %q, true", id, ok, chiefID)
	}
	if id != "A" {
		t.Fatalf("chief should be the first kept node in topological order, got %q", id)
	}
}

func TestMarkPipeline_LeavesNodeEdgesIntact(t *testing.T) {
	p := linearChain()
	if err := MarkPipeline(p,
		func(id string) bool { return id == "B" },
		func(id string) bool { return id == "C" },
		pipelineir.DefaultChiefSettings(),
	); err != nil {
		t.Fatalf("MarkPipeline: %v", err)
	}

	orig := linearChain()
	for i, n := range p.Nodes {
		want := orig.Nodes[i]
		if !slices.Equal(n.UpstreamNodeIDs, want.UpstreamNodeIDs) {
			t.Fatalf("node %q upstream = %v after marking, want %v", n.NodeID, n.UpstreamNodeIDs, want.UpstreamNodeIDs)
		}
		if !slices.Equal(n.DownstreamNodeIDs, want.DownstreamNodeIDs) {
			t.Fatalf("node %q downstream = %v after marking, want %v", n.NodeID, n.DownstreamNodeIDs, want.DownstreamNodeIDs)
		}
	}
}

func TestMarkPipeline_RejectsAsyncPipeline(t *testing.T) {
	p := linearChain()
	p.ExecutionMode = pipelineir.ExecutionModeAsync
	err := MarkPipeline(p,
		func(id string) bool { return id == "A" },
		func(id string) bool { return id == "D" },
		pipelineir.DefaultChiefSettings(),
	)
	if err == nil {
		t.Fatalf("expected MarkPipeline to reject an ASYNC pipeline")
	}
}

func TestReusePipelineRunArtifacts_ReusesSkippedUpstreamOutput(t *testing.T) {
	ctx := context.Background()
	store := mlmd.NewMemoryStore()

	p := linearChain()
	p.PipelineName = "chain"
	baseRunID := "run-1"
	p.RuntimeSpec.PipelineRunID = "run-2"

	pipelineCtx, err := store.GetOrCreateContext(ctx, mlmd.ContextPipeline, mlmd.PipelineContextName(p.PipelineName))
	if err != nil {
		t.Fatalf("GetOrCreateContext(pipeline): %v", err)
	}
	baseRunCtx, err := store.GetOrCreateContext(ctx, mlmd.ContextPipelineRun, mlmd.PipelineRunContextName(p.PipelineName, baseRunID))
	if err != nil {
		t.Fatalf("GetOrCreateContext(base run): %v", err)
	}
	aNodeCtx, err := store.GetOrCreateContext(ctx, mlmd.ContextNode, mlmd.NodeContextName(p.PipelineName, "A"))
	if err != nil {
		t.Fatalf("GetOrCreateContext(node A): %v", err)
	}

	exec, err := store.RegisterExecution(ctx, mlmd.NewExecutionSpec{
		ExecutionType: "example.Component",
		ContextIDs:    []string{pipelineCtx.ID, baseRunCtx.ID, aNodeCtx.ID},
	})
	if err != nil {
		t.Fatalf("RegisterExecution: %v", err)
	}
	if err := store.UpdateExecutionState(ctx, exec.ID, mlmd.ExecutionSuccessful, nil); err != nil {
		t.Fatalf("UpdateExecutionState: %v", err)
	}
	want := []mlmd.ArtifactRef{{Artifact: mlmd.Artifact{ID: "art-1", URI: "/tmp/a/out", TypeName: "Examples"}, Key: "examples"}}
	if err := store.AttachOutputArtifacts(ctx, exec.ID, want); err != nil {
		t.Fatalf("AttachOutputArtifacts: %v", err)
	}

	if err := MarkPipeline(p,
		func(id string) bool { return id == "B" },
		func(id string) bool { return id == "C" },
		pipelineir.ChiefSettings{Strategy: pipelineir.ChiefStrategyBasePipelineRun, BaseRunID: baseRunID},
	); err != nil {
		t.Fatalf("MarkPipeline: %v", err)
	}

	if err := ReusePipelineRunArtifacts(ctx, store, p, baseRunID, p.RuntimeSpec.PipelineRunID); err != nil {
		t.Fatalf("ReusePipelineRunArtifacts: %v", err)
	}

	newRunCtx, err := store.GetOrCreateContext(ctx, mlmd.ContextPipelineRun, mlmd.PipelineRunContextName(p.PipelineName, p.RuntimeSpec.PipelineRunID))
	if err != nil {
		t.Fatalf("GetOrCreateContext(new run): %v", err)
	}
	cached, err := store.ExecutionsByNodeContexts(ctx, []string{pipelineCtx.ID, newRunCtx.ID, aNodeCtx.ID})
	if err != nil {
		t.Fatalf("ExecutionsByNodeContexts: %v", err)
	}
	if len(cached) != 1 {
		t.Fatalf("expected exactly one cached execution for node A under the new run, got %d", len(cached))
	}
	if cached[0].LastKnownState != mlmd.ExecutionCached {
		t.Fatalf("expected state CACHED, got %v", cached[0].LastKnownState)
	}

	outputs, err := store.OutputArtifactsForExecution(ctx, cached[0].ID)
	if err != nil {
		t.Fatalf("OutputArtifactsForExecution: %v", err)
	}
	if len(outputs) != 1 || outputs[0].Artifact.ID != "art-1" {
		t.Fatalf("expected the original artifact to be republished, got %v", outputs)
	}
}

func TestReusePipelineRunArtifacts_IdempotentOnSecondCall(t *testing.T) {
	ctx := context.Background()
	store := mlmd.NewMemoryStore()

	p := linearChain()
	baseRunID := "run-1"
	p.RuntimeSpec.PipelineRunID = "run-2"

	pipelineCtx, _ := store.GetOrCreateContext(ctx, mlmd.ContextPipeline, mlmd.PipelineContextName(p.PipelineName))
	baseRunCtx, _ := store.GetOrCreateContext(ctx, mlmd.ContextPipelineRun, mlmd.PipelineRunContextName(p.PipelineName, baseRunID))
	aNodeCtx, _ := store.GetOrCreateContext(ctx, mlmd.ContextNode, mlmd.NodeContextName(p.PipelineName, "A"))

	exec, _ := store.RegisterExecution(ctx, mlmd.NewExecutionSpec{
		ExecutionType: "example.Component",
		ContextIDs:    []string{pipelineCtx.ID, baseRunCtx.ID, aNodeCtx.ID},
	})
	_ = store.UpdateExecutionState(ctx, exec.ID, mlmd.ExecutionSuccessful, nil)
	_ = store.AttachOutputArtifacts(ctx, exec.ID, []mlmd.ArtifactRef{{Artifact: mlmd.Artifact{ID: "art-1"}, Key: "examples"}})

	if err := MarkPipeline(p,
		func(id string) bool { return id == "B" },
		func(id string) bool { return id == "C" },
		pipelineir.DefaultChiefSettings(),
	); err != nil {
		t.Fatalf("MarkPipeline: %v", err)
	}

	if err := ReusePipelineRunArtifacts(ctx, store, p, baseRunID, p.RuntimeSpec.PipelineRunID); err != nil {
		t.Fatalf("first ReusePipelineRunArtifacts: %v", err)
	}
	if err := ReusePipelineRunArtifacts(ctx, store, p, baseRunID, p.RuntimeSpec.PipelineRunID); err != nil {
		t.Fatalf("second ReusePipelineRunArtifacts: %v", err)
	}

	newRunCtx, _ := store.GetOrCreateContext(ctx, mlmd.ContextPipelineRun, mlmd.PipelineRunContextName(p.PipelineName, p.RuntimeSpec.PipelineRunID))
	cached, err := store.ExecutionsByNodeContexts(ctx, []string{pipelineCtx.ID, newRunCtx.ID, aNodeCtx.ID})
	if err != nil {
		t.Fatalf("ExecutionsByNodeContexts: %v", err)
	}
	if len(cached) != 1 {
		t.Fatalf("expected re-running to stay idempotent, got %d cached executions", len(cached))
	}
}

func TestReusePipelineRunArtifacts_NoBaseRunErrors(t *testing.T) {
	ctx := context.Background()
	store := mlmd.NewMemoryStore()

	p := linearChain()
	p.RuntimeSpec.PipelineRunID = "run-2"
	if err := MarkPipeline(p,
		func(id string) bool { return id == "B" },
		func(id string) bool { return id == "C" },
		pipelineir.DefaultChiefSettings(),
	); err != nil {
		t.Fatalf("MarkPipeline: %v", err)
	}

	err := ReusePipelineRunArtifacts(ctx, store, p, "", p.RuntimeSpec.PipelineRunID)
	if err == nil {
		t.Fatalf("expected an error when no prior pipeline run exists to reuse from")
	}
}

func TestSnapshot_NoopWithoutChiefSettings(t *testing.T) {
	ctx := context.Background()
	store := mlmd.NewMemoryStore()
	p := linearChain()

	n, _ := p.NodeByID("A")
	n.ExecutionOptions.PartialRun = pipelineir.ExecutionOptionsMark{Kind: pipelineir.PartialRunRun}

	if err := Snapshot(ctx, n, store, p); err != nil {
		t.Fatalf("Snapshot should be a no-op without chief settings, got error: %v", err)
	}
}
