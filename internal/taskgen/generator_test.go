package taskgen

import (
	"context"
	"testing"

	"orchestrator-core/internal/cache"
	"orchestrator-core/internal/mlmd"
	"orchestrator-core/internal/pipelineir"
	"orchestrator-core/internal/pstate"
	"orchestrator-core/internal/servicejob"
	"orchestrator-core/internal/snodecache"
)

type alwaysResolve struct{}

func (alwaysResolve) Resolve(_ context.Context, _ *pipelineir.Pipeline, _ *pipelineir.Node) (*ResolvedInputs, error) {
	return &ResolvedInputs{}, nil
}

type taskTracker struct {
	tracked map[string]bool
}

func newTaskTracker() *taskTracker { return &taskTracker{tracked: make(map[string]bool)} }

func (t *taskTracker) isTracked(id string) bool { return t.tracked[id] }
func (t *taskTracker) mark(id string)           { t.tracked[id] = true }
func (t *taskTracker) unmark(id string)         { delete(t.tracked, id) }

func linearNode(id string, up, down []string) *pipelineir.Node {
	return &pipelineir.Node{NodeID: id, ExecutionType: "Type" + id, UpstreamNodeIDs: up, DownstreamNodeIDs: down}
}

func linearTestPipeline() *pipelineir.Pipeline {
	return &pipelineir.Pipeline{
		PipelineUID:   "puid",
		PipelineName:  "p",
		PipelineRunID: "run1",
		ExecutionMode: pipelineir.ExecutionModeSync,
		Nodes: []*pipelineir.Node{
			linearNode("A", nil, []string{"B"}),
			linearNode("B", []string{"A"}, []string{"C"}),
			linearNode("C", []string{"B"}, nil),
		},
	}
}

func newTestGenerator(tracker *taskTracker) (*Generator, mlmd.Store) {
	store := mlmd.NewMemoryStore()
	g := &Generator{
		Store:           store,
		PState:          pstate.NewMemoryStore(),
		IsTaskTracked:   tracker.isTracked,
		ServiceManager:  servicejob.NewStaticManager(),
		SuccessfulNodes: snodecache.NewMapCache(),
		CacheEngine:     cache.NewEngine(store),
		Resolver:        alwaysResolve{},
	}
	return g, store
}

func findExecTask(tasks []Task) *ExecNodeTask {
	for _, t := range tasks {
		if et, ok := t.(ExecNodeTask); ok {
			return &et
		}
	}
	return nil
}

func findUpdateTask(tasks []Task, nodeUID string) *UpdateNodeStateTask {
	for _, t := range tasks {
		if ut, ok := t.(UpdateNodeStateTask); ok && ut.NodeUID == nodeUID {
			return &ut
		}
	}
	return nil
}

func findFinalize(tasks []Task) *FinalizePipelineTask {
	for _, t := range tasks {
		if ft, ok := t.(FinalizePipelineTask); ok {
			return &ft
		}
	}
	return nil
}

// succeed marks the execution behind an ExecNodeTask as successful and
// simulates the task queue dispatching and draining it, the same external
// bookkeeping the distilled spec leaves to the caller.
func succeed(t *testing.T, ctx context.Context, store mlmd.Store, tracker *taskTracker, pipelineUID, nodeUID string, execTask *ExecNodeTask) {
	t.Helper()
	if err := store.UpdateExecutionState(ctx, execTask.ExecutionID, mlmd.ExecutionSuccessful, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tracker.unmark(ExecTaskID(pipelineUID, nodeUID))
}

func TestGenerate_LinearPipeline_FourTicks(t *testing.T) {
	ctx := context.Background()
	tracker := newTaskTracker()
	g, store := newTestGenerator(tracker)
	p := linearTestPipeline()

	// Tick 1: A runs.
	tasks, err := g.Generate(ctx, p)
	if err != nil {
		t.Fatalf("tick1: unexpected error: %v", err)
	}
	if ut := findUpdateTask(tasks, "A"); ut == nil || ut.NewState != pstate.Running {
		t.Fatalf("tick1: expected A RUNNING, got %v", tasks)
	}
	execA := findExecTask(tasks)
	if execA == nil || execA.NodeUID != "A" {
		t.Fatalf("tick1: expected ExecNodeTask for A, got %v", tasks)
	}
	if findFinalize(tasks) != nil {
		t.Fatalf("tick1: unexpected finalize, got %v", tasks)
	}
	tracker.mark(ExecTaskID(p.PipelineUID, "A"))
	succeed(t, ctx, store, tracker, p.PipelineUID, "A", execA)

	// Tick 2: A completes, B runs.
	tasks, err = g.Generate(ctx, p)
	if err != nil {
		t.Fatalf("tick2: unexpected error: %v", err)
	}
	if ut := findUpdateTask(tasks, "A"); ut == nil || ut.NewState != pstate.Complete {
		t.Fatalf("tick2: expected A COMPLETE, got %v", tasks)
	}
	if ut := findUpdateTask(tasks, "B"); ut == nil || ut.NewState != pstate.Running {
		t.Fatalf("tick2: expected B RUNNING, got %v", tasks)
	}
	execB := findExecTask(tasks)
	if execB == nil || execB.NodeUID != "B" {
		t.Fatalf("tick2: expected ExecNodeTask for B, got %v", tasks)
	}
	tracker.mark(ExecTaskID(p.PipelineUID, "B"))
	succeed(t, ctx, store, tracker, p.PipelineUID, "B", execB)

	// Tick 3: B completes, C runs.
	tasks, err = g.Generate(ctx, p)
	if err != nil {
		t.Fatalf("tick3: unexpected error: %v", err)
	}
	if ut := findUpdateTask(tasks, "B"); ut == nil || ut.NewState != pstate.Complete {
		t.Fatalf("tick3: expected B COMPLETE, got %v", tasks)
	}
	if ut := findUpdateTask(tasks, "C"); ut == nil || ut.NewState != pstate.Running {
		t.Fatalf("tick3: expected C RUNNING, got %v", tasks)
	}
	execC := findExecTask(tasks)
	if execC == nil || execC.NodeUID != "C" {
		t.Fatalf("tick3: expected ExecNodeTask for C, got %v", tasks)
	}
	tracker.mark(ExecTaskID(p.PipelineUID, "C"))
	succeed(t, ctx, store, tracker, p.PipelineUID, "C", execC)

	// Tick 4: C completes, pipeline finalizes OK, no further exec tasks.
	tasks, err = g.Generate(ctx, p)
	if err != nil {
		t.Fatalf("tick4: unexpected error: %v", err)
	}
	if ut := findUpdateTask(tasks, "C"); ut == nil || ut.NewState != pstate.Complete {
		t.Fatalf("tick4: expected C COMPLETE, got %v", tasks)
	}
	finalize := findFinalize(tasks)
	if finalize == nil || finalize.Status.Code != StatusOK {
		t.Fatalf("tick4: expected FinalizePipelineTask(OK), got %v", tasks)
	}
	if findExecTask(tasks) != nil {
		t.Fatalf("tick4: expected no ExecNodeTask once finalizing, got %v", tasks)
	}
}

func TestGenerate_FailureCascade(t *testing.T) {
	ctx := context.Background()
	tracker := newTaskTracker()
	g, store := newTestGenerator(tracker)
	p := linearTestPipeline()

	tasks, err := g.Generate(ctx, p)
	if err != nil {
		t.Fatalf("tick1: unexpected error: %v", err)
	}
	execA := findExecTask(tasks)
	tracker.mark(ExecTaskID(p.PipelineUID, "A"))
	if err := store.UpdateExecutionState(ctx, execA.ExecutionID, mlmd.ExecutionFailed, map[string]string{
		mlmd.ExecutionErrorMsgProperty: "training failed",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tracker.unmark(ExecTaskID(p.PipelineUID, "A"))

	tasks, err = g.Generate(ctx, p)
	if err != nil {
		t.Fatalf("tick2: unexpected error: %v", err)
	}
	ut := findUpdateTask(tasks, "A")
	if ut == nil || ut.NewState != pstate.Failed || ut.Status == nil || ut.Status.Message != "training failed" {
		t.Fatalf("tick2: expected A FAILED with message, got %v", tasks)
	}
	finalize := findFinalize(tasks)
	if finalize == nil || finalize.Status.Code != StatusAborted {
		t.Fatalf("tick2: expected FinalizePipelineTask(ABORTED), got %v", tasks)
	}
	if findExecTask(tasks) != nil {
		t.Fatalf("tick2: expected no ExecNodeTask anywhere once aborted, got %v", tasks)
	}
}

func TestGenerate_StartingRetryBypassesFailure(t *testing.T) {
	ctx := context.Background()
	tracker := newTaskTracker()
	g, store := newTestGenerator(tracker)
	pstateStore := g.PState.(*pstate.MemoryStore)
	p := linearTestPipeline()

	tasks, _ := g.Generate(ctx, p)
	execA := findExecTask(tasks)
	tracker.mark(ExecTaskID(p.PipelineUID, "A"))
	store.UpdateExecutionState(ctx, execA.ExecutionID, mlmd.ExecutionFailed, nil)
	tracker.unmark(ExecTaskID(p.PipelineUID, "A"))

	// An external operator resets the node to STARTING before the next tick.
	if err := pstate.RequestRetry(ctx, pstateStore, p.PipelineUID, "A"); err == nil {
		t.Fatal("expected RequestRetry to fail: node state is not yet recorded as FAILED in pstate")
	}
	// Seed pstate to reflect the failure explicitly, then retry.
	pstateStore.SetNodeState(ctx, p.PipelineUID, "A", pstate.Failed)
	if err := pstate.RequestRetry(ctx, pstateStore, p.PipelineUID, "A"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tasks, err := g.Generate(ctx, p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ut := findUpdateTask(tasks, "A")
	if ut == nil || ut.NewState != pstate.Running {
		t.Fatalf("expected fresh RUNNING for A after STARTING retry, got %v", tasks)
	}
	if findExecTask(tasks) == nil {
		t.Fatalf("expected a fresh ExecNodeTask for A, got %v", tasks)
	}
	if findFinalize(tasks) != nil {
		t.Fatalf("expected no finalize, got %v", tasks)
	}
}

func TestGenerate_PureServiceNodeRunning(t *testing.T) {
	ctx := context.Background()
	tracker := newTaskTracker()
	g, _ := newTestGenerator(tracker)
	sm := g.ServiceManager.(*servicejob.StaticManager)
	sm.Pure["S"] = true
	sm.Statuses["S"] = servicejob.StatusRunning

	p := &pipelineir.Pipeline{
		PipelineUID:   "puid",
		PipelineName:  "p",
		PipelineRunID: "run1",
		ExecutionMode: pipelineir.ExecutionModeSync,
		Nodes:         []*pipelineir.Node{linearNode("S", nil, nil)},
	}

	tasks, err := g.Generate(ctx, p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected exactly one task for a running pure service node, got %v", tasks)
	}
	ut := findUpdateTask(tasks, "S")
	if ut == nil || ut.NewState != pstate.Running {
		t.Fatalf("expected S RUNNING, got %v", tasks)
	}
}

func TestGenerate_CachingEnabled_MissFallsThroughToExec(t *testing.T) {
	ctx := context.Background()
	tracker := newTaskTracker()
	g, store := newTestGenerator(tracker)
	p := linearTestPipeline()
	for _, n := range p.Nodes {
		n.ExecutionOptions.CachingOptions.EnableCache = true
	}

	// Tick 1: A runs and succeeds.
	tasks, _ := g.Generate(ctx, p)
	execA := findExecTask(tasks)
	tracker.mark(ExecTaskID(p.PipelineUID, "A"))
	succeed(t, ctx, store, tracker, p.PipelineUID, "A", execA)

	// B has no prior cached execution, so its cache lookup misses and the
	// tick still falls through to a fresh ExecNodeTask.
	tasks, err := g.Generate(ctx, p)
	if err != nil {
		t.Fatalf("tick2: unexpected error: %v", err)
	}
	if ut := findUpdateTask(tasks, "B"); ut == nil || ut.NewState != pstate.Running {
		t.Fatalf("tick2: expected B RUNNING on cache miss, got %v", tasks)
	}
}

func TestGenerate_CachingEnabled_HitsOnRepeatRun(t *testing.T) {
	ctx := context.Background()
	store := mlmd.NewMemoryStore()

	cachedNodePipeline := func(runID string) *pipelineir.Pipeline {
		node := linearNode("A", nil, nil)
		node.ExecutionOptions.CachingOptions.EnableCache = true
		return &pipelineir.Pipeline{
			PipelineUID:   "puid-" + runID,
			PipelineName:  "p",
			PipelineRunID: runID,
			ExecutionMode: pipelineir.ExecutionModeSync,
			Nodes:         []*pipelineir.Node{node},
		}
	}
	newGenerator := func(tracker *taskTracker) *Generator {
		return &Generator{
			Store:           store,
			PState:          pstate.NewMemoryStore(),
			IsTaskTracked:   tracker.isTracked,
			ServiceManager:  servicejob.NewStaticManager(),
			SuccessfulNodes: snodecache.NewMapCache(),
			CacheEngine:     cache.NewEngine(store),
			Resolver:        alwaysResolve{},
		}
	}

	// run1: A runs for real and succeeds; registering it must tag it with
	// its cache context, not only a hypothetical post-hit republish.
	tracker1 := newTaskTracker()
	g1 := newGenerator(tracker1)
	p1 := cachedNodePipeline("run1")
	tasks, err := g1.Generate(ctx, p1)
	if err != nil {
		t.Fatalf("run1: unexpected error: %v", err)
	}
	execA := findExecTask(tasks)
	if execA == nil {
		t.Fatalf("run1: expected an exec task, got %v", tasks)
	}
	tracker1.mark(ExecTaskID(p1.PipelineUID, "A"))
	succeed(t, ctx, store, tracker1, p1.PipelineUID, "A", execA)

	// run2: a separate pipeline run of the identically-configured node,
	// driven by a fresh generator (fresh pstate, fresh successful-node
	// cache, fresh task tracker — as a new process would start), so it must
	// reach resolveAndEmit's cache lookup rather than any in-memory
	// shortcut. Same node identity, executor spec, inputs and exec
	// properties means the same fingerprint, so this must hit.
	tracker2 := newTaskTracker()
	g2 := newGenerator(tracker2)
	p2 := cachedNodePipeline("run2")
	tasks2, err := g2.Generate(ctx, p2)
	if err != nil {
		t.Fatalf("run2: unexpected error: %v", err)
	}
	if et := findExecTask(tasks2); et != nil {
		t.Fatalf("run2: expected a cache hit with no exec task, got %v", tasks2)
	}
	if ut := findUpdateTask(tasks2, "A"); ut == nil || ut.NewState != pstate.Complete {
		t.Fatalf("run2: expected A COMPLETE via cache hit, got %v", tasks2)
	}
}
