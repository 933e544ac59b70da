package taskgen

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"orchestrator-core/internal/cache"
	"orchestrator-core/internal/dag"
	"orchestrator-core/internal/mlmd"
	"orchestrator-core/internal/pipelineir"
	"orchestrator-core/internal/pstate"
	"orchestrator-core/internal/servicejob"
	"orchestrator-core/internal/snodecache"
)

// Logger is the narrow structured-logging dependency the generator needs;
// satisfied by obslog.TaskgenLogger, which adapts a zerolog.Logger.
type Logger interface {
	Info(fields map[string]any, msg string)
	Warn(fields map[string]any, msg string)
}

// Generator is the sync task generator: given a compiled pipeline, the
// current node state, and the durable execution record in the metadata
// store, it decides at each tick which nodes may launch, which are
// complete, which have failed, whether cached outputs may be reused, and
// whether the run as a whole should be finalized.
//
// Not safe for concurrent Generate calls against the same pipeline; the
// caller must serialize ticks per pipeline UID. The embedded singleflight
// group is a defensive guard, not a substitute for that contract.
type Generator struct {
	Store           mlmd.Store
	PState          pstate.Store
	IsTaskTracked   func(taskID string) bool
	ServiceManager  servicejob.Manager
	SuccessfulNodes snodecache.Cache
	CacheEngine     *cache.Engine
	Resolver        InputResolver
	Logger          Logger

	sf singleflight.Group
}

// ExecTaskID derives the stable task-queue identity used by
// IsTaskTracked — a deterministic function of pipeline and node identity,
// independent of any particular execution attempt.
func ExecTaskID(pipelineUID, nodeUID string) string {
	return pipelineUID + "/" + nodeUID
}

// Generate runs exactly one scheduling tick and returns the resulting task
// list per the per-node decision ladder.
func (g *Generator) Generate(ctx context.Context, p *pipelineir.Pipeline) ([]Task, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	// Defensive guard: if the caller's serialization promise in §5 is ever
	// violated, concurrent ticks for the same pipeline collapse into one
	// rather than racing the metadata store.
	result, err, _ := g.sf.Do(p.PipelineUID, func() (any, error) {
		return g.generateLocked(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	return result.([]Task), nil
}

func (g *Generator) generateLocked(ctx context.Context, p *pipelineir.Pipeline) ([]Task, error) {
	layers, err := dag.TopsortedLayers(p)
	if err != nil {
		return nil, err
	}
	terminal := dag.TerminalNodeIDs(layers)

	view, release, err := pstate.Acquire(ctx, g.PState, p.PipelineUID)
	if err != nil {
		return nil, err
	}
	defer release()

	successfulNodeIDs := make(map[string]bool)
	var updateStateTasks []Task
	var execTasks []Task
	var finalize *FinalizePipelineTask

layerLoop:
	for _, layer := range layers {
		for _, node := range layer {
			d := g.decideNode(ctx, view, p, node, successfulNodeIDs)
			updateStateTasks = append(updateStateTasks, d.stateTasks...)
			if d.execTask != nil {
				execTasks = append(execTasks, *d.execTask)
			}
			if d.successful {
				successfulNodeIDs[node.NodeID] = true
			}
			if d.finalize != nil {
				finalize = d.finalize
				break layerLoop
			}
		}
		for _, node := range layer {
			if successfulNodeIDs[node.NodeID] {
				g.SuccessfulNodes.Put(snodecache.Key{PipelineRunID: p.PipelineRunID, NodeUID: node.NodeID})
			}
		}
	}

	if finalize == nil {
		allTerminalSuccessful := true
		for id := range terminal {
			if !successfulNodeIDs[id] {
				allTerminalSuccessful = false
				break
			}
		}
		if allTerminalSuccessful && len(terminal) > 0 {
			finalize = &FinalizePipelineTask{PipelineUID: p.PipelineUID, Status: Status{Code: StatusOK}}
		}
	}

	if finalize != nil {
		return append(updateStateTasks, *finalize), nil
	}
	return append(updateStateTasks, execTasks...), nil
}

type decision struct {
	stateTasks []Task
	execTask   *ExecNodeTask
	finalize   *FinalizePipelineTask
	successful bool
}

// decideNode implements the per-node decision ladder, steps 1-7, first
// match wins.
func (g *Generator) decideNode(ctx context.Context, view *pstate.View, p *pipelineir.Pipeline, node *pipelineir.Node, successfulNodeIDs map[string]bool) decision {
	// Step 1: known successful.
	if g.SuccessfulNodes.Get(snodecache.Key{PipelineRunID: p.PipelineRunID, NodeUID: node.NodeID}) {
		return decision{successful: true}
	}

	// Step 2: upstream not ready.
	for _, up := range node.UpstreamNodeIDs {
		if !successfulNodeIDs[up] {
			return decision{}
		}
	}

	// Step 3: STOPPING / STOPPED.
	state, err := view.NodeState(ctx, node.NodeID)
	if err == nil && (state == pstate.Stopping || state == pstate.Stopped) {
		if g.Logger != nil {
			g.Logger.Info(map[string]any{"pipeline_uid": p.PipelineUID, "node_id": node.NodeID}, "node is stopping/stopped, emitting nothing")
		}
		return decision{}
	}

	// Step 4: pure service node.
	if g.ServiceManager != nil {
		isPure, err := g.ServiceManager.IsPureServiceNode(ctx, nil, node.NodeID)
		if err == nil && isPure {
			return g.decidePureServiceNode(ctx, p, node)
		}
	}

	// Step 5: already tracked in the task queue.
	taskID := ExecTaskID(p.PipelineUID, node.NodeID)
	if g.IsTaskTracked != nil && g.IsTaskTracked(taskID) {
		return g.decideAlreadyTracked(ctx, p, node)
	}

	// Step 6: latest execution wins.
	if d, handled := g.decideLatestExecution(ctx, p, node, state); handled {
		return d
	}

	// Step 7: fresh resolution.
	return g.resolveAndEmit(ctx, p, node)
}

func (g *Generator) decidePureServiceNode(ctx context.Context, p *pipelineir.Pipeline, node *pipelineir.Node) decision {
	status, err := g.ServiceManager.EnsureNodeServices(ctx, nil, node.NodeID)
	if err != nil {
		return decision{}
	}
	switch status {
	case servicejob.StatusFailed:
		return decision{
			stateTasks: []Task{
				UpdateNodeStateTask{NodeUID: node.NodeID, NewState: pstate.Failed, Status: &Status{Code: StatusAborted, Message: "service job failed"}},
			},
			finalize: &FinalizePipelineTask{PipelineUID: p.PipelineUID, Status: Status{Code: StatusAborted, Message: "service job failed"}},
		}
	case servicejob.StatusSuccess:
		return decision{
			stateTasks: []Task{UpdateNodeStateTask{NodeUID: node.NodeID, NewState: pstate.Complete}},
			successful: true,
		}
	default: // RUNNING
		return decision{stateTasks: []Task{UpdateNodeStateTask{NodeUID: node.NodeID, NewState: pstate.Running}}}
	}
}

func (g *Generator) decideAlreadyTracked(ctx context.Context, p *pipelineir.Pipeline, node *pipelineir.Node) decision {
	if g.ServiceManager != nil {
		isMixed, err := g.ServiceManager.IsMixedServiceNode(ctx, nil, node.NodeID)
		if err == nil && isMixed {
			status, err := g.ServiceManager.EnsureNodeServices(ctx, nil, node.NodeID)
			if err == nil && status == servicejob.StatusFailed {
				return decision{
					stateTasks: []Task{
						UpdateNodeStateTask{NodeUID: node.NodeID, NewState: pstate.Failed, Status: &Status{Code: StatusAborted, Message: "service job failed"}},
					},
					finalize: &FinalizePipelineTask{PipelineUID: p.PipelineUID, Status: Status{Code: StatusAborted, Message: "service job failed"}},
				}
			}
		}
	}
	return decision{}
}

func (g *Generator) decideLatestExecution(ctx context.Context, p *pipelineir.Pipeline, node *pipelineir.Node, nodeState pstate.NodeState) (decision, bool) {
	nodeCtx, err := g.Store.GetOrCreateContext(ctx, mlmd.ContextNode, mlmd.NodeContextName(p.PipelineName, node.NodeID))
	if err != nil {
		return decision{}, false
	}
	runCtx, err := g.Store.GetOrCreateContext(ctx, mlmd.ContextPipelineRun, mlmd.PipelineRunContextName(p.PipelineName, p.PipelineRunID))
	if err != nil {
		return decision{}, false
	}

	executions, err := g.Store.ExecutionsByNodeContexts(ctx, []string{nodeCtx.ID, runCtx.ID})
	if err != nil || len(executions) == 0 {
		return decision{}, false
	}
	latest := executions[0] // ExecutionsByNodeContexts returns most-recent-first.

	if latest.LastKnownState.IsSuccessful() {
		return decision{
			stateTasks: []Task{UpdateNodeStateTask{NodeUID: node.NodeID, NewState: pstate.Complete}},
			successful: true,
		}, true
	}

	if latest.LastKnownState.IsTerminalNonSuccessful() && nodeState != pstate.Starting {
		msg, _ := latest.ErrorMsg()
		return decision{
			stateTasks: []Task{
				UpdateNodeStateTask{NodeUID: node.NodeID, NewState: pstate.Failed, Status: &Status{Code: StatusAborted, Message: msg}},
			},
			finalize: &FinalizePipelineTask{PipelineUID: p.PipelineUID, Status: Status{Code: StatusAborted, Message: msg}},
		}, true
	}

	if latest.LastKnownState.IsActive() {
		return decision{
			stateTasks: []Task{UpdateNodeStateTask{NodeUID: node.NodeID, NewState: pstate.Running}},
			execTask:   rebuildExecTask(p, node, latest, nodeCtx, runCtx),
		}, true
	}

	return decision{}, false
}

func rebuildExecTask(p *pipelineir.Pipeline, node *pipelineir.Node, exec mlmd.Execution, nodeCtx, runCtx mlmd.Context) *ExecNodeTask {
	return &ExecNodeTask{
		NodeUID:     node.NodeID,
		ExecutionID: exec.ID,
		ContextIDs:  []string{nodeCtx.ID, runCtx.ID},
		PipelineRef: PipelineRef{PipelineUID: p.PipelineUID, PipelineName: p.PipelineName, PipelineRunID: p.PipelineRunID},
	}
}

// resolveAndEmit implements step 7, the fresh-resolution path.
func (g *Generator) resolveAndEmit(ctx context.Context, p *pipelineir.Pipeline, node *pipelineir.Node) decision {
	resolved, err := g.Resolver.Resolve(ctx, p, node)
	if err != nil {
		return decision{
			stateTasks: []Task{
				UpdateNodeStateTask{NodeUID: node.NodeID, NewState: pstate.Failed, Status: &Status{Code: StatusAborted, Message: err.Error()}},
			},
			finalize: &FinalizePipelineTask{PipelineUID: p.PipelineUID, Status: Status{Code: StatusAborted, Message: err.Error()}},
		}
	}
	if resolved == nil {
		return decision{
			stateTasks: []Task{UpdateNodeStateTask{NodeUID: node.NodeID, NewState: pstate.Skipped}},
			successful: true,
		}
	}

	nodeCtx, err := g.Store.GetOrCreateContext(ctx, mlmd.ContextNode, mlmd.NodeContextName(p.PipelineName, node.NodeID))
	if err != nil {
		return g.failNode(p, node, err)
	}
	runCtx, err := g.Store.GetOrCreateContext(ctx, mlmd.ContextPipelineRun, mlmd.PipelineRunContextName(p.PipelineName, p.PipelineRunID))
	if err != nil {
		return g.failNode(p, node, err)
	}

	exec, err := g.Store.RegisterExecution(ctx, mlmd.NewExecutionSpec{
		ExecutionType:  node.ExecutionType,
		ContextIDs:     []string{nodeCtx.ID, runCtx.ID},
		InputArtifacts: resolved.Artifacts,
		ExecProperties: resolved.ExecProperties,
	})
	if err != nil {
		return g.failNode(p, node, err)
	}

	outputs := generateOutputDescriptors(p, node, exec)

	// The fingerprint is computed from the node's output *keys*, not this
	// execution's own output URIs (which embed exec.ID and so would never
	// repeat) — otherwise no two executions of the same node could ever
	// fingerprint alike and Tag below would be pointless.
	executorSpec, _ := p.ExecutorSpecFor(node.NodeID)
	info := mlmd.PipelineInfo{PipelineName: p.PipelineName, PipelineRunID: p.PipelineRunID}
	fp := cache.Compute(node, info, executorSpec, resolved.Artifacts, cacheOutputDescriptors(node), resolved.ExecProperties)

	// Tag this execution with its cache context unconditionally, whether or
	// not caching is enabled for this node and whether or not this tick
	// happens to hit: it's the only way a future tick's Lookup can ever find
	// it once it succeeds.
	_ = g.CacheEngine.Tag(ctx, fp, exec.ID)

	if node.ExecutionOptions.CachingOptions.EnableCache {
		cachedOutputs, err := g.CacheEngine.Lookup(ctx, fp)
		if err == nil {
			_, publishErr := g.CacheEngine.Publish(ctx, fp, node.ExecutionType, []string{nodeCtx.ID, runCtx.ID}, cachedOutputs)
			if publishErr == nil {
				return decision{
					stateTasks: []Task{UpdateNodeStateTask{NodeUID: node.NodeID, NewState: pstate.Complete}},
					successful: true,
				}
			}
		}
	}

	if g.ServiceManager != nil {
		isMixed, err := g.ServiceManager.IsMixedServiceNode(ctx, nil, node.NodeID)
		if err == nil && isMixed {
			status, err := g.ServiceManager.EnsureNodeServices(ctx, nil, node.NodeID)
			if err == nil && status == servicejob.StatusFailed {
				return decision{
					stateTasks: []Task{
						UpdateNodeStateTask{NodeUID: node.NodeID, NewState: pstate.Failed, Status: &Status{Code: StatusAborted, Message: "service job failed"}},
					},
					finalize: &FinalizePipelineTask{PipelineUID: p.PipelineUID, Status: Status{Code: StatusAborted, Message: "service job failed"}},
				}
			}
		}
	}

	return decision{
		stateTasks: []Task{UpdateNodeStateTask{NodeUID: node.NodeID, NewState: pstate.Running}},
		execTask: &ExecNodeTask{
			NodeUID:            node.NodeID,
			ExecutionID:        exec.ID,
			ContextIDs:         []string{nodeCtx.ID, runCtx.ID},
			InputArtifacts:     resolved.Artifacts,
			OutputArtifacts:    outputs,
			ExecutorOutputURI:  fmt.Sprintf("%s/%s/%s/executor_output", p.PipelineName, node.NodeID, exec.ID),
			StatefulWorkingDir: fmt.Sprintf("%s/%s/%s/stateful_working_dir", p.PipelineName, node.NodeID, exec.ID),
			PipelineRef:        PipelineRef{PipelineUID: p.PipelineUID, PipelineName: p.PipelineName, PipelineRunID: p.PipelineRunID},
		},
	}
}

func (g *Generator) failNode(p *pipelineir.Pipeline, node *pipelineir.Node, err error) decision {
	return decision{
		stateTasks: []Task{
			UpdateNodeStateTask{NodeUID: node.NodeID, NewState: pstate.Failed, Status: &Status{Code: StatusAborted, Message: err.Error()}},
		},
		finalize: &FinalizePipelineTask{PipelineUID: p.PipelineUID, Status: Status{Code: StatusAborted, Message: err.Error()}},
	}
}

func generateOutputDescriptors(p *pipelineir.Pipeline, node *pipelineir.Node, exec mlmd.Execution) []mlmd.ArtifactRef {
	return []mlmd.ArtifactRef{
		{
			Key: "output",
			Artifact: mlmd.Artifact{
				ID:  exec.ID + "/output",
				URI: fmt.Sprintf("%s/%s/%s/output", p.PipelineName, node.NodeID, exec.ID),
			},
		},
	}
}

// cacheOutputDescriptors returns the node's output keys with no
// execution-specific identity: only the key, not a concrete artifact URI,
// participates in the cache fingerprint, so that two executions of the same
// node with the same inputs and exec properties fingerprint identically
// regardless of which execution ids produced them.
func cacheOutputDescriptors(_ *pipelineir.Node) []mlmd.ArtifactRef {
	return []mlmd.ArtifactRef{{Key: "output"}}
}
