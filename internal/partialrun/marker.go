// Package partialrun rewrites a pipeline IR so only a user-selected
// subgraph executes, and re-publishes the unselected nodes' prior outputs
// under the new pipeline run's contexts.
package partialrun

import (
	"errors"
	"fmt"
	"sort"

	"orchestrator-core/internal/dag"
	"orchestrator-core/internal/pipelineir"
)

// ErrMarkingFailed is the sentinel wrapped by marking validation failures.
var ErrMarkingFailed = errors.New("partialrun: marking failed")

// NodePredicate selects nodes by id.
type NodePredicate func(nodeID string) bool

// MarkPipeline mutates p in place: every node's ExecutionOptions.PartialRun
// is set to run{chief_settings?} or skip{child_in_partial_run}, and exactly
// one kept node is nominated chief.
//
// 1. Validate: SYNC mode, topologically sorted (bidirectional check) — via
// p.Validate().
// 2. fromIDs = {id : fromPred(id)}, toIDs = {id : toPred(id)}.
// 3. toKeep = downstream_reachable(fromIDs) ∩ upstream_reachable(toIDs).
// 4. For each node in toKeep: record each out-of-toKeep upstream reference
// as an excluded direct dependency. Node edge lists are left unchanged, so
// the marked pipeline still passes Validate and the recycler can still see
// what lies downstream of the run nodes.
// 5. Walk nodes in topological order; mark run (first gets chiefSettings)
// or skip (child_in_partial_run iff in excludedDirectDependencies).
func MarkPipeline(p *pipelineir.Pipeline, fromPred, toPred NodePredicate, chiefSettings pipelineir.ChiefSettings) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrMarkingFailed, err)
	}

	nodes := dag.OrderedNodeMap(p)

	var fromIDs, toIDs []string
	for _, n := range p.Nodes {
		if fromPred(n.NodeID) {
			fromIDs = append(fromIDs, n.NodeID)
		}
		if toPred(n.NodeID) {
			toIDs = append(toIDs, n.NodeID)
		}
	}

	downstreamOfFrom := closedSet(fromIDs, dag.DownstreamReachable(nodes, fromIDs))
	upstreamOfTo := closedSet(toIDs, dag.UpstreamReachable(nodes, toIDs))
	toKeep := intersect(downstreamOfFrom, upstreamOfTo)

	excludedDirectDependencies := make(map[string]bool)
	for id := range toKeep {
		for _, up := range nodes[id].UpstreamNodeIDs {
			if !toKeep[up] {
				excludedDirectDependencies[up] = true
			}
		}
	}

	chiefAssigned := false
	for _, n := range p.Nodes {
		if toKeep[n.NodeID] {
			mark := pipelineir.ExecutionOptionsMark{Kind: pipelineir.PartialRunRun}
			if !chiefAssigned {
				cs := chiefSettings
				mark.ChiefSettings = &cs
				chiefAssigned = true
			}
			n.ExecutionOptions.PartialRun = mark
		} else {
			n.ExecutionOptions.PartialRun = pipelineir.ExecutionOptionsMark{
				Kind:              pipelineir.PartialRunSkip,
				ChildInPartialRun: excludedDirectDependencies[n.NodeID],
			}
		}
	}

	return nil
}

// closedSet unions the seed set with the reachable-set map's keys.
func closedSet(seed []string, reachable map[string]*pipelineir.Node) map[string]bool {
	out := make(map[string]bool, len(seed)+len(reachable))
	for _, id := range seed {
		out[id] = true
	}
	for id := range reachable {
		out[id] = true
	}
	return out
}

func intersect(a, b map[string]bool) map[string]bool {
	out := make(map[string]bool)
	for id := range a {
		if b[id] {
			out[id] = true
		}
	}
	return out
}

// KeptNodeIDs returns the sorted node ids currently marked `run` in a
// marked pipeline, for inspection and tests.
func KeptNodeIDs(p *pipelineir.Pipeline) []string {
	var out []string
	for _, n := range p.Nodes {
		if n.ExecutionOptions.PartialRun.Kind == pipelineir.PartialRunRun {
			out = append(out, n.NodeID)
		}
	}
	sort.Strings(out)
	return out
}

// ChiefNodeID returns the id of the node carrying chief_settings, if any.
func ChiefNodeID(p *pipelineir.Pipeline) (string, bool) {
	for _, n := range p.Nodes {
		if n.ExecutionOptions.PartialRun.Kind == pipelineir.PartialRunRun && n.ExecutionOptions.PartialRun.ChiefSettings != nil {
			return n.NodeID, true
		}
	}
	return "", false
}
