package pipelineir

// Validate checks the structural invariants the task generator and the
// partial-run marker both rely on: SYNC execution mode, no sub-pipeline
// nodes (this core has no sub-pipeline node variant to begin with, so no
// check is made for them), and a topologically sorted node
// sequence with symmetric upstream/downstream references.
func (p *Pipeline) Validate() error {
	if p == nil {
		return invalidf("nil pipeline")
	}
	if p.ExecutionMode != ExecutionModeSync {
		return invalidf("pipeline execution_mode must be SYNC, got %q", p.ExecutionMode)
	}
	if err := p.validateTopologicalOrder(); err != nil {
		return err
	}
	if err := p.validateSymmetricEdges(); err != nil {
		return err
	}
	return nil
}

// validateTopologicalOrder checks, independently in each direction, that
// every referenced id appears on the correct side of the referencing node in
// IR order. This mirrors the bidirectional check the original implementation
// performs rather than relying on a single reachability pass.
func (p *Pipeline) validateTopologicalOrder() error {
	seenBefore := make(map[string]bool, len(p.Nodes))
	for _, n := range p.Nodes {
		for _, up := range n.UpstreamNodeIDs {
			if !seenBefore[up] {
				return invalidf(
					"pipeline is not topologically sorted: node %q has upstream %q that does not appear before it",
					n.NodeID, up)
			}
		}
		seenBefore[n.NodeID] = true
	}

	seenAfter := make(map[string]bool, len(p.Nodes))
	for i := len(p.Nodes) - 1; i >= 0; i-- {
		n := p.Nodes[i]
		for _, down := range n.DownstreamNodeIDs {
			if !seenAfter[down] {
				return invalidf(
					"pipeline is not topologically sorted: node %q has downstream %q that does not appear after it",
					n.NodeID, down)
			}
		}
		seenAfter[n.NodeID] = true
	}
	return nil
}

// validateSymmetricEdges checks that upstream/downstream references agree:
// if A lists B as downstream, B must list A as upstream, and vice versa.
func (p *Pipeline) validateSymmetricEdges() error {
	upstreamOf := make(map[string]map[string]bool, len(p.Nodes))
	downstreamOf := make(map[string]map[string]bool, len(p.Nodes))
	for _, n := range p.Nodes {
		upstreamOf[n.NodeID] = toSet(n.UpstreamNodeIDs)
		downstreamOf[n.NodeID] = toSet(n.DownstreamNodeIDs)
	}
	for _, n := range p.Nodes {
		for _, down := range n.DownstreamNodeIDs {
			if !upstreamOf[down][n.NodeID] {
				return invalidf(
					"asymmetric edge: %q lists %q as downstream, but %q does not list %q as upstream",
					n.NodeID, down, down, n.NodeID)
			}
		}
		for _, up := range n.UpstreamNodeIDs {
			if !downstreamOf[up][n.NodeID] {
				return invalidf(
					"asymmetric edge: %q lists %q as upstream, but %q does not list %q as downstream",
					n.NodeID, up, up, n.NodeID)
			}
		}
	}
	return nil
}

func toSet(ids []string) map[string]bool {
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}
