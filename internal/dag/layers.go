package dag

import (
	"container/heap"

	"orchestrator-core/internal/pipelineir"
)

// Layers is the result of topologically layering a pipeline: Layers[0] holds
// every root (no upstream) node, Layers[k] holds every node whose upstreams
// are all contained in Layers[0..k-1] and at least one of which is in
// Layers[k-1]. Order within a layer follows IR order.
type Layers [][]*pipelineir.Node

// TopsortedLayers computes the layered topological ordering of a pipeline's
// nodes, grounded on the original implementation's `_topsorted_layers`: each
// node's layer is one more than the maximum layer among its upstreams.
//
// Returns a *dag.GraphError wrapping ErrCycleFound if the node references do
// not form a DAG.
func TopsortedLayers(p *pipelineir.Pipeline) (Layers, error) {
	if p == nil || len(p.Nodes) == 0 {
		return nil, nil
	}

	indexOf := make(map[string]int, len(p.Nodes))
	for i, n := range p.Nodes {
		indexOf[n.NodeID] = i
	}

	indeg := make([]int, len(p.Nodes))
	outgoing := make([][]int, len(p.Nodes))
	for i, n := range p.Nodes {
		for _, up := range n.UpstreamNodeIDs {
			upIdx, ok := indexOf[up]
			if !ok {
				return nil, invalidf("node %q references unknown upstream %q", n.NodeID, up)
			}
			outgoing[upIdx] = append(outgoing[upIdx], i)
			indeg[i]++
		}
	}

	layerOf := make([]int, len(p.Nodes))
	for i := range layerOf {
		layerOf[i] = -1
	}

	// Kahn's algorithm with a deterministic min-heap ready queue, the same
	// technique the scheduler-graph used for acyclicity proof: a heap over
	// canonical (here, IR) index keeps the traversal order independent of map
	// iteration.
	remaining := make([]int, len(indeg))
	copy(remaining, indeg)

	ready := &intMinHeap{}
	heap.Init(ready)
	for i, d := range remaining {
		if d == 0 {
			heap.Push(ready, i)
			layerOf[i] = 0
		}
	}

	visited := 0
	for ready.Len() > 0 {
		u := heap.Pop(ready).(int)
		visited++
		for _, v := range outgoing[u] {
			if layerOf[u]+1 > layerOf[v] {
				layerOf[v] = layerOf[u] + 1
			}
			remaining[v]--
			if remaining[v] == 0 {
				heap.Push(ready, v)
			}
		}
	}

	if visited != len(p.Nodes) {
		return nil, cycleError(findCycleWitness(p, outgoing, remaining))
	}

	maxLayer := 0
	for _, l := range layerOf {
		if l > maxLayer {
			maxLayer = l
		}
	}

	layers := make(Layers, maxLayer+1)
	for i, n := range p.Nodes {
		layers[layerOf[i]] = append(layers[layerOf[i]], n)
	}
	return layers, nil
}

// TerminalNodeIDs returns the set of node ids with no downstream nodes,
// across all layers.
func TerminalNodeIDs(layers Layers) map[string]struct{} {
	out := make(map[string]struct{})
	for _, layer := range layers {
		for _, n := range layer {
			if len(n.DownstreamNodeIDs) == 0 {
				out[n.NodeID] = struct{}{}
			}
		}
	}
	return out
}

// OrderedNodeMap indexes p's nodes by node id. The result is a plain Go map
// and does not keep IR order when iterated; callers that need IR order walk
// p.Nodes and use the map only for lookups.
func OrderedNodeMap(p *pipelineir.Pipeline) map[string]*pipelineir.Node {
	out := make(map[string]*pipelineir.Node, len(p.Nodes))
	for _, n := range p.Nodes {
		out[n.NodeID] = n
	}
	return out
}

type intMinHeap []int

func (h intMinHeap) Len() int           { return len(h) }
func (h intMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// findCycleWitness extracts one cycle path for error reporting once Kahn's
// algorithm in TopsortedLayers has stalled: remaining[i] > 0 marks every
// node it could never clear, the residual subgraph a cycle must live in.
// From each residual node in turn, it walks forward along residual edges,
// recording the path, until either a dead end (this node was only blocked
// by an already-resolved predecessor elsewhere, not actually on a cycle —
// move on to the next residual start) or a node repeats, which closes the
// loop.
func findCycleWitness(p *pipelineir.Pipeline, outgoing [][]int, remaining []int) []string {
	for start, left := range remaining {
		if left == 0 {
			continue
		}

		path := []int{start}
		pathPos := map[int]int{start: 0}
		cur := start
		for {
			next := -1
			for _, v := range outgoing[cur] {
				if remaining[v] > 0 {
					next = v
					break
				}
			}
			if next == -1 {
				break // dead end; try the next residual start
			}
			if pos, onPath := pathPos[next]; onPath {
				loop := path[pos:]
				out := make([]string, len(loop)+1)
				for i, idx := range loop {
					out[i] = p.Nodes[idx].NodeID
				}
				out[len(loop)] = p.Nodes[loop[0]].NodeID
				return out
			}
			pathPos[next] = len(path)
			path = append(path, next)
			cur = next
		}
	}
	return nil
}
