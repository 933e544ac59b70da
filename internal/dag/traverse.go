package dag

import (
	"container/heap"

	"orchestrator-core/internal/pipelineir"
)

// Direction selects which edge set Traverse follows.
type Direction int

const (
	// Upstream follows a node's UpstreamNodeIDs.
	Upstream Direction = iota
	// Downstream follows a node's DownstreamNodeIDs.
	Downstream
)

// Traverse returns every node reachable from start (exclusive of start
// itself) by repeatedly following the given direction's edges, visited in
// deterministic lexical node-id order. Grounded on the teacher's downstreamReachable,
// generalized to pipeline-IR nodes and to either edge direction.
func Traverse(nodes map[string]*pipelineir.Node, direction Direction, start []string) map[string]*pipelineir.Node {
	out := make(map[string]*pipelineir.Node)
	visited := make(map[string]bool, len(start))
	for _, id := range start {
		visited[id] = true
	}

	queue := &stringMinHeap{}
	heap.Init(queue)
	for _, id := range start {
		heap.Push(queue, id)
	}

	for queue.Len() > 0 {
		id := heap.Pop(queue).(string)
		n, ok := nodes[id]
		if !ok {
			continue
		}
		var neighbors []string
		if direction == Upstream {
			neighbors = n.UpstreamNodeIDs
		} else {
			neighbors = n.DownstreamNodeIDs
		}
		for _, next := range neighbors {
			if visited[next] {
				continue
			}
			visited[next] = true
			if nn, ok := nodes[next]; ok {
				out[next] = nn
			}
			heap.Push(queue, next)
		}
	}
	return out
}

// UpstreamReachable returns every ancestor of the given node ids.
func UpstreamReachable(nodes map[string]*pipelineir.Node, ids []string) map[string]*pipelineir.Node {
	return Traverse(nodes, Upstream, ids)
}

// DownstreamReachable returns every descendant of the given node ids.
func DownstreamReachable(nodes map[string]*pipelineir.Node, ids []string) map[string]*pipelineir.Node {
	return Traverse(nodes, Downstream, ids)
}

type stringMinHeap []string

func (h stringMinHeap) Len() int           { return len(h) }
func (h stringMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h stringMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *stringMinHeap) Push(x any)        { *h = append(*h, x.(string)) }
func (h *stringMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
