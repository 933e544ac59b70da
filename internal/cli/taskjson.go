package cli

import (
	"encoding/json"

	"orchestrator-core/internal/taskgen"
)

// taskEnvelope is the JSON wire shape for one emitted task: a discriminant
// "kind" string plus the variant's own fields, since taskgen.Task is a
// sealed interface with no exported discriminant field of its own.
type taskEnvelope struct {
	Kind    string `json:"kind"`
	Payload any    `json:"payload"`
}

func kindName(k taskgen.TaskKind) string {
	switch k {
	case taskgen.KindUpdateNodeState:
		return "update_node_state"
	case taskgen.KindExecNode:
		return "exec_node"
	case taskgen.KindFinalizePipeline:
		return "finalize_pipeline"
	default:
		return "unknown"
	}
}

// MarshalTasks renders a tick's emitted tasks as an indented JSON array of
// envelopes, in emission order.
func MarshalTasks(tasks []taskgen.Task) ([]byte, error) {
	envelopes := make([]taskEnvelope, len(tasks))
	for i, t := range tasks {
		envelopes[i] = taskEnvelope{Kind: kindName(t.Kind()), Payload: t}
	}
	return json.MarshalIndent(envelopes, "", "  ")
}
