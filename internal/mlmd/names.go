package mlmd

// Context naming is a deterministic function of pipeline identity, per §6 of
// the distilled spec ("Node context name is a deterministic function of
// (pipeline_name, node_id)"). These are the canonical name builders both
// Store implementations and callers use — never construct a context name ad
// hoc elsewhere.

// PipelineContextName names the one context shared by every run of a
// pipeline.
func PipelineContextName(pipelineName string) string {
	return pipelineName
}

// PipelineRunContextName names the context scoped to a single run.
func PipelineRunContextName(pipelineName, pipelineRunID string) string {
	return pipelineName + "/" + pipelineRunID
}

// NodeContextName names the context scoped to one node across all runs of a
// pipeline.
func NodeContextName(pipelineName, nodeID string) string {
	return pipelineName + "." + nodeID
}
