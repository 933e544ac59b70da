package taskgen

import (
	"context"

	"orchestrator-core/internal/mlmd"
	"orchestrator-core/internal/pipelineir"
)

// ChannelResolver is the reference InputResolver: it resolves each input's
// channel list against the metadata store by finding the producer node's
// most recent successful execution within the same pipeline run and pulling
// the artifact published under the requested output key. Pipelines with a
// richer channel model (latest-blessed, span-based rolling windows) need
// their own InputResolver; this one only walks the direct producer/consumer
// edges the IR already carries.
type ChannelResolver struct {
	Store mlmd.Store
}

var _ InputResolver = (*ChannelResolver)(nil)

// Resolve implements InputResolver. A node with no Inputs resolves to an
// empty artifact set (a root node). A node where every InputSpec is
// satisfied by at least one channel resolves to the concatenation of all
// matched artifacts; if any InputSpec has no channel with a satisfying
// artifact, Resolve returns (nil, nil) — the node is SKIPPED, mirroring the
// reference generate_resolved_info's None return.
func (r *ChannelResolver) Resolve(ctx context.Context, p *pipelineir.Pipeline, node *pipelineir.Node) (*ResolvedInputs, error) {
	var artifacts []mlmd.ArtifactRef

	for _, input := range node.Inputs {
		refs, err := r.resolveInput(ctx, p, input)
		if err != nil {
			return nil, err
		}
		if refs == nil {
			return nil, nil
		}
		artifacts = append(artifacts, refs...)
	}

	return &ResolvedInputs{Artifacts: artifacts, ExecProperties: node.ExecParams}, nil
}

// resolveInput tries each channel in order, first satisfying match wins. A
// nil, nil return means no channel produced an artifact for this input.
func (r *ChannelResolver) resolveInput(ctx context.Context, p *pipelineir.Pipeline, input pipelineir.InputSpec) ([]mlmd.ArtifactRef, error) {
	for _, ch := range input.Channels {
		refs, err := r.resolveChannel(ctx, p, ch, input.Name)
		if err != nil {
			return nil, err
		}
		if refs != nil {
			return refs, nil
		}
	}
	return nil, nil
}

func (r *ChannelResolver) resolveChannel(ctx context.Context, p *pipelineir.Pipeline, ch pipelineir.Channel, inputName string) ([]mlmd.ArtifactRef, error) {
	producerCtx, err := r.Store.GetOrCreateContext(ctx, mlmd.ContextNode, mlmd.NodeContextName(p.PipelineName, ch.ProducerNodeID))
	if err != nil {
		return nil, err
	}
	runCtx, err := r.Store.GetOrCreateContext(ctx, mlmd.ContextPipelineRun, mlmd.PipelineRunContextName(p.PipelineName, p.PipelineRunID))
	if err != nil {
		return nil, err
	}

	executions, err := r.Store.ExecutionsByNodeContexts(ctx, []string{producerCtx.ID, runCtx.ID})
	if err != nil {
		return nil, err
	}

	for _, exec := range executions {
		if !exec.LastKnownState.IsSuccessful() {
			continue
		}
		outputs, err := r.Store.OutputArtifactsForExecution(ctx, exec.ID)
		if err != nil {
			return nil, err
		}
		for _, out := range outputs {
			if out.Key != ch.OutputKey {
				continue
			}
			return []mlmd.ArtifactRef{{Key: inputName, Artifact: out.Artifact}}, nil
		}
	}
	return nil, nil
}
