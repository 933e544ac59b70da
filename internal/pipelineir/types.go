// Package pipelineir defines the compile-time pipeline IR: the read-only DAG
// description produced by the compiler and consumed by the task generator and
// the partial-run marker.
package pipelineir

// ExecutionMode is the pipeline-wide execution mode. Only SYNC is supported
// by this core; ASYNC pipelines are an explicit non-goal.
type ExecutionMode string

const (
	ExecutionModeUnspecified ExecutionMode = ""
	ExecutionModeSync        ExecutionMode = "SYNC"
	ExecutionModeAsync       ExecutionMode = "ASYNC"
)

// PartialRunMarkKind is the variant tag for a node's partial-run marker.
type PartialRunMarkKind string

const (
	PartialRunUnset PartialRunMarkKind = ""
	PartialRunRun   PartialRunMarkKind = "run"
	PartialRunSkip  PartialRunMarkKind = "skip"
)

// ChiefStrategy selects how the chief node resolves the base run when
// recycling artifacts for a partial run.
type ChiefStrategy string

const (
	ChiefStrategyUnspecified      ChiefStrategy = ""
	ChiefStrategyLatestPipelineRun ChiefStrategy = "latest_pipeline_run"
	ChiefStrategyBasePipelineRun   ChiefStrategy = "base_pipeline_run"
)

// ChiefSettings is attached to exactly one `run`-marked node in a partially
// marked pipeline: the node responsible for the one-time artifact-recycling
// snapshot.
type ChiefSettings struct {
	Strategy  ChiefStrategy
	BaseRunID string // only meaningful when Strategy == ChiefStrategyBasePipelineRun
}

// DefaultChiefSettings mirrors the original implementation's default: reuse
// the most recent prior pipeline run as the base.
func DefaultChiefSettings() ChiefSettings {
	return ChiefSettings{Strategy: ChiefStrategyLatestPipelineRun}
}

// ExecutionOptionsMark is the partial-run annotation on a node's
// ExecutionOptions: unset, run{chief_settings?}, or skip{child_in_partial_run}.
type ExecutionOptionsMark struct {
	Kind PartialRunMarkKind

	// ChiefSettings is set only when Kind == PartialRunRun and this node was
	// nominated as chief. At most one node per marked pipeline carries it.
	ChiefSettings *ChiefSettings

	// ChildInPartialRun is set only when Kind == PartialRunSkip: true iff this
	// skipped node is a direct upstream dependency of a node that is running.
	ChildInPartialRun bool
}

// CachingOptions controls whether a node's outputs are eligible for cache
// reuse.
type CachingOptions struct {
	EnableCache bool
}

// ExecutionOptions bundles a node's caching and partial-run configuration.
type ExecutionOptions struct {
	CachingOptions CachingOptions
	PartialRun     ExecutionOptionsMark
}

// PackedConfig is an opaque, tagged byte buffer standing in for an
// any-packed proto field (executor spec, driver spec, platform config). The
// core never interprets Value; it only hashes it (cache fingerprinting) and
// forwards it verbatim to external collaborators.
type PackedConfig struct {
	TypeURL string
	Value   []byte
}

// Channel references one producer node's output as an input source.
type Channel struct {
	ProducerNodeID string
	OutputKey      string
}

// InputSpec maps an input name to the set of channels that may satisfy it.
type InputSpec struct {
	Name     string
	Channels []Channel
}

// Node is a single vertex in the pipeline DAG.
type Node struct {
	NodeID       string
	ExecutionType string

	UpstreamNodeIDs   []string
	DownstreamNodeIDs []string

	Inputs []InputSpec

	ExecutionOptions ExecutionOptions

	// ExecutorSpec is this node's packed executor descriptor, if the pipeline
	// carries a deployment config entry for it.
	ExecutorSpec *PackedConfig

	// ExecParams are the node's compiled-in exec properties (resolved
	// parameter values), passed straight through to the registered execution
	// and the cache fingerprint. The compiler is responsible for any
	// placeholder resolution; this core treats the values as opaque strings.
	ExecParams map[string]string
}

// DeploymentConfig holds the optional packed executor/driver/platform specs,
// keyed by node id.
type DeploymentConfig struct {
	ExecutorSpecs             map[string]PackedConfig
	CustomDriverSpecs         map[string]PackedConfig
	NodeLevelPlatformConfigs  map[string]PackedConfig
}

// RuntimeSpec carries runtime-resolved parameters, notably the pipeline run
// id once it has been bound.
type RuntimeSpec struct {
	PipelineRunID string
}

// Pipeline is the compiled, read-only pipeline IR: an ordered sequence of
// nodes plus pipeline-level metadata.
type Pipeline struct {
	PipelineUID   string
	PipelineName  string
	PipelineRunID string
	ExecutionMode ExecutionMode

	// Nodes is in IR order: every node's upstreams appear earlier in this
	// slice and every downstream appears later (topological order).
	Nodes []*Node

	DeploymentConfig *DeploymentConfig
	RuntimeSpec      RuntimeSpec
}

// NodeByID returns the node with the given id, if present.
func (p *Pipeline) NodeByID(id string) (*Node, bool) {
	for _, n := range p.Nodes {
		if n.NodeID == id {
			return n, true
		}
	}
	return nil, false
}

// ExecutorSpecFor returns the packed executor spec for a node, looking it up
// first on the node itself, then falling back to the pipeline's deployment
// config by node id (matching how the original IR packs per-node specs
// separately from the node message).
func (p *Pipeline) ExecutorSpecFor(nodeID string) (PackedConfig, bool) {
	if n, ok := p.NodeByID(nodeID); ok && n.ExecutorSpec != nil {
		return *n.ExecutorSpec, true
	}
	if p.DeploymentConfig == nil {
		return PackedConfig{}, false
	}
	spec, ok := p.DeploymentConfig.ExecutorSpecs[nodeID]
	return spec, ok
}
