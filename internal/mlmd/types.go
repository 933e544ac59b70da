// Package mlmd is the metadata store adapter: typed read/write of contexts,
// executions, and artifacts, backed by a single-file SQLite database in
// production and a plain in-memory map in tests.
package mlmd

// ExecutionState is an execution's last known state.
type ExecutionState string

const (
	ExecutionActive     ExecutionState = "active"
	ExecutionSuccessful ExecutionState = "successful"
	ExecutionFailed     ExecutionState = "failed"
	ExecutionCancelled  ExecutionState = "cancelled"
	ExecutionCached     ExecutionState = "cached"
)

// IsActive reports whether an execution in this state is still in flight.
func (s ExecutionState) IsActive() bool {
	return s == ExecutionActive
}

// IsSuccessful reports whether an execution in this state counts as a
// successful completion (cached executions count).
func (s ExecutionState) IsSuccessful() bool {
	return s == ExecutionSuccessful || s == ExecutionCached
}

// IsTerminalNonSuccessful reports whether an execution in this state is
// finished but not successful.
func (s ExecutionState) IsTerminalNonSuccessful() bool {
	return s == ExecutionFailed || s == ExecutionCancelled
}

// ContextType is one of the three context kinds the core cares about.
type ContextType string

const (
	ContextPipeline    ContextType = "pipeline"
	ContextPipelineRun ContextType = "pipeline_run"
	ContextNode        ContextType = "node"
)

// Context is a typed named entity.
type Context struct {
	ID   string
	Type ContextType
	Name string
}

// ExecutionErrorMsgProperty is the custom-property key carrying the
// user-visible failure message.
const ExecutionErrorMsgProperty = "__execution_error_msg__"

// Execution is a durable record of one attempt to run a node.
type Execution struct {
	ID               string
	ExecutionType    string
	LastKnownState   ExecutionState
	CustomProperties map[string]string
	ContextIDs       []string
}

// ErrorMsg returns the user-visible failure message, if set.
func (e *Execution) ErrorMsg() (string, bool) {
	if e == nil || e.CustomProperties == nil {
		return "", false
	}
	msg, ok := e.CustomProperties[ExecutionErrorMsgProperty]
	return msg, ok
}

// Artifact is a typed output of an execution.
type Artifact struct {
	ID  string
	URI string
	// TypeName identifies the artifact's declared type (e.g. "Examples",
	// "Model"); opaque to this core.
	TypeName string
}

// EventType distinguishes input from output artifact linkage.
type EventType string

const (
	EventInput  EventType = "INPUT"
	EventOutput EventType = "OUTPUT"
)

// ArtifactRef pairs an artifact with the input/output key it is bound under.
type ArtifactRef struct {
	Artifact Artifact
	Key      string
}

// NewExecutionSpec describes a freshly-registered execution.
type NewExecutionSpec struct {
	ExecutionType    string
	ContextIDs       []string
	InputArtifacts   []ArtifactRef
	ExecProperties   map[string]string
	CustomProperties map[string]string
}

// CachedPublishSpec describes a cached-execution publish.
type CachedPublishSpec struct {
	ExecutionType   string
	ContextIDs      []string
	OutputArtifacts []ArtifactRef
}

// PipelineInfo is the minimal pipeline identity the cache fingerprint and
// context-naming functions need.
type PipelineInfo struct {
	PipelineName  string
	PipelineRunID string
}
