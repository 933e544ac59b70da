package mlmd

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store implementation, the direct analogue of
// a FileCache/MemoryCache pair: same contract, no durability. Intended for
// unit tests.
type MemoryStore struct {
	mu sync.Mutex

	contexts       map[string]Context
	contextsByName map[ContextType]map[string]string // type -> name -> id

	executions       map[string]*Execution
	execOrder        []string            // insertion order, used to derive "most recent by id"
	executionCtxs    map[string][]string // execution id -> context ids
	contextExecs     map[string][]string // context id -> execution ids
	executionOutputs map[string][]ArtifactRef

	parentEdges []parentEdge
}

type parentEdge struct {
	parent, child string
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		contexts:         make(map[string]Context),
		contextsByName:   make(map[ContextType]map[string]string),
		executions:       make(map[string]*Execution),
		executionCtxs:    make(map[string][]string),
		contextExecs:     make(map[string][]string),
		executionOutputs: make(map[string][]ArtifactRef),
	}
}

func (m *MemoryStore) GetOrCreateContext(_ context.Context, typ ContextType, name string) (Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byName, ok := m.contextsByName[typ]
	if !ok {
		byName = make(map[string]string)
		m.contextsByName[typ] = byName
	}
	if id, ok := byName[name]; ok {
		return m.contexts[id], nil
	}

	c := Context{ID: uuid.NewString(), Type: typ, Name: name}
	m.contexts[c.ID] = c
	byName[name] = c.ID
	return c, nil
}

func (m *MemoryStore) MostRecentPipelineRunContext(_ context.Context, pipelineName, excludeRunID string) (Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var candidates []Context
	prefix := PipelineRunContextName(pipelineName, "")
	excludeName := PipelineRunContextName(pipelineName, excludeRunID)
	for _, c := range m.contexts {
		if c.Type != ContextPipelineRun {
			continue
		}
		if !hasPrefix(c.Name, prefix) {
			continue
		}
		if c.Name == excludeName {
			continue
		}
		candidates = append(candidates, c)
	}
	if len(candidates) == 0 {
		return Context{}, ErrNotFound
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Name > candidates[j].Name })
	return candidates[0], nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func (m *MemoryStore) ExecutionsByNodeContexts(_ context.Context, contextIDs []string) ([]Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	need := make(map[string]bool, len(contextIDs))
	for _, id := range contextIDs {
		need[id] = true
	}

	var out []Execution
	for _, execID := range m.execOrder {
		ctxIDs := m.executionCtxs[execID]
		have := make(map[string]bool, len(ctxIDs))
		for _, id := range ctxIDs {
			have[id] = true
		}
		allPresent := true
		for id := range need {
			if !have[id] {
				allPresent = false
				break
			}
		}
		if allPresent {
			out = append(out, *m.executions[execID])
		}
	}

	// Most-recent-first: out was built by walking execOrder (insertion
	// order), so reversing it in place gives chronological recency —
	// execution ids are random uuids and sort no more recent-first than
	// alphabetically.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (m *MemoryStore) RegisterExecution(_ context.Context, spec NewExecutionSpec) (Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := &Execution{
		ID:               uuid.NewString(),
		ExecutionType:    spec.ExecutionType,
		LastKnownState:   ExecutionActive,
		CustomProperties: cloneProps(spec.CustomProperties),
		ContextIDs:       append([]string(nil), spec.ContextIDs...),
	}
	m.storeExecution(e)
	return *e, nil
}

func (m *MemoryStore) storeExecution(e *Execution) {
	m.executions[e.ID] = e
	m.execOrder = append(m.execOrder, e.ID)
	m.executionCtxs[e.ID] = append([]string(nil), e.ContextIDs...)
	for _, cid := range e.ContextIDs {
		m.contextExecs[cid] = append(m.contextExecs[cid], e.ID)
	}
}

func (m *MemoryStore) UpdateExecutionState(_ context.Context, executionID string, state ExecutionState, customProps map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.executions[executionID]
	if !ok {
		return ErrNotFound
	}
	e.LastKnownState = state
	for k, v := range customProps {
		if e.CustomProperties == nil {
			e.CustomProperties = make(map[string]string)
		}
		e.CustomProperties[k] = v
	}
	return nil
}

func (m *MemoryStore) AttachOutputArtifacts(_ context.Context, executionID string, outputs []ArtifactRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.executions[executionID]; !ok {
		return ErrNotFound
	}
	m.executionOutputs[executionID] = append(m.executionOutputs[executionID], outputs...)
	return nil
}

func (m *MemoryStore) OutputArtifactsForExecution(_ context.Context, executionID string) ([]ArtifactRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.executions[executionID]; !ok {
		return nil, ErrNotFound
	}
	return append([]ArtifactRef(nil), m.executionOutputs[executionID]...), nil
}

func (m *MemoryStore) AttachContext(_ context.Context, executionID, contextID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.executions[executionID]
	if !ok {
		return ErrNotFound
	}
	e.ContextIDs = append(e.ContextIDs, contextID)
	m.executionCtxs[executionID] = append(m.executionCtxs[executionID], contextID)
	m.contextExecs[contextID] = append(m.contextExecs[contextID], executionID)
	return nil
}

func (m *MemoryStore) PublishCachedExecution(_ context.Context, spec CachedPublishSpec) (Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := &Execution{
		ID:             uuid.NewString(),
		ExecutionType:  spec.ExecutionType,
		LastKnownState: ExecutionCached,
		ContextIDs:     append([]string(nil), spec.ContextIDs...),
	}
	m.storeExecution(e)
	m.executionOutputs[e.ID] = append([]ArtifactRef(nil), spec.OutputArtifacts...)
	return *e, nil
}

func (m *MemoryStore) ParentContextEdge(_ context.Context, parentContextID, childContextID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.parentEdges {
		if e.parent == parentContextID && e.child == childContextID {
			return nil
		}
	}
	m.parentEdges = append(m.parentEdges, parentEdge{parent: parentContextID, child: childContextID})
	return nil
}

func cloneProps(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

var _ Store = (*MemoryStore)(nil)
