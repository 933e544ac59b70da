package servicejob

import "context"

// StaticManager is an in-memory test double driven by an injected map, the
// servicejob analogue of the teacher's TaskRunner fake: callers populate
// Pure/Mixed/Statuses directly instead of wiring a real service mesh.
type StaticManager struct {
	Pure     map[string]bool
	Mixed    map[string]bool
	Statuses map[string]Status
}

// NewStaticManager constructs an empty StaticManager; all nodes default to
// plain executor nodes with status RUNNING until configured otherwise.
func NewStaticManager() *StaticManager {
	return &StaticManager{
		Pure:     make(map[string]bool),
		Mixed:    make(map[string]bool),
		Statuses: make(map[string]Status),
	}
}

func (m *StaticManager) IsPureServiceNode(_ context.Context, _ any, nodeID string) (bool, error) {
	return m.Pure[nodeID], nil
}

func (m *StaticManager) IsMixedServiceNode(_ context.Context, _ any, nodeID string) (bool, error) {
	return m.Mixed[nodeID], nil
}

func (m *StaticManager) EnsureNodeServices(_ context.Context, _ any, nodeID string) (Status, error) {
	if s, ok := m.Statuses[nodeID]; ok {
		return s, nil
	}
	return StatusRunning, nil
}

var _ Manager = (*StaticManager)(nil)
