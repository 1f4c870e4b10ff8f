package state

import (
	"sort"
	"time"

	"github.com/bft-labs/mgrkit/pkg/manager"
)

// ManagerState is the recorded state of one manager.
type ManagerState struct {
	Name     string `json:"name"`
	ID       string `json:"id"`
	State    string `json:"state"`
	Dispatch string `json:"dispatch"`
}

// Snapshot is the persisted status of a set of managers.
type Snapshot struct {
	Managers  []ManagerState `json:"managers"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// IsEmpty returns true if no snapshot has been recorded.
func (s Snapshot) IsEmpty() bool {
	return s.UpdatedAt.IsZero() && len(s.Managers) == 0
}

// Faulted returns the names of managers recorded as faulted.
func (s Snapshot) Faulted() []string {
	var out []string
	for _, m := range s.Managers {
		if m.State == manager.StateFaulted.String() {
			out = append(out, m.Name)
		}
	}
	return out
}

// Capture records the current state of ms, sorted by name.
func Capture(ms []manager.Manager, at time.Time) Snapshot {
	snap := Snapshot{Managers: make([]ManagerState, 0, len(ms)), UpdatedAt: at}
	for _, m := range ms {
		snap.Managers = append(snap.Managers, ManagerState{
			Name:     m.Name(),
			ID:       m.ID(),
			State:    m.State().String(),
			Dispatch: m.DispatchMode().String(),
		})
	}
	sort.Slice(snap.Managers, func(i, j int) bool { return snap.Managers[i].Name < snap.Managers[j].Name })
	return snap
}
