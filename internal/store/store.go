package store

import (
	"maps"
	"sort"
	"sync"

	"control_room/internal/domain"
)

// Store is the observer-side copy of the runtime. ApplySnapshot and ApplyTick
// are the only ways to change it; every getter returns a copy.
type Store struct {
	mu         sync.RWMutex
	state      domain.State
	lastTickID int64
	version    uint64
}

func New() *Store {
	return &Store{
		state: domain.State{
			Items:  make(map[string]domain.WorkItem),
			Agents: make(map[string]domain.Agent),
		},
	}
}

// ApplySnapshot replaces everything and resets the tick watermark.
func (s *Store) ApplySnapshot(state domain.State) {
	next := state.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = next
	s.lastTickID = 0
	s.version++
}

// ApplyTick merges per-entity fields. Fields a patch leaves nil keep their
// previous value; metrics are replaced wholesale when present.
func (s *Store) ApplyTick(patch domain.TickPatch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range patch.Items {
		if p.ID == "" {
			continue
		}
		s.state.Items[p.ID] = p.ApplyTo(s.state.Items[p.ID])
	}
	for _, p := range patch.Agents {
		if p.ID == "" {
			continue
		}
		if p.IsRelease() {
			delete(s.state.Agents, p.ID)
			continue
		}
		s.state.Agents[p.ID] = p.ApplyTo(s.state.Agents[p.ID])
	}
	if patch.Metrics != nil {
		s.state.Metrics = patch.Metrics.ApplyTo(domain.ProjectMetrics{})
	}
	if patch.TickID > s.lastTickID {
		s.lastTickID = patch.TickID
	}
	s.version++
}

func (s *Store) State() domain.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

func (s *Store) Items() map[string]domain.WorkItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.WorkItem, len(s.state.Items))
	for id, it := range s.state.Items {
		out[id] = it.Clone()
	}
	return out
}

func (s *Store) Agents() map[string]domain.Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.state.Agents)
}

func (s *Store) Metrics() domain.ProjectMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Metrics
}

func (s *Store) Seed() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Seed
}

func (s *Store) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Running
}

func (s *Store) Plan() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Plan
}

func (s *Store) LastTickID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastTickID
}

// Version increases on every applied snapshot or tick.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

type GroupProgress struct {
	Group    domain.GroupDef `json:"group"`
	Items    int             `json:"items"`
	Done     int             `json:"done"`
	Progress float64         `json:"progress"`
}

// GroupProgress reports estimate-weighted progress per group. Done items
// count their full estimate, in-progress items count estimate minus eta, and
// everything else counts nothing.
func (s *Store) GroupProgress(groups []domain.GroupDef) []GroupProgress {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.state.Items))
	for id := range s.state.Items {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]GroupProgress, 0, len(groups))
	for _, g := range groups {
		row := GroupProgress{Group: g}
		var sumEst, sumElapsed float64
		for _, id := range ids {
			it := s.state.Items[id]
			if it.Group != g.ID {
				continue
			}
			row.Items++
			if it.Status == domain.ItemStatusDone {
				row.Done++
			}
			est := float64(it.EstimateMS)
			if est <= 0 {
				continue
			}
			sumEst += est
			switch it.Status {
			case domain.ItemStatusDone:
				sumElapsed += est
			case domain.ItemStatusInProgress:
				sumElapsed += min(est, max(0, est-float64(it.EtaMS)))
			}
		}
		if sumEst > 0 {
			row.Progress = min(1, max(0, sumElapsed/sumEst))
		}
		out = append(out, row)
	}
	return out
}
