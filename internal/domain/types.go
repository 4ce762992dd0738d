package domain

import (
	"maps"
	"strings"
)

type ItemStatus string

const (
	ItemStatusQueued     ItemStatus = "queued"
	ItemStatusAssigned   ItemStatus = "assigned"
	ItemStatusInProgress ItemStatus = "in_progress"
	ItemStatusBlocked    ItemStatus = "blocked"
	ItemStatusDone       ItemStatus = "done"
)

type Sector string

const (
	SectorPlanning Sector = "PLANNING"
	SectorBuild    Sector = "BUILD"
	SectorEval     Sector = "EVAL"
	SectorDeploy   Sector = "DEPLOY"
)

var Sectors = []Sector{SectorPlanning, SectorBuild, SectorEval, SectorDeploy}

// ParseSector accepts any casing of a known sector name.
func ParseSector(raw string) (Sector, bool) {
	candidate := Sector(strings.ToUpper(strings.TrimSpace(raw)))
	for _, s := range Sectors {
		if s == candidate {
			return s, true
		}
	}
	return "", false
}

type IntentType string

const (
	IntentSetRunning      IntentType = "set_running"
	IntentSetSeed         IntentType = "set_seed"
	IntentSetPlan         IntentType = "set_plan"
	IntentSetSpeed        IntentType = "set_speed"
	IntentRequestSnapshot IntentType = "request_snapshot"
)

type EventType string

const (
	EventTypeSnapshot EventType = "snapshot"
	EventTypeTick     EventType = "tick"
)

type PlanItemSpec struct {
	ID         string   `json:"id" toml:"id" yaml:"id"`
	Group      string   `json:"group" toml:"group" yaml:"group"`
	Sector     Sector   `json:"sector" toml:"sector" yaml:"sector"`
	DependsOn  []string `json:"depends_on" toml:"depends_on" yaml:"depends_on"`
	EstimateMS int64    `json:"estimate_ms" toml:"estimate_ms" yaml:"estimate_ms"`
	TPSMin     float64  `json:"tps_min" toml:"tps_min" yaml:"tps_min"`
	TPSMax     float64  `json:"tps_max" toml:"tps_max" yaml:"tps_max"`
	Desc       string   `json:"desc,omitempty" toml:"desc" yaml:"desc"`
}

type GroupDef struct {
	ID          string `json:"id" toml:"id" yaml:"id"`
	Title       string `json:"title" toml:"title" yaml:"title"`
	Description string `json:"description,omitempty" toml:"description" yaml:"description"`
}

type PlanDefinition struct {
	Name        string         `json:"name" toml:"name" yaml:"name"`
	Description string         `json:"description,omitempty" toml:"description" yaml:"description"`
	Items       []PlanItemSpec `json:"items" toml:"items" yaml:"items"`
	Groups      []GroupDef     `json:"groups,omitempty" toml:"groups" yaml:"groups"`
}

type WorkItem struct {
	ID         string     `json:"id"`
	Group      string     `json:"group"`
	Sector     Sector     `json:"sector"`
	DependsOn  []string   `json:"depends_on"`
	Desc       string     `json:"desc,omitempty"`
	EstimateMS int64      `json:"estimate_ms"`
	StartedAt  *int64     `json:"started_at,omitempty"`
	EtaMS      int64      `json:"eta_ms"`
	TPSMin     float64    `json:"tps_min"`
	TPSMax     float64    `json:"tps_max"`
	TPS        float64    `json:"tps"`
	TokensDone float64    `json:"tokens_done"`
	EstTokens  int64      `json:"est_tokens"`
	Status     ItemStatus `json:"status"`
	AgentID    string     `json:"agent_id,omitempty"`
}

func (w WorkItem) Clone() WorkItem {
	out := w
	if w.DependsOn != nil {
		out.DependsOn = append([]string(nil), w.DependsOn...)
	}
	if w.StartedAt != nil {
		v := *w.StartedAt
		out.StartedAt = &v
	}
	return out
}

type Agent struct {
	ID         string `json:"id"`
	WorkItemID string `json:"work_item_id"`
}

type ProjectMetrics struct {
	ActiveAgents   int     `json:"active_agents"`
	TotalTokens    float64 `json:"total_tokens"`
	TotalSpendUSD  float64 `json:"total_spend_usd"`
	LiveTPS        float64 `json:"live_tps"`
	LiveSpendPerS  float64 `json:"live_spend_per_s"`
	CompletionRate float64 `json:"completion_rate"`
}

// State is the complete observer-visible state carried by a snapshot.
type State struct {
	RunID   string              `json:"run_id"`
	Plan    string              `json:"plan"`
	Items   map[string]WorkItem `json:"items"`
	Agents  map[string]Agent    `json:"agents"`
	Metrics ProjectMetrics      `json:"metrics"`
	Seed    string              `json:"seed"`
	Running bool                `json:"running"`
	Speed   float64             `json:"speed"`
}

func (s State) Clone() State {
	out := s
	out.Items = make(map[string]WorkItem, len(s.Items))
	for id, item := range s.Items {
		out.Items[id] = item.Clone()
	}
	out.Agents = maps.Clone(s.Agents)
	if out.Agents == nil {
		out.Agents = make(map[string]Agent)
	}
	return out
}

type Intent struct {
	Type    IntentType `json:"type"`
	Running *bool      `json:"running,omitempty"`
	Seed    *string    `json:"seed,omitempty"`
	Plan    *string    `json:"plan,omitempty"`
	Speed   *float64   `json:"speed,omitempty"`
}

type Event struct {
	Type    EventType     `json:"type"`
	State   *State        `json:"state,omitempty"`
	TickID  int64         `json:"tick_id,omitempty"`
	Items   []ItemPatch   `json:"items,omitempty"`
	Agents  []AgentPatch  `json:"agents,omitempty"`
	Metrics *MetricsPatch `json:"metrics,omitempty"`
}

func SnapshotEvent(state State) Event {
	cloned := state.Clone()
	return Event{Type: EventTypeSnapshot, State: &cloned}
}

// TickPatch is what the store merges on a coalesced flush.
type TickPatch struct {
	TickID  int64         `json:"tick_id"`
	Items   []ItemPatch   `json:"items,omitempty"`
	Agents  []AgentPatch  `json:"agents,omitempty"`
	Metrics *MetricsPatch `json:"metrics,omitempty"`
}

func (e Event) Patch() TickPatch {
	return TickPatch{
		TickID:  e.TickID,
		Items:   e.Items,
		Agents:  e.Agents,
		Metrics: e.Metrics,
	}
}
