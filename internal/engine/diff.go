package engine

import (
	"control_room/internal/domain"
)

func valueRef[T any](v T) *T {
	return &v
}

func diffItem(prev, cur domain.WorkItem) (domain.ItemPatch, bool) {
	patch := domain.ItemPatch{ID: cur.ID}
	changed := false
	if prev.Status != cur.Status {
		patch.Status = valueRef(cur.Status)
		changed = true
	}
	if cur.StartedAt != nil && (prev.StartedAt == nil || *prev.StartedAt != *cur.StartedAt) {
		patch.StartedAt = valueRef(*cur.StartedAt)
		changed = true
	}
	if prev.EtaMS != cur.EtaMS {
		patch.EtaMS = valueRef(cur.EtaMS)
		changed = true
	}
	if prev.TPS != cur.TPS {
		patch.TPS = valueRef(cur.TPS)
		changed = true
	}
	if prev.TokensDone != cur.TokensDone {
		patch.TokensDone = valueRef(cur.TokensDone)
		changed = true
	}
	if prev.AgentID != cur.AgentID {
		patch.AgentID = valueRef(cur.AgentID)
		changed = true
	}
	return patch, changed
}

// diffState lists the item and agent patches that turn prev into cur.
func diffState(prevItems map[string]domain.WorkItem, prevAgents map[string]domain.Agent, rt *runtime) ([]domain.ItemPatch, []domain.AgentPatch) {
	var items []domain.ItemPatch
	for _, id := range rt.order {
		if patch, ok := diffItem(prevItems[id], rt.items[id]); ok {
			items = append(items, patch)
		}
	}

	var agents []domain.AgentPatch
	for _, id := range sortedIDs(rt.agents) {
		cur := rt.agents[id]
		prev, existed := prevAgents[id]
		if existed && prev.WorkItemID == cur.WorkItemID {
			continue
		}
		agents = append(agents, domain.AgentPatch{
			ID:         id,
			WorkItemID: valueRef(cur.WorkItemID),
			Released:   valueRef(false),
		})
	}
	for _, id := range sortedIDs(prevAgents) {
		if _, ok := rt.agents[id]; ok {
			continue
		}
		agents = append(agents, domain.AgentPatch{ID: id, Released: valueRef(true)})
	}
	return items, agents
}
