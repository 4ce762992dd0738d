package domain

// Patches carry only the fields that changed. A nil field means "keep the
// previous value"; merging and applying both follow last-write-wins per field.

type ItemPatch struct {
	ID         string      `json:"id"`
	Status     *ItemStatus `json:"status,omitempty"`
	StartedAt  *int64      `json:"started_at,omitempty"`
	EtaMS      *int64      `json:"eta_ms,omitempty"`
	TPS        *float64    `json:"tps,omitempty"`
	TokensDone *float64    `json:"tokens_done,omitempty"`
	// AgentID set to "" clears the back-reference.
	AgentID *string `json:"agent_id,omitempty"`
}

func (p ItemPatch) Merge(next ItemPatch) ItemPatch {
	out := p
	if next.ID != "" {
		out.ID = next.ID
	}
	if next.Status != nil {
		out.Status = next.Status
	}
	if next.StartedAt != nil {
		out.StartedAt = next.StartedAt
	}
	if next.EtaMS != nil {
		out.EtaMS = next.EtaMS
	}
	if next.TPS != nil {
		out.TPS = next.TPS
	}
	if next.TokensDone != nil {
		out.TokensDone = next.TokensDone
	}
	if next.AgentID != nil {
		out.AgentID = next.AgentID
	}
	return out
}

func (p ItemPatch) ApplyTo(item WorkItem) WorkItem {
	out := item.Clone()
	if out.ID == "" {
		out.ID = p.ID
	}
	if p.Status != nil {
		out.Status = *p.Status
	}
	if p.StartedAt != nil {
		v := *p.StartedAt
		out.StartedAt = &v
	}
	if p.EtaMS != nil {
		out.EtaMS = *p.EtaMS
	}
	if p.TPS != nil {
		out.TPS = *p.TPS
	}
	if p.TokensDone != nil {
		out.TokensDone = *p.TokensDone
	}
	if p.AgentID != nil {
		out.AgentID = *p.AgentID
	}
	return out
}

type AgentPatch struct {
	ID         string  `json:"id"`
	WorkItemID *string `json:"work_item_id,omitempty"`
	// Released marks the agent as removed from the runtime agent map.
	Released *bool `json:"released,omitempty"`
}

func (p AgentPatch) Merge(next AgentPatch) AgentPatch {
	out := p
	if next.ID != "" {
		out.ID = next.ID
	}
	if next.WorkItemID != nil {
		out.WorkItemID = next.WorkItemID
	}
	if next.Released != nil {
		out.Released = next.Released
	}
	return out
}

func (p AgentPatch) IsRelease() bool {
	return p.Released != nil && *p.Released
}

func (p AgentPatch) ApplyTo(agent Agent) Agent {
	out := agent
	if out.ID == "" {
		out.ID = p.ID
	}
	if p.WorkItemID != nil {
		out.WorkItemID = *p.WorkItemID
	}
	return out
}

type MetricsPatch struct {
	ActiveAgents   *int     `json:"active_agents,omitempty"`
	TotalTokens    *float64 `json:"total_tokens,omitempty"`
	TotalSpendUSD  *float64 `json:"total_spend_usd,omitempty"`
	LiveTPS        *float64 `json:"live_tps,omitempty"`
	LiveSpendPerS  *float64 `json:"live_spend_per_s,omitempty"`
	CompletionRate *float64 `json:"completion_rate,omitempty"`
}

func FullMetricsPatch(m ProjectMetrics) *MetricsPatch {
	return &MetricsPatch{
		ActiveAgents:   &m.ActiveAgents,
		TotalTokens:    &m.TotalTokens,
		TotalSpendUSD:  &m.TotalSpendUSD,
		LiveTPS:        &m.LiveTPS,
		LiveSpendPerS:  &m.LiveSpendPerS,
		CompletionRate: &m.CompletionRate,
	}
}

func (p MetricsPatch) Merge(next MetricsPatch) MetricsPatch {
	out := p
	if next.ActiveAgents != nil {
		out.ActiveAgents = next.ActiveAgents
	}
	if next.TotalTokens != nil {
		out.TotalTokens = next.TotalTokens
	}
	if next.TotalSpendUSD != nil {
		out.TotalSpendUSD = next.TotalSpendUSD
	}
	if next.LiveTPS != nil {
		out.LiveTPS = next.LiveTPS
	}
	if next.LiveSpendPerS != nil {
		out.LiveSpendPerS = next.LiveSpendPerS
	}
	if next.CompletionRate != nil {
		out.CompletionRate = next.CompletionRate
	}
	return out
}

func (p MetricsPatch) ApplyTo(m ProjectMetrics) ProjectMetrics {
	out := m
	if p.ActiveAgents != nil {
		out.ActiveAgents = *p.ActiveAgents
	}
	if p.TotalTokens != nil {
		out.TotalTokens = *p.TotalTokens
	}
	if p.TotalSpendUSD != nil {
		out.TotalSpendUSD = *p.TotalSpendUSD
	}
	if p.LiveTPS != nil {
		out.LiveTPS = *p.LiveTPS
	}
	if p.LiveSpendPerS != nil {
		out.LiveSpendPerS = *p.LiveSpendPerS
	}
	if p.CompletionRate != nil {
		out.CompletionRate = *p.CompletionRate
	}
	return out
}
