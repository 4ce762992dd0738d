package engine

import (
	"math"

	"control_room/internal/domain"
)

// runtime is the mutable work-item and agent state of one activated plan.
// It is owned by the engine goroutine and never handed out by reference.
type runtime struct {
	items  map[string]domain.WorkItem
	agents map[string]domain.Agent
	order  []string
	nowMS  float64
}

func newRuntime(items map[string]domain.WorkItem) *runtime {
	return &runtime{
		items:  items,
		agents: make(map[string]domain.Agent),
		order:  sortedIDs(items),
	}
}

func agentIDFor(itemID string) string {
	return "agent-" + itemID
}

// promote moves every queued item whose dependencies are all done to
// assigned, in ascending id order. Calling it again on an unchanged runtime
// changes nothing.
func (rt *runtime) promote() []string {
	var changed []string
	for _, id := range rt.order {
		it := rt.items[id]
		if it.Status != domain.ItemStatusQueued || !DepsSatisfied(rt.items, id) {
			continue
		}
		it.Status = domain.ItemStatusAssigned
		rt.items[id] = it
		changed = append(changed, id)
	}
	return changed
}

func (rt *runtime) countInProgress() int {
	n := 0
	for _, it := range rt.items {
		if it.Status == domain.ItemStatusInProgress {
			n++
		}
	}
	return n
}

// dispatch pairs the lowest-id assigned items with fresh agents while fewer
// than maxConcurrent items are in progress.
func (rt *runtime) dispatch(maxConcurrent int, sampler Sampler) []string {
	var started []string
	active := rt.countInProgress()
	for _, id := range rt.order {
		if active >= maxConcurrent {
			break
		}
		it := rt.items[id]
		if it.Status != domain.ItemStatusAssigned {
			continue
		}
		agentID := agentIDFor(id)
		startedAt := int64(math.Round(rt.nowMS))
		it.Status = domain.ItemStatusInProgress
		it.StartedAt = &startedAt
		it.AgentID = agentID
		it.TPS = sampler.Uniform(id, "tps", it.TPSMin, it.TPSMax)
		rt.items[id] = it
		rt.agents[agentID] = domain.Agent{ID: agentID, WorkItemID: id}
		active++
		started = append(started, id)
	}
	return started
}

// advance moves the simulated clock by dtMS and progresses in-progress items.
// Elapsed simulated time decides completion; the token counter is display
// only and is clamped to est_tokens.
func (rt *runtime) advance(dtMS float64) []string {
	rt.nowMS += dtMS
	var finished []string
	for _, id := range rt.order {
		it := rt.items[id]
		if it.Status != domain.ItemStatusInProgress {
			continue
		}
		est := float64(it.EstTokens)
		tokens := it.TokensDone + it.TPS*(dtMS/1000)
		if tokens > est {
			tokens = est
		}
		if tokens < it.TokensDone {
			tokens = it.TokensDone
		}
		it.TokensDone = tokens

		var elapsed float64
		if it.StartedAt != nil {
			elapsed = rt.nowMS - float64(*it.StartedAt)
		}
		if elapsed >= float64(it.EstimateMS) {
			it.Status = domain.ItemStatusDone
			it.TokensDone = est
			it.EtaMS = 0
			delete(rt.agents, it.AgentID)
			it.AgentID = ""
			rt.items[id] = it
			finished = append(finished, id)
			continue
		}
		if est > 0 {
			it.EtaMS = int64(math.Max(0, math.Round(float64(it.EstimateMS)*(1-tokens/est))))
		} else {
			it.EtaMS = int64(math.Max(0, math.Round(float64(it.EstimateMS)-elapsed)))
		}
		rt.items[id] = it
	}
	return finished
}

// ComputeMetrics derives project metrics from the current item and agent
// maps. Completion rate is measured against items whose dependencies are
// currently satisfied, not against the whole plan.
func ComputeMetrics(items map[string]domain.WorkItem, agents map[string]domain.Agent, costPerToken float64) domain.ProjectMetrics {
	var totalTokens, liveTPS float64
	var doneCount, eligibleCount int
	for _, id := range sortedIDs(items) {
		it := items[id]
		totalTokens += it.TokensDone
		if it.Status == domain.ItemStatusInProgress {
			liveTPS += it.TPS
		}
		if it.Status == domain.ItemStatusDone {
			doneCount++
		}
		if DepsSatisfied(items, id) {
			eligibleCount++
		}
	}
	completion := 0.0
	if eligibleCount > 0 {
		completion = float64(doneCount) / float64(eligibleCount)
	}
	return domain.ProjectMetrics{
		ActiveAgents:   len(agents),
		TotalTokens:    totalTokens,
		TotalSpendUSD:  totalTokens * costPerToken,
		LiveTPS:        liveTPS,
		LiveSpendPerS:  liveTPS * costPerToken,
		CompletionRate: completion,
	}
}
