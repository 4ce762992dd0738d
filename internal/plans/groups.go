package plans

import (
	"fmt"
	"sort"

	"control_room/internal/domain"
)

// Groups returns the plan's declared display groups, or one group per
// distinct item group when the plan declares none.
func Groups(plan domain.PlanDefinition, items map[string]domain.WorkItem) []domain.GroupDef {
	if len(plan.Groups) > 0 {
		return append([]domain.GroupDef(nil), plan.Groups...)
	}
	counts := map[string]int{}
	for _, it := range items {
		counts[it.Group]++
	}
	out := make([]domain.GroupDef, 0, len(counts))
	for id, n := range counts {
		out = append(out, domain.GroupDef{
			ID:          id,
			Title:       "Group " + id,
			Description: fmt.Sprintf("%d work items.", n),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}
