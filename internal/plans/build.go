package plans

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"control_room/internal/domain"
)

var ErrInvalidPlan = errors.New("invalid plan definition")

type DanglingDependencyError struct {
	Plan       string
	ItemID     string
	Dependency string
}

func (e *DanglingDependencyError) Error() string {
	return fmt.Sprintf("plan %s: item %s depends on unknown item %s", e.Plan, e.ItemID, e.Dependency)
}

type UnknownPlanError struct {
	Name string
}

func (e *UnknownPlanError) Error() string {
	return fmt.Sprintf("unknown plan %q", e.Name)
}

// EstimateTokens is the midpoint throughput times the target duration, rounded.
func EstimateTokens(spec domain.PlanItemSpec) int64 {
	return int64(math.Round(((spec.TPSMin + spec.TPSMax) / 2) * (float64(spec.EstimateMS) / 1000)))
}

// BuildItems materializes the runtime work items of a plan. Any undefined
// dependency reference aborts the build; no partial map is returned.
func BuildItems(plan domain.PlanDefinition) (map[string]domain.WorkItem, error) {
	ids := make(map[string]struct{}, len(plan.Items))
	for _, spec := range plan.Items {
		id := strings.TrimSpace(spec.ID)
		if id == "" {
			return nil, fmt.Errorf("%w: plan %s has an item without id", ErrInvalidPlan, plan.Name)
		}
		if _, exists := ids[id]; exists {
			return nil, fmt.Errorf("%w: plan %s has duplicate item id %s", ErrInvalidPlan, plan.Name, id)
		}
		ids[id] = struct{}{}
	}
	for _, spec := range plan.Items {
		for _, dep := range spec.DependsOn {
			if _, ok := ids[dep]; !ok {
				return nil, &DanglingDependencyError{Plan: plan.Name, ItemID: spec.ID, Dependency: dep}
			}
		}
	}

	items := make(map[string]domain.WorkItem, len(plan.Items))
	for _, spec := range plan.Items {
		id := strings.TrimSpace(spec.ID)
		deps := make([]string, len(spec.DependsOn))
		copy(deps, spec.DependsOn)
		items[id] = domain.WorkItem{
			ID:         id,
			Group:      spec.Group,
			Sector:     spec.Sector,
			DependsOn:  deps,
			Desc:       spec.Desc,
			EstimateMS: spec.EstimateMS,
			EtaMS:      spec.EstimateMS,
			TPSMin:     spec.TPSMin,
			TPSMax:     spec.TPSMax,
			TPS:        spec.TPSMin,
			EstTokens:  EstimateTokens(spec),
			Status:     domain.ItemStatusQueued,
		}
	}
	return items, nil
}

// Normalize trims identifiers and canonicalizes sector casing.
func Normalize(plan domain.PlanDefinition) (domain.PlanDefinition, error) {
	out := plan
	out.Name = strings.TrimSpace(plan.Name)
	out.Items = make([]domain.PlanItemSpec, 0, len(plan.Items))
	for _, spec := range plan.Items {
		spec.ID = strings.TrimSpace(spec.ID)
		sector, ok := domain.ParseSector(string(spec.Sector))
		if !ok {
			return domain.PlanDefinition{}, fmt.Errorf("%w: plan %s item %s has unknown sector %q", ErrInvalidPlan, out.Name, spec.ID, spec.Sector)
		}
		spec.Sector = sector
		deps := make([]string, 0, len(spec.DependsOn))
		for _, dep := range spec.DependsOn {
			if dep = strings.TrimSpace(dep); dep != "" {
				deps = append(deps, dep)
			}
		}
		spec.DependsOn = deps
		out.Items = append(out.Items, spec)
	}
	if plan.Groups != nil {
		out.Groups = append([]domain.GroupDef(nil), plan.Groups...)
	}
	return out, nil
}

// Validate checks a normalized plan. Cycles are left to the scheduler, which
// refuses to activate them.
func Validate(plan domain.PlanDefinition) error {
	if plan.Name == "" {
		return fmt.Errorf("%w: plan name is required", ErrInvalidPlan)
	}
	if len(plan.Items) == 0 {
		return fmt.Errorf("%w: plan %s has no items", ErrInvalidPlan, plan.Name)
	}
	for _, spec := range plan.Items {
		if spec.EstimateMS <= 0 {
			return fmt.Errorf("%w: plan %s item %s needs estimate_ms > 0", ErrInvalidPlan, plan.Name, spec.ID)
		}
		if spec.TPSMin < 0 || spec.TPSMax < spec.TPSMin {
			return fmt.Errorf("%w: plan %s item %s has tps bounds [%v, %v]", ErrInvalidPlan, plan.Name, spec.ID, spec.TPSMin, spec.TPSMax)
		}
		if _, ok := domain.ParseSector(string(spec.Sector)); !ok {
			return fmt.Errorf("%w: plan %s item %s has unknown sector %q", ErrInvalidPlan, plan.Name, spec.ID, spec.Sector)
		}
	}
	_, err := BuildItems(plan)
	return err
}
