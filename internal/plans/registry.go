package plans

import (
	"fmt"
	"strings"

	"control_room/internal/domain"
)

const DefaultPlanName = "Rush"

// Registry is an ordered, name-keyed set of plan definitions. It is never
// mutated after construction; With returns a new registry.
type Registry struct {
	order       []string
	plans       map[string]domain.PlanDefinition
	defaultName string
}

func NewRegistry(defaultName string, defs ...domain.PlanDefinition) (*Registry, error) {
	r := &Registry{
		order: make([]string, 0, len(defs)),
		plans: make(map[string]domain.PlanDefinition, len(defs)),
	}
	for _, def := range defs {
		normalized, err := Normalize(def)
		if err != nil {
			return nil, err
		}
		if err := Validate(normalized); err != nil {
			return nil, err
		}
		if _, exists := r.plans[normalized.Name]; exists {
			return nil, fmt.Errorf("%w: duplicate plan name %s", ErrInvalidPlan, normalized.Name)
		}
		r.order = append(r.order, normalized.Name)
		r.plans[normalized.Name] = normalized
	}
	if len(r.order) == 0 {
		return nil, fmt.Errorf("%w: registry needs at least one plan", ErrInvalidPlan)
	}
	name, ok := r.resolve(defaultName)
	if !ok {
		name = r.order[0]
	}
	r.defaultName = name
	return r, nil
}

// Builtin returns the plans shipped with the simulator.
func Builtin() *Registry {
	r, err := NewRegistry(DefaultPlanName, RushPlan(), CalmPlan(), WebPlan(), TestPlan())
	if err != nil {
		panic(fmt.Sprintf("builtin plans are invalid: %v", err))
	}
	return r
}

func (r *Registry) With(defs ...domain.PlanDefinition) (*Registry, error) {
	all := r.All()
	all = append(all, defs...)
	return NewRegistry(r.defaultName, all...)
}

func (r *Registry) WithDefault(name string) (*Registry, error) {
	if _, ok := r.resolve(name); !ok {
		return nil, &UnknownPlanError{Name: name}
	}
	return NewRegistry(name, r.All()...)
}

func (r *Registry) Get(name string) (domain.PlanDefinition, bool) {
	resolved, ok := r.resolve(name)
	if !ok {
		return domain.PlanDefinition{}, false
	}
	return clonePlan(r.plans[resolved]), true
}

func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

func (r *Registry) All() []domain.PlanDefinition {
	out := make([]domain.PlanDefinition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, clonePlan(r.plans[name]))
	}
	return out
}

func (r *Registry) Default() string {
	return r.defaultName
}

func (r *Registry) resolve(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if _, ok := r.plans[name]; ok {
		return name, true
	}
	for _, candidate := range r.order {
		if strings.EqualFold(candidate, name) {
			return candidate, true
		}
	}
	return "", false
}

func clonePlan(p domain.PlanDefinition) domain.PlanDefinition {
	out := p
	out.Items = make([]domain.PlanItemSpec, len(p.Items))
	for i, spec := range p.Items {
		spec.DependsOn = append([]string(nil), spec.DependsOn...)
		out.Items[i] = spec
	}
	if p.Groups != nil {
		out.Groups = append([]domain.GroupDef(nil), p.Groups...)
	}
	return out
}
