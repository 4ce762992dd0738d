package plans

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"control_room/internal/domain"
)

func TestBuildItemsFromBuiltinPlans(t *testing.T) {
	for _, plan := range Builtin().All() {
		items, err := BuildItems(plan)
		if err != nil {
			t.Fatalf("build %s: %v", plan.Name, err)
		}
		if len(items) != len(plan.Items) {
			t.Fatalf("plan %s: expected %d items, got %d", plan.Name, len(plan.Items), len(items))
		}
		for _, spec := range plan.Items {
			it, ok := items[spec.ID]
			if !ok {
				t.Fatalf("plan %s: missing item %s", plan.Name, spec.ID)
			}
			if it.Status != domain.ItemStatusQueued {
				t.Fatalf("item %s: expected queued, got %s", spec.ID, it.Status)
			}
			if it.TokensDone != 0 || it.TPS != spec.TPSMin || it.EtaMS != spec.EstimateMS {
				t.Fatalf("item %s: unexpected initial counters %+v", spec.ID, it)
			}
			if it.StartedAt != nil || it.AgentID != "" {
				t.Fatalf("item %s: expected no start time or agent", spec.ID)
			}
		}
	}
}

func TestEstimateTokensRoundsMidpoint(t *testing.T) {
	cases := []struct {
		spec domain.PlanItemSpec
		want int64
	}{
		{domain.PlanItemSpec{EstimateMS: 4000, TPSMin: 8, TPSMax: 16}, 48},
		{domain.PlanItemSpec{EstimateMS: 8000, TPSMin: 1.5, TPSMax: 3}, 18},
		{domain.PlanItemSpec{EstimateMS: 4000, TPSMin: 0.8, TPSMax: 1.5}, 5},
		{domain.PlanItemSpec{EstimateMS: 1000, TPSMin: 10, TPSMax: 10}, 10},
	}
	for _, tc := range cases {
		if got := EstimateTokens(tc.spec); got != tc.want {
			t.Fatalf("EstimateTokens(%+v) = %d, want %d", tc.spec, got, tc.want)
		}
	}
}

func TestBuildItemsRejectsDanglingDependency(t *testing.T) {
	plan := domain.PlanDefinition{
		Name: "broken",
		Items: []domain.PlanItemSpec{
			{ID: "A", Sector: domain.SectorBuild, EstimateMS: 1000, TPSMin: 1, TPSMax: 2},
			{ID: "B", Sector: domain.SectorBuild, DependsOn: []string{"Z"}, EstimateMS: 1000, TPSMin: 1, TPSMax: 2},
		},
	}
	items, err := BuildItems(plan)
	if items != nil {
		t.Fatalf("expected no partial item map, got %d items", len(items))
	}
	var dangling *DanglingDependencyError
	if !errors.As(err, &dangling) {
		t.Fatalf("expected DanglingDependencyError, got %v", err)
	}
	if dangling.ItemID != "B" || dangling.Dependency != "Z" {
		t.Fatalf("unexpected dangling reference: %+v", dangling)
	}
}

func TestBuildItemsRejectsDuplicateIDs(t *testing.T) {
	plan := domain.PlanDefinition{
		Name: "dup",
		Items: []domain.PlanItemSpec{
			{ID: "A", Sector: domain.SectorBuild, EstimateMS: 1000},
			{ID: "A", Sector: domain.SectorBuild, EstimateMS: 1000},
		},
	}
	if _, err := BuildItems(plan); !errors.Is(err, ErrInvalidPlan) {
		t.Fatalf("expected ErrInvalidPlan, got %v", err)
	}
}

func TestRegistryLookupAndDefaults(t *testing.T) {
	r := Builtin()
	if r.Default() != "Rush" {
		t.Fatalf("expected Rush default, got %s", r.Default())
	}
	plan, ok := r.Get("calm")
	if !ok || plan.Name != "Calm" {
		t.Fatalf("expected case-insensitive lookup of Calm, got %q ok=%t", plan.Name, ok)
	}
	for _, spec := range plan.Items {
		if _, ok := domain.ParseSector(string(spec.Sector)); !ok {
			t.Fatalf("item %s has non-canonical sector %q", spec.ID, spec.Sector)
		}
	}

	rush, _ := r.Get("Rush")
	if rush.Items[0].Sector != domain.SectorPlanning {
		t.Fatalf("expected Rush sectors normalized, got %q", rush.Items[0].Sector)
	}

	plan.Items[0].DependsOn = append(plan.Items[0].DependsOn, "mutated")
	again, _ := r.Get("Calm")
	if len(again.Items[0].DependsOn) != 0 {
		t.Fatalf("registry plan was mutated through a returned copy")
	}

	if _, err := r.With(CalmPlan()); !errors.Is(err, ErrInvalidPlan) {
		t.Fatalf("expected duplicate plan name to be rejected, got %v", err)
	}
	var unknown *UnknownPlanError
	if _, err := r.WithDefault("nope"); !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownPlanError, got %v", err)
	}
}

func TestLoadFileTOMLAndYAML(t *testing.T) {
	dir := t.TempDir()
	tomlPath := filepath.Join(dir, "plans.toml")
	if err := os.WriteFile(tomlPath, []byte(`
[[plans]]
name = "Night"
description = "overnight batch"

[[plans.items]]
id = "N1"
group = "N"
sector = "build"
depends_on = []
estimate_ms = 2000
tps_min = 4.0
tps_max = 6.0

[[plans.items]]
id = "N2"
group = "N"
sector = "Deploy"
depends_on = ["N1"]
estimate_ms = 1000
tps_min = 2.0
tps_max = 2.0
`), 0o644); err != nil {
		t.Fatalf("write toml: %v", err)
	}
	yamlPath := filepath.Join(dir, "plans.yaml")
	if err := os.WriteFile(yamlPath, []byte(`
plans:
  - name: Morning
    items:
      - id: M1
        group: M
        sector: eval
        estimate_ms: 3000
        tps_min: 1
        tps_max: 3
`), 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}

	fromTOML, err := LoadFile(tomlPath)
	if err != nil {
		t.Fatalf("load toml: %v", err)
	}
	fromYAML, err := LoadFile(yamlPath)
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if len(fromTOML) != 1 || fromTOML[0].Items[0].Sector != domain.SectorBuild || fromTOML[0].Items[1].Sector != domain.SectorDeploy {
		t.Fatalf("unexpected toml plans: %+v", fromTOML)
	}
	if len(fromYAML) != 1 || fromYAML[0].Items[0].Sector != domain.SectorEval {
		t.Fatalf("unexpected yaml plans: %+v", fromYAML)
	}

	r, err := Builtin().With(append(fromTOML, fromYAML...)...)
	if err != nil {
		t.Fatalf("extend registry: %v", err)
	}
	if _, ok := r.Get("Night"); !ok {
		t.Fatalf("expected Night plan in extended registry")
	}
	if _, ok := Builtin().Get("Night"); ok {
		t.Fatalf("builtin registry must not change when extended")
	}

	if _, err := LoadFile(filepath.Join(dir, "plans.json")); err == nil {
		t.Fatalf("expected error for missing/unsupported file")
	}
}

func TestGroupsDerivedWhenPlanDeclaresNone(t *testing.T) {
	web := WebPlan()
	items, err := BuildItems(web)
	if err != nil {
		t.Fatalf("build web: %v", err)
	}
	groups := Groups(web, items)
	if len(groups) != 4 {
		t.Fatalf("expected 4 derived groups, got %d", len(groups))
	}
	if groups[0].ID != "Backend" || groups[0].Description != "2 work items." {
		t.Fatalf("unexpected first group: %+v", groups[0])
	}

	calm := CalmPlan()
	if got := Groups(calm, nil); len(got) != len(calm.Groups) {
		t.Fatalf("expected declared groups to be returned as-is")
	}
}
