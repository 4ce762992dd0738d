package plans

import "control_room/internal/domain"

func item(id, group string, sector domain.Sector, deps []string, estimateMS int64, tpsMin, tpsMax float64) domain.PlanItemSpec {
	return domain.PlanItemSpec{
		ID:         id,
		Group:      group,
		Sector:     sector,
		DependsOn:  deps,
		EstimateMS: estimateMS,
		TPSMin:     tpsMin,
		TPSMax:     tpsMax,
	}
}

func deps(ids ...string) []string {
	return ids
}

// RushPlan has more items, more parallel branches and wider throughput bands.
func RushPlan() domain.PlanDefinition {
	return domain.PlanDefinition{
		Name:        "Rush",
		Description: "Fast cadence, 4 sectors, more parallel branches (~20 items).",
		Items: []domain.PlanItemSpec{
			item("PA1", "P", domain.SectorPlanning, deps(), 20000, 12, 24),
			item("PA2", "P", domain.SectorPlanning, deps("PA1"), 18000, 12, 22),
			item("PB1", "P", domain.SectorPlanning, deps(), 16000, 10, 20),

			item("BA1", "B", domain.SectorBuild, deps("PA1"), 22000, 14, 26),
			item("BA2", "B", domain.SectorBuild, deps("BA1"), 20000, 14, 24),
			item("BB1", "B", domain.SectorBuild, deps("PB1"), 21000, 12, 22),
			item("BB2", "B", domain.SectorBuild, deps("BB1"), 19000, 12, 22),
			item("BC1", "B", domain.SectorBuild, deps("PA2"), 17000, 12, 20),

			item("EA1", "E", domain.SectorEval, deps("BA2", "BB2"), 15000, 8, 18),
			item("EA2", "E", domain.SectorEval, deps("BC1"), 14000, 8, 16),
			item("EB1", "E", domain.SectorEval, deps("EA1"), 12000, 8, 16),

			item("DA1", "D", domain.SectorDeploy, deps("EA1"), 12000, 8, 14),
			item("DA2", "D", domain.SectorDeploy, deps("EA2"), 11000, 8, 14),
			item("DB1", "D", domain.SectorDeploy, deps("EB1"), 10000, 8, 14),

			item("BA3", "B", domain.SectorBuild, deps("PA2"), 16000, 14, 24),
			item("EA3", "E", domain.SectorEval, deps("BA3"), 12000, 8, 18),
			item("DA3", "D", domain.SectorDeploy, deps("EA3"), 9000, 8, 14),
		},
	}
}

// CalmPlan is twelve items with shallow chains; Eval joins the Planning and
// Build paths and Deploy follows Eval.
func CalmPlan() domain.PlanDefinition {
	return domain.PlanDefinition{
		Name:        "Calm",
		Description: "12 items, shallow deps. Good for first demo.",
		Items: []domain.PlanItemSpec{
			item("A1", "A", domain.SectorPlanning, deps(), 4000, 8, 16),
			item("A2", "A", domain.SectorPlanning, deps("A1"), 10000, 500, 1400),
			item("A3", "A", domain.SectorPlanning, deps(), 3000, 7, 13),
			item("A4", "A", domain.SectorPlanning, deps("A3"), 2500, 7, 12),

			item("B1", "B", domain.SectorBuild, deps(), 5000, 10, 18),
			item("B2", "B", domain.SectorBuild, deps("B1"), 4500, 10, 16),
			item("B3", "B", domain.SectorBuild, deps(), 3000, 9, 15),
			item("B4", "B", domain.SectorBuild, deps("B3"), 2500, 9, 14),

			item("C1", "C", domain.SectorEval, deps("A2", "B2"), 3000, 6, 12),
			item("C2", "C", domain.SectorEval, deps("A4", "B4"), 2800, 6, 11),

			item("D1", "D", domain.SectorDeploy, deps("C1"), 2500, 6, 10),
			item("D2", "D", domain.SectorDeploy, deps("C2"), 2200, 6, 10),
		},
		Groups: []domain.GroupDef{
			{ID: "A", Title: "Planning", Description: "Requirements and design chains."},
			{ID: "B", Title: "Build", Description: "Implementation chains."},
			{ID: "C", Title: "Eval", Description: "Joins planning and build output."},
			{ID: "D", Title: "Deploy", Description: "Ships evaluated work."},
		},
	}
}

func WebPlan() domain.PlanDefinition {
	return domain.PlanDefinition{
		Name: "Web",
		Items: []domain.PlanItemSpec{
			item("W1", "Frontend", domain.SectorPlanning, deps(), 8000, 1.5, 3),
			item("W2", "Frontend", domain.SectorBuild, deps("W1"), 12000, 2, 4),
			item("W3", "Backend", domain.SectorPlanning, deps(), 10000, 1.8, 3.5),
			item("W4", "Backend", domain.SectorBuild, deps("W3"), 15000, 2.2, 4.5),
			item("W5", "Testing", domain.SectorEval, deps("W2", "W4"), 6000, 1, 2),
			item("W6", "Deploy", domain.SectorDeploy, deps("W5"), 4000, 0.8, 1.5),
		},
	}
}

// TestPlan is the smallest chain: B waits for A.
func TestPlan() domain.PlanDefinition {
	return domain.PlanDefinition{
		Name:        "Test",
		Description: "Two items, B depends on A.",
		Items: []domain.PlanItemSpec{
			item("A", "T", domain.SectorBuild, deps(), 1000, 10, 10),
			item("B", "T", domain.SectorEval, deps("A"), 1000, 10, 10),
		},
	}
}
