package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/claimflow/engine/db"
)

func TestScoreIsDeterministic(t *testing.T) {
	engine := NewScoringEngine(testEngineConfig())
	item := testItem("item-1", "team-1", "client-1")
	worker := testWorker("worker-1", "team-1", 20)
	worker.Skills = []string{"claims_processing"}
	snap := Snapshot{
		Now:             time.Now(),
		Loads:           map[string]int{"worker-1": 3},
		Performance:     map[string]float64{"worker-1": 0.9},
		AccountHandlers: map[string]bool{"worker-1": true},
	}

	first, firstTrace := engine.Score(item, worker, snap)
	for i := 0; i < 10; i++ {
		score, trace := engine.Score(item, worker, snap)
		assert.Equal(t, first, score)
		assert.Equal(t, firstTrace, trace)
	}
}

func TestScoreTraceCoversEveryRuleInOrder(t *testing.T) {
	engine := NewScoringEngine(testEngineConfig())
	item := testItem("item-1", "team-1", "client-1")
	worker := testWorker("worker-1", "team-1", 20)

	total, trace := engine.Score(item, worker, Snapshot{Now: time.Now(), Loads: map[string]int{}})

	names := make([]string, len(trace))
	sum := 0.0
	for i, c := range trace {
		names[i] = c.Rule
		sum += c.Contribution
	}
	assert.Equal(t, []string{
		"ownership_continuity",
		"team_match",
		"skill_match",
		"urgency_override",
		"workload_factor",
		"performance_factor",
		"availability_bonus",
	}, names)
	assert.InDelta(t, total, sum, 1e-9)
}

// Ownership continuity must beat team match even when the team-matched
// worker carries less load.
func TestScoreOwnershipOutranksTeamMatch(t *testing.T) {
	cfg := testEngineConfig()
	cfg.AvailabilityBonus = 0
	engine := NewScoringEngine(cfg)

	item := testItem("item-1", "team-1", "client-acme")
	handler := testWorker("worker-x", "team-2", 20)
	teamMate := testWorker("worker-y", "team-1", 20)

	snap := Snapshot{
		Now:             time.Now(),
		Loads:           map[string]int{"worker-x": 5, "worker-y": 8},
		Performance:     map[string]float64{"worker-x": 0, "worker-y": 0},
		AccountHandlers: map[string]bool{"worker-x": true},
	}

	handlerScore, _ := engine.Score(item, handler, snap)
	teamMateScore, _ := engine.Score(item, teamMate, snap)

	assert.Equal(t, 15.0, handlerScore) // ownership 10 + headroom 5
	assert.Equal(t, 6.0, teamMateScore) // team match 4 + headroom 2
	assert.Greater(t, handlerScore, teamMateScore)
}

func TestScoreUrgencyNeedsBothCriticalSLAAndSeniority(t *testing.T) {
	cfg := testEngineConfig()
	engine := NewScoringEngine(cfg)

	item := testItem("item-1", "team-1", "client-1")
	item.ReceivedAt = time.Now().Add(-28 * 24 * time.Hour)
	item.SLADeadlineDays = 30 // 2 days remaining, inside the critical window

	senior := testWorker("worker-senior", "team-2", 20)
	senior.Seniority = cfg.SeniorityThreshold
	junior := testWorker("worker-junior", "team-2", 20)
	junior.Seniority = cfg.SeniorityThreshold - 1

	snap := Snapshot{Now: time.Now(), Loads: map[string]int{}}
	seniorScore, _ := engine.Score(item, senior, snap)
	juniorScore, _ := engine.Score(item, junior, snap)
	assert.InDelta(t, cfg.UrgencyWeight, seniorScore-juniorScore, 1e-9)

	// Same pair on a relaxed deadline scores identically
	item.SLADeadlineDays = 90
	seniorScore, _ = engine.Score(item, senior, snap)
	juniorScore, _ = engine.Score(item, junior, snap)
	assert.Equal(t, seniorScore, juniorScore)
}

func TestScoreWorkloadFactorFloorsAtZero(t *testing.T) {
	cfg := testEngineConfig()
	engine := NewScoringEngine(cfg)
	item := testItem("item-1", "team-1", "client-1")
	worker := testWorker("worker-1", "team-2", 20)

	overBaseline := Snapshot{Now: time.Now(), Loads: map[string]int{"worker-1": int(cfg.WorkloadBaseline) + 4}}
	atBaseline := Snapshot{Now: time.Now(), Loads: map[string]int{"worker-1": int(cfg.WorkloadBaseline)}}

	overScore, _ := engine.Score(item, worker, overBaseline)
	atScore, _ := engine.Score(item, worker, atBaseline)

	// Load past the baseline does not drive the score negative
	assert.Equal(t, atScore, overScore)
}

func TestScorePerformanceDefaultsWhenNoHistory(t *testing.T) {
	cfg := testEngineConfig()
	engine := NewScoringEngine(cfg)
	item := testItem("item-1", "team-1", "client-1")
	worker := testWorker("worker-1", "team-2", 20)

	_, trace := engine.Score(item, worker, Snapshot{Now: time.Now(), Loads: map[string]int{}})
	for _, c := range trace {
		if c.Rule == "performance_factor" {
			assert.InDelta(t, cfg.DefaultPerformance*cfg.PerformanceScale, c.Contribution, 1e-9)
			return
		}
	}
	t.Fatal("trace missing performance_factor")
}

func TestScoreAvailabilityBonusCutsOffAtMaxLoad(t *testing.T) {
	cfg := testEngineConfig()
	engine := NewScoringEngine(cfg)
	item := testItem("item-1", "team-1", "client-1")
	worker := testWorker("worker-1", "team-2", 20)

	light := Snapshot{Now: time.Now(), Loads: map[string]int{"worker-1": cfg.AvailabilityMaxLoad - 1}}
	saturated := Snapshot{Now: time.Now(), Loads: map[string]int{"worker-1": cfg.AvailabilityMaxLoad}}

	lightScore, _ := engine.Score(item, worker, light)
	saturatedScore, _ := engine.Score(item, worker, saturated)
	// Headroom is exhausted at both loads, so only the bonus differs
	assert.InDelta(t, cfg.AvailabilityBonus, lightScore-saturatedScore, 1e-9)
}

func TestRequiredSkill(t *testing.T) {
	cases := map[string]string{
		"high_volume": "high_volume",
		"complex":     "complex_cases",
		"urgent":      "urgent_processing",
		"standard":    "claims_processing",
		"":            "claims_processing",
	}
	for itemType, want := range cases {
		item := db.WorkItem{ItemType: itemType}
		assert.Equal(t, want, RequiredSkill(item), "item type %q", itemType)
	}
}
