package services

import (
	"time"

	"github.com/claimflow/engine/db"
	"github.com/claimflow/engine/internal/config"
)

// Snapshot is the frozen state a scoring pass runs against. Scores are
// pure functions of (item, worker, snapshot): no clock reads, no store
// round-trips, so identical snapshots always yield identical scores.
type Snapshot struct {
	Now             time.Time
	Loads           map[string]int     // worker id -> current load
	Performance     map[string]float64 // worker id -> trailing completed/assigned ratio
	AccountHandlers map[string]bool    // worker ids designated for the item's client
}

// RuleKind identifies one scoring rule. Rules are data, not closures, so
// each one is testable in isolation and feeds the decision's rule trace.
type RuleKind int

const (
	RuleOwnership RuleKind = iota
	RuleTeamMatch
	RuleSkillMatch
	RuleUrgency
	RuleWorkload
	RulePerformance
	RuleAvailability
)

func (k RuleKind) String() string {
	switch k {
	case RuleOwnership:
		return "ownership_continuity"
	case RuleTeamMatch:
		return "team_match"
	case RuleSkillMatch:
		return "skill_match"
	case RuleUrgency:
		return "urgency_override"
	case RuleWorkload:
		return "workload_factor"
	case RulePerformance:
		return "performance_factor"
	case RuleAvailability:
		return "availability_bonus"
	default:
		return "unknown"
	}
}

// ScoringRule is one weighted rule of the fitness model
type ScoringRule struct {
	Kind   RuleKind
	Weight float64
}

// ScoringEngine computes the fitness score of a worker for a work item.
// Rule contributions are summed, never short-circuited, in priority order
// of weight.
type ScoringEngine struct {
	cfg   config.EngineConfig
	rules []ScoringRule
}

func NewScoringEngine(cfg config.EngineConfig) *ScoringEngine {
	return &ScoringEngine{
		cfg: cfg,
		rules: []ScoringRule{
			{Kind: RuleOwnership, Weight: cfg.OwnershipWeight},
			{Kind: RuleTeamMatch, Weight: cfg.TeamMatchWeight},
			{Kind: RuleSkillMatch, Weight: cfg.SkillWeight},
			{Kind: RuleUrgency, Weight: cfg.UrgencyWeight},
			{Kind: RuleWorkload, Weight: 1},
			{Kind: RulePerformance, Weight: cfg.PerformanceScale},
			{Kind: RuleAvailability, Weight: cfg.AvailabilityBonus},
		},
	}
}

// Score returns the total fitness of worker for item under snap, plus the
// ordered trace of per-rule contributions.
func (e *ScoringEngine) Score(item db.WorkItem, worker db.Worker, snap Snapshot) (float64, []db.RuleContribution) {
	total := 0.0
	trace := make([]db.RuleContribution, 0, len(e.rules))
	for _, rule := range e.rules {
		c := e.contribution(rule, item, worker, snap)
		total += c
		trace = append(trace, db.RuleContribution{Rule: rule.Kind.String(), Contribution: c})
	}
	return total, trace
}

func (e *ScoringEngine) contribution(rule ScoringRule, item db.WorkItem, worker db.Worker, snap Snapshot) float64 {
	switch rule.Kind {
	case RuleOwnership:
		if snap.AccountHandlers[worker.ID] {
			return rule.Weight
		}
	case RuleTeamMatch:
		if worker.TeamID != "" && worker.TeamID == item.TeamID {
			return rule.Weight
		}
	case RuleSkillMatch:
		if worker.HasSkill(RequiredSkill(item)) {
			return rule.Weight
		}
	case RuleUrgency:
		if item.SLACritical(snap.Now, e.cfg.SLACriticalDays) && worker.Seniority >= e.cfg.SeniorityThreshold {
			return rule.Weight
		}
	case RuleWorkload:
		headroom := e.cfg.WorkloadBaseline - float64(snap.Loads[worker.ID])
		if headroom > 0 {
			return headroom
		}
	case RulePerformance:
		ratio, ok := snap.Performance[worker.ID]
		if !ok {
			ratio = e.cfg.DefaultPerformance
		}
		return ratio * rule.Weight
	case RuleAvailability:
		if snap.Loads[worker.ID] < e.cfg.AvailabilityMaxLoad {
			return rule.Weight
		}
	}
	return 0
}

// RequiredSkill maps an item type to the skill tag it calls for.
func RequiredSkill(item db.WorkItem) string {
	switch item.ItemType {
	case "high_volume":
		return "high_volume"
	case "complex":
		return "complex_cases"
	case "urgent":
		return "urgent_processing"
	default:
		return "claims_processing"
	}
}
