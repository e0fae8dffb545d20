package services

import (
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/claimflow/engine/db"
	"github.com/claimflow/engine/internal/config"
)

// AssignmentService decides which worker owns each incoming work item.
// Scoring runs over an in-memory snapshot; the store is only touched to
// read state and to commit guarded writes.
type AssignmentService struct {
	Items     WorkItemStore
	Directory WorkerDirectory
	Audit     AuditSink
	Scoring   *ScoringEngine

	cfg config.EngineConfig
}

func NewAssignmentService(items WorkItemStore, directory WorkerDirectory, audit AuditSink, cfg config.EngineConfig) *AssignmentService {
	return &AssignmentService{
		Items:     items,
		Directory: directory,
		Audit:     audit,
		Scoring:   NewScoringEngine(cfg),
		cfg:       cfg,
	}
}

// AssignSingle scores all eligible workers for the item, commits the
// maximum, and records an audit decision with reason=initial.
func (s *AssignmentService) AssignSingle(itemID string) (db.AssignmentResult, error) {
	var result db.AssignmentResult

	item, err := s.Items.GetWorkItem(itemID)
	if err != nil {
		return result, transient("get work item", err)
	}
	if item.Status != db.StatusUnassigned {
		return result, ErrAssignmentConflict
	}

	workers, err := s.Directory.ListEligibleWorkers()
	if err != nil {
		return result, transient("list eligible workers", err)
	}
	if len(workers) == 0 {
		return result, ErrNoEligibleWorker
	}

	now := time.Now()
	snap, err := s.loadSnapshot(workers, item.ClientRef, now)
	if err != nil {
		return result, err
	}

	best, score, trace := s.pickBest(item, workers, snap)

	if err := s.Items.ClaimItem(item.ID, best.ID, now); err != nil {
		if err == ErrAssignmentConflict {
			return result, ErrAssignmentConflict
		}
		return result, transient("claim work item", err)
	}

	s.recordDecision(item.ID, best.ID, score, trace, db.ReasonInitial)
	log.Printf("Assigned work item %s to %s (score %.2f)", item.ID, best.ID, score)

	result = db.AssignmentResult{WorkItemID: item.ID, WorkerID: best.ID, Score: score, RuleTrace: trace}
	return result, nil
}

// AssignBatch assigns a batch of items greedily and sequentially: a local
// running load counter per worker is seeded from live load and bumped
// after each tentative assignment, so later items see updated headroom.
// This is explicitly not a globally optimal matching; it is bounded work
// per item. The returned map always carries a full per-item accounting.
func (s *AssignmentService) AssignBatch(itemIDs []string, policy db.BatchPolicy) (map[string]db.BatchItemOutcome, error) {
	workers, err := s.Directory.ListEligibleWorkers()
	if err != nil {
		return nil, transient("list eligible workers", err)
	}
	// Fail fast before any writes when nobody can take work at all
	if len(workers) == 0 {
		return nil, ErrNoEligibleWorker
	}

	now := time.Now()
	outcomes := make(map[string]db.BatchItemOutcome, len(itemIDs))

	// A repeated id is one request, not a second claim that would then
	// conflict with the first
	itemIDs = dedupe(itemIDs)

	items := make([]db.WorkItem, 0, len(itemIDs))
	for _, id := range itemIDs {
		item, err := s.Items.GetWorkItem(id)
		if err != nil {
			outcomes[id] = db.BatchItemOutcome{SkippedReason: "not_found"}
			continue
		}
		if item.Status != db.StatusUnassigned {
			outcomes[id] = db.BatchItemOutcome{SkippedReason: "concurrent_conflict"}
			continue
		}
		items = append(items, item)
	}

	if policy.PrioritizeUrgent {
		// Most overdue first
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].DaysRemaining(now) < items[j].DaysRemaining(now)
		})
	}

	ids := workerIDs(workers)
	running, err := s.Items.CurrentLoads(ids)
	if err != nil {
		return nil, transient("load current loads", err)
	}
	since := now.AddDate(0, 0, -s.cfg.PerformanceWindow)
	perf, err := s.Items.PerformanceRatios(ids, since)
	if err != nil {
		return nil, transient("load performance ratios", err)
	}

	for _, item := range items {
		candidates := workers
		if policy.RespectExpertise {
			candidates = filterBySkill(workers, RequiredSkill(item))
		}
		if len(candidates) == 0 {
			outcomes[item.ID] = db.BatchItemOutcome{SkippedReason: "no_eligible_worker"}
			continue
		}

		handlers, err := s.Directory.AccountHandlers(item.ClientRef)
		if err != nil {
			outcomes[item.ID] = db.BatchItemOutcome{SkippedReason: "directory_unavailable"}
			continue
		}

		snap := Snapshot{
			Now:             now,
			Loads:           running,
			Performance:     perf,
			AccountHandlers: toSet(handlers),
		}

		best, score, trace := s.pickBestBalanced(item, candidates, snap, policy.BalanceWorkload)

		// Commit re-checks the still-unassigned precondition; items that
		// changed concurrently are reported, not overwritten
		if err := s.Items.ClaimItem(item.ID, best.ID, now); err != nil {
			if err == ErrAssignmentConflict {
				outcomes[item.ID] = db.BatchItemOutcome{SkippedReason: "concurrent_conflict"}
			} else {
				outcomes[item.ID] = db.BatchItemOutcome{SkippedReason: "store_unavailable"}
			}
			continue
		}

		running[best.ID]++
		s.recordDecision(item.ID, best.ID, score, trace, db.ReasonInitial)
		outcomes[item.ID] = db.BatchItemOutcome{WorkerID: best.ID, Score: score}
	}

	log.Printf("Batch assignment: %d items requested, %d assigned", len(itemIDs), countAssigned(outcomes))
	return outcomes, nil
}

// ManualAssign commits a team lead's explicit worker choice for an item,
// with the same conflict guard as automatic assignment.
func (s *AssignmentService) ManualAssign(itemID, workerID string) (db.AssignmentResult, error) {
	var result db.AssignmentResult

	item, err := s.Items.GetWorkItem(itemID)
	if err != nil {
		return result, transient("get work item", err)
	}
	if item.Status != db.StatusUnassigned {
		return result, ErrAssignmentConflict
	}

	worker, err := s.Directory.GetWorker(workerID)
	if err != nil {
		return result, transient("get worker", err)
	}
	if !worker.IsActive {
		return result, fmt.Errorf("worker %s is not active", workerID)
	}

	now := time.Now()
	snap, err := s.loadSnapshot([]db.Worker{worker}, item.ClientRef, now)
	if err != nil {
		return result, err
	}
	score, trace := s.Scoring.Score(item, worker, snap)

	if err := s.Items.ClaimItem(item.ID, worker.ID, now); err != nil {
		if err == ErrAssignmentConflict {
			return result, ErrAssignmentConflict
		}
		return result, transient("claim work item", err)
	}

	s.recordDecision(item.ID, worker.ID, score, trace, db.ReasonManualOverride)
	log.Printf("Manually assigned work item %s to %s", item.ID, worker.ID)

	result = db.AssignmentResult{WorkItemID: item.ID, WorkerID: worker.ID, Score: score, RuleTrace: trace}
	return result, nil
}

// RecallItem returns an assigned item to the unassigned pool.
func (s *AssignmentService) RecallItem(itemID string) error {
	item, err := s.Items.GetWorkItem(itemID)
	if err != nil {
		return transient("get work item", err)
	}
	if item.Status != db.StatusAssigned || item.CurrentOwnerID == "" {
		return ErrAssignmentConflict
	}
	if err := s.Items.ReleaseItem(item.ID, item.CurrentOwnerID); err != nil {
		if err == ErrAssignmentConflict {
			return err
		}
		return transient("release work item", err)
	}
	log.Printf("Recalled work item %s from %s", item.ID, item.CurrentOwnerID)
	return nil
}

func (s *AssignmentService) loadSnapshot(workers []db.Worker, clientRef string, now time.Time) (Snapshot, error) {
	ids := workerIDs(workers)

	loads, err := s.Items.CurrentLoads(ids)
	if err != nil {
		return Snapshot{}, transient("load current loads", err)
	}
	since := now.AddDate(0, 0, -s.cfg.PerformanceWindow)
	perf, err := s.Items.PerformanceRatios(ids, since)
	if err != nil {
		return Snapshot{}, transient("load performance ratios", err)
	}
	handlers, err := s.Directory.AccountHandlers(clientRef)
	if err != nil {
		return Snapshot{}, transient("load account handlers", err)
	}

	return Snapshot{Now: now, Loads: loads, Performance: perf, AccountHandlers: toSet(handlers)}, nil
}

// pickBest returns the highest-scoring worker; ties break by ascending
// worker id so results are reproducible.
func (s *AssignmentService) pickBest(item db.WorkItem, workers []db.Worker, snap Snapshot) (db.Worker, float64, []db.RuleContribution) {
	return s.pickBestBalanced(item, workers, snap, false)
}

func (s *AssignmentService) pickBestBalanced(item db.WorkItem, workers []db.Worker, snap Snapshot, balance bool) (db.Worker, float64, []db.RuleContribution) {
	var (
		best      db.Worker
		bestScore float64
		bestTrace []db.RuleContribution
		bestRank  float64
		found     bool
	)
	for _, w := range workers {
		score, trace := s.Scoring.Score(item, w, snap)
		rank := score
		if balance {
			rank -= s.cfg.BalancePenalty * float64(snap.Loads[w.ID])
		}
		if !found || rank > bestRank || (rank == bestRank && w.ID < best.ID) {
			best, bestScore, bestTrace, bestRank, found = w, score, trace, rank, true
		}
	}
	return best, bestScore, bestTrace
}

func (s *AssignmentService) recordDecision(itemID, workerID string, score float64, trace []db.RuleContribution, reason string) {
	decision := db.AssignmentDecision{
		ID:         uuid.New().String(),
		WorkItemID: itemID,
		WorkerID:   workerID,
		Score:      score,
		RuleTrace:  trace,
		Reason:     reason,
		CreatedAt:  time.Now(),
	}
	if err := s.Audit.RecordDecision(decision); err != nil {
		log.Printf("Failed to record assignment decision for %s: %v", itemID, err)
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func workerIDs(workers []db.Worker) []string {
	ids := make([]string, len(workers))
	for i, w := range workers {
		ids[i] = w.ID
	}
	return ids
}

func filterBySkill(workers []db.Worker, skill string) []db.Worker {
	var out []db.Worker
	for _, w := range workers {
		if w.HasSkill(skill) {
			out = append(out, w)
		}
	}
	return out
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func countAssigned(outcomes map[string]db.BatchItemOutcome) int {
	n := 0
	for _, o := range outcomes {
		if o.WorkerID != "" {
			n++
		}
	}
	return n
}
