package services

import (
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/claimflow/engine/db"
	"github.com/claimflow/engine/internal/config"
)

// RebalanceService moves work from overloaded to underloaded workers
// strictly within one team. It is a bounded greedy heuristic meant to
// finish within a single control-loop tick, not a globally optimal
// redistribution; when it cannot balance within policy limits it
// escalates instead of forcing moves.
type RebalanceService struct {
	Items     WorkItemStore
	Directory WorkerDirectory
	Audit     AuditSink
	Alerts    AlertStore
	Sink      AlertSink
	Scoring   *ScoringEngine

	cfg config.EngineConfig
}

func NewRebalanceService(items WorkItemStore, directory WorkerDirectory, audit AuditSink, alerts AlertStore, sink AlertSink, cfg config.EngineConfig) *RebalanceService {
	return &RebalanceService{
		Items:     items,
		Directory: directory,
		Audit:     audit,
		Alerts:    alerts,
		Sink:      sink,
		Scoring:   NewScoringEngine(cfg),
		cfg:       cfg,
	}
}

// RebalanceTeam runs one bounded rebalancing pass over a team. Each move
// is committed atomically per item; an item that changed concurrently is
// skipped, never overwritten.
func (s *RebalanceService) RebalanceTeam(teamID string) (db.RebalanceResult, error) {
	result := db.RebalanceResult{TeamID: teamID}

	team, err := s.Directory.GetTeam(teamID)
	if err != nil {
		return result, transient("get team", err)
	}
	workers, err := s.Directory.ListTeamWorkers(teamID)
	if err != nil {
		return result, transient("list team workers", err)
	}
	if len(workers) == 0 {
		return result, nil
	}

	byID := make(map[string]db.Worker, len(workers))
	for _, w := range workers {
		byID[w.ID] = w
	}

	running, err := s.Items.CurrentLoads(workerIDs(workers))
	if err != nil {
		return result, transient("load current loads", err)
	}

	now := time.Now()
	since := now.AddDate(0, 0, -s.cfg.PerformanceWindow)
	perf, err := s.Items.PerformanceRatios(workerIDs(workers), since)
	if err != nil {
		return result, transient("load performance ratios", err)
	}

	overloaded := s.overloadedWorkers(workers, running)

	for _, source := range overloaded {
		capTarget := float64(source.Capacity) * s.cfg.RebalanceTarget
		excess := int(math.Ceil(float64(running[source.ID]) - capTarget))
		if excess <= 0 {
			continue
		}

		// Most-recently-assigned first: minimizes discarded effort
		items, err := s.Items.ListAssignedTo(source.ID)
		if err != nil {
			return result, transient("list assigned items", err)
		}

		moved := 0
		for _, item := range items {
			if moved >= excess {
				break
			}

			// Target recomputed after every move to avoid overshoot
			target, ok := s.leastUtilizedUnderloaded(workers, running, source.ID)
			if !ok {
				s.escalate(db.ScopeWorker, source.ID, utilization(running[source.ID], source.Capacity),
					fmt.Sprintf("Worker %s overloaded, no underloaded teammate available - manual intervention required", source.Name))
				result.Escalated = true
				result.Reason = "no underloaded worker available"
				break
			}

			if err := s.Items.MoveItem(item.ID, source.ID, target.ID, now); err != nil {
				if err == ErrAssignmentConflict {
					// Item changed under us; skip it
					continue
				}
				return result, transient("move work item", err)
			}

			running[source.ID]--
			running[target.ID]++
			moved++

			snap := Snapshot{Now: now, Loads: running, Performance: perf, AccountHandlers: s.handlersFor(item.ClientRef)}
			score, trace := s.Scoring.Score(item, target, snap)
			s.recordMove(item.ID, target.ID, score, trace)

			result.Moves = append(result.Moves, db.RebalanceMove{
				WorkItemID:   item.ID,
				FromWorkerID: source.ID,
				ToWorkerID:   target.ID,
			})
			result.MovedCount++
		}

		if result.Escalated {
			break
		}
	}

	// If the team is still critical after the pass, stop and hand over to
	// a human rather than forcing further moves
	totalCap, totalLoad := 0, 0
	for _, w := range workers {
		totalCap += w.Capacity
		totalLoad += running[w.ID]
	}
	if totalCap > 0 && float64(totalLoad)/float64(totalCap) >= s.cfg.CriticalThreshold && !result.Escalated {
		s.escalate(db.ScopeTeam, team.ID, float64(totalLoad)/float64(totalCap),
			fmt.Sprintf("Team %s still critical after rebalancing - manual intervention required", team.Name))
		result.Escalated = true
		result.Reason = "still critical after rebalancing"
	}

	log.Printf("Rebalanced team %s: %d items moved, escalated=%t", teamID, result.MovedCount, result.Escalated)
	return result, nil
}

// overloadedWorkers returns team members above the overload threshold,
// most utilized first (ties by ascending id for reproducibility).
func (s *RebalanceService) overloadedWorkers(workers []db.Worker, loads map[string]int) []db.Worker {
	var out []db.Worker
	for _, w := range workers {
		if w.Capacity > 0 && float64(loads[w.ID]) > float64(w.Capacity)*s.cfg.OverloadedThreshold {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ui := utilization(loads[out[i].ID], out[i].Capacity)
		uj := utilization(loads[out[j].ID], out[j].Capacity)
		if ui != uj {
			return ui > uj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// leastUtilizedUnderloaded picks the current least-utilized worker still
// under the underload threshold, excluding the source.
func (s *RebalanceService) leastUtilizedUnderloaded(workers []db.Worker, loads map[string]int, excludeID string) (db.Worker, bool) {
	var (
		best     db.Worker
		bestUtil float64
		found    bool
	)
	for _, w := range workers {
		if w.ID == excludeID || w.Capacity == 0 {
			continue
		}
		util := utilization(loads[w.ID], w.Capacity)
		if util >= s.cfg.UnderloadedThreshold {
			continue
		}
		if !found || util < bestUtil || (util == bestUtil && w.ID < best.ID) {
			best, bestUtil, found = w, util, true
		}
	}
	return best, found
}

func (s *RebalanceService) handlersFor(clientRef string) map[string]bool {
	handlers, err := s.Directory.AccountHandlers(clientRef)
	if err != nil {
		log.Printf("Failed to load account handlers for %s: %v", clientRef, err)
		return nil
	}
	return toSet(handlers)
}

func (s *RebalanceService) recordMove(itemID, workerID string, score float64, trace []db.RuleContribution) {
	decision := db.AssignmentDecision{
		ID:         uuid.New().String(),
		WorkItemID: itemID,
		WorkerID:   workerID,
		Score:      score,
		RuleTrace:  trace,
		Reason:     db.ReasonRebalance,
		CreatedAt:  time.Now(),
	}
	if err := s.Audit.RecordDecision(decision); err != nil {
		log.Printf("Failed to record rebalance decision for %s: %v", itemID, err)
	}
}

// escalate raises or escalates a manual-intervention alert for a scope.
// At most one unresolved alert exists per scope: a repeat breach while a
// critical alert is already open neither rewrites nor re-delivers it.
func (s *RebalanceService) escalate(scopeType, scopeID string, util float64, message string) {
	if s.Alerts == nil {
		return
	}
	open, err := s.Alerts.OpenAlert(scopeType, scopeID)
	if err != nil {
		log.Printf("Failed to look up open alert for %s %s: %v", scopeType, scopeID, err)
		return
	}
	if open != nil {
		if open.Severity == db.SeverityCritical {
			return
		}
		if err := s.Alerts.EscalateAlert(open.ID, db.SeverityCritical, util, message); err != nil {
			log.Printf("Failed to escalate alert %s: %v", open.ID, err)
			return
		}
		open.Severity = db.SeverityCritical
		open.UtilizationRate = util
		open.Message = message
		s.deliver(*open)
		return
	}

	alert := db.OverloadAlert{
		ID:              uuid.New().String(),
		ScopeType:       scopeType,
		ScopeID:         scopeID,
		Severity:        db.SeverityCritical,
		UtilizationRate: util,
		Message:         message,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
	if err := s.Alerts.CreateAlert(alert); err != nil {
		log.Printf("Failed to create escalation alert for %s %s: %v", scopeType, scopeID, err)
		return
	}
	s.deliver(alert)
}

func (s *RebalanceService) deliver(alert db.OverloadAlert) {
	if s.Sink == nil {
		return
	}
	if err := s.Sink.DeliverAlert(alert); err != nil {
		log.Printf("Failed to deliver escalation alert %s: %v", alert.ID, err)
	}
}

func utilization(load, capacity int) float64 {
	if capacity == 0 {
		return 0
	}
	return float64(load) / float64(capacity)
}
