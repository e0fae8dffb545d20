package services

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/claimflow/engine/db"
	"github.com/claimflow/engine/internal/config"
)

const (
	scanLockKey = "claimflow:overload_scan"
	scanLockTTL = 60 * time.Second
)

// WorkloadService computes per-worker and per-team utilization from live
// state and raises or clears overload alerts. It owns no cadence: the
// periodic scan is driven by an external scheduler calling ScanOverload.
type WorkloadService struct {
	Items      WorkItemStore
	Directory  WorkerDirectory
	Alerts     AlertStore
	Sink       AlertSink
	Redis      *redis.Client
	Rebalancer *RebalanceService

	cfg       config.EngineConfig
	scanning  int32
	redisHeld bool
}

func NewWorkloadService(items WorkItemStore, directory WorkerDirectory, alerts AlertStore, sink AlertSink, redis *redis.Client, cfg config.EngineConfig) *WorkloadService {
	return &WorkloadService{
		Items:     items,
		Directory: directory,
		Alerts:    alerts,
		Sink:      sink,
		Redis:     redis,
		cfg:       cfg,
	}
}

// SetRebalancer wires the rebalancing controller so a scan can trigger
// rebalancing attempts as a side effect.
func (s *WorkloadService) SetRebalancer(r *RebalanceService) {
	s.Rebalancer = r
}

// ComputeWorkload returns the live utilization picture for one team.
func (s *WorkloadService) ComputeWorkload(teamID string) (db.TeamWorkload, error) {
	team, err := s.Directory.GetTeam(teamID)
	if err != nil {
		return db.TeamWorkload{}, transient("get team", err)
	}
	return s.teamWorkload(team)
}

// ScanOverload checks every team against the warning/critical thresholds,
// raising, escalating, or resolving alerts and triggering rebalancing for
// breached teams. Overlapping ticks are dropped, never interleaved: if a
// scan is already in flight the call returns ErrScanInProgress.
func (s *WorkloadService) ScanOverload() ([]db.OverloadAlert, error) {
	if !s.acquireScanLock() {
		return nil, ErrScanInProgress
	}
	defer s.releaseScanLock()

	teams, err := s.Directory.ListTeams()
	if err != nil {
		return nil, transient("list teams", err)
	}

	var raised []db.OverloadAlert
	for _, team := range teams {
		alert, err := s.checkTeam(team)
		if err != nil {
			log.Printf("Overload scan: team %s check failed: %v", team.ID, err)
			continue
		}
		if alert != nil {
			raised = append(raised, *alert)
		}
	}

	log.Printf("Overload scan complete: %d teams checked, %d alerts raised", len(teams), len(raised))
	return raised, nil
}

// ListOpenAlerts returns all unresolved overload alerts.
func (s *WorkloadService) ListOpenAlerts() ([]db.OverloadAlert, error) {
	alerts, err := s.Alerts.ListOpenAlerts()
	if err != nil {
		return nil, transient("list open alerts", err)
	}
	return alerts, nil
}

// checkTeam applies the threshold model to one team. At most one
// unresolved alert exists per team: a repeat breach escalates severity in
// place instead of duplicating, and the alert resolves only once
// utilization drops back under the warning threshold.
func (s *WorkloadService) checkTeam(team db.Team) (*db.OverloadAlert, error) {
	wl, err := s.teamWorkload(team)
	if err != nil {
		return nil, err
	}

	s.resolveRecoveredWorkers(wl)

	severity := ""
	switch {
	case wl.UtilizationRate >= s.cfg.CriticalThreshold:
		severity = db.SeverityCritical
	case wl.UtilizationRate >= s.cfg.WarningThreshold:
		severity = db.SeverityWarning
	}

	open, err := s.Alerts.OpenAlert(db.ScopeTeam, team.ID)
	if err != nil {
		return nil, transient("get open alert", err)
	}

	if severity == "" {
		if open != nil {
			if err := s.Alerts.ResolveAlert(open.ID); err != nil {
				return nil, transient("resolve alert", err)
			}
			log.Printf("Resolved overload alert for team %s (utilization %.0f%%)", team.ID, wl.UtilizationRate*100)
		}
		return nil, nil
	}

	var raised *db.OverloadAlert
	switch {
	case open == nil:
		alert := db.OverloadAlert{
			ID:              uuid.New().String(),
			ScopeType:       db.ScopeTeam,
			ScopeID:         team.ID,
			Severity:        severity,
			UtilizationRate: wl.UtilizationRate,
			Message:         fmt.Sprintf("Team %s at %.0f%% utilization", team.Name, wl.UtilizationRate*100),
			CreatedAt:       time.Now(),
			UpdatedAt:       time.Now(),
		}
		if err := s.Alerts.CreateAlert(alert); err != nil {
			return nil, transient("create alert", err)
		}
		s.deliver(alert)
		raised = &alert
	case open.Severity == db.SeverityWarning && severity == db.SeverityCritical:
		msg := fmt.Sprintf("Team %s escalated to critical (%.0f%% utilization)", team.Name, wl.UtilizationRate*100)
		if err := s.Alerts.EscalateAlert(open.ID, db.SeverityCritical, wl.UtilizationRate, msg); err != nil {
			return nil, transient("escalate alert", err)
		}
		open.Severity = db.SeverityCritical
		open.UtilizationRate = wl.UtilizationRate
		open.Message = msg
		s.deliver(*open)
		raised = open
	}

	// A breach triggers a bounded rebalancing attempt for the team
	if s.Rebalancer != nil {
		if _, err := s.Rebalancer.RebalanceTeam(team.ID); err != nil {
			log.Printf("Rebalancing attempt for team %s failed: %v", team.ID, err)
		}
	}

	return raised, nil
}

// resolveRecoveredWorkers clears worker-scope escalation alerts once the
// worker's utilization has dropped back under the warning threshold.
func (s *WorkloadService) resolveRecoveredWorkers(wl db.TeamWorkload) {
	for _, ws := range wl.PerWorker {
		if ws.UtilizationRate >= s.cfg.WarningThreshold {
			continue
		}
		open, err := s.Alerts.OpenAlert(db.ScopeWorker, ws.WorkerID)
		if err != nil {
			log.Printf("Failed to look up open alert for worker %s: %v", ws.WorkerID, err)
			continue
		}
		if open == nil {
			continue
		}
		if err := s.Alerts.ResolveAlert(open.ID); err != nil {
			log.Printf("Failed to resolve alert %s: %v", open.ID, err)
			continue
		}
		log.Printf("Resolved overload alert for worker %s (utilization %.0f%%)", ws.WorkerID, ws.UtilizationRate*100)
	}
}

func (s *WorkloadService) teamWorkload(team db.Team) (db.TeamWorkload, error) {
	workers, err := s.Directory.ListTeamWorkers(team.ID)
	if err != nil {
		return db.TeamWorkload{}, transient("list team workers", err)
	}

	loads, err := s.Items.CurrentLoads(workerIDs(workers))
	if err != nil {
		return db.TeamWorkload{}, transient("load current loads", err)
	}

	wl := db.TeamWorkload{TeamID: team.ID, TeamName: team.Name}
	for _, w := range workers {
		load := loads[w.ID]
		stats := db.WorkerWorkload{
			WorkerID:    w.ID,
			WorkerName:  w.Name,
			Role:        w.Role,
			TeamID:      w.TeamID,
			CurrentLoad: load,
			Capacity:    w.Capacity,
		}
		if w.Capacity > 0 {
			stats.UtilizationRate = float64(load) / float64(w.Capacity)
			stats.IsOverloaded = float64(load) > float64(w.Capacity)*s.cfg.OverloadedThreshold
		}
		wl.TotalCapacity += w.Capacity
		wl.CurrentLoad += load
		wl.PerWorker = append(wl.PerWorker, stats)
	}
	if wl.TotalCapacity > 0 {
		wl.UtilizationRate = float64(wl.CurrentLoad) / float64(wl.TotalCapacity)
	}
	return wl, nil
}

func (s *WorkloadService) deliver(alert db.OverloadAlert) {
	if s.Sink == nil {
		return
	}
	if err := s.Sink.DeliverAlert(alert); err != nil {
		log.Printf("Failed to deliver overload alert %s: %v", alert.ID, err)
	}
}

// acquireScanLock takes the per-instance guard first, then the
// cross-instance Redis lock when a client is configured. The Redis key is
// only ever set after the local guard is held, and redisHeld records
// whether this call set it, so release never drops a key owned by another
// instance and never leaves one behind.
func (s *WorkloadService) acquireScanLock() bool {
	if !atomic.CompareAndSwapInt32(&s.scanning, 0, 1) {
		return false
	}
	s.redisHeld = false
	if s.Redis != nil {
		ok, err := s.Redis.SetNX(context.Background(), scanLockKey, "1", scanLockTTL).Result()
		if err != nil {
			log.Printf("Scan lock via Redis failed, using local guard: %v", err)
		} else if !ok {
			atomic.StoreInt32(&s.scanning, 0)
			return false
		} else {
			s.redisHeld = true
		}
	}
	return true
}

func (s *WorkloadService) releaseScanLock() {
	if s.redisHeld {
		s.redisHeld = false
		if err := s.Redis.Del(context.Background(), scanLockKey).Err(); err != nil {
			log.Printf("Failed to release Redis scan lock: %v", err)
		}
	}
	atomic.StoreInt32(&s.scanning, 0)
}
