package services

import (
	"time"

	"github.com/claimflow/engine/db"
)

// The engine owns no persistence, transport, or delivery logic. It talks
// to its collaborators through the narrow interfaces below; Postgres
// implementations live in postgres.go and tests substitute in-memory
// fakes.

// WorkItemStore is the engine's view of the work item repository. Every
// mutation is guarded by the item's expected current state: a write whose
// precondition no longer holds must return ErrAssignmentConflict, never
// overwrite silently.
type WorkItemStore interface {
	// GetWorkItem fetches one item by id.
	GetWorkItem(id string) (db.WorkItem, error)

	// ListAssignedTo returns the items currently assigned to a worker,
	// most-recently-assigned first.
	ListAssignedTo(workerID string) ([]db.WorkItem, error)

	// ClaimItem commits unassigned -> assigned(workerID). Returns
	// ErrAssignmentConflict if the item is no longer unassigned.
	ClaimItem(itemID, workerID string, at time.Time) error

	// MoveItem commits assigned(from) -> assigned(to) in a single guarded
	// write so no observer ever sees a dual- or zero-owner state. Returns
	// ErrAssignmentConflict if the item is no longer assigned to from.
	MoveItem(itemID, fromWorkerID, toWorkerID string, at time.Time) error

	// ReleaseItem commits assigned(from) -> unassigned (recall). Returns
	// ErrAssignmentConflict if the item is no longer assigned to from.
	ReleaseItem(itemID, fromWorkerID string) error

	// CurrentLoads returns the count of assigned/in-progress items per
	// worker id. Workers with no items are present with a zero count.
	CurrentLoads(workerIDs []string) (map[string]int, error)

	// PerformanceRatios returns the completed/assigned ratio per worker
	// over the trailing window starting at since. Workers with no window
	// history are absent from the map.
	PerformanceRatios(workerIDs []string, since time.Time) (map[string]float64, error)
}

// WorkerDirectory exposes the worker roster: capacity, role, team,
// skills. Read-only from the engine's point of view.
type WorkerDirectory interface {
	GetWorker(id string) (db.Worker, error)
	GetTeam(id string) (db.Team, error)
	ListTeams() ([]db.Team, error)

	// ListEligibleWorkers returns all active workers that may take new
	// work (processors and team leads).
	ListEligibleWorkers() ([]db.Worker, error)

	// ListTeamWorkers returns the active workers of one team.
	ListTeamWorkers(teamID string) ([]db.Worker, error)

	// AccountHandlers returns the worker ids designated as account
	// handlers for a client.
	AccountHandlers(clientRef string) ([]string, error)
}

// AuditSink records every decision the engine makes, append-only.
type AuditSink interface {
	RecordDecision(d db.AssignmentDecision) error
}

// AlertStore persists overload alerts. Alerts are engine-owned state:
// created here, severity escalated in place, resolved exactly once.
type AlertStore interface {
	// OpenAlert returns the unresolved alert for a scope, or nil.
	OpenAlert(scopeType, scopeID string) (*db.OverloadAlert, error)
	CreateAlert(a db.OverloadAlert) error
	EscalateAlert(id, severity string, utilization float64, message string) error
	ResolveAlert(id string) error
	ListOpenAlerts() ([]db.OverloadAlert, error)
}

// AlertSink delivers an overload alert to humans or ops tooling. Delivery
// failures are reported but never block the scan.
type AlertSink interface {
	DeliverAlert(a db.OverloadAlert) error
}
