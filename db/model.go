package db

import "time"

// ===========================
// WORK ITEM MODELS
// ===========================

// Work item statuses
const (
	StatusUnassigned = "unassigned"
	StatusAssigned   = "assigned"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

// WorkItem represents one incoming batch of claim documents waiting to be
// processed by a worker
type WorkItem struct {
	ID              string     `json:"id"`
	ClientRef       string     `json:"client_ref"`
	ItemType        string     `json:"item_type"` // standard, high_volume, complex, urgent
	ReceivedAt      time.Time  `json:"received_at"`
	SLADeadlineDays int        `json:"sla_deadline_days"`
	CurrentOwnerID  string     `json:"current_owner_id,omitempty"`
	Status          string     `json:"status"`
	TeamID          string     `json:"team_id"`
	AssignedAt      *time.Time `json:"assigned_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`

	// For API responses (populated via JOINs)
	OwnerName string `json:"owner_name,omitempty"`
}

// DaysElapsed returns whole days since the item was received.
func (w *WorkItem) DaysElapsed(now time.Time) int {
	return int(now.Sub(w.ReceivedAt).Hours() / 24)
}

// DaysRemaining returns SLA days left; negative means the item is overdue.
func (w *WorkItem) DaysRemaining(now time.Time) int {
	return w.SLADeadlineDays - w.DaysElapsed(now)
}

// SLACritical reports whether the item is within the critical window of its
// SLA deadline (or already past it).
func (w *WorkItem) SLACritical(now time.Time, criticalDays int) bool {
	return w.DaysRemaining(now) <= criticalDays
}

// ===========================
// WORKER / TEAM MODELS
// ===========================

// Worker roles
const (
	RoleManager   = "manager"
	RoleTeamLead  = "team_lead"
	RoleProcessor = "processor"
)

// Worker represents a human processor in the directory
type Worker struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Role      string    `json:"role"`
	TeamID    string    `json:"team_id"`
	Capacity  int       `json:"capacity"` // max concurrent items
	Seniority int       `json:"seniority"`
	Skills    []string  `json:"skills"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasSkill reports whether the worker carries the given skill tag.
func (w *Worker) HasSkill(tag string) bool {
	for _, s := range w.Skills {
		if s == tag {
			return true
		}
	}
	return false
}

// Team groups workers sharing a capacity pool and an escalation path.
// Members and leader are id references, never embedded workers.
type Team struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	LeaderID  string    `json:"leader_id"`
	MemberIDs []string  `json:"member_ids"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ===========================
// ASSIGNMENT DECISION MODELS
// ===========================

// Assignment decision reasons
const (
	ReasonInitial        = "initial"
	ReasonRebalance      = "rebalance"
	ReasonManualOverride = "manual-override"
)

// RuleContribution is one entry of a decision's rule trace, in the order
// the rules were evaluated
type RuleContribution struct {
	Rule         string  `json:"rule"`
	Contribution float64 `json:"contribution"`
}

// AssignmentDecision is an append-only audit fact; it is written once and
// never mutated
type AssignmentDecision struct {
	ID         string             `json:"id"`
	WorkItemID string             `json:"work_item_id"`
	WorkerID   string             `json:"worker_id"`
	Score      float64            `json:"score"`
	RuleTrace  []RuleContribution `json:"rule_trace"`
	Reason     string             `json:"reason"`
	CreatedAt  time.Time          `json:"created_at"`
}

// ===========================
// OVERLOAD ALERT MODELS
// ===========================

// Alert severities
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Alert scopes
const (
	ScopeTeam   = "team"
	ScopeWorker = "worker"
)

// OverloadAlert is raised by the workload monitor when a team or worker
// crosses a utilization threshold. Resolved flips false to true only; a new
// breach after resolution opens a new alert.
type OverloadAlert struct {
	ID              string     `json:"id"`
	ScopeType       string     `json:"scope_type"`
	ScopeID         string     `json:"scope_id"`
	Severity        string     `json:"severity"`
	UtilizationRate float64    `json:"utilization_rate"`
	Message         string     `json:"message,omitempty"`
	Resolved        bool       `json:"resolved"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ===========================
// WORKLOAD MODELS
// ===========================

// WorkerWorkload is the live load picture for one worker
type WorkerWorkload struct {
	WorkerID        string  `json:"worker_id"`
	WorkerName      string  `json:"worker_name"`
	Role            string  `json:"role"`
	TeamID          string  `json:"team_id"`
	CurrentLoad     int     `json:"current_load"`
	Capacity        int     `json:"capacity"`
	UtilizationRate float64 `json:"utilization_rate"`
	IsOverloaded    bool    `json:"is_overloaded"`
}

// TeamWorkload aggregates member workloads for one team
type TeamWorkload struct {
	TeamID          string           `json:"team_id"`
	TeamName        string           `json:"team_name"`
	TotalCapacity   int              `json:"total_capacity"`
	CurrentLoad     int              `json:"current_load"`
	UtilizationRate float64          `json:"utilization_rate"`
	PerWorker       []WorkerWorkload `json:"per_worker"`
}

// ===========================
// REQUEST / RESPONSE MODELS
// ===========================

// BatchPolicy controls how a batch assignment pass ranks candidates
type BatchPolicy struct {
	BalanceWorkload  bool `json:"balance_workload"`
	PrioritizeUrgent bool `json:"prioritize_urgent"`
	RespectExpertise bool `json:"respect_expertise"`
}

type AssignBatchRequest struct {
	WorkItemIDs []string    `json:"work_item_ids" binding:"required"`
	Policy      BatchPolicy `json:"policy"`
}

type ManualAssignRequest struct {
	WorkerID   string `json:"worker_id" binding:"required"`
	AssignedBy string `json:"assigned_by,omitempty"`
}

type RecallRequest struct {
	Reason string `json:"reason,omitempty"`
}

// AssignmentResult is the outcome of a single-item assignment
type AssignmentResult struct {
	WorkItemID string             `json:"work_item_id"`
	WorkerID   string             `json:"worker_id"`
	Score      float64            `json:"score"`
	RuleTrace  []RuleContribution `json:"rule_trace,omitempty"`
}

// BatchItemOutcome is the per-item accounting of a batch pass. Exactly one
// of WorkerID or SkippedReason is set.
type BatchItemOutcome struct {
	WorkerID      string  `json:"worker_id,omitempty"`
	Score         float64 `json:"score,omitempty"`
	SkippedReason string  `json:"skipped_reason,omitempty"`
}

// RebalanceMove records one item moved during a rebalancing pass
type RebalanceMove struct {
	WorkItemID   string `json:"work_item_id"`
	FromWorkerID string `json:"from_worker_id"`
	ToWorkerID   string `json:"to_worker_id"`
}

// RebalanceResult summarizes one bounded rebalancing pass over a team
type RebalanceResult struct {
	TeamID     string          `json:"team_id"`
	MovedCount int             `json:"moved_count"`
	Moves      []RebalanceMove `json:"moves"`
	Escalated  bool            `json:"escalated"`
	Reason     string          `json:"reason,omitempty"`
}
