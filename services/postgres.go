package services

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/claimflow/engine/db"
)

// Postgres implementations of the engine's collaborator interfaces. All
// writes that carry a state precondition are single conditional UPDATEs:
// zero rows affected means the precondition no longer holds and the call
// reports ErrAssignmentConflict instead of overwriting.

// ===========================
// WORK ITEM STORE
// ===========================

type PostgresWorkItemStore struct {
	PG *sql.DB
}

func NewPostgresWorkItemStore(pg *sql.DB) *PostgresWorkItemStore {
	return &PostgresWorkItemStore{PG: pg}
}

const workItemColumns = `id, client_ref, item_type, received_at, sla_deadline_days,
       COALESCE(current_owner_id, ''), status, team_id, assigned_at, created_at, updated_at`

func (s *PostgresWorkItemStore) GetWorkItem(id string) (db.WorkItem, error) {
	row := s.PG.QueryRow(`
		SELECT `+workItemColumns+`
		FROM work_items
		WHERE id = $1
	`, id)
	return scanWorkItem(row)
}

func (s *PostgresWorkItemStore) ListAssignedTo(workerID string) ([]db.WorkItem, error) {
	rows, err := s.PG.Query(`
		SELECT `+workItemColumns+`
		FROM work_items
		WHERE current_owner_id = $1 AND status = 'assigned'
		ORDER BY assigned_at DESC
	`, workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assigned items: %w", err)
	}
	defer rows.Close()

	var items []db.WorkItem
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan work item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresWorkItemStore) ClaimItem(itemID, workerID string, at time.Time) error {
	res, err := s.PG.Exec(`
		UPDATE work_items
		SET current_owner_id = $2, status = 'assigned', assigned_at = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'unassigned'
	`, itemID, workerID, at)
	if err != nil {
		return fmt.Errorf("failed to claim work item: %w", err)
	}
	return conflictUnlessOneRow(res)
}

func (s *PostgresWorkItemStore) MoveItem(itemID, fromWorkerID, toWorkerID string, at time.Time) error {
	// Single guarded write: the item flips owner atomically and is never
	// observable with two owners or none
	res, err := s.PG.Exec(`
		UPDATE work_items
		SET current_owner_id = $3, assigned_at = $4, updated_at = NOW()
		WHERE id = $1 AND status = 'assigned' AND current_owner_id = $2
	`, itemID, fromWorkerID, toWorkerID, at)
	if err != nil {
		return fmt.Errorf("failed to move work item: %w", err)
	}
	return conflictUnlessOneRow(res)
}

func (s *PostgresWorkItemStore) ReleaseItem(itemID, fromWorkerID string) error {
	res, err := s.PG.Exec(`
		UPDATE work_items
		SET current_owner_id = NULL, status = 'unassigned', assigned_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'assigned' AND current_owner_id = $2
	`, itemID, fromWorkerID)
	if err != nil {
		return fmt.Errorf("failed to release work item: %w", err)
	}
	return conflictUnlessOneRow(res)
}

func (s *PostgresWorkItemStore) CurrentLoads(workerIDs []string) (map[string]int, error) {
	loads := make(map[string]int, len(workerIDs))
	for _, id := range workerIDs {
		loads[id] = 0
	}

	rows, err := s.PG.Query(`
		SELECT current_owner_id, COUNT(*)
		FROM work_items
		WHERE current_owner_id = ANY($1) AND status IN ('assigned', 'in_progress')
		GROUP BY current_owner_id
	`, pq.Array(workerIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to count current loads: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var count int
		if err := rows.Scan(&id, &count); err != nil {
			return nil, fmt.Errorf("failed to scan load count: %w", err)
		}
		loads[id] = count
	}
	return loads, rows.Err()
}

func (s *PostgresWorkItemStore) PerformanceRatios(workerIDs []string, since time.Time) (map[string]float64, error) {
	rows, err := s.PG.Query(`
		SELECT current_owner_id,
		       COUNT(*) FILTER (WHERE status = 'completed') AS completed,
		       COUNT(*) AS assigned
		FROM work_items
		WHERE current_owner_id = ANY($1) AND updated_at >= $2
		GROUP BY current_owner_id
	`, pq.Array(workerIDs), since)
	if err != nil {
		return nil, fmt.Errorf("failed to compute performance ratios: %w", err)
	}
	defer rows.Close()

	ratios := make(map[string]float64)
	for rows.Next() {
		var id string
		var completed, assigned int
		if err := rows.Scan(&id, &completed, &assigned); err != nil {
			return nil, fmt.Errorf("failed to scan performance row: %w", err)
		}
		if assigned > 0 {
			ratios[id] = float64(completed) / float64(assigned)
		}
	}
	return ratios, rows.Err()
}

func scanWorkItem(row interface{ Scan(...interface{}) error }) (db.WorkItem, error) {
	var item db.WorkItem
	var assignedAt sql.NullTime
	err := row.Scan(
		&item.ID, &item.ClientRef, &item.ItemType, &item.ReceivedAt, &item.SLADeadlineDays,
		&item.CurrentOwnerID, &item.Status, &item.TeamID, &assignedAt,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return item, err
	}
	if assignedAt.Valid {
		item.AssignedAt = &assignedAt.Time
	}
	return item, nil
}

func conflictUnlessOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrAssignmentConflict
	}
	return nil
}

// ===========================
// WORKER DIRECTORY
// ===========================

type PostgresWorkerDirectory struct {
	PG *sql.DB
}

func NewPostgresWorkerDirectory(pg *sql.DB) *PostgresWorkerDirectory {
	return &PostgresWorkerDirectory{PG: pg}
}

const workerColumns = `id, name, COALESCE(email, ''), role, team_id, capacity, seniority,
       skills::text, is_active, created_at, updated_at`

func (d *PostgresWorkerDirectory) GetWorker(id string) (db.Worker, error) {
	row := d.PG.QueryRow(`
		SELECT `+workerColumns+`
		FROM workers
		WHERE id = $1
	`, id)
	return scanWorker(row)
}

func (d *PostgresWorkerDirectory) ListEligibleWorkers() ([]db.Worker, error) {
	return d.queryWorkers(`
		SELECT `+workerColumns+`
		FROM workers
		WHERE is_active = true AND role IN ('processor', 'team_lead')
		ORDER BY id
	`)
}

func (d *PostgresWorkerDirectory) ListTeamWorkers(teamID string) ([]db.Worker, error) {
	return d.queryWorkers(`
		SELECT `+workerColumns+`
		FROM workers
		WHERE is_active = true AND role IN ('processor', 'team_lead') AND team_id = $1
		ORDER BY id
	`, teamID)
}

func (d *PostgresWorkerDirectory) queryWorkers(query string, args ...interface{}) ([]db.Worker, error) {
	rows, err := d.PG.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list workers: %w", err)
	}
	defer rows.Close()

	var workers []db.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan worker: %w", err)
		}
		workers = append(workers, w)
	}
	return workers, rows.Err()
}

func (d *PostgresWorkerDirectory) GetTeam(id string) (db.Team, error) {
	var team db.Team
	var memberIDsJSON string
	err := d.PG.QueryRow(`
		SELECT id, name, COALESCE(leader_id, ''), member_ids::text, is_active, created_at, updated_at
		FROM teams
		WHERE id = $1
	`, id).Scan(&team.ID, &team.Name, &team.LeaderID, &memberIDsJSON, &team.IsActive, &team.CreatedAt, &team.UpdatedAt)
	if err != nil {
		return team, fmt.Errorf("failed to get team: %w", err)
	}
	if err := json.Unmarshal([]byte(memberIDsJSON), &team.MemberIDs); err != nil {
		return team, fmt.Errorf("failed to parse team members: %w", err)
	}
	return team, nil
}

func (d *PostgresWorkerDirectory) ListTeams() ([]db.Team, error) {
	rows, err := d.PG.Query(`
		SELECT id, name, COALESCE(leader_id, ''), member_ids::text, is_active, created_at, updated_at
		FROM teams
		WHERE is_active = true
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	defer rows.Close()

	var teams []db.Team
	for rows.Next() {
		var team db.Team
		var memberIDsJSON string
		if err := rows.Scan(&team.ID, &team.Name, &team.LeaderID, &memberIDsJSON, &team.IsActive, &team.CreatedAt, &team.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan team: %w", err)
		}
		if err := json.Unmarshal([]byte(memberIDsJSON), &team.MemberIDs); err != nil {
			return nil, fmt.Errorf("failed to parse team members: %w", err)
		}
		teams = append(teams, team)
	}
	return teams, rows.Err()
}

func (d *PostgresWorkerDirectory) AccountHandlers(clientRef string) ([]string, error) {
	rows, err := d.PG.Query(`
		SELECT worker_id
		FROM client_accounts
		WHERE client_ref = $1
	`, clientRef)
	if err != nil {
		return nil, fmt.Errorf("failed to list account handlers: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan account handler: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanWorker(row interface{ Scan(...interface{}) error }) (db.Worker, error) {
	var w db.Worker
	var skillsJSON string
	err := row.Scan(
		&w.ID, &w.Name, &w.Email, &w.Role, &w.TeamID, &w.Capacity, &w.Seniority,
		&skillsJSON, &w.IsActive, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return w, err
	}
	if err := json.Unmarshal([]byte(skillsJSON), &w.Skills); err != nil {
		return w, fmt.Errorf("failed to parse worker skills: %w", err)
	}
	return w, nil
}

// ===========================
// AUDIT SINK
// ===========================

type PostgresAuditSink struct {
	PG *sql.DB
}

func NewPostgresAuditSink(pg *sql.DB) *PostgresAuditSink {
	return &PostgresAuditSink{PG: pg}
}

func (a *PostgresAuditSink) RecordDecision(d db.AssignmentDecision) error {
	traceJSON, err := json.Marshal(d.RuleTrace)
	if err != nil {
		return fmt.Errorf("failed to serialize rule trace: %w", err)
	}
	_, err = a.PG.Exec(`
		INSERT INTO assignment_decisions (id, work_item_id, worker_id, score, rule_trace, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, d.ID, d.WorkItemID, d.WorkerID, d.Score, traceJSON, d.Reason, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert assignment decision: %w", err)
	}
	return nil
}

// ===========================
// ALERT STORE
// ===========================

type PostgresAlertStore struct {
	PG *sql.DB
}

func NewPostgresAlertStore(pg *sql.DB) *PostgresAlertStore {
	return &PostgresAlertStore{PG: pg}
}

const alertColumns = `id, scope_type, scope_id, severity, utilization_rate,
       COALESCE(message, ''), resolved, resolved_at, created_at, updated_at`

func (s *PostgresAlertStore) OpenAlert(scopeType, scopeID string) (*db.OverloadAlert, error) {
	row := s.PG.QueryRow(`
		SELECT `+alertColumns+`
		FROM overload_alerts
		WHERE scope_type = $1 AND scope_id = $2 AND resolved = false
	`, scopeType, scopeID)

	alert, err := scanAlert(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get open alert: %w", err)
	}
	return &alert, nil
}

func (s *PostgresAlertStore) CreateAlert(a db.OverloadAlert) error {
	_, err := s.PG.Exec(`
		INSERT INTO overload_alerts (id, scope_type, scope_id, severity, utilization_rate, message, resolved, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, false, $7, $8)
	`, a.ID, a.ScopeType, a.ScopeID, a.Severity, a.UtilizationRate, a.Message, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert overload alert: %w", err)
	}
	return nil
}

func (s *PostgresAlertStore) EscalateAlert(id, severity string, utilization float64, message string) error {
	_, err := s.PG.Exec(`
		UPDATE overload_alerts
		SET severity = $2, utilization_rate = $3, message = $4, updated_at = NOW()
		WHERE id = $1 AND resolved = false
	`, id, severity, utilization, message)
	if err != nil {
		return fmt.Errorf("failed to escalate overload alert: %w", err)
	}
	return nil
}

func (s *PostgresAlertStore) ResolveAlert(id string) error {
	// Resolved flips false -> true exactly once
	_, err := s.PG.Exec(`
		UPDATE overload_alerts
		SET resolved = true, resolved_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND resolved = false
	`, id)
	if err != nil {
		return fmt.Errorf("failed to resolve overload alert: %w", err)
	}
	return nil
}

func (s *PostgresAlertStore) ListOpenAlerts() ([]db.OverloadAlert, error) {
	rows, err := s.PG.Query(`
		SELECT ` + alertColumns + `
		FROM overload_alerts
		WHERE resolved = false
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list open alerts: %w", err)
	}
	defer rows.Close()

	var alerts []db.OverloadAlert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan overload alert: %w", err)
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

func scanAlert(row interface{ Scan(...interface{}) error }) (db.OverloadAlert, error) {
	var a db.OverloadAlert
	var resolvedAt sql.NullTime
	err := row.Scan(
		&a.ID, &a.ScopeType, &a.ScopeID, &a.Severity, &a.UtilizationRate,
		&a.Message, &a.Resolved, &resolvedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return a, err
	}
	if resolvedAt.Valid {
		a.ResolvedAt = &resolvedAt.Time
	}
	return a, nil
}
