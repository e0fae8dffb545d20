package services

import (
	"database/sql"
	"sort"
	"strconv"
	"time"

	"github.com/claimflow/engine/db"
	"github.com/claimflow/engine/internal/config"
)

// In-memory collaborator fakes. They enforce the same preconditions as
// the Postgres implementations so conflict paths behave identically.

type fakeItemStore struct {
	items map[string]*db.WorkItem
	perf  map[string]float64
}

func newFakeItemStore() *fakeItemStore {
	return &fakeItemStore{items: make(map[string]*db.WorkItem), perf: make(map[string]float64)}
}

func (f *fakeItemStore) add(item db.WorkItem) {
	copied := item
	f.items[item.ID] = &copied
}

func (f *fakeItemStore) GetWorkItem(id string) (db.WorkItem, error) {
	item, ok := f.items[id]
	if !ok {
		return db.WorkItem{}, sql.ErrNoRows
	}
	return *item, nil
}

func (f *fakeItemStore) ListAssignedTo(workerID string) ([]db.WorkItem, error) {
	var items []db.WorkItem
	for _, item := range f.items {
		if item.Status == db.StatusAssigned && item.CurrentOwnerID == workerID {
			items = append(items, *item)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		ti, tj := items[i].AssignedAt, items[j].AssignedAt
		if ti != nil && tj != nil && !ti.Equal(*tj) {
			return ti.After(*tj)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (f *fakeItemStore) ClaimItem(itemID, workerID string, at time.Time) error {
	item, ok := f.items[itemID]
	if !ok || item.Status != db.StatusUnassigned {
		return ErrAssignmentConflict
	}
	item.Status = db.StatusAssigned
	item.CurrentOwnerID = workerID
	t := at
	item.AssignedAt = &t
	return nil
}

func (f *fakeItemStore) MoveItem(itemID, fromWorkerID, toWorkerID string, at time.Time) error {
	item, ok := f.items[itemID]
	if !ok || item.Status != db.StatusAssigned || item.CurrentOwnerID != fromWorkerID {
		return ErrAssignmentConflict
	}
	item.CurrentOwnerID = toWorkerID
	t := at
	item.AssignedAt = &t
	return nil
}

func (f *fakeItemStore) ReleaseItem(itemID, fromWorkerID string) error {
	item, ok := f.items[itemID]
	if !ok || item.Status != db.StatusAssigned || item.CurrentOwnerID != fromWorkerID {
		return ErrAssignmentConflict
	}
	item.Status = db.StatusUnassigned
	item.CurrentOwnerID = ""
	item.AssignedAt = nil
	return nil
}

func (f *fakeItemStore) CurrentLoads(workerIDs []string) (map[string]int, error) {
	loads := make(map[string]int, len(workerIDs))
	for _, id := range workerIDs {
		loads[id] = 0
	}
	for _, item := range f.items {
		if item.Status != db.StatusAssigned && item.Status != db.StatusInProgress {
			continue
		}
		if _, ok := loads[item.CurrentOwnerID]; ok {
			loads[item.CurrentOwnerID]++
		}
	}
	return loads, nil
}

func (f *fakeItemStore) PerformanceRatios(workerIDs []string, since time.Time) (map[string]float64, error) {
	ratios := make(map[string]float64)
	for _, id := range workerIDs {
		if r, ok := f.perf[id]; ok {
			ratios[id] = r
		}
	}
	return ratios, nil
}

type fakeDirectory struct {
	workers  map[string]db.Worker
	teams    map[string]db.Team
	handlers map[string][]string
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		workers:  make(map[string]db.Worker),
		teams:    make(map[string]db.Team),
		handlers: make(map[string][]string),
	}
}

func (f *fakeDirectory) addWorker(w db.Worker) { f.workers[w.ID] = w }
func (f *fakeDirectory) addTeam(t db.Team)     { f.teams[t.ID] = t }

func (f *fakeDirectory) GetWorker(id string) (db.Worker, error) {
	w, ok := f.workers[id]
	if !ok {
		return db.Worker{}, sql.ErrNoRows
	}
	return w, nil
}

func (f *fakeDirectory) GetTeam(id string) (db.Team, error) {
	t, ok := f.teams[id]
	if !ok {
		return db.Team{}, sql.ErrNoRows
	}
	return t, nil
}

func (f *fakeDirectory) ListTeams() ([]db.Team, error) {
	var teams []db.Team
	for _, t := range f.teams {
		if t.IsActive {
			teams = append(teams, t)
		}
	}
	sort.Slice(teams, func(i, j int) bool { return teams[i].ID < teams[j].ID })
	return teams, nil
}

func (f *fakeDirectory) ListEligibleWorkers() ([]db.Worker, error) {
	var workers []db.Worker
	for _, w := range f.workers {
		if w.IsActive && (w.Role == db.RoleProcessor || w.Role == db.RoleTeamLead) {
			workers = append(workers, w)
		}
	}
	sort.Slice(workers, func(i, j int) bool { return workers[i].ID < workers[j].ID })
	return workers, nil
}

func (f *fakeDirectory) ListTeamWorkers(teamID string) ([]db.Worker, error) {
	all, _ := f.ListEligibleWorkers()
	var workers []db.Worker
	for _, w := range all {
		if w.TeamID == teamID {
			workers = append(workers, w)
		}
	}
	return workers, nil
}

func (f *fakeDirectory) AccountHandlers(clientRef string) ([]string, error) {
	return f.handlers[clientRef], nil
}

type fakeAudit struct {
	decisions []db.AssignmentDecision
}

func (f *fakeAudit) RecordDecision(d db.AssignmentDecision) error {
	f.decisions = append(f.decisions, d)
	return nil
}

type fakeAlertStore struct {
	alerts []*db.OverloadAlert
}

func (f *fakeAlertStore) OpenAlert(scopeType, scopeID string) (*db.OverloadAlert, error) {
	for _, a := range f.alerts {
		if !a.Resolved && a.ScopeType == scopeType && a.ScopeID == scopeID {
			copied := *a
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeAlertStore) CreateAlert(a db.OverloadAlert) error {
	copied := a
	f.alerts = append(f.alerts, &copied)
	return nil
}

func (f *fakeAlertStore) EscalateAlert(id, severity string, utilization float64, message string) error {
	for _, a := range f.alerts {
		if a.ID == id && !a.Resolved {
			a.Severity = severity
			a.UtilizationRate = utilization
			a.Message = message
			a.UpdatedAt = time.Now()
		}
	}
	return nil
}

func (f *fakeAlertStore) ResolveAlert(id string) error {
	for _, a := range f.alerts {
		if a.ID == id && !a.Resolved {
			a.Resolved = true
			now := time.Now()
			a.ResolvedAt = &now
		}
	}
	return nil
}

func (f *fakeAlertStore) ListOpenAlerts() ([]db.OverloadAlert, error) {
	var open []db.OverloadAlert
	for _, a := range f.alerts {
		if !a.Resolved {
			open = append(open, *a)
		}
	}
	return open, nil
}

func (f *fakeAlertStore) openCount() int {
	n := 0
	for _, a := range f.alerts {
		if !a.Resolved {
			n++
		}
	}
	return n
}

type fakeSink struct {
	delivered []db.OverloadAlert
}

func (f *fakeSink) DeliverAlert(a db.OverloadAlert) error {
	f.delivered = append(f.delivered, a)
	return nil
}

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		OwnershipWeight:      10,
		TeamMatchWeight:      4,
		SkillWeight:          2,
		UrgencyWeight:        3,
		WorkloadBaseline:     10,
		PerformanceScale:     2,
		PerformanceWindow:    30,
		DefaultPerformance:   0.8,
		AvailabilityBonus:    1,
		AvailabilityMaxLoad:  15,
		SLACriticalDays:      3,
		SeniorityThreshold:   3,
		BalancePenalty:       0.5,
		WarningThreshold:     0.85,
		CriticalThreshold:    0.95,
		OverloadedThreshold:  0.9,
		UnderloadedThreshold: 0.7,
		RebalanceTarget:      0.8,
	}
}

func testWorker(id, teamID string, capacity int) db.Worker {
	return db.Worker{
		ID:       id,
		Name:     id,
		Role:     db.RoleProcessor,
		TeamID:   teamID,
		Capacity: capacity,
		IsActive: true,
	}
}

func testItem(id, teamID, clientRef string) db.WorkItem {
	return db.WorkItem{
		ID:              id,
		ClientRef:       clientRef,
		ItemType:        "standard",
		ReceivedAt:      time.Now().Add(-24 * time.Hour),
		SLADeadlineDays: 30,
		Status:          db.StatusUnassigned,
		TeamID:          teamID,
	}
}

// addAssigned seeds n items already assigned to a worker, newest last.
func addAssigned(store *fakeItemStore, owner, teamID string, n int) {
	base := time.Now().Add(-time.Hour)
	for i := 0; i < n; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		item := testItem(owner+"-item-"+strconv.Itoa(i), teamID, "client-"+owner)
		item.Status = db.StatusAssigned
		item.CurrentOwnerID = owner
		item.AssignedAt = &at
		store.add(item)
	}
}
