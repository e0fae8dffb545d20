package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claimflow/engine/db"
)

func newTestRebalance() (*RebalanceService, *fakeItemStore, *fakeDirectory, *fakeAudit, *fakeAlertStore, *fakeSink) {
	items := newFakeItemStore()
	directory := newFakeDirectory()
	audit := &fakeAudit{}
	alerts := &fakeAlertStore{}
	sink := &fakeSink{}
	svc := NewRebalanceService(items, directory, audit, alerts, sink, testEngineConfig())
	return svc, items, directory, audit, alerts, sink
}

func TestRebalanceTeam_MovesExcessToUnderloaded(t *testing.T) {
	svc, items, directory, audit, _, _ := newTestRebalance()
	seedTeam(directory, "team-1",
		testWorker("worker-a", "team-1", 10),
		testWorker("worker-b", "team-1", 10),
	)
	addAssigned(items, "worker-a", "team-1", 10)
	addAssigned(items, "worker-b", "team-1", 2)
	items.add(testItem("item-pool", "team-1", "client-1"))

	result, err := svc.RebalanceTeam("team-1")
	require.NoError(t, err)
	assert.False(t, result.Escalated)
	assert.Equal(t, 2, result.MovedCount)

	loads, _ := items.CurrentLoads([]string{"worker-a", "worker-b"})
	assert.Equal(t, 8, loads["worker-a"])
	assert.Equal(t, 4, loads["worker-b"])

	// Most recently assigned items travel first
	require.Len(t, result.Moves, 2)
	assert.Equal(t, "worker-a-item-9", result.Moves[0].WorkItemID)
	assert.Equal(t, "worker-a-item-8", result.Moves[1].WorkItemID)
	for _, move := range result.Moves {
		item, _ := items.GetWorkItem(move.WorkItemID)
		assert.Equal(t, "worker-b", item.CurrentOwnerID)
		assert.Equal(t, db.StatusAssigned, item.Status)
	}

	require.Len(t, audit.decisions, 2)
	for _, d := range audit.decisions {
		assert.Equal(t, db.ReasonRebalance, d.Reason)
		assert.NotEmpty(t, d.RuleTrace)
	}

	// Rebalancing never touches the unassigned pool
	pool, _ := items.GetWorkItem("item-pool")
	assert.Equal(t, db.StatusUnassigned, pool.Status)
	assert.Empty(t, pool.CurrentOwnerID)
}

// Scenario with no headroom anywhere: nothing moves, a worker-scope
// escalation is raised instead.
func TestRebalanceTeam_EscalatesWithoutHeadroom(t *testing.T) {
	svc, items, directory, audit, alerts, sink := newTestRebalance()
	seedTeam(directory, "team-1",
		testWorker("worker-a", "team-1", 10),
		testWorker("worker-b", "team-1", 10),
	)
	addAssigned(items, "worker-a", "team-1", 10)
	addAssigned(items, "worker-b", "team-1", 9)

	result, err := svc.RebalanceTeam("team-1")
	require.NoError(t, err)
	assert.True(t, result.Escalated)
	assert.Equal(t, "no underloaded worker available", result.Reason)
	assert.Zero(t, result.MovedCount)
	assert.Empty(t, audit.decisions)

	loads, _ := items.CurrentLoads([]string{"worker-a", "worker-b"})
	assert.Equal(t, 10, loads["worker-a"])
	assert.Equal(t, 9, loads["worker-b"])

	alert, err := alerts.OpenAlert(db.ScopeWorker, "worker-a")
	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.Equal(t, db.SeverityCritical, alert.Severity)
	require.Len(t, sink.delivered, 1)
}

// Re-running a stuck pass finds the worker escalation already open at
// critical and leaves it alone instead of rewriting and re-delivering it.
func TestRebalanceTeam_RepeatEscalationDeliversOnce(t *testing.T) {
	svc, items, directory, _, alerts, sink := newTestRebalance()
	seedTeam(directory, "team-1",
		testWorker("worker-a", "team-1", 10),
		testWorker("worker-b", "team-1", 10),
	)
	addAssigned(items, "worker-a", "team-1", 10)
	addAssigned(items, "worker-b", "team-1", 9)

	for i := 0; i < 3; i++ {
		result, err := svc.RebalanceTeam("team-1")
		require.NoError(t, err)
		assert.True(t, result.Escalated)
	}

	assert.Equal(t, 1, alerts.openCount())
	assert.Len(t, sink.delivered, 1)
}

// The target is recomputed after every move, so consecutive moves spread
// across receivers instead of piling onto the first pick.
func TestRebalanceTeam_RecomputesTargetEachMove(t *testing.T) {
	svc, items, directory, _, _, _ := newTestRebalance()
	seedTeam(directory, "team-1",
		testWorker("worker-a", "team-1", 10),
		testWorker("worker-b", "team-1", 10),
		testWorker("worker-c", "team-1", 10),
	)
	addAssigned(items, "worker-a", "team-1", 10)
	addAssigned(items, "worker-b", "team-1", 6)
	addAssigned(items, "worker-c", "team-1", 5)

	result, err := svc.RebalanceTeam("team-1")
	require.NoError(t, err)
	require.Equal(t, 2, result.MovedCount)

	assert.Equal(t, "worker-c", result.Moves[0].ToWorkerID)
	assert.Equal(t, "worker-b", result.Moves[1].ToWorkerID)
}

func TestRebalanceTeam_StaysWithinTheTeam(t *testing.T) {
	svc, items, directory, _, _, _ := newTestRebalance()
	seedTeam(directory, "team-1", testWorker("worker-a", "team-1", 10))
	seedTeam(directory, "team-2", testWorker("worker-z", "team-2", 20))
	addAssigned(items, "worker-a", "team-1", 10)

	result, err := svc.RebalanceTeam("team-1")
	require.NoError(t, err)
	assert.True(t, result.Escalated)
	assert.Zero(t, result.MovedCount)

	// The idle worker on the other team is never a target
	loads, _ := items.CurrentLoads([]string{"worker-a", "worker-z"})
	assert.Equal(t, 10, loads["worker-a"])
	assert.Zero(t, loads["worker-z"])
}

// Load that cannot be moved (items already being worked) leaves the team
// critical after the pass, which hands over to a human.
func TestRebalanceTeam_EscalatesWhenStillCritical(t *testing.T) {
	svc, items, directory, _, alerts, _ := newTestRebalance()
	seedTeam(directory, "team-1",
		testWorker("worker-a", "team-1", 10),
		testWorker("worker-b", "team-1", 10),
	)
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 10; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		item := testItem("busy-"+string(rune('a'+i)), "team-1", "client-1")
		item.Status = db.StatusInProgress
		item.CurrentOwnerID = "worker-a"
		item.AssignedAt = &at
		items.add(item)
	}
	addAssigned(items, "worker-b", "team-1", 9)

	result, err := svc.RebalanceTeam("team-1")
	require.NoError(t, err)
	assert.True(t, result.Escalated)
	assert.Equal(t, "still critical after rebalancing", result.Reason)
	assert.Zero(t, result.MovedCount)

	alert, err := alerts.OpenAlert(db.ScopeTeam, "team-1")
	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.Equal(t, db.SeverityCritical, alert.Severity)
}

func TestRebalanceTeam_SkipsConcurrentlyChangedItems(t *testing.T) {
	svc, items, directory, _, _, _ := newTestRebalance()
	seedTeam(directory, "team-1",
		testWorker("worker-a", "team-1", 10),
		testWorker("worker-b", "team-1", 10),
	)
	addAssigned(items, "worker-a", "team-1", 10)
	addAssigned(items, "worker-b", "team-1", 2)

	// The newest item starts moving elsewhere between snapshot and commit
	items.items["worker-a-item-9"].Status = db.StatusInProgress

	result, err := svc.RebalanceTeam("team-1")
	require.NoError(t, err)
	assert.Equal(t, 2, result.MovedCount)
	for _, move := range result.Moves {
		assert.NotEqual(t, "worker-a-item-9", move.WorkItemID)
	}
}
