package state

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ShayCichocki/swarm/pkg/models"
	"github.com/ShayCichocki/swarm/pkg/swarmerr"
)

// tempDBPath returns a path to a temp database file.
func tempDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.db")
}

// setupTestDB creates a new temporary database for testing.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(tempDBPath(t))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func sampleResult(id string, started time.Time) *models.CoordinationResult {
	return &models.CoordinationResult{
		CoordinationID: id,
		DistributionID: "dist-1",
		TaskID:         "task-1",
		Success:        false,
		Outcome:        models.OutcomePartial,
		Error:          "1 of 2 allocations did not complete",
		StartedAt:      started,
		ExecutionTime:  1500 * time.Millisecond,
		Allocations: map[string]*models.AllocationResult{
			"alloc-1": {
				AllocationID: "alloc-1",
				AgentID:      "agent-a",
				Status:       models.AllocationCompleted,
				Attempts:     1,
				Subtasks: []models.SubtaskResult{{
					SubtaskID: "prep",
					AgentID:   "agent-a",
					Success:   true,
					Outputs:   map[string]any{"prepared-context": "ctx"},
				}},
			},
			"alloc-2": {
				AllocationID: "alloc-2",
				Status:       models.AllocationSkipped,
				Error:        "dependency alloc-0 failed",
			},
		},
		Aggregated: models.AggregatedResult{
			Outputs: []models.SubtaskResult{{SubtaskID: "prep", Success: true}},
			Values:  map[string]any{"prepared-context": "ctx"},
		},
		SyncOutcomes: []models.SyncOutcome{{
			PointID: "barrier-alloc-2",
			Type:    models.SyncBarrier,
			Arrived: []string{"alloc-1"},
		}},
		Metrics: models.CoordinationMetrics{
			TotalSubtasks:     2,
			CompletedSubtasks: 1,
			AgentsSpawned:     2,
			Latency:           models.LatencySummary{Count: 1, P95: 20 * time.Millisecond},
		},
	}
}

func TestOpen(t *testing.T) {
	path := tempDBPath(t)
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("database file does not exist at %s", path)
	}
}

func TestOpen_CreatesParentDirectories(t *testing.T) {
	nested := filepath.Join(t.TempDir(), "a", "b", "c")
	db, err := Open(filepath.Join(nested, "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(nested); os.IsNotExist(err) {
		t.Errorf("parent directories not created: %s", nested)
	}
}

func TestMigrate(t *testing.T) {
	db := setupTestDB(t)

	for _, table := range []string{"schema_version", "coordinations", "allocation_results"} {
		var count int
		row := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table)
		if err := row.Scan(&count); err != nil {
			t.Errorf("failed to check table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %s does not exist", table)
		}
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db := setupTestDB(t)

	for i := 0; i < 3; i++ {
		if err := db.Migrate(); err != nil {
			t.Fatalf("Migrate (iteration %d) failed: %v", i, err)
		}
	}

	var version int
	if err := db.QueryRow("SELECT MAX(version) FROM schema_version").Scan(&version); err != nil {
		t.Fatalf("failed to get schema version: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("schema version = %d, want %d", version, len(migrations))
	}
}

func TestSaveAndGetResult(t *testing.T) {
	db := setupTestDB(t)
	started := time.Date(2026, 3, 1, 12, 0, 0, 123, time.UTC)
	want := sampleResult("coord-1", started)

	if err := db.SaveResult(want, models.StrategyParallel); err != nil {
		t.Fatalf("SaveResult failed: %v", err)
	}

	got, err := db.GetResult("coord-1")
	if err != nil {
		t.Fatalf("GetResult failed: %v", err)
	}
	if got.Outcome != models.OutcomePartial || got.Success {
		t.Errorf("outcome = %s success = %v", got.Outcome, got.Success)
	}
	if got.Error != want.Error {
		t.Errorf("Error = %q, want %q", got.Error, want.Error)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, started)
	}
	if got.ExecutionTime != want.ExecutionTime {
		t.Errorf("ExecutionTime = %v, want %v", got.ExecutionTime, want.ExecutionTime)
	}
	if got.Metrics.Latency.P95 != 20*time.Millisecond || got.Metrics.AgentsSpawned != 2 {
		t.Errorf("Metrics = %+v", got.Metrics)
	}
	if got.Aggregated.Values["prepared-context"] != "ctx" {
		t.Errorf("Aggregated.Values = %v", got.Aggregated.Values)
	}
	if len(got.SyncOutcomes) != 1 || got.SyncOutcomes[0].PointID != "barrier-alloc-2" {
		t.Errorf("SyncOutcomes = %+v", got.SyncOutcomes)
	}

	if len(got.Allocations) != 2 {
		t.Fatalf("expected 2 allocations, got %d", len(got.Allocations))
	}
	a1 := got.Allocations["alloc-1"]
	if a1.AgentID != "agent-a" || a1.Status != models.AllocationCompleted || len(a1.Subtasks) != 1 {
		t.Errorf("alloc-1 = %+v", a1)
	}
	if a1.Subtasks[0].Outputs["prepared-context"] != "ctx" {
		t.Errorf("alloc-1 outputs = %v", a1.Subtasks[0].Outputs)
	}
	a2 := got.Allocations["alloc-2"]
	if a2.AgentID != "" || a2.Status != models.AllocationSkipped || a2.Error == "" {
		t.Errorf("alloc-2 = %+v", a2)
	}
}

func TestSaveResult_Replaces(t *testing.T) {
	db := setupTestDB(t)
	r := sampleResult("coord-1", time.Now())
	if err := db.SaveResult(r, models.StrategyParallel); err != nil {
		t.Fatalf("SaveResult failed: %v", err)
	}

	r.Outcome = models.OutcomeSucceeded
	r.Error = ""
	delete(r.Allocations, "alloc-2")
	if err := db.SaveResult(r, models.StrategyParallel); err != nil {
		t.Fatalf("second SaveResult failed: %v", err)
	}

	got, err := db.GetResult("coord-1")
	if err != nil {
		t.Fatalf("GetResult failed: %v", err)
	}
	if !got.Success || got.Error != "" || len(got.Allocations) != 1 {
		t.Errorf("replaced result = %+v", got)
	}
}

func TestSaveResult_RequiresID(t *testing.T) {
	db := setupTestDB(t)
	err := db.SaveResult(&models.CoordinationResult{}, models.StrategyParallel)
	if !errors.Is(err, swarmerr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestGetResult_NotFound(t *testing.T) {
	db := setupTestDB(t)
	_, err := db.GetResult("missing")
	if !errors.Is(err, swarmerr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestListResults(t *testing.T) {
	db := setupTestDB(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		r := sampleResult(id, base.Add(time.Duration(i)*time.Hour))
		if err := db.SaveResult(r, models.StrategyHybrid); err != nil {
			t.Fatalf("SaveResult(%s) failed: %v", id, err)
		}
	}

	all, err := db.ListResults(0)
	if err != nil {
		t.Fatalf("ListResults failed: %v", err)
	}
	if len(all) != 3 || all[0].ID != "new" || all[2].ID != "old" {
		t.Fatalf("unexpected order %+v", all)
	}
	if all[0].Strategy != models.StrategyHybrid || all[0].TotalSubtasks != 2 || all[0].CompletedSubtasks != 1 {
		t.Errorf("summary = %+v", all[0])
	}

	limited, err := db.ListResults(2)
	if err != nil {
		t.Fatalf("ListResults(2) failed: %v", err)
	}
	if len(limited) != 2 || limited[1].ID != "mid" {
		t.Errorf("limited = %+v", limited)
	}
}

func TestPurgeOlderThan(t *testing.T) {
	db := setupTestDB(t)
	if err := db.SaveResult(sampleResult("stale", time.Now().Add(-48*time.Hour)), models.StrategyParallel); err != nil {
		t.Fatalf("SaveResult failed: %v", err)
	}
	if err := db.SaveResult(sampleResult("fresh", time.Now()), models.StrategyParallel); err != nil {
		t.Fatalf("SaveResult failed: %v", err)
	}

	n, err := db.PurgeOlderThan(24 * time.Hour)
	if err != nil {
		t.Fatalf("PurgeOlderThan failed: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d, want 1", n)
	}

	var orphans int
	if err := db.QueryRow("SELECT COUNT(*) FROM allocation_results WHERE coordination_id = 'stale'").Scan(&orphans); err != nil {
		t.Fatalf("count allocation results: %v", err)
	}
	if orphans != 0 {
		t.Errorf("allocation results of purged coordination remain: %d", orphans)
	}
}

func TestProjectDBPath(t *testing.T) {
	if got, want := ProjectDBPath("/repo"), filepath.Join("/repo", ".swarm", "state.db"); got != want {
		t.Errorf("ProjectDBPath() = %q, want %q", got, want)
	}
}

func TestTransaction_Rollback(t *testing.T) {
	db := setupTestDB(t)
	wantErr := errors.New("boom")

	err := db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO coordinations (id, distribution_id, task_id, strategy, outcome, started_at, execution_ns,
			total_subtasks, completed_subtasks, metrics, aggregated) VALUES ('c', 'd', 't', 'parallel', 'failed', ?, 0, 0, 0, '{}', '{}')`,
			formatTime(time.Now())); err != nil {
			return err
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Transaction error = %v, want %v", err, wantErr)
	}
	if _, err := db.GetResult("c"); !errors.Is(err, swarmerr.ErrNotFound) {
		t.Errorf("rolled back row is visible: %v", err)
	}
}

func TestFormatAndParseTime(t *testing.T) {
	original := time.Date(2026, 1, 15, 10, 30, 45, 500, time.FixedZone("X", 3600))
	parsed, err := parseTime(formatTime(original))
	if err != nil {
		t.Fatalf("parseTime failed: %v", err)
	}
	if !parsed.Equal(original) {
		t.Errorf("round trip = %v, want %v", parsed, original)
	}
	if formatTime(time.Unix(10, 0)) >= formatTime(time.Unix(10, 5)) {
		t.Error("formatted times do not sort lexically")
	}
}
