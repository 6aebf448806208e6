package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ShayCichocki/swarm/pkg/models"
	"github.com/ShayCichocki/swarm/pkg/swarmerr"
)

// Summary is one line of coordination history.
type Summary struct {
	ID                string
	TaskID            string
	Strategy          models.StrategyType
	Outcome           models.CoordinationOutcome
	Error             string
	StartedAt         time.Time
	ExecutionTime     time.Duration
	TotalSubtasks     int
	CompletedSubtasks int
}

// SaveResult stores a coordination result and its allocation results.
// Saving the same coordination again replaces it.
func (db *DB) SaveResult(r *models.CoordinationResult, strategy models.StrategyType) error {
	if r == nil || r.CoordinationID == "" {
		return swarmerr.Invalid("result", "coordination id is required")
	}
	metrics, err := json.Marshal(r.Metrics)
	if err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}
	aggregated, err := json.Marshal(r.Aggregated)
	if err != nil {
		return fmt.Errorf("encode aggregated result: %w", err)
	}
	syncOutcomes, err := json.Marshal(r.SyncOutcomes)
	if err != nil {
		return fmt.Errorf("encode sync outcomes: %w", err)
	}

	return db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM coordinations WHERE id = ?`, r.CoordinationID); err != nil {
			return fmt.Errorf("replace coordination %s: %w", r.CoordinationID, err)
		}
		_, err := tx.Exec(`
			INSERT INTO coordinations (id, distribution_id, task_id, strategy, outcome, error,
				started_at, execution_ns, total_subtasks, completed_subtasks, metrics, aggregated, sync_outcomes)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, r.CoordinationID, r.DistributionID, r.TaskID, string(strategy), string(r.Outcome), nullString(r.Error),
			formatTime(r.StartedAt), int64(r.ExecutionTime), r.Metrics.TotalSubtasks, r.Metrics.CompletedSubtasks,
			string(metrics), string(aggregated), string(syncOutcomes))
		if err != nil {
			return fmt.Errorf("insert coordination %s: %w", r.CoordinationID, err)
		}

		for id, a := range r.Allocations {
			subtasks, err := json.Marshal(a.Subtasks)
			if err != nil {
				return fmt.Errorf("encode subtasks of %s: %w", id, err)
			}
			_, err = tx.Exec(`
				INSERT INTO allocation_results (coordination_id, allocation_id, agent_id, status, attempts, error, subtasks)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, r.CoordinationID, id, nullString(a.AgentID), string(a.Status), a.Attempts, nullString(a.Error), string(subtasks))
			if err != nil {
				return fmt.Errorf("insert allocation result %s: %w", id, err)
			}
		}
		return nil
	})
}

// GetResult loads a stored coordination result.
func (db *DB) GetResult(id string) (*models.CoordinationResult, error) {
	var (
		r                                models.CoordinationResult
		strategy, outcome, startedAt     string
		errText                          sql.NullString
		executionNS                      int64
		metrics, aggregated              string
		syncOutcomes                     sql.NullString
		totalSubtasks, completedSubtasks int
	)
	err := db.QueryRow(`
		SELECT id, distribution_id, task_id, strategy, outcome, error, started_at, execution_ns,
			total_subtasks, completed_subtasks, metrics, aggregated, sync_outcomes
		FROM coordinations WHERE id = ?
	`, id).Scan(&r.CoordinationID, &r.DistributionID, &r.TaskID, &strategy, &outcome, &errText, &startedAt,
		&executionNS, &totalSubtasks, &completedSubtasks, &metrics, &aggregated, &syncOutcomes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, swarmerr.NotFound("coordination", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get coordination %s: %w", id, err)
	}

	r.Outcome = models.CoordinationOutcome(outcome)
	r.Success = r.Outcome == models.OutcomeSucceeded
	r.Error = errText.String
	r.ExecutionTime = time.Duration(executionNS)
	if r.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, fmt.Errorf("parse started_at of %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(metrics), &r.Metrics); err != nil {
		return nil, fmt.Errorf("decode metrics of %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(aggregated), &r.Aggregated); err != nil {
		return nil, fmt.Errorf("decode aggregated result of %s: %w", id, err)
	}
	if syncOutcomes.Valid && syncOutcomes.String != "" {
		if err := json.Unmarshal([]byte(syncOutcomes.String), &r.SyncOutcomes); err != nil {
			return nil, fmt.Errorf("decode sync outcomes of %s: %w", id, err)
		}
	}

	allocations, err := db.allocationResults(id)
	if err != nil {
		return nil, err
	}
	r.Allocations = allocations
	return &r, nil
}

func (db *DB) allocationResults(coordinationID string) (map[string]*models.AllocationResult, error) {
	rows, err := db.Query(`
		SELECT allocation_id, agent_id, status, attempts, error, subtasks
		FROM allocation_results WHERE coordination_id = ?
		ORDER BY allocation_id
	`, coordinationID)
	if err != nil {
		return nil, fmt.Errorf("list allocation results of %s: %w", coordinationID, err)
	}
	defer rows.Close()

	out := make(map[string]*models.AllocationResult)
	for rows.Next() {
		var (
			a                models.AllocationResult
			status           string
			agentID, errText sql.NullString
			subtasks         sql.NullString
		)
		if err := rows.Scan(&a.AllocationID, &agentID, &status, &a.Attempts, &errText, &subtasks); err != nil {
			return nil, fmt.Errorf("scan allocation result: %w", err)
		}
		a.AgentID = agentID.String
		a.Status = models.AllocationStatus(status)
		a.Error = errText.String
		if subtasks.Valid && subtasks.String != "" && subtasks.String != "null" {
			if err := json.Unmarshal([]byte(subtasks.String), &a.Subtasks); err != nil {
				return nil, fmt.Errorf("decode subtasks of %s: %w", a.AllocationID, err)
			}
		}
		out[a.AllocationID] = &a
	}
	return out, rows.Err()
}

// ListResults returns the most recent coordinations first. A limit of zero or
// less returns all of them.
func (db *DB) ListResults(limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(`
		SELECT id, task_id, strategy, outcome, error, started_at, execution_ns, total_subtasks, completed_subtasks
		FROM coordinations
		ORDER BY started_at DESC, id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list coordinations: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			s                          Summary
			strategy, outcome, started string
			errText                    sql.NullString
			executionNS                int64
		)
		if err := rows.Scan(&s.ID, &s.TaskID, &strategy, &outcome, &errText, &started, &executionNS,
			&s.TotalSubtasks, &s.CompletedSubtasks); err != nil {
			return nil, fmt.Errorf("scan coordination: %w", err)
		}
		s.Strategy = models.StrategyType(strategy)
		s.Outcome = models.CoordinationOutcome(outcome)
		s.Error = errText.String
		s.ExecutionTime = time.Duration(executionNS)
		if s.StartedAt, err = parseTime(started); err != nil {
			return nil, fmt.Errorf("parse started_at of %s: %w", s.ID, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// nullString stores empty strings as NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
