package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dohr-michael/missionctl/internal/apierr"
	"github.com/dohr-michael/missionctl/internal/tasks"
)

const taskColumns = `id, title, description, status, priority, assigned_agent_id,
	created_by_agent_id, workspace_id, initiative_id, external_request_id,
	source, task_type, task_type_config, parent_task_id, evaluation_status,
	due_at, created_at, updated_at`

// CreateTask inserts a task at most once per (source, external_request_id).
// When a row with the same pair already exists, found up front or detected
// through the unique index under a race, the existing row is returned with
// idempotent=true and nothing is written. Validation happens before any
// write attempt.
func (s *Store) CreateTask(ctx context.Context, t *tasks.Task) (*tasks.Task, bool, error) {
	lookup := func(id string) (*tasks.Task, error) {
		parent, err := s.GetTask(ctx, id)
		if err != nil {
			var nf *apierr.NotFoundError
			if errors.As(err, &nf) {
				return nil, nil
			}
			return nil, err
		}
		return parent, nil
	}

	tasks.ApplyDefaults(t)
	if err := tasks.ValidateNew(t, lookup); err != nil {
		return nil, false, err
	}

	if t.ExternalRequestID != "" {
		existing, err := s.TaskByRequestID(ctx, t.Source, t.ExternalRequestID)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, true, nil
		}
	}

	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	err := s.insertTask(ctx, t)
	if err == nil {
		return t, false, nil
	}

	// Lost the insert race: the unique index rejected us, so the winner's
	// row exists. Converge on it.
	if isUniqueViolation(err) {
		if t.ExternalRequestID != "" {
			existing, selErr := s.TaskByRequestID(ctx, t.Source, t.ExternalRequestID)
			if selErr != nil {
				return nil, false, selErr
			}
			if existing != nil {
				return existing, true, nil
			}
		}
		return nil, false, &apierr.ConflictError{Reason: "task id already exists"}
	}
	return nil, false, fmt.Errorf("insert task: %w", err)
}

func (s *Store) insertTask(ctx context.Context, t *tasks.Task) error {
	cfg, err := json.Marshal(t.TypeConfig)
	if err != nil {
		return fmt.Errorf("marshal task config: %w", err)
	}

	var dueAt any
	if t.DueAt != nil {
		dueAt = fmtTime(*t.DueAt)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Description, string(t.Status), string(t.Priority),
		nullable(t.AssignedAgentID), nullable(t.CreatedByAgentID),
		t.WorkspaceID, nullable(t.InitiativeID), nullable(t.ExternalRequestID),
		t.Source, string(t.Type), string(cfg), nullable(t.ParentTaskID),
		t.EvaluationStatus, dueAt, fmtTime(t.CreatedAt), fmtTime(t.UpdatedAt))
	return err
}

// TaskByRequestID returns the task with the given idempotency pair, or
// nil when none exists.
func (s *Store) TaskByRequestID(ctx context.Context, source, externalRequestID string) (*tasks.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE source = ? AND external_request_id = ?`,
		source, externalRequestID)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

// GetTask returns a task by id or a NotFoundError.
func (s *Store) GetTask(ctx context.Context, id string) (*tasks.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierr.NotFound("task", id)
	}
	return t, err
}

// TaskFilter selects tasks for listing.
type TaskFilter struct {
	Status       tasks.Status
	WorkspaceID  string
	InitiativeID string
	AgentID      string
}

// ListTasks returns tasks matching the filter, most recently updated first.
func (s *Store) ListTasks(ctx context.Context, f TaskFilter) ([]*tasks.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`
	var args []any
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.WorkspaceID != "" {
		query += ` AND workspace_id = ?`
		args = append(args, f.WorkspaceID)
	}
	if f.InitiativeID != "" {
		query += ` AND initiative_id = ?`
		args = append(args, f.InitiativeID)
	}
	if f.AgentID != "" {
		query += ` AND assigned_agent_id = ?`
		args = append(args, f.AgentID)
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []*tasks.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateTask rewrites the mutable columns of a task row.
func (s *Store) UpdateTask(ctx context.Context, t *tasks.Task) error {
	cfg, err := json.Marshal(t.TypeConfig)
	if err != nil {
		return fmt.Errorf("marshal task config: %w", err)
	}

	var dueAt any
	if t.DueAt != nil {
		dueAt = fmtTime(*t.DueAt)
	}

	t.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET
		title = ?, description = ?, status = ?, priority = ?,
		assigned_agent_id = ?, initiative_id = ?, task_type = ?,
		task_type_config = ?, evaluation_status = ?, due_at = ?, updated_at = ?
		WHERE id = ?`,
		t.Title, t.Description, string(t.Status), string(t.Priority),
		nullable(t.AssignedAgentID), nullable(t.InitiativeID), string(t.Type),
		string(cfg), t.EvaluationStatus, dueAt, fmtTime(t.UpdatedAt), t.ID)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apierr.NotFound("task", t.ID)
	}
	return nil
}

// DeleteTask removes a task, cascading to its activities and deliverables
// and nullifying conversation links.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete task: %w", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return apierr.NotFound("task", id)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM activities WHERE task_id = ?`, id); err != nil {
			return fmt.Errorf("delete activities: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM deliverables WHERE task_id = ?`, id); err != nil {
			return fmt.Errorf("delete deliverables: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE conversations SET task_id = NULL WHERE task_id = ?`, id); err != nil {
			return fmt.Errorf("unlink conversations: %w", err)
		}
		return nil
	})
}

// PromoteTasks moves every task of an initiative from one status to
// another and returns the affected task ids.
func (s *Store) PromoteTasks(ctx context.Context, initiativeID string, from, to tasks.Status) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM tasks WHERE initiative_id = ? AND status = ?`,
		initiativeID, string(from))
	if err != nil {
		return nil, fmt.Errorf("select promotable: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return nil, nil
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, updated_at = ? WHERE initiative_id = ? AND status = ?`,
		string(to), fmtTime(time.Now().UTC()), initiativeID, string(from))
	if err != nil {
		return nil, fmt.Errorf("promote tasks: %w", err)
	}
	return ids, nil
}

// AddActivity records a task activity row.
func (s *Store) AddActivity(ctx context.Context, taskID, activityType, description string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO activities (id, task_id, type, description, created_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), taskID, activityType, description, fmtTime(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("add activity: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (*tasks.Task, error) {
	var (
		t                                         tasks.Task
		assigned, createdBy, initiative, extReqID sql.NullString
		parentID, dueAt                           sql.NullString
		status, priority, taskType, cfg           string
		createdAt, updatedAt                      string
	)
	err := r.Scan(&t.ID, &t.Title, &t.Description, &status, &priority,
		&assigned, &createdBy, &t.WorkspaceID, &initiative, &extReqID,
		&t.Source, &taskType, &cfg, &parentID, &t.EvaluationStatus,
		&dueAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	t.Status = tasks.Status(status)
	t.Priority = tasks.Priority(priority)
	t.Type = tasks.Type(taskType)
	t.AssignedAgentID = fromNull(assigned)
	t.CreatedByAgentID = fromNull(createdBy)
	t.InitiativeID = fromNull(initiative)
	t.ExternalRequestID = fromNull(extReqID)
	t.ParentTaskID = fromNull(parentID)
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	if dueAt.Valid {
		d := parseTime(dueAt.String)
		t.DueAt = &d
	}
	if err := json.Unmarshal([]byte(cfg), &t.TypeConfig); err != nil {
		return nil, fmt.Errorf("unmarshal task config: %w", err)
	}
	return &t, nil
}
