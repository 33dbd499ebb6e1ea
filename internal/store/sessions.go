package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dohr-michael/missionctl/internal/tasks"
)

// ActiveSession returns the agent's active dispatch session, or nil when
// none is open.
func (s *Store) ActiveSession(ctx context.Context, agentID string) (*tasks.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, agent_id, session_type, status, task_id, created_at
		FROM sessions WHERE agent_id = ? AND status = ? ORDER BY created_at DESC LIMIT 1`,
		agentID, string(tasks.SessionActive))
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return sess, err
}

// OpenSession finds the agent's active session or creates one. The
// dispatch engine never holds more than one active session per agent.
func (s *Store) OpenSession(ctx context.Context, agentID, sessionType, taskID string) (*tasks.Session, error) {
	if existing, err := s.ActiveSession(ctx, agentID); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	sess := &tasks.Session{
		ID:          "sess_" + uuid.New().String()[:8],
		AgentID:     agentID,
		SessionType: sessionType,
		Status:      tasks.SessionActive,
		TaskID:      taskID,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO sessions
		(id, agent_id, session_type, status, task_id, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.AgentID, sess.SessionType, string(sess.Status),
		nullable(sess.TaskID), fmtTime(sess.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	return sess, nil
}

// EndSession marks a session as ended.
func (s *Store) EndSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET status = ? WHERE id = ?`,
		string(tasks.SessionEnded), id)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

func scanSession(r rowScanner) (*tasks.Session, error) {
	var (
		sess      tasks.Session
		status    string
		taskID    sql.NullString
		createdAt string
	)
	if err := r.Scan(&sess.ID, &sess.AgentID, &sess.SessionType, &status, &taskID, &createdAt); err != nil {
		return nil, err
	}
	sess.Status = tasks.SessionStatus(status)
	sess.TaskID = fromNull(taskID)
	sess.CreatedAt = parseTime(createdAt)
	return &sess, nil
}
