package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dohr-michael/missionctl/internal/apierr"
	"github.com/dohr-michael/missionctl/internal/tasks"
)

// PutAgent inserts or replaces an agent row.
func (s *Store) PutAgent(ctx context.Context, a *tasks.Agent) error {
	if a.Status == "" {
		a.Status = tasks.AgentIdle
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO agents
		(id, name, workspace_id, status, is_master, session_key)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, workspace_id = excluded.workspace_id,
			status = excluded.status, is_master = excluded.is_master,
			session_key = excluded.session_key`,
		a.ID, a.Name, a.WorkspaceID, string(a.Status), boolToInt(a.IsMaster), a.SessionKey)
	if err != nil {
		return fmt.Errorf("put agent: %w", err)
	}
	return nil
}

// GetAgent returns an agent by id or a NotFoundError.
func (s *Store) GetAgent(ctx context.Context, id string) (*tasks.Agent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, workspace_id, status, is_master, session_key FROM agents WHERE id = ?`, id)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierr.NotFound("agent", id)
	}
	return a, err
}

// SetAgentStatus updates an agent's availability.
func (s *Store) SetAgentStatus(ctx context.Context, id string, status tasks.AgentStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE agents SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("set agent status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apierr.NotFound("agent", id)
	}
	return nil
}

// MasterAgents returns the master agents of a workspace.
func (s *Store) MasterAgents(ctx context.Context, workspaceID string) ([]*tasks.Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, workspace_id, status, is_master, session_key
		 FROM agents WHERE workspace_id = ? AND is_master = 1`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list master agents: %w", err)
	}
	defer rows.Close()

	var out []*tasks.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAgent(r rowScanner) (*tasks.Agent, error) {
	var (
		a        tasks.Agent
		status   string
		isMaster int
	)
	if err := r.Scan(&a.ID, &a.Name, &a.WorkspaceID, &status, &isMaster, &a.SessionKey); err != nil {
		return nil, err
	}
	a.Status = tasks.AgentStatus(status)
	a.IsMaster = isMaster != 0
	return &a, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
