package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dohr-michael/missionctl/internal/apierr"
	"github.com/dohr-michael/missionctl/internal/tasks"
)

// PutWorkspace inserts or replaces a workspace row.
func (s *Store) PutWorkspace(ctx context.Context, w *tasks.Workspace) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO workspaces
		(id, name, slug, master_agent_id) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, slug = excluded.slug,
			master_agent_id = excluded.master_agent_id`,
		w.ID, w.Name, w.Slug, nullable(w.MasterAgentID))
	if err != nil {
		return fmt.Errorf("put workspace: %w", err)
	}
	return nil
}

// WorkspaceBySlug resolves a workspace by its human-readable slug.
func (s *Store) WorkspaceBySlug(ctx context.Context, slug string) (*tasks.Workspace, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, slug, master_agent_id FROM workspaces WHERE slug = ?`, slug)
	w, err := scanWorkspace(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierr.NotFound("workspace", slug)
	}
	return w, err
}

// GetWorkspace returns a workspace by id or a NotFoundError.
func (s *Store) GetWorkspace(ctx context.Context, id string) (*tasks.Workspace, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, slug, master_agent_id FROM workspaces WHERE id = ?`, id)
	w, err := scanWorkspace(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierr.NotFound("workspace", id)
	}
	return w, err
}

func scanWorkspace(r rowScanner) (*tasks.Workspace, error) {
	var (
		w      tasks.Workspace
		master sql.NullString
	)
	if err := r.Scan(&w.ID, &w.Name, &w.Slug, &master); err != nil {
		return nil, err
	}
	w.MasterAgentID = fromNull(master)
	return &w, nil
}
