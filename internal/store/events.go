package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/dohr-michael/missionctl/internal/events"
)

// AppendEvent persists an audit event. Events are append-only; there is
// no update or delete path.
func (s *Store) AppendEvent(ctx context.Context, e events.Event) (events.Event, error) {
	if e.ID == "" {
		e.ID = "evt_" + uuid.New().String()[:8]
	}
	meta := "{}"
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return e, fmt.Errorf("marshal event metadata: %w", err)
		}
		meta = string(b)
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO events
		(id, type, agent_id, task_id, message, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Type), nullable(e.AgentID), nullable(e.TaskID),
		e.Message, meta, fmtTime(e.CreatedAt))
	if err != nil {
		return e, fmt.Errorf("append event: %w", err)
	}
	return e, nil
}

// TaskEvents returns the audit trail for a task, oldest first.
func (s *Store) TaskEvents(ctx context.Context, taskID string) ([]events.Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, type, agent_id, task_id, message, metadata, created_at
		FROM events WHERE task_id = ? ORDER BY created_at ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var (
			e                events.Event
			typ, meta, ts    string
			agentID, taskCol sql.NullString
		)
		if err := rows.Scan(&e.ID, &typ, &agentID, &taskCol, &e.Message, &meta, &ts); err != nil {
			return nil, err
		}
		e.Type = events.Type(typ)
		e.AgentID = fromNull(agentID)
		e.TaskID = fromNull(taskCol)
		e.CreatedAt = parseTime(ts)
		if meta != "" && meta != "{}" {
			if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal event metadata: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
