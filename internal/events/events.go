// Package events defines the immutable audit records produced by task
// state transitions and dispatch attempts, plus an in-memory bus feeding
// live subscribers. Durable persistence of events is the store's job;
// the bus only serves the live feed.
package events

import "time"

// Type classifies an audit event.
type Type string

const (
	TaskCreated       Type = "task_created"
	TaskStatusChanged Type = "task_status_changed"
	TaskCompleted     Type = "task_completed"
	TaskDispatched    Type = "task_dispatched"
	TaskDeleted       Type = "task_deleted"
	DispatchFailed    Type = "dispatch_failed"
	PlanningQuestion  Type = "planning_question"
	PlanningAnswer    Type = "planning_answer"
	SpecLocked        Type = "spec_locked"
)

// Event is an append-only audit record. Once written it is never
// mutated or deleted.
type Event struct {
	ID        string            `json:"id"`
	Type      Type              `json:"type"`
	AgentID   string            `json:"agent_id,omitempty"`
	TaskID    string            `json:"task_id,omitempty"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// New builds an event stamped with the current time. The store assigns
// the id on insert.
func New(t Type, taskID, agentID, message string, metadata map[string]string) Event {
	return Event{
		Type:      t,
		TaskID:    taskID,
		AgentID:   agentID,
		Message:   message,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
}
