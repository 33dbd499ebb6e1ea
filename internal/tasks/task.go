// Package tasks holds the domain model for mission control work items:
// tasks, their status lifecycle, task-type configuration and initiative
// resolution. Persistence lives in internal/store.
package tasks

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a task on the board.
type Status string

const (
	StatusPendingDispatch Status = "pending_dispatch"
	StatusPlanning        Status = "planning"
	StatusInbox           Status = "inbox"
	StatusAssigned        Status = "assigned"
	StatusInProgress      Status = "in_progress"
	StatusTesting         Status = "testing"
	StatusReview          Status = "review"
	StatusDone            Status = "done"
)

// Statuses lists every valid board status.
var Statuses = []Status{
	StatusPendingDispatch,
	StatusPlanning,
	StatusInbox,
	StatusAssigned,
	StatusInProgress,
	StatusTesting,
	StatusReview,
	StatusDone,
}

// ValidStatus reports whether s is a known board status.
func ValidStatus(s Status) bool {
	for _, v := range Statuses {
		if v == s {
			return true
		}
	}
	return false
}

// Priority represents the urgency of a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ValidPriority reports whether p is a known priority.
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// DefaultSource tags rows created by this system. The (source,
// external_request_id) pair is the idempotency contract.
const DefaultSource = "mission-control"

// Task represents a unit of work routed through the status lifecycle to
// an agent.
type Task struct {
	ID                string     `json:"id"`
	Title             string     `json:"title"`
	Description       string     `json:"description"`
	Status            Status     `json:"status"`
	Priority          Priority   `json:"priority"`
	AssignedAgentID   string     `json:"assigned_agent_id,omitempty"`
	CreatedByAgentID  string     `json:"created_by_agent_id,omitempty"`
	WorkspaceID       string     `json:"workspace_id"`
	InitiativeID      string     `json:"initiative_id,omitempty"`
	ExternalRequestID string     `json:"external_request_id,omitempty"`
	Source            string     `json:"source"`
	Type              Type       `json:"task_type"`
	TypeConfig        TypeConfig `json:"task_type_config"`
	ParentTaskID      string     `json:"parent_task_id,omitempty"`
	EvaluationStatus  string     `json:"evaluation_status,omitempty"`
	DueAt             *time.Time `json:"due_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// GenerateTaskID creates a unique task identifier.
func GenerateTaskID() string {
	u := uuid.New().String()
	return "task_" + strings.ReplaceAll(u[:8], "-", "")
}

// GenerateInitiativeID creates a human-readable initiative identifier.
func GenerateInitiativeID() string {
	u := uuid.New().String()
	return "INIT-" + strings.ToLower(u[:5])
}
