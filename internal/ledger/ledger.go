// Package ledger mirrors task and initiative status into an external
// append-only JSON document read directly by other processes. The
// document shape is a durable contract. Writes go through a temp file
// and an atomic rename so a reader never observes a partial document;
// a process-local mutex serializes writers, but nothing guards against
// a concurrent writer in another process (atomic rename makes the last
// writer win rather than corrupting the file).
package ledger

import (
	"time"

	"github.com/dohr-michael/missionctl/internal/tasks"
)

// Ledger entry statuses.
const (
	StatusPlanned    = "planned"
	StatusInProgress = "in-progress"
	StatusCompleted  = "completed"
	StatusCanceled   = "canceled"
	StatusBlocked    = "blocked"
)

// HistoryRecord is one append-only status entry on an initiative.
type HistoryRecord struct {
	Status string    `json:"status"`
	At     time.Time `json:"at"`
	By     string    `json:"by"`
	Note   string    `json:"note,omitempty"`
}

// Entry is one initiative in the ledger document.
type Entry struct {
	ID                string          `json:"id"`
	Title             string          `json:"title"`
	Status            string          `json:"status"`
	Lead              string          `json:"lead,omitempty"`
	Participants      []string        `json:"participants,omitempty"`
	Priority          string          `json:"priority,omitempty"`
	Created           string          `json:"created,omitempty"`
	Target            string          `json:"target,omitempty"`
	Summary           string          `json:"summary,omitempty"`
	Source            string          `json:"source,omitempty"`
	ExternalRequestID string          `json:"external_request_id,omitempty"`
	History           []HistoryRecord `json:"history"`
}

// Document is the full ledger file.
type Document struct {
	LastUpdate  time.Time `json:"lastUpdate"`
	Initiatives []Entry   `json:"initiatives"`
}

// MapStatus translates a board status into the ledger's status space.
// The collapse of done/completed/review into "completed" matches the
// observed behavior of the board; review is counted as completed even
// though it still awaits approval.
func MapStatus(s tasks.Status) string {
	switch s {
	case tasks.StatusPlanning:
		return StatusPlanned
	case tasks.StatusDone, "completed", tasks.StatusReview:
		return StatusCompleted
	case "cancelled":
		return StatusCanceled
	case "blocked":
		// Kept visible as active work rather than hidden.
		return StatusInProgress
	default:
		return StatusInProgress
	}
}

// Update describes one writeback operation.
type Update struct {
	InitiativeID      string
	Explicit          bool // id came from the task's explicit field, not inferred
	Status            tasks.Status
	Note              string
	Title             string // seed title when a new entry must be created
	ExternalRequestID string
}
