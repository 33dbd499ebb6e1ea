package tasks

import "time"

// AgentStatus reflects an agent's availability.
type AgentStatus string

const (
	AgentActive  AgentStatus = "active"
	AgentIdle    AgentStatus = "idle"
	AgentOffline AgentStatus = "offline"
)

// Agent is a registered autonomous worker. Master agents own shared
// external channels and approve review→done transitions.
type Agent struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	WorkspaceID string      `json:"workspace_id"`
	Status      AgentStatus `json:"status"`
	IsMaster    bool        `json:"is_master"`
	SessionKey  string      `json:"session_key,omitempty"`
}

// Workspace groups agents and tasks under a human-readable slug.
type Workspace struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Slug          string `json:"slug"`
	MasterAgentID string `json:"master_agent_id,omitempty"`
}

// SessionStatus is the lifecycle state of a dispatch session.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionEnded  SessionStatus = "ended"
)

// Session is an open dispatch channel to one agent. The dispatch engine
// keeps at most one active session per agent and reuses it.
type Session struct {
	ID          string        `json:"id"`
	AgentID     string        `json:"agent_id"`
	SessionType string        `json:"session_type"`
	Status      SessionStatus `json:"status"`
	TaskID      string        `json:"task_id,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}
