package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dohr-michael/missionctl/internal/activation"
	"github.com/dohr-michael/missionctl/internal/apierr"
	"github.com/dohr-michael/missionctl/internal/events"
	"github.com/dohr-michael/missionctl/internal/lifecycle"
	"github.com/dohr-michael/missionctl/internal/store"
	"github.com/dohr-michael/missionctl/internal/tasks"
)

type createTaskRequest struct {
	Title             string          `json:"title"`
	Description       string          `json:"description"`
	Status            tasks.Status    `json:"status,omitempty"`
	Priority          tasks.Priority  `json:"priority,omitempty"`
	AssignedAgentID   string          `json:"assigned_agent_id,omitempty"`
	CreatedByAgentID  string          `json:"created_by_agent_id,omitempty"`
	WorkspaceID       string          `json:"workspace_id"`
	InitiativeID      string          `json:"initiative_id,omitempty"`
	ExternalRequestID string          `json:"external_request_id,omitempty"`
	Source            string          `json:"source,omitempty"`
	TaskType          tasks.Type      `json:"task_type,omitempty"`
	TaskTypeConfig    json.RawMessage `json:"task_type_config,omitempty"`
	ParentTaskID      string          `json:"parent_task_id,omitempty"`
	DueAt             *time.Time      `json:"due_at,omitempty"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.Validation("body", "invalid JSON: "+err.Error()))
		return
	}

	cfg, err := tasks.DecodeTypeConfig(req.TaskType, req.TaskTypeConfig)
	if err != nil {
		writeError(w, apierr.Validation("task_type_config", err.Error()))
		return
	}

	t := &tasks.Task{
		Title:             req.Title,
		Description:       req.Description,
		Status:            req.Status,
		Priority:          req.Priority,
		AssignedAgentID:   req.AssignedAgentID,
		CreatedByAgentID:  req.CreatedByAgentID,
		WorkspaceID:       req.WorkspaceID,
		InitiativeID:      req.InitiativeID,
		ExternalRequestID: req.ExternalRequestID,
		Source:            req.Source,
		Type:              req.TaskType,
		TypeConfig:        cfg,
		ParentTaskID:      req.ParentTaskID,
		DueAt:             req.DueAt,
	}

	created, idempotent, err := s.store.CreateTask(r.Context(), t)
	if err != nil {
		writeError(w, err)
		return
	}
	if idempotent {
		writeJSON(w, http.StatusOK, created)
		return
	}

	ev, err := s.store.AppendEvent(r.Context(), events.New(events.TaskCreated, created.ID, created.CreatedByAgentID, "task created", nil))
	if err == nil {
		s.bus.Publish(ev)
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.TaskFilter{
		Status:       tasks.Status(q.Get("status")),
		WorkspaceID:  q.Get("workspace_id"),
		InitiativeID: q.Get("initiative_id"),
		AgentID:      q.Get("agent_id"),
	}
	list, err := s.store.ListTasks(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []*tasks.Task{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type patchTaskRequest struct {
	lifecycle.Patch
	ActingAgentID string `json:"acting_agent_id,omitempty"`
}

// actingAgent identifies the agent driving a request: the X-Agent-ID
// header wins, then the body field. Empty means human-originated.
func actingAgent(r *http.Request, bodyAgent string) string {
	if v := r.Header.Get("X-Agent-ID"); v != "" {
		return v
	}
	return bodyAgent
}

func (s *Server) handlePatchTask(w http.ResponseWriter, r *http.Request) {
	var req patchTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.Validation("body", "invalid JSON: "+err.Error()))
		return
	}

	updated, err := s.controller.UpdateTask(r.Context(), chi.URLParam(r, "id"), req.Patch, actingAgent(r, req.ActingAgentID))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.controller.DeleteTask(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := s.engine.Dispatch(r.Context(), t)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleTaskEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetTask(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	trail, err := s.store.TaskEvents(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if trail == nil {
		trail = []events.Event{}
	}
	writeJSON(w, http.StatusOK, trail)
}

type planningQuestionRequest struct {
	Text          string `json:"text"`
	Answer        bool   `json:"answer,omitempty"`
	ActingAgentID string `json:"acting_agent_id,omitempty"`
}

func (s *Server) handlePlanningQuestion(w http.ResponseWriter, r *http.Request) {
	var req planningQuestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.Validation("body", "invalid JSON: "+err.Error()))
		return
	}
	if req.Text == "" {
		writeError(w, apierr.Validation("text", "is required"))
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.controller.AddPlanningQuestion(r.Context(), id, req.Text, req.Answer, actingAgent(r, req.ActingAgentID)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recorded": true})
}

func (s *Server) handleLockSpec(w http.ResponseWriter, r *http.Request) {
	updated, err := s.controller.LockSpec(r.Context(), chi.URLParam(r, "id"), actingAgent(r, ""))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleTaskTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, tasks.TypeSchemas())
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	var req activation.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.Validation("body", "invalid JSON: "+err.Error()))
		return
	}
	resp, err := s.orch.Activate(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
