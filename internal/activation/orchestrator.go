// Package activation exposes the composite "activate workspace for
// initiative" entry point: idempotent task creation, initiative
// bookkeeping, bulk status promotion and a best-effort dispatch, in one
// call. Durable bookkeeping is decoupled from agent notification: a
// dispatch failure downgrades to a warning.
package activation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dohr-michael/missionctl/internal/apierr"
	"github.com/dohr-michael/missionctl/internal/dispatch"
	"github.com/dohr-michael/missionctl/internal/events"
	"github.com/dohr-michael/missionctl/internal/ledger"
	"github.com/dohr-michael/missionctl/internal/store"
	"github.com/dohr-michael/missionctl/internal/tasks"
)

// Orchestrator composes the store, dispatch engine and ledger sync.
type Orchestrator struct {
	store  *store.Store
	engine *dispatch.Engine
	ledger *ledger.Sync
	bus    *events.Bus
}

// NewOrchestrator wires an activation orchestrator.
func NewOrchestrator(st *store.Store, engine *dispatch.Engine, lsync *ledger.Sync, bus *events.Bus) *Orchestrator {
	return &Orchestrator{store: st, engine: engine, ledger: lsync, bus: bus}
}

// Request is one activation call.
type Request struct {
	Workspace         string `json:"workspace"`
	InitiativeID      string `json:"initiative_id,omitempty"`
	Title             string `json:"title,omitempty"`
	Description       string `json:"description,omitempty"`
	AgentID           string `json:"agent_id,omitempty"`
	ExternalRequestID string `json:"external_request_id,omitempty"`
}

// Response always reports 200 on successful bookkeeping; Warning carries
// any dispatch failure without undoing the recorded work.
type Response struct {
	Success           bool   `json:"success"`
	TaskID            string `json:"task_id"`
	InitiativeID      string `json:"initiative_id"`
	ExternalRequestID string `json:"external_request_id,omitempty"`
	Warning           string `json:"warning,omitempty"`
	GatewayTriggered  bool   `json:"gateway_triggered"`
	Idempotent        bool   `json:"idempotent,omitempty"`
}

// Activate performs the composite operation. Concurrent duplicate calls
// sharing (workspace, external_request_id) converge on one task row via
// the same insert-or-fetch discipline as task creation; a repeated call
// returns idempotent=true and does not re-issue the dispatch.
func (o *Orchestrator) Activate(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.Workspace) == "" {
		return nil, apierr.Validation("workspace", "is required")
	}

	ws, err := o.store.WorkspaceBySlug(ctx, req.Workspace)
	if err != nil {
		return nil, err
	}

	initiativeID := strings.TrimSpace(req.InitiativeID)
	if initiativeID == "" {
		initiativeID = tasks.GenerateInitiativeID()
	}

	title := req.Title
	if title == "" {
		title = fmt.Sprintf("Activate %s for %s", ws.Name, initiativeID)
	}

	task := &tasks.Task{
		Title:             title,
		Description:       req.Description,
		Status:            tasks.StatusPlanning,
		WorkspaceID:       ws.ID,
		InitiativeID:      initiativeID,
		ExternalRequestID: req.ExternalRequestID,
	}
	created, idempotent, err := o.store.CreateTask(ctx, task)
	if err != nil {
		return nil, err
	}

	if idempotent {
		// The winner already did the promotion and the dispatch.
		return &Response{
			Success:           true,
			TaskID:            created.ID,
			InitiativeID:      created.InitiativeID,
			ExternalRequestID: created.ExternalRequestID,
			Idempotent:        true,
		}, nil
	}

	o.logEvent(ctx, events.New(events.TaskCreated, created.ID, "",
		fmt.Sprintf("task created by activation of %s", ws.Slug),
		map[string]string{"initiative_id": initiativeID}))

	// Resolve-or-create the ledger entry and mirror planned→in-progress.
	// Ledger consistency is secondary: failures degrade to a log line.
	if o.ledger != nil {
		err := o.ledger.Apply(ledger.Update{
			InitiativeID:      initiativeID,
			Explicit:          true,
			Status:            tasks.StatusInProgress,
			Note:              fmt.Sprintf("workspace %s activated", ws.Slug),
			Title:             title,
			ExternalRequestID: req.ExternalRequestID,
		})
		if err != nil {
			slog.Warn("activation ledger writeback failed", "initiative_id", initiativeID, "error", err)
		}
	}

	if _, err := o.store.PromoteTasks(ctx, initiativeID, tasks.StatusPlanning, tasks.StatusInProgress); err != nil {
		return nil, fmt.Errorf("promote initiative tasks: %w", err)
	}

	resp := &Response{
		Success:           true,
		TaskID:            created.ID,
		InitiativeID:      initiativeID,
		ExternalRequestID: req.ExternalRequestID,
	}

	agentID := req.AgentID
	if agentID == "" {
		agentID = ws.MasterAgentID
	}
	if agentID == "" {
		resp.Warning = "no agent available for dispatch"
		return resp, nil
	}

	// Best-effort notification; the bookkeeping above stands either way.
	promoted, err := o.store.GetTask(ctx, created.ID)
	if err != nil {
		resp.Warning = err.Error()
		return resp, nil
	}
	promoted.AssignedAgentID = agentID
	if err := o.store.UpdateTask(ctx, promoted); err != nil {
		resp.Warning = err.Error()
		return resp, nil
	}
	if _, err := o.engine.Dispatch(ctx, promoted); err != nil {
		slog.Warn("activation dispatch failed", "task_id", promoted.ID, "agent_id", agentID, "error", err)
		resp.Warning = fmt.Sprintf("dispatch failed: %v", err)
		return resp, nil
	}
	resp.GatewayTriggered = true
	return resp, nil
}

func (o *Orchestrator) logEvent(ctx context.Context, ev events.Event) {
	stored, err := o.store.AppendEvent(ctx, ev)
	if err != nil {
		slog.Error("append event", "type", ev.Type, "task_id", ev.TaskID, "error", err)
		return
	}
	if o.bus != nil {
		o.bus.Publish(stored)
	}
}
