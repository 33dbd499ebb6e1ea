// Package lifecycle validates and applies task status changes and their
// side effects: audit events, the review→done approval gate, the
// auto-dispatch trigger and the best-effort ledger writeback.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dohr-michael/missionctl/internal/apierr"
	"github.com/dohr-michael/missionctl/internal/dispatch"
	"github.com/dohr-michael/missionctl/internal/events"
	"github.com/dohr-michael/missionctl/internal/ledger"
	"github.com/dohr-michael/missionctl/internal/store"
	"github.com/dohr-michael/missionctl/internal/tasks"
)

// Controller coordinates task mutations. The board is not a strict DAG:
// almost any status move is allowed, but a handful of transitions carry
// mandatory side effects.
type Controller struct {
	store  *store.Store
	engine *dispatch.Engine
	ledger *ledger.Sync
	bus    *events.Bus
}

// NewController wires a transition controller.
func NewController(st *store.Store, engine *dispatch.Engine, lsync *ledger.Sync, bus *events.Bus) *Controller {
	return &Controller{store: st, engine: engine, ledger: lsync, bus: bus}
}

// Patch carries the mutable fields of a PATCH request. Nil means "leave
// unchanged".
type Patch struct {
	Title            *string         `json:"title,omitempty"`
	Description      *string         `json:"description,omitempty"`
	Status           *tasks.Status   `json:"status,omitempty"`
	Priority         *tasks.Priority `json:"priority,omitempty"`
	AssignedAgentID  *string         `json:"assigned_agent_id,omitempty"`
	InitiativeID     *string         `json:"initiative_id,omitempty"`
	EvaluationStatus *string         `json:"evaluation_status,omitempty"`
}

// UpdateTask applies a patch. actingAgentID identifies the agent driving
// the change; an empty value means a human-originated request, which is
// always permitted.
func (c *Controller) UpdateTask(ctx context.Context, id string, p Patch, actingAgentID string) (*tasks.Task, error) {
	t, err := c.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}

	if p.Status != nil && !tasks.ValidStatus(*p.Status) {
		return nil, apierr.Validation("status", "unknown status "+string(*p.Status))
	}
	if p.Priority != nil && !tasks.ValidPriority(*p.Priority) {
		return nil, apierr.Validation("priority", "unknown priority "+string(*p.Priority))
	}

	oldStatus := t.Status
	oldAgent := t.AssignedAgentID

	// The review→done approval gate. Rejected before any mutation.
	if p.Status != nil && oldStatus == tasks.StatusReview && *p.Status == tasks.StatusDone && actingAgentID != "" {
		agent, err := c.store.GetAgent(ctx, actingAgentID)
		if err != nil || !agent.IsMaster {
			return nil, &apierr.AuthorizationError{
				AgentID: actingAgentID,
				Reason:  "only a master agent may approve review -> done",
			}
		}
	}

	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.AssignedAgentID != nil {
		t.AssignedAgentID = *p.AssignedAgentID
	}
	if p.InitiativeID != nil {
		t.InitiativeID = *p.InitiativeID
	}
	if p.EvaluationStatus != nil {
		t.EvaluationStatus = *p.EvaluationStatus
	}

	if err := c.store.UpdateTask(ctx, t); err != nil {
		return nil, err
	}

	statusChanged := t.Status != oldStatus
	if statusChanged {
		evType := events.TaskStatusChanged
		if t.Status == tasks.StatusDone {
			evType = events.TaskCompleted
		}
		c.logEvent(ctx, events.New(evType, t.ID, actingAgentID,
			fmt.Sprintf("%s -> %s", oldStatus, t.Status), nil))

		c.writeback(t, fmt.Sprintf("task %s moved to %s", t.ID, t.Status))
	}

	agentChanged := t.AssignedAgentID != "" && t.AssignedAgentID != oldAgent
	enteredAssigned := statusChanged && t.Status == tasks.StatusAssigned && t.AssignedAgentID != ""
	if agentChanged || enteredAssigned {
		c.tryDispatch(ctx, t)
	}

	return t, nil
}

// DeleteTask removes a task and its dependents, logging the deletion.
func (c *Controller) DeleteTask(ctx context.Context, id string) error {
	if err := c.store.DeleteTask(ctx, id); err != nil {
		return err
	}
	c.logEvent(ctx, events.New(events.TaskDeleted, id, "", "task deleted", nil))
	return nil
}

// AddPlanningQuestion records a planning-phase question or answer on a
// task still in the pre-queue planning sub-state.
func (c *Controller) AddPlanningQuestion(ctx context.Context, id, text string, isAnswer bool, actingAgentID string) error {
	t, err := c.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if t.Status != tasks.StatusPlanning {
		return apierr.Validation("status", "task is not in planning")
	}
	evType := events.PlanningQuestion
	if isAnswer {
		evType = events.PlanningAnswer
	}
	c.logEvent(ctx, events.New(evType, t.ID, actingAgentID, text, nil))
	return nil
}

// LockSpec is the terminal planning action: it force-transitions the
// task from planning to inbox through the same transition primitive.
func (c *Controller) LockSpec(ctx context.Context, id, actingAgentID string) (*tasks.Task, error) {
	t, err := c.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != tasks.StatusPlanning {
		return nil, apierr.Validation("status", "task is not in planning")
	}

	inbox := tasks.StatusInbox
	updated, err := c.UpdateTask(ctx, id, Patch{Status: &inbox}, actingAgentID)
	if err != nil {
		return nil, err
	}
	c.logEvent(ctx, events.New(events.SpecLocked, id, actingAgentID, "spec locked, task queued", nil))
	return updated, nil
}

// tryDispatch issues the dispatch attempt triggered by an assignment
// change. The PATCH itself succeeds regardless; a failed attempt is
// logged and audited, never surfaced.
func (c *Controller) tryDispatch(ctx context.Context, t *tasks.Task) {
	if c.engine == nil {
		return
	}
	if _, err := c.engine.Dispatch(ctx, t); err != nil {
		slog.Warn("auto-dispatch failed", "task_id", t.ID, "agent_id", t.AssignedAgentID, "error", err)
		c.logEvent(ctx, events.New(events.DispatchFailed, t.ID, t.AssignedAgentID, err.Error(), nil))
	}
}

// writeback mirrors a status change into the ledger. Ledger consistency
// is weaker than the primary store; errors are logged and swallowed.
func (c *Controller) writeback(t *tasks.Task, note string) {
	if c.ledger == nil {
		return
	}
	id, ok := tasks.ResolveInitiative(t)
	if !ok {
		return
	}
	err := c.ledger.Apply(ledger.Update{
		InitiativeID:      id,
		Explicit:          t.InitiativeID != "",
		Status:            t.Status,
		Note:              note,
		Title:             t.Title,
		ExternalRequestID: t.ExternalRequestID,
	})
	if err != nil {
		slog.Warn("ledger writeback failed", "initiative_id", id, "task_id", t.ID, "error", err)
	}
}

func (c *Controller) logEvent(ctx context.Context, ev events.Event) {
	stored, err := c.store.AppendEvent(ctx, ev)
	if err != nil {
		slog.Error("append event", "type", ev.Type, "task_id", ev.TaskID, "error", err)
		return
	}
	if c.bus != nil {
		c.bus.Publish(stored)
	}
}
