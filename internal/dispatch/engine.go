package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dohr-michael/missionctl/internal/apierr"
	"github.com/dohr-michael/missionctl/internal/events"
	"github.com/dohr-michael/missionctl/internal/ledger"
	"github.com/dohr-michael/missionctl/internal/store"
	"github.com/dohr-michael/missionctl/internal/tasks"
)

// Engine turns an assigned task into an outbound gateway call.
type Engine struct {
	store  *store.Store
	client GatewayClient
	ledger *ledger.Sync
	bus    *events.Bus
}

// NewEngine wires a dispatch engine.
func NewEngine(st *store.Store, client GatewayClient, lsync *ledger.Sync, bus *events.Bus) *Engine {
	return &Engine{store: st, client: client, ledger: lsync, bus: bus}
}

// Result reports a successful dispatch.
type Result struct {
	TaskID         string `json:"task_id"`
	AgentID        string `json:"agent_id"`
	SessionID      string `json:"session_id"`
	IdempotencyKey string `json:"idempotency_key"`
}

// IdempotencyKey derives the transport-level deduplication key for a
// task: the external request id when present, else the task id.
func IdempotencyKey(t *tasks.Task) string {
	if t.ExternalRequestID != "" {
		return "dispatch-" + t.ExternalRequestID
	}
	return "dispatch-" + t.ID
}

// Dispatch sends a task's instructions to its assigned agent. On success
// the task moves to in_progress and a task_dispatched event is logged.
// Transport failures leave the task untouched: a connect failure maps to
// 503, a call failure after a successful connect maps to 500.
func (e *Engine) Dispatch(ctx context.Context, t *tasks.Task) (*Result, error) {
	if t.AssignedAgentID == "" {
		return nil, apierr.Validation("assigned_agent_id", "no assigned agent")
	}

	agent, err := e.store.GetAgent(ctx, t.AssignedAgentID)
	if err != nil {
		return nil, err
	}

	if agent.IsMaster {
		if err := e.checkOrchestratorConflict(ctx, agent); err != nil {
			return nil, err
		}
	}

	msg := BuildMessage(t, e.initiativeContext(ctx, t))

	session, err := e.store.OpenSession(ctx, agent.ID, "dispatch", t.ID)
	if err != nil {
		return nil, err
	}

	sessionKey := agent.SessionKey
	if sessionKey == "" {
		sessionKey = session.ID
	}
	key := IdempotencyKey(t)

	if !e.client.IsConnected() {
		if err := e.client.Connect(ctx); err != nil {
			return nil, &apierr.GatewayUnavailableError{Err: err}
		}
	}

	params := map[string]any{
		"session_key": sessionKey,
		"message":     msg,
	}
	if err := e.client.Call(ctx, "chat.send", params, key); err != nil {
		return nil, &apierr.DispatchCallError{Err: err}
	}

	t.Status = tasks.StatusInProgress
	if err := e.store.UpdateTask(ctx, t); err != nil {
		return nil, err
	}

	e.logEvent(ctx, events.New(events.TaskDispatched, t.ID, agent.ID,
		fmt.Sprintf("task dispatched to %s", agent.Name),
		map[string]string{"session_id": session.ID, "idempotency_key": key}))

	slog.Info("task dispatched", "task_id", t.ID, "agent_id", agent.ID, "session_id", session.ID)

	return &Result{
		TaskID:         t.ID,
		AgentID:        agent.ID,
		SessionID:      session.ID,
		IdempotencyKey: key,
	}, nil
}

// checkOrchestratorConflict refuses to dispatch to a master agent while
// another master in the same workspace is not offline. Two autonomous
// orchestrators must never drive the same external channels at once.
func (e *Engine) checkOrchestratorConflict(ctx context.Context, agent *tasks.Agent) error {
	masters, err := e.store.MasterAgents(ctx, agent.WorkspaceID)
	if err != nil {
		return err
	}
	var conflicting []string
	for _, m := range masters {
		if m.ID == agent.ID {
			continue
		}
		if m.Status != tasks.AgentOffline {
			conflicting = append(conflicting, m.Name)
		}
	}
	if len(conflicting) > 0 {
		return &apierr.ConflictError{
			Reason:            "another master agent is active in this workspace",
			ConflictingAgents: conflicting,
		}
	}
	return nil
}

// initiativeContext builds the context block for an attached initiative,
// best-effort: a missing ledger entry just means no block.
func (e *Engine) initiativeContext(ctx context.Context, t *tasks.Task) *InitiativeContext {
	id, ok := tasks.ResolveInitiative(t)
	if !ok || e.ledger == nil {
		return nil
	}

	entry, err := e.ledger.Get(id)
	if err != nil {
		slog.Debug("no ledger entry for initiative", "initiative_id", id, "error", err)
		return nil
	}

	count := 0
	if list, err := e.store.ListTasks(ctx, store.TaskFilter{InitiativeID: id}); err == nil {
		count = len(list)
	}

	return &InitiativeContext{
		ID:        entry.ID,
		Title:     entry.Title,
		Status:    entry.Status,
		TaskCount: count,
	}
}

func (e *Engine) logEvent(ctx context.Context, ev events.Event) {
	stored, err := e.store.AppendEvent(ctx, ev)
	if err != nil {
		slog.Error("append event", "type", ev.Type, "task_id", ev.TaskID, "error", err)
		return
	}
	if e.bus != nil {
		e.bus.Publish(stored)
	}
}
