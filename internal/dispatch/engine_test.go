package dispatch

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dohr-michael/missionctl/internal/apierr"
	"github.com/dohr-michael/missionctl/internal/events"
	"github.com/dohr-michael/missionctl/internal/ledger"
	"github.com/dohr-michael/missionctl/internal/store"
	"github.com/dohr-michael/missionctl/internal/tasks"
)

type fakeCall struct {
	method         string
	params         map[string]any
	idempotencyKey string
}

type fakeClient struct {
	connected  bool
	connectErr error
	callErr    error
	calls      []fakeCall
}

func (f *fakeClient) IsConnected() bool { return f.connected }

func (f *fakeClient) Connect(ctx context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeClient) Call(ctx context.Context, method string, params map[string]any, key string) error {
	if f.callErr != nil {
		return f.callErr
	}
	f.calls = append(f.calls, fakeCall{method: method, params: params, idempotencyKey: key})
	return nil
}

type fixture struct {
	store  *store.Store
	client *fakeClient
	engine *Engine
	sync   *ledger.Sync
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "missionctl.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	client := &fakeClient{}
	lsync := ledger.NewSync(filepath.Join(dir, "ledger.json"))
	engine := NewEngine(st, client, lsync, events.NewBus(16))
	return &fixture{store: st, client: client, engine: engine, sync: lsync}
}

func (f *fixture) seedAgent(t *testing.T, a *tasks.Agent) {
	t.Helper()
	if err := f.store.PutAgent(context.Background(), a); err != nil {
		t.Fatalf("PutAgent: %v", err)
	}
}

func (f *fixture) seedTask(t *testing.T, task *tasks.Task) *tasks.Task {
	t.Helper()
	created, _, err := f.store.CreateTask(context.Background(), task)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	return created
}

func TestDispatchNoAssignedAgent(t *testing.T) {
	f := newFixture(t)
	task := f.seedTask(t, &tasks.Task{Title: "orphan", WorkspaceID: "ws-1"})

	_, err := f.engine.Dispatch(context.Background(), task)
	var ve *apierr.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("got %v, want ValidationError", err)
	}
}

func TestDispatchUnknownAgent(t *testing.T) {
	f := newFixture(t)
	task := f.seedTask(t, &tasks.Task{Title: "lost", WorkspaceID: "ws-1", AssignedAgentID: "agent-ghost"})

	_, err := f.engine.Dispatch(context.Background(), task)
	var nf *apierr.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("got %v, want NotFoundError", err)
	}
}

func TestDispatchOrchestratorConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedAgent(t, &tasks.Agent{ID: "agent-1", Name: "atlas", WorkspaceID: "ws-1", IsMaster: true, Status: tasks.AgentIdle})
	f.seedAgent(t, &tasks.Agent{ID: "agent-2", Name: "hermes", WorkspaceID: "ws-1", IsMaster: true, Status: tasks.AgentActive})

	task := f.seedTask(t, &tasks.Task{Title: "conflicted", WorkspaceID: "ws-1", AssignedAgentID: "agent-1"})

	_, err := f.engine.Dispatch(ctx, task)
	var ce *apierr.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("got %v, want ConflictError", err)
	}
	if len(ce.ConflictingAgents) != 1 || ce.ConflictingAgents[0] != "hermes" {
		t.Errorf("conflicting agents: %v", ce.ConflictingAgents)
	}

	// Once the other master goes offline the dispatch is allowed.
	if err := f.store.SetAgentStatus(ctx, "agent-2", tasks.AgentOffline); err != nil {
		t.Fatalf("SetAgentStatus: %v", err)
	}
	if _, err := f.engine.Dispatch(ctx, task); err != nil {
		t.Fatalf("Dispatch after offline: %v", err)
	}
}

func TestDispatchConnectFailureLeavesTaskUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedAgent(t, &tasks.Agent{ID: "agent-1", Name: "worker", WorkspaceID: "ws-1"})
	task := f.seedTask(t, &tasks.Task{Title: "stuck", WorkspaceID: "ws-1", AssignedAgentID: "agent-1", Status: tasks.StatusAssigned})

	f.client.connectErr = errors.New("dial tcp: connection refused")
	_, err := f.engine.Dispatch(ctx, task)
	var ge *apierr.GatewayUnavailableError
	if !errors.As(err, &ge) {
		t.Fatalf("got %v, want GatewayUnavailableError", err)
	}

	got, err := f.store.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != tasks.StatusAssigned {
		t.Errorf("task status mutated on failed connect: %q", got.Status)
	}

	// Retry must not open a second active session for the agent.
	_, _ = f.engine.Dispatch(ctx, task)
	first, err := f.store.ActiveSession(ctx, "agent-1")
	if err != nil {
		t.Fatalf("ActiveSession: %v", err)
	}
	if first == nil {
		t.Fatal("expected an active session")
	}

	f.client.connectErr = nil
	res, err := f.engine.Dispatch(ctx, task)
	if err != nil {
		t.Fatalf("Dispatch after recovery: %v", err)
	}
	if res.SessionID != first.ID {
		t.Errorf("session not reused: %s vs %s", res.SessionID, first.ID)
	}
}

func TestDispatchCallFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedAgent(t, &tasks.Agent{ID: "agent-1", Name: "worker", WorkspaceID: "ws-1"})
	task := f.seedTask(t, &tasks.Task{Title: "flaky", WorkspaceID: "ws-1", AssignedAgentID: "agent-1", Status: tasks.StatusAssigned})

	f.client.callErr = errors.New("call failed")
	_, err := f.engine.Dispatch(ctx, task)
	var de *apierr.DispatchCallError
	if !errors.As(err, &de) {
		t.Fatalf("got %v, want DispatchCallError", err)
	}

	got, _ := f.store.GetTask(ctx, task.ID)
	if got.Status != tasks.StatusAssigned {
		t.Errorf("task status mutated on failed call: %q", got.Status)
	}
}

func TestDispatchSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedAgent(t, &tasks.Agent{ID: "agent-1", Name: "worker", WorkspaceID: "ws-1", SessionKey: "chan-42"})
	task := f.seedTask(t, &tasks.Task{
		Title: "Ship the export", WorkspaceID: "ws-1",
		AssignedAgentID: "agent-1", ExternalRequestID: "req-9",
	})

	res, err := f.engine.Dispatch(ctx, task)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.IdempotencyKey != "dispatch-req-9" {
		t.Errorf("idempotency key: got %q", res.IdempotencyKey)
	}

	if len(f.client.calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(f.client.calls))
	}
	call := f.client.calls[0]
	if call.method != "chat.send" {
		t.Errorf("method: got %q", call.method)
	}
	if call.params["session_key"] != "chan-42" {
		t.Errorf("session_key: got %v", call.params["session_key"])
	}
	msg, _ := call.params["message"].(string)
	for _, want := range []string{task.ID, "deliverables/ship-the-export", `Transition the task to "review"`} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q", want)
		}
	}

	got, _ := f.store.GetTask(ctx, task.ID)
	if got.Status != tasks.StatusInProgress {
		t.Errorf("status after dispatch: got %q, want in_progress", got.Status)
	}

	trail, err := f.store.TaskEvents(ctx, task.ID)
	if err != nil {
		t.Fatalf("TaskEvents: %v", err)
	}
	found := false
	for _, e := range trail {
		if e.Type == events.TaskDispatched {
			found = true
		}
	}
	if !found {
		t.Error("no task_dispatched event logged")
	}
}

func TestDispatchIncludesInitiativeContext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedAgent(t, &tasks.Agent{ID: "agent-1", Name: "worker", WorkspaceID: "ws-1"})
	if err := f.sync.Apply(ledger.Update{
		InitiativeID: "INIT-ctx01", Explicit: true,
		Status: tasks.StatusPlanning, Title: "Billing revamp",
	}); err != nil {
		t.Fatalf("seed ledger: %v", err)
	}

	task := f.seedTask(t, &tasks.Task{
		Title: "Part of the revamp", WorkspaceID: "ws-1",
		AssignedAgentID: "agent-1", InitiativeID: "INIT-ctx01",
	})

	if _, err := f.engine.Dispatch(ctx, task); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	msg, _ := f.client.calls[0].params["message"].(string)
	if !strings.Contains(msg, "## Initiative context") || !strings.Contains(msg, "Billing revamp") {
		t.Errorf("initiative context missing from message:\n%s", msg)
	}
	// The block sits right after the first paragraph, before the details.
	if strings.Index(msg, "## Initiative context") > strings.Index(msg, "## Details") {
		t.Error("initiative context spliced after details")
	}
}
