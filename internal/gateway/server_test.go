package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/dohr-michael/missionctl/internal/activation"
	"github.com/dohr-michael/missionctl/internal/dispatch"
	"github.com/dohr-michael/missionctl/internal/events"
	"github.com/dohr-michael/missionctl/internal/ledger"
	"github.com/dohr-michael/missionctl/internal/lifecycle"
	"github.com/dohr-michael/missionctl/internal/store"
	"github.com/dohr-michael/missionctl/internal/tasks"
)

type fakeGateway struct {
	mu         sync.Mutex
	connected  bool
	connectErr error
	callErr    error
	calls      []string
}

func (f *fakeGateway) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeGateway) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeGateway) Call(ctx context.Context, method string, params map[string]any, idempotencyKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.callErr != nil {
		return f.callErr
	}
	f.calls = append(f.calls, idempotencyKey)
	return nil
}

func newTestServer(t *testing.T) (*Server, *fakeGateway) {
	t.Helper()
	dir := t.TempDir()

	st, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	bus := events.NewBus(64)
	t.Cleanup(func() { bus.Close() })

	ctx := context.Background()
	ws := &tasks.Workspace{ID: "ws_apollo", Name: "Apollo", Slug: "apollo", MasterAgentID: "boss"}
	if err := st.PutWorkspace(ctx, ws); err != nil {
		t.Fatalf("seed workspace: %v", err)
	}
	agents := []*tasks.Agent{
		{ID: "boss", Name: "Boss", WorkspaceID: "ws_apollo", Status: tasks.AgentActive, IsMaster: true},
		{ID: "junior", Name: "Junior", WorkspaceID: "ws_apollo", Status: tasks.AgentActive},
	}
	for _, a := range agents {
		if err := st.PutAgent(ctx, a); err != nil {
			t.Fatalf("seed agent %s: %v", a.ID, err)
		}
	}

	gw := &fakeGateway{}
	lsync := ledger.NewSync(filepath.Join(dir, "ledger.json"))
	engine := dispatch.NewEngine(st, gw, lsync, bus)
	controller := lifecycle.NewController(st, engine, lsync, bus)
	orch := activation.NewOrchestrator(st, engine, lsync, bus)

	return NewServer(st, controller, engine, orch, bus, "localhost", 0), gw
}

func doJSON(t *testing.T, srv *Server, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decodeTask(t *testing.T, w *httptest.ResponseRecorder) *tasks.Task {
	t.Helper()
	var got tasks.Task
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	return &got
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/api/health", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status %q, got %q", "ok", body["status"])
	}
}

func TestCreateTask_FreshAndIdempotent(t *testing.T) {
	srv, _ := newTestServer(t)

	body := map[string]any{
		"title":               "Wire the relay",
		"workspace_id":        "ws_apollo",
		"source":              "clickup",
		"external_request_id": "cu-1001",
	}

	w := doJSON(t, srv, http.MethodPost, "/tasks", body, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	first := decodeTask(t, w)
	if first.ID == "" || first.Status != tasks.StatusInbox {
		t.Fatalf("unexpected fresh task: %+v", first)
	}

	w = doJSON(t, srv, http.MethodPost, "/tasks", body, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200 on repeat, got %d", w.Code)
	}
	second := decodeTask(t, w)
	if second.ID != first.ID {
		t.Fatalf("expected same task id, got %s and %s", first.ID, second.ID)
	}
}

func TestCreateTask_Validation(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/tasks", map[string]any{"workspace_id": "ws_apollo"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
}

func TestCreateTask_TypeConfig(t *testing.T) {
	srv, _ := newTestServer(t)

	body := map[string]any{
		"title":            "Parallel probe",
		"workspace_id":     "ws_apollo",
		"task_type":        "multi-hypothesis",
		"task_type_config": map[string]any{"hypotheses": []string{"cache miss", "lock contention"}},
	}
	w := doJSON(t, srv, http.MethodPost, "/tasks", body, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	// Missing hypotheses must be rejected before anything is written.
	body["task_type_config"] = map[string]any{}
	w = doJSON(t, srv, http.MethodPost, "/tasks", body, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for empty hypotheses, got %d", w.Code)
	}
}

func TestGetTask_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/tasks/task_missing", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", w.Code)
	}
}

func TestListTasks_StatusFilter(t *testing.T) {
	srv, _ := newTestServer(t)

	for i := 0; i < 3; i++ {
		body := map[string]any{"title": fmt.Sprintf("t%d", i), "workspace_id": "ws_apollo"}
		if w := doJSON(t, srv, http.MethodPost, "/tasks", body, nil); w.Code != http.StatusCreated {
			t.Fatalf("seed task: status %d", w.Code)
		}
	}

	w := doJSON(t, srv, http.MethodGet, "/tasks?status=inbox", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var list []map[string]any
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 inbox tasks, got %d", len(list))
	}

	w = doJSON(t, srv, http.MethodGet, "/tasks?status=done", nil, nil)
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected 0 done tasks, got %d", len(list))
	}
}

func createTestTask(t *testing.T, srv *Server, extra map[string]any) *tasks.Task {
	t.Helper()
	body := map[string]any{"title": "Fix the launch checklist", "workspace_id": "ws_apollo"}
	for k, v := range extra {
		body[k] = v
	}
	w := doJSON(t, srv, http.MethodPost, "/tasks", body, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create task: status %d: %s", w.Code, w.Body.String())
	}
	return decodeTask(t, w)
}

func TestPatchTask_ApprovalGate(t *testing.T) {
	srv, _ := newTestServer(t)
	created := createTestTask(t, srv, map[string]any{"status": "review"})

	patch := map[string]any{"status": "done"}
	path := "/tasks/" + created.ID

	w := doJSON(t, srv, http.MethodPatch, path, patch, map[string]string{"X-Agent-ID": "junior"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected status 403 for non-master agent, got %d", w.Code)
	}

	// Rejection must not leak a partial write.
	w = doJSON(t, srv, http.MethodGet, path, nil, nil)
	if got := decodeTask(t, w); got.Status != tasks.StatusReview {
		t.Fatalf("task mutated after 403: status %s", got.Status)
	}

	w = doJSON(t, srv, http.MethodPatch, path, patch, map[string]string{"X-Agent-ID": "boss"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200 for master agent, got %d: %s", w.Code, w.Body.String())
	}
	if got := decodeTask(t, w); got.Status != tasks.StatusDone {
		t.Fatalf("expected done, got %s", got.Status)
	}
}

func TestPatchTask_HumanOverride(t *testing.T) {
	srv, _ := newTestServer(t)
	created := createTestTask(t, srv, map[string]any{"status": "review"})

	w := doJSON(t, srv, http.MethodPatch, "/tasks/"+created.ID, map[string]any{"status": "done"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200 without acting agent, got %d", w.Code)
	}
}

func TestPatchTask_InvalidStatus(t *testing.T) {
	srv, _ := newTestServer(t)
	created := createTestTask(t, srv, nil)

	w := doJSON(t, srv, http.MethodPatch, "/tasks/"+created.ID, map[string]any{"status": "vaporized"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
}

func TestDeleteTask(t *testing.T) {
	srv, _ := newTestServer(t)
	created := createTestTask(t, srv, nil)

	w := doJSON(t, srv, http.MethodDelete, "/tasks/"+created.ID, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	w = doJSON(t, srv, http.MethodGet, "/tasks/"+created.ID, nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 after delete, got %d", w.Code)
	}
}

func TestDispatch_NoAgent(t *testing.T) {
	srv, _ := newTestServer(t)
	created := createTestTask(t, srv, nil)

	w := doJSON(t, srv, http.MethodPost, "/tasks/"+created.ID+"/dispatch", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 without assignee, got %d", w.Code)
	}
}

func TestDispatch_GatewayUnavailable(t *testing.T) {
	srv, gw := newTestServer(t)
	gw.connectErr = fmt.Errorf("connection refused")
	created := createTestTask(t, srv, map[string]any{"assigned_agent_id": "junior"})

	w := doJSON(t, srv, http.MethodPost, "/tasks/"+created.ID+"/dispatch", nil, nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", w.Code)
	}
}

func TestDispatch_Success(t *testing.T) {
	srv, gw := newTestServer(t)
	created := createTestTask(t, srv, map[string]any{"assigned_agent_id": "junior"})

	w := doJSON(t, srv, http.MethodPost, "/tasks/"+created.ID+"/dispatch", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(gw.calls) != 1 {
		t.Fatalf("expected 1 gateway call, got %d", len(gw.calls))
	}

	w = doJSON(t, srv, http.MethodGet, "/tasks/"+created.ID, nil, nil)
	if got := decodeTask(t, w); got.Status != tasks.StatusInProgress {
		t.Fatalf("expected in_progress after dispatch, got %s", got.Status)
	}
}

func TestDispatch_OrchestratorConflict(t *testing.T) {
	srv, _ := newTestServer(t)

	// A second active master in the same workspace blocks master dispatch.
	rival := &tasks.Agent{ID: "rival", Name: "Rival", WorkspaceID: "ws_apollo", Status: tasks.AgentActive, IsMaster: true}
	if err := srv.store.PutAgent(context.Background(), rival); err != nil {
		t.Fatalf("seed rival: %v", err)
	}
	created := createTestTask(t, srv, map[string]any{"assigned_agent_id": "boss"})

	w := doJSON(t, srv, http.MethodPost, "/tasks/"+created.ID+"/dispatch", nil, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d: %s", w.Code, w.Body.String())
	}

	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if _, ok := body["conflicting_agents"]; !ok {
		t.Fatalf("expected conflicting_agents in body, got %v", body)
	}
}

func TestTaskEvents(t *testing.T) {
	srv, _ := newTestServer(t)
	created := createTestTask(t, srv, nil)

	w := doJSON(t, srv, http.MethodPatch, "/tasks/"+created.ID, map[string]any{"status": "testing"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("patch: status %d", w.Code)
	}

	w = doJSON(t, srv, http.MethodGet, "/tasks/"+created.ID+"/events", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var trail []map[string]any
	if err := json.NewDecoder(w.Body).Decode(&trail); err != nil {
		t.Fatalf("decode trail: %v", err)
	}
	// task_created plus task_status_changed.
	if len(trail) != 2 {
		t.Fatalf("expected 2 events, got %d", len(trail))
	}
}

func TestPlanningQuestion_RequiresPlanning(t *testing.T) {
	srv, _ := newTestServer(t)
	created := createTestTask(t, srv, nil) // inbox

	w := doJSON(t, srv, http.MethodPost, "/tasks/"+created.ID+"/questions", map[string]any{"text": "which region?"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 outside planning, got %d", w.Code)
	}

	planning := createTestTask(t, srv, map[string]any{"status": "planning"})
	w = doJSON(t, srv, http.MethodPost, "/tasks/"+planning.ID+"/questions", map[string]any{"text": "which region?"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestLockSpec(t *testing.T) {
	srv, _ := newTestServer(t)
	created := createTestTask(t, srv, map[string]any{"status": "planning"})

	w := doJSON(t, srv, http.MethodPost, "/tasks/"+created.ID+"/lock-spec", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := decodeTask(t, w); got.Status != tasks.StatusInbox {
		t.Fatalf("expected inbox after lock, got %s", got.Status)
	}
}

func TestActivateWorkspace(t *testing.T) {
	srv, gw := newTestServer(t)

	body := map[string]any{
		"workspace":           "apollo",
		"initiative_id":       "initiative-apollo",
		"external_request_id": "cu-2002",
	}
	w := doJSON(t, srv, http.MethodPost, "/workspaces/activate", body, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["success"] != true {
		t.Fatalf("expected success, got %v", resp)
	}
	if resp["gateway_triggered"] != true {
		t.Fatalf("expected gateway_triggered, got %v", resp)
	}
	if len(gw.calls) != 1 {
		t.Fatalf("expected 1 gateway call, got %d", len(gw.calls))
	}
}

func TestActivateWorkspace_UnknownSlug(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/workspaces/activate", map[string]any{"workspace": "gemini"}, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", w.Code)
	}
}

func TestTaskTypes(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/task-types", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var types []map[string]any
	if err := json.NewDecoder(w.Body).Decode(&types); err != nil {
		t.Fatalf("decode types: %v", err)
	}
	if len(types) != 3 {
		t.Fatalf("expected 3 task types, got %d", len(types))
	}
}
