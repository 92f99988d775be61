package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"gateline/internal/config"
	"gateline/internal/db"
	"gateline/internal/domain"
	"gateline/internal/engine"
	"gateline/internal/migrate"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	client *http.Client
	engine engine.Engine
	logs   *logBuffer
	close  func()
}

// logBuffer collects server log output for assertions.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e, err := engine.New(conn, config.Default())
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	logs := &logBuffer{}
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	handler, err := New(Config{Engine: e, BasePath: "/v0", Logger: logger, Auth: AuthConfig{JWTSecret: testSecret, AllowActorHeader: true}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		engine: e,
		logs:   logs,
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func bearer(t *testing.T, actorID string, roles ...string) map[string]string {
	t.Helper()
	token, err := SignToken(testSecret, actorID, roles, nil, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func createProject(t *testing.T, srv *testServer, headers map[string]string, name string) domain.Project {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects", map[string]any{"name": name}, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project status %d: %s", res.StatusCode, string(data))
	}
	var p domain.Project
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("unmarshal project: %v", err)
	}
	return p
}

func listStages(t *testing.T, srv *testServer, headers map[string]string, projectID string) map[string]StageResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects/"+projectID+"/stages", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list stages status %d: %s", res.StatusCode, string(data))
	}
	var stages []StageResponse
	if err := json.Unmarshal(data, &stages); err != nil {
		t.Fatalf("unmarshal stages: %v", err)
	}
	out := map[string]StageResponse{}
	for _, s := range stages {
		out[s.Type] = s
	}
	return out
}

func TestHealthIsPublic(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
}

func TestRequestsWithoutCredentialsAreRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects", nil, map[string]string{"Authorization": "Bearer not-a-token"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d: %s", res.StatusCode, string(data))
	}
}

func TestSiteVisitFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	dm := bearer(t, "dana", "design_manager")
	p := createProject(t, srv, dm, "Villa 12")
	if p.Status != domain.ProjectActive {
		t.Fatalf("expected active project, got %s", p.Status)
	}

	stages := listStages(t, srv, dm, p.ID)
	if len(stages) != len(domain.StageCatalog()) {
		t.Fatalf("expected %d stages, got %d", len(domain.StageCatalog()), len(stages))
	}
	site := stages["site_visit"]
	if site.Status != "in_progress" {
		t.Fatalf("site visit should be actionable, got %s", site.Status)
	}

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/stages/"+site.ID+"/close", nil, dm)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", res.StatusCode, string(data))
	}
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if env.Error.Code != "gate_not_satisfied" {
		t.Fatalf("unexpected code %q", env.Error.Code)
	}
	unmet, _ := env.Error.Details["unmet"].([]any)
	if len(unmet) != 1 || unmet[0] != "site visit log missing" {
		t.Fatalf("unexpected unmet %v", env.Error.Details["unmet"])
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/stages/"+site.ID+"/site-visit", map[string]any{
		"meeting_held_at":    "2025-03-01T10:00:00Z",
		"minutes_link":       "https://docs.example/minutes",
		"photos_link":        "https://docs.example/photos",
		"updated_brief_link": "https://docs.example/brief",
	}, dm)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("site visit status %d: %s", res.StatusCode, string(data))
	}
	var detail StageDetailResponse
	if err := json.Unmarshal(data, &detail); err != nil {
		t.Fatalf("unmarshal stage: %v", err)
	}
	if detail.Stage.Status != "completed" || !detail.Gate.Passed {
		t.Fatalf("expected completed stage with passing gate, got %+v", detail.Stage)
	}

	stages = listStages(t, srv, dm, p.ID)
	if stages["measurement"].Status != "in_progress" {
		t.Fatalf("measurement should unlock, got %s", stages["measurement"].Status)
	}
	if stages["initial_design"].Status != "locked" {
		t.Fatalf("initial design should stay locked, got %s", stages["initial_design"].Status)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events?project_id="+p.ID+"&type=stage.completed", nil, dm)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var page paginatedEvents
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].EntityID != site.ID {
		t.Fatalf("expected one stage.completed event, got %+v", page.Items)
	}
}

func TestForbiddenCarriesPermission(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	dc := bearer(t, "doc", "document_controller")
	p := createProject(t, srv, dc, "Office fitout")
	stages := listStages(t, srv, dc, p.ID)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/stages/"+stages["site_visit"].ID+"/close", nil, dc)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(data))
	}
	var env errorEnvelope
	_ = json.Unmarshal(data, &env)
	if env.Error.Details["permission"] != "stages.manage" {
		t.Fatalf("expected stages.manage in details, got %v", env.Error.Details)
	}
}

func TestUnknownResourcesAreNotFound(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	h := bearer(t, "ana", "admin")
	for _, path := range []string{"/v0/projects/missing", "/v0/stages/missing", "/v0/tasks/missing", "/v0/requisitions/missing"} {
		res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+path, nil, h)
		if res.StatusCode != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d: %s", path, res.StatusCode, string(data))
		}
	}
}

func TestNotFoundAndConflictHideDetail(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	proc := bearer(t, "pat", "procurement")

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tasks/ghost-task", nil, proc)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
	var env errorEnvelope
	_ = json.Unmarshal(data, &env)
	if env.Error.Code != "not_found" || env.Error.Message != "resource not found" {
		t.Fatalf("unexpected envelope %+v", env.Error)
	}

	body := map[string]any{"number": "MR-777", "material_type": "Tiles"}
	if res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/requisitions", body, proc); res.StatusCode != http.StatusCreated {
		t.Fatalf("create requisition status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/requisitions", body, proc)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, string(data))
	}
	env = errorEnvelope{}
	_ = json.Unmarshal(data, &env)
	if env.Error.Code != "invalid_state" || strings.Contains(env.Error.Message, "MR-777") {
		t.Fatalf("conflict should carry a fixed message, got %+v", env.Error)
	}

	logs := srv.logs.String()
	for _, want := range []string{
		`level=INFO msg="resource not found" op=get-task`,
		`level=WARN msg="request conflicts with state" op=create-requisition`,
	} {
		if !strings.Contains(logs, want) {
			t.Fatalf("log output missing %q:\n%s", want, logs)
		}
	}
}

func TestDashboardNeedsViewPermission(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/dashboard", nil, bearer(t, "lee", "lead_designer"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(data))
	}
	var env errorEnvelope
	_ = json.Unmarshal(data, &env)
	if env.Error.Details["permission"] != "dashboard.view" {
		t.Fatalf("unexpected details %+v", env.Error.Details)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/dashboard", nil, bearer(t, "dana", "design_manager"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dashboard status %d: %s", res.StatusCode, string(data))
	}
	var d engine.Dashboard
	if err := json.Unmarshal(data, &d); err != nil {
		t.Fatalf("unmarshal dashboard: %v", err)
	}
	if d.WindowDays != 30 || d.AtRisk == nil || len(d.AtRisk) != 0 || len(d.Team) != 0 {
		t.Fatalf("empty workspace dashboard: %+v", d)
	}
}

func TestTaskSubmitAndReview(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	admin := bearer(t, "ana", "admin")
	p := createProject(t, srv, admin, "Penthouse")
	stages := listStages(t, srv, admin, p.ID)
	design := stages["initial_design"]

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tasks?stage_id="+design.ID+"&status=open,submitted", nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list tasks status %d: %s", res.StatusCode, string(data))
	}
	var tasks []domain.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		t.Fatalf("unmarshal tasks: %v", err)
	}
	if len(tasks) != 4 {
		t.Fatalf("expected 4 template tasks, got %d", len(tasks))
	}
	task := tasks[0]

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/assign", map[string]any{
		"owner_id": "ana",
		"due_date": "not-a-date",
	}, admin)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad date, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/assign", map[string]any{
		"owner_id": "ana",
		"due_date": "2999-01-01",
	}, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("assign status %d: %s", res.StatusCode, string(data))
	}

	headers := map[string]string{"Idempotency-Key": "submit-1"}
	for k, v := range admin {
		headers[k] = v
	}
	var first SubmitTaskResponse
	for i := 0; i < 2; i++ {
		res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/submit", map[string]any{
			"file_link": "https://files.example/layout.pdf",
		}, headers)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("submit status %d: %s", res.StatusCode, string(data))
		}
		var out SubmitTaskResponse
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatalf("unmarshal submit: %v", err)
		}
		if i == 0 {
			first = out
			continue
		}
		if !out.Replayed || out.Score.Score != first.Score.Score {
			t.Fatalf("expected replay of %+v, got %+v", first, out)
		}
	}
	if first.Task.Status != domain.TaskSubmitted || first.Score.Score != 90 {
		t.Fatalf("unexpected submit result %+v", first)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/review", map[string]any{
		"status": "revision_requested",
		"notes":  "fix the grid",
	}, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("review status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me/tasks", nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("my tasks status %d: %s", res.StatusCode, string(data))
	}
	if !strings.Contains(string(data), task.ID) {
		t.Fatalf("expected revised task in my tasks: %s", string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tasks/"+task.ID+"/comments", nil, admin)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "fix the grid") {
		t.Fatalf("expected review notes as comment, got %d: %s", res.StatusCode, string(data))
	}
}

func TestRequisitionApprovalsOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	proc := bearer(t, "pat", "procurement")
	pm := bearer(t, "max", "project_manager")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/requisitions", map[string]any{
		"number":        "MR-001",
		"material_type": "Tiles",
	}, proc)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create requisition status %d: %s", res.StatusCode, string(data))
	}
	var q domain.Requisition
	_ = json.Unmarshal(data, &q)

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/requisitions/"+q.ID+"/approvals", map[string]any{
		"slot":     "qs",
		"decision": "approved",
	}, pm)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for slot outside role, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/approvals/pending", nil, proc)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("pending status %d: %s", res.StatusCode, string(data))
	}
	var pending []PendingApprovalResponse
	_ = json.Unmarshal(data, &pending)
	if len(pending) != 1 || pending[0].PendingFor != "requisition" || !pending[0].Actionable {
		t.Fatalf("unexpected pending list %+v", pending)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/requisitions/"+q.ID+"/approvals", map[string]any{
		"slot":     "requisition",
		"decision": "approved",
	}, proc)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve status %d: %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &q)
	if q.RequisitionApproval != domain.DecisionApproved || q.Status != domain.RequisitionPending {
		t.Fatalf("unexpected requisition %+v", q)
	}
}

func TestActorHeaderAndAPIKey(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()
	if _, err := srv.engine.Bootstrap(ctx, "root"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Actor-Id": "root"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	var who WhoAmIResponse
	_ = json.Unmarshal(data, &who)
	if who.ActorID != "root" || len(who.Roles) != 1 || who.Roles[0] != "admin" {
		t.Fatalf("unexpected whoami %+v", who)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/api-keys", map[string]any{"name": "ci"}, map[string]string{"X-Actor-Id": "root"})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("api key status %d: %s", res.StatusCode, string(data))
	}
	var key APIKeyResponse
	_ = json.Unmarshal(data, &key)
	if key.Key == "" {
		t.Fatalf("expected plaintext key once")
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": key.Key})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me via api key status %d: %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &who)
	if who.ActorID != "root" {
		t.Fatalf("expected key to resolve to root, got %q", who.ActorID)
	}

	res, _ = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/rbac/roles/grant", map[string]any{
		"actor_id": "lee",
		"role_id":  "lead_designer",
	}, map[string]string{"X-Api-Key": key.Key})
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("grant status %d", res.StatusCode)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/api-keys", nil, map[string]string{"X-Actor-Id": "lee"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list keys status %d: %s", res.StatusCode, string(data))
	}
	var listed []APIKeySummary
	_ = json.Unmarshal(data, &listed)
	if len(listed) != 0 {
		t.Fatalf("lee should not see root's keys, got %+v", listed)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/v0/api-keys/"+key.ID, nil, map[string]string{"X-Actor-Id": "lee"})
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign revoke status %d", res.StatusCode)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/v0/api-keys/"+key.ID, nil, map[string]string{"X-Api-Key": key.Key})
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("revoke status %d", res.StatusCode)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": key.Key})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("revoked key status %d", res.StatusCode)
	}
}

func TestOpenAPIDocument(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi status %d", res.StatusCode)
	}
	for _, want := range []string{"/v0/stages/{id}/close", "bearerAuth", "apiKeyAuth"} {
		if !strings.Contains(string(data), want) {
			t.Fatalf("openapi document missing %q", want)
		}
	}
}
