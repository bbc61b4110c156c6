package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/gate"
	"github.com/shaiso/Conveyor/internal/logstore"
	"github.com/shaiso/Conveyor/internal/repo/memory"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

const shopManifest = `
name: shop
params:
  version: v1.0.0
tasks:
  - name: build
    command: make build
  - name: approve-prod
    kind: approval
    depends_on: [build]
  - name: deploy-prod
    kind: deploy
    environment: prod
    depends_on: [approve-prod]
`

type recordingPublisher struct {
	mu      sync.Mutex
	pending []uuid.UUID
	cancel  []uuid.UUID
}

func (p *recordingPublisher) PublishRunPending(_ context.Context, runID uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, runID)
	return nil
}

func (p *recordingPublisher) PublishRunCancel(_ context.Context, runID uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancel = append(p.cancel, runID)
	return nil
}

type apiFixture struct {
	runs      *memory.Runs
	gates     *gate.MemoryStore
	logs      *logstore.MemoryStore
	publisher *recordingPublisher
	server    *httptest.Server
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	f := &apiFixture{
		runs:      memory.NewRuns(),
		gates:     gate.NewMemoryStore(),
		logs:      logstore.NewMemoryStore(),
		publisher: &recordingPublisher{},
	}
	h := NewHandler(Config{
		Pipelines: memory.NewPipelines(),
		Runs:      f.runs,
		Schedules: memory.NewSchedules(),
		Gates:     f.gates,
		Logs:      f.logs,
		Publisher: f.publisher,
		Logger:    telemetry.Discard(),
	})
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *apiFixture) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func decodeData[T any](t *testing.T, body []byte) T {
	t.Helper()
	var out struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &out), string(body))
	return out.Data
}

func (f *apiFixture) register(t *testing.T) PipelineResponse {
	t.Helper()
	resp, body := f.do(t, http.MethodPost, "/api/v1/pipelines", shopManifest)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	return decodeData[PipelineResponse](t, body)
}

func (f *apiFixture) createRun(t *testing.T, body string) RunResponse {
	t.Helper()
	resp, data := f.do(t, http.MethodPost, "/api/v1/pipelines/shop/runs", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	return decodeData[RunResponse](t, data)
}

// --- Pipeline Tests ---

func TestRegisterPipeline_Versions(t *testing.T) {
	f := newAPIFixture(t)

	first := f.register(t)
	assert.Equal(t, 1, first.Version)
	assert.Equal(t, [][]string{{"build"}, {"approve-prod"}, {"deploy-prod"}}, first.Tiers)

	second := f.register(t)
	assert.Equal(t, 2, second.Version)

	resp, body := f.do(t, http.MethodGet, "/api/v1/pipelines/shop/versions", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	versions := decodeData[[]PipelineResponse](t, body)
	require.Len(t, versions, 2)

	resp, body = f.do(t, http.MethodGet, "/api/v1/pipelines/shop/versions/1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, decodeData[PipelineResponse](t, body).Version)

	resp, _ = f.do(t, http.MethodGet, "/api/v1/pipelines/shop/versions/zero", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRegisterPipeline_Invalid(t *testing.T) {
	f := newAPIFixture(t)

	tests := []struct {
		name     string
		manifest string
	}{
		{"cycle", "name: loop\ntasks:\n  - name: a\n    command: x\n    depends_on: [b]\n  - name: b\n    command: y\n    depends_on: [a]\n"},
		{"unknown dependency", "name: dangling\ntasks:\n  - name: a\n    command: x\n    depends_on: [ghost]\n"},
		{"no tasks", "name: empty\n"},
		{"approval with command", "name: bad\ntasks:\n  - name: gate\n    kind: approval\n    command: x\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := f.do(t, http.MethodPost, "/api/v1/pipelines", tt.manifest)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))
		})
	}

	resp, _ := f.do(t, http.MethodGet, "/api/v1/pipelines", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/api/v1/pipelines/loop", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "invalid pipeline must not be stored")
}

func TestDeletePipeline(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t)

	resp, _ := f.do(t, http.MethodDelete, "/api/v1/pipelines/shop", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = f.do(t, http.MethodDelete, "/api/v1/pipelines/shop", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// --- Run Tests ---

func TestCreateRun(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t)

	run := f.createRun(t, `{"params": {"version": "v2.0.0"}}`)
	assert.Equal(t, "PENDING", run.Status)
	assert.Equal(t, "shop", run.Pipeline)
	assert.Equal(t, 1, run.Version)
	assert.Equal(t, "v2.0.0", run.Params["version"])
	assert.Equal(t, string(domain.TriggerAPI), run.Trigger)
	assert.Equal(t, []uuid.UUID{run.ID}, f.publisher.pending)
}

func TestCreateRun_Idempotent(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t)

	first := f.createRun(t, `{"idempotency_key": "release-42"}`)

	resp, body := f.do(t, http.MethodPost, "/api/v1/pipelines/shop/runs", `{"idempotency_key": "release-42"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, first.ID, decodeData[RunResponse](t, body).ID)
	assert.Len(t, f.publisher.pending, 1)
}

func TestCreateRun_UnknownPipeline(t *testing.T) {
	f := newAPIFixture(t)

	resp, _ := f.do(t, http.MethodPost, "/api/v1/pipelines/ghost/runs", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	f.register(t)
	resp, _ = f.do(t, http.MethodPost, "/api/v1/pipelines/shop/runs", `{"version": 7}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelRun(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t)
	ctx := context.Background()

	pending := f.createRun(t, "")
	resp, body := f.do(t, http.MethodPost, "/api/v1/runs/"+pending.ID.String()+"/cancel", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "CANCELLED", decodeData[RunResponse](t, body).Status)
	assert.Empty(t, f.publisher.cancel, "pending run is cancelled in the store")

	running := f.createRun(t, "")
	stored, err := f.runs.GetByID(ctx, running.ID)
	require.NoError(t, err)
	stored.MarkRunning()
	require.NoError(t, f.runs.Update(ctx, stored))

	resp, body = f.do(t, http.MethodPost, "/api/v1/runs/"+running.ID.String()+"/cancel", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeData[RunResponse](t, body)
	assert.Equal(t, "RUNNING", got.Status)
	assert.True(t, got.CancelRequested)
	assert.Equal(t, []uuid.UUID{running.ID}, f.publisher.cancel)

	resp, _ = f.do(t, http.MethodPost, "/api/v1/runs/"+pending.ID.String()+"/cancel", "")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/v1/runs/not-a-uuid/cancel", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRunTasksAndLog(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t)
	ctx := context.Background()

	created := f.createRun(t, "")
	run, err := f.runs.GetByID(ctx, created.ID)
	require.NoError(t, err)
	run.InitTasks([]string{"build", "approve-prod", "deploy-prod"})
	ref, err := f.logs.Put(ctx, run.ID, "build", []byte("compiling shop\n"))
	require.NoError(t, err)
	exit := 0
	require.NoError(t, run.Task("build").MarkReady())
	require.NoError(t, run.Task("build").MarkRunning())
	require.NoError(t, run.Task("build").MarkSucceeded(&exit, ref))
	require.NoError(t, f.runs.Update(ctx, run))

	resp, body := f.do(t, http.MethodGet, "/api/v1/runs/"+run.ID.String()+"/tasks", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tasks := decodeData[[]TaskResponse](t, body)
	require.Len(t, tasks, 3)
	assert.Equal(t, "approve-prod", tasks[0].Name)
	assert.Equal(t, "build", tasks[1].Name)
	assert.Equal(t, "SUCCEEDED", tasks[1].Status)

	resp, body = f.do(t, http.MethodGet, "/api/v1/runs/"+run.ID.String()+"/tasks/build/log", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "compiling shop\n", string(body))

	resp, _ = f.do(t, http.MethodGet, "/api/v1/runs/"+run.ID.String()+"/tasks/deploy-prod/log", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/api/v1/runs/"+run.ID.String()+"/tasks/ghost/log", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// --- Gate Tests ---

func TestDecideGate(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	key := domain.GateKey{RunID: uuid.New(), Name: "approve-prod"}
	path := "/api/v1/runs/" + key.RunID.String() + "/gates/approve-prod"

	resp, _ := f.do(t, http.MethodPost, path+"/decision", `{"decision": "approved"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, err := f.gates.Reset(ctx, key, time.Minute)
	require.NoError(t, err)

	resp, body := f.do(t, http.MethodPost, path+"/decision", `{"decision": "maybe"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))
	status, err := f.gates.Poll(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, domain.GateStatusPending, status, "unknown decision must not change the gate")

	resp, body = f.do(t, http.MethodPost, path+"/decision", `{"decision": "approved", "actor": "alice"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	g := decodeData[GateResponse](t, body)
	assert.Equal(t, "APPROVED", g.Status)
	assert.Equal(t, "alice", g.DecidedBy)

	resp, body = f.do(t, http.MethodGet, "/api/v1/runs/"+key.RunID.String()+"/gates", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeData[[]GateResponse](t, body), 1)

	require.NoError(t, f.gates.Close(ctx, key))
	resp, _ = f.do(t, http.MethodPost, path+"/decision", `{"decision": "rejected"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, body = f.do(t, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decodeData[GateResponse](t, body).Live)
}

// --- Schedule Tests ---

func TestScheduleLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t)

	resp, body := f.do(t, http.MethodPost, "/api/v1/pipelines/shop/schedules",
		`{"name": "nightly", "cron_expr": "0 3 * * *", "enabled": true}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	created := decodeData[ScheduleResponse](t, body)
	assert.Equal(t, "shop", created.Pipeline)
	assert.Equal(t, "UTC", created.Timezone)
	require.NotNil(t, created.NextDueAt)

	id := created.ID.String()

	resp, body = f.do(t, http.MethodPut, "/api/v1/schedules/"+id, `{"interval_sec": 600}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	updated := decodeData[ScheduleResponse](t, body)
	assert.Equal(t, 600, updated.IntervalSec)
	assert.Empty(t, updated.CronExpr)

	resp, body = f.do(t, http.MethodPut, "/api/v1/schedules/"+id+"/enabled", `{"enabled": false}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decodeData[ScheduleResponse](t, body).Enabled)

	resp, body = f.do(t, http.MethodGet, "/api/v1/schedules?pipeline=shop", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeData[[]ScheduleResponse](t, body), 1)

	resp, _ = f.do(t, http.MethodDelete, "/api/v1/schedules/"+id, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/api/v1/schedules/"+id, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateSchedule_Invalid(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"bad cron", "/api/v1/pipelines/shop/schedules", `{"name": "x", "cron_expr": "sometimes"}`, http.StatusBadRequest},
		{"no trigger", "/api/v1/pipelines/shop/schedules", `{"name": "x"}`, http.StatusBadRequest},
		{"no name", "/api/v1/pipelines/shop/schedules", `{"interval_sec": 60}`, http.StatusBadRequest},
		{"unknown pipeline", "/api/v1/pipelines/ghost/schedules", `{"name": "x", "interval_sec": 60}`, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := f.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.want, resp.StatusCode, string(body))
		})
	}
}

// --- Middleware Tests ---

func TestMiddleware_RequestIDAndRecovery(t *testing.T) {
	handler := Chain(
		RequestID(telemetry.Discard()),
		Logging(),
		Recovery(),
	)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/panic" {
			panic("boom")
		}
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL_ERROR")
}
