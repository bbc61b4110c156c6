package cli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/api"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/gate"
	"github.com/shaiso/Conveyor/internal/logstore"
	"github.com/shaiso/Conveyor/internal/repo/memory"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

const releaseManifest = `
name: release
params:
  version: v1.2.3
tasks:
  - name: build
    command: echo building {{ .Params.version }}
  - name: approve
    kind: approval
    depends_on: [build]
  - name: deploy-prod
    kind: deploy
    environment: prod
    depends_on: [approve]
`

func newTestServer(t *testing.T) *Client {
	t.Helper()
	h := api.NewHandler(api.Config{
		Pipelines: memory.NewPipelines(),
		Runs:      memory.NewRuns(),
		Schedules: memory.NewSchedules(),
		Gates:     gate.NewMemoryStore(),
		Logs:      logstore.NewMemoryStore(),
		Logger:    telemetry.Discard(),
	})
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL)
}

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

// --- Client Tests ---

func TestClient_PipelineAndRun(t *testing.T) {
	client := newTestServer(t)

	p, err := client.RegisterPipeline([]byte(releaseManifest))
	if err != nil {
		t.Fatalf("RegisterPipeline failed: %v", err)
	}
	if p.Name != "release" || p.Version != 1 {
		t.Errorf("unexpected pipeline: %+v", p)
	}
	if len(p.Tiers) != 3 {
		t.Errorf("expected 3 tiers, got %v", p.Tiers)
	}

	run, err := client.CreateRun("release", CreateRunRequest{Params: map[string]string{"version": "v2"}})
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	if run.Status != "PENDING" || run.Params["version"] != "v2" {
		t.Errorf("unexpected run: %+v", run)
	}

	runs, err := client.ListRuns(ListRunsOpts{Pipeline: "release"})
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != run.ID {
		t.Errorf("unexpected runs: %+v", runs)
	}

	cancelled, err := client.CancelRun(run.ID)
	if err != nil {
		t.Fatalf("CancelRun failed: %v", err)
	}
	if cancelled.Status != "CANCELLED" {
		t.Errorf("expected CANCELLED, got %s", cancelled.Status)
	}
}

func TestClient_Errors(t *testing.T) {
	client := newTestServer(t)

	_, err := client.GetPipeline("ghost")
	if err == nil || !strings.Contains(err.Error(), "NOT_FOUND") {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}

	_, err = client.RegisterPipeline([]byte("name: loop\ntasks:\n  - name: a\n    command: x\n    depends_on: [a]\n"))
	if err == nil || !strings.Contains(err.Error(), "BAD_REQUEST") {
		t.Errorf("expected BAD_REQUEST, got %v", err)
	}

	_, err = client.DecideGate(uuid.NewString(), "approve", DecideGateRequest{Decision: "approved"})
	if err == nil || !strings.Contains(err.Error(), "NOT_FOUND") {
		t.Errorf("expected NOT_FOUND for unknown gate, got %v", err)
	}
}

func TestClient_Schedules(t *testing.T) {
	client := newTestServer(t)
	if _, err := client.RegisterPipeline([]byte(releaseManifest)); err != nil {
		t.Fatalf("RegisterPipeline failed: %v", err)
	}

	s, err := client.CreateSchedule("release", CreateScheduleRequest{Name: "nightly", CronExpr: "@daily", Enabled: true})
	if err != nil {
		t.Fatalf("CreateSchedule failed: %v", err)
	}
	if s.Pipeline != "release" || s.NextDueAt == "" {
		t.Errorf("unexpected schedule: %+v", s)
	}

	s, err = client.SetScheduleEnabled(s.ID, false)
	if err != nil {
		t.Fatalf("SetScheduleEnabled failed: %v", err)
	}
	if s.Enabled {
		t.Error("expected disabled schedule")
	}

	if err := client.DeleteSchedule(s.ID); err != nil {
		t.Fatalf("DeleteSchedule failed: %v", err)
	}
	schedules, err := client.ListSchedules("release")
	if err != nil {
		t.Fatalf("ListSchedules failed: %v", err)
	}
	if len(schedules) != 0 {
		t.Errorf("expected no schedules, got %d", len(schedules))
	}
}

// --- Output Tests ---

func TestOutput_Modes(t *testing.T) {
	headers := []string{"ID", "STATUS", "REASON"}
	rows := [][]string{{"r1", "FAILED", "Timeout"}, {"r2", "SUCCEEDED", ""}}

	var stdout, stderr bytes.Buffer
	out := NewOutputTo(&stdout, &stderr, false)
	out.Print(headers, rows, nil)
	table := stdout.String()
	if !strings.Contains(table, "ID") || !strings.Contains(table, "--") {
		t.Errorf("expected header and underline, got %q", table)
	}
	if lines := strings.Split(strings.TrimSpace(table), "\n"); !strings.HasSuffix(strings.TrimSpace(lines[3]), "-") {
		t.Errorf("empty cell must render as '-', got %q", lines[3])
	}

	stdout.Reset()
	quiet := out.WithMode(ModeQuiet)
	quiet.Print(headers, rows, nil)
	quiet.Success("done")
	if got := stdout.String(); got != "r1\nr2\n" {
		t.Errorf("quiet mode: expected ids only, got %q", got)
	}
	if stderr.Len() != 0 {
		t.Errorf("quiet mode must not print messages, got %q", stderr.String())
	}
	if out.Mode() != ModeTable {
		t.Error("WithMode must not change the original Output")
	}

	stdout.Reset()
	out.Print(headers, nil, nil)
	if stdout.Len() != 0 || !strings.Contains(stderr.String(), "No results.") {
		t.Errorf("empty table: stdout=%q stderr=%q", stdout.String(), stderr.String())
	}

	stdout.Reset()
	NewOutputTo(&stdout, &stderr, true).Print(headers, rows, map[string]int{"n": 2})
	if got := strings.TrimSpace(stdout.String()); got != "{\n  \"n\": 2\n}" {
		t.Errorf("unexpected JSON output %q", got)
	}
}

// --- Exec Tests ---

func execOptions(t *testing.T, manifest string) ExecOptions {
	t.Helper()
	return ExecOptions{
		ManifestPath:     writeManifest(t, manifest),
		GateDir:          t.TempDir(),
		Notify:           "none",
		TimeUnit:         10 * time.Millisecond,
		GatePollInterval: 5 * time.Millisecond,
		Logger:           telemetry.Discard(),
	}
}

func TestExec_AutoApprovePromotes(t *testing.T) {
	opts := execOptions(t, releaseManifest)
	opts.AutoApprove = true

	var stdout, stderr bytes.Buffer
	res, err := Exec(context.Background(), opts, NewOutputTo(&stdout, &stderr, false))
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}

	if res.Run.Status != domain.RunStatusSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s (%s)", res.Run.Status, res.Run.Reason)
	}
	if res.Run.Trigger != domain.TriggerCLI {
		t.Errorf("expected cli trigger, got %s", res.Run.Trigger)
	}
	if len(res.Promotions) != 1 {
		t.Fatalf("expected 1 promotion, got %d", len(res.Promotions))
	}
	if promo := res.Promotions[0]; promo.Environment != "prod" || promo.Version != "v1.2.3" {
		t.Errorf("unexpected promotion: %+v", promo)
	}

	build := res.Run.Task("build")
	data, err := res.Logs.Get(context.Background(), build.LogRef)
	if err != nil {
		t.Fatalf("log not stored: %v", err)
	}
	if !strings.Contains(string(data), "building v1.2.3") {
		t.Errorf("unexpected build output: %q", data)
	}
}

func TestExec_FailureSkipsDownstream(t *testing.T) {
	manifest := strings.Replace(releaseManifest, "echo building {{ .Params.version }}", "exit 3", 1)
	opts := execOptions(t, manifest)

	res, err := Exec(context.Background(), opts, NewOutputTo(&bytes.Buffer{}, &bytes.Buffer{}, false))
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}

	run := res.Run
	if run.Status != domain.RunStatusFailed || run.FailedTask != "build" {
		t.Fatalf("expected build failure, got %s failed_task=%s", run.Status, run.FailedTask)
	}
	if code := run.Task("build").ExitCode; code == nil || *code != 3 {
		t.Errorf("expected exit code 3, got %v", code)
	}
	for _, name := range []string{"approve", "deploy-prod"} {
		if st := run.Task(name).Status; st != domain.TaskStatusSkipped {
			t.Errorf("%s: expected SKIPPED, got %s", name, st)
		}
	}
	if len(res.Promotions) != 0 {
		t.Errorf("expected no promotions, got %d", len(res.Promotions))
	}
}

func TestExec_InvalidManifest(t *testing.T) {
	opts := execOptions(t, "name: broken\ntasks:\n  - name: a\n    command: x\n    depends_on: [missing]\n")

	if _, err := Exec(context.Background(), opts, NewOutput(false)); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestExecNotifier(t *testing.T) {
	tests := []struct {
		name    string
		opts    ExecOptions
		wantErr bool
	}{
		{"default", ExecOptions{}, false},
		{"none", ExecOptions{Notify: "none"}, false},
		{"values without dir", ExecOptions{Notify: "values"}, true},
		{"values", ExecOptions{Notify: "values", ValuesDir: t.TempDir()}, false},
		{"webhook without url", ExecOptions{Notify: "webhook"}, true},
		{"unknown", ExecOptions{Notify: "carrier-pigeon"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execNotifier(tt.opts, telemetry.Discard())
			if (err != nil) != tt.wantErr {
				t.Errorf("execNotifier() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// --- Gate Tests ---

func TestDecideInDir(t *testing.T) {
	dir := t.TempDir()
	store, err := gate.NewFileStore(dir, telemetry.Discard())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	key := domain.GateKey{RunID: uuid.New(), Name: "approve"}
	if _, err := store.Reset(context.Background(), key, time.Minute); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	if _, err := decideInDir(context.Background(), dir, key.RunID.String(), "approve", "perhaps", "bob"); err == nil {
		t.Error("expected error for unknown decision")
	}

	g, err := decideInDir(context.Background(), dir, key.RunID.String(), "approve", "approved", "bob")
	if err != nil {
		t.Fatalf("decideInDir failed: %v", err)
	}
	if g.Status != "APPROVED" || g.DecidedBy != "bob" {
		t.Errorf("unexpected gate: %+v", g)
	}

	status, err := store.Poll(context.Background(), key)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if status != domain.GateStatusApproved {
		t.Errorf("decision not visible to the running process: %s", status)
	}

	if _, err := decideInDir(context.Background(), dir, "not-a-uuid", "approve", "approved", "bob"); err == nil {
		t.Error("expected error for malformed run id")
	}
}

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"version=v1", "url=http://x?a=b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if params["version"] != "v1" || params["url"] != "http://x?a=b" {
		t.Errorf("unexpected params: %v", params)
	}

	if _, err := parseParams([]string{"novalue"}); err == nil {
		t.Error("expected error for missing '='")
	}
	if params, _ := parseParams(nil); params != nil {
		t.Errorf("expected nil params, got %v", params)
	}
}
