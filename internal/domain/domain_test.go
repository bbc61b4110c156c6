package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

// --- TaskState Tests ---

func TestTaskState_ForwardTransitions(t *testing.T) {
	ts := NewTaskState("build")

	if err := ts.MarkReady(); err != nil {
		t.Fatalf("MarkReady failed: %v", err)
	}
	if err := ts.MarkRunning(); err != nil {
		t.Fatalf("MarkRunning failed: %v", err)
	}
	if ts.StartedAt == nil {
		t.Error("expected StartedAt to be set")
	}

	code := 0
	if err := ts.MarkSucceeded(&code, "logs/build"); err != nil {
		t.Fatalf("MarkSucceeded failed: %v", err)
	}
	if ts.Status != TaskStatusSucceeded {
		t.Errorf("expected SUCCEEDED, got %s", ts.Status)
	}
	if ts.LogRef != "logs/build" || ts.ExitCode == nil || *ts.ExitCode != 0 {
		t.Errorf("unexpected result fields: %+v", ts)
	}
}

func TestTaskState_RejectsBackwardTransition(t *testing.T) {
	ts := NewTaskState("build")
	_ = ts.MarkReady()
	_ = ts.MarkRunning()
	_ = ts.MarkFailed(ReasonExecutionFailed, nil, "", "boom")

	if err := ts.MarkRunning(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if err := ts.MarkSkipped(ReasonUpstreamFailed, "x"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestTaskState_RunningToSkippedOnlyWhenCancelled(t *testing.T) {
	ts := NewTaskState("approve")
	_ = ts.MarkReady()
	_ = ts.MarkRunning()

	if err := ts.MarkSkipped(ReasonUpstreamFailed, "build"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err := ts.MarkSkipped(ReasonCancelled, ""); err != nil {
		t.Fatalf("cancel skip failed: %v", err)
	}
	if ts.Status != TaskStatusSkipped || ts.Reason != ReasonCancelled {
		t.Errorf("unexpected state: %s/%s", ts.Status, ts.Reason)
	}
}

func TestTaskState_SkipFromWaiting(t *testing.T) {
	ts := NewTaskState("deploy")
	if err := ts.MarkSkipped(ReasonUpstreamFailed, "build"); err != nil {
		t.Fatalf("MarkSkipped failed: %v", err)
	}
	if ts.SkippedBy != "build" {
		t.Errorf("expected skipped_by build, got %q", ts.SkippedBy)
	}
}

// --- Run Tests ---

func TestRun_CloneIsIndependent(t *testing.T) {
	p := &Pipeline{ID: uuid.New(), Name: "release", Version: 2}
	r := NewRun(p, map[string]string{"version": "v1"}, TriggerAPI)
	r.InitTasks([]string{"build", "deploy"})

	c := r.Clone()
	c.Params["version"] = "v2"
	_ = c.Tasks["build"].MarkReady()

	if r.Params["version"] != "v1" {
		t.Error("params were shared between clones")
	}
	if r.Tasks["build"].Status != TaskStatusWaiting {
		t.Error("task states were shared between clones")
	}
	if r.Version != 2 || r.PipelineName != "release" {
		t.Errorf("unexpected run fields: %+v", r)
	}
}

func TestRun_Counts(t *testing.T) {
	r := &Run{}
	r.InitTasks([]string{"a", "b", "c"})
	_ = r.Tasks["a"].MarkSkipped(ReasonRunAborted, "b")

	counts := r.Counts()
	if counts[TaskStatusWaiting] != 2 || counts[TaskStatusSkipped] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}
	if got := r.TaskNames(); len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Errorf("unexpected task names: %v", got)
	}
}

// --- Pipeline Tests ---

func TestPipeline_TimeoutDefaults(t *testing.T) {
	p := &Pipeline{Defaults: &TaskDefaults{TimeoutSec: 120}}

	if got := p.TimeoutSec(TaskDef{Name: "a"}); got != 120 {
		t.Errorf("expected pipeline default 120, got %d", got)
	}
	if got := p.TimeoutSec(TaskDef{Name: "a", TimeoutSec: 5}); got != 5 {
		t.Errorf("expected task timeout 5, got %d", got)
	}
	if got := p.TimeoutSec(TaskDef{Name: "gate", Kind: TaskKindApproval}); got != DefaultApprovalTimeoutSec {
		t.Errorf("expected approval default, got %d", got)
	}

	bare := &Pipeline{}
	if got := bare.TimeoutSec(TaskDef{Name: "a"}); got != DefaultTaskTimeoutSec {
		t.Errorf("expected global default, got %d", got)
	}
}

// --- Gate Tests ---

func TestParseDecision(t *testing.T) {
	tests := []struct {
		in   string
		want Decision
		ok   bool
	}{
		{"approved", DecisionApproved, true},
		{" APPROVED\n", DecisionApproved, true},
		{"Rejected", DecisionRejected, true},
		{"reject", "", false},
		{"approve", "", false},
		{"yes", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := ParseDecision(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseDecision(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestGate_ResetErasesDecision(t *testing.T) {
	now := time.Now()
	g := &Gate{RunID: uuid.New(), Name: "approve"}
	g.Reset(time.Minute, now)
	g.Decide(DecisionApproved, "alice", now)

	g.Reset(time.Minute, now.Add(time.Second))
	if g.Status != GateStatusPending || g.DecidedAt != nil || g.DecidedBy != "" {
		t.Errorf("expected pending gate after reset, got %+v", g)
	}
	if !g.Deadline.Equal(now.Add(time.Second + time.Minute)) {
		t.Errorf("unexpected deadline %v", g.Deadline)
	}
}

func TestGate_DecideIdempotent(t *testing.T) {
	now := time.Now()
	g := &Gate{}
	g.Reset(time.Minute, now)

	if !g.Decide(DecisionRejected, "bob", now) {
		t.Fatal("expected first decision to change status")
	}
	if g.Decide(DecisionRejected, "carol", now) {
		t.Error("expected repeated decision to be a no-op")
	}
	if g.DecidedBy != "bob" {
		t.Errorf("expected decided_by bob, got %q", g.DecidedBy)
	}
	if !g.Decide(DecisionApproved, "carol", now) {
		t.Error("expected conflicting decision to win")
	}
}

// --- Schedule Tests ---

func TestSchedule_Kind(t *testing.T) {
	tests := []struct {
		name  string
		sched Schedule
		want  ScheduleKind
	}{
		{"cron", Schedule{CronExpr: "@daily"}, ScheduleKindCron},
		{"cron wins over interval", Schedule{CronExpr: "@daily", IntervalSec: 60}, ScheduleKindCron},
		{"interval", Schedule{IntervalSec: 60}, ScheduleKindInterval},
		{"none", Schedule{}, ScheduleKindNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sched.Kind(); got != tt.want {
				t.Errorf("Kind() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSchedule_IsDueAndRecordFiring(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	due := now
	s := &Schedule{Enabled: true, IntervalSec: 60, NextDueAt: &due}

	if !s.IsDue(now) {
		t.Error("expected schedule due at NextDueAt")
	}
	if s.IsDue(now.Add(-time.Second)) {
		t.Error("expected schedule not due before NextDueAt")
	}

	runID := uuid.New()
	next := now.Add(time.Minute)
	s.RecordFiring(runID, next, now)
	if s.LastRunID == nil || *s.LastRunID != runID {
		t.Errorf("expected last run %s, got %v", runID, s.LastRunID)
	}
	if !s.NextDueAt.Equal(next) || s.IsDue(now) {
		t.Errorf("expected next due %s, got %s", next, s.NextDueAt)
	}

	s.RecordFiring(uuid.Nil, next.Add(time.Minute), next)
	if *s.LastRunID != runID {
		t.Error("expected last run to be kept when no run was created")
	}

	s.Enabled = false
	if s.IsDue(next.Add(time.Hour)) {
		t.Error("expected disabled schedule never due")
	}
}
