package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/repo/memory"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// --- Cron Tests ---

func TestCalculateNextDue_Cron(t *testing.T) {
	sched := &domain.Schedule{CronExpr: "0 9 * * *", Timezone: "UTC"}
	from := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	next, err := CalculateNextDue(sched, from)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("expected %v, got %v", want, next)
	}
}

func TestCalculateNextDue_CronTimezone(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Moscow")
	if err != nil {
		t.Skipf("timezone database unavailable: %v", err)
	}
	sched := &domain.Schedule{CronExpr: "0 9 * * *", Timezone: "Europe/Moscow"}
	from := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	next, err := CalculateNextDue(sched, from)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2026, 3, 10, 9, 0, 0, 0, loc).UTC()
	if !next.Equal(want) {
		t.Errorf("expected %v, got %v", want, next)
	}
	if next.Location() != time.UTC {
		t.Errorf("expected UTC result, got %v", next.Location())
	}
}

func TestCalculateNextDue_Interval(t *testing.T) {
	sched := &domain.Schedule{IntervalSec: 90}
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	next, err := CalculateNextDue(sched, from)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := from.Add(90 * time.Second); !next.Equal(want) {
		t.Errorf("expected %v, got %v", want, next)
	}
}

func TestCalculateNextDue_Descriptor(t *testing.T) {
	sched := &domain.Schedule{CronExpr: "@daily"}
	from := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	next, err := CalculateNextDue(sched, from)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC); !next.Equal(want) {
		t.Errorf("expected %v, got %v", want, next)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		sched   domain.Schedule
		wantErr bool
	}{
		{"cron", domain.Schedule{PipelineName: "p", CronExpr: "*/5 * * * *"}, false},
		{"interval", domain.Schedule{PipelineName: "p", IntervalSec: 60}, false},
		{"no pipeline", domain.Schedule{IntervalSec: 60}, true},
		{"no trigger", domain.Schedule{PipelineName: "p"}, true},
		{"bad cron", domain.Schedule{PipelineName: "p", CronExpr: "every day"}, true},
		{"bad timezone", domain.Schedule{PipelineName: "p", IntervalSec: 60, Timezone: "Mars/Olympus"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.sched)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPrepare_SetsDefaults(t *testing.T) {
	sched := &domain.Schedule{PipelineName: "p", IntervalSec: 60}
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	if err := Prepare(sched, now); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if sched.Timezone != "UTC" {
		t.Errorf("expected UTC, got %q", sched.Timezone)
	}
	if sched.NextDueAt == nil || !sched.NextDueAt.Equal(now.Add(time.Minute)) {
		t.Errorf("unexpected next due: %v", sched.NextDueAt)
	}
}

// --- Scheduler Tests ---

type fakePublisher struct {
	mu     sync.Mutex
	runIDs []uuid.UUID
	err    error
}

func (p *fakePublisher) PublishRunPending(_ context.Context, runID uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runIDs = append(p.runIDs, runID)
	return p.err
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.runIDs)
}

type fixture struct {
	pipelines *memory.Pipelines
	runs      *memory.Runs
	schedules *memory.Schedules
	publisher *fakePublisher
	now       time.Time
	sched     *Scheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		pipelines: memory.NewPipelines(),
		runs:      memory.NewRuns(),
		schedules: memory.NewSchedules(),
		publisher: &fakePublisher{},
		now:       time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.sched = New(Config{
		Schedules: f.schedules,
		Runs:      f.runs,
		Pipelines: f.pipelines,
		Publisher: f.publisher,
		Logger:    telemetry.Discard(),
		Now:       func() time.Time { return f.now },
	})

	p := &domain.Pipeline{Name: "nightly", Tasks: []domain.TaskDef{{Name: "build", Command: "make"}}}
	if err := f.pipelines.Register(context.Background(), p); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return f
}

func (f *fixture) addSchedule(t *testing.T, pipeline string, due time.Time) *domain.Schedule {
	t.Helper()
	sched := &domain.Schedule{
		ID:           uuid.New(),
		PipelineName: pipeline,
		Name:         "every-hour",
		IntervalSec:  3600,
		Timezone:     "UTC",
		Enabled:      true,
		NextDueAt:    &due,
		Params:       map[string]string{"version": "nightly"},
	}
	if err := f.schedules.Create(context.Background(), sched); err != nil {
		t.Fatalf("Create schedule failed: %v", err)
	}
	return sched
}

func (f *fixture) allRuns(t *testing.T) []domain.Run {
	t.Helper()
	runs, err := f.runs.List(context.Background(), repo.RunFilter{})
	if err != nil {
		t.Fatalf("List runs failed: %v", err)
	}
	return runs
}

func TestTick_CreatesRun(t *testing.T) {
	f := newFixture(t)
	sched := f.addSchedule(t, "nightly", f.now.Add(-time.Minute))

	if err := f.sched.Tick(context.Background()); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}

	runs := f.allRuns(t)
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	run := runs[0]
	if run.Status != domain.RunStatusPending || run.Trigger != domain.TriggerSchedule {
		t.Errorf("unexpected run: status=%s trigger=%s", run.Status, run.Trigger)
	}
	if run.Version != 1 || run.Params["version"] != "nightly" {
		t.Errorf("unexpected run version/params: %d %v", run.Version, run.Params)
	}
	if want := IdempotencyKey(sched); run.IdempotencyKey != want {
		t.Errorf("expected idempotency key %s, got %s", want, run.IdempotencyKey)
	}

	updated, err := f.schedules.GetByID(context.Background(), sched.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if updated.LastRunID == nil || *updated.LastRunID != run.ID {
		t.Errorf("expected last run %s, got %v", run.ID, updated.LastRunID)
	}
	if want := f.now.Add(time.Hour); !updated.NextDueAt.Equal(want) {
		t.Errorf("expected next due %v, got %v", want, updated.NextDueAt)
	}
	if f.publisher.count() != 1 {
		t.Errorf("expected 1 published run, got %d", f.publisher.count())
	}
}

func TestTick_Idempotent(t *testing.T) {
	f := newFixture(t)
	due := f.now.Add(-time.Minute)
	sched := f.addSchedule(t, "nightly", due)

	if err := f.sched.Tick(context.Background()); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}

	// Обновление next_due_at потерялось: schedule снова due на то же время.
	sched.NextDueAt = &due
	if err := f.schedules.Update(context.Background(), sched); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if err := f.sched.Tick(context.Background()); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}

	if n := len(f.allRuns(t)); n != 1 {
		t.Errorf("expected 1 run, got %d", n)
	}
	if f.publisher.count() != 1 {
		t.Errorf("duplicate must not be published, got %d", f.publisher.count())
	}
}

func TestTick_NotDue(t *testing.T) {
	f := newFixture(t)
	f.addSchedule(t, "nightly", f.now.Add(time.Minute))

	if err := f.sched.Tick(context.Background()); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if n := len(f.allRuns(t)); n != 0 {
		t.Errorf("expected no runs, got %d", n)
	}
}

func TestTick_MissingPipelineSkipped(t *testing.T) {
	f := newFixture(t)
	f.addSchedule(t, "ghost", f.now.Add(-time.Minute))
	f.addSchedule(t, "nightly", f.now.Add(-2*time.Minute))

	if err := f.sched.Tick(context.Background()); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	runs := f.allRuns(t)
	if len(runs) != 1 || runs[0].PipelineName != "nightly" {
		t.Errorf("expected only the nightly run, got %+v", runs)
	}
}

func TestTick_PublishErrorKeepsRun(t *testing.T) {
	f := newFixture(t)
	f.publisher.err = errors.New("broker down")
	f.addSchedule(t, "nightly", f.now.Add(-time.Minute))

	if err := f.sched.Tick(context.Background()); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if n := len(f.allRuns(t)); n != 1 {
		t.Errorf("run must be created even if publish fails, got %d", n)
	}
}

type fakeLeader struct {
	mu       sync.Mutex
	leader   bool
	released bool
}

func (l *fakeLeader) Acquire(context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.leader, nil
}

func (l *fakeLeader) Release(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released = true
	return nil
}

func TestRun_OnlyLeaderTicks(t *testing.T) {
	f := newFixture(t)
	f.addSchedule(t, "nightly", f.now.Add(-time.Minute))

	follower := &fakeLeader{}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	f.sched.Run(ctx, 5*time.Millisecond, follower)
	cancel()

	if n := len(f.allRuns(t)); n != 0 {
		t.Fatalf("follower must not create runs, got %d", n)
	}
	if follower.released {
		t.Error("follower has nothing to release")
	}

	leader := &fakeLeader{leader: true}
	ctx, cancel = context.WithTimeout(context.Background(), 50*time.Millisecond)
	f.sched.Run(ctx, 5*time.Millisecond, leader)
	cancel()

	if n := len(f.allRuns(t)); n != 1 {
		t.Errorf("expected 1 run from leader, got %d", n)
	}
	if !leader.released {
		t.Error("leader must release the lock on exit")
	}
}
