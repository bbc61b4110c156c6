package engine

import (
	"errors"
	"reflect"
	"testing"

	"github.com/shaiso/Conveyor/internal/domain"
)

func releaseTasks() []domain.TaskDef {
	return []domain.TaskDef{
		{Name: "build", Command: "make build"},
		{Name: "scan", Command: "trivy image app", DependsOn: []string{"build"}},
		{Name: "push", Command: "docker push app", DependsOn: []string{"scan"}},
		{Name: "deploy-dev", Kind: domain.TaskKindDeploy, Environment: "dev", DependsOn: []string{"push"}},
		{Name: "approve", Kind: domain.TaskKindApproval, DependsOn: []string{"deploy-dev"}},
		{Name: "deploy-prod", Kind: domain.TaskKindDeploy, Environment: "prod", DependsOn: []string{"approve"}},
	}
}

func TestBuildDAG_SimpleChain(t *testing.T) {
	dag, err := BuildDAG([]domain.TaskDef{
		{Name: "A", Command: "true"},
		{Name: "B", Command: "true", DependsOn: []string{"A"}},
		{Name: "C", Command: "true", DependsOn: []string{"B"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if dag.Size() != 3 {
		t.Errorf("expected 3 nodes, got %d", dag.Size())
	}
	if len(dag.RootNodes) != 1 || dag.RootNodes[0].ID != "A" {
		t.Errorf("expected single root A, got %v", dag.RootNodes)
	}

	nodeC := dag.GetNode("C")
	if len(nodeC.DependsOn) != 1 || nodeC.DependsOn[0].ID != "B" {
		t.Error("node C should depend on B")
	}
	if nodeC.Level != 2 {
		t.Errorf("expected C at level 2, got %d", nodeC.Level)
	}
}

func TestResolve_ReleasePipeline(t *testing.T) {
	tiers, err := Resolve(releaseTasks())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := [][]string{{"build"}, {"scan"}, {"push"}, {"deploy-dev"}, {"approve"}, {"deploy-prod"}}
	if !reflect.DeepEqual(tiers, want) {
		t.Errorf("expected %v, got %v", want, tiers)
	}
}

func TestResolve_Diamond(t *testing.T) {
	// A → B → D
	// A → C → D
	tiers, err := Resolve([]domain.TaskDef{
		{Name: "D", Command: "true", DependsOn: []string{"C", "B"}},
		{Name: "C", Command: "true", DependsOn: []string{"A"}},
		{Name: "B", Command: "true", DependsOn: []string{"A"}},
		{Name: "A", Command: "true"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := [][]string{{"A"}, {"B", "C"}, {"D"}}
	if !reflect.DeepEqual(tiers, want) {
		t.Errorf("expected %v, got %v", want, tiers)
	}
}

func TestResolve_LongestPathLevel(t *testing.T) {
	// C зависит от A напрямую и через B — должен оказаться после B.
	tiers, err := Resolve([]domain.TaskDef{
		{Name: "A", Command: "true"},
		{Name: "B", Command: "true", DependsOn: []string{"A"}},
		{Name: "C", Command: "true", DependsOn: []string{"A", "B"}},
		{Name: "X", Command: "true"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := [][]string{{"A", "X"}, {"B"}, {"C"}}
	if !reflect.DeepEqual(tiers, want) {
		t.Errorf("expected %v, got %v", want, tiers)
	}
}

func TestResolve_EveryTaskOnceAndAfterDependencies(t *testing.T) {
	tasks := []domain.TaskDef{
		{Name: "lint", Command: "true"},
		{Name: "unit", Command: "true"},
		{Name: "build", Command: "true", DependsOn: []string{"lint", "unit"}},
		{Name: "e2e", Command: "true", DependsOn: []string{"build"}},
		{Name: "docs", Command: "true", DependsOn: []string{"lint"}},
		{Name: "release", Command: "true", DependsOn: []string{"e2e", "docs"}},
	}

	tiers, err := Resolve(tasks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tierOf := make(map[string]int)
	for i, tier := range tiers {
		for _, name := range tier {
			if _, dup := tierOf[name]; dup {
				t.Fatalf("task %s appears twice", name)
			}
			tierOf[name] = i
		}
	}
	if len(tierOf) != len(tasks) {
		t.Fatalf("expected %d tasks in tiers, got %d", len(tasks), len(tierOf))
	}

	for _, task := range tasks {
		for _, dep := range task.DependsOn {
			if tierOf[dep] >= tierOf[task.Name] {
				t.Errorf("%s (tier %d) must come after %s (tier %d)",
					task.Name, tierOf[task.Name], dep, tierOf[dep])
			}
		}
	}
}

func TestBuildDAG_Cycle(t *testing.T) {
	_, err := BuildDAG([]domain.TaskDef{
		{Name: "root", Command: "true"},
		{Name: "a", Command: "true", DependsOn: []string{"root", "c"}},
		{Name: "b", Command: "true", DependsOn: []string{"a"}},
		{Name: "c", Command: "true", DependsOn: []string{"b"}},
		{Name: "tail", Command: "true", DependsOn: []string{"c"}},
	})
	if !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("expected ErrCycleDetected, got %v", err)
	}

	var cErr *CycleError
	if !errors.As(err, &cErr) {
		t.Fatalf("expected CycleError, got %T", err)
	}

	// a → b → c → a
	want := []string{"a", "b", "c", "a"}
	if !reflect.DeepEqual(cErr.Cycle, want) {
		t.Errorf("expected cycle %v, got %v", want, cErr.Cycle)
	}
}

func TestBuildDAG_TwoNodeCycle(t *testing.T) {
	_, err := BuildDAG([]domain.TaskDef{
		{Name: "x", Command: "true", DependsOn: []string{"y"}},
		{Name: "y", Command: "true", DependsOn: []string{"x"}},
	})

	var cErr *CycleError
	if !errors.As(err, &cErr) {
		t.Fatalf("expected CycleError, got %v", err)
	}
	if len(cErr.Cycle) != 3 || cErr.Cycle[0] != cErr.Cycle[2] {
		t.Errorf("expected closed cycle, got %v", cErr.Cycle)
	}
}

func TestBuildDAG_UnknownDependency(t *testing.T) {
	_, err := BuildDAG([]domain.TaskDef{
		{Name: "deploy", Command: "true", DependsOn: []string{"missing"}},
	})
	if !errors.Is(err, ErrUnknownDependency) {
		t.Errorf("expected ErrUnknownDependency, got %v", err)
	}
}

func TestBuildDAG_DuplicateEdge(t *testing.T) {
	dag, err := BuildDAG([]domain.TaskDef{
		{Name: "A", Command: "true"},
		{Name: "B", Command: "true", DependsOn: []string{"A", "A"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dag.GetNode("B").InDegree != 1 {
		t.Errorf("expected InDegree 1, got %d", dag.GetNode("B").InDegree)
	}
}

func TestDAG_Downstream(t *testing.T) {
	dag, err := BuildDAG(releaseTasks())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := dag.Downstream("push")
	want := []string{"approve", "deploy-dev", "deploy-prod"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	if got := dag.Downstream("deploy-prod"); len(got) != 0 {
		t.Errorf("expected no downstream for leaf, got %v", got)
	}
	if got := dag.Downstream("nope"); got != nil {
		t.Errorf("expected nil for unknown task, got %v", got)
	}
}

func TestDAG_GetReadyNodes(t *testing.T) {
	dag, err := BuildDAG([]domain.TaskDef{
		{Name: "A", Command: "true"},
		{Name: "B", Command: "true", DependsOn: []string{"A"}},
		{Name: "C", Command: "true", DependsOn: []string{"A"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ready := dag.GetReadyNodes(nil, nil)
	if len(ready) != 1 || ready[0].ID != "A" {
		t.Fatalf("expected only A ready, got %v", ready)
	}

	ready = dag.GetReadyNodes(map[string]bool{"A": true}, map[string]bool{"B": true})
	if len(ready) != 1 || ready[0].ID != "C" {
		t.Errorf("expected only C ready, got %v", ready)
	}

	if !dag.IsComplete(map[string]bool{"A": true, "B": true, "C": true}) {
		t.Error("expected DAG to be complete")
	}
}
