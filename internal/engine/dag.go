package engine

import (
	"fmt"
	"sort"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Node — узел в DAG.
type Node struct {
	// Task — определение задачи.
	Task *domain.TaskDef

	// ID — имя задачи.
	ID string

	// InDegree — количество входящих рёбер (зависимостей).
	InDegree int

	// Level — номер tier: длина самого длинного пути от корня.
	Level int

	// DependsOn — узлы, от которых зависит этот узел.
	DependsOn []*Node

	// Dependents — узлы, которые зависят от этого узла.
	Dependents []*Node
}

// DAG — направленный ациклический граф задач pipeline.
type DAG struct {
	// Nodes — все узлы графа (имя задачи → Node).
	Nodes map[string]*Node

	// RootNodes — узлы без зависимостей, отсортированы по имени.
	RootNodes []*Node

	// Order — топологически отсортированный список узлов.
	Order []*Node

	tiers [][]string
}

// Resolve строит граф и возвращает задачи, разбитые на tiers.
//
// Задачи одного tier не зависят друг от друга и могут выполняться
// параллельно. Каждая задача попадает ровно в один tier, и все её
// зависимости находятся в более ранних tiers.
func Resolve(tasks []domain.TaskDef) ([][]string, error) {
	dag, err := BuildDAG(tasks)
	if err != nil {
		return nil, err
	}
	return dag.Tiers(), nil
}

// BuildDAG строит DAG из определений задач.
func BuildDAG(tasks []domain.TaskDef) (*DAG, error) {
	dag := &DAG{
		Nodes:     make(map[string]*Node, len(tasks)),
		RootNodes: make([]*Node, 0),
	}

	// Первый проход: создаём все узлы
	for i := range tasks {
		task := &tasks[i]
		if _, exists := dag.Nodes[task.Name]; exists {
			return nil, NewValidationError(task.Name, "name",
				fmt.Sprintf("duplicate task name: %s", task.Name), ErrDuplicateTaskName)
		}
		dag.Nodes[task.Name] = &Node{
			Task:       task,
			ID:         task.Name,
			DependsOn:  make([]*Node, 0),
			Dependents: make([]*Node, 0),
		}
	}

	// Второй проход: связываем узлы по зависимостям
	for i := range tasks {
		if err := dag.linkDependencies(&tasks[i]); err != nil {
			return nil, err
		}
	}

	dag.findRootNodes()

	if err := dag.topologicalSort(); err != nil {
		return nil, err
	}

	return dag, nil
}

// linkDependencies связывает узел с его зависимостями.
func (d *DAG) linkDependencies(task *domain.TaskDef) error {
	node := d.Nodes[task.Name]

	for _, dep := range task.DependsOn {
		if dep == task.Name {
			return NewValidationError(task.Name, "depends_on",
				"task depends on itself", ErrSelfDependency)
		}
		depNode, exists := d.Nodes[dep]
		if !exists {
			return NewValidationError(task.Name, "depends_on",
				fmt.Sprintf("depends on unknown task: %s", dep), ErrUnknownDependency)
		}
		d.addEdge(depNode, node)
	}

	return nil
}

// addEdge добавляет ребро между узлами.
// Дубликаты игнорируются, чтобы не учитывать InDegree дважды.
func (d *DAG) addEdge(from, to *Node) {
	for _, dep := range to.DependsOn {
		if dep.ID == from.ID {
			return
		}
	}
	from.Dependents = append(from.Dependents, to)
	to.DependsOn = append(to.DependsOn, from)
	to.InDegree++
}

// findRootNodes находит узлы без входящих рёбер.
func (d *DAG) findRootNodes() {
	d.RootNodes = make([]*Node, 0)
	for _, node := range d.Nodes {
		if node.InDegree == 0 {
			d.RootNodes = append(d.RootNodes, node)
		}
	}
	sortNodes(d.RootNodes)
}

// topologicalSort раскладывает узлы по уровням (алгоритм Кана).
//
// Каждый уровень — узлы, чьи зависимости обработаны на предыдущих
// уровнях, поэтому Level равен длине самого длинного пути от корня.
// Если обработаны не все узлы, в графе есть цикл.
func (d *DAG) topologicalSort() error {
	inDegree := make(map[string]int, len(d.Nodes))
	for id, node := range d.Nodes {
		inDegree[id] = node.InDegree
	}

	level := make([]*Node, len(d.RootNodes))
	copy(level, d.RootNodes)

	order := make([]*Node, 0, len(d.Nodes))
	tiers := make([][]string, 0)

	for depth := 0; len(level) > 0; depth++ {
		sortNodes(level)

		names := make([]string, 0, len(level))
		next := make([]*Node, 0)
		for _, node := range level {
			node.Level = depth
			order = append(order, node)
			names = append(names, node.ID)

			for _, dependent := range node.Dependents {
				inDegree[dependent.ID]--
				if inDegree[dependent.ID] == 0 {
					next = append(next, dependent)
				}
			}
		}

		tiers = append(tiers, names)
		level = next
	}

	if len(order) != len(d.Nodes) {
		return &CycleError{Cycle: d.findCycle(inDegree)}
	}

	d.Order = order
	d.tiers = tiers
	return nil
}

// findCycle находит один конкретный цикл среди необработанных узлов.
//
// remaining — остаточные InDegree после алгоритма Кана: узлы с
// ненулевым значением лежат на цикле или за ним. Обход идёт от
// наименьшего имени, поэтому результат детерминирован.
func (d *DAG) findCycle(remaining map[string]int) []string {
	candidates := make([]string, 0)
	for id, deg := range remaining {
		if deg > 0 {
			candidates = append(candidates, id)
		}
	}
	sort.Strings(candidates)

	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(candidates))
	stack := make([]string, 0)

	var visit func(id string) []string
	visit = func(id string) []string {
		color[id] = grey
		stack = append(stack, id)

		deps := d.Nodes[id].DependsOn
		ids := make([]string, 0, len(deps))
		for _, dep := range deps {
			if remaining[dep.ID] > 0 {
				ids = append(ids, dep.ID)
			}
		}
		sort.Strings(ids)

		for _, next := range ids {
			switch color[next] {
			case grey:
				for i, s := range stack {
					if s == next {
						// Путь идёт по depends_on, разворачиваем в порядок выполнения.
						cycle := append([]string{}, stack[i:]...)
						reverse(cycle)
						cycle = rotateToMin(cycle)
						return append(cycle, cycle[0])
					}
				}
			case white:
				if c := visit(next); c != nil {
					return c
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[id] = black
		return nil
	}

	for _, id := range candidates {
		if color[id] == white {
			if c := visit(id); c != nil {
				return c
			}
		}
	}
	return candidates
}

// Tiers возвращает имена задач, разбитые на уровни выполнения.
// Внутри уровня имена отсортированы.
func (d *DAG) Tiers() [][]string {
	out := make([][]string, len(d.tiers))
	for i, tier := range d.tiers {
		out[i] = append([]string(nil), tier...)
	}
	return out
}

// Downstream возвращает все задачи, транзитивно зависящие от name.
func (d *DAG) Downstream(name string) []string {
	node, ok := d.Nodes[name]
	if !ok {
		return nil
	}

	seen := make(map[string]bool)
	queue := append([]*Node(nil), node.Dependents...)
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if seen[n.ID] {
			continue
		}
		seen[n.ID] = true
		queue = append(queue, n.Dependents...)
	}

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// GetReadyNodes возвращает узлы, готовые к выполнению.
//
// Узел готов, если:
// - Все его зависимости завершены (в completed)
// - Сам узел ещё не завершён и не в процессе (не в completed и не в running)
func (d *DAG) GetReadyNodes(completed, running map[string]bool) []*Node {
	ready := make([]*Node, 0)

	for _, node := range d.Order {
		if completed[node.ID] || running[node.ID] {
			continue
		}

		allDepsCompleted := true
		for _, dep := range node.DependsOn {
			if !completed[dep.ID] {
				allDepsCompleted = false
				break
			}
		}

		if allDepsCompleted {
			ready = append(ready, node)
		}
	}

	return ready
}

// GetNode возвращает узел по имени.
func (d *DAG) GetNode(id string) *Node {
	return d.Nodes[id]
}

// Size возвращает количество узлов в DAG.
func (d *DAG) Size() int {
	return len(d.Nodes)
}

// IsComplete проверяет, все ли узлы завершены.
func (d *DAG) IsComplete(completed map[string]bool) bool {
	for _, node := range d.Nodes {
		if !completed[node.ID] {
			return false
		}
	}
	return true
}

func sortNodes(nodes []*Node) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
}

// rotateToMin сдвигает цикл так, чтобы он начинался с наименьшего имени.
func rotateToMin(cycle []string) []string {
	minIdx := 0
	for i, s := range cycle {
		if s < cycle[minIdx] {
			minIdx = i
		}
	}
	return append(append([]string{}, cycle[minIdx:]...), cycle[:minIdx]...)
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
