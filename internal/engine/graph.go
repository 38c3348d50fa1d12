package engine

import (
	"container/heap"
	"fmt"

	"github.com/shaiso/Trellis/internal/domain"
)

// Node — узел DAG.
//
// Узлы хранятся в плотном массиве в порядке объявления шагов;
// рёбра — пары индексов. Это даёт O(1) доступ к узлу и исключает
// циклы указателей.
type Node struct {
	// Step — определение шага из PipelineSpec.
	Step *domain.StepSpec

	// Index — позиция узла в массиве (равна позиции шага в спецификации).
	Index int

	// DependsOn — индексы узлов, от которых зависит этот узел.
	DependsOn []int

	// Dependents — индексы узлов, которые зависят от этого узла.
	Dependents []int
}

// Graph — неизменяемый DAG шагов пайплайна с предвычисленным
// топологическим порядком.
//
// Ребро A → B существует, если некоторый output шага A потребляется
// как input шага B, либо B явно объявляет depends_on: [A].
type Graph struct {
	nodes []Node
	index map[string]int
	order []int
}

// Build строит DAG из спецификации пайплайна.
//
// Ошибки (все — до какого-либо обращения к удалённой платформе):
//   - дублирующиеся имена шагов
//   - два шага производят артефакт с одним именем
//   - input без производителя и без пометки external
//   - depends_on на несуществующий шаг или на себя
//   - цикл в зависимостях (с полным путём цикла в ошибке)
func Build(spec *domain.PipelineSpec) (*Graph, error) {
	if spec == nil || len(spec.Steps) == 0 {
		return nil, &GraphError{Message: ErrEmptySteps.Error(), Err: ErrEmptySteps}
	}

	g := &Graph{
		nodes: make([]Node, len(spec.Steps)),
		index: make(map[string]int, len(spec.Steps)),
	}

	// Первый проход: создаём узлы и индекс имён.
	for i := range spec.Steps {
		step := &spec.Steps[i]
		if _, exists := g.index[step.Name]; exists {
			return nil, &GraphError{
				StepName: step.Name,
				Message:  fmt.Sprintf("duplicate step name: %s", step.Name),
				Err:      ErrDuplicateStepName,
			}
		}
		g.nodes[i] = Node{Step: step, Index: i}
		g.index[step.Name] = i
	}

	// Реестр производителей: имя артефакта → индекс шага.
	producers := make(map[string]int)
	for i := range g.nodes {
		step := g.nodes[i].Step
		for _, output := range step.Outputs {
			if prev, exists := producers[output]; exists {
				return nil, &GraphError{
					StepName: step.Name,
					Message: fmt.Sprintf("output %q is already produced by step %s",
						output, g.nodes[prev].Step.Name),
					Err: ErrDuplicateOutput,
				}
			}
			producers[output] = i
		}
	}

	// Второй проход: выводим рёбра из inputs и depends_on.
	for i := range g.nodes {
		step := g.nodes[i].Step

		for _, input := range step.Inputs {
			producer, exists := producers[input.Name]
			if !exists {
				if input.External {
					continue // артефакт поставляется извне
				}
				return nil, &GraphError{
					StepName: step.Name,
					Message:  fmt.Sprintf("input %q is not produced by any step and is not marked external", input.Name),
					Err:      ErrUnresolvedInput,
				}
			}
			if producer != i {
				g.addEdge(producer, i)
			}
		}

		for _, dep := range step.DependsOn {
			depIdx, exists := g.index[dep]
			if !exists {
				return nil, &GraphError{
					StepName: step.Name,
					Message:  fmt.Sprintf("depends on unknown step: %s", dep),
					Err:      ErrUnknownDependency,
				}
			}
			if depIdx == i {
				return nil, &GraphError{
					StepName: step.Name,
					Message:  "step depends on itself",
					Err:      ErrSelfDependency,
				}
			}
			g.addEdge(depIdx, i)
		}
	}

	// Проверяем циклы (DFS с цветами; путь цикла попадает в ошибку).
	if cycle := g.findCycle(); cycle != nil {
		return nil, &GraphError{
			Message: "cyclic dependency detected",
			Cycle:   cycle,
			Err:     ErrCyclicDependency,
		}
	}

	// Топологический порядок: алгоритм Кана; при нескольких кандидатах
	// выбирается наименьший индекс — порядок объявления сохраняется.
	g.order = g.topologicalOrder()

	return g, nil
}

// addEdge добавляет ребро from → to, отбрасывая дубликаты.
func (g *Graph) addEdge(from, to int) {
	for _, dep := range g.nodes[to].DependsOn {
		if dep == from {
			return
		}
	}
	g.nodes[to].DependsOn = append(g.nodes[to].DependsOn, from)
	g.nodes[from].Dependents = append(g.nodes[from].Dependents, to)
}

// Цвета DFS для поиска циклов.
const (
	colorUnvisited = iota
	colorInProgress
	colorDone
)

// findCycle ищет цикл в графе.
// Возвращает полный путь цикла (имена шагов, первый == последний) или nil.
func (g *Graph) findCycle() []string {
	colors := make([]int, len(g.nodes))
	var stack []int

	var visit func(i int) []string
	visit = func(i int) []string {
		colors[i] = colorInProgress
		stack = append(stack, i)

		for _, next := range g.nodes[i].Dependents {
			switch colors[next] {
			case colorInProgress:
				// Нашли цикл: вырезаем из стека участок от next до вершины.
				start := 0
				for j, idx := range stack {
					if idx == next {
						start = j
						break
					}
				}
				cycle := make([]string, 0, len(stack)-start+1)
				for _, idx := range stack[start:] {
					cycle = append(cycle, g.nodes[idx].Step.Name)
				}
				cycle = append(cycle, g.nodes[next].Step.Name)
				return cycle
			case colorUnvisited:
				if cycle := visit(next); cycle != nil {
					return cycle
				}
			}
		}

		stack = stack[:len(stack)-1]
		colors[i] = colorDone
		return nil
	}

	for i := range g.nodes {
		if colors[i] == colorUnvisited {
			if cycle := visit(i); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// intHeap — min-heap индексов для детерминированного порядка Кана.
type intHeap []int

func (h intHeap) Len() int            { return len(h) }
func (h intHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h intHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *intHeap) Push(x any)         { *h = append(*h, x.(int)) }
func (h *intHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topologicalOrder строит топологический порядок.
// Вызывается после findCycle — граф гарантированно ацикличен.
func (g *Graph) topologicalOrder() []int {
	inDegree := make([]int, len(g.nodes))
	for i := range g.nodes {
		inDegree[i] = len(g.nodes[i].DependsOn)
	}

	ready := &intHeap{}
	heap.Init(ready)
	for i := range g.nodes {
		if inDegree[i] == 0 {
			heap.Push(ready, i)
		}
	}

	order := make([]int, 0, len(g.nodes))
	for ready.Len() > 0 {
		i := heap.Pop(ready).(int)
		order = append(order, i)

		for _, next := range g.nodes[i].Dependents {
			inDegree[next]--
			if inDegree[next] == 0 {
				heap.Push(ready, next)
			}
		}
	}

	return order
}

// Len возвращает количество узлов.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Node возвращает узел по индексу.
func (g *Graph) Node(i int) *Node {
	return &g.nodes[i]
}

// NodeByName возвращает узел по имени шага или nil.
func (g *Graph) NodeByName(name string) *Node {
	i, ok := g.index[name]
	if !ok {
		return nil
	}
	return &g.nodes[i]
}

// Order возвращает индексы узлов в топологическом порядке.
func (g *Graph) Order() []int {
	return g.order
}

// Roots возвращает индексы узлов без зависимостей.
func (g *Graph) Roots() []int {
	var roots []int
	for i := range g.nodes {
		if len(g.nodes[i].DependsOn) == 0 {
			roots = append(roots, i)
		}
	}
	return roots
}

// Descendants возвращает индексы всех транзитивных зависимых узла i.
func (g *Graph) Descendants(i int) []int {
	visited := make([]bool, len(g.nodes))
	var result []int

	var walk func(idx int)
	walk = func(idx int) {
		for _, next := range g.nodes[idx].Dependents {
			if !visited[next] {
				visited[next] = true
				result = append(result, next)
				walk(next)
			}
		}
	}
	walk(i)

	return result
}
