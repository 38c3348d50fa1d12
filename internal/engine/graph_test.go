package engine

import (
	"errors"
	"strings"
	"testing"

	"github.com/shaiso/Trellis/internal/domain"
)

func namesOf(g *Graph, indices []int) []string {
	names := make([]string, len(indices))
	for i, idx := range indices {
		names[i] = g.Node(idx).Step.Name
	}
	return names
}

func TestBuild_EmptySpec(t *testing.T) {
	_, err := Build(&domain.PipelineSpec{})
	if !errors.Is(err, ErrEmptySteps) {
		t.Errorf("expected ErrEmptySteps, got %v", err)
	}

	_, err = Build(nil)
	if !errors.Is(err, ErrEmptySteps) {
		t.Errorf("expected ErrEmptySteps for nil spec, got %v", err)
	}
}

func TestBuild_EdgesFromArtifacts(t *testing.T) {
	g, err := Build(&domain.PipelineSpec{Steps: []domain.StepSpec{
		{Name: "load", Outputs: []string{"dataset"}},
		{Name: "train", Inputs: []domain.InputRef{{Name: "dataset"}}, Outputs: []string{"model"}},
		{Name: "evaluate", Inputs: []domain.InputRef{{Name: "model"}, {Name: "dataset"}}},
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	train := g.NodeByName("train")
	if len(train.DependsOn) != 1 || g.Node(train.DependsOn[0]).Step.Name != "load" {
		t.Errorf("train should depend on load, got %v", namesOf(g, train.DependsOn))
	}

	evaluate := g.NodeByName("evaluate")
	deps := namesOf(g, evaluate.DependsOn)
	if len(deps) != 2 {
		t.Fatalf("evaluate should have 2 deps, got %v", deps)
	}
}

func TestBuild_ExplicitDependsOn(t *testing.T) {
	g, err := Build(&domain.PipelineSpec{Steps: []domain.StepSpec{
		{Name: "a"},
		{Name: "b", DependsOn: []string{"a"}},
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	b := g.NodeByName("b")
	if len(b.DependsOn) != 1 || b.DependsOn[0] != 0 {
		t.Errorf("b should depend on a, got %v", b.DependsOn)
	}
	if deps := g.NodeByName("a").Dependents; len(deps) != 1 || deps[0] != 1 {
		t.Errorf("a should have dependent b, got %v", deps)
	}
}

func TestBuild_DuplicateEdgeCollapsed(t *testing.T) {
	// Same edge via artifact and via depends_on must appear once.
	g, err := Build(&domain.PipelineSpec{Steps: []domain.StepSpec{
		{Name: "a", Outputs: []string{"x"}},
		{Name: "b", Inputs: []domain.InputRef{{Name: "x"}}, DependsOn: []string{"a"}},
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deps := g.NodeByName("b").DependsOn; len(deps) != 1 {
		t.Errorf("expected 1 dep, got %v", deps)
	}
}

func TestBuild_ExternalInput(t *testing.T) {
	_, err := Build(&domain.PipelineSpec{Steps: []domain.StepSpec{
		{Name: "train", Inputs: []domain.InputRef{{Name: "s3://bucket/data", External: true}}},
	}})
	if err != nil {
		t.Fatalf("external input should not require a producer: %v", err)
	}
}

func TestBuild_UnresolvedInput(t *testing.T) {
	_, err := Build(&domain.PipelineSpec{Steps: []domain.StepSpec{
		{Name: "train", Inputs: []domain.InputRef{{Name: "dataset"}}},
	}})
	if !errors.Is(err, ErrUnresolvedInput) {
		t.Errorf("expected ErrUnresolvedInput, got %v", err)
	}
}

func TestBuild_DuplicateStepName(t *testing.T) {
	_, err := Build(&domain.PipelineSpec{Steps: []domain.StepSpec{
		{Name: "train"},
		{Name: "train"},
	}})
	if !errors.Is(err, ErrDuplicateStepName) {
		t.Errorf("expected ErrDuplicateStepName, got %v", err)
	}
}

func TestBuild_DuplicateOutput(t *testing.T) {
	_, err := Build(&domain.PipelineSpec{Steps: []domain.StepSpec{
		{Name: "a", Outputs: []string{"model"}},
		{Name: "b", Outputs: []string{"model"}},
	}})
	if !errors.Is(err, ErrDuplicateOutput) {
		t.Errorf("expected ErrDuplicateOutput, got %v", err)
	}
}

func TestBuild_UnknownDependency(t *testing.T) {
	_, err := Build(&domain.PipelineSpec{Steps: []domain.StepSpec{
		{Name: "a", DependsOn: []string{"ghost"}},
	}})
	if !errors.Is(err, ErrUnknownDependency) {
		t.Errorf("expected ErrUnknownDependency, got %v", err)
	}
}

func TestBuild_SelfDependency(t *testing.T) {
	_, err := Build(&domain.PipelineSpec{Steps: []domain.StepSpec{
		{Name: "a", DependsOn: []string{"a"}},
	}})
	if !errors.Is(err, ErrSelfDependency) {
		t.Errorf("expected ErrSelfDependency, got %v", err)
	}
}

func TestBuild_CycleDetected(t *testing.T) {
	_, err := Build(&domain.PipelineSpec{Steps: []domain.StepSpec{
		{Name: "a", DependsOn: []string{"c"}},
		{Name: "b", DependsOn: []string{"a"}},
		{Name: "c", DependsOn: []string{"b"}},
	}})
	if !errors.Is(err, ErrCyclicDependency) {
		t.Fatalf("expected ErrCyclicDependency, got %v", err)
	}

	var graphErr *GraphError
	if !errors.As(err, &graphErr) {
		t.Fatalf("expected *GraphError, got %T", err)
	}
	if len(graphErr.Cycle) != 4 {
		t.Fatalf("expected full cycle path of 4 names, got %v", graphErr.Cycle)
	}
	if graphErr.Cycle[0] != graphErr.Cycle[len(graphErr.Cycle)-1] {
		t.Errorf("cycle path must start and end at the same step: %v", graphErr.Cycle)
	}
	if !strings.Contains(graphErr.Error(), " -> ") {
		t.Errorf("error should render cycle path, got %q", graphErr.Error())
	}
}

func TestBuild_TopologicalOrderStable(t *testing.T) {
	// Independent steps keep declaration order in the topological order.
	g, err := Build(&domain.PipelineSpec{Steps: []domain.StepSpec{
		{Name: "load", Outputs: []string{"data"}},
		{Name: "train-b", Inputs: []domain.InputRef{{Name: "data"}}},
		{Name: "train-a", Inputs: []domain.InputRef{{Name: "data"}}},
		{Name: "standalone"},
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := namesOf(g, g.Order())
	want := []string{"load", "train-b", "train-a", "standalone"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order mismatch: got %v, want %v", got, want)
		}
	}
}

func TestGraph_Roots(t *testing.T) {
	g, err := Build(&domain.PipelineSpec{Steps: []domain.StepSpec{
		{Name: "a"},
		{Name: "b", DependsOn: []string{"a"}},
		{Name: "c"},
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	roots := namesOf(g, g.Roots())
	if len(roots) != 2 || roots[0] != "a" || roots[1] != "c" {
		t.Errorf("expected roots [a c], got %v", roots)
	}
}

func TestGraph_Descendants(t *testing.T) {
	g, err := Build(&domain.PipelineSpec{Steps: []domain.StepSpec{
		{Name: "a"},
		{Name: "b", DependsOn: []string{"a"}},
		{Name: "c", DependsOn: []string{"b"}},
		{Name: "d"},
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	descendants := namesOf(g, g.Descendants(g.NodeByName("a").Index))
	if len(descendants) != 2 {
		t.Fatalf("expected 2 descendants of a, got %v", descendants)
	}
	for _, name := range descendants {
		if name == "d" {
			t.Error("d is not a descendant of a")
		}
	}
}

func TestGraph_NodeByName_Unknown(t *testing.T) {
	g, err := Build(&domain.PipelineSpec{Steps: []domain.StepSpec{{Name: "a"}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.NodeByName("ghost") != nil {
		t.Error("expected nil for unknown step")
	}
}
