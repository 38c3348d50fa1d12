package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Trellis/internal/domain"
	"github.com/shaiso/Trellis/internal/engine"
	"github.com/shaiso/Trellis/internal/remote"
)

func buildGraph(t *testing.T, steps ...domain.StepSpec) *engine.Graph {
	t.Helper()
	graph, err := engine.Build(&domain.PipelineSpec{Name: "test", Steps: steps})
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}
	return graph
}

func step(name string, deps ...string) domain.StepSpec {
	return domain.StepSpec{
		Name:      name,
		Kind:      domain.StepKindCustom,
		DependsOn: deps,
		Remote:    domain.RemoteConfig{InstanceType: "m5.large", Image: "img"},
	}
}

func stepState(t *testing.T, result *domain.RunResult, name string) domain.StepState {
	t.Helper()
	for _, s := range result.Steps {
		if s.StepName == name {
			return s
		}
	}
	t.Fatalf("step %q not in result", name)
	return domain.StepState{}
}

func runScheduler(t *testing.T, adapter remote.Adapter, graph *engine.Graph) *domain.RunResult {
	t.Helper()
	s := New(Config{
		Adapter:      adapter,
		PollInterval: 2 * time.Millisecond,
	})
	result, err := s.Run(context.Background(), uuid.New(), "test", graph)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return result
}

// --- Config Tests ---

func TestRun_NoAdapter(t *testing.T) {
	s := New(Config{})
	_, err := s.Run(context.Background(), uuid.New(), "test", buildGraph(t, step("a")))

	if !errors.Is(err, ErrNoAdapter) {
		t.Errorf("expected ErrNoAdapter, got %v", err)
	}
}

func TestRun_NilGraph(t *testing.T) {
	s := New(Config{Adapter: remote.NewSim(0)})
	_, err := s.Run(context.Background(), uuid.New(), "test", nil)

	if !errors.Is(err, ErrNilGraph) {
		t.Errorf("expected ErrNilGraph, got %v", err)
	}
}

// --- Execution Tests ---

func TestRun_DiamondSucceeds(t *testing.T) {
	adapter := remote.NewSim(5 * time.Millisecond)
	graph := buildGraph(t,
		step("a"),
		step("b", "a"),
		step("c", "a"),
		step("d", "b", "c"),
	)

	result := runScheduler(t, adapter, graph)

	if result.Status != domain.RunStatusSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s", result.Status)
	}
	for _, name := range []string{"a", "b", "c", "d"} {
		s := stepState(t, result, name)
		if s.Status != domain.StepStatusSucceeded {
			t.Errorf("step %s: expected SUCCEEDED, got %s", name, s.Status)
		}
		if s.Attempts != 1 {
			t.Errorf("step %s: expected 1 attempt, got %d", name, s.Attempts)
		}
		if adapter.Submits(name) != 1 {
			t.Errorf("step %s: expected 1 submit, got %d", name, adapter.Submits(name))
		}
	}
	if !result.Succeeded() {
		t.Error("Succeeded() should be true")
	}
}

func TestRun_TransientRetrySucceeds(t *testing.T) {
	adapter := remote.NewSim(2 * time.Millisecond)
	adapter.ScriptOutcome("train",
		remote.JobStatus{State: remote.JobStateFailedTransient, Reason: "Throttling"},
		remote.JobStatus{State: remote.JobStateFailedTransient, Reason: "InsufficientCapacity"},
	)

	train := step("train")
	train.Remote.MaxAttempts = 3
	graph := buildGraph(t, train)

	result := runScheduler(t, adapter, graph)

	if result.Status != domain.RunStatusSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s", result.Status)
	}
	s := stepState(t, result, "train")
	if s.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", s.Attempts)
	}
	if adapter.Submits("train") != 3 {
		t.Errorf("expected 3 submits, got %d", adapter.Submits("train"))
	}
}

func TestRun_TransientExhaustsAttempts(t *testing.T) {
	adapter := remote.NewSim(2 * time.Millisecond)
	adapter.ScriptOutcome("train",
		remote.JobStatus{State: remote.JobStateFailedTransient, Reason: "Throttling"},
		remote.JobStatus{State: remote.JobStateFailedTransient, Reason: "Throttling"},
	)

	train := step("train")
	train.Remote.MaxAttempts = 2
	graph := buildGraph(t, train, step("evaluate", "train"))

	result := runScheduler(t, adapter, graph)

	if result.Status != domain.RunStatusFailed {
		t.Fatalf("expected FAILED, got %s", result.Status)
	}
	if adapter.Submits("train") != 2 {
		t.Errorf("expected 2 submits, got %d", adapter.Submits("train"))
	}
	if s := stepState(t, result, "train"); s.Status != domain.StepStatusFailed {
		t.Errorf("expected train FAILED, got %s", s.Status)
	}
}

func TestRun_PermanentFailureNoRetry(t *testing.T) {
	adapter := remote.NewSim(2 * time.Millisecond)
	adapter.ScriptOutcome("train",
		remote.JobStatus{State: remote.JobStateFailedPermanent, Reason: "AlgorithmError: loss is NaN"},
	)

	train := step("train")
	train.Remote.MaxAttempts = 5
	graph := buildGraph(t, train)

	result := runScheduler(t, adapter, graph)

	if result.Status != domain.RunStatusFailed {
		t.Fatalf("expected FAILED, got %s", result.Status)
	}
	// Permanent errors must not consume further attempts.
	if adapter.Submits("train") != 1 {
		t.Errorf("expected 1 submit, got %d", adapter.Submits("train"))
	}
	s := stepState(t, result, "train")
	if s.Error != "AlgorithmError: loss is NaN" {
		t.Errorf("unexpected error message: %q", s.Error)
	}
}

func TestRun_FailureCascadesSkip(t *testing.T) {
	adapter := remote.NewSim(2 * time.Millisecond)
	adapter.ScriptOutcome("load",
		remote.JobStatus{State: remote.JobStateFailedPermanent, Reason: "input not found"},
	)

	graph := buildGraph(t,
		step("load"),
		step("train", "load"),
		step("evaluate", "train"),
	)

	result := runScheduler(t, adapter, graph)

	if result.Status != domain.RunStatusFailed {
		t.Fatalf("expected FAILED, got %s", result.Status)
	}
	for _, name := range []string{"train", "evaluate"} {
		s := stepState(t, result, name)
		if s.Status != domain.StepStatusSkipped {
			t.Errorf("step %s: expected SKIPPED, got %s", name, s.Status)
		}
		if s.SkippedBecause != "load" {
			t.Errorf("step %s: expected skipped_because=load, got %q", name, s.SkippedBecause)
		}
		if adapter.Submits(name) != 0 {
			t.Errorf("step %s: should never be submitted", name)
		}
	}
}

func TestRun_IndependentBranchesContinue(t *testing.T) {
	adapter := remote.NewSim(5 * time.Millisecond)
	adapter.ScriptOutcome("left",
		remote.JobStatus{State: remote.JobStateFailedPermanent, Reason: "boom"},
	)

	graph := buildGraph(t,
		step("left"),
		step("right"),
		step("right-child", "right"),
	)

	result := runScheduler(t, adapter, graph)

	if result.Status != domain.RunStatusFailed {
		t.Fatalf("expected FAILED, got %s", result.Status)
	}
	// Failure of one branch must not stop the other.
	for _, name := range []string{"right", "right-child"} {
		if s := stepState(t, result, name); s.Status != domain.StepStatusSucceeded {
			t.Errorf("step %s: expected SUCCEEDED, got %s", name, s.Status)
		}
	}
}

func TestRun_StepTimeout(t *testing.T) {
	adapter := remote.NewSim(10 * time.Second)

	slow := step("slow")
	slow.Remote.TimeoutSec = 1
	graph := buildGraph(t, slow, step("after", "slow"))

	result := runScheduler(t, adapter, graph)

	if result.Status != domain.RunStatusFailed {
		t.Fatalf("expected FAILED, got %s", result.Status)
	}
	s := stepState(t, result, "slow")
	if s.Status != domain.StepStatusFailed {
		t.Errorf("expected FAILED, got %s", s.Status)
	}
	if !strings.Contains(s.Error, "timeout") {
		t.Errorf("expected timeout reason, got %q", s.Error)
	}
	if after := stepState(t, result, "after"); after.Status != domain.StepStatusSkipped {
		t.Errorf("expected after SKIPPED, got %s", after.Status)
	}
}

func TestRun_Cancellation(t *testing.T) {
	adapter := remote.NewSim(time.Second)
	graph := buildGraph(t,
		step("a"),
		step("b", "a"),
	)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	s := New(Config{Adapter: adapter, PollInterval: 2 * time.Millisecond})
	result, err := s.Run(ctx, uuid.New(), "test", graph)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Status != domain.RunStatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", result.Status)
	}
	if sa := stepState(t, result, "a"); sa.Status != domain.StepStatusCancelled {
		t.Errorf("step a: expected CANCELLED, got %s", sa.Status)
	}
	if sb := stepState(t, result, "b"); sb.Status != domain.StepStatusCancelled {
		t.Errorf("step b: expected CANCELLED, got %s", sb.Status)
	}
	// Pending steps must never reach the platform after cancellation.
	if adapter.Submits("b") != 0 {
		t.Errorf("step b should never be submitted")
	}
}

// trackingAdapter считает одновременно выполняющиеся job'ы.
type trackingAdapter struct {
	*remote.SimAdapter

	mu      sync.Mutex
	active  int
	maxSeen int
}

func (a *trackingAdapter) Submit(ctx context.Context, runID uuid.UUID, step *domain.StepSpec, attempt int) (remote.JobHandle, error) {
	a.mu.Lock()
	a.active++
	if a.active > a.maxSeen {
		a.maxSeen = a.active
	}
	a.mu.Unlock()
	return a.SimAdapter.Submit(ctx, runID, step, attempt)
}

func (a *trackingAdapter) Poll(ctx context.Context, handle remote.JobHandle) (remote.JobStatus, error) {
	status, err := a.SimAdapter.Poll(ctx, handle)
	if err == nil && status.State.IsTerminal() {
		a.mu.Lock()
		a.active--
		a.mu.Unlock()
	}
	return status, err
}

func TestRun_ConcurrencyBound(t *testing.T) {
	adapter := &trackingAdapter{SimAdapter: remote.NewSim(10 * time.Millisecond)}
	graph := buildGraph(t,
		step("a"), step("b"), step("c"), step("d"), step("e"),
	)

	s := New(Config{
		Adapter:        adapter,
		MaxConcurrency: 2,
		PollInterval:   2 * time.Millisecond,
	})
	result, err := s.Run(context.Background(), uuid.New(), "test", graph)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Status != domain.RunStatusSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s", result.Status)
	}
	if adapter.maxSeen > 2 {
		t.Errorf("concurrency bound violated: %d running at once", adapter.maxSeen)
	}
}

// --- Recorder Tests ---

type memRecorder struct {
	mu       sync.Mutex
	statuses map[string][]domain.StepStatus
}

func (r *memRecorder) StepUpdated(_ context.Context, _ uuid.UUID, state domain.StepState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.statuses == nil {
		r.statuses = make(map[string][]domain.StepStatus)
	}
	r.statuses[state.StepName] = append(r.statuses[state.StepName], state.Status)
}

func TestRun_RecorderSeesTransitions(t *testing.T) {
	adapter := remote.NewSim(2 * time.Millisecond)
	recorder := &memRecorder{}
	graph := buildGraph(t, step("a"), step("b", "a"))

	s := New(Config{
		Adapter:      adapter,
		PollInterval: 2 * time.Millisecond,
		Recorder:     recorder,
	})
	if _, err := s.Run(context.Background(), uuid.New(), "test", graph); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, name := range []string{"a", "b"} {
		seq := recorder.statuses[name]
		if len(seq) == 0 {
			t.Fatalf("step %s: no recorded transitions", name)
		}
		if seq[len(seq)-1] != domain.StepStatusSucceeded {
			t.Errorf("step %s: last status %s, expected SUCCEEDED", name, seq[len(seq)-1])
		}
	}
}
