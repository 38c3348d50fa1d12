package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Trellis/internal/domain"
	"github.com/shaiso/Trellis/internal/engine"
	"github.com/shaiso/Trellis/internal/remote"
)

func TestStop_CancelsActiveRuns(t *testing.T) {
	// Job переживёт любой разумный таймаут теста: Stop обязан
	// отменить run, а не ждать его естественного завершения.
	adapter := remote.NewSim(time.Hour)
	o := New(Config{
		Adapter:          adapter,
		StepPollInterval: 2 * time.Millisecond,
	})

	graph, err := engine.Build(&domain.PipelineSpec{Steps: []domain.StepSpec{
		{Name: "train"},
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	runID := uuid.New()
	runCtx, cancel := context.WithCancel(context.Background())
	if err := o.addActiveRun(runID, cancel); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	results := make(chan *domain.RunResult, 1)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.removeActiveRun(runID)

		result, err := o.sched.Run(runCtx, runID, "test", graph)
		if err != nil {
			results <- nil
			return
		}
		results <- result
	}()

	// Даём шагу дойти до RUNNING.
	time.Sleep(20 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		o.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return while a run was active")
	}

	result := <-results
	if result == nil {
		t.Fatal("run returned an error instead of a result")
	}
	if result.Status != domain.RunStatusCancelled {
		t.Errorf("expected CANCELLED, got %s", result.Status)
	}
	if o.ActiveRuns() != 0 {
		t.Errorf("expected no active runs after Stop, got %d", o.ActiveRuns())
	}
}
