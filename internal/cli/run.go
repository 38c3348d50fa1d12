package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/shaiso/Trellis/internal/domain"
	"github.com/shaiso/Trellis/internal/remote"
	"github.com/shaiso/Trellis/internal/scheduler"
)

// NewRunCmd создаёт команду run: локальное выполнение пайплайна.
//
// CLI сам ведёт run до завершения (без оркестратора и БД):
// подходит для разработки спецификаций и для ad-hoc запусков.
func NewRunCmd(outputFn func() *Output) *cobra.Command {
	var (
		platformURL    string
		simulate       bool
		simLatency     time.Duration
		maxConcurrency int
		pollInterval   time.Duration
		runTimeout     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run FILE",
		Short: "Execute a pipeline spec",
		Long: "Validate the spec, build the dependency graph and execute it " +
			"against the remote platform (or a local simulation with --simulate).",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			spec, graph, err := loadPipeline(args[0])
			if err != nil {
				return err
			}

			var adapter remote.Adapter
			switch {
			case simulate:
				adapter = remote.NewSim(simLatency)
			case platformURL != "":
				adapter = remote.NewPlatform(remote.PlatformConfig{BaseURL: platformURL})
			default:
				return fmt.Errorf("either --platform-url or --simulate is required")
			}

			runID := uuid.New()
			out.Success(fmt.Sprintf("run %s: pipeline %q, %d steps", runID, spec.Name, graph.Len()))

			sched := scheduler.New(scheduler.Config{
				Adapter:        adapter,
				MaxConcurrency: maxConcurrency,
				PollInterval:   pollInterval,
				RunTimeout:     runTimeout,
				Recorder:       &progressRecorder{out: out},
			})

			result, err := sched.Run(cmd.Context(), runID, spec.Name, graph)
			if err != nil {
				return err
			}

			printResult(out, result)

			switch result.Status {
			case domain.RunStatusSucceeded:
				return nil
			case domain.RunStatusCancelled:
				return withExitCode(ExitCancelled, errors.New("run cancelled"))
			default:
				return withExitCode(ExitRunFailed, fmt.Errorf("run failed: %v",
					result.StepsWithStatus(domain.StepStatusFailed)))
			}
		},
	}

	cmd.Flags().StringVar(&platformURL, "platform-url", "", "Remote platform API URL")
	cmd.Flags().BoolVar(&simulate, "simulate", false, "Execute against an in-memory platform simulation")
	cmd.Flags().DurationVar(&simLatency, "sim-latency", 100*time.Millisecond, "Simulated job duration (with --simulate)")
	cmd.Flags().IntVar(&maxConcurrency, "max-concurrency", 0, "Maximum steps running at once (default 4)")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 0, "Job status poll interval (default 5s)")
	cmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Overall run timeout (0 — unlimited)")

	return cmd
}

// progressRecorder печатает переходы статусов шагов в stderr.
type progressRecorder struct {
	out *Output
}

func (r *progressRecorder) StepUpdated(_ context.Context, _ uuid.UUID, state domain.StepState) {
	switch state.Status {
	case domain.StepStatusRunning:
		r.out.Success(fmt.Sprintf("  %-12s %s (attempt %d)", state.Status, state.StepName, state.Attempts))
	case domain.StepStatusSucceeded, domain.StepStatusCancelled:
		r.out.Success(fmt.Sprintf("  %-12s %s", state.Status, state.StepName))
	case domain.StepStatusFailed:
		r.out.Success(fmt.Sprintf("  %-12s %s: %s", state.Status, state.StepName, state.Error))
	case domain.StepStatusSkipped:
		r.out.Success(fmt.Sprintf("  %-12s %s (failed ancestor: %s)", state.Status, state.StepName, state.SkippedBecause))
	}
}

// printResult выводит итоговую таблицу run'а.
func printResult(out *Output, result *domain.RunResult) {
	rows := make([][]string, len(result.Steps))
	for i, s := range result.Steps {
		detail := s.Error
		if s.Status == domain.StepStatusSkipped {
			detail = "ancestor failed: " + s.SkippedBecause
		}

		var duration string
		if s.StartedAt != nil && s.FinishedAt != nil {
			duration = s.FinishedAt.Sub(*s.StartedAt).Round(time.Millisecond).String()
		}

		rows[i] = []string{
			s.StepName,
			string(s.Status),
			strconv.Itoa(s.Attempts),
			duration,
			detail,
		}
	}

	out.Print([]string{"STEP", "STATUS", "ATTEMPTS", "DURATION", "DETAIL"}, rows, result)
	out.Success(fmt.Sprintf("run %s: %s in %s",
		result.RunID,
		result.Status,
		result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond),
	))
}
