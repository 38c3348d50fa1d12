package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/shaiso/Trellis/internal/domain"
	"github.com/shaiso/Trellis/internal/mq"
	"github.com/shaiso/Trellis/internal/repo"
)

// NewRunsCmd создаёт группу команд для просмотра runs.
func NewRunsCmd(outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect and cancel pipeline runs",
	}

	cmd.AddCommand(
		newRunsListCmd(outputFn),
		newRunsShowCmd(outputFn),
		newRunsCancelCmd(outputFn),
	)

	return cmd
}

func newRunsListCmd(outputFn func() *Output) *cobra.Command {
	var pipelineRef string
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := outputFn()

			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			filter := repo.RunFilter{
				Status: domain.RunStatus(status),
				Limit:  limit,
			}
			if pipelineRef != "" {
				pipeline, err := resolvePipeline(ctx, repo.NewPipelineRepo(pool), pipelineRef)
				if err != nil {
					return err
				}
				filter.PipelineID = &pipeline.ID
			}

			runs, err := repo.NewRunRepo(pool).List(ctx, filter)
			if err != nil {
				return err
			}

			rows := make([][]string, len(runs))
			for i, r := range runs {
				var duration string
				if d := r.Duration(); d > 0 {
					duration = d.Round(time.Second).String()
				}
				rows[i] = []string{
					r.ID.String(),
					r.PipelineName,
					string(r.Status),
					duration,
					r.CreatedAt.Format(time.RFC3339),
				}
			}

			out.Print([]string{"ID", "PIPELINE", "STATUS", "DURATION", "CREATED"}, rows, runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&pipelineRef, "pipeline", "", "Filter by pipeline name or ID")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (PENDING, RUNNING, SUCCEEDED, FAILED, CANCELLED)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of results")

	return cmd
}

func newRunsShowCmd(outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Show a run with its step states",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := outputFn()

			runID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid run id %q: %w", args[0], err)
			}

			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			run, err := repo.NewRunRepo(pool).GetByID(ctx, runID)
			if err != nil {
				return err
			}

			steps, err := repo.NewStepRepo(pool).ListByRunID(ctx, runID)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("run %s: pipeline %q, %s", run.ID, run.PipelineName, run.Status))
			if run.Error != "" {
				out.Success("error: " + run.Error)
			}

			rows := make([][]string, len(steps))
			for i, s := range steps {
				detail := s.Error
				if s.Status == domain.StepStatusSkipped {
					detail = "ancestor failed: " + s.SkippedBecause
				}
				rows[i] = []string{
					s.StepName,
					string(s.Status),
					strconv.Itoa(s.Attempts),
					s.JobID,
					detail,
				}
			}

			out.Print([]string{"STEP", "STATUS", "ATTEMPTS", "JOB_ID", "DETAIL"}, rows, map[string]any{
				"run":   run,
				"steps": steps,
			})
			return nil
		},
	}
}

func newRunsCancelCmd(outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel RUN_ID",
		Short: "Cancel a pending or running run",
		Long: "A PENDING run is cancelled directly in the database. " +
			"For a RUNNING run the cancellation request goes through RabbitMQ " +
			"to the orchestrator executing it.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := outputFn()

			runID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid run id %q: %w", args[0], err)
			}

			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			runs := repo.NewRunRepo(pool)
			run, err := runs.GetByID(ctx, runID)
			if err != nil {
				return err
			}

			switch run.Status {
			case domain.RunStatusPending:
				// Оркестратор run ещё не взял — отменяем прямо в БД.
				run.MarkCancelled()
				if err := runs.Update(ctx, run); err != nil {
					return err
				}
				out.Success(fmt.Sprintf("run %s cancelled before start", run.ID))
			case domain.RunStatusRunning:
				if err := requestCancel(ctx, run.ID); err != nil {
					return err
				}
				out.Success(fmt.Sprintf("cancellation of run %s requested", run.ID))
			default:
				return fmt.Errorf("run %s is already %s", run.ID, run.Status)
			}

			out.JSON(map[string]string{"run_id": run.ID.String()})
			return nil
		},
	}
}

// requestCancel публикует run.cancel_requested выполняющему оркестратору.
func requestCancel(ctx context.Context, runID uuid.UUID) error {
	url := os.Getenv("RABBITMQ_URL")
	if url == "" {
		return errors.New("cancelling a RUNNING run requires RabbitMQ (set RABBITMQ_URL)")
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	conn, err := mq.NewConnection(url, logger)
	if err != nil {
		return fmt.Errorf("connect to rabbitmq: %w", err)
	}
	defer conn.Close()

	return mq.NewPublisher(conn, logger).PublishRunCancelRequested(ctx, runID)
}
