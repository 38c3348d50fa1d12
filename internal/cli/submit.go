package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/shaiso/Trellis/internal/domain"
	"github.com/shaiso/Trellis/internal/mq"
	"github.com/shaiso/Trellis/internal/repo"
)

// NewSubmitCmd создаёт команду submit: регистрация пайплайна и
// запрос его запуска оркестратором.
func NewSubmitCmd(outputFn func() *Output) *cobra.Command {
	var noRun bool

	cmd := &cobra.Command{
		Use:   "submit FILE",
		Short: "Register a pipeline and request a run",
		Long: "Validate the spec, store it in the database and create a PENDING run " +
			"for the orchestrator to pick up. With --no-run only registers the pipeline.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := outputFn()

			spec, _, err := loadPipeline(args[0])
			if err != nil {
				return err
			}

			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			now := time.Now()
			pipeline := &domain.Pipeline{
				ID:        uuid.New(),
				Name:      spec.Name,
				Spec:      *spec,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := repo.NewPipelineRepo(pool).Upsert(ctx, pipeline); err != nil {
				return err
			}
			out.Success(fmt.Sprintf("pipeline %q registered: %s", pipeline.Name, pipeline.ID))

			if noRun {
				return nil
			}

			run := &domain.Run{
				ID:         uuid.New(),
				PipelineID: pipeline.ID,
				Status:     domain.RunStatusPending,
				CreatedAt:  now,
			}
			if err := repo.NewRunRepo(pool).Create(ctx, run); err != nil {
				return err
			}

			notifyOrchestrator(ctx, out, run)

			out.Success(fmt.Sprintf("run requested: %s", run.ID))
			out.JSON(map[string]string{
				"pipeline_id": pipeline.ID.String(),
				"run_id":      run.ID.String(),
			})
			return nil
		},
	}

	cmd.Flags().BoolVar(&noRun, "no-run", false, "Register the pipeline without requesting a run")

	return cmd
}

// NewPipelinesCmd создаёт команду pipelines: просмотр и удаление
// зарегистрированных пайплайнов. Без подкоманды выводит список.
func NewPipelinesCmd(outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipelines",
		Short: "List registered pipelines",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := outputFn()

			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			pipelines, err := repo.NewPipelineRepo(pool).List(ctx)
			if err != nil {
				return err
			}

			rows := make([][]string, len(pipelines))
			for i, p := range pipelines {
				rows[i] = []string{
					p.ID.String(),
					p.Name,
					fmt.Sprintf("%d", len(p.Spec.Steps)),
					p.UpdatedAt.Format(time.RFC3339),
				}
			}

			out.Print([]string{"ID", "NAME", "STEPS", "UPDATED"}, rows, pipelines)
			return nil
		},
	}

	cmd.AddCommand(newPipelinesDeleteCmd(outputFn))

	return cmd
}

func newPipelinesDeleteCmd(outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a registered pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := outputFn()

			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			pipelines := repo.NewPipelineRepo(pool)
			pipeline, err := resolvePipeline(ctx, pipelines, args[0])
			if err != nil {
				return err
			}

			if err := pipelines.Delete(ctx, pipeline.ID); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("pipeline %q deleted: %s", pipeline.Name, pipeline.ID))
			out.JSON(map[string]string{"pipeline_id": pipeline.ID.String()})
			return nil
		},
	}
}

// notifyOrchestrator публикует run.requested, если настроен RabbitMQ.
// Без MQ run подхватит polling fallback оркестратора.
func notifyOrchestrator(ctx context.Context, out *Output, run *domain.Run) {
	url := os.Getenv("RABBITMQ_URL")
	if url == "" {
		return
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	conn, err := mq.NewConnection(url, logger)
	if err != nil {
		out.Error(fmt.Sprintf("rabbitmq unavailable, orchestrator will pick the run up by polling: %v", err))
		return
	}
	defer conn.Close()

	if err := mq.NewPublisher(conn, logger).PublishRunRequested(ctx, run.ID, run.PipelineID); err != nil {
		out.Error(fmt.Sprintf("publish run.requested failed: %v", err))
	}
}

// openPool открывает пул соединений с БД с понятной ошибкой.
func openPool(ctx context.Context) (*pgxpool.Pool, error) {
	pool, err := repo.NewPool(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect to database (set DB_URL): %w", err)
	}
	return pool, nil
}

// resolvePipeline находит пайплайн по имени или UUID.
func resolvePipeline(ctx context.Context, pipelines *repo.PipelineRepo, ref string) (*domain.Pipeline, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return pipelines.GetByID(ctx, id)
	}

	p, err := pipelines.GetByName(ctx, ref)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("pipeline %q is not registered", ref)
	}
	return p, err
}
