package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/shaiso/Trellis/internal/domain"
	"github.com/shaiso/Trellis/internal/orchestrator"
	"github.com/shaiso/Trellis/internal/repo"
)

// NewScheduleCmd создаёт группу команд управления расписаниями.
func NewScheduleCmd(outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage pipeline schedules",
	}

	cmd.AddCommand(
		newScheduleCreateCmd(outputFn),
		newScheduleListCmd(outputFn),
		newScheduleEnableCmd(outputFn, true),
		newScheduleEnableCmd(outputFn, false),
		newScheduleDeleteCmd(outputFn),
	)

	return cmd
}

func newScheduleCreateCmd(outputFn func() *Output) *cobra.Command {
	var name string
	var cronExpr string
	var intervalSec int
	var timezone string

	cmd := &cobra.Command{
		Use:   "create PIPELINE",
		Short: "Create a schedule for a registered pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := outputFn()

			if cronExpr == "" && intervalSec <= 0 {
				return withExitCode(ExitValidation,
					fmt.Errorf("schedule requires --cron or --interval"))
			}
			if cronExpr != "" {
				if err := orchestrator.ValidateCronExpr(cronExpr); err != nil {
					return withExitCode(ExitValidation, err)
				}
			}

			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			pipeline, err := resolvePipeline(ctx, repo.NewPipelineRepo(pool), args[0])
			if err != nil {
				return err
			}

			sched := &domain.Schedule{
				ID:          uuid.New(),
				PipelineID:  pipeline.ID,
				Name:        name,
				CronExpr:    cronExpr,
				IntervalSec: intervalSec,
				Timezone:    timezone,
				Enabled:     true,
			}

			next, err := orchestrator.CalculateNextDue(sched, time.Now())
			if err != nil {
				return withExitCode(ExitValidation, err)
			}
			sched.NextDueAt = &next

			if err := repo.NewScheduleRepo(pool).Create(ctx, sched); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("schedule %s created for pipeline %q, next run at %s",
				sched.ID, pipeline.Name, next.Format(time.RFC3339)))
			out.JSON(sched)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Schedule name")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "Cron expression, e.g. \"0 3 * * *\"")
	cmd.Flags().IntVar(&intervalSec, "interval", 0, "Interval between runs in seconds")
	cmd.Flags().StringVar(&timezone, "timezone", "UTC", "IANA timezone for cron evaluation")

	return cmd
}

func newScheduleListCmd(outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := outputFn()

			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			schedules, err := repo.NewScheduleRepo(pool).List(ctx)
			if err != nil {
				return err
			}

			rows := make([][]string, len(schedules))
			for i, s := range schedules {
				trigger := s.CronExpr
				if trigger == "" {
					trigger = "every " + strconv.Itoa(s.IntervalSec) + "s"
				}
				var nextDue string
				if s.NextDueAt != nil {
					nextDue = s.NextDueAt.Format(time.RFC3339)
				}
				rows[i] = []string{
					s.ID.String(),
					s.Name,
					trigger,
					s.Timezone,
					strconv.FormatBool(s.Enabled),
					nextDue,
				}
			}

			out.Print([]string{"ID", "NAME", "TRIGGER", "TIMEZONE", "ENABLED", "NEXT DUE"}, rows, schedules)
			return nil
		},
	}
}

func newScheduleEnableCmd(outputFn func() *Output, enable bool) *cobra.Command {
	use, short, verb := "enable SCHEDULE_ID", "Enable a schedule", "enabled"
	if !enable {
		use, short, verb = "disable SCHEDULE_ID", "Disable a schedule", "disabled"
	}

	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := outputFn()

			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid schedule id %q: %w", args[0], err)
			}

			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := repo.NewScheduleRepo(pool).SetEnabled(ctx, id, enable); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("schedule %s %s", id, verb))
			return nil
		},
	}
}

func newScheduleDeleteCmd(outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete SCHEDULE_ID",
		Short: "Delete a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := outputFn()

			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid schedule id %q: %w", args[0], err)
			}

			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := repo.NewScheduleRepo(pool).Delete(ctx, id); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("schedule %s deleted", id))
			return nil
		},
	}
}
