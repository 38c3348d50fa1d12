// Trellis CLI — инструмент командной строки для валидации,
// планирования и запуска ML-пайплайнов.
//
// Использование:
//
//	trellis [--json] <command> [flags]
//
// Команды:
//
//	validate   Проверить spec-файл пайплайна
//	plan       Показать порядок выполнения шагов
//	kinds      Показать поддерживаемые виды шагов
//	run        Выполнить пайплайн из spec-файла
//	submit     Зарегистрировать пайплайн и поставить run в очередь
//	pipelines  Просмотр и удаление зарегистрированных пайплайнов
//	runs       Просмотр и отмена runs
//	schedule   Управление расписаниями
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shaiso/Trellis/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "trellis",
		Short:         "Trellis CLI — ML pipeline orchestration tool",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewValidateCmd(outputFn),
		cli.NewPlanCmd(outputFn),
		cli.NewKindsCmd(outputFn),
		cli.NewRunCmd(outputFn),
		cli.NewSubmitCmd(outputFn),
		cli.NewPipelinesCmd(outputFn),
		cli.NewRunsCmd(outputFn),
		cli.NewScheduleCmd(outputFn),
	)

	// Ctrl+C отменяет контекст команды: run доводит CANCELLED
	// до конца (best-effort отмена remote jobs) вместо убийства процесса.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}
