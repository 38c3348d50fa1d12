package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shaiso/Trellis/internal/domain"
	"github.com/shaiso/Trellis/internal/engine"
)

// NewValidateCmd создаёт команду validate.
func NewValidateCmd(outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE",
		Short: "Validate a pipeline spec",
		Long: "Parse the spec, check every step against its kind schema " +
			"and build the dependency graph. All violations are reported at once.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			spec, graph, err := loadPipeline(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("pipeline %q is valid: %d steps, %d root(s)",
				spec.Name, graph.Len(), len(graph.Roots())))
			return nil
		},
	}
}

// NewPlanCmd создаёт команду plan.
func NewPlanCmd(outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "plan FILE",
		Short: "Show the execution plan for a pipeline spec",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			_, graph, err := loadPipeline(args[0])
			if err != nil {
				return err
			}

			type planRow struct {
				Order     int      `json:"order"`
				Step      string   `json:"step"`
				Kind      string   `json:"kind"`
				DependsOn []string `json:"depends_on,omitempty"`
			}

			var plan []planRow
			rows := make([][]string, 0, graph.Len())
			for pos, idx := range graph.Order() {
				node := graph.Node(idx)

				deps := make([]string, len(node.DependsOn))
				for i, dep := range node.DependsOn {
					deps[i] = graph.Node(dep).Step.Name
				}

				plan = append(plan, planRow{
					Order:     pos + 1,
					Step:      node.Step.Name,
					Kind:      string(node.Step.Kind),
					DependsOn: deps,
				})
				rows = append(rows, []string{
					strconv.Itoa(pos + 1),
					node.Step.Name,
					string(node.Step.Kind),
					strings.Join(deps, ", "),
				})
			}

			out.Print([]string{"#", "STEP", "KIND", "DEPENDS ON"}, rows, plan)
			return nil
		},
	}
}

// NewKindsCmd создаёт команду kinds.
func NewKindsCmd(outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List supported step kinds",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			descriptions := map[domain.StepKind]string{
				domain.StepKindProcessing: "data preparation job (requires job_type)",
				domain.StepKindTraining:   "model training job (requires framework)",
				domain.StepKindEvaluation: "model evaluation job (requires metrics)",
				domain.StepKindCustom:     "arbitrary container job (no parameter schema)",
			}

			kinds := domain.Kinds()
			rows := make([][]string, len(kinds))
			for i, kind := range kinds {
				rows[i] = []string{string(kind), descriptions[kind]}
			}

			out.Print([]string{"KIND", "DESCRIPTION"}, rows, kinds)
			return nil
		},
	}
}

// loadPipeline читает, валидирует и строит граф спецификации.
func loadPipeline(path string) (*domain.PipelineSpec, *engine.Graph, error) {
	spec, err := engine.LoadFile(path)
	if err != nil {
		return nil, nil, withExitCode(ExitValidation, err)
	}

	validator := engine.NewValidator(nil)
	if err := validator.Validate(spec); err != nil {
		return nil, nil, err
	}

	graph, err := engine.Build(spec)
	if err != nil {
		return nil, nil, err
	}

	return spec, graph, nil
}
