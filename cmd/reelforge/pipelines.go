package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Strob0t/ReelForge/internal/domain/pipeline"
	"github.com/Strob0t/ReelForge/internal/service"
)

func newPipelinesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "pipelines",
		Short: "List built-in and configured pipeline templates",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			svc := service.NewPipelineService()
			if _, err := svc.LoadDirectory(cfg.Workflow.PipelineDir); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderPipelines(svc.List(), cfg.Workflow.DefaultPipeline))
			return nil
		},
	}
}

func renderPipelines(templates []pipeline.Template, defaultID string) string {
	rows := make([][]string, 0, len(templates))
	for i := range templates {
		t := &templates[i]
		id := t.ID
		if id == defaultID {
			id += " *"
		}
		source := "yaml"
		if t.Builtin {
			source = "builtin"
		}
		inputs := "any"
		if len(t.InputKinds) > 0 {
			inputs = strings.Join(t.InputKinds, ",")
		}
		rows = append(rows, []string{
			id,
			source,
			phaseList(t),
			strings.Join(t.GatedPhases(), ","),
			inputs,
			strconv.FormatFloat(t.MaxCostUSD, 'f', 2, 64),
		})
	}
	return renderTable(
		[]string{"ID", "Source", "Phases", "Review", "Inputs", "Max cost"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
	)
}

func phaseList(t *pipeline.Template) string {
	names := make([]string, len(t.Phases))
	for i, p := range t.Phases {
		names[i] = p.Name
	}
	return strings.Join(names, " > ")
}
