package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Strob0t/ReelForge/internal/domain/run"
	"github.com/Strob0t/ReelForge/internal/port/database"
)

func newWorkflowsCommand(ctx *commandContext) *cobra.Command {
	workflowsCmd := &cobra.Command{
		Use:   "workflows",
		Short: "Inspect workflow runs in the checkpoint store",
	}
	workflowsCmd.AddCommand(newWorkflowsListCommand(ctx))
	workflowsCmd.AddCommand(newWorkflowsPurgeCommand(ctx))
	return workflowsCmd
}

func newWorkflowsListCommand(ctx *commandContext) *cobra.Command {
	var (
		statusFlag string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent workflow runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			filter := database.RunFilter{Limit: limit}
			if statusFlag != "" {
				for _, s := range strings.Split(statusFlag, ",") {
					st, err := run.ParseStatus(s)
					if err != nil {
						return err
					}
					filter.Statuses = append(filter.Statuses, st)
				}
			}

			be, err := openBackend(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer be.close()

			runs, err := be.runs.ListRuns(cmd.Context(), filter)
			if err != nil {
				return err
			}
			printRuns(cmd.OutOrStdout(), runs)
			return nil
		},
	}
	cmd.Flags().StringVar(&statusFlag, "status", "", "Comma-separated statuses to include")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs")
	return cmd
}

func newWorkflowsPurgeCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete finished runs older than the retention period",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if olderThan <= 0 {
				olderThan = cfg.Workflow.Retention
			}
			be, err := openBackend(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer be.close()

			n, err := be.runs.DeleteTerminalRunsBefore(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d run(s)\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Age cutoff (default workflow.retention)")
	return cmd
}

func printRuns(out io.Writer, runs []run.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(out, "No workflow runs")
		return
	}
	const stampLayout = "2006-01-02 15:04"
	rows := make([][]string, 0, len(runs))
	counts := make(map[run.Status]int)
	for i := range runs {
		snap := runs[i].Snapshot()
		counts[snap.Status]++
		rows = append(rows, []string{
			snap.ID,
			snap.PipelineID,
			string(snap.Status),
			snap.CurrentPhase,
			fmt.Sprintf("%d/%d", len(snap.PhasesCompleted), len(snap.Phases)),
			strconv.FormatFloat(snap.TotalCostUSD, 'f', 4, 64),
			snap.UpdatedAt.Local().Format(stampLayout),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"ID", "Pipeline", "Status", "Phase", "Done", "Cost USD", "Updated"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
	))

	parts := make([]string, 0, len(counts))
	for _, st := range []run.Status{run.StatusRunning, run.StatusAwaitingReview, run.StatusCompleted, run.StatusFailed} {
		if n := counts[st]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", st, n))
		}
	}
	fmt.Fprintln(out, strings.Join(parts, " "))
}
