package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/sql-agent/sqlagent/agent"
	"github.com/ZanzyTHEbar/sql-agent/sqlagent/harness/adapters"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Show recent runs, or the steps of one run",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		conn, err := agent.OpenStore(ctx, cfg.Store.Path, logger)
		if err != nil {
			return err
		}
		defer conn.Close()
		store := adapters.NewLibSQLRunStore(conn)

		out := cmd.OutOrStdout()
		if len(args) == 1 {
			steps, err := store.LoadSteps(ctx, args[0])
			if err != nil {
				return err
			}
			if len(steps) == 0 {
				return fmt.Errorf("no steps recorded for run %s", args[0])
			}
			for _, step := range steps {
				fmt.Fprintf(out, "--- step %d (%s) ---\n", step.Index+1, step.CreatedAt.Local().Format(time.DateTime))
				if step.Thought != "" {
					fmt.Fprintf(out, "Thought: %s\n", step.Thought)
				}
				fmt.Fprintf(out, "Action: %s\nAction Input: %s\nObservation: %s\n", step.Action, step.ActionInput, step.Observation)
			}
			return nil
		}

		runs, err := store.RecentRuns(ctx, historyLimit)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RUN ID\tSTARTED\tSTOP REASON\tITERATIONS\tQUESTION")
		for _, run := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
				run.ID, run.StartedAt.Local().Format(time.DateTime), run.StopReason, run.Iterations, truncate(run.Question, 60))
		}
		return w.Flush()
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of runs to show")
}

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-3]) + "..."
}
