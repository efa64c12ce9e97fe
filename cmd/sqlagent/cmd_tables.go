package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/sql-agent/sqlagent/agent"
)

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "List the tables the agent can see",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Database.Validate(); err != nil {
			return err
		}
		database, err := agent.OpenDatabase(ctx, cfg.Database, logger)
		if err != nil {
			return err
		}
		defer database.Close()

		names, err := database.ListTables(ctx)
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}
