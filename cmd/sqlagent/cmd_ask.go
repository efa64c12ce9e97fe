package main

import (
	"strings"

	"github.com/spf13/cobra"
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a single question",
	Example: `  sqlagent ask "How many albums does AC/DC have?"
  sqlagent ask --max-iterations 10 --show-steps "Which artist has the most tracks?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := buildAgent(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		answer, err := a.Run(ctx, strings.Join(args, " "), 0, 0)
		if err != nil {
			return err
		}
		printAnswer(cmd, answer)
		return nil
	},
}
