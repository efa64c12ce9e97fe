package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/sql-agent/sqlagent"
	"github.com/ZanzyTHEbar/sql-agent/sqlagent/config"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Ask questions interactively",
	Long: `Start an interactive session. Each line is answered independently.
Edits to the config file's agent.max_iterations and agent.max_time apply to the next question.
Type 'exit' or press Ctrl-D to quit.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := buildAgent(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := config.Watch(cfgFile, logger, func(next *config.Config) {
			if cmd.Flags().Changed("max-iterations") {
				return
			}
			if err := a.SetMaxIterations(next.Agent.MaxIterations); err != nil {
				logger.Warn().Err(err).Msg("ignoring iteration cap change")
				return
			}
			if !cmd.Flags().Changed("max-time") {
				a.SetMaxTime(next.Agent.MaxTime)
			}
		}); err != nil {
			logger.Debug().Err(err).Msg("config hot reload disabled")
		}

		out := cmd.OutOrStdout()
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for {
			fmt.Fprint(out, "> ")
			if !scanner.Scan() {
				fmt.Fprintln(out)
				return scanner.Err()
			}

			question := strings.TrimSpace(scanner.Text())
			switch question {
			case "":
				continue
			case "exit", "quit":
				return nil
			}

			answer, err := a.Run(ctx, question, 0, 0)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				if answer == nil && errors.Is(err, sqlagent.ErrEmptyQuestion) {
					continue
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
				continue
			}
			printAnswer(cmd, answer)
		}
	},
}
