package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/sql-agent/sqlagent"
	"github.com/ZanzyTHEbar/sql-agent/sqlagent/agent"
	"github.com/ZanzyTHEbar/sql-agent/sqlagent/config"
	"github.com/ZanzyTHEbar/sql-agent/sqlagent/harness"
)

var (
	cfgFile       string
	envFile       string
	maxIterations int
	maxTime       time.Duration
	showSteps     bool

	cfg    *config.Config
	logger zerolog.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   sqlagent.DefaultAppName,
	Short: "Answer questions about a SQL database with a ReAct agent",
	Long: `sqlagent answers natural-language questions by letting a language model list tables,
inspect schemas, check and run SQL until it can give a final answer.

The model credential and connection string come from the config file, the environment
(FIREWORKS_API_KEY, DB_CONNECTION_STRING) or a .env file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig(cmd)
	},
}

// Execute runs the root command
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml or $XDG_CONFIG_HOME/sqlagent/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "env file to load before reading config (default: ./.env when present)")
	rootCmd.PersistentFlags().IntVar(&maxIterations, "max-iterations", 0, "maximum tool-invoking iterations per question (default from config)")
	rootCmd.PersistentFlags().DurationVar(&maxTime, "max-time", 0, "wall-clock budget per question, e.g. 90s (default from config)")
	rootCmd.PersistentFlags().BoolVar(&showSteps, "show-steps", false, "print the thought/action/observation history")

	rootCmd.AddCommand(askCmd, batchCmd, chatCmd, tablesCmd, historyCmd)
}

func initConfig(cmd *cobra.Command) error {
	var envPaths []string
	if envFile != "" {
		envPaths = append(envPaths, envFile)
	}
	if err := config.LoadDotEnv(envPaths...); err != nil {
		return err
	}

	loaded, err := config.LoadConfig(cfgFile)
	if err != nil {
		return err
	}
	cfg = loaded

	if cmd.Flags().Changed("max-iterations") {
		if maxIterations < 1 {
			return sqlagent.ErrInvalidIterationCap
		}
		cfg.Agent.MaxIterations = maxIterations
	}
	if cmd.Flags().Changed("max-time") {
		cfg.Agent.MaxTime = maxTime
	}

	logger = newLogger(cfg.Log)
	return nil
}

func newLogger(lc config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(lc.Level))
	if err != nil || lc.Level == "" {
		level = zerolog.InfoLevel
	}

	var l zerolog.Logger
	if lc.Pretty {
		l = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		l = zerolog.New(os.Stderr)
	}
	return l.Level(level).With().Timestamp().Logger()
}

func buildAgent(ctx context.Context) (*agent.Agent, error) {
	return agent.Build(ctx, cfg, logger)
}

// printAnswer writes the answer to stdout, with the step history when requested.
func printAnswer(cmd *cobra.Command, answer *agent.Answer) {
	out := cmd.OutOrStdout()
	if showSteps {
		for i, step := range answer.Steps {
			if step.Final() {
				continue
			}
			fmt.Fprintf(out, "--- step %d ---\n", i+1)
			if step.Thought != "" {
				fmt.Fprintf(out, "Thought: %s\n", step.Thought)
			}
			fmt.Fprintf(out, "Action: %s\nAction Input: %s\nObservation: %s\n", step.Action, step.ActionInput, step.Observation)
		}
		fmt.Fprintf(out, "--- %s after %d iterations (%s) ---\n", answer.StopReason, answer.Iterations, answer.Elapsed.Round(time.Millisecond))
	}

	fmt.Fprintln(out, answer.Output)
	if answer.StopReason == harness.StopIterationLimit {
		fmt.Fprintln(cmd.ErrOrStderr(), "hint: raise --max-iterations to let the agent take more steps")
	}
}
