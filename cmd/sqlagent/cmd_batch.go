package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Answer every question in a file, one per line",
	Long: `Answer every question in a file concurrently. Blank lines and lines starting with '#'
are skipped. Use '-' to read from stdin. Answers are printed in input order.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		questions, err := readQuestions(cmd.InOrStdin(), args[0])
		if err != nil {
			return err
		}
		if len(questions) == 0 {
			return fmt.Errorf("no questions in %s", args[0])
		}

		a, err := buildAgent(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		failed := 0
		out := cmd.OutOrStdout()
		for i, res := range a.RunBatch(ctx, questions, 0, 0) {
			fmt.Fprintf(out, "[%d] %s\n", i+1, res.Question)
			if res.Err != nil {
				failed++
				fmt.Fprintf(out, "error: %v\n\n", res.Err)
				continue
			}
			printAnswer(cmd, res.Answer)
			fmt.Fprintln(out)
		}

		summary := a.Metrics()
		logger.Info().
			Int64("runs", summary.RunCount).
			Float64("avg_iterations", summary.AvgIterations).
			Dur("p95_run_latency", summary.RunLatency.P95).
			Msg("batch finished")

		if failed > 0 {
			return fmt.Errorf("%d of %d questions failed", failed, len(questions))
		}
		return nil
	},
}

func readQuestions(stdin io.Reader, path string) ([]string, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open questions file: %w", err)
		}
		defer f.Close()
		r = f
	}

	var questions []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		questions = append(questions, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read questions: %w", err)
	}
	return questions, nil
}
