// Package agent is the caller-facing entry point: it wires a database, a model and the
// SQL tools into a harness orchestrator and answers questions with it.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/ZanzyTHEbar/sql-agent/sqlagent"
	"github.com/ZanzyTHEbar/sql-agent/sqlagent/harness"
	ports "github.com/ZanzyTHEbar/sql-agent/sqlagent/harness/ports"
)

// Answer is the outcome of one question.
type Answer struct {
	RunID      string
	Output     string
	StopReason harness.StopReason
	Iterations int
	Elapsed    time.Duration
	Steps      []harness.Step
	Usage      ports.Usage
}

// Limited reports whether the run was cut off by the iteration or time limit.
func (a *Answer) Limited() bool {
	return a.StopReason == harness.StopIterationLimit || a.StopReason == harness.StopTimeLimit
}

// BatchResult pairs a batch question with its outcome.
type BatchResult struct {
	Question string
	Answer   *Answer
	Err      error
}

// TableLister is the part of the database the agent exposes directly.
type TableLister interface {
	ListTables(ctx context.Context) ([]string, error)
}

// Agent answers questions about one database. It is safe for concurrent use; each
// question gets its own run state.
type Agent struct {
	orchestrator *harness.Orchestrator
	tables       TableLister
	store        ports.RunStore
	logger       zerolog.Logger
	concurrency  int

	mu     sync.RWMutex
	policy harness.Policy // defaults for Run arguments left at zero

	closers []io.Closer
}

// Option customizes an Agent.
type Option func(*Agent)

// WithStore exposes run history through History and Steps.
func WithStore(store ports.RunStore) Option {
	return func(a *Agent) { a.store = store }
}

// WithTables exposes the database table list through Tables.
func WithTables(tables TableLister) Option {
	return func(a *Agent) { a.tables = tables }
}

// WithConcurrency bounds RunBatch parallelism.
func WithConcurrency(n int) Option {
	return func(a *Agent) { a.concurrency = n }
}

// WithLogger sets the agent logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(a *Agent) { a.logger = logger }
}

// WithCloser registers a resource released by Close, in reverse order.
func WithCloser(c io.Closer) Option {
	return func(a *Agent) { a.closers = append(a.closers, c) }
}

// New wraps an orchestrator. policy supplies the defaults for each run.
func New(orchestrator *harness.Orchestrator, policy *harness.Policy, opts ...Option) *Agent {
	if policy == nil {
		policy = harness.DefaultPolicy()
	}
	a := &Agent{
		orchestrator: orchestrator,
		policy:       *policy,
		logger:       zerolog.Nop(),
		concurrency:  4,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.concurrency < 1 {
		a.concurrency = 1
	}
	return a
}

// Run answers question. maxIterations and maxTime override the configured limits when
// positive. Limit stops return an Answer carrying the limit notice and a nil error; fatal
// stops return both the Answer and the error.
func (a *Agent) Run(ctx context.Context, question string, maxIterations int, maxTime time.Duration) (*Answer, error) {
	if strings.TrimSpace(question) == "" {
		return nil, sqlagent.ErrEmptyQuestion
	}
	if maxIterations < 0 {
		return nil, sqlagent.ErrInvalidIterationCap
	}

	policy := a.Policy()
	if maxIterations > 0 {
		policy.MaxIterations = maxIterations
	}
	if maxTime > 0 {
		policy.MaxTime = maxTime
	}

	res, err := a.orchestrator.Run(ctx, &harness.Request{Question: question, Policy: &policy})
	if res == nil {
		return nil, err
	}

	answer := &Answer{
		RunID:      res.RunID,
		Output:     res.Output,
		StopReason: res.StopReason,
		Iterations: res.Iterations,
		Elapsed:    res.Elapsed,
		Steps:      res.Steps,
		Usage:      res.Usage,
	}

	log := a.logger.Info()
	if err != nil {
		log = a.logger.Error().Err(err)
	}
	log.Str("run_id", answer.RunID).
		Str("stop_reason", string(answer.StopReason)).
		Int("iterations", answer.Iterations).
		Dur("elapsed", answer.Elapsed).
		Msg("run finished")

	if err != nil {
		return answer, fmt.Errorf("run %s failed: %w", answer.RunID, err)
	}
	return answer, nil
}

// RunBatch answers independent questions concurrently. Results keep the input order.
func (a *Agent) RunBatch(ctx context.Context, questions []string, maxIterations int, maxTime time.Duration) []BatchResult {
	results := make([]BatchResult, len(questions))

	p := pool.New().WithMaxGoroutines(a.concurrency)
	for i, question := range questions {
		p.Go(func() {
			answer, err := a.Run(ctx, question, maxIterations, maxTime)
			results[i] = BatchResult{Question: question, Answer: answer, Err: err}
		})
	}
	p.Wait()

	return results
}

// Policy returns a copy of the default run policy.
func (a *Agent) Policy() harness.Policy {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.policy
}

// SetMaxIterations changes the default iteration cap for later runs.
func (a *Agent) SetMaxIterations(n int) error {
	if n < 1 {
		return sqlagent.ErrInvalidIterationCap
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.policy.MaxIterations = n
	return nil
}

// SetMaxTime changes the default time budget for later runs. Zero disables it.
func (a *Agent) SetMaxTime(d time.Duration) {
	if d < 0 {
		d = 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.policy.MaxTime = d
}

// Tables lists the tables the tools can see.
func (a *Agent) Tables(ctx context.Context) ([]string, error) {
	if a.tables == nil {
		return nil, errors.New("no database attached")
	}
	return a.tables.ListTables(ctx)
}

// History returns the last k runs, newest first.
func (a *Agent) History(ctx context.Context, k int) ([]ports.RunRecord, error) {
	if a.store == nil {
		return nil, nil
	}
	return a.store.RecentRuns(ctx, k)
}

// Steps returns the persisted steps of one run.
func (a *Agent) Steps(ctx context.Context, runID string) ([]ports.StepRecord, error) {
	if a.store == nil {
		return nil, nil
	}
	return a.store.LoadSteps(ctx, runID)
}

// Metrics summarizes all runs made through this agent.
func (a *Agent) Metrics() harness.MetricsSummary {
	return a.orchestrator.Metrics().GetSummary()
}

// Close releases the database handles.
func (a *Agent) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
