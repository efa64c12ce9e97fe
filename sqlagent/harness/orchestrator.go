package harness

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ZanzyTHEbar/sql-agent/sqlagent"
	ports "github.com/ZanzyTHEbar/sql-agent/sqlagent/harness/ports"
)

// StopReason is the terminal classification of a run.
type StopReason string

const (
	StopCompleted      StopReason = "completed"
	StopIterationLimit StopReason = "iteration_limit"
	StopTimeLimit      StopReason = "time_limit"
	StopFatalError     StopReason = "fatal_error"
)

// Request configures one run.
type Request struct {
	RunID    string // generated when empty
	Question string
	Policy   *Policy
}

// Policy bounds a run.
type Policy struct {
	MaxIterations       int           // tool-invoking iterations before the run is cut off
	MaxTime             time.Duration // wall-clock budget checked before each reasoning step, 0 disables
	TolerateParseErrors bool          // feed parse failures back to the model instead of failing
	ToolTimeout         time.Duration // per-tool timeout
	ModelTimeout        time.Duration // per-model-call timeout
	MaxNewTokens        int
	Temperature         float32
}

// DefaultPolicy returns the policy used when a request carries none.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxIterations:       sqlagent.DefaultMaxIterations,
		TolerateParseErrors: true,
		ToolTimeout:         60 * time.Second,
		ModelTimeout:        2 * time.Minute,
		MaxNewTokens:        1024,
		Temperature:         0,
	}
}

// Result is the outcome of a run. Steps is kept for diagnostics.
type Result struct {
	RunID      string
	Output     string
	StopReason StopReason
	Steps      []Step
	Iterations int
	Elapsed    time.Duration
	Usage      ports.Usage
	Err        error // set when StopReason is StopFatalError
}

// ParseError is returned when parse tolerance is disabled and the model output has no usable markers.
type ParseError struct {
	Reason string
	Text   string
}

func (e *ParseError) Error() string {
	return "could not parse LLM output: " + e.Reason
}

// Orchestrator drives the ReAct loop: reason, parse, run a tool, observe, repeat.
type Orchestrator struct {
	provider   ports.Provider
	builder    *PromptBuilder
	parser     *OutputParser
	registry   *Registry
	store      ports.RunStore
	tracer     ports.Tracer
	guardrails *Guardrails
	metrics    *MetricsCollector
	now        func() time.Time
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithGuardrails validates requests and sanitizes final answers.
func WithGuardrails(g *Guardrails) Option {
	return func(o *Orchestrator) { o.guardrails = g }
}

// WithMetrics records run, model and tool statistics.
func WithMetrics(m *MetricsCollector) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock replaces time.Now for elapsed-time checks.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator creates an orchestrator. The registry is shared read-only between runs.
func NewOrchestrator(
	provider ports.Provider,
	builder *PromptBuilder,
	parser *OutputParser,
	registry *Registry,
	store ports.RunStore,
	tracer ports.Tracer,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		provider: provider,
		builder:  builder,
		parser:   parser,
		registry: registry,
		store:    store,
		tracer:   tracer,
		metrics:  NewMetricsCollector(),
		now:      time.Now,
	}
	if o.store == nil {
		o.store = &noOpStore{}
	}
	if o.tracer == nil {
		o.tracer = &noOpTracer{}
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Metrics exposes the collector shared by all runs.
func (o *Orchestrator) Metrics() *MetricsCollector {
	return o.metrics
}

// run is the state owned by one invocation of Run.
type run struct {
	id         string
	question   string
	policy     *Policy
	pad        *Scratchpad
	started    time.Time
	iterations int
	usage      ports.Usage
}

// Run executes the loop until a final answer, a limit, or a fatal error. Limit stops are
// not errors. Fatal stops return both a StopFatalError result and the error.
func (o *Orchestrator) Run(ctx context.Context, req *Request) (*Result, error) {
	if req == nil || strings.TrimSpace(req.Question) == "" {
		return nil, sqlagent.ErrEmptyQuestion
	}
	if req.Policy == nil {
		req.Policy = DefaultPolicy()
	}
	if req.Policy.MaxIterations < 1 {
		return nil, sqlagent.ErrInvalidIterationCap
	}
	if o.guardrails != nil {
		if err := o.guardrails.ValidateRequest(req); err != nil {
			return nil, err
		}
	}

	r := &run{
		id:       req.RunID,
		question: req.Question,
		policy:   req.Policy,
		pad:      NewScratchpad(),
		started:  o.now(),
	}
	if r.id == "" {
		r.id = uuid.NewString()
	}

	ctx, finish := o.tracer.StartSpan(ctx, "agent_run", map[string]any{
		"run_id":         r.id,
		"max_iterations": r.policy.MaxIterations,
		"max_time":       r.policy.MaxTime.String(),
	})

	if err := o.store.StartRun(ctx, ports.RunRecord{ID: r.id, Question: r.question, StartedAt: r.started}); err != nil {
		o.tracer.Event(ctx, "store_error", map[string]any{"error": err.Error()})
	}

	result := o.loop(ctx, r)
	finish(result.Err)
	o.record(ctx, result)

	return result, result.Err
}

func (o *Orchestrator) loop(ctx context.Context, r *run) *Result {
	for {
		// Reasoning boundary: the only place a run can be cut off
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return o.stop(ctx, r, StopTimeLimit)
			}
			return o.fail(r, fmt.Errorf("run cancelled: %w", err))
		}
		if r.iterations >= r.policy.MaxIterations {
			return o.stop(ctx, r, StopIterationLimit)
		}
		if r.policy.MaxTime > 0 && o.now().Sub(r.started) >= r.policy.MaxTime {
			return o.stop(ctx, r, StopTimeLimit)
		}

		text, err := o.reason(ctx, r)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			if sqlagent.IsFatal(err) {
				return o.fail(r, fmt.Errorf("model call failed: %w", err))
			}
			o.observe(ctx, r, Step{Action: ModelErrorAction, Observation: errorObservationPrefix + " model call failed: " + err.Error()})
			continue
		}

		switch d := o.parser.Parse(text).(type) {
		case FinalAnswer:
			r.pad.Append(Step{Thought: d.Thought, Action: FinalAnswerAction, ActionInput: d.Text, Log: d.Log})
			return o.complete(r, d.Text)

		case Unparseable:
			o.tracer.Event(ctx, "parse_error", map[string]any{"reason": d.Reason, "iteration": r.iterations + 1})
			if !r.policy.TolerateParseErrors {
				return o.fail(r, &ParseError{Reason: d.Reason, Text: d.Log})
			}
			o.observe(ctx, r, Step{
				Action:      InvalidFormatAction,
				Observation: invalidFormatObservation(d.Reason),
				Log:         d.Log,
			})

		case ToolInvocation:
			step := Step{Thought: d.Thought, Action: d.Tool, ActionInput: d.Input, Log: d.Log}

			observation, err := o.invoke(ctx, r, d.Tool, d.Input)
			if ctx.Err() != nil {
				// cancelled mid-call: drop the step rather than append half of it
				continue
			}
			if errors.Is(err, sqlagent.ErrUnknownTool) {
				o.tracer.Event(ctx, "unknown_tool", map[string]any{"tool": d.Tool})
				step.Observation = o.registry.unknownToolObservation(d.Tool)
				o.observe(ctx, r, step)
				continue
			}
			if err != nil {
				if sqlagent.IsFatal(err) {
					return o.fail(r, fmt.Errorf("tool %s failed: %w", d.Tool, err))
				}
				observation = errorObservationPrefix + " " + err.Error()
			}
			step.Observation = observation
			o.observe(ctx, r, step)
		}
	}
}

// reason renders the prompt and asks the model for the next step.
func (o *Orchestrator) reason(ctx context.Context, r *run) (string, error) {
	prompt := o.builder.Build(r.question, o.registry.Specs(), r.pad.Render(), map[string]string{
		"run_id":    r.id,
		"iteration": strconv.Itoa(r.iterations + 1),
	})

	callCtx := ctx
	if r.policy.ModelTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.policy.ModelTimeout)
		defer cancel()
	}

	callCtx, spanFinish := o.tracer.StartSpan(callCtx, "model_call", map[string]any{
		"run_id":    r.id,
		"iteration": r.iterations + 1,
	})
	start := o.now()
	completion, err := o.provider.Complete(callCtx, prompt, ports.Options{
		MaxNewTokens: r.policy.MaxNewTokens,
		Temperature:  r.policy.Temperature,
		Stop:         StopSequences,
		TimeoutMs:    int(r.policy.ModelTimeout / time.Millisecond),
	})
	spanFinish(err)
	o.metrics.RecordModelCall(o.now().Sub(start), err)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return "", fmt.Errorf("timed out after %s: %w", r.policy.ModelTimeout, err)
		}
		return "", err
	}

	if u := completion.Usage; u != nil {
		r.usage.PromptTokens += u.PromptTokens
		r.usage.CompletionTokens += u.CompletionTokens
		r.usage.TotalTokens += u.TotalTokens
	}
	return completion.Text, nil
}

// invoke dispatches one tool call through the registry under the tool timeout.
// Unknown names come back as sqlagent.ErrUnknownTool.
func (o *Orchestrator) invoke(ctx context.Context, r *run, name, input string) (string, error) {
	toolCtx := ctx
	if r.policy.ToolTimeout > 0 {
		var cancel context.CancelFunc
		toolCtx, cancel = context.WithTimeout(ctx, r.policy.ToolTimeout)
		defer cancel()
	}

	toolCtx, spanFinish := o.tracer.StartSpan(toolCtx, "tool_call", map[string]any{
		"run_id":    r.id,
		"tool":      name,
		"iteration": r.iterations + 1,
	})
	start := o.now()
	out, err := o.registry.Execute(toolCtx, name, input)
	if errors.Is(err, sqlagent.ErrUnknownTool) {
		spanFinish(err)
		return "", err
	}

	// tools report recoverable failures as observations; count them as errors all the same
	failure := err
	if failure == nil && strings.HasPrefix(out, errorObservationPrefix) {
		failure = errors.New(strings.TrimSpace(strings.TrimPrefix(out, errorObservationPrefix)))
	}
	spanFinish(failure)
	o.metrics.RecordTool(name, o.now().Sub(start), failure)

	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return "", fmt.Errorf("tool %s timed out after %s", name, r.policy.ToolTimeout)
	}
	return out, err
}

// observe appends a completed step and advances the iteration counter.
func (o *Orchestrator) observe(ctx context.Context, r *run, step Step) {
	r.pad.Append(step)
	r.iterations++

	if err := o.store.AppendStep(ctx, r.id, ports.StepRecord{
		Index:       r.pad.Len() - 1,
		Thought:     step.Thought,
		Action:      step.Action,
		ActionInput: step.ActionInput,
		Observation: step.Observation,
		CreatedAt:   o.now(),
	}); err != nil {
		o.tracer.Event(ctx, "store_error", map[string]any{"error": err.Error()})
	}
}

func (o *Orchestrator) complete(r *run, answer string) *Result {
	if o.guardrails != nil {
		answer = o.guardrails.SanitizeOutput(answer)
	}
	return o.result(r, StopCompleted, answer, nil)
}

func (o *Orchestrator) stop(ctx context.Context, r *run, reason StopReason) *Result {
	o.tracer.Event(ctx, "limit_reached", map[string]any{
		"run_id":     r.id,
		"reason":     string(reason),
		"iterations": r.iterations,
	})
	return o.result(r, reason, sqlagent.LimitNotice, nil)
}

func (o *Orchestrator) fail(r *run, err error) *Result {
	return o.result(r, StopFatalError, "", err)
}

func (o *Orchestrator) result(r *run, reason StopReason, output string, err error) *Result {
	return &Result{
		RunID:      r.id,
		Output:     output,
		StopReason: reason,
		Steps:      r.pad.Steps(),
		Iterations: r.iterations,
		Elapsed:    o.now().Sub(r.started),
		Usage:      r.usage,
		Err:        err,
	}
}

// record persists the run summary and updates metrics. Store failures never fail the run.
func (o *Orchestrator) record(ctx context.Context, res *Result) {
	o.metrics.RecordRun(res.StopReason, res.Elapsed, res.Iterations)

	rec := ports.RunRecord{
		ID:         res.RunID,
		Output:     res.Output,
		StopReason: string(res.StopReason),
		Iterations: res.Iterations,
		FinishedAt: o.now(),
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	if err := o.store.FinishRun(context.WithoutCancel(ctx), rec); err != nil {
		o.tracer.Event(ctx, "store_error", map[string]any{"error": err.Error()})
	}
}

func invalidFormatObservation(reason string) string {
	return fmt.Sprintf("Could not parse LLM output (%s). Follow the required format: "+
		"either an 'Action:' line followed by an 'Action Input:' line, or a 'Final Answer:' line.", reason)
}
