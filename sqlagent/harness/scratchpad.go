package harness

import (
	"strings"
	"sync"
)

// Reserved step actions for steps that did not run a tool.
const (
	FinalAnswerAction   = "Final Answer"
	InvalidFormatAction = "_invalid_format"
	ModelErrorAction    = "_model_error"
)

// errorObservationPrefix starts every observation that reports a failure.
const errorObservationPrefix = "Error:"

// Step is one completed loop iteration. Steps are values; once appended they never change.
type Step struct {
	Thought     string
	Action      string // tool name or one of the reserved actions
	ActionInput string
	Observation string
	Log         string // raw model text the step was parsed from
}

// Final reports whether the step carries the final answer (and therefore no observation).
func (s Step) Final() bool {
	return s.Action == FinalAnswerAction
}

func (s Step) render(b *strings.Builder) {
	switch {
	case s.Log != "":
		b.WriteString(s.Log)
	case strings.HasPrefix(s.Action, "_"):
		// synthetic step without model text
	default:
		if s.Thought != "" {
			b.WriteString("Thought: " + s.Thought + "\n")
		}
		b.WriteString("Action: " + s.Action + "\nAction Input: " + s.ActionInput)
	}
	b.WriteString("\nObservation: ")
	b.WriteString(s.Observation)
	b.WriteString("\nThought: ")
}

// Scratchpad is the append-only history of one run. It is owned by a single run and
// guarded only so diagnostics can read it while the run is in flight.
type Scratchpad struct {
	mu    sync.RWMutex
	steps []Step
}

// NewScratchpad creates an empty scratchpad.
func NewScratchpad() *Scratchpad {
	return &Scratchpad{}
}

// Append adds a completed step.
func (s *Scratchpad) Append(step Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, step)
}

// Len returns the number of steps.
func (s *Scratchpad) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.steps)
}

// Steps returns a copy of the history.
func (s *Scratchpad) Steps() []Step {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Step(nil), s.steps...)
}

// Render serializes the observed steps into the transcript the model continues from.
func (s *Scratchpad) Render() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var b strings.Builder
	for _, step := range s.steps {
		if step.Final() {
			continue
		}
		step.render(&b)
	}
	return b.String()
}
