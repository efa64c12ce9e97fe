package harnessports

import (
	"context"
	"time"
)

// RunRecord is the persisted summary of one agent run.
type RunRecord struct {
	ID         string
	Question   string
	Output     string
	StopReason string
	Iterations int
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// StepRecord is one persisted scratchpad entry.
type StepRecord struct {
	Index       int
	Thought     string
	Action      string
	ActionInput string
	Observation string
	CreatedAt   time.Time
}

// RunStore persists run history for diagnostics.
type RunStore interface {
	StartRun(ctx context.Context, run RunRecord) error
	AppendStep(ctx context.Context, runID string, step StepRecord) error
	FinishRun(ctx context.Context, run RunRecord) error
	LoadSteps(ctx context.Context, runID string) ([]StepRecord, error)
	RecentRuns(ctx context.Context, k int) ([]RunRecord, error)
}
