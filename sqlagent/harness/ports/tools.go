package harnessports

import (
	"context"
)

// ToolSpec describes a callable tool exposed to the model.
type ToolSpec struct {
	Name        string // unique logical name
	Description string // injected into the prompt
}

// Tool executes one action chosen by the model. Input and output are free text.
type Tool interface {
	Name() string
	Description() string
	Invoke(ctx context.Context, input string) (string, error)
}
