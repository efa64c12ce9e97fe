package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/armon/go-radix"

	"github.com/ZanzyTHEbar/sql-agent/sqlagent"
	ports "github.com/ZanzyTHEbar/sql-agent/sqlagent/harness/ports"
)

// Registry is the fixed catalog of tools for a session. It has no mutating methods once
// built, so one Registry can serve any number of concurrent runs.
type Registry struct {
	tree *radix.Tree
}

// NewRegistry indexes tools by exact name. Empty or duplicate names are rejected.
func NewRegistry(tools ...ports.Tool) (*Registry, error) {
	tree := radix.New()
	for _, tool := range tools {
		name := tool.Name()
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("tool name cannot be empty")
		}
		if _, exists := tree.Get(name); exists {
			return nil, fmt.Errorf("tool %q registered twice", name)
		}
		tree.Insert(name, tool)
	}
	return &Registry{tree: tree}, nil
}

// Restrict returns a registry holding only the allowed tools. An empty allowlist keeps all.
func (r *Registry) Restrict(allowed []string) (*Registry, error) {
	if len(allowed) == 0 {
		return r, nil
	}

	var tools []ports.Tool
	for _, name := range allowed {
		tool, ok := r.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("allowlisted tool %q: %w", name, sqlagent.ErrUnknownTool)
		}
		tools = append(tools, tool)
	}
	return NewRegistry(tools...)
}

// Lookup finds a tool by exact name.
func (r *Registry) Lookup(name string) (ports.Tool, bool) {
	v, ok := r.tree.Get(name)
	if !ok {
		return nil, false
	}
	return v.(ports.Tool), true
}

// Names lists tool names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, r.tree.Len())
	r.tree.Walk(func(name string, _ interface{}) bool {
		names = append(names, name)
		return false
	})
	return names
}

// Specs returns prompt-facing descriptors in sorted order.
func (r *Registry) Specs() []ports.ToolSpec {
	specs := make([]ports.ToolSpec, 0, r.tree.Len())
	r.tree.Walk(func(_ string, v interface{}) bool {
		tool := v.(ports.Tool)
		specs = append(specs, ports.ToolSpec{Name: tool.Name(), Description: tool.Description()})
		return false
	})
	return specs
}

// Execute dispatches input to the named tool.
func (r *Registry) Execute(ctx context.Context, name, input string) (string, error) {
	tool, ok := r.Lookup(name)
	if !ok {
		return "", fmt.Errorf("%q: %w", name, sqlagent.ErrUnknownTool)
	}
	return tool.Invoke(ctx, input)
}

// unknownToolObservation tells the model which names are valid.
func (r *Registry) unknownToolObservation(name string) string {
	return fmt.Sprintf("%s is not a valid tool, try one of [%s].", name, strings.Join(r.Names(), ", "))
}
