package tools

import (
	"context"
	"fmt"
	"strings"

	ports "github.com/ZanzyTHEbar/sql-agent/sqlagent/harness/ports"
)

// ListTables returns the visible tables as a comma-separated list. Its input is ignored.
type ListTables struct {
	db Database
}

// NewListTables creates the list tables tool.
func NewListTables(db Database) *ListTables {
	return &ListTables{db: db}
}

// Name returns the tool name.
func (t *ListTables) Name() string { return ListTablesName }

// Description returns the prompt-facing description.
func (t *ListTables) Description() string {
	return "Input is an empty string, output is a comma-separated list of tables in the database."
}

// Invoke lists the tables. Connectivity failures are returned unchanged so the run can abort.
func (t *ListTables) Invoke(ctx context.Context, _ string) (string, error) {
	names, err := t.db.ListTables(ctx)
	if err != nil {
		return "", fmt.Errorf("list tables: %w", err)
	}
	return strings.Join(names, ", "), nil
}

var _ ports.Tool = (*ListTables)(nil)
