package tools

import (
	"context"
	"errors"
	"strings"

	"github.com/ZanzyTHEbar/sql-agent/sqlagent/db"
	ports "github.com/ZanzyTHEbar/sql-agent/sqlagent/harness/ports"
)

// SchemaInfo renders DDL and sample rows for a comma-separated list of tables.
type SchemaInfo struct {
	db Database
}

// NewSchemaInfo creates the schema tool.
func NewSchemaInfo(db Database) *SchemaInfo {
	return &SchemaInfo{db: db}
}

// Name returns the tool name.
func (t *SchemaInfo) Name() string { return SchemaInfoName }

// Description returns the prompt-facing description.
func (t *SchemaInfo) Description() string {
	return "Input to this tool is a comma-separated list of tables, output is the " +
		"schema and sample rows for those tables. " +
		"Be sure that the tables actually exist by calling " + ListTablesName + " first! " +
		"Example Input: table1, table2, table3"
}

// Invoke describes the tables. Unknown tables produce an error-shaped observation, not an error.
func (t *SchemaInfo) Invoke(ctx context.Context, input string) (string, error) {
	names := splitTableNames(input)
	if len(names) == 0 {
		return "Error: no table names given. Call " + ListTablesName + " to see the available tables.", nil
	}

	info, err := t.db.TableInfo(ctx, names)
	if err != nil {
		var missing *db.MissingTablesError
		if errors.As(err, &missing) {
			return "Error: " + missing.Error(), nil
		}
		return "", err
	}
	return info, nil
}

// splitTableNames accepts "a, b", "'a', \"b\"" and "[a, b]".
func splitTableNames(input string) []string {
	input = strings.Trim(strings.TrimSpace(input), "[]")

	var names []string
	for _, part := range strings.Split(input, ",") {
		name := strings.Trim(strings.TrimSpace(part), "\"'`")
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}

var _ ports.Tool = (*SchemaInfo)(nil)
