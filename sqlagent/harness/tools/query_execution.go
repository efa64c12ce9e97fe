package tools

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/ZanzyTHEbar/sql-agent/sqlagent"
	ports "github.com/ZanzyTHEbar/sql-agent/sqlagent/harness/ports"
)

var mutatingStatement = regexp.MustCompile(`(?i)^\s*(insert|update|delete|drop|alter|create|truncate|replace|merge|grant|revoke|attach|detach|vacuum|reindex)\b`)

// ErrReadOnly is reported when a modifying statement reaches a read-only query tool.
var ErrReadOnly = errors.New("only read-only statements are allowed")

// QueryExecution runs SQL and returns rows as text. Database errors become the observation.
type QueryExecution struct {
	db       Database
	readOnly bool
}

// NewQueryExecution creates the query tool.
func NewQueryExecution(db Database, readOnly bool) *QueryExecution {
	return &QueryExecution{db: db, readOnly: readOnly}
}

// Name returns the tool name.
func (t *QueryExecution) Name() string { return QueryExecutionName }

// Description returns the prompt-facing description.
func (t *QueryExecution) Description() string {
	return "Input to this tool is a detailed and correct SQL query, output is a " +
		"result from the database. If the query is not correct, an error message " +
		"will be returned. If an error is returned, rewrite the query, check the " +
		"query, and try again. If you encounter an issue with Unknown column " +
		"'xxxx' in 'field list', use " + SchemaInfoName + " " +
		"to query the correct table fields."
}

// Invoke executes the statement. Only connectivity and authentication failures are returned
// as errors; everything else is reported to the model.
func (t *QueryExecution) Invoke(ctx context.Context, input string) (string, error) {
	query := strings.TrimSpace(input)
	if query == "" {
		return "Error: empty query", nil
	}
	if t.readOnly && modifies(query) {
		return "Error: " + ErrReadOnly.Error(), nil
	}

	out, err := t.db.Run(ctx, query)
	if err != nil {
		if sqlagent.IsFatal(err) {
			return "", err
		}
		return "Error: " + err.Error(), nil
	}
	return out, nil
}

func modifies(query string) bool {
	for _, stmt := range strings.Split(query, ";") {
		if mutatingStatement.MatchString(stmt) {
			return true
		}
	}
	return false
}

var _ ports.Tool = (*QueryExecution)(nil)
