package tools

import (
	"context"

	ports "github.com/ZanzyTHEbar/sql-agent/sqlagent/harness/ports"
)

// Tool names as the model sees them.
const (
	ListTablesName     = "sql_db_list_tables"
	SchemaInfoName     = "sql_db_schema"
	QueryCheckerName   = "sql_db_query_checker"
	QueryExecutionName = "sql_db_query"
)

// Database is what the SQL tools need from a connection. *db.Database implements it.
type Database interface {
	Dialect() string
	ListTables(ctx context.Context) ([]string, error)
	TableInfo(ctx context.Context, names []string) (string, error)
	Run(ctx context.Context, query string) (string, error)
}

// Toolkit builds the four SQL tools around one database and one model.
type Toolkit struct {
	db       Database
	provider ports.Provider
	cache    ports.Cache
	cacheTTL int
	readOnly bool
}

// ToolkitOption customizes a Toolkit.
type ToolkitOption func(*Toolkit)

// WithCheckerCache memoizes query checker rewrites.
func WithCheckerCache(cache ports.Cache, ttlSeconds int) ToolkitOption {
	return func(t *Toolkit) {
		t.cache = cache
		t.cacheTTL = ttlSeconds
	}
}

// WithReadOnly makes the query tool reject statements that modify data or schema.
func WithReadOnly(readOnly bool) ToolkitOption {
	return func(t *Toolkit) { t.readOnly = readOnly }
}

// NewToolkit creates a toolkit. provider is used only by the query checker.
func NewToolkit(db Database, provider ports.Provider, opts ...ToolkitOption) *Toolkit {
	t := &Toolkit{db: db, provider: provider}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Tools returns a fresh set of tools, ready for a registry.
func (t *Toolkit) Tools() []ports.Tool {
	return []ports.Tool{
		NewQueryExecution(t.db, t.readOnly),
		NewSchemaInfo(t.db),
		NewListTables(t.db),
		NewQueryChecker(t.provider, t.db.Dialect(), t.cache, t.cacheTTL),
	}
}
