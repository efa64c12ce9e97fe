package db

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Options controls how schema and results are rendered for the model.
type Options struct {
	SampleRows      int           // rows shown per table in schema info
	MaxStringLength int           // longer values in query results are truncated
	QueryTimeout    time.Duration // per-statement timeout, 0 disables
	IncludeTables   []string      // when set, only these tables are visible
	IgnoreTables    []string
}

// DefaultOptions returns the rendering defaults.
func DefaultOptions() Options {
	return Options{
		SampleRows:      3,
		MaxStringLength: 300,
		QueryTimeout:    30 * time.Second,
	}
}

const sampleValueLength = 100

// Database exposes the inspection and execution operations the SQL tools need.
// It is safe for concurrent use; all state is read-only after construction.
type Database struct {
	conn    *sql.DB
	dialect Dialect
	opts    Options
	include map[string]bool
	ignore  map[string]bool
}

// New wraps an open connection.
func New(conn *sql.DB, dialect Dialect, opts Options) *Database {
	d := &Database{
		conn:    conn,
		dialect: dialect,
		opts:    opts,
		include: toSet(opts.IncludeTables),
		ignore:  toSet(opts.IgnoreTables),
	}
	return d
}

// Dialect returns the SQL dialect name used in prompts.
func (d *Database) Dialect() string {
	return d.dialect.SQLDialect()
}

// Close closes the underlying pool.
func (d *Database) Close() error {
	return d.conn.Close()
}

// ListTables returns visible table and view names in sorted order.
func (d *Database) ListTables(ctx context.Context) ([]string, error) {
	rows, err := d.conn.QueryContext(ctx, d.listTablesQuery())
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", Classify(err))
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		if d.visible(name) {
			names = append(names, name)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tables: %w", Classify(err))
	}

	sort.Strings(names)
	return names, nil
}

// TableInfo renders the CREATE statement and sample rows for each named table.
// Unknown names yield a *MissingTablesError.
func (d *Database) TableInfo(ctx context.Context, names []string) (string, error) {
	existing, err := d.ListTables(ctx)
	if err != nil {
		return "", err
	}
	known := make(map[string]string, len(existing))
	for _, name := range existing {
		known[strings.ToLower(name)] = name
	}

	var resolved, missing []string
	seen := make(map[string]bool)
	for _, name := range names {
		key := strings.ToLower(name)
		if name == "" || seen[key] {
			continue
		}
		seen[key] = true
		if actual, ok := known[key]; ok {
			resolved = append(resolved, actual)
		} else {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return "", &MissingTablesError{Names: missing}
	}

	blocks := make([]string, 0, len(resolved))
	for _, table := range resolved {
		ddl, err := d.createStatement(ctx, table)
		if err != nil {
			return "", err
		}
		block := ddl
		if d.opts.SampleRows > 0 {
			if sample, err := d.sampleRows(ctx, table); err == nil {
				block += "\n\n" + sample
			}
		}
		blocks = append(blocks, block)
	}

	return strings.Join(blocks, "\n\n"), nil
}

// Run executes a statement and serializes any result rows as a tuple list.
func (d *Database) Run(ctx context.Context, query string) (string, error) {
	if d.opts.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.QueryTimeout)
		defer cancel()
	}

	rows, err := d.conn.QueryContext(ctx, query)
	if err != nil {
		return "", Classify(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return "", Classify(err)
	}

	var b strings.Builder
	b.WriteByte('[')
	count := 0
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return "", fmt.Errorf("failed to scan row: %w", err)
		}

		if count > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for i, v := range values {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(formatValue(v, d.opts.MaxStringLength, true))
		}
		if len(values) == 1 {
			b.WriteByte(',')
		}
		b.WriteByte(')')
		count++
	}
	if err := rows.Err(); err != nil {
		return "", Classify(err)
	}
	b.WriteByte(']')

	return b.String(), nil
}

func (d *Database) listTablesQuery() string {
	switch d.dialect {
	case DialectPostgres, DialectDuckDB:
		return `SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema() ORDER BY table_name`
	case DialectMySQL:
		return `SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE() ORDER BY table_name`
	default:
		return `SELECT name FROM sqlite_master WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%' ORDER BY name`
	}
}

func (d *Database) createStatement(ctx context.Context, table string) (string, error) {
	if d.dialect.sqliteFamily() {
		var ddl sql.NullString
		err := d.conn.QueryRowContext(ctx, `SELECT sql FROM sqlite_master WHERE name = ?`, table).Scan(&ddl)
		if err != nil {
			return "", fmt.Errorf("failed to read schema for %s: %w", table, Classify(err))
		}
		return strings.TrimSpace(ddl.String), nil
	}

	var query string
	switch d.dialect {
	case DialectPostgres:
		query = `SELECT column_name, data_type, is_nullable FROM information_schema.columns
			WHERE table_name = $1 AND table_schema = current_schema() ORDER BY ordinal_position`
	case DialectMySQL:
		query = `SELECT column_name, column_type, is_nullable FROM information_schema.columns
			WHERE table_name = ? AND table_schema = DATABASE() ORDER BY ordinal_position`
	default:
		query = `SELECT column_name, data_type, is_nullable FROM information_schema.columns
			WHERE table_name = ? AND table_schema = current_schema() ORDER BY ordinal_position`
	}

	rows, err := d.conn.QueryContext(ctx, query, table)
	if err != nil {
		return "", fmt.Errorf("failed to read columns for %s: %w", table, Classify(err))
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name, dataType, nullable string
		if err := rows.Scan(&name, &dataType, &nullable); err != nil {
			return "", fmt.Errorf("failed to scan column: %w", err)
		}
		col := "\t" + d.quoteIdent(name) + " " + strings.ToUpper(dataType)
		if strings.EqualFold(nullable, "NO") {
			col += " NOT NULL"
		}
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return "", Classify(err)
	}

	return fmt.Sprintf("CREATE TABLE %s (\n%s\n)", d.quoteIdent(table), strings.Join(cols, ",\n")), nil
}

func (d *Database) sampleRows(ctx context.Context, table string) (string, error) {
	query := fmt.Sprintf("SELECT * FROM %s LIMIT %d", d.quoteIdent(table), d.opts.SampleRows)
	rows, err := d.conn.QueryContext(ctx, query)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "/*\n%d rows from %s table:\n%s\n", d.opts.SampleRows, table, strings.Join(cols, "\t"))
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return "", err
		}
		cells := make([]string, len(values))
		for i, v := range values {
			cells[i] = formatValue(v, sampleValueLength, false)
		}
		b.WriteString(strings.Join(cells, "\t"))
		b.WriteByte('\n')
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	b.WriteString("*/")

	return b.String(), nil
}

func (d *Database) quoteIdent(name string) string {
	if d.dialect == DialectMySQL {
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (d *Database) visible(name string) bool {
	if len(d.include) > 0 && !d.include[strings.ToLower(name)] {
		return false
	}
	return !d.ignore[strings.ToLower(name)]
}

// formatValue renders a scanned column value. Strings are quoted when rendering tuples.
func formatValue(v any, maxLen int, quote bool) string {
	var s string
	switch val := v.(type) {
	case nil:
		return "None"
	case []byte:
		s = string(val)
	case string:
		s = val
	case time.Time:
		s = val.Format("2006-01-02 15:04:05")
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case bool:
		if val {
			return "True"
		}
		return "False"
	default:
		return fmt.Sprint(val)
	}

	if maxLen > 0 && len(s) > maxLen {
		cut := maxLen
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "..."
	}
	if quote {
		return "'" + strings.ReplaceAll(s, "'", "\\'") + "'"
	}
	return s
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			set[strings.ToLower(item)] = true
		}
	}
	return set
}
