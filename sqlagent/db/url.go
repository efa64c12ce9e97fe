package db

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/ZanzyTHEbar/sql-agent/sqlagent"
)

// Dialect identifies the SQL flavour behind a connection.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectLibSQL   Dialect = "libsql"
	DialectPostgres Dialect = "postgresql"
	DialectMySQL    Dialect = "mysql"
	DialectDuckDB   Dialect = "duckdb"
)

// SQLDialect is the name used when asking the model for dialect-conformant SQL.
func (d Dialect) SQLDialect() string {
	if d == DialectLibSQL {
		return string(DialectSQLite)
	}
	return string(d)
}

func (d Dialect) sqliteFamily() bool {
	return d == DialectSQLite || d == DialectLibSQL
}

// Descriptor is a parsed connection string: dialect, driver and the DSN the driver expects.
type Descriptor struct {
	Dialect  Dialect
	Driver   string // database/sql driver name
	DSN      string
	Host     string
	Database string
	User     string
	// Redacted is safe to log.
	Redacted string
}

// InMemory reports whether the descriptor points at a throwaway in-memory database.
func (d Descriptor) InMemory() bool {
	return d.DSN == "" || strings.Contains(d.DSN, ":memory:") || strings.Contains(d.DSN, "mode=memory")
}

// UnsupportedDialectError is returned for connection strings whose scheme has no driver.
type UnsupportedDialectError struct {
	Scheme string
}

func (e *UnsupportedDialectError) Error() string {
	return fmt.Sprintf("unsupported database dialect %q (supported: sqlite, libsql, postgresql, mysql, duckdb)", e.Scheme)
}

// ParseURL converts a SQLAlchemy-style connection string (dialect[+driver]://user:pass@host/db)
// into a Descriptor.
func ParseURL(raw string) (Descriptor, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Descriptor{}, sqlagent.ErrMissingConnectionURL
	}

	idx := strings.Index(raw, "://")
	if idx <= 0 {
		return Descriptor{}, fmt.Errorf("invalid connection string: missing scheme")
	}

	scheme := strings.ToLower(raw[:idx])
	dialect, variant, _ := strings.Cut(scheme, "+")

	u, err := url.Parse(raw)
	if err != nil {
		return Descriptor{}, fmt.Errorf("invalid connection string: %w", err)
	}

	desc := Descriptor{
		Host:     u.Host,
		Database: strings.TrimPrefix(u.Path, "/"),
		User:     u.User.Username(),
		Redacted: u.Redacted(),
	}

	switch dialect {
	case "sqlite", "sqlite3":
		desc.Dialect = DialectSQLite
		desc.Driver = "sqlite"
		desc.DSN = withQuery(filePath(u), u.RawQuery)
		if desc.DSN == "" {
			desc.DSN = ":memory:"
		}

	case "libsql", "turso":
		desc.Dialect = DialectLibSQL
		desc.Driver = "libsql"
		if variant == "file" {
			desc.DSN = "file:" + filePath(u)
		} else {
			remote := *u
			remote.Scheme = "libsql"
			desc.DSN = remote.String()
		}

	case "postgres", "postgresql":
		desc.Dialect = DialectPostgres
		desc.Driver = "postgres"
		pg := *u
		pg.Scheme = "postgres"
		desc.DSN = pg.String()

	case "mysql", "mariadb":
		desc.Dialect = DialectMySQL
		desc.Driver = "mysql"
		desc.DSN = mysqlDSN(u)

	case "duckdb":
		desc.Dialect = DialectDuckDB
		desc.Driver = "duckdb"
		desc.DSN = withQuery(filePath(u), u.RawQuery)

	default:
		return Descriptor{}, &UnsupportedDialectError{Scheme: scheme}
	}

	return desc, nil
}

// filePath follows the SQLAlchemy convention: three slashes for a relative path, four for absolute.
func filePath(u *url.URL) string {
	p := u.Path
	if u.Host != "" {
		p = u.Host + p
	}
	return strings.TrimPrefix(p, "/")
}

func withQuery(path, rawQuery string) string {
	if rawQuery == "" || path == "" {
		return path
	}
	return path + "?" + rawQuery
}

func mysqlDSN(u *url.URL) string {
	cfg := mysql.NewConfig()
	cfg.User = u.User.Username()
	cfg.Passwd, _ = u.User.Password()
	cfg.Net = "tcp"
	cfg.Addr = u.Host
	if _, _, err := net.SplitHostPort(u.Host); err != nil && u.Host != "" {
		cfg.Addr = net.JoinHostPort(u.Host, "3306")
	}
	cfg.DBName = strings.TrimPrefix(u.Path, "/")
	cfg.ParseTime = true

	params := map[string]string{}
	for k, vs := range u.Query() {
		if len(vs) > 0 {
			params[k] = vs[len(vs)-1]
		}
	}
	if len(params) > 0 {
		cfg.Params = params
	}

	return cfg.FormatDSN()
}
