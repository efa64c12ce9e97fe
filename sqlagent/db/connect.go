package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	_ "github.com/lib/pq"
	_ "github.com/marcboeker/go-duckdb"
	_ "github.com/tursodatabase/go-libsql"
	_ "modernc.org/sqlite"

	"github.com/ZanzyTHEbar/sql-agent/sqlagent"
)

// PoolConfig bounds the connection pool shared by concurrent runs.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
}

// DefaultPoolConfig returns pool settings suitable for a handful of concurrent runs.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		PingTimeout:     10 * time.Second,
	}
}

// Open connects to the database described by desc and verifies it answers a trivial query.
func Open(ctx context.Context, desc Descriptor, pool PoolConfig, logger zerolog.Logger) (*sql.DB, error) {
	if desc.Dialect.sqliteFamily() || desc.Dialect == DialectDuckDB {
		if err := requireLocalFile(desc); err != nil {
			return nil, err
		}
	}

	logger.Info().
		Str("dialect", string(desc.Dialect)).
		Str("driver", desc.Driver).
		Str("url", desc.Redacted).
		Msg("Connecting to database")

	conn, err := sql.Open(desc.Driver, desc.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", desc.Dialect, err)
	}

	if pool.MaxOpenConns > 0 {
		conn.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		conn.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		conn.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	// every new connection to an in-memory database would see an empty schema
	if desc.InMemory() {
		conn.SetMaxOpenConns(1)
	}

	if err := verifyConnection(ctx, conn, pool.PingTimeout); err != nil {
		conn.Close()
		return nil, err
	}

	return conn, nil
}

// ConnectToStore opens (creating if needed) the embedded libsql file used for run history.
func ConnectToStore(path string, logger zerolog.Logger) (*sql.DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create store directory %s: %w", dir, err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Info().Str("path", path).Msg("Run store not found, creating a new one")
		file, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("could not create store at path %s: %w", path, err)
		}
		file.Close()
	}

	conn, err := sql.Open("libsql", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open libsql connection: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := verifyConnection(context.Background(), conn, 5*time.Second); err != nil {
		conn.Close()
		return nil, err
	}

	return conn, nil
}

// verifyConnection runs a SELECT 1 probe so connectivity problems surface before the first run.
func verifyConnection(ctx context.Context, conn *sql.DB, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var result int
	if err := conn.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		err = Classify(err)
		if sqlagent.IsFatal(err) {
			return fmt.Errorf("basic connectivity test failed: %w", err)
		}
		return fmt.Errorf("basic connectivity test failed: %w: %w", sqlagent.ErrConnectivity, err)
	}
	if result != 1 {
		return fmt.Errorf("basic connectivity test failed: unexpected result %d", result)
	}
	return nil
}

// requireLocalFile refuses to silently create an empty database for a mistyped path.
func requireLocalFile(desc Descriptor) error {
	if desc.InMemory() {
		return nil
	}

	path := desc.DSN
	if desc.Dialect == DialectLibSQL {
		if !strings.HasPrefix(path, "file:") {
			return nil // remote turso database
		}
		path = strings.TrimPrefix(path, "file:")
	}
	path, _, _ = strings.Cut(path, "?")

	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: database file %s: %w", sqlagent.ErrConnectivity, path, err)
	}
	return nil
}
