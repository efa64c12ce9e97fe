package agent

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/sql-agent/sqlagent/config"
	"github.com/ZanzyTHEbar/sql-agent/sqlagent/db"
	"github.com/ZanzyTHEbar/sql-agent/sqlagent/harness"
	"github.com/ZanzyTHEbar/sql-agent/sqlagent/harness/adapters"
	ports "github.com/ZanzyTHEbar/sql-agent/sqlagent/harness/ports"
	"github.com/ZanzyTHEbar/sql-agent/sqlagent/harness/tools"
)

// NewProvider creates the model client named by cfg.Provider.
func NewProvider(cfg config.LLMConfig) (ports.Provider, error) {
	switch cfg.Provider {
	case "fireworks", "openai":
		return adapters.NewOpenAIProvider(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Timeout), nil
	case "anthropic":
		return adapters.NewAnthropicProvider(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}

// OpenDatabase connects to the configured target database.
func OpenDatabase(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*db.Database, error) {
	desc, err := db.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	pool := db.DefaultPoolConfig()
	if cfg.MaxOpenConns > 0 {
		pool.MaxOpenConns = cfg.MaxOpenConns
	}
	if cfg.MaxIdleConns > 0 {
		pool.MaxIdleConns = cfg.MaxIdleConns
	}

	conn, err := db.Open(ctx, desc, pool, logger)
	if err != nil {
		return nil, err
	}

	return db.New(conn, desc.Dialect, db.Options{
		SampleRows:      cfg.SampleRows,
		MaxStringLength: cfg.MaxStringLength,
		QueryTimeout:    cfg.QueryTimeout,
		IncludeTables:   cfg.IncludeTables,
		IgnoreTables:    cfg.IgnoreTables,
	}), nil
}

// OpenStore opens and migrates the run history database.
func OpenStore(ctx context.Context, path string, logger zerolog.Logger) (*sql.DB, error) {
	conn, err := db.ConnectToStore(path, logger)
	if err != nil {
		return nil, err
	}
	if err := adapters.MigrateRunStore(ctx, conn, goose.DialectTurso); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// Build wires an Agent from configuration: target database, model, tools, run store.
func Build(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	database, err := OpenDatabase(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	closers := []Option{WithCloser(database)}

	var storeDB *sql.DB
	if cfg.Store.Enabled {
		storeDB, err = OpenStore(ctx, cfg.Store.Path, logger)
		if err != nil {
			// history is diagnostics only; answer questions without it
			logger.Warn().Err(err).Str("path", cfg.Store.Path).Msg("run history disabled")
			storeDB = nil
		} else {
			closers = append(closers, WithCloser(storeDB))
		}
	}

	fail := func(err error) (*Agent, error) {
		database.Close()
		if storeDB != nil {
			storeDB.Close()
		}
		return nil, err
	}

	provider, err := NewProvider(cfg.LLM)
	if err != nil {
		return fail(err)
	}

	factory := harness.NewFactory(&cfg.Harness, storeDB, logger)
	limited := factory.WrapProvider(provider)

	toolkit := tools.NewToolkit(database, limited,
		tools.WithCheckerCache(factory.CreateCache(), factory.CacheTTL()),
		tools.WithReadOnly(cfg.Agent.ReadOnly),
	)
	registry, err := harness.NewRegistry(toolkit.Tools()...)
	if err != nil {
		return fail(err)
	}

	orchestrator, err := factory.CreateOrchestrator(limited, harness.NewPromptBuilder(database.Dialect(), cfg.Agent.TopK), registry)
	if err != nil {
		return fail(err)
	}

	opts := append(closers,
		WithTables(database),
		WithConcurrency(cfg.Harness.BatchConcurrency),
		WithLogger(logger),
	)
	if storeDB != nil {
		opts = append(opts, WithStore(factory.CreateStore()))
	}

	logger.Info().
		Str("dialect", database.Dialect()).
		Str("provider", cfg.LLM.Provider).
		Str("model", cfg.LLM.Model).
		Strs("tools", registry.Names()).
		Msg("agent ready")

	return New(orchestrator, factory.CreatePolicy(cfg.Agent, cfg.LLM), opts...), nil
}
