package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/mutator/internal/evaluate"
	"github.com/sells-group/mutator/internal/pipeline"
	"github.com/sells-group/mutator/internal/rollback"
	"github.com/sells-group/mutator/internal/sandbox"
	"github.com/sells-group/mutator/internal/store"
	anthropicpkg "github.com/sells-group/mutator/pkg/anthropic"
	"github.com/sells-group/mutator/pkg/oracle"
)

// engineEnv holds the initialized store and engine components needed by
// the CLI commands and the HTTP server.
type engineEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
	Rollback *rollback.Manager
}

// Close releases resources held by the engine environment.
func (e *engineEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "mutator.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEngine sets up the store, oracle, validator, and evaluation engine,
// and builds the pipeline and rollback manager. Callers should defer
// env.Close().
func initEngine(ctx context.Context) (*engineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	if cfg.Anthropic.Key == "" {
		_ = st.Close()
		return nil, eris.New("anthropic API key is required (MUTATOR_ANTHROPIC_KEY)")
	}

	engine, err := evaluate.New(cfg.Evaluation)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	validator := sandbox.NewValidator(cfg.Sandbox)
	locks := store.NewLockRegistry()
	orc := oracle.NewAnthropic(anthropicpkg.NewClient(cfg.Anthropic.Key), cfg.Anthropic)

	return &engineEnv{
		Store:    st,
		Pipeline: pipeline.New(cfg.Pipeline, st, orc, validator, engine, locks),
		Rollback: rollback.NewManager(st, validator, locks),
	}, nil
}

// initOffline builds an environment without the oracle, for commands that
// only read or roll back and must work without an API key.
func initOffline(ctx context.Context) (*engineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	validator := sandbox.NewValidator(cfg.Sandbox)
	locks := store.NewLockRegistry()

	return &engineEnv{
		Store:    st,
		Rollback: rollback.NewManager(st, validator, locks),
	}, nil
}
