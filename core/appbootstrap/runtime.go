package appbootstrap

import (
	"context"
	"net/http"

	"vigil-eoc/api"
	"vigil-eoc/config"
	"vigil-eoc/core/store"
	"vigil-eoc/core/utils"
)

// Runtime is the composed application: the HTTP handler, the background
// workers and the database handle they share.
type Runtime struct {
	Handler http.Handler
	Workers []api.BackgroundWorker

	db     *store.DB
	logger *utils.Logger
}

// Build opens the database, applies migrations and wires every
// component. The caller owns the returned Runtime and must Close it.
func Build(ctx context.Context, cfg *config.AppConfig, logger *utils.Logger) (*Runtime, error) {
	db, err := store.Open(ctx, cfg.DBDriver, cfg.DatabaseDSN())
	if err != nil {
		return nil, err
	}
	if err := store.ApplyMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}
	comp, err := composeRuntime(ctx, cfg, db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	server := api.NewServer(comp.serverDeps)
	return &Runtime{
		Handler: server.Handler(),
		Workers: comp.workers,
		db:      db,
		logger:  logger,
	}, nil
}

func (rt *Runtime) StartWorkers(ctx context.Context) {
	for _, w := range rt.Workers {
		w.StartWithContext(ctx)
	}
}

// StopWorkers stops every worker, waiting up to the context deadline.
func (rt *Runtime) StopWorkers(ctx context.Context) {
	for _, w := range rt.Workers {
		if err := w.StopWithContext(ctx); err != nil && rt.logger != nil {
			rt.logger.Errorf("stop worker: %v", err)
		}
	}
}

func (rt *Runtime) Close() error {
	if rt == nil || rt.db == nil {
		return nil
	}
	return rt.db.Close()
}
