// Package dbosruntime runs the worker's durable assessment queue on DBOS.
package dbosruntime

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dbos-inc/dbos-transact-golang/dbos"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

// Runtime manages the DBOS runtime lifecycle
type Runtime struct {
	dbosContext dbos.DBOSContext
	queue       dbos.WorkflowQueue
	config      Config
	db          *sql.DB
	log         zerolog.Logger
}

// NewRuntime creates the DBOS context and the assessment queue. Workflows
// must be registered before Launch.
func NewRuntime(ctx context.Context, cfg Config, log zerolog.Logger) (*Runtime, error) {
	cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dbosCtx, err := dbos.NewDBOSContext(ctx, dbos.Config{
		DatabaseURL:        cfg.DatabaseURL,
		AppName:            cfg.AppName,
		ApplicationVersion: cfg.ApplicationVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DBOS context: %w", err)
	}

	queue := dbos.NewWorkflowQueue(dbosCtx, cfg.QueueName, dbos.WithWorkerConcurrency(cfg.Concurrency))

	// Run history is read straight from the DBOS system tables
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open DBOS status database: %w", err)
	}

	return &Runtime{
		dbosContext: dbosCtx,
		queue:       queue,
		config:      cfg,
		db:          db,
		log:         log.With().Str("component", "dbos").Str("queue", cfg.QueueName).Logger(),
	}, nil
}

// Launch starts the DBOS runtime, recovering assessments a previous worker
// left pending
func (r *Runtime) Launch() error {
	if err := dbos.Launch(r.dbosContext); err != nil {
		return fmt.Errorf("failed to launch DBOS: %w", err)
	}
	r.log.Info().
		Str("app", r.config.AppName).
		Int("concurrency", r.config.Concurrency).
		Msg("Assessment queue running")
	return nil
}

// Shutdown waits up to the configured timeout for in-flight assessments
func (r *Runtime) Shutdown() {
	r.log.Info().Dur("timeout", r.config.ShutdownTimeout).Msg("Draining assessment queue")
	dbos.Shutdown(r.dbosContext, r.config.ShutdownTimeout)
	if r.db != nil {
		if err := r.db.Close(); err != nil {
			r.log.Warn().Err(err).Msg("Failed to close DBOS status database")
		}
	}
}

// Context returns the DBOS context
func (r *Runtime) Context() dbos.DBOSContext {
	return r.dbosContext
}

// QueueName returns the assessment queue name
func (r *Runtime) QueueName() string {
	return r.config.QueueName
}
