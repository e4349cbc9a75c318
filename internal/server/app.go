// Package server initializes and runs the lifelog server: storage backends,
// the entry manager, the connector scheduler and the admin HTTP endpoint,
// with graceful shutdown on OS signals.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/lifelog/internal/logging"
	"github.com/dmitrijs2005/lifelog/internal/server/config"
	"github.com/dmitrijs2005/lifelog/internal/server/connectors"
	"github.com/dmitrijs2005/lifelog/internal/server/entrymanager"
	"github.com/dmitrijs2005/lifelog/internal/server/httpapi"
	"github.com/dmitrijs2005/lifelog/internal/server/scheduler"
	"github.com/dmitrijs2005/lifelog/internal/server/storage"
)

type App struct {
	config *config.Config
	logger logging.Logger
}

func NewApp(c *config.Config) (*App, error) {
	slog := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(slog)

	return &App{config: c, logger: logger}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// openDocumentStore selects the metadata backend: PostgreSQL when a DSN is
// configured, the embedded sqlite database otherwise. Both implement the
// document and state store contracts.
func (app *App) openDocumentStore(ctx context.Context) (storage.DocumentStore, storage.StateStore, error) {
	if app.config.DatabaseDSN != "" {
		pg, err := storage.NewPostgresStore(ctx, app.config.DatabaseDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres init error: %w", err)
		}
		return pg, pg, nil
	}

	sq, err := storage.NewSqliteStore(ctx, app.config.SqlitePath)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite init error: %w", err)
	}
	return sq, sq, nil
}

// openPayloadStore selects the payload backend: the S3-compatible bucket when
// an endpoint is configured, an in-memory store otherwise (single-node runs
// without object storage).
func (app *App) openPayloadStore(ctx context.Context) (storage.PayloadStore, error) {
	if app.config.S3BaseEndpoint == "" {
		app.logger.Warn(ctx, "no S3 endpoint configured, file payloads are kept in memory")
		return storage.NewMemoryPayloadStore(), nil
	}
	return storage.NewS3PayloadStore(ctx, storage.S3Options{
		Region:       app.config.S3Region,
		BaseEndpoint: app.config.S3BaseEndpoint,
		Bucket:       app.config.S3Bucket,
		AccessKey:    app.config.S3RootUser,
		SecretKey:    app.config.S3RootPassword,
	})
}

// logInsertionSummary builds the scheduler callback that logs a per-trigger
// summary of the insertion log.
func logInsertionSummary(log logging.Logger) scheduler.OnInsertedFunc {
	return func(connectorID string, records []scheduler.InsertionRecord) {
		var inserted, mutated, failed int
		for _, r := range records {
			switch {
			case r.Error != "":
				failed++
			case r.Mutated:
				mutated++
			default:
				inserted++
			}
		}
		log.Info(context.Background(), "entries inserted",
			"connector", connectorID,
			"inserted", inserted, "mutated", mutated, "failed", failed)
	}
}

func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	docs, states, err := app.openDocumentStore(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := docs.Close(); err != nil {
			app.logger.Warn(ctx, "closing document store", "error", err.Error())
		}
	}()

	payloads, err := app.openPayloadStore(ctx)
	if err != nil {
		return fmt.Errorf("payload store init error: %w", err)
	}

	manager := entrymanager.New(docs, payloads, app.logger)
	inserter := connectors.NewInserter(manager, app.logger)

	sched, err := scheduler.NewManager(scheduler.Options{
		InputDir:          app.config.InputDir,
		Tick:              app.config.TickInterval,
		StabilityPoll:     app.config.StabilityPollInterval,
		SerializeTriggers: app.config.SerializeTriggers,
	}, logInsertionSummary(app.logger), app.logger)
	if err != nil {
		return fmt.Errorf("scheduler init error: %w", err)
	}

	deps := connectors.Deps{Inserter: inserter, States: states, Log: app.logger}
	for _, cc := range app.config.Connectors {
		conn, interval, err := connectors.Build(cc, deps)
		if err != nil {
			return fmt.Errorf("connector init error: %w", err)
		}
		if err := sched.Register(conn, interval); err != nil {
			return fmt.Errorf("connector init error: %w", err)
		}
		app.logger.Info(ctx, "registered connector", "id", conn.ID(), "type", cc.Type)
	}

	httpServer := httpapi.NewServer(
		app.config.EndpointAddrHTTP,
		sched,
		app.config.AdminPasswordHash,
		app.config.SecretKey,
		app.config.AccessTokenValidityDuration,
		app.logger,
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(ctx) })
	g.Go(func() error { return httpServer.Run(ctx) })

	err = g.Wait()
	app.logger.Info(ctx, "App stopped")
	return err
}
