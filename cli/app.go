// ABOUTME: Shared wiring for CLI commands
// ABOUTME: Builds the pipeline service, reconciler and metrics from one database and credential store
package cli

import (
	"database/sql"

	"github.com/charmbracelet/log"
	"github.com/harperreed/funnel/config"
	"github.com/harperreed/funnel/credentials"
	"github.com/harperreed/funnel/db"
	"github.com/harperreed/funnel/metrics"
	"github.com/harperreed/funnel/pipeline"
	"github.com/harperreed/funnel/sync"
)

// App carries everything a command needs.
type App struct {
	Config     config.Config
	Logger     *log.Logger
	Store      *db.Store
	Tokens     *credentials.Store
	Pipeline   *pipeline.Service
	Reconciler *sync.Reconciler
	Funnel     *metrics.Aggregator
	Monitor    *metrics.Monitor
}

// NewApp wires the components over an open database and credential store.
func NewApp(cfg config.Config, database *sql.DB, tokens *credentials.Store, logger *log.Logger) *App {
	store := db.NewStore(database)
	svc := pipeline.NewService(store, pipeline.WithLogger(logger))
	connector := sync.NewGoogleConnector(sync.NewOAuthConfig(cfg.GoogleOAuth()), tokens, logger)
	rec := sync.NewReconciler(svc, store.Completions, store.SyncStates, connector, sync.WithReconcilerLogger(logger))

	return &App{
		Config:     cfg,
		Logger:     logger,
		Store:      store,
		Tokens:     tokens,
		Pipeline:   svc,
		Reconciler: rec,
		Funnel:     metrics.NewAggregator(store.Clients),
		Monitor:    metrics.NewMonitor(store.Activities, svc.Now),
	}
}
