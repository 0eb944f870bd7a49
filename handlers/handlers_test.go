// ABOUTME: Shared fixtures for MCP handler tests
// ABOUTME: Wires the real pipeline, reconciler and metrics over a temp SQLite database
package handlers

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/harperreed/funnel/credentials"
	"github.com/harperreed/funnel/db"
	"github.com/harperreed/funnel/metrics"
	"github.com/harperreed/funnel/pipeline"
	"github.com/harperreed/funnel/sync"
)

type unlinkedConnector struct{}

func (unlinkedConnector) Connect(context.Context, string) (sync.Provider, error) {
	return nil, credentials.ErrNotLinked
}

type fixture struct {
	svc      *pipeline.Service
	pipeline *PipelineHandlers
	reports  *ReportHandlers
	now      time.Time
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()
	database, err := db.OpenDatabase(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	now := time.Now().UTC().Truncate(time.Second)
	clock := func() time.Time { return now }
	store := db.NewStore(database)
	svc := pipeline.NewService(store, pipeline.WithClock(clock))
	rec := sync.NewReconciler(svc, store.Completions, store.SyncStates, unlinkedConnector{}, sync.WithReconcilerClock(clock))

	return &fixture{
		svc:      svc,
		pipeline: NewPipelineHandlers(svc, rec),
		reports:  NewReportHandlers(metrics.NewAggregator(store.Clients), metrics.NewMonitor(store.Activities, clock), rec),
		now:      now,
	}
}

func (f *fixture) createClient(t *testing.T, name string) ClientOutput {
	t.Helper()
	_, out, err := f.pipeline.CreateClient(context.Background(), nil, CreateClientInput{AgentID: "prosp-1", Name: name})
	if err != nil {
		t.Fatalf("CreateClient failed: %v", err)
	}
	return out
}
