package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/harperreed/funnel/credentials"
	"github.com/harperreed/funnel/db"
	"github.com/harperreed/funnel/metrics"
	"github.com/harperreed/funnel/models"
	"github.com/harperreed/funnel/pipeline"
	"github.com/harperreed/funnel/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type unlinkedConnector struct{}

func (unlinkedConnector) Connect(context.Context, string) (sync.Provider, error) {
	return nil, credentials.ErrNotLinked
}

type testServer struct {
	svc *pipeline.Service
	srv *httptest.Server
	now time.Time
}

func newTestServer(t *testing.T, opts ...Option) *testServer {
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

	s := NewServer(svc, rec, metrics.NewAggregator(store.Clients), metrics.NewMonitor(store.Activities, clock), opts...)
	srv := httptest.NewServer(s.Routes())
	t.Cleanup(srv.Close)

	return &testServer{svc: svc, srv: srv, now: now}
}

func (ts *testServer) do(t *testing.T, method, path, agent string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, &buf)
	require.NoError(t, err)
	if agent != "" {
		req.Header.Set(AgentHeader, agent)
	}
	resp, err := ts.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func (ts *testServer) createClient(t *testing.T, name string) models.Client {
	t.Helper()
	resp := ts.do(t, http.MethodPost, "/clientes", "prosp-1", map[string]string{"name": name})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var c models.Client
	decodeBody(t, resp, &c)
	return c
}

func (ts *testServer) schedule(t *testing.T, clientID string, at time.Time) sync.ScheduleOutcome {
	t.Helper()
	resp := ts.do(t, http.MethodPost, "/agendar-reunion", "prosp-1", map[string]any{
		"clientId":    clientID,
		"closerId":    "closer-1",
		"meetingTime": at.Format(time.RFC3339),
		"notes":       "demo",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var out sync.ScheduleOutcome
	decodeBody(t, resp, &out)
	return out
}

func TestHealthzIsOpen(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodGet, "/healthz", "", nil)

	resp := ts.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMissingAgentHeader(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodGet, "/dashboard", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var body errorBody
	decodeBody(t, resp, &body)
	assert.Contains(t, body.Error, AgentHeader)
}

func TestCreateAndGetClient(t *testing.T) {
	ts := newTestServer(t)
	c := ts.createClient(t, "Ferretería Luz")
	assert.Equal(t, "prosp-1", c.AssignedProspectorID)
	assert.Equal(t, models.StageProspectNew, c.Stage)

	resp := ts.do(t, http.MethodGet, "/clientes/"+c.ID.String(), "prosp-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// History entries use the Spanish wire keys.
	var raw map[string]any
	decodeBody(t, resp, &raw)
	history := raw["stage_history"].([]any)
	require.Len(t, history, 1)
	entry := history[0].(map[string]any)
	assert.Equal(t, "prosp-1", entry["vendedor"])
	assert.Contains(t, entry, "fecha")
}

func TestClientErrors(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"bad id", http.MethodGet, "/clientes/not-a-uuid", nil, http.StatusBadRequest},
		{"unknown client", http.MethodGet, "/clientes/6f1c1f0e-1d1a-4f43-9a55-2b0bfa0c2a11", nil, http.StatusNotFound},
		{"empty name", http.MethodPost, "/clientes", map[string]string{"name": " "}, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/clientes", map[string]string{"nombre": "x"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(t, tt.method, tt.path, "prosp-1", tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestChangeStage(t *testing.T) {
	ts := newTestServer(t)
	c := ts.createClient(t, "Acme")
	path := "/clientes/" + c.ID.String() + "/etapa"

	resp := ts.do(t, http.MethodPatch, path, "prosp-1", map[string]string{"targetStage": "sale_won"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = ts.do(t, http.MethodPatch, path, "prosp-1", map[string]string{"targetStage": "bogus"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, http.MethodPatch, path, "stranger", map[string]string{"targetStage": "in_contact"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = ts.do(t, http.MethodPatch, path, "prosp-1", map[string]string{"targetStage": "in_contact", "note": "llamada"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var updated models.Client
	decodeBody(t, resp, &updated)
	assert.Equal(t, models.StageInContact, updated.Stage)
	assert.Len(t, updated.StageHistory, 2)

	resp = ts.do(t, http.MethodPatch, path, "prosp-1", map[string]string{"override": "discard_prospect"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &updated)
	assert.Equal(t, models.StageLost, updated.Stage)
}

func TestRecordActivityAndTimeline(t *testing.T) {
	ts := newTestServer(t)
	c := ts.createClient(t, "Acme")

	resp := ts.do(t, http.MethodPost, "/actividades", "prosp-1", map[string]string{
		"clientId":    c.ID.String(),
		"type":        "call",
		"outcomeCode": "successful",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/actividades", "prosp-1", map[string]string{
		"clientId": c.ID.String(),
		"type":     "fax",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/clientes/"+c.ID.String()+"/actividades", "prosp-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var activities []models.Activity
	decodeBody(t, resp, &activities)
	require.Len(t, activities, 1)
	assert.Equal(t, models.ActivityCall, activities[0].Type)

	got, err := ts.svc.GetClient(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageInContact, got.Stage)
}

func TestScheduleAndRegisterMeeting(t *testing.T) {
	ts := newTestServer(t)
	c := ts.createClient(t, "Acme")

	out := ts.schedule(t, c.ID.String(), ts.now.Add(2*time.Hour))
	assert.Equal(t, models.StageMeetingScheduled, out.Client.Stage)
	assert.Empty(t, out.Warnings)

	resp := ts.do(t, http.MethodGet, "/calendario", "closer-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var agenda sync.Reconciliation
	decodeBody(t, resp, &agenda)
	require.Len(t, agenda.Meetings, 1)
	assert.Equal(t, out.Meeting.ID, agenda.Meetings[0].ID)
	assert.False(t, agenda.CalendarLinked)

	resp = ts.do(t, http.MethodPost, "/registrar-reunion", "closer-1", map[string]string{
		"meetingId":   out.Meeting.ID,
		"outcomeCode": "wants_quote",
		"notes":       "enviar precios",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result sync.OutcomeResult
	decodeBody(t, resp, &result)
	assert.Equal(t, models.StageNegotiating, result.Client.Stage)
	assert.Equal(t, models.OutcomeWantsQuote, result.Meeting.Outcome)

	resp = ts.do(t, http.MethodPost, "/registrar-reunion", "closer-1", map[string]string{
		"meetingId":   out.Meeting.ID,
		"outcomeCode": "sale",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/dashboard", "closer-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap metrics.FunnelSnapshot
	decodeBody(t, resp, &snap)
	assert.Equal(t, 1, snap.Scheduled)
	assert.Equal(t, 1, snap.ProposalSent)
}

func TestRegisterMeetingByClient(t *testing.T) {
	ts := newTestServer(t)
	c := ts.createClient(t, "Acme")
	ts.schedule(t, c.ID.String(), ts.now.Add(time.Hour))

	resp := ts.do(t, http.MethodPost, "/registrar-reunion", "closer-1", map[string]string{
		"clientId":    c.ID.String(),
		"outcomeCode": "no_show",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/registrar-reunion", "closer-1", map[string]string{"outcomeCode": "sale"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMarkEventCompleted(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/marcar-evento-completado", "closer-1", map[string]string{
		"externalEventId": "evt-1",
		"outcomeCode":     "no_interest",
		"notes":           "no contestó",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rec models.CompletionRecord
	decodeBody(t, resp, &rec)
	assert.Equal(t, "evt-1", rec.ExternalEventID)
	assert.Equal(t, "closer-1", rec.CloserID)
	assert.Equal(t, models.OutcomeNoInterest, rec.Outcome)

	resp = ts.do(t, http.MethodPost, "/marcar-evento-completado", "closer-1", map[string]string{"outcomeCode": "sale"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMarkExternalCompletedUnlinked(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPatch, "/mark-completed/evt-1", "closer-1", map[string]string{"outcomeCode": "sale"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out markExternalResponse
	decodeBody(t, resp, &out)
	assert.Equal(t, "evt-1", out.ExternalEventID)
	assert.False(t, out.Updated)
	assert.Len(t, out.Warnings, 1)
}

func TestAvailabilityRequiresLinkedCalendar(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/disponibilidad", "closer-1", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/disponibilidad?from=yesterday", "closer-1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMonitoring(t *testing.T) {
	ts := newTestServer(t)
	c := ts.createClient(t, "Acme")
	for range 3 {
		resp := ts.do(t, http.MethodPost, "/actividades", "prosp-1", map[string]string{
			"clientId": c.ID.String(), "type": "call", "outcomeCode": "failed",
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp := ts.do(t, http.MethodGet, "/monitoreo?period=daily", "boss", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out monitoringResponse
	decodeBody(t, resp, &out)
	assert.Equal(t, metrics.PeriodDaily, out.Period)
	require.Len(t, out.Agents, 1)
	assert.Equal(t, "prosp-1", out.Agents[0].AgentID)
	assert.Equal(t, 3, out.Agents[0].Calls)
	assert.Equal(t, metrics.LevelCritical, out.Agents[0].Score.Level)

	resp = ts.do(t, http.MethodGet, "/monitoreo?period=yearly", "boss", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRateLimitPerAgent(t *testing.T) {
	ts := newTestServer(t, WithRateLimit(0.001, 2))

	for range 2 {
		resp := ts.do(t, http.MethodGet, "/dashboard", "closer-1", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp := ts.do(t, http.MethodGet, "/dashboard", "closer-1", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))

	// Buckets are per agent.
	resp = ts.do(t, http.MethodGet, "/dashboard", "closer-2", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{pipeline.ErrNotFound, http.StatusNotFound},
		{pipeline.ErrForbidden, http.StatusForbidden},
		{pipeline.ErrInvalidTransition, http.StatusUnprocessableEntity},
		{pipeline.ErrInvalidOutcome, http.StatusBadRequest},
		{pipeline.ErrConflict, http.StatusConflict},
		{credentials.ErrNotLinked, http.StatusConflict},
		{errUpstream, http.StatusBadGateway},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
