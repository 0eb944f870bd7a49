// ABOUTME: Tests for calendar reconciliation and outcome registration
// ABOUTME: Runs the real pipeline service on SQLite against an in-memory calendar provider
package sync

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/harperreed/funnel/db"
	"github.com/harperreed/funnel/models"
	"github.com/harperreed/funnel/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	svc       *pipeline.Service
	store     *db.Store
	provider  *fakeProvider
	connector *fakeConnector
	rec       *Reconciler
	now       time.Time
}

func setupHarness(t *testing.T, linked bool) *harness {
	t.Helper()
	database, err := db.OpenDatabase(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	now := time.Now().UTC().Truncate(time.Minute)
	clock := func() time.Time { return now }

	store := db.NewStore(database)
	svc := pipeline.NewService(store, pipeline.WithClock(clock))
	provider := newFakeProvider()
	connector := &fakeConnector{providers: map[string]Provider{}}
	if linked {
		connector.providers["closer-1"] = provider
	}

	return &harness{
		svc:       svc,
		store:     store,
		provider:  provider,
		connector: connector,
		rec:       NewReconciler(svc, store.Completions, store.SyncStates, connector, WithReconcilerClock(clock)),
		now:       now,
	}
}

func (h *harness) schedule(t *testing.T, at time.Time) *models.Activity {
	t.Helper()
	ctx := context.Background()
	c, err := h.svc.CreateClient(ctx, pipeline.NewClientRequest{Name: "Óptica Sur", ProspectorID: "prosp-1", Phone: "555-0101"})
	require.NoError(t, err)
	res, err := h.svc.ScheduleMeeting(ctx, pipeline.ScheduleRequest{
		ClientID: c.ID, ActorID: "prosp-1", CloserID: "closer-1", MeetingTime: at,
	})
	require.NoError(t, err)
	return res.Meeting
}

func (h *harness) activity(t *testing.T, id string) *models.Activity {
	t.Helper()
	a, err := h.store.Activities.Get(context.Background(), id)
	require.NoError(t, err)
	return a
}

func meetingIDs(views []MeetingView) []string {
	ids := make([]string, len(views))
	for i, v := range views {
		ids[i] = v.ID
	}
	return ids
}

func TestStaleMeetingsAreAutoFailed(t *testing.T) {
	h := setupHarness(t, false)
	stale := h.schedule(t, h.now.Add(-time.Hour))
	upcoming := h.schedule(t, h.now.Add(2*time.Hour))

	res, err := h.rec.GetReconciledMeetings(context.Background(), "closer-1")
	require.NoError(t, err)
	assert.False(t, res.CalendarLinked)
	assert.Equal(t, []string{upcoming.ID}, meetingIDs(res.Meetings))
	require.Len(t, res.AutoResolved, 1)
	assert.Equal(t, "stale", res.AutoResolved[0].Reason)

	got := h.activity(t, stale.ID)
	assert.Equal(t, models.OutcomeFailed, got.Outcome)
	assert.Contains(t, got.Notes, StaleNote)
}

// A meeting scheduled exactly now is not stale.
func TestMeetingAtNowIsNotStale(t *testing.T) {
	h := setupHarness(t, false)
	m := h.schedule(t, h.now)

	res, err := h.rec.GetReconciledMeetings(context.Background(), "closer-1")
	require.NoError(t, err)
	assert.Equal(t, []string{m.ID}, meetingIDs(res.Meetings))
}

func TestRemovedExternallyIsAutoFailed(t *testing.T) {
	h := setupHarness(t, true)
	kept := h.schedule(t, h.now.Add(24*time.Hour))
	removed := h.schedule(t, h.now.Add(48*time.Hour))

	h.provider.events["evt-kept"] = &Event{
		ID: "evt-kept", Summary: "Reunión", Start: kept.Timestamp.Add(3 * time.Minute),
		JoinLink: "https://meet.google.com/xyz",
	}

	res, err := h.rec.GetReconciledMeetings(context.Background(), "closer-1")
	require.NoError(t, err)
	assert.True(t, res.CalendarLinked)
	require.Len(t, res.Meetings, 1)
	assert.Equal(t, kept.ID, res.Meetings[0].ID)
	assert.True(t, res.Meetings[0].Verified)
	assert.Equal(t, "https://meet.google.com/xyz", res.Meetings[0].JoinLink)
	assert.Empty(t, res.ExternalEvents, "matched event is not listed twice")

	got := h.activity(t, removed.ID)
	assert.Equal(t, models.OutcomeFailed, got.Outcome)
	assert.Contains(t, got.Notes, RemovedNote)

	state, err := h.store.SyncStates.Get(context.Background(), db.CalendarServiceKey("closer-1"))
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, models.SyncStatusIdle, state.Status)
}

func TestToleranceBoundary(t *testing.T) {
	h := setupHarness(t, true)
	inside := h.schedule(t, h.now.Add(24*time.Hour))
	outside := h.schedule(t, h.now.Add(72*time.Hour))

	h.provider.events["a"] = &Event{ID: "a", Start: inside.Timestamp.Add(-5 * time.Minute)}
	h.provider.events["b"] = &Event{ID: "b", Start: outside.Timestamp.Add(6 * time.Minute)}

	res, err := h.rec.GetReconciledMeetings(context.Background(), "closer-1")
	require.NoError(t, err)
	assert.Equal(t, []string{inside.ID}, meetingIDs(res.Meetings))
	require.Len(t, res.ExternalEvents, 1)
	assert.Equal(t, "b", res.ExternalEvents[0].ID)
}

func TestMeetingsBeyondWindowAreKept(t *testing.T) {
	h := setupHarness(t, true)
	far := h.schedule(t, h.now.Add(45*24*time.Hour))

	res, err := h.rec.GetReconciledMeetings(context.Background(), "closer-1")
	require.NoError(t, err)
	assert.Equal(t, []string{far.ID}, meetingIDs(res.Meetings))
	assert.False(t, res.Meetings[0].Verified)
	assert.Equal(t, models.OutcomePending, h.activity(t, far.ID).Outcome)
}

func TestProviderFailureNeverDeletes(t *testing.T) {
	h := setupHarness(t, true)
	h.provider.listErr = errors.New("503 backend error")
	m := h.schedule(t, h.now.Add(24*time.Hour))

	res, err := h.rec.GetReconciledMeetings(context.Background(), "closer-1")
	require.NoError(t, err)
	assert.Equal(t, []string{m.ID}, meetingIDs(res.Meetings))
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "503")
	assert.Equal(t, models.OutcomePending, h.activity(t, m.ID).Outcome)

	state, err := h.store.SyncStates.Get(context.Background(), db.CalendarServiceKey("closer-1"))
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, models.SyncStatusError, state.Status)
}

func TestConnectFailureIsAWarning(t *testing.T) {
	h := setupHarness(t, true)
	h.connector.err = errors.New("invalid_grant")
	m := h.schedule(t, h.now.Add(24*time.Hour))

	res, err := h.rec.GetReconciledMeetings(context.Background(), "closer-1")
	require.NoError(t, err)
	assert.Equal(t, []string{m.ID}, meetingIDs(res.Meetings))
	assert.NotEmpty(t, res.Warnings)
}

func TestReconcileIsIdempotent(t *testing.T) {
	h := setupHarness(t, true)
	h.schedule(t, h.now.Add(-2*time.Hour))
	h.schedule(t, h.now.Add(30*time.Hour))
	kept := h.schedule(t, h.now.Add(50*time.Hour))
	h.provider.events["k"] = &Event{ID: "k", Start: kept.Timestamp}

	first, err := h.rec.GetReconciledMeetings(context.Background(), "closer-1")
	require.NoError(t, err)
	assert.Len(t, first.AutoResolved, 2)

	second, err := h.rec.GetReconciledMeetings(context.Background(), "closer-1")
	require.NoError(t, err)
	assert.Equal(t, meetingIDs(first.Meetings), meetingIDs(second.Meetings))
	assert.Empty(t, second.AutoResolved)
}

func TestExternalEventsJoinCompletions(t *testing.T) {
	h := setupHarness(t, true)
	ctx := context.Background()
	h.provider.events["done"] = &Event{ID: "done", Start: h.now.Add(time.Hour)}
	h.provider.events["open"] = &Event{ID: "open", Start: h.now.Add(2 * time.Hour)}

	_, err := h.rec.MarkEventCompleted(ctx, CompletionRequest{ExternalEventID: "done", CloserID: "closer-1", OutcomeCode: models.OutcomeSale})
	require.NoError(t, err)

	res, err := h.rec.GetReconciledMeetings(ctx, "closer-1")
	require.NoError(t, err)
	require.Len(t, res.ExternalEvents, 2)
	for _, ev := range res.ExternalEvents {
		switch ev.ID {
		case "done":
			require.NotNil(t, ev.Completion)
			assert.Equal(t, models.OutcomeSale, ev.Completion.Outcome)
		case "open":
			assert.Nil(t, ev.Completion)
		}
	}
}

func TestExternalEventsSuggestClientByAttendee(t *testing.T) {
	h := setupHarness(t, true)
	ctx := context.Background()
	c, err := h.svc.CreateClient(ctx, pipeline.NewClientRequest{Name: "Ferretería Luz", Email: "compras@luz.mx", ProspectorID: "prosp-1"})
	require.NoError(t, err)
	// Beyond the lookahead window so the meeting itself is left alone.
	_, err = h.svc.ScheduleMeeting(ctx, pipeline.ScheduleRequest{
		ClientID: c.ID, ActorID: "prosp-1", CloserID: "closer-1", MeetingTime: h.now.Add(40 * 24 * time.Hour),
	})
	require.NoError(t, err)

	h.provider.events["walk-in"] = &Event{ID: "walk-in", Start: h.now.Add(time.Hour), AttendeeEmails: []string{"COMPRAS@luz.mx"}}
	h.provider.events["internal"] = &Event{ID: "internal", Start: h.now.Add(2 * time.Hour), AttendeeEmails: []string{"team@funnel.test"}}

	res, err := h.rec.GetReconciledMeetings(ctx, "closer-1")
	require.NoError(t, err)
	require.Len(t, res.ExternalEvents, 2)
	for _, ev := range res.ExternalEvents {
		switch ev.ID {
		case "walk-in":
			require.NotNil(t, ev.SuggestedClientID)
			assert.Equal(t, c.ID, *ev.SuggestedClientID)
		case "internal":
			assert.Nil(t, ev.SuggestedClientID)
		}
	}
}

// Scenario: schedule with calendar, closer deletes the event, reconcile drops it.
func TestScheduledThenDeletedExternally(t *testing.T) {
	h := setupHarness(t, true)
	ctx := context.Background()
	c, err := h.svc.CreateClient(ctx, pipeline.NewClientRequest{Name: "Ferretería Luz", ProspectorID: "prosp-1"})
	require.NoError(t, err)

	out, err := h.rec.ScheduleWithCalendar(ctx, pipeline.ScheduleRequest{
		ClientID: c.ID, ActorID: "prosp-1", CloserID: "closer-1", MeetingTime: h.now.Add(26 * time.Hour), Notes: "quiere demo",
	}, 45*time.Minute)
	require.NoError(t, err)
	assert.Empty(t, out.Warnings)
	assert.NotEmpty(t, out.JoinLink)
	require.NotEmpty(t, out.Meeting.ExternalEventID)
	assert.Equal(t, out.Meeting.ExternalEventID, h.activity(t, out.Meeting.ID).ExternalEventID)

	ev := h.provider.events[out.Meeting.ExternalEventID]
	assert.Equal(t, "Reunión: Ferretería Luz", ev.Summary)
	assert.Contains(t, ev.Description, "quiere demo")
	assert.Equal(t, 45*time.Minute, ev.End.Sub(ev.Start))

	h.provider.remove(out.Meeting.ExternalEventID)

	res, err := h.rec.GetReconciledMeetings(ctx, "closer-1")
	require.NoError(t, err)
	assert.Empty(t, res.Meetings)
	got := h.activity(t, out.Meeting.ID)
	assert.Equal(t, models.OutcomeFailed, got.Outcome)
	assert.Contains(t, got.Notes, RemovedNote)

	client, err := h.svc.GetClient(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageMeetingScheduled, client.Stage)
}

// A linked event that moved more than the tolerance still matches by id.
func TestLinkedEventMatchesByID(t *testing.T) {
	h := setupHarness(t, true)
	ctx := context.Background()
	c, err := h.svc.CreateClient(ctx, pipeline.NewClientRequest{Name: "Taller Ríos", ProspectorID: "prosp-1"})
	require.NoError(t, err)
	out, err := h.rec.ScheduleWithCalendar(ctx, pipeline.ScheduleRequest{
		ClientID: c.ID, ActorID: "prosp-1", CloserID: "closer-1", MeetingTime: h.now.Add(5 * time.Hour),
	}, 0)
	require.NoError(t, err)

	h.provider.events[out.Meeting.ExternalEventID].Start = h.now.Add(7 * time.Hour)

	res, err := h.rec.GetReconciledMeetings(ctx, "closer-1")
	require.NoError(t, err)
	assert.Equal(t, []string{out.Meeting.ID}, meetingIDs(res.Meetings))
}

func TestScheduleWithoutCalendarStillSchedules(t *testing.T) {
	h := setupHarness(t, false)
	ctx := context.Background()
	c, err := h.svc.CreateClient(ctx, pipeline.NewClientRequest{Name: "Panadería", ProspectorID: "prosp-1"})
	require.NoError(t, err)

	out, err := h.rec.ScheduleWithCalendar(ctx, pipeline.ScheduleRequest{
		ClientID: c.ID, ActorID: "prosp-1", CloserID: "closer-1", MeetingTime: h.now.Add(time.Hour),
	}, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, out.Warnings)
	assert.Empty(t, out.Meeting.ExternalEventID)
	assert.Equal(t, models.StageMeetingScheduled, out.Client.Stage)
}

// Scenario: outcome registered, completion stored, external text rewritten.
func TestRegisterMeetingOutcomeMarksEvent(t *testing.T) {
	h := setupHarness(t, true)
	ctx := context.Background()
	m := h.schedule(t, h.now.Add(-30*time.Minute))
	h.provider.events["evt-1"] = &Event{
		ID: "evt-1", Summary: "Reunión: Óptica Sur", Start: m.Timestamp,
		Description: "Cliente: Óptica Sur\nRESULTADO: Sin interés",
	}

	out, err := h.rec.RegisterMeetingOutcome(ctx, OutcomeRequest{
		MeetingID: m.ID, ActorID: "closer-1", OutcomeCode: models.OutcomeWantsQuote, Notes: "enviar precios",
	})
	require.NoError(t, err)
	assert.Empty(t, out.Warnings)
	assert.Equal(t, models.StageNegotiating, out.Client.Stage)

	rec, err := h.store.Completions.Get(ctx, "evt-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, models.OutcomeWantsQuote, rec.Outcome)
	require.NotNil(t, rec.ClientID)
	assert.Equal(t, m.ClientID, *rec.ClientID)

	ev := h.provider.events["evt-1"]
	assert.Equal(t, "✅ Reunión: Óptica Sur", ev.Summary)
	assert.Equal(t, 1, strings.Count(ev.Description, "RESULTADO:"))
	assert.Contains(t, ev.Description, "RESULTADO: Quiere cotización - enviar precios")
	assert.Equal(t, string(models.OutcomeWantsQuote), ev.Outcome)
	assert.Equal(t, "5", ev.ColorID)
}

func TestRegisterOutcomeSurvivesProviderFailure(t *testing.T) {
	h := setupHarness(t, true)
	ctx := context.Background()
	m := h.schedule(t, h.now.Add(time.Hour))
	h.provider.events["evt-1"] = &Event{ID: "evt-1", Summary: "Reunión", Start: m.Timestamp}
	h.provider.patchErr = errors.New("403 rate limited")

	out, err := h.rec.RegisterMeetingOutcome(ctx, OutcomeRequest{MeetingID: m.ID, ActorID: "closer-1", OutcomeCode: models.OutcomeSale})
	require.NoError(t, err)
	assert.Equal(t, models.StageSaleWon, out.Client.Stage)
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], "403")
}

func TestRegisterOutcomeSkipsAmbiguousNearbyEvents(t *testing.T) {
	h := setupHarness(t, true)
	ctx := context.Background()
	m := h.schedule(t, h.now.Add(-30*time.Minute))
	h.provider.events["evt-1"] = &Event{ID: "evt-1", Summary: "Reunión: Óptica Sur", Start: m.Timestamp}
	h.provider.events["evt-2"] = &Event{ID: "evt-2", Summary: "Dentista", Start: m.Timestamp.Add(3 * time.Minute)}

	out, err := h.rec.RegisterMeetingOutcome(ctx, OutcomeRequest{MeetingID: m.ID, ActorID: "closer-1", OutcomeCode: models.OutcomeSale})
	require.NoError(t, err)
	assert.Equal(t, models.StageSaleWon, out.Client.Stage)
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], "several calendar events")

	assert.Empty(t, h.provider.patches)
	for _, id := range []string{"evt-1", "evt-2"} {
		rec, err := h.store.Completions.Get(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, rec)
		assert.NotContains(t, h.provider.events[id].Summary, "✅")
	}
}

func TestRegisterOutcomeLocalErrorsAbort(t *testing.T) {
	h := setupHarness(t, true)
	m := h.schedule(t, h.now.Add(time.Hour))

	_, err := h.rec.RegisterMeetingOutcome(context.Background(), OutcomeRequest{MeetingID: m.ID, ActorID: "intruder", OutcomeCode: models.OutcomeSale})
	assert.ErrorIs(t, err, pipeline.ErrForbidden)
	assert.Equal(t, 0, h.provider.listCalls)
}

func TestRegisterOutcomeForClientUsesEarliestPending(t *testing.T) {
	h := setupHarness(t, false)
	ctx := context.Background()
	m := h.schedule(t, h.now.Add(time.Hour))

	out, err := h.rec.RegisterOutcomeForClient(ctx, m.ClientID, "closer-1", models.OutcomeNoShow, "")
	require.NoError(t, err)
	assert.Equal(t, m.ID, out.Meeting.ID)
	assert.Equal(t, models.StageLost, out.Client.Stage)

	_, err = h.rec.RegisterOutcomeForClient(ctx, m.ClientID, "closer-1", models.OutcomeSale, "")
	assert.ErrorIs(t, err, pipeline.ErrMeetingNotPending)
}

func TestMarkExternalCompleted(t *testing.T) {
	h := setupHarness(t, true)
	ctx := context.Background()
	h.provider.events["e"] = &Event{ID: "e", Summary: "Demo", Start: h.now}

	warnings, err := h.rec.MarkExternalCompleted(ctx, "closer-1", "e", models.OutcomeSale, "")
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, "✅ Demo", h.provider.events["e"].Summary)

	warnings, err = h.rec.MarkExternalCompleted(ctx, "closer-1", "missing", models.OutcomeSale, "")
	require.NoError(t, err)
	assert.Len(t, warnings, 1)

	warnings, err = h.rec.MarkExternalCompleted(ctx, "closer-2", "e", models.OutcomeSale, "")
	require.NoError(t, err)
	assert.Len(t, warnings, 1)

	_, err = h.rec.MarkExternalCompleted(ctx, "closer-1", "", models.OutcomeSale, "")
	assert.ErrorIs(t, err, pipeline.ErrInvalidInput)
}

func TestBusyPeriods(t *testing.T) {
	h := setupHarness(t, true)
	h.provider.busy = []BusySlot{{Start: h.now, End: h.now.Add(time.Hour)}}

	slots, err := h.rec.BusyPeriods(context.Background(), "closer-1", h.now, h.now.Add(8*time.Hour))
	require.NoError(t, err)
	assert.Len(t, slots, 1)

	_, err = h.rec.BusyPeriods(context.Background(), "closer-1", h.now, h.now)
	assert.ErrorIs(t, err, pipeline.ErrInvalidInput)
}
