package sync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// fakeGoogle serves the handful of Calendar API endpoints the client calls.
func fakeGoogle(t *testing.T) (*GoogleCalendar, *calendar.Event) {
	t.Helper()
	patched := &calendar.Event{}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /calendars/primary/events", func(w http.ResponseWriter, r *http.Request) {
		var page calendar.Events
		if r.URL.Query().Get("pageToken") == "" {
			page.Items = []*calendar.Event{
				{Id: "timed", Summary: "Demo", HangoutLink: "https://meet.google.com/aaa",
					Start: &calendar.EventDateTime{DateTime: "2026-03-02T15:00:00Z"},
					End:   &calendar.EventDateTime{DateTime: "2026-03-02T16:00:00Z"},
					Attendees: []*calendar.EventAttendee{
						{Email: "closer@funnel.test", Self: true},
						{Email: "sala-1@resource.calendar.google.com", Resource: true},
						{Email: "compras@luz.mx"},
					}},
				{Id: "allday", Start: &calendar.EventDateTime{Date: "2026-03-02"}},
				{Id: "cancelled", Status: "cancelled", Start: &calendar.EventDateTime{DateTime: "2026-03-02T17:00:00Z"}},
			}
			page.NextPageToken = "p2"
		} else {
			page.Items = []*calendar.Event{
				{Id: "second-page", Start: &calendar.EventDateTime{DateTime: "2026-03-03T09:00:00Z"},
					ConferenceData: &calendar.ConferenceData{EntryPoints: []*calendar.EntryPoint{
						{EntryPointType: "phone", Uri: "tel:+1"},
						{EntryPointType: "video", Uri: "https://meet.google.com/bbb"},
					}},
					ExtendedProperties: &calendar.EventExtendedProperties{Private: map[string]string{outcomePropertyKey: "sale"}}},
			}
		}
		_ = json.NewEncoder(w).Encode(page)
	})
	mux.HandleFunc("GET /calendars/primary/events/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "evt-1" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":404,"message":"Not Found"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(&calendar.Event{Id: "evt-1", Summary: "Reunión",
			Start: &calendar.EventDateTime{DateTime: "2026-03-02T15:00:00Z"}})
	})
	mux.HandleFunc("PATCH /calendars/primary/events/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "evt-1" {
			w.WriteHeader(http.StatusGone)
			_, _ = w.Write([]byte(`{"error":{"code":410,"message":"Deleted"}}`))
			return
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(patched))
		_ = json.NewEncoder(w).Encode(patched)
	})
	mux.HandleFunc("POST /calendars/primary/events", func(w http.ResponseWriter, r *http.Request) {
		var ev calendar.Event
		require.NoError(t, json.NewDecoder(r.Body).Decode(&ev))
		assert.Equal(t, "1", r.URL.Query().Get("conferenceDataVersion"))
		require.NotNil(t, ev.ConferenceData)
		assert.Equal(t, "hangoutsMeet", ev.ConferenceData.CreateRequest.ConferenceSolutionKey.Type)
		ev.Id = "created-1"
		ev.HangoutLink = "https://meet.google.com/new"
		_ = json.NewEncoder(w).Encode(&ev)
	})
	mux.HandleFunc("POST /freeBusy", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(&calendar.FreeBusyResponse{
			Calendars: map[string]calendar.FreeBusyCalendar{
				"primary": {Busy: []*calendar.TimePeriod{
					{Start: "2026-03-02T15:00:00Z", End: "2026-03-02T16:00:00Z"},
					{Start: "garbage", End: "2026-03-02T18:00:00Z"},
				}},
			},
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client, err := NewCalendarClient(context.Background(), srv.Client(), option.WithEndpoint(srv.URL+"/"))
	require.NoError(t, err)
	return client, patched
}

func TestNewCalendarClientNilHTTPClient(t *testing.T) {
	client, err := NewCalendarClient(context.Background(), nil)
	if err == nil {
		t.Fatal("expected error for nil client, got nil")
	}
	if client != nil {
		t.Error("expected nil client")
	}
}

func TestListEventsFollowsPagesAndSkips(t *testing.T) {
	client, _ := fakeGoogle(t)
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	events, err := client.ListEvents(context.Background(), from, from.Add(7*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, "timed", events[0].ID)
	assert.Equal(t, "https://meet.google.com/aaa", events[0].JoinLink)
	assert.Equal(t, time.Hour, events[0].End.Sub(events[0].Start))
	assert.Equal(t, []string{"compras@luz.mx"}, events[0].AttendeeEmails)

	assert.Equal(t, "second-page", events[1].ID)
	assert.Equal(t, "https://meet.google.com/bbb", events[1].JoinLink)
	assert.Equal(t, "sale", events[1].Outcome)
}

func TestGetEventNotFound(t *testing.T) {
	client, _ := fakeGoogle(t)

	ev, err := client.GetEvent(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.Equal(t, "Reunión", ev.Summary)

	_, err = client.GetEvent(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrEventNotFound), "got %v", err)
}

func TestUpdateEventSendsOutcomeProperty(t *testing.T) {
	client, patched := fakeGoogle(t)

	err := client.UpdateEvent(context.Background(), "evt-1", EventPatch{
		Summary: "✅ Reunión", Description: "RESULTADO: Venta", ColorID: "10", Outcome: "sale",
	})
	require.NoError(t, err)
	assert.Equal(t, "✅ Reunión", patched.Summary)
	assert.Equal(t, "10", patched.ColorId)
	require.NotNil(t, patched.ExtendedProperties)
	assert.Equal(t, "sale", patched.ExtendedProperties.Private[outcomePropertyKey])

	err = client.UpdateEvent(context.Background(), "deleted", EventPatch{Summary: "x"})
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestInsertEventWithMeetLink(t *testing.T) {
	client, _ := fakeGoogle(t)
	start := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	ev, err := client.InsertEvent(context.Background(), NewEvent{
		Summary: "Reunión: Acme", Start: start, End: start.Add(time.Hour), WithMeetLink: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "created-1", ev.ID)
	assert.Equal(t, "https://meet.google.com/new", ev.JoinLink)
	assert.True(t, ev.Start.Equal(start))
}

func TestFreeBusySkipsUnparseablePeriods(t *testing.T) {
	client, _ := fakeGoogle(t)
	from := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	slots, err := client.FreeBusy(context.Background(), from, from.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, 15, slots[0].Start.Hour())
}

func TestShouldSkipEvent(t *testing.T) {
	tests := []struct {
		name  string
		event *calendar.Event
		skip  bool
	}{
		{"nil", nil, true},
		{"no start", &calendar.Event{}, true},
		{"all day", &calendar.Event{Start: &calendar.EventDateTime{Date: "2026-01-01"}}, true},
		{"cancelled", &calendar.Event{Status: "cancelled", Start: &calendar.EventDateTime{DateTime: "2026-01-01T10:00:00Z"}}, true},
		{"timed", &calendar.Event{Start: &calendar.EventDateTime{DateTime: "2026-01-01T10:00:00Z"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			skip, reason := shouldSkipEvent(tt.event)
			if skip != tt.skip {
				t.Errorf("shouldSkipEvent() = %v (%s), want %v", skip, reason, tt.skip)
			}
		})
	}
}
