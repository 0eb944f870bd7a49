// ABOUTME: Reconciles local pending meetings with the closer's external calendar
// ABOUTME: Local state is authoritative; provider failures degrade to warnings
package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/harperreed/funnel/credentials"
	"github.com/harperreed/funnel/db"
	"github.com/harperreed/funnel/models"
	"github.com/harperreed/funnel/pipeline"
	"github.com/harperreed/funnel/telemetry"
)

const (
	// StaleNote is appended to pending meetings whose time already passed.
	StaleNote = "[Auto] Cita pasada sin registrar"
	// RemovedNote is appended to pending meetings missing from the external calendar.
	RemovedNote = "[Sync] Eliminada de Google Calendar"

	matchTolerance  = 5 * time.Minute
	lookaheadWindow = 30 * 24 * time.Hour
	defaultDuration = time.Hour
)

// Pipeline is the subset of the pipeline service the reconciler drives.
type Pipeline interface {
	GetClient(ctx context.Context, id uuid.UUID) (*models.Client, error)
	ListClients(ctx context.Context, f db.ClientFilter) ([]models.Client, error)
	PendingMeetings(ctx context.Context, closerID string) ([]models.Activity, error)
	PendingMeetingsForClient(ctx context.Context, clientID uuid.UUID) ([]models.Activity, error)
	ResolveActivity(ctx context.Context, activityID string, outcome models.Outcome, note string) error
	ResolveMeeting(ctx context.Context, req pipeline.ResolveRequest) (*pipeline.ResolveResult, error)
	ScheduleMeeting(ctx context.Context, req pipeline.ScheduleRequest) (*pipeline.ScheduleResult, error)
	LinkExternalEvent(ctx context.Context, activityID, eventID string) error
}

type CompletionStore interface {
	Upsert(ctx context.Context, rec *models.CompletionRecord) error
	GetMany(ctx context.Context, eventIDs []string) (map[string]models.CompletionRecord, error)
}

type SyncStateStore interface {
	UpdateStatus(ctx context.Context, service, status string, errorMsg *string) error
	MarkSynced(ctx context.Context, service, token string) error
}

type Reconciler struct {
	pipeline    Pipeline
	completions CompletionStore
	syncStates  SyncStateStore
	connector   Connector
	logger      *log.Logger
	now         func() time.Time
}

type ReconcilerOption func(*Reconciler)

func WithReconcilerClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) { r.now = now }
}

func WithReconcilerLogger(logger *log.Logger) ReconcilerOption {
	return func(r *Reconciler) { r.logger = logger }
}

func NewReconciler(p Pipeline, completions CompletionStore, syncStates SyncStateStore, connector Connector, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		pipeline:    p,
		completions: completions,
		syncStates:  syncStates,
		connector:   connector,
		logger:      log.New(io.Discard),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// MeetingView is a surviving pending meeting, enriched from the external calendar.
type MeetingView struct {
	models.Activity
	JoinLink string `json:"join_link,omitempty"`
	Verified bool   `json:"verified"`
}

// ExternalEventView is an external event with no local meeting, joined with its completion.
type ExternalEventView struct {
	Event
	Completion *models.CompletionRecord `json:"completion,omitempty"`
	// SuggestedClientID is the closer's client whose email is among the attendees.
	SuggestedClientID *uuid.UUID `json:"suggested_client_id,omitempty"`
}

// NeedsOutcome reports whether the closer still has to register a result.
func (v ExternalEventView) NeedsOutcome(now time.Time) bool {
	return v.Completion == nil && v.Start.Before(now)
}

type AutoResolution struct {
	ActivityID string         `json:"activity_id"`
	ClientID   uuid.UUID      `json:"client_id"`
	Outcome    models.Outcome `json:"outcome"`
	Reason     string         `json:"reason"`
}

type Reconciliation struct {
	Meetings       []MeetingView       `json:"meetings"`
	ExternalEvents []ExternalEventView `json:"external_events"`
	AutoResolved   []AutoResolution    `json:"auto_resolved"`
	Warnings       []string            `json:"warnings,omitempty"`
	CalendarLinked bool                `json:"calendar_linked"`
}

// GetReconciledMeetings returns the closer's pending meetings after resolving
// stale ones and the ones removed from the external calendar.
func (r *Reconciler) GetReconciledMeetings(ctx context.Context, closerID string) (*Reconciliation, error) {
	now := r.now()
	out := &Reconciliation{Meetings: []MeetingView{}, ExternalEvents: []ExternalEventView{}, AutoResolved: []AutoResolution{}}

	pending, err := r.pipeline.PendingMeetings(ctx, closerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending meetings: %w", err)
	}

	var upcoming []models.Activity
	for _, m := range pending {
		if !m.Timestamp.Before(now) {
			upcoming = append(upcoming, m)
			continue
		}
		if err := r.autoResolve(ctx, out, m, StaleNote, "stale"); err != nil {
			return nil, err
		}
	}

	provider, err := r.connector.Connect(ctx, closerID)
	if err != nil {
		if !errors.Is(err, credentials.ErrNotLinked) {
			r.warn(ctx, out, closerID, "calendar unavailable", err)
		}
		out.Meetings = unverified(upcoming)
		return out, nil
	}
	out.CalendarLinked = true

	windowEnd := now.Add(lookaheadWindow)
	events, err := provider.ListEvents(ctx, now, windowEnd)
	if err != nil {
		r.warn(ctx, out, closerID, "calendar unavailable", err)
		out.Meetings = unverified(upcoming)
		return out, nil
	}

	linked := make(map[string]bool)
	for _, m := range upcoming {
		if m.Timestamp.After(windowEnd) {
			out.Meetings = append(out.Meetings, MeetingView{Activity: m})
			continue
		}
		ev, ok := matchEvent(m, events)
		if !ok {
			if err := r.autoResolve(ctx, out, m, RemovedNote, "removed"); err != nil {
				return nil, err
			}
			continue
		}
		linked[ev.ID] = true
		if m.ExternalEventID == "" {
			m.ExternalEventID = ev.ID
		}
		out.Meetings = append(out.Meetings, MeetingView{Activity: m, JoinLink: ev.JoinLink, Verified: true})
	}

	var ids []string
	for _, ev := range events {
		if !linked[ev.ID] {
			ids = append(ids, ev.ID)
		}
	}
	completions, err := r.completions.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load meeting completions: %w", err)
	}
	var matcher *ClientMatcher
	for _, ev := range events {
		if linked[ev.ID] {
			continue
		}
		view := ExternalEventView{Event: ev}
		if rec, ok := completions[ev.ID]; ok {
			view.Completion = &rec
		} else if len(ev.AttendeeEmails) > 0 {
			if matcher == nil {
				matcher = r.clientMatcher(ctx, closerID)
			}
			if c, ok := matcher.FindMatch(ev.AttendeeEmails); ok {
				id := c.ID
				view.SuggestedClientID = &id
			}
		}
		out.ExternalEvents = append(out.ExternalEvents, view)
	}

	service := db.CalendarServiceKey(closerID)
	window := now.Format(time.RFC3339) + "/" + windowEnd.Format(time.RFC3339)
	if err := r.syncStates.MarkSynced(ctx, service, window); err != nil {
		r.logger.Warn("failed to record sync state", "closer", closerID, "err", err)
	}
	return out, nil
}

// clientMatcher indexes the closer's clients. A load failure yields an empty
// matcher; suggestions are optional.
func (r *Reconciler) clientMatcher(ctx context.Context, closerID string) *ClientMatcher {
	clients, err := r.pipeline.ListClients(ctx, db.ClientFilter{CloserID: closerID})
	if err != nil {
		r.logger.Warn("failed to load clients for attendee matching", "closer", closerID, "err", err)
	}
	return NewClientMatcher(clients)
}

// matchEvent pairs a meeting with its external event: by linked id first,
// then by start time within the tolerance.
func matchEvent(m models.Activity, events []Event) (Event, bool) {
	if m.ExternalEventID != "" {
		for _, ev := range events {
			if ev.ID == m.ExternalEventID {
				return ev, true
			}
		}
	}
	for _, ev := range events {
		diff := ev.Start.Sub(m.Timestamp)
		if diff < 0 {
			diff = -diff
		}
		if diff <= matchTolerance {
			return ev, true
		}
	}
	return Event{}, false
}

func (r *Reconciler) autoResolve(ctx context.Context, out *Reconciliation, m models.Activity, note, reason string) error {
	if err := r.pipeline.ResolveActivity(ctx, m.ID, models.OutcomeFailed, note); err != nil {
		return fmt.Errorf("failed to auto-resolve meeting %s: %w", m.ID, err)
	}
	telemetry.MeetingsAutoResolved.WithLabelValues(reason).Inc()
	r.logger.Info("meeting auto-resolved", "meeting", m.ID, "client", m.ClientID, "reason", reason)
	out.AutoResolved = append(out.AutoResolved, AutoResolution{
		ActivityID: m.ID, ClientID: m.ClientID, Outcome: models.OutcomeFailed, Reason: reason,
	})
	return nil
}

func (r *Reconciler) warn(ctx context.Context, out *Reconciliation, closerID, msg string, err error) {
	r.logger.Warn(msg, "closer", closerID, "err", err)
	out.Warnings = append(out.Warnings, fmt.Sprintf("%s: %v", msg, err))
	errMsg := err.Error()
	if serr := r.syncStates.UpdateStatus(ctx, db.CalendarServiceKey(closerID), models.SyncStatusError, &errMsg); serr != nil {
		r.logger.Warn("failed to record sync state", "closer", closerID, "err", serr)
	}
}

func unverified(meetings []models.Activity) []MeetingView {
	out := make([]MeetingView, 0, len(meetings))
	for _, m := range meetings {
		out = append(out, MeetingView{Activity: m})
	}
	return out
}
