// ABOUTME: Outcome registration, completion records and calendar-backed scheduling
// ABOUTME: The pipeline write happens first; calendar side effects are best effort
package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/funnel/credentials"
	"github.com/harperreed/funnel/models"
	"github.com/harperreed/funnel/pipeline"
)

type OutcomeRequest struct {
	MeetingID   string
	ActorID     string
	OutcomeCode models.Outcome
	Notes       string
}

type OutcomeResult struct {
	Client   *models.Client   `json:"client"`
	Meeting  *models.Activity `json:"meeting"`
	Warnings []string         `json:"warnings,omitempty"`
}

// RegisterMeetingOutcome applies the outcome locally, then records the completion
// and marks the external event. Only the local step can fail the call.
func (r *Reconciler) RegisterMeetingOutcome(ctx context.Context, req OutcomeRequest) (*OutcomeResult, error) {
	res, err := r.pipeline.ResolveMeeting(ctx, pipeline.ResolveRequest{
		MeetingID:   req.MeetingID,
		ActorID:     req.ActorID,
		OutcomeCode: req.OutcomeCode,
		Notes:       req.Notes,
	})
	if err != nil {
		return nil, err
	}

	out := &OutcomeResult{Client: res.Client, Meeting: res.Meeting}
	meeting := res.Meeting
	closerID := meeting.ActorID

	provider, err := r.connector.Connect(ctx, closerID)
	if err != nil {
		if !errors.Is(err, credentials.ErrNotLinked) {
			out.Warnings = append(out.Warnings, fmt.Sprintf("calendar unavailable: %v", err))
			r.logger.Warn("calendar unavailable", "closer", closerID, "err", err)
		}
	}

	eventID := meeting.ExternalEventID
	if eventID == "" && provider != nil {
		var ambiguous bool
		eventID, ambiguous = r.findEventNear(ctx, provider, meeting.Timestamp)
		if ambiguous {
			out.Warnings = append(out.Warnings, fmt.Sprintf("several calendar events near %s; mark the right one completed by hand",
				meeting.Timestamp.Format(time.RFC3339)))
			r.logger.Warn("ambiguous calendar event for meeting", "meeting", meeting.ID, "closer", closerID)
		}
	}
	if eventID == "" {
		return out, nil
	}

	clientID := meeting.ClientID
	if err := r.completions.Upsert(ctx, &models.CompletionRecord{
		ExternalEventID: eventID,
		CloserID:        closerID,
		ClientID:        &clientID,
		Outcome:         req.OutcomeCode,
		Notes:           req.Notes,
		CompletedAt:     r.now(),
	}); err != nil {
		out.Warnings = append(out.Warnings, fmt.Sprintf("completion record not saved: %v", err))
		r.logger.Warn("failed to save completion record", "event_id", eventID, "err", err)
	}

	if provider != nil {
		out.Warnings = append(out.Warnings, r.markEvent(ctx, provider, closerID, eventID, req.OutcomeCode, req.Notes)...)
	}
	return out, nil
}

// RegisterOutcomeForClient resolves the client's earliest pending meeting.
func (r *Reconciler) RegisterOutcomeForClient(ctx context.Context, clientID uuid.UUID, actorID string, outcome models.Outcome, notes string) (*OutcomeResult, error) {
	if _, err := r.pipeline.GetClient(ctx, clientID); err != nil {
		return nil, err
	}
	pending, err := r.pipeline.PendingMeetingsForClient(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending meetings: %w", err)
	}
	if len(pending) == 0 {
		return nil, fmt.Errorf("client %s has no pending meeting: %w", clientID, pipeline.ErrMeetingNotPending)
	}
	return r.RegisterMeetingOutcome(ctx, OutcomeRequest{
		MeetingID:   pending[0].ID,
		ActorID:     actorID,
		OutcomeCode: outcome,
		Notes:       notes,
	})
}

type CompletionRequest struct {
	ExternalEventID string
	CloserID        string
	ClientID        *uuid.UUID
	OutcomeCode     models.Outcome
	Notes           string
}

// MarkEventCompleted upserts the completion record for an external event.
func (r *Reconciler) MarkEventCompleted(ctx context.Context, req CompletionRequest) (*models.CompletionRecord, error) {
	if strings.TrimSpace(req.ExternalEventID) == "" {
		return nil, fmt.Errorf("external event id is required: %w", pipeline.ErrInvalidInput)
	}
	if req.OutcomeCode != "" && !req.OutcomeCode.Valid() {
		return nil, fmt.Errorf("%q: %w", req.OutcomeCode, pipeline.ErrInvalidOutcome)
	}
	rec := &models.CompletionRecord{
		ExternalEventID: req.ExternalEventID,
		CloserID:        req.CloserID,
		ClientID:        req.ClientID,
		Outcome:         req.OutcomeCode,
		Notes:           req.Notes,
		CompletedAt:     r.now(),
	}
	if err := r.completions.Upsert(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// MarkExternalCompleted rewrites the external event's text only. Provider
// failures come back as warnings.
func (r *Reconciler) MarkExternalCompleted(ctx context.Context, closerID, eventID string, outcome models.Outcome, notes string) ([]string, error) {
	if strings.TrimSpace(eventID) == "" {
		return nil, fmt.Errorf("external event id is required: %w", pipeline.ErrInvalidInput)
	}
	if outcome != "" && !outcome.Valid() {
		return nil, fmt.Errorf("%q: %w", outcome, pipeline.ErrInvalidOutcome)
	}
	provider, err := r.connector.Connect(ctx, closerID)
	if err != nil {
		r.logger.Warn("calendar unavailable", "closer", closerID, "err", err)
		return []string{fmt.Sprintf("calendar unavailable: %v", err)}, nil
	}
	return r.markEvent(ctx, provider, closerID, eventID, outcome, notes), nil
}

func (r *Reconciler) markEvent(ctx context.Context, provider Provider, closerID, eventID string, outcome models.Outcome, notes string) []string {
	ev, err := provider.GetEvent(ctx, eventID)
	if err != nil {
		r.logger.Warn("failed to read calendar event", "closer", closerID, "event_id", eventID, "err", err)
		return []string{fmt.Sprintf("calendar event %s not updated: %v", eventID, err)}
	}
	if err := provider.UpdateEvent(ctx, eventID, CompletionPatch(*ev, outcome, notes)); err != nil {
		r.logger.Warn("failed to update calendar event", "closer", closerID, "event_id", eventID, "err", err)
		return []string{fmt.Sprintf("calendar event %s not updated: %v", eventID, err)}
	}
	return nil
}

// findEventNear returns the only event starting within matchTolerance of at.
// Several candidates are ambiguous and yield no id.
func (r *Reconciler) findEventNear(ctx context.Context, provider Provider, at time.Time) (id string, ambiguous bool) {
	events, err := provider.ListEvents(ctx, at.Add(-matchTolerance), at.Add(matchTolerance+time.Minute))
	if err != nil {
		r.logger.Warn("failed to look up calendar event", "at", at, "err", err)
		return "", false
	}
	for _, ev := range events {
		diff := ev.Start.Sub(at)
		if diff < 0 {
			diff = -diff
		}
		if diff > matchTolerance {
			continue
		}
		if id != "" {
			return "", true
		}
		id = ev.ID
	}
	return id, false
}

type ScheduleOutcome struct {
	Client   *models.Client   `json:"client"`
	Meeting  *models.Activity `json:"meeting"`
	JoinLink string           `json:"join_link,omitempty"`
	Warnings []string         `json:"warnings,omitempty"`
}

// ScheduleWithCalendar schedules locally and then creates the closer's calendar
// event with a Meet link, linking its id to the pending meeting.
func (r *Reconciler) ScheduleWithCalendar(ctx context.Context, req pipeline.ScheduleRequest, duration time.Duration) (*ScheduleOutcome, error) {
	res, err := r.pipeline.ScheduleMeeting(ctx, req)
	if err != nil {
		return nil, err
	}
	out := &ScheduleOutcome{Client: res.Client, Meeting: res.Meeting}

	provider, err := r.connector.Connect(ctx, req.CloserID)
	if err != nil {
		if !errors.Is(err, credentials.ErrNotLinked) {
			out.Warnings = append(out.Warnings, fmt.Sprintf("calendar unavailable: %v", err))
			r.logger.Warn("calendar unavailable", "closer", req.CloserID, "err", err)
		}
		return out, nil
	}

	if duration <= 0 {
		duration = defaultDuration
	}
	ev, err := provider.InsertEvent(ctx, NewEvent{
		Summary:      "Reunión: " + res.Client.Name,
		Description:  eventDescription(res.Client, req.Notes),
		Start:        req.MeetingTime,
		End:          req.MeetingTime.Add(duration),
		WithMeetLink: true,
	})
	if err != nil {
		r.logger.Warn("failed to create calendar event", "closer", req.CloserID, "err", err)
		out.Warnings = append(out.Warnings, fmt.Sprintf("calendar event not created: %v", err))
		return out, nil
	}

	if err := r.pipeline.LinkExternalEvent(ctx, res.Meeting.ID, ev.ID); err != nil {
		r.logger.Warn("failed to link calendar event", "meeting", res.Meeting.ID, "event_id", ev.ID, "err", err)
		out.Warnings = append(out.Warnings, fmt.Sprintf("calendar event not linked: %v", err))
	} else {
		out.Meeting.ExternalEventID = ev.ID
	}
	out.JoinLink = ev.JoinLink
	return out, nil
}

func eventDescription(c *models.Client, notes string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Cliente: %s\n", c.Name)
	if c.Company != "" {
		fmt.Fprintf(&b, "Empresa: %s\n", c.Company)
	}
	if c.Phone != "" {
		fmt.Fprintf(&b, "Teléfono: %s\n", c.Phone)
	}
	if c.Email != "" {
		fmt.Fprintf(&b, "Email: %s\n", c.Email)
	}
	if notes != "" {
		fmt.Fprintf(&b, "Notas: %s\n", notes)
	}
	return strings.TrimRight(b.String(), "\n")
}

// BusyPeriods returns the closer's busy periods between from and to.
func (r *Reconciler) BusyPeriods(ctx context.Context, closerID string, from, to time.Time) ([]BusySlot, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("window end must be after start: %w", pipeline.ErrInvalidInput)
	}
	provider, err := r.connector.Connect(ctx, closerID)
	if err != nil {
		return nil, err
	}
	return provider.FreeBusy(ctx, from, to)
}
