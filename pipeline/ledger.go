// ABOUTME: Activity ledger: append-only interaction log that drives automatic transitions
// ABOUTME: A successful call on a fresh prospect moves it to in_contact
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/funnel/db"
	"github.com/harperreed/funnel/models"
)

type RecordRequest struct {
	ClientID     uuid.UUID
	ActorID      string
	Type         models.ActivityType
	Outcome      models.Outcome
	Description  string
	Notes        string
	ScheduledFor *time.Time
}

// Record appends an activity and refreshes the client's interaction time.
func (s *Service) Record(ctx context.Context, req RecordRequest) (*models.Activity, error) {
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%q: %w", req.Type, ErrInvalidActivityType)
	}
	if req.Outcome == "" {
		req.Outcome = models.OutcomePending
	}
	if !req.Outcome.Valid() {
		return nil, fmt.Errorf("%q: %w", req.Outcome, ErrInvalidOutcome)
	}
	if req.ActorID == "" {
		return nil, fmt.Errorf("actor is required: %w", ErrInvalidInput)
	}

	unlock := s.locks.Lock(req.ClientID.String())
	defer unlock()

	var out *models.Activity
	err := s.store.InTx(ctx, func(tx *db.Store) error {
		c, err := tx.Clients.Get(ctx, req.ClientID)
		if err != nil {
			return err
		}

		a, err := s.record(ctx, tx, c, req)
		if err != nil {
			return err
		}

		// Anyone may log an interaction; only an assigned agent moves the stage.
		if req.Type == models.ActivityCall && req.Outcome == models.OutcomeSuccessful &&
			c.CurrentStage() == models.StageProspectNew && c.IsAssigned(req.ActorID) {
			if err := s.transition(ctx, tx, c, stepSpec{
				target: models.StageInContact,
				actor:  req.ActorID,
				note:   req.Description,
			}); err != nil {
				return err
			}
		}

		out = a
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}
	return out, nil
}

// record inserts the activity row and touches the client. Caller holds the lock.
func (s *Service) record(ctx context.Context, tx *db.Store, c *models.Client, req RecordRequest) (*models.Activity, error) {
	now := s.now()
	a := &models.Activity{
		ID:          db.NewActivityID(now),
		ClientID:    c.ID,
		ActorID:     req.ActorID,
		Type:        req.Type,
		Timestamp:   now,
		Description: req.Description,
		Outcome:     req.Outcome,
		Notes:       req.Notes,
	}
	// For meetings ScheduledFor is the meeting time; for calls it is the next call.
	if req.ScheduledFor != nil && req.Type == models.ActivityMeeting {
		a.Timestamp = req.ScheduledFor.UTC()
	}

	if err := tx.Activities.Create(ctx, a); err != nil {
		return nil, err
	}

	var nextCall *time.Time
	if req.Type == models.ActivityCall && req.ScheduledFor != nil && req.ScheduledFor.After(now) {
		nextCall = ptrTime(req.ScheduledFor.UTC())
	}
	if err := tx.Clients.Touch(ctx, c.ID, now, nextCall); err != nil {
		return nil, err
	}
	c.LastInteractionAt = &now

	s.logger.Debug("activity recorded", "client", c.ID, "type", a.Type, "outcome", a.Outcome, "actor", a.ActorID)
	return a, nil
}

// Timeline lists a client's activities, oldest first.
func (s *Service) Timeline(ctx context.Context, clientID uuid.UUID) ([]models.Activity, error) {
	if _, err := s.store.Clients.Get(ctx, clientID); err != nil {
		return nil, translate(err)
	}
	return s.store.Activities.ListByClient(ctx, clientID)
}

// PendingMeetings lists the meetings owned by a closer that still await an outcome.
func (s *Service) PendingMeetings(ctx context.Context, closerID string) ([]models.Activity, error) {
	return s.store.Activities.ListPendingMeetings(ctx, closerID)
}

// PendingMeetingsForClient lists a client's meetings that still await an outcome.
func (s *Service) PendingMeetingsForClient(ctx context.Context, clientID uuid.UUID) ([]models.Activity, error) {
	return s.store.Activities.ListPendingMeetingsForClient(ctx, clientID)
}

// ResolveActivity closes a pending activity without touching the client's stage.
// Used by calendar reconciliation for stale or externally removed meetings.
func (s *Service) ResolveActivity(ctx context.Context, activityID string, outcome models.Outcome, note string) error {
	if !outcome.Valid() {
		return fmt.Errorf("%q: %w", outcome, ErrInvalidOutcome)
	}
	a, err := s.store.Activities.Get(ctx, activityID)
	if err != nil {
		return translate(err)
	}

	unlock := s.locks.Lock(a.ClientID.String())
	defer unlock()

	current, err := s.store.Activities.Get(ctx, activityID)
	if err != nil {
		return translate(err)
	}
	if current.Outcome != models.OutcomePending {
		return nil
	}
	return translate(s.store.Activities.Resolve(ctx, activityID, outcome, note))
}

// LinkExternalEvent records the calendar event id created for a meeting.
func (s *Service) LinkExternalEvent(ctx context.Context, activityID, eventID string) error {
	return translate(s.store.Activities.LinkExternalEvent(ctx, activityID, eventID))
}
