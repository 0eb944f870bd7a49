// ABOUTME: Meeting scheduling and outcome registration
// ABOUTME: Outcome codes map deterministically to stages; sibling pending meetings are closed
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/funnel/db"
	"github.com/harperreed/funnel/models"
)

const siblingClosedNote = "[Auto] Cerrada al registrar el resultado de otra reunión"

type ScheduleRequest struct {
	ClientID    uuid.UUID
	ActorID     string
	CloserID    string
	MeetingTime time.Time
	Notes       string
}

type ScheduleResult struct {
	Client  *models.Client
	Meeting *models.Activity
}

// ScheduleMeeting moves the client to meeting_scheduled, assigns the closer and
// creates the pending meeting owned by that closer, all in one transaction.
func (s *Service) ScheduleMeeting(ctx context.Context, req ScheduleRequest) (*ScheduleResult, error) {
	if req.CloserID == "" {
		return nil, fmt.Errorf("closer is required: %w", ErrInvalidInput)
	}
	if req.MeetingTime.IsZero() {
		return nil, fmt.Errorf("meeting time is required: %w", ErrInvalidInput)
	}

	unlock := s.locks.Lock(req.ClientID.String())
	defer unlock()

	var result ScheduleResult
	err := s.store.InTx(ctx, func(tx *db.Store) error {
		c, err := tx.Clients.Get(ctx, req.ClientID)
		if err != nil {
			return err
		}
		if !c.IsAssigned(req.ActorID) {
			return ErrForbidden
		}

		closer := req.CloserID
		note := req.Notes
		if note == "" {
			note = fmt.Sprintf("Meeting scheduled for %s", req.MeetingTime.UTC().Format(time.RFC3339))
		}
		if err := s.transition(ctx, tx, c, stepSpec{
			target:   models.StageMeetingScheduled,
			actor:    req.ActorID,
			note:     note,
			closerID: &closer,
		}); err != nil {
			return err
		}

		meeting, err := s.record(ctx, tx, c, RecordRequest{
			ClientID:     c.ID,
			ActorID:      req.CloserID,
			Type:         models.ActivityMeeting,
			Outcome:      models.OutcomePending,
			Description:  fmt.Sprintf("Meeting with %s", c.Name),
			Notes:        req.Notes,
			ScheduledFor: &req.MeetingTime,
		})
		if err != nil {
			return err
		}

		result = ScheduleResult{Client: c, Meeting: meeting}
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}

	s.logger.Info("meeting scheduled", "client", req.ClientID, "closer", req.CloserID, "at", req.MeetingTime)
	return &result, nil
}

type ResolveRequest struct {
	MeetingID   string
	ActorID     string
	OutcomeCode models.Outcome
	Notes       string
}

type ResolveResult struct {
	Client         *models.Client
	Meeting        *models.Activity
	ClosedSiblings []string
}

// ResolveMeeting registers a meeting outcome. The target stage is fixed by the
// outcome code and is reachable from every non-terminal stage.
func (s *Service) ResolveMeeting(ctx context.Context, req ResolveRequest) (*ResolveResult, error) {
	target, ok := OutcomeStage(req.OutcomeCode)
	if !ok {
		return nil, fmt.Errorf("%q is not a meeting outcome: %w", req.OutcomeCode, ErrInvalidOutcome)
	}

	meeting, err := s.store.Activities.Get(ctx, req.MeetingID)
	if err != nil {
		return nil, translate(err)
	}

	unlock := s.locks.Lock(meeting.ClientID.String())
	defer unlock()

	var result ResolveResult
	err = s.store.InTx(ctx, func(tx *db.Store) error {
		meeting, err := tx.Activities.Get(ctx, req.MeetingID)
		if err != nil {
			return err
		}
		if !meeting.IsPendingMeeting() {
			return ErrMeetingNotPending
		}

		c, err := tx.Clients.Get(ctx, meeting.ClientID)
		if err != nil {
			return err
		}
		if meeting.ActorID != req.ActorID && !c.IsAssigned(req.ActorID) {
			return ErrForbidden
		}

		if err := s.transition(ctx, tx, c, stepSpec{
			target:         target,
			actor:          req.ActorID,
			outcome:        req.OutcomeCode,
			note:           req.Notes,
			anyNonTerminal: true,
		}); err != nil {
			return err
		}

		if err := tx.Activities.Resolve(ctx, meeting.ID, req.OutcomeCode, req.Notes); err != nil {
			return err
		}
		meeting.Outcome = req.OutcomeCode
		if req.Notes != "" {
			meeting.Notes = joinNote(meeting.Notes, req.Notes)
		}

		siblingOutcome := models.OutcomeSuccessful
		if target == models.StageLost {
			siblingOutcome = models.OutcomeFailed
		}
		siblings, err := tx.Activities.ListPendingMeetingsForClient(ctx, c.ID)
		if err != nil {
			return err
		}
		for _, sib := range siblings {
			if err := tx.Activities.Resolve(ctx, sib.ID, siblingOutcome, siblingClosedNote); err != nil {
				return err
			}
			result.ClosedSiblings = append(result.ClosedSiblings, sib.ID)
		}

		if req.OutcomeCode == models.OutcomeSale {
			if _, err := s.record(ctx, tx, c, RecordRequest{
				ClientID:    c.ID,
				ActorID:     req.ActorID,
				Type:        models.ActivityConversion,
				Outcome:     models.OutcomeSuccessful,
				Description: "Sale closed",
				Notes:       req.Notes,
			}); err != nil {
				return err
			}
		}

		result.Client = c
		result.Meeting = meeting
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}

	s.logger.Info("meeting resolved", "meeting", req.MeetingID, "outcome", req.OutcomeCode,
		"stage", result.Client.Stage, "closed_siblings", len(result.ClosedSiblings))
	return &result, nil
}

func joinNote(existing, note string) string {
	if existing == "" {
		return note
	}
	return existing + "\n" + note
}
