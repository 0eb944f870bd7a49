// ABOUTME: Pipeline MCP tool handlers
// ABOUTME: Implements create_client, change_stage, log_activity, schedule_meeting, register_meeting_outcome and mark_event_completed
package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/harperreed/funnel/models"
	"github.com/harperreed/funnel/pipeline"
	"github.com/harperreed/funnel/sync"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type PipelineHandlers struct {
	svc *pipeline.Service
	rec *sync.Reconciler
}

func NewPipelineHandlers(svc *pipeline.Service, rec *sync.Reconciler) *PipelineHandlers {
	return &PipelineHandlers{svc: svc, rec: rec}
}

type CreateClientInput struct {
	AgentID string `json:"agent_id" jsonschema:"Prospector creating the client (required)"`
	Name    string `json:"name" jsonschema:"Client name (required)"`
	Phone   string `json:"phone,omitempty" jsonschema:"Phone number"`
	Email   string `json:"email,omitempty" jsonschema:"Email address"`
	Company string `json:"company,omitempty" jsonschema:"Company name"`
}

func (h *PipelineHandlers) CreateClient(ctx context.Context, _ *mcp.CallToolRequest, input CreateClientInput) (*mcp.CallToolResult, ClientOutput, error) {
	c, err := h.svc.CreateClient(ctx, pipeline.NewClientRequest{
		Name:         input.Name,
		Phone:        input.Phone,
		Email:        input.Email,
		Company:      input.Company,
		ProspectorID: input.AgentID,
	})
	if err != nil {
		return nil, ClientOutput{}, fmt.Errorf("failed to create client: %w", err)
	}
	return nil, clientToOutput(c), nil
}

type ChangeStageInput struct {
	AgentID     string `json:"agent_id" jsonschema:"Agent performing the change (required)"`
	ClientID    string `json:"client_id" jsonschema:"Client ID (required)"`
	TargetStage string `json:"target_stage,omitempty" jsonschema:"Stage to move to (prospect_new, in_contact, meeting_scheduled, meeting_completed, negotiating, sale_won, lost)"`
	Override    string `json:"override,omitempty" jsonschema:"Explicit shortcut: convert_to_customer or discard_prospect"`
	Outcome     string `json:"outcome,omitempty" jsonschema:"Outcome code to record on the history entry"`
	Note        string `json:"note,omitempty" jsonschema:"Free text for the history entry"`
}

func (h *PipelineHandlers) ChangeStage(ctx context.Context, _ *mcp.CallToolRequest, input ChangeStageInput) (*mcp.CallToolResult, ClientOutput, error) {
	clientID, err := parseClientID(input.ClientID)
	if err != nil {
		return nil, ClientOutput{}, err
	}

	c, err := h.svc.ApplyTransition(ctx, pipeline.TransitionRequest{
		ClientID:    clientID,
		TargetStage: models.Stage(input.TargetStage),
		ActorID:     input.AgentID,
		OutcomeCode: models.Outcome(input.Outcome),
		Note:        input.Note,
		Override:    pipeline.Override(input.Override),
	})
	if err != nil {
		return nil, ClientOutput{}, fmt.Errorf("failed to change stage: %w", err)
	}
	return nil, clientToOutput(c), nil
}

type LogActivityInput struct {
	AgentID      string `json:"agent_id" jsonschema:"Agent who performed the activity (required)"`
	ClientID     string `json:"client_id" jsonschema:"Client ID (required)"`
	Type         string `json:"type" jsonschema:"Activity type: call, message, email, whatsapp, meeting or conversion"`
	Outcome      string `json:"outcome,omitempty" jsonschema:"Outcome code (default pending)"`
	Description  string `json:"description,omitempty" jsonschema:"Short description"`
	Notes        string `json:"notes,omitempty" jsonschema:"Free text notes"`
	ScheduledFor string `json:"scheduled_for,omitempty" jsonschema:"RFC3339 time; for meetings the scheduled time, otherwise the next call"`
}

func (h *PipelineHandlers) LogActivity(ctx context.Context, _ *mcp.CallToolRequest, input LogActivityInput) (*mcp.CallToolResult, ActivityOutput, error) {
	clientID, err := parseClientID(input.ClientID)
	if err != nil {
		return nil, ActivityOutput{}, err
	}

	req := pipeline.RecordRequest{
		ClientID:    clientID,
		ActorID:     input.AgentID,
		Type:        models.ActivityType(input.Type),
		Outcome:     models.Outcome(input.Outcome),
		Description: input.Description,
		Notes:       input.Notes,
	}
	if input.ScheduledFor != "" {
		at, err := parseTime("scheduled_for", input.ScheduledFor)
		if err != nil {
			return nil, ActivityOutput{}, err
		}
		req.ScheduledFor = &at
	}

	a, err := h.svc.Record(ctx, req)
	if err != nil {
		return nil, ActivityOutput{}, fmt.Errorf("failed to log activity: %w", err)
	}
	return nil, activityToOutput(a), nil
}

type ScheduleMeetingInput struct {
	AgentID         string `json:"agent_id" jsonschema:"Agent scheduling the meeting (required)"`
	ClientID        string `json:"client_id" jsonschema:"Client ID (required)"`
	CloserID        string `json:"closer_id" jsonschema:"Closer who will attend (required)"`
	MeetingTime     string `json:"meeting_time" jsonschema:"RFC3339 start time (required)"`
	DurationMinutes int    `json:"duration_minutes,omitempty" jsonschema:"Meeting length in minutes (default 60)"`
	Notes           string `json:"notes,omitempty" jsonschema:"Notes for the meeting"`
}

type ScheduleMeetingOutput struct {
	Client   ClientOutput   `json:"client"`
	Meeting  ActivityOutput `json:"meeting"`
	JoinLink string         `json:"join_link,omitempty"`
	Warnings []string       `json:"warnings,omitempty"`
}

func (h *PipelineHandlers) ScheduleMeeting(ctx context.Context, _ *mcp.CallToolRequest, input ScheduleMeetingInput) (*mcp.CallToolResult, ScheduleMeetingOutput, error) {
	clientID, err := parseClientID(input.ClientID)
	if err != nil {
		return nil, ScheduleMeetingOutput{}, err
	}
	at, err := parseTime("meeting_time", input.MeetingTime)
	if err != nil {
		return nil, ScheduleMeetingOutput{}, err
	}

	res, err := h.rec.ScheduleWithCalendar(ctx, pipeline.ScheduleRequest{
		ClientID:    clientID,
		ActorID:     input.AgentID,
		CloserID:    input.CloserID,
		MeetingTime: at,
		Notes:       input.Notes,
	}, time.Duration(input.DurationMinutes)*time.Minute)
	if err != nil {
		return nil, ScheduleMeetingOutput{}, fmt.Errorf("failed to schedule meeting: %w", err)
	}

	return nil, ScheduleMeetingOutput{
		Client:   clientToOutput(res.Client),
		Meeting:  activityToOutput(res.Meeting),
		JoinLink: res.JoinLink,
		Warnings: res.Warnings,
	}, nil
}

type RegisterOutcomeInput struct {
	AgentID   string `json:"agent_id" jsonschema:"Closer registering the result (required)"`
	MeetingID string `json:"meeting_id,omitempty" jsonschema:"Pending meeting ID"`
	ClientID  string `json:"client_id,omitempty" jsonschema:"Client ID; used when meeting_id is empty to pick the earliest pending meeting"`
	Outcome   string `json:"outcome" jsonschema:"no_show, no_interest, wants_another_meeting, wants_quote or sale"`
	Notes     string `json:"notes,omitempty" jsonschema:"Meeting notes"`
}

type OutcomeOutput struct {
	Client   ClientOutput   `json:"client"`
	Meeting  ActivityOutput `json:"meeting"`
	Warnings []string       `json:"warnings,omitempty"`
}

func (h *PipelineHandlers) RegisterMeetingOutcome(ctx context.Context, _ *mcp.CallToolRequest, input RegisterOutcomeInput) (*mcp.CallToolResult, OutcomeOutput, error) {
	var (
		res *sync.OutcomeResult
		err error
	)
	outcome := models.Outcome(input.Outcome)
	switch {
	case input.MeetingID != "":
		res, err = h.rec.RegisterMeetingOutcome(ctx, sync.OutcomeRequest{
			MeetingID:   input.MeetingID,
			ActorID:     input.AgentID,
			OutcomeCode: outcome,
			Notes:       input.Notes,
		})
	case input.ClientID != "":
		clientID, perr := parseClientID(input.ClientID)
		if perr != nil {
			return nil, OutcomeOutput{}, perr
		}
		res, err = h.rec.RegisterOutcomeForClient(ctx, clientID, input.AgentID, outcome, input.Notes)
	default:
		return nil, OutcomeOutput{}, fmt.Errorf("meeting_id or client_id is required")
	}
	if err != nil {
		return nil, OutcomeOutput{}, fmt.Errorf("failed to register outcome: %w", err)
	}

	return nil, OutcomeOutput{
		Client:   clientToOutput(res.Client),
		Meeting:  activityToOutput(res.Meeting),
		Warnings: res.Warnings,
	}, nil
}

type MarkEventCompletedInput struct {
	AgentID         string `json:"agent_id" jsonschema:"Closer who owns the calendar event (required)"`
	ExternalEventID string `json:"external_event_id" jsonschema:"Google Calendar event ID (required)"`
	ClientID        string `json:"client_id,omitempty" jsonschema:"Client the event belonged to"`
	Outcome         string `json:"outcome,omitempty" jsonschema:"Outcome code"`
	Notes           string `json:"notes,omitempty" jsonschema:"Notes"`
	UpdateCalendar  bool   `json:"update_calendar,omitempty" jsonschema:"Also rewrite the event title and description"`
}

type MarkEventCompletedOutput struct {
	ExternalEventID string   `json:"external_event_id"`
	Outcome         string   `json:"outcome,omitempty"`
	CompletedAt     string   `json:"completed_at"`
	Warnings        []string `json:"warnings,omitempty"`
}

func (h *PipelineHandlers) MarkEventCompleted(ctx context.Context, _ *mcp.CallToolRequest, input MarkEventCompletedInput) (*mcp.CallToolResult, MarkEventCompletedOutput, error) {
	req := sync.CompletionRequest{
		ExternalEventID: input.ExternalEventID,
		CloserID:        input.AgentID,
		OutcomeCode:     models.Outcome(input.Outcome),
		Notes:           input.Notes,
	}
	if input.ClientID != "" {
		clientID, err := parseClientID(input.ClientID)
		if err != nil {
			return nil, MarkEventCompletedOutput{}, err
		}
		req.ClientID = &clientID
	}

	rec, err := h.rec.MarkEventCompleted(ctx, req)
	if err != nil {
		return nil, MarkEventCompletedOutput{}, fmt.Errorf("failed to mark event completed: %w", err)
	}
	out := MarkEventCompletedOutput{
		ExternalEventID: rec.ExternalEventID,
		Outcome:         string(rec.Outcome),
		CompletedAt:     formatTime(rec.CompletedAt),
	}

	if input.UpdateCalendar {
		warnings, err := h.rec.MarkExternalCompleted(ctx, input.AgentID, input.ExternalEventID, req.OutcomeCode, input.Notes)
		if err != nil {
			return nil, MarkEventCompletedOutput{}, fmt.Errorf("failed to update calendar event: %w", err)
		}
		out.Warnings = warnings
	}
	return nil, out, nil
}
