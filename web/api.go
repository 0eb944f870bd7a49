// ABOUTME: REST endpoint handlers for the pipeline, calendar and monitoring
// ABOUTME: Request bodies use camelCase fields; the caller's agent id comes from RequireAgent
package web

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/harperreed/funnel/credentials"
	"github.com/harperreed/funnel/metrics"
	"github.com/harperreed/funnel/models"
	"github.com/harperreed/funnel/pipeline"
	"github.com/harperreed/funnel/sync"
)

var errUpstream = errors.New("calendar provider error")

func parseUUID(field, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s %q: %w", field, raw, errBadRequest)
	}
	return id, nil
}

func parseRFC3339(field, raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q, expected RFC3339: %w", field, raw, errBadRequest)
	}
	return t.UTC(), nil
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	snap, err := s.funnel.ComputeFunnel(r.Context(), AgentID(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	res, err := s.reconciler.GetReconciledMeetings(r.Context(), AgentID(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type registerMeetingRequest struct {
	MeetingID   string `json:"meetingId"`
	ClientID    string `json:"clientId"`
	OutcomeCode string `json:"outcomeCode"`
	Notes       string `json:"notes"`
}

func (s *Server) handleRegisterMeeting(w http.ResponseWriter, r *http.Request) {
	var req registerMeetingRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	agent := AgentID(r.Context())
	outcome := models.Outcome(req.OutcomeCode)

	var (
		res *sync.OutcomeResult
		err error
	)
	switch {
	case req.MeetingID != "":
		res, err = s.reconciler.RegisterMeetingOutcome(r.Context(), sync.OutcomeRequest{
			MeetingID:   req.MeetingID,
			ActorID:     agent,
			OutcomeCode: outcome,
			Notes:       req.Notes,
		})
	case req.ClientID != "":
		clientID, perr := parseUUID("clientId", req.ClientID)
		if perr != nil {
			s.writeError(w, r, perr)
			return
		}
		res, err = s.reconciler.RegisterOutcomeForClient(r.Context(), clientID, agent, outcome, req.Notes)
	default:
		err = fmt.Errorf("meetingId or clientId is required: %w", errBadRequest)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type markEventRequest struct {
	ExternalEventID string `json:"externalEventId"`
	ClientID        string `json:"clientId"`
	OutcomeCode     string `json:"outcomeCode"`
	Notes           string `json:"notes"`
}

func (s *Server) handleMarkEventCompleted(w http.ResponseWriter, r *http.Request) {
	var req markEventRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	completion := sync.CompletionRequest{
		ExternalEventID: req.ExternalEventID,
		CloserID:        AgentID(r.Context()),
		OutcomeCode:     models.Outcome(req.OutcomeCode),
		Notes:           req.Notes,
	}
	if req.ClientID != "" {
		clientID, err := parseUUID("clientId", req.ClientID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		completion.ClientID = &clientID
	}

	rec, err := s.reconciler.MarkEventCompleted(r.Context(), completion)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type markExternalRequest struct {
	OutcomeCode string `json:"outcomeCode"`
	Notes       string `json:"notes"`
}

type markExternalResponse struct {
	ExternalEventID string   `json:"externalEventId"`
	Updated         bool     `json:"updated"`
	Warnings        []string `json:"warnings,omitempty"`
}

func (s *Server) handleMarkExternalCompleted(w http.ResponseWriter, r *http.Request) {
	var req markExternalRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	eventID := chi.URLParam(r, "externalEventId")
	warnings, err := s.reconciler.MarkExternalCompleted(r.Context(), AgentID(r.Context()), eventID, models.Outcome(req.OutcomeCode), req.Notes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, markExternalResponse{
		ExternalEventID: eventID,
		Updated:         len(warnings) == 0,
		Warnings:        warnings,
	})
}

type scheduleRequest struct {
	ClientID        string `json:"clientId"`
	CloserID        string `json:"closerId"`
	MeetingTime     string `json:"meetingTime"`
	Notes           string `json:"notes"`
	DurationMinutes int    `json:"durationMinutes"`
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	clientID, err := parseUUID("clientId", req.ClientID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	at, err := parseRFC3339("meetingTime", req.MeetingTime)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.reconciler.ScheduleWithCalendar(r.Context(), pipeline.ScheduleRequest{
		ClientID:    clientID,
		ActorID:     AgentID(r.Context()),
		CloserID:    req.CloserID,
		MeetingTime: at,
		Notes:       req.Notes,
	}, time.Duration(req.DurationMinutes)*time.Minute)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	from, to := now, now.Add(7*24*time.Hour)
	var err error
	if raw := r.URL.Query().Get("from"); raw != "" {
		if from, err = parseRFC3339("from", raw); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		if to, err = parseRFC3339("to", raw); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	busy, err := s.reconciler.BusyPeriods(r.Context(), AgentID(r.Context()), from, to)
	if err != nil {
		if !errors.Is(err, credentials.ErrNotLinked) && !errors.Is(err, pipeline.ErrInvalidInput) {
			err = fmt.Errorf("%w: %v", errUpstream, err)
		}
		s.writeError(w, r, err)
		return
	}
	if busy == nil {
		busy = []sync.BusySlot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"from": from,
		"to":   to,
		"busy": busy,
	})
}

type monitoringResponse struct {
	Period metrics.Period       `json:"period"`
	Agents []metrics.AgentScore `json:"agents"`
}

func (s *Server) handleMonitoring(w http.ResponseWriter, r *http.Request) {
	period, err := metrics.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%v: %w", err, errBadRequest))
		return
	}
	ranked, err := s.monitor.Rank(r.Context(), period)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if ranked == nil {
		ranked = []metrics.AgentScore{}
	}
	writeJSON(w, http.StatusOK, monitoringResponse{Period: period, Agents: ranked})
}

type createClientRequest struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
	Company string `json:"company"`
}

func (s *Server) handleCreateClient(w http.ResponseWriter, r *http.Request) {
	var req createClientRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.pipeline.CreateClient(r.Context(), pipeline.NewClientRequest{
		Name:         req.Name,
		Phone:        req.Phone,
		Email:        req.Email,
		Company:      req.Company,
		ProspectorID: AgentID(r.Context()),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleGetClient(w http.ResponseWriter, r *http.Request) {
	clientID, err := parseUUID("clientId", chi.URLParam(r, "clientId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.pipeline.GetClient(r.Context(), clientID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type changeStageRequest struct {
	TargetStage string `json:"targetStage"`
	Override    string `json:"override"`
	Note        string `json:"note"`
	OutcomeCode string `json:"outcomeCode"`
}

func (s *Server) handleChangeStage(w http.ResponseWriter, r *http.Request) {
	clientID, err := parseUUID("clientId", chi.URLParam(r, "clientId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req changeStageRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	c, err := s.pipeline.ApplyTransition(r.Context(), pipeline.TransitionRequest{
		ClientID:    clientID,
		TargetStage: models.Stage(req.TargetStage),
		ActorID:     AgentID(r.Context()),
		OutcomeCode: models.Outcome(req.OutcomeCode),
		Note:        req.Note,
		Override:    pipeline.Override(req.Override),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	clientID, err := parseUUID("clientId", chi.URLParam(r, "clientId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	activities, err := s.pipeline.Timeline(r.Context(), clientID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if activities == nil {
		activities = []models.Activity{}
	}
	writeJSON(w, http.StatusOK, activities)
}

type recordActivityRequest struct {
	ClientID     string `json:"clientId"`
	Type         string `json:"type"`
	OutcomeCode  string `json:"outcomeCode"`
	Description  string `json:"description"`
	Notes        string `json:"notes"`
	ScheduledFor string `json:"scheduledFor"`
}

func (s *Server) handleRecordActivity(w http.ResponseWriter, r *http.Request) {
	var req recordActivityRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	clientID, err := parseUUID("clientId", req.ClientID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	rec := pipeline.RecordRequest{
		ClientID:    clientID,
		ActorID:     AgentID(r.Context()),
		Type:        models.ActivityType(req.Type),
		Outcome:     models.Outcome(req.OutcomeCode),
		Description: req.Description,
		Notes:       req.Notes,
	}
	if req.ScheduledFor != "" {
		at, err := parseRFC3339("scheduledFor", req.ScheduledFor)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		rec.ScheduledFor = &at
	}

	a, err := s.pipeline.Record(r.Context(), rec)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}
