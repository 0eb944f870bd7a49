// ABOUTME: Tool output shapes shared by the MCP handlers
// ABOUTME: Times are RFC3339 strings and ids are plain strings so output schemas stay simple
package handlers

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/funnel/models"
)

type HistoryEntryOutput struct {
	Stage       string `json:"stage"`
	At          string `json:"fecha"`
	ActorID     string `json:"vendedor"`
	Outcome     string `json:"resultado,omitempty"`
	Description string `json:"descripcion,omitempty"`
}

type ClientOutput struct {
	ID                string               `json:"id"`
	Name              string               `json:"name"`
	Phone             string               `json:"phone,omitempty"`
	Email             string               `json:"email,omitempty"`
	Company           string               `json:"company,omitempty"`
	ProspectorID      string               `json:"prospector_id"`
	CloserID          string               `json:"closer_id,omitempty"`
	Stage             string               `json:"stage"`
	Status            string               `json:"status"`
	Version           int64                `json:"version"`
	History           []HistoryEntryOutput `json:"stage_history"`
	LastInteractionAt string               `json:"last_interaction_at,omitempty"`
	NextCallAt        string               `json:"next_call_at,omitempty"`
}

type ActivityOutput struct {
	ID              string `json:"id"`
	ClientID        string `json:"client_id"`
	ActorID         string `json:"actor_id"`
	Type            string `json:"type"`
	Timestamp       string `json:"timestamp"`
	Outcome         string `json:"outcome"`
	Description     string `json:"description,omitempty"`
	Notes           string `json:"notes,omitempty"`
	ExternalEventID string `json:"external_event_id,omitempty"`
}

func clientToOutput(c *models.Client) ClientOutput {
	out := ClientOutput{
		ID:           c.ID.String(),
		Name:         c.Name,
		Phone:        c.Phone,
		Email:        c.Email,
		Company:      c.Company,
		ProspectorID: c.AssignedProspectorID,
		Stage:        string(c.Stage),
		Status:       string(c.Status),
		Version:      c.Version,
		History:      make([]HistoryEntryOutput, len(c.StageHistory)),
	}
	if c.AssignedCloserID != nil {
		out.CloserID = *c.AssignedCloserID
	}
	for i, e := range c.StageHistory {
		out.History[i] = HistoryEntryOutput{
			Stage:       string(e.Stage),
			At:          formatTime(e.At),
			ActorID:     e.ActorID,
			Outcome:     string(e.Outcome),
			Description: e.Description,
		}
	}
	if c.LastInteractionAt != nil {
		out.LastInteractionAt = formatTime(*c.LastInteractionAt)
	}
	if c.NextCallAt != nil {
		out.NextCallAt = formatTime(*c.NextCallAt)
	}
	return out
}

func activityToOutput(a *models.Activity) ActivityOutput {
	return ActivityOutput{
		ID:              a.ID,
		ClientID:        a.ClientID.String(),
		ActorID:         a.ActorID,
		Type:            string(a.Type),
		Timestamp:       formatTime(a.Timestamp),
		Outcome:         string(a.Outcome),
		Description:     a.Description,
		Notes:           a.Notes,
		ExternalEventID: a.ExternalEventID,
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseClientID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, fmt.Errorf("client_id is required")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid client_id: %w", err)
	}
	return id, nil
}

func parseTime(field, s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s (want RFC3339): %w", field, err)
	}
	return t, nil
}
