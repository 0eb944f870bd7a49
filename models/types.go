// ABOUTME: Data models for the sales pipeline
// ABOUTME: Defines Client, StageEntry, Activity, CompletionRecord and the stage/outcome enums
package models

import (
	"time"

	"github.com/google/uuid"
)

// Stage is a funnel position of a client.
type Stage string

const (
	StageProspectNew      Stage = "prospect_new"
	StageInContact        Stage = "in_contact"
	StageMeetingScheduled Stage = "meeting_scheduled"
	StageMeetingCompleted Stage = "meeting_completed"
	StageNegotiating      Stage = "negotiating"
	StageSaleWon          Stage = "sale_won"
	StageLost             Stage = "lost"
)

// AllStages lists the stages in funnel order.
var AllStages = []Stage{
	StageProspectNew,
	StageInContact,
	StageMeetingScheduled,
	StageMeetingCompleted,
	StageNegotiating,
	StageSaleWon,
	StageLost,
}

func (s Stage) Valid() bool {
	for _, st := range AllStages {
		if s == st {
			return true
		}
	}
	return false
}

func (s Stage) Terminal() bool {
	return s == StageSaleWon || s == StageLost
}

// Status is the coarse business status derived from the stage.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusWon        Status = "won"
	StatusLost       Status = "lost"
)

// StatusFor derives the client status for a stage.
func StatusFor(s Stage) Status {
	switch s {
	case StageSaleWon:
		return StatusWon
	case StageLost:
		return StatusLost
	default:
		return StatusInProgress
	}
}

type ActivityType string

const (
	ActivityCall       ActivityType = "call"
	ActivityMessage    ActivityType = "message"
	ActivityEmail      ActivityType = "email"
	ActivityWhatsapp   ActivityType = "whatsapp"
	ActivityMeeting    ActivityType = "meeting"
	ActivityConversion ActivityType = "conversion"
)

func (t ActivityType) Valid() bool {
	switch t {
	case ActivityCall, ActivityMessage, ActivityEmail, ActivityWhatsapp, ActivityMeeting, ActivityConversion:
		return true
	}
	return false
}

// Outcome covers both the generic activity results and the meeting outcome codes.
type Outcome string

const (
	OutcomeSuccessful Outcome = "successful"
	OutcomePending    Outcome = "pending"
	OutcomeFailed     Outcome = "failed"

	OutcomeNoShow              Outcome = "no_show"
	OutcomeNoInterest          Outcome = "no_interest"
	OutcomeWantsAnotherMeeting Outcome = "wants_another_meeting"
	OutcomeWantsQuote          Outcome = "wants_quote"
	OutcomeSale                Outcome = "sale"
)

func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSuccessful, OutcomePending, OutcomeFailed:
		return true
	}
	return o.IsMeetingOutcome()
}

// IsMeetingOutcome reports whether o is one of the codes a closer registers after a meeting.
func (o Outcome) IsMeetingOutcome() bool {
	switch o {
	case OutcomeNoShow, OutcomeNoInterest, OutcomeWantsAnotherMeeting, OutcomeWantsQuote, OutcomeSale:
		return true
	}
	return false
}

// StageEntry is one element of a client's append-only stage history.
type StageEntry struct {
	Stage       Stage     `json:"stage"`
	At          time.Time `json:"fecha"`
	ActorID     string    `json:"vendedor"`
	Outcome     Outcome   `json:"resultado,omitempty"`
	Description string    `json:"descripcion,omitempty"`
}

type Client struct {
	ID                   uuid.UUID    `json:"id"`
	Name                 string       `json:"name"`
	Phone                string       `json:"phone,omitempty"`
	Email                string       `json:"email,omitempty"`
	Company              string       `json:"company,omitempty"`
	AssignedProspectorID string       `json:"assigned_prospector_id"`
	AssignedCloserID     *string      `json:"assigned_closer_id,omitempty"`
	Stage                Stage        `json:"stage"`
	Status               Status       `json:"status"`
	StageHistory         []StageEntry `json:"stage_history"`
	LastInteractionAt    *time.Time   `json:"last_interaction_at,omitempty"`
	NextCallAt           *time.Time   `json:"next_call_at,omitempty"`
	Version              int64        `json:"version"`
	CreatedAt            time.Time    `json:"created_at"`
	UpdatedAt            time.Time    `json:"updated_at"`
}

// CurrentStage folds the history; the last entry is authoritative.
func (c *Client) CurrentStage() Stage {
	if len(c.StageHistory) == 0 {
		return StageProspectNew
	}
	return c.StageHistory[len(c.StageHistory)-1].Stage
}

// LastOutcome returns the most recent outcome code recorded in the history, if any.
func (c *Client) LastOutcome() Outcome {
	for i := len(c.StageHistory) - 1; i >= 0; i-- {
		if c.StageHistory[i].Outcome != "" {
			return c.StageHistory[i].Outcome
		}
	}
	return ""
}

// HasOutcome reports whether any history entry carries the given outcome.
func (c *Client) HasOutcome(o Outcome) bool {
	for _, e := range c.StageHistory {
		if e.Outcome == o {
			return true
		}
	}
	return false
}

// IsAssigned reports whether actor is the client's prospector or closer.
func (c *Client) IsAssigned(actorID string) bool {
	if actorID == "" {
		return false
	}
	if c.AssignedProspectorID == actorID {
		return true
	}
	return c.AssignedCloserID != nil && *c.AssignedCloserID == actorID
}

type Activity struct {
	ID              string       `json:"id"`
	ClientID        uuid.UUID    `json:"client_id"`
	ActorID         string       `json:"actor_id"`
	Type            ActivityType `json:"type"`
	Timestamp       time.Time    `json:"timestamp"`
	Description     string       `json:"description,omitempty"`
	Outcome         Outcome      `json:"outcome"`
	Notes           string       `json:"notes,omitempty"`
	ExternalEventID string       `json:"external_event_id,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
}

// IsPendingMeeting reports whether the activity is a meeting still waiting for an outcome.
func (a *Activity) IsPendingMeeting() bool {
	return a.Type == ActivityMeeting && a.Outcome == OutcomePending
}

// CompletionRecord marks an external calendar event as resolved by a closer.
type CompletionRecord struct {
	ExternalEventID string     `json:"external_event_id"`
	CloserID        string     `json:"closer_id"`
	ClientID        *uuid.UUID `json:"client_id,omitempty"`
	Outcome         Outcome    `json:"outcome,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	CompletedAt     time.Time  `json:"completed_at"`
}

// SyncState tracks the last reconciliation pass for a service key.
type SyncState struct {
	Service       string     `json:"service"`
	LastSyncTime  *time.Time `json:"last_sync_time,omitempty"`
	LastSyncToken *string    `json:"last_sync_token,omitempty"`
	Status        string     `json:"status"`
	ErrorMessage  *string    `json:"error_message,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

const (
	SyncStatusIdle    = "idle"
	SyncStatusSyncing = "syncing"
	SyncStatusError   = "error"
)

// AgentActivityCount aggregates ledger activity for one agent over a period.
type AgentActivityCount struct {
	AgentID  string `json:"agent_id"`
	Calls    int    `json:"calls"`
	Meetings int    `json:"meetings"`
}
