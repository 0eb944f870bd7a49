// ABOUTME: Read-side MCP tool handlers
// ABOUTME: Implements funnel_dashboard, reconcile_calendar and agent_performance tools
package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/harperreed/funnel/metrics"
	"github.com/harperreed/funnel/sync"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type ReportHandlers struct {
	funnel  *metrics.Aggregator
	monitor *metrics.Monitor
	rec     *sync.Reconciler
}

func NewReportHandlers(funnel *metrics.Aggregator, monitor *metrics.Monitor, rec *sync.Reconciler) *ReportHandlers {
	return &ReportHandlers{funnel: funnel, monitor: monitor, rec: rec}
}

type CloserInput struct {
	CloserID string `json:"closer_id" jsonschema:"Closer agent ID (required)"`
}

func (h *ReportHandlers) FunnelDashboard(ctx context.Context, _ *mcp.CallToolRequest, input CloserInput) (*mcp.CallToolResult, metrics.FunnelSnapshot, error) {
	if input.CloserID == "" {
		return nil, metrics.FunnelSnapshot{}, fmt.Errorf("closer_id is required")
	}
	snap, err := h.funnel.ComputeFunnel(ctx, input.CloserID)
	if err != nil {
		return nil, metrics.FunnelSnapshot{}, err
	}
	return nil, *snap, nil
}

type MeetingOutput struct {
	ActivityOutput
	JoinLink string `json:"join_link,omitempty"`
	Verified bool   `json:"verified"`
}

type ExternalEventOutput struct {
	ID           string `json:"id"`
	Summary      string `json:"summary"`
	Start        string `json:"start"`
	End          string `json:"end,omitempty"`
	JoinLink     string `json:"join_link,omitempty"`
	Completed    bool   `json:"completed"`
	Outcome      string `json:"outcome,omitempty"`
	NeedsOutcome bool   `json:"needs_outcome"`
	// Client whose email is among the attendees, when one matches
	SuggestedClientID string `json:"suggested_client_id,omitempty"`
}

type AutoResolvedOutput struct {
	ActivityID string `json:"activity_id"`
	ClientID   string `json:"client_id"`
	Reason     string `json:"reason"`
}

type ReconcileOutput struct {
	Meetings       []MeetingOutput       `json:"meetings"`
	ExternalEvents []ExternalEventOutput `json:"external_events"`
	AutoResolved   []AutoResolvedOutput  `json:"auto_resolved"`
	Warnings       []string              `json:"warnings,omitempty"`
	CalendarLinked bool                  `json:"calendar_linked"`
}

func (h *ReportHandlers) ReconcileCalendar(ctx context.Context, _ *mcp.CallToolRequest, input CloserInput) (*mcp.CallToolResult, ReconcileOutput, error) {
	if input.CloserID == "" {
		return nil, ReconcileOutput{}, fmt.Errorf("closer_id is required")
	}
	res, err := h.rec.GetReconciledMeetings(ctx, input.CloserID)
	if err != nil {
		return nil, ReconcileOutput{}, fmt.Errorf("failed to reconcile calendar: %w", err)
	}
	return nil, reconciliationToOutput(res, time.Now().UTC()), nil
}

func reconciliationToOutput(res *sync.Reconciliation, now time.Time) ReconcileOutput {
	out := ReconcileOutput{
		Meetings:       make([]MeetingOutput, 0, len(res.Meetings)),
		ExternalEvents: make([]ExternalEventOutput, 0, len(res.ExternalEvents)),
		AutoResolved:   make([]AutoResolvedOutput, 0, len(res.AutoResolved)),
		Warnings:       res.Warnings,
		CalendarLinked: res.CalendarLinked,
	}
	for i := range res.Meetings {
		m := res.Meetings[i]
		out.Meetings = append(out.Meetings, MeetingOutput{
			ActivityOutput: activityToOutput(&m.Activity),
			JoinLink:       m.JoinLink,
			Verified:       m.Verified,
		})
	}
	for _, ev := range res.ExternalEvents {
		view := ExternalEventOutput{
			ID:           ev.ID,
			Summary:      ev.Summary,
			Start:        formatTime(ev.Start),
			JoinLink:     ev.JoinLink,
			Completed:    ev.Completion != nil,
			NeedsOutcome: ev.NeedsOutcome(now),
		}
		if !ev.End.IsZero() {
			view.End = formatTime(ev.End)
		}
		if ev.Completion != nil {
			view.Outcome = string(ev.Completion.Outcome)
		}
		if ev.SuggestedClientID != nil {
			view.SuggestedClientID = ev.SuggestedClientID.String()
		}
		out.ExternalEvents = append(out.ExternalEvents, view)
	}
	for _, a := range res.AutoResolved {
		out.AutoResolved = append(out.AutoResolved, AutoResolvedOutput{
			ActivityID: a.ActivityID,
			ClientID:   a.ClientID.String(),
			Reason:     a.Reason,
		})
	}
	return out
}

type PerformanceInput struct {
	Period string `json:"period,omitempty" jsonschema:"daily, weekly or monthly (default daily)"`
}

type PerformanceOutput struct {
	Period string               `json:"period"`
	Agents []metrics.AgentScore `json:"agents"`
}

func (h *ReportHandlers) AgentPerformance(ctx context.Context, _ *mcp.CallToolRequest, input PerformanceInput) (*mcp.CallToolResult, PerformanceOutput, error) {
	period, err := metrics.ParsePeriod(input.Period)
	if err != nil {
		return nil, PerformanceOutput{}, err
	}
	ranked, err := h.monitor.Rank(ctx, period)
	if err != nil {
		return nil, PerformanceOutput{}, err
	}
	return nil, PerformanceOutput{Period: string(period), Agents: ranked}, nil
}
