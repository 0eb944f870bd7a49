// ABOUTME: MCP prompt handlers for sales workflow templates
// ABOUTME: Builds meeting-prep and funnel-review prompts from live pipeline data
package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/harperreed/funnel/metrics"
	"github.com/harperreed/funnel/pipeline"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type PromptHandlers struct {
	svc    *pipeline.Service
	funnel *metrics.Aggregator
}

func NewPromptHandlers(svc *pipeline.Service, funnel *metrics.Aggregator) *PromptHandlers {
	return &PromptHandlers{svc: svc, funnel: funnel}
}

// GetPrompt generates the prompt message based on the template
func (h *PromptHandlers) GetPrompt(ctx context.Context, request *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	switch request.Params.Name {
	case "meeting-prep":
		return h.meetingPrep(ctx, request.Params.Arguments)
	case "funnel-review":
		return h.funnelReview(ctx, request.Params.Arguments)
	default:
		return nil, fmt.Errorf("unknown prompt: %s", request.Params.Name)
	}
}

func (h *PromptHandlers) meetingPrep(ctx context.Context, args map[string]string) (*mcp.GetPromptResult, error) {
	rawID, ok := args["client_id"]
	if !ok {
		return nil, fmt.Errorf("client_id is required")
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("invalid client_id: %w", err)
	}

	c, err := h.svc.GetClient(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch client: %w", err)
	}
	activities, err := h.svc.Timeline(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch timeline: %w", err)
	}

	var b strings.Builder
	b.WriteString("Help me prepare for a sales meeting with this client:\n\n")
	fmt.Fprintf(&b, "Name: %s\n", c.Name)
	if c.Company != "" {
		fmt.Fprintf(&b, "Company: %s\n", c.Company)
	}
	fmt.Fprintf(&b, "Current stage: %s\n", c.Stage)

	b.WriteString("\nStage history:\n")
	for _, e := range c.StageHistory {
		fmt.Fprintf(&b, "- %s %s by %s", e.At.Format("2006-01-02"), e.Stage, e.ActorID)
		if e.Outcome != "" {
			fmt.Fprintf(&b, " (%s)", e.Outcome)
		}
		if e.Description != "" {
			fmt.Fprintf(&b, ": %s", e.Description)
		}
		b.WriteString("\n")
	}

	if len(activities) > 0 {
		b.WriteString("\nRecent activity:\n")
		start := 0
		if len(activities) > 10 {
			start = len(activities) - 10
		}
		for _, a := range activities[start:] {
			fmt.Fprintf(&b, "- %s %s [%s]", a.Timestamp.Format("2006-01-02 15:04"), a.Type, a.Outcome)
			if a.Notes != "" {
				fmt.Fprintf(&b, " %s", strings.ReplaceAll(a.Notes, "\n", " / "))
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("\nPlease provide:")
	b.WriteString("\n1. What the client cares about based on past interactions")
	b.WriteString("\n2. Likely objections and how to address them")
	b.WriteString("\n3. A concrete goal for this meeting")

	return promptResult(fmt.Sprintf("Meeting prep for %s", c.Name), b.String()), nil
}

func (h *PromptHandlers) funnelReview(ctx context.Context, args map[string]string) (*mcp.GetPromptResult, error) {
	closerID, ok := args["closer_id"]
	if !ok || closerID == "" {
		return nil, fmt.Errorf("closer_id is required")
	}
	snap, err := h.funnel.ComputeFunnel(ctx, closerID)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Review the sales funnel for closer %s:\n\n", closerID)
	fmt.Fprintf(&b, "Scheduled: %d\nRealized: %d\nProposal sent: %d\nWon: %d\n",
		snap.Scheduled, snap.Realized, snap.ProposalSent, snap.Won)
	fmt.Fprintf(&b, "Lost (no show): %d\nLost (not interested): %d\n", snap.Losses.NoShow, snap.Losses.NotInterested)
	fmt.Fprintf(&b, "\nAttendance %s%%, interest %s%%, close %s%%, global %s%%\n",
		snap.Rates.Attendance, snap.Rates.Interest, snap.Rates.Close, snap.Rates.Global)
	b.WriteString("\nWhere is the funnel leaking, and what should this closer change first?")

	return promptResult(fmt.Sprintf("Funnel review for %s", closerID), b.String()), nil
}

func promptResult(description, text string) *mcp.GetPromptResult {
	return &mcp.GetPromptResult{
		Description: description,
		Messages: []*mcp.PromptMessage{
			{
				Role:    "user",
				Content: &mcp.TextContent{Text: text},
			},
		},
	}
}
