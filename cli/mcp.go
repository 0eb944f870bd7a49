// ABOUTME: MCP server subcommand
// ABOUTME: Starts the MCP server on stdio with pipeline tools, resources and prompts
package cli

import (
	"context"

	"github.com/harperreed/funnel/handlers"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const version = "0.1.0"

// NewMCPServer registers every funnel tool, resource and prompt.
func NewMCPServer(app *App) *mcp.Server {
	pipelineHandlers := handlers.NewPipelineHandlers(app.Pipeline, app.Reconciler)
	reportHandlers := handlers.NewReportHandlers(app.Funnel, app.Monitor, app.Reconciler)
	resourceHandlers := handlers.NewResourceHandlers(app.Pipeline)
	promptHandlers := handlers.NewPromptHandlers(app.Pipeline, app.Funnel)

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "funnel",
		Version: version,
	}, nil)

	// Register tools
	mcp.AddTool(server, &mcp.Tool{
		Name:        "create_client",
		Description: "Create a new prospect owned by the calling prospector",
	}, pipelineHandlers.CreateClient)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "change_stage",
		Description: "Move a client to another pipeline stage, or apply convert_to_customer / discard_prospect",
	}, pipelineHandlers.ChangeStage)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "log_activity",
		Description: "Record a call, message, email, whatsapp, meeting or conversion for a client",
	}, pipelineHandlers.LogActivity)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "schedule_meeting",
		Description: "Schedule a meeting with a closer and create the Google Calendar event with a Meet link",
	}, pipelineHandlers.ScheduleMeeting)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "register_meeting_outcome",
		Description: "Register the result of a meeting; the outcome code decides the client's next stage",
	}, pipelineHandlers.RegisterMeetingOutcome)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "mark_event_completed",
		Description: "Mark an external calendar event as completed, optionally rewriting its title and description",
	}, pipelineHandlers.MarkEventCompleted)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "funnel_dashboard",
		Description: "Funnel counts and conversion rates for a closer",
	}, reportHandlers.FunnelDashboard)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "reconcile_calendar",
		Description: "Reconcile a closer's pending meetings with Google Calendar and return the agenda",
	}, reportHandlers.ReconcileCalendar)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "agent_performance",
		Description: "Rank agents by calls and meetings for a daily, weekly or monthly period",
	}, reportHandlers.AgentPerformance)

	// Register resources
	server.AddResource(&mcp.Resource{
		URI:         "funnel://pipeline",
		Name:        "pipeline",
		Description: "Client counts per stage",
		MIMEType:    "application/json",
	}, resourceHandlers.ReadResource)

	server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: "funnel://clients/{id}",
		Name:        "client",
		Description: "A client with its stage history",
		MIMEType:    "application/json",
	}, resourceHandlers.ReadResource)

	server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: "funnel://clients/{id}/timeline",
		Name:        "client-timeline",
		Description: "All activities recorded for a client",
		MIMEType:    "application/json",
	}, resourceHandlers.ReadResource)

	// Register prompts
	server.AddPrompt(&mcp.Prompt{
		Name:        "meeting-prep",
		Description: "Prepare for a meeting using the client's history",
		Arguments:   []*mcp.PromptArgument{{Name: "client_id", Description: "Client ID", Required: true}},
	}, promptHandlers.GetPrompt)

	server.AddPrompt(&mcp.Prompt{
		Name:        "funnel-review",
		Description: "Review where a closer's funnel is leaking",
		Arguments:   []*mcp.PromptArgument{{Name: "closer_id", Description: "Closer ID", Required: true}},
	}, promptHandlers.GetPrompt)

	return server
}

// MCPCommand starts the MCP server on stdio
func MCPCommand(app *App) error {
	app.Logger.Info("starting funnel MCP server")
	return NewMCPServer(app).Run(context.Background(), &mcp.StdioTransport{})
}
