// ABOUTME: Pipeline CLI commands
// ABOUTME: Commands for adding clients, logging activity, moving stages and working meetings
package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/funnel/db"
	"github.com/harperreed/funnel/models"
	"github.com/harperreed/funnel/pipeline"
	"github.com/harperreed/funnel/sync"
)

var stdout io.Writer = os.Stdout

func requireAgent(agent string) error {
	if agent == "" {
		return fmt.Errorf("--agent is required")
	}
	return nil
}

func parseClient(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, fmt.Errorf("--client is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid client id: %w", err)
	}
	return id, nil
}

func printWarnings(warnings []string) {
	for _, w := range warnings {
		_, _ = fmt.Fprintf(stdout, "⚠ %s\n", w)
	}
}

// AddClientCommand creates a prospect owned by the agent
func AddClientCommand(app *App, args []string) error {
	fs := flag.NewFlagSet("add-client", flag.ExitOnError)
	agent := fs.String("agent", "", "Prospector ID (required)")
	name := fs.String("name", "", "Client name (required)")
	phone := fs.String("phone", "", "Phone number")
	email := fs.String("email", "", "Email address")
	company := fs.String("company", "", "Company name")
	_ = fs.Parse(args)

	if err := requireAgent(*agent); err != nil {
		return err
	}

	c, err := app.Pipeline.CreateClient(context.Background(), pipeline.NewClientRequest{
		Name: *name, Phone: *phone, Email: *email, Company: *company, ProspectorID: *agent,
	})
	if err != nil {
		return fmt.Errorf("failed to add client: %w", err)
	}

	_, _ = fmt.Fprintf(stdout, "✓ Created client: %s (ID: %s)\n", c.Name, c.ID)
	return nil
}

// ListClientsCommand lists clients with optional filters
func ListClientsCommand(app *App, args []string) error {
	fs := flag.NewFlagSet("list-clients", flag.ExitOnError)
	closer := fs.String("closer", "", "Filter by closer")
	prospector := fs.String("prospector", "", "Filter by prospector")
	stage := fs.String("stage", "", "Filter by stage")
	limit := fs.Int("limit", 50, "Maximum number of clients")
	_ = fs.Parse(args)

	clients, err := app.Store.Clients.List(context.Background(), db.ClientFilter{
		CloserID: *closer, ProspectorID: *prospector, Stage: models.Stage(*stage), Limit: *limit,
	})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tSTAGE\tPROSPECTOR\tCLOSER\tLAST CONTACT")
	_, _ = fmt.Fprintln(w, "--\t----\t-----\t----------\t------\t------------")
	for _, c := range clients {
		closerID := "-"
		if c.AssignedCloserID != nil {
			closerID = *c.AssignedCloserID
		}
		last := "-"
		if c.LastInteractionAt != nil {
			last = c.LastInteractionAt.Local().Format("2006-01-02 15:04")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", c.ID, c.Name, c.Stage, c.AssignedProspectorID, closerID, last)
	}
	return w.Flush()
}

// LogActivityCommand records a call, message or other interaction
func LogActivityCommand(app *App, args []string) error {
	fs := flag.NewFlagSet("log-activity", flag.ExitOnError)
	agent := fs.String("agent", "", "Agent ID (required)")
	clientRaw := fs.String("client", "", "Client ID (required)")
	kind := fs.String("type", "call", "call, message, email, whatsapp, meeting or conversion")
	outcome := fs.String("outcome", "", "Outcome code (default pending)")
	description := fs.String("description", "", "Short description")
	notes := fs.String("notes", "", "Notes")
	next := fs.String("next", "", "Next call time (RFC3339)")
	_ = fs.Parse(args)

	if err := requireAgent(*agent); err != nil {
		return err
	}
	clientID, err := parseClient(*clientRaw)
	if err != nil {
		return err
	}

	req := pipeline.RecordRequest{
		ClientID:    clientID,
		ActorID:     *agent,
		Type:        models.ActivityType(*kind),
		Outcome:     models.Outcome(*outcome),
		Description: *description,
		Notes:       *notes,
	}
	if *next != "" {
		at, err := time.Parse(time.RFC3339, *next)
		if err != nil {
			return fmt.Errorf("invalid --next: %w", err)
		}
		req.ScheduledFor = &at
	}

	a, err := app.Pipeline.Record(context.Background(), req)
	if err != nil {
		return fmt.Errorf("failed to log activity: %w", err)
	}
	_, _ = fmt.Fprintf(stdout, "✓ Logged %s (%s) ID: %s\n", a.Type, a.Outcome, a.ID)
	return nil
}

// SetStageCommand applies a direct stage transition or override
func SetStageCommand(app *App, args []string) error {
	fs := flag.NewFlagSet("set-stage", flag.ExitOnError)
	agent := fs.String("agent", "", "Agent ID (required)")
	clientRaw := fs.String("client", "", "Client ID (required)")
	stage := fs.String("stage", "", "Target stage")
	override := fs.String("override", "", "convert_to_customer or discard_prospect")
	note := fs.String("note", "", "History note")
	_ = fs.Parse(args)

	if err := requireAgent(*agent); err != nil {
		return err
	}
	clientID, err := parseClient(*clientRaw)
	if err != nil {
		return err
	}

	c, err := app.Pipeline.ApplyTransition(context.Background(), pipeline.TransitionRequest{
		ClientID:    clientID,
		TargetStage: models.Stage(*stage),
		ActorID:     *agent,
		Note:        *note,
		Override:    pipeline.Override(*override),
	})
	if err != nil {
		return fmt.Errorf("failed to change stage: %w", err)
	}
	_, _ = fmt.Fprintf(stdout, "✓ %s is now %s (%s)\n", c.Name, c.Stage, c.Status)
	return nil
}

// ScheduleCommand schedules a meeting and creates the closer's calendar event
func ScheduleCommand(app *App, args []string) error {
	fs := flag.NewFlagSet("schedule", flag.ExitOnError)
	agent := fs.String("agent", "", "Agent scheduling the meeting (required)")
	clientRaw := fs.String("client", "", "Client ID (required)")
	closer := fs.String("closer", "", "Closer ID (required)")
	at := fs.String("at", "", "Meeting time, RFC3339 (required)")
	duration := fs.Duration("duration", time.Hour, "Meeting length")
	notes := fs.String("notes", "", "Notes")
	_ = fs.Parse(args)

	if err := requireAgent(*agent); err != nil {
		return err
	}
	clientID, err := parseClient(*clientRaw)
	if err != nil {
		return err
	}
	when, err := time.Parse(time.RFC3339, *at)
	if err != nil {
		return fmt.Errorf("invalid --at: %w", err)
	}

	res, err := app.Reconciler.ScheduleWithCalendar(context.Background(), pipeline.ScheduleRequest{
		ClientID: clientID, ActorID: *agent, CloserID: *closer, MeetingTime: when, Notes: *notes,
	}, *duration)
	if err != nil {
		return fmt.Errorf("failed to schedule meeting: %w", err)
	}

	_, _ = fmt.Fprintf(stdout, "✓ Meeting %s with %s at %s\n", res.Meeting.ID, res.Client.Name, when.Local().Format("Mon 02 Jan 15:04"))
	if res.JoinLink != "" {
		_, _ = fmt.Fprintf(stdout, "  Meet: %s\n", res.JoinLink)
	}
	printWarnings(res.Warnings)
	return nil
}

// RegisterOutcomeCommand registers a meeting result
func RegisterOutcomeCommand(app *App, args []string) error {
	fs := flag.NewFlagSet("register-outcome", flag.ExitOnError)
	agent := fs.String("agent", "", "Closer ID (required)")
	meeting := fs.String("meeting", "", "Meeting ID")
	clientRaw := fs.String("client", "", "Client ID; picks the earliest pending meeting")
	outcome := fs.String("outcome", "", "no_show, no_interest, wants_another_meeting, wants_quote or sale")
	notes := fs.String("notes", "", "Notes")
	_ = fs.Parse(args)

	if err := requireAgent(*agent); err != nil {
		return err
	}

	ctx := context.Background()
	var (
		res *sync.OutcomeResult
		err error
	)
	if *meeting != "" {
		res, err = app.Reconciler.RegisterMeetingOutcome(ctx, sync.OutcomeRequest{
			MeetingID: *meeting, ActorID: *agent, OutcomeCode: models.Outcome(*outcome), Notes: *notes,
		})
	} else {
		clientID, perr := parseClient(*clientRaw)
		if perr != nil {
			return fmt.Errorf("--meeting or --client is required: %w", perr)
		}
		res, err = app.Reconciler.RegisterOutcomeForClient(ctx, clientID, *agent, models.Outcome(*outcome), *notes)
	}
	if err != nil {
		return fmt.Errorf("failed to register outcome: %w", err)
	}

	_, _ = fmt.Fprintf(stdout, "✓ %s: %s → %s\n", res.Client.Name, *outcome, res.Client.Stage)
	printWarnings(res.Warnings)
	return nil
}

// MarkCompletedCommand records a completion for an external calendar event
func MarkCompletedCommand(app *App, args []string) error {
	fs := flag.NewFlagSet("mark-completed", flag.ExitOnError)
	agent := fs.String("agent", "", "Closer ID (required)")
	event := fs.String("event", "", "External event ID (required)")
	clientRaw := fs.String("client", "", "Client ID")
	outcome := fs.String("outcome", "", "Outcome code")
	notes := fs.String("notes", "", "Notes")
	updateCalendar := fs.Bool("update-calendar", true, "Also rewrite the calendar event text")
	_ = fs.Parse(args)

	if err := requireAgent(*agent); err != nil {
		return err
	}

	req := sync.CompletionRequest{
		ExternalEventID: *event, CloserID: *agent, OutcomeCode: models.Outcome(*outcome), Notes: *notes,
	}
	if *clientRaw != "" {
		clientID, err := parseClient(*clientRaw)
		if err != nil {
			return err
		}
		req.ClientID = &clientID
	}

	ctx := context.Background()
	if _, err := app.Reconciler.MarkEventCompleted(ctx, req); err != nil {
		return fmt.Errorf("failed to mark event completed: %w", err)
	}
	_, _ = fmt.Fprintf(stdout, "✓ Event %s marked completed\n", *event)

	if *updateCalendar {
		warnings, err := app.Reconciler.MarkExternalCompleted(ctx, *agent, *event, req.OutcomeCode, *notes)
		if err != nil {
			return err
		}
		printWarnings(warnings)
	}
	return nil
}

// CalendarCommand shows a closer's reconciled agenda
func CalendarCommand(app *App, args []string) error {
	fs := flag.NewFlagSet("calendar", flag.ExitOnError)
	agent := fs.String("agent", "", "Closer ID (required)")
	_ = fs.Parse(args)

	if err := requireAgent(*agent); err != nil {
		return err
	}

	res, err := app.Reconciler.GetReconciledMeetings(context.Background(), *agent)
	if err != nil {
		return err
	}
	now := app.Pipeline.Now()

	for _, a := range res.AutoResolved {
		_, _ = fmt.Fprintf(stdout, "• meeting %s closed automatically (%s)\n", a.ActivityID, a.Reason)
	}
	printWarnings(res.Warnings)
	if !res.CalendarLinked {
		_, _ = fmt.Fprintln(stdout, "Calendar not linked. Run 'funnel sync init --agent "+*agent+"' to connect Google Calendar.")
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "\nWHEN\tMEETING\tCLIENT\tLINK")
	_, _ = fmt.Fprintln(w, "----\t-------\t------\t----")
	for _, m := range res.Meetings {
		mark := " "
		if m.Verified {
			mark = "✓"
		}
		_, _ = fmt.Fprintf(w, "%s %s\t%s\t%s\t%s\n", mark, m.Timestamp.Local().Format("Mon 02 Jan 15:04"), m.ID, m.ClientID, m.JoinLink)
	}
	for _, ev := range res.ExternalEvents {
		status := "○"
		switch {
		case ev.Completion != nil:
			status = "✅"
		case ev.NeedsOutcome(now):
			status = "❗"
		}
		label := ev.Summary
		if ev.SuggestedClientID != nil {
			label += " → " + ev.SuggestedClientID.String()
		}
		_, _ = fmt.Fprintf(w, "%s %s\t%s\t%s\t%s\n", status, ev.Start.Local().Format("Mon 02 Jan 15:04"), ev.ID, label, ev.JoinLink)
	}
	return w.Flush()
}

// DashboardCommand prints a closer's funnel numbers
func DashboardCommand(app *App, args []string) error {
	fs := flag.NewFlagSet("dashboard", flag.ExitOnError)
	agent := fs.String("agent", "", "Closer ID (required)")
	_ = fs.Parse(args)

	if err := requireAgent(*agent); err != nil {
		return err
	}

	snap, err := app.Funnel.ComputeFunnel(context.Background(), *agent)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "METRIC\tVALUE")
	_, _ = fmt.Fprintln(w, "------\t-----")
	_, _ = fmt.Fprintf(w, "Scheduled\t%d\n", snap.Scheduled)
	_, _ = fmt.Fprintf(w, "Realized\t%d\n", snap.Realized)
	_, _ = fmt.Fprintf(w, "Proposal sent\t%d\n", snap.ProposalSent)
	_, _ = fmt.Fprintf(w, "Won\t%d\n", snap.Won)
	_, _ = fmt.Fprintf(w, "Lost (no show)\t%d\n", snap.Losses.NoShow)
	_, _ = fmt.Fprintf(w, "Lost (not interested)\t%d\n", snap.Losses.NotInterested)
	_, _ = fmt.Fprintf(w, "Attendance\t%s%%\n", snap.Rates.Attendance)
	_, _ = fmt.Fprintf(w, "Interest\t%s%%\n", snap.Rates.Interest)
	_, _ = fmt.Fprintf(w, "Close\t%s%%\n", snap.Rates.Close)
	_, _ = fmt.Fprintf(w, "Global\t%s%%\n", snap.Rates.Global)
	return w.Flush()
}
