// ABOUTME: Calendar provider abstraction and its Google Calendar implementation
// ABOUTME: Lists, inserts, reads and patches events and answers free/busy queries
package sync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/harperreed/funnel/credentials"
	"github.com/harperreed/funnel/telemetry"
	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	primaryCalendar = "primary"
	maxResults      = 250 // Google Calendar API max per page

	outcomePropertyKey = "funnelOutcome"
)

// ErrEventNotFound is returned when the provider no longer has the event.
var ErrEventNotFound = errors.New("calendar event not found")

// Event is the provider-neutral view of a calendar event.
type Event struct {
	ID          string    `json:"id"`
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	JoinLink    string    `json:"join_link,omitempty"`
	ColorID     string    `json:"color_id,omitempty"`
	Outcome     string    `json:"outcome,omitempty"`
	// AttendeeEmails excludes the calendar owner.
	AttendeeEmails []string `json:"attendee_emails,omitempty"`
}

type NewEvent struct {
	Summary      string
	Description  string
	Start        time.Time
	End          time.Time
	WithMeetLink bool
}

// EventPatch carries the fields a completion rewrites. Empty fields are left alone.
type EventPatch struct {
	Summary     string
	Description string
	ColorID     string
	Outcome     string
}

type BusySlot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Provider is the external calendar contract the reconciler consumes.
type Provider interface {
	ListEvents(ctx context.Context, from, to time.Time) ([]Event, error)
	FreeBusy(ctx context.Context, from, to time.Time) ([]BusySlot, error)
	InsertEvent(ctx context.Context, ev NewEvent) (*Event, error)
	GetEvent(ctx context.Context, id string) (*Event, error)
	UpdateEvent(ctx context.Context, id string, patch EventPatch) error
}

// Connector opens a provider for an agent. It returns credentials.ErrNotLinked
// when the agent has no stored token.
type Connector interface {
	Connect(ctx context.Context, agentID string) (Provider, error)
}

// GoogleCalendar implements Provider on top of calendar.Service.
type GoogleCalendar struct {
	service *calendar.Service
}

// NewCalendarClient wraps an authenticated HTTP client. Extra options (such as
// option.WithEndpoint) are passed to the service constructor.
func NewCalendarClient(ctx context.Context, client *http.Client, opts ...option.ClientOption) (*GoogleCalendar, error) {
	if client == nil {
		return nil, fmt.Errorf("http client cannot be nil")
	}
	opts = append([]option.ClientOption{option.WithHTTPClient(client)}, opts...)
	service, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return &GoogleCalendar{service: service}, nil
}

func (g *GoogleCalendar) ListEvents(ctx context.Context, from, to time.Time) ([]Event, error) {
	call := g.service.Events.List(primaryCalendar).
		MaxResults(maxResults).
		SingleEvents(true).
		OrderBy("startTime").
		TimeMin(from.Format(time.RFC3339)).
		TimeMax(to.Format(time.RFC3339))

	var out []Event
	err := call.Pages(ctx, func(page *calendar.Events) error {
		for _, item := range page.Items {
			if skip, _ := shouldSkipEvent(item); skip {
				continue
			}
			out = append(out, fromGoogleEvent(item))
		}
		return nil
	})
	if err != nil {
		telemetry.ProviderErrors.WithLabelValues("list").Inc()
		return nil, fmt.Errorf("failed to fetch calendar events: %w", err)
	}
	return out, nil
}

func (g *GoogleCalendar) FreeBusy(ctx context.Context, from, to time.Time) ([]BusySlot, error) {
	resp, err := g.service.Freebusy.Query(&calendar.FreeBusyRequest{
		TimeMin: from.Format(time.RFC3339),
		TimeMax: to.Format(time.RFC3339),
		Items:   []*calendar.FreeBusyRequestItem{{Id: primaryCalendar}},
	}).Context(ctx).Do()
	if err != nil {
		telemetry.ProviderErrors.WithLabelValues("freebusy").Inc()
		return nil, fmt.Errorf("failed to query free/busy: %w", err)
	}

	var slots []BusySlot
	for _, period := range resp.Calendars[primaryCalendar].Busy {
		start, err1 := time.Parse(time.RFC3339, period.Start)
		end, err2 := time.Parse(time.RFC3339, period.End)
		if err1 != nil || err2 != nil {
			continue
		}
		slots = append(slots, BusySlot{Start: start, End: end})
	}
	return slots, nil
}

func (g *GoogleCalendar) InsertEvent(ctx context.Context, ev NewEvent) (*Event, error) {
	event := &calendar.Event{
		Summary:     ev.Summary,
		Description: ev.Description,
		Start:       &calendar.EventDateTime{DateTime: ev.Start.Format(time.RFC3339)},
		End:         &calendar.EventDateTime{DateTime: ev.End.Format(time.RFC3339)},
	}

	call := g.service.Events.Insert(primaryCalendar, event).Context(ctx)
	if ev.WithMeetLink {
		event.ConferenceData = &calendar.ConferenceData{
			CreateRequest: &calendar.CreateConferenceRequest{
				RequestId:             uuid.NewString(),
				ConferenceSolutionKey: &calendar.ConferenceSolutionKey{Type: "hangoutsMeet"},
			},
		}
		call = call.ConferenceDataVersion(1)
	}

	created, err := call.Do()
	if err != nil {
		telemetry.ProviderErrors.WithLabelValues("insert").Inc()
		return nil, fmt.Errorf("failed to insert calendar event: %w", err)
	}
	out := fromGoogleEvent(created)
	return &out, nil
}

func (g *GoogleCalendar) GetEvent(ctx context.Context, id string) (*Event, error) {
	event, err := g.service.Events.Get(primaryCalendar, id).Context(ctx).Do()
	if err != nil {
		if isNotFound(err) {
			return nil, ErrEventNotFound
		}
		telemetry.ProviderErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("failed to get calendar event: %w", err)
	}
	out := fromGoogleEvent(event)
	return &out, nil
}

func (g *GoogleCalendar) UpdateEvent(ctx context.Context, id string, patch EventPatch) error {
	event := &calendar.Event{
		Summary:     patch.Summary,
		Description: patch.Description,
		ColorId:     patch.ColorID,
	}
	if patch.Outcome != "" {
		event.ExtendedProperties = &calendar.EventExtendedProperties{
			Private: map[string]string{outcomePropertyKey: patch.Outcome},
		}
	}

	if _, err := g.service.Events.Patch(primaryCalendar, id, event).Context(ctx).Do(); err != nil {
		if isNotFound(err) {
			return ErrEventNotFound
		}
		telemetry.ProviderErrors.WithLabelValues("patch").Inc()
		return fmt.Errorf("failed to patch calendar event: %w", err)
	}
	return nil
}

// shouldSkipEvent filters events that can never pair with a local meeting.
func shouldSkipEvent(event *calendar.Event) (bool, string) {
	if event == nil {
		return true, "nil event"
	}
	if event.Start == nil {
		return true, "missing start time"
	}
	if event.Start.Date != "" {
		return true, "all-day event"
	}
	if event.Status == "cancelled" {
		return true, "cancelled"
	}
	return false, ""
}

func fromGoogleEvent(e *calendar.Event) Event {
	out := Event{
		ID:          e.Id,
		Summary:     e.Summary,
		Description: e.Description,
		JoinLink:    e.HangoutLink,
		ColorID:     e.ColorId,
	}
	if e.Start != nil {
		out.Start, _ = time.Parse(time.RFC3339, e.Start.DateTime)
	}
	if e.End != nil {
		out.End, _ = time.Parse(time.RFC3339, e.End.DateTime)
	}
	if out.JoinLink == "" && e.ConferenceData != nil {
		for _, ep := range e.ConferenceData.EntryPoints {
			if ep.EntryPointType == "video" {
				out.JoinLink = ep.Uri
				break
			}
		}
	}
	if e.ExtendedProperties != nil {
		out.Outcome = e.ExtendedProperties.Private[outcomePropertyKey]
	}
	for _, a := range e.Attendees {
		if a == nil || a.Self || a.Resource || a.Email == "" {
			continue
		}
		out.AttendeeEmails = append(out.AttendeeEmails, a.Email)
	}
	return out
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && (apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone)
}

// GoogleConnector builds per-agent Google providers from stored tokens.
type GoogleConnector struct {
	oauth  *oauth2.Config
	tokens TokenStore
	logger *log.Logger
	opts   []option.ClientOption
}

func NewGoogleConnector(cfg *oauth2.Config, tokens TokenStore, logger *log.Logger, opts ...option.ClientOption) *GoogleConnector {
	return &GoogleConnector{oauth: cfg, tokens: tokens, logger: logger, opts: opts}
}

func (c *GoogleConnector) Connect(ctx context.Context, agentID string) (Provider, error) {
	token, err := c.tokens.Get(ctx, agentID)
	if err != nil {
		if errors.Is(err, credentials.ErrNotLinked) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}

	// The HTTP client outlives this request, so the refresh uses a background context.
	base := c.oauth.TokenSource(context.Background(), token)
	ts := oauth2.ReuseTokenSource(token, newPersistingTokenSource(base, c.tokens, agentID, token, c.logger))
	client, err := NewCalendarClient(ctx, oauth2.NewClient(context.Background(), ts), c.opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}
