package sync

import (
	"context"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/harperreed/funnel/credentials"
)

// fakeProvider is an in-memory calendar used by the reconciler tests.
type fakeProvider struct {
	mu       stdsync.Mutex
	events   map[string]*Event
	busy     []BusySlot
	listErr  error
	getErr   error
	patchErr error
	nextID   int

	listCalls int
	patches   map[string]EventPatch
}

func newFakeProvider(events ...Event) *fakeProvider {
	p := &fakeProvider{events: make(map[string]*Event), patches: make(map[string]EventPatch)}
	for i := range events {
		ev := events[i]
		p.events[ev.ID] = &ev
	}
	return p
}

func (p *fakeProvider) ListEvents(_ context.Context, from, to time.Time) ([]Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listCalls++
	if p.listErr != nil {
		return nil, p.listErr
	}
	var out []Event
	for _, ev := range p.events {
		if !ev.Start.Before(from) && ev.Start.Before(to) {
			out = append(out, *ev)
		}
	}
	return out, nil
}

func (p *fakeProvider) FreeBusy(_ context.Context, _, _ time.Time) ([]BusySlot, error) {
	return p.busy, nil
}

func (p *fakeProvider) InsertEvent(_ context.Context, ev NewEvent) (*Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	created := &Event{
		ID:          fmt.Sprintf("gcal-%d", p.nextID),
		Summary:     ev.Summary,
		Description: ev.Description,
		Start:       ev.Start,
		End:         ev.End,
	}
	if ev.WithMeetLink {
		created.JoinLink = "https://meet.google.com/abc-defg-hij"
	}
	p.events[created.ID] = created
	out := *created
	return &out, nil
}

func (p *fakeProvider) GetEvent(_ context.Context, id string) (*Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.getErr != nil {
		return nil, p.getErr
	}
	ev, ok := p.events[id]
	if !ok {
		return nil, ErrEventNotFound
	}
	out := *ev
	return &out, nil
}

func (p *fakeProvider) UpdateEvent(_ context.Context, id string, patch EventPatch) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.patchErr != nil {
		return p.patchErr
	}
	ev, ok := p.events[id]
	if !ok {
		return ErrEventNotFound
	}
	if patch.Summary != "" {
		ev.Summary = patch.Summary
	}
	if patch.Description != "" {
		ev.Description = patch.Description
	}
	if patch.ColorID != "" {
		ev.ColorID = patch.ColorID
	}
	if patch.Outcome != "" {
		ev.Outcome = patch.Outcome
	}
	p.patches[id] = patch
	return nil
}

func (p *fakeProvider) remove(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.events, id)
}

// fakeConnector hands out providers per agent; agents without one are unlinked.
type fakeConnector struct {
	providers map[string]Provider
	err       error
}

func (c *fakeConnector) Connect(_ context.Context, agentID string) (Provider, error) {
	if c.err != nil {
		return nil, c.err
	}
	p, ok := c.providers[agentID]
	if !ok {
		return nil, credentials.ErrNotLinked
	}
	return p, nil
}
