// ABOUTME: Client matching for external calendar events
// ABOUTME: Suggests which client an unlinked event belongs to by attendee email
package sync

import (
	"strings"

	"github.com/harperreed/funnel/models"
)

type ClientMatcher struct {
	byEmail map[string]*models.Client
}

// NewClientMatcher creates a matcher from existing clients.
func NewClientMatcher(clients []models.Client) *ClientMatcher {
	m := &ClientMatcher{
		byEmail: make(map[string]*models.Client),
	}

	for i := range clients {
		email := normalizeEmail(clients[i].Email)
		if email == "" {
			continue
		}
		// Two clients sharing an address are ambiguous; suggest neither.
		if _, dup := m.byEmail[email]; dup {
			m.byEmail[email] = nil
			continue
		}
		m.byEmail[email] = &clients[i]
	}

	return m
}

// FindMatch returns the first client whose email is among the attendees.
func (m *ClientMatcher) FindMatch(emails []string) (*models.Client, bool) {
	for _, e := range emails {
		normalized := normalizeEmail(e)
		if normalized == "" {
			continue
		}
		if c := m.byEmail[normalized]; c != nil {
			return c, true
		}
	}
	return nil, false
}

// normalizeEmail converts email to lowercase for comparison.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
