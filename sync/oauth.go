// ABOUTME: OAuth configuration and token rotation handling for Google Calendar
// ABOUTME: Wraps the SDK token source so refreshed tokens are written back to the credential store
package sync

import (
	"context"
	"fmt"
	stdsync "sync"

	"github.com/charmbracelet/log"
	"github.com/harperreed/funnel/telemetry"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const calendarScope = "https://www.googleapis.com/auth/calendar"

// GoogleConfig carries the OAuth client settings.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// NewOAuthConfig creates OAuth2 config for the Calendar API.
func NewOAuthConfig(cfg GoogleConfig) *oauth2.Config {
	redirect := cfg.RedirectURL
	if redirect == "" {
		redirect = "http://localhost:8080/oauth/callback"
	}
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  redirect,
		Scopes:       []string{calendarScope},
		Endpoint:     google.Endpoint,
	}
}

// Validate reports missing client credentials.
func (cfg GoogleConfig) Validate() error {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return fmt.Errorf("google OAuth credentials not configured. Set GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET environment variables")
	}
	return nil
}

// TokenStore persists tokens per agent.
type TokenStore interface {
	Get(ctx context.Context, agentID string) (*oauth2.Token, error)
	Set(ctx context.Context, agentID string, token *oauth2.Token) error
}

// persistingTokenSource saves every rotated token. Persistence failures are
// logged and never fail the request that triggered the refresh.
type persistingTokenSource struct {
	base    oauth2.TokenSource
	store   TokenStore
	agentID string
	logger  *log.Logger

	mu   stdsync.Mutex
	last string
}

func newPersistingTokenSource(base oauth2.TokenSource, store TokenStore, agentID string, initial *oauth2.Token, logger *log.Logger) *persistingTokenSource {
	ts := &persistingTokenSource{base: base, store: store, agentID: agentID, logger: logger}
	if initial != nil {
		ts.last = initial.AccessToken
	}
	return ts
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	rotated := tok.AccessToken != p.last
	if rotated {
		p.last = tok.AccessToken
	}
	p.mu.Unlock()

	if rotated {
		if err := p.store.Set(context.Background(), p.agentID, tok); err != nil {
			p.logger.Warn("failed to persist rotated token", "agent", p.agentID, "err", err)
		} else {
			p.logger.Debug("persisted rotated token", "agent", p.agentID)
			telemetry.TokensRotated.Inc()
		}
	}
	return tok, nil
}
