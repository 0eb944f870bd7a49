// ABOUTME: Google Calendar linking CLI commands
// ABOUTME: Handles the per-agent OAuth flow and shows reconciliation status
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"runtime"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/harperreed/funnel/sync"
	"golang.org/x/oauth2"
)

// SyncInitCommand links an agent's Google Calendar
func SyncInitCommand(app *App, args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	agent := fs.String("agent", "", "Agent ID to link (required)")
	noBrowser := fs.Bool("no-browser", false, "Print the URL instead of opening a browser")
	_ = fs.Parse(args)

	if err := requireAgent(*agent); err != nil {
		return err
	}
	googleCfg := app.Config.GoogleOAuth()
	if err := googleCfg.Validate(); err != nil {
		return err
	}

	ctx := context.Background()
	config := sync.NewOAuthConfig(googleCfg)
	redirect, err := url.Parse(config.RedirectURL)
	if err != nil {
		return fmt.Errorf("invalid redirect URL: %w", err)
	}

	state := uuid.NewString()
	callbackChan := make(chan *oauth2.Token, 1)
	errChan := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc(redirect.Path, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			fail(errChan, fmt.Errorf("OAuth state mismatch"))
			return
		}
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			fail(errChan, fmt.Errorf("no authorization code received"))
			return
		}

		token, err := config.Exchange(ctx, code)
		if err != nil {
			http.Error(w, "token exchange failed", http.StatusBadGateway)
			fail(errChan, fmt.Errorf("failed to exchange code: %w", err))
			return
		}

		select {
		case callbackChan <- token:
		default:
		}
		_, _ = fmt.Fprintf(w, "Authorization successful! You can close this window.")
	})

	listener, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", redirect.Host, err)
	}
	server := &http.Server{Handler: mux}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fail(errChan, err)
		}
	}()
	defer func() { _ = server.Shutdown(ctx) }()

	authURL := config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)

	_, _ = fmt.Fprintf(stdout, "Linking Google Calendar for %s...\n", *agent)
	_, _ = fmt.Fprintf(stdout, "\nIf browser doesn't open, visit this URL:\n%s\n\n", authURL)
	if !*noBrowser {
		_ = openBrowser(authURL)
	}

	select {
	case token := <-callbackChan:
		if err := app.Tokens.Set(ctx, *agent, token); err != nil {
			return fmt.Errorf("failed to save token: %w", err)
		}
		_, _ = fmt.Fprintf(stdout, "\n✓ Authenticated successfully\n")
		_, _ = fmt.Fprintf(stdout, "✓ Credentials stored in %s\n\n", app.Config.Credentials.Dir)
		_, _ = fmt.Fprintf(stdout, "Run 'funnel crm calendar --agent %s' to see the reconciled agenda.\n", *agent)
		return nil

	case err := <-errChan:
		return fmt.Errorf("OAuth flow failed: %w", err)
	}
}

// SyncStatusCommand shows which agents are linked and their last reconciliation
func SyncStatusCommand(app *App, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	_ = fs.Parse(args)

	ctx := context.Background()
	agents, err := app.Tokens.Agents()
	if err != nil {
		return err
	}
	states, err := app.Store.SyncStates.List(ctx)
	if err != nil {
		return err
	}

	linked := make(map[string]bool, len(agents))
	for _, a := range agents {
		linked[a] = true
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "AGENT\tLINKED\tSTATUS\tLAST SYNC\tERROR")
	_, _ = fmt.Fprintln(w, "-----\t------\t------\t---------\t-----")

	seen := make(map[string]bool)
	for _, s := range states {
		agent, ok := strings.CutPrefix(s.Service, "calendar:")
		if !ok {
			continue
		}
		seen[agent] = true
		last := "never"
		if s.LastSyncTime != nil {
			last = s.LastSyncTime.Local().Format("2006-01-02 15:04")
		}
		errMsg := ""
		if s.ErrorMessage != nil {
			errMsg = *s.ErrorMessage
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", agent, yesNo(linked[agent]), s.Status, last, errMsg)
	}
	for _, a := range agents {
		if !seen[a] {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n", a, yesNo(true), "-", "never")
		}
	}
	return w.Flush()
}

// fail reports the first error only; later callbacks must not block.
func fail(errChan chan<- error, err error) {
	select {
	case errChan <- err:
	default:
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// openBrowser attempts to open URL in default browser
func openBrowser(target string) error {
	var cmd string
	var args []string

	switch runtime.GOOS {
	case "darwin":
		cmd = "open"
		args = []string{target}
	case "windows":
		cmd = "cmd"
		args = []string{"/c", "start", target}
	default:
		cmd = "xdg-open"
		args = []string{target}
	}

	return exec.Command(cmd, args...).Start()
}
