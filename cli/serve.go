// ABOUTME: HTTP server subcommand
// ABOUTME: Serves the REST API until interrupted
package cli

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/harperreed/funnel/web"
)

// ServeCommand starts the REST API and shuts it down on SIGINT or SIGTERM.
func ServeCommand(app *App, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", app.Config.HTTP.Addr, "Listen address")
	_ = fs.Parse(args)

	server := web.NewServer(app.Pipeline, app.Reconciler, app.Funnel, app.Monitor,
		web.WithLogger(app.Logger),
		web.WithRateLimit(app.Config.HTTP.RateLimit, app.Config.HTTP.Burst),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return server.Start(ctx, *addr)
}
