// ABOUTME: Visualization CLI commands
// ABOUTME: Renders the funnel as a terminal dashboard or as a Graphviz graph
package cli

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/harperreed/funnel/viz"
)

// VizFunnelCommand prints the terminal dashboard, or DOT source with --dot.
func VizFunnelCommand(app *App, args []string) error {
	fs := flag.NewFlagSet("viz funnel", flag.ExitOnError)
	agent := fs.String("agent", "", "Closer ID (default: all agents)")
	dot := fs.Bool("dot", false, "Emit Graphviz DOT instead of the terminal dashboard")
	output := fs.String("output", "", "Output file (default: stdout)")
	_ = fs.Parse(args)

	ctx := context.Background()
	stats, err := viz.GenerateDashboardStats(ctx, app.Store.Clients, *agent, app.Pipeline.Now())
	if err != nil {
		return err
	}

	var rendered string
	if *dot {
		title := *agent
		if title == "" {
			title = "all agents"
		}
		rendered, err = viz.GenerateFunnelGraph(ctx, title, stats.Funnel)
		if err != nil {
			return err
		}
	} else {
		color := *output == "" && stdout == os.Stdout && viz.ColorEnabled(os.Stdout)
		rendered = viz.RenderDashboard(stats, color)
	}

	if *output != "" {
		return os.WriteFile(*output, []byte(rendered), 0644)
	}
	_, _ = fmt.Fprintln(stdout, rendered)
	return nil
}
