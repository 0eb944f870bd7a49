// ABOUTME: Agent performance CLI command
// ABOUTME: Ranks agents by call and meeting volume for a period, worst tier first
package cli

import (
	"context"
	"flag"
	"fmt"
	"text/tabwriter"

	"github.com/harperreed/funnel/metrics"
)

var levelIcons = map[metrics.Level]string{
	metrics.LevelExcellent: "🟢",
	metrics.LevelGood:      "🔵",
	metrics.LevelLow:       "🟡",
	metrics.LevelCritical:  "🔴",
}

// PerformanceCommand prints the ranked monitoring table
func PerformanceCommand(app *App, args []string) error {
	fs := flag.NewFlagSet("performance", flag.ExitOnError)
	periodRaw := fs.String("period", "daily", "daily, weekly or monthly")
	_ = fs.Parse(args)

	period, err := metrics.ParsePeriod(*periodRaw)
	if err != nil {
		return err
	}
	ranked, err := app.Monitor.Rank(context.Background(), period)
	if err != nil {
		return err
	}
	if len(ranked) == 0 {
		_, _ = fmt.Fprintf(stdout, "No activity recorded this %s period.\n", period)
		return nil
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "AGENT\tCALLS\tMEETINGS\tLEVEL")
	_, _ = fmt.Fprintln(w, "-----\t-----\t--------\t-----")
	for _, a := range ranked {
		_, _ = fmt.Fprintf(w, "%s %s\t%d\t%d\t%s\n", levelIcons[a.Score.Level], a.AgentID, a.Calls, a.Meetings, a.Score.Level)
	}
	return w.Flush()
}
